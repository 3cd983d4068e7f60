// Package novasql is the top-level facade over the storage engine: the
// three subsystems that carry the engineering weight (pager, WAL, VDBE)
// are exported as internal/* packages; this file re-exports the Pager, its
// Config, an OpenPager constructor and the Program type. It exports no way
// to run a Program; that lives in internal/vdbe.
package novasql

import (
	"github.com/tuannm99/novasql/internal/pager"
	"github.com/tuannm99/novasql/internal/vdbe"
)

// Pager is the page-cache, dirty-set and WAL-backed file manager
// underlying every connection.
type Pager = pager.Pager

// PagerConfig configures a freshly opened Pager.
type PagerConfig = pager.Config

// Program is a compiled, runnable sequence of VDBE instructions.
type Program = vdbe.Program

// OpenPager opens (or creates) a database file at path.
func OpenPager(path string, cfg PagerConfig) (*Pager, error) {
	return pager.Open(path, cfg)
}
