package vdbe

import (
	"fmt"

	"github.com/sourcegraph/conc/pool"

	"github.com/tuannm99/novasql/internal/pager"
)

// RunResult is one program's outcome from RunPrograms: every row it
// produced via ResultRow, in order, plus the error (if any) that ended
// it.
type RunResult struct {
	Rows [][]Value
	Err  error
}

// RunPrograms runs each program to completion against its own
// ProgramState, bounded to at most maxConcurrency goroutines at a time.
// The VDBE interpreter itself only describes running one program at a
// time, but this is the natural way a server fields concurrent read-only
// queries against the same connection's cache; a panicking program is
// caught and reported as that program's Err instead of taking the others
// down with it.
func RunPrograms(p *pager.Pager, programs []*Program, maxConcurrency int) []RunResult {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	results := make([]RunResult, len(programs))
	pl := pool.New().WithMaxGoroutines(maxConcurrency)
	for i, prog := range programs {
		i, prog := i, prog
		pl.Go(func() {
			results[i] = runOneToCompletion(p, prog)
		})
	}
	pl.Wait()
	return results
}

func runOneToCompletion(p *pager.Pager, prog *Program) (res RunResult) {
	defer func() {
		if r := recover(); r != nil {
			res = RunResult{Err: fmt.Errorf("vdbe: program panicked: %v", r)}
		}
	}()

	state := NewProgramState(prog, p)
	var rows [][]Value
	for {
		step, err := state.Step()
		if err != nil {
			return RunResult{Rows: rows, Err: err}
		}
		switch step {
		case StepRow:
			rows = append(rows, append([]Value(nil), state.Row()...))
		case StepDone:
			return RunResult{Rows: rows}
		case StepBusy:
			return RunResult{Rows: rows, Err: pager.ErrBusy}
		case StepInterrupt:
			return RunResult{Rows: rows, Err: fmt.Errorf("vdbe: interrupted")}
		case StepIO:
			// Synchronous port: ReadPage never itself suspends, so the
			// only source of StepIO is a full page cache (see
			// pager.ErrCacheFull) -- nothing productive to do but
			// surface it and stop, rather than spin (DESIGN.md).
			return RunResult{Rows: rows, Err: fmt.Errorf("vdbe: cache full mid-program, flush and retry")}
		}
	}
}
