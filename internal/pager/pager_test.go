package pager

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/storage/page"
)

func openTestPager(t *testing.T, cfg Config) *Pager {
	t.Helper()
	cfg.PageSize = 512
	p, err := Open(filepath.Join(t.TempDir(), "test.db"), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestAllocateAndReadPageRoundTrip(t *testing.T) {
	p := openTestPager(t, Config{})

	require.NoError(t, p.BeginWriteTx())
	pg, err := p.AllocatePage()
	require.NoError(t, err)
	copy(pg.Buf, []byte("hello page"))
	p.MarkDirty(pg)

	_, err = p.CacheFlush()
	require.NoError(t, err)
	p.EndWriteTx()

	require.NoError(t, p.ClearPageCache())

	require.NoError(t, p.BeginReadTx())
	defer p.EndReadTx()
	got, err := p.ReadPage(pg.ID())
	require.NoError(t, err)
	require.Equal(t, []byte("hello page"), got.Buf[:len("hello page")])
}

func TestFreeListReuse(t *testing.T) {
	p := openTestPager(t, Config{})
	require.NoError(t, p.BeginWriteTx())

	a, err := p.AllocatePage()
	require.NoError(t, err)
	b, err := p.AllocatePage()
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), b.ID())

	require.NoError(t, p.FreePage(b.ID()))
	require.EqualValues(t, 1, p.header.FreelistPages)

	reused, err := p.AllocatePage()
	require.NoError(t, err)
	require.Equal(t, b.ID(), reused.ID(), "freed page should be reused before extending the file")
	require.EqualValues(t, 0, p.header.FreelistPages)

	p.EndWriteTx()
}

func TestBtreeCreateInitializesLeafHeader(t *testing.T) {
	p := openTestPager(t, Config{})
	require.NoError(t, p.BeginWriteTx())

	root, err := p.BtreeCreate(CreateFlags{IsTable: true})
	require.NoError(t, err)
	require.Greater(t, root, page.ID(1))

	pg, err := p.ReadPage(root)
	require.NoError(t, err)
	require.Equal(t, byte(0x0d), pg.Buf[0], "table leaf kind byte")

	p.EndWriteTx()
}

func TestRollbackDropsUncommittedDirtyPages(t *testing.T) {
	p := openTestPager(t, Config{})
	require.NoError(t, p.BeginWriteTx())

	pg, err := p.AllocatePage()
	require.NoError(t, err)
	copy(pg.Buf, []byte("scratch"))
	p.MarkDirty(pg)
	require.True(t, pg.IsDirty())

	p.Rollback()
	require.False(t, pg.IsDirty())
	require.Empty(t, p.dirty)
	p.EndWriteTx()
}

func TestPtrmapRoundTripUnderAutoVacuum(t *testing.T) {
	p := openTestPager(t, Config{AutoVacuum: AutoVacuumFull})
	require.NoError(t, p.BeginWriteTx())

	root, err := p.BtreeCreate(CreateFlags{IsTable: true})
	require.NoError(t, err)

	entry, err := p.PtrmapGet(uint32(root))
	require.NoError(t, err)
	require.Equal(t, PtrmapRootPage, entry.Type)
	require.EqualValues(t, 0, entry.Parent)

	p.EndWriteTx()
}
