package wal

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const testPageSize = 512

type fakeWriter struct {
	pages map[uint32][]byte
	synced bool
}

func newFakeWriter() *fakeWriter { return &fakeWriter{pages: make(map[uint32][]byte)} }

func (f *fakeWriter) WriteDBPage(pageNo uint32, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)
	f.pages[pageNo] = cp
	return nil
}

func (f *fakeWriter) SyncDB() error {
	f.synced = true
	return nil
}

func openTestWal(t *testing.T) (*Shared, *Wal) {
	t.Helper()
	dir := t.TempDir()
	shared, err := OpenShared(filepath.Join(dir, "test.wal"), testPageSize)
	require.NoError(t, err)
	w := Open(shared, 1000)
	return shared, w
}

func page(b byte) []byte {
	buf := make([]byte, testPageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestAppendAndFindFrame(t *testing.T) {
	_, w := openTestWal(t)

	res, err := w.BeginWriteTx()
	require.NoError(t, err)
	require.Equal(t, OK, res)

	require.NoError(t, w.AppendFrame(3, page(0xAA), 0))
	require.NoError(t, w.AppendFrame(3, page(0xBB), 1))
	require.NoError(t, w.Sync())
	w.EndWriteTx()

	res, err = w.BeginReadTx()
	require.NoError(t, err)
	require.Equal(t, OK, res)
	defer w.EndReadTx()

	frame, ok := w.FindFrame(3)
	require.True(t, ok)
	require.EqualValues(t, 2, frame)

	buf := make([]byte, testPageSize)
	require.NoError(t, w.ReadFrame(frame, buf))
	require.Equal(t, page(0xBB), buf)
}

func TestReaderIsolation(t *testing.T) {
	// Connection A's read transaction.
	shared, connA := openTestWal(t)
	connB := Open(shared, 1000)

	res, err := connB.BeginWriteTx()
	require.NoError(t, err)
	require.Equal(t, OK, res)
	require.NoError(t, connB.AppendFrame(1, page(1), 1))
	require.NoError(t, connB.Sync())
	connB.EndWriteTx()

	res, err = connA.BeginReadTx()
	require.NoError(t, err)
	require.Equal(t, OK, res)

	// B writes more after A's snapshot.
	res, err = connB.BeginWriteTx()
	require.NoError(t, err)
	require.Equal(t, OK, res)
	require.NoError(t, connB.AppendFrame(1, page(2), 2))
	require.NoError(t, connB.Sync())
	connB.EndWriteTx()

	frame, ok := connA.FindFrame(1)
	require.True(t, ok)
	require.EqualValues(t, 1, frame, "A must not see B's post-snapshot commit")
	connA.EndReadTx()

	res, err = connA.BeginReadTx()
	require.NoError(t, err)
	require.Equal(t, OK, res)
	frame, ok = connA.FindFrame(1)
	require.True(t, ok)
	require.EqualValues(t, 2, frame, "a fresh read tx must see the latest commit")
	connA.EndReadTx()
}

func TestCheckpointBackfillsAndResets(t *testing.T) {
	shared, w := openTestWal(t)

	res, err := w.BeginWriteTx()
	require.NoError(t, err)
	require.Equal(t, OK, res)
	require.NoError(t, w.AppendFrame(1, page(7), 0))
	require.NoError(t, w.AppendFrame(2, page(8), 1))
	require.NoError(t, w.Sync())
	w.EndWriteTx()

	writer := newFakeWriter()
	status, err := w.Checkpoint(writer)
	require.NoError(t, err)
	require.Equal(t, CheckpointDone, status)
	require.True(t, writer.synced)
	require.Equal(t, page(7), writer.pages[1])
	require.Equal(t, page(8), writer.pages[2])

	require.EqualValues(t, 0, shared.maxFrame.Load())
	require.EqualValues(t, 0, shared.nbackfills.Load())
	require.Empty(t, shared.frameCache)
}

func TestBeginWriteTxBusyWhileHeld(t *testing.T) {
	shared, connA := openTestWal(t)
	connB := Open(shared, 1000)

	res, err := connA.BeginWriteTx()
	require.NoError(t, err)
	require.Equal(t, OK, res)

	res, err = connB.BeginWriteTx()
	require.NoError(t, err)
	require.Equal(t, Busy, res)

	connA.EndWriteTx()
}
