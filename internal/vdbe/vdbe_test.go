package vdbe

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannm99/novasql/internal/pager"
)

func openTestPager(t *testing.T) *pager.Pager {
	t.Helper()
	p, err := pager.Open(filepath.Join(t.TempDir(), "vdbe.db"), pager.Config{PageSize: 512})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestRecordRoundTrip(t *testing.T) {
	values := []Value{IntegerValue(42), TextValue("hello"), NullValue(), FloatValue(3.5), BlobValue([]byte{1, 2, 3})}
	encoded := EncodeRecord(values)
	decoded, err := DecodeRecord(encoded)
	require.NoError(t, err)
	require.Len(t, decoded, len(values))
	for i, v := range values {
		require.Equal(t, v.Kind, decoded[i].Kind)
	}
	require.Equal(t, int64(42), decoded[0].Integer)
	require.Equal(t, "hello", decoded[1].Text)
	require.Equal(t, 3.5, decoded[3].Float)
	require.Equal(t, []byte{1, 2, 3}, decoded[4].Blob)
}

func TestCursorInsertSeekColumnRoundTrip(t *testing.T) {
	p := openTestPager(t)
	require.NoError(t, p.BeginWriteTx())

	root, err := p.BtreeCreate(pager.CreateFlags{IsTable: true})
	require.NoError(t, err)

	cursors := NewCursorTable()
	c := cursors.Open(CursorBTreeTable, root, p, false)

	require.NoError(t, c.Insert(1, []Value{IntegerValue(1), TextValue("alice")}))
	require.NoError(t, c.Insert(2, []Value{IntegerValue(2), TextValue("bob")}))

	res, eof, err := c.SeekRowid(2)
	require.NoError(t, err)
	require.Equal(t, CursorOK, res)
	require.False(t, eof)

	v, err := c.Column(1)
	require.NoError(t, err)
	require.Equal(t, "bob", v.Text)

	_, err = p.EndTx()
	require.NoError(t, err)
	p.EndWriteTx()
}

func TestProgramStepsSimpleArithmeticAndHalts(t *testing.T) {
	p := openTestPager(t)
	prog := &Program{
		NumRegs: 3,
		Insns: []Insn{
			{Op: OpInteger, P1: 2, P2: 0},
			{Op: OpInteger, P1: 3, P2: 1},
			{Op: OpAdd, P1: 0, P2: 1, P3: 2},
			{Op: OpResultRow, P1: 2, P2: 1},
			{Op: OpHalt},
		},
	}
	state := NewProgramState(prog, p)

	res, err := state.Step()
	require.NoError(t, err)
	require.Equal(t, StepRow, res)
	require.Equal(t, int64(5), state.Row()[0].Integer)

	res, err = state.Step()
	require.NoError(t, err)
	require.Equal(t, StepDone, res)
}

func TestProgramStepsRealBlobMoveAndBitwise(t *testing.T) {
	p := openTestPager(t)
	prog := &Program{
		NumRegs: 6,
		Insns: []Insn{
			{Op: OpReal, P2: 0, P4: FloatValue(2.5)},
			{Op: OpBlob, P2: 1, P4: BlobValue([]byte{0xde, 0xad})},
			{Op: OpInteger, P1: 6, P2: 2},
			{Op: OpInteger, P1: 3, P2: 3},
			{Op: OpBitAnd, P1: 2, P2: 3, P3: 4},
			{Op: OpMove, P1: 4, P2: 5, P3: 1},
			{Op: OpResultRow, P1: 0, P2: 6},
			{Op: OpHalt},
		},
	}
	state := NewProgramState(prog, p)

	res, err := state.Step()
	require.NoError(t, err)
	require.Equal(t, StepRow, res)
	row := state.Row()
	require.Equal(t, 2.5, row[0].Float)
	require.Equal(t, []byte{0xde, 0xad}, row[1].Blob)
	require.Equal(t, int64(2), row[5].Integer) // 6 & 3 == 2, moved out of reg 4
	require.True(t, row[4].IsNull())           // OpMove nulls its source register

	res, err = state.Step()
	require.NoError(t, err)
	require.Equal(t, StepDone, res)
}

func TestMustBeInt(t *testing.T) {
	p := openTestPager(t)
	prog := &Program{
		NumRegs: 1,
		Insns: []Insn{
			{Op: OpString, P2: 0, P4: TextValue("41")},
			{Op: OpMustBeInt, P1: 0, P2: 0},
			{Op: OpResultRow, P1: 0, P2: 1},
			{Op: OpHalt},
		},
	}
	state := NewProgramState(prog, p)

	res, err := state.Step()
	require.NoError(t, err)
	require.Equal(t, StepRow, res)
	require.Equal(t, int64(41), state.Row()[0].Integer)

	bad := &Program{
		NumRegs: 1,
		Insns: []Insn{
			{Op: OpString, P2: 0, P4: TextValue("not a number")},
			{Op: OpMustBeInt, P1: 0, P2: 0},
			{Op: OpHalt},
		},
	}
	badState := NewProgramState(bad, p)
	_, err = badState.Step()
	require.Error(t, err)
}

func TestCoroutineYieldResume(t *testing.T) {
	p := openTestPager(t)
	// InitCoroutine starts the body immediately (pc 2); the body loads a
	// value and Yields back to its resume point (pc 4), which turns it into
	// a ResultRow. A second Step call lands on the trailing Halt.
	prog := &Program{
		NumRegs: 2,
		Insns: []Insn{
			/*0*/ {Op: OpInitCoroutine, P2: 4, P3: 2},
			/*1*/ {Op: OpHalt},
			/*2*/ {Op: OpInteger, P1: 99, P2: 1},
			/*3*/ {Op: OpYield, P1: 0},
			/*4*/ {Op: OpResultRow, P1: 1, P2: 1},
			/*5*/ {Op: OpHalt},
		},
	}
	state := NewProgramState(prog, p)

	res, err := state.Step()
	require.NoError(t, err)
	require.Equal(t, StepRow, res)
	require.Equal(t, int64(99), state.Row()[0].Integer)

	res, err = state.Step()
	require.NoError(t, err)
	require.Equal(t, StepDone, res)
}
