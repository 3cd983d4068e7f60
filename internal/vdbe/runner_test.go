package vdbe

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunProgramsBoundedConcurrency(t *testing.T) {
	p := openTestPager(t)

	programs := make([]*Program, 5)
	for i := range programs {
		v := i
		programs[i] = &Program{
			NumRegs: 1,
			Insns: []Insn{
				{Op: OpInteger, P1: v, P2: 0},
				{Op: OpResultRow, P1: 0, P2: 1},
				{Op: OpHalt},
			},
		}
	}

	results := RunPrograms(p, programs, 2)
	require.Len(t, results, 5)
	for i, res := range results {
		require.NoError(t, res.Err)
		require.Len(t, res.Rows, 1)
		require.Equal(t, int64(i), res.Rows[0][0].Integer)
	}
}

func TestRunProgramsContainsPanic(t *testing.T) {
	p := openTestPager(t)

	// An unknown cursor id or opcode only yields an error, not a panic, so
	// the bad program reads a register past the end of its one-register
	// file, which panics with an index out of range.
	bad := &Program{
		NumRegs: 1,
		Insns: []Insn{
			{Op: OpCopy, P1: 5, P2: 0}, // P1 reads Regs[5], out of range
		},
	}
	good := &Program{
		NumRegs: 1,
		Insns: []Insn{
			{Op: OpInteger, P1: 7, P2: 0},
			{Op: OpResultRow, P1: 0, P2: 1},
			{Op: OpHalt},
		},
	}

	results := RunPrograms(p, []*Program{bad, good}, 2)
	require.Len(t, results, 2)
	require.Error(t, results[0].Err)
	require.NoError(t, results[1].Err)
	require.Equal(t, int64(7), results[1].Rows[0][0].Integer)
}
