package main

import (
	"fmt"

	"github.com/tuannm99/novasql/internal/pager"
	"github.com/tuannm99/novasql/internal/vdbe"
	"github.com/tuannm99/novasql/internal/vdbe/build"
)

// buildDemo returns a runnable Program for name, plus a human description
// printed when it's loaded. Building against the real pager lets "insert"
// allocate an actual root page via BtreeCreate.
func buildDemo(name string, p *pager.Pager) (*vdbe.Program, string, error) {
	switch name {
	case "arith":
		return arithDemo(), "r0=2; r1=3; r2=r0+r1; ResultRow r2; Halt", nil
	case "coroutine":
		return coroutineDemo(), "InitCoroutine body at pc2, resumes at pc4; body Yields a single row", nil
	case "insert":
		prog, err := insertDemo(p)
		if err != nil {
			return nil, "", err
		}
		return prog, "creates a table root, inserts two rows, rewinds and emits each as a ResultRow", nil
	default:
		return nil, "", fmt.Errorf("vdbedbg: unknown demo %q (try: arith, coroutine, insert)", name)
	}
}

func arithDemo() *vdbe.Program {
	return &vdbe.Program{
		NumRegs: 3,
		Insns: []vdbe.Insn{
			{Op: vdbe.OpInteger, P1: 2, P2: 0},
			{Op: vdbe.OpInteger, P1: 3, P2: 1},
			{Op: vdbe.OpAdd, P1: 0, P2: 1, P3: 2},
			{Op: vdbe.OpResultRow, P1: 2, P2: 1},
			{Op: vdbe.OpHalt},
		},
	}
}

func coroutineDemo() *vdbe.Program {
	return &vdbe.Program{
		NumRegs: 2,
		Insns: []vdbe.Insn{
			{Op: vdbe.OpInitCoroutine, P2: 4, P3: 2},
			{Op: vdbe.OpHalt},
			{Op: vdbe.OpInteger, P1: 99, P2: 1},
			{Op: vdbe.OpYield, P1: 0},
			{Op: vdbe.OpResultRow, P1: 1, P2: 1},
			{Op: vdbe.OpHalt},
		},
	}
}

// insertDemo builds a program by hand through build.ProgramBuilder instead
// of a literal Insns slice, the way a planner-side emitter would: open a
// fresh table root, write two rows, then rewind and stream them back out.
func insertDemo(p *pager.Pager) (*vdbe.Program, error) {
	if err := p.BeginWriteTx(); err != nil {
		return nil, fmt.Errorf("vdbedbg: begin write tx: %w", err)
	}
	root, err := p.BtreeCreate(pager.CreateFlags{IsTable: true})
	if err != nil {
		p.EndWriteTx()
		return nil, fmt.Errorf("vdbedbg: btree create: %w", err)
	}
	if _, err := p.EndTx(); err != nil {
		return nil, fmt.Errorf("vdbedbg: commit root creation: %w", err)
	}
	p.EndWriteTx()

	b := build.NewProgramBuilder()
	cur := b.OpenCursor(vdbe.CursorBTreeTable, root)
	rRowid := b.AllocRegister()
	rRecord := b.AllocRegister()
	rName := b.AllocRegister()

	b.Emit(vdbe.Insn{Op: vdbe.OpTransaction, P2: 1}) // write tx
	b.Emit(vdbe.Insn{Op: vdbe.OpOpenWrite, P1: cur, P2: int(root)})

	// OpString's real job is "load a constant Value from P4 into a
	// register" -- it doesn't care whether that Value is text or, as
	// here, a whole pre-built row tuple.
	b.Emit(vdbe.Insn{Op: vdbe.OpInteger, P1: 1, P2: rRowid})
	b.Emit(vdbe.Insn{Op: vdbe.OpString, P4: vdbe.RecordValue([]vdbe.Value{vdbe.IntegerValue(1), vdbe.TextValue("alice")}), P2: rRecord})
	b.Emit(vdbe.Insn{Op: vdbe.OpInsert, P1: cur, P2: rRecord, P3: rRowid})

	b.Emit(vdbe.Insn{Op: vdbe.OpInteger, P1: 2, P2: rRowid})
	b.Emit(vdbe.Insn{Op: vdbe.OpString, P4: vdbe.RecordValue([]vdbe.Value{vdbe.IntegerValue(2), vdbe.TextValue("bob")}), P2: rRecord})
	b.Emit(vdbe.Insn{Op: vdbe.OpInsert, P1: cur, P2: rRecord, P3: rRowid})

	b.EmitJump(vdbe.OpRewind, cur, "eof", 0)
	b.ResolveLabel("loop")
	b.Emit(vdbe.Insn{Op: vdbe.OpColumn, P1: cur, P2: 1, P3: rName})
	b.Emit(vdbe.Insn{Op: vdbe.OpResultRow, P1: rName, P2: 1})
	b.EmitJump(vdbe.OpNext, cur, "eof", 0)
	b.EmitJump(vdbe.OpGoto, 0, "loop", 0)
	b.ResolveLabel("eof")
	b.Emit(vdbe.Insn{Op: vdbe.OpClose, P1: cur})
	b.Emit(vdbe.Insn{Op: vdbe.OpCommit})
	b.Emit(vdbe.Insn{Op: vdbe.OpHalt})

	return b.Finish()
}
