// Package build implements the VDBE program builder: register and cursor
// allocation, forward-label resolution, and constant-span hoisting. It
// produces a *vdbe.Program a ProgramState can run; turning SQL into the
// sequence of Emit calls that builds one is an external collaborator's
// job (a planner).
package build

import (
	"sort"

	"github.com/tuannm99/novasql/internal/storage/page"
	"github.com/tuannm99/novasql/internal/vdbe"
)

// label is a forward reference recorded at Emit time and patched once
// ResolveLabel is called with its real instruction offset.
type label struct {
	name string
}

// ProgramBuilder accumulates instructions, registers and cursors for one
// compiled program.
type ProgramBuilder struct {
	insns      []vdbe.Insn
	numRegs    int
	cursorKind []vdbe.CursorType
	cursorRoot []page.ID

	labelTargets map[string]int // name -> resolved pc, -1 if unresolved
	pendingJumps []pendingJump   // insn index -> label name, patched at Finish
	constSpans   []span          // [start,end) index ranges hoisted to the end
}

type pendingJump struct {
	insnIndex int
	name      string
}

type span struct{ start, end int }

// NewProgramBuilder starts a fresh program.
func NewProgramBuilder() *ProgramBuilder {
	return &ProgramBuilder{labelTargets: make(map[string]int)}
}

// AllocRegister returns a fresh register index from a monotonic counter.
func (b *ProgramBuilder) AllocRegister() int {
	r := b.numRegs
	b.numRegs++
	return r
}

// AllocRegisters returns n consecutive fresh register indices, the shape
// ResultRow and Insert need for a whole row at once.
func (b *ProgramBuilder) AllocRegisters(n int) int {
	first := b.numRegs
	b.numRegs += n
	return first
}

// OpenCursor allocates a new CursorID bound to a (type, root page) pair.
func (b *ProgramBuilder) OpenCursor(typ vdbe.CursorType, root page.ID) int {
	id := len(b.cursorKind)
	b.cursorKind = append(b.cursorKind, typ)
	b.cursorRoot = append(b.cursorRoot, root)
	return id
}

// NewLabel declares a named forward-reference label, to be fixed up later
// via ResolveLabel.
func (b *ProgramBuilder) NewLabel(name string) {
	if _, exists := b.labelTargets[name]; exists {
		return
	}
	b.labelTargets[name] = -1
}

// ResolveLabel binds name to the offset of the NEXT instruction emitted.
func (b *ProgramBuilder) ResolveLabel(name string) {
	b.labelTargets[name] = len(b.insns)
}

// ResolveLabelHere binds name to the CURRENT last-emitted instruction, for
// opcodes that jump back onto themselves (e.g. a Yield resume point set up
// after the fact).
func (b *ProgramBuilder) ResolveLabelHere(name string) {
	if len(b.insns) == 0 {
		b.ResolveLabel(name)
		return
	}
	b.labelTargets[name] = len(b.insns) - 1
}

// Emit appends an instruction and returns its index.
func (b *ProgramBuilder) Emit(insn vdbe.Insn) int {
	b.insns = append(b.insns, insn)
	return len(b.insns) - 1
}

// EmitJump appends an instruction whose P2 operand is a forward reference
// to label, patched once the label resolves.
func (b *ProgramBuilder) EmitJump(op vdbe.Op, p1 int, label string, p3 int) int {
	idx := b.Emit(vdbe.Insn{Op: op, P1: p1, P3: p3})
	b.pendingJumps = append(b.pendingJumps, pendingJump{insnIndex: idx, name: label})
	return idx
}

// MarkConstantSpan records that [start,end) only emits constant-loading
// instructions (Integer/String/Null into fixed registers with no branch
// targets inside it) and is therefore eligible for hoisting to the end of
// the program by Finish: constants used across many invocations of a
// re-entrant program are computed once, at the top of the first run,
// rather than every pass through a loop.
func (b *ProgramBuilder) MarkConstantSpan(start, end int) {
	b.constSpans = append(b.constSpans, span{start, end})
}

// Finish resolves every pending jump and applies constant-span hoisting,
// returning the finished Program.
func (b *ProgramBuilder) Finish() (*vdbe.Program, error) {
	for _, pj := range b.pendingJumps {
		target, ok := b.labelTargets[pj.name]
		if !ok || target < 0 {
			return nil, &UnresolvedLabelError{Label: pj.name}
		}
		b.insns[pj.insnIndex].P2 = target
	}

	insns := b.hoistConstants()

	return &vdbe.Program{
		Insns:      insns,
		NumRegs:    b.numRegs,
		CursorKind: b.cursorKind,
		CursorRoot: b.cursorRoot,
	}, nil
}

// hoistConstants performs a stable move of every marked constant span to
// the end of the instruction stream, preserving the relative order of
// both the hoisted spans and everything left behind, and remapping every
// jump target (including the ones Finish already patched) to the new
// offsets.
func (b *ProgramBuilder) hoistConstants() []vdbe.Insn {
	if len(b.constSpans) == 0 {
		return b.insns
	}
	sort.Slice(b.constSpans, func(i, j int) bool { return b.constSpans[i].start < b.constSpans[j].start })

	inSpan := make([]bool, len(b.insns))
	for _, sp := range b.constSpans {
		for i := sp.start; i < sp.end && i < len(b.insns); i++ {
			inSpan[i] = true
		}
	}

	remap := make([]int, len(b.insns)+1)
	out := make([]vdbe.Insn, 0, len(b.insns))
	for i, insn := range b.insns {
		if inSpan[i] {
			continue
		}
		remap[i] = len(out)
		out = append(out, insn)
	}
	for i, insn := range b.insns {
		if !inSpan[i] {
			continue
		}
		remap[i] = len(out)
		out = append(out, insn)
	}
	// A label resolved past the last instruction keeps pointing past it.
	remap[len(b.insns)] = len(out)

	for i := range out {
		switch out[i].Op {
		case vdbe.OpGoto, vdbe.OpIf, vdbe.OpIfNot, vdbe.OpNotNull, vdbe.OpIsNull,
			vdbe.OpEq, vdbe.OpNe, vdbe.OpLt, vdbe.OpLe, vdbe.OpGt, vdbe.OpGe,
			vdbe.OpRewind, vdbe.OpLast, vdbe.OpNext, vdbe.OpPrev,
			vdbe.OpSeekRowid, vdbe.OpNotExists, vdbe.OpSeekGE, vdbe.OpSeekGT,
			vdbe.OpSeekLE, vdbe.OpSeekLT, vdbe.OpIdxGE, vdbe.OpIdxGT,
			vdbe.OpIdxLE, vdbe.OpIdxLT, vdbe.OpGosub, vdbe.OpInit, vdbe.OpOnce:
			out[i].P2 = remap[out[i].P2]
		case vdbe.OpMustBeInt:
			if out[i].P2 != 0 { // P2 == 0 means "raise an error", not a jump
				out[i].P2 = remap[out[i].P2]
			}
		case vdbe.OpInitCoroutine:
			out[i].P2 = remap[out[i].P2]
			out[i].P3 = remap[out[i].P3]
		}
	}
	return out
}

// UnresolvedLabelError is returned by Finish when a jump referenced a
// label that was never resolved.
type UnresolvedLabelError struct{ Label string }

func (e *UnresolvedLabelError) Error() string {
	return "vdbe/build: unresolved label " + e.Label
}
