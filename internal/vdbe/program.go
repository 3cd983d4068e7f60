package vdbe

import (
	"fmt"
	"log/slog"

	"go.uber.org/atomic"

	"github.com/tuannm99/novasql/internal/pager"
	"github.com/tuannm99/novasql/internal/storage/page"
)

const logPrefix = "vdbe: "

// Op is a single opcode.
type Op int

const (
	OpInit Op = iota
	OpGoto
	OpHalt
	OpInteger
	OpReal
	OpString
	OpBlob
	OpNull
	OpCopy
	OpSCopy
	OpMove
	OpResultRow
	OpOpenRead
	OpOpenWrite
	OpOpenAutoindex
	OpOpenPseudo
	OpOpenSorter
	OpClose
	OpRewind
	OpLast
	OpNext
	OpPrev
	OpSeekRowid
	OpSeekGE
	OpSeekGT
	OpSeekLE
	OpSeekLT
	OpNotExists
	OpColumn
	OpRowId
	OpInsert
	OpDelete
	OpIdxInsert
	OpIdxDelete
	OpIdxGE
	OpIdxGT
	OpIdxLE
	OpIdxLT
	OpDeferredSeek
	OpNullRow
	OpNewRowid
	OpNotNull
	OpIsNull
	OpEq
	OpNe
	OpLt
	OpLe
	OpGt
	OpGe
	OpAdd
	OpSubtract
	OpMultiply
	OpDivide
	OpMod
	OpBitAnd
	OpBitOr
	OpShiftLeft
	OpShiftRight
	OpFunction
	OpAggStep
	OpAggFinal
	OpAggValue
	OpResetSorter
	OpSorterOpen
	OpSorterInsert
	OpSorterSort
	OpSorterData
	OpSorterNext
	OpGosub
	OpReturn
	OpYield
	OpInitCoroutine
	OpEndCoroutine
	OpTransaction
	OpCommit
	OpCast
	OpAffinity
	OpCollSeq
	OpMustBeInt
	OpIfNot
	OpIf
	OpOnce
)

// Insn is one compiled instruction: opcode plus up to three integer
// operands (P1/P2/P3, register or cursor IDs, or small constants) and one
// free-form operand (P4, e.g. a string literal or a constant Value).
type Insn struct {
	Op      Op
	P1      int
	P2      int
	P3      int
	P4      Value
	Comment string
}

// Program is a compiled, runnable instruction sequence plus its cursor
// declarations. Emitting one from SQL is an external collaborator's job;
// this package only runs Programs someone else built, by hand or by a
// planner.
type Program struct {
	Insns      []Insn
	NumRegs    int
	CursorKind []CursorType
	CursorRoot []page.ID
}

// StepResult is the interpreter's outer stepping contract: step() returns
// one of these and the caller reacts accordingly.
type StepResult int

const (
	StepRow StepResult = iota
	StepIO
	StepDone
	StepInterrupt
	StepBusy
)

// ProgramState is one execution's register file, program counter, yield
// stack (for coroutines) and cursor table.
type ProgramState struct {
	Program *Program
	Pager   *pager.Pager
	Cursors *CursorTable

	Regs []Value
	PC   int

	callStack  []int // Gosub/Return
	yieldStack []int // InitCoroutine/Yield/EndCoroutine

	row []Value // last ResultRow's values

	interrupted atomic.Bool
	steps       atomic.Uint64

	onceDone map[int]bool // Once{target}: per-program-counter bitset
}

// NewProgramState allocates runtime state for running prog against p.
func NewProgramState(prog *Program, p *pager.Pager) *ProgramState {
	return &ProgramState{
		Program:  prog,
		Pager:    p,
		Cursors:  NewCursorTable(),
		Regs:     make([]Value, prog.NumRegs),
		onceDone: make(map[int]bool),
	}
}

// Interrupt requests cooperative cancellation: checked once per
// dispatch-loop iteration, never pre-empted mid-opcode.
func (s *ProgramState) Interrupt() { s.interrupted.Store(true) }

// Row returns the values produced by the most recent StepRow result.
func (s *ProgramState) Row() []Value { return s.row }

// Step runs the dispatch loop until a terminal StepResult.
func (s *ProgramState) Step() (StepResult, error) {
	for {
		if s.interrupted.Load() {
			return StepInterrupt, nil
		}
		if s.PC < 0 || s.PC >= len(s.Program.Insns) {
			return StepDone, nil
		}
		insn := s.Program.Insns[s.PC]
		s.steps.Add(1)

		res, err := dispatch(s, insn)
		if err != nil {
			return StepDone, fmt.Errorf("vdbe: pc=%d op=%d: %w", s.PC, insn.Op, err)
		}
		switch res.kind {
		case execAdvance:
			s.PC++
		case execJump:
			s.PC = res.target
		case execRow:
			s.row = res.row
			s.PC++
			return StepRow, nil
		case execIO:
			slog.Debug(logPrefix+"io_pending", "pc", s.PC, "op", insn.Op)
			return StepIO, nil // pc NOT advanced, so a retry re-executes this insn
		case execDone:
			return StepDone, nil
		case execBusy:
			return StepBusy, nil
		}
	}
}
