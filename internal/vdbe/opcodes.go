package vdbe

import (
	"fmt"

	"github.com/tuannm99/novasql/internal/storage/page"
)

type execKind int

const (
	execAdvance execKind = iota
	execJump
	execRow
	execIO
	execDone
	execBusy
)

type execResult struct {
	kind   execKind
	target int
	row    []Value
}

func advance() (execResult, error)            { return execResult{kind: execAdvance}, nil }
func jumpTo(pc int) (execResult, error)        { return execResult{kind: execJump, target: pc}, nil }
func ioWait() (execResult, error)              { return execResult{kind: execIO}, nil }
func resultRow(vals []Value) (execResult, error) {
	return execResult{kind: execRow, row: vals}, nil
}
func done() (execResult, error) { return execResult{kind: execDone}, nil }
func busy() (execResult, error) { return execResult{kind: execBusy}, nil }

// dispatch executes one instruction against the opcode table below.
func dispatch(s *ProgramState, insn Insn) (execResult, error) {
	switch insn.Op {
	case OpInit:
		return jumpTo(insn.P2)
	case OpGoto:
		return jumpTo(insn.P2)
	case OpHalt:
		return done()

	case OpInteger:
		s.Regs[insn.P2] = IntegerValue(int64(insn.P1))
		return advance()
	case OpReal:
		s.Regs[insn.P2] = FloatValue(insn.P4.AsFloat())
		return advance()
	case OpString:
		s.Regs[insn.P2] = insn.P4
		return advance()
	case OpBlob:
		s.Regs[insn.P2] = BlobValue(insn.P4.Blob)
		return advance()
	case OpNull:
		s.Regs[insn.P2] = NullValue()
		return advance()
	case OpCopy, OpSCopy:
		s.Regs[insn.P2] = s.Regs[insn.P1]
		return advance()
	case OpMove:
		for i := 0; i < insn.P3; i++ {
			s.Regs[insn.P2+i] = s.Regs[insn.P1+i]
			s.Regs[insn.P1+i] = NullValue()
		}
		return advance()

	case OpResultRow:
		vals := make([]Value, insn.P2)
		copy(vals, s.Regs[insn.P1:insn.P1+insn.P2])
		return resultRow(vals)

	case OpOpenRead, OpOpenWrite, OpOpenAutoindex:
		typ := CursorBTreeTable
		if insn.P4.Kind == KindInteger && insn.P4.Integer == 1 {
			typ = CursorBTreeIndex
		}
		s.Cursors.Open(typ, page.ID(insn.P2), s.Pager, insn.Op != OpOpenWrite)
		return advance()
	case OpOpenPseudo:
		s.Cursors.Open(CursorPseudo, 0, s.Pager, true)
		return advance()
	case OpOpenSorter:
		s.Cursors.Open(CursorSorter, 0, s.Pager, false)
		return advance()
	case OpClose:
		s.Cursors.Close(insn.P1)
		return advance()

	case OpRewind, OpLast, OpNext, OpPrev:
		return cursorPosition(s, insn)
	case OpSeekRowid, OpNotExists:
		return cursorSeekRowid(s, insn)
	case OpSeekGE, OpSeekGT, OpSeekLE, OpSeekLT:
		return cursorSeekCompare(s, insn)
	case OpIdxGE, OpIdxGT, OpIdxLE, OpIdxLT:
		return cursorSeekCompare(s, insn)

	case OpDeferredSeek:
		from, ok := s.Cursors.Get(insn.P1)
		if !ok {
			return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
		}
		to, ok := s.Cursors.Get(insn.P2)
		if !ok {
			return execResult{}, fmt.Errorf("unknown cursor %d", insn.P2)
		}
		rowid, err := from.RowID()
		if err != nil {
			return execResult{}, err
		}
		to.DeferredSeek(from, rowid)
		return advance()

	case OpNullRow:
		c, ok := s.Cursors.Get(insn.P1)
		if !ok {
			return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
		}
		c.NullRow()
		return advance()

	case OpColumn:
		c, ok := s.Cursors.Get(insn.P1)
		if !ok {
			return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
		}
		v, err := c.Column(insn.P2)
		if err != nil {
			return execResult{}, err
		}
		s.Regs[insn.P3] = v
		return advance()

	case OpRowId, OpNewRowid:
		c, ok := s.Cursors.Get(insn.P1)
		if !ok {
			return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
		}
		id, err := c.RowID()
		if err != nil {
			return execResult{}, err
		}
		s.Regs[insn.P2] = IntegerValue(id)
		return advance()

	case OpInsert, OpIdxInsert:
		c, ok := s.Cursors.Get(insn.P1)
		if !ok {
			return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
		}
		record := s.Regs[insn.P2]
		rowid := s.Regs[insn.P3].AsInteger()
		if err := c.Insert(rowid, record.Record); err != nil {
			return execResult{}, err
		}
		return advance()

	case OpDelete, OpIdxDelete:
		c, ok := s.Cursors.Get(insn.P1)
		if !ok {
			return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
		}
		if err := c.Delete(); err != nil {
			return execResult{}, err
		}
		return advance()

	case OpNotNull:
		if !s.Regs[insn.P1].IsNull() {
			return jumpTo(insn.P2)
		}
		return advance()
	case OpIsNull:
		if s.Regs[insn.P1].IsNull() {
			return jumpTo(insn.P2)
		}
		return advance()
	case OpIf:
		if s.Regs[insn.P1].AsInteger() != 0 {
			return jumpTo(insn.P2)
		}
		return advance()
	case OpIfNot:
		if s.Regs[insn.P1].AsInteger() == 0 {
			return jumpTo(insn.P2)
		}
		return advance()

	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
		return compareAndBranch(s, insn)

	case OpAdd, OpSubtract, OpMultiply, OpDivide, OpMod, OpBitAnd, OpBitOr, OpShiftLeft, OpShiftRight:
		return arithmetic(s, insn)

	case OpFunction:
		return execResult{}, fmt.Errorf("scalar function dispatch is an external collaborator (no registered functions in this port)")

	case OpAggStep:
		return aggStep(s, insn)
	case OpAggFinal:
		return aggFinal(s, insn)
	case OpAggValue:
		acc := s.Regs[insn.P1]
		if acc.Agg == nil {
			s.Regs[insn.P2] = NullValue()
		} else {
			s.Regs[insn.P2] = FloatValue(acc.Agg.Sum)
		}
		return advance()
	case OpResetSorter:
		s.Regs[insn.P1] = Value{Kind: KindAgg, Agg: &AggState{}}
		return advance()

	case OpSorterOpen, OpSorterInsert, OpSorterSort, OpSorterData, OpSorterNext:
		return execResult{}, fmt.Errorf("sorter opcodes require a planner-supplied key schema (external collaborator)")

	case OpGosub:
		s.callStack = append(s.callStack, s.PC+1)
		return jumpTo(insn.P2)
	case OpReturn:
		if len(s.callStack) == 0 {
			return execResult{}, fmt.Errorf("return with empty call stack")
		}
		top := s.callStack[len(s.callStack)-1]
		s.callStack = s.callStack[:len(s.callStack)-1]
		return jumpTo(top)

	case OpInitCoroutine:
		s.yieldStack = append(s.yieldStack, insn.P2)
		return jumpTo(insn.P3)
	case OpYield:
		if len(s.yieldStack) == 0 {
			return execResult{}, fmt.Errorf("yield outside coroutine")
		}
		resume := s.yieldStack[len(s.yieldStack)-1]
		s.yieldStack[len(s.yieldStack)-1] = s.PC + 1
		return jumpTo(resume)
	case OpEndCoroutine:
		if len(s.yieldStack) == 0 {
			return execResult{}, fmt.Errorf("end_coroutine outside coroutine")
		}
		resume := s.yieldStack[len(s.yieldStack)-1]
		s.yieldStack = s.yieldStack[:len(s.yieldStack)-1]
		return jumpTo(resume)

	case OpTransaction:
		var err error
		if insn.P2 != 0 {
			err = s.Pager.BeginWriteTx()
		} else {
			err = s.Pager.BeginReadTx()
		}
		if err != nil {
			return busy()
		}
		return advance()
	case OpCommit:
		if _, err := s.Pager.EndTx(); err != nil {
			return execResult{}, err
		}
		return advance()

	case OpCast, OpAffinity:
		return applyAffinity(s, insn)
	case OpCollSeq:
		return advance() // no-op: compareAndBranch does not read P4, so comparisons ignore collation

	case OpMustBeInt:
		n, ok := s.Regs[insn.P1].asIntegerExact()
		if !ok {
			if insn.P2 == 0 {
				return execResult{}, fmt.Errorf("vdbe: register %d is not an integer", insn.P1)
			}
			return jumpTo(insn.P2)
		}
		s.Regs[insn.P1] = IntegerValue(n)
		return advance()

	case OpOnce:
		// Once{target}: falls through the first time this program counter is
		// reached on a re-entrant program, then branches to P2 every time
		// after, so setup code in a loop body runs exactly once.
		if s.onceDone[s.PC] {
			return jumpTo(insn.P2)
		}
		s.onceDone[s.PC] = true
		return advance()

	default:
		return execResult{}, fmt.Errorf("unimplemented opcode %d", insn.Op)
	}
}

func cursorPosition(s *ProgramState, insn Insn) (execResult, error) {
	c, ok := s.Cursors.Get(insn.P1)
	if !ok {
		return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
	}
	var res CursorResult
	var eof bool
	var err error
	switch insn.Op {
	case OpRewind:
		res, eof, err = c.Rewind()
	case OpLast:
		res, eof, err = c.Last()
	case OpNext:
		res, eof, err = c.Next()
	case OpPrev:
		res, eof, err = c.Prev()
	}
	if err != nil {
		return execResult{}, err
	}
	if res == CursorIO {
		return ioWait()
	}
	if eof {
		return jumpTo(insn.P2)
	}
	return advance()
}

func cursorSeekRowid(s *ProgramState, insn Insn) (execResult, error) {
	c, ok := s.Cursors.Get(insn.P1)
	if !ok {
		return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
	}
	rowid := s.Regs[insn.P3].AsInteger()
	res, eof, err := c.SeekRowid(rowid)
	if err != nil {
		return execResult{}, err
	}
	if res == CursorIO {
		return ioWait()
	}
	if eof {
		return jumpTo(insn.P2)
	}
	return advance()
}

// cursorSeekCompare handles SeekGE/GT/LE/LT and IdxGE/GT/LE/LT alike: it
// seeks the row whose rowid exactly equals register P3 and jumps to P2 when
// there is none. The GE/GT/LE/LT ordering is not applied, and no index key
// is compared; full index-key comparison needs the planner-supplied key
// schema (external collaborator).
func cursorSeekCompare(s *ProgramState, insn Insn) (execResult, error) {
	c, ok := s.Cursors.Get(insn.P1)
	if !ok {
		return execResult{}, fmt.Errorf("unknown cursor %d", insn.P1)
	}
	target := s.Regs[insn.P3].AsInteger()
	res, eof, err := c.SeekRowid(target)
	if err != nil {
		return execResult{}, err
	}
	if res == CursorIO {
		return ioWait()
	}
	if eof {
		return jumpTo(insn.P2)
	}
	return advance()
}

func compareAndBranch(s *ProgramState, insn Insn) (execResult, error) {
	a, b := s.Regs[insn.P1], s.Regs[insn.P3]
	cmp := Compare(a, b)
	var take bool
	switch insn.Op {
	case OpEq:
		take = cmp == 0
	case OpNe:
		take = cmp != 0
	case OpLt:
		take = cmp < 0
	case OpLe:
		take = cmp <= 0
	case OpGt:
		take = cmp > 0
	case OpGe:
		take = cmp >= 0
	}
	if take {
		return jumpTo(insn.P2)
	}
	return advance()
}

func arithmetic(s *ProgramState, insn Insn) (execResult, error) {
	a, b := s.Regs[insn.P1], s.Regs[insn.P2]

	switch insn.Op {
	case OpMod, OpBitAnd, OpBitOr, OpShiftLeft, OpShiftRight:
		// Integer-only ops: SQLite forces both operands to integer rather
		// than promoting to float the way Add/Subtract/Multiply/Divide do.
		if a.IsNull() || b.IsNull() {
			s.Regs[insn.P3] = NullValue()
			return advance()
		}
		ai, bi := a.AsInteger(), b.AsInteger()
		var r int64
		switch insn.Op {
		case OpMod:
			if bi == 0 {
				s.Regs[insn.P3] = NullValue()
				return advance()
			}
			r = ai % bi
		case OpBitAnd:
			r = ai & bi
		case OpBitOr:
			r = ai | bi
		case OpShiftLeft:
			r = ai << (uint(bi) & 63)
		case OpShiftRight:
			r = ai >> (uint(bi) & 63)
		}
		s.Regs[insn.P3] = IntegerValue(r)
		return advance()
	}

	if a.Kind == KindFloat || b.Kind == KindFloat {
		af, bf := a.AsFloat(), b.AsFloat()
		var r float64
		switch insn.Op {
		case OpAdd:
			r = af + bf
		case OpSubtract:
			r = af - bf
		case OpMultiply:
			r = af * bf
		case OpDivide:
			if bf == 0 {
				s.Regs[insn.P3] = NullValue()
				return advance()
			}
			r = af / bf
		}
		s.Regs[insn.P3] = FloatValue(r)
		return advance()
	}
	ai, bi := a.AsInteger(), b.AsInteger()
	var r int64
	switch insn.Op {
	case OpAdd:
		r = ai + bi
	case OpSubtract:
		r = ai - bi
	case OpMultiply:
		r = ai * bi
	case OpDivide:
		if bi == 0 {
			s.Regs[insn.P3] = NullValue()
			return advance()
		}
		r = ai / bi
	}
	s.Regs[insn.P3] = IntegerValue(r)
	return advance()
}

func aggStep(s *ProgramState, insn Insn) (execResult, error) {
	acc := &s.Regs[insn.P1]
	if acc.Agg == nil {
		acc.Kind = KindAgg
		acc.Agg = &AggState{}
	}
	v := s.Regs[insn.P3]
	acc.Agg.Count++
	acc.Agg.Sum += v.AsFloat()
	if acc.Agg.Min == nil || Compare(v, *acc.Agg.Min) < 0 {
		cp := v
		acc.Agg.Min = &cp
	}
	if acc.Agg.Max == nil || Compare(v, *acc.Agg.Max) > 0 {
		cp := v
		acc.Agg.Max = &cp
	}
	return advance()
}

func aggFinal(s *ProgramState, insn Insn) (execResult, error) {
	acc := s.Regs[insn.P1]
	if acc.Agg == nil {
		s.Regs[insn.P1] = IntegerValue(0)
		return advance()
	}
	s.Regs[insn.P1] = FloatValue(acc.Agg.Sum)
	return advance()
}

func applyAffinity(s *ProgramState, insn Insn) (execResult, error) {
	v := s.Regs[insn.P1]
	switch insn.P2 {
	case AffinityInteger:
		s.Regs[insn.P1] = IntegerValue(v.AsInteger())
	case AffinityReal:
		s.Regs[insn.P1] = FloatValue(v.AsFloat())
	case AffinityText:
		s.Regs[insn.P1] = TextValue(v.String())
	default:
		// blob/numeric/none affinities pass the value through unchanged
	}
	return advance()
}

// Affinity values for OpCast/OpAffinity's P2 operand, SQLite's five type
// affinities.
const (
	AffinityBlob = iota
	AffinityText
	AffinityNumeric
	AffinityInteger
	AffinityReal
)
