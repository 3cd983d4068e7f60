// Package vdbe is a register-based bytecode interpreter: a compiled
// Program, its runtime ProgramState, the Value tagged union, and the
// cursor/opcode contracts that drive the Pager. Bytecode emission
// (translating SQL into a Program) is an external collaborator's job;
// this package only runs programs someone else built.
package vdbe

import (
	"fmt"
	"strconv"
)

// Kind tags which variant of Value is populated.
type Kind uint8

const (
	KindNull Kind = iota
	KindInteger
	KindFloat
	KindText
	KindBlob
	KindRecord
	KindAgg
)

// Value is a single VDBE register's contents: SQLite's five storage
// classes plus two VM-internal kinds (a decoded multi-column Record, and
// an in-progress aggregate accumulator).
type Value struct {
	Kind    Kind
	Integer int64
	Float   float64
	Text    string
	Blob    []byte
	Record  []Value
	Agg     *AggState
}

func NullValue() Value               { return Value{Kind: KindNull} }
func IntegerValue(v int64) Value      { return Value{Kind: KindInteger, Integer: v} }
func FloatValue(v float64) Value      { return Value{Kind: KindFloat, Float: v} }
func TextValue(v string) Value        { return Value{Kind: KindText, Text: v} }
func BlobValue(v []byte) Value        { return Value{Kind: KindBlob, Blob: v} }
func RecordValue(v []Value) Value     { return Value{Kind: KindRecord, Record: v} }

func (v Value) IsNull() bool { return v.Kind == KindNull }

// AsInteger applies SQLite's numeric-affinity coercion rules well enough
// for comparisons and arithmetic opcodes.
func (v Value) AsInteger() int64 {
	switch v.Kind {
	case KindInteger:
		return v.Integer
	case KindFloat:
		return int64(v.Float)
	case KindText:
		var n int64
		fmt.Sscanf(v.Text, "%d", &n)
		return n
	default:
		return 0
	}
}

// asIntegerExact reports whether v can be represented as an int64 without
// loss, used by OpMustBeInt: a float must have no fractional part and fit
// in an int64, and text must parse as a plain base-10 integer.
func (v Value) asIntegerExact() (int64, bool) {
	switch v.Kind {
	case KindInteger:
		return v.Integer, true
	case KindFloat:
		if v.Float != float64(int64(v.Float)) {
			return 0, false
		}
		return int64(v.Float), true
	case KindText:
		n, err := strconv.ParseInt(v.Text, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func (v Value) AsFloat() float64 {
	switch v.Kind {
	case KindInteger:
		return float64(v.Integer)
	case KindFloat:
		return v.Float
	case KindText:
		var f float64
		fmt.Sscanf(v.Text, "%g", &f)
		return f
	default:
		return 0
	}
}

func (v Value) String() string {
	switch v.Kind {
	case KindNull:
		return "NULL"
	case KindInteger:
		return fmt.Sprintf("%d", v.Integer)
	case KindFloat:
		return fmt.Sprintf("%g", v.Float)
	case KindText:
		return v.Text
	case KindBlob:
		return fmt.Sprintf("x'%x'", v.Blob)
	default:
		return fmt.Sprintf("<%v>", v.Kind)
	}
}

// Compare orders two values by SQLite's storage-class ordering
// (NULL < numeric < TEXT < BLOB), numeric values compared numerically.
func Compare(a, b Value) int {
	classA, classB := storageClass(a), storageClass(b)
	if classA != classB {
		return classA - classB
	}
	switch a.Kind {
	case KindNull:
		return 0
	case KindInteger, KindFloat:
		af, bf := a.AsFloat(), b.AsFloat()
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	case KindText:
		switch {
		case a.Text < b.Text:
			return -1
		case a.Text > b.Text:
			return 1
		default:
			return 0
		}
	case KindBlob:
		for i := 0; i < len(a.Blob) && i < len(b.Blob); i++ {
			if d := int(a.Blob[i]) - int(b.Blob[i]); d != 0 {
				return d
			}
		}
		return len(a.Blob) - len(b.Blob)
	default:
		return 0
	}
}

func storageClass(v Value) int {
	switch v.Kind {
	case KindNull:
		return 0
	case KindInteger, KindFloat:
		return 1
	case KindText:
		return 2
	case KindBlob:
		return 3
	default:
		return 4
	}
}

// AggState is one aggregate accumulator slot, updated by OpAggStep and
// read out by OpAggFinal.
type AggState struct {
	Count int64
	Sum   float64
	Min   *Value
	Max   *Value
}
