package ir

import (
	"cmp"
	"encoding/binary"
	"math"
	"strings"

	"github.com/zeebo/blake3"
)

// CmpOp is a comparison operator usable in patterns.
type CmpOp string

const (
	OpEq CmpOp = "="
	OpNe CmpOp = "!="
	OpLt CmpOp = "<"
	OpLe CmpOp = "<="
	OpGt CmpOp = ">"
	OpGe CmpOp = ">="
)

// ValidCmpOps lists every comparison operator.
var ValidCmpOps = map[CmpOp]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLe: true, OpGt: true, OpGe: true,
}

// IsOrdering reports whether op needs an ordering between its operands
// (as opposed to plain equality).
func (op CmpOp) IsOrdering() bool {
	return op == OpLt || op == OpLe || op == OpGt || op == OpGe
}

// rank orders kinds for the total value order:
// Tuple < Number < Symbol < Object.
func rank(v Value) int {
	switch v.(type) {
	case *Tuple:
		return 0
	case Int, Float:
		return 1
	case Symbol:
		return 2
	case ObjectRef:
		return 3
	default:
		return -1
	}
}

// Equal reports structural equality. Int and Float compare numerically with
// each other; tuples compare element-wise.
func Equal(a, b Value) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(*Tuple); ok {
		if tb, ok := b.(*Tuple); ok && ta.hash != tb.hash {
			return false
		}
	}
	return Compare(a, b) == 0
}

// Compare defines a total order over values, used wherever deterministic
// sorting is needed. Values of different kinds order by kind rank; numbers
// order numerically, symbols by name, tuples lexicographically and object
// refs by handle.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch x := a.(type) {
	case Int, Float:
		return compareNumbers(a, b)
	case Symbol:
		y := b.(Symbol)
		if x == y {
			return 0
		}
		return strings.Compare(x.Name(), y.Name())
	case *Tuple:
		y := b.(*Tuple)
		if x == y {
			return 0
		}
		n := min(x.Len(), y.Len())
		for i := 0; i < n; i++ {
			if c := Compare(x.elems[i], y.elems[i]); c != 0 {
				return c
			}
		}
		return cmp.Compare(x.Len(), y.Len())
	case ObjectRef:
		y := b.(ObjectRef)
		if c := cmp.Compare(x.slot, y.slot); c != 0 {
			return c
		}
		return cmp.Compare(x.gen, y.gen)
	default:
		return 0
	}
}

// CompareOrdered compares values that have a meaningful ordering: two
// numbers, two symbols or two tuples. Any other pairing is a TypeMismatch.
func CompareOrdered(a, b Value) (int, error) {
	ka, kb := a.Kind(), b.Kind()
	switch {
	case ka.IsNumeric() && kb.IsNumeric():
	case ka == KindSymbol && kb == KindSymbol:
	case ka == KindTuple && kb == KindTuple:
	default:
		return 0, NewTypeMismatchError("compare", a, b)
	}
	return Compare(a, b), nil
}

// EvalCompare applies op to a and b. Equality operators accept any pair of
// kinds; ordering operators return TypeMismatch for unordered pairs.
func EvalCompare(op CmpOp, a, b Value) (bool, error) {
	switch op {
	case OpEq:
		return Equal(a, b), nil
	case OpNe:
		return !Equal(a, b), nil
	}
	c, err := CompareOrdered(a, b)
	if err != nil {
		return false, err
	}
	switch op {
	case OpLt:
		return c < 0, nil
	case OpLe:
		return c <= 0, nil
	case OpGt:
		return c > 0, nil
	case OpGe:
		return c >= 0, nil
	default:
		return false, NewInvalidRuleError("unknown comparison operator %q", op)
	}
}

func compareNumbers(a, b Value) int {
	switch x := a.(type) {
	case Int:
		switch y := b.(type) {
		case Int:
			return cmp.Compare(x, y)
		case Float:
			return -compareFloatInt(float64(y), int64(x))
		}
	case Float:
		switch y := b.(type) {
		case Int:
			return compareFloatInt(float64(x), int64(y))
		case Float:
			return cmp.Compare(float64(x), float64(y))
		}
	}
	return 0
}

// compareFloatInt compares without converting i to float64, which would
// lose precision above 2^53.
func compareFloatInt(f float64, i int64) int {
	switch {
	case math.IsNaN(f):
		return -1
	case f < -(1 << 63):
		return -1
	case f >= 1<<63:
		return 1
	}
	whole := int64(f)
	if c := cmp.Compare(whole, i); c != 0 {
		return c
	}
	return cmp.Compare(f-float64(whole), 0)
}

// integral reports whether f holds an exact int64 value.
func integral(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f < -(1<<63) || f >= 1<<63 {
		return 0, false
	}
	i := int64(f)
	return i, float64(i) == f
}

// hashTuple computes the structural hash of a tuple's elements. Values that
// are Equal must encode identically, so integral floats encode as ints.
func hashTuple(elems []Value) uint64 {
	buf := make([]byte, 0, 16*len(elems)+1)
	buf = append(buf, 't')
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(elems)))
	for _, v := range elems {
		buf = appendHashKey(buf, v)
	}
	sum := blake3.Sum256(buf)
	return binary.LittleEndian.Uint64(sum[:8])
}

func appendHashKey(buf []byte, v Value) []byte {
	switch x := v.(type) {
	case Int:
		buf = append(buf, 'n')
		return binary.LittleEndian.AppendUint64(buf, uint64(x))
	case Float:
		if i, ok := integral(float64(x)); ok {
			buf = append(buf, 'n')
			return binary.LittleEndian.AppendUint64(buf, uint64(i))
		}
		buf = append(buf, 'f')
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(float64(x)))
	case Symbol:
		name := x.Name()
		buf = append(buf, 's')
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(name)))
		return append(buf, name...)
	case *Tuple:
		buf = append(buf, 'T')
		return binary.LittleEndian.AppendUint64(buf, x.hash)
	case ObjectRef:
		buf = append(buf, 'o')
		buf = binary.LittleEndian.AppendUint32(buf, x.slot)
		return binary.LittleEndian.AppendUint32(buf, x.gen)
	default:
		return buf
	}
}
