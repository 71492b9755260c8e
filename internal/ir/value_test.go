package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueKinds(t *testing.T) {
	tests := []struct {
		name string
		v    Value
		kind Kind
		str  string
	}{
		{"int", Int(42), KindInt, "42"},
		{"negative int", Int(-7), KindInt, "-7"},
		{"float", Float(1.5), KindFloat, "1.5"},
		{"integral float", Float(2), KindFloat, "2.0"},
		{"symbol", Intern("foo"), KindSymbol, "foo"},
		{"tuple", NewTuple(Int(1), Intern("a")), KindTuple, "(1, a)"},
		{"empty tuple", NewTuple(), KindTuple, "()"},
		{"object", NewObjectRef(3, 0), KindObject, "#3"},
		{"reused object", NewObjectRef(3, 2), KindObject, "#3.2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.v.Kind())
			assert.Equal(t, tt.str, tt.v.String())
		})
	}
}

func TestSymbolInterning(t *testing.T) {
	a := Intern("alpha")
	b := Intern("alpha")
	c := Intern("beta")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Equal(t, "alpha", a.Name())
	assert.True(t, Symbol{}.IsZero())
	assert.Equal(t, "", Symbol{}.Name())
}

func TestSymbolInterningNFC(t *testing.T) {
	// "é" precomposed vs "e" + combining acute
	assert.Equal(t, Intern("é"), Intern("é"))
}

func TestParseObjectRef(t *testing.T) {
	ref, err := ParseObjectRef("#12")
	require.NoError(t, err)
	assert.Equal(t, NewObjectRef(12, 0), ref)

	ref, err = ParseObjectRef("#4.9")
	require.NoError(t, err)
	assert.Equal(t, uint32(4), ref.Slot())
	assert.Equal(t, uint32(9), ref.Gen())

	for _, bad := range []string{"", "#", "12", "#x", "#1.y"} {
		_, err := ParseObjectRef(bad)
		assert.Error(t, err, "input %q", bad)
	}
}

func TestTupleStructuralEquality(t *testing.T) {
	a := NewTuple(Int(1), Intern("x"), NewTuple(Int(2)))
	b := NewTuple(Int(1), Intern("x"), NewTuple(Int(2)))

	assert.True(t, Equal(a, b), "structurally equal tuples")
	assert.False(t, a == b, "distinct tuples are distinct pointers")
	assert.Equal(t, a.Hash(), b.Hash())

	c := NewTuple(Int(1), Intern("y"))
	assert.False(t, Equal(a, c))
}

func TestTupleIntFloatHashAgrees(t *testing.T) {
	a := NewTuple(Int(2))
	b := NewTuple(Float(2.0))

	assert.True(t, Equal(a, b))
	assert.Equal(t, a.Hash(), b.Hash())
}

func TestTupleCopiesInput(t *testing.T) {
	elems := []Value{Int(1), Int(2)}
	tup := NewTuple(elems...)
	elems[0] = Int(99)

	assert.Equal(t, Int(1), tup.At(0))

	out := tup.Values()
	out[1] = Int(42)
	assert.Equal(t, Int(2), tup.At(1))
}

func TestTupleNilPanics(t *testing.T) {
	assert.Panics(t, func() { NewTuple(Int(1), nil) })
}

func TestTupleRefs(t *testing.T) {
	r1 := NewObjectRef(1, 0)
	r2 := NewObjectRef(2, 0)
	tup := NewTuple(r1, NewTuple(Int(0), r2), Intern("s"))

	assert.Equal(t, []ObjectRef{r1, r2}, tup.Refs())
}

func TestDestructure(t *testing.T) {
	tup := NewTuple(Int(1), Int(2))

	elems, err := Destructure(tup, 2)
	require.NoError(t, err)
	assert.Equal(t, []Value{Int(1), Int(2)}, elems)

	_, err = Destructure(tup, 3)
	assert.True(t, IsArityMismatch(err))

	_, err = Destructure(Int(5), 1)
	assert.True(t, IsTypeMismatch(err))
}

func TestCompareTotalOrder(t *testing.T) {
	// Tuple < Number < Symbol < Object
	ordered := []Value{
		NewTuple(),
		NewTuple(Int(1)),
		Int(-3),
		Float(0.5),
		Int(1),
		Intern("a"),
		Intern("b"),
		NewObjectRef(1, 0),
		NewObjectRef(1, 1),
		NewObjectRef(2, 0),
	}

	for i := 0; i < len(ordered); i++ {
		for j := 0; j < len(ordered); j++ {
			got := Compare(ordered[i], ordered[j])
			switch {
			case i < j:
				assert.Negative(t, got, "%s < %s", ordered[i], ordered[j])
			case i > j:
				assert.Positive(t, got, "%s > %s", ordered[i], ordered[j])
			default:
				assert.Zero(t, got)
			}
		}
	}
}

func TestCompareLargeIntFloat(t *testing.T) {
	// 2^53+1 is not representable as float64; the comparison must not round.
	big := Int(1<<53 + 1)
	f := Float(1 << 53)

	assert.Positive(t, Compare(big, f))
	assert.Negative(t, Compare(f, big))
	assert.False(t, Equal(big, f))
}

func TestEvalCompare(t *testing.T) {
	tests := []struct {
		name string
		op   CmpOp
		a, b Value
		want bool
	}{
		{"int eq", OpEq, Int(3), Int(3), true},
		{"int float eq", OpEq, Int(3), Float(3), true},
		{"sym ne", OpNe, Intern("a"), Intern("b"), true},
		{"mixed eq is false", OpEq, Intern("a"), Int(1), false},
		{"lt", OpLt, Int(1), Float(1.5), true},
		{"le", OpLe, Int(2), Int(2), true},
		{"gt", OpGt, Intern("b"), Intern("a"), true},
		{"ge tuples", OpGe, NewTuple(Int(1), Int(2)), NewTuple(Int(1)), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalCompare(tt.op, tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalCompareOrderingTypeMismatch(t *testing.T) {
	_, err := EvalCompare(OpLt, Intern("a"), Int(1))
	assert.True(t, IsTypeMismatch(err))

	_, err = EvalCompare(OpGt, NewObjectRef(1, 0), NewObjectRef(2, 0))
	assert.True(t, IsTypeMismatch(err))
}

func TestArith(t *testing.T) {
	tests := []struct {
		name string
		op   ArithOp
		a, b Value
		want Value
	}{
		{"add ints", OpAdd, Int(2), Int(3), Int(5)},
		{"sub ints", OpSub, Int(2), Int(3), Int(-1)},
		{"mul ints", OpMul, Int(4), Int(3), Int(12)},
		{"div truncates", OpDiv, Int(7), Int(2), Int(3)},
		{"negative div truncates", OpDiv, Int(-7), Int(2), Int(-3)},
		{"float promotes", OpAdd, Int(1), Float(0.5), Float(1.5)},
		{"float div", OpDiv, Float(1), Int(4), Float(0.25)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Arith(tt.op, tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestArithErrors(t *testing.T) {
	_, err := Arith(OpDiv, Int(1), Int(0))
	assert.True(t, HasCode(err, CodeArithmetic))

	_, err = Arith(OpAdd, Int(math.MaxInt64), Int(1))
	assert.True(t, HasCode(err, CodeArithmetic))

	_, err = Arith(OpMul, Int(math.MinInt64), Int(-1))
	assert.True(t, HasCode(err, CodeArithmetic))

	_, err = Arith(OpAdd, Intern("a"), Int(1))
	assert.True(t, IsTypeMismatch(err))
}
