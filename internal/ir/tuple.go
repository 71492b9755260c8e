package ir

import (
	"strings"
)

// Tuple is an immutable ordered sequence of values.
//
// Tuples compare structurally: two tuples are Equal iff they have the same
// length and are element-wise Equal. The structural hash is computed once at
// construction. Tuples are always handled by pointer, so identity (==) and
// structural equality (Equal) are distinct questions.
type Tuple struct {
	elems []Value
	hash  uint64
}

func (*Tuple) isValue() {}

// Kind implements Value.
func (*Tuple) Kind() Kind { return KindTuple }

// NewTuple builds a tuple from values. The input slice is copied, so later
// changes to it never reach the tuple.
//
// Panics if any element is nil; a nil Value is a programming error.
func NewTuple(values ...Value) *Tuple {
	elems := make([]Value, len(values))
	for i, v := range values {
		if v == nil {
			panic("ir: nil value in tuple")
		}
		elems[i] = v
	}
	t := &Tuple{elems: elems}
	t.hash = hashTuple(elems)
	return t
}

// Len returns the number of elements.
func (t *Tuple) Len() int { return len(t.elems) }

// At returns the i-th element.
func (t *Tuple) At(i int) Value { return t.elems[i] }

// Values returns a copy of the elements.
func (t *Tuple) Values() []Value {
	out := make([]Value, len(t.elems))
	copy(out, t.elems)
	return out
}

// Hash returns the structural hash computed at construction.
// Equal tuples always have equal hashes.
func (t *Tuple) Hash() uint64 { return t.hash }

// Refs returns every ObjectRef embedded in the tuple, including those inside
// nested tuples, in element order.
func (t *Tuple) Refs() []ObjectRef {
	var refs []ObjectRef
	t.collectRefs(&refs)
	return refs
}

func (t *Tuple) collectRefs(out *[]ObjectRef) {
	for _, v := range t.elems {
		switch e := v.(type) {
		case ObjectRef:
			*out = append(*out, e)
		case *Tuple:
			e.collectRefs(out)
		}
	}
}

func (t *Tuple) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, v := range t.elems {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(v.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Destructure returns the elements of v, which must be a tuple of exactly
// n elements.
func Destructure(v Value, n int) ([]Value, error) {
	t, ok := v.(*Tuple)
	if !ok {
		return nil, NewTypeMismatchError("destructure", v, nil)
	}
	if t.Len() != n {
		return nil, NewArityMismatchError(n, t.Len())
	}
	return t.Values(), nil
}
