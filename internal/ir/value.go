package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// Value is a sealed interface over the values an attribute may hold.
// Only Int, Float, Symbol, *Tuple and ObjectRef implement it.
type Value interface {
	isValue() // Sealed - only these types implement it
	Kind() Kind
	String() string
}

// Kind tags the concrete type behind a Value.
type Kind uint8

const (
	KindInt Kind = iota + 1
	KindFloat
	KindSymbol
	KindTuple
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindSymbol:
		return "symbol"
	case KindTuple:
		return "tuple"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// IsNumeric reports whether values of this kind take part in arithmetic.
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat
}

// Int is a 64-bit signed integer value.
type Int int64

func (Int) isValue() {}

// Kind implements Value.
func (Int) Kind() Kind { return KindInt }

func (i Int) String() string { return strconv.FormatInt(int64(i), 10) }

// Float is a 64-bit floating point value.
type Float float64

func (Float) isValue() {}

// Kind implements Value.
func (Float) Kind() Kind { return KindFloat }

func (f Float) String() string {
	s := strconv.FormatFloat(float64(f), 'g', -1, 64)
	// Keep floats visually distinct from ints: 2 prints as 2.0
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// ObjectRef is an opaque, stable handle to an object in a space.
//
// A handle is an arena slot plus a generation. The space bumps the
// generation whenever it reclaims a slot, so a stale handle never aliases
// a newer object. The zero ObjectRef refers to nothing.
type ObjectRef struct {
	slot uint32
	gen  uint32
}

func (ObjectRef) isValue() {}

// Kind implements Value.
func (ObjectRef) Kind() Kind { return KindObject }

// NewObjectRef builds a handle from its slot and generation.
// Only the space that owns the arena should mint handles.
func NewObjectRef(slot, gen uint32) ObjectRef {
	return ObjectRef{slot: slot, gen: gen}
}

// Slot returns the arena index of the handle.
func (r ObjectRef) Slot() uint32 { return r.slot }

// Gen returns the generation of the handle.
func (r ObjectRef) Gen() uint32 { return r.gen }

// IsZero reports whether r is the zero handle.
func (r ObjectRef) IsZero() bool { return r.slot == 0 && r.gen == 0 }

// String renders the handle as "#slot" or "#slot.gen" for reused slots.
func (r ObjectRef) String() string {
	if r.gen == 0 {
		return "#" + strconv.FormatUint(uint64(r.slot), 10)
	}
	return "#" + strconv.FormatUint(uint64(r.slot), 10) + "." + strconv.FormatUint(uint64(r.gen), 10)
}

// ParseObjectRef parses the output of ObjectRef.String.
func ParseObjectRef(s string) (ObjectRef, error) {
	rest, ok := strings.CutPrefix(s, "#")
	if !ok || rest == "" {
		return ObjectRef{}, fmt.Errorf("invalid object ref %q: missing '#'", s)
	}
	slotPart, genPart, hasGen := strings.Cut(rest, ".")
	slot, err := strconv.ParseUint(slotPart, 10, 32)
	if err != nil {
		return ObjectRef{}, fmt.Errorf("invalid object ref %q: %w", s, err)
	}
	var gen uint64
	if hasGen {
		gen, err = strconv.ParseUint(genPart, 10, 32)
		if err != nil {
			return ObjectRef{}, fmt.Errorf("invalid object ref %q: %w", s, err)
		}
	}
	return ObjectRef{slot: uint32(slot), gen: uint32(gen)}, nil
}

// Attribute is a single (key, value) pair attached to an object.
type Attribute struct {
	Key   Symbol
	Value Value
}

func (a Attribute) String() string {
	return a.Key.Name() + ": " + a.Value.String()
}
