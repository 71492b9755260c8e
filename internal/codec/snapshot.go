package codec

import (
	"context"
	"fmt"

	"github.com/roach88/symspace/internal/ir"
	"github.com/roach88/symspace/internal/space"
)

// FormatVersion identifies the snapshot layout.
const FormatVersion = "1"

// Value kinds as they appear in a snapshot.
const (
	KindInt   = "int"
	KindFloat = "float"
	KindSym   = "sym"
	KindTuple = "tuple"
	KindRef   = "ref"
)

// Snapshot is a portable image of an object space.
type Snapshot struct {
	Format  string   `cbor:"1,keyasint"`
	Objects []Object `cbor:"2,keyasint"`

	// Held lists tuples that carried a hold when the snapshot was taken.
	// Restoring re-creates each one with a fresh hold.
	Held []Value `cbor:"3,keyasint,omitempty"`
}

// Object is one arena entry.
type Object struct {
	// Name labels the object in seed files and diagnostics. Optional.
	Name    string `cbor:"1,keyasint,omitempty"`
	Root    bool   `cbor:"2,keyasint,omitempty"`
	Deleted bool   `cbor:"3,keyasint,omitempty"`
	Attrs   []Attr `cbor:"4,keyasint,omitempty"`
}

// Attr is one attribute, kept in insertion order.
type Attr struct {
	Key   string `cbor:"1,keyasint"`
	Value Value  `cbor:"2,keyasint"`
}

// Value is the snapshot form of an ir.Value.
type Value struct {
	Kind  string  `cbor:"1,keyasint"`
	Int   int64   `cbor:"2,keyasint,omitempty"`
	Float float64 `cbor:"3,keyasint,omitempty"`
	Sym   string  `cbor:"4,keyasint,omitempty"`

	// Ref is an index into Snapshot.Objects.
	Ref   int     `cbor:"5,keyasint,omitempty"`
	Tuple []Value `cbor:"6,keyasint,omitempty"`
}

// Index returns the position of the object called name, or -1.
func (s *Snapshot) Index(name string) int {
	for i, o := range s.Objects {
		if o.Name != "" && o.Name == name {
			return i
		}
	}
	return -1
}

// Capture takes a snapshot of sp's committed state. Objects keep their arena
// order. Deleted objects that live values still point at are captured as
// tombstones so every reference survives the round trip.
func Capture(sp *space.Space) (*Snapshot, error) {
	if sp.Depth() > 0 {
		return nil, &ir.Error{Code: ir.CodeTransactionActive, Message: "cannot snapshot a space with an open transaction"}
	}

	c := &capturer{sp: sp, index: make(map[ir.ObjectRef]int)}
	live := sp.Objects()
	for _, ref := range live {
		c.slot(ref)
	}
	for _, ref := range sp.Roots() {
		c.snap.Objects[c.slot(ref)].Root = true
	}

	for _, ref := range live {
		attrs, err := sp.ListAttributes(ref)
		if err != nil {
			return nil, err
		}
		out := make([]Attr, len(attrs))
		for i, a := range attrs {
			v, err := c.value(a.Value)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", ref, a.Key.Name(), err)
			}
			out[i] = Attr{Key: a.Key.Name(), Value: v}
		}
		c.snap.Objects[c.index[ref]].Attrs = out
	}

	for _, t := range sp.HeldTuples() {
		v, err := c.value(t)
		if err != nil {
			return nil, fmt.Errorf("held tuple %s: %w", t, err)
		}
		c.snap.Held = append(c.snap.Held, v)
	}

	c.snap.Format = FormatVersion
	return &c.snap, nil
}

type capturer struct {
	sp    *space.Space
	snap  Snapshot
	index map[ir.ObjectRef]int
}

// slot returns the snapshot index for ref, adding a tombstone entry for a
// handle that is no longer live.
func (c *capturer) slot(ref ir.ObjectRef) int {
	if i, ok := c.index[ref]; ok {
		return i
	}
	i := len(c.snap.Objects)
	c.index[ref] = i
	c.snap.Objects = append(c.snap.Objects, Object{Deleted: !c.sp.Exists(ref)})
	return i
}

func (c *capturer) value(v ir.Value) (Value, error) {
	switch x := v.(type) {
	case ir.Int:
		return Value{Kind: KindInt, Int: int64(x)}, nil
	case ir.Float:
		return Value{Kind: KindFloat, Float: float64(x)}, nil
	case ir.Symbol:
		return Value{Kind: KindSym, Sym: x.Name()}, nil
	case ir.ObjectRef:
		return Value{Kind: KindRef, Ref: c.slot(x)}, nil
	case *ir.Tuple:
		elems := make([]Value, x.Len())
		for i := range elems {
			e, err := c.value(x.At(i))
			if err != nil {
				return Value{}, err
			}
			elems[i] = e
		}
		return Value{Kind: KindTuple, Tuple: elems}, nil
	default:
		return Value{}, ir.NewTypeMismatchError("snapshot", v, nil)
	}
}

// Restore rebuilds snap inside sp in one transaction and returns the new
// handle of every snapshot object, by position. On error nothing is
// committed.
func Restore(ctx context.Context, sp *space.Space, snap *Snapshot) ([]ir.ObjectRef, error) {
	if snap.Format != "" && snap.Format != FormatVersion {
		return nil, fmt.Errorf("unsupported snapshot format %q", snap.Format)
	}

	refs := make([]ir.ObjectRef, len(snap.Objects))
	var scratch []*ir.Tuple
	err := sp.Update(ctx, func(txn *space.Txn) error {
		r := &restorer{txn: txn, snap: snap, refs: refs}
		for i := range snap.Objects {
			ref, err := txn.CreateObject()
			if err != nil {
				return err
			}
			refs[i] = ref
		}

		for i, o := range snap.Objects {
			if o.Deleted && len(o.Attrs) > 0 {
				return fmt.Errorf("object %d: deleted objects carry no attributes", i)
			}
			for _, a := range o.Attrs {
				v, err := r.value(a.Value)
				if err != nil {
					return fmt.Errorf("object %d attribute %s: %w", i, a.Key, err)
				}
				if err := txn.SetAttribute(refs[i], ir.Intern(a.Key), v); err != nil {
					return err
				}
			}
		}

		for i, o := range snap.Objects {
			if o.Root {
				if err := txn.AddRoot(refs[i]); err != nil {
					return err
				}
			}
		}

		// Attribute tuples are reachable through their owner and give their
		// hold back after commit. Held tuples keep theirs.
		scratch = r.tuples
		r.tuples = nil
		for i, h := range snap.Held {
			if h.Kind != KindTuple {
				return fmt.Errorf("held value %d is a %s, not a tuple", i, h.Kind)
			}
			if _, err := r.value(h); err != nil {
				return fmt.Errorf("held tuple %d: %w", i, err)
			}
			// The outer tuple is created last; its elements are scratch.
			n := len(r.tuples) - 1
			scratch = append(scratch, r.tuples[:n]...)
			r.tuples = r.tuples[:0]
		}

		for i, o := range snap.Objects {
			if o.Deleted {
				if err := txn.DeleteObject(refs[i]); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, t := range scratch {
		sp.ReleaseTuple(t)
	}
	return refs, nil
}

type restorer struct {
	txn  *space.Txn
	snap *Snapshot
	refs []ir.ObjectRef

	// tuples created so far, innermost first.
	tuples []*ir.Tuple
}

func (r *restorer) value(v Value) (ir.Value, error) {
	switch v.Kind {
	case KindInt:
		return ir.Int(v.Int), nil
	case KindFloat:
		return ir.Float(v.Float), nil
	case KindSym:
		return ir.Intern(v.Sym), nil
	case KindRef:
		if v.Ref < 0 || v.Ref >= len(r.refs) {
			return nil, fmt.Errorf("reference to object %d out of range", v.Ref)
		}
		return r.refs[v.Ref], nil
	case KindTuple:
		elems := make([]ir.Value, len(v.Tuple))
		for i, e := range v.Tuple {
			x, err := r.value(e)
			if err != nil {
				return nil, err
			}
			elems[i] = x
		}
		t, err := r.txn.CreateTuple(elems...)
		if err != nil {
			return nil, err
		}
		r.tuples = append(r.tuples, t)
		return t, nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", v.Kind)
	}
}

// Resolve converts v to an ir.Value, mapping object indices through refs.
// Tuples are built directly and carry no hold, so the result is meant for
// comparison and rule inputs, not for storing into a space.
func Resolve(v Value, refs []ir.ObjectRef) (ir.Value, error) {
	switch v.Kind {
	case KindInt:
		return ir.Int(v.Int), nil
	case KindFloat:
		return ir.Float(v.Float), nil
	case KindSym:
		return ir.Intern(v.Sym), nil
	case KindRef:
		if v.Ref < 0 || v.Ref >= len(refs) {
			return nil, fmt.Errorf("reference to object %d out of range", v.Ref)
		}
		return refs[v.Ref], nil
	case KindTuple:
		elems := make([]ir.Value, len(v.Tuple))
		for i, e := range v.Tuple {
			x, err := Resolve(e, refs)
			if err != nil {
				return nil, err
			}
			elems[i] = x
		}
		return ir.NewTuple(elems...), nil
	default:
		return nil, fmt.Errorf("unknown value kind %q", v.Kind)
	}
}
