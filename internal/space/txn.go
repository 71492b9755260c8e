package space

import (
	"fmt"

	"github.com/roach88/symspace/internal/ir"
)

// TxnState is the lifecycle state of a transaction frame.
type TxnState uint8

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnAborted
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnAborted:
		return "aborted"
	default:
		return fmt.Sprintf("TxnState(%d)", uint8(s))
	}
}

// MutationOp identifies a staged mutation.
type MutationOp string

const (
	OpCreate MutationOp = "create"
	OpDelete MutationOp = "delete"
	OpSet    MutationOp = "set"
	OpRemove MutationOp = "remove"
	OpTuple  MutationOp = "tuple"
	OpRoot   MutationOp = "root"
	OpUnroot MutationOp = "unroot"
)

// Mutation is one entry of a frame's log.
type Mutation struct {
	Op    MutationOp
	Ref   ir.ObjectRef
	Key   ir.Symbol
	Value ir.Value
	Tuple *ir.Tuple
}

func (m Mutation) String() string {
	switch m.Op {
	case OpSet:
		return fmt.Sprintf("set %s.%s = %s", m.Ref, m.Key.Name(), m.Value)
	case OpRemove:
		return fmt.Sprintf("remove %s.%s", m.Ref, m.Key.Name())
	case OpTuple:
		return fmt.Sprintf("tuple %s", m.Tuple)
	default:
		return fmt.Sprintf("%s %s", m.Op, m.Ref)
	}
}

// Txn is one frame of the transaction stack.
//
// Frames stage writes in a copy-on-write overlay and record every mutation in
// an ordered log. Only the top frame of the stack may stage, commit or abort;
// any other use fails with InactiveTransaction.
type Txn struct {
	space *Space
	depth int
	state TxnState

	overlay map[ir.ObjectRef]*object
	roots   map[ir.ObjectRef]bool
	created []ir.ObjectRef
	holds   []*ir.Tuple
	log     []Mutation
}

// Begin pushes a new frame. If a frame is already active the new one nests
// inside it.
func (s *Space) Begin() *Txn {
	t := &Txn{
		space:   s,
		depth:   len(s.frames),
		overlay: make(map[ir.ObjectRef]*object),
		roots:   make(map[ir.ObjectRef]bool),
	}
	s.frames = append(s.frames, t)
	return t
}

// State returns the frame's lifecycle state.
func (t *Txn) State() TxnState { return t.state }

// Depth returns the frame's position in the stack; 0 is outermost.
func (t *Txn) Depth() int { return t.depth }

// Log returns a copy of the frame's mutation log. After a child frame
// commits, its entries are appended to the parent's log.
func (t *Txn) Log() []Mutation {
	out := make([]Mutation, len(t.log))
	copy(out, t.log)
	return out
}

func (t *Txn) checkActive() error {
	s := t.space
	if t.state != TxnActive || len(s.frames) == 0 || s.frames[len(s.frames)-1] != t {
		return &ir.Error{
			Code:    ir.CodeInactiveTransaction,
			Message: fmt.Sprintf("transaction at depth %d is %s or not the top frame", t.depth, t.state),
		}
	}
	return nil
}

// writable returns the frame's private copy of ref, copying the visible
// state on first write.
func (t *Txn) writable(ref ir.ObjectRef) (*object, error) {
	if o, ok := t.overlay[ref]; ok {
		if o.deleted {
			return nil, ir.NewUnknownObjectError(ref)
		}
		return o, nil
	}
	o, err := t.space.live(ref)
	if err != nil {
		return nil, err
	}
	c := o.clone()
	t.overlay[ref] = c
	return c, nil
}

// CreateObject allocates a new object with no attributes.
func (t *Txn) CreateObject() (ir.ObjectRef, error) {
	if err := t.checkActive(); err != nil {
		return ir.ObjectRef{}, err
	}
	ref := t.space.allocate()
	t.overlay[ref] = &object{}
	t.created = append(t.created, ref)
	t.log = append(t.log, Mutation{Op: OpCreate, Ref: ref})
	return ref, nil
}

// DeleteObject tombstones ref. Attribute access fails from now on; the slot
// is reclaimed by a later collection once nothing reaches it.
func (t *Txn) DeleteObject(ref ir.ObjectRef) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	o, err := t.writable(ref)
	if err != nil {
		return err
	}
	o.deleted = true
	t.log = append(t.log, Mutation{Op: OpDelete, Ref: ref})
	return nil
}

// SetAttribute sets key on ref to v, overwriting any previous value.
func (t *Txn) SetAttribute(ref ir.ObjectRef, key ir.Symbol, v ir.Value) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if v == nil {
		return ir.NewTypeMismatchError("set", nil, nil)
	}
	if err := t.space.checkRefs(v); err != nil {
		return err
	}
	o, err := t.writable(ref)
	if err != nil {
		return err
	}
	o.set(key, v)
	t.log = append(t.log, Mutation{Op: OpSet, Ref: ref, Key: key, Value: v})
	return nil
}

// RemoveAttribute removes key from ref. It fails with UnknownAttribute if
// the attribute is not set.
func (t *Txn) RemoveAttribute(ref ir.ObjectRef, key ir.Symbol) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	o, err := t.space.live(ref)
	if err != nil {
		return err
	}
	if _, ok := o.lookup(key); !ok {
		return ir.NewUnknownAttributeError(ref, key)
	}
	o, err = t.writable(ref)
	if err != nil {
		return err
	}
	o.remove(key)
	t.log = append(t.log, Mutation{Op: OpRemove, Ref: ref, Key: key})
	return nil
}

// CreateTuple builds a tuple and places a hold on it. A held tuple keeps
// every object it embeds reachable until Space.ReleaseTuple drops the hold.
func (t *Txn) CreateTuple(values ...ir.Value) (*ir.Tuple, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	for _, v := range values {
		if v == nil {
			return nil, ir.NewTypeMismatchError("tuple", nil, nil)
		}
		if err := t.space.checkRefs(v); err != nil {
			return nil, err
		}
	}
	tup := ir.NewTuple(values...)
	t.holds = append(t.holds, tup)
	t.log = append(t.log, Mutation{Op: OpTuple, Tuple: tup})
	return tup, nil
}

// AddRoot pins ref as always reachable.
func (t *Txn) AddRoot(ref ir.ObjectRef) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if _, err := t.space.live(ref); err != nil {
		return err
	}
	t.roots[ref] = true
	t.log = append(t.log, Mutation{Op: OpRoot, Ref: ref})
	return nil
}

// RemoveRoot unpins ref. Unpinning a handle that is not a root is a no-op,
// but the handle must still name an arena slot.
func (t *Txn) RemoveRoot(ref ir.ObjectRef) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if !t.space.present(ref) {
		return ir.NewUnknownObjectError(ref)
	}
	t.roots[ref] = false
	t.log = append(t.log, Mutation{Op: OpUnroot, Ref: ref})
	return nil
}

// Commit merges the frame into its parent, or into the committed store if it
// is outermost, and pops it.
func (t *Txn) Commit() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	s := t.space
	s.frames = s.frames[:len(s.frames)-1]
	t.state = TxnCommitted

	if n := len(s.frames); n > 0 {
		parent := s.frames[n-1]
		for ref, o := range t.overlay {
			parent.overlay[ref] = o
		}
		for ref, pinned := range t.roots {
			parent.roots[ref] = pinned
		}
		parent.created = append(parent.created, t.created...)
		parent.holds = append(parent.holds, t.holds...)
		parent.log = append(parent.log, t.log...)
		return nil
	}

	for ref, o := range t.overlay {
		s.install(ref, o)
	}
	for ref, pinned := range t.roots {
		if pinned {
			s.roots[ref] = true
		} else {
			delete(s.roots, ref)
		}
	}
	for _, tup := range t.holds {
		s.held[tup]++
	}
	return nil
}

// Abort discards the frame and pops it. Objects created in the frame give
// their slots back. Aborting a frame never affects its parent.
func (t *Txn) Abort() error {
	if err := t.checkActive(); err != nil {
		return err
	}
	s := t.space
	s.frames = s.frames[:len(s.frames)-1]
	t.state = TxnAborted
	for _, ref := range t.created {
		s.release(ref)
	}
	return nil
}
