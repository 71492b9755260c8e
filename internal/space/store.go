package space

import (
	"cmp"
	"context"
	"log/slog"
	"slices"

	"github.com/roach88/symspace/internal/ir"
)

// object is one version of an object's state. Committed versions live in the
// arena; staged versions live in a frame overlay and are copied on first
// write, so a frame never mutates state visible to the frames below it.
type object struct {
	attrs   []ir.Attribute
	deleted bool
}

func (o *object) clone() *object {
	return &object{
		attrs:   slices.Clone(o.attrs),
		deleted: o.deleted,
	}
}

func (o *object) lookup(key ir.Symbol) (ir.Value, bool) {
	for _, a := range o.attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return nil, false
}

func (o *object) set(key ir.Symbol, v ir.Value) {
	for i := range o.attrs {
		if o.attrs[i].Key == key {
			o.attrs[i].Value = v
			return
		}
	}
	o.attrs = append(o.attrs, ir.Attribute{Key: key, Value: v})
}

func (o *object) remove(key ir.Symbol) bool {
	for i := range o.attrs {
		if o.attrs[i].Key == key {
			o.attrs = slices.Delete(o.attrs, i, i+1)
			return true
		}
	}
	return false
}

// slot is one arena cell. A slot is in use from allocation until the
// collector (or an abort of the creating frame) frees it; state is nil while
// the creating frame has not committed to the store.
type slot struct {
	gen   uint32
	inUse bool
	state *object
}

// Space is an object space. Create one with New; the zero value is not usable.
type Space struct {
	slots []slot
	free  []uint32

	roots map[ir.ObjectRef]bool
	held  map[*ir.Tuple]int
	index map[ir.Symbol]map[ir.ObjectRef]struct{}

	frames []*Txn

	logger   *slog.Logger
	capacity int
}

// New creates an empty Space.
func New(opts ...Option) *Space {
	s := &Space{
		logger:   slog.Default(),
		capacity: DefaultInitialCapacity,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reset()
	return s
}

func (s *Space) reset() {
	// Slot 0 is reserved so the zero ObjectRef never names an object.
	s.slots = make([]slot, 1, s.capacity+1)
	s.slots[0].inUse = true
	s.free = nil
	s.roots = make(map[ir.ObjectRef]bool)
	s.held = make(map[*ir.Tuple]int)
	s.index = make(map[ir.Symbol]map[ir.ObjectRef]struct{})
	s.frames = nil
}

// Close tears the space down. Every handle it issued becomes invalid.
// Close fails with TransactionActive while a frame is open.
func (s *Space) Close() error {
	if len(s.frames) > 0 {
		return &ir.Error{Code: ir.CodeTransactionActive, Message: "cannot close space with an active transaction"}
	}
	s.reset()
	return nil
}

// present reports whether ref names an allocated arena slot of the same
// generation. Deleted objects are still present until collected.
func (s *Space) present(ref ir.ObjectRef) bool {
	i := ref.Slot()
	if i == 0 || int(i) >= len(s.slots) {
		return false
	}
	sl := &s.slots[i]
	return sl.inUse && sl.gen == ref.Gen()
}

// view returns the object state visible at the top of the frame stack,
// including tombstones. It returns nil for handles the store does not know.
func (s *Space) view(ref ir.ObjectRef) *object {
	if !s.present(ref) {
		return nil
	}
	for i := len(s.frames) - 1; i >= 0; i-- {
		if o, ok := s.frames[i].overlay[ref]; ok {
			return o
		}
	}
	return s.slots[ref.Slot()].state
}

// live returns the visible, non-deleted state of ref or UnknownObject.
func (s *Space) live(ref ir.ObjectRef) (*object, error) {
	o := s.view(ref)
	if o == nil || o.deleted {
		return nil, ir.NewUnknownObjectError(ref)
	}
	return o, nil
}

// Exists reports whether ref names a live, non-deleted object.
func (s *Space) Exists(ref ir.ObjectRef) bool {
	_, err := s.live(ref)
	return err == nil
}

// GetAttribute returns the value of key on ref. Absence is reported as
// (nil, false, nil); an invalid or deleted handle is UnknownObject.
func (s *Space) GetAttribute(ref ir.ObjectRef, key ir.Symbol) (ir.Value, bool, error) {
	o, err := s.live(ref)
	if err != nil {
		return nil, false, err
	}
	v, ok := o.lookup(key)
	return v, ok, nil
}

// ListAttributes returns ref's attributes in insertion order. Each call
// returns a fresh slice.
func (s *Space) ListAttributes(ref ir.ObjectRef) ([]ir.Attribute, error) {
	o, err := s.live(ref)
	if err != nil {
		return nil, err
	}
	return slices.Clone(o.attrs), nil
}

// Objects returns every live object in arena order.
func (s *Space) Objects() []ir.ObjectRef {
	var refs []ir.ObjectRef
	for i := 1; i < len(s.slots); i++ {
		ref := ir.NewObjectRef(uint32(i), s.slots[i].gen)
		if s.Exists(ref) {
			refs = append(refs, ref)
		}
	}
	return refs
}

// ObjectsWithAttribute returns every live object that carries key, in arena
// order. Committed objects are found through the attribute index; staged
// objects are checked directly.
func (s *Space) ObjectsWithAttribute(key ir.Symbol) []ir.ObjectRef {
	candidates := make(map[ir.ObjectRef]struct{}, len(s.index[key]))
	for ref := range s.index[key] {
		candidates[ref] = struct{}{}
	}
	for _, f := range s.frames {
		for ref := range f.overlay {
			candidates[ref] = struct{}{}
		}
	}

	refs := make([]ir.ObjectRef, 0, len(candidates))
	for ref := range candidates {
		o, err := s.live(ref)
		if err != nil {
			continue
		}
		if _, ok := o.lookup(key); ok {
			refs = append(refs, ref)
		}
	}
	slices.SortFunc(refs, compareRefs)
	return refs
}

// IsRoot reports whether ref is pinned in the live view.
func (s *Space) IsRoot(ref ir.ObjectRef) bool {
	for i := len(s.frames) - 1; i >= 0; i-- {
		if pinned, ok := s.frames[i].roots[ref]; ok {
			return pinned
		}
	}
	return s.roots[ref]
}

// Roots returns the pinned objects of the live view in arena order.
func (s *Space) Roots() []ir.ObjectRef {
	set := make(map[ir.ObjectRef]bool, len(s.roots))
	for ref := range s.roots {
		set[ref] = true
	}
	for _, f := range s.frames {
		for ref, pinned := range f.roots {
			if pinned {
				set[ref] = true
			} else {
				delete(set, ref)
			}
		}
	}
	refs := make([]ir.ObjectRef, 0, len(set))
	for ref := range set {
		refs = append(refs, ref)
	}
	slices.SortFunc(refs, compareRefs)
	return refs
}

// ReleaseTuple drops one hold on t. It reports false if t was not held.
func (s *Space) ReleaseTuple(t *ir.Tuple) bool {
	for i := len(s.frames) - 1; i >= 0; i-- {
		f := s.frames[i]
		if j := slices.Index(f.holds, t); j >= 0 {
			f.holds = slices.Delete(f.holds, j, j+1)
			return true
		}
	}
	n, ok := s.held[t]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(s.held, t)
	} else {
		s.held[t] = n - 1
	}
	return true
}

// HeldTuples returns the tuples currently held by the committed store.
func (s *Space) HeldTuples() []*ir.Tuple {
	tuples := make([]*ir.Tuple, 0, len(s.held))
	for t := range s.held {
		tuples = append(tuples, t)
	}
	slices.SortFunc(tuples, func(a, b *ir.Tuple) int { return ir.Compare(a, b) })
	return tuples
}

// Depth returns the number of active transaction frames.
func (s *Space) Depth() int { return len(s.frames) }

// Update runs fn inside a new transaction. The transaction commits if fn
// returns nil; otherwise it aborts and the error is wrapped as
// TransactionAborted.
func (s *Space) Update(ctx context.Context, fn func(*Txn) error) error {
	txn := s.Begin()
	if err := ctx.Err(); err != nil {
		txn.Abort()
		return ir.NewAbortedError("", err)
	}
	if err := fn(txn); err != nil {
		txn.Abort()
		s.logger.Debug("transaction aborted", "depth", len(s.frames)+1, "error", err)
		return ir.NewAbortedError("", err)
	}
	return txn.Commit()
}

// Stats summarizes arena occupancy.
type Stats struct {
	Slots      int `json:"slots"`
	Live       int `json:"live"`
	Tombstoned int `json:"tombstoned"`
	Free       int `json:"free"`
	Roots      int `json:"roots"`
	HeldTuples int `json:"held_tuples"`
}

// Stats reports arena occupancy for the live view.
func (s *Space) Stats() Stats {
	st := Stats{
		Slots:      len(s.slots) - 1,
		Free:       len(s.free),
		Roots:      len(s.Roots()),
		HeldTuples: len(s.held),
	}
	for _, f := range s.frames {
		st.HeldTuples += len(f.holds)
	}
	for i := 1; i < len(s.slots); i++ {
		o := s.view(ir.NewObjectRef(uint32(i), s.slots[i].gen))
		switch {
		case o == nil:
		case o.deleted:
			st.Tombstoned++
		default:
			st.Live++
		}
	}
	return st
}

// allocate reserves a slot for a new object. The caller owns the handle
// until it commits or frees it.
func (s *Space) allocate() ir.ObjectRef {
	if n := len(s.free); n > 0 {
		i := s.free[n-1]
		s.free = s.free[:n-1]
		s.slots[i].inUse = true
		return ir.NewObjectRef(i, s.slots[i].gen)
	}
	s.slots = append(s.slots, slot{inUse: true})
	return ir.NewObjectRef(uint32(len(s.slots)-1), 0)
}

// release frees a slot and bumps its generation so stale handles never
// alias a later object.
func (s *Space) release(ref ir.ObjectRef) {
	sl := &s.slots[ref.Slot()]
	if sl.state != nil && !sl.state.deleted {
		s.unindex(ref, sl.state)
	}
	sl.state = nil
	sl.inUse = false
	sl.gen++
	s.free = append(s.free, ref.Slot())
}

// install makes o the committed state of ref and maintains the index.
func (s *Space) install(ref ir.ObjectRef, o *object) {
	sl := &s.slots[ref.Slot()]
	if sl.state != nil && !sl.state.deleted {
		s.unindex(ref, sl.state)
	}
	sl.state = o
	if !o.deleted {
		for _, a := range o.attrs {
			refs, ok := s.index[a.Key]
			if !ok {
				refs = make(map[ir.ObjectRef]struct{})
				s.index[a.Key] = refs
			}
			refs[ref] = struct{}{}
		}
	}
}

func (s *Space) unindex(ref ir.ObjectRef, o *object) {
	for _, a := range o.attrs {
		if refs, ok := s.index[a.Key]; ok {
			delete(refs, ref)
			if len(refs) == 0 {
				delete(s.index, a.Key)
			}
		}
	}
}

// checkRefs verifies that every handle embedded in v names an arena slot.
func (s *Space) checkRefs(v ir.Value) error {
	switch x := v.(type) {
	case ir.ObjectRef:
		if !s.present(x) {
			return ir.NewUnknownObjectError(x)
		}
	case *ir.Tuple:
		for _, ref := range x.Refs() {
			if !s.present(ref) {
				return ir.NewUnknownObjectError(ref)
			}
		}
	}
	return nil
}

func compareRefs(a, b ir.ObjectRef) int {
	if c := cmp.Compare(a.Slot(), b.Slot()); c != 0 {
		return c
	}
	return cmp.Compare(a.Gen(), b.Gen())
}
