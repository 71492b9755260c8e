package space

import (
	"context"
	"time"

	"github.com/roach88/symspace/internal/ir"
)

// GCStats reports the outcome of one collection.
type GCStats struct {
	Marked    int           `json:"marked"`
	Reclaimed int           `json:"reclaimed"`
	Duration  time.Duration `json:"duration"`
}

// ctxCheckInterval is how many objects the mark phase visits between
// context checks.
const ctxCheckInterval = 1024

// marker traces reachability over the live view.
type marker struct {
	s      *Space
	marked map[ir.ObjectRef]bool
	tuples map[*ir.Tuple]bool
	work   []ir.ObjectRef
}

func (m *marker) value(v ir.Value) {
	switch x := v.(type) {
	case ir.ObjectRef:
		m.ref(x)
	case *ir.Tuple:
		m.tuple(x)
	}
}

func (m *marker) tuple(t *ir.Tuple) {
	if m.tuples[t] {
		return
	}
	m.tuples[t] = true
	for i := 0; i < t.Len(); i++ {
		m.value(t.At(i))
	}
}

func (m *marker) ref(ref ir.ObjectRef) {
	if m.marked[ref] {
		return
	}
	m.marked[ref] = true
	m.work = append(m.work, ref)
}

// seed adds the roots, every held tuple and everything an active frame
// touches.
func (m *marker) seed() {
	s := m.s
	for _, ref := range s.Roots() {
		m.ref(ref)
	}
	for t := range s.held {
		m.tuple(t)
	}
	for _, f := range s.frames {
		for ref, o := range f.overlay {
			m.ref(ref)
			for _, a := range o.attrs {
				m.value(a.Value)
			}
		}
		for ref := range f.roots {
			m.ref(ref)
		}
		for _, ref := range f.created {
			m.ref(ref)
		}
		for _, t := range f.holds {
			m.tuple(t)
		}
		for _, mut := range f.log {
			if !mut.Ref.IsZero() {
				m.ref(mut.Ref)
			}
			if mut.Value != nil {
				m.value(mut.Value)
			}
			if mut.Tuple != nil {
				m.tuple(mut.Tuple)
			}
		}
	}
}

// drain traverses attribute edges until the work list is empty. A marked
// handle missing from the arena is a StoreInvariantViolation. Tombstones
// stay marked but their edges are not followed.
func (m *marker) drain(ctx context.Context) error {
	visited := 0
	for len(m.work) > 0 {
		n := len(m.work) - 1
		ref := m.work[n]
		m.work = m.work[:n]

		visited++
		if visited%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}

		if !m.s.present(ref) {
			return ir.NewInvariantError("marked object %s is missing from the arena", ref)
		}
		o := m.s.view(ref)
		if o == nil {
			// Slot is allocated but neither committed nor staged anywhere.
			return ir.NewInvariantError("marked object %s has no state", ref)
		}
		if o.deleted {
			continue
		}
		for _, a := range o.attrs {
			m.value(a.Value)
		}
	}
	return nil
}

func (s *Space) mark(ctx context.Context, keep []ir.Value) (map[ir.ObjectRef]bool, error) {
	m := &marker{
		s:      s,
		marked: make(map[ir.ObjectRef]bool),
		tuples: make(map[*ir.Tuple]bool),
	}
	m.seed()
	for _, v := range keep {
		m.value(v)
	}
	if err := m.drain(ctx); err != nil {
		return nil, err
	}
	return m.marked, nil
}

// Reachable runs the mark phase only and returns the marked handles. It may
// run while frames are active; nothing is reclaimed.
func (s *Space) Reachable() (map[ir.ObjectRef]bool, error) {
	return s.mark(context.Background(), nil)
}

// Collect runs a full mark-sweep pass. Every allocated slot not reached from
// the roots, the held tuples, an active frame or one of the keep values is
// reclaimed, whether it was deleted or merely unreferenced, and its
// generation is bumped. Keep values are traced like roots for this pass only.
//
// Collect refuses to run while a transaction frame is active.
func (s *Space) Collect(ctx context.Context, keep ...ir.Value) (GCStats, error) {
	if len(s.frames) > 0 {
		return GCStats{}, &ir.Error{
			Code:    ir.CodeTransactionActive,
			Message: "garbage collection requires no active transaction",
		}
	}
	start := time.Now()

	marked, err := s.mark(ctx, keep)
	if err != nil {
		return GCStats{}, err
	}

	stats := GCStats{Marked: len(marked)}
	for i := 1; i < len(s.slots); i++ {
		sl := &s.slots[i]
		if !sl.inUse {
			continue
		}
		ref := ir.NewObjectRef(uint32(i), sl.gen)
		if marked[ref] {
			continue
		}
		s.release(ref)
		stats.Reclaimed++
	}
	stats.Duration = time.Since(start)

	s.logger.Debug("gc complete",
		"marked", stats.Marked,
		"reclaimed", stats.Reclaimed,
		"duration", stats.Duration,
	)
	return stats, nil
}
