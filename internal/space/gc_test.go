package space

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/symspace/internal/ir"
)

func collect(t *testing.T, s *Space) GCStats {
	t.Helper()
	stats, err := s.Collect(context.Background())
	require.NoError(t, err)
	return stats
}

func TestCollectReclaimsUnreferenced(t *testing.T) {
	s := createTestSpace(t)
	a := mustCreate(t, s, ir.Attribute{Key: foo, Value: ir.Int(1)})

	stats := collect(t, s)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.False(t, s.Exists(a))
	assert.Empty(t, s.ObjectsWithAttribute(foo), "index is pruned on reclaim")
}

func TestCollectKeepValuesAreLiveForOnePass(t *testing.T) {
	s := createTestSpace(t)
	b := mustCreate(t, s)
	a := mustCreate(t, s, ir.Attribute{Key: bar, Value: b})
	c := mustCreate(t, s)
	other := mustCreate(t, s)

	stats, err := s.Collect(context.Background(), a, ir.NewTuple(c), ir.Int(7))
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Marked)
	assert.Equal(t, 1, stats.Reclaimed)
	assert.True(t, s.Exists(a))
	assert.True(t, s.Exists(b), "reached through a kept object")
	assert.True(t, s.Exists(c), "reached through a kept tuple")
	assert.False(t, s.Exists(other))

	stats = collect(t, s)
	assert.Equal(t, 3, stats.Reclaimed, "keep values are not roots")
}

func TestCollectKeepsRootedGraph(t *testing.T) {
	s := createTestSpace(t)
	c := mustCreate(t, s)
	b := mustCreate(t, s, ir.Attribute{Key: bar, Value: c})
	a := mustCreate(t, s,
		ir.Attribute{Key: foo, Value: ir.NewTuple(ir.Intern("via"), b)},
	)
	orphan := mustCreate(t, s)

	require.NoError(t, s.Update(context.Background(), func(txn *Txn) error {
		return txn.AddRoot(a)
	}))

	stats := collect(t, s)
	assert.Equal(t, 3, stats.Marked)
	assert.Equal(t, 1, stats.Reclaimed)
	for _, ref := range []ir.ObjectRef{a, b, c} {
		assert.True(t, s.Exists(ref), "reachable %s survives", ref)
	}
	assert.False(t, s.Exists(orphan))
}

func TestCollectReclaimsUnrootedCycle(t *testing.T) {
	s := createTestSpace(t)
	a := mustCreate(t, s)
	b := mustCreate(t, s)

	require.NoError(t, s.Update(context.Background(), func(txn *Txn) error {
		if err := txn.SetAttribute(a, bar, b); err != nil {
			return err
		}
		if err := txn.SetAttribute(b, bar, a); err != nil {
			return err
		}
		return txn.AddRoot(a)
	}))

	stats := collect(t, s)
	assert.Zero(t, stats.Reclaimed, "rooted cycle is live")

	require.NoError(t, s.Update(context.Background(), func(txn *Txn) error {
		return txn.RemoveRoot(a)
	}))

	stats = collect(t, s)
	assert.Equal(t, 2, stats.Reclaimed, "unrooted cycle is garbage")
	assert.False(t, s.Exists(a))
	assert.False(t, s.Exists(b))
}

func TestDeletedObjectHeldByTuple(t *testing.T) {
	s := createTestSpace(t)
	a := mustCreate(t, s, ir.Attribute{Key: foo, Value: ir.Int(5)})

	var tup *ir.Tuple
	require.NoError(t, s.Update(context.Background(), func(txn *Txn) error {
		var err error
		tup, err = txn.CreateTuple(ir.Int(1), ir.Intern("a"), a)
		if err != nil {
			return err
		}
		return txn.DeleteObject(a)
	}))

	stats := collect(t, s)
	assert.Zero(t, stats.Reclaimed, "held tuple keeps the tombstone")

	reachable, err := s.Reachable()
	require.NoError(t, err)
	assert.True(t, reachable[a])

	_, _, err = s.GetAttribute(a, foo)
	assert.True(t, ir.IsUnknownObject(err), "logical delete is immediate")

	require.True(t, s.ReleaseTuple(tup))
	assert.False(t, s.ReleaseTuple(tup))

	stats = collect(t, s)
	assert.Equal(t, 1, stats.Reclaimed)
}

func TestTombstoneEdgesAreNotTraced(t *testing.T) {
	s := createTestSpace(t)
	target := mustCreate(t, s)
	a := mustCreate(t, s, ir.Attribute{Key: bar, Value: target})

	require.NoError(t, s.Update(context.Background(), func(txn *Txn) error {
		if err := txn.AddRoot(a); err != nil {
			return err
		}
		return txn.DeleteObject(a)
	}))

	collect(t, s)
	assert.False(t, s.Exists(target))

	reachable, err := s.Reachable()
	require.NoError(t, err)
	assert.True(t, reachable[a], "rooted tombstone stays marked")
}

func TestCollectRefusesInsideTransaction(t *testing.T) {
	s := createTestSpace(t)
	txn := s.Begin()

	_, err := s.Collect(context.Background())
	assert.True(t, ir.HasCode(err, ir.CodeTransactionActive))

	require.NoError(t, txn.Abort())
	_, err = s.Collect(context.Background())
	assert.NoError(t, err)
}

func TestReachableSeesActiveFrames(t *testing.T) {
	s := createTestSpace(t)
	a := mustCreate(t, s)

	txn := s.Begin()
	b, err := txn.CreateObject()
	require.NoError(t, err)
	require.NoError(t, txn.SetAttribute(b, bar, a))

	reachable, err := s.Reachable()
	require.NoError(t, err)
	assert.True(t, reachable[a], "referenced from a staged write")
	assert.True(t, reachable[b], "created in the active frame")
	require.NoError(t, txn.Commit())
}

func TestCollectLiveness(t *testing.T) {
	s := createTestSpace(t)
	root := mustCreate(t, s)
	require.NoError(t, s.Update(context.Background(), func(txn *Txn) error {
		return txn.AddRoot(root)
	}))

	var prev ir.ObjectRef
	for cycle := 0; cycle < 5; cycle++ {
		next := mustCreate(t, s)
		require.NoError(t, s.Update(context.Background(), func(txn *Txn) error {
			return txn.SetAttribute(root, bar, next)
		}))
		stats := collect(t, s)
		if cycle > 0 {
			assert.Equal(t, 1, stats.Reclaimed, "cycle %d", cycle)
			assert.False(t, s.Exists(prev))
		}
		assert.True(t, s.Exists(next))
		prev = next
	}
	assert.Equal(t, 2, s.Stats().Live)
}

func TestStaleHandleAfterReclaim(t *testing.T) {
	s := createTestSpace(t)
	old := mustCreate(t, s, ir.Attribute{Key: foo, Value: ir.Int(1)})
	collect(t, s)

	fresh := mustCreate(t, s, ir.Attribute{Key: foo, Value: ir.Int(2)})
	assert.Equal(t, old.Slot(), fresh.Slot())

	_, _, err := s.GetAttribute(old, foo)
	assert.True(t, ir.IsUnknownObject(err))

	txn := s.Begin()
	err = txn.SetAttribute(fresh, bar, old)
	assert.True(t, ir.IsUnknownObject(err), "stale handles cannot be stored")
	require.NoError(t, txn.Abort())
}
