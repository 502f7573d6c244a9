package crdt

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exchange delivers every update each doc is missing to the other until both
// converge, interleaving per-replica streams according to order.
func exchange(t *testing.T, a, b *Doc) {
	t.Helper()
	for _, u := range a.Diff(b.StateVector()) {
		require.NoError(t, b.ApplyUpdate(u))
	}
	for _, u := range b.Diff(a.StateVector()) {
		require.NoError(t, a.ApplyUpdate(u))
	}
}

func mapSnapshot(d *Doc, name string) map[string]any {
	out := map[string]any{}
	d.View(func(tx *Tx) {
		m := d.Map(name)
		for _, k := range m.Keys(tx) {
			v, _ := m.Get(tx, k)
			switch c := v.(type) {
			case *List:
				out[k] = c.Slice(tx)
			case *Text:
				out[k] = c.String(tx)
			default:
				out[k] = v
			}
		}
	})
	return out
}

func TestMapSetGet(t *testing.T) {
	d := NewDoc()
	require.NoError(t, d.Transact(func(tx *Tx) error {
		d.Map("data").Set(tx, "id", "doc-1")
		d.Map("data").Set(tx, "count", int64(3))
		return nil
	}))

	d.View(func(tx *Tx) {
		v, ok := d.Map("data").Get(tx, "id")
		require.True(t, ok)
		assert.Equal(t, "doc-1", v)
		assert.True(t, d.Map("data").Has(tx, "count"))
		_, ok = d.Map("data").Get(tx, "missing")
		assert.False(t, ok)
	})
}

func TestMapDeleteTombstones(t *testing.T) {
	d := NewDoc()
	require.NoError(t, d.Transact(func(tx *Tx) error {
		d.Map("data").Set(tx, "k", "v")
		d.Map("data").Delete(tx, "k")
		return nil
	}))
	d.View(func(tx *Tx) {
		assert.False(t, d.Map("data").Has(tx, "k"))
		assert.Equal(t, 0, d.Map("data").Len(tx))
	})
}

func TestMapLastWriterWins(t *testing.T) {
	a := NewDocWithReplica("aaaa")
	b := NewDocWithReplica("bbbb")

	require.NoError(t, a.Transact(func(tx *Tx) error {
		a.Map("data").Set(tx, "k", "from-a")
		return nil
	}))
	require.NoError(t, b.Transact(func(tx *Tx) error {
		b.Map("data").Set(tx, "k", "from-b")
		return nil
	}))

	exchange(t, a, b)

	va := mapSnapshot(a, "data")["k"]
	vb := mapSnapshot(b, "data")["k"]
	assert.Equal(t, va, vb, "replicas must agree after merge")
	// Equal lamport clocks: the higher replica id wins.
	assert.Equal(t, "from-b", va)
}

func TestListAppendAndDelete(t *testing.T) {
	d := NewDoc()
	require.NoError(t, d.Transact(func(tx *Tx) error {
		l := NewList(tx)
		d.Map("data").Set(tx, "order", l)
		l.Append(tx, "a")
		l.Append(tx, "b")
		l.Append(tx, "c")
		l.DeleteAt(tx, 1)
		l.InsertAt(tx, 1, "x")
		return nil
	}))
	assert.Equal(t, []any{"a", "x", "c"}, mapSnapshot(d, "data")["order"])
}

func TestListRemoveValue(t *testing.T) {
	d := NewDoc()
	require.NoError(t, d.Transact(func(tx *Tx) error {
		l := NewList(tx)
		d.Map("data").Set(tx, "order", l)
		l.Append(tx, "a")
		l.Append(tx, "b")
		assert.True(t, l.RemoveValue(tx, "a"))
		assert.False(t, l.RemoveValue(tx, "zz"))
		return nil
	}))
	assert.Equal(t, []any{"b"}, mapSnapshot(d, "data")["order"])
}

func TestConcurrentListAppendsConverge(t *testing.T) {
	a := NewDocWithReplica("aaaa")
	b := NewDocWithReplica("bbbb")

	require.NoError(t, a.Transact(func(tx *Tx) error {
		l := NewList(tx)
		a.Map("data").Set(tx, "order", l)
		l.Append(tx, "base")
		return nil
	}))
	exchange(t, a, b)

	// Concurrent appends on both replicas.
	require.NoError(t, a.Transact(func(tx *Tx) error {
		la, _ := a.Map("data").Get(tx, "order")
		la.(*List).Append(tx, "from-a")
		return nil
	}))
	require.NoError(t, b.Transact(func(tx *Tx) error {
		lb, _ := b.Map("data").Get(tx, "order")
		lb.(*List).Append(tx, "from-b")
		return nil
	}))
	exchange(t, a, b)

	sa := mapSnapshot(a, "data")["order"]
	sb := mapSnapshot(b, "data")["order"]
	assert.Equal(t, sa, sb, "concurrent appends must interleave identically")
	assert.Len(t, sa, 3)
	assert.Equal(t, "base", sa.([]any)[0])
}

func TestTextConcurrentEditsConverge(t *testing.T) {
	a := NewDocWithReplica("aaaa")
	b := NewDocWithReplica("bbbb")

	require.NoError(t, a.Transact(func(tx *Tx) error {
		txt := NewText(tx)
		a.Map("data").Set(tx, "prompt", txt)
		txt.Insert(tx, 0, "hello world")
		return nil
	}))
	exchange(t, a, b)

	require.NoError(t, a.Transact(func(tx *Tx) error {
		v, _ := a.Map("data").Get(tx, "prompt")
		v.(*Text).Insert(tx, 5, ",")
		return nil
	}))
	require.NoError(t, b.Transact(func(tx *Tx) error {
		v, _ := b.Map("data").Get(tx, "prompt")
		v.(*Text).Delete(tx, 0, 1)
		v.(*Text).Insert(tx, 0, "H")
		return nil
	}))
	exchange(t, a, b)

	sa := mapSnapshot(a, "data")["prompt"]
	sb := mapSnapshot(b, "data")["prompt"]
	assert.Equal(t, sa, sb)
	assert.Equal(t, "Hello, world", sa)
}

func TestOutOfOrderApplication(t *testing.T) {
	a := NewDocWithReplica("aaaa")
	b := NewDocWithReplica("bbbb")

	for i := 0; i < 5; i++ {
		require.NoError(t, a.Transact(func(tx *Tx) error {
			a.Map("data").Set(tx, "k", i)
			return nil
		}))
	}

	updates := a.Diff(StateVector{})
	require.Len(t, updates, 1)
	ops := updates[0].Ops

	// Deliver ops in reverse, one per update frame.
	for i := len(ops) - 1; i >= 0; i-- {
		require.NoError(t, b.ApplyUpdate(Update{Replica: "aaaa", Ops: []Op{ops[i]}}))
	}

	assert.Equal(t, mapSnapshot(a, "data"), mapSnapshot(b, "data"))
	assert.Equal(t, a.StateVector(), b.StateVector())
}

func TestDuplicateApplicationIsIdempotent(t *testing.T) {
	a := NewDoc()
	b := NewDoc()
	require.NoError(t, a.Transact(func(tx *Tx) error {
		l := NewList(tx)
		a.Map("data").Set(tx, "order", l)
		l.Append(tx, "x")
		return nil
	}))
	updates := a.Diff(StateVector{})
	for i := 0; i < 3; i++ {
		for _, u := range updates {
			require.NoError(t, b.ApplyUpdate(u))
		}
	}
	assert.Equal(t, []any{"x"}, mapSnapshot(b, "data")["order"])
}

// Convergence property: random concurrent transactions on two replicas with
// random delivery interleavings always converge.
func TestConvergenceRandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for trial := 0; trial < 20; trial++ {
		a := NewDocWithReplica("aaaa")
		b := NewDocWithReplica("bbbb")
		require.NoError(t, a.Transact(func(tx *Tx) error {
			l := NewList(tx)
			a.Map("data").Set(tx, "order", l)
			return nil
		}))
		exchange(t, a, b)

		docs := []*Doc{a, b}
		for step := 0; step < 30; step++ {
			d := docs[rng.Intn(2)]
			require.NoError(t, d.Transact(func(tx *Tx) error {
				lv, ok := d.Map("data").Get(tx, "order")
				if !ok {
					return nil
				}
				l := lv.(*List)
				switch rng.Intn(3) {
				case 0:
					l.InsertAt(tx, rng.Intn(l.Len(tx)+1), rng.Intn(100))
				case 1:
					if n := l.Len(tx); n > 0 {
						l.DeleteAt(tx, rng.Intn(n))
					}
				case 2:
					d.Map("data").Set(tx, "k", rng.Intn(100))
				}
				return nil
			}))
			if rng.Intn(4) == 0 {
				exchange(t, a, b)
			}
		}
		exchange(t, a, b)

		assert.Equal(t, mapSnapshot(a, "data"), mapSnapshot(b, "data"),
			"trial %d diverged", trial)
	}
}

func TestObserverBatchesPerTransaction(t *testing.T) {
	d := NewDoc()
	var fired int
	var keys map[string]struct{}
	unobserve := d.Map("data").Observe(func(ev Event) {
		fired++
		keys = ev.Map.KeysChanged
	})
	defer unobserve()

	require.NoError(t, d.Transact(func(tx *Tx) error {
		d.Map("data").Set(tx, "a", 1)
		d.Map("data").Set(tx, "b", 2)
		return nil
	}))

	assert.Equal(t, 1, fired, "one notification per transaction")
	assert.Contains(t, keys, "a")
	assert.Contains(t, keys, "b")

	unobserve()
	require.NoError(t, d.Transact(func(tx *Tx) error {
		d.Map("data").Set(tx, "c", 3)
		return nil
	}))
	assert.Equal(t, 1, fired, "unobserved callback must not fire")
}

func TestDeepObserverSeesNestedChanges(t *testing.T) {
	d := NewDoc()
	var nested *Map
	require.NoError(t, d.Transact(func(tx *Tx) error {
		nested = NewMap(tx)
		d.Map("data").Set(tx, "nodes", nested)
		return nil
	}))

	var batches [][]Event
	unobserve := d.Map("data").ObserveDeep(func(events []Event) {
		batches = append(batches, events)
	})
	defer unobserve()

	require.NoError(t, d.Transact(func(tx *Tx) error {
		nested.Set(tx, "child_index", int64(1))
		return nil
	}))

	require.Len(t, batches, 1)
	require.Len(t, batches[0], 1)
	assert.Equal(t, nested.ID(), batches[0][0].Container.ID())
	assert.Contains(t, batches[0][0].Map.KeysChanged, "child_index")
}

func TestUpdateHookLocalAndRemote(t *testing.T) {
	a := NewDocWithReplica("aaaa")
	b := NewDocWithReplica("bbbb")

	var local, remote int
	unhook := b.OnUpdate(func(u Update, isRemote bool) {
		if isRemote {
			remote++
		} else {
			local++
		}
	})
	defer unhook()

	require.NoError(t, b.Transact(func(tx *Tx) error {
		b.Map("data").Set(tx, "x", 1)
		return nil
	}))
	require.NoError(t, a.Transact(func(tx *Tx) error {
		a.Map("data").Set(tx, "y", 2)
		return nil
	}))
	for _, u := range a.Diff(b.StateVector()) {
		require.NoError(t, b.ApplyUpdate(u))
	}

	assert.Equal(t, 1, local)
	assert.Equal(t, 1, remote)
}

func TestUpdateEncodingRoundTrip(t *testing.T) {
	a := NewDoc()
	require.NoError(t, a.Transact(func(tx *Tx) error {
		txt := NewText(tx)
		a.Map("data").Set(tx, "prompt", txt)
		txt.Insert(tx, 0, "hi")
		a.Map("data").Set(tx, "priority", int64(-100))
		return nil
	}))

	b := NewDoc()
	for _, u := range a.Diff(StateVector{}) {
		raw, err := u.Encode()
		require.NoError(t, err)
		decoded, err := DecodeUpdate(raw)
		require.NoError(t, err)
		require.NoError(t, b.ApplyUpdate(decoded))
	}

	snap := mapSnapshot(b, "data")
	assert.Equal(t, "hi", snap["prompt"])
	assert.Equal(t, int64(-100), snap["priority"], "integers must stay integral over the wire")
}

func TestAbortedTransactionRollsBack(t *testing.T) {
	d := NewDoc()
	require.NoError(t, d.Transact(func(tx *Tx) error {
		l := NewList(tx)
		d.Map("data").Set(tx, "order", l)
		l.Append(tx, "a")
		d.Map("data").Set(tx, "k", "v1")
		return nil
	}))

	var hooks int
	unhook := d.OnUpdate(func(u Update, remote bool) { hooks++ })
	defer unhook()

	boom := assert.AnError
	err := d.Transact(func(tx *Tx) error {
		d.Map("data").Set(tx, "k", "v2")
		d.Map("data").Set(tx, "extra", NewMap(tx))
		lv, _ := d.Map("data").Get(tx, "order")
		lv.(*List).Append(tx, "b")
		return boom
	})
	require.ErrorIs(t, err, boom)

	snap := mapSnapshot(d, "data")
	assert.Equal(t, "v1", snap["k"])
	assert.Equal(t, []any{"a"}, snap["order"])
	assert.NotContains(t, snap, "extra")
	assert.Zero(t, hooks, "aborted transactions must not broadcast")
}

func TestCommitAfterAbortStaysContiguous(t *testing.T) {
	a := NewDocWithReplica("aaaa")
	b := NewDocWithReplica("bbbb")
	require.NoError(t, a.Transact(func(tx *Tx) error {
		a.Map("data").Set(tx, "k", "v1")
		return nil
	}))
	exchange(t, a, b)

	require.Error(t, a.Transact(func(tx *Tx) error {
		a.Map("data").Set(tx, "k", "aborted")
		return assert.AnError
	}))
	require.NoError(t, a.Transact(func(tx *Tx) error {
		a.Map("data").Set(tx, "k", "v2")
		return nil
	}))

	// The abort must not leave a seq gap that strands the next commit in the
	// peer's out-of-order buffer.
	exchange(t, a, b)
	assert.Equal(t, "v2", mapSnapshot(b, "data")["k"])
	assert.Equal(t, a.StateVector(), b.StateVector())
}

func TestDestroyedDocRejectsTransactions(t *testing.T) {
	d := NewDoc()
	d.Destroy()
	err := d.Transact(func(tx *Tx) error { return nil })
	assert.Error(t, err)
	assert.Error(t, d.ApplyUpdate(Update{}))
}

func TestPositionOrdering(t *testing.T) {
	l := Position{{D: 10, R: "a"}}
	r := Position{{D: 20, R: "a"}}
	m := between(l, r, "z")
	assert.Negative(t, l.Compare(m))
	assert.Negative(t, m.Compare(r))

	// No digit room: generation must descend and still land strictly between.
	l2 := Position{{D: 10, R: "a"}}
	r2 := Position{{D: 11, R: "a"}}
	m2 := between(l2, r2, "z")
	assert.Negative(t, l2.Compare(m2))
	assert.Negative(t, m2.Compare(r2))

	// Head insert before a minimal digit.
	r3 := Position{{D: 1, R: "a"}}
	m3 := between(nil, r3, "z")
	assert.Negative(t, m3.Compare(r3))
}
