package crdt

import "sort"

// mapEntry is one LWW register. Deletes keep a tombstoned entry so a
// concurrent older write cannot resurrect the key.
type mapEntry struct {
	val     any
	lamport uint64
	replica string
	deleted bool
}

func (e mapEntry) losesTo(lamport uint64, replica string) bool {
	if e.lamport != lamport {
		return e.lamport < lamport
	}
	return e.replica < replica
}

// Map is a replicated mapping with last-writer-wins keys.
type Map struct {
	base
	entries map[string]mapEntry
}

// NewMap creates a nested map container inside the current transaction.
func NewMap(tx *Tx) *Map {
	tx.assertWritable()
	return newNested(tx, KindMap).(*Map)
}

// NewList creates a nested list container inside the current transaction.
func NewList(tx *Tx) *List {
	tx.assertWritable()
	return newNested(tx, KindList).(*List)
}

// NewText creates a nested text container inside the current transaction.
func NewText(tx *Tx) *Text {
	tx.assertWritable()
	return newNested(tx, KindText).(*Text)
}

func newNested(tx *Tx, kind ContainerKind) Container {
	op := tx.nextOp("", OpNew)
	op.Ctr = containerID(op.Replica, op.Seq)
	op.CtrKind = kind
	c := tx.d.registerContainer(op.Ctr, kind)
	tx.push(op)
	return c
}

func containerID(replica string, seq uint64) string {
	// Replica ids are uuids; the seq suffix makes the id unique per doc.
	return replica + "#" + formatSeq(seq)
}

func formatSeq(seq uint64) string {
	const digits = "0123456789abcdef"
	if seq == 0 {
		return "0"
	}
	var buf [16]byte
	i := len(buf)
	for seq > 0 {
		i--
		buf[i] = digits[seq&0xf]
		seq >>= 4
	}
	return string(buf[i:])
}

// Set writes key to val. val may be a scalar, a plain JSON value, or a
// container created in this transaction.
func (m *Map) Set(tx *Tx, key string, val any) {
	tx.assertWritable()
	op := tx.nextOp(m.id, OpSet)
	op.Key = key
	op.Val = wireValue(val)
	m.apply(op, tx.ev)
	tx.push(op)
}

// Delete removes key. Deleting an absent key is a no-op on read paths but
// still records a tombstone.
func (m *Map) Delete(tx *Tx, key string) {
	tx.assertWritable()
	op := tx.nextOp(m.id, OpSet)
	op.Key = key
	op.Deleted = true
	m.apply(op, tx.ev)
	tx.push(op)
}

// Get returns the value for key. Containers come back as *Map, *List or
// *Text. The second result is false for absent or deleted keys.
func (m *Map) Get(tx *Tx, key string) (any, bool) {
	e, ok := m.entries[key]
	if !ok || e.deleted {
		return nil, false
	}
	return e.val, true
}

// Has reports whether key is present.
func (m *Map) Has(tx *Tx, key string) bool {
	_, ok := m.Get(tx, key)
	return ok
}

// Keys returns present keys in sorted order.
func (m *Map) Keys(tx *Tx) []string {
	var keys []string
	for k, e := range m.entries {
		if !e.deleted {
			keys = append(keys, k)
		}
	}
	// Deterministic iteration for callers that render or diff.
	sort.Strings(keys)
	return keys
}

// Len returns the number of present keys.
func (m *Map) Len(tx *Tx) int {
	n := 0
	for _, e := range m.entries {
		if !e.deleted {
			n++
		}
	}
	return n
}

// apply integrates one map op, local or remote. Callers hold the doc lock.
func (m *Map) apply(op Op, sink *eventSink) {
	if op.Kind != OpSet {
		return
	}
	if existing, ok := m.entries[op.Key]; ok && !existing.losesTo(op.Lamport, op.Replica) {
		return
	}
	entry := mapEntry{lamport: op.Lamport, replica: op.Replica, deleted: op.Deleted}
	if !op.Deleted {
		entry.val = m.d.resolve(op.Val, m.id)
	}
	m.entries[op.Key] = entry
	sink.mapEvent(m, op.Key)
}
