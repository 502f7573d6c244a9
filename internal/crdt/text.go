package crdt

import "strings"

// Text is collaborative text with character-wise merge. Each rune is a
// sequence element, so concurrent edits interleave without corruption.
type Text struct {
	base
	seq sequence
}

// Len returns the visible length in runes.
func (t *Text) Len(tx *Tx) int { return t.seq.visibleLen() }

// String returns the visible text.
func (t *Text) String(tx *Tx) string {
	var b strings.Builder
	for i := range t.seq.items {
		if it := &t.seq.items[i]; !it.deleted {
			if s, ok := it.val.(string); ok {
				b.WriteString(s)
			}
		}
	}
	return b.String()
}

// Insert places s at rune index idx (clamped to [0, Len]).
func (t *Text) Insert(tx *Tx, idx int, s string) {
	tx.assertWritable()
	n := t.seq.visibleLen()
	if idx < 0 {
		idx = 0
	}
	if idx > n {
		idx = n
	}
	for _, r := range s {
		left, right := t.seq.bounds(idx)
		op := tx.nextOp(t.id, OpInsert)
		op.Pos = between(left, right, op.Replica)
		op.Val = wireValue(string(r))
		t.apply(op, tx.ev)
		tx.push(op)
		idx++
	}
}

// Delete removes n runes starting at visible index idx.
func (t *Text) Delete(tx *Tx, idx, n int) {
	tx.assertWritable()
	for ; n > 0; n-- {
		fi := t.seq.fullIndexOfVisible(idx)
		if fi < 0 {
			return
		}
		id := t.seq.items[fi].id
		op := tx.nextOp(t.id, OpRemove)
		op.Elem = &id
		t.apply(op, tx.ev)
		tx.push(op)
	}
}

// SetString replaces the whole content: delete everything, insert s.
func (t *Text) SetString(tx *Tx, s string) {
	t.Delete(tx, 0, t.seq.visibleLen())
	t.Insert(tx, 0, s)
}

// apply integrates one text op, local or remote. Callers hold the doc lock.
func (t *Text) apply(op Op, sink *eventSink) {
	switch op.Kind {
	case OpInsert:
		item := listItem{
			pos: op.Pos,
			id:  ElemID{Replica: op.Replica, Seq: op.Seq},
			val: t.d.resolve(op.Val, t.id),
		}
		if t.seq.integrate(item) >= 0 {
			sink.textEvent(t)
		}
	case OpRemove:
		if op.Elem == nil {
			return
		}
		if t.seq.tombstone(*op.Elem) >= 0 {
			sink.textEvent(t)
		}
	}
}
