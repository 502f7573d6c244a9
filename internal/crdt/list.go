package crdt

import "sort"

// listItem is one sequence element. Tombstones stay in place as anchors for
// positions generated against them by other replicas.
type listItem struct {
	pos     Position
	id      ElemID
	val     any
	deleted bool
}

// sequence is the ordered-element machinery shared by List and Text.
type sequence struct {
	items []listItem
}

func (s *sequence) visibleLen() int {
	n := 0
	for i := range s.items {
		if !s.items[i].deleted {
			n++
		}
	}
	return n
}

// fullIndexOfVisible maps a visible index to the backing slice index.
func (s *sequence) fullIndexOfVisible(idx int) int {
	seen := 0
	for i := range s.items {
		if s.items[i].deleted {
			continue
		}
		if seen == idx {
			return i
		}
		seen++
	}
	return -1
}

// visibleIndexOfFull counts visible items strictly before the backing index.
func (s *sequence) visibleIndexOfFull(fi int) int {
	n := 0
	for i := 0; i < fi && i < len(s.items); i++ {
		if !s.items[i].deleted {
			n++
		}
	}
	return n
}

// bounds returns the positions flanking an insert at visible index idx.
func (s *sequence) bounds(idx int) (left, right Position) {
	fullRight := 0
	if idx > 0 {
		fl := s.fullIndexOfVisible(idx - 1)
		left = s.items[fl].pos
		fullRight = fl + 1
	}
	if fullRight < len(s.items) {
		right = s.items[fullRight].pos
	}
	return left, right
}

func less(a, b listItem) bool {
	if c := a.pos.Compare(b.pos); c != 0 {
		return c < 0
	}
	if a.id.Replica != b.id.Replica {
		return a.id.Replica < b.id.Replica
	}
	return a.id.Seq < b.id.Seq
}

// integrate places an item by position order. Returns the visible index it
// landed at, or -1 when the item was already present.
func (s *sequence) integrate(item listItem) int {
	i := sort.Search(len(s.items), func(i int) bool { return !less(s.items[i], item) })
	if i < len(s.items) && s.items[i].id == item.id {
		return -1 // duplicate delivery
	}
	s.items = append(s.items, listItem{})
	copy(s.items[i+1:], s.items[i:])
	s.items[i] = item
	return s.visibleIndexOfFull(i)
}

// tombstone marks the element inserted by id as deleted. Returns the visible
// index it occupied, or -1 when absent or already deleted.
func (s *sequence) tombstone(id ElemID) int {
	for i := range s.items {
		if s.items[i].id == id {
			if s.items[i].deleted {
				return -1
			}
			vis := s.visibleIndexOfFull(i)
			s.items[i].deleted = true
			return vis
		}
	}
	return -1
}

// List is a replicated ordered collection.
type List struct {
	base
	seq sequence
}

// Len returns the number of visible elements.
func (l *List) Len(tx *Tx) int { return l.seq.visibleLen() }

// Get returns the element at visible index idx.
func (l *List) Get(tx *Tx, idx int) (any, bool) {
	fi := l.seq.fullIndexOfVisible(idx)
	if fi < 0 {
		return nil, false
	}
	return l.seq.items[fi].val, true
}

// Slice returns all visible elements in order.
func (l *List) Slice(tx *Tx) []any {
	out := make([]any, 0, len(l.seq.items))
	for i := range l.seq.items {
		if !l.seq.items[i].deleted {
			out = append(out, l.seq.items[i].val)
		}
	}
	return out
}

// Strings returns visible elements that are strings, in order. Convenience
// for the id-list shape used throughout the document schema.
func (l *List) Strings(tx *Tx) []string {
	out := make([]string, 0, len(l.seq.items))
	for i := range l.seq.items {
		if it := &l.seq.items[i]; !it.deleted {
			if s, ok := it.val.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// InsertAt places val at visible index idx (clamped to [0, Len]).
func (l *List) InsertAt(tx *Tx, idx int, val any) {
	tx.assertWritable()
	n := l.seq.visibleLen()
	if idx < 0 {
		idx = 0
	}
	if idx > n {
		idx = n
	}
	left, right := l.seq.bounds(idx)
	op := tx.nextOp(l.id, OpInsert)
	op.Pos = between(left, right, op.Replica)
	op.Val = wireValue(val)
	l.apply(op, tx.ev)
	tx.push(op)
}

// Append places val after the current last element.
func (l *List) Append(tx *Tx, val any) {
	l.InsertAt(tx, l.seq.visibleLen(), val)
}

// DeleteAt removes the element at visible index idx. Out-of-range is a no-op.
func (l *List) DeleteAt(tx *Tx, idx int) {
	tx.assertWritable()
	fi := l.seq.fullIndexOfVisible(idx)
	if fi < 0 {
		return
	}
	id := l.seq.items[fi].id
	op := tx.nextOp(l.id, OpRemove)
	op.Elem = &id
	l.apply(op, tx.ev)
	tx.push(op)
}

// RemoveValue deletes the first visible element equal to val. Returns false
// when no element matched; callers treat that as already-removed.
func (l *List) RemoveValue(tx *Tx, val any) bool {
	idx := 0
	for i := range l.seq.items {
		if it := &l.seq.items[i]; !it.deleted {
			if it.val == val {
				l.DeleteAt(tx, idx)
				return true
			}
			idx++
		}
	}
	return false
}

// apply integrates one list op, local or remote. Callers hold the doc lock.
func (l *List) apply(op Op, sink *eventSink) {
	switch op.Kind {
	case OpInsert:
		item := listItem{
			pos: op.Pos,
			id:  ElemID{Replica: op.Replica, Seq: op.Seq},
			val: l.d.resolve(op.Val, l.id),
		}
		if vis := l.seq.integrate(item); vis >= 0 {
			sink.listEvent(l, vis, -1)
		}
	case OpRemove:
		if op.Elem == nil {
			return
		}
		if vis := l.seq.tombstone(*op.Elem); vis >= 0 {
			sink.listEvent(l, -1, vis)
		}
	}
}
