package crdt

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// rootPrefix namespaces the well-known top-level containers. Every replica
// derives the same id for a root container, so no creation op is needed.
const rootPrefix = "root:"

// UpdateHook receives every committed update. remote is true when the update
// originated on another replica and was merged via ApplyUpdate.
type UpdateHook func(u Update, remote bool)

// Doc is one replica of the shared document.
type Doc struct {
	mu    sync.RWMutex // guards container state, clock, log
	regMu sync.Mutex   // guards the container registry
	obsMu sync.Mutex   // guards observer registration
	hkMu  sync.Mutex   // guards update hooks

	replica string
	clock   uint64
	seq     uint64

	containers map[string]Container
	applied    StateVector
	log        map[string][]Op

	pendingSeq map[string][]Op // out-of-order ops per replica, sorted by seq
	pendingCtr map[string][]Op // ops waiting for their container to exist

	hooks    map[int]UpdateHook
	nextHook int

	destroyed bool
}

// NewDoc creates an empty replica with a fresh replica id.
func NewDoc() *Doc {
	return NewDocWithReplica(uuid.New().String())
}

// NewDocWithReplica creates a replica with a caller-chosen id. Replica ids
// must be unique across all live replicas of a scope.
func NewDocWithReplica(replica string) *Doc {
	return &Doc{
		replica:    replica,
		containers: make(map[string]Container),
		applied:    StateVector{},
		log:        make(map[string][]Op),
		pendingSeq: make(map[string][]Op),
		pendingCtr: make(map[string][]Op),
		hooks:      make(map[int]UpdateHook),
	}
}

// Replica returns this replica's id.
func (d *Doc) Replica() string { return d.replica }

// Destroy marks the doc unusable. Present so a torn-down session cannot keep
// mutating a stale handle by accident; transactions after Destroy fail.
func (d *Doc) Destroy() {
	d.mu.Lock()
	d.destroyed = true
	d.mu.Unlock()
}

// Map returns the named root map container, creating the local handle on
// first use. Root containers exist implicitly on every replica.
func (d *Doc) Map(name string) *Map {
	c := d.rootContainer(rootPrefix+name, KindMap)
	return c.(*Map)
}

// List returns the named root list container.
func (d *Doc) List(name string) *List {
	c := d.rootContainer(rootPrefix+name, KindList)
	return c.(*List)
}

func (d *Doc) rootContainer(id string, kind ContainerKind) Container {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	if c, ok := d.containers[id]; ok {
		return c
	}
	c := d.newContainer(id, kind)
	d.containers[id] = c
	return c
}

// newContainer builds a container handle. Callers hold regMu.
func (d *Doc) newContainer(id string, kind ContainerKind) Container {
	b := base{d: d, id: id, kind: kind}
	switch kind {
	case KindMap:
		return &Map{base: b, entries: make(map[string]mapEntry)}
	case KindList:
		return &List{base: b}
	case KindText:
		return &Text{base: b}
	default:
		return &Map{base: b, entries: make(map[string]mapEntry)}
	}
}

// container resolves an id, lazily materializing root containers referenced
// by remote ops before any local access.
func (d *Doc) container(id string, kind ContainerKind) (Container, bool) {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	if c, ok := d.containers[id]; ok {
		return c, true
	}
	if strings.HasPrefix(id, rootPrefix) {
		c := d.newContainer(id, kind)
		d.containers[id] = c
		return c, true
	}
	return nil, false
}

func (d *Doc) registerContainer(id string, kind ContainerKind) Container {
	d.regMu.Lock()
	defer d.regMu.Unlock()
	if c, ok := d.containers[id]; ok {
		return c
	}
	c := d.newContainer(id, kind)
	d.containers[id] = c
	return c
}

// OnUpdate registers a hook invoked after every committed transaction, local
// or remote. Hooks run outside the doc lock.
func (d *Doc) OnUpdate(fn UpdateHook) Unobserve {
	d.hkMu.Lock()
	defer d.hkMu.Unlock()
	n := d.nextHook
	d.nextHook++
	d.hooks[n] = fn
	return func() {
		d.hkMu.Lock()
		defer d.hkMu.Unlock()
		delete(d.hooks, n)
	}
}

// Tx is a transaction handle. All container access flows through one.
type Tx struct {
	d   *Doc
	ro  bool
	ops []Op
	ev  *eventSink
}

func (tx *Tx) assertWritable() {
	if tx.ro {
		panic("crdt: mutation inside a read-only transaction")
	}
}

// Transact applies fn's mutations as one atomic batch: observers fire once at
// commit and the ops travel as a single update. An error from fn aborts the
// transaction; its mutations are rolled back, nothing is logged or broadcast,
// and containers created inside the aborted transaction are dead.
func (d *Doc) Transact(fn func(tx *Tx) error) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return fmt.Errorf("crdt: transact on destroyed doc")
	}
	tx := &Tx{d: d, ev: newEventSink()}
	err := fn(tx)
	if err != nil {
		d.rollback(tx.ops)
		d.mu.Unlock()
		return err
	}
	ops := tx.ops
	if len(ops) > 0 {
		d.log[d.replica] = append(d.log[d.replica], ops...)
		d.applied[d.replica] = ops[len(ops)-1].Seq
	}
	events := tx.ev.collect()
	d.mu.Unlock()

	d.dispatch(events)
	if len(ops) > 0 {
		d.fireHooks(Update{Replica: d.replica, Ops: ops}, false)
	}
	return err
}

// rollback discards an aborted transaction's effects: containers it created
// are unregistered and every container it touched is rebuilt from the
// committed log. The clock and seq rewind is safe because d.mu was held for
// the whole transaction. Callers hold d.mu.
func (d *Doc) rollback(aborted []Op) {
	if len(aborted) == 0 {
		return
	}
	d.seq -= uint64(len(aborted))
	d.clock -= uint64(len(aborted))

	created := make(map[string]struct{})
	touched := make(map[string]struct{})
	for _, op := range aborted {
		if op.Kind == OpNew {
			created[op.Ctr] = struct{}{}
			continue
		}
		touched[op.Ctr] = struct{}{}
	}
	d.regMu.Lock()
	for id := range created {
		delete(d.containers, id)
	}
	d.regMu.Unlock()

	// Replayed events go nowhere: the rebuilt state equals what observers
	// already saw at the previous commit.
	sink := newEventSink()
	for _, id := range sortedKeys(touched) {
		if _, ok := created[id]; ok {
			continue
		}
		d.regMu.Lock()
		c, ok := d.containers[id]
		d.regMu.Unlock()
		if !ok {
			continue
		}
		clearState(c)
		for _, replica := range sortedKeys(d.log) {
			for _, op := range d.log[replica] {
				if op.Ctr != id {
					continue
				}
				switch target := c.(type) {
				case *Map:
					target.apply(op, sink)
				case *List:
					target.apply(op, sink)
				case *Text:
					target.apply(op, sink)
				}
			}
		}
	}
}

// clearState empties a container in place so handles held by callers stay
// valid across a rollback rebuild.
func clearState(c Container) {
	switch t := c.(type) {
	case *Map:
		t.entries = make(map[string]mapEntry)
	case *List:
		t.seq.items = nil
	case *Text:
		t.seq.items = nil
	}
}

// View runs fn with read access and no mutation rights.
func (d *Doc) View(fn func(tx *Tx)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(&Tx{d: d, ro: true})
}

// nextOp allocates identifiers for one local op.
func (tx *Tx) nextOp(ctr string, kind OpKind) Op {
	d := tx.d
	d.seq++
	d.clock++
	return Op{
		Replica: d.replica,
		Seq:     d.seq,
		Lamport: d.clock,
		Ctr:     ctr,
		Kind:    kind,
	}
}

func (tx *Tx) push(op Op) {
	tx.ops = append(tx.ops, op)
}

// StateVector reports the contiguous op ranges this doc has integrated.
func (d *Doc) StateVector() StateVector {
	d.mu.RLock()
	defer d.mu.RUnlock()
	sv := make(StateVector, len(d.applied))
	for r, s := range d.applied {
		sv[r] = s
	}
	return sv
}

// Diff returns the updates a peer with state vector sv is missing, one update
// per replica, in seq order.
func (d *Doc) Diff(sv StateVector) []Update {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Update
	for _, replica := range sortedKeys(d.log) {
		ops := d.log[replica]
		from := sv[replica] // ops are 1-indexed by seq, log slice 0-indexed
		if uint64(len(ops)) <= from {
			continue
		}
		missing := make([]Op, len(ops)-int(from))
		copy(missing, ops[from:])
		out = append(out, Update{Replica: replica, Ops: missing})
	}
	return out
}

// ApplyUpdate merges a remote update. Application is idempotent; ops arriving
// out of order are buffered until contiguous with the replica's stream.
func (d *Doc) ApplyUpdate(u Update) error {
	d.mu.Lock()
	if d.destroyed {
		d.mu.Unlock()
		return fmt.Errorf("crdt: apply on destroyed doc")
	}
	sink := newEventSink()
	var integrated []Op
	for _, op := range u.Ops {
		integrated = append(integrated, d.receive(op, sink)...)
	}
	events := sink.collect()
	d.mu.Unlock()

	d.dispatch(events)
	if len(integrated) > 0 {
		d.fireHooks(Update{Replica: u.Replica, Ops: integrated}, true)
	}
	return nil
}

// receive files one remote op, returning every op that became contiguous (the
// op itself plus any buffered successors).
func (d *Doc) receive(op Op, sink *eventSink) []Op {
	have := d.applied[op.Replica]
	switch {
	case op.Seq <= have:
		return nil // duplicate
	case op.Seq > have+1:
		d.bufferSeq(op)
		return nil
	}

	var out []Op
	d.integrate(op, sink)
	out = append(out, op)

	// Drain any buffered successors that are now contiguous.
	pend := d.pendingSeq[op.Replica]
	for len(pend) > 0 && pend[0].Seq == d.applied[op.Replica]+1 {
		next := pend[0]
		pend = pend[1:]
		d.integrate(next, sink)
		out = append(out, next)
	}
	if len(pend) == 0 {
		delete(d.pendingSeq, op.Replica)
	} else {
		d.pendingSeq[op.Replica] = pend
	}
	return out
}

func (d *Doc) bufferSeq(op Op) {
	pend := d.pendingSeq[op.Replica]
	i := sort.Search(len(pend), func(i int) bool { return pend[i].Seq >= op.Seq })
	if i < len(pend) && pend[i].Seq == op.Seq {
		return
	}
	pend = append(pend, Op{})
	copy(pend[i+1:], pend[i:])
	pend[i] = op
	d.pendingSeq[op.Replica] = pend
}

// integrate applies a contiguous remote op to container state. Callers hold
// d.mu.
func (d *Doc) integrate(op Op, sink *eventSink) {
	d.applied[op.Replica] = op.Seq
	d.log[op.Replica] = append(d.log[op.Replica], op)
	if op.Lamport > d.clock {
		d.clock = op.Lamport
	}
	d.materialize(op, sink)
}

// materialize mutates container state for one op. Ops addressing a container
// this replica has not seen yet are parked until its creation op arrives.
func (d *Doc) materialize(op Op, sink *eventSink) {
	if op.Kind == OpNew {
		d.registerContainer(op.Ctr, op.CtrKind)
		// Flush ops that raced ahead of the creation.
		parked := d.pendingCtr[op.Ctr]
		delete(d.pendingCtr, op.Ctr)
		for _, p := range parked {
			d.materialize(p, sink)
		}
		return
	}

	// Roots referenced by remote ops before local access: infer the kind
	// from the op shape (the schema only uses map and list roots).
	kind := KindMap
	if op.Kind == OpInsert || op.Kind == OpRemove {
		kind = KindList
	}
	c, ok := d.container(op.Ctr, kind)
	if !ok {
		d.pendingCtr[op.Ctr] = append(d.pendingCtr[op.Ctr], op)
		return
	}

	switch target := c.(type) {
	case *Map:
		target.apply(op, sink)
	case *List:
		target.apply(op, sink)
	case *Text:
		target.apply(op, sink)
	}
}

// resolve turns a wire value into its in-memory form, registering referenced
// containers as needed.
func (d *Doc) resolve(v *WireValue, parent string) any {
	if v == nil {
		return nil
	}
	if v.Ctr != "" {
		c := d.registerContainer(v.Ctr, v.CtrKind)
		setParent(c, parent)
		return c
	}
	return v.Value
}

func setParent(c Container, parent string) {
	switch t := c.(type) {
	case *Map:
		t.parent = parent
	case *List:
		t.parent = parent
	case *Text:
		t.parent = parent
	}
}

// wireValue converts a user-supplied value into wire form. Containers become
// references; everything else travels as plain JSON.
func wireValue(v any) *WireValue {
	switch t := v.(type) {
	case nil:
		return &WireValue{}
	case Container:
		return &WireValue{Ctr: t.ID(), CtrKind: t.Kind()}
	default:
		return &WireValue{Value: v, IsValue: true}
	}
}

// eventSink batches per-container events for one transaction.
type eventSink struct {
	events map[string]*Event
	order  []string
}

func newEventSink() *eventSink {
	return &eventSink{events: make(map[string]*Event)}
}

func (s *eventSink) mapEvent(c *Map, key string) {
	ev, ok := s.events[c.id]
	if !ok {
		ev = &Event{Container: c, Map: &MapEvent{KeysChanged: make(map[string]struct{})}}
		s.events[c.id] = ev
		s.order = append(s.order, c.id)
	}
	ev.Map.KeysChanged[key] = struct{}{}
}

func (s *eventSink) listEvent(c *List, inserted, deleted int) {
	ev, ok := s.events[c.id]
	if !ok {
		ev = &Event{Container: c, List: &ListEvent{}}
		s.events[c.id] = ev
		s.order = append(s.order, c.id)
	}
	if inserted >= 0 {
		ev.List.Inserted = append(ev.List.Inserted, inserted)
	}
	if deleted >= 0 {
		ev.List.Deleted = append(ev.List.Deleted, deleted)
	}
}

func (s *eventSink) textEvent(c *Text) {
	if _, ok := s.events[c.id]; ok {
		return
	}
	ev := &Event{Container: c, Text: &TextEvent{}}
	s.events[c.id] = ev
	s.order = append(s.order, c.id)
}

func (s *eventSink) collect() []Event {
	out := make([]Event, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.events[id])
	}
	return out
}

// dispatch fires plain and deep observers for a committed batch. Runs outside
// the doc lock so observers may read the doc.
func (d *Doc) dispatch(events []Event) {
	if len(events) == 0 {
		return
	}

	type deepBatch struct {
		fns    []func([]Event)
		events []Event
	}

	d.obsMu.Lock()
	type firing struct {
		fn func(Event)
		ev Event
	}
	var plain []firing
	deep := make(map[string]*deepBatch)
	for _, ev := range events {
		b := containerBase(ev.Container)
		for _, fn := range b.observers {
			plain = append(plain, firing{fn: fn, ev: ev})
		}
		// Walk ancestors collecting deep observers.
		for cur := b; cur != nil; {
			if len(cur.deep) > 0 {
				batch, ok := deep[cur.id]
				if !ok {
					batch = &deepBatch{}
					for _, fn := range cur.deep {
						batch.fns = append(batch.fns, fn)
					}
					deep[cur.id] = batch
				}
				batch.events = append(batch.events, ev)
			}
			cur = d.parentBase(cur)
		}
	}
	d.obsMu.Unlock()

	for _, f := range plain {
		f.fn(f.ev)
	}
	for _, id := range sortedKeys(deep) {
		batch := deep[id]
		for _, fn := range batch.fns {
			fn(batch.events)
		}
	}
}

func (d *Doc) parentBase(b *base) *base {
	if b.parent == "" {
		return nil
	}
	d.regMu.Lock()
	c, ok := d.containers[b.parent]
	d.regMu.Unlock()
	if !ok {
		return nil
	}
	return containerBase(c)
}

func containerBase(c Container) *base {
	switch t := c.(type) {
	case *Map:
		return &t.base
	case *List:
		return &t.base
	case *Text:
		return &t.base
	}
	return nil
}

func (d *Doc) fireHooks(u Update, remote bool) {
	d.hkMu.Lock()
	fns := make([]UpdateHook, 0, len(d.hooks))
	for _, fn := range d.hooks {
		fns = append(fns, fn)
	}
	d.hkMu.Unlock()
	for _, fn := range fns {
		fn(u, remote)
	}
}
