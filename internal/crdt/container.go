package crdt

import "sort"

// Container is the common surface of Map, List and Text.
type Container interface {
	ID() string
	Kind() ContainerKind
	Doc() *Doc
}

// MapEvent reports which keys changed in one transaction.
type MapEvent struct {
	KeysChanged map[string]struct{}
}

// ListEvent reports element churn in one transaction. Indices are visible
// indices at the time each change was applied.
type ListEvent struct {
	Inserted []int
	Deleted  []int
}

// TextEvent reports that a text container changed.
type TextEvent struct{}

// Event is one container's change notification. Exactly one of Map, List or
// Text is non-nil, matching the container's kind.
type Event struct {
	Container Container
	Map       *MapEvent
	List      *ListEvent
	Text      *TextEvent
}

// Unobserve detaches a previously registered observer.
type Unobserve func()

type base struct {
	d      *Doc
	id     string
	kind   ContainerKind
	parent string

	observers map[int]func(Event)
	deep      map[int]func([]Event)
	nextObs   int
}

func (b *base) ID() string          { return b.id }
func (b *base) Kind() ContainerKind { return b.kind }
func (b *base) Doc() *Doc           { return b.d }

// Observe registers a change callback fired once per transaction that touched
// this container. Safe to call from within another observer.
func (b *base) Observe(fn func(Event)) Unobserve {
	b.d.obsMu.Lock()
	defer b.d.obsMu.Unlock()
	if b.observers == nil {
		b.observers = make(map[int]func(Event))
	}
	n := b.nextObs
	b.nextObs++
	b.observers[n] = fn
	return func() {
		b.d.obsMu.Lock()
		defer b.d.obsMu.Unlock()
		delete(b.observers, n)
	}
}

// ObserveDeep registers a callback fired once per transaction with every
// event that occurred in this container or any container nested under it.
func (b *base) ObserveDeep(fn func([]Event)) Unobserve {
	b.d.obsMu.Lock()
	defer b.d.obsMu.Unlock()
	if b.deep == nil {
		b.deep = make(map[int]func([]Event))
	}
	n := b.nextObs
	b.nextObs++
	b.deep[n] = fn
	return func() {
		b.d.obsMu.Lock()
		defer b.d.obsMu.Unlock()
		delete(b.deep, n)
	}
}

// sortedKeys returns map keys in deterministic order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
