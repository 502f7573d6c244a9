package request

import (
	"sort"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/shared/id"
)

// Filter narrows a derived view to the records a scope cares about.
type Filter func(Request) bool

// ByKind keeps records of any of the given kinds.
func ByKind(kinds ...Kind) Filter {
	return func(r Request) bool {
		for _, k := range kinds {
			if r.Kind == k {
				return true
			}
		}
		return false
	}
}

// ByNotebook keeps records targeting the given notebook.
func ByNotebook(notebookID string) Filter {
	return func(r Request) bool { return r.NotebookID == notebookID }
}

// ByConversation keeps records targeting the given conversation.
func ByConversation(conversationID id.ConversationID) Filter {
	return func(r Request) bool { return r.ConversationID == conversationID }
}

// ByNode keeps records targeting the given conversation node.
func ByNode(nodeID id.NodeID) Filter {
	return func(r Request) bool { return r.NodeID == nodeID }
}

// Queue mediates producer and consumer access to the document's request
// containers. It holds no queue state itself; the document is the queue.
type Queue struct {
	root *document.Root
	log  *logging.Logger
}

// NewQueue binds a queue to a document.
func NewQueue(root *document.Root, log *logging.Logger) *Queue {
	if log == nil {
		log = logging.Nop()
	}
	return &Queue{root: root, log: log}
}

func (q *Queue) containers(tx *crdt.Tx) (*crdt.Map, *crdt.List, error) {
	reqs, ok := q.root.Requests(tx)
	if !ok {
		return nil, nil, ErrNotReady
	}
	order, ok := q.root.RequestsOrder(tx)
	if !ok {
		return nil, nil, ErrNotReady
	}
	return reqs, order, nil
}

// Enqueue writes the record into the requests map and appends its id to the
// global order list and to every scope list, all against the caller's
// transaction. Producers pass the same transaction they use for related
// document writes so the whole mutation lands atomically.
//
// A zero req.ID gets a fresh id; the assigned id is returned either way.
func (q *Queue) Enqueue(tx *crdt.Tx, req Request, scopes ...*crdt.List) (id.RequestID, error) {
	if req.ID == "" {
		req.ID = id.NewRequestID()
	}
	rec, err := req.Record()
	if err != nil {
		return "", err
	}
	reqs, order, err := q.containers(tx)
	if err != nil {
		return "", err
	}
	reqs.Set(tx, req.ID.String(), rec)
	order.Append(tx, req.ID.String())
	for _, scope := range scopes {
		scope.Append(tx, req.ID.String())
	}
	q.log.Debug("request enqueued",
		zap.String("request_id", req.ID.String()),
		zap.String("kind", string(req.Kind)),
		zap.Int64("priority", req.Priority))
	return req.ID, nil
}

// Remove deletes the record and prunes the id from the global order list and
// every given scope list. The same path serves worker completion and client
// cancellation. Idempotent: removing an absent id is a no-op.
func (q *Queue) Remove(tx *crdt.Tx, rid id.RequestID, scopes ...*crdt.List) error {
	reqs, order, err := q.containers(tx)
	if err != nil {
		return err
	}
	reqs.Delete(tx, rid.String())
	for order.RemoveValue(tx, rid.String()) {
	}
	for _, scope := range scopes {
		for scope.RemoveValue(tx, rid.String()) {
		}
	}
	return nil
}

// Get looks up a single record by id.
func (q *Queue) Get(tx *crdt.Tx, rid id.RequestID) (Request, bool) {
	reqs, ok := q.root.Requests(tx)
	if !ok {
		return Request{}, false
	}
	return q.lookup(tx, reqs, rid.String())
}

// Pending filters a scope's order list down to ids still present in the
// requests map that pass the filter. A nil scope reads the global order list;
// a nil filter keeps everything. Ids in the list with no backing record are
// complete or cancelled and are skipped, never surfaced as errors.
func (q *Queue) Pending(tx *crdt.Tx, scope *crdt.List, filter Filter) []Request {
	reqs, order, err := q.containers(tx)
	if err != nil {
		return nil
	}
	if scope != nil {
		order = scope
	}
	var out []Request
	for _, rid := range order.Strings(tx) {
		r, ok := q.lookup(tx, reqs, rid)
		if !ok {
			continue
		}
		if filter != nil && !filter(r) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// Drain returns the global pending set in consumption order: list position,
// stably reordered so lower priorities come first. Workers take requests from
// the front and Remove each one on completion.
func (q *Queue) Drain(tx *crdt.Tx, filter Filter) []Request {
	out := q.Pending(tx, nil, filter)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// Watch recomputes the pending view whenever the requests map or the watched
// order list changes. Either side can mutate first under concurrent edits, so
// both are observed. The callback receives the full recomputed slice.
func (q *Queue) Watch(scope *crdt.List, filter Filter, fn func([]Request)) (crdt.Unobserve, error) {
	var (
		reqs  *crdt.Map
		order *crdt.List
	)
	q.root.Doc().View(func(tx *crdt.Tx) {
		reqs, order, _ = q.containers(tx)
	})
	if reqs == nil || order == nil {
		return nil, ErrNotReady
	}
	if scope != nil {
		order = scope
	}
	recompute := func() {
		var out []Request
		q.root.Doc().View(func(tx *crdt.Tx) {
			out = q.Pending(tx, scope, filter)
		})
		fn(out)
	}
	unMap := reqs.Observe(func(crdt.Event) { recompute() })
	unList := order.Observe(func(crdt.Event) { recompute() })
	return func() {
		unMap()
		unList()
	}, nil
}

func (q *Queue) lookup(tx *crdt.Tx, reqs *crdt.Map, rid string) (Request, bool) {
	v, ok := reqs.Get(tx, rid)
	if !ok {
		return Request{}, false
	}
	rec, ok := v.(map[string]any)
	if !ok {
		return Request{}, false
	}
	r, err := FromMap(rec)
	if err != nil {
		// A record written by a newer producer. Invisible here, still
		// consumable by a worker that understands it.
		q.log.Warn("skipping unparseable request record",
			zap.String("request_id", rid), zap.Error(err))
		return Request{}, false
	}
	return r, true
}
