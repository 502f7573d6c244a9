package conversation

import (
	"errors"
	"strings"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/request"
	"github.com/weftlabs/weft/internal/shared/id"
)

// ErrNotEditing reports a SubmitEdit on a node without a prior BeginEdit.
var ErrNotEditing = errors.New("conversation: node not in edit mode")

var counterFields = []string{
	NodeFieldCompletionTokens,
	NodeFieldPromptTokens,
	NodeFieldTotalTokens,
	NodeFieldPromptN,
	NodeFieldPromptMs,
	NodeFieldPredictedN,
	NodeFieldPredictedMs,
}

// NodeView is a read-only projection of one node.
type NodeView struct {
	ID              id.NodeID
	Role            string
	Content         string
	Reasoning       string
	ToolCalls       any
	Parent          string
	Children        []string
	ChildIndex      *int64
	Editing         bool
	EditorContent   string
	EditorReasoning string
	EditorToolCalls any

	CompletionTokens int64
	PromptTokens     int64
	TotalTokens      int64
	PromptN          int64
	PromptMs         int64
	PredictedN       int64
	PredictedMs      int64
}

// Controller operates on a single conversation.
type Controller struct {
	store  *Store
	queue  *request.Queue
	root   *document.Root
	log    *logging.Logger
	convID id.ConversationID
}

// NewController binds a controller to one conversation id.
func NewController(store *Store, queue *request.Queue, root *document.Root, convID id.ConversationID, log *logging.Logger) *Controller {
	if log == nil {
		log = logging.Nop()
	}
	return &Controller{store: store, queue: queue, root: root, log: log, convID: convID}
}

// ConversationID returns the bound conversation id.
func (c *Controller) ConversationID() id.ConversationID { return c.convID }

// PromptText returns the shared prompt buffer.
func (c *Controller) PromptText(tx *crdt.Tx) (*crdt.Text, bool) {
	rec, ok := c.store.Record(tx, c.convID)
	if !ok {
		return nil, false
	}
	return textField(tx, rec, FieldPrompt)
}

// Label returns the conversation label written by the worker.
func (c *Controller) Label(tx *crdt.Tx) string {
	rec, ok := c.store.Record(tx, c.convID)
	if !ok {
		return ""
	}
	label, ok := textField(tx, rec, FieldLabel)
	if !ok {
		return ""
	}
	return label.String(tx)
}

// ActivePath walks child_index pointers from the root sentinel and returns
// the displayed node ids, root excluded. The walk stops at the first node
// with no children, an unset or out-of-range child_index, or a child id with
// no backing record.
func (c *Controller) ActivePath(tx *crdt.Tx) []id.NodeID {
	nodes, ok := c.store.nodes(tx, c.convID)
	if !ok {
		return nil
	}
	var path []id.NodeID
	seen := map[string]struct{}{}
	cur := id.RootNode
	for {
		if _, dup := seen[cur]; dup {
			break
		}
		seen[cur] = struct{}{}
		rec, ok := nodeRecord(tx, nodes, cur)
		if !ok {
			break
		}
		children, ok := listField(tx, rec, NodeFieldChildren)
		if !ok {
			break
		}
		idxVal, ok := rec.Get(tx, NodeFieldChildIndex)
		if !ok {
			break
		}
		idx, isNum := document.Int(idxVal)
		if !isNum || idx < 0 || int(idx) >= children.Len(tx) {
			break
		}
		nextVal, _ := children.Get(tx, int(idx))
		next := document.Str(nextVal)
		if next == "" || !nodes.Has(tx, next) {
			break
		}
		path = append(path, id.NodeID(next))
		cur = next
	}
	return path
}

// ActiveLeaf returns the last node of the active path, or the root sentinel
// when the tree has no descendants yet.
func (c *Controller) ActiveLeaf(tx *crdt.Tx) id.NodeID {
	path := c.ActivePath(tx)
	if len(path) == 0 {
		return id.NodeID(id.RootNode)
	}
	return path[len(path)-1]
}

// SubmitPrompt turns the prompt buffer into a new user node at the end of
// the active path and hands it to the worker, all in one transaction: node
// creation, leaf relinking, request enqueue and prompt clearing land
// together. A blank prompt is a no-op returning "".
//
// On the first turn (leaf is still the root sentinel) a background label
// request rides along.
func (c *Controller) SubmitPrompt() (id.NodeID, error) {
	var newID id.NodeID
	err := c.root.Doc().Transact(func(tx *crdt.Tx) error {
		prompt, ok := c.PromptText(tx)
		if !ok {
			return ErrNotFound
		}
		text := prompt.String(tx)
		if strings.TrimSpace(text) == "" {
			return nil
		}
		nodes, ok := c.store.nodes(tx, c.convID)
		if !ok {
			return ErrNotFound
		}
		leaf := string(c.ActiveLeaf(tx))
		leafRec, ok := nodeRecord(tx, nodes, leaf)
		if !ok {
			return ErrNotFound
		}
		children, ok := listField(tx, leafRec, NodeFieldChildren)
		if !ok {
			return ErrNotFound
		}
		scope, ok := c.store.Requests(tx, c.convID)
		if !ok {
			return ErrNotFound
		}

		nodeID := id.NewNodeID()
		createNode(tx, nodes, nodeID, nodeSpec{
			Role:    RoleUser,
			Parent:  leaf,
			Content: text,
		})
		children.Append(tx, nodeID.String())
		leafRec.Set(tx, NodeFieldChildIndex, int64(children.Len(tx)-1))

		if _, err := c.queue.Enqueue(tx, request.NewChat(c.convID, nodeID), scope); err != nil {
			return err
		}
		if leaf == id.RootNode {
			if _, err := c.queue.Enqueue(tx, request.NewLabel(c.convID, nodeID), scope); err != nil {
				return err
			}
		}
		prompt.SetString(tx, "")
		newID = nodeID
		return nil
	})
	if err == nil && newID != "" {
		c.log.Debug("prompt submitted",
			zap.String("conversation_id", c.convID.String()),
			zap.String("node_id", newID.String()))
	}
	return newID, err
}

// BeginEdit copies the node's current content into the editor scratch fields
// and marks it editing. No branch is created yet.
func (c *Controller) BeginEdit(nodeID id.NodeID) error {
	return c.root.Doc().Transact(func(tx *crdt.Tx) error {
		rec, ok := c.node(tx, nodeID)
		if !ok {
			return ErrNotFound
		}
		rec.Set(tx, NodeFieldEditorContent, nodeText(tx, rec, NodeFieldContent))
		rec.Set(tx, NodeFieldEditorReasoning, nodeText(tx, rec, NodeFieldReasoning))
		if tc, ok := rec.Get(tx, NodeFieldToolCalls); ok {
			rec.Set(tx, NodeFieldEditorToolCalls, tc)
		}
		rec.Set(tx, NodeFieldEditing, true)
		return nil
	})
}

// SubmitEdit materializes the edit as a new sibling twin under the same
// parent and makes it the parent's active child, leaving the original node
// untouched apart from clearing its edit state. A chat request for the twin
// rides in the same transaction.
func (c *Controller) SubmitEdit(nodeID id.NodeID) (id.NodeID, error) {
	var twinID id.NodeID
	err := c.root.Doc().Transact(func(tx *crdt.Tx) error {
		nodes, ok := c.store.nodes(tx, c.convID)
		if !ok {
			return ErrNotFound
		}
		rec, ok := nodeRecord(tx, nodes, nodeID.String())
		if !ok {
			return ErrNotFound
		}
		if v, ok := rec.Get(tx, NodeFieldEditing); !ok || !document.Bool(v) {
			return ErrNotEditing
		}
		parent := document.Str(rawField(tx, rec, NodeFieldParent))
		parentRec, ok := nodeRecord(tx, nodes, parent)
		if !ok {
			return ErrNotFound
		}
		siblings, ok := listField(tx, parentRec, NodeFieldChildren)
		if !ok {
			return ErrNotFound
		}
		scope, ok := c.store.Requests(tx, c.convID)
		if !ok {
			return ErrNotFound
		}

		var editorToolCalls any
		if tc, ok := rec.Get(tx, NodeFieldEditorToolCalls); ok {
			editorToolCalls = tc
		}
		twinID = id.NewNodeID()
		createNode(tx, nodes, twinID, nodeSpec{
			Role:      document.Str(rawField(tx, rec, NodeFieldRole)),
			Parent:    parent,
			Content:   document.Str(rawField(tx, rec, NodeFieldEditorContent)),
			Reasoning: document.Str(rawField(tx, rec, NodeFieldEditorReasoning)),
			ToolCalls: editorToolCalls,
		})
		siblings.Append(tx, twinID.String())
		parentRec.Set(tx, NodeFieldChildIndex, int64(siblings.Len(tx)-1))

		clearEditState(tx, rec)

		_, err := c.queue.Enqueue(tx, request.NewChat(c.convID, twinID), scope)
		return err
	})
	if err != nil {
		return "", err
	}
	return twinID, nil
}

// CancelEdit discards the scratch fields and clears the editing flag without
// creating a branch.
func (c *Controller) CancelEdit(nodeID id.NodeID) error {
	return c.root.Doc().Transact(func(tx *crdt.Tx) error {
		rec, ok := c.node(tx, nodeID)
		if !ok {
			return ErrNotFound
		}
		clearEditState(tx, rec)
		return nil
	})
}

// SelectSibling moves the parent's child_index by direction (+1 or -1),
// clamped to the valid range. Tree shape is untouched; only the active
// branch changes.
func (c *Controller) SelectSibling(nodeID id.NodeID, direction int) error {
	return c.root.Doc().Transact(func(tx *crdt.Tx) error {
		nodes, ok := c.store.nodes(tx, c.convID)
		if !ok {
			return ErrNotFound
		}
		rec, ok := nodeRecord(tx, nodes, nodeID.String())
		if !ok {
			return ErrNotFound
		}
		parent := document.Str(rawField(tx, rec, NodeFieldParent))
		parentRec, ok := nodeRecord(tx, nodes, parent)
		if !ok {
			return ErrNotFound
		}
		siblings, ok := listField(tx, parentRec, NodeFieldChildren)
		if !ok || siblings.Len(tx) == 0 {
			return nil
		}
		cur := int64(0)
		if v, ok := parentRec.Get(tx, NodeFieldChildIndex); ok {
			if n, isNum := document.Int(v); isNum {
				cur = n
			}
		}
		next := cur + int64(direction)
		if next < 0 {
			next = 0
		}
		if max := int64(siblings.Len(tx) - 1); next > max {
			next = max
		}
		parentRec.Set(tx, NodeFieldChildIndex, next)
		return nil
	})
}

// Pending returns this conversation's outstanding requests.
func (c *Controller) Pending(tx *crdt.Tx) []request.Request {
	scope, ok := c.store.Requests(tx, c.convID)
	if !ok {
		return nil
	}
	return c.queue.Pending(tx, scope, request.ByConversation(c.convID))
}

// CancelPending removes every outstanding request for this conversation.
func (c *Controller) CancelPending() error {
	return c.cancel(request.ByConversation(c.convID))
}

// CancelPendingLabels removes only outstanding label requests.
func (c *Controller) CancelPendingLabels() error {
	return c.cancel(request.ByKind(request.KindLabel))
}

// CancelPendingForNode removes outstanding requests targeting one node.
func (c *Controller) CancelPendingForNode(nodeID id.NodeID) error {
	return c.cancel(request.ByNode(nodeID))
}

func (c *Controller) cancel(filter request.Filter) error {
	return c.root.Doc().Transact(func(tx *crdt.Tx) error {
		scope, ok := c.store.Requests(tx, c.convID)
		if !ok {
			return nil
		}
		for _, r := range c.queue.Pending(tx, scope, filter) {
			if err := c.queue.Remove(tx, r.ID, scope); err != nil {
				return err
			}
		}
		return nil
	})
}

// Watch recomputes this conversation's pending view on any queue change.
func (c *Controller) Watch(fn func([]request.Request)) (crdt.Unobserve, error) {
	var scope *crdt.List
	c.root.Doc().View(func(tx *crdt.Tx) {
		scope, _ = c.store.Requests(tx, c.convID)
	})
	if scope == nil {
		return nil, ErrNotFound
	}
	return c.queue.Watch(scope, request.ByConversation(c.convID), fn)
}

// TokensPerSecond derives generation speed from the worker's counters. False
// until the worker has written a non-zero predicted_ms.
func (c *Controller) TokensPerSecond(tx *crdt.Tx, nodeID id.NodeID) (float64, bool) {
	rec, ok := c.node(tx, nodeID)
	if !ok {
		return 0, false
	}
	n, okN := document.Int(rawField(tx, rec, NodeFieldPredictedN))
	ms, okMs := document.Int(rawField(tx, rec, NodeFieldPredictedMs))
	if !okN || !okMs || ms <= 0 {
		return 0, false
	}
	return float64(n) / (float64(ms) / 1000.0), true
}

// Node projects one node for rendering.
func (c *Controller) Node(tx *crdt.Tx, nodeID id.NodeID) (NodeView, bool) {
	rec, ok := c.node(tx, nodeID)
	if !ok {
		return NodeView{}, false
	}
	view := NodeView{
		ID:              nodeID,
		Role:            document.Str(rawField(tx, rec, NodeFieldRole)),
		Content:         nodeText(tx, rec, NodeFieldContent),
		Reasoning:       nodeText(tx, rec, NodeFieldReasoning),
		Parent:          document.Str(rawField(tx, rec, NodeFieldParent)),
		Editing:         document.Bool(rawField(tx, rec, NodeFieldEditing)),
		EditorContent:   document.Str(rawField(tx, rec, NodeFieldEditorContent)),
		EditorReasoning: document.Str(rawField(tx, rec, NodeFieldEditorReasoning)),
	}
	view.ToolCalls = rawField(tx, rec, NodeFieldToolCalls)
	view.EditorToolCalls = rawField(tx, rec, NodeFieldEditorToolCalls)
	if children, ok := listField(tx, rec, NodeFieldChildren); ok {
		view.Children = children.Strings(tx)
	}
	if v, ok := rec.Get(tx, NodeFieldChildIndex); ok {
		if n, isNum := document.Int(v); isNum {
			view.ChildIndex = &n
		}
	}
	view.CompletionTokens, _ = document.Int(rawField(tx, rec, NodeFieldCompletionTokens))
	view.PromptTokens, _ = document.Int(rawField(tx, rec, NodeFieldPromptTokens))
	view.TotalTokens, _ = document.Int(rawField(tx, rec, NodeFieldTotalTokens))
	view.PromptN, _ = document.Int(rawField(tx, rec, NodeFieldPromptN))
	view.PromptMs, _ = document.Int(rawField(tx, rec, NodeFieldPromptMs))
	view.PredictedN, _ = document.Int(rawField(tx, rec, NodeFieldPredictedN))
	view.PredictedMs, _ = document.Int(rawField(tx, rec, NodeFieldPredictedMs))
	return view, true
}

// ContentText returns a node's collaborative content for streaming or
// binding to an editor surface.
func (c *Controller) ContentText(tx *crdt.Tx, nodeID id.NodeID) (*crdt.Text, bool) {
	rec, ok := c.node(tx, nodeID)
	if !ok {
		return nil, false
	}
	return textField(tx, rec, NodeFieldContent)
}

func (c *Controller) node(tx *crdt.Tx, nodeID id.NodeID) (*crdt.Map, bool) {
	nodes, ok := c.store.nodes(tx, c.convID)
	if !ok {
		return nil, false
	}
	return nodeRecord(tx, nodes, nodeID.String())
}

func nodeRecord(tx *crdt.Tx, nodes *crdt.Map, nodeID string) (*crdt.Map, bool) {
	v, ok := nodes.Get(tx, nodeID)
	if !ok {
		return nil, false
	}
	rec, ok := v.(*crdt.Map)
	return rec, ok
}

type nodeSpec struct {
	Role      string
	Parent    string
	Content   string
	Reasoning string
	ToolCalls any
}

// createNode writes the full node field set. New nodes always get a freshly
// generated id and attach under an existing parent, which is what rules out
// cycles in the tree.
func createNode(tx *crdt.Tx, nodes *crdt.Map, nodeID id.NodeID, spec nodeSpec) {
	rec := crdt.NewMap(tx)
	nodes.Set(tx, nodeID.String(), rec)
	rec.Set(tx, NodeFieldID, nodeID.String())
	rec.Set(tx, NodeFieldRole, spec.Role)

	content := crdt.NewText(tx)
	rec.Set(tx, NodeFieldContent, content)
	if spec.Content != "" {
		content.Insert(tx, 0, spec.Content)
	}
	reasoning := crdt.NewText(tx)
	rec.Set(tx, NodeFieldReasoning, reasoning)
	if spec.Reasoning != "" {
		reasoning.Insert(tx, 0, spec.Reasoning)
	}

	rec.Set(tx, NodeFieldToolCalls, spec.ToolCalls)
	rec.Set(tx, NodeFieldParent, spec.Parent)
	rec.Set(tx, NodeFieldChildren, crdt.NewList(tx))
	rec.Set(tx, NodeFieldChildIndex, nil)
	rec.Set(tx, NodeFieldEditing, false)
	rec.Set(tx, NodeFieldEditorContent, "")
	rec.Set(tx, NodeFieldEditorReasoning, "")
	rec.Set(tx, NodeFieldEditorToolCalls, nil)
	for _, field := range counterFields {
		rec.Set(tx, field, int64(0))
	}
}

func clearEditState(tx *crdt.Tx, rec *crdt.Map) {
	rec.Set(tx, NodeFieldEditing, false)
	rec.Set(tx, NodeFieldEditorContent, "")
	rec.Set(tx, NodeFieldEditorReasoning, "")
	rec.Set(tx, NodeFieldEditorToolCalls, nil)
}

// nodeText reads a text field's current string, tolerating both a text
// container and a null placeholder (the root node's content).
func nodeText(tx *crdt.Tx, rec *crdt.Map, key string) string {
	if txt, ok := textField(tx, rec, key); ok {
		return txt.String(tx)
	}
	return ""
}

func rawField(tx *crdt.Tx, rec *crdt.Map, key string) any {
	v, _ := rec.Get(tx, key)
	return v
}
