package document

import (
	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/crdt"
)

// RootName is the single root mapping every replica shares.
const RootName = "data"

// Root mapping keys.
const (
	KeyID                 = "id"
	KeySessionID          = "session_id"
	KeyTabs               = "tabs"
	KeyTabsOrder          = "tabs_order"
	KeyWorkspacePath      = "workspace_path"
	KeyWorkspaceFiles     = "workspace_files"
	KeyWorkspaceLoadedAt  = "workspace_loaded_at"
	KeyRequests           = "requests"
	KeyRequestsOrder      = "requests_order"
	KeyNotebooks          = "notebooks"
	KeyConversations      = "conversations"
	KeyConversationsOrder = "conversations_order"
)

// Root is the typed view over a doc's root mapping.
type Root struct {
	doc *crdt.Doc
}

// New wraps a doc. The wrapper holds no state of its own; it stays valid for
// the doc's lifetime and must be discarded with it on reset.
func New(doc *crdt.Doc) *Root {
	return &Root{doc: doc}
}

// Doc returns the underlying replica.
func (r *Root) Doc() *crdt.Doc { return r.doc }

// Data returns the root mapping itself.
func (r *Root) Data() *crdt.Map { return r.doc.Map(RootName) }

// ID returns the document identity token, or "" when not yet initialized.
func (r *Root) ID(tx *crdt.Tx) string {
	return Str(get(r, tx, KeyID))
}

// SessionID returns the worker session id, or "".
func (r *Root) SessionID(tx *crdt.Tx) string {
	return Str(get(r, tx, KeySessionID))
}

// Requests returns the request record map if initialized.
func (r *Root) Requests(tx *crdt.Tx) (*crdt.Map, bool) {
	return mapAt(r, tx, KeyRequests)
}

// RequestsOrder returns the global request order list if initialized.
func (r *Root) RequestsOrder(tx *crdt.Tx) (*crdt.List, bool) {
	return listAt(r, tx, KeyRequestsOrder)
}

// Tabs returns the open-document handle map if initialized.
func (r *Root) Tabs(tx *crdt.Tx) (*crdt.Map, bool) {
	return mapAt(r, tx, KeyTabs)
}

// TabsOrder returns the raw shared tab order. The whole slice is one LWW
// register: writers replace it wholesale, mirroring its drag-and-drop usage.
func (r *Root) TabsOrder(tx *crdt.Tx) ([]string, bool) {
	v, ok := r.Data().Get(tx, KeyTabsOrder)
	if !ok {
		return nil, false
	}
	return StrSlice(v), true
}

// SetTabsOrder replaces the raw shared tab order.
func (r *Root) SetTabsOrder(tx *crdt.Tx, order []string) {
	vals := make([]any, len(order))
	for i, id := range order {
		vals[i] = id
	}
	r.Data().Set(tx, KeyTabsOrder, vals)
}

// WorkspacePath returns the scanned workspace root, or "".
func (r *Root) WorkspacePath(tx *crdt.Tx) string {
	return Str(get(r, tx, KeyWorkspacePath))
}

// WorkspaceFiles returns the workspace listing snapshot. Read-mostly: the
// scanner replaces the whole slice, nothing edits it in place.
func (r *Root) WorkspaceFiles(tx *crdt.Tx) ([]any, bool) {
	v, ok := r.Data().Get(tx, KeyWorkspaceFiles)
	if !ok {
		return nil, false
	}
	arr, ok := v.([]any)
	return arr, ok
}

// WorkspaceLoadedAt returns the unix-millisecond timestamp of the last scan.
func (r *Root) WorkspaceLoadedAt(tx *crdt.Tx) (int64, bool) {
	return Int(get(r, tx, KeyWorkspaceLoadedAt))
}

// SetWorkspaceListing replaces the listing snapshot in one shot.
func (r *Root) SetWorkspaceListing(tx *crdt.Tx, path string, files []any, loadedAt int64) {
	data := r.Data()
	data.Set(tx, KeyWorkspacePath, path)
	data.Set(tx, KeyWorkspaceFiles, files)
	data.Set(tx, KeyWorkspaceLoadedAt, loadedAt)
}

// Notebooks returns the notebook map if initialized.
func (r *Root) Notebooks(tx *crdt.Tx) (*crdt.Map, bool) {
	return mapAt(r, tx, KeyNotebooks)
}

// Conversations returns the conversation map if initialized.
func (r *Root) Conversations(tx *crdt.Tx) (*crdt.Map, bool) {
	return mapAt(r, tx, KeyConversations)
}

// ConversationsOrder returns the conversation order list if initialized.
func (r *Root) ConversationsOrder(tx *crdt.Tx) (*crdt.List, bool) {
	return listAt(r, tx, KeyConversationsOrder)
}

// Initialize bootstraps a fresh document: identity token, session id and the
// collection containers. Worker-side only; clients never create root keys.
func (r *Root) Initialize(tx *crdt.Tx, sessionID string) {
	data := r.Data()
	data.Set(tx, KeyID, uuid.New().String())
	data.Set(tx, KeySessionID, sessionID)
	data.Set(tx, KeyTabs, crdt.NewMap(tx))
	data.Set(tx, KeyRequests, crdt.NewMap(tx))
	data.Set(tx, KeyRequestsOrder, crdt.NewList(tx))
	data.Set(tx, KeyNotebooks, crdt.NewMap(tx))
	data.Set(tx, KeyConversations, crdt.NewMap(tx))
	data.Set(tx, KeyConversationsOrder, crdt.NewList(tx))
}

func get(r *Root, tx *crdt.Tx, key string) any {
	v, _ := r.Data().Get(tx, key)
	return v
}

func mapAt(r *Root, tx *crdt.Tx, key string) (*crdt.Map, bool) {
	v, ok := r.Data().Get(tx, key)
	if !ok {
		return nil, false
	}
	m, ok := v.(*crdt.Map)
	return m, ok
}

func listAt(r *Root, tx *crdt.Tx, key string) (*crdt.List, bool) {
	v, ok := r.Data().Get(tx, key)
	if !ok {
		return nil, false
	}
	l, ok := v.(*crdt.List)
	return l, ok
}

// Str coerces a document value to string; nil and non-strings become "".
func Str(v any) string {
	s, _ := v.(string)
	return s
}

// Int coerces a document value to int64. JSON decoding may surface numbers as
// int, int64 or float64 depending on the path a value traveled.
func Int(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	case uint64:
		return int64(n), true
	}
	return 0, false
}

// Bool coerces a document value to bool.
func Bool(v any) bool {
	b, _ := v.(bool)
	return b
}

// StrSlice coerces a plain-array document value to []string, skipping
// non-string members.
func StrSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
