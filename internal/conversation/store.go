package conversation

import (
	"errors"

	"github.com/weftlabs/weft/internal/crdt"
	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/logging"
	"github.com/weftlabs/weft/internal/shared/id"
)

// Conversation record field names.
const (
	FieldID       = "id"
	FieldNodes    = "nodes"
	FieldPrompt   = "prompt"
	FieldLabel    = "label"
	FieldRequests = "requests"
)

// Node record field names.
const (
	NodeFieldID               = "id"
	NodeFieldRole             = "role"
	NodeFieldContent          = "content"
	NodeFieldReasoning        = "reasoning_content"
	NodeFieldToolCalls        = "tool_calls"
	NodeFieldParent           = "parent"
	NodeFieldChildren         = "children"
	NodeFieldChildIndex       = "child_index"
	NodeFieldEditing          = "editing"
	NodeFieldEditorContent    = "editor_content"
	NodeFieldEditorReasoning  = "editor_reasoning_content"
	NodeFieldEditorToolCalls  = "editor_tool_calls"
	NodeFieldCompletionTokens = "completion_tokens"
	NodeFieldPromptTokens     = "prompt_tokens"
	NodeFieldTotalTokens      = "total_tokens"
	NodeFieldPromptN          = "prompt_n"
	NodeFieldPromptMs         = "prompt_ms"
	NodeFieldPredictedN       = "predicted_n"
	NodeFieldPredictedMs      = "predicted_ms"
)

// Node roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ErrNotFound reports a conversation or node id with no backing record.
var ErrNotFound = errors.New("conversation: not found")

// Store accesses the root "conversations" map and its order list.
type Store struct {
	root *document.Root
	log  *logging.Logger
}

// NewStore binds a store to a document.
func NewStore(root *document.Root, log *logging.Logger) *Store {
	if log == nil {
		log = logging.Nop()
	}
	return &Store{root: root, log: log}
}

func (s *Store) containers(tx *crdt.Tx) (*crdt.Map, *crdt.List, bool) {
	convs, ok := s.root.Conversations(tx)
	if !ok {
		return nil, nil, false
	}
	order, ok := s.root.ConversationsOrder(tx)
	if !ok {
		return nil, nil, false
	}
	return convs, order, true
}

// Create registers a new conversation holding only the root sentinel node
// and empty prompt and label text.
func (s *Store) Create(tx *crdt.Tx) (id.ConversationID, error) {
	convs, order, ok := s.containers(tx)
	if !ok {
		return "", ErrNotFound
	}
	convID := id.NewConversationID()

	rec := crdt.NewMap(tx)
	convs.Set(tx, convID.String(), rec)
	rec.Set(tx, FieldID, convID.String())
	rec.Set(tx, FieldPrompt, crdt.NewText(tx))
	rec.Set(tx, FieldLabel, crdt.NewText(tx))
	rec.Set(tx, FieldRequests, crdt.NewList(tx))

	nodes := crdt.NewMap(tx)
	rec.Set(tx, FieldNodes, nodes)

	root := crdt.NewMap(tx)
	nodes.Set(tx, id.RootNode, root)
	root.Set(tx, NodeFieldID, id.RootNode)
	root.Set(tx, NodeFieldRole, nil)
	root.Set(tx, NodeFieldContent, nil)
	root.Set(tx, NodeFieldParent, "")
	root.Set(tx, NodeFieldChildren, crdt.NewList(tx))
	root.Set(tx, NodeFieldChildIndex, nil)

	order.Append(tx, convID.String())
	return convID, nil
}

// Delete removes the conversation record and prunes its order entry.
// Idempotent.
func (s *Store) Delete(tx *crdt.Tx, convID id.ConversationID) error {
	convs, order, ok := s.containers(tx)
	if !ok {
		return ErrNotFound
	}
	convs.Delete(tx, convID.String())
	for order.RemoveValue(tx, convID.String()) {
	}
	return nil
}

// IDs returns conversation ids in presentation order, skipping order entries
// whose record a collaborator already deleted.
func (s *Store) IDs(tx *crdt.Tx) []id.ConversationID {
	convs, order, ok := s.containers(tx)
	if !ok {
		return nil
	}
	var out []id.ConversationID
	for _, cid := range order.Strings(tx) {
		if convs.Has(tx, cid) {
			out = append(out, id.ConversationID(cid))
		}
	}
	return out
}

// Record returns a conversation's record map.
func (s *Store) Record(tx *crdt.Tx, convID id.ConversationID) (*crdt.Map, bool) {
	convs, _, ok := s.containers(tx)
	if !ok {
		return nil, false
	}
	v, ok := convs.Get(tx, convID.String())
	if !ok {
		return nil, false
	}
	rec, ok := v.(*crdt.Map)
	return rec, ok
}

// Requests returns a conversation's request scope list.
func (s *Store) Requests(tx *crdt.Tx, convID id.ConversationID) (*crdt.List, bool) {
	rec, ok := s.Record(tx, convID)
	if !ok {
		return nil, false
	}
	return listField(tx, rec, FieldRequests)
}

func (s *Store) nodes(tx *crdt.Tx, convID id.ConversationID) (*crdt.Map, bool) {
	rec, ok := s.Record(tx, convID)
	if !ok {
		return nil, false
	}
	return mapField(tx, rec, FieldNodes)
}

func mapField(tx *crdt.Tx, rec *crdt.Map, key string) (*crdt.Map, bool) {
	v, ok := rec.Get(tx, key)
	if !ok {
		return nil, false
	}
	m, ok := v.(*crdt.Map)
	return m, ok
}

func listField(tx *crdt.Tx, rec *crdt.Map, key string) (*crdt.List, bool) {
	v, ok := rec.Get(tx, key)
	if !ok {
		return nil, false
	}
	l, ok := v.(*crdt.List)
	return l, ok
}

func textField(tx *crdt.Tx, rec *crdt.Map, key string) (*crdt.Text, bool) {
	v, ok := rec.Get(tx, key)
	if !ok {
		return nil, false
	}
	txt, ok := v.(*crdt.Text)
	return txt, ok
}
