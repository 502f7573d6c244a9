package request

import (
	"errors"
	"fmt"

	"github.com/weftlabs/weft/internal/document"
	"github.com/weftlabs/weft/internal/shared/id"
)

// Kind is the closed set of request types the worker understands.
type Kind string

const (
	KindReloadWorkspace Kind = "reload_workspace"
	KindExecuteCell     Kind = "execute_cell"
	KindSaveNotebook    Kind = "save_notebook"
	KindReloadNotebook  Kind = "reload_notebook"
	KindChat            Kind = "chat"
	KindLabel           Kind = "label"
)

// Priorities. Lower values drain first. Background work (labels, listing
// rescans) sits far below the default so its position relative to interactive
// work stays fixed even if intermediate priorities are ever introduced.
const (
	PriorityDefault    int64 = 0
	PriorityBackground int64 = -100
)

// Record field names as stored in the document.
const (
	FieldID             = "id"
	FieldType           = "type"
	FieldPriority       = "priority"
	FieldSessionID      = "session_id"
	FieldNotebookID     = "notebook_id"
	FieldCellID         = "cell_id"
	FieldConversationID = "conversation_id"
	FieldNodeID         = "node_id"
)

var (
	// ErrUnknownKind reports a record whose type is outside the closed set.
	ErrUnknownKind = errors.New("request: unknown kind")

	// ErrMissingField reports a record lacking a field its kind requires.
	ErrMissingField = errors.New("request: missing field")

	// ErrNotReady reports that the request containers have not been observed
	// on this replica yet. A pending state, not a failure.
	ErrNotReady = errors.New("request: queue containers not initialized")
)

// Request is the tagged union of all queue record shapes. Kind selects which
// of the scope fields are meaningful; the rest stay zero.
type Request struct {
	ID       id.RequestID
	Kind     Kind
	Priority int64

	// execute_cell, save_notebook, reload_notebook
	SessionID  string
	NotebookID string

	// execute_cell
	CellID id.CellID

	// chat, label
	ConversationID id.ConversationID
	NodeID         id.NodeID
}

// NewReloadWorkspace builds a workspace rescan request. Always background
// priority: listing refreshes never preempt interactive work.
func NewReloadWorkspace() Request {
	return Request{Kind: KindReloadWorkspace, Priority: PriorityBackground}
}

// NewExecuteCell builds a cell execution request.
func NewExecuteCell(sessionID, notebookID string, cellID id.CellID) Request {
	return Request{
		Kind:       KindExecuteCell,
		Priority:   PriorityDefault,
		SessionID:  sessionID,
		NotebookID: notebookID,
		CellID:     cellID,
	}
}

// NewSaveNotebook builds a save-to-file request.
func NewSaveNotebook(sessionID, notebookID string) Request {
	return Request{
		Kind:       KindSaveNotebook,
		Priority:   PriorityDefault,
		SessionID:  sessionID,
		NotebookID: notebookID,
	}
}

// NewReloadNotebook builds a reload-from-file request.
func NewReloadNotebook(sessionID, notebookID string) Request {
	return Request{
		Kind:       KindReloadNotebook,
		Priority:   PriorityDefault,
		SessionID:  sessionID,
		NotebookID: notebookID,
	}
}

// NewChat builds a completion request targeting a conversation node.
func NewChat(conversationID id.ConversationID, nodeID id.NodeID) Request {
	return Request{
		Kind:           KindChat,
		Priority:       PriorityDefault,
		ConversationID: conversationID,
		NodeID:         nodeID,
	}
}

// NewLabel builds a conversation-labelling request.
func NewLabel(conversationID id.ConversationID, nodeID id.NodeID) Request {
	return Request{
		Kind:           KindLabel,
		Priority:       PriorityBackground,
		ConversationID: conversationID,
		NodeID:         nodeID,
	}
}

// Record converts the request to its document form. The switch is exhaustive
// over Kind; a zero or foreign kind is an error, never a partial record.
func (r Request) Record() (map[string]any, error) {
	rec := map[string]any{
		FieldID:       r.ID.String(),
		FieldType:     string(r.Kind),
		FieldPriority: r.Priority,
	}
	switch r.Kind {
	case KindReloadWorkspace:
	case KindExecuteCell:
		if r.CellID == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldCellID)
		}
		rec[FieldSessionID] = r.SessionID
		rec[FieldNotebookID] = r.NotebookID
		rec[FieldCellID] = r.CellID.String()
	case KindSaveNotebook, KindReloadNotebook:
		if r.NotebookID == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldNotebookID)
		}
		rec[FieldSessionID] = r.SessionID
		rec[FieldNotebookID] = r.NotebookID
	case KindChat, KindLabel:
		if r.ConversationID == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldConversationID)
		}
		if r.NodeID == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, FieldNodeID)
		}
		rec[FieldConversationID] = r.ConversationID.String()
		rec[FieldNodeID] = r.NodeID.String()
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	return rec, nil
}

// FromMap parses a document record back into the union. Tolerant of number
// representation (priority may arrive as int64 or float64 off the wire),
// strict about kind.
func FromMap(rec map[string]any) (Request, error) {
	r := Request{
		ID:   id.RequestID(document.Str(rec[FieldID])),
		Kind: Kind(document.Str(rec[FieldType])),
	}
	if p, ok := document.Int(rec[FieldPriority]); ok {
		r.Priority = p
	}
	switch r.Kind {
	case KindReloadWorkspace:
	case KindExecuteCell:
		r.SessionID = document.Str(rec[FieldSessionID])
		r.NotebookID = document.Str(rec[FieldNotebookID])
		r.CellID = id.CellID(document.Str(rec[FieldCellID]))
	case KindSaveNotebook, KindReloadNotebook:
		r.SessionID = document.Str(rec[FieldSessionID])
		r.NotebookID = document.Str(rec[FieldNotebookID])
	case KindChat, KindLabel:
		r.ConversationID = id.ConversationID(document.Str(rec[FieldConversationID]))
		r.NodeID = id.NodeID(document.Str(rec[FieldNodeID]))
	default:
		return Request{}, fmt.Errorf("%w: %q", ErrUnknownKind, r.Kind)
	}
	if r.ID == "" {
		return Request{}, fmt.Errorf("%w: %s", ErrMissingField, FieldID)
	}
	return r, nil
}
