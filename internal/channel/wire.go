package channel

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/weftlabs/weft/internal/crdt"
)

var json = sonic.Config{UseInt64: true}.Froze()

// Frame types exchanged between provider and relay.
const (
	FrameSyncStep1 = "sync_step1"
	FrameSyncStep2 = "sync_step2"
	FrameUpdate    = "update"
	FrameAwareness = "awareness"
)

// Frame is one WebSocket message. Exactly the fields for its Type are set:
// sync_step1 carries StateVector, sync_step2 carries Updates, update carries
// Update, awareness carries Client and (possibly nil, meaning cleared) State.
type Frame struct {
	Type        string         `json:"type"`
	StateVector []byte         `json:"state_vector,omitempty"`
	Updates     [][]byte       `json:"updates,omitempty"`
	Update      []byte         `json:"update,omitempty"`
	Client      string         `json:"client,omitempty"`
	State       map[string]any `json:"state,omitempty"`
}

// EncodeFrame serializes a frame for the wire.
func EncodeFrame(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodeFrame parses a wire message.
func DecodeFrame(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if f.Type == "" {
		return Frame{}, fmt.Errorf("decode frame: missing type")
	}
	return f, nil
}

// SyncStep1 builds the state-vector announcement for a doc.
func SyncStep1(doc *crdt.Doc) (Frame, error) {
	sv, err := crdt.EncodeStateVector(doc.StateVector())
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameSyncStep1, StateVector: sv}, nil
}

// SyncStep2 builds the reply to a peer's sync_step1: every update the peer
// is missing according to its state vector.
func SyncStep2(doc *crdt.Doc, peerSV []byte) (Frame, error) {
	sv, err := crdt.DecodeStateVector(peerSV)
	if err != nil {
		return Frame{}, err
	}
	diffs := doc.Diff(sv)
	updates := make([][]byte, 0, len(diffs))
	for _, u := range diffs {
		enc, err := u.Encode()
		if err != nil {
			return Frame{}, err
		}
		updates = append(updates, enc)
	}
	return Frame{Type: FrameSyncStep2, Updates: updates}, nil
}

// ApplySyncStep2 merges a sync_step2 reply into the doc.
func ApplySyncStep2(doc *crdt.Doc, f Frame) error {
	for _, raw := range f.Updates {
		u, err := crdt.DecodeUpdate(raw)
		if err != nil {
			return err
		}
		if err := doc.ApplyUpdate(u); err != nil {
			return err
		}
	}
	return nil
}

// UpdateFrame wraps one committed update for broadcast.
func UpdateFrame(u crdt.Update) (Frame, error) {
	enc, err := u.Encode()
	if err != nil {
		return Frame{}, err
	}
	return Frame{Type: FrameUpdate, Update: enc}, nil
}
