package crdt

import (
	"fmt"

	"github.com/bytedance/sonic"
)

// json is the codec for update frames. UseInt64 keeps integer fields (child
// indices, priorities, token counts) integral across a wire round-trip.
var json = sonic.Config{UseInt64: true}.Froze()

// ContainerKind discriminates the three container types on the wire.
type ContainerKind string

const (
	KindMap  ContainerKind = "map"
	KindList ContainerKind = "list"
	KindText ContainerKind = "text"
)

// OpKind discriminates operations within an update.
type OpKind string

const (
	// OpNew registers a fresh container.
	OpNew OpKind = "new"
	// OpSet writes a map key (deletes are tombstoned sets with Val == nil
	// and Deleted == true).
	OpSet OpKind = "set"
	// OpInsert places a list/text element at a position identifier.
	OpInsert OpKind = "ins"
	// OpRemove tombstones a list/text element by its element id.
	OpRemove OpKind = "rm"
)

// Seg is one digit of a position identifier. Digits order first, the replica
// tag breaks ties between concurrent inserts of the same digit.
type Seg struct {
	D uint64 `json:"d"`
	R string `json:"r"`
}

// Position locates a list element between its neighbors. Positions are
// immutable once generated and totally ordered.
type Position []Seg

// Compare returns -1, 0 or 1. A strict prefix sorts before its extensions.
func (p Position) Compare(q Position) int {
	n := len(p)
	if len(q) < n {
		n = len(q)
	}
	for i := 0; i < n; i++ {
		switch {
		case p[i].D < q[i].D:
			return -1
		case p[i].D > q[i].D:
			return 1
		case p[i].R < q[i].R:
			return -1
		case p[i].R > q[i].R:
			return 1
		}
	}
	switch {
	case len(p) < len(q):
		return -1
	case len(p) > len(q):
		return 1
	}
	return 0
}

const maxDigit = uint64(1) << 32

// appendStep bounds the digit chosen when appending at the tail, so that the
// digit space is consumed gradually instead of halving toward the maximum.
const appendStep = uint64(1) << 16

// between generates a fresh position strictly between left and right for the
// given replica. nil left means the head boundary, nil right the tail.
func between(left, right Position, replica string) Position {
	p := make(Position, 0, len(left)+1)
	rEq := right != nil // does p[:depth] still equal right's prefix
	for depth := 0; ; depth++ {
		lo := uint64(0)
		hasL := depth < len(left)
		if hasL {
			lo = left[depth].D
		}
		hi := maxDigit
		if rEq && depth < len(right) {
			hi = right[depth].D
		}
		if hi > lo+1 {
			d := lo + (hi-lo)/2
			if hi == maxDigit && d > lo+appendStep {
				d = lo + appendStep
			}
			return append(p, Seg{D: d, R: replica})
		}
		// No room at this depth: adopt the left branch and descend. When the
		// left boundary is exhausted an empty replica tag keeps the adopted
		// segment below any real right-boundary segment of equal digit.
		var seg Seg
		if hasL {
			seg = left[depth]
		} else {
			seg = Seg{D: lo, R: ""}
		}
		p = append(p, seg)
		rEq = rEq && depth < len(right) && seg == right[depth]
	}
}

// ElemID identifies a list element by the op that inserted it.
type ElemID struct {
	Replica string `json:"replica"`
	Seq     uint64 `json:"seq"`
}

// WireValue carries a map value or list element across the wire. Exactly one
// of Ctr (a container reference) or Value (a plain JSON value) is set.
type WireValue struct {
	Ctr     string        `json:"ctr,omitempty"`
	CtrKind ContainerKind `json:"ctr_kind,omitempty"`
	Value   any           `json:"value,omitempty"`
	IsValue bool          `json:"is_value,omitempty"`
}

// Op is a single replicated operation.
type Op struct {
	Replica string `json:"replica"`
	Seq     uint64 `json:"seq"`
	Lamport uint64 `json:"lamport"`
	Ctr     string `json:"ctr"`
	Kind    OpKind `json:"kind"`

	// OpNew
	CtrKind ContainerKind `json:"ctr_kind,omitempty"`

	// OpSet
	Key     string `json:"key,omitempty"`
	Deleted bool   `json:"deleted,omitempty"`

	// OpInsert
	Pos Position `json:"pos,omitempty"`

	// OpSet / OpInsert payload
	Val *WireValue `json:"val,omitempty"`

	// OpRemove
	Elem *ElemID `json:"elem,omitempty"`
}

// Update is the unit of replication: the ops of one committed transaction.
type Update struct {
	Replica string `json:"replica"`
	Ops     []Op   `json:"ops"`
}

// Encode serializes the update for the cache and the sync channel.
func (u Update) Encode() ([]byte, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("encode update: %w", err)
	}
	return data, nil
}

// DecodeUpdate parses an update frame produced by Encode.
func DecodeUpdate(data []byte) (Update, error) {
	var u Update
	if err := json.Unmarshal(data, &u); err != nil {
		return Update{}, fmt.Errorf("decode update: %w", err)
	}
	return u, nil
}

// StateVector summarizes how much of each replica's op stream a doc has
// integrated: replica id to highest contiguous sequence number.
type StateVector map[string]uint64

// EncodeStateVector serializes a state vector for the sync handshake.
func EncodeStateVector(sv StateVector) ([]byte, error) {
	data, err := json.Marshal(sv)
	if err != nil {
		return nil, fmt.Errorf("encode state vector: %w", err)
	}
	return data, nil
}

// DecodeStateVector parses a state vector frame.
func DecodeStateVector(data []byte) (StateVector, error) {
	sv := StateVector{}
	if err := json.Unmarshal(data, &sv); err != nil {
		return nil, fmt.Errorf("decode state vector: %w", err)
	}
	return sv, nil
}
