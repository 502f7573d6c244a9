// Package id provides centralized ID generation for the shared document.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: ids sort by creation time
//   - Prefixed types: Type-specific prefixes for debugging (req_*, node_*, cell_*)
//   - Type safety: Separate types prevent ID misuse
//   - Zero conflicts: Uniqueness holds across clients and workers
//
// Design Principles:
//   - ULIDs only: Single ID format across the module
//   - K-sortable: Timeline ordering without timestamps
//   - Debuggable: Prefixes make logs and document dumps readable
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// RequestID identifies a queued request record
type RequestID string

// NodeID identifies a conversation node
type NodeID string

// CellID identifies a notebook cell
type CellID string

// ConversationID identifies a conversation
type ConversationID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	RequestPrefix      = "req"
	NodePrefix         = "node"
	CellPrefix         = "cell"
	ConversationPrefix = "conv"
)

// RootNode is the reserved sentinel node id present in every conversation.
// It is never generated and never deletable.
const RootNode = "root"

// ============================================================================
// ULID Generator (Primary)
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	// Default generator with cryptographically secure entropy
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewNodeID generates a new conversation node ID
func NewNodeID() NodeID {
	return NodeID(Default().GenerateWithPrefix(NodePrefix))
}

// NewCellID generates a new notebook cell ID
func NewCellID() CellID {
	return CellID(Default().GenerateWithPrefix(CellPrefix))
}

// NewConversationID generates a new conversation ID
func NewConversationID() ConversationID {
	return ConversationID(Default().GenerateWithPrefix(ConversationPrefix))
}

// ============================================================================
// Type Conversion and Validation
// ============================================================================

// String methods for ID types
func (id RequestID) String() string      { return string(id) }
func (id NodeID) String() string         { return string(id) }
func (id CellID) String() string         { return string(id) }
func (id ConversationID) String() string { return string(id) }

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID
func Timestamp(id string) (time.Time, error) {
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
