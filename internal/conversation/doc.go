// Package conversation models the branching chat tree.
//
// Nodes live in a flat id-keyed arena; structure is explicit through parent,
// children and child_index fields. The displayed conversation is the path
// obtained by walking active children from the reserved "root" sentinel,
// which exists in every conversation and is never displayed or deleted.
//
// History never mutates: editing a node materializes as a new sibling twin
// under the same parent, and the parent's child_index flips to the twin.
// Token and timing counters are written only by the worker; everything the
// UI shows from them is derived on read.
package conversation
