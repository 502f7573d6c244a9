// Package crdt implements the replicated document primitive that backs the
// shared workspace state.
//
// A Doc owns a set of containers (maps, lists, texts) replicated across
// clients and workers. All mutation goes through transactions; a transaction
// produces a single Update that is applied locally, handed to update hooks
// (durable cache, sync channel) and eventually merged by every other replica.
//
// Merge semantics:
//   - Map: last-writer-wins per key, ordered by (lamport, replica)
//   - List: dense position identifiers; concurrent inserts into the same gap
//     order deterministically by (digit, replica) at every replica
//   - Text: character-wise merge on the list machinery
//
// Updates carry a per-replica sequence number. Application is idempotent and
// tolerates out-of-order delivery: ops are buffered until they are contiguous
// with what the doc has already integrated from that replica.
//
// Observers fire synchronously at transaction commit, once per transaction,
// with a batch of changed keys/indices, for local and remote transactions
// alike.
package crdt
