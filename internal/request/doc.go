// Package request implements the work-request queue protocol on the shared
// document.
//
// A request is a record in the root "requests" map plus an occurrence of its
// id in the global "requests_order" list and in zero or more scope-owned
// lists (per notebook, per conversation). Producers enqueue; the worker, or a
// cancelling client, removes. Map and lists move in lockstep inside one
// transaction: an id present in a list but absent from the map means the
// request already completed or was cancelled.
//
// Records are a closed tagged union keyed by "type". The union is converted
// to and from document form exhaustively so an unknown kind fails loudly on
// both sides of the queue.
package request
