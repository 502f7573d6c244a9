// Package session owns the lifecycle of one shared document scope.
//
// Open builds the stack bottom-up: a fresh replica, the durable cache
// replayed into it, then the sync channel and a watcher on the document
// identity key. The identity is an opaque token; once a non-empty value has
// been observed, any later different non-empty value means the document was
// replaced externally and field-level merging would interleave two unrelated
// documents. The session reacts by tearing the whole stack down and
// rebuilding it: watcher disarmed first so a second identity change cannot
// start a concurrent reset, channel destroyed, cache purge awaited, replica
// destroyed, then a fresh open. A purge failure leaves the session failed
// rather than serving mixed state.
package session
