// Package document defines the shared-document schema: the well-known keys of
// the root mapping and typed access to the containers beneath them.
//
// Keys are never removed except by a full session reset. A missing key means
// "not yet initialized" (a state the UI renders as pending) and is distinct
// from an empty collection. Accessors therefore never create substructure on
// the read path; only Initialize and the worker-side components write the
// root keys.
package document
