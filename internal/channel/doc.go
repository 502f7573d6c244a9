// Package channel synchronizes a local document replica with a relay over
// WebSocket.
//
// One Provider serves one (scope, doc) pair. On connect it runs the two-way
// handshake: each side announces its state vector (sync_step1) and answers
// with the updates the other side is missing (sync_step2). After the
// handshake, local updates stream out as they commit and remote updates are
// merged as they arrive. The provider reconnects with exponential backoff
// and replays the handshake, so a flaky link only delays convergence.
//
// Awareness frames carry ephemeral per-client state (cursor color, presence).
// They are broadcast but never stored: a client that disconnects has its
// awareness cleared by the relay.
package channel
