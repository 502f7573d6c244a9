// Package relay is the server side of the sync channel.
//
// The hub keeps one archive replica per scope. Every update a client sends
// is merged into the archive and broadcast to the other clients in the same
// scope, so late joiners catch up from the archive alone: the handshake
// answers their state vector with exactly the updates they are missing.
//
// Awareness frames pass through without touching the archive. The hub
// remembers which client id last announced awareness on each connection and
// broadcasts a clear when that connection drops.
package relay
