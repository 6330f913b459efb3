// Package ntforward implements the bidirectional forwarding engine that
// sits between a session's network socket (carrying GCM-sealed chunks to
// and from the peer) and its local bridge (carrying plaintext chunks to and
// from the audio/text pipeline), per spec §4.5.
package ntforward

import "errors"

// Forwarding engine errors.
var (
	// ErrTimeout is returned when neither a successfully decrypted chunk
	// nor a raw keepalive has arrived from the network side for longer
	// than the decrypt watchdog allows.
	ErrTimeout = errors.New("ntforward: peer timed out")

	// ErrCipherFault is returned when a sealed chunk from the network side
	// fails authentication.
	ErrCipherFault = errors.New("ntforward: cipher fault on inbound chunk")
)
