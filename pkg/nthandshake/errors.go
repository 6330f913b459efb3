// Package nthandshake implements the mutual-authentication handshake that
// establishes a shared session key between two pre-configured RSA-keyed
// peers: RSA-OAEP partial-key exchange followed by an HMAC-SHA256 nonce
// confirmation, per spec §4.4.
package nthandshake

import "errors"

// Handshake package errors.
var (
	// ErrPeerUnauthorized is returned when the peer's HMAC confirmation
	// does not match our recomputed value.
	ErrPeerUnauthorized = errors.New("nthandshake: peer unauthorized")

	// ErrHandshakeFailed wraps any I/O or cryptographic failure during the
	// handshake that is not itself a peer-authorization failure.
	ErrHandshakeFailed = errors.New("nthandshake: handshake failed")
)
