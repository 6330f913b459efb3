// Package ntcrypto implements the symmetric and asymmetric primitives used
// by the nettalk secure session: RSA-OAEP partial-key exchange, HMAC-SHA256
// nonce confirmation, HKDF-SHA256 direction-key derivation, and the AES-GCM
// session cipher.
package ntcrypto

import "errors"

// Crypto package errors.
var (
	// ErrUnseeded is returned when Fill is called before Init.
	ErrUnseeded = errors.New("ntcrypto: random source not seeded")

	// ErrInvalidKeySize is returned when a key does not match the size a
	// primitive requires.
	ErrInvalidKeySize = errors.New("ntcrypto: invalid key size")

	// ErrInvalidNonceSize is returned when a nonce does not match the size
	// a primitive requires.
	ErrInvalidNonceSize = errors.New("ntcrypto: invalid nonce size")

	// ErrCipherFault is returned when an AES-GCM seal/open fails. Per the
	// session cipher's contract this is always session-fatal.
	ErrCipherFault = errors.New("ntcrypto: cipher fault")

	// ErrPendingNotAligned is returned by SealChunk and OpenChunk when
	// their input is not exactly one plaintext or sealed chunk long. This
	// should never happen; it indicates an invariant violation.
	ErrPendingNotAligned = errors.New("ntcrypto: pending buffer not chunk-aligned")
)
