package ntcrypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// DirectionKeySize is the size, in bytes, of each derived AES-256-GCM
// direction key.
const DirectionKeySize = 32

// directionInfo is the fixed HKDF info label shared by both direction
// derivations; the nonce each side contributed at handshake time is used as
// the salt instead, so the two directions key apart without needing a
// negotiated initiator/responder role (nettalk's handshake is symmetric:
// both peers run the identical steps concurrently).
var directionInfo = []byte("nettalk-direction-key")

// HKDFSHA256 derives length bytes of key material from inputKey using
// HKDF-SHA256 (RFC 5869), following the same Extract-then-Expand shape as
// the teacher's Crypto_KDF helper.
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	reader := hkdf.New(sha256.New, inputKey, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(reader, out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeriveDirectionKey turns the raw XOR'd handshake session key and one
// side's 16-byte confirmation nonce into that direction's AES-256-GCM key.
// Both peers derive the same transmit key by calling this with the nonce
// the transmitting side generated, and the same receive key with the nonce
// the other side generated, so no explicit role negotiation is needed.
func DeriveDirectionKey(sessionKey, directionNonce []byte) ([]byte, error) {
	return HKDFSHA256(sessionKey, directionNonce, directionInfo, DirectionKeySize)
}
