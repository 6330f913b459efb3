package ntcrypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
)

// PartialKeySize is the size, in bytes, of each side's random contribution
// to the session key.
const PartialKeySize = 32

// EncryptPartialKey encrypts a partial key under the peer's RSA public key
// using RSA-OAEP with SHA-256, matching the handshake's step 2.
func EncryptPartialKey(peerPub *rsa.PublicKey, partialKey []byte) ([]byte, error) {
	return rsa.EncryptOAEP(sha256.New(), rand.Reader, peerPub, partialKey, nil)
}

// DecryptPartialKey decrypts a peer's encrypted partial key using our own
// RSA private key, matching the handshake's step 3.
func DecryptPartialKey(ownPriv *rsa.PrivateKey, ciphertext []byte) ([]byte, error) {
	return rsa.DecryptOAEP(sha256.New(), rand.Reader, ownPriv, ciphertext, nil)
}

// XORPartialKeys combines the two 32-byte partial keys into the session
// key. Both arguments must be PartialKeySize bytes.
func XORPartialKeys(self, peer []byte) ([]byte, error) {
	if len(self) != PartialKeySize || len(peer) != PartialKeySize {
		return nil, ErrInvalidKeySize
	}
	out := make([]byte, PartialKeySize)
	for i := range out {
		out[i] = self[i] ^ peer[i]
	}
	return out, nil
}

// Zeroize overwrites key material with zeroes before it is dropped.
// nthandshake.Run calls it on every exit path, success or failure, for the
// partial keys, the session key and the derived direction keys.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
