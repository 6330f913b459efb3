package ntcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
)

// PlainChunkSize is the size of one plaintext chunk handed to the cipher
// (the wire codec's fixed 32-byte chunk, see pkg/ntchunk).
const PlainChunkSize = 32

// GCMNonceSize is the nonce size required by AES-GCM.
const GCMNonceSize = 12

// GCMTagSize is the AES-GCM authentication tag size.
const GCMTagSize = 16

// SealedChunkSize is the size of one chunk after AES-GCM sealing: the
// 32-byte chunk plus its 16-byte tag. There is no length prefix; chunk
// boundaries are implicit and fixed, per the wire protocol in spec §6.
const SealedChunkSize = PlainChunkSize + GCMTagSize

// DirectionCipher is one direction (transmit or receive) of the session
// cipher: an AES-256-GCM context keyed with a derived direction key and a
// monotonically incrementing nonce. Unlike the data model's general
// "pending tail" description, AES-GCM seals and opens exactly one complete
// 32-byte chunk per call, so there is no partial-block remainder to carry
// between calls; DirectionCipher only ever transforms whole chunks.
type DirectionCipher struct {
	aead      cipher.AEAD
	baseNonce [GCMNonceSize]byte
	counter   uint64
}

// NewDirectionCipher builds a direction cipher from a 32-byte derived key
// and the 16-byte handshake nonce for this direction. The first 12 bytes of
// the handshake nonce become the GCM base nonce; the low 8 bytes of that
// base are then XORed with a per-chunk counter so every chunk gets a
// unique nonce without needing 96 bits of fresh randomness per chunk.
func NewDirectionCipher(key []byte, handshakeNonce []byte) (*DirectionCipher, error) {
	if len(key) != DirectionKeySize {
		return nil, ErrInvalidKeySize
	}
	if len(handshakeNonce) != 16 {
		return nil, ErrInvalidNonceSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	dc := &DirectionCipher{aead: aead}
	copy(dc.baseNonce[:], handshakeNonce[:GCMNonceSize])
	return dc, nil
}

func (dc *DirectionCipher) nonce() [GCMNonceSize]byte {
	n := dc.baseNonce
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], dc.counter)
	for i := 0; i < 8; i++ {
		n[GCMNonceSize-8+i] ^= ctr[i]
	}
	return n
}

// SealChunk encrypts exactly one PlainChunkSize-byte chunk, returning
// SealedChunkSize bytes of ciphertext||tag. On success the internal nonce
// counter advances so the next chunk gets a fresh nonce.
func (dc *DirectionCipher) SealChunk(plaintext []byte) ([]byte, error) {
	if len(plaintext) != PlainChunkSize {
		return nil, ErrPendingNotAligned
	}
	n := dc.nonce()
	sealed := dc.aead.Seal(nil, n[:], plaintext, nil)
	dc.counter++
	return sealed, nil
}

// OpenChunk decrypts exactly one SealedChunkSize-byte wire chunk, returning
// the PlainChunkSize-byte plaintext. Any authentication failure is
// unrecoverable for the session and is reported as ErrCipherFault.
func (dc *DirectionCipher) OpenChunk(sealed []byte) ([]byte, error) {
	if len(sealed) != SealedChunkSize {
		return nil, ErrPendingNotAligned
	}
	n := dc.nonce()
	plain, err := dc.aead.Open(nil, n[:], sealed, nil)
	if err != nil {
		return nil, ErrCipherFault
	}
	dc.counter++
	return plain, nil
}

// Zeroize overwrites the direction key material's derived state. The AEAD
// itself does not expose its key for wiping, but the base nonce is
// cleared, and the struct is made unusable.
func (dc *DirectionCipher) Zeroize() {
	for i := range dc.baseNonce {
		dc.baseNonce[i] = 0
	}
	dc.aead = nil
}
