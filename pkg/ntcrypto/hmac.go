package ntcrypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HMACSize is the output size of HMAC-SHA256 in bytes.
const HMACSize = sha256.Size

// HMACSHA256 computes the HMAC-SHA256 of message under key.
func HMACSHA256(key, message []byte) [HMACSize]byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	var out [HMACSize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACEqual compares two MACs in constant time.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
