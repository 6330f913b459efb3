package nthandshake

import (
	"crypto/rsa"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/ecnx/nettalk-go/pkg/ntcrypto"
)

// stepTimeout bounds each blocking read/write of the handshake. The
// original handshake loop in original_source/src/handshake.c uses a fixed
// poll timeout around every I/O step rather than one deadline for the whole
// exchange; a fresh deadline per step reproduces that behavior over net.Conn.
const stepTimeout = 4 * time.Second

// nonceSize is the length, in bytes, of the confirmation nonce each side
// generates in step 5 of the handshake.
const nonceSize = 16

// Config carries the RSA key material both sides already hold out of band
// (provisioned from the encrypted configuration file; see spec §4.4 and
// pkg/ntconfig). Nettalk has no certificate authority or pairing exchange:
// each peer is preconfigured with its own keypair and the other's public
// key.
type Config struct {
	// OwnPrivateKey is this side's RSA private key, used to decrypt the
	// peer's partial key in step 3.
	OwnPrivateKey *rsa.PrivateKey

	// PeerPublicKey is the other side's RSA public key, used to encrypt
	// our own partial key in step 2.
	PeerPublicKey *rsa.PublicKey
}

// Result is the output of a completed handshake: a transmit cipher keyed
// with the nonce we generated, and a receive cipher keyed with the nonce
// the peer generated, per spec §4.4 step 7.
type Result struct {
	TX *ntcrypto.DirectionCipher
	RX *ntcrypto.DirectionCipher
}

// Run performs the full mutual-authentication handshake over conn: RSA-OAEP
// partial-key exchange, XOR combination into a session key, HMAC-SHA256
// nonce confirmation, and HKDF-SHA256 direction-key derivation. Both peers
// execute the identical sequence concurrently; there is no distinguished
// initiator or responder at this layer (spec §4.4).
//
// Run never retries internally: any I/O error, malformed message, or failed
// confirmation zeroizes all key material and returns immediately. The
// caller (pkg/ntsupervisor) is responsible for reconnecting and starting a
// fresh handshake.
func Run(conn net.Conn, cfg Config, rnd *ntcrypto.Source, log logging.LeveledLogger) (*Result, error) {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("nthandshake")
	}

	// Step 1: generate our random partial key contribution.
	selfPartial := make([]byte, ntcrypto.PartialKeySize)
	if err := rnd.Fill(selfPartial); err != nil {
		return nil, fmt.Errorf("%w: generate partial key: %v", ErrHandshakeFailed, err)
	}
	defer ntcrypto.Zeroize(selfPartial)

	// Step 2: encrypt it under the peer's public key and send it.
	ciphertext, err := ntcrypto.EncryptPartialKey(cfg.PeerPublicKey, selfPartial)
	if err != nil {
		return nil, fmt.Errorf("%w: encrypt partial key: %v", ErrHandshakeFailed, err)
	}
	if err := writeFrame(conn, ciphertext); err != nil {
		return nil, fmt.Errorf("%w: send partial key: %v", ErrHandshakeFailed, err)
	}
	log.Debug("nthandshake: sent partial key")

	// Step 3: receive and decrypt the peer's partial key. Its ciphertext
	// was encrypted under our public key, so its length equals our own
	// modulus size.
	peerCiphertext := make([]byte, cfg.OwnPrivateKey.Size())
	if err := readFrame(conn, peerCiphertext); err != nil {
		return nil, fmt.Errorf("%w: receive peer partial key: %v", ErrHandshakeFailed, err)
	}
	peerPartial, err := ntcrypto.DecryptPartialKey(cfg.OwnPrivateKey, peerCiphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: decrypt peer partial key: %v", ErrHandshakeFailed, err)
	}
	defer ntcrypto.Zeroize(peerPartial)
	log.Debug("nthandshake: received peer partial key")

	// Step 4: combine into the session key.
	sessionKey, err := ntcrypto.XORPartialKeys(selfPartial, peerPartial)
	if err != nil {
		return nil, fmt.Errorf("%w: combine session key: %v", ErrHandshakeFailed, err)
	}
	defer ntcrypto.Zeroize(sessionKey)

	// Step 5: generate our confirmation nonce, compute its HMAC under the
	// session key, and send nonce||hmac.
	selfNonce := make([]byte, nonceSize)
	if err := rnd.Fill(selfNonce); err != nil {
		return nil, fmt.Errorf("%w: generate confirmation nonce: %v", ErrHandshakeFailed, err)
	}
	selfMAC := ntcrypto.HMACSHA256(sessionKey, selfNonce)
	if err := writeFrame(conn, append(append([]byte(nil), selfNonce...), selfMAC[:]...)); err != nil {
		return nil, fmt.Errorf("%w: send confirmation: %v", ErrHandshakeFailed, err)
	}
	log.Debug("nthandshake: sent confirmation nonce")

	// Step 6: receive the peer's nonce||hmac and verify it.
	peerConfirm := make([]byte, nonceSize+ntcrypto.HMACSize)
	if err := readFrame(conn, peerConfirm); err != nil {
		return nil, fmt.Errorf("%w: receive confirmation: %v", ErrHandshakeFailed, err)
	}
	peerNonce := peerConfirm[:nonceSize]
	peerMAC := peerConfirm[nonceSize:]
	wantMAC := ntcrypto.HMACSHA256(sessionKey, peerNonce)
	if !ntcrypto.HMACEqual(wantMAC[:], peerMAC) {
		return nil, ErrPeerUnauthorized
	}
	log.Debug("nthandshake: peer confirmation verified")

	// Step 7: derive the two direction keys and build their ciphers. The
	// transmit cipher is keyed with the nonce we generated (our writes use
	// it); the receive cipher with the nonce the peer generated.
	txKey, err := ntcrypto.DeriveDirectionKey(sessionKey, selfNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: derive transmit key: %v", ErrHandshakeFailed, err)
	}
	defer ntcrypto.Zeroize(txKey)
	rxKey, err := ntcrypto.DeriveDirectionKey(sessionKey, peerNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: derive receive key: %v", ErrHandshakeFailed, err)
	}
	defer ntcrypto.Zeroize(rxKey)

	txNonce := make([]byte, nonceSize)
	copy(txNonce, selfNonce)
	rxNonce := make([]byte, nonceSize)
	copy(rxNonce, peerNonce)

	tx, err := ntcrypto.NewDirectionCipher(txKey, txNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: build transmit cipher: %v", ErrHandshakeFailed, err)
	}
	rx, err := ntcrypto.NewDirectionCipher(rxKey, rxNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: build receive cipher: %v", ErrHandshakeFailed, err)
	}

	log.Debug("nthandshake: handshake complete")
	return &Result{TX: tx, RX: rx}, nil
}

// writeFrame writes buf in full under stepTimeout, matching the original
// handshake's per-step poll bound.
func writeFrame(conn net.Conn, buf []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(stepTimeout)); err != nil {
		return err
	}
	_, err := conn.Write(buf)
	return err
}

// readFrame fills buf completely under stepTimeout.
func readFrame(conn net.Conn, buf []byte) error {
	if err := conn.SetReadDeadline(time.Now().Add(stepTimeout)); err != nil {
		return err
	}
	_, err := io.ReadFull(conn, buf)
	return err
}
