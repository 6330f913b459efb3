// Package ntconfig holds the parsed configuration a running session
// depends on: where the relay lives, which channel tag pairs us with our
// peer, and the RSA keypairs the handshake authenticates with.
//
// Parsing the on-disk encrypted container and deriving its key from a
// password is out of scope here (see DESIGN.md); this package only models
// the configuration once it has already been decrypted and deserialized.
package ntconfig

import (
	"crypto/rsa"
	"errors"
	"fmt"
)

// MaxChannelTagLen is the largest channel tag the relay protocol accepts
// (CHANLEN in the original source).
const MaxChannelTagLen = 16

// Config is the full set of fields a Supervisor needs to run a session,
// per the Configuration data model: all fields populated before handshake,
// created once per process after a successful password decrypt, and
// immutable thereafter.
type Config struct {
	// RelayHost and RelayPort name the rendezvous relay both peers dial.
	RelayHost string
	RelayPort uint16

	// ChannelTag pairs us with exactly one peer at the relay; 1-16 bytes,
	// non-empty, opaque.
	ChannelTag []byte

	// OwnPrivateKey and OwnPublicKey are this side's RSA keypair.
	OwnPrivateKey *rsa.PrivateKey
	OwnPublicKey  *rsa.PublicKey

	// PeerPublicKey is the other side's RSA public key, provisioned out of
	// band; nettalk has no certificate authority or key exchange ceremony.
	PeerPublicKey *rsa.PublicKey
}

// Validation errors returned by Validate.
var (
	ErrNoRelayHost       = errors.New("ntconfig: relay hostname must not be empty")
	ErrNoRelayPort       = errors.New("ntconfig: relay port must not be zero")
	ErrChannelTagEmpty   = errors.New("ntconfig: channel tag must not be empty")
	ErrChannelTagTooLong = errors.New("ntconfig: channel tag exceeds 16 bytes")
	ErrNoOwnPrivateKey   = errors.New("ntconfig: own RSA private key is required")
	ErrNoOwnPublicKey    = errors.New("ntconfig: own RSA public key is required")
	ErrNoPeerPublicKey   = errors.New("ntconfig: peer RSA public key is required")
)

// Validate checks that every field required before handshake is populated,
// matching the Configuration invariant: "all fields populated before
// handshake; channel tag is a non-empty opaque byte string".
func (c *Config) Validate() error {
	if c.RelayHost == "" {
		return ErrNoRelayHost
	}
	if c.RelayPort == 0 {
		return ErrNoRelayPort
	}
	if len(c.ChannelTag) == 0 {
		return ErrChannelTagEmpty
	}
	if len(c.ChannelTag) > MaxChannelTagLen {
		return ErrChannelTagTooLong
	}
	if c.OwnPrivateKey == nil {
		return ErrNoOwnPrivateKey
	}
	if c.OwnPublicKey == nil {
		return ErrNoOwnPublicKey
	}
	if c.PeerPublicKey == nil {
		return ErrNoPeerPublicKey
	}
	return nil
}

// RelayAddr formats the relay's host:port for net.Dial / ntsocks5.Dial.
func (c *Config) RelayAddr() string {
	return fmt.Sprintf("%s:%d", c.RelayHost, c.RelayPort)
}
