package ntconfig

import "errors"

// ErrContainerFormatUnimplemented is returned by Load. The encrypted
// configuration file format and its password-based key derivation are an
// explicit non-goal: the core only consumes an already-parsed Config. Load
// exists as the seam cmd/nettalk calls into; a real build replaces it with
// a container reader that decrypts configPath with password and populates
// a Config.
var ErrContainerFormatUnimplemented = errors.New("ntconfig: encrypted configuration container is not implemented")

// Load is the entry point for reading the encrypted configuration file at
// configPath with password. The container format is not implemented in
// this package, so Load always returns ErrContainerFormatUnimplemented and
// a nil Config.
func Load(configPath, password string) (*Config, error) {
	return nil, ErrContainerFormatUnimplemented
}
