// Package ntsupervisor implements the top-level reconnect loop: connect,
// handshake, run forwarding + audio until failure, then retry with a
// throttle, per spec §4.7 and original_source/src/nettask.c.
package ntsupervisor

import "errors"

// ErrNoDialer is returned by Run when Config.Dial is nil.
var ErrNoDialer = errors.New("ntsupervisor: no dialer configured")
