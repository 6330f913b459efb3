package ntforward

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/ecnx/nettalk-go/pkg/ntchunk"
	"github.com/ecnx/nettalk-go/pkg/ntcrypto"
)

// pollInterval bounds every blocking read so the watchdogs below get
// checked roughly once a second, matching the original poll() timeout in
// original_source/src/forward.c's nettalk_forward_cycle.
const pollInterval = 1 * time.Second

// decryptTimeout is how long the engine tolerates receiving nothing from the
// network (no successfully decrypted chunk and no raw keepalive) before
// declaring the peer lost.
const decryptTimeout = 6 * time.Second

// encryptKeepalive is how long the engine waits with nothing to encrypt
// before sending an unencrypted NoOp keepalive chunk directly on the wire
// (see SPEC_FULL.md §4.3.1 for why this bypasses the cipher).
const encryptKeepalive = 2 * time.Second

// Engine forwards chunks between a network connection (carrying sealed,
// fixed-size chunks to and from the peer) and a bridge connection (carrying
// plaintext chunks to and from the local audio/text pipeline). It runs two
// independent directions concurrently and enforces the decrypt watchdog and
// encrypt keepalive.
type Engine struct {
	network net.Conn
	bridge  net.Conn
	tx      *ntcrypto.DirectionCipher
	rx      *ntcrypto.DirectionCipher
	log     logging.LeveledLogger

	decryptedAt atomic.Int64
	encryptedAt atomic.Int64
}

// NewEngine builds a forwarding engine. tx seals chunks read from bridge
// before they go out on network; rx opens chunks read from network before
// they go to bridge.
func NewEngine(network, bridge net.Conn, tx, rx *ntcrypto.DirectionCipher, log logging.LeveledLogger) *Engine {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("ntforward")
	}
	return &Engine{network: network, bridge: bridge, tx: tx, rx: rx, log: log}
}

// Run drives both forwarding directions until ctx is canceled or either
// direction fails. It always returns a non-nil error: ctx.Err() on a clean
// caller-initiated shutdown, or the failing direction's error otherwise.
func (e *Engine) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now().UnixNano()
	e.decryptedAt.Store(now)
	e.encryptedAt.Store(now)

	errCh := make(chan error, 2)
	go func() { errCh <- e.decryptLoop(ctx) }()
	go func() { errCh <- e.encryptLoop(ctx) }()

	select {
	case <-ctx.Done():
		<-errCh
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		cancel()
		<-errCh
		return err
	}
}

// decryptLoop reads sealed chunks from network, opens them, and writes the
// plaintext to bridge. It also owns the 6-second "peer lost" watchdog:
// original_source/src/forward.c's nettalk_forward_cycle checks
// ack.decrypted+6 < now on every poll cycle.
//
// The raw, unencrypted NoOp keepalive (§4.3.1) shares the network stream
// with 48-byte sealed chunks but is only 32 bytes long, so every read first
// fills 32 bytes and checks for that literal pattern before deciding
// whether to read the remaining 16 tag bytes and decrypt, the same
// prefix-match discrimination pkg/ntchunk's Parser uses for its control
// patterns.
func (e *Engine) decryptLoop(ctx context.Context) error {
	head := make([]byte, ntchunk.Size)
	rawKeepalive := ntchunk.NoOp().Encode()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := e.network.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("ntforward: set network read deadline: %w", err)
		}
		_, err := io.ReadFull(e.network, head)
		if isTimeout(err) {
			if e.decryptStale() {
				return ErrTimeout
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("ntforward: read network: %w", err)
		}

		if bytesEqual(head, rawKeepalive[:]) {
			e.decryptedAt.Store(time.Now().UnixNano())
			continue
		}

		sealed := make([]byte, ntcrypto.SealedChunkSize)
		copy(sealed, head)
		if err := e.network.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("ntforward: set network read deadline: %w", err)
		}
		if _, err := io.ReadFull(e.network, sealed[ntchunk.Size:]); err != nil {
			return fmt.Errorf("ntforward: read network tag: %w", err)
		}

		plain, err := e.rx.OpenChunk(sealed)
		if err != nil {
			return ErrCipherFault
		}
		if _, err := e.bridge.Write(plain); err != nil {
			return fmt.Errorf("ntforward: write bridge: %w", err)
		}
		e.decryptedAt.Store(time.Now().UnixNano())
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// encryptLoop reads plaintext chunks from bridge, seals them, and writes
// the ciphertext to network. When the bridge is idle past encryptKeepalive
// it sends an unencrypted NoOp chunk straight to network instead, matching
// the original's idle keepalive.
func (e *Engine) encryptLoop(ctx context.Context) error {
	plain := make([]byte, ntcrypto.PlainChunkSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := e.bridge.SetReadDeadline(time.Now().Add(pollInterval)); err != nil {
			return fmt.Errorf("ntforward: set bridge read deadline: %w", err)
		}
		_, err := io.ReadFull(e.bridge, plain)
		if isTimeout(err) {
			if e.encryptIdle() {
				if err := e.sendKeepalive(); err != nil {
					return err
				}
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("ntforward: read bridge: %w", err)
		}

		sealed, err := e.tx.SealChunk(plain)
		if err != nil {
			return fmt.Errorf("ntforward: seal chunk: %w", err)
		}
		if _, err := e.network.Write(sealed); err != nil {
			return fmt.Errorf("ntforward: write network: %w", err)
		}
		e.encryptedAt.Store(time.Now().UnixNano())
	}
}

// sendKeepalive writes a raw NoOp chunk directly to network, unencrypted.
func (e *Engine) sendKeepalive() error {
	noop := ntchunk.NoOp().Encode()
	if err := e.network.SetWriteDeadline(time.Now().Add(pollInterval)); err != nil {
		return fmt.Errorf("ntforward: set keepalive deadline: %w", err)
	}
	if _, err := e.network.Write(noop[:]); err != nil {
		return fmt.Errorf("ntforward: send keepalive: %w", err)
	}
	e.log.Debug("ntforward: sent idle keepalive")
	return nil
}

func (e *Engine) decryptStale() bool {
	last := time.Unix(0, e.decryptedAt.Load())
	return time.Since(last) > decryptTimeout
}

func (e *Engine) encryptIdle() bool {
	last := time.Unix(0, e.encryptedAt.Load())
	return time.Since(last) > encryptKeepalive
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
