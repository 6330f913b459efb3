// Package ntsession ties one connected peer's handshake result, forwarding
// engine, and audio pipeline together for the lifetime of a single
// connection attempt, per spec §3/§4.7.
package ntsession

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/ecnx/nettalk-go/pkg/ntaudio"
	"github.com/ecnx/nettalk-go/pkg/ntcrypto"
	"github.com/ecnx/nettalk-go/pkg/ntforward"
	"github.com/ecnx/nettalk-go/pkg/nthandshake"
)

// Session is one live connection to the peer: a handshake result, the
// bidirectional forwarding engine, and the audio capture/playback pair
// sharing the bridge pipe. Its ID exists purely for log correlation across
// reconnect attempts (pkg/ntsupervisor) and is never sent on the wire.
type Session struct {
	ID        uuid.UUID
	StartedAt time.Time

	conn         net.Conn
	bridgeLocal  net.Conn
	bridgeRemote net.Conn
	engine       *ntforward.Engine
	audio        *ntaudio.Pipeline

	log logging.LeveledLogger

	mu     sync.Mutex
	closed bool
}

// New performs the handshake over conn, wires a forwarding engine between
// conn and a fresh bridge pipe, and attaches the audio pipeline to the
// other end of that pipe. It does not start any goroutines; call Run. A nil
// loggerFactory is replaced with pion/logging's default factory.
func New(conn net.Conn, hsCfg nthandshake.Config, rnd *ntcrypto.Source, audioFactory ntaudio.Factory, loggerFactory logging.LoggerFactory) (*Session, error) {
	if loggerFactory == nil {
		loggerFactory = logging.NewDefaultLoggerFactory()
	}
	id := uuid.New()
	log := loggerFactory.NewLogger("ntsession")
	log.Infof("nthandshake starting for session %s", id)

	result, err := nthandshake.Run(conn, hsCfg, rnd, loggerFactory.NewLogger("nthandshake"))
	if err != nil {
		return nil, err
	}

	bridgeLocal, bridgeRemote := net.Pipe()
	engine := ntforward.NewEngine(conn, bridgeLocal, result.TX, result.RX, loggerFactory.NewLogger("ntforward"))
	pipeline, err := audioFactory.NewPipeline(bridgeRemote, loggerFactory.NewLogger("ntaudio"))
	if err != nil {
		return nil, err
	}

	return &Session{
		ID:           id,
		StartedAt:    time.Now(),
		conn:         conn,
		bridgeLocal:  bridgeLocal,
		bridgeRemote: bridgeRemote,
		engine:       engine,
		audio:        pipeline,
		log:          log,
	}, nil
}

// Run drives the forwarding engine and the audio pipeline concurrently
// until ctx is canceled or any of them fails, then tears everything down.
// It returns ctx.Err() if ctx was canceled, and otherwise the first error
// returned by the engine or the pipeline.
func (s *Session) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		errCh <- s.engine.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		errCh <- s.audio.Run(runCtx)
	}()

	first := <-errCh
	cancel()
	s.teardown()
	wg.Wait()
	close(errCh)

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return first
}

// teardown closes the underlying network connection and both ends of the
// bridge pipe, which unblocks any goroutine still parked in a Read or
// Write on any of them, mirroring the original's shutdown_then_close
// sequence in nettask.c. Closing the bridge matters even after conn is
// closed: net.Pipe() is fully unbuffered, so a decryptLoop write
// (pkg/ntforward) blocked on a bridge the audio pipeline has stopped
// reading from would otherwise hang forever.
func (s *Session) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.conn.Close()
	_ = s.bridgeLocal.Close()
	_ = s.bridgeRemote.Close()
}
