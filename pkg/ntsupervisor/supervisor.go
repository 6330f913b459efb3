package ntsupervisor

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pion/logging"

	"github.com/ecnx/nettalk-go/pkg/ntaudio"
	"github.com/ecnx/nettalk-go/pkg/ntcrypto"
	"github.com/ecnx/nettalk-go/pkg/nthandshake"
	"github.com/ecnx/nettalk-go/pkg/ntrendezvous"
	"github.com/ecnx/nettalk-go/pkg/ntsession"
)

// retryThreshold is the "session died fast" window from
// original_source/src/nettask.c's `ts + 2 >= time(NULL)` check: a session
// that did not survive 2 seconds is treated as a connect-time failure and
// throttled before the next attempt.
const retryThreshold = 2 * time.Second

// retryDelay is the fixed reconnect throttle (original_source's
// nettask_delay's "retrying in 5 secs").
const retryDelay = 5 * time.Second

// Dialer opens the network connection to the peer for one session
// attempt, via a direct dial or through pkg/ntsocks5.
type Dialer func(ctx context.Context) (net.Conn, error)

// Config configures a Supervisor.
type Config struct {
	Dial          Dialer
	ChannelTag    []byte
	Handshake     nthandshake.Config
	Rand          *ntcrypto.Source
	AudioFactory  ntaudio.Factory
	LoggerFactory logging.LoggerFactory
}

// Supervisor runs the serial reconnect loop: dial, handshake, run the
// session until it fails or ctx is canceled, throttle if that happened
// quickly and no explicit Reset was requested, then retry.
type Supervisor struct {
	cfg Config
	log logging.LeveledLogger

	resetCh chan struct{}
}

// New builds a Supervisor from cfg.
func New(cfg Config) *Supervisor {
	if cfg.LoggerFactory == nil {
		cfg.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	return &Supervisor{
		cfg:     cfg,
		log:     cfg.LoggerFactory.NewLogger("ntsupervisor"),
		resetCh: make(chan struct{}, 1),
	}
}

// Reset marks that the next reconnect should skip the retry throttle. The
// flag is read and cleared when a session ends. Reset does not interrupt a
// session that is already running; it only affects the throttle decision
// after that session ends.
func (s *Supervisor) Reset() {
	select {
	case s.resetCh <- struct{}{}:
	default:
	}
}

// Run drives the reconnect loop until ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	if s.cfg.Dial == nil {
		return ErrNoDialer
	}

	throttle := backoff.NewExponentialBackOff()
	throttle.InitialInterval = retryDelay
	throttle.MaxInterval = retryDelay
	throttle.Multiplier = 1
	throttle.RandomizationFactor = 0
	throttle.MaxElapsedTime = 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()

		err := s.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			s.log.Errorf("ntsupervisor: session ended: %v", err)
		}

		explicitReset := s.drainReset()
		if !explicitReset && time.Since(start) < retryThreshold {
			d := throttle.NextBackOff()
			s.log.Infof("ntsupervisor: retrying in %s", d)
			if !s.wait(ctx, d) {
				return ctx.Err()
			}
		}
	}
}

// runOnce performs one full connect-rendezvous-handshake-run cycle.
func (s *Supervisor) runOnce(ctx context.Context) error {
	conn, err := s.cfg.Dial(ctx)
	if err != nil {
		return err
	}

	s.log.Info("ntsupervisor: broadcasted channel id, waiting for remote peer")
	if err := ntrendezvous.Exchange(conn, s.cfg.ChannelTag); err != nil {
		_ = conn.Close()
		if errors.Is(err, ntrendezvous.ErrWrongChannel) {
			s.log.Error("ntsupervisor: bound to wrong channel")
		}
		return err
	}
	s.log.Info("ntsupervisor: remote peer is online")

	sess, err := ntsession.New(conn, s.cfg.Handshake, s.cfg.Rand, s.cfg.AudioFactory, s.cfg.LoggerFactory)
	if err != nil {
		_ = conn.Close()
		return err
	}

	s.log.Infof("ntsupervisor: session %s established", sess.ID)
	return sess.Run(ctx)
}

// drainReset reports whether an explicit Reset request is pending, and
// clears it.
func (s *Supervisor) drainReset() bool {
	select {
	case <-s.resetCh:
		return true
	default:
		return false
	}
}

// wait blocks for d or until ctx is canceled, returning false in the
// latter case.
func (s *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
