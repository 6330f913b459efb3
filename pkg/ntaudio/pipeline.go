// Package ntaudio implements the two audio pipeline directions — capture
// (microphone to wire) and playback (wire to speaker) — plus the text
// plane they carry alongside speech, per spec §4.6.
package ntaudio

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/ecnx/nettalk-go/pkg/ntaudio/amrnb"
	"github.com/ecnx/nettalk-go/pkg/ntaudio/device"
	"github.com/ecnx/nettalk-go/pkg/ntaudio/resample"
	"github.com/ecnx/nettalk-go/pkg/ntchunk"
)

// ErrDeviceUnavailable is logged, not returned fatally: per spec §7, a
// missing or failed audio device degrades a direction to text-only
// fallback instead of tearing down the session.
var ErrDeviceUnavailable = errors.New("ntaudio: device unavailable, falling back to text-only")

// Device is the PCM collaborator the pipeline drives. *device.PCM
// implements it against the real sound card; tests substitute an
// in-memory fake.
type Device interface {
	Capture() <-chan []int16
	Playback() chan<- []int16
	Close() error
}

// Config configures one Pipeline.
type Config struct {
	NativeSampleRate int // device sample rate, e.g. 44100
	NativeChannels   int // device channel count, e.g. 2
	Mode             amrnb.Mode
}

// DefaultConfig returns the pipeline defaults spec §4.3 names: 44.1kHz
// stereo capture/playback, "12.2 kbps" AMR-NB mode.
func DefaultConfig() Config {
	return Config{NativeSampleRate: 44100, NativeChannels: 2, Mode: amrnb.DefaultMode}
}

const (
	// wireSampleRate is AMR-NB's fixed operating rate.
	wireSampleRate = 8000

	// textPollInterval is captureLoop's idle tick and the deadline on every
	// bridge read and write, so both loops re-check for shutdown at least
	// this often, mirroring the ≤100ms bridge/text readiness wait spec §5
	// names.
	textPollInterval = 100 * time.Millisecond
)

// Factory builds a Pipeline bound to one session's bridge connection.
type Factory interface {
	NewPipeline(bridge net.Conn, log logging.LeveledLogger) (*Pipeline, error)
}

// DeviceFactory is the production Factory: it opens a real PCM device per
// pipeline, falling back to text-only mode if the device cannot be opened.
type DeviceFactory struct {
	Config Config
}

// NewPipeline opens a PCM device (falling back to nil/text-only on
// failure, per ErrDeviceUnavailable) and returns a ready Pipeline.
func (f DeviceFactory) NewPipeline(bridge net.Conn, log logging.LeveledLogger) (*Pipeline, error) {
	cfg := f.Config
	if cfg.NativeSampleRate == 0 {
		cfg = DefaultConfig()
	}

	pcm, err := device.Open(cfg.NativeSampleRate, cfg.NativeChannels, log)
	if err != nil {
		log.Warn(ErrDeviceUnavailable.Error())
		pcm = nil
	}

	return newPipeline(bridge, pcm, cfg, log), nil
}

// Pipeline drives one session's capture and playback directions over its
// bridge connection. A nil device degrades both directions to text-only:
// Reset/Init/NoOp/Text chunks are still framed and honored, but no audio is
// produced or consumed.
type Pipeline struct {
	bridge net.Conn
	dev    Device
	cfg    Config
	log    logging.LeveledLogger

	captureResample  *resample.Resampler // native -> 8kHz
	playbackResample *resample.Resampler // 8kHz -> native

	// resetSelfEncoder and resetPeerDecoder are the message-passing
	// replacement for the C source's reset_encoder_self/reset_encoder_peer
	// volatile flags (spec §5.1/§9): capacity 1, non-blocking send.
	resetSelfEncoder chan struct{}
	resetPeerDecoder chan struct{}

	outboundText chan []byte // queued by SendText, drained by captureLoop
	inboundText  chan []byte // delivered by playbackLoop, read via TextIn
}

func newPipeline(bridge net.Conn, dev Device, cfg Config, log logging.LeveledLogger) *Pipeline {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("ntaudio")
	}
	return &Pipeline{
		bridge:           bridge,
		dev:              dev,
		cfg:              cfg,
		log:              log,
		captureResample:  resample.New(cfg.NativeSampleRate, wireSampleRate),
		playbackResample: resample.New(wireSampleRate, cfg.NativeSampleRate),
		resetSelfEncoder: make(chan struct{}, 1),
		resetPeerDecoder: make(chan struct{}, 1),
		outboundText:     make(chan []byte, 16),
		inboundText:      make(chan []byte, 16),
	}
}

// TextIn returns the channel of inbound text payloads decoded from Text
// chunks (8 bytes, zero-padded; the caller assembles logical messages by
// splitting on ntchunk.TextDelimiter).
func (p *Pipeline) TextIn() <-chan []byte { return p.inboundText }

// SendText queues an outbound text payload. payload must be at most
// ntchunk.TextPayloadSize bytes; longer messages are the caller's
// responsibility to split and bell-delimit.
func (p *Pipeline) SendText(payload []byte) {
	buf := make([]byte, len(payload))
	copy(buf, payload)
	select {
	case p.outboundText <- buf:
	default:
		p.log.Warn("ntaudio: outbound text queue full, dropping message")
	}
}

// Run drives capture and playback concurrently until ctx is canceled or
// either fails.
func (p *Pipeline) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() { errCh <- p.captureLoop(runCtx) }()
	go func() { errCh <- p.playbackLoop(runCtx) }()

	first := <-errCh
	cancel()
	if p.dev != nil {
		_ = p.dev.Close()
	}
	<-errCh

	if ctx.Err() != nil {
		return ctx.Err()
	}
	return first
}

// captureLoop implements spec §4.6's capture direction: PCM capture (or
// text-only fallback when p.dev is nil) -> mono downmix -> resample to
// 8kHz -> 160-sample windows -> AMR-NB encode -> chunk -> bridge, draining
// queued outbound text and honoring reset requests along the way.
func (p *Pipeline) captureLoop(ctx context.Context) error {
	var leftover []int16
	var captureCh <-chan []int16
	if p.dev != nil {
		captureCh = p.dev.Capture()
	}

	ticker := time.NewTicker(textPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-p.resetPeerDecoder:
			if err := p.writeChunk(ntchunk.Reset()); err != nil {
				return err
			}

		case <-p.resetSelfEncoder:
			leftover = nil
			if err := p.writeChunk(ntchunk.Init()); err != nil {
				return err
			}

		case payload := <-p.outboundText:
			chunk, err := ntchunk.NewText(payload)
			if err != nil {
				p.log.Warnf("ntaudio: dropping oversized text payload: %v", err)
				continue
			}
			if err := p.writeChunk(chunk); err != nil {
				return err
			}

		case frame, ok := <-captureCh:
			if !ok {
				captureCh = nil
				continue
			}
			mono := downmix(frame, p.cfg.NativeChannels)
			leftover = append(leftover, p.captureResample.Process(mono)...)
			for len(leftover) >= amrnb.SamplesPerFrame {
				window := leftover[:amrnb.SamplesPerFrame]
				leftover = leftover[amrnb.SamplesPerFrame:]
				encoded, err := amrnb.Encode(p.cfg.Mode, window)
				if err != nil {
					return err
				}
				chunk, err := ntchunk.NewSpeech(encoded)
				if err != nil {
					return err
				}
				if err := p.writeChunk(chunk); err != nil {
					return err
				}
			}

		case <-ticker.C:
			// Idle tick: nothing to do, just loop back to re-check the
			// reset/text channels promptly even with no audio device.
		}
	}
}

// playbackLoop implements spec §4.6's playback direction: bridge -> chunk
// parser -> (Reset/Init/NoOp/Text handling) -> AMR-NB decode -> resample to
// native rate -> channel duplication -> PCM playback (or discarded in
// text-only fallback).
func (p *Pipeline) playbackLoop(ctx context.Context) error {
	parser := ntchunk.NewParser()
	buf := make([]byte, ntchunk.Size*4)

	var playbackCh chan<- []int16
	if p.dev != nil {
		playbackCh = p.dev.Playback()
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := p.bridge.SetReadDeadline(time.Now().Add(textPollInterval)); err != nil {
			return err
		}
		n, err := p.bridge.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return err
		}
		parser.Feed(buf[:n])

		for {
			chunk, ok, err := parser.Next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}

			switch chunk.Kind {
			case ntchunk.KindReset:
				p.requestSelfEncoderReset()
			case ntchunk.KindInit:
				// ntchunk.Parser already cleared its own resetNeeded state.
			case ntchunk.KindNoOp:
				// consumed, no further action
			case ntchunk.KindText:
				select {
				case p.inboundText <- chunk.Text:
				default:
					p.log.Warn("ntaudio: inbound text queue full, dropping message")
				}
			case ntchunk.KindSpeech:
				pcm, _, err := amrnb.Decode(chunk.Speech)
				if err != nil {
					parser.SetResetNeeded(true)
					p.requestPeerDecoderReset()
					continue
				}
				if playbackCh == nil {
					continue
				}
				native := p.playbackResample.Process(pcm)
				frame := upmix(native, p.cfg.NativeChannels)
				select {
				case playbackCh <- frame:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}

func (p *Pipeline) requestSelfEncoderReset() {
	select {
	case p.resetSelfEncoder <- struct{}{}:
	default:
	}
}

func (p *Pipeline) requestPeerDecoderReset() {
	select {
	case p.resetPeerDecoder <- struct{}{}:
	default:
	}
}

func (p *Pipeline) writeChunk(c ntchunk.Chunk) error {
	encoded := c.Encode()
	if err := p.bridge.SetWriteDeadline(time.Now().Add(textPollInterval)); err != nil {
		return err
	}
	_, err := p.bridge.Write(encoded[:])
	return err
}

// downmix averages an interleaved multi-channel frame into mono samples.
func downmix(frame []int16, channels int) []int16 {
	if channels <= 1 {
		return frame
	}
	out := make([]int16, len(frame)/channels)
	for i := range out {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(frame[i*channels+c])
		}
		out[i] = int16(sum / int32(channels))
	}
	return out
}

// upmix duplicates mono samples across an interleaved multi-channel frame.
func upmix(mono []int16, channels int) []int16 {
	if channels <= 1 {
		return mono
	}
	out := make([]int16, len(mono)*channels)
	for i, s := range mono {
		for c := 0; c < channels; c++ {
			out[i*channels+c] = s
		}
	}
	return out
}
