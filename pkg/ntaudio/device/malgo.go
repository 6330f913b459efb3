// Package device wires the audio pipeline's PCM capture/playback
// collaborator to the host sound card via github.com/gen2brain/malgo,
// grounded on other_examples/b186fc7f_doismellburning-samoyed__src-audio.go.go's
// malgo.InitContext/InitDevice/DeviceCallbacks usage.
package device

import (
	"encoding/binary"
	"errors"

	"github.com/gen2brain/malgo"
	"github.com/pion/logging"
)

// ErrOverrun is logged (not returned) when a capture period arrives faster
// than the consumer drains captureCh; the period is dropped rather than
// blocking the real-time callback.
var ErrOverrun = errors.New("device: capture overrun, period dropped")

// PCM is a bidirectional audio device: interleaved 16-bit signed samples,
// at a channel count and fixed sample rate chosen by the caller (the
// pipeline downmixes/upmixes and resamples to/from AMR-NB's 8kHz mono
// separately).
type PCM struct {
	ctx      *malgo.AllocatedContext
	capture  *malgo.Device
	playback *malgo.Device

	sampleRate int
	channels   int

	captureCh  chan []int16
	playbackCh chan []int16

	log logging.LeveledLogger
}

// periodMillis matches the teacher example's ONE_BUF_TIME-style fixed
// period size; 20ms lines up with AMR-NB's own frame window.
const periodMillis = 20

// Open starts capture and playback streams at sampleRate Hz, channels
// channels, 16-bit signed PCM.
func Open(sampleRate, channels int, log logging.LeveledLogger) (*PCM, error) {
	if log == nil {
		log = logging.NewDefaultLoggerFactory().NewLogger("ntaudio-device")
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}

	p := &PCM{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
		captureCh:  make(chan []int16, 8),
		playbackCh: make(chan []int16, 8),
		log:        log,
	}

	captureConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	captureConfig.Capture.Format = malgo.FormatS16
	captureConfig.Capture.Channels = uint32(channels)
	captureConfig.SampleRate = uint32(sampleRate)
	captureConfig.PeriodSizeInMilliseconds = periodMillis

	captureCallbacks := malgo.DeviceCallbacks{
		Data: func(_, pInput []byte, _ uint32) {
			if len(pInput) == 0 {
				return
			}
			frame := bytesToInt16(pInput)
			select {
			case p.captureCh <- frame:
			default:
				p.log.Warn(ErrOverrun.Error())
			}
		},
	}

	captureDevice, err := malgo.InitDevice(ctx.Context, captureConfig, captureCallbacks)
	if err != nil {
		_ = ctx.Uninit()
		return nil, err
	}
	p.capture = captureDevice

	playbackConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	playbackConfig.Playback.Format = malgo.FormatS16
	playbackConfig.Playback.Channels = uint32(channels)
	playbackConfig.SampleRate = uint32(sampleRate)
	playbackConfig.PeriodSizeInMilliseconds = periodMillis

	var residual []int16
	playbackCallbacks := malgo.DeviceCallbacks{
		Data: func(pOutput, _ []byte, frameCount uint32) {
			need := int(frameCount) * channels
			for len(residual) < need {
				select {
				case frame := <-p.playbackCh:
					residual = append(residual, frame...)
				default:
					// Nothing queued; pad the remainder with silence.
					residual = append(residual, make([]int16, need-len(residual))...)
				}
			}
			int16ToBytes(residual[:need], pOutput)
			residual = residual[need:]
		},
	}

	playbackDevice, err := malgo.InitDevice(ctx.Context, playbackConfig, playbackCallbacks)
	if err != nil {
		_ = p.capture.Uninit()
		_ = ctx.Uninit()
		return nil, err
	}
	p.playback = playbackDevice

	if err := p.capture.Start(); err != nil {
		_ = p.Close()
		return nil, err
	}
	if err := p.playback.Start(); err != nil {
		_ = p.Close()
		return nil, err
	}

	return p, nil
}

// Capture returns the channel of native-rate PCM periods read from the
// microphone.
func (p *PCM) Capture() <-chan []int16 { return p.captureCh }

// Playback returns the channel audio should be pushed to for output.
func (p *PCM) Playback() chan<- []int16 { return p.playbackCh }

// Close stops and releases both devices and the malgo context.
func (p *PCM) Close() error {
	if p.capture != nil {
		_ = p.capture.Uninit()
	}
	if p.playback != nil {
		_ = p.playback.Uninit()
	}
	if p.ctx != nil {
		return p.ctx.Uninit()
	}
	return nil
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return out
}

func int16ToBytes(in []int16, out []byte) {
	for i, s := range in {
		if (i+1)*2 > len(out) {
			return
		}
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(s))
	}
}
