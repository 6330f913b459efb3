package amrnb

import "testing"

func TestEncodeDecodeAllModesProduceExpectedFrameSize(t *testing.T) {
	pcm := make([]int16, SamplesPerFrame)
	for i := range pcm {
		pcm[i] = int16((i%200)*100 - 9000)
	}

	for mode := Mode4750; mode <= Mode12200; mode++ {
		frame, err := Encode(mode, pcm)
		if err != nil {
			t.Fatalf("Encode(mode=%d): %v", mode, err)
		}
		want, _ := FrameSize(mode)
		if len(frame) != want {
			t.Fatalf("mode %d: frame length = %d, want %d", mode, len(frame), want)
		}

		decoded, gotMode, err := Decode(frame)
		if err != nil {
			t.Fatalf("Decode(mode=%d): %v", mode, err)
		}
		if gotMode != mode {
			t.Fatalf("decoded mode = %d, want %d", gotMode, mode)
		}
		if len(decoded) != SamplesPerFrame {
			t.Fatalf("decoded sample count = %d, want %d", len(decoded), SamplesPerFrame)
		}
	}
}

func TestEncodeRejectsWrongSampleCount(t *testing.T) {
	if _, err := Encode(DefaultMode, make([]int16, SamplesPerFrame-1)); err != ErrInvalidFrameSamples {
		t.Fatalf("err = %v, want ErrInvalidFrameSamples", err)
	}
}

func TestEncodeRejectsInvalidMode(t *testing.T) {
	if _, err := Encode(Mode(99), make([]int16, SamplesPerFrame)); err != ErrInvalidMode {
		t.Fatalf("err = %v, want ErrInvalidMode", err)
	}
}

func TestDecodeRejectsBadFrameLength(t *testing.T) {
	if _, _, err := Decode(make([]byte, 5)); err != ErrInvalidFrameLength {
		t.Fatalf("short frame err = %v, want ErrInvalidFrameLength", err)
	}
	if _, _, err := Decode(make([]byte, 40)); err != ErrInvalidFrameLength {
		t.Fatalf("long frame err = %v, want ErrInvalidFrameLength", err)
	}
}

func TestMuLawRoundTripPreservesSignAndRoughMagnitude(t *testing.T) {
	samples := []int16{0, 100, -100, 5000, -5000, 32000, -32000}
	for _, s := range samples {
		enc := muLawEncode(s)
		dec := muLawDecode(enc)
		if (s > 0) != (dec > 0) && s != 0 {
			t.Fatalf("muLaw round trip flipped sign: %d -> %d", s, dec)
		}
	}
}

func TestSpeechFrameHeaderLeavesMarkerBitClear(t *testing.T) {
	pcm := make([]int16, SamplesPerFrame)
	frame, err := Encode(DefaultMode, pcm)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if frame[0]&0x01 != 0 {
		t.Fatal("amrnb.Encode must leave the wire marker bit (0x01) clear for pkg/ntchunk to set")
	}
}
