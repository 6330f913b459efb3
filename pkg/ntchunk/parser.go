package ntchunk

// Parser incrementally decodes chunks from a byte stream. It owns a rolling
// input buffer and the "reset-needed" resynchronization state described in
// spec §4.2: when the decoder has no framing reference yet (no Init chunk
// observed since the last Reset), unrecognized bytes are discarded one byte
// at a time rather than desynchronizing the parser for the life of the
// session. This mirrors original_source/src/uncompress.c's
// nettalk_decode_audio prefix-match loop.
type Parser struct {
	buf          []byte
	resetNeeded  bool
}

// NewParser returns a Parser. resetNeeded starts true: per spec §4.6's
// decoder state machine, a fresh decoder begins in ResetNeeded until an
// Init chunk is observed.
func NewParser() *Parser {
	return &Parser{resetNeeded: true}
}

// ResetNeeded reports whether the parser is currently resynchronizing
// (dropping unrecognized bytes one at a time waiting for an Init chunk).
func (p *Parser) ResetNeeded() bool {
	return p.resetNeeded
}

// SetResetNeeded forces the resynchronization state, e.g. after a decode
// fault in the audio pipeline that is not itself detectable from chunk
// framing alone.
func (p *Parser) SetResetNeeded(v bool) {
	p.resetNeeded = v
}

// Feed appends newly-read bytes to the parser's rolling buffer.
func (p *Parser) Feed(data []byte) {
	p.buf = append(p.buf, data...)
}

// Buffered returns the number of bytes currently queued, unparsed.
func (p *Parser) Buffered() int {
	return len(p.buf)
}

// Next attempts to decode one chunk from the front of the buffer. It
// returns ok=false and a nil error if fewer than Size bytes are currently
// buffered.
// On an Init chunk, resetNeeded is cleared. While resetNeeded is set,
// anything that isn't a recognized control/text pattern is discarded one
// byte at a time instead of being treated as a (possibly bogus) Speech
// chunk, per spec §4.2 and §4.6's ResetNeeded state.
func (p *Parser) Next() (Chunk, bool, error) {
	for {
		if len(p.buf) < Size {
			return Chunk{}, false, nil
		}

		head := p.buf[:Size]

		switch {
		case matches(head, resetPattern):
			p.advance(Size)
			return Reset(), true, nil

		case matches(head, initPattern):
			p.resetNeeded = false
			p.advance(Size)
			return Init(), true, nil

		case matches(head, noopPattern):
			p.advance(Size)
			return NoOp(), true, nil

		case isTextPrefix(head):
			payload := make([]byte, TextPayloadSize)
			copy(payload, head[textTagSize:])
			p.advance(Size)
			return Chunk{Kind: KindText, Text: payload}, true, nil

		case p.resetNeeded:
			// Resynchronizing: no known pattern, advance one byte and try
			// again rather than mis-decoding noise as speech.
			p.advance(1)
			continue

		default:
			speech := make([]byte, Size)
			copy(speech, head)
			p.advance(Size)
			return Chunk{Kind: KindSpeech, Speech: speech}, true, nil
		}
	}
}

func (p *Parser) advance(n int) {
	p.buf = p.buf[n:]
	if len(p.buf) == 0 {
		p.buf = nil
	}
}

func matches(head []byte, pattern [Size]byte) bool {
	for i := 0; i < Size; i++ {
		if head[i] != pattern[i] {
			return false
		}
	}
	return true
}

func isTextPrefix(head []byte) bool {
	for i := 0; i < textTagSize; i++ {
		if head[i] != 0xff {
			return false
		}
	}
	return true
}
