package redline

import (
	"strings"
	"unicode/utf8"
)

// Ack is the fixed positive acknowledgment written for every chunk.
var Ack = []byte("+OK\r\n")

// Chunk is the data returned by one successful read.
// A logical message larger than the read buffer arrives as several chunks;
// chunks are never reassembled.
type Chunk struct {
	data []byte
}

// NewChunk wraps b without copying it.
func NewChunk(b []byte) Chunk {
	return Chunk{data: b}
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int {
	return len(c.data)
}

// Bytes returns the raw bytes. Protocol decisions must be based on these.
func (c Chunk) Bytes() []byte {
	return c.data
}

// Text returns a lossy UTF-8 decoding of the chunk for logging.
// Each maximal invalid subsequence is replaced with one U+FFFD, so
// "\xff\xfe" becomes two replacement characters and a truncated
// multi-byte sequence becomes one.
func (c Chunk) Text() string {
	if utf8.Valid(c.data) {
		return string(c.data)
	}

	var b strings.Builder
	b.Grow(len(c.data) + 8)
	for p := c.data; len(p) > 0; {
		r, size := utf8.DecodeRune(p)
		if r == utf8.RuneError && size <= 1 {
			b.WriteRune(utf8.RuneError)
			p = p[invalidPrefixLen(p):]
			continue
		}
		b.WriteRune(r)
		p = p[size:]
	}
	return b.String()
}

// invalidPrefixLen returns the length of the invalid sequence at the start
// of p: the lead byte plus any continuation bytes that still formed a valid
// prefix of a multi-byte encoding. It is at least 1.
func invalidPrefixLen(p []byte) int {
	var (
		want   int
		lo, hi byte = 0x80, 0xBF
	)
	switch lead := p[0]; {
	case lead >= 0xC2 && lead <= 0xDF:
		want = 2
	case lead == 0xE0:
		want, lo = 3, 0xA0
	case lead == 0xED:
		want, hi = 3, 0x9F
	case lead >= 0xE1 && lead <= 0xEF:
		want = 3
	case lead == 0xF0:
		want, lo = 4, 0x90
	case lead == 0xF4:
		want, hi = 4, 0x8F
	case lead >= 0xF1 && lead <= 0xF3:
		want = 4
	default:
		return 1
	}

	n := 1
	for n < want && n < len(p) && p[n] >= lo && p[n] <= hi {
		n++
		lo, hi = 0x80, 0xBF
	}
	return n
}

// Responder produces the reply for a chunk.
// Applications implement it to layer a real protocol over the connection core.
type Responder interface {
	Respond(Chunk) ([]byte, error)
}

// ResponderFunc adapts a function to the Responder interface.
type ResponderFunc func(Chunk) ([]byte, error)

// Respond calls f(c).
func (f ResponderFunc) Respond(c Chunk) ([]byte, error) {
	return f(c)
}

// AckResponder answers every chunk with Ack, regardless of content.
type AckResponder struct{}

// Respond returns Ack.
func (AckResponder) Respond(Chunk) ([]byte, error) {
	return Ack, nil
}
