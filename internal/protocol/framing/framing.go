package framing

import (
	"encoding/binary"
	"errors"
)

const (
	Magic1     byte = 0x94
	Magic2     byte = 0xC3
	HeaderLen       = 4
	MaxPayload      = 512
)

var (
	ErrPayloadTooLarge = errors.New("framing: payload too large")
	ErrEmptyPayload    = errors.New("framing: empty payload")
)

// Encode wraps payload in a wire frame: the two magic bytes, the
// big-endian payload length, then the payload itself.
func Encode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	buf := make([]byte, HeaderLen+len(payload))
	buf[0] = Magic1
	buf[1] = Magic2
	binary.BigEndian.PutUint16(buf[2:4], uint16(len(payload)))
	copy(buf[HeaderLen:], payload)
	return buf, nil
}

// Decoder reassembles frames from a byte stream that arrives in
// arbitrary chunks and may carry garbage between frames. Feeding it
// never fails: bytes that cannot begin a valid frame are dropped one at
// a time until the stream resynchronizes on the next header.
//
// Decoder is not safe for concurrent use; the owning reader goroutine
// is expected to be its only caller.
type Decoder struct {
	buf       []byte
	discarded uint64
}

// Feed appends chunk to the retained buffer and returns every complete
// frame payload now available, in stream order. Partial frames stay
// buffered until later feeds complete them.
func (d *Decoder) Feed(chunk []byte) [][]byte {
	d.buf = append(d.buf, chunk...)

	var payloads [][]byte
	cursor := 0
	for {
		remaining := len(d.buf) - cursor
		if remaining < HeaderLen {
			break
		}
		if d.buf[cursor] != Magic1 || d.buf[cursor+1] != Magic2 {
			cursor++
			d.discarded++
			continue
		}
		length := int(binary.BigEndian.Uint16(d.buf[cursor+2 : cursor+4]))
		if length == 0 || length > MaxPayload {
			// A corrupt length can conceal a real header one byte ahead.
			cursor++
			d.discarded++
			continue
		}
		if remaining < HeaderLen+length {
			break
		}
		payload := make([]byte, length)
		copy(payload, d.buf[cursor+HeaderLen:cursor+HeaderLen+length])
		payloads = append(payloads, payload)
		cursor += HeaderLen + length
	}

	d.buf = append(d.buf[:0], d.buf[cursor:]...)
	return payloads
}

// Buffered reports how many unconsumed bytes the decoder is holding.
func (d *Decoder) Buffered() int { return len(d.buf) }

// Discarded reports the cumulative count of bytes dropped while
// resynchronizing.
func (d *Decoder) Discarded() uint64 { return d.discarded }
