package wire

import (
	"encoding/binary"
	"errors"
)

const (
	// HeaderSize is the width of the big-endian length prefix.
	HeaderSize = 4

	// MaxFrame bounds a whole TCP frame, prefix included.
	MaxFrame = 1400

	// MaxPayload is the largest payload Encode accepts on a stream.
	MaxPayload = MaxFrame - HeaderSize

	// MaxDatagram bounds a whole UDP discovery datagram.
	MaxDatagram = 256

	// DefaultPort is the chat service TCP port.
	DefaultPort = 6489

	// DiscoveryPort is the well-known UDP discovery port.
	DiscoveryPort = 57803
)

var (
	ErrPayloadTooLarge = errors.New("wire: payload exceeds frame budget")
	ErrBadLength       = errors.New("wire: malformed length prefix")
)

// Encode prefixes payload with its big-endian length. The payload is
// rejected locally when the resulting frame would exceed MaxFrame.
func Encode(payload []byte) ([]byte, error) {
	return encode(payload, MaxPayload)
}

// EncodeDatagram is Encode with the tighter UDP datagram budget.
func EncodeDatagram(payload []byte) ([]byte, error) {
	return encode(payload, MaxDatagram-HeaderSize)
}

func encode(payload []byte, limit int) ([]byte, error) {
	if len(payload) > limit {
		return nil, ErrPayloadTooLarge
	}
	frame := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)
	return frame, nil
}

// Decoder reassembles length-prefixed payloads from an arbitrary
// fragmentation of the underlying byte stream. It keeps a partial-frame
// carry buffer across pushes, so a single push may yield zero, one or
// several complete payloads.
type Decoder struct {
	carry []byte
}

// Push consumes one chunk of raw bytes and returns every payload completed
// by it, in order. A malformed length prefix drops the buffered bytes and
// is reported as ErrBadLength; payloads completed before the bad prefix
// are still returned.
func (d *Decoder) Push(chunk []byte) ([][]byte, error) {
	d.carry = append(d.carry, chunk...)

	var payloads [][]byte
	for len(d.carry) >= HeaderSize {
		size := binary.BigEndian.Uint32(d.carry)
		if size > MaxPayload {
			d.carry = nil
			return payloads, ErrBadLength
		}
		total := HeaderSize + int(size)
		if len(d.carry) < total {
			break
		}
		payload := make([]byte, size)
		copy(payload, d.carry[HeaderSize:total])
		d.carry = d.carry[total:]
		payloads = append(payloads, payload)
	}
	return payloads, nil
}

// Pending reports how many carried bytes await the rest of their frame.
func (d *Decoder) Pending() int {
	return len(d.carry)
}
