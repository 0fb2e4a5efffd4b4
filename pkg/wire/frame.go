package wire

import (
	"fmt"
)

// TagSize is the authentication tag length of a secured payload.
const TagSize = 16

// Frame is a decoded frame.
type Frame struct {
	Header  Header
	Payload []byte
}

// Tag returns the authentication tag of a secured frame, or nil.
func (f *Frame) Tag() []byte {
	if !f.Header.Secured || len(f.Payload) < TagSize {
		return nil
	}
	return f.Payload[len(f.Payload)-TagSize:]
}

// EncodeFrame encodes header and payload into a new buffer.
func EncodeFrame(f *Frame) ([]byte, error) {
	if f.Header.Secured && len(f.Payload) < TagSize {
		return nil, fmt.Errorf("%w: secured payload of %d bytes has no tag", ErrFormat, len(f.Payload))
	}
	buf := make([]byte, 0, f.Header.Size()+len(f.Payload))
	buf, err := AppendHeader(buf, &f.Header)
	if err != nil {
		return nil, err
	}
	return append(buf, f.Payload...), nil
}

// DecodeFrame decodes a frame. The payload is copied out of data.
func DecodeFrame(data []byte) (*Frame, error) {
	h, n, err := DecodeHeader(data)
	if err != nil {
		return nil, err
	}
	rest := data[n:]
	if h.Secured && len(rest) < TagSize {
		return nil, fmt.Errorf("%w: secured payload of %d bytes, tag needs %d", ErrShortBuffer, len(rest), TagSize)
	}
	payload := make([]byte, len(rest))
	copy(payload, rest)
	return &Frame{Header: *h, Payload: payload}, nil
}
