// Package wire defines the frame format shared by every command class.
//
// A frame is a fixed 8-byte header, an optional extended header, and a
// payload. Multi-byte integers are big-endian.
//
//	0-1  class
//	2    (id << 2) | opcode       id 0..63, opcode Read=0 Write=1 Notify=2 Response=3
//	3    control                  bit7 extended header, bit6 secured,
//	                              bit5 response required, bits 4-0 zero
//	4-7  sequence number
//
// The extended header is version, priority and an option mask, followed by
// the optional fields selected by the mask in descending bit order: status
// code, additional status, log entries, battery level, RSSI/SNR, timestamp.
// The two low mask bits are reserved and must be zero.
//
// Payloads are CBOR (RFC 8949) maps with integer keys. A secured payload
// ends in a 16-byte authentication tag.
//
// Decoding never reads past the supplied slice. Short input fails with
// ErrShortBuffer and malformed input with ErrFormat.
package wire
