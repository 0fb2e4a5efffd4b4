package wire

import "strings"

// Opcode is the 2-bit command type carried in the low bits of header byte 2.
type Opcode uint8

const (
	// OpRead requests the current value of a command resource.
	OpRead Opcode = 0

	// OpWrite sets a value or submits a request.
	OpWrite Opcode = 1

	// OpNotify is an unsolicited report.
	OpNotify Opcode = 2

	// OpResponse answers a Read or Write.
	OpResponse Opcode = 3
)

// NumOpcodes is the number of opcode slots per (class, id).
const NumOpcodes = 4

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpRead:
		return "Read"
	case OpWrite:
		return "Write"
	case OpNotify:
		return "Notify"
	case OpResponse:
		return "Response"
	default:
		return "Unknown"
	}
}

// IsValid returns true if the opcode fits in two bits.
func (o Opcode) IsValid() bool {
	return o <= OpResponse
}

// ParseOpcode parses an opcode name, case-insensitively.
func ParseOpcode(s string) (Opcode, bool) {
	for o := OpRead; o <= OpResponse; o++ {
		if strings.EqualFold(s, o.String()) {
			return o, true
		}
	}
	return 0, false
}
