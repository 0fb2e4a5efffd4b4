package wire

// Status represents a response status code.
type Status uint8

const (
	// StatusSuccess indicates the operation completed successfully.
	StatusSuccess Status = 0

	// StatusUnsupported indicates no handler exists for the (class, id, opcode).
	StatusUnsupported Status = 1

	// StatusInvalidParameter indicates a parameter value failed validation.
	StatusInvalidParameter Status = 2

	// StatusInvalidState indicates the request is not valid in the current state.
	StatusInvalidState Status = 3

	// StatusBusy indicates the node is busy; try again later.
	StatusBusy Status = 4

	// StatusRejected indicates the peer refused the request.
	StatusRejected Status = 5

	// StatusAuthFailed indicates a signature or authentication check failed.
	StatusAuthFailed Status = 6

	// StatusTimeout indicates the operation timed out.
	StatusTimeout Status = 7

	// StatusMalformed indicates the payload could not be decoded.
	StatusMalformed Status = 8
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusInvalidState:
		return "INVALID_STATE"
	case StatusBusy:
		return "BUSY"
	case StatusRejected:
		return "REJECTED"
	case StatusAuthFailed:
		return "AUTH_FAILED"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusMalformed:
		return "MALFORMED"
	default:
		return "UNKNOWN"
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// IsError returns true if the status indicates an error.
func (s Status) IsError() bool {
	return s != StatusSuccess
}
