package secsession

// Role selects which side of the handshake an Engine plays.
type Role uint8

const (
	// RoleDevice initiates the handshake.
	RoleDevice Role = iota

	// RoleGateway answers the handshake and validates the device chain.
	RoleGateway
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleDevice:
		return "DEVICE"
	case RoleGateway:
		return "GATEWAY"
	default:
		return "UNKNOWN"
	}
}

// State is the handshake state.
type State uint8

const (
	// StateUninitialized is the state before the first message.
	StateUninitialized State = iota

	// StateCapabilitiesExchanged follows suite negotiation.
	StateCapabilitiesExchanged

	// StateEcdhSent follows the ephemeral key exchange.
	StateEcdhSent

	// StateHandshakeDone follows the nonce exchange.
	StateHandshakeDone

	// StateAuthenticated follows chain validation and the challenge.
	StateAuthenticated

	// StateSessionKeyReady is terminal success.
	StateSessionKeyReady

	// StateFailed is terminal failure.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateCapabilitiesExchanged:
		return "CAPABILITIES_EXCHANGED"
	case StateEcdhSent:
		return "ECDH_SENT"
	case StateHandshakeDone:
		return "HANDSHAKE_DONE"
	case StateAuthenticated:
		return "AUTHENTICATED"
	case StateSessionKeyReady:
		return "SESSION_KEY_READY"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsTerminal returns true for SessionKeyReady and Failed.
func (s State) IsTerminal() bool {
	return s == StateSessionKeyReady || s == StateFailed
}

// Flags records certificate-chain validation progress.
type Flags struct {
	CertSerialChecked       bool
	CountNonceReceived      bool
	DeviceSerialKeyReceived bool
	ModelSerialKeyReceived  bool
	SignaturesVerified      bool
}
