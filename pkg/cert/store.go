package cert

// DeviceStore serves device credentials.
// Implementations must be safe for concurrent access.
type DeviceStore interface {
	// DeviceCredentials returns the device credentials.
	// Returns ErrCertNotFound if none are provisioned.
	DeviceCredentials() (*DeviceCredentials, error)
}

// GatewayStore serves gateway credentials.
// Implementations must be safe for concurrent access.
type GatewayStore interface {
	// GatewayCredentials returns the gateway credentials.
	// Returns ErrCertNotFound if none are provisioned.
	GatewayCredentials() (*GatewayCredentials, error)
}
