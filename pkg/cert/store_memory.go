package cert

import "sync"

// MemoryStore is an in-memory credential store.
// This is primarily useful for testing and for credentials loaded elsewhere.
type MemoryStore struct {
	mu      sync.RWMutex
	device  *DeviceCredentials
	gateway *GatewayCredentials
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// DeviceCredentials returns the device credentials.
func (s *MemoryStore) DeviceCredentials() (*DeviceCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.device == nil {
		return nil, ErrCertNotFound
	}
	return s.device, nil
}

// SetDeviceCredentials stores validated device credentials.
func (s *MemoryStore) SetDeviceCredentials(c *DeviceCredentials) error {
	if c == nil {
		return ErrInvalidCert
	}
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.device = c
	return nil
}

// GatewayCredentials returns the gateway credentials.
func (s *MemoryStore) GatewayCredentials() (*GatewayCredentials, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.gateway == nil {
		return nil, ErrCertNotFound
	}
	return s.gateway, nil
}

// SetGatewayCredentials stores validated gateway credentials.
func (s *MemoryStore) SetGatewayCredentials(c *GatewayCredentials) error {
	if c == nil {
		return ErrInvalidCert
	}
	if err := c.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.gateway = c
	return nil
}
