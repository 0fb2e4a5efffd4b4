package persistence

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// File names inside a FileStore directory.
const (
	DeviceFile  = "device.json"
	GatewayFile = "gateway.json"
)

// FileStore keeps each document as a JSON file in a directory.
type FileStore struct {
	mu  sync.Mutex
	dir string
}

// NewFileStore creates a store rooted at dir. The directory is created on
// the first save.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// LoadDevice reads the device document.
func (s *FileStore) LoadDevice() (*DeviceState, error) {
	st := &DeviceState{}
	ok, err := s.load(DeviceFile, st)
	if !ok || err != nil {
		return nil, err
	}
	if err := checkVersion(st.Version); err != nil {
		return nil, fmt.Errorf("%s: %w", DeviceFile, err)
	}
	return st, nil
}

// SaveDevice writes the device document.
func (s *FileStore) SaveDevice(state *DeviceState) error {
	stamp(&state.Version, &state.SavedAt)
	return s.save(DeviceFile, state)
}

// LoadGateway reads the gateway document.
func (s *FileStore) LoadGateway() (*GatewayState, error) {
	st := &GatewayState{}
	ok, err := s.load(GatewayFile, st)
	if !ok || err != nil {
		return nil, err
	}
	if err := checkVersion(st.Version); err != nil {
		return nil, fmt.Errorf("%s: %w", GatewayFile, err)
	}
	return st, nil
}

// SaveGateway writes the gateway document.
func (s *FileStore) SaveGateway(state *GatewayState) error {
	stamp(&state.Version, &state.SavedAt)
	return s.save(GatewayFile, state)
}

// Clear removes both documents.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, name := range []string{DeviceFile, GatewayFile} {
		err := os.Remove(filepath.Join(s.dir, name))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close is a no-op.
func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) load(name string, v any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return true, nil
}

// save writes through a temporary file so a crash never leaves a torn
// document.
func (s *FileStore) save(name string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	path := filepath.Join(s.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
