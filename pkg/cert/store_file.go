package cert

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// File names inside a credential directory.
const (
	manifestFile   = "credentials.yaml"
	deviceKeyFile  = "device.key"
	modelPubFile   = "model.pub"
	peerPubFile    = "peer.pub"
	gatewayKeyFile = "gateway.key"
	rootPubFile    = "root.pub"
)

// manifest is the YAML index of a credential directory.
// Binary fields are hex encoded; keys live in PEM files next to it.
type manifest struct {
	Device  *deviceManifest  `yaml:"device,omitempty"`
	Gateway *gatewayManifest `yaml:"gateway,omitempty"`
}

type deviceManifest struct {
	Serial         string `yaml:"serial"`
	Signature      string `yaml:"signature"`
	Key            string `yaml:"key"`
	ModelSerial    string `yaml:"model_serial"`
	ModelSignature string `yaml:"model_signature"`
	ModelPublicKey string `yaml:"model_public_key"`
	PeerPublicKey  string `yaml:"peer_public_key"`
}

type gatewayManifest struct {
	Key           string   `yaml:"key"`
	RootPublicKey string   `yaml:"root_public_key"`
	Revoked       []string `yaml:"revoked,omitempty"`
	RevokedModels []string `yaml:"revoked_models,omitempty"`
}

// FileStore reads credentials from a directory holding credentials.yaml
// and PEM key files. Credentials are loaded once and cached.
type FileStore struct {
	dir string

	mu      sync.Mutex
	loaded  bool
	device  *DeviceCredentials
	gateway *GatewayCredentials
}

// NewFileStore creates a store rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// DeviceCredentials returns the device credentials.
func (s *FileStore) DeviceCredentials() (*DeviceCredentials, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	if s.device == nil {
		return nil, ErrCertNotFound
	}
	return s.device, nil
}

// GatewayCredentials returns the gateway credentials.
func (s *FileStore) GatewayCredentials() (*GatewayCredentials, error) {
	if err := s.load(); err != nil {
		return nil, err
	}
	if s.gateway == nil {
		return nil, ErrCertNotFound
	}
	return s.gateway, nil
}

func (s *FileStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.loaded {
		return nil
	}

	data, err := os.ReadFile(filepath.Join(s.dir, manifestFile))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrCertNotFound
		}
		return err
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("parse %s: %w", manifestFile, err)
	}

	if m.Device != nil {
		dc, err := s.loadDevice(m.Device)
		if err != nil {
			return fmt.Errorf("device credentials: %w", err)
		}
		s.device = dc
	}
	if m.Gateway != nil {
		gc, err := s.loadGateway(m.Gateway)
		if err != nil {
			return fmt.Errorf("gateway credentials: %w", err)
		}
		s.gateway = gc
	}
	s.loaded = true
	return nil
}

func (s *FileStore) loadDevice(m *deviceManifest) (*DeviceCredentials, error) {
	key, err := ReadKeyFile(filepath.Join(s.dir, m.Key))
	if err != nil {
		return nil, err
	}
	modelPub, err := ReadPublicKeyFile(filepath.Join(s.dir, m.ModelPublicKey))
	if err != nil {
		return nil, err
	}
	peerPub, err := ReadPublicKeyFile(filepath.Join(s.dir, m.PeerPublicKey))
	if err != nil {
		return nil, err
	}

	var fields [4][]byte
	for i, h := range []string{m.Serial, m.Signature, m.ModelSerial, m.ModelSignature} {
		if fields[i], err = hex.DecodeString(h); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidCert, err)
		}
	}

	dc := &DeviceCredentials{
		Key:           key,
		Device:        DeviceCert{Serial: fields[0], PublicKey: &key.PublicKey, Signature: fields[1]},
		Model:         ModelCert{Serial: fields[2], PublicKey: modelPub, Signature: fields[3]},
		PeerPublicKey: peerPub,
	}
	if err := dc.Validate(); err != nil {
		return nil, err
	}
	return dc, nil
}

func (s *FileStore) loadGateway(m *gatewayManifest) (*GatewayCredentials, error) {
	key, err := ReadKeyFile(filepath.Join(s.dir, m.Key))
	if err != nil {
		return nil, err
	}
	root, err := ReadPublicKeyFile(filepath.Join(s.dir, m.RootPublicKey))
	if err != nil {
		return nil, err
	}

	revoked, err := parseRevocationList(m.Revoked)
	if err != nil {
		return nil, err
	}
	revokedModels, err := parseRevocationList(m.RevokedModels)
	if err != nil {
		return nil, err
	}
	return &GatewayCredentials{
		IdentityKey:   key,
		RootPublicKey: root,
		Revoked:       revoked,
		RevokedModels: revokedModels,
	}, nil
}

func parseRevocationList(serials []string) (RevocationList, error) {
	l := make(RevocationList, len(serials))
	for _, h := range serials {
		serial, err := hex.DecodeString(h)
		if err != nil {
			return nil, fmt.Errorf("%w: revoked serial: %v", ErrInvalidSerial, err)
		}
		l.Add(serial)
	}
	return l, nil
}

// WriteDeviceDir writes device credentials into dir in FileStore layout.
func WriteDeviceDir(dir string, c *DeviceCredentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := WriteKeyFile(filepath.Join(dir, deviceKeyFile), c.Key); err != nil {
		return err
	}
	if err := WritePublicKeyFile(filepath.Join(dir, modelPubFile), c.Model.PublicKey); err != nil {
		return err
	}
	if err := WritePublicKeyFile(filepath.Join(dir, peerPubFile), c.PeerPublicKey); err != nil {
		return err
	}
	return writeManifest(dir, func(m *manifest) {
		m.Device = &deviceManifest{
			Serial:         hex.EncodeToString(c.Device.Serial),
			Signature:      hex.EncodeToString(c.Device.Signature),
			Key:            deviceKeyFile,
			ModelSerial:    hex.EncodeToString(c.Model.Serial),
			ModelSignature: hex.EncodeToString(c.Model.Signature),
			ModelPublicKey: modelPubFile,
			PeerPublicKey:  peerPubFile,
		}
	})
}

// WriteGatewayDir writes gateway credentials into dir in FileStore layout.
func WriteGatewayDir(dir string, c *GatewayCredentials) error {
	if err := c.Validate(); err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	if err := WriteKeyFile(filepath.Join(dir, gatewayKeyFile), c.IdentityKey); err != nil {
		return err
	}
	if err := WritePublicKeyFile(filepath.Join(dir, rootPubFile), c.RootPublicKey); err != nil {
		return err
	}
	return writeManifest(dir, func(m *manifest) {
		m.Gateway = &gatewayManifest{
			Key:           gatewayKeyFile,
			RootPublicKey: rootPubFile,
			Revoked:       c.Revoked.Serials(),
			RevokedModels: c.RevokedModels.Serials(),
		}
	})
}

// writeManifest merges into an existing manifest so device and gateway
// credentials can share a directory.
func writeManifest(dir string, update func(*manifest)) error {
	path := filepath.Join(dir, manifestFile)

	var m manifest
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse %s: %w", manifestFile, err)
		}
	}
	update(&m)

	data, err := yaml.Marshal(&m)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
