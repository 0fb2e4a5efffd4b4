package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketState = []byte("state")
	keyDevice   = []byte("device")
	keyGateway  = []byte("gateway")
)

// BoltStore keeps the documents in a bbolt database.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens or creates the database at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketState)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// LoadDevice reads the device document.
func (s *BoltStore) LoadDevice() (*DeviceState, error) {
	st := &DeviceState{}
	ok, err := s.get(keyDevice, st)
	if !ok || err != nil {
		return nil, err
	}
	if err := checkVersion(st.Version); err != nil {
		return nil, fmt.Errorf("%s: %w", keyDevice, err)
	}
	return st, nil
}

// SaveDevice writes the device document.
func (s *BoltStore) SaveDevice(state *DeviceState) error {
	stamp(&state.Version, &state.SavedAt)
	return s.put(keyDevice, state)
}

// LoadGateway reads the gateway document.
func (s *BoltStore) LoadGateway() (*GatewayState, error) {
	st := &GatewayState{}
	ok, err := s.get(keyGateway, st)
	if !ok || err != nil {
		return nil, err
	}
	if err := checkVersion(st.Version); err != nil {
		return nil, fmt.Errorf("%s: %w", keyGateway, err)
	}
	return st, nil
}

// SaveGateway writes the gateway document.
func (s *BoltStore) SaveGateway(state *GatewayState) error {
	stamp(&state.Version, &state.SavedAt)
	return s.put(keyGateway, state)
}

// Clear removes both documents.
func (s *BoltStore) Clear() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketState)
		}
		if err := b.Delete(keyDevice); err != nil {
			return err
		}
		return b.Delete(keyGateway)
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) get(key []byte, v any) (bool, error) {
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketState)
		}
		data := b.Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, v)
	})
	return found, err
}

func (s *BoltStore) put(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketState)
		if b == nil {
			return fmt.Errorf("bucket %q not found", bucketState)
		}
		return b.Put(key, data)
	})
}
