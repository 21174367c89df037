package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openpermissions/chubindex/pkg/types"
	bolt "go.etcd.io/bbolt"
)

var bucketRepositories = []byte("repositories")

// BoltStore implements Store using BoltDB. Every Put is a committed bolt
// transaction, so records are durable before the caller reschedules.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the registry database inside
// dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "index.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRepositories); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucketRepositories, err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// PutRepository upserts a repository record.
func (s *BoltStore) PutRepository(rec *types.RepositoryRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put([]byte(rec.ID), data)
	})
}

// GetRepository returns the record for id, or ErrNotFound.
func (s *BoltStore) GetRepository(id string) (*types.RepositoryRecord, error) {
	var rec types.RepositoryRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		data := b.Get([]byte(id))
		if data == nil {
			return ErrNotFound
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListRepositoryIDs returns the ids of all known repositories.
func (s *BoltStore) ListRepositoryIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepositories)
		return b.ForEach(func(k, v []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}
