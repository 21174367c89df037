package storage

import (
	"errors"

	"github.com/openpermissions/chubindex/pkg/types"
)

// ErrNotFound is returned when a repository id is not in the store.
var ErrNotFound = errors.New("repository not found")

// Store defines the interface for the durable repository registry.
// This is implemented by BoltDB-backed storage.
type Store interface {
	PutRepository(rec *types.RepositoryRecord) error
	GetRepository(id string) (*types.RepositoryRecord, error)
	ListRepositoryIDs() ([]string, error)
	Close() error
}
