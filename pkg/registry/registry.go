package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openpermissions/chubindex/pkg/accounts"
	"github.com/openpermissions/chubindex/pkg/log"
	"github.com/openpermissions/chubindex/pkg/storage"
	"github.com/openpermissions/chubindex/pkg/types"
)

// ErrUnknownRepository is returned when a repository id is neither in the
// local store nor obtainable from the accounts service.
var ErrUnknownRepository = errors.New("unknown repository")

// AccountsClient is the part of the accounts service client the registry
// needs for single-repository lookups.
type AccountsClient interface {
	Get(ctx context.Context, id string) (*accounts.Repository, error)
}

// Registry is the durable per-repository metadata store. All crawl state
// mutations (success, failure, cursor advance) go through it and are
// persisted before they are observable.
type Registry struct {
	store       storage.Store
	accounts    AccountsClient
	openService bool

	now func() time.Time
}

// New creates a registry over store. When openService is true, unknown
// repository ids referenced by notifications are looked up in the accounts
// service via client.
func New(store storage.Store, client AccountsClient, openService bool) *Registry {
	return &Registry{
		store:       store,
		accounts:    client,
		openService: openService,
		now:         time.Now,
	}
}

// Get returns the locally stored record for id, or ErrUnknownRepository.
func (r *Registry) Get(id string) (*types.RepositoryRecord, error) {
	rec, err := r.store.GetRepository(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUnknownRepository
	}
	return rec, err
}

// Resolve returns the record for id, querying the accounts service for
// unknown ids when the service is open. Stale or bogus ids yield
// ErrUnknownRepository.
func (r *Registry) Resolve(ctx context.Context, id string) (*types.RepositoryRecord, error) {
	rec, err := r.Get(id)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, ErrUnknownRepository) {
		return nil, err
	}

	log.WithRepo(id).Warn().Msg("scheduled unknown repository")

	if !r.openService {
		return nil, ErrUnknownRepository
	}
	return r.FetchRemote(ctx, id)
}

// IDs returns all known repository ids.
func (r *Registry) IDs() ([]string, error) {
	return r.store.ListRepositoryIDs()
}

// Put stores a record.
func (r *Registry) Put(rec *types.RepositoryRecord) error {
	return r.store.PutRepository(rec)
}

// Fail records a failed poll of id: the consecutive error count increments
// and everything else is untouched. Returns the updated record.
func (r *Registry) Fail(id, reason string) (*types.RepositoryRecord, error) {
	rec, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	rec.Errors++
	if err := r.store.PutRepository(rec); err != nil {
		return nil, err
	}

	if reason == "" {
		reason = "error while fetching repository"
	}
	log.WithRepo(id).Warn().Int("errors", rec.Errors).Msg(reason)

	return rec, nil
}

// Success records a successful poll of id: the error count resets, the
// last-success time advances, the cursor moves to nextFrom and the lifetime
// success counter increments. Returns the updated record.
func (r *Registry) Success(id string, nextFrom *time.Time) (*types.RepositoryRecord, error) {
	rec, err := r.Get(id)
	if err != nil {
		return nil, err
	}

	now := r.now()
	rec.Errors = 0
	rec.Last = &now
	rec.Next = nextFrom
	rec.SuccessfulQueries++

	if err := r.store.PutRepository(rec); err != nil {
		return nil, err
	}

	log.WithRepo(id).Info().Msg("successfully queried repository")

	return rec, nil
}

// FetchRemote queries the accounts service for a single repository and
// merges the response over any existing record. A 404 from accounts yields
// ErrUnknownRepository.
func (r *Registry) FetchRemote(ctx context.Context, id string) (*types.RepositoryRecord, error) {
	remote, err := r.accounts.Get(ctx, id)
	if err != nil {
		if errors.Is(err, accounts.ErrNotFound) {
			return nil, ErrUnknownRepository
		}
		return nil, fmt.Errorf("failed to fetch repository %s from accounts: %w", id, err)
	}

	rec, err := r.Get(id)
	if errors.Is(err, ErrUnknownRepository) {
		rec = &types.RepositoryRecord{ID: id}
	} else if err != nil {
		return nil, err
	}

	rec.Location = remote.Service.Location
	if err := r.store.PutRepository(rec); err != nil {
		return nil, err
	}
	return rec, nil
}
