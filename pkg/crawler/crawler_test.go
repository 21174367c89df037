package crawler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/openpermissions/chubindex/pkg/accounts"
	"github.com/openpermissions/chubindex/pkg/config"
	"github.com/openpermissions/chubindex/pkg/registry"
	"github.com/openpermissions/chubindex/pkg/repofeed"
	"github.com/openpermissions/chubindex/pkg/scheduler"
	"github.com/openpermissions/chubindex/pkg/storage"
	"github.com/openpermissions/chubindex/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAccounts struct {
	repos []accounts.Repository
	err   error
}

func (f *fakeAccounts) List(ctx context.Context) ([]accounts.Repository, error) {
	return f.repos, f.err
}

func (f *fakeAccounts) Get(ctx context.Context, id string) (*accounts.Repository, error) {
	for _, r := range f.repos {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, accounts.ErrNotFound
}

type fakeFeed struct {
	pages map[int]*repofeed.Page
	err   error
	calls []int
}

func (f *fakeFeed) Identifiers(ctx context.Context, location, repoID string, page int, from time.Time) (*repofeed.Page, error) {
	f.calls = append(f.calls, page)
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.pages[page]; ok {
		return p, nil
	}
	return &repofeed.Page{}, nil
}

type ingestCall struct {
	entityType string
	repoID     string
	rows       []types.Identifier
}

type fakeIndex struct {
	calls []ingestCall
}

func (f *fakeIndex) AddEntities(ctx context.Context, entityType string, rows []types.Identifier, repoID string) *types.IngestSummary {
	f.calls = append(f.calls, ingestCall{entityType: entityType, repoID: repoID, rows: rows})
	return &types.IngestSummary{Records: len(rows)}
}

type fixture struct {
	manager  *Manager
	registry *registry.Registry
	sched    *scheduler.Scheduler
	accounts *fakeAccounts
	feed     *fakeFeed
	index    *fakeIndex
}

func newFixture(t *testing.T, mutate func(cfg *config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	acc := &fakeAccounts{}
	reg := registry.New(store, acc, cfg.OpenService)
	sched := scheduler.New(cfg.DefaultPoll())
	feed := &fakeFeed{}
	index := &fakeIndex{}

	return &fixture{
		manager:  New(cfg, reg, sched, acc, feed, index),
		registry: reg,
		sched:    sched,
		accounts: acc,
		feed:     feed,
		index:    index,
	}
}

func putRepo(t *testing.T, f *fixture, id, location string) {
	t.Helper()
	require.NoError(t, f.registry.Put(&types.RepositoryRecord{ID: id, Location: location}))
}

func TestFetchEmptyFeed(t *testing.T) {
	f := newFixture(t, nil)
	putRepo(t, f, "repo-a", "http://a")
	f.feed.pages = map[int]*repofeed.Page{} // every page empty

	f.manager.fetch(context.Background(), "repo-a")

	rec, err := f.registry.Get("repo-a")
	require.NoError(t, err)
	assert.Zero(t, rec.Errors)
	require.NotNil(t, rec.Last)
	assert.Nil(t, rec.Next)
	assert.Empty(t, f.index.calls)
	assert.Equal(t, 1, f.sched.Pending())
}

func TestFetchThreePages(t *testing.T) {
	f := newFixture(t, nil)
	putRepo(t, f, "repo-a", "http://a")

	row := types.Identifier{EntityID: "deadbeef", SourceID: "abc", SourceIDType: "isbn"}
	f.feed.pages = map[int]*repofeed.Page{}
	for page, year := range map[int]int{1: 2001, 2: 2002, 3: 2003} {
		f.feed.pages[page] = &repofeed.Page{
			Data:     []types.Identifier{row},
			ResultTo: fmt.Sprintf("%d-01-01T00:00:00", year),
		}
	}

	f.manager.fetch(context.Background(), "repo-a")

	require.Len(t, f.index.calls, 3)
	for _, call := range f.index.calls {
		assert.Equal(t, "asset", call.entityType)
		assert.Equal(t, "repo-a", call.repoID)
		assert.Len(t, call.rows, 1)
	}
	assert.Equal(t, []int{1, 2, 3, 4}, f.feed.calls)

	rec, err := f.registry.Get("repo-a")
	require.NoError(t, err)
	require.NotNil(t, rec.Next)
	assert.True(t, rec.Next.Equal(time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, rec.SuccessfulQueries)
}

func TestFetchCursorBoundsNextQuery(t *testing.T) {
	f := newFixture(t, nil)
	next := time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.registry.Put(&types.RepositoryRecord{ID: "repo-a", Location: "http://a", Next: &next}))

	var gotFrom time.Time
	f.feed.pages = map[int]*repofeed.Page{}
	feed := &fromRecordingFeed{inner: f.feed, from: &gotFrom}
	f.manager.feed = feed

	f.manager.fetch(context.Background(), "repo-a")
	assert.True(t, gotFrom.Equal(next))
}

type fromRecordingFeed struct {
	inner Feed
	from  *time.Time
}

func (f *fromRecordingFeed) Identifiers(ctx context.Context, location, repoID string, page int, from time.Time) (*repofeed.Page, error) {
	*f.from = from
	return f.inner.Identifiers(ctx, location, repoID, page, from)
}

func TestFetchFailureBackoff(t *testing.T) {
	f := newFixture(t, nil)
	putRepo(t, f, "repo-a", "http://a")
	f.feed.err = errors.New("connection refused")

	for want := 1; want <= 3; want++ {
		f.manager.fetch(context.Background(), "repo-a")
		rec, err := f.registry.Get("repo-a")
		require.NoError(t, err)
		assert.Equal(t, want, rec.Errors)
		assert.Nil(t, rec.Next)
	}

	f.feed.err = nil
	f.manager.fetch(context.Background(), "repo-a")
	rec, err := f.registry.Get("repo-a")
	require.NoError(t, err)
	assert.Zero(t, rec.Errors)
}

func TestFetchUnknownRepositoryNotRescheduled(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.OpenService = false })

	f.manager.fetch(context.Background(), "missing")

	assert.Zero(t, f.sched.Pending())
	assert.Empty(t, f.feed.calls)
}

func TestFetchUnknownLocation(t *testing.T) {
	f := newFixture(t, nil)
	putRepo(t, f, "repo-a", "")

	f.manager.fetch(context.Background(), "repo-a")

	rec, err := f.registry.Get("repo-a")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.Errors)
	assert.Empty(t, f.feed.calls)
	// still rescheduled, the location may appear later
	assert.Equal(t, 1, f.sched.Pending())
}

func TestFetchPageCap(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) { cfg.MaxRepositoryPages = 2 })
	putRepo(t, f, "repo-a", "http://a")

	row := types.Identifier{EntityID: "deadbeef", SourceID: "abc", SourceIDType: "isbn"}
	f.feed.pages = map[int]*repofeed.Page{}
	for page := 1; page <= 10; page++ {
		f.feed.pages[page] = &repofeed.Page{Data: []types.Identifier{row}}
	}

	f.manager.fetch(context.Background(), "repo-a")

	assert.Len(t, f.index.calls, 2)
	assert.Equal(t, []int{1, 2}, f.feed.calls)
}

func TestPollAccountsOnce(t *testing.T) {
	f := newFixture(t, nil)
	putRepo(t, f, "known", "http://known")

	newRepo := accounts.Repository{ID: "fresh"}
	newRepo.Service.Location = "http://fresh"
	known := accounts.Repository{ID: "known"}
	known.Service.Location = "http://other"
	f.accounts.repos = []accounts.Repository{known, newRepo}

	f.manager.PollAccountsOnce(context.Background())

	rec, err := f.registry.Get("fresh")
	require.NoError(t, err)
	assert.Equal(t, "http://fresh", rec.Location)
	// known repositories are untouched
	rec, err = f.registry.Get("known")
	require.NoError(t, err)
	assert.Equal(t, "http://known", rec.Location)
	// only the new repository is scheduled
	assert.Equal(t, 1, f.sched.Pending())

	// a second poll adds nothing
	f.manager.PollAccountsOnce(context.Background())
	assert.Equal(t, 1, f.sched.Pending())
}

func TestPollAccountsErrorDoesNotEscape(t *testing.T) {
	f := newFixture(t, nil)
	f.accounts.err = errors.New("accounts down")
	f.manager.PollAccountsOnce(context.Background())
	assert.Zero(t, f.sched.Pending())
}

func TestScheduleAll(t *testing.T) {
	f := newFixture(t, nil)
	putRepo(t, f, "repo-a", "http://a")
	putRepo(t, f, "repo-b", "http://b")

	f.manager.ScheduleAll()
	assert.Equal(t, 2, f.sched.Pending())
}

func TestNextPollInterval(t *testing.T) {
	f := newFixture(t, nil)
	interval := f.manager.pollMax

	cases := []struct {
		errors     int
		wantFactor time.Duration
	}{
		{errors: 0, wantFactor: 1},
		{errors: 1, wantFactor: 1},
		{errors: 3, wantFactor: 3},
		{errors: 100, wantFactor: 5}, // capped at max_poll_error_delay_factor
	}
	for _, tc := range cases {
		for i := 0; i < 50; i++ {
			d := f.manager.nextPollInterval(tc.errors)
			assert.GreaterOrEqual(t, d, tc.wantFactor*interval/2)
			assert.LessOrEqual(t, d, tc.wantFactor*interval)
		}
	}
}

func TestParseFeedTime(t *testing.T) {
	for in, want := range map[string]time.Time{
		"2003-01-01T00:00:00":  time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC),
		"2003-01-01T00:00:00Z": time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC),
		"2003-01-01":           time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC),
	} {
		got, err := parseFeedTime(in)
		require.NoError(t, err)
		assert.True(t, got.Equal(want), in)
	}

	_, err := parseFeedTime("not a timestamp")
	assert.Error(t, err)
}
