package crawler

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/openpermissions/chubindex/pkg/accounts"
	"github.com/openpermissions/chubindex/pkg/config"
	"github.com/openpermissions/chubindex/pkg/log"
	"github.com/openpermissions/chubindex/pkg/metrics"
	"github.com/openpermissions/chubindex/pkg/registry"
	"github.com/openpermissions/chubindex/pkg/repofeed"
	"github.com/openpermissions/chubindex/pkg/scheduler"
	"github.com/openpermissions/chubindex/pkg/types"
)

// entityType is the feed entity type submitted to the index.
const entityType = "asset"

// defaultFrom bounds the identifier query window for repositories that have
// never been polled successfully.
var defaultFrom = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Lister is the accounts listing the poller consumes.
type Lister interface {
	List(ctx context.Context) ([]accounts.Repository, error)
}

// Feed fetches identifier pages from a repository service.
type Feed interface {
	Identifiers(ctx context.Context, location, repoID string, page int, from time.Time) (*repofeed.Page, error)
}

// Ingester submits validated identifier batches to the index store.
type Ingester interface {
	AddEntities(ctx context.Context, entityType string, rows []types.Identifier, repoID string) *types.IngestSummary
}

// Manager drives the crawl: it keeps the registry in sync with the accounts
// service, pulls due repositories from the scheduler, fetches their
// identifier feeds into the index and reschedules them with backoff on
// failure.
type Manager struct {
	registry *registry.Registry
	sched    *scheduler.Scheduler
	accounts Lister
	feed     Feed
	index    Ingester

	concurrency    int
	accountsPoll   time.Duration
	fetchPause     time.Duration
	pollMin        time.Duration
	pollMax        time.Duration
	maxErrorFactor int
	maxPages       int

	rand   *rand.Rand
	stopCh chan struct{}
}

// New creates a crawl manager wired to the given collaborators.
func New(cfg *config.Config, reg *registry.Registry, sched *scheduler.Scheduler, lister Lister, feed Feed, index Ingester) *Manager {
	fetchPause := cfg.NotificationPoll()
	if fetchPause > time.Second {
		fetchPause = time.Second
	}

	return &Manager{
		registry:       reg,
		sched:          sched,
		accounts:       lister,
		feed:           feed,
		index:          index,
		concurrency:    cfg.Concurrency,
		accountsPoll:   cfg.AccountsPoll(),
		fetchPause:     fetchPause,
		pollMin:        cfg.DefaultPoll() / 2,
		pollMax:        cfg.DefaultPoll(),
		maxErrorFactor: cfg.MaxPollErrorDelayFactor,
		maxPages:       cfg.MaxRepositoryPages,
		rand:           rand.New(rand.NewSource(time.Now().UnixNano())),
		stopCh:         make(chan struct{}),
	}
}

// Start schedules all known repositories and begins the accounts poll and
// fetch loops.
func (m *Manager) Start() {
	m.ScheduleAll()
	go m.pollAccountsLoop()
	go m.fetchLoop()
}

// Stop stops the loops. In-flight fetches run to completion.
func (m *Manager) Stop() {
	close(m.stopCh)
}

// ScheduleAll queues every repository in the registry with a random delay
// inside the default poll interval.
func (m *Manager) ScheduleAll() {
	ids, err := m.registry.IDs()
	if err != nil {
		log.WithComponent("crawler").Error().Err(err).Msg("failed to list repositories")
		return
	}
	for _, id := range ids {
		m.sched.ScheduleDefault(id)
	}
	metrics.SchedulerPending.Set(float64(m.sched.Pending()))
}

func (m *Manager) pollAccountsLoop() {
	ticker := time.NewTicker(m.accountsPoll)
	defer ticker.Stop()

	for {
		m.PollAccountsOnce(context.Background())

		select {
		case <-ticker.C:
		case <-m.stopCh:
			return
		}
	}
}

// PollAccountsOnce lists the repositories registered with the accounts
// service and schedules any this index has not seen before. Repositories
// that disappear from the accounts service are left alone. Errors never
// escape a poll tick.
func (m *Manager) PollAccountsOnce(ctx context.Context) {
	logger := log.WithComponent("crawler")
	logger.Info().Msg("getting repositories from accounts service")

	repos, err := m.accounts.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("error fetching repositories")
		return
	}

	for _, repo := range repos {
		if _, err := m.registry.Get(repo.ID); err == nil {
			continue
		} else if !errors.Is(err, registry.ErrUnknownRepository) {
			logger.Error().Err(err).Msg("failed to read repository record")
			continue
		}

		rec := &types.RepositoryRecord{ID: repo.ID, Location: repo.Service.Location}
		if err := m.registry.Put(rec); err != nil {
			logger.Error().Err(err).Str("repo_id", repo.ID).Msg("failed to store repository record")
			continue
		}

		logger.Info().Str("repo_id", repo.ID).Msg("adding new repository")
		m.sched.ScheduleDefault(repo.ID)
	}

	metrics.SchedulerPending.Set(float64(m.sched.Pending()))
}

func (m *Manager) fetchLoop() {
	for {
		m.FetchDue(context.Background())

		select {
		case <-time.After(m.fetchPause):
		case <-m.stopCh:
			return
		}
	}
}

// FetchDue pops up to concurrency due repositories from the scheduler and
// fetches them in parallel.
func (m *Manager) FetchDue(ctx context.Context) {
	ids := m.sched.Get(m.concurrency)
	if len(ids) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			m.fetch(gctx, id)
			return nil
		})
	}
	g.Wait()

	metrics.SchedulerPending.Set(float64(m.sched.Pending()))
}

// fetch polls one repository and reschedules it. Failures never escape the
// repository boundary; they are recorded in the registry and reflected in
// the backoff of the next poll. Unknown repositories are not rescheduled.
func (m *Manager) fetch(ctx context.Context, repoID string) {
	logger := log.WithRepo(repoID)

	rec, err := m.registry.Resolve(ctx, repoID)
	if err != nil {
		logger.Warn().Err(err).Msg("repository not fetched")
		metrics.FetchesTotal.WithLabelValues("unknown").Inc()
		return
	}

	if rec.Location == "" {
		rec, err = m.registry.Fail(repoID, fmt.Sprintf("repository %s has an unknown location", repoID))
		if err != nil {
			logger.Error().Err(err).Msg("failed to record fetch failure")
			return
		}
		metrics.FetchesTotal.WithLabelValues("failure").Inc()
		m.sched.Schedule(repoID, m.nextPollInterval(rec.Errors))
		return
	}

	from := defaultFrom
	if rec.Next != nil {
		from = *rec.Next
	}

	resultTo, err := m.fetchPages(ctx, repoID, rec.Location, from)
	if err != nil {
		logger.Warn().Err(err).Msg("failed to fetch identifiers")
		rec, err = m.registry.Fail(repoID, "")
		if err != nil {
			logger.Error().Err(err).Msg("failed to record fetch failure")
			return
		}
		metrics.FetchesTotal.WithLabelValues("failure").Inc()
		m.sched.Schedule(repoID, m.nextPollInterval(rec.Errors))
		return
	}

	// keep the previous cursor when no page carried a result range
	next := rec.Next
	if resultTo != "" {
		if parsed, perr := parseFeedTime(resultTo); perr != nil {
			logger.Warn().Str("result_to", resultTo).Msg("unparseable result range, keeping previous cursor")
		} else {
			next = &parsed
		}
	}

	rec, err = m.registry.Success(repoID, next)
	if err != nil {
		logger.Error().Err(err).Msg("failed to record fetch success")
		return
	}
	metrics.FetchesTotal.WithLabelValues("success").Inc()
	m.sched.Schedule(repoID, m.nextPollInterval(rec.Errors))
}

// fetchPages walks the repository's identifier feed page by page, submitting
// each non-empty page to the index. It returns the upper bound of the result
// range reported by the last non-empty page.
func (m *Manager) fetchPages(ctx context.Context, repoID, location string, from time.Time) (string, error) {
	log.WithRepo(repoID).Info().
		Str("location", location).
		Time("from", from).
		Msg("getting identifiers")

	var resultTo string
	for page := 1; m.maxPages <= 0 || page <= m.maxPages; page++ {
		result, err := m.feed.Identifiers(ctx, location, repoID, page, from)
		if err != nil {
			return "", err
		}
		metrics.PagesFetched.Inc()

		if len(result.Data) == 0 {
			break
		}

		m.index.AddEntities(ctx, entityType, result.Data, repoID)
		resultTo = result.ResultTo
	}
	return resultTo, nil
}

// nextPollInterval computes the delay before the next poll: a uniform draw
// from [defaultPoll/2, defaultPoll], multiplied by the consecutive error
// count capped at maxErrorFactor.
func (m *Manager) nextPollInterval(errCount int) time.Duration {
	factor := errCount
	if factor < 1 {
		factor = 1
	}
	if factor > m.maxErrorFactor {
		factor = m.maxErrorFactor
	}

	base := m.pollMin + time.Duration(m.rand.Int63n(int64(m.pollMax-m.pollMin)+1))
	return time.Duration(factor) * base
}

// parseFeedTime accepts the timestamp formats repository feeds use in their
// result ranges.
func parseFeedTime(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
