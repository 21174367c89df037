package notify

import (
	"time"

	"github.com/openpermissions/chubindex/pkg/log"
	"github.com/openpermissions/chubindex/pkg/metrics"
	"github.com/openpermissions/chubindex/pkg/scheduler"
)

// maxPerTick caps how many notifications a single drain pass forwards to the
// scheduler, so a burst cannot starve the fetch loop.
const maxPerTick = 20

// Queue is the bounded notification queue shared between the HTTP handlers
// and the crawler. Producers never block: on overflow the notification is
// dropped, which is acceptable because the regular schedule fires within the
// default poll interval anyway.
type Queue struct {
	ch chan string
}

// NewQueue creates a queue holding at most size notifications.
func NewQueue(size int) *Queue {
	return &Queue{ch: make(chan string, size)}
}

// TryPut enqueues a repository id without waiting. It reports whether the
// notification was accepted; a full queue drops it with a warning.
func (q *Queue) TryPut(repoID string) bool {
	select {
	case q.ch <- repoID:
		metrics.NotificationsReceived.Inc()
		return true
	default:
		metrics.NotificationsDropped.Inc()
		log.Logger.Warn().Str("repo_id", repoID).
			Msg("notification dropped because the queue is full")
		return false
	}
}

// tryGet dequeues without waiting.
func (q *Queue) tryGet() (string, bool) {
	select {
	case repoID := <-q.ch:
		return repoID, true
	default:
		return "", false
	}
}

// Depth returns the current queue depth.
func (q *Queue) Depth() int {
	return len(q.ch)
}

// Rescheduler is the part of the scheduler the drainer needs.
type Rescheduler interface {
	Reschedule(repoID string, delay time.Duration)
}

var _ Rescheduler = (*scheduler.Scheduler)(nil)

// Drainer periodically drains the queue into the scheduler, advancing each
// notified repository's due time to at most minDelay from now.
type Drainer struct {
	queue           *Queue
	sched           Rescheduler
	pollInterval    time.Duration
	minDelay        time.Duration
	overloadWarning int
	stopCh          chan struct{}
}

// NewDrainer creates a drainer. overloadWarning is the queue depth above
// which a drain pass logs that the queue is growing.
func NewDrainer(queue *Queue, sched Rescheduler, pollInterval, minDelay time.Duration, overloadWarning int) *Drainer {
	return &Drainer{
		queue:           queue,
		sched:           sched,
		pollInterval:    pollInterval,
		minDelay:        minDelay,
		overloadWarning: overloadWarning,
		stopCh:          make(chan struct{}),
	}
}

// Start begins the drain loop
func (d *Drainer) Start() {
	go d.run()
}

// Stop stops the drain loop
func (d *Drainer) Stop() {
	close(d.stopCh)
}

func (d *Drainer) run() {
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.DrainOnce()
		case <-d.stopCh:
			return
		}
	}
}

// DrainOnce forwards up to maxPerTick queued notifications to the scheduler.
func (d *Drainer) DrainOnce() {
	logger := log.WithComponent("notify")

	for i := 0; i < maxPerTick; i++ {
		repoID, ok := d.queue.tryGet()
		if !ok {
			break
		}
		d.sched.Reschedule(repoID, d.minDelay)
		logger.Info().Str("repo_id", repoID).Msg("received notification")
	}

	if depth := d.queue.Depth(); depth >= d.overloadWarning {
		logger.Info().Int("depth", depth).Msg("notification queue is growing")
	}
}
