package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/realtime-server-go/internal/config"
)

const staleCallBatchSize = 200

// CallExpirer finalizes calls that kept ringing past a cutoff.
type CallExpirer interface {
	ExpireStale(ctx context.Context, startedBefore time.Time, limit int) (int, error)
}

// StaleCallJob periodically marks abandoned ringing calls as missed. Timers
// live in process memory, so calls started on an instance that went away are
// only finalized here.
type StaleCallJob struct {
	calls    CallExpirer
	maxAge   time.Duration
	interval time.Duration
	now      func() time.Time
	done     chan struct{}
	stopOnce sync.Once
}

func NewStaleCallJob(calls CallExpirer, maxAge, interval time.Duration) *StaleCallJob {
	return &StaleCallJob{
		calls:    calls,
		maxAge:   maxAge,
		interval: interval,
		now:      time.Now,
		done:     make(chan struct{}),
	}
}

func (j *StaleCallJob) Start() {
	go j.run()
	log.Info().
		Dur("interval", j.interval).
		Dur("maxAge", j.maxAge).
		Msg("stale call job started")
}

func (j *StaleCallJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		log.Info().Msg("stale call job stopped")
	})
}

func (j *StaleCallJob) run() {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.sweep()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.sweep()
		}
	}
}

func (j *StaleCallJob) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), config.StaleCallSweepTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.maxAge)
	total := 0
	for {
		count, err := j.calls.ExpireStale(ctx, cutoff, staleCallBatchSize)
		total += count
		if err != nil {
			log.Error().Err(err).Msg("failed to expire stale calls")
			break
		}
		if count < staleCallBatchSize {
			break
		}
	}

	if total > 0 {
		log.Info().Int("count", total).Msg("expired stale calls")
	}
}
