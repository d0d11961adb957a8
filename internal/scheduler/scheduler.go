// Package scheduler runs the periodic background loops: lifecycle
// monitoring, rebalancing, reconciliation sweeps, breaker auto-resets and
// ledger backups.
package scheduler

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a schedulable unit of work. Run receives a context that is
// cancelled when the scheduler stops.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler manages background jobs on cron schedules
type Scheduler struct {
	cron   *cron.Cron
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new scheduler
func New(log zerolog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithSeconds()),
		log:    log.With().Str("component", "scheduler").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("Scheduler started")
}

// Stop cancels pending ticks and waits for in-flight jobs to finish
func (s *Scheduler) Stop() {
	s.cancel()
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// AddJob registers a job with a cron schedule.
// Schedule examples:
//   - "0 * * * * *"       - Every minute
//   - "0 0 */8 * * *"     - Every 8 hours
//   - "@every 5m"         - Every 5 minutes
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		if s.ctx.Err() != nil {
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("Running job")

		if err := job.Run(s.ctx); err != nil {
			s.log.Error().
				Err(err).
				Str("job", job.Name()).
				Msg("Job failed")
		} else {
			s.log.Debug().Str("job", job.Name()).Msg("Job completed")
		}
	})

	if err != nil {
		return err
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", job.Name()).
		Msg("Job registered")

	return nil
}

// RunNow executes a job immediately, outside its schedule
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running job immediately")
	return job.Run(s.ctx)
}

// CampaignGate serializes lifecycle work per campaign. A tick that finds a
// campaign still being processed by a previous tick skips it instead of
// overlapping.
type CampaignGate struct {
	mu     sync.Mutex
	active map[string]bool
}

// NewCampaignGate creates an empty gate
func NewCampaignGate() *CampaignGate {
	return &CampaignGate{active: make(map[string]bool)}
}

// TryAcquire reports whether the campaign was free and marks it busy
func (g *CampaignGate) TryAcquire(campaignID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.active[campaignID] {
		return false
	}
	g.active[campaignID] = true
	return true
}

// Release marks the campaign free again
func (g *CampaignGate) Release(campaignID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.active, campaignID)
}
