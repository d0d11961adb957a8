package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/delfos-capital/delfos/internal/domain"
	"github.com/delfos-capital/delfos/internal/modules/breakers"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
	"github.com/delfos-capital/delfos/internal/modules/reconciliation"
	"github.com/delfos-capital/delfos/internal/reliability"
)

// LifecycleMonitorJob checks every active campaign for expiration and
// drawdown breaches once per minute
type LifecycleMonitorJob struct {
	campaigns *campaign.Service
	gate      *CampaignGate
	log       zerolog.Logger
}

// NewLifecycleMonitorJob creates the lifecycle monitor
func NewLifecycleMonitorJob(campaigns *campaign.Service, gate *CampaignGate, log zerolog.Logger) *LifecycleMonitorJob {
	return &LifecycleMonitorJob{
		campaigns: campaigns,
		gate:      gate,
		log:       log.With().Str("job", "lifecycle_monitor").Logger(),
	}
}

// Name returns the job name
func (j *LifecycleMonitorJob) Name() string { return "lifecycle_monitor" }

// Run checks expiration and drawdown for each active campaign. A campaign
// still held by a previous tick is skipped, not waited on.
func (j *LifecycleMonitorJob) Run(ctx context.Context) error {
	active, err := j.campaigns.ListActive()
	if err != nil {
		return err
	}

	actor := domain.Actor{Type: "scheduler", ID: j.Name()}
	for i := range active {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id := active[i].ID
		if !j.gate.TryAcquire(id) {
			j.log.Debug().Str("campaign_id", id).Msg("Campaign busy, skipping tick")
			continue
		}

		if err := j.campaigns.CheckExpiration(ctx, id, actor); err != nil {
			j.log.Error().Err(err).Str("campaign_id", id).Msg("Expiration check failed")
		}
		if err := j.campaigns.CheckDrawdownBreaker(ctx, id, actor); err != nil {
			j.log.Error().Err(err).Str("campaign_id", id).Msg("Drawdown check failed")
		}

		j.gate.Release(id)
	}
	return nil
}

// RebalanceJob triggers the rebalance path for every active campaign
type RebalanceJob struct {
	campaigns *campaign.Service
	gate      *CampaignGate
	log       zerolog.Logger
}

// NewRebalanceJob creates the rebalance trigger job
func NewRebalanceJob(campaigns *campaign.Service, gate *CampaignGate, log zerolog.Logger) *RebalanceJob {
	return &RebalanceJob{
		campaigns: campaigns,
		gate:      gate,
		log:       log.With().Str("job", "rebalance").Logger(),
	}
}

// Name returns the job name
func (j *RebalanceJob) Name() string { return "rebalance" }

// Run rebalances each active campaign that is not currently busy
func (j *RebalanceJob) Run(ctx context.Context) error {
	active, err := j.campaigns.ListActive()
	if err != nil {
		return err
	}

	actor := domain.Actor{Type: "scheduler", ID: j.Name()}
	for i := range active {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id := active[i].ID
		if !j.gate.TryAcquire(id) {
			j.log.Debug().Str("campaign_id", id).Msg("Campaign busy, skipping rebalance")
			continue
		}

		if err := j.campaigns.Rebalance(ctx, id, actor); err != nil {
			j.log.Error().Err(err).Str("campaign_id", id).Msg("Rebalance failed")
		}

		j.gate.Release(id)
	}
	return nil
}

// ReconciliationSweepJob reconciles every active campaign against the
// exchange. Exchange failures are logged per campaign; the sweep continues.
type ReconciliationSweepJob struct {
	campaigns *campaign.Service
	engine    *reconciliation.Engine
	gate      *CampaignGate
	log       zerolog.Logger
}

// NewReconciliationSweepJob creates the reconciliation sweep job
func NewReconciliationSweepJob(campaigns *campaign.Service, engine *reconciliation.Engine, gate *CampaignGate, log zerolog.Logger) *ReconciliationSweepJob {
	return &ReconciliationSweepJob{
		campaigns: campaigns,
		engine:    engine,
		gate:      gate,
		log:       log.With().Str("job", "reconciliation_sweep").Logger(),
	}
}

// Name returns the job name
func (j *ReconciliationSweepJob) Name() string { return "reconciliation_sweep" }

// Run reconciles each active campaign
func (j *ReconciliationSweepJob) Run(ctx context.Context) error {
	active, err := j.campaigns.ListActive()
	if err != nil {
		return err
	}

	actor := domain.Actor{Type: "scheduler", ID: j.Name()}
	for i := range active {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		id := active[i].ID
		if !j.gate.TryAcquire(id) {
			j.log.Debug().Str("campaign_id", id).Msg("Campaign busy, skipping reconciliation")
			continue
		}

		if _, err := j.engine.ReconcileCampaign(ctx, id, reconciliation.RunScheduled, actor); err != nil {
			j.log.Error().Err(err).Str("campaign_id", id).Msg("Reconciliation failed")
		}

		j.gate.Release(id)
	}
	return nil
}

// BreakerAutoResetJob resets breakers whose auto-reset window has elapsed
type BreakerAutoResetJob struct {
	registry *breakers.Registry
	log      zerolog.Logger
}

// NewBreakerAutoResetJob creates the breaker auto-reset job
func NewBreakerAutoResetJob(registry *breakers.Registry, log zerolog.Logger) *BreakerAutoResetJob {
	return &BreakerAutoResetJob{
		registry: registry,
		log:      log.With().Str("job", "breaker_auto_reset").Logger(),
	}
}

// Name returns the job name
func (j *BreakerAutoResetJob) Name() string { return "breaker_auto_reset" }

// Run resets every breaker whose auto-reset time has passed
func (j *BreakerAutoResetJob) Run(ctx context.Context) error {
	return j.registry.AutoResetDue(time.Now())
}

// LedgerBackupJob ships a nightly database archive off-site and rotates old
// copies
type LedgerBackupJob struct {
	backups       *reliability.LedgerBackupService
	retentionDays int
	log           zerolog.Logger
}

// NewLedgerBackupJob creates the nightly backup job
func NewLedgerBackupJob(backups *reliability.LedgerBackupService, retentionDays int, log zerolog.Logger) *LedgerBackupJob {
	return &LedgerBackupJob{
		backups:       backups,
		retentionDays: retentionDays,
		log:           log.With().Str("job", "ledger_backup").Logger(),
	}
}

// Name returns the job name
func (j *LedgerBackupJob) Name() string { return "ledger_backup" }

// Run uploads a fresh backup, then rotates
func (j *LedgerBackupJob) Run(ctx context.Context) error {
	if err := j.backups.CreateAndUploadBackup(ctx); err != nil {
		return err
	}
	return j.backups.RotateOldBackups(ctx, j.retentionDays)
}
