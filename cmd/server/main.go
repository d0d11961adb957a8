// Package main is the entry point for the Delfos campaign core: capital
// allocated, time-boxed trading campaigns over portfolios, with layered
// circuit breakers, a hash-chained audit ledger and exchange reconciliation.
package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/delfos-capital/delfos/internal/clients/exchange"
	"github.com/delfos-capital/delfos/internal/config"
	"github.com/delfos-capital/delfos/internal/database"
	"github.com/delfos-capital/delfos/internal/modules/audit"
	"github.com/delfos-capital/delfos/internal/modules/breakers"
	"github.com/delfos-capital/delfos/internal/modules/campaign"
	"github.com/delfos-capital/delfos/internal/modules/execution"
	"github.com/delfos-capital/delfos/internal/modules/portfolio"
	"github.com/delfos-capital/delfos/internal/modules/reconciliation"
	"github.com/delfos-capital/delfos/internal/reliability"
	"github.com/delfos-capital/delfos/internal/scheduler"
	"github.com/delfos-capital/delfos/internal/server"
	"github.com/delfos-capital/delfos/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Msg("Starting Delfos campaign core")

	// Databases: operational state and the immutable audit ledger, with
	// separate durability profiles
	campaignsDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "campaigns.db"),
		Profile: database.ProfileStandard,
		Name:    "campaigns",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open campaigns database")
	}
	defer campaignsDB.Close()

	ledgerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "auditledger.db"),
		Profile: database.ProfileLedger,
		Name:    "auditledger",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open audit ledger database")
	}
	defer ledgerDB.Close()

	for _, db := range []*database.DB{campaignsDB, ledgerDB} {
		if err := db.Migrate(); err != nil {
			log.Fatal().Err(err).Str("database", db.Name()).Msg("Migration failed")
		}
	}

	// Audit ledger with Ed25519 signing for critical/audit entries
	signer, err := audit.NewSigner(cfg.LedgerSigningSeed, cfg.LedgerSignerID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize ledger signer")
	}
	auditRepo := audit.NewRepository(ledgerDB.Conn(), log)
	ledger := audit.NewService(auditRepo, signer, log)

	// Repositories and services over the operational database
	portfolioRepo := portfolio.NewRepository(campaignsDB.Conn(), log)
	campaignRepo := campaign.NewRepository(campaignsDB.Conn(), log)
	breakerRepo := breakers.NewRepository(campaignsDB.Conn(), log)
	registry := breakers.NewRegistry(breakerRepo, breakers.DefaultThresholds(), log)
	governance := campaign.NewGovernance(campaign.DefaultStandardLimits(), log)

	liquidator := execution.NewLiquidator(portfolioRepo, log)
	rebalancer := execution.NewRebalancer(portfolioRepo, campaignRepo, log)

	campaigns := campaign.NewService(
		campaignRepo, portfolioRepo, ledger, registry, governance,
		liquidator, rebalancer, log,
	)

	// Exchange client and reconciliation engine
	exchangeClient := exchange.NewClient(cfg.ExchangeAPIKey, cfg.ExchangeAPISecret, cfg.ExchangeBaseURL, log)
	defer exchangeClient.Close()

	reconRepo := reconciliation.NewRepository(campaignsDB.Conn(), log)
	reconEngine := reconciliation.NewEngine(reconRepo, campaignRepo, portfolioRepo, ledger, exchangeClient, log)

	// Background loops
	sched := scheduler.New(log)
	gate := scheduler.NewCampaignGate()

	if err := sched.AddJob("0 * * * * *", scheduler.NewLifecycleMonitorJob(campaigns, gate, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register lifecycle monitor")
	}
	if err := sched.AddJob("0 0 */8 * * *", scheduler.NewRebalanceJob(campaigns, gate, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register rebalance job")
	}
	if err := sched.AddJob("0 30 * * * *", scheduler.NewReconciliationSweepJob(campaigns, reconEngine, gate, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register reconciliation sweep")
	}
	if err := sched.AddJob("@every 5m", scheduler.NewBreakerAutoResetJob(registry, log)); err != nil {
		log.Fatal().Err(err).Msg("Failed to register breaker auto-reset job")
	}

	if cfg.Backup.Enabled() {
		store, err := reliability.NewObjectStore(context.Background(), reliability.ObjectStoreConfig{
			Endpoint:  cfg.Backup.Endpoint,
			Region:    cfg.Backup.Region,
			Bucket:    cfg.Backup.Bucket,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		}, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize backup object store")
		}
		backups := reliability.NewLedgerBackupService(store, map[string]*sql.DB{
			"campaigns":   campaignsDB.Conn(),
			"auditledger": ledgerDB.Conn(),
		}, cfg.DataDir, log)
		if err := sched.AddJob("0 0 2 * * *", scheduler.NewLedgerBackupJob(backups, cfg.Backup.RetentionDays, log)); err != nil {
			log.Fatal().Err(err).Msg("Failed to register ledger backup job")
		}
	} else {
		log.Warn().Msg("Off-site backups disabled, no bucket configured")
	}

	sched.Start()

	// HTTP surface
	handlers := server.NewHandlers(campaigns, ledger, registry, reconEngine, log)
	srv := server.New(server.Config{
		Log:         log,
		Port:        cfg.Port,
		DevMode:     cfg.DevMode,
		CampaignsDB: campaignsDB,
		LedgerDB:    ledgerDB,
		Handlers:    handlers,
	})

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			log.Error().Err(err).Msg("Server error")
		}
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	}

	// Stop accepting ticks first so no lifecycle operation starts mid-shutdown
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown failed")
	}

	// Flush WAL before closing so the on-disk files are self-contained
	for _, db := range []*database.DB{campaignsDB, ledgerDB} {
		if err := db.WALCheckpoint("TRUNCATE"); err != nil {
			log.Warn().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
		}
	}

	log.Info().Msg("Shutdown complete")
}
