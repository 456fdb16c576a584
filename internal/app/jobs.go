package app

import (
	"context"
	"fmt"

	"github.com/angelmondragon/giroflow-backend/internal/cron"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
)

// Job names accepted by the cron worker and the admin run endpoint.
const (
	JobProviderAClaims  = "providera-claims"
	JobProviderAInbound = "providera-inbound"
	JobProviderARetry   = "providera-retry"
	JobProviderBClaims  = "providerb-claims"
	JobProviderBInbound = "providerb-inbound"
	JobWalletCharges    = "wallet-charges"
	JobWalletSync       = "wallet-sync"
	JobInflationScan    = "inflation-scan"
	JobInflationSend    = "inflation-send"
	JobInflationCleanup = "inflation-cleanup"
)

type step struct {
	name string
	spec string
	run  cron.Step
}

// Registry maps every engine operation to a named job with its schedule.
// Wallet jobs are only registered when the wallet engine is configured.
func (c *Components) Registry(cfg config.CronConfig, logg *logger.Logger) (*cron.Registry, error) {
	steps := []step{
		{JobProviderAClaims, cfg.ProviderAClaims, cron.Steps(c.ProviderA.RunClaims)},
		{JobProviderAInbound, cfg.ProviderAInbound, cron.Steps(c.ProviderA.SyncInbound)},
		{JobProviderARetry, cfg.ProviderARetry, cron.Steps(c.ProviderA.RetryUnacknowledged)},
		{JobProviderBClaims, cfg.ProviderBClaims, cron.Steps(c.ProviderB.RunClaims)},
		{JobProviderBInbound, cfg.ProviderBInbound, cron.Steps(c.ProviderB.SyncInbound)},
		{JobInflationScan, cfg.InflationScan, cron.Steps(c.Inflation.Scan)},
		{JobInflationSend, cfg.InflationSend, cron.Steps(c.Inflation.SendPending)},
		{JobInflationCleanup, cfg.InflationCleanup, cron.Steps(func(ctx context.Context) (map[string]int64, error) {
			expired, err := c.Inflation.CleanupExpired(ctx)
			return map[string]int64{"expired": expired}, err
		})},
	}
	if c.Wallet != nil {
		steps = append(steps,
			step{JobWalletCharges, cfg.WalletCharges, cron.Steps(c.Wallet.CreateFutureDueCharges)},
			step{JobWalletSync, cfg.WalletSync, cron.Steps(c.Wallet.Synchronize)},
		)
	}

	registry := cron.NewRegistry()
	for _, s := range steps {
		job, err := cron.NewStepJob(s.name, logg, s.run)
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", s.name, err)
		}
		registry.Register(s.spec, job)
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         c.DB,
		Repository: c.OutboxRepo,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	registry.Register(cfg.OutboxRetention, retention)
	return registry, nil
}
