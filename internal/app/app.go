// Package app builds the reconciliation engines shared by the api and the
// cron worker from one loaded config.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/giroflow-backend/internal/agreements"
	"github.com/angelmondragon/giroflow-backend/internal/distribution"
	"github.com/angelmondragon/giroflow-backend/internal/identifier"
	"github.com/angelmondragon/giroflow-backend/internal/inflation"
	"github.com/angelmondragon/giroflow-backend/internal/ledger"
	"github.com/angelmondragon/giroflow-backend/internal/notifications"
	"github.com/angelmondragon/giroflow-backend/internal/providera"
	"github.com/angelmondragon/giroflow-backend/internal/providerb"
	"github.com/angelmondragon/giroflow-backend/internal/reconcile"
	"github.com/angelmondragon/giroflow-backend/internal/wallet"
	"github.com/angelmondragon/giroflow-backend/pkg/archive"
	"github.com/angelmondragon/giroflow-backend/pkg/config"
	"github.com/angelmondragon/giroflow-backend/pkg/db"
	"github.com/angelmondragon/giroflow-backend/pkg/enums"
	"github.com/angelmondragon/giroflow-backend/pkg/logger"
	"github.com/angelmondragon/giroflow-backend/pkg/mail"
	"github.com/angelmondragon/giroflow-backend/pkg/metrics"
	"github.com/angelmondragon/giroflow-backend/pkg/outbox"
	"github.com/angelmondragon/giroflow-backend/pkg/sftp"
)

type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Guard      reconcile.Guard
	Registerer prometheus.Registerer
	// Mailer overrides the SendGrid sender built from config.
	Mailer mail.Sender
	// Transfers override the SFTP clients built from config, keyed by provider.
	Transfers map[string]sftp.Transfer
}

// Components holds every engine. Wallet is nil when no wallet credentials are configured.
type Components struct {
	DB            *db.Client
	Ledger        ledger.Service
	Distributions *distribution.Service
	ProviderA     *providera.Engine
	ProviderB     *providerb.Engine
	Wallet        *wallet.Engine
	Inflation     *inflation.Engine
	OutboxRepo    *outbox.Repository
	Metrics       *metrics.ReconciliationMetrics
}

func New(ctx context.Context, params Params) (*Components, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	if params.Guard == nil {
		return nil, fmt.Errorf("inbound file guard required")
	}
	cfg := params.Config
	logg := params.Logger
	conn := params.DB.DB()

	reg := params.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	recMetrics := metrics.NewReconciliationMetrics(reg)

	outboxRepo := outbox.NewRepository(conn)
	emitter := outbox.NewService(outboxRepo, logg)

	ledgerRepo := ledger.NewRepository(conn)
	ledgerSvc, err := ledger.NewService(ledgerRepo, params.DB, emitter)
	if err != nil {
		return nil, fmt.Errorf("ledger: %w", err)
	}

	distributions, err := distribution.NewService(distribution.ServiceParams{
		Repository: distribution.NewRepository(conn),
		Donations:  ledgerRepo,
		Tx:         params.DB,
		Generator:  identifier.NewGenerator(nil),
		Outbox:     emitter,
		Logger:     logg,
	})
	if err != nil {
		return nil, fmt.Errorf("distributions: %w", err)
	}

	sender := params.Mailer
	if sender == nil {
		sender = mail.New(cfg.Sendgrid, logg)
	}
	notifier, err := notifications.NewService(sender, notifications.TemplatesFromConfig(cfg), cfg.App.OperatorMail, logg)
	if err != nil {
		return nil, fmt.Errorf("notifications: %w", err)
	}

	archiver, err := archive.New(ctx, cfg.Archive, logg)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	transferA, err := transfer(ctx, params, string(enums.AgreementTypeProviderA), cfg.ProviderA.SFTP())
	if err != nil {
		return nil, err
	}
	engineA, err := providera.NewEngine(providera.EngineParams{
		Repository: providera.NewRepository(conn),
		Ledger:     ledgerSvc,
		Tx:         params.DB,
		Notifier:   notifier,
		Transfer:   transferA,
		Archive:    archiver,
		Guard:      params.Guard,
		Outbox:     emitter,
		Metrics:    recMetrics,
		Logger:     logg,
		Config:     cfg.ProviderA,
	})
	if err != nil {
		return nil, fmt.Errorf("provider a: %w", err)
	}

	transferB, err := transfer(ctx, params, string(enums.AgreementTypeProviderB), cfg.ProviderB.SFTP())
	if err != nil {
		return nil, err
	}
	engineB, err := providerb.NewEngine(providerb.EngineParams{
		Repository: providerb.NewRepository(conn),
		Ledger:     ledgerSvc,
		Tx:         params.DB,
		Transfer:   transferB,
		Archive:    archiver,
		Guard:      params.Guard,
		Outbox:     emitter,
		Metrics:    recMetrics,
		Logger:     logg,
		Config:     cfg.ProviderB,
	})
	if err != nil {
		return nil, fmt.Errorf("provider b: %w", err)
	}

	var walletEngine *wallet.Engine
	var patcher inflation.PricePatcher
	if cfg.Wallet.ClientID == "" {
		logg.Warn(ctx, "wallet credentials not configured; wallet engine disabled")
	} else {
		client, err := wallet.NewClient(cfg.Wallet)
		if err != nil {
			return nil, fmt.Errorf("wallet client: %w", err)
		}
		walletEngine, err = wallet.NewEngine(wallet.EngineParams{
			Repository: wallet.NewRepository(conn),
			API:        client,
			Ledger:     ledgerSvc,
			Notifier:   notifier,
			Metrics:    recMetrics,
			Logger:     logg,
			Config:     cfg.Wallet,
		})
		if err != nil {
			return nil, fmt.Errorf("wallet: %w", err)
		}
		patcher = walletEngine
	}

	inflationEngine, err := inflation.NewEngine(inflation.EngineParams{
		Repository: inflation.NewRepository(conn),
		Agreements: agreements.NewRepository(conn),
		Index:      inflation.NewIndexClient(cfg.PriceIndex),
		Ledger:     ledgerSvc,
		Notifier:   notifier,
		Wallet:     patcher,
		Tx:         params.DB,
		Outbox:     emitter,
		Logger:     logg,
		Config:     cfg.Inflation,
		PublicURL:  cfg.App.PublicURL,
	})
	if err != nil {
		return nil, fmt.Errorf("inflation: %w", err)
	}

	return &Components{
		DB:            params.DB,
		Ledger:        ledgerSvc,
		Distributions: distributions,
		ProviderA:     engineA,
		ProviderB:     engineB,
		Wallet:        walletEngine,
		Inflation:     inflationEngine,
		OutboxRepo:    outboxRepo,
		Metrics:       recMetrics,
	}, nil
}

func transfer(ctx context.Context, params Params, provider string, cfg config.SFTPConfig) (sftp.Transfer, error) {
	if t, ok := params.Transfers[provider]; ok {
		return t, nil
	}
	if params.Config.Features.DryRunSFTP || cfg.Host == "" {
		params.Logger.Warn(params.Logger.WithProvider(ctx, provider), "sftp not configured; using in-memory transfer")
		return sftp.NewMemory(), nil
	}
	client, err := sftp.New(cfg, params.Logger)
	if err != nil {
		return nil, fmt.Errorf("%s sftp: %w", provider, err)
	}
	return client, nil
}
