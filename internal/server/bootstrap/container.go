package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"chatgem/internal/ledger/adapters"
	"chatgem/internal/ledger/app/gate"
	"chatgem/internal/ledger/app/ledger"
	"chatgem/internal/ledger/app/settlement"
	"chatgem/internal/ledger/app/transactions"
	"chatgem/internal/ledger/domain"
	"chatgem/internal/ledger/ports"
	"chatgem/internal/logging"
	"chatgem/internal/observability"
)

// ledgerStore is what both the memory and Postgres backends provide.
type ledgerStore interface {
	ports.UnitOfWork
	Users() ports.UserRepository
	Transactions() ports.TransactionRepository
	Events() ports.PaymentEventRepository
}

// Container holds the wired services for one process.
type Container struct {
	Store        ledgerStore
	Ledger       *ledger.Service
	Transactions *transactions.Service
	Settlement   *settlement.Coordinator
	Gate         *gate.Gate
	Plans        *domain.PlanCatalog
	Identity     *adapters.JWTIdentityVerifier
	Degraded     *DegradedComponents

	healthCheck func(ctx context.Context) error
	closers     []func() error
}

// BuildContainer wires storage, the ledger services and the settlement
// coordinator from cfg. obs may be nil, in which case nothing is measured or
// traced.
func BuildContainer(ctx context.Context, cfg Config, obs *Observability) (*Container, error) {
	logger := logging.NewComponentLogger("Container")
	var (
		metrics *observability.MetricsCollector
		tracer  *observability.TracerProvider
	)
	if obs != nil {
		metrics, tracer = obs.Metrics, obs.Tracer
	}

	c := &Container{Degraded: NewDegradedComponents()}
	var (
		eventIDs *adapters.SnowflakeEventIDs
		archive  ports.PayloadArchive
	)

	stages := []BootstrapStage{
		{
			Name: "store", Required: true,
			Init: func(ctx context.Context) error { return c.openStore(ctx, cfg, logger) },
		},
		{
			Name: "plans", Required: true,
			Init: func(ctx context.Context) error {
				plans, err := domain.NewPlanCatalog(cfg.Plans)
				if err != nil {
					return err
				}
				c.Plans = plans
				return nil
			},
		},
		{
			Name: "event-ids", Required: true,
			Init: func(ctx context.Context) error {
				ids, err := adapters.NewSnowflakeEventIDs(cfg.Settlement.EventNode)
				if err != nil {
					return err
				}
				eventIDs = ids
				return nil
			},
		},
		{
			Name: "archive", Required: false,
			Init: func(ctx context.Context) error {
				if !cfg.Archive.Enabled() {
					return nil
				}
				s3Archive, err := adapters.NewS3Archive(ctx, cfg.Archive)
				if err != nil {
					return err
				}
				archive = s3Archive
				return nil
			},
		},
	}
	if err := RunStages(ctx, stages, c.Degraded, logger); err != nil {
		_ = c.Close()
		return nil, err
	}

	c.Ledger = ledger.NewService(c.Store.Users(), ledger.Config{
		MaxBalance:    cfg.Ledger.MaxBalance,
		StartingGrant: cfg.Ledger.StartingGrant,
		FreeFloor:     cfg.Ledger.FreeFloor,
	})
	c.Ledger.AttachMetrics(metrics)
	c.Transactions = transactions.NewService(c.Store.Transactions())

	provider, err := buildProvider(cfg, logger)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if cfg.Webhook.Secret == "" {
		logger.Warn("webhook.secret is empty: every webhook will be rejected")
	}

	settlementCfg := settlement.DefaultConfig()
	settlementCfg.Mode = cfg.Mode()
	settlementCfg.SimulateOnProviderFailure = cfg.Settlement.SimulateOnProviderFailure
	settlementCfg.PendingTTL = cfg.Settlement.PendingTTL
	settlementCfg.SweepBatch = cfg.Settlement.SweepBatch
	settlementCfg.BonusRule = domain.BonusRule{
		ThresholdMajor: cfg.Settlement.BonusThresholdMajor,
		Percent:        cfg.Settlement.BonusPercent,
	}

	coord, err := settlement.NewCoordinator(settlement.Dependencies{
		UnitOfWork:   c.Store,
		Ledger:       c.Ledger,
		Transactions: c.Transactions,
		Events:       c.Store.Events(),
		Signatures:   adapters.NewHMACVerifier(cfg.Webhook.Secret),
		Provider:     provider,
		OrderIDs:     adapters.KSUIDOrderIDs{},
		EventIDs:     eventIDs,
		Publisher:    adapters.FanoutPublisher{adapters.NewLoggingEventPublisher(logging.NewComponentLogger("LedgerEvents"))},
		Archive:      archive,
		Metrics:      metrics,
		Tracer:       tracer,
	}, settlementCfg)
	if err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("build settlement coordinator: %w", err)
	}
	c.Settlement = coord
	c.Gate = gate.New(c.Ledger, tracer)

	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty: authenticated routes will reject every request")
	}
	c.Identity = adapters.NewJWTIdentityVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer)

	if !c.Degraded.IsEmpty() {
		logger.Warn("Started with degraded components: %s", c.Degraded)
	}
	return c, nil
}

func (c *Container) openStore(ctx context.Context, cfg Config, logger logging.Logger) error {
	switch cfg.Store.Driver {
	case StorePostgres:
		db, err := adapters.OpenPostgres(ctx, cfg.Store.Postgres)
		if err != nil {
			return err
		}
		if cfg.Store.AutoMigrate {
			if err := adapters.RunMigrations(ctx, db); err != nil {
				_ = db.Close()
				return err
			}
			logger.Info("Ledger migrations applied")
		}
		store := adapters.NewPostgresStore(db)
		c.Store = store
		c.healthCheck = store.Ping
		c.closers = append(c.closers, store.Close)
		logger.Info("Ledger store: postgres")
	default:
		c.Store = adapters.NewMemoryStore()
		logger.Warn("Ledger store: memory (balances are lost on restart)")
	}
	return nil
}

// buildProvider returns the provider status client. Without a base URL
// outside production there is no provider and Verify relies on the
// simulated fallback when it is enabled.
func buildProvider(cfg Config, logger logging.Logger) (ports.PaymentVerifier, error) {
	if cfg.Provider.BaseURL == "" {
		logger.Warn("provider.base_url is empty: payment verification is unavailable")
		return nil, nil
	}
	client, err := adapters.NewHTTPPaymentVerifier(cfg.Provider, logging.NewComponentLogger("PaymentProvider"))
	if err != nil {
		return nil, fmt.Errorf("build payment provider: %w", err)
	}
	return client, nil
}

// HealthCheck probes the backing store; nil for the memory store.
func (c *Container) HealthCheck() func(ctx context.Context) error {
	return c.healthCheck
}

// Close releases the store. Safe to call more than once.
func (c *Container) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
