package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/copyrelay/internal/blob/s3"
	"github.com/alanyoungcy/copyrelay/internal/cache/redis"
	"github.com/alanyoungcy/copyrelay/internal/config"
	"github.com/alanyoungcy/copyrelay/internal/domain"
	"github.com/alanyoungcy/copyrelay/internal/notify"
	"github.com/alanyoungcy/copyrelay/internal/platform/mexc"
	"github.com/alanyoungcy/copyrelay/internal/relay"
	jsonstore "github.com/alanyoungcy/copyrelay/internal/store/json"
	"github.com/alanyoungcy/copyrelay/internal/store/postgres"
)

// Dependencies bundles everything the running relay needs. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Accounts   *relay.Accounts
	Registry   *relay.Registry
	Specs      *mexc.SpecCache
	Dispatcher *relay.Dispatcher
	Supervisor *relay.Supervisor
	Commands   *relay.Commands
	UILog      *relay.UILog
	Notifier   *notify.Notifier

	// Optional observation surfaces; nil when disabled.
	Archiver *s3blob.Archiver
}

// Wire constructs all concrete dependencies from the configuration and
// returns them with a cleanup function releasing connections in reverse
// order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Accounts ---
	store := jsonstore.NewStore(cfg.Relay.AccountsPath, cfg.Relay.SecretsPassword, logger)
	deps.Accounts = relay.NewAccounts(store, logger)
	if err := deps.Accounts.Load(ctx); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: accounts: %w", err)
	}

	// --- Exchange: follower registry + instrument specs ---
	deps.Registry = relay.NewRegistry(cfg.Exchange, nil, logger)
	public := mexc.NewPublicClient(cfg.Exchange.BaseURL, 10*time.Second, logger)
	deps.Specs = mexc.NewSpecCache(public, cfg.Exchange.SpecTTL.Duration, logger)

	// --- Notifications + UI log ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.UILog = relay.NewUILog(deps.Notifier, cfg.Relay.UILogTTL.Duration, logger)

	// --- PostgreSQL report journal (optional) ---
	var reportStore domain.ReportStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}
		reportStore = postgres.NewReportStore(pgClient.Pool())
	}

	// --- Redis signal bus (optional) ---
	var bus domain.SignalBus
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })
		bus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMaxLen)
	}

	// --- S3 event archive (optional) ---
	var sinks []domain.EventSink
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.FlushInterval.Duration, logger)
		sinks = append(sinks, deps.Archiver)
	}

	// --- Copy path ---
	factory := relay.NewIntentFactory(cfg.Relay.FallbackLeverage, cfg.Relay.FallbackMarginMode)
	executor := relay.NewExecutor(factory, deps.Specs, deps.UILog, logger)
	if reportStore != nil {
		executor.Audit = auditJournal(reportStore, logger)
	}
	reporter := relay.NewReporter(deps.Registry, deps.Accounts, logger)

	deps.Dispatcher = relay.NewDispatcher(relay.DispatcherOptions{
		Accounts:    deps.Accounts,
		Registry:    deps.Registry,
		Executor:    executor,
		Reporter:    reporter,
		UILog:       deps.UILog,
		QuoteAsset:  cfg.Exchange.QuoteAsset,
		QueueSize:   cfg.Relay.QueueSize,
		Report:      cfg.Relay.Report,
		Bus:         bus,
		Sinks:       sinks,
		ReportStore: reportStore,
		Logger:      logger,
	})

	deps.Supervisor = relay.NewSupervisor(cfg.Exchange, deps.Accounts, deps.Dispatcher, nil, logger)
	deps.Commands = relay.NewCommands(deps.Accounts, deps.Registry, deps.Dispatcher, deps.UILog, logger)

	return deps, cleanup, nil
}

// auditJournal writes order audits to the report store off the copy path.
func auditJournal(store domain.ReportStore, logger *slog.Logger) func(domain.OrderAudit) {
	return func(a domain.OrderAudit) {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.InsertOrderAudits(ctx, []domain.OrderAudit{a}); err != nil {
				logger.Warn("order audit journal failed",
					slog.String("id", a.ID), slog.String("error", err.Error()))
			}
		}()
	}
}
