// privadexd is one worker in the execution pool: it leases plans from the
// coordinator, drives their steps across chains, and serves the operator
// snapshot API. Workers are stateless and may be restarted freely.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kapilsinha/privadex/internal/api"
	"github.com/kapilsinha/privadex/internal/chain"
	"github.com/kapilsinha/privadex/internal/chain/evm"
	"github.com/kapilsinha/privadex/internal/chain/registry"
	"github.com/kapilsinha/privadex/internal/chain/substrate"
	"github.com/kapilsinha/privadex/internal/config"
	"github.com/kapilsinha/privadex/internal/coordinator"
	"github.com/kapilsinha/privadex/internal/driver"
	xerrors "github.com/kapilsinha/privadex/internal/errors"
	"github.com/kapilsinha/privadex/internal/observability/alerting"
	"github.com/kapilsinha/privadex/internal/storage/mysql"
	"github.com/kapilsinha/privadex/pkg/logger"
)

// Exit codes, part of the operator contract.
const (
	exitOK                 = 0
	exitConfigError        = 1
	exitCoordinatorUnreach = 2
	exitBadCredentials     = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx)
	stop()
	_ = logger.Sync()
	os.Exit(code)
}

func run(ctx context.Context) int {
	configPath := os.Getenv("PRIVADEX_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "privadex.json")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "privadexd: %v\n", err)
		return exitConfigError
	}

	logCfg := logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
		},
	}
	if err := logger.Init(logCfg); err != nil {
		fmt.Fprintf(os.Stderr, "privadexd: init logger: %v\n", err)
		return exitConfigError
	}
	log := logger.L()

	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		log.Error("load chain registry", slog.Any("error", err))
		return exitConfigError
	}

	signer, err := chain.NewSigner(cfg.Signer.EVMKey(), cfg.Signer.SubstrateSecret(), cfg.Signer.SS58Prefix)
	if err != nil {
		log.Error("load signing keys", slog.Any("error", err))
		return exitBadCredentials
	}

	store, err := dialCoordinator(ctx, cfg, log)
	if err != nil {
		log.Error("coordinator store unreachable after retries", slog.Any("error", err))
		return exitCoordinatorUnreach
	}
	defer store.Close()

	repo, err := openPlanStore(ctx, cfg)
	if err != nil {
		log.Error("open plan store", slog.Any("error", err))
		return exitConfigError
	}
	defer repo.Close()

	queue, err := openQueue(cfg)
	if err != nil {
		log.Error("open wake-up queue", slog.Any("error", err))
		return exitConfigError
	}
	if queue != nil {
		defer queue.Close()
	}

	adapters, err := openAdapters(ctx, reg, signer)
	if err != nil {
		if xerrors.IsCode(err, xerrors.CodeInvalidArgument) {
			log.Error("adapter credentials", slog.Any("error", err))
			return exitBadCredentials
		}
		log.Error("dial chain adapters", slog.Any("error", err))
		return exitConfigError
	}

	notifiers := []alerting.Notifier{alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}
	alerts := alerting.NewFanout(notifiers...)

	workerID := cfg.Worker.ID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}
	worker := driver.NewWorker(driver.Config{
		WorkerID:               workerID,
		PollInterval:           cfg.Worker.PollInterval(),
		IterationBudget:        cfg.Worker.IterationBudget(),
		MaxActionsPerIteration: cfg.Worker.MaxActionsPerIteration,
		RetryBudget:            cfg.Worker.RetryBudget,
		DestArrivalWarning:     cfg.Worker.DestArrivalWarning(),
	}, store, repo, signer, adapters, queue, alerts, cfg.Worker.Lease())

	escrow := func(id chain.ID) (chain.Address, bool) {
		info, err := reg.Chain(id)
		if err != nil {
			return chain.Address{}, false
		}
		return info.Escrow(), true
	}
	service := driver.NewService(repo, worker.Assigner(), queueProducer(queue), escrow)

	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()
	go func() {
		if err := worker.Run(workerCtx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("worker loop exited", slog.Any("error", err))
		}
	}()

	log.Info("privadexd started",
		slog.String("worker", workerID),
		slog.Int("chains", len(adapters)),
		slog.String("api", cfg.Server.Address))

	server := api.NewServer(cfg.Server.Address, service)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("api server exited", slog.Any("error", err))
		return exitConfigError
	}
	return exitOK
}

// dialCoordinator retries the store connection with doubling backoff
// before the daemon gives up with exit code 2; startup races against
// Redis coming up are routine in a pool deployment.
func dialCoordinator(ctx context.Context, cfg *config.Config, log *slog.Logger) (coordinator.Store, error) {
	const attempts = 5
	backoff := time.Second
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		store, err := openCoordinator(cfg)
		if err == nil {
			return store, nil
		}
		lastErr = err
		if attempt == attempts {
			break
		}
		log.Warn("coordinator store unreachable, retrying",
			slog.Int("attempt", attempt),
			slog.Duration("backoff", backoff),
			slog.Any("error", err))
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return nil, lastErr
}

func openCoordinator(cfg *config.Config) (coordinator.Store, error) {
	switch cfg.Coordinator.Driver {
	case "", "memory":
		return coordinator.NewMemoryStore(), nil
	case "redis":
		return coordinator.NewRedisStore(coordinator.RedisStoreConfig{
			Address:   cfg.Coordinator.Redis.Address,
			Password:  cfg.Coordinator.Redis.Password(),
			DB:        cfg.Coordinator.Redis.DB,
			KeyPrefix: cfg.Coordinator.Redis.KeyPrefix,
		})
	}
	return nil, fmt.Errorf("unknown coordinator driver %q", cfg.Coordinator.Driver)
}

func openPlanStore(ctx context.Context, cfg *config.Config) (mysql.PlanRepository, error) {
	switch cfg.PlanStore.Driver {
	case "", "memory":
		return mysql.NewMemoryPlanRepository(), nil
	case "mysql":
		return mysql.NewSQLPlanRepository(ctx, mysql.Config{
			DSN:             cfg.PlanStore.DSN(),
			MaxOpenConns:    cfg.PlanStore.MaxOpenConns,
			MaxIdleConns:    cfg.PlanStore.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.PlanStore.ConnMaxLifetimeSeconds) * time.Second,
		})
	}
	return nil, fmt.Errorf("unknown plan store driver %q", cfg.PlanStore.Driver)
}

func openQueue(cfg *config.Config) (driver.Queue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return driver.NewMemoryQueue(1024), nil
	case "rabbitmq":
		return driver.NewRabbitMQQueue(driver.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL(),
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	}
	return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
}

func queueProducer(q driver.Queue) driver.Producer {
	if q == nil {
		return nil
	}
	return q
}

func openAdapters(ctx context.Context, reg *registry.Registry, signer *chain.Signer) ([]driver.Adapter, error) {
	var adapters []driver.Adapter
	for _, info := range reg.Chains() {
		switch info.Family {
		case chain.FamilyEVM:
			adapter, err := evm.New(ctx, info, signer)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, adapter)
		case chain.FamilySubstrate:
			adapter, err := substrate.New(info, signer)
			if err != nil {
				return nil, err
			}
			adapters = append(adapters, adapter)
		}
	}
	return adapters, nil
}
