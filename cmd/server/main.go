// Command server runs the Kafka operations agent: the marketplace
// broker API, the topic management API, the provisioning orchestrator,
// and the maintenance scheduler.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/api"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/clients"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/config"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/domain"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/orchestrator"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/providers"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/resilience"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/scheduler"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/storage"
	"github.com/chandan1819/kafka-self-service-platform-sub000/internal/topics"
)

func main() {
	configPath := flag.String("config-file", os.Getenv("KAFKA_OPS_AGENT_CONFIG"), "path to the configuration file")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	manager, err := config.NewManager(*configPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("cannot load configuration")
	}
	cfg := manager.Current()
	applyLogging(logger, cfg.Logging)
	manager.OnChange(config.LogLevelHandler(logger))
	manager.OnChange(config.RestartWarningHandler(logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg.Database)
	if err != nil {
		logger.WithError(err).Fatal("cannot open metadata store")
	}

	registry := providers.NewRegistry()
	registerProviders(registry, cfg.Providers, logger)

	pool := clients.NewPool(nil, clients.PoolOptions{
		MaxConnections:      cfg.Pool.MaxConnections,
		MaxIdleTime:         cfg.Pool.MaxIdleTime.Std(),
		HealthCheckInterval: cfg.Pool.HealthCheckInterval.Std(),
		CleanupInterval:     cfg.Pool.CleanupInterval.Std(),
		RequestTimeout:      cfg.Kafka.RequestTimeout.Std(),
	}, logger)
	pool.Start(ctx)

	retryPolicy, breakerSettings := resiliencePolicies(cfg.Resilience)
	orch := orchestrator.New(store, registry, pool,
		domain.ProviderKind(cfg.Providers.Default), cfg.Providers.WorkerPoolSize, logger)
	orch.ConfigureResilience(retryPolicy, breakerSettings)
	topicService := topics.NewService(store, pool, logger)
	topicService.ConfigureResilience(retryPolicy, breakerSettings)

	sched := scheduler.New(cfg.Cleanup.WorkerPoolSize, logger)
	sched.SetHistoryLimit(cfg.Cleanup.HistoryLimit)
	sched.RegisterHandler(domain.TaskTopicCleanup, scheduler.TopicCleanupHandler(topicService))
	sched.RegisterHandler(domain.TaskClusterCleanup, scheduler.ClusterCleanupHandler(orch))
	sched.RegisterHandler(domain.TaskHealthCheck, scheduler.HealthCheckHandler(topicService))
	registerTasks(sched, cfg.Cleanup, logger)
	sched.Start()

	var watcher *config.Watcher
	if *configPath != "" && cfg.Features["hot_reload"] {
		watcher, err = config.NewWatcher(manager, logger, *configPath)
		if err != nil {
			logger.WithError(err).Warn("cannot watch configuration file")
		} else {
			watcher.Start(ctx)
		}
	}

	broker := api.NewBrokerHandler(orch, logger)
	topicAPI := api.NewTopicHandler(topicService, logger)
	server := api.NewServer(cfg.API, broker, topicAPI, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.WithField("signal", sig.String()).Info("shutting down")
	case err := <-errCh:
		if err != nil {
			logger.WithError(err).Error("http server failed")
		}
	}

	// Shutdown order: stop reacting to config, stop scheduling new
	// work, drain connections, then release the store.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Warn("http server did not drain cleanly")
	}
	if watcher != nil {
		watcher.Stop()
	}
	sched.Stop()
	pool.Close()
	if err := store.Close(); err != nil {
		logger.WithError(err).Warn("cannot close metadata store")
	}
	cancel()
	logger.Info("server stopped")
}

func resiliencePolicies(cfg config.ResilienceConfig) (resilience.RetryPolicy, resilience.BreakerSettings) {
	policy := resilience.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay.Std(),
		MaxDelay:    cfg.Retry.MaxDelay.Std(),
		Strategy:    resilience.GrowthStrategy(cfg.Retry.Strategy),
		Factor:      cfg.Retry.Factor,
		Jitter:      cfg.Retry.Jitter,
	}
	settings := resilience.BreakerSettings{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout.Std(),
		SuccessThreshold: cfg.Breaker.SuccessThreshold,
		CallTimeout:      cfg.Breaker.CallTimeout.Std(),
	}
	return policy, settings
}

func applyLogging(logger *logrus.Logger, cfg config.LoggingConfig) {
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (storage.Store, error) {
	if cfg.Type == "postgres" {
		return storage.NewPostgresStore(ctx, cfg.DSN())
	}
	return storage.NewFileStore(cfg.FilePath)
}

// registerProviders wires every substrate whose prerequisites are
// present; a missing docker daemon or kubeconfig only disables that
// provider.
func registerProviders(registry *providers.Registry, cfg config.ProvidersConfig, logger *logrus.Logger) {
	if docker, err := providers.NewDockerProvider(cfg.Docker, logger); err != nil {
		logger.WithError(err).Warn("docker provider unavailable")
	} else {
		registry.Register(docker)
	}
	if kube, err := providers.NewKubernetesProvider(cfg.Kubernetes, logger); err != nil {
		logger.WithError(err).Warn("kubernetes provider unavailable")
	} else {
		registry.Register(kube)
	}
	if terraform, err := providers.NewTerraformProvider(cfg.Terraform, logger); err != nil {
		logger.WithError(err).Warn("terraform provider unavailable")
	} else {
		registry.Register(terraform)
	}
}

func registerTasks(sched *scheduler.Scheduler, cfg config.CleanupConfig, logger *logrus.Logger) {
	for _, tc := range cfg.Tasks {
		task := &domain.ScheduledTask{
			TaskID:         tc.ID,
			TaskType:       domain.TaskType(tc.Type),
			CronExpression: tc.Cron,
			Enabled:        tc.Enabled,
			TargetCluster:  tc.TargetCluster,
			Parameters:     taskParameters(tc, cfg),
		}
		if err := sched.AddTask(task); err != nil {
			logger.WithError(err).WithField("task_id", tc.ID).Warn("cannot register scheduled task")
		}
	}
}

// taskParameters fills in the configured max-age default when the task
// declaration does not set one.
func taskParameters(tc config.TaskConfig, cfg config.CleanupConfig) map[string]interface{} {
	params := make(map[string]interface{}, len(tc.Parameters)+1)
	for k, v := range tc.Parameters {
		params[k] = v
	}
	if _, set := params["max_age_hours"]; !set {
		switch domain.TaskType(tc.Type) {
		case domain.TaskTopicCleanup:
			if cfg.TopicMaxAgeHours > 0 {
				params["max_age_hours"] = cfg.TopicMaxAgeHours
			}
		case domain.TaskClusterCleanup:
			if cfg.ClusterMaxAgeHours > 0 {
				params["max_age_hours"] = cfg.ClusterMaxAgeHours
			}
		}
	}
	return params
}
