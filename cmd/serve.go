package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"oikos/concierge/api/rest"
	"oikos/concierge/internal/bus"
	"oikos/concierge/internal/concierge"
	"oikos/concierge/internal/config"
	"oikos/concierge/internal/database"
	"oikos/concierge/internal/eventlog"
	"oikos/concierge/internal/idempotency"
	"oikos/concierge/internal/logger"
	"oikos/concierge/internal/redis"
	"oikos/concierge/internal/retry"
	"oikos/concierge/internal/watchdog"
)

// serveCmd 启动编排服务
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动编排服务",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg := config.Default()
	if cfgFile != "" {
		loaded, err := config.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("load config %s: %w", cfgFile, err)
		}
		cfg = loaded
	}
	if debug {
		cfg.Log.Level = "debug"
	}
	config.SetConfig(cfg)

	logger.Init(&cfg.Log)
	defer logger.Sync()
	log := logger.L()

	// 事件存储：配置了数据库则持久化，否则使用内存存储
	var store eventlog.Store
	if cfg.Database.Enabled {
		if err := database.Init(&cfg.Database); err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		defer database.Close()

		gormStore, err := eventlog.NewGormStore(database.GetDB())
		if err != nil {
			return fmt.Errorf("init event store: %w", err)
		}
		store = gormStore
	} else {
		store = eventlog.NewMemoryStore()
	}

	// 幂等键注册表：配置了 Redis 则跨实例共享
	var keys idempotency.Registry
	if cfg.Redis.Enabled {
		if err := redis.Init(&cfg.Redis); err != nil {
			return fmt.Errorf("init redis: %w", err)
		}
		defer redis.Close()
		keys = idempotency.NewRedisRegistry(redis.GetClient(), 24*time.Hour)
	} else {
		keys = idempotency.NewMemoryRegistry()
	}

	policy := retry.DefaultPolicy()
	if cfg.Orchestrator.MaxAppendAttempts > 0 {
		policy.MaxAttempts = cfg.Orchestrator.MaxAppendAttempts
	}

	eventBus := bus.New(log.Named("bus"))
	eventLog := eventlog.New(store, policy, log.Named("eventlog"))
	orch := concierge.New(eventLog, keys, eventBus, log.Named("concierge"))

	// 从事件日志重建运行状态（持久化存储重启后恢复）
	recovered, err := orch.Recover(context.Background())
	if err != nil {
		return fmt.Errorf("recover runs: %w", err)
	}
	if recovered > 0 {
		log.Info("recovered runs from event log", zap.Int("count", recovered))
	}

	if cfg.Watchdog.Enabled {
		wdCfg := watchdog.Config{
			Interval:        time.Duration(cfg.Watchdog.Interval) * time.Second,
			WaitingDeadline: time.Duration(cfg.Watchdog.WaitingDeadline) * time.Second,
		}
		wd, err := watchdog.New(orch, wdCfg, log.Named("watchdog"))
		if err != nil {
			return fmt.Errorf("init watchdog: %w", err)
		}
		wd.Start()
		defer func() { _ = wd.Stop() }()
	}

	serverCfg := &rest.Config{
		Address:        cfg.Server.Address,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		EnableCORS:     cfg.Server.EnableCORS,
		PushBufferSize: cfg.Orchestrator.PushBufferSize,
	}
	server := rest.NewServer(orch, eventBus, serverCfg, log.Named("rest"))

	errCh := make(chan error, 1)
	go func() {
		log.Info("concierge listening", zap.String("address", serverCfg.Address))
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", zap.String("signal", sig.String()))
		return server.Shutdown()
	}
}
