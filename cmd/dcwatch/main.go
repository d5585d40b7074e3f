package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dcwatch/internal/alerts"
	"dcwatch/internal/api"
	"dcwatch/internal/audit"
	"dcwatch/internal/config"
	"dcwatch/internal/engine"
	"dcwatch/internal/ingest"
	"dcwatch/internal/loader"
	"dcwatch/internal/logging"
	"dcwatch/internal/metrics"
	"dcwatch/internal/model"
	"dcwatch/internal/publish"
	"dcwatch/internal/storage"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("c", "dcwatch.yaml", "path to config file")
	flag.Parse()

	cfgManager, err := config.NewManager(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	cfg := cfgManager.Get()

	logger := logging.NewLogger(cfg.LogLevel)
	logger.Info("dcwatch starting", "version", version, "config", cfgManager.Path())

	auditOut, closeAudit, err := logging.OpenAuditFile(cfg.Audit.Path)
	if err != nil {
		logger.Error("open audit file", "err", err)
		os.Exit(1)
	}
	defer func() { _ = closeAudit() }()
	auditLog := audit.NewWriter(auditOut)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store storage.Store
	if cfg.Storage.Enabled {
		store, err = storage.NewStore(cfg.Storage)
		if err != nil {
			logger.Error("open storage", "err", err)
			os.Exit(1)
		}
		if err := store.Init(ctx); err != nil {
			logger.Error("init storage", "err", err)
			os.Exit(1)
		}
		defer func() { _ = store.Close() }()
	}

	var publisher engine.Publisher
	if cfg.Publish.Enabled {
		kafkaPub, err := publish.NewKafka(cfg.Publish, logger)
		if err != nil {
			logger.Error("open publisher", "err", err)
			os.Exit(1)
		}
		defer func() { _ = kafkaPub.Close() }()
		publisher = kafkaPub
	}

	cache := metrics.NewCache()
	alertsStore := alerts.NewStore(cfg.Alerts.StoreLimit)
	eng := engine.New(logger, cache, publisher, alertsStore, store)

	reloadRules := func() error {
		rules, err := loader.LoadDir(cfgManager.Get().RulesDir, logger, auditLog)
		if err != nil {
			return err
		}
		eng.ReplaceRules(rules)
		logger.Info("rules loaded", "count", len(rules), "dir", cfgManager.Get().RulesDir)
		return nil
	}
	if err := reloadRules(); err != nil {
		logger.Error("load rules", "err", err)
		os.Exit(1)
	}

	in := make(chan model.MetricSample, cfg.Ingest.ChannelBuffer)
	eng.Start(ctx, in)
	eng.StartSweeper(ctx, cfg.Cache.SweepInterval)

	ingest.StartKafka(ctx, cfgManager, in, logger)
	ingest.StartREST(ctx, cfgManager, in, logger)
	api.Start(ctx, cfgManager, eng, alertsStore, reloadRules, logger, version)

	stop := make(chan struct{})
	go cfgManager.Watch(3*time.Second, func(next *config.Config) {
		logger.Info("config reloaded")
		if err := reloadRules(); err != nil {
			logger.Error("rule reload after config change", "err", err)
		}
	}, func(err error) {
		logger.Warn("config watch error", "err", err)
	}, stop)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	logger.Info("shutting down")
	close(stop)
	cancel()
	time.Sleep(500 * time.Millisecond)
	logger.Info("dcwatch stopped")
}
