package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/rewired-gh/oddsradar/internal/classify"
	"github.com/rewired-gh/oddsradar/internal/config"
	"github.com/rewired-gh/oddsradar/internal/controller"
	"github.com/rewired-gh/oddsradar/internal/feed"
	"github.com/rewired-gh/oddsradar/internal/logger"
	"github.com/rewired-gh/oddsradar/internal/navigator"
	"github.com/rewired-gh/oddsradar/internal/notify"
	"github.com/rewired-gh/oddsradar/internal/provider"
	"github.com/rewired-gh/oddsradar/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format, logger.FileConfig{
		Path:       cfg.Logging.FilePath,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	defer logger.Sync()
	logger.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.DBPath, cfg.Storage.MaxAnomalies)
	if err != nil {
		logger.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	httpProvider := provider.NewHTTPProvider(provider.HTTPConfig{
		Name:          cfg.Provider.Name,
		FeedURL:       cfg.Provider.FeedURL,
		Timeout:       cfg.Provider.Timeout,
		RatePerSecond: cfg.Provider.RatePerSecond,
		RateBurst:     cfg.Provider.RateBurst,
	})

	nav := navigator.New(httpProvider, navigator.Config{
		MaxAttempts:       cfg.Navigator.MaxAttempts,
		PerAttemptTimeout: cfg.Navigator.PerAttemptTimeout,
		InterAttemptDelay: cfg.Navigator.InterAttemptDelay,
		SettleDelay:       cfg.Navigator.SettleDelay,
	})

	classifierCfg := classify.Config{
		DropThresholdPct:  cfg.Classifier.DropThresholdPct,
		RiseThresholdPct:  cfg.Classifier.RiseThresholdPct,
		FlowThresholdPct:  cfg.Classifier.FlowThresholdPct,
		HighVolume:        cfg.Classifier.HighVolume,
		TotalPrefixes:     cfg.Classifier.TotalPrefixes,
		LateGameMinute:    cfg.Classifier.LateGameMinute,
		CorridorWidthPct:  cfg.Classifier.CorridorWidthPct,
		ValueThresholdPct: cfg.Classifier.ValueThresholdPct,
		LimitCutPct:       cfg.Classifier.LimitCutPct,
	}
	copy(classifierCfg.SeverityTiers[:], cfg.Classifier.SeverityTiers)

	var refs classify.ReferenceSource
	if len(cfg.Classifier.ReferenceOdds) > 0 {
		refs = classify.StaticReferenceSource(cfg.Classifier.ReferenceOdds)
	}
	var fairOdds classify.FairOddsFunc
	if len(cfg.Classifier.FairOdds) > 0 {
		fairOdds = classify.StaticFairOdds(cfg.Classifier.FairOdds)
	}
	classifier := classify.New(classifierCfg, refs, fairOdds)

	sinks := []controller.Sink{store}
	if cfg.Console.Enabled {
		sinks = append(sinks, notify.NewConsole(cfg.Console.Table))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping...")
		cancel()
	}()

	var telegram *notify.Telegram
	if cfg.Telegram.Enabled {
		telegram, err = notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID,
			cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		telegram.ListenForCommands(ctx)
		sinks = append(sinks, telegram)
		logger.Info("Telegram notifications enabled")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	ctrl := controller.New(controller.Config{PollInterval: cfg.Controller.PollInterval},
		nav, classifier, sinks, store.SnapshotStore(httpProvider.Name()))
	ctrl.CloseOnStop(httpProvider)
	if telegram != nil {
		ctrl.SetReporter(telegram)
	}

	if cfg.Feed.Enabled {
		feedServer := feed.NewServer(cfg.Feed.Addr, store)
		go func() {
			if err := feedServer.Start(ctx); err != nil {
				logger.Error("Feed server failed: %v", err)
			}
		}()
	}

	logger.Info("Starting polling service (provider: %s, interval: %v, attempts: %d)",
		httpProvider.Name(), cfg.Controller.PollInterval, cfg.Navigator.MaxAttempts)

	if err := ctrl.Run(ctx); err != nil {
		logger.Error("Controller exited with error: %v", err)
	}
	logger.Info("Service stopped")
}
