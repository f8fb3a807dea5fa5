package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eddiefleurent/ssov_engine/internal/config"
	"github.com/eddiefleurent/ssov_engine/internal/dashboard"
	"github.com/eddiefleurent/ssov_engine/internal/engine"
	"github.com/eddiefleurent/ssov_engine/internal/strikes"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	logger := newLogger(cfg.Environment)
	logger.WithFields(logrus.Fields{
		"mode":   cfg.Environment.Mode,
		"market": cfg.Market.Name,
		"vaults": len(cfg.Market.Vaults),
	}).Info("Starting SSOV engine")
	if cfg.IsPaperTrading() {
		logger.Info("PAPER MODE - serving generated vault data")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("Engine error")
	}
	logger.Info("Engine stopped successfully")
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	src, err := buildSources(ctx, cfg, logger, time.Now)
	if err != nil {
		return err
	}
	defer src.Close()

	builder := strikes.NewBuilder(strikes.Config{
		DisplayPlaces: cfg.Engine.Places(),
		Concurrency:   cfg.Engine.Concurrency,
	}, logger)
	svc := engine.New(src.Ledger, src.Chain, builder, engine.Config{
		Owner:       cfg.OwnerAddress(),
		Vaults:      cfg.VaultAddresses(),
		Concurrency: cfg.Engine.Concurrency,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return svc.Run(gctx, cfg.GetRefreshInterval())
	})

	if cfg.Dashboard.Enabled {
		server := dashboard.NewServer(dashboard.Config{
			Port:      cfg.Dashboard.Port,
			AuthToken: cfg.Dashboard.AuthToken,
		}, svc, logger)
		g.Go(server.Start)
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutdown signal received, stopping dashboard...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}

func newLogger(env config.EnvironmentConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(env.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if env.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}
	return logger
}
