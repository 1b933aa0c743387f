package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"perpscan/config"
	"perpscan/internal/exchange"
	"perpscan/internal/notify"
	"perpscan/internal/pairs"
	"perpscan/internal/scheduler"
	"perpscan/logger"
)

const version = "1.0.0"

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config.yml", "Path to configuration file")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("perpscan " + version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.App.Name,
		"version": cfg.App.Version,
	}).Info("starting perpscan")

	if !strings.HasPrefix(cfg.WebhookURL, "https://discord.com/api/webhooks/") &&
		!strings.HasPrefix(cfg.WebhookURL, "https://discordapp.com/api/webhooks/") {
		log.WithComponent("main").Warn("webhook URL does not look like a Discord webhook")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.StartReport(ctx, log, 30*time.Second)
	}

	adapters := make([]exchange.Adapter, 0, len(cfg.Exchanges))
	for _, ec := range cfg.EnabledExchanges() {
		adapter, err := exchange.New(ec)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"exchange": ec.Name}).Error("Failed to build exchange adapter")
			os.Exit(1)
		}
		adapters = append(adapters, adapter)
	}

	resolver := pairs.NewResolver(pairs.NewCache(cfg.Storage.CacheFile), cfg.Schedule.CommonPairsUpdate)
	notifier := notify.NewNotifier(cfg.WebhookURL)
	orch := scheduler.NewOrchestrator(cfg, adapters, resolver, notifier)

	if *once {
		if err := orch.RunCycle(ctx); err != nil {
			log.WithError(err).Error("cycle failed")
			os.Exit(1)
		}
		log.Info("single cycle completed")
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- orch.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
		select {
		case <-done:
		case <-time.After(30 * time.Second):
			log.Warn("graceful shutdown timeout exceeded")
		}
	case err := <-done:
		if err != nil {
			log.WithError(err).Error("scheduler exited with error")
			os.Exit(1)
		}
	}

	log.Info("perpscan stopped")
}
