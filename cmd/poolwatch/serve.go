package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tos-network/poolwatch/internal/api"
	"github.com/tos-network/poolwatch/internal/config"
	"github.com/tos-network/poolwatch/internal/metrics"
	"github.com/tos-network/poolwatch/internal/newrelic"
	"github.com/tos-network/poolwatch/internal/notify"
	"github.com/tos-network/poolwatch/internal/poller"
	"github.com/tos-network/poolwatch/internal/prices"
	"github.com/tos-network/poolwatch/internal/rpc"
	"github.com/tos-network/poolwatch/internal/storage"
	"github.com/tos-network/poolwatch/internal/util"
)

var serveOnce bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the poller, notifier and API server",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveOnce, "once", false, "run a single poll cycle and exit")
}

func newPoolClient(cfg *config.Config) *rpc.PoolClient {
	return rpc.NewPoolClient(nil, rpc.ClientOptions{
		Timeout:        cfg.HTTP.Timeout,
		UserAgent:      cfg.HTTP.UserAgent,
		MaxAttempts:    cfg.HTTP.MaxRetries,
		RetryBaseDelay: cfg.HTTP.RetryBaseDelay,
		OfflineAfter:   cfg.Poll.WorkerOfflineAfter,
	})
}

func newPriceCache(cfg *config.Config) *prices.Cache {
	return prices.NewCache(prices.Options{
		URL:           cfg.Prices.URL,
		APIKey:        cfg.Prices.APIKey,
		TTL:           cfg.Prices.TTL,
		IncludeChange: cfg.Prices.IncludeChange,
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	util.Infof("poolwatch v%s starting with %d wallets", version, len(cfg.Wallets))

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.DSN, cfg.Redis.URL, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return fmt.Errorf("failed to open %s storage: %w", cfg.Storage.Driver, err)
	}
	defer store.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	nr := newrelic.NewAgent(&cfg.NewRelic)
	if err := nr.Start(); err != nil {
		util.Warnf("New Relic disabled: %v", err)
	}
	defer nr.Stop()

	client := newPoolClient(cfg)
	priceCache := newPriceCache(cfg)
	priceCache.OnRequest = m.ObservePriceRequest

	var sinks []poller.Sink
	notifier := notify.NewNotifier(&notify.WebhookConfig{
		Enabled:      cfg.Notify.Enabled,
		DiscordURL:   cfg.Notify.DiscordURL,
		TelegramURL:  cfg.Notify.TelegramURL,
		TelegramBot:  cfg.Notify.TelegramBot,
		TelegramChat: cfg.Notify.TelegramChat,
		DashboardURL: cfg.Notify.DashboardURL,
	})
	sinks = append(sinks, notifier)
	defer notifier.Wait()

	var apiServer *api.Server
	if cfg.API.Enabled && !serveOnce {
		apiServer, err = api.NewServer(cfg, api.Deps{
			Client:   client,
			Prices:   priceCache,
			Store:    store,
			Metrics:  m,
			NewRelic: nr,
		})
		if err != nil {
			return fmt.Errorf("failed to create API server: %w", err)
		}
		sinks = append(sinks, apiServer.Hub())
	}

	p := poller.New(cfg, client, priceCache, store, poller.Options{
		Metrics:  m,
		NewRelic: nr,
		Sinks:    sinks,
	})

	if serveOnce {
		res := p.RunCycle(context.Background())
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d wallets failed", res.Failed, res.Wallets)
		}
		return nil
	}

	if apiServer != nil {
		if err := apiServer.Start(); err != nil {
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}
	if err := p.Start(); err != nil {
		return fmt.Errorf("failed to start poller: %w", err)
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("poolwatch started. Press Ctrl+C to stop.")

	<-sigChan
	util.Info("Shutting down...")

	p.Stop()
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			util.Warnf("API server shutdown: %v", err)
		}
	}

	util.Info("poolwatch stopped")
	return nil
}
