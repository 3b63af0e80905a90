package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coinbase-trade-bot-go/internal/coinbase"
	"coinbase-trade-bot-go/internal/notify"
	"coinbase-trade-bot-go/internal/store"
	"coinbase-trade-bot-go/internal/trader"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Trade the configured products until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Setup context for graceful shutdown
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		go func() {
			sigchan := make(chan os.Signal, 1)
			signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
			<-sigchan
			log.Info("Shutdown signal received, gracefully shutting down...")
			cancel()
		}()

		return runTrader(ctx)
	},
}

// newEngine wires the engine to the exchange, the database and the webhook.
func newEngine(ctx context.Context) (*trader.Engine, *notify.Webhook, error) {
	restClient := coinbase.NewRestClient(&cfg.Coinbase, log)
	serverTime, err := restClient.GetServerTime(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to Coinbase API: %w", err)
	}
	log.Info("Successfully connected to Coinbase API.", zap.Time("server_time", serverTime))

	notifier := notify.NewWebhook(&cfg.Notification, log)
	engine, err := trader.NewEngine(log, &cfg.Trading, restClient, store.New(db), notifier)
	if err != nil {
		return nil, nil, err
	}
	return engine, notifier, nil
}

func runTrader(ctx context.Context) error {
	engine, notifier, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer notifier.Close()

	if err := engine.Recover(ctx); err != nil {
		return fmt.Errorf("could not recover unfinished orders: %w", err)
	}

	feed, err := coinbase.DialFeed(ctx, coinbase.FeedURL(&cfg.Coinbase), cfg.Trading.ProductIDs, log)
	if err != nil {
		return err
	}
	defer feed.Close()

	api := trader.NewAPIServer(engine, cfg.Server.Port, log)
	api.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := api.Stop(stopCtx); err != nil {
			log.Warn("API server did not stop cleanly", zap.Error(err))
		}
	}()

	// Trades still waiting for fills are interrupted on return and picked up
	// by Recover on the next start.
	runCtx, stop := context.WithCancel(ctx)
	err = engine.Run(runCtx, feed)
	stop()
	engine.Wait()
	if err != nil {
		return err
	}

	log.Info("Bot has been shut down.")
	return nil
}

var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Finish orders an earlier run left unfinished, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, notifier, err := newEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer notifier.Close()

		if err := engine.Recover(cmd.Context()); err != nil {
			return fmt.Errorf("could not recover unfinished orders: %w", err)
		}
		log.Info("Recovery finished")
		return nil
	},
}
