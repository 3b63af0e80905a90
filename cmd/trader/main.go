package main

import (
	"fmt"
	"os"

	"coinbase-trade-bot-go/internal/config"
	"coinbase-trade-bot-go/internal/database"
	"coinbase-trade-bot-go/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	configDir string
	cfg       config.Config
	log       *zap.Logger
	db        *gorm.DB
)

// rootCmd loads configuration, logger and database for every subcommand.
var rootCmd = &cobra.Command{
	Use:          "trader",
	Short:        "Trailing threshold spot trading bot for Coinbase",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig(configDir)
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}

		log, err = logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
		if err != nil {
			return fmt.Errorf("could not initialize logger: %w", err)
		}
		log.Info("Configuration loaded", zap.Strings("products", cfg.Trading.ProductIDs))

		db, err = database.NewDatabase(cfg.Database.DSN)
		if err != nil {
			return err
		}
		log.Info("Database connection successful and schema migrated.")
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "./configs", "directory holding config.yml")
	rootCmd.AddCommand(runCmd, recoverCmd, seedCmd)

	if err := rootCmd.Execute(); err != nil {
		if log != nil {
			log.Fatal("Bot stopped", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
