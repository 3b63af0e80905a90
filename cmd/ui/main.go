package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"coinbase-trade-bot-go/internal/config"
	"coinbase-trade-bot-go/internal/database"
	"coinbase-trade-bot-go/internal/logger"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.NewLogger(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Connect to the database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}

	apiHandler := NewAPIHandler(log, db)

	addr := fmt.Sprintf(":%d", cfg.Server.UIPort)
	log.Info("Starting web server", zap.String("address", addr))

	server := &http.Server{
		Addr:              addr,
		Handler:           apiHandler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := server.ListenAndServe(); err != nil {
		log.Fatal("Web server failed", zap.Error(err))
	}
}
