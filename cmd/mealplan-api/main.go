package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/server"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")
	version    = "1.0.0"
	buildTime  = "unknown"
	gitCommit  = "unknown"
)

func main() {
	flag.Parse()

	fmt.Printf("Mealplan API v%s (commit: %s, built: %s)\n", version, gitCommit, buildTime)

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := server.ConfigureLogger(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	log := logger.Get().WithComponent("main")
	log.Info("starting mealplan API", logger.Fields{
		"version":    version,
		"git_commit": gitCommit,
		"build_time": buildTime,
	})

	app, err := server.NewApp(context.Background(), cfg, version, server.Dependencies{})
	if err != nil {
		log.Error("failed to build application", logger.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	log.Info("configuration loaded successfully", logger.Fields{
		"http_port":   cfg.Server.HTTPPort,
		"tls_enabled": cfg.Server.TLSEnabled,
	})

	// Start server (blocks until shutdown)
	if err := server.New(cfg, app).Start(); err != nil {
		log.Error("server error", logger.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	log.Info("mealplan API stopped")
}
