package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
	"github.com/maltehedderich/mealplan-api/internal/server"
)

var version = "1.0.0"

func main() {
	// Configuration comes from MEALPLAN_* environment variables
	cfg, err := config.Load(os.Getenv("MEALPLAN_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if _, err := server.ConfigureLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure logging: %v\n", err)
		os.Exit(1)
	}

	app, err := server.NewApp(context.Background(), cfg, version, server.Dependencies{})
	if err != nil {
		logger.Get().WithComponent("main").Error("failed to build application", logger.Fields{
			"error": err.Error(),
		})
		os.Exit(1)
	}

	lambda.Start(server.LambdaHandler(app.Handler))
}
