package server

import (
	"fmt"
	"io"
	"os"

	"github.com/maltehedderich/mealplan-api/internal/config"
	"github.com/maltehedderich/mealplan-api/internal/logger"
)

// ConfigureLogger initializes the global logger from cfg. The returned
// func closes the log file when output goes to one.
func ConfigureLogger(cfg *config.LoggingConfig) (func(), error) {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	var output io.Writer
	closeOutput := func() {}
	switch cfg.Output {
	case "", "stdout":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = f
		closeOutput = func() { _ = f.Close() }
	}

	logger.Init(level, cfg.Format, output)

	if len(cfg.SanitizePatterns) > 0 {
		if err := logger.Get().SetSanitizePatterns(cfg.SanitizePatterns); err != nil {
			closeOutput()
			return nil, fmt.Errorf("failed to set sanitize patterns: %w", err)
		}
	}

	log := logger.Get().WithComponent("main")
	for component, levelStr := range cfg.ComponentLevels {
		componentLevel, err := logger.ParseLevel(levelStr)
		if err != nil {
			log.Warn("invalid component log level", logger.Fields{
				"component": component,
				"level":     levelStr,
				"error":     err.Error(),
			})
			continue
		}
		logger.Get().SetComponentLevel(component, componentLevel)
	}

	return closeOutput, nil
}
