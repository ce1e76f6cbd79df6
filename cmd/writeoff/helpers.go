package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/viper"

	"github.com/joshsymonds/writeoff/internal/config"
	"github.com/joshsymonds/writeoff/internal/docstore"
	"github.com/joshsymonds/writeoff/internal/llm"
)

// openStore initializes the record store with proper path expansion and
// runs pending migrations.
func openStore(ctx context.Context) (*docstore.Store, error) {
	dbPath := viper.GetString("database.path")
	if dbPath == "" {
		dbPath = config.DefaultDatabasePath()
	}

	dbPath = config.ExpandPath(dbPath)

	store, err := docstore.NewStore(dbPath)
	if err != nil {
		return nil, err
	}

	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// newClassifier builds the LLM classifier from configuration.
func newClassifier(logger *slog.Logger) (*llm.Classifier, error) {
	cfg := llm.Config{
		Provider:    viper.GetString("llm.provider"),
		APIKey:      viper.GetString("llm.api_key"),
		Model:       viper.GetString("llm.model"),
		Temperature: viper.GetFloat64("llm.temperature"),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
		RateLimit:   viper.GetInt("llm.rate_limit"),
		Timeout:     viper.GetDuration("llm.timeout"),
	}
	if cfg.Provider == "" {
		cfg.Provider = "openai"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}

	return llm.NewClassifier(cfg, logger)
}
