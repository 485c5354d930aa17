package cmd

import (
	"fmt"
	"log/slog"

	"github.com/barysiuk/lettactl/internal/cliconfig"
	"github.com/barysiuk/lettactl/internal/letta"
)

// deps holds shared dependencies for CLI commands.
type deps struct {
	config *cliconfig.Manager
	cfg    *cliconfig.Config
	client *letta.HTTPClient
	logger *slog.Logger
}

// newDeps creates shared dependencies. Called lazily by commands that
// need them. Environment variables override file values for the client
// connection.
func newDeps() (*deps, error) {
	manager, err := cliconfig.NewManager()
	if err != nil {
		return nil, fmt.Errorf("initializing config: %w", err)
	}
	cfg, err := manager.Load()
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	logger := slog.Default()
	client := letta.NewClient(letta.ClientOptions{
		BaseURL: cfg.BaseURL,
		Token:   cfg.APIKey,
		Timeout: cfg.Timeout(),
		Logger:  logger,
	})

	return &deps{
		config: manager,
		cfg:    cfg,
		client: client,
		logger: logger,
	}, nil
}
