package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/patchfactory/internal/checks"
	"github.com/lucasnoah/patchfactory/internal/config"
	"github.com/lucasnoah/patchfactory/internal/db"
	"github.com/lucasnoah/patchfactory/internal/llm"
	"github.com/lucasnoah/patchfactory/internal/logging"
	"github.com/lucasnoah/patchfactory/internal/orchestrator"
	"github.com/lucasnoah/patchfactory/internal/repo"
)

// resolveConfigPath turns the --config flag into an absolute path. An empty
// flag means "search the default locations".
func resolveConfigPath(flag string) (string, error) {
	if flag == "" {
		return "", nil
	}
	abs, err := filepath.Abs(flag)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return "", fmt.Errorf("config file not found: %s", abs)
	}
	return abs, nil
}

func loadConfig() (*config.AgentConfig, error) {
	path, err := resolveConfigPath(configFile)
	if err != nil {
		return nil, err
	}
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

// loadValidConfig loads the config and rejects it when Validate reports
// any problem.
func loadValidConfig() (*config.AgentConfig, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %v (run `patchfactory config validate`)", errs[0])
	}
	return cfg, nil
}

func newLogger(cmd *cobra.Command, cfg config.Log) (*logging.Logger, error) {
	return logging.New(logging.Config{
		Level:  cfg.Level,
		JSON:   cfg.JSON,
		File:   cfg.File,
		Writer: cmd.ErrOrStderr(),
	})
}

// openDB connects to the ledger and migrates it.
func openDB(ctx context.Context, url string) (*db.DB, func(), error) {
	if url == "" {
		return nil, nil, fmt.Errorf("no ledger configured (set agent.ledger.database_url)")
	}
	d, err := db.Open(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Migrate(ctx); err != nil {
		d.Close()
		return nil, nil, err
	}
	return d, d.Close, nil
}

// newOrchestrator builds an orchestrator with the real git, LLM and
// harness implementations. The cleanup func releases the ledger and log
// file.
func newOrchestrator(cmd *cobra.Command) (*orchestrator.Orchestrator, func(), error) {
	cfg, err := loadValidConfig()
	if err != nil {
		return nil, nil, err
	}
	a := cfg.Agent

	logger, err := newLogger(cmd, a.Log)
	if err != nil {
		return nil, nil, err
	}
	cleanups := []func(){func() { logger.Close() }}
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	deps := orchestrator.Deps{
		Workspace: repo.NewManager(&repo.ExecGit{}, a.Paths.CloneBaseURL, logger.Logger),
		Commands:  &checks.ExecRunner{},
		Logger:    logger.Logger,
	}

	provider, err := llm.FromConfig(a.Model, logger.Logger)
	if err != nil {
		// The lifecycle reports the uninitialized agent on the run itself.
		logger.Warn("LLM provider unavailable", "error", err)
	} else {
		deps.Provider = provider
	}

	if a.Ledger.DatabaseURL != "" {
		d, closeDB, err := openDB(cmd.Context(), a.Ledger.DatabaseURL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		cleanups = append(cleanups, closeDB)
		deps.Ledger = d
	}

	return orchestrator.NewOrchestrator(a, deps), cleanup, nil
}

func writeJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))
	return nil
}

// readInput reads a file argument; "-" reads stdin.
func readInput(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
