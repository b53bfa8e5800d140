// Package env builds the per-instance working context: the repository
// checkout, the artifact store and the observability sinks.
package env

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lucasnoah/patchfactory/internal/artifacts"
	"github.com/lucasnoah/patchfactory/internal/logging"
	"github.com/lucasnoah/patchfactory/internal/problem"
	"github.com/lucasnoah/patchfactory/internal/trajectory"
)

// Preparer clones or reuses a checkout of repo at commit in dir.
type Preparer interface {
	Prepare(repo, commit, dir string) error
}

// Options locates an instance's working state.
type Options struct {
	ReposDir  string
	OutputDir string
	Repo      Preparer
	Logger    *slog.Logger
}

// Environment is the context one lifecycle run works in.
type Environment struct {
	Problem    problem.Problem
	RepoPath   string
	Store      *artifacts.Store
	Trajectory *trajectory.Logger
	Logger     *slog.Logger
}

// New prepares the checkout for p and opens its trajectory log. The
// checkout lives at <ReposDir>/<checkout name>.
func New(p problem.Problem, opts Options) (*Environment, error) {
	if opts.Repo == nil {
		return nil, errors.New("env: no repository preparer")
	}
	if opts.ReposDir == "" || opts.OutputDir == "" {
		return nil, errors.New("env: repos and output directories are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.ForInstance(logger, p.InstanceID)

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	repoPath, err := filepath.Abs(filepath.Join(opts.ReposDir, p.CheckoutName()))
	if err != nil {
		return nil, err
	}
	if err := opts.Repo.Prepare(p.Repo, p.BaseCommit, repoPath); err != nil {
		return nil, fmt.Errorf("prepare checkout: %w", err)
	}

	store := artifacts.NewStore(opts.OutputDir)
	traj, err := trajectory.Open(store.TrajectoryPath(p.InstanceID))
	if err != nil {
		return nil, err
	}
	return &Environment{
		Problem:    p,
		RepoPath:   repoPath,
		Store:      store,
		Trajectory: traj,
		Logger:     logger,
	}, nil
}

// Close flushes and closes the trajectory log.
func (e *Environment) Close() error {
	if e == nil || e.Trajectory == nil {
		return nil
	}
	return e.Trajectory.Close()
}
