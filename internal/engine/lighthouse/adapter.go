// Package lighthouse runs the audit engine as an external command.
package lighthouse

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/lei/lighthouse-kiosk/internal/engine"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

// Adapter implements engine.Engine by spawning the engine command
type Adapter struct {
	config *Config
	logger *logger.Logger
}

// Config contains engine command settings
type Config struct {
	Command    string   // executable, looked up in PATH
	Args       []string // leading arguments, e.g. the runner script
	Dir        string   // working directory
	ChromePath string   // exported to the engine as CHROME_PATH
}

// NewAdapter creates a new engine adapter
func NewAdapter(cfg *Config, log *logger.Logger) (*Adapter, error) {
	if cfg == nil || cfg.Command == "" {
		return nil, fmt.Errorf("engine command is required")
	}
	return &Adapter{
		config: cfg,
		logger: log,
	}, nil
}

// getLogger retrieves logger from context or falls back to adapter logger
func (a *Adapter) getLogger(ctx context.Context) *logger.Logger {
	if ctxLogger, ok := logger.FromContext(ctx); ok {
		return ctxLogger
	}
	return a.logger
}

// Audit implements engine.Engine
func (a *Adapter) Audit(ctx context.Context, req engine.Request, out io.Writer) error {
	logger := a.getLogger(ctx)

	cmd := a.command(ctx, req)
	// One writer for both streams keeps stdout and stderr lines in the order
	// the engine produced them.
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Info("engine: starting audit",
		"url", req.URL,
		"command", a.config.Command,
		"headless", req.Options.Headless)

	if err := cmd.Start(); err != nil {
		logger.Error("engine: failed to start", "command", a.config.Command, "error", err)
		return fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)
	}

	if err := cmd.Wait(); err != nil {
		mapped := mapExitError(err)
		logger.Warn("engine: audit failed",
			"url", req.URL,
			"exit_code", mapped.ExitCode,
			"error", err)
		return mapped
	}

	logger.Info("engine: audit finished", "url", req.URL)
	return nil
}

// Check implements engine.Engine
func (a *Adapter) Check(ctx context.Context) error {
	if _, err := exec.LookPath(a.config.Command); err != nil {
		return fmt.Errorf("%w: %v", engine.ErrEngineUnavailable, err)
	}
	return nil
}
