package lighthouse

import (
	"context"
	"errors"
	"os"
	"os/exec"

	"github.com/lei/lighthouse-kiosk/internal/engine"
)

// buildArgs renders the engine command line for one request
func (a *Adapter) buildArgs(req engine.Request) []string {
	args := append([]string(nil), a.config.Args...)
	args = append(args, req.URL)

	opts := req.Options
	if opts.Output != "" {
		args = append(args, "--output="+opts.Output)
	}
	if opts.OutputPath != "" {
		args = append(args, "--output-path="+opts.OutputPath)
	}
	if opts.LogLevel != "" {
		args = append(args, "--log-level="+opts.LogLevel)
	}
	if opts.Headless {
		args = append(args, "--headless")
	}
	return args
}

func (a *Adapter) command(ctx context.Context, req engine.Request) *exec.Cmd {
	cmd := exec.CommandContext(ctx, a.config.Command, a.buildArgs(req)...)
	cmd.Dir = a.config.Dir
	cmd.Env = os.Environ()
	if a.config.ChromePath != "" {
		cmd.Env = append(cmd.Env, "CHROME_PATH="+a.config.ChromePath)
	}
	return cmd
}

// mapExitError converts a command failure into an engine error
func mapExitError(err error) *engine.EngineError {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &engine.EngineError{
			ExitCode: exitErr.ExitCode(),
			Message:  "engine exited with non-zero status",
			Err:      err,
		}
	}
	return &engine.EngineError{
		ExitCode: -1,
		Message:  "engine terminated abnormally",
		Err:      err,
	}
}
