package engine

import (
	"context"
	"io"

	"github.com/lei/lighthouse-kiosk/internal/models"
)

// Engine abstracts the page-audit tool
type Engine interface {
	// Audit runs one audit against req.URL and writes the engine's textual
	// output to out as it is produced. It blocks until the engine exits.
	// A non-nil error terminates the run as failed.
	Audit(ctx context.Context, req Request, out io.Writer) error

	// Check reports whether the engine can be started
	Check(ctx context.Context) error
}

// Request describes one audit
type Request struct {
	URL     string
	Options models.RunOptions
}

// Func adapts a function to Engine; Check always succeeds
type Func func(ctx context.Context, req Request, out io.Writer) error

// Audit implements Engine
func (f Func) Audit(ctx context.Context, req Request, out io.Writer) error {
	return f(ctx, req, out)
}

// Check implements Engine
func (f Func) Check(ctx context.Context) error {
	return nil
}
