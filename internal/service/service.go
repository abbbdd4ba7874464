package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lei/lighthouse-kiosk/internal/channel"
	"github.com/lei/lighthouse-kiosk/internal/engine"
	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/runner"
	"github.com/lei/lighthouse-kiosk/internal/sink"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

var (
	// ErrRunInProgress indicates a run is already running
	ErrRunInProgress = runner.ErrRunInProgress
	// ErrInvalidURL indicates the requested audit target is unusable
	ErrInvalidURL = runner.ErrInvalidURL
)

// Service coordinates the runner, the live channel and the sinks.
//
// It is process scoped: created once at startup, with the runner's state
// and the score display reset between runs through Reset.
type Service struct {
	engine  engine.Engine
	runner  *runner.Runner
	bus     *channel.Bus
	display *sink.ScoreDisplay
	logger  *logger.Logger
	now     func() time.Time

	defaults models.RunOptions
}

// NewService creates a new service instance. The score display is
// subscribed to bus here; other sinks subscribe through Subscribe.
func NewService(eng engine.Engine, run *runner.Runner, bus *channel.Bus, display *sink.ScoreDisplay, defaults models.RunOptions, log *logger.Logger) *Service {
	bus.Subscribe("score-display", display.Handle)

	return &Service{
		engine:   eng,
		runner:   run,
		bus:      bus,
		display:  display,
		logger:   log,
		now:      time.Now,
		defaults: defaults,
	}
}

// getLogger retrieves logger from context or falls back to service logger
func (s *Service) getLogger(ctx context.Context) *logger.Logger {
	if ctxLogger, ok := logger.FromContext(ctx); ok {
		return ctxLogger
	}
	return s.logger
}

// StartRun starts an audit of rawURL. The run outlives ctx's cancellation;
// it keeps ctx's values (such as the request logger).
func (s *Service) StartRun(ctx context.Context, rawURL string, headless bool) (*runner.Run, error) {
	logger := s.getLogger(ctx)

	logger.Debug("service: starting run", "url", rawURL, "headless", headless)

	opts := s.defaults
	opts.Headless = headless || s.defaults.Headless

	run, err := s.runner.Start(context.WithoutCancel(ctx), rawURL, opts)
	if err != nil {
		if errors.Is(err, runner.ErrRunInProgress) {
			logger.Info("service: run rejected, another run in progress", "current_run_id", s.runner.State().RunID)
		} else {
			logger.Warn("service: run not started", "url", rawURL, "error", err)
		}
		return nil, fmt.Errorf("start run: %w", err)
	}

	logger.Info("service: run started", "run_id", run.ID, "url", run.URL)
	return run, nil
}

// Reset clears server-side run state. The shared score view is cleared by
// the reset message the runner publishes, behind any messages of the
// finished run still queued for it.
func (s *Service) Reset(ctx context.Context) error {
	logger := s.getLogger(ctx)

	if err := s.runner.Reset(); err != nil {
		logger.Info("service: reset rejected", "error", err)
		return fmt.Errorf("reset: %w", err)
	}

	logger.Info("service: state reset")
	return nil
}

// SetURL mirrors the URL typed in one page to every other page
func (s *Service) SetURL(ctx context.Context, url string) {
	s.getLogger(ctx).Debug("service: mirroring url", "url", url)
	s.bus.Publish(models.SetURLMessage(url, s.now()))
}

// Subscribe registers a live consumer of run messages
func (s *Service) Subscribe(name string, h channel.Handler) channel.Token {
	return s.bus.Subscribe(name, h)
}

// Unsubscribe removes a live consumer
func (s *Service) Unsubscribe(tok channel.Token) {
	s.bus.Unsubscribe(tok)
}

// Snapshot is the combined run and display state
type Snapshot struct {
	Run     models.RunState   `json:"run"`
	Display sink.DisplayState `json:"display"`
}

// State returns the current run and display state
func (s *Service) State(ctx context.Context) Snapshot {
	return Snapshot{
		Run:     s.runner.State(),
		Display: s.display.Snapshot(),
	}
}

// HealthCheck performs health checks on the service and engine
func (s *Service) HealthCheck(ctx context.Context) map[string]interface{} {
	logger := s.getLogger(ctx)

	health := map[string]interface{}{
		"status":  "healthy",
		"service": "lighthouse-kiosk",
		"checks":  make(map[string]interface{}),
	}

	checks := health["checks"].(map[string]interface{})

	checks["run"] = map[string]interface{}{
		"status":      "healthy",
		"run_status":  s.runner.State().Status,
		"subscribers": s.bus.Len(),
	}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.engine.Check(healthCtx); err != nil {
		logger.Warn("engine health check failed", "error", err)
		checks["engine"] = map[string]interface{}{
			"status": "unhealthy",
			"error":  err.Error(),
		}
		health["status"] = "degraded"
	} else {
		checks["engine"] = map[string]interface{}{
			"status": "healthy",
		}
	}

	logger.Debug("health check completed", "status", health["status"])
	return health
}
