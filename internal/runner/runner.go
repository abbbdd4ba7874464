// Package runner executes audits and turns their output into an ordered
// stream of run messages.
//
// A Runner owns the single current RunState. Its status moves
// idle -> running -> done|failed; a Start while running is rejected with
// ErrRunInProgress. Each run publishes, in order: one start message, the
// engine's output lines (Seq 1..n), then exactly one score or failed message
// (Seq n+1).
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lei/lighthouse-kiosk/internal/engine"
	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/score"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

var (
	// ErrRunInProgress indicates a run is already running
	ErrRunInProgress = errors.New("run already in progress")
	// ErrNoScore indicates the engine finished without printing a score
	ErrNoScore = errors.New("engine output contained no score")
)

const maxLineBytes = 1024 * 1024

// Publisher receives run messages. Publish must not block.
type Publisher interface {
	Publish(models.Message)
}

// Runner starts audits one at a time
type Runner struct {
	engine engine.Engine
	pub    Publisher
	logger *logger.Logger
	now    func() time.Time
	newID  func() string

	mu      sync.Mutex
	state   models.RunState
	current *Run
}

// Option customises a Runner
type Option func(*Runner)

// WithClock overrides the timestamp source
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithIDGenerator overrides run id generation
func WithIDGenerator(newID func() string) Option {
	return func(r *Runner) { r.newID = newID }
}

// New creates an idle runner
func New(eng engine.Engine, pub Publisher, log *logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		engine: eng,
		pub:    pub,
		logger: log,
		now:    time.Now,
		newID:  uuid.NewString,
		state:  models.RunState{Status: models.StatusIdle},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run is a handle on one started audit
type Run struct {
	ID  string
	URL string

	done  chan struct{}
	state models.RunState
	err   error
}

// Done is closed once the run is terminal
func (run *Run) Done() <-chan struct{} {
	return run.done
}

// Wait blocks until the run is terminal or ctx is done. The error is the
// run's failure reason, nil on success.
func (run *Run) Wait(ctx context.Context) (models.RunState, error) {
	select {
	case <-run.done:
		return run.state, run.err
	case <-ctx.Done():
		return models.RunState{}, ctx.Err()
	}
}

// Start begins an audit of rawURL and returns without waiting for it.
// The audit runs under ctx; cancel it to kill the engine.
func (r *Runner) Start(ctx context.Context, rawURL string, opts models.RunOptions) (*Run, error) {
	target, err := NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if r.state.Status == models.StatusRunning {
		r.mu.Unlock()
		return nil, ErrRunInProgress
	}

	now := r.now()
	run := &Run{
		ID:   r.newID(),
		URL:  target,
		done: make(chan struct{}),
	}
	r.state = models.RunState{
		RunID:     run.ID,
		URL:       target,
		Status:    models.StatusRunning,
		StartedAt: &now,
	}
	r.current = run
	r.pub.Publish(models.StartedMessage(run.ID, target, now))
	r.mu.Unlock()

	r.logger.Info("runner: run started", "run_id", run.ID, "url", target)

	go r.execute(ctx, run, opts)

	return run, nil
}

// execute drives the engine and scans its output line by line
func (r *Runner) execute(ctx context.Context, run *Run, opts models.RunOptions) {
	pr, pw := io.Pipe()
	auditErr := make(chan error, 1)

	go func() {
		err := r.engine.Audit(ctx, engine.Request{URL: run.URL, Options: opts}, pw)
		pw.Close()
		auditErr <- err
	}()

	extractor := score.NewExtractor()
	var (
		seq      int64
		found    bool
		value    float64
		parseErr error
	)

	scanner := bufio.NewScanner(pr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		seq++
		evt := models.LogEvent{Seq: seq, Text: scanner.Text(), Timestamp: r.now()}
		r.pub.Publish(models.LogMessage(run.ID, evt))

		v, ok, err := extractor.Feed(evt.Text)
		switch {
		case err != nil:
			r.logger.Warn("runner: score marker unparseable", "run_id", run.ID, "error", err)
			parseErr = err
		case ok:
			found, value = true, v
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		// Unblock the engine's writer so Audit can return.
		pr.CloseWithError(scanErr)
	}

	err := <-auditErr

	switch {
	case err != nil:
		r.fail(run, seq+1, wrapEngineError(err))
	case scanErr != nil:
		r.fail(run, seq+1, fmt.Errorf("read engine output: %w", scanErr))
	case parseErr != nil:
		r.fail(run, seq+1, parseErr)
	case !found:
		r.fail(run, seq+1, ErrNoScore)
	default:
		r.succeed(run, seq+1, value)
	}
}

func (r *Runner) succeed(run *Run, seq int64, value float64) {
	r.mu.Lock()
	now := r.now()
	rating := score.Rate(value)
	r.state.Status = models.StatusDone
	r.state.Score = &value
	r.state.FinishedAt = &now
	run.state = copyState(r.state)
	r.pub.Publish(models.ScoreMessage(run.ID, seq, value, rating, now))
	r.mu.Unlock()

	r.logger.Info("runner: run done",
		"run_id", run.ID,
		"score", value,
		"rating", rating)
	close(run.done)
}

func (r *Runner) fail(run *Run, seq int64, err error) {
	r.mu.Lock()
	now := r.now()
	r.state.Status = models.StatusFailed
	r.state.Error = err.Error()
	r.state.FinishedAt = &now
	run.state = copyState(r.state)
	run.err = err
	r.pub.Publish(models.FailedMessage(run.ID, seq, err.Error(), now))
	r.mu.Unlock()

	r.logger.Warn("runner: run failed", "run_id", run.ID, "error", err)
	close(run.done)
}

// Reset returns the runner to idle so the next run starts fresh and
// publishes a reset message. It is published under mu, so it lands after
// the previous run's terminal message and before the next run's start.
func (r *Runner) Reset() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state.Status == models.StatusRunning {
		return ErrRunInProgress
	}
	r.state = models.RunState{Status: models.StatusIdle}
	r.current = nil
	r.pub.Publish(models.ResetMessage(r.now()))
	return nil
}

// State returns a snapshot of the current run state
func (r *Runner) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyState(r.state)
}

// Current returns the handle of the current run, nil when idle
func (r *Runner) Current() *Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

func copyState(s models.RunState) models.RunState {
	if s.Score != nil {
		v := *s.Score
		s.Score = &v
	}
	return s
}

func wrapEngineError(err error) error {
	var engErr *engine.EngineError
	if errors.As(err, &engErr) || errors.Is(err, engine.ErrEngineUnavailable) {
		return err
	}
	return &engine.EngineError{ExitCode: -1, Message: "audit failed", Err: err}
}
