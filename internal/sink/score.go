// Package sink holds the passive consumers of run messages. Sinks render side
// effects and never publish.
package sink

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/score"
	"github.com/lei/lighthouse-kiosk/internal/timer"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

// Phase is the visible state of the score display
type Phase string

const (
	PhaseIdle    Phase = "idle"
	PhaseRunning Phase = "running"
	PhaseDone    Phase = "done"
	PhaseFailed  Phase = "failed"
)

var logPrefix = regexp.MustCompile(`^.*GMT\s`)

// DisplayState is what a browser renders
type DisplayState struct {
	RunID      string        `json:"run_id,omitempty"`
	URL        string        `json:"url,omitempty"`
	Phase      Phase         `json:"phase"`
	Transcript []string      `json:"transcript"`
	Score      string        `json:"score,omitempty"`
	Rating     models.Rating `json:"rating,omitempty"`
	Error      string        `json:"error,omitempty"`
	// Locked holds the controls in "viewing results" until Reset.
	Locked bool `json:"locked"`
}

// ScoreDisplay keeps the score view shared by every open page
type ScoreDisplay struct {
	logger    *logger.Logger
	autoReset time.Duration
	resetter  *timer.Deferred

	mu   sync.RWMutex
	view DisplayState
}

// NewScoreDisplay creates an idle display. A positive autoReset clears a
// finished result after that long unless a new run starts first.
func NewScoreDisplay(clock timer.Clock, autoReset time.Duration, log *logger.Logger) *ScoreDisplay {
	return &ScoreDisplay{
		logger:    log,
		autoReset: autoReset,
		resetter:  timer.NewDeferred(clock),
		view:      DisplayState{Phase: PhaseIdle},
	}
}

// Handle implements channel.Handler
func (d *ScoreDisplay) Handle(msg models.Message) error {
	switch msg.Kind {
	case models.KindStarted:
		d.resetter.Cancel()
		d.mu.Lock()
		d.view = DisplayState{
			RunID: msg.RunID,
			URL:   msg.URL,
			Phase: PhaseRunning,
		}
		d.mu.Unlock()

	case models.KindLog:
		d.mu.Lock()
		if d.view.RunID == "" {
			d.view.RunID = msg.RunID
		}
		d.view.Transcript = append(d.view.Transcript, logPrefix.ReplaceAllString(msg.Log, ""))
		d.mu.Unlock()

	case models.KindScore:
		if msg.Score == nil {
			return fmt.Errorf("score message for run %s has no score", msg.RunID)
		}
		value := *msg.Score

		d.mu.Lock()
		d.view.RunID = msg.RunID
		d.view.Phase = PhaseDone
		d.view.Score = score.Format(value)
		d.view.Rating = score.Rate(value)
		d.view.Error = ""
		d.view.Locked = true
		d.mu.Unlock()

		d.logger.Info("display: score rendered", "run_id", msg.RunID, "score", value)
		if d.autoReset > 0 {
			d.resetter.Schedule(d.autoReset, d.clear)
		}

	case models.KindFailed:
		d.mu.Lock()
		d.view.RunID = msg.RunID
		d.view.Phase = PhaseFailed
		d.view.Score = ""
		d.view.Rating = ""
		d.view.Error = msg.Error
		d.view.Locked = false
		d.mu.Unlock()

	case models.KindSetURL:
		d.mu.Lock()
		d.view.URL = msg.URL
		d.mu.Unlock()

	case models.KindReset:
		d.Reset()
	}

	return nil
}

// Reset is the explicit "start over" action. Callers sharing a channel with
// the runner should publish a reset message instead, so the clear lands
// after the run's queued messages.
func (d *ScoreDisplay) Reset() {
	d.resetter.Cancel()
	d.clear()
}

func (d *ScoreDisplay) clear() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.view = DisplayState{Phase: PhaseIdle}
}

// Snapshot returns a copy of the current view
func (d *ScoreDisplay) Snapshot() DisplayState {
	d.mu.RLock()
	defer d.mu.RUnlock()

	view := d.view
	view.Transcript = append([]string(nil), d.view.Transcript...)
	return view
}
