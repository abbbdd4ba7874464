package models

import "time"

// RunOptions carries the optional flags of a single audit run
type RunOptions struct {
	Headless   bool   `json:"headless"`
	Output     string `json:"output,omitempty"`      // html or json
	OutputPath string `json:"output_path,omitempty"` // where the engine writes its report
	LogLevel   string `json:"log_level,omitempty"`
}

// RunState represents the current (and only) run of a runner
type RunState struct {
	RunID      string     `json:"run_id,omitempty"`
	URL        string     `json:"url,omitempty"`
	Status     RunStatus  `json:"status"`
	Score      *float64   `json:"score,omitempty"`
	Error      string     `json:"error,omitempty"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Terminal reports whether the run has reached done or failed
func (s RunState) Terminal() bool {
	return s.Status == StatusDone || s.Status == StatusFailed
}

// RunStatus represents the state of a run
type RunStatus string

const (
	StatusIdle    RunStatus = "idle"
	StatusRunning RunStatus = "running"
	StatusDone    RunStatus = "done"
	StatusFailed  RunStatus = "failed"
)

// LogEvent is one line of engine output. Seq starts at 1 and is gapless within a run.
type LogEvent struct {
	Seq       int64     `json:"seq"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Rating is the qualitative bucket derived from a score
type Rating string

const (
	RatingPoor    Rating = "poor"
	RatingAverage Rating = "average"
	RatingGood    Rating = "good"
)
