package models

import "time"

// MessageKind tags a broadcast message. The values double as the "cmd"
// field browsers exchange between tabs.
type MessageKind string

const (
	KindStarted MessageKind = "start"
	KindLog     MessageKind = "log"
	KindScore   MessageKind = "score"
	KindFailed  MessageKind = "failed"
	KindSetURL  MessageKind = "seturl"
	KindReset   MessageKind = "reset"
)

// Message is the channel representation of run lifecycle transitions
type Message struct {
	Kind      MessageKind `json:"cmd"`
	RunID     string      `json:"run_id,omitempty"`
	Seq       int64       `json:"seq"`
	Log       string      `json:"log,omitempty"`
	Score     *float64    `json:"score,omitempty"`
	Rating    Rating      `json:"rating,omitempty"`
	URL       string      `json:"url,omitempty"`
	Error     string      `json:"error,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Terminal reports whether the message ends a run
func (m Message) Terminal() bool {
	return m.Kind == KindScore || m.Kind == KindFailed
}

// StartedMessage builds the message announcing a new run
func StartedMessage(runID, url string, at time.Time) Message {
	return Message{Kind: KindStarted, RunID: runID, URL: url, Timestamp: at}
}

// LogMessage builds the message carrying one log line
func LogMessage(runID string, evt LogEvent) Message {
	return Message{Kind: KindLog, RunID: runID, Seq: evt.Seq, Log: evt.Text, Timestamp: evt.Timestamp}
}

// ScoreMessage builds the terminal success message
func ScoreMessage(runID string, seq int64, score float64, rating Rating, at time.Time) Message {
	return Message{Kind: KindScore, RunID: runID, Seq: seq, Score: &score, Rating: rating, Timestamp: at}
}

// FailedMessage builds the terminal failure message
func FailedMessage(runID string, seq int64, reason string, at time.Time) Message {
	return Message{Kind: KindFailed, RunID: runID, Seq: seq, Error: reason, Timestamp: at}
}

// SetURLMessage builds the message mirroring the URL typed in one tab
func SetURLMessage(url string, at time.Time) Message {
	return Message{Kind: KindSetURL, URL: url, Timestamp: at}
}

// ResetMessage builds the message clearing every view for a fresh run
func ResetMessage(at time.Time) Message {
	return Message{Kind: KindReset, Timestamp: at}
}
