package sink

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/score"
)

var ratingStyles = map[models.Rating]lipgloss.Style{
	models.RatingPoor:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ff0000")),
	models.RatingAverage: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef6c00")),
	models.RatingGood:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#009305")),
}

var failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#ff0000"))

// Terminal prints the transcript and the final score to a writer
type Terminal struct {
	mu  sync.Mutex
	out io.Writer
}

// NewTerminal creates a terminal sink
func NewTerminal(out io.Writer) *Terminal {
	return &Terminal{out: out}
}

// Handle implements channel.Handler
func (t *Terminal) Handle(msg models.Message) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	switch msg.Kind {
	case models.KindStarted:
		_, err = fmt.Fprintf(t.out, "Auditing %s\n", msg.URL)
	case models.KindLog:
		_, err = fmt.Fprintln(t.out, msg.Log)
	case models.KindScore:
		if msg.Score == nil {
			return fmt.Errorf("score message for run %s has no score", msg.RunID)
		}
		rating := score.Rate(*msg.Score)
		line := fmt.Sprintf("Score: %s (%s)", score.Format(*msg.Score), rating)
		_, err = fmt.Fprintln(t.out, ratingStyles[rating].Render(line))
	case models.KindFailed:
		_, err = fmt.Fprintln(t.out, failStyle.Render("Audit failed: "+msg.Error))
	}
	return err
}
