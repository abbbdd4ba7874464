package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/lei/lighthouse-kiosk/internal/channel"
	"github.com/lei/lighthouse-kiosk/internal/engine"
	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/runner"
	"github.com/lei/lighthouse-kiosk/internal/sink"
	"github.com/lei/lighthouse-kiosk/internal/timer/timertest"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

type checkEngine struct {
	engine.Func
	checkErr error
}

func (e checkEngine) Check(ctx context.Context) error {
	return e.checkErr
}

func newService(t *testing.T, eng engine.Engine, defaults models.RunOptions) *Service {
	t.Helper()
	bus := channel.New(nil)
	t.Cleanup(bus.Close)
	log := logger.NewNop()
	display := sink.NewScoreDisplay(timertest.New(), 0, log)
	return NewService(eng, runner.New(eng, bus, log), bus, display, defaults, log)
}

func waitPhase(t *testing.T, s *Service, want sink.Phase) sink.DisplayState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		view := s.State(context.Background()).Display
		if view.Phase == want {
			return view
		}
		if time.Now().After(deadline) {
			t.Fatalf("display phase = %s, want %s", view.Phase, want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartRunMergesDefaults(t *testing.T) {
	got := make(chan models.RunOptions, 1)
	eng := engine.Func(func(ctx context.Context, req engine.Request, out io.Writer) error {
		got <- req.Options
		_, err := fmt.Fprintln(out, "LIGHTHOUSE SCORE: 12")
		return err
	})
	s := newService(t, eng, models.RunOptions{Output: "html", OutputPath: "public/results.html"})

	run, err := s.StartRun(context.Background(), "example.com", true)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if _, err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	opts := <-got
	if !opts.Headless || opts.Output != "html" || opts.OutputPath != "public/results.html" {
		t.Errorf("engine options = %+v", opts)
	}

	view := waitPhase(t, s, sink.PhaseDone)
	if view.Rating != models.RatingPoor {
		t.Errorf("rating = %s, want poor", view.Rating)
	}
}

func TestStartRunOutlivesRequestContext(t *testing.T) {
	release := make(chan struct{})
	eng := engine.Func(func(ctx context.Context, req engine.Request, out io.Writer) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		_, err := fmt.Fprintln(out, "LIGHTHOUSE SCORE: 99")
		return err
	})
	s := newService(t, eng, models.RunOptions{})

	ctx, cancel := context.WithCancel(context.Background())
	run, err := s.StartRun(ctx, "example.com", false)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	cancel()
	close(release)

	state, err := run.Wait(context.Background())
	if err != nil {
		t.Fatalf("Wait() error = %v, want run to survive request cancel", err)
	}
	if state.Status != models.StatusDone {
		t.Errorf("status = %s, want done", state.Status)
	}
}

func TestResetClearsDisplay(t *testing.T) {
	s := newService(t, engine.Func(func(ctx context.Context, req engine.Request, out io.Writer) error {
		_, err := fmt.Fprintln(out, "LIGHTHOUSE SCORE: 80")
		return err
	}), models.RunOptions{})

	run, err := s.StartRun(context.Background(), "example.com", false)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	run.Wait(context.Background())
	waitPhase(t, s, sink.PhaseDone)

	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	view := waitPhase(t, s, sink.PhaseIdle)
	if snap := s.State(context.Background()); snap.Run.Status != models.StatusIdle || view.Locked {
		t.Errorf("state after reset = %+v", snap)
	}
}

func TestResetLandsAfterQueuedRunMessages(t *testing.T) {
	const n = 50000
	s := newService(t, engine.Func(func(ctx context.Context, req engine.Request, out io.Writer) error {
		for i := 0; i < n; i++ {
			if _, err := fmt.Fprintf(out, "status line %d\n", i); err != nil {
				return err
			}
		}
		_, err := fmt.Fprintln(out, "LIGHTHOUSE SCORE: 82")
		return err
	}), models.RunOptions{})

	run, err := s.StartRun(context.Background(), "example.com", false)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if _, err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if err := s.Reset(context.Background()); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}

	// Messages reach the display in publish order; once the url set after
	// the reset shows up, everything before it has been applied.
	s.SetURL(context.Background(), "after-reset.test")
	deadline := time.Now().Add(10 * time.Second)
	for s.State(context.Background()).Display.URL != "after-reset.test" {
		if time.Now().After(deadline) {
			t.Fatal("display did not drain")
		}
		time.Sleep(5 * time.Millisecond)
	}

	snap := s.State(context.Background())
	if snap.Run.Status != models.StatusIdle {
		t.Errorf("run status = %s, want idle", snap.Run.Status)
	}
	view := snap.Display
	if view.Phase != sink.PhaseIdle || view.Locked || view.Score != "" || len(view.Transcript) != 0 {
		t.Errorf("display after reset = phase %s locked %v score %q transcript %d, want cleared",
			view.Phase, view.Locked, view.Score, len(view.Transcript))
	}
}

func TestStartRunErrors(t *testing.T) {
	s := newService(t, engine.Func(func(ctx context.Context, req engine.Request, out io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}), models.RunOptions{})

	if _, err := s.StartRun(context.Background(), "", false); !errors.Is(err, ErrInvalidURL) {
		t.Errorf("empty url error = %v, want ErrInvalidURL", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := s.runner.Start(ctx, "example.com", models.RunOptions{}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := s.StartRun(context.Background(), "example.org", false); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("second run error = %v, want ErrRunInProgress", err)
	}
	if err := s.Reset(context.Background()); !errors.Is(err, ErrRunInProgress) {
		t.Errorf("Reset() error = %v, want ErrRunInProgress", err)
	}
}

func TestSetURLReachesSubscribers(t *testing.T) {
	s := newService(t, engine.Func(nil), models.RunOptions{})

	got := make(chan models.Message, 1)
	tok := s.Subscribe("test", func(msg models.Message) error {
		got <- msg
		return nil
	})
	defer s.Unsubscribe(tok)

	s.SetURL(context.Background(), "example.com")

	select {
	case msg := <-got:
		if msg.Kind != models.KindSetURL || msg.URL != "example.com" {
			t.Errorf("message = %+v, want seturl", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
	}

	deadline := time.Now().Add(2 * time.Second)
	for s.State(context.Background()).Display.URL != "example.com" {
		if time.Now().After(deadline) {
			t.Fatal("display url not updated")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHealthCheckDegradesOnEngine(t *testing.T) {
	s := newService(t, checkEngine{checkErr: engine.ErrEngineUnavailable}, models.RunOptions{})

	health := s.HealthCheck(context.Background())
	if health["status"] != "degraded" {
		t.Errorf("status = %v, want degraded", health["status"])
	}
}
