package api

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/lei/lighthouse-kiosk/internal/channel"
	"github.com/lei/lighthouse-kiosk/internal/config"
	"github.com/lei/lighthouse-kiosk/internal/engine"
	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/runner"
	"github.com/lei/lighthouse-kiosk/internal/service"
	"github.com/lei/lighthouse-kiosk/internal/sink"
	"github.com/lei/lighthouse-kiosk/internal/timer/timertest"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

type testStack struct {
	router  *chi.Mux
	service *service.Service
}

func newTestStack(t *testing.T, eng engine.Engine, keys ...config.APIKey) *testStack {
	t.Helper()

	log := logger.NewNop()
	bus := channel.New(nil)
	t.Cleanup(bus.Close)

	run := runner.New(eng, bus, log)
	display := sink.NewScoreDisplay(timertest.New(), 0, log)
	svc := service.NewService(eng, run, bus, display, models.RunOptions{}, log)

	router := NewRouter(NewHandlers(svc), NewAuthMiddleware(keys), NewLoggingMiddleware(log), "")
	return &testStack{router: router, service: svc}
}

func scripted(lines ...string) engine.Func {
	return func(ctx context.Context, req engine.Request, out io.Writer) error {
		for _, l := range lines {
			fmt.Fprintln(out, l)
		}
		return nil
	}
}

func (s *testStack) do(method, target string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, body)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func TestRunStreamsLinesThenDone(t *testing.T) {
	s := newTestStack(t, scripted("status Loading page", "LIGHTHOUSE SCORE: 82.4"))

	w := s.do("GET", "/run?url=example.com", nil)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	want := "data: status Loading page\n\ndata: LIGHTHOUSE SCORE: 82.4\n\ndata: done\n\n"
	if w.Body.String() != want {
		t.Errorf("body = %q, want %q", w.Body.String(), want)
	}
}

func TestRunFailureSendsErrorThenDone(t *testing.T) {
	s := newTestStack(t, scripted("no score here"))

	w := s.do("GET", "/run?url=example.com", nil)

	body := w.Body.String()
	if !strings.Contains(body, "event: error\ndata: "+runner.ErrNoScore.Error()+"\n\n") {
		t.Errorf("body missing error event: %q", body)
	}
	if !strings.HasSuffix(body, "data: done\n\n") {
		t.Errorf("body does not end with done frame: %q", body)
	}

	var snap service.Snapshot
	json.NewDecoder(s.do("GET", "/state", nil).Body).Decode(&snap)
	if snap.Run.Status != models.StatusFailed || snap.Run.Score != nil {
		t.Errorf("run state = %+v, want failed without score", snap.Run)
	}
}

func TestRunInvalidURL(t *testing.T) {
	s := newTestStack(t, scripted())

	w := s.do("GET", "/run?url=ftp://example.com", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestRunWhileRunningConflicts(t *testing.T) {
	release := make(chan struct{})
	s := newTestStack(t, engine.Func(func(ctx context.Context, req engine.Request, out io.Writer) error {
		<-release
		_, err := fmt.Fprintln(out, "LIGHTHOUSE SCORE: 50")
		return err
	}))

	run, err := s.service.StartRun(context.Background(), "example.com", false)
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}

	if w := s.do("GET", "/run?url=other.test", nil); w.Code != http.StatusConflict {
		t.Errorf("/run status = %d, want 409", w.Code)
	}
	if w := s.do("POST", "/reset", nil); w.Code != http.StatusConflict {
		t.Errorf("/reset status = %d, want 409", w.Code)
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := run.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	if w := s.do("GET", "/reset", nil); w.Code != http.StatusNoContent {
		t.Errorf("/reset status = %d, want 204", w.Code)
	}
}

func TestStateAfterRun(t *testing.T) {
	s := newTestStack(t, scripted("LIGHTHOUSE SCORE: 70"))
	s.do("GET", "/run?url=example.com", nil)

	var snap service.Snapshot
	deadline := time.Now().Add(2 * time.Second)
	for {
		w := s.do("GET", "/state", nil)
		if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
			t.Fatalf("decode state: %v", err)
		}
		if snap.Display.Phase == sink.PhaseDone || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if snap.Run.Status != models.StatusDone || snap.Run.Score == nil || *snap.Run.Score != 70 {
		t.Errorf("run = %+v, want done with score 70", snap.Run)
	}
	if snap.Display.Score != "70" || snap.Display.Rating != models.RatingAverage || !snap.Display.Locked {
		t.Errorf("display = %+v, want locked 70 (average)", snap.Display)
	}
}

func TestEventsMirrorsMessages(t *testing.T) {
	s := newTestStack(t, scripted())
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", srv.URL+"/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()

	reader := bufio.NewReader(resp.Body)
	readData := func() string {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read stream: %v", err)
			}
			if strings.HasPrefix(line, "data: ") {
				return strings.TrimSpace(strings.TrimPrefix(line, "data: "))
			}
		}
	}

	if connected := readData(); !strings.Contains(connected, "request_id") {
		t.Fatalf("first frame = %q, want connected event", connected)
	}

	post, err := http.Post(srv.URL+"/seturl", "application/json", strings.NewReader(`{"url":"example.com"}`))
	if err != nil {
		t.Fatalf("POST /seturl: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusAccepted {
		t.Fatalf("/seturl status = %d, want 202", post.StatusCode)
	}

	var msg models.Message
	if err := json.Unmarshal([]byte(readData()), &msg); err != nil {
		t.Fatalf("decode mirror frame: %v", err)
	}
	if msg.Kind != models.KindSetURL || msg.URL != "example.com" {
		t.Errorf("mirror message = %+v, want seturl example.com", msg)
	}
}

func TestSetURLInvalidBody(t *testing.T) {
	s := newTestStack(t, scripted())

	if w := s.do("POST", "/seturl", strings.NewReader("{")); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestAuthentication(t *testing.T) {
	s := newTestStack(t, scripted("LIGHTHOUSE SCORE: 90"), config.APIKey{Name: "booth", Key: "booth-key-123"})

	tests := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing key", "/run?url=example.com", "", http.StatusUnauthorized},
		{"bad format", "/run?url=example.com", "Token booth-key-123", http.StatusUnauthorized},
		{"wrong key", "/run?url=example.com&api_key=nope", "", http.StatusUnauthorized},
		{"query key", "/run?url=example.com&api_key=booth-key-123", "", http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", tt.target, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			s.router.ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	if w := s.do("GET", "/state", nil); w.Code != http.StatusOK {
		t.Errorf("/state status = %d, want 200 without auth", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestStack(t, scripted())

	w := s.do("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("Health() status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestParseBoolParam(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  *bool
	}{
		{"empty", "", nil},
		{"true", "true", boolPtr(true)},
		{"1", "1", boolPtr(true)},
		{"false", "false", boolPtr(false)},
		{"0", "0", boolPtr(false)},
		{"invalid", "invalid", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseBoolParam(tt.value)
			if (got == nil) != (tt.want == nil) {
				t.Errorf("parseBoolParam() = %v, want %v", got, tt.want)
				return
			}
			if got != nil && tt.want != nil && *got != *tt.want {
				t.Errorf("parseBoolParam() = %v, want %v", *got, *tt.want)
			}
		})
	}
}

func boolPtr(b bool) *bool {
	return &b
}
