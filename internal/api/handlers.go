package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/service"
)

// doneFrame terminates a /run stream
const doneFrame = "done"

// Handlers contains HTTP handler functions
type Handlers struct {
	service *service.Service
}

// NewHandlers creates a new handlers instance
func NewHandlers(svc *service.Service) *Handlers {
	return &Handlers{service: svc}
}

// Health handles health check requests
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := h.service.HealthCheck(r.Context())

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// Run handles GET /run?url=...&headless=true
//
// It starts a run and streams every engine line as an SSE data frame,
// ending with a "done" frame. A failed run sends an error event first.
func (h *Handlers) Run(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := GetLogger(ctx)
	target := r.URL.Query().Get("url")
	headless := parseBoolParam(r.URL.Query().Get("headless"))

	flusher, ok := w.(http.Flusher)
	if !ok {
		if logger != nil {
			logger.Error("streaming not supported by response writer")
		}
		respondError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before starting so the stream sees every line of the run.
	frames, stop := h.subscribe(ctx, "run-stream:"+GetRequestID(ctx))
	defer stop()

	run, err := h.service.StartRun(ctx, target, headless != nil && *headless)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if logger != nil {
		logger.Info("run stream opened", "run_id", run.ID, "api_key_name", GetAPIKeyName(ctx))
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Info("run stream closed by client", "run_id", run.ID)
			}
			return

		case msg := <-frames:
			if msg.RunID != run.ID {
				continue
			}

			switch msg.Kind {
			case models.KindLog:
				writeFrame(w, "", msg.Log)
			case models.KindScore:
				writeFrame(w, "", doneFrame)
			case models.KindFailed:
				writeFrame(w, "error", msg.Error)
				writeFrame(w, "", doneFrame)
			}
			flusher.Flush()

			if msg.Terminal() {
				if logger != nil {
					logger.Info("run stream completed", "run_id", run.ID, "outcome", msg.Kind)
				}
				return
			}
		}
	}
}

// Events handles GET /events, the mirror stream for secondary pages.
// Every channel message is sent as a JSON data frame.
func (h *Handlers) Events(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := GetLogger(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		if logger != nil {
			logger.Error("streaming not supported by response writer")
		}
		respondError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}

	frames, stop := h.subscribe(ctx, "mirror:"+GetRequestID(ctx))
	defer stop()

	if logger != nil {
		logger.Info("mirror stream opened")
	}

	setStreamHeaders(w)
	w.WriteHeader(http.StatusOK)

	// Send initial connection success event
	requestID := GetRequestID(ctx)
	fmt.Fprintf(w, "event: connected\ndata: {\"request_id\":\"%s\"}\n\n", requestID)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Info("mirror stream closed")
			}
			return
		case msg := <-frames:
			data, err := json.Marshal(msg)
			if err != nil {
				if logger != nil {
					logger.Error("encode mirror message", "error", err)
				}
				continue
			}
			writeFrame(w, "", string(data))
			flusher.Flush()
		}
	}
}

// Reset handles /reset
func (h *Handlers) Reset(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		handleServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetURL handles POST /seturl
func (h *Handlers) SetURL(w http.ResponseWriter, r *http.Request) {
	logger := GetLogger(r.Context())

	var req struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if logger != nil {
			logger.Warn("invalid request body", "error", err)
		}
		respondError(w, r, http.StatusBadRequest, "invalid request body")
		return
	}

	h.service.SetURL(r.Context(), req.URL)
	w.WriteHeader(http.StatusAccepted)
}

// State handles GET /state
func (h *Handlers) State(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.service.State(r.Context()))
}

// subscribe hands channel messages to the calling handler. stop must be
// called when the handler returns.
func (h *Handlers) subscribe(ctx context.Context, name string) (<-chan models.Message, func()) {
	frames := make(chan models.Message)
	done := make(chan struct{})

	tok := h.service.Subscribe(name, func(msg models.Message) error {
		select {
		case frames <- msg:
		case <-done:
		case <-ctx.Done():
		}
		return nil
	})

	return frames, func() {
		close(done)
		h.service.Unsubscribe(tok)
	}
}

func setStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// writeFrame writes one SSE frame; event may be empty for the default type
func writeFrame(w http.ResponseWriter, event, data string) {
	if event != "" {
		fmt.Fprintf(w, "event: %s\n", event)
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}

// parseBoolParam parses boolean query parameters
func parseBoolParam(value string) *bool {
	if value == "" {
		return nil
	}

	if value == "true" || value == "1" {
		result := true
		return &result
	}

	if value == "false" || value == "0" {
		result := false
		return &result
	}

	return nil
}

// respondError writes a JSON error response with logging
func respondError(w http.ResponseWriter, r *http.Request, status int, message string) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	if logger != nil {
		logger.Error("returning error response",
			"status", status,
			"message", message,
			"request_id", requestID)
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"message":    message,
			"code":       status,
			"request_id": requestID,
		},
	})
}

// handleServiceError maps service errors to HTTP responses with detailed logging
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := GetLogger(r.Context())
	requestID := GetRequestID(r.Context())

	if logger != nil {
		logger.Error("service error occurred",
			"error", err.Error(),
			"error_type", fmt.Sprintf("%T", err),
			"request_id", requestID)
	}

	switch {
	case errors.Is(err, service.ErrInvalidURL):
		respondError(w, r, http.StatusBadRequest, "URL is not valid")
	case errors.Is(err, service.ErrRunInProgress):
		respondError(w, r, http.StatusConflict, "a run is already in progress")
	default:
		respondError(w, r, http.StatusInternalServerError, "internal server error")
	}
}
