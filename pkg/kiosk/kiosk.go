package kiosk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/multierr"

	"github.com/lei/lighthouse-kiosk/internal/api"
	"github.com/lei/lighthouse-kiosk/internal/channel"
	"github.com/lei/lighthouse-kiosk/internal/config"
	"github.com/lei/lighthouse-kiosk/internal/engine"
	"github.com/lei/lighthouse-kiosk/internal/engine/lighthouse"
	"github.com/lei/lighthouse-kiosk/internal/light"
	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/runner"
	"github.com/lei/lighthouse-kiosk/internal/service"
	"github.com/lei/lighthouse-kiosk/internal/sink"
	"github.com/lei/lighthouse-kiosk/internal/timer"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

// Configuration types, shared with the config file loader
type (
	Config        = config.Config
	ServerConfig  = config.ServerConfig
	AuthConfig    = config.AuthConfig
	APIKey        = config.APIKey
	EngineConfig  = config.EngineConfig
	LightConfig   = config.LightConfig
	DisplayConfig = config.DisplayConfig
	LoggingConfig = config.LoggingConfig
)

// Engine is the audit tool a kiosk drives
type Engine = engine.Engine

// Kiosk is one audit kiosk: a single runner, its live channel, the score and
// light displays, and the HTTP surface. It can run its own server through
// Start or be mounted into another through Handler.
type Kiosk struct {
	config  *Config
	service *service.Service
	bus     *channel.Bus
	router  http.Handler
	server  *http.Server
	logger  *logger.Logger

	light     *sink.LightDisplay
	transport io.Closer
}

// Option customises a Kiosk
type Option func(*options)

type options struct {
	engine    Engine
	logger    *logger.Logger
	transport io.WriteCloser
}

// WithEngine replaces the command-line engine built from Config.Engine
func WithEngine(e Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithLogger replaces the logger built from Config.Logging
func WithLogger(l *logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithLightTransport sends light frames to w instead of Config.Light.Device.
// It only applies when the light is enabled.
func WithLightTransport(w io.WriteCloser) Option {
	return func(o *options) { o.transport = w }
}

// New creates a kiosk from cfg. Defaults are not applied here; use
// NewFromFile or config.Load for that.
func New(cfg *Config, opts ...Option) (*Kiosk, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	appLogger := o.logger
	if appLogger == nil {
		appLogger = logger.New(cfg.Logging.Level, cfg.Logging.Format)
	}

	eng := o.engine
	if eng == nil {
		adapter, err := lighthouse.NewAdapter(&lighthouse.Config{
			Command:    cfg.Engine.Command,
			Args:       cfg.Engine.Args,
			Dir:        cfg.Engine.Dir,
			ChromePath: cfg.Engine.ChromePath,
		}, appLogger)
		if err != nil {
			return nil, fmt.Errorf("initialize engine: %w", err)
		}
		eng = adapter
		appLogger.Info("initialized engine", "command", cfg.Engine.Command, "args", cfg.Engine.Args)
	}

	bus := channel.New(func(err *channel.DeliveryError) {
		appLogger.Warn("sink failed to handle message",
			"subscriber", err.Subscriber,
			"kind", err.Kind,
			"error", err.Err)
	})

	clock := timer.RealClock{}
	run := runner.New(eng, bus, appLogger)
	display := sink.NewScoreDisplay(clock, cfg.Display.AutoReset, appLogger)

	defaults := models.RunOptions{
		Headless:   cfg.Engine.Headless,
		Output:     cfg.Engine.Output,
		OutputPath: cfg.Engine.OutputPath,
		LogLevel:   cfg.Engine.LogLevel,
	}
	svc := service.NewService(eng, run, bus, display, defaults, appLogger)

	k := &Kiosk{
		config:  cfg,
		service: svc,
		bus:     bus,
		logger:  appLogger,
	}

	if cfg.Light.Enabled {
		transport, err := openTransport(cfg.Light, o.transport, appLogger)
		if err != nil {
			bus.Close()
			return nil, err
		}
		k.transport = transport
		k.light = sink.NewLightDisplay(light.NewBulb(transport), sink.LightConfig{
			PulsePeriod: cfg.Light.PulsePeriod,
			IdleOff:     cfg.Light.IdleOff,
		}, clock, appLogger)
		bus.Subscribe("light-display", k.light.Handle)
		appLogger.Info("light display enabled", "device", cfg.Light.Device)
	}

	handlers := api.NewHandlers(svc)
	authMiddleware := api.NewAuthMiddleware(cfg.Auth.APIKeys)
	loggingMiddleware := api.NewLoggingMiddleware(appLogger)
	k.router = api.NewRouter(handlers, authMiddleware, loggingMiddleware, cfg.Server.PublicDir)

	// Event streams end with their request context; Shutdown cancels the
	// base context so open streams return instead of holding it up.
	baseCtx, cancelStreams := context.WithCancel(context.Background())
	k.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      k.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	k.server.RegisterOnShutdown(cancelStreams)

	return k, nil
}

func openTransport(cfg LightConfig, override io.WriteCloser, log *logger.Logger) (io.WriteCloser, error) {
	switch {
	case override != nil:
		return override, nil
	case cfg.Device != "":
		return light.OpenDevice(cfg.Device)
	default:
		return light.NewLogTransport(log), nil
	}
}

// NewFromFile loads the configuration file at path and creates a kiosk.
// An empty path runs on defaults.
func NewFromFile(path string, opts ...Option) (*Kiosk, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return New(cfg, opts...)
}

// Start serves HTTP until ctx is canceled or the server fails, then shuts
// down. systemd is told when the kiosk is ready and when it is stopping.
func (k *Kiosk) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", k.server.Addr)
	if err != nil {
		return multierr.Append(fmt.Errorf("listen on %s: %w", k.server.Addr, err), k.Close())
	}

	serverErrors := make(chan error, 1)
	go func() {
		k.logger.Info("starting http server", "addr", ln.Addr().String())
		serverErrors <- k.server.Serve(ln)
	}()

	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		k.logger.Warn("sd_notify ready failed", "error", err)
	} else if ok {
		k.logger.Debug("notified systemd: ready")
	}

	select {
	case err := <-serverErrors:
		closeErr := k.Close()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return multierr.Append(fmt.Errorf("server error: %w", err), closeErr)
		}
		return closeErr

	case <-ctx.Done():
		k.logger.Info("shutdown signal received")
		if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
			k.logger.Warn("sd_notify stopping failed", "error", err)
		}

		// Graceful shutdown with 30s timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		var errs error
		if err := k.server.Shutdown(shutdownCtx); err != nil {
			k.server.Close()
			errs = fmt.Errorf("graceful shutdown failed: %w", err)
		}
		errs = multierr.Append(errs, k.Close())

		if errs == nil {
			k.logger.Info("server stopped gracefully")
		}
		return errs
	}
}

// Close stops the live channel and the light. Start calls it on the way
// out; call it directly only when the kiosk is mounted through Handler.
func (k *Kiosk) Close() error {
	k.bus.Close()

	var errs error
	if k.light != nil {
		errs = multierr.Append(errs, k.light.Shutdown())
	}
	if k.transport != nil {
		errs = multierr.Append(errs, k.transport.Close())
	}
	_ = k.logger.Sync()
	return errs
}

// Handler returns the http.Handler for the kiosk
// Use this to mount the kiosk into an existing HTTP server
func (k *Kiosk) Handler() http.Handler {
	return k.router
}

// Service returns the underlying service layer
// Use this to start runs or subscribe to run messages directly
func (k *Kiosk) Service() *service.Service {
	return k.service
}
