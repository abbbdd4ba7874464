package sink

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/lei/lighthouse-kiosk/internal/light"
	"github.com/lei/lighthouse-kiosk/internal/models"
	"github.com/lei/lighthouse-kiosk/internal/score"
	"github.com/lei/lighthouse-kiosk/internal/timer"
	"github.com/lei/lighthouse-kiosk/pkg/logger"
)

// workingWhite is the white-channel level used while pulsing
const workingWhite = 0x0f

// Light is the device the light display drives
type Light interface {
	PowerOn() error
	PowerOff() error
	SetColor(c light.RGB, white byte) error
	PoweredOn() bool
}

// LightConfig holds the light display timings
type LightConfig struct {
	PulsePeriod time.Duration
	IdleOff     time.Duration
}

// LightDisplay mirrors the run on the LED bulb: a pulse while working, the
// rating color once scored, then power-off after an idle delay.
//
// The pulse and the pending power-off are mutually exclusive. Timer methods
// are never called while mu is held; timer callbacks take mu to touch the
// device.
type LightDisplay struct {
	light    Light
	config   LightConfig
	logger   *logger.Logger
	pulse    *timer.Pulse
	powerOff *timer.Deferred

	mu sync.Mutex
}

// NewLightDisplay creates a light display
func NewLightDisplay(l Light, cfg LightConfig, clock timer.Clock, log *logger.Logger) *LightDisplay {
	if cfg.PulsePeriod <= 0 {
		cfg.PulsePeriod = 2 * time.Second
	}
	if cfg.IdleOff <= 0 {
		cfg.IdleOff = 10 * time.Second
	}
	return &LightDisplay{
		light:    l,
		config:   cfg,
		logger:   log,
		pulse:    timer.NewPulse(clock),
		powerOff: timer.NewDeferred(clock),
	}
}

// Handle implements channel.Handler
func (d *LightDisplay) Handle(msg models.Message) error {
	switch msg.Kind {
	case models.KindStarted:
		d.powerOff.Cancel()
		d.pulse.Stop()

		d.mu.Lock()
		err := multierr.Append(d.light.PowerOn(), d.light.SetColor(light.ColorWhite, workingWhite))
		d.mu.Unlock()

		d.pulse.Start(d.config.PulsePeriod, d.toggle)
		return err

	case models.KindScore:
		d.pulse.Stop()
		if msg.Score == nil {
			return fmt.Errorf("score message for run %s has no score", msg.RunID)
		}
		color := light.ColorFor(score.Rate(*msg.Score))

		d.mu.Lock()
		err := multierr.Append(d.light.PowerOn(), d.light.SetColor(color, 0))
		d.mu.Unlock()

		d.powerOff.Schedule(d.config.IdleOff, d.off)
		return err

	case models.KindFailed:
		d.pulse.Stop()
		d.powerOff.Cancel()

		d.mu.Lock()
		defer d.mu.Unlock()
		return d.light.PowerOff()
	}

	return nil
}

// Pulsing reports whether the working pulse is active
func (d *LightDisplay) Pulsing() bool {
	return d.pulse.Running()
}

// OffPending reports whether a power-off is scheduled
func (d *LightDisplay) OffPending() bool {
	return d.powerOff.Pending()
}

// Shutdown stops all timers and switches the light off
func (d *LightDisplay) Shutdown() error {
	d.pulse.Stop()
	d.powerOff.Cancel()

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.light.PowerOff()
}

func (d *LightDisplay) toggle() {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.light.PoweredOn() {
		err = d.light.PowerOff()
	} else {
		err = d.light.PowerOn()
	}
	if err != nil {
		d.logger.Warn("light: pulse toggle failed", "error", err)
	}
}

func (d *LightDisplay) off() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.light.PowerOff(); err != nil {
		d.logger.Warn("light: idle power-off failed", "error", err)
	}
}
