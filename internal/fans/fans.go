// Package fans switches the fans on and off. In auto mode, each fan runs while the temperature is at or above its threshold.
package fans

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/clambin/aircon-scheduler/internal/store"
	"gopkg.in/yaml.v3"
	"io"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// Paths of the fan state in the remote store.
const (
	TemperaturePath   = "temperature/current"
	SettingsPath      = "settings"
	AutoModePath      = "settings/isAutoMode"
	ThresholdsPath    = "settings/fanThresholds"
	BaseThresholdPath = "settings/thresholdTemp"
	StatesPath        = "fans"
)

var (
	ErrAutoMode   = errors.New("fans are in auto mode")
	ErrUnknownFan = errors.New("unknown fan")
)

// Thresholds maps each fan to the temperature at which it switches on.
type Thresholds map[string]float64

// States maps each fan to whether it's running.
type States map[string]bool

var DefaultThresholds = Thresholds{"fan1": 30, "fan2": 32, "fan3": 34, "fan4": 36}

// Evaluate returns the fan states for a temperature: a fan is on iff temperature is at or above its threshold.
func Evaluate(temperature float64, thresholds Thresholds) States {
	states := make(States, len(thresholds))
	for fan, threshold := range thresholds {
		states[fan] = temperature >= threshold
	}
	return states
}

// Lowest returns the lowest threshold.
func (t Thresholds) Lowest() float64 {
	if len(t) == 0 {
		return 0
	}
	return slices.Min(slices.Collect(maps.Values(t)))
}

// Shift moves all thresholds so that the lowest one becomes base.
func (t Thresholds) Shift(base float64) Thresholds {
	diff := base - t.Lowest()
	shifted := make(Thresholds, len(t))
	for fan, threshold := range t {
		shifted[fan] = threshold + diff
	}
	return shifted
}

// LoadThresholds reads the default thresholds from a YAML document:
//
//	thresholds:
//	  fan1: 30
//	  fan2: 32
func LoadThresholds(r io.Reader) (Thresholds, error) {
	var cfg struct {
		Thresholds Thresholds `yaml:"thresholds"`
	}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if len(cfg.Thresholds) == 0 {
		return nil, errors.New("no fan thresholds found")
	}
	return cfg.Thresholds, nil
}

// Status is the current state of the fans.
type Status struct {
	AutoMode    bool       `json:"autoMode"`
	Temperature *float64   `json:"temperature,omitempty"`
	Thresholds  Thresholds `json:"thresholds"`
	Fans        States     `json:"fans"`
}

type settings struct {
	AutoMode   *bool      `json:"isAutoMode"`
	Thresholds Thresholds `json:"fanThresholds"`
}

type Controller struct {
	store    store.Store
	defaults Thresholds
	logger   *slog.Logger
	lock     sync.Mutex
}

// New returns a Controller. defaults are used until thresholds are stored in the settings.
func New(s store.Store, defaults Thresholds, logger *slog.Logger) *Controller {
	if len(defaults) == 0 {
		defaults = DefaultThresholds
	}
	return &Controller{store: s, defaults: defaults, logger: logger}
}

// Run re-evaluates the fans whenever the temperature or the settings change, as long as auto mode is on.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Debug("fan controller starting")
	defer c.logger.Debug("fan controller stopping")

	temperatures, err := c.store.Subscribe(ctx, TemperaturePath)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	settingsCh, err := c.store.Subscribe(ctx, SettingsPath)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	for {
		var ev store.Event
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case ev, ok = <-temperatures:
		case ev, ok = <-settingsCh:
		}
		if !ok {
			return nil
		}
		if ev.Err != nil {
			c.logger.Warn("subscription failed", "path", ev.Path, "err", ev.Err)
			continue
		}
		if err = c.evaluate(ctx); err != nil {
			c.logger.Error("failed to set fans", "err", err)
		}
	}
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	s, err := c.settings(ctx)
	if err != nil {
		return Status{}, err
	}
	status := Status{AutoMode: *s.AutoMode, Thresholds: s.Thresholds}
	if status.Temperature, err = c.temperature(ctx); err != nil {
		return Status{}, err
	}
	if status.Fans, err = c.states(ctx, s.Thresholds); err != nil {
		return Status{}, err
	}
	return status, nil
}

// SetAutoMode switches auto mode on or off. Switching it on sets the fans for the current temperature.
// Switching it off turns off all fans.
func (c *Controller) SetAutoMode(ctx context.Context, on bool) error {
	if err := c.store.Set(ctx, AutoModePath, on); err != nil {
		return fmt.Errorf("set auto mode: %w", err)
	}
	c.logger.Info("auto mode set", "enabled", on)
	if on {
		return c.evaluate(ctx)
	}
	s, err := c.settings(ctx)
	if err != nil {
		return err
	}
	off := make(States, len(s.Thresholds))
	for fan := range s.Thresholds {
		off[fan] = false
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.write(ctx, off)
}

// Toggle switches a fan on or off and returns its new state. Fans can only be switched by hand if auto mode is off.
func (c *Controller) Toggle(ctx context.Context, fan string) (bool, error) {
	s, err := c.settings(ctx)
	if err != nil {
		return false, err
	}
	if *s.AutoMode {
		return false, ErrAutoMode
	}
	if _, ok := s.Thresholds[fan]; !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownFan, fan)
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	states, err := c.states(ctx, s.Thresholds)
	if err != nil {
		return false, err
	}
	states[fan] = !states[fan]
	if err = c.write(ctx, states); err != nil {
		return false, err
	}
	c.logger.Info("fan toggled", "fan", fan, "on", states[fan])
	return states[fan], nil
}

// SetBaseThreshold moves all thresholds so that the lowest one becomes base, keeping the distance between them.
func (c *Controller) SetBaseThreshold(ctx context.Context, base float64) (Thresholds, error) {
	s, err := c.settings(ctx)
	if err != nil {
		return nil, err
	}
	thresholds := s.Thresholds.Shift(base)
	if err = c.store.Set(ctx, BaseThresholdPath, base); err != nil {
		return nil, fmt.Errorf("set threshold: %w", err)
	}
	if err = c.store.Set(ctx, ThresholdsPath, thresholds); err != nil {
		return nil, fmt.Errorf("set thresholds: %w", err)
	}
	c.logger.Info("thresholds set", "base", base)
	if *s.AutoMode {
		err = c.evaluate(ctx)
	}
	return thresholds, err
}

// SetThreshold sets the temperature at which a single fan switches on.
func (c *Controller) SetThreshold(ctx context.Context, fan string, threshold float64) (Thresholds, error) {
	s, err := c.settings(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := s.Thresholds[fan]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFan, fan)
	}
	s.Thresholds[fan] = threshold
	if err = c.store.Set(ctx, ThresholdsPath, s.Thresholds); err != nil {
		return nil, fmt.Errorf("set thresholds: %w", err)
	}
	if err = c.store.Set(ctx, BaseThresholdPath, s.Thresholds.Lowest()); err != nil {
		return nil, fmt.Errorf("set threshold: %w", err)
	}
	c.logger.Info("threshold set", "fan", fan, "threshold", threshold)
	if *s.AutoMode {
		err = c.evaluate(ctx)
	}
	return s.Thresholds, err
}

// evaluate sets the fans for the current temperature if auto mode is on.
// The fans are only written if they differ from the stored states, so changes made elsewhere are corrected.
func (c *Controller) evaluate(ctx context.Context) error {
	s, err := c.settings(ctx)
	if err != nil || !*s.AutoMode {
		return err
	}
	temperature, err := c.temperature(ctx)
	if err != nil || temperature == nil {
		return err
	}
	want := Evaluate(*temperature, s.Thresholds)

	c.lock.Lock()
	defer c.lock.Unlock()
	current, err := c.states(ctx, s.Thresholds)
	if err != nil {
		return err
	}
	if maps.Equal(want, current) {
		return nil
	}
	return c.write(ctx, want)
}

// write stores the fan states. The caller must hold the lock.
func (c *Controller) write(ctx context.Context, states States) error {
	if err := c.store.Set(ctx, StatesPath, states); err != nil {
		return fmt.Errorf("set fans: %w", err)
	}
	c.logger.Debug("fans set", "fans", states)
	return nil
}

// settings returns the stored settings. Auto mode is on unless it's been switched off.
func (c *Controller) settings(ctx context.Context) (settings, error) {
	var s settings
	if err := c.get(ctx, SettingsPath, &s); err != nil {
		return settings{}, err
	}
	if s.AutoMode == nil {
		on := true
		s.AutoMode = &on
	}
	if len(s.Thresholds) == 0 {
		s.Thresholds = maps.Clone(c.defaults)
	}
	return s, nil
}

func (c *Controller) temperature(ctx context.Context) (*float64, error) {
	var temperature *float64
	err := c.get(ctx, TemperaturePath, &temperature)
	return temperature, err
}

// states returns the stored fan states. Fans with a threshold but no state are off.
func (c *Controller) states(ctx context.Context, thresholds Thresholds) (States, error) {
	states := make(States)
	if err := c.get(ctx, StatesPath, &states); err != nil {
		return nil, err
	}
	for fan := range thresholds {
		if _, ok := states[fan]; !ok {
			states[fan] = false
		}
	}
	return states, nil
}

func (c *Controller) get(ctx context.Context, path string, v any) error {
	raw, err := c.store.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	if store.IsNull(raw) {
		return nil
	}
	if err = json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
