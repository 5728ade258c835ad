package config

import (
	"sync"
	"time"

	"github.com/mattjoyce/pxshell/internal/render"
)

// ExecutionSettings is one consistent view of the dispatcher defaults.
type ExecutionSettings struct {
	Targets      Selector
	Block        bool
	StreamOutput bool
	Verbose      bool
	// ProgressAfter is the quiet wait before a progress view is allowed.
	// Negative never shows progress; zero shows it immediately.
	ProgressAfter time.Duration
	// InterruptSignal is forwarded to engines on local cancellation. nil propagates the cancellation.
	InterruptSignal *Signal
	GroupBy         render.GroupBy
}

// ConfigUpdate is a partial update. nil fields keep their current value.
// Targets and InterruptSignal are text and go through ParseSelector and ParseSignal;
// an InterruptSignal of "none" clears the signal.
type ConfigUpdate struct {
	Targets         *string
	Block           *bool
	StreamOutput    *bool
	Verbose         *bool
	ProgressAfter   *time.Duration
	InterruptSignal *string
	GroupBy         *string
}

// ExecutionConfig holds the mutable dispatcher defaults for the lifetime of a session.
// It is safe for concurrent use; readers never observe a partially applied update.
type ExecutionConfig struct {
	mu       sync.RWMutex
	settings ExecutionSettings
}

// NewExecutionConfig creates an ExecutionConfig seeded with initial.
func NewExecutionConfig(initial ExecutionSettings) *ExecutionConfig {
	if initial.GroupBy == "" {
		initial.GroupBy = render.GroupByType
	}
	return &ExecutionConfig{settings: copySettings(initial)}
}

// Snapshot returns a copy of the current settings.
func (c *ExecutionConfig) Snapshot() ExecutionSettings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return copySettings(c.settings)
}

// Update validates every supplied field, then applies them together.
// On a *ConfigError nothing is changed.
func (c *ExecutionConfig) Update(u ConfigUpdate) error {
	var (
		targets  Selector
		signal   *Signal
		groupBy  render.GroupBy
		err      error
		hasGroup bool
	)
	if u.Targets != nil {
		if targets, err = ParseSelector(*u.Targets); err != nil {
			return err
		}
	}
	if u.InterruptSignal != nil {
		if signal, err = ParseSignal(*u.InterruptSignal); err != nil {
			return err
		}
	}
	if u.GroupBy != nil {
		if groupBy, err = render.ParseGroupBy(*u.GroupBy); err != nil {
			return &ConfigError{Field: "group-outputs", Value: *u.GroupBy, Reason: err.Error()}
		}
		hasGroup = true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if u.Targets != nil {
		c.settings.Targets = targets
	}
	if u.Block != nil {
		c.settings.Block = *u.Block
	}
	if u.StreamOutput != nil {
		c.settings.StreamOutput = *u.StreamOutput
	}
	if u.Verbose != nil {
		c.settings.Verbose = *u.Verbose
	}
	if u.ProgressAfter != nil {
		c.settings.ProgressAfter = *u.ProgressAfter
	}
	if u.InterruptSignal != nil {
		c.settings.InterruptSignal = signal
	}
	if hasGroup {
		c.settings.GroupBy = groupBy
	}
	return nil
}

func copySettings(s ExecutionSettings) ExecutionSettings {
	out := s
	if s.InterruptSignal != nil {
		sig := *s.InterruptSignal
		out.InterruptSignal = &sig
	}
	out.Targets = s.Targets.clone()
	return out
}

func (s Selector) clone() Selector {
	out := s
	if s.ids != nil {
		out.ids = s.IDs()
	}
	return out
}

// SecondsToDuration converts a fractional seconds value such as 2.5 or -1.
func SecondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
