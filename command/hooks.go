package command

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"sync"
)

// TelemetryFunc returns the telemetry properties of an invocation.
type TelemetryFunc func(opts Options) map[string]any

// Tracker receives telemetry events.
type Tracker interface {
	Track(ctx context.Context, name string, props map[string]any) error
}

// Presence returns a TelemetryFunc recording whether each named option was given.
func Presence(names ...string) TelemetryFunc {
	return func(opts Options) map[string]any {
		props := make(map[string]any, len(names))
		for _, n := range names {
			props[n] = opts.IsSet(n)
		}
		return props
	}
}

// Hooks forwards telemetry events to the registered trackers. Hook failures, including
// panics, are recorded and logged at debug level but never returned.
type Hooks struct {
	mu       sync.Mutex
	trackers []Tracker
	errs     []error
	log      *slog.Logger
}

// NewHooks returns Hooks forwarding to trackers.
func NewHooks(logger *slog.Logger, trackers ...Tracker) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{trackers: trackers, log: logger}
}

// Register adds a tracker.
func (h *Hooks) Register(t Tracker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.trackers = append(h.trackers, t)
}

// Fire collects the telemetry properties of cmd and sends one event to each tracker.
func (h *Hooks) Fire(ctx context.Context, cmd *Command, opts Options) {
	if h == nil || cmd == nil {
		return
	}

	props := map[string]any{
		"debug":   opts.Bool("debug"),
		"verbose": opts.Bool("verbose"),
		"output":  opts.String("output"),
	}
	for i, fn := range cmd.Telemetry {
		h.guard(fmt.Sprintf("%s telemetry %d", cmd.Name, i), func() error {
			maps.Copy(props, fn(opts))
			return nil
		})
	}

	h.mu.Lock()
	trackers := append([]Tracker(nil), h.trackers...)
	h.mu.Unlock()

	for _, t := range trackers {
		h.guard(fmt.Sprintf("%s tracker %T", cmd.Name, t), func() error {
			return t.Track(ctx, cmd.Name, props)
		})
	}
}

// Errors returns the failures recorded so far.
func (h *Hooks) Errors() []error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]error(nil), h.errs...)
}

func (h *Hooks) guard(name string, fn func() error) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = fn()
	}()
	if err == nil {
		return
	}
	err = fmt.Errorf("hook %s: %w", name, err)
	h.log.Debug(err.Error())
	h.mu.Lock()
	h.errs = append(h.errs, err)
	h.mu.Unlock()
}
