package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nrf24-gateway/internal/radio"
)

type State int32

const (
	Running State = iota
	ShuttingDown
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Poller is the receive side of the radio transport.
type Poller interface {
	PollReceive(ctx context.Context, self radio.NodeID) (bool, error)
}

// maxDrain caps how many frames are read back to back before sleeping.
const maxDrain = 3

// Loop polls the radio until its context is cancelled.
type Loop struct {
	Radio    Poller
	Self     radio.NodeID
	Interval time.Duration
	Logger   zerolog.Logger

	state atomic.Int32
}

func (l *Loop) State() State {
	return State(l.state.Load())
}

// Run blocks in the Running state until ctx is done, then moves to
// ShuttingDown and returns. Poll errors are logged and do not stop the loop.
func (l *Loop) Run(ctx context.Context) {
	l.state.Store(int32(Running))
	defer l.state.Store(int32(ShuttingDown))

	interval := l.Interval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	l.Logger.Info().Str("node", string(l.Self)).Dur("interval", interval).Msg("radio poll loop started")
	for {
		l.drain(ctx)
		select {
		case <-ctx.Done():
			l.Logger.Info().Msg("radio poll loop stopping")
			return
		case <-t.C:
		}
	}
}

func (l *Loop) drain(ctx context.Context) {
	for i := 0; i < maxDrain; i++ {
		processed, err := l.Radio.PollReceive(ctx, l.Self)
		if err != nil {
			l.Logger.Error().Err(err).Msg("radio poll failed")
			return
		}
		if !processed {
			return
		}
	}
}

// Step is one release action run during shutdown.
type Step struct {
	Name string
	Fn   func() error
}

// Shutdown runs every step in order, even when earlier ones fail, and
// returns the joined failures.
func Shutdown(logger zerolog.Logger, steps ...Step) error {
	var errs []error
	for _, s := range steps {
		if err := runStep(s); err != nil {
			logger.Warn().Err(err).Str("step", s.Name).Msg("shutdown step failed")
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		logger.Info().Str("step", s.Name).Msg("shutdown step done")
	}
	return errors.Join(errs...)
}

func runStep(s Step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return s.Fn()
}
