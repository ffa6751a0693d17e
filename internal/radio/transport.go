package radio

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

var (
	ErrUnknownNode     = errors.New("unknown node")
	ErrPayloadTooLarge = errors.New("payload exceeds radio frame size")
	ErrWriteFailed     = errors.New("radio write not acknowledged")
	ErrNotConfigured   = errors.New("radio transport not configured")
)

// FrameSink receives decoded frames that carry a device_id.
type FrameSink interface {
	PublishTelemetry(ctx context.Context, deviceID string, payload []byte) error
}

// Transport owns the transceiver. Every call that touches the radio holds
// mu, so sends from MQTT callbacks never interleave with the poll loop.
type Transport struct {
	mu   sync.Mutex
	dev  Transceiver
	self NodeID
	sink FrameSink
	// halted is set by StopListening; sends and polls are refused after it.
	halted bool
	Logger zerolog.Logger
}

func NewTransport(dev Transceiver, logger zerolog.Logger) *Transport {
	return &Transport{dev: dev, Logger: logger}
}

// SetSink must be called before the poll loop starts.
func (t *Transport) SetSink(s FrameSink) {
	t.mu.Lock()
	t.sink = s
	t.mu.Unlock()
}

// Configure binds the reading and writing pipes to self's address and starts
// listening.
func (t *Transport) Configure(self NodeID) error {
	addr, ok := Lookup(self)
	if !ok {
		return fmt.Errorf("configure %q: %w", self, ErrUnknownNode)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.dev.OpenWritingPipe(addr); err != nil {
		return fmt.Errorf("open writing pipe: %w", err)
	}
	if err := t.dev.OpenReadingPipe(1, addr); err != nil {
		return fmt.Errorf("open reading pipe: %w", err)
	}
	if err := t.dev.StartListening(); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	t.self = self
	t.halted = false
	t.Logger.Info().Str("node", string(self)).Msg("radio configured")
	return nil
}

// Send transmits frame to target. The radio leaves RX mode for the duration
// of the write and returns to it afterwards, whatever the write outcome.
func (t *Transport) Send(target NodeID, frame []byte) (err error) {
	addr, ok := Lookup(target)
	if !ok {
		return fmt.Errorf("send to %q: %w", target, ErrUnknownNode)
	}
	if len(frame) > MaxPayload {
		return fmt.Errorf("send to %q (%d bytes): %w", target, len(frame), ErrPayloadTooLarge)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.self == "" || t.halted {
		return ErrNotConfigured
	}
	if err := t.dev.StopListening(); err != nil {
		return fmt.Errorf("stop listening: %w", err)
	}
	defer func() {
		if lerr := t.dev.StartListening(); lerr != nil {
			err = errors.Join(err, fmt.Errorf("resume listening: %w", lerr))
		}
	}()
	if err := t.dev.OpenWritingPipe(addr); err != nil {
		return fmt.Errorf("open writing pipe: %w", err)
	}
	acked, err := t.dev.Write(frame)
	if err != nil {
		return fmt.Errorf("write to %q: %w", target, err)
	}
	if !acked {
		return fmt.Errorf("write to %q: %w", target, ErrWriteFailed)
	}
	t.Logger.Info().Str("target", string(target)).Bytes("payload", frame).Msg("sent to radio")
	return nil
}

// PollReceive checks the RX FIFO once without blocking. It reports whether a
// frame was consumed; frames that are not JSON objects or carry no
// device_id are logged and discarded.
func (t *Transport) PollReceive(ctx context.Context, self NodeID) (bool, error) {
	t.mu.Lock()
	if t.self == "" || t.halted {
		t.mu.Unlock()
		return false, ErrNotConfigured
	}
	if self != t.self {
		t.mu.Unlock()
		return false, fmt.Errorf("poll as %q but radio is configured as %q", self, t.self)
	}
	frame, err := t.readFrame()
	sink := t.sink
	t.mu.Unlock()
	if err != nil || frame == nil {
		return false, err
	}

	log := t.Logger.With().Str("node", string(self)).Logger()
	deviceID, ok, derr := StringField(frame, "device_id")
	if derr != nil {
		log.Warn().Err(derr).Bytes("frame", frame).Msg("invalid json received from radio; discarded")
		return true, nil
	}
	if !ok {
		log.Warn().RawJSON("frame", frame).Msg("missing device_id in radio frame; discarded")
		return true, nil
	}
	log.Info().Str("device_id", deviceID).RawJSON("frame", frame).Msg("received from radio")
	if sink == nil {
		log.Warn().Msg("no sink attached; frame dropped")
		return true, nil
	}
	if err := sink.PublishTelemetry(ctx, deviceID, frame); err != nil {
		log.Error().Err(err).Str("device_id", deviceID).Msg("telemetry publish failed")
	}
	return true, nil
}

// readFrame returns nil, nil when the FIFO is empty. Caller holds mu.
func (t *Transport) readFrame() ([]byte, error) {
	avail, err := t.dev.Available()
	if err != nil {
		return nil, fmt.Errorf("radio available: %w", err)
	}
	if !avail {
		return nil, nil
	}
	n, err := t.dev.DynamicPayloadSize()
	if err != nil {
		return nil, fmt.Errorf("radio payload size: %w", err)
	}
	if n <= 0 {
		// The driver flushed a corrupt frame; report it as consumed.
		return []byte{}, nil
	}
	frame, err := t.dev.Read(n)
	if err != nil {
		return nil, fmt.Errorf("radio read: %w", err)
	}
	return frame, nil
}

// StopListening takes the radio out of RX mode for shutdown. Later Send and
// PollReceive calls fail with ErrNotConfigured until Configure runs again.
func (t *Transport) StopListening() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.halted = true
	return t.dev.StopListening()
}

// Close releases the transceiver and its GPIO lines.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.self = ""
	return t.dev.Close()
}
