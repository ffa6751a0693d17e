package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nrf24-gateway/internal/radio"
)

// Sender transmits a frame to a node over the radio.
type Sender interface {
	Send(target radio.NodeID, frame []byte) error
}

// Publisher is the MQTT side of the bridge.
type Publisher interface {
	Publish(ctx context.Context, topic string, qos byte, retain bool, payload []byte) error
}

// Bridge routes MQTT commands to radio nodes and radio telemetry to MQTT.
type Bridge struct {
	Logger      zerolog.Logger
	Radio       Sender
	MQTT        Publisher
	TopicPrefix string
	QoS         byte
	Retain      bool
	// SendAttempts bounds how often a radio write that the peer did not
	// acknowledge is repeated. Values below 1 mean a single attempt.
	SendAttempts int
	SendBackoff  time.Duration
}

// HandleCommand is the MQTT message callback. Payloads that are not JSON
// objects, or that do not name a known node in client_id, are logged and
// dropped.
func (b *Bridge) HandleCommand(ctx context.Context, topic string, payload []byte) {
	log := b.Logger.With().Str("topic", topic).Logger()
	target, ok, err := radio.StringField(payload, "client_id")
	if err != nil {
		log.Warn().Err(err).Bytes("payload", payload).Msg("invalid json received from mqtt; discarded")
		return
	}
	if !ok || !radio.Known(radio.NodeID(target)) {
		log.Warn().Str("client_id", target).Msg("invalid or missing client_id in mqtt message; discarded")
		return
	}
	var frame bytes.Buffer
	if err := json.Compact(&frame, payload); err != nil {
		log.Warn().Err(err).Msg("compact payload failed; discarded")
		return
	}
	log.Info().Str("client_id", target).RawJSON("payload", frame.Bytes()).Msg("received from mqtt")
	if err := b.sendWithRetry(ctx, radio.NodeID(target), frame.Bytes()); err != nil {
		log.Error().Err(err).Str("client_id", target).Msg("failed to send to radio")
	}
}

func (b *Bridge) sendWithRetry(ctx context.Context, target radio.NodeID, frame []byte) error {
	attempts := b.SendAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := b.SendBackoff
	var err error
	for i := 1; i <= attempts; i++ {
		err = b.Radio.Send(target, frame)
		if err == nil || !errors.Is(err, radio.ErrWriteFailed) || i == attempts {
			return err
		}
		b.Logger.Warn().Err(err).Str("client_id", string(target)).Int("attempt", i).Dur("backoff", delay).Msg("radio write not acknowledged; retrying")
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}

// Topic returns the telemetry topic of deviceID.
func (b *Bridge) Topic(deviceID string) string {
	return strings.TrimRight(b.TopicPrefix, "/") + "/" + deviceID
}

// PublishTelemetry republishes a radio frame to the device's topic.
func (b *Bridge) PublishTelemetry(ctx context.Context, deviceID string, payload []byte) error {
	if deviceID == "" {
		return errors.New("empty device id")
	}
	topic := b.Topic(deviceID)
	if err := b.MQTT.Publish(ctx, topic, b.QoS, b.Retain, payload); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	b.Logger.Info().Str("topic", topic).RawJSON("payload", payload).Msg("published")
	return nil
}
