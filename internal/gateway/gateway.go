package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nrf24-gateway/internal/mqtt"
	"nrf24-gateway/internal/radio"
)

// Radio is the radio transport as the gateway process drives it.
type Radio interface {
	Poller
	Configure(self radio.NodeID) error
	StopListening() error
	Close() error
}

// Broker is the MQTT side of the gateway.
type Broker interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context, topic string, qos byte, handler mqtt.Handler) error
	Disconnect() error
}

type Gateway struct {
	Radio        Radio
	MQTT         Broker
	Self         radio.NodeID
	CommandTopic string
	QoS          byte
	OnCommand    mqtt.Handler
	Interval     time.Duration
	Logger       zerolog.Logger
}

// Run configures the radio, connects to the broker, subscribes and polls
// until ctx is done. The radio has already been opened by the caller, so it
// is stopped and released on every return path, including startup failures
// and an interrupt while the broker is still unreachable. Only startup
// failures are returned; shutdown failures are logged.
func (g *Gateway) Run(ctx context.Context) error {
	steps := []Step{{Name: "stop radio listening", Fn: g.Radio.StopListening}}
	defer func() {
		steps = append(steps, Step{Name: "release radio gpio", Fn: g.Radio.Close})
		if err := Shutdown(g.Logger, steps...); err != nil {
			g.Logger.Error().Err(err).Msg("shutdown finished with errors")
			return
		}
		g.Logger.Info().Msg("shutdown complete")
	}()

	if err := g.Radio.Configure(g.Self); err != nil {
		return fmt.Errorf("configure radio: %w", err)
	}

	steps = append(steps, Step{Name: "stop mqtt loop and disconnect", Fn: g.MQTT.Disconnect})
	if err := g.MQTT.Connect(ctx); err != nil {
		if ctx.Err() != nil {
			g.Logger.Info().Msg("interrupted before mqtt connected")
			return nil
		}
		return fmt.Errorf("connect mqtt: %w", err)
	}
	if err := g.MQTT.Subscribe(ctx, g.CommandTopic, g.QoS, g.OnCommand); err != nil {
		if ctx.Err() != nil {
			g.Logger.Info().Msg("interrupted before mqtt subscribed")
			return nil
		}
		return fmt.Errorf("subscribe %s: %w", g.CommandTopic, err)
	}
	g.Logger.Info().Str("topic", g.CommandTopic).Str("node", string(g.Self)).Msg("listening")

	loop := &Loop{Radio: g.Radio, Self: g.Self, Interval: g.Interval, Logger: g.Logger}
	loop.Run(ctx)
	return nil
}
