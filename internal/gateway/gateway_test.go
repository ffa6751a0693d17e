package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nrf24-gateway/internal/mqtt"
	"nrf24-gateway/internal/radio"
)

// recorder is shared by the fake radio and broker so call order across both
// can be asserted.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(c string) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeRadio struct {
	fakePoller
	rec          *recorder
	configureErr error
}

func (f *fakeRadio) Configure(self radio.NodeID) error {
	f.rec.add("configure:" + string(self))
	return f.configureErr
}

func (f *fakeRadio) StopListening() error {
	f.rec.add("stop-listening")
	return nil
}

func (f *fakeRadio) Close() error {
	f.rec.add("close")
	return nil
}

type fakeBroker struct {
	rec *recorder
	// blockConnect makes Connect wait for ctx, like a broker that is down
	// while paho keeps retrying.
	blockConnect bool
	subscribeErr error
	topic        string
}

func (b *fakeBroker) Connect(ctx context.Context) error {
	b.rec.add("connect")
	if b.blockConnect {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, topic string, _ byte, _ mqtt.Handler) error {
	b.rec.add("subscribe")
	b.topic = topic
	return b.subscribeErr
}

func (b *fakeBroker) Disconnect() error {
	b.rec.add("disconnect")
	return nil
}

func newGateway() (*Gateway, *fakeRadio, *fakeBroker, *recorder) {
	rec := &recorder{}
	r := &fakeRadio{rec: rec}
	b := &fakeBroker{rec: rec}
	g := &Gateway{
		Radio:        r,
		MQTT:         b,
		Self:         radio.GatewayNode,
		CommandTopic: "uol/uol-cm3070-mod11/sub/#",
		OnCommand:    func(string, []byte) {},
		Interval:     time.Millisecond,
		Logger:       zerolog.Nop(),
	}
	return g, r, b, rec
}

func TestGatewayRunReleasesRadioOnInterrupt(t *testing.T) {
	g, r, _, rec := newGateway()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool {
		calls, _ := r.snapshot()
		return calls >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gateway did not stop")
	}
	assert.Equal(t, []string{
		"configure:GATEWAY_NODE", "connect", "subscribe",
		"stop-listening", "disconnect", "close",
	}, rec.snapshot())
}

func TestGatewayRunInterruptedWhileBrokerDown(t *testing.T) {
	g, r, b, rec := newGateway()
	b.blockConnect = true
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	require.Eventually(t, func() bool {
		return len(rec.snapshot()) >= 2
	}, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gateway did not stop")
	}
	assert.Equal(t, []string{"configure:GATEWAY_NODE", "connect", "stop-listening", "disconnect", "close"}, rec.snapshot())
	calls, _ := r.snapshot()
	assert.Zero(t, calls)
}

func TestGatewayRunStartupFailures(t *testing.T) {
	testCases := []struct {
		name  string
		setup func(r *fakeRadio, b *fakeBroker)
		want  []string
	}{
		{
			name:  "configure fails",
			setup: func(r *fakeRadio, _ *fakeBroker) { r.configureErr = errors.New("no chip") },
			want:  []string{"configure:GATEWAY_NODE", "stop-listening", "close"},
		},
		{
			name:  "subscribe fails",
			setup: func(_ *fakeRadio, b *fakeBroker) { b.subscribeErr = errors.New("not authorized") },
			want:  []string{"configure:GATEWAY_NODE", "connect", "subscribe", "stop-listening", "disconnect", "close"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g, r, b, rec := newGateway()
			tc.setup(r, b)

			err := g.Run(context.Background())
			assert.Error(t, err)
			assert.Equal(t, tc.want, rec.snapshot())
		})
	}
}
