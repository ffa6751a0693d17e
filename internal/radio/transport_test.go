package radio

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRadio struct {
	calls     []string
	writeAddr []byte
	readAddr  []byte
	listening bool
	rx        [][]byte
	written   [][]byte
	ack       bool
	writeErr  error
	closed    bool
}

func (f *fakeRadio) OpenWritingPipe(addr []byte) error {
	f.calls = append(f.calls, "write-pipe:"+string(addr))
	f.writeAddr = addr
	return nil
}

func (f *fakeRadio) OpenReadingPipe(pipe int, addr []byte) error {
	f.calls = append(f.calls, "read-pipe:"+string(addr))
	f.readAddr = addr
	return nil
}

func (f *fakeRadio) StartListening() error {
	f.calls = append(f.calls, "start")
	f.listening = true
	return nil
}

func (f *fakeRadio) StopListening() error {
	f.calls = append(f.calls, "stop")
	f.listening = false
	return nil
}

func (f *fakeRadio) Available() (bool, error) { return len(f.rx) > 0, nil }

func (f *fakeRadio) DynamicPayloadSize() (int, error) { return len(f.rx[0]), nil }

func (f *fakeRadio) Read(n int) ([]byte, error) {
	b := f.rx[0][:n]
	f.rx = f.rx[1:]
	return b, nil
}

func (f *fakeRadio) Write(p []byte) (bool, error) {
	f.calls = append(f.calls, "write")
	if f.writeErr != nil {
		return false, f.writeErr
	}
	f.written = append(f.written, append([]byte(nil), p...))
	return f.ack, nil
}

func (f *fakeRadio) Close() error {
	f.closed = true
	return nil
}

type published struct {
	deviceID string
	payload  string
}

type fakeSink struct {
	got []published
	err error
}

func (s *fakeSink) PublishTelemetry(_ context.Context, deviceID string, payload []byte) error {
	s.got = append(s.got, published{deviceID, string(payload)})
	return s.err
}

func newConfigured(t *testing.T, dev *fakeRadio) (*Transport, *fakeSink) {
	t.Helper()
	tr := NewTransport(dev, zerolog.Nop())
	sink := &fakeSink{}
	tr.SetSink(sink)
	require.NoError(t, tr.Configure(GatewayNode))
	dev.calls = nil
	return tr, sink
}

func TestConfigure(t *testing.T) {
	dev := &fakeRadio{}
	tr := NewTransport(dev, zerolog.Nop())

	require.NoError(t, tr.Configure(GatewayNode))
	assert.Equal(t, "GATEWAY_NODE", string(dev.readAddr))
	assert.Equal(t, "GATEWAY_NODE", string(dev.writeAddr))
	assert.True(t, dev.listening)

	err := NewTransport(&fakeRadio{}, zerolog.Nop()).Configure("NODE9")
	assert.ErrorIs(t, err, ErrUnknownNode)
}

func TestSend(t *testing.T) {
	dev := &fakeRadio{ack: true}
	tr, _ := newConfigured(t, dev)

	require.NoError(t, tr.Send("NODE1", []byte(`{"client_id":"NODE1"}`)))
	assert.Equal(t, []string{"stop", "write-pipe:NODE1", "write", "start"}, dev.calls)
	assert.Equal(t, `{"client_id":"NODE1"}`, string(dev.written[0]))
	assert.True(t, dev.listening)
}

func TestSendErrors(t *testing.T) {
	testCases := []struct {
		name     string
		dev      *fakeRadio
		target   NodeID
		frame    string
		wantErr  error
		wantLive bool
	}{
		{name: "unknown node", dev: &fakeRadio{ack: true}, target: "NODE7", frame: `{}`, wantErr: ErrUnknownNode, wantLive: true},
		{name: "too large", dev: &fakeRadio{ack: true}, target: "NODE1", frame: `{"client_id":"NODE1","value":12345}`, wantErr: ErrPayloadTooLarge, wantLive: true},
		{name: "not acknowledged", dev: &fakeRadio{ack: false}, target: "NODE2", frame: `{"a":1}`, wantErr: ErrWriteFailed, wantLive: true},
		{name: "driver error", dev: &fakeRadio{writeErr: errors.New("spi")}, target: "NODE2", frame: `{"a":1}`, wantLive: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			tr, _ := newConfigured(t, tc.dev)
			err := tr.Send(tc.target, []byte(tc.frame))
			require.Error(t, err)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.Equal(t, tc.wantLive, tc.dev.listening)
		})
	}
}

func TestSendBeforeConfigure(t *testing.T) {
	tr := NewTransport(&fakeRadio{ack: true}, zerolog.Nop())
	assert.ErrorIs(t, tr.Send("NODE1", []byte(`{}`)), ErrNotConfigured)
}

func TestPollReceive(t *testing.T) {
	testCases := []struct {
		name      string
		rx        [][]byte
		processed bool
		want      []published
	}{
		{name: "empty fifo", processed: false},
		{
			name:      "telemetry republished verbatim",
			rx:        [][]byte{[]byte(`{"device_id": "NODE1", "temp": 21.5}`)},
			processed: true,
			want:      []published{{"NODE1", `{"device_id": "NODE1", "temp": 21.5}`}},
		},
		{name: "malformed json", rx: [][]byte{[]byte(`{"device_id":`)}, processed: true},
		{name: "missing device_id", rx: [][]byte{[]byte(`{"temp":1}`)}, processed: true},
		{
			name:      "numeric device_id",
			rx:        [][]byte{[]byte(`{"device_id":7,"temp":3}`)},
			processed: true,
			want:      []published{{"7", `{"device_id":7,"temp":3}`}},
		},
		{name: "zero device_id", rx: [][]byte{[]byte(`{"device_id":0}`)}, processed: true},
		{name: "boolean device_id", rx: [][]byte{[]byte(`{"device_id":true}`)}, processed: true},
		{name: "json array", rx: [][]byte{[]byte(`[1,2]`)}, processed: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			dev := &fakeRadio{rx: tc.rx}
			tr, sink := newConfigured(t, dev)

			processed, err := tr.PollReceive(context.Background(), GatewayNode)
			require.NoError(t, err)
			assert.Equal(t, tc.processed, processed)
			assert.Equal(t, tc.want, sink.got)
		})
	}
}

func TestPollReceiveSinkErrorIsContained(t *testing.T) {
	dev := &fakeRadio{rx: [][]byte{[]byte(`{"device_id":"NODE2"}`)}}
	tr, sink := newConfigured(t, dev)
	sink.err = errors.New("broker down")

	processed, err := tr.PollReceive(context.Background(), GatewayNode)
	assert.NoError(t, err)
	assert.True(t, processed)
}

func TestPollReceiveRequiresOwnNode(t *testing.T) {
	tr, _ := newConfigured(t, &fakeRadio{})
	_, err := tr.PollReceive(context.Background(), "NODE1")
	assert.Error(t, err)

	_, err = NewTransport(&fakeRadio{}, zerolog.Nop()).PollReceive(context.Background(), GatewayNode)
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClose(t *testing.T) {
	dev := &fakeRadio{}
	tr, _ := newConfigured(t, dev)
	require.NoError(t, tr.StopListening())
	require.NoError(t, tr.Close())
	assert.False(t, dev.listening)
	assert.True(t, dev.closed)
}

func TestStopListeningRefusesLateSends(t *testing.T) {
	dev := &fakeRadio{ack: true, rx: [][]byte{[]byte(`{"device_id":"NODE1"}`)}}
	tr, sink := newConfigured(t, dev)
	require.NoError(t, tr.StopListening())

	assert.ErrorIs(t, tr.Send("NODE1", []byte(`{}`)), ErrNotConfigured)
	_, err := tr.PollReceive(context.Background(), GatewayNode)
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, dev.listening)
	assert.Equal(t, []string{"stop"}, dev.calls)
	assert.Empty(t, dev.written)
	assert.Empty(t, sink.got)

	require.NoError(t, tr.Configure(GatewayNode))
	assert.NoError(t, tr.Send("NODE1", []byte(`{}`)))
	assert.True(t, dev.listening)
}

func TestLookup(t *testing.T) {
	addr, ok := Lookup("NODE3")
	require.True(t, ok)
	addr[0] = 'X'
	again, _ := Lookup("NODE3")
	assert.Equal(t, "NODE3", string(again))

	_, ok = Lookup("nope")
	assert.False(t, ok)
	assert.Equal(t, []NodeID{"GATEWAY_NODE", "NODE1", "NODE2", "NODE3"}, Nodes())
	assert.True(t, Known("NODE1"))
}

func TestStringField(t *testing.T) {
	v, ok, err := StringField([]byte(`{"client_id":"NODE1","x":[1]}`), "client_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "NODE1", v)

	_, ok, err = StringField([]byte(`{"client_id":""}`), "client_id")
	assert.NoError(t, err)
	assert.False(t, ok)

	v, ok, err = StringField([]byte(`{"device_id": 12.5}`), "device_id")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "12.5", v)

	_, ok, _ = StringField([]byte(`{"device_id": null}`), "device_id")
	assert.False(t, ok)

	_, _, err = StringField([]byte(`null`), "client_id")
	assert.Error(t, err)

	_, _, err = StringField([]byte(`not json`), "client_id")
	assert.Error(t, err)
}
