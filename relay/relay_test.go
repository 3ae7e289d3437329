package relay

import (
	"context"
	"testing"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/groundstation/hardware/serial"
	"github.com/temoto/groundstation/log2"
	relay_api "github.com/temoto/groundstation/relay/api"
	"github.com/temoto/groundstation/telemetry"
)

// Tests are not parallel: paho loggers are package globals.

func testRelay(t *testing.T, config Config) (*Relay, *MqttMock) {
	if config.MqttBroker == "" {
		config.MqttBroker = "tcp://mock:1883"
	}
	config.Enabled = true
	config.IntervalMs = 1
	log := log2.NewTest(t, log2.LDebug)
	mock := NewMqttMock()
	r := New(config, log)
	require.NotNil(t, r)
	ctx := ContextWithMqttMock(context.Background(), mock)
	require.NoError(t, r.Start(ctx))
	t.Cleanup(r.Stop)
	return r, mock
}

func waitMsg(t *testing.T, mock *MqttMock, topic string) MockMsg {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case msg := <-mock.Pub:
			if msg.T == topic {
				return msg
			}
		case <-timeout:
			t.Fatalf("no message on topic=%s", topic)
			return MockMsg{}
		}
	}
}

func TestRelayDisabled(t *testing.T) {
	r := New(Config{Enabled: false, MqttBroker: "tcp://mock:1883"}, log2.NewTest(t, log2.LDebug))
	assert.Nil(t, r)
	assert.NoError(t, r.Start(context.Background()))
	assert.False(t, r.Offer(1, telemetry.Snapshot{}))
	r.OfferLink(nil)
	assert.Equal(t, "", r.Session())
	assert.Equal(t, Stat{}, r.Stat())
	r.Stop()
}

func TestRelayBrokerRequired(t *testing.T) {
	r := New(Config{Enabled: true}, log2.NewTest(t, log2.LDebug))
	err := r.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsNotValid(err))
}

func TestRelaySnapshot(t *testing.T) {
	r, mock := testRelay(t, Config{TopicPrefix: "range7"})

	s := telemetry.Snapshot{
		Vehicle: telemetry.VehicleTelemetry{Counter: 17, BaroAltitude: 1234.5, Status: telemetry.StatusDescending},
		Payload: telemetry.PayloadTelemetry{Humidity: 40},
		Aux:     telemetry.AuxSensorReading{Temperature: 21.5},
	}
	require.True(t, r.Offer(3, s))
	msg := waitMsg(t, mock, "range7/telemetry")
	assert.Equal(t, byte(0), msg.Q)
	assert.False(t, msg.R)

	var out relay_api.Snapshot
	require.NoError(t, proto.Unmarshal(msg.P, &out))
	assert.Equal(t, r.Session(), out.Session)
	assert.Equal(t, uint64(3), out.Seq)
	assert.Equal(t, "descending", out.GetVehicle().GetStatusLabel())
	assert.Equal(t, s, out.Telemetry())

	// same sequence is not published again
	assert.False(t, r.Offer(3, s))
}

func TestRelayLatestWins(t *testing.T) {
	config := Config{Enabled: true, MqttBroker: "tcp://mock:1883"}
	r := New(config, log2.NewTest(t, log2.LDebug))
	for seq := uint64(1); seq <= 4; seq++ {
		s := telemetry.Snapshot{Vehicle: telemetry.VehicleTelemetry{Counter: uint32(seq)}}
		require.True(t, r.Offer(seq, s))
	}
	assert.Equal(t, uint64(3), r.Stat().Dropped)

	mock := NewMqttMock()
	require.NoError(t, r.Start(ContextWithMqttMock(context.Background(), mock)))
	defer r.Stop()
	msg := waitMsg(t, mock, "groundstation/telemetry")
	var out relay_api.Snapshot
	require.NoError(t, proto.Unmarshal(msg.P, &out))
	assert.Equal(t, uint64(4), out.Seq)
	assert.Equal(t, uint32(4), out.GetVehicle().GetCounter())
}

func TestRelayLink(t *testing.T) {
	r, mock := testRelay(t, Config{})

	opt := mock.Options()
	require.NotNil(t, opt)
	assert.True(t, opt.WillEnabled)
	assert.Equal(t, "groundstation/link", opt.WillTopic)
	assert.True(t, opt.WillRetained)
	var will relay_api.Link
	require.NoError(t, proto.Unmarshal(opt.WillPayload, &will))
	assert.False(t, will.Online)
	assert.Equal(t, r.Session(), will.Session)

	initial := waitMsg(t, mock, "groundstation/link")
	assert.True(t, initial.R)

	r.OfferLink([]serial.Stat{
		{Name: serial.ChannelVehicle, Connected: true, Port: "/dev/ttyUSB0", Baud: 9600},
		{Name: serial.ChannelPayload},
	})
	var link relay_api.Link
	for {
		msg := waitMsg(t, mock, "groundstation/link")
		require.NoError(t, proto.Unmarshal(msg.P, &link))
		if len(link.Channels) != 0 {
			break
		}
	}
	assert.True(t, link.Online)
	assert.True(t, link.Connected("vehicle"))
	assert.False(t, link.Connected("payload"))
	assert.False(t, link.Connected("uplink"))
	assert.Equal(t, int32(9600), link.Channels[0].Baud)

	r.Stop()
	final := waitMsg(t, mock, "groundstation/link")
	require.NoError(t, proto.Unmarshal(final.P, &link))
	assert.False(t, link.Online)
	assert.True(t, mock.Disconnected)
}

func TestRelayPublishError(t *testing.T) {
	r, mock := testRelay(t, Config{})
	waitMsg(t, mock, "groundstation/link")

	mock.lk.Lock()
	mock.PublishErr = errors.New("broker gone")
	mock.lk.Unlock()
	require.True(t, r.Offer(1, telemetry.Snapshot{}))
	deadline := time.Now().Add(5 * time.Second)
	for r.Stat().Errors == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	assert.Equal(t, uint64(1), r.Stat().Errors)
}

func TestRelayStopBeforeConnect(t *testing.T) {
	config := Config{Enabled: true, MqttBroker: "tcp://mock:1883"}
	r := New(config, log2.NewTest(t, log2.LDebug))
	mock := NewMqttMock()
	mock.ConnectErr = errors.New("refused")
	require.NoError(t, r.Start(ContextWithMqttMock(context.Background(), mock)))
	tbegin := time.Now()
	r.Stop()
	assert.True(t, time.Since(tbegin) < 3*time.Second)
	assert.Equal(t, 0, len(mock.Pub))
}
