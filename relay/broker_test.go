package relay

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/golang/protobuf/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/groundstation/log2"
	relay_api "github.com/temoto/groundstation/relay/api"
	"github.com/temoto/groundstation/telemetry"
)

func viewerReceive(t *testing.T, conn transport.Conn, topic string) *packet.Publish {
	t.Helper()
	for {
		pkt, err := conn.Receive()
		require.NoError(t, err)
		if pub, ok := pkt.(*packet.Publish); ok && pub.Message.Topic == topic {
			return pub
		}
	}
}

// Real paho client against embedded broker, display connects with raw MQTT.
func TestRelayEmbeddedBroker(t *testing.T) {
	r := New(Config{
		Enabled:      true,
		BrokerListen: []string{"tcp://127.0.0.1:0"},
		IntervalMs:   1,
		TopicPrefix:  "range7",
	}, log2.NewTest(t, log2.LDebug))
	require.NoError(t, r.Start(context.Background()))
	require.True(t, strings.HasPrefix(r.config.MqttBroker, "tcp://127.0.0.1:"), r.config.MqttBroker)
	require.Eventually(t, func() bool {
		bst, _ := r.BrokerStat()
		return bst.Retained == 1
	}, 5*time.Second, 10*time.Millisecond)

	conn, err := transport.Dial(r.config.MqttBroker)
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadTimeout(5 * time.Second)
	pktConnect := packet.NewConnect()
	pktConnect.ClientID = "display1"
	pktConnect.CleanSession = true
	require.NoError(t, conn.Send(pktConnect, false))
	pkt, err := conn.Receive()
	require.NoError(t, err)
	require.Equal(t, packet.ConnectionAccepted, pkt.(*packet.Connack).ReturnCode)

	pktSubscribe := packet.NewSubscribe()
	pktSubscribe.ID = 1
	pktSubscribe.Subscriptions = []packet.Subscription{{Topic: "range7/#", QOS: packet.QOSAtMostOnce}}
	require.NoError(t, conn.Send(pktSubscribe, false))
	pkt, err = conn.Receive()
	require.NoError(t, err)
	require.IsType(t, &packet.Suback{}, pkt)

	var link relay_api.Link
	pub := viewerReceive(t, conn, "range7/link")
	require.NoError(t, proto.Unmarshal(pub.Message.Payload, &link))
	assert.True(t, link.GetOnline())
	assert.Equal(t, r.Session(), link.GetSession())

	require.True(t, r.Offer(5, telemetry.Snapshot{Vehicle: telemetry.VehicleTelemetry{Counter: 9}}))
	var snap relay_api.Snapshot
	pub = viewerReceive(t, conn, "range7/telemetry")
	require.NoError(t, proto.Unmarshal(pub.Message.Payload, &snap))
	assert.Equal(t, uint64(5), snap.GetSeq())
	assert.Equal(t, uint32(9), snap.GetVehicle().GetCounter())

	// relay client and display
	bst, ok := r.BrokerStat()
	require.True(t, ok)
	assert.Equal(t, 2, bst.Clients)

	r.Stop()
	link.Reset()
	pub = viewerReceive(t, conn, "range7/link")
	require.NoError(t, proto.Unmarshal(pub.Message.Payload, &link))
	assert.False(t, link.GetOnline())
	_, ok = r.BrokerStat()
	assert.False(t, ok)
}

func TestRelayBrokerListenError(t *testing.T) {
	r := New(Config{Enabled: true, BrokerListen: []string{"ws://127.0.0.1:0"}}, log2.NewTest(t, log2.LDebug))
	err := r.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay broker")
	_, ok := r.BrokerStat()
	assert.False(t, ok)
}
