package broker_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/groundstation/helpers"
	"github.com/temoto/groundstation/log2"
	"github.com/temoto/groundstation/relay/broker"
)

const testDefaultTimeout = 1000 * time.Millisecond

type tenv struct {
	t       testing.TB
	log     *log2.Log
	s       *broker.Server
	addr    string
	rand    *rand.Rand
	viewers string
}

func TestServer(t *testing.T) {
	cases := []struct {
		name    string
		viewers string
		check   func(*tenv)
	}{
		{name: "invalid-credentials", viewers: "view", check: func(env *tenv) {
			conn := connDial(env)
			pktConnect := packet.NewConnect()
			pktConnect.ClientID = "cli"
			pktConnect.Username = "unknown"
			require.NoError(env.t, conn.Send(pktConnect, false))
			pktConnack := connReceive(env, conn).(*packet.Connack)
			assert.False(env.t, pktConnack.SessionPresent)
			assert.Equal(env.t, packet.NotAuthorized, pktConnack.ReturnCode)
			assert.Equal(env.t, uint64(1), env.s.Stat().Denied)
		}},
		{name: "viewer-password", viewers: "view", check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", "display1", "view", nil)
		}},
		{name: "anonymous-viewer", check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", "", "", nil)
			assert.Eventually(env.t, func() bool { return env.s.Stat().Clients == 1 }, testDefaultTimeout, 10*time.Millisecond)
		}},
		{name: "route-qos1", check: func(env *tenv) {
			viewer := connViewer(env, "gs/#", packet.QOSAtLeastOnce)
			pub := connPublisher(env, nil)
			msgout := packet.Message{Topic: "gs/telemetry", QOS: packet.QOSAtLeastOnce, Payload: []byte{0x08, 0x2a}}
			connPublish(env, pub, msgout)
			pktPublish := connReceive(env, viewer).(*packet.Publish)
			assert.Equal(env.t, msgout.Topic, pktPublish.Message.Topic)
			assert.Equal(env.t, msgout.Payload, pktPublish.Message.Payload)
			require.Equal(env.t, packet.QOSAtLeastOnce, pktPublish.Message.QOS)
			assert.NotEqual(env.t, packet.ID(0), pktPublish.ID)
			connPuback(env, viewer, pktPublish.ID)
			assert.Eventually(env.t, func() bool { return env.s.Stat().Routed == 1 }, testDefaultTimeout, 10*time.Millisecond)
		}},
		{name: "slow-viewer", check: func(env *tenv) {
			viewer := connViewer(env, "gs/#", packet.QOSAtLeastOnce)
			pub := connPublisher(env, nil)
			tbegin := time.Now()
			connPublish(env, pub, packet.Message{Topic: "gs/link", QOS: packet.QOSAtLeastOnce, Payload: []byte("online")})
			assert.True(env.t, time.Since(tbegin) < testDefaultTimeout/2, "publisher waited for viewer ack")
			// viewer got it but never acks
			pktPublish := connReceive(env, viewer).(*packet.Publish)
			assert.Equal(env.t, "gs/link", pktPublish.Message.Topic)
		}},
		{name: "qos-downgrade", check: func(env *tenv) {
			viewer := connViewer(env, "gs/telemetry", packet.QOSAtMostOnce)
			pub := connPublisher(env, nil)
			connPublish(env, pub, packet.Message{Topic: "gs/telemetry", QOS: packet.QOSAtLeastOnce, Payload: []byte("x")})
			pktPublish := connReceive(env, viewer).(*packet.Publish)
			assert.Equal(env.t, packet.QOSAtMostOnce, pktPublish.Message.QOS)
		}},
		{name: "retained", check: func(env *tenv) {
			pub := connPublisher(env, nil)
			msgout := packet.Message{Topic: "gs/link", QOS: packet.QOSAtLeastOnce, Retain: true, Payload: []byte("online")}
			connPublish(env, pub, msgout)
			require.Eventually(env.t, func() bool { return len(env.s.Retain()) == 1 }, testDefaultTimeout, 10*time.Millisecond)

			viewer := connViewer(env, "gs/+", packet.QOSAtMostOnce)
			pktPublish := connReceive(env, viewer).(*packet.Publish)
			assert.Equal(env.t, msgout.Topic, pktPublish.Message.Topic)
			assert.Equal(env.t, msgout.Payload, pktPublish.Message.Payload)
			assert.True(env.t, pktPublish.Message.Retain)

			// empty retained payload clears
			connPublish(env, pub, packet.Message{Topic: "gs/link", Retain: true})
			assert.Eventually(env.t, func() bool { return len(env.s.Retain()) == 0 }, testDefaultTimeout, 10*time.Millisecond)
		}},
		{name: "viewer-publish-denied", check: func(env *tenv) {
			conn := connDial(env)
			connConnect(env, conn, "", "", "", nil)
			pktPublish := packet.NewPublish()
			pktPublish.Message = packet.Message{Topic: "gs/uplink", Payload: []byte("x")}
			require.NoError(env.t, conn.Send(pktPublish, false))
			_, err := conn.Receive()
			require.Error(env.t, err)
			assert.Equal(env.t, uint64(1), env.s.Stat().Denied)
		}},
		{name: "will", check: func(env *tenv) {
			viewer := connViewer(env, "#", packet.QOSAtMostOnce)
			will := &packet.Message{Topic: "gs/link", Payload: []byte("offline")}
			pub := connPublisher(env, will)
			require.NoError(env.t, pub.Close())

			pktPublish := connReceive(env, viewer).(*packet.Publish)
			assert.Equal(env.t, will.Topic, pktPublish.Message.Topic)
			assert.Equal(env.t, will.Payload, pktPublish.Message.Payload)
		}},
		{name: "disconnect-clean", check: func(env *tenv) {
			will := &packet.Message{Topic: "gs/link", Payload: []byte("offline"), Retain: true}
			pub := connPublisher(env, will)
			require.NoError(env.t, pub.Send(packet.NewDisconnect(), false))
			require.NoError(env.t, pub.Close())
			require.Eventually(env.t, func() bool { return env.s.Stat().Clients == 0 }, testDefaultTimeout, 10*time.Millisecond)
			assert.Len(env.t, env.s.Retain(), 0)
		}},
		{name: "unsubscribe", check: func(env *tenv) {
			viewer := connViewer(env, "gs/#", packet.QOSAtMostOnce)
			assert.Equal(env.t, 1, env.s.Stat().Subs)
			pktUnsub := packet.NewUnsubscribe()
			pktUnsub.ID = 7
			pktUnsub.Topics = []string{"gs/#"}
			require.NoError(env.t, viewer.Send(pktUnsub, false))
			pktUnsuback := connReceive(env, viewer).(*packet.Unsuback)
			assert.Equal(env.t, packet.ID(7), pktUnsuback.ID)
			assert.Equal(env.t, 0, env.s.Stat().Subs)
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := &tenv{
				t:       t,
				log:     log2.NewTest(t, log2.LDebug),
				rand:    helpers.RandUnix(),
				viewers: c.viewers,
			}
			testServerSetup(env)
			defer func() {
				assert.NoError(t, env.s.Close())
			}()
			c.check(env)
		})
	}
}

func TestServerCloseListen(t *testing.T) {
	t.Parallel()

	s := broker.NewServer(broker.Options{Log: log2.NewTest(t, log2.LDebug)})
	require.NoError(t, s.Close())
	err := s.Listen(context.Background(), []string{"tcp://127.0.0.1:0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Listen after Close")
}

func TestServerListenScheme(t *testing.T) {
	t.Parallel()

	s := broker.NewServer(broker.Options{Log: log2.NewTest(t, log2.LDebug)})
	defer s.Close()
	err := s.Listen(context.Background(), []string{"ws://127.0.0.1:0"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
	assert.Len(t, s.Addrs(), 0)
}

func TestAuth(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		viewer string
		user   string
		pass   string
		expect broker.Role
	}{
		{"publisher", "", "station", "secret", broker.RolePublisher},
		{"publisher-wrong-pass", "", "station", "guess", broker.RoleViewer},
		{"publisher-wrong-pass-locked", "view", "station", "guess", broker.RoleDenied},
		{"anonymous", "", "", "", broker.RoleViewer},
		{"viewer", "view", "display1", "view", broker.RoleViewer},
		{"viewer-denied", "view", "display1", "", broker.RoleDenied},
		{"viewer-without-username", "view", "", "view", broker.RoleDenied},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			auth := broker.Auth("station", "secret", c.viewer)
			pkt := packet.NewConnect()
			pkt.Username, pkt.Password = c.user, c.pass
			assert.Equal(t, c.expect, auth(pkt))
		})
	}
}

func testServerSetup(env *tenv) {
	env.s = broker.NewServer(broker.Options{
		Log:            env.log,
		NetworkTimeout: testDefaultTimeout,
		OnConnect:      broker.Auth("station", "secret", env.viewers),
	})
	require.NoError(env.t, env.s.Listen(context.Background(), []string{"tcp://127.0.0.1:0"}))
	addrs := env.s.Addrs()
	require.Len(env.t, addrs, 1)
	env.addr = addrs[0]
}

func connDial(env *tenv) transport.Conn {
	addr := "tcp://" + env.addr
	c, err := transport.Dial(addr)
	require.NoError(env.t, err)
	env.log.Infof("testClient dial %s", addr)
	c.SetReadTimeout(testDefaultTimeout)
	return c
}

func connConnect(env *tenv, c transport.Conn, id, username, password string, will *packet.Message) {
	if id == "" {
		id = fmt.Sprintf("cli%d", env.rand.Int31())
	}
	pktConnect := packet.NewConnect()
	pktConnect.CleanSession = true
	pktConnect.ClientID = id
	pktConnect.Username = username
	pktConnect.Password = password
	pktConnect.Will = will
	require.NoError(env.t, c.Send(pktConnect, false))
	pktConnack := connReceive(env, c).(*packet.Connack)
	assert.False(env.t, pktConnack.SessionPresent)
	require.Equal(env.t, packet.ConnectionAccepted, pktConnack.ReturnCode)
}

func connPublisher(env *tenv, will *packet.Message) transport.Conn {
	c := connDial(env)
	connConnect(env, c, "station", "station", "secret", will)
	return c
}

func connViewer(env *tenv, pattern string, qos packet.QOS) transport.Conn {
	c := connDial(env)
	connConnect(env, c, "", "display", env.viewers, nil)
	connSubscribe(env, c, []packet.Subscription{{Topic: pattern, QOS: qos}})
	return c
}

func connPublish(env *tenv, c transport.Conn, msg packet.Message) {
	pktPublish := packet.NewPublish()
	pktPublish.Message = msg
	if msg.QOS == packet.QOSAtLeastOnce {
		pktPublish.ID = packet.ID(1 + env.rand.Uint32()%(1<<15))
	}
	require.NoError(env.t, c.Send(pktPublish, false))
	if msg.QOS == packet.QOSAtLeastOnce {
		pktPuback := connReceive(env, c).(*packet.Puback)
		assert.Equal(env.t, pktPublish.ID, pktPuback.ID)
	}
}

func connReceive(env *tenv, c transport.Conn) packet.Generic {
	pkt, err := c.Receive()
	env.log.Infof("testClient recv pkt=%s err=%v", broker.PacketString(pkt), err)
	require.NoError(env.t, err)
	return pkt
}

func connSubscribe(env *tenv, c transport.Conn, subs []packet.Subscription) {
	pktSubscribe := packet.NewSubscribe()
	pktSubscribe.ID = packet.ID(1 + env.rand.Uint32()%(1<<15))
	pktSubscribe.Subscriptions = subs
	require.NoError(env.t, c.Send(pktSubscribe, false))
	pktSuback := connReceive(env, c).(*packet.Suback)
	expect := make([]packet.QOS, 0, len(subs))
	for _, sub := range subs {
		expect = append(expect, sub.QOS)
	}
	assert.Equal(env.t, expect, pktSuback.ReturnCodes)
}

func connPuback(env *tenv, c transport.Conn, id packet.ID) {
	pkt := packet.NewPuback()
	pkt.ID = id
	require.NoError(env.t, c.Send(pkt, false))
}
