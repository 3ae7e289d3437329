// Package relay publishes telemetry snapshots and channel link state
// over MQTT for presentation collaborators on the range network.
// Publishing never blocks the caller: the latest snapshot replaces
// any not yet sent.
package relay

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/protobuf/proto"
	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/groundstation/hardware/serial"
	"github.com/temoto/groundstation/helpers"
	"github.com/temoto/groundstation/log2"
	relay_api "github.com/temoto/groundstation/relay/api"
	"github.com/temoto/groundstation/relay/broker"
	"github.com/temoto/groundstation/telemetry"
)

type Stat struct {
	Published uint64
	Dropped   uint64
	Errors    uint64
}

type Relay struct {
	stat    Stat // atomic align
	lastSeq uint64

	alive   *alive.Alive
	broker  *broker.Server
	config  Config
	log     *log2.Log
	m       mqtt.Client
	mopt    *mqtt.ClientOptions
	session string

	mailbox chan *relay_api.Snapshot
	linkbox chan *relay_api.Link
	linkLk  sync.Mutex
	link    *relay_api.Link

	topicTelemetry string
	topicLink      string
}

// New returns nil when relay is disabled, nil *Relay is valid and silent.
func New(config Config, log *log2.Log) *Relay {
	if !config.Enabled {
		return nil
	}
	self := &Relay{
		alive:          alive.NewAlive(),
		config:         config,
		log:            log,
		session:        uuid.New().String(),
		mailbox:        make(chan *relay_api.Snapshot, 1),
		linkbox:        make(chan *relay_api.Link, 1),
		topicTelemetry: config.Topic(relay_api.TopicTelemetry),
		topicLink:      config.Topic(relay_api.TopicLink),
	}
	self.link = &relay_api.Link{Session: self.session, Online: true}
	return self
}

func (self *Relay) Session() string {
	if self == nil {
		return ""
	}
	return self.session
}

func (self *Relay) Stat() Stat {
	if self == nil {
		return Stat{}
	}
	return Stat{
		Published: atomic.LoadUint64(&self.stat.Published),
		Dropped:   atomic.LoadUint64(&self.stat.Dropped),
		Errors:    atomic.LoadUint64(&self.stat.Errors),
	}
}

func (self *Relay) Start(ctx context.Context) error {
	if self == nil {
		return nil
	}
	if len(self.config.BrokerListen) != 0 {
		if err := self.startBroker(ctx); err != nil {
			return err
		}
	}
	if self.config.MqttBroker == "" {
		self.stopBroker()
		return errors.NotValidf("relay mqtt_broker empty")
	}

	mqttLog := self.log.Clone(log2.LDebug)
	mqtt.CRITICAL = mqttLogger{mqttLog, log2.LError, "relay.mqtt critical "}
	mqtt.ERROR = mqttLogger{mqttLog, log2.LError, "relay.mqtt error "}
	mqtt.WARN = mqttLogger{mqttLog, log2.LInfo, "relay.mqtt warn "}
	if self.config.MqttLogDebug {
		mqtt.DEBUG = mqttLogger{mqttLog, log2.LDebug, "relay.mqtt debug "}
	}

	will, err := proto.Marshal(&relay_api.Link{Session: self.session, Online: false})
	if err != nil {
		return errors.Annotate(err, "relay will")
	}

	clientID := self.config.ClientID
	if clientID == "" {
		clientID = "gs-" + self.session[:8]
	}
	networkTimeout := self.config.NetworkTimeout()
	connectTimeout := networkTimeout * 3
	keepaliveTimeout := helpers.IntSecondDefault(self.config.KeepaliveSec, networkTimeout/2)
	credFun := func() (string, string) {
		return self.config.MqttUsername, self.config.MqttPassword
	}
	self.mopt = mqtt.NewClientOptions().
		AddBroker(self.config.MqttBroker).
		SetAutoReconnect(true).
		SetBinaryWill(self.topicLink, will, 1, true).
		SetCleanSession(true).
		SetClientID(clientID).
		SetConnectTimeout(connectTimeout).
		SetCredentialsProvider(credFun).
		SetKeepAlive(keepaliveTimeout).
		SetMaxReconnectInterval(connectTimeout).
		SetOrderMatters(false).
		SetPingTimeout(networkTimeout).
		SetWriteTimeout(networkTimeout)
	if mock := contextMqttClient(ctx); mock != nil {
		if mm, ok := mock.(*MqttMock); ok {
			mm.MockNew(self.mopt)
		}
		self.m = mock
	} else {
		self.m = mqtt.NewClient(self.mopt)
	}

	self.alive.Add(1)
	go self.worker()
	self.log.Infof("relay session=%s broker=%s topics=%s,%s", self.session, self.config.MqttBroker, self.topicTelemetry, self.topicLink)
	return nil
}

// Offer queues snapshot unless seq was already offered.
// Returns true when snapshot was queued.
func (self *Relay) Offer(seq uint64, s telemetry.Snapshot) bool {
	if self == nil {
		return false
	}
	if atomic.SwapUint64(&self.lastSeq, seq) == seq {
		return false
	}
	msg := relay_api.NewSnapshot(self.session, seq, time.Now().UnixNano(), s)
	for {
		select {
		case self.mailbox <- msg:
			return true
		default:
		}
		select {
		case <-self.mailbox:
			atomic.AddUint64(&self.stat.Dropped, 1)
		default:
		}
	}
}

// OfferLink replaces retained channel link state.
func (self *Relay) OfferLink(stats []serial.Stat) {
	if self == nil {
		return
	}
	link := &relay_api.Link{
		Session:  self.session,
		Online:   true,
		Time:     time.Now().UnixNano(),
		Channels: make([]*relay_api.Channel, 0, len(stats)),
	}
	for _, st := range stats {
		link.Channels = append(link.Channels, &relay_api.Channel{
			Name:      string(st.Name),
			Connected: st.Connected,
			Port:      st.Port,
			Baud:      int32(st.Baud),
		})
	}
	helpers.WithLock(&self.linkLk, func() { self.link = link })
	self.queueLink(link)
}

// BrokerStat is zero without embedded broker.
func (self *Relay) BrokerStat() (broker.Stat, bool) {
	if self == nil || self.broker == nil {
		return broker.Stat{}, false
	}
	return self.broker.Stat(), true
}

// Stop publishes offline link state and disconnects.
// Embedded broker closes last so viewers see offline state.
func (self *Relay) Stop() {
	if self == nil || self.m == nil {
		return
	}
	self.alive.Stop()
	self.alive.Wait()

	offline := &relay_api.Link{Session: self.session, Online: false, Time: time.Now().UnixNano()}
	if self.m.IsConnected() {
		_ = self.publish(self.topicLink, 1, true, offline)
	}
	self.m.Disconnect(uint(self.mopt.PingTimeout / time.Millisecond))
	self.stopBroker()
}

// Station relay is the only publisher. Without configured credentials
// it authenticates with the session id.
func (self *Relay) startBroker(ctx context.Context) error {
	if self.config.MqttUsername == "" {
		self.config.MqttUsername = "station"
		self.config.MqttPassword = self.session
	}
	blog := self.log.Clone(log2.LInfo)
	if self.config.MqttLogDebug {
		blog.SetLevel(log2.LDebug)
	}
	self.broker = broker.NewServer(broker.Options{
		Log:            blog,
		NetworkTimeout: self.config.NetworkTimeout(),
		OnConnect:      broker.Auth(self.config.MqttUsername, self.config.MqttPassword, self.config.BrokerViewerPassword),
	})
	if err := self.broker.Listen(ctx, self.config.BrokerListen); err != nil {
		self.stopBroker()
		return errors.Annotate(err, "relay broker")
	}
	if self.config.MqttBroker == "" {
		for _, addr := range self.broker.Addrs() {
			if !strings.HasPrefix(addr, "/") {
				self.config.MqttBroker = "tcp://" + addr
				break
			}
		}
	}
	self.log.Infof("relay broker listen=%s", strings.Join(self.broker.Addrs(), ","))
	return nil
}

func (self *Relay) stopBroker() {
	if self.broker == nil {
		return
	}
	if err := self.broker.Close(); err != nil {
		self.log.Error(errors.Annotate(err, "relay broker close"))
	}
	self.broker = nil
}

func (self *Relay) queueLink(link *relay_api.Link) {
	for {
		select {
		case self.linkbox <- link:
			return
		default:
		}
		select {
		case <-self.linkbox:
		default:
		}
	}
}

func (self *Relay) worker() {
	defer self.alive.Done()
	if !self.online() {
		return
	}
	var link *relay_api.Link
	helpers.WithLock(&self.linkLk, func() { link = self.link })
	self.queueLink(link)

	stopch := self.alive.StopChan()
	interval := self.config.Interval()
	for {
		select {
		case <-stopch:
			return
		case link := <-self.linkbox:
			_ = self.publish(self.topicLink, 1, true, link)
		case snap := <-self.mailbox:
			_ = self.publish(self.topicTelemetry, 0, false, snap)
			select {
			case <-stopch:
				return
			case <-time.After(interval):
			}
		}
	}
}

// online returns false if stopped before connect succeeded.
func (self *Relay) online() bool {
	if self.m.IsConnected() {
		return true
	}
	backoff := helpers.Backoff{Min: time.Second, Max: 30 * time.Second, K: 2}
	stopch := self.alive.StopChan()
	for self.alive.IsRunning() {
		self.log.Debugf("relay connect before")
		t := self.m.Connect()
		success := self.tokenWait(t, "connect") == nil
		if success {
			return true
		}
		select {
		case <-stopch:
			return false
		case <-time.After(backoff.DelayAfter(success)):
		}
	}
	return false
}

func (self *Relay) publish(topic string, qos byte, retain bool, pb proto.Message) error {
	payload, err := proto.Marshal(pb)
	if err != nil {
		atomic.AddUint64(&self.stat.Errors, 1)
		return errors.Annotate(err, "relay marshal")
	}
	t := self.m.Publish(topic, qos, retain, payload)
	if err = self.tokenWait(t, "publish "+topic); err != nil {
		atomic.AddUint64(&self.stat.Errors, 1)
		return err
	}
	atomic.AddUint64(&self.stat.Published, 1)
	if self.config.LogDebug {
		self.log.Debugf("relay published topic=%s len=%d", topic, len(payload))
	}
	return nil
}

func (self *Relay) tokenWait(t mqtt.Token, tag string) error {
	if !t.WaitTimeout(self.mopt.WriteTimeout + self.mopt.ConnectTimeout) {
		err := errors.Timeoutf("relay: MQTT %s", tag)
		self.log.Error(err)
		return err
	}
	if err := t.Error(); err != nil {
		err = errors.Annotate(err, tag)
		self.log.Errorf("relay: MQTT %s", err.Error())
		return err
	}
	return nil
}
