// Package broker is a small MQTT 3.1.1 server for the range network.
// One publisher (the station relay) feeds any number of read-only
// viewers. QoS 2 and persistent sessions are not supported.
package broker

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/broker"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/topic"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/groundstation/helpers"
	"github.com/temoto/groundstation/log2"
)

const (
	defaultNetworkTimeout = 5 * time.Second
	defaultReadLimit      = 1 << 20
)

var (
	ErrSameClient    = fmt.Errorf("clientid overtake")
	ErrClosing       = fmt.Errorf("server is closing")
	ErrNoSubscribers = fmt.Errorf("no subscribers")
	ErrReadOnly      = fmt.Errorf("viewer may not publish")
)

type Role uint8

const (
	RoleDenied Role = iota
	RoleViewer
	RolePublisher
)

func (r Role) String() string {
	switch r {
	case RoleDenied:
		return "denied"
	case RoleViewer:
		return "viewer"
	case RolePublisher:
		return "publisher"
	}
	return fmt.Sprintf("role(%d)", r)
}

type CloseFunc = func(clientID string, clean bool, e error)
type ConnectFunc = func(*packet.Connect) Role

type Options struct {
	Log            *log2.Log
	NetworkTimeout time.Duration
	OnClose        CloseFunc // valid client connection lost
	OnConnect      ConnectFunc
}

// Auth grants publisher role to exact credentials match.
// Empty viewerPassword admits anonymous viewers, otherwise a viewer sends
// any username with viewerPassword (MQTT forbids password without username).
func Auth(username, password, viewerPassword string) ConnectFunc {
	return func(pkt *packet.Connect) Role {
		if username != "" && pkt.Username == username && pkt.Password == password {
			return RolePublisher
		}
		if viewerPassword == "" || (pkt.Username != "" && pkt.Password == viewerPassword) {
			return RoleViewer
		}
		return RoleDenied
	}
}

type Stat struct {
	Clients  int
	Subs     int
	Retained int
	Routed   uint64
	Denied   uint64
}

// Server.subs is prefix tree of pattern -> *subscription
type subscription struct {
	pattern string
	client  string
	qos     packet.QOS
}

type Server struct { //nolint:maligned
	routed uint64 // atomic
	denied uint64 // atomic
	nextid uint32 // atomic packet.ID

	sync.RWMutex
	routeLk  sync.RWMutex // read locked by each delivery in flight
	alive    *alive.Alive
	backends struct {
		sync.RWMutex
		m map[string]*backend
	}
	ctx            context.Context
	listens        map[string]*transport.NetServer
	log            *log2.Log
	networkTimeout time.Duration
	onClose        CloseFunc
	onConnect      ConnectFunc
	retain         *topic.Tree // *packet.Message
	subs           *topic.Tree // *subscription
}

func NewServer(opt Options) *Server {
	s := &Server{
		alive:          alive.NewAlive(),
		ctx:            context.Background(),
		log:            opt.Log,
		networkTimeout: opt.NetworkTimeout,
		onClose:        opt.OnClose,
		onConnect:      opt.OnConnect,
		retain:         topic.NewStandardTree(),
		subs:           topic.NewStandardTree(),
	}
	if s.networkTimeout == 0 {
		s.networkTimeout = defaultNetworkTimeout
	}
	if s.onConnect == nil {
		s.onConnect = func(*packet.Connect) Role { return RoleDenied }
	}
	s.backends.m = make(map[string]*backend)
	return s
}

// Addrs lists bound listener addresses, useful with port 0.
func (s *Server) Addrs() []string {
	s.RLock()
	defer s.RUnlock()
	addrs := make([]string, 0, len(s.listens))
	for _, l := range s.listens {
		addrs = append(addrs, l.Addr().String())
	}
	return addrs
}

func (s *Server) Close() error {
	s.alive.Stop()
	errs := make([]error, 0)
	helpers.WithLock(s, func() {
		for key, ns := range s.listens {
			if err := ns.Close(); err != nil {
				errs = append(errs, err)
			}
			delete(s.listens, key)
		}
	})
	// deliveries already started finish or hit ack timeout
	s.routeLk.Lock()
	s.routeLk.Unlock() //nolint:staticcheck
	helpers.WithLock(s.backends.RLocker(), func() {
		for _, b := range s.backends.m {
			// connection errors are logged by processConn
			_ = b.die(nil)
		}
	})
	s.alive.Wait()
	return helpers.FoldErrors(errs)
}

// Listen accepts tcp:// and unix:// URLs.
func (s *Server) Listen(ctx context.Context, urls []string) error {
	s.Lock()
	defer s.Unlock()

	s.ctx = ctx
	if s.listens == nil {
		s.listens = make(map[string]*transport.NetServer, len(urls))
	}
	errs := make([]error, 0)
	for _, u := range urls {
		s.log.Debugf("broker listen url=%s timeout=%v", u, s.networkTimeout)
		ns, err := listen(u)
		if err != nil {
			errs = append(errs, errors.Annotatef(err, "broker listen url=%s", u))
			continue
		}
		if !s.alive.Add(1) {
			_ = ns.Close()
			errs = append(errs, errors.Errorf("Listen after Close"))
			break
		}
		s.listens[u] = ns
		go s.acceptLoop(ns, u)
	}
	return helpers.FoldErrors(errs)
}

// NextID skips zero, reserved for QoS 0.
func (s *Server) NextID() packet.ID {
	for {
		u32 := atomic.AddUint32(&s.nextid, 1)
		if id := packet.ID(u32 % (1 << 16)); id != 0 {
			return id
		}
	}
}

// Publish routes msg to subscribers, storing it first when retained.
// Delivery QoS is the lower of message and subscription.
func (s *Server) Publish(ctx context.Context, msg *packet.Message) error {
	wait, err := s.route(ctx, msg)
	if err != nil {
		return err
	}
	return wait()
}

// route stores retained msg and starts one delivery per subscriber.
// wait blocks until every delivery is done, QoS 1 ones until PUBACK or ack timeout.
func (s *Server) route(ctx context.Context, msg *packet.Message) (wait func() error, err error) {
	s.log.Debugf("broker publish %s", MessageString(msg))
	if msg.Retain {
		if len(msg.Payload) != 0 {
			s.retain.Set(msg.Topic, msg.Copy())
		} else {
			s.retain.Empty(msg.Topic)
		}
	}

	var _a [8]*subscription
	subs := _a[:0]
	uniq := make(map[string]struct{})
	for _, x := range s.subs.Match(msg.Topic) {
		sub := x.(*subscription)
		if _, ok := uniq[sub.client]; !ok {
			uniq[sub.client] = struct{}{}
			subs = append(subs, sub)
		}
	}
	if len(subs) == 0 {
		return nil, ErrNoSubscribers
	}

	errch := make(chan error, len(subs))
	wg := sync.WaitGroup{}
	helpers.WithLock(s.backends.RLocker(), func() {
		for _, sub := range subs {
			b, ok := s.backends.m[sub.client]
			if !ok {
				continue
			}
			bmsg := msg.Copy()
			if sub.qos < bmsg.QOS {
				bmsg.QOS = sub.qos
			}
			id := s.NextID()
			wg.Add(1)
			s.routeLk.RLock()
			go func() {
				defer wg.Done()
				defer s.routeLk.RUnlock()
				if err := b.Publish(ctx, id, bmsg); err != nil {
					errch <- err
				} else {
					atomic.AddUint64(&s.routed, 1)
				}
			}()
		}
	})
	wait = func() error {
		wg.Wait()
		close(errch)
		errs := make([]error, 0, len(errch))
		for err := range errch {
			errs = append(errs, err)
		}
		return helpers.FoldErrors(errs)
	}
	return wait, nil
}

func (s *Server) Retain() []*packet.Message {
	xs := s.retain.All()
	if len(xs) == 0 {
		return nil
	}
	ms := make([]*packet.Message, len(xs))
	for i, x := range xs {
		ms[i] = x.(*packet.Message)
	}
	return ms
}

func (s *Server) Stat() Stat {
	st := Stat{
		Subs:     len(s.subs.All()),
		Retained: len(s.retain.All()),
		Routed:   atomic.LoadUint64(&s.routed),
		Denied:   atomic.LoadUint64(&s.denied),
	}
	helpers.WithLock(s.backends.RLocker(), func() { st.Clients = len(s.backends.m) })
	return st
}

func listen(rawurl string) (*transport.NetServer, error) {
	u, err := url.ParseRequestURI(rawurl)
	if err != nil {
		return nil, errors.Annotate(err, "parse url")
	}
	switch u.Scheme {
	case "tcp":
		l, err := net.Listen("tcp", u.Host)
		if err != nil {
			return nil, errors.Annotatef(err, "net.Listen address=%s", u.Host)
		}
		return transport.NewNetServer(l), nil

	case "unix":
		l, err := net.Listen("unix", u.Path)
		if err != nil {
			return nil, errors.Annotatef(err, "net.Listen path=%s", u.Path)
		}
		return transport.NewNetServer(l), nil
	}
	return nil, errors.NotSupportedf("listen scheme=%s", u.Scheme)
}

func (s *Server) acceptLoop(ns *transport.NetServer, rawurl string) {
	defer s.alive.Done() // one alive subtask for each listener
	for {
		conn, err := ns.Accept()
		if !s.alive.IsRunning() {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			s.log.Error(errors.Annotatef(err, "broker accept listen=%s", rawurl))
			s.alive.Stop()
			return
		}
		if !s.alive.Add(1) { // and one alive subtask for each connection
			_ = conn.Close()
			return
		}
		go s.processConn(conn)
	}
}

func (s *Server) onAccept(conn transport.Conn) (*backend, error) {
	var err error
	addr := addrString(conn.RemoteAddr())
	defer errors.DeferredAnnotatef(&err, "addr=%s", addr)

	pkt, err := conn.Receive()
	if err != nil {
		return nil, errors.Trace(err)
	}
	pktConnect, ok := pkt.(*packet.Connect)
	if !ok {
		err = broker.ErrUnexpectedPacket
		return nil, errors.Trace(err)
	}

	connack := packet.NewConnack()
	connack.SessionPresent = false
	if pktConnect.ClientID == "" {
		connack.ReturnCode = packet.IdentifierRejected
		_ = conn.Send(connack, false)
		err = errors.Annotate(broker.ErrNotAuthorized, "empty clientid")
		return nil, errors.Trace(err)
	}

	role := s.onConnect(pktConnect)
	if role == RoleDenied {
		atomic.AddUint64(&s.denied, 1)
		connack.ReturnCode = packet.NotAuthorized
		_ = conn.Send(connack, false)
		err = errors.Annotatef(broker.ErrNotAuthorized, "client=%s username=%s", pktConnect.ClientID, pktConnect.Username)
		return nil, errors.Trace(err)
	}
	s.log.Debugf("broker CONNECT addr=%s client=%s role=%s keepalive=%d will=%s",
		addr, pktConnect.ClientID, role.String(), pktConnect.KeepAlive, MessageString(pktConnect.Will))

	keepalive := time.Duration(pktConnect.KeepAlive) * time.Second
	if keepalive == 0 || keepalive > s.networkTimeout {
		keepalive = s.networkTimeout
	}
	conn.SetReadTimeout(keepalive + keepalive/2)
	connack.ReturnCode = packet.ConnectionAccepted
	if err = conn.Send(connack, false); err != nil {
		return nil, errors.Trace(err)
	}
	return newBackend(conn, role, 2*s.networkTimeout, s.log, pktConnect), nil
}

func (s *Server) processConn(conn transport.Conn) {
	defer s.alive.Done()

	addr := addrString(conn.RemoteAddr())
	conn.SetMaxWriteDelay(0)
	conn.SetReadLimit(defaultReadLimit)
	conn.SetReadTimeout(s.networkTimeout)
	b, err := s.onAccept(conn)
	if err != nil {
		s.log.Infof("broker reject addr=%s err=%v", addr, err)
		_ = conn.Close()
		return
	}

	helpers.WithLock(&s.backends, func() {
		if ex, ok := s.backends.m[b.id]; ok {
			s.log.Infof("broker client overtake id=%s ex=%s new=%s", b.id, addrString(ex.RemoteAddr()), addr)
			_ = ex.die(ErrSameClient)
		}
		s.backends.m[b.id] = b
	})

	wg := sync.WaitGroup{}
	for {
		pkt, err := b.Receive()
		if !b.alive.IsRunning() || !s.alive.IsRunning() {
			_ = b.die(ErrClosing)
			break
		}
		if err != nil {
			break
		}
		wg.Add(1)
		go s.processPacket(b, pkt, &wg)
	}
	wg.Wait()

	_ = b.acks.Await(b.ackTimeout)
	b.acks.Clear()
	b.alive.WaitTasks()

	closeErr := b.die(ErrClosing)
	will, clean := b.getWill()
	helpers.WithLock(&s.backends, func() {
		if ex := s.backends.m[b.id]; b == ex {
			s.log.Debugf("broker gone id=%s clean=%t err=%v", b.id, clean, closeErr)
			delete(s.backends.m, b.id)
		}
		for _, value := range s.subs.All() {
			if sub := value.(*subscription); sub.client == b.id {
				s.subs.Remove(sub.pattern, value)
			}
		}
	})
	if !clean && will != nil {
		_ = s.Publish(s.ctx, will)
	}
	if s.onClose != nil {
		s.onClose(b.id, clean, closeErr)
	}
}

// on each incoming packet after connect handshake
func (s *Server) processPacket(b *backend, pkt packet.Generic, finally interface{ Done() }) {
	defer finally.Done()
	attached := false
	helpers.WithLock(s.backends.RLocker(), func() { attached = s.backends.m[b.id] == b })
	if !attached {
		s.log.Errorf("broker ignore from detached id=%s pkt=%s", b.id, PacketString(pkt))
		_ = b.die(ErrSameClient)
		return
	}

	var err error
	switch pt := pkt.(type) {
	case *packet.Pingreq:
		err = b.Send(packet.NewPingresp())

	case *packet.Publish:
		err = s.onPublish(b, pt)

	case *packet.Puback:
		err = b.FulfillAck(pt.ID)

	case *packet.Subscribe:
		err = s.onSubscribe(b, pt)

	case *packet.Unsubscribe:
		err = s.onUnsubscribe(b, pt)

	case *packet.Pubrec, *packet.Pubrel, *packet.Pubcomp:
		err = errors.NotSupportedf("qos2")

	case *packet.Disconnect:
		b.onDisconnect()
		_ = b.die(nil)
		return

	default:
		err = errors.Errorf("unexpected packet=%s", PacketString(pkt))
	}
	if err != nil {
		s.log.Debugf("broker id=%s err=%v", b.id, err)
		_ = b.die(err)
	}
}

func (s *Server) onPublish(b *backend, pkt *packet.Publish) error {
	if b.role != RolePublisher {
		atomic.AddUint64(&s.denied, 1)
		return errors.Annotatef(ErrReadOnly, "client=%s topic=%s", b.id, pkt.Message.Topic)
	}
	msg := pkt.Message.Copy()
	if msg.QOS > packet.QOSAtLeastOnce {
		return errors.NotSupportedf("qos=%d", msg.QOS)
	}
	// slow viewer must not hold publisher PUBACK
	wait, err := s.route(s.ctx, msg)
	if msg.QOS == packet.QOSAtLeastOnce {
		puback := packet.NewPuback()
		puback.ID = pkt.ID
		if sendErr := b.Send(puback); sendErr != nil {
			return sendErr
		}
	}
	if err == nil {
		err = wait()
	}
	if err != nil && err != ErrNoSubscribers {
		s.log.Errorf("broker route %s err=%v", MessageString(msg), err)
	}
	return nil
}

func (s *Server) onSubscribe(b *backend, pkt *packet.Subscribe) error {
	// A SUBSCRIBE packet with no payload is a protocol violation [MQTT-3.8.3-3].
	if len(pkt.Subscriptions) == 0 {
		return errors.NotValidf("subscribe with empty list")
	}
	suback := packet.NewSuback()
	suback.ID = pkt.ID
	suback.ReturnCodes = make([]packet.QOS, 0, len(pkt.Subscriptions))
	retained := make([]*packet.Message, 0)
	for _, sub := range pkt.Subscriptions {
		sub2 := &subscription{pattern: sub.Topic, client: b.id, qos: sub.QOS}
		if sub2.qos > packet.QOSAtLeastOnce {
			sub2.qos = packet.QOSAtLeastOnce
		}
		s.subs.Add(sub2.pattern, sub2)
		suback.ReturnCodes = append(suback.ReturnCodes, sub2.qos)
		for _, v := range s.retain.Search(sub2.pattern) {
			msg := v.(*packet.Message).Copy()
			if sub2.qos < msg.QOS {
				msg.QOS = sub2.qos
			}
			retained = append(retained, msg)
		}
	}
	if err := b.Send(suback); err != nil {
		return errors.Annotate(err, "suback")
	}
	for _, msg := range retained {
		msg := msg
		id := s.NextID()
		go func() { _ = b.Publish(s.ctx, id, msg) }()
	}
	return nil
}

func (s *Server) onUnsubscribe(b *backend, pkt *packet.Unsubscribe) error {
	drop := make(map[string]struct{}, len(pkt.Topics))
	for _, pattern := range pkt.Topics {
		drop[pattern] = struct{}{}
	}
	for _, value := range s.subs.All() {
		sub := value.(*subscription)
		if _, ok := drop[sub.pattern]; ok && sub.client == b.id {
			s.subs.Remove(sub.pattern, value)
		}
	}
	unsuback := packet.NewUnsuback()
	unsuback.ID = pkt.ID
	return b.Send(unsuback)
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}
