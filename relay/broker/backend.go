package broker

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/groundstation/helpers"
	"github.com/temoto/groundstation/log2"
)

// Server side connection state.
// Relatively thin transport.Conn wrapper.
type backend struct {
	clean uint32 // atomic, DISCONNECT received

	alive      *alive.Alive
	ackTimeout time.Duration
	acks       *future.Store
	connmu     sync.RWMutex
	conn       transport.Conn
	errmu      sync.Mutex
	err        error
	dead       bool
	id         string
	log        *log2.Log
	role       Role
	username   string
	willmu     sync.Mutex
	will       *packet.Message
}

func newBackend(conn transport.Conn, role Role, ackTimeout time.Duration, log *log2.Log, pktConnect *packet.Connect) *backend {
	b := &backend{
		alive:      alive.NewAlive(),
		ackTimeout: ackTimeout,
		acks:       future.NewStore(),
		conn:       conn,
		id:         pktConnect.ClientID,
		log:        log,
		role:       role,
		username:   pktConnect.Username,
	}
	if pktConnect.Will != nil {
		b.will = pktConnect.Will.Copy()
	}
	return b
}

func (b *backend) expectAck(id packet.ID) *future.Future {
	f := future.New()
	if !b.alive.Add(1) {
		f.Cancel(ErrClosing)
		return f
	}
	go func() {
		defer b.alive.Done()
		if err := f.Wait(b.ackTimeout); err == future.ErrTimeout {
			f.Cancel(err)
		}
		b.acks.Delete(id)
	}()

	if ex := b.acks.Get(id); ex != nil {
		err := errors.Errorf("CRITICAL expectAck overwriting id=%d", id)
		b.log.Error(err)
		ex.Cancel(err)
		f.Cancel(err)
		return f
	}
	b.acks.Put(id, f)
	return f
}

// Publish sends one message, waiting for PUBACK on QoS 1.
// Missing ack kills the connection.
func (b *backend) Publish(ctx context.Context, id packet.ID, msg *packet.Message) error {
	if !b.alive.Add(1) {
		return ErrClosing
	}
	defer b.alive.Done()

	pub := packet.NewPublish()
	pub.ID = id
	pub.Message = *msg
	switch msg.QOS {
	case packet.QOSAtMostOnce:
		pub.ID = 0
		return b.Send(pub)

	case packet.QOSAtLeastOnce:
		f := b.expectAck(pub.ID)
		if err := b.Send(pub); err != nil {
			f.Cancel(err)
		}
		err := f.Wait(b.ackTimeout)
		if err == nil {
			return nil
		}
		if err == future.ErrCanceled {
			if err, _ = f.Result().(error); err == nil {
				err = errors.Errorf("code error ack future canceled with nil")
			}
		}
		return b.die(errors.Annotatef(err, "expect puback id=%d", pub.ID))
	}
	return errors.NotSupportedf("qos=%d", msg.QOS)
}

func (b *backend) Receive() (packet.Generic, error) {
	conn := b.getConn()
	if conn == nil {
		return nil, ErrClosing
	}
	pkt, err := conn.Receive()
	b.log.Debugf("broker recv id=%s pkt=%s err=%v", b.id, PacketString(pkt), err)
	switch {
	case err == nil:
		return pkt, nil

	case err == io.EOF: // remote properly closed connection
		_ = b.die(err)
		return nil, err

	case !b.alive.IsRunning() && isClosedConn(err):
		// conn.Close was used to interrupt blocking Receive
		return nil, ErrClosing
	}
	_ = b.die(err)
	return nil, err
}

func (b *backend) Send(pkt packet.Generic) error {
	conn := b.getConn()
	if conn == nil {
		return ErrClosing
	}
	b.log.Debugf("broker send id=%s pkt=%s", b.id, PacketString(pkt))
	if err := conn.Send(pkt, false); err != nil {
		if !b.alive.IsRunning() && isClosedConn(err) {
			return ErrClosing
		}
		return b.die(errors.Annotatef(err, "clientid=%s", b.id))
	}
	return nil
}

// FulfillAck is success counterpart to expectAck.
func (b *backend) FulfillAck(id packet.ID) error {
	f := b.acks.Get(id)
	if f == nil {
		return errors.NotFoundf("ack for packet id=%d", id)
	}
	if !f.Complete(nil) {
		return future.ErrCanceled
	}
	return nil
}

func (b *backend) RemoteAddr() net.Addr {
	if conn := b.getConn(); conn != nil {
		return conn.RemoteAddr()
	}
	return nil
}

// die records first reason and closes connection.
// Returns the first recorded reason.
func (b *backend) die(e error) error {
	b.errmu.Lock()
	if b.dead {
		err := b.err
		b.errmu.Unlock()
		return err
	}
	b.dead, b.err = true, e
	b.errmu.Unlock()

	b.log.Debugf("broker die id=%s e=%v", b.id, e)
	b.alive.Stop()
	helpers.WithLock(&b.connmu, func() {
		if b.conn != nil {
			_ = b.conn.Close()
			b.conn = nil
		}
	})
	return e
}

func (b *backend) getConn() transport.Conn {
	b.connmu.RLock()
	c := b.conn
	b.connmu.RUnlock()
	return c
}

func (b *backend) getWill() (m *packet.Message, clean bool) {
	b.willmu.Lock()
	if b.will != nil {
		m = b.will.Copy()
	}
	b.willmu.Unlock()
	return m, atomic.LoadUint32(&b.clean) == 1
}

// DISCONNECT discards will.
func (b *backend) onDisconnect() {
	atomic.StoreUint32(&b.clean, 1)
	b.willmu.Lock()
	b.will = nil
	b.willmu.Unlock()
}

func isClosedConn(e error) bool {
	return e != nil && strings.HasSuffix(e.Error(), "use of closed network connection")
}
