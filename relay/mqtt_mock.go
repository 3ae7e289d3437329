package relay

import (
	"context"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
)

// MqttMock is in-memory mqtt.Client recording published messages.
type MqttMock struct {
	Opt *mqtt.ClientOptions
	Pub chan MockMsg

	lk           sync.Mutex
	connected    bool
	ConnectErr   error
	PublishErr   error
	Disconnected bool
}

func NewMqttMock() *MqttMock {
	return &MqttMock{
		Pub: make(chan MockMsg, 32),
	}
}

func (self *MqttMock) MockNew(opt *mqtt.ClientOptions) {
	self.lk.Lock()
	self.Opt = opt
	self.lk.Unlock()
}

func (self *MqttMock) Options() *mqtt.ClientOptions {
	self.lk.Lock()
	defer self.lk.Unlock()
	return self.Opt
}

func (self *MqttMock) Disconnect(uint) {
	self.lk.Lock()
	self.connected = false
	self.Disconnected = true
	self.lk.Unlock()
}

func (self *MqttMock) IsConnected() bool {
	self.lk.Lock()
	defer self.lk.Unlock()
	return self.connected
}
func (self *MqttMock) IsConnectionOpen() bool { return self.IsConnected() }

func (self *MqttMock) Connect() mqtt.Token {
	self.lk.Lock()
	defer self.lk.Unlock()
	if self.ConnectErr != nil {
		return mockToken{self.ConnectErr}
	}
	self.connected = true
	return mockToken{nil}
}

// Publish drops message when Pub is full.
func (self *MqttMock) Publish(topic string, qos byte, retain bool, payload interface{}) mqtt.Token {
	self.lk.Lock()
	err := self.PublishErr
	self.lk.Unlock()
	if err != nil {
		return mockToken{err}
	}
	msg := MockMsg{T: topic, Q: qos, R: retain}
	switch p := payload.(type) {
	case []byte:
		msg.P = append([]byte(nil), p...)
	case string:
		msg.P = []byte(p)
	default:
		return mockToken{errors.NotSupportedf("payload type %T", payload)}
	}
	select {
	case self.Pub <- msg:
	default:
	}
	return mockToken{nil}
}

func (self *MqttMock) Subscribe(string, byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) SubscribeMultiple(map[string]byte, mqtt.MessageHandler) mqtt.Token {
	panic("not implemented")
}
func (self *MqttMock) Unsubscribe(...string) mqtt.Token        { panic("not implemented") }
func (self *MqttMock) AddRoute(string, mqtt.MessageHandler)    { panic("not implemented") }
func (self *MqttMock) OptionsReader() mqtt.ClientOptionsReader { panic("not implemented") }

type mockToken struct{ error }

func (tok mockToken) Error() error                   { return tok.error }
func (tok mockToken) Wait() bool                     { return !errors.IsTimeout(tok.error) }
func (tok mockToken) WaitTimeout(time.Duration) bool { return !errors.IsTimeout(tok.error) }

type MockMsg struct {
	T string
	P []byte
	Q byte
	R bool
}

func (msg MockMsg) Ack()              {}
func (msg MockMsg) Duplicate() bool   { return false }
func (msg MockMsg) MessageID() uint16 { return 0 }
func (msg MockMsg) Payload() []byte   { return msg.P }
func (msg MockMsg) Qos() byte         { return msg.Q }
func (msg MockMsg) Retained() bool    { return msg.R }
func (msg MockMsg) Topic() string     { return msg.T }

const mqttMockContextKey = "relay/mqtt-mock"

func ContextWithMqttMock(ctx context.Context, c mqtt.Client) context.Context {
	return context.WithValue(ctx, mqttMockContextKey, c)
}

func contextMqttClient(ctx context.Context) mqtt.Client {
	if c, ok := ctx.Value(mqttMockContextKey).(mqtt.Client); ok {
		return c
	}
	return nil
}
