package relay

import (
	"time"

	"github.com/temoto/groundstation/helpers"
)

const (
	DefaultTopicPrefix    = "groundstation"
	DefaultInterval       = 200 * time.Millisecond
	defaultNetworkTimeout = 5 * time.Second
)

type Config struct { //nolint:maligned
	Enabled  bool   `hcl:"enable"`
	ClientID string `hcl:"client_id"`
	// Embedded broker for range displays, e.g. tcp://0.0.0.0:1883
	// Empty mqtt_broker then connects to the first listen address.
	BrokerListen         []string `hcl:"broker_listen"`
	BrokerViewerPassword string   `hcl:"broker_viewer_password"` // secret, viewers send it with any username; empty admits anonymous
	KeepaliveSec         int      `hcl:"keepalive_sec"`
	IntervalMs           int      `hcl:"interval_ms"`
	LogDebug             bool     `hcl:"log_debug"`
	MqttBroker           string   `hcl:"mqtt_broker"`
	MqttLogDebug         bool     `hcl:"mqtt_log_debug"`
	MqttUsername         string   `hcl:"mqtt_username"`
	MqttPassword         string   `hcl:"mqtt_password"` // secret
	NetworkTimeoutSec    int      `hcl:"network_timeout_sec"`
	TopicPrefix          string   `hcl:"topic_prefix"`
}

func (self *Config) Interval() time.Duration {
	return helpers.IntMillisecondDefault(self.IntervalMs, DefaultInterval)
}

func (self *Config) NetworkTimeout() time.Duration {
	d := helpers.IntSecondDefault(self.NetworkTimeoutSec, defaultNetworkTimeout)
	if d < 1*time.Second {
		d = 1 * time.Second
	}
	return d
}

func (self *Config) Topic(suffix string) string {
	prefix := self.TopicPrefix
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return prefix + "/" + suffix
}
