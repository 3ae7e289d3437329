package state

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/groundstation/hardware/serial"
	"github.com/temoto/groundstation/log2"
	"github.com/temoto/groundstation/telemetry"
)

func TestReadConfig(t *testing.T) {
	t.Parallel()

	type Case struct {
		name      string
		input     string
		check     func(testing.TB, context.Context)
		expectErr string
	}
	cases := []Case{
		{"empty", "", func(t testing.TB, ctx context.Context) {
			g := GetGlobal(ctx)
			assert.Equal(t, DefaultPollInterval, g.Config.PollInterval())
			assert.Equal(t, DefaultLinesPerTick, g.Config.LinesPerTick())
			assert.Equal(t, telemetry.PolicyReset, g.Store.Policy())
			cc := g.Config.Channel(serial.ChannelVehicle)
			assert.Equal(t, "", cc.Port)
			assert.Equal(t, serial.DefaultBaud, cc.Baud)
			assert.Nil(t, g.Relay)
		}, ""},

		{"station",
			`station { poll_interval_ms = 50 lines_per_tick = 3 failure_policy = "keep" team_id = 42 }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 50*time.Millisecond, g.Config.PollInterval())
				assert.Equal(t, 3, g.Config.LinesPerTick())
				assert.Equal(t, telemetry.PolicyKeep, g.Store.Policy())
				assert.Equal(t, 42, g.Config.Station.TeamID)
			},
			"",
		},

		{"channels", `
channel "vehicle" { port = "/dev/ttyUSB0" }
channel "Uplink" { port = "/dev/ttyUSB2" baud = 19200 codepage = "windows-1251" }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				v := g.Config.Channel(serial.ChannelVehicle)
				assert.Equal(t, "/dev/ttyUSB0", v.Port)
				assert.Equal(t, serial.DefaultBaud, v.Baud)
				u := g.Config.Channel(serial.ChannelUplink)
				assert.Equal(t, "uplink", u.Name)
				assert.Equal(t, 19200, u.Baud)
				assert.Equal(t, "windows-1251", u.Codepage)
			},
			"",
		},

		{"aliases", `
alias "preflight" { commands = "connect vehicle; status" }
alias "abort" { commands = "disconnect vehicle" }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, []string{"abort", "preflight"}, g.Config.AliasNames())
				assert.Equal(t, "connect vehicle; status", g.Config.Aliases["preflight"].Commands)
			},
			"",
		},

		{"serial-relay", `
serial { read_timeout_ms = 250 sysfs_root = "/tmp/sys" }
relay {
  enable = false
  topic_prefix = "range7"
  interval_ms = 500
  broker_listen = ["tcp://0.0.0.0:1883", "unix:///run/groundstation.sock"]
}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 250*time.Millisecond, g.Config.Serial.ReadTimeout())
				assert.Equal(t, "/tmp/sys", g.Config.Serial.SysfsRoot)
				assert.Equal(t, "range7/telemetry", g.Config.Relay.Topic("telemetry"))
				assert.Equal(t, 500*time.Millisecond, g.Config.Relay.Interval())
				assert.Equal(t, []string{"tcp://0.0.0.0:1883", "unix:///run/groundstation.sock"}, g.Config.Relay.BrokerListen)
			},
			"",
		},

		{"include-normalize", `
station { team_id = 1 }
include "./empty" {}`,
			nil, ""},

		{"include-optional", `
include "team-7" {}
include "non-exist" { optional = true }`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 7, g.Config.Station.TeamID)
			}, ""},

		{"include-overwrites", `
station { team_id = 1 }
channel "vehicle" { port = "/dev/ttyS0" baud = 115200 }
include "team-7" {}`,
			func(t testing.TB, ctx context.Context) {
				g := GetGlobal(ctx)
				assert.Equal(t, 7, g.Config.Station.TeamID)
				v := g.Config.Channel(serial.ChannelVehicle)
				assert.Equal(t, "/dev/ttyACM0", v.Port)
				assert.Equal(t, serial.DefaultBaud, v.Baud)
			}, ""},

		{"error-syntax", `hello`, nil, "key 'hello' expected start of object"},
		{"error-include-loop", `include "include-loop" {}`, nil, "config include loop: from=include-loop include=include-loop"},
		{"error-include-required", `include "non-exist" {}`, nil, "config required name=non-exist"},
		{"error-channel", `channel "telemetry" { port = "/dev/null" }`, nil, `channel="telemetry" not valid`},
		{"error-policy", `station { failure_policy = "ignore" }`, nil, "station.failure_policy"},
		{"error-team", `station { team_id = 300 }`, nil, "station.team_id=300 not valid"},
		{"error-alias", `alias "empty" { commands = " " }`, nil, "alias=empty empty commands not valid"},
		{"error-codepage", `channel "vehicle" { codepage = "klingon-1" }`, nil, "klingon-1"},
	}
	mkCheck := func(c Case) func(*testing.T) {
		return func(t *testing.T) {
			t.Parallel()
			log := log2.NewTest(t, log2.LDebug)
			ctx, g := NewContext(log)
			g.Opener = serial.NewMockOpener()
			defer g.Stop()

			fs := NewMockFullReader(map[string]string{
				"test-inline":  c.input,
				"empty":        "",
				"team-7":       `station { team_id = 7 } channel "vehicle" { port = "/dev/ttyACM0" }`,
				"error-syntax": "hello",
				"include-loop": `include "include-loop" {}`,
			})
			cfg, err := ReadConfig(log, fs, "test-inline")
			if err == nil {
				err = g.Init(ctx, cfg)
			}
			if c.expectErr == "" {
				if err != nil {
					t.Fatalf("error expected=nil actual='%v'", errors.ErrorStack(err))
				}
				if c.check != nil {
					c.check(t, ctx)
				}
			} else {
				require.Error(t, err)
				if !strings.Contains(err.Error(), c.expectErr) {
					t.Fatalf("error expected='%s' actual='%v'", c.expectErr, err)
				}
			}
		}
	}
	for _, c := range cases {
		t.Run(c.name, mkCheck(c))
	}
}

func TestNewTestContext(t *testing.T) {
	t.Parallel()

	ctx, g := NewTestContext(t, `channel "vehicle" { port = "/dev/mock0" }`)
	opener := GetMockOpener(ctx)
	require.NotNil(t, opener.Stream("/dev/mock0"))
	cc := g.Config.Channel(serial.ChannelVehicle)
	require.NoError(t, g.Serial.Connect(cc.Port, cc.Baud, serial.ChannelVehicle))

	stats := g.LinkStats()
	require.Equal(t, len(serial.Channels), len(stats))
	assert.True(t, stats[0].Connected)
	assert.False(t, stats[1].Connected)

	g.Error(errors.New("boom"), "op=%s", "test")
	assert.Contains(t, g.LastError().Error(), "op=test: boom")

	g.Stop()
	assert.False(t, g.Serial.IsConnected(serial.ChannelVehicle))
	g.Stop()
}

func TestFunctionalBundled(t *testing.T) {
	// not Parallel
	t.Logf("this test needs OS open|read|stat access to file `../groundstation.hcl`")

	log := log2.NewTest(t, log2.LDebug)
	cfg := MustReadConfig(log, NewOsFullReader(), "../groundstation.hcl")
	assert.Equal(t, 42, cfg.Station.TeamID)
	assert.Equal(t, "/dev/ttyUSB0", cfg.Channel(serial.ChannelVehicle).Port)
	assert.Equal(t, 19200, cfg.Channel(serial.ChannelUplink).Baud)
	assert.Contains(t, cfg.AliasNames(), "preflight")
}
