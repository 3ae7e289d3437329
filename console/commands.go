package console

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/juju/errors"
	"github.com/skip2/go-qrcode"
	"github.com/temoto/groundstation/engine"
	"github.com/temoto/groundstation/hardware/serial"
	"github.com/temoto/groundstation/telemetry"
	"github.com/temoto/groundstation/uplink"
	"gopkg.in/yaml.v3"
)

type command struct {
	args     string
	help     string
	min, max int
	build    func(args []string) (engine.Doer, error)
}

func (self *Console) builtins() map[string]command {
	return map[string]command{
		"ports":      {help: "list serial ports", build: self.cmdPorts},
		"connect":    {args: "CH [PORT] [BAUD]", help: "open channel", min: 1, max: 3, build: self.cmdConnect},
		"disconnect": {args: "CH", help: "close channel", min: 1, max: 1, build: self.cmdDisconnect},
		"status":     {help: "links and counters", build: self.cmdStatus},
		"show":       {help: "latest snapshot", build: self.cmdShow},
		"send":       {args: "[TEAM]", help: "send uplink frame", max: 1, build: self.cmdSend},
		"decode":     {args: "HEX", help: "decode uplink frame", min: 1, max: 1, build: self.cmdDecode},
		"recover":    {help: "vehicle position QR code", build: self.cmdRecover},
	}
}

func (self *Console) printf(format string, args ...interface{}) {
	fmt.Fprintf(self.out, format, args...)
}

func (self *Console) cmdPorts(args []string) (engine.Doer, error) {
	return engine.Func0{Name: "ports", F: func() error {
		ports := self.g.Serial.ListAvailablePorts()
		if len(ports) == 0 {
			self.printf("no serial ports found\n")
		}
		for _, p := range ports {
			self.printf("%s\n", p)
		}
		return nil
	}}, nil
}

func (self *Console) cmdConnect(args []string) (engine.Doer, error) {
	name, err := serial.ParseChannelName(args[0])
	if err != nil {
		return nil, err
	}
	port, baud := "", 0
	if len(args) >= 2 {
		port = args[1]
	}
	if len(args) >= 3 {
		if baud, err = strconv.Atoi(args[2]); err != nil || baud <= 0 {
			return nil, errors.NotValidf("baud=%s", args[2])
		}
	}
	return engine.Func0{Name: "connect " + string(name), F: func() error {
		if err := self.s.Connect(name, port, baud); err != nil {
			return err
		}
		st, _ := self.g.Serial.Stat(name)
		self.printf("%s connected port=%s baud=%d\n", name, st.Port, st.Baud)
		return nil
	}}, nil
}

func (self *Console) cmdDisconnect(args []string) (engine.Doer, error) {
	name, err := serial.ParseChannelName(args[0])
	if err != nil {
		return nil, err
	}
	return engine.Func0{Name: "disconnect " + string(name), F: func() error {
		if err := self.s.Disconnect(name); err != nil {
			return err
		}
		self.printf("%s disconnected\n", name)
		return nil
	}}, nil
}

func (self *Console) cmdStatus(args []string) (engine.Doer, error) {
	return engine.Func0{Name: "status", F: func() error {
		self.printf("%s", self.Status())
		return nil
	}}, nil
}

// Status renders links, store and station counters for operator.
func (self *Console) Status() string {
	var b strings.Builder
	for _, st := range self.g.LinkStats() {
		if !st.Connected {
			fmt.Fprintf(&b, "%-8s offline\n", st.Name)
			continue
		}
		fmt.Fprintf(&b, "%-8s %s@%d since %s in=%s out=%s lines=%s decode_errors=%d\n",
			st.Name, st.Port, st.Baud, humanize.Time(st.ConnectedAt),
			humanize.Bytes(st.BytesIn), humanize.Bytes(st.BytesOut),
			humanize.Comma(int64(st.Lines)), st.DecodeErrors)
	}
	ss := self.g.Store.Stat()
	section := func(name string, s telemetry.SectionStat) {
		fmt.Fprintf(&b, "%-8s accepted=%s failed=%s updated %s\n",
			name, humanize.Comma(int64(s.Accepted)), humanize.Comma(int64(s.Failed)), ago(s.Updated))
	}
	section("vehicle", ss.Vehicle)
	section("payload", ss.Payload)
	section("aux", ss.Aux)
	snap := self.g.Store.Snapshot()
	fmt.Fprintf(&b, "flight   %s counter=%d seq=%d policy=%s\n", snap.Vehicle.Status, snap.Vehicle.Counter, ss.Seq, self.g.Store.Policy())
	sst := self.s.Stat()
	fmt.Fprintf(&b, "station  ticks=%s lines=%s rejected=%s uplink_sent=%d uplink_failed=%d\n",
		humanize.Comma(int64(sst.Ticks)), humanize.Comma(int64(sst.Lines)), humanize.Comma(int64(sst.Rejected)),
		sst.UplinkSent, sst.UplinkFailed)
	if self.g.Relay != nil {
		rst := self.g.Relay.Stat()
		fmt.Fprintf(&b, "relay    session=%s published=%d dropped=%d errors=%d\n",
			self.g.Relay.Session(), rst.Published, rst.Dropped, rst.Errors)
		if bst, ok := self.g.Relay.BrokerStat(); ok {
			fmt.Fprintf(&b, "broker   clients=%d subs=%d retained=%d routed=%s denied=%d\n",
				bst.Clients, bst.Subs, bst.Retained, humanize.Comma(int64(bst.Routed)), bst.Denied)
		}
	}
	if err := self.g.LastError(); err != nil {
		fmt.Fprintf(&b, "error    %v\n", err)
	}
	return b.String()
}

type snapshotView struct {
	Seq     uint64             `yaml:"seq"`
	Status  string             `yaml:"status"`
	Vehicle telemetry.FieldMap `yaml:"vehicle"`
	Payload telemetry.FieldMap `yaml:"payload"`
	Aux     telemetry.FieldMap `yaml:"aux"`
}

func (self *Console) cmdShow(args []string) (engine.Doer, error) {
	return engine.Func0{Name: "show", F: func() error {
		snap, seq := self.g.Store.SnapshotSeq()
		b, err := yaml.Marshal(snapshotView{
			Seq:     seq,
			Status:  snap.Vehicle.Status.String(),
			Vehicle: snap.Vehicle.FieldMap(),
			Payload: snap.Payload.FieldMap(),
			Aux:     snap.Aux.FieldMap(),
		})
		if err != nil {
			return errors.Annotate(err, "show")
		}
		_, err = self.out.Write(b)
		return err
	}}, nil
}

func (self *Console) cmdSend(args []string) (engine.Doer, error) {
	team := -1
	if len(args) == 1 {
		x, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return nil, errors.NotValidf("team=%s", args[0])
		}
		team = int(x)
	}
	return engine.Func0{Name: "send", F: func() error {
		frame, err := self.s.SendUplink(team)
		if err != nil {
			return err
		}
		self.printf("sent %s\n", frame.Format())
		return nil
	}}, nil
}

type frameView struct {
	TeamID  uint8              `yaml:"team"`
	Counter uint8              `yaml:"counter"`
	Status  string             `yaml:"status"`
	Vehicle telemetry.FieldMap `yaml:"vehicle"`
	Payload telemetry.FieldMap `yaml:"payload"`
}

func (self *Console) cmdDecode(args []string) (engine.Doer, error) {
	d, err := uplink.DecodeHex(args[0])
	if err != nil {
		return nil, err
	}
	return engine.Func0{Name: "decode", F: func() error {
		b, err := yaml.Marshal(frameView{
			TeamID:  d.TeamID,
			Counter: d.Counter,
			Status:  d.Vehicle.Status.String(),
			Vehicle: d.Vehicle.FieldMap(),
			Payload: d.Payload.FieldMap(),
		})
		if err != nil {
			return errors.Annotate(err, "decode")
		}
		_, err = self.out.Write(b)
		return err
	}}, nil
}

// RecoveryURI is RFC 5870 geo URI of last vehicle position.
func RecoveryURI(v telemetry.VehicleTelemetry) string {
	return fmt.Sprintf("geo:%.6f,%.6f,%.1f", v.Latitude, v.Longitude, v.GPSAltitude)
}

func (self *Console) cmdRecover(args []string) (engine.Doer, error) {
	return engine.Func0{Name: "recover", F: func() error {
		vst := self.g.Store.Stat().Vehicle
		if vst.Accepted == 0 {
			return errors.NotFoundf("vehicle position, no vehicle telemetry received")
		}
		uri := RecoveryURI(self.g.Store.Snapshot().Vehicle)
		qr, err := qrcode.New(uri, qrcode.Medium)
		if err != nil {
			return errors.Annotate(err, "recover QR")
		}
		self.printf("%s%s\nlast update %s\n", qr.ToString(false), uri, ago(vst.Updated))
		return nil
	}}, nil
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}

func sortedKeys(m map[string]command) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
