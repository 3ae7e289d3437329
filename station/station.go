// Package station runs the acquisition loop: one periodic tick reads
// complete lines from telemetry channels, parses them and updates the store.
// Uplink frames are sent only on operator request.
package station

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/groundstation/hardware/serial"
	"github.com/temoto/groundstation/helpers"
	"github.com/temoto/groundstation/log2"
	"github.com/temoto/groundstation/state"
	"github.com/temoto/groundstation/telemetry"
	"github.com/temoto/groundstation/uplink"
)

type Stat struct {
	Ticks        uint64
	Lines        uint64
	Rejected     uint64
	UplinkSent   uint64
	UplinkFailed uint64
}

type Station struct {
	stat Stat // atomic align

	alive        *alive.Alive
	g            *state.Global
	log          *log2.Log
	interval     time.Duration
	linesPerTick int
	started      uint32
}

const ContextKey = "run/station"

func GetStation(ctx context.Context) *Station {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(errors.Errorf("context['%s'] is nil", ContextKey))
	}
	if s, ok := v.(*Station); ok {
		return s
	}
	panic(errors.Errorf("context['%s'] expected type *Station actual=%#v", ContextKey, v))
}

func New(g *state.Global) *Station {
	log := g.Log.Clone(log2.LInfo)
	if g.Config.Station.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	return &Station{
		alive:        alive.NewAlive(),
		g:            g,
		log:          log,
		interval:     g.Config.PollInterval(),
		linesPerTick: g.Config.LinesPerTick(),
	}
}

// Start runs polling loop in background, stopped by Stop or Global.Alive.
func (self *Station) Start() {
	if !atomic.CompareAndSwapUint32(&self.started, 0, 1) {
		return
	}
	self.alive.Add(1)
	go helpers.AliveSub(self.g.Alive, self.alive)
	go self.loop()
}

// Stop ends polling loop, waits for it, then closes all channels.
func (self *Station) Stop() {
	self.alive.Stop()
	self.alive.Wait()
	if err := self.g.Serial.CloseAll(); err != nil {
		self.g.Error(err, "station stop")
	}
	self.g.PublishLink()
	self.log.Debugf("station stopped")
}

func (self *Station) SetLogLevel(level log2.Level) { self.log.SetLevel(level) }

func (self *Station) Stat() Stat {
	return Stat{
		Ticks:        atomic.LoadUint64(&self.stat.Ticks),
		Lines:        atomic.LoadUint64(&self.stat.Lines),
		Rejected:     atomic.LoadUint64(&self.stat.Rejected),
		UplinkSent:   atomic.LoadUint64(&self.stat.UplinkSent),
		UplinkFailed: atomic.LoadUint64(&self.stat.UplinkFailed),
	}
}

func (self *Station) loop() {
	defer self.alive.Done()
	tmr := time.NewTicker(self.interval)
	defer tmr.Stop()
	stopch := self.alive.StopChan()
	for {
		select {
		case <-tmr.C:
			self.Tick()
		case <-stopch:
			return
		}
	}
}

// Tick performs one bounded non-blocking poll of every connected telemetry channel.
// Returns count of lines consumed.
func (self *Station) Tick() int {
	atomic.AddUint64(&self.stat.Ticks, 1)
	total := 0
	for _, name := range []serial.ChannelName{serial.ChannelVehicle, serial.ChannelPayload} {
		if !self.g.Serial.IsConnected(name) {
			continue
		}
		for i := 0; i < self.linesPerTick; i++ {
			line, ok := self.g.Serial.ReadLine(name)
			if !ok {
				break
			}
			total++
			self.Ingest(name, line)
		}
	}
	if total != 0 {
		atomic.AddUint64(&self.stat.Lines, uint64(total))
		snap, seq := self.g.Store.SnapshotSeq()
		self.g.Relay.Offer(seq, snap)
	}
	return total
}

// Ingest parses one line received on channel and applies it to the store.
// Vehicle structured text may also carry auxiliary sensor section.
func (self *Station) Ingest(name serial.ChannelName, line string) {
	store := self.g.Store
	switch name {
	case serial.ChannelVehicle:
		if !telemetry.IsStructured(line) {
			r := telemetry.ParseVehicle(line)
			self.reject(name, r.Err)
			store.ApplyVehicle(r)
			return
		}
		doc, err := telemetry.ParseDocument(line)
		if err != nil {
			r := telemetry.VehicleResult{Err: errors.Annotate(err, "vehicle")}
			self.reject(name, r.Err)
			store.ApplyVehicle(r)
			return
		}
		if !doc.Vehicle.Absent() {
			self.reject(name, doc.Vehicle.Err)
		}
		store.ApplyVehicle(doc.Vehicle)
		if !doc.Aux.Absent() {
			self.reject(name, doc.Aux.Err)
		}
		store.ApplyAux(doc.Aux)

	case serial.ChannelPayload:
		r := telemetry.ParsePayload(line)
		if !r.Absent() {
			self.reject(name, r.Err)
		}
		store.ApplyPayload(r)

	default:
		self.log.Debugf("station ignore line channel=%s", name)
	}
}

func (self *Station) reject(name serial.ChannelName, err error) {
	if err == nil {
		return
	}
	atomic.AddUint64(&self.stat.Rejected, 1)
	self.log.Debugf("station channel=%s rejected line: %v", name, err)
}

// Connect binds channel to port. Empty port and zero baud take configured defaults.
func (self *Station) Connect(name serial.ChannelName, port string, baud int) error {
	cc := self.g.Config.Channel(name)
	if port == "" {
		port = cc.Port
	}
	if baud <= 0 {
		baud = cc.Baud
	}
	err := self.g.Serial.Connect(port, baud, name)
	if err != nil {
		self.log.Errorf("station connect channel=%s port=%s baud=%d err=%v", name, port, baud, err)
	} else {
		self.log.Infof("station connected channel=%s port=%s baud=%d", name, port, baud)
	}
	self.g.PublishLink()
	return err
}

func (self *Station) Disconnect(name serial.ChannelName) error {
	err := self.g.Serial.Disconnect(name)
	if err != nil {
		self.log.Errorf("station disconnect channel=%s err=%v", name, err)
	} else {
		self.log.Infof("station disconnected channel=%s", name)
	}
	self.g.PublishLink()
	return err
}

// Autoconnect connects channels configured with autoconnect=true.
func (self *Station) Autoconnect() error {
	errs := make([]error, 0, len(serial.Channels))
	for _, name := range serial.Channels {
		cc := self.g.Config.Channel(name)
		if !cc.Autoconnect {
			continue
		}
		if err := self.Connect(name, "", 0); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) != 0 {
		return errors.Annotatef(errs[0], "autoconnect failed=%d", len(errs))
	}
	return nil
}

// SendUplink encodes latest snapshot and writes it to uplink channel.
// Negative teamID means configured station.team_id.
// Write failure is returned once, never retried.
func (self *Station) SendUplink(teamID int) (uplink.Frame, error) {
	if teamID < 0 {
		teamID = self.g.Config.Station.TeamID
	}
	if teamID > 0xff {
		return uplink.Frame{}, errors.NotValidf("team_id=%d", teamID)
	}
	frame := uplink.BuildSnapshot(uint8(teamID), self.g.Store.Snapshot())
	if err := self.g.Serial.WriteBytes(serial.ChannelUplink, frame.Bytes()); err != nil {
		atomic.AddUint64(&self.stat.UplinkFailed, 1)
		err = errors.Annotate(err, "uplink send")
		self.log.Errorf("station %v", err)
		return frame, err
	}
	atomic.AddUint64(&self.stat.UplinkSent, 1)
	self.log.Debugf("station uplink sent team=%d frame=%s", teamID, frame.Hex())
	return frame, nil
}
