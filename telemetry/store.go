package telemetry

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
)

// FailurePolicy decides what a failed parse does to the stored record.
type FailurePolicy uint8

const (
	// PolicyReset replaces record with zero value, display shows zeros after garbage.
	PolicyReset FailurePolicy = iota
	// PolicyKeep keeps last good record.
	PolicyKeep
)

func (p FailurePolicy) String() string {
	switch p {
	case PolicyReset:
		return "reset"
	case PolicyKeep:
		return "keep"
	}
	return "unknown"
}

// ParseFailurePolicy accepts "reset", "keep" and empty string (reset).
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reset":
		return PolicyReset, nil
	case "keep":
		return PolicyKeep, nil
	}
	return PolicyReset, errors.NotValidf("failure_policy=%q", s)
}

type SectionStat struct {
	Accepted uint64
	Failed   uint64
	Updated  time.Time // zero until first update
}

type StoreStat struct {
	Vehicle SectionStat
	Payload SectionStat
	Aux     SectionStat
	Seq     uint64
}

type sectionCounters struct {
	accepted uint64
	failed   uint64
	updated  atomic_clock.Clock
}

func (self *sectionCounters) stat() SectionStat {
	s := SectionStat{
		Accepted: atomic.LoadUint64(&self.accepted),
		Failed:   atomic.LoadUint64(&self.failed),
	}
	if !self.updated.IsZero() {
		s.Updated = time.Now().Add(-atomic_clock.Since(&self.updated))
	}
	return s
}

// Store holds latest snapshot. Single writer (acquisition loop) and any
// number of readers, readers always get a copy.
type Store struct {
	vehicle sectionCounters // atomic align
	payload sectionCounters
	aux     sectionCounters
	mu      sync.RWMutex
	snap    Snapshot
	seq     uint64
	policy  FailurePolicy
}

func NewStore(policy FailurePolicy) *Store {
	return &Store{policy: policy}
}

func (self *Store) Policy() FailurePolicy { return self.policy }

func (self *Store) UpdateVehicle(v VehicleTelemetry) {
	self.mu.Lock()
	self.snap.Vehicle = v
	self.seq++
	self.mu.Unlock()
	self.vehicle.updated.SetNow()
}

func (self *Store) UpdatePayload(p PayloadTelemetry) {
	self.mu.Lock()
	self.snap.Payload = p
	self.seq++
	self.mu.Unlock()
	self.payload.updated.SetNow()
}

func (self *Store) UpdateAux(a AuxSensorReading) {
	self.mu.Lock()
	self.snap.Aux = a
	self.seq++
	self.mu.Unlock()
	self.aux.updated.SetNow()
}

// ApplyVehicle stores parse result according to failure policy.
// Structured text without vehicle section changes nothing.
// Returns true if stored record was replaced.
func (self *Store) ApplyVehicle(r VehicleResult) bool {
	if r.Err == nil {
		atomic.AddUint64(&self.vehicle.accepted, 1)
		self.UpdateVehicle(r.Record)
		return true
	}
	if r.Absent() {
		return false
	}
	atomic.AddUint64(&self.vehicle.failed, 1)
	if self.policy == PolicyReset {
		self.UpdateVehicle(VehicleTelemetry{})
		return true
	}
	return false
}

func (self *Store) ApplyPayload(r PayloadResult) bool {
	if r.Err == nil {
		atomic.AddUint64(&self.payload.accepted, 1)
		self.UpdatePayload(r.Record)
		return true
	}
	if r.Absent() {
		return false
	}
	atomic.AddUint64(&self.payload.failed, 1)
	if self.policy == PolicyReset {
		self.UpdatePayload(PayloadTelemetry{})
		return true
	}
	return false
}

func (self *Store) ApplyAux(r AuxResult) bool {
	if r.Err == nil {
		atomic.AddUint64(&self.aux.accepted, 1)
		self.UpdateAux(r.Record)
		return true
	}
	if r.Absent() {
		return false
	}
	atomic.AddUint64(&self.aux.failed, 1)
	if self.policy == PolicyReset {
		self.UpdateAux(AuxSensorReading{})
		return true
	}
	return false
}

// Snapshot returns a copy, later updates never show through it.
func (self *Store) Snapshot() Snapshot {
	self.mu.RLock()
	s := self.snap
	self.mu.RUnlock()
	return s
}

// Seq increments on every update, readers compare it to skip unchanged snapshots.
func (self *Store) Seq() uint64 {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.seq
}

// SnapshotSeq returns snapshot together with matching sequence number.
func (self *Store) SnapshotSeq() (Snapshot, uint64) {
	self.mu.RLock()
	defer self.mu.RUnlock()
	return self.snap, self.seq
}

func (self *Store) Stat() StoreStat {
	return StoreStat{
		Vehicle: self.vehicle.stat(),
		Payload: self.payload.stat(),
		Aux:     self.aux.stat(),
		Seq:     self.Seq(),
	}
}
