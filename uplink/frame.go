// Package uplink builds and checks the fixed 78-byte ground-to-range report frame.
//
// Layout, little-endian float32:
//   0..3   magic FF FF 54 52
//   4      team id
//   5      counter, low byte
//   6..21  vehicle baro altitude, gps altitude, latitude, longitude
//   22..33 payload altitude, latitude, longitude
//   34..45 reserved, zero
//   46..57 gyro x y z
//   58..69 accel x y z
//   70..73 angle
//   74     status, low byte
//   75     checksum = sum(bytes 4..74) mod 256
//   76..77 footer 0D 0A
package uplink

import (
	"encoding/binary"
	"encoding/hex"
	"math"
	"strings"

	"github.com/juju/errors"
	"github.com/temoto/groundstation/telemetry"
)

const Length = 78

const (
	OffsetMagic        = 0
	OffsetTeam         = 4
	OffsetCounter      = 5
	OffsetBaroAltitude = 6
	OffsetGPSAltitude  = 10
	OffsetLatitude     = 14
	OffsetLongitude    = 18
	OffsetPayloadAlt   = 22
	OffsetPayloadLat   = 26
	OffsetPayloadLon   = 30
	OffsetReserved     = 34
	ReservedLength     = 12
	OffsetGyroX        = 46
	OffsetGyroY        = 50
	OffsetGyroZ        = 54
	OffsetAccelX       = 58
	OffsetAccelY       = 62
	OffsetAccelZ       = 66
	OffsetAngle        = 70
	OffsetStatus       = 74
	OffsetChecksum     = 75
	OffsetFooter       = 76
)

var (
	Magic  = [4]byte{0xff, 0xff, 0x54, 0x52}
	Footer = [2]byte{0x0d, 0x0a}
)

type Frame [Length]byte

type floatSlot struct {
	offset int
	field  string
}

var vehicleSlots = []floatSlot{
	{OffsetBaroAltitude, telemetry.FieldBaroAltitude},
	{OffsetGPSAltitude, telemetry.FieldGPSAltitude},
	{OffsetLatitude, telemetry.FieldLatitude},
	{OffsetLongitude, telemetry.FieldLongitude},
	{OffsetGyroX, telemetry.FieldGyroX},
	{OffsetGyroY, telemetry.FieldGyroY},
	{OffsetGyroZ, telemetry.FieldGyroZ},
	{OffsetAccelX, telemetry.FieldAccelX},
	{OffsetAccelY, telemetry.FieldAccelY},
	{OffsetAccelZ, telemetry.FieldAccelZ},
	{OffsetAngle, telemetry.FieldAngle},
}

var payloadSlots = []floatSlot{
	{OffsetPayloadAlt, telemetry.FieldAltitude},
	{OffsetPayloadLat, telemetry.FieldLatitude},
	{OffsetPayloadLon, telemetry.FieldLongitude},
}

// Build encodes frame. Missing map fields encode as zero, nil maps are fine.
// Maps may use canonical or flight computer keys, canonical wins.
// Counter and status are truncated to low byte.
func Build(teamID uint8, counter int, vehicle, payload telemetry.FieldMap) Frame {
	vehicle = telemetry.VehicleFromMap(vehicle).FieldMap()
	payload = telemetry.PayloadFromMap(payload).FieldMap()
	var f Frame
	copy(f[OffsetMagic:], Magic[:])
	f[OffsetTeam] = teamID
	f[OffsetCounter] = byte(counter)
	for _, s := range vehicleSlots {
		f.putFloat(s.offset, vehicle.Get(s.field))
	}
	for _, s := range payloadSlots {
		f.putFloat(s.offset, payload.Get(s.field))
	}
	f[OffsetStatus] = byte(int64(vehicle.Get(telemetry.FieldStatus)))
	f[OffsetChecksum] = Checksum(f[OffsetTeam : OffsetStatus+1])
	copy(f[OffsetFooter:], Footer[:])
	return f
}

// BuildSnapshot uses vehicle counter as frame counter.
func BuildSnapshot(teamID uint8, s telemetry.Snapshot) Frame {
	return Build(teamID, int(s.Vehicle.Counter), s.Vehicle.FieldMap(), s.Payload.FieldMap())
}

func Checksum(b []byte) byte {
	var sum byte
	for _, x := range b {
		sum += x
	}
	return sum
}

func (self *Frame) putFloat(offset int, x float64) {
	binary.LittleEndian.PutUint32(self[offset:offset+4], math.Float32bits(float32(x)))
}

func (self *Frame) float(offset int) float64 {
	return float64(math.Float32frombits(binary.LittleEndian.Uint32(self[offset : offset+4])))
}

func (self Frame) Bytes() []byte { return self[:] }

func (self Frame) Hex() string { return hex.EncodeToString(self[:]) }

// Format groups hex by 4 bytes.
func (self Frame) Format() string {
	h := self.Hex()
	b := strings.Builder{}
	b.Grow(len(h) + len(h)/8)
	for i := 0; i < len(h); i += 8 {
		if i > 0 {
			b.WriteByte(' ')
		}
		end := i + 8
		if end > len(h) {
			end = len(h)
		}
		b.WriteString(h[i:end])
	}
	return b.String()
}

// Decoded is frame content. Vehicle.Counter and Status hold frame low bytes,
// Vehicle.Speed and payload environment fields are not carried.
type Decoded struct {
	TeamID  uint8
	Counter uint8
	Vehicle telemetry.VehicleTelemetry
	Payload telemetry.PayloadTelemetry
}

// Decode validates length, magic, footer, checksum.
func Decode(b []byte) (Decoded, error) {
	var d Decoded
	if len(b) != Length {
		return d, errors.NotValidf("frame length=%d expected=%d", len(b), Length)
	}
	var f Frame
	copy(f[:], b)
	if !(f[0] == Magic[0] && f[1] == Magic[1] && f[2] == Magic[2] && f[3] == Magic[3]) {
		return d, errors.NotValidf("frame magic=%x", f[OffsetMagic:OffsetMagic+4])
	}
	if f[OffsetFooter] != Footer[0] || f[OffsetFooter+1] != Footer[1] {
		return d, errors.NotValidf("frame footer=%x", f[OffsetFooter:])
	}
	if sum := Checksum(f[OffsetTeam : OffsetStatus+1]); sum != f[OffsetChecksum] {
		return d, errors.NotValidf("frame checksum received=%02x actual=%02x", f[OffsetChecksum], sum)
	}
	d.TeamID = f[OffsetTeam]
	d.Counter = f[OffsetCounter]
	vm := telemetry.FieldMap{
		telemetry.FieldCounter: float64(f[OffsetCounter]),
		telemetry.FieldStatus:  float64(f[OffsetStatus]),
	}
	for _, s := range vehicleSlots {
		vm[s.field] = f.float(s.offset)
	}
	pm := telemetry.FieldMap{}
	for _, s := range payloadSlots {
		pm[s.field] = f.float(s.offset)
	}
	d.Vehicle = telemetry.VehicleFromMap(vm)
	d.Payload = telemetry.PayloadFromMap(pm)
	return d, nil
}

// DecodeHex accepts hex with optional whitespace, as printed by Format.
func DecodeHex(s string) (Decoded, error) {
	s = strings.Join(strings.Fields(s), "")
	b, err := hex.DecodeString(s)
	if err != nil {
		return Decoded{}, errors.NewNotValid(err, "frame hex")
	}
	return Decode(b)
}
