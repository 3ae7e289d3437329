// Package telemetry defines vehicle, payload and auxiliary sensor records,
// parsers from channel text and the live snapshot store.
//
// Records are plain values. Field access by name goes through static
// per-type field tables (fields.go), no reflection.
package telemetry

import "fmt"

// Status is the discrete flight phase reported by the vehicle.
type Status int

const (
	StatusReady Status = iota
	StatusAwaitingLaunch
	StatusAscending
	StatusDescending
	StatusParachuteDeployed
	StatusLanded
)

const StatusUnknownLabel = "unknown"

var statusLabels = [...]string{
	StatusReady:             "ready",
	StatusAwaitingLaunch:    "awaiting-launch",
	StatusAscending:         "ascending",
	StatusDescending:        "descending",
	StatusParachuteDeployed: "parachute-deployed",
	StatusLanded:            "landed",
}

func (s Status) Known() bool { return s >= StatusReady && s <= StatusLanded }

func (s Status) String() string {
	if !s.Known() {
		return StatusUnknownLabel
	}
	return statusLabels[s]
}

// VehicleTelemetry is one frame from the flight computer.
// Counter is expected to be non-decreasing per channel, parser does not enforce it.
type VehicleTelemetry struct {
	Counter      uint32
	BaroAltitude float64 // m
	GPSAltitude  float64 // m
	Latitude     float64 // decimal degrees
	Longitude    float64 // decimal degrees
	Speed        float64 // m/s
	GyroX        float64
	GyroY        float64
	GyroZ        float64
	AccelX       float64
	AccelY       float64
	AccelZ       float64
	Angle        float64
	Status       Status
}

func (v VehicleTelemetry) String() string {
	return fmt.Sprintf("counter=%d alt=%.2f gps_alt=%.2f pos=%.6f,%.6f speed=%.2f status=%s",
		v.Counter, v.BaroAltitude, v.GPSAltitude, v.Latitude, v.Longitude, v.Speed, v.Status.String())
}

// PayloadTelemetry is one frame from the payload (science) module.
type PayloadTelemetry struct {
	Altitude    float64 // m
	Latitude    float64
	Longitude   float64
	Pressure    float64 // hPa
	Temperature float64 // °C
	Humidity    float64 // %
}

func (p PayloadTelemetry) String() string {
	return fmt.Sprintf("alt=%.2f pos=%.6f,%.6f pressure=%.2f temp=%.2f humidity=%.1f",
		p.Altitude, p.Latitude, p.Longitude, p.Pressure, p.Temperature, p.Humidity)
}

// AuxSensorReading is BMP280 style pressure/temperature/altitude reading.
// Only structured text carries it.
type AuxSensorReading struct {
	Temperature float64
	Pressure    float64
	Altitude    float64
}

// Snapshot is the latest accepted record per channel.
// All fields are values, plain assignment is a full copy.
type Snapshot struct {
	Vehicle VehicleTelemetry
	Payload PayloadTelemetry
	Aux     AuxSensorReading
}
