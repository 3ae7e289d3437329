// Package relay_api holds messages published by the telemetry relay.
// Wire schema for other consumers is relay.proto.
package relay_api

import (
	"github.com/temoto/groundstation/telemetry"
)

const (
	TopicTelemetry = "telemetry"
	TopicLink      = "link"
)

func NewVehicle(v telemetry.VehicleTelemetry) *Vehicle {
	return &Vehicle{
		Counter:      v.Counter,
		BaroAltitude: v.BaroAltitude,
		GpsAltitude:  v.GPSAltitude,
		Latitude:     v.Latitude,
		Longitude:    v.Longitude,
		Speed:        v.Speed,
		GyroX:        v.GyroX,
		GyroY:        v.GyroY,
		GyroZ:        v.GyroZ,
		AccelX:       v.AccelX,
		AccelY:       v.AccelY,
		AccelZ:       v.AccelZ,
		Angle:        v.Angle,
		Status:       int32(v.Status),
		StatusLabel:  v.Status.String(),
	}
}

func NewPayload(p telemetry.PayloadTelemetry) *Payload {
	return &Payload{
		Altitude:    p.Altitude,
		Latitude:    p.Latitude,
		Longitude:   p.Longitude,
		Pressure:    p.Pressure,
		Temperature: p.Temperature,
		Humidity:    p.Humidity,
	}
}

func NewAux(a telemetry.AuxSensorReading) *Aux {
	return &Aux{
		Temperature: a.Temperature,
		Pressure:    a.Pressure,
		Altitude:    a.Altitude,
	}
}

// NewSnapshot stamps session, sequence and unix nanoseconds.
func NewSnapshot(session string, seq uint64, unixNano int64, s telemetry.Snapshot) *Snapshot {
	return &Snapshot{
		Session: session,
		Seq:     seq,
		Time:    unixNano,
		Vehicle: NewVehicle(s.Vehicle),
		Payload: NewPayload(s.Payload),
		Aux:     NewAux(s.Aux),
	}
}

func (m *Snapshot) Telemetry() telemetry.Snapshot {
	var s telemetry.Snapshot
	if v := m.GetVehicle(); v != nil {
		s.Vehicle = telemetry.VehicleTelemetry{
			Counter:      v.Counter,
			BaroAltitude: v.BaroAltitude,
			GPSAltitude:  v.GpsAltitude,
			Latitude:     v.Latitude,
			Longitude:    v.Longitude,
			Speed:        v.Speed,
			GyroX:        v.GyroX,
			GyroY:        v.GyroY,
			GyroZ:        v.GyroZ,
			AccelX:       v.AccelX,
			AccelY:       v.AccelY,
			AccelZ:       v.AccelZ,
			Angle:        v.Angle,
			Status:       telemetry.Status(v.Status),
		}
	}
	if p := m.GetPayload(); p != nil {
		s.Payload = telemetry.PayloadTelemetry{
			Altitude:    p.Altitude,
			Latitude:    p.Latitude,
			Longitude:   p.Longitude,
			Pressure:    p.Pressure,
			Temperature: p.Temperature,
			Humidity:    p.Humidity,
		}
	}
	if a := m.GetAux(); a != nil {
		s.Aux = telemetry.AuxSensorReading{
			Temperature: a.Temperature,
			Pressure:    a.Pressure,
			Altitude:    a.Altitude,
		}
	}
	return s
}

// Connected returns false for unknown channel name.
func (m *Link) Connected(name string) bool {
	for _, c := range m.GetChannels() {
		if c.GetName() == name {
			return c.GetConnected()
		}
	}
	return false
}
