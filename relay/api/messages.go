package relay_api

// Messages are plain structs with protobuf field tags, marshaled by
// github.com/golang/protobuf reflection. Keep tags in sync with relay.proto.

import (
	"github.com/golang/protobuf/proto"
)

var _ proto.Message = (*Snapshot)(nil)

type Vehicle struct {
	Counter      uint32  `protobuf:"varint,1,opt,name=counter,proto3" json:"counter,omitempty"`
	BaroAltitude float64 `protobuf:"fixed64,2,opt,name=baro_altitude,json=baroAltitude,proto3" json:"baro_altitude,omitempty"`
	GpsAltitude  float64 `protobuf:"fixed64,3,opt,name=gps_altitude,json=gpsAltitude,proto3" json:"gps_altitude,omitempty"`
	Latitude     float64 `protobuf:"fixed64,4,opt,name=latitude,proto3" json:"latitude,omitempty"`
	Longitude    float64 `protobuf:"fixed64,5,opt,name=longitude,proto3" json:"longitude,omitempty"`
	Speed        float64 `protobuf:"fixed64,6,opt,name=speed,proto3" json:"speed,omitempty"`
	GyroX        float64 `protobuf:"fixed64,7,opt,name=gyro_x,json=gyroX,proto3" json:"gyro_x,omitempty"`
	GyroY        float64 `protobuf:"fixed64,8,opt,name=gyro_y,json=gyroY,proto3" json:"gyro_y,omitempty"`
	GyroZ        float64 `protobuf:"fixed64,9,opt,name=gyro_z,json=gyroZ,proto3" json:"gyro_z,omitempty"`
	AccelX       float64 `protobuf:"fixed64,10,opt,name=accel_x,json=accelX,proto3" json:"accel_x,omitempty"`
	AccelY       float64 `protobuf:"fixed64,11,opt,name=accel_y,json=accelY,proto3" json:"accel_y,omitempty"`
	AccelZ       float64 `protobuf:"fixed64,12,opt,name=accel_z,json=accelZ,proto3" json:"accel_z,omitempty"`
	Angle        float64 `protobuf:"fixed64,13,opt,name=angle,proto3" json:"angle,omitempty"`
	Status       int32   `protobuf:"varint,14,opt,name=status,proto3" json:"status,omitempty"`
	StatusLabel  string  `protobuf:"bytes,15,opt,name=status_label,json=statusLabel,proto3" json:"status_label,omitempty"`
}

func (m *Vehicle) Reset()         { *m = Vehicle{} }
func (m *Vehicle) String() string { return proto.CompactTextString(m) }
func (*Vehicle) ProtoMessage()    {}

func (m *Vehicle) GetCounter() uint32 {
	if m != nil {
		return m.Counter
	}
	return 0
}

func (m *Vehicle) GetBaroAltitude() float64 {
	if m != nil {
		return m.BaroAltitude
	}
	return 0
}

func (m *Vehicle) GetGpsAltitude() float64 {
	if m != nil {
		return m.GpsAltitude
	}
	return 0
}

func (m *Vehicle) GetLatitude() float64 {
	if m != nil {
		return m.Latitude
	}
	return 0
}

func (m *Vehicle) GetLongitude() float64 {
	if m != nil {
		return m.Longitude
	}
	return 0
}

func (m *Vehicle) GetSpeed() float64 {
	if m != nil {
		return m.Speed
	}
	return 0
}

func (m *Vehicle) GetGyroX() float64 {
	if m != nil {
		return m.GyroX
	}
	return 0
}

func (m *Vehicle) GetGyroY() float64 {
	if m != nil {
		return m.GyroY
	}
	return 0
}

func (m *Vehicle) GetGyroZ() float64 {
	if m != nil {
		return m.GyroZ
	}
	return 0
}

func (m *Vehicle) GetAccelX() float64 {
	if m != nil {
		return m.AccelX
	}
	return 0
}

func (m *Vehicle) GetAccelY() float64 {
	if m != nil {
		return m.AccelY
	}
	return 0
}

func (m *Vehicle) GetAccelZ() float64 {
	if m != nil {
		return m.AccelZ
	}
	return 0
}

func (m *Vehicle) GetAngle() float64 {
	if m != nil {
		return m.Angle
	}
	return 0
}

func (m *Vehicle) GetStatus() int32 {
	if m != nil {
		return m.Status
	}
	return 0
}

func (m *Vehicle) GetStatusLabel() string {
	if m != nil {
		return m.StatusLabel
	}
	return ""
}

type Payload struct {
	Altitude    float64 `protobuf:"fixed64,1,opt,name=altitude,proto3" json:"altitude,omitempty"`
	Latitude    float64 `protobuf:"fixed64,2,opt,name=latitude,proto3" json:"latitude,omitempty"`
	Longitude   float64 `protobuf:"fixed64,3,opt,name=longitude,proto3" json:"longitude,omitempty"`
	Pressure    float64 `protobuf:"fixed64,4,opt,name=pressure,proto3" json:"pressure,omitempty"`
	Temperature float64 `protobuf:"fixed64,5,opt,name=temperature,proto3" json:"temperature,omitempty"`
	Humidity    float64 `protobuf:"fixed64,6,opt,name=humidity,proto3" json:"humidity,omitempty"`
}

func (m *Payload) Reset()         { *m = Payload{} }
func (m *Payload) String() string { return proto.CompactTextString(m) }
func (*Payload) ProtoMessage()    {}

func (m *Payload) GetAltitude() float64 {
	if m != nil {
		return m.Altitude
	}
	return 0
}

func (m *Payload) GetLatitude() float64 {
	if m != nil {
		return m.Latitude
	}
	return 0
}

func (m *Payload) GetLongitude() float64 {
	if m != nil {
		return m.Longitude
	}
	return 0
}

func (m *Payload) GetPressure() float64 {
	if m != nil {
		return m.Pressure
	}
	return 0
}

func (m *Payload) GetTemperature() float64 {
	if m != nil {
		return m.Temperature
	}
	return 0
}

func (m *Payload) GetHumidity() float64 {
	if m != nil {
		return m.Humidity
	}
	return 0
}

type Aux struct {
	Temperature float64 `protobuf:"fixed64,1,opt,name=temperature,proto3" json:"temperature,omitempty"`
	Pressure    float64 `protobuf:"fixed64,2,opt,name=pressure,proto3" json:"pressure,omitempty"`
	Altitude    float64 `protobuf:"fixed64,3,opt,name=altitude,proto3" json:"altitude,omitempty"`
}

func (m *Aux) Reset()         { *m = Aux{} }
func (m *Aux) String() string { return proto.CompactTextString(m) }
func (*Aux) ProtoMessage()    {}

func (m *Aux) GetTemperature() float64 {
	if m != nil {
		return m.Temperature
	}
	return 0
}

func (m *Aux) GetPressure() float64 {
	if m != nil {
		return m.Pressure
	}
	return 0
}

func (m *Aux) GetAltitude() float64 {
	if m != nil {
		return m.Altitude
	}
	return 0
}

type Snapshot struct {
	Session string   `protobuf:"bytes,1,opt,name=session,proto3" json:"session,omitempty"`
	Seq     uint64   `protobuf:"varint,2,opt,name=seq,proto3" json:"seq,omitempty"`
	Time    int64    `protobuf:"varint,3,opt,name=time,proto3" json:"time,omitempty"`
	Vehicle *Vehicle `protobuf:"bytes,4,opt,name=vehicle,proto3" json:"vehicle,omitempty"`
	Payload *Payload `protobuf:"bytes,5,opt,name=payload,proto3" json:"payload,omitempty"`
	Aux     *Aux     `protobuf:"bytes,6,opt,name=aux,proto3" json:"aux,omitempty"`
}

func (m *Snapshot) Reset()         { *m = Snapshot{} }
func (m *Snapshot) String() string { return proto.CompactTextString(m) }
func (*Snapshot) ProtoMessage()    {}

func (m *Snapshot) GetSession() string {
	if m != nil {
		return m.Session
	}
	return ""
}

func (m *Snapshot) GetSeq() uint64 {
	if m != nil {
		return m.Seq
	}
	return 0
}

func (m *Snapshot) GetTime() int64 {
	if m != nil {
		return m.Time
	}
	return 0
}

func (m *Snapshot) GetVehicle() *Vehicle {
	if m != nil {
		return m.Vehicle
	}
	return nil
}

func (m *Snapshot) GetPayload() *Payload {
	if m != nil {
		return m.Payload
	}
	return nil
}

func (m *Snapshot) GetAux() *Aux {
	if m != nil {
		return m.Aux
	}
	return nil
}

type Channel struct {
	Name      string `protobuf:"bytes,1,opt,name=name,proto3" json:"name,omitempty"`
	Connected bool   `protobuf:"varint,2,opt,name=connected,proto3" json:"connected,omitempty"`
	Port      string `protobuf:"bytes,3,opt,name=port,proto3" json:"port,omitempty"`
	Baud      int32  `protobuf:"varint,4,opt,name=baud,proto3" json:"baud,omitempty"`
}

func (m *Channel) Reset()         { *m = Channel{} }
func (m *Channel) String() string { return proto.CompactTextString(m) }
func (*Channel) ProtoMessage()    {}

func (m *Channel) GetName() string {
	if m != nil {
		return m.Name
	}
	return ""
}

func (m *Channel) GetConnected() bool {
	if m != nil {
		return m.Connected
	}
	return false
}

func (m *Channel) GetPort() string {
	if m != nil {
		return m.Port
	}
	return ""
}

func (m *Channel) GetBaud() int32 {
	if m != nil {
		return m.Baud
	}
	return 0
}

type Link struct {
	Session  string     `protobuf:"bytes,1,opt,name=session,proto3" json:"session,omitempty"`
	Online   bool       `protobuf:"varint,2,opt,name=online,proto3" json:"online,omitempty"`
	Time     int64      `protobuf:"varint,3,opt,name=time,proto3" json:"time,omitempty"`
	Channels []*Channel `protobuf:"bytes,4,rep,name=channels,proto3" json:"channels,omitempty"`
}

func (m *Link) Reset()         { *m = Link{} }
func (m *Link) String() string { return proto.CompactTextString(m) }
func (*Link) ProtoMessage()    {}

func (m *Link) GetSession() string {
	if m != nil {
		return m.Session
	}
	return ""
}

func (m *Link) GetOnline() bool {
	if m != nil {
		return m.Online
	}
	return false
}

func (m *Link) GetTime() int64 {
	if m != nil {
		return m.Time
	}
	return 0
}

func (m *Link) GetChannels() []*Channel {
	if m != nil {
		return m.Channels
	}
	return nil
}
