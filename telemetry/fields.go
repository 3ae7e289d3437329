package telemetry

import (
	"math"
	"strconv"
	"strings"

	"github.com/juju/errors"
)

// Canonical field names. Payload and aux tables reuse the geographic and
// environmental names, a FieldMap always belongs to one record type.
const (
	FieldCounter      = "counter"
	FieldBaroAltitude = "baroAltitude"
	FieldGPSAltitude  = "gpsAltitude"
	FieldLatitude     = "latitude"
	FieldLongitude    = "longitude"
	FieldSpeed        = "speed"
	FieldGyroX        = "gyroX"
	FieldGyroY        = "gyroY"
	FieldGyroZ        = "gyroZ"
	FieldAccelX       = "accelX"
	FieldAccelY       = "accelY"
	FieldAccelZ       = "accelZ"
	FieldAngle        = "angle"
	FieldStatus       = "status"
	FieldAltitude     = "altitude"
	FieldPressure     = "pressure"
	FieldTemperature  = "temperature"
	FieldHumidity     = "humidity"
)

type Kind uint8

const (
	KindFloat Kind = iota
	KindUint       // non-negative, fits uint32
	KindInt
)

func (k Kind) String() string {
	switch k {
	case KindFloat:
		return "float"
	case KindUint:
		return "uint"
	case KindInt:
		return "int"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// Field describes one record field. Aliases are the keys used by existing
// flight computer firmware.
type Field struct {
	Name    string
	Aliases []string
	Kind    Kind
}

// parseText parses one delimited text value according to Kind.
func (self Field) parseText(s string) (float64, error) {
	s = strings.TrimSpace(s)
	switch self.Kind {
	case KindUint:
		u, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return 0, errors.NotValidf("field=%s value=%q", self.Name, s)
		}
		return float64(u), nil
	case KindInt:
		i, err := strconv.ParseInt(s, 10, 32)
		if err != nil {
			return 0, errors.NotValidf("field=%s value=%q", self.Name, s)
		}
		return float64(i), nil
	default:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errors.NotValidf("field=%s value=%q", self.Name, s)
		}
		return f, nil
	}
}

// checkNumber validates decoded structured number against Kind.
func (self Field) checkNumber(f float64) error {
	switch self.Kind {
	case KindUint:
		if f != math.Trunc(f) || f < 0 || f > math.MaxUint32 {
			return errors.NotValidf("field=%s value=%v", self.Name, f)
		}
	case KindInt:
		if f != math.Trunc(f) || f < math.MinInt32 || f > math.MaxInt32 {
			return errors.NotValidf("field=%s value=%v", self.Name, f)
		}
	}
	return nil
}

func (self Field) formatValue(f float64) string {
	if self.Kind != KindFloat {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// fieldTable is ordered field list plus lookup by canonical name or alias.
type fieldTable struct {
	fields []Field
	index  map[string]int
}

func newFieldTable(fs []Field) *fieldTable {
	t := &fieldTable{fields: fs, index: make(map[string]int, len(fs)*2)}
	for i, f := range fs {
		t.index[f.Name] = i
		for _, a := range f.Aliases {
			t.index[a] = i
		}
	}
	return t
}

func (self *fieldTable) lookup(key string) (int, bool) {
	i, ok := self.index[key]
	return i, ok
}

// record is implemented by pointers to all record types.
type record interface {
	table() *fieldTable
	get(i int) float64
	set(i int, x float64)
}

var vehicleTable = newFieldTable([]Field{
	{FieldCounter, []string{"sayac"}, KindUint},
	{FieldBaroAltitude, []string{"MSIrtifa"}, KindFloat},
	{FieldGPSAltitude, []string{"RoketGPSIrtifa"}, KindFloat},
	{FieldLatitude, []string{"Enlem"}, KindFloat},
	{FieldLongitude, []string{"Boylam"}, KindFloat},
	{FieldSpeed, []string{"Hiz"}, KindFloat},
	{FieldGyroX, []string{"Gx"}, KindFloat},
	{FieldGyroY, []string{"Gy"}, KindFloat},
	{FieldGyroZ, []string{"Gz"}, KindFloat},
	{FieldAccelX, []string{"Ax"}, KindFloat},
	{FieldAccelY, []string{"Ay"}, KindFloat},
	{FieldAccelZ, []string{"Az"}, KindFloat},
	{FieldAngle, []string{"aci"}, KindFloat},
	{FieldStatus, []string{"durum"}, KindInt},
})

var vehicleAccess = []struct {
	get func(*VehicleTelemetry) float64
	set func(*VehicleTelemetry, float64)
}{
	{func(v *VehicleTelemetry) float64 { return float64(v.Counter) }, func(v *VehicleTelemetry, x float64) { v.Counter = uint32(x) }},
	{func(v *VehicleTelemetry) float64 { return v.BaroAltitude }, func(v *VehicleTelemetry, x float64) { v.BaroAltitude = x }},
	{func(v *VehicleTelemetry) float64 { return v.GPSAltitude }, func(v *VehicleTelemetry, x float64) { v.GPSAltitude = x }},
	{func(v *VehicleTelemetry) float64 { return v.Latitude }, func(v *VehicleTelemetry, x float64) { v.Latitude = x }},
	{func(v *VehicleTelemetry) float64 { return v.Longitude }, func(v *VehicleTelemetry, x float64) { v.Longitude = x }},
	{func(v *VehicleTelemetry) float64 { return v.Speed }, func(v *VehicleTelemetry, x float64) { v.Speed = x }},
	{func(v *VehicleTelemetry) float64 { return v.GyroX }, func(v *VehicleTelemetry, x float64) { v.GyroX = x }},
	{func(v *VehicleTelemetry) float64 { return v.GyroY }, func(v *VehicleTelemetry, x float64) { v.GyroY = x }},
	{func(v *VehicleTelemetry) float64 { return v.GyroZ }, func(v *VehicleTelemetry, x float64) { v.GyroZ = x }},
	{func(v *VehicleTelemetry) float64 { return v.AccelX }, func(v *VehicleTelemetry, x float64) { v.AccelX = x }},
	{func(v *VehicleTelemetry) float64 { return v.AccelY }, func(v *VehicleTelemetry, x float64) { v.AccelY = x }},
	{func(v *VehicleTelemetry) float64 { return v.AccelZ }, func(v *VehicleTelemetry, x float64) { v.AccelZ = x }},
	{func(v *VehicleTelemetry) float64 { return v.Angle }, func(v *VehicleTelemetry, x float64) { v.Angle = x }},
	{func(v *VehicleTelemetry) float64 { return float64(v.Status) }, func(v *VehicleTelemetry, x float64) { v.Status = Status(x) }},
}

func (self *VehicleTelemetry) table() *fieldTable   { return vehicleTable }
func (self *VehicleTelemetry) get(i int) float64    { return vehicleAccess[i].get(self) }
func (self *VehicleTelemetry) set(i int, x float64) { vehicleAccess[i].set(self, x) }

var payloadTable = newFieldTable([]Field{
	{FieldAltitude, []string{"GorevYukuIrtifa"}, KindFloat},
	{FieldLatitude, []string{"GorevYukuEnlem"}, KindFloat},
	{FieldLongitude, []string{"GorevYukuBoylam"}, KindFloat},
	{FieldPressure, []string{"GorevYukuBasinc"}, KindFloat},
	{FieldTemperature, []string{"GorevYukuSicaklik"}, KindFloat},
	{FieldHumidity, []string{"GorevYukuNem"}, KindFloat},
})

var payloadAccess = []struct {
	get func(*PayloadTelemetry) float64
	set func(*PayloadTelemetry, float64)
}{
	{func(p *PayloadTelemetry) float64 { return p.Altitude }, func(p *PayloadTelemetry, x float64) { p.Altitude = x }},
	{func(p *PayloadTelemetry) float64 { return p.Latitude }, func(p *PayloadTelemetry, x float64) { p.Latitude = x }},
	{func(p *PayloadTelemetry) float64 { return p.Longitude }, func(p *PayloadTelemetry, x float64) { p.Longitude = x }},
	{func(p *PayloadTelemetry) float64 { return p.Pressure }, func(p *PayloadTelemetry, x float64) { p.Pressure = x }},
	{func(p *PayloadTelemetry) float64 { return p.Temperature }, func(p *PayloadTelemetry, x float64) { p.Temperature = x }},
	{func(p *PayloadTelemetry) float64 { return p.Humidity }, func(p *PayloadTelemetry, x float64) { p.Humidity = x }},
}

func (self *PayloadTelemetry) table() *fieldTable   { return payloadTable }
func (self *PayloadTelemetry) get(i int) float64    { return payloadAccess[i].get(self) }
func (self *PayloadTelemetry) set(i int, x float64) { payloadAccess[i].set(self, x) }

var auxTable = newFieldTable([]Field{
	{FieldTemperature, []string{"sicaklik"}, KindFloat},
	{FieldPressure, []string{"basinc"}, KindFloat},
	{FieldAltitude, []string{"yukseklik"}, KindFloat},
})

var auxAccess = []struct {
	get func(*AuxSensorReading) float64
	set func(*AuxSensorReading, float64)
}{
	{func(a *AuxSensorReading) float64 { return a.Temperature }, func(a *AuxSensorReading, x float64) { a.Temperature = x }},
	{func(a *AuxSensorReading) float64 { return a.Pressure }, func(a *AuxSensorReading, x float64) { a.Pressure = x }},
	{func(a *AuxSensorReading) float64 { return a.Altitude }, func(a *AuxSensorReading, x float64) { a.Altitude = x }},
}

func (self *AuxSensorReading) table() *fieldTable   { return auxTable }
func (self *AuxSensorReading) get(i int) float64    { return auxAccess[i].get(self) }
func (self *AuxSensorReading) set(i int, x float64) { auxAccess[i].set(self, x) }

func copyFields(t *fieldTable) []Field {
	fs := make([]Field, len(t.fields))
	copy(fs, t.fields)
	return fs
}

// VehicleFields returns the ordered vehicle field list, also the delimited text column order.
func VehicleFields() []Field { return copyFields(vehicleTable) }
func PayloadFields() []Field { return copyFields(payloadTable) }
func AuxFields() []Field     { return copyFields(auxTable) }

// FieldMap is a record flattened to canonical field name -> value.
// Missing names read as zero.
type FieldMap map[string]float64

func (self FieldMap) Get(name string) float64 { return self[name] }

func toFieldMap(r record) FieldMap {
	t := r.table()
	m := make(FieldMap, len(t.fields))
	for i, f := range t.fields {
		m[f.Name] = r.get(i)
	}
	return m
}

// fromFieldMap accepts canonical names and aliases, canonical wins. Unknown keys ignored.
func fromFieldMap(r record, m FieldMap) {
	t := r.table()
	for i, f := range t.fields {
		for _, a := range f.Aliases {
			if x, ok := m[a]; ok {
				r.set(i, x)
			}
		}
		if x, ok := m[f.Name]; ok {
			r.set(i, x)
		}
	}
}

func (self VehicleTelemetry) FieldMap() FieldMap { return toFieldMap(&self) }
func (self PayloadTelemetry) FieldMap() FieldMap { return toFieldMap(&self) }
func (self AuxSensorReading) FieldMap() FieldMap { return toFieldMap(&self) }

func VehicleFromMap(m FieldMap) VehicleTelemetry {
	var v VehicleTelemetry
	fromFieldMap(&v, m)
	return v
}

func PayloadFromMap(m FieldMap) PayloadTelemetry {
	var p PayloadTelemetry
	fromFieldMap(&p, m)
	return p
}

func AuxFromMap(m FieldMap) AuxSensorReading {
	var a AuxSensorReading
	fromFieldMap(&a, m)
	return a
}
