package telemetry

import (
	"encoding/json"
	"strings"

	"github.com/juju/errors"
)

const Separator = ','

// Structured text section keys.
const (
	KeyVehicle = "rocket"
	KeyPayload = "payload"
	KeyAux     = "bmp280"
)

// Result types carry parsed record or reason.
// errors.IsNotFound(Err) means structured text without the section, not a malformed line.
type VehicleResult struct {
	Record VehicleTelemetry
	Err    error
}

type PayloadResult struct {
	Record PayloadTelemetry
	Err    error
}

type AuxResult struct {
	Record AuxSensorReading
	Err    error
}

func (self VehicleResult) Absent() bool { return errors.IsNotFound(self.Err) }
func (self PayloadResult) Absent() bool { return errors.IsNotFound(self.Err) }
func (self AuxResult) Absent() bool     { return errors.IsNotFound(self.Err) }

// IsStructured reports whether text is handled as structured (JSON object) text.
// Object text always contains separators between members, so it is detected by
// leading brace before separator check applies.
func IsStructured(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "{")
}

func isDelimited(text string) bool {
	return !IsStructured(text) && strings.IndexByte(text, Separator) >= 0
}

func ParseVehicle(text string) VehicleResult {
	text = strings.TrimSpace(text)
	var v VehicleTelemetry
	var err error
	if isDelimited(text) {
		err = parseDelimited(text, &v)
	} else {
		err = parseSection(text, KeyVehicle, &v)
	}
	if err != nil {
		return VehicleResult{Err: errors.Annotate(err, "vehicle")}
	}
	return VehicleResult{Record: v}
}

func ParsePayload(text string) PayloadResult {
	text = strings.TrimSpace(text)
	var p PayloadTelemetry
	var err error
	if isDelimited(text) {
		err = parseDelimited(text, &p)
	} else {
		err = parseSection(text, KeyPayload, &p)
	}
	if err != nil {
		return PayloadResult{Err: errors.Annotate(err, "payload")}
	}
	return PayloadResult{Record: p}
}

// ParseAux accepts flat object or one nested under "bmp280".
func ParseAux(text string) AuxResult {
	top, err := decodeObject(strings.TrimSpace(text))
	if err != nil {
		return AuxResult{Err: errors.Annotate(err, "aux")}
	}
	var a AuxSensorReading
	if raw, ok := top[KeyAux]; ok {
		err = decodeSection(raw, &a)
	} else {
		err = decodeFields(top, &a)
	}
	if err != nil {
		return AuxResult{Err: errors.Annotate(err, "aux")}
	}
	return AuxResult{Record: a}
}

// Zero-fallback variants. Never fail, malformed input gives zero record.
func ParseVehicleLine(text string) VehicleTelemetry { return ParseVehicle(text).Record }
func ParsePayloadLine(text string) PayloadTelemetry { return ParsePayload(text).Record }
func ParseAuxReading(text string) AuxSensorReading  { return ParseAux(text).Record }

// Document is one structured line decoded once, every section is optional.
type Document struct {
	Vehicle VehicleResult
	Payload PayloadResult
	Aux     AuxResult
}

// ParseDocument fails only when text is not a structured object.
// Sections are decoded independently, absent ones have NotFound errors.
func ParseDocument(text string) (Document, error) {
	var doc Document
	top, err := decodeObject(strings.TrimSpace(text))
	if err != nil {
		return doc, errors.Trace(err)
	}
	var v VehicleTelemetry
	if err = decodeKey(top, KeyVehicle, &v); err != nil {
		doc.Vehicle.Err = errors.Annotate(err, "vehicle")
	} else {
		doc.Vehicle.Record = v
	}
	var p PayloadTelemetry
	if err = decodeKey(top, KeyPayload, &p); err != nil {
		doc.Payload.Err = errors.Annotate(err, "payload")
	} else {
		doc.Payload.Record = p
	}
	var a AuxSensorReading
	if err = decodeKey(top, KeyAux, &a); err != nil {
		doc.Aux.Err = errors.Annotate(err, "aux")
	} else {
		doc.Aux.Record = a
	}
	return doc, nil
}

func FormatVehicleLine(v VehicleTelemetry) string { return formatDelimited(&v) }
func FormatPayloadLine(p PayloadTelemetry) string { return formatDelimited(&p) }

func formatDelimited(r record) string {
	t := r.table()
	parts := make([]string, len(t.fields))
	for i, f := range t.fields {
		parts[i] = f.formatValue(r.get(i))
	}
	return strings.Join(parts, string(Separator))
}

// parseDelimited requires at least table length fields, extra trailing fields are ignored.
// r is modified even on error, callers parse into fresh record and discard it.
func parseDelimited(text string, r record) error {
	t := r.table()
	parts := strings.Split(text, string(Separator))
	if len(parts) < len(t.fields) {
		return errors.NotValidf("delimited fields=%d expected=%d", len(parts), len(t.fields))
	}
	for i, f := range t.fields {
		x, err := f.parseText(parts[i])
		if err != nil {
			return err
		}
		r.set(i, x)
	}
	return nil
}

func parseSection(text, key string, r record) error {
	top, err := decodeObject(text)
	if err != nil {
		return err
	}
	return decodeKey(top, key, r)
}

func decodeObject(text string) (map[string]json.RawMessage, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &top); err != nil {
		return nil, errors.NewNotValid(err, "structured text")
	}
	if top == nil {
		return nil, errors.NotValidf("structured text null")
	}
	return top, nil
}

func decodeKey(top map[string]json.RawMessage, key string, r record) error {
	raw, ok := top[key]
	if !ok {
		return errors.NotFoundf("key=%s", key)
	}
	return decodeSection(raw, r)
}

func decodeSection(raw json.RawMessage, r record) error {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return errors.NewNotValid(err, "section")
	}
	if obj == nil {
		return errors.NotValidf("section null")
	}
	return decodeFields(obj, r)
}

// decodeFields applies aliases first then canonical name, so canonical key wins
// when both are present. Missing keys stay zero, unknown keys are ignored.
func decodeFields(obj map[string]json.RawMessage, r record) error {
	t := r.table()
	for i, f := range t.fields {
		for _, a := range f.Aliases {
			if raw, ok := obj[a]; ok {
				x, err := decodeNumber(f, raw)
				if err != nil {
					return err
				}
				r.set(i, x)
			}
		}
		if raw, ok := obj[f.Name]; ok {
			x, err := decodeNumber(f, raw)
			if err != nil {
				return err
			}
			r.set(i, x)
		}
	}
	return nil
}

func decodeNumber(f Field, raw json.RawMessage) (float64, error) {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, errors.NewNotValid(err, "field="+f.Name)
	}
	x, ok := v.(float64)
	if !ok {
		return 0, errors.NotValidf("field=%s type %T", f.Name, v)
	}
	if err := f.checkNumber(x); err != nil {
		return 0, err
	}
	return x, nil
}
