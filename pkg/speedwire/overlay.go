package speedwire

import (
	"strconv"

	"go.uber.org/zap"
)

// Value is a decoded register or OBIS value: a number, or a text value for
// version fields.
type Value struct {
	Number int64
	Text   string
	IsText bool
}

func NumberValue(n int64) Value {
	return Value{Number: n}
}

func TextValue(s string) Value {
	return Value{Text: s, IsText: true}
}

func (v Value) String() string {
	if v.IsText {
		return v.Text
	}
	return strconv.FormatInt(v.Number, 10)
}

type Reading struct {
	Key   string
	Name  string
	Unit  string
	Raw   Value
	Value float64
	Label string

	// Missing is set for sensors the device did not report.
	Missing bool
}

func missingReading(s *Sensor) Reading {
	return Reading{Key: s.Key, Name: s.Name, Unit: s.Unit, Missing: true}
}

func (r Reading) IsText() bool {
	return r.Raw.IsText
}

// Payload is the published form of the reading: the label of mapped
// sensors, the text of version fields, else the scaled number.
func (r Reading) Payload() string {
	switch {
	case r.Missing:
		return ""
	case r.Label != "":
		return r.Label
	case r.Raw.IsText:
		return r.Raw.Text
	default:
		return strconv.FormatFloat(r.Value, 'f', -1, 64)
	}
}

func (r Reading) sameValue(other Reading) bool {
	if r.Raw.IsText || other.Raw.IsText {
		return r.Raw == other.Raw
	}
	return r.Value == other.Value
}

// Readings maps a sensor key to its reading.
type Readings map[string]Reading

// SensorOverlay turns decoded values into readings and reconciles repeated
// values for the same sensor within one session.
type SensorOverlay struct {
	catalog  *Catalog
	logger   *zap.Logger
	readings Readings
}

func NewSensorOverlay(catalog *Catalog, logger *zap.Logger) *SensorOverlay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SensorOverlay{
		catalog:  catalog,
		logger:   logger,
		readings: Readings{},
	}
}

// Reading computes the reading of a raw value without recording it.
func (o *SensorOverlay) Reading(s *Sensor, raw Value) Reading {
	r := Reading{
		Key:  s.Key,
		Name: s.Name,
		Unit: s.Unit,
		Raw:  raw,
	}
	if raw.IsText {
		return r
	}
	r.Value = float64(raw.Number)
	if s.Factor != 0 && s.Factor != 1 {
		r.Value /= s.Factor
	}
	if s.Mapper {
		r.Label = o.catalog.TagLabelOrCode(uint32(raw.Number))
	}
	return r
}

// Apply records a value. Absent values are ignored. A differing second value
// is logged and replaces the first unless overwrite is false.
func (o *SensorOverlay) Apply(s *Sensor, raw *Value, overwrite bool) {
	if raw == nil {
		return
	}
	r := o.Reading(s, *raw)
	if old, ok := o.readings[s.Key]; ok && !old.sameValue(r) {
		o.logger.Warn("sensor value changed within session",
			zap.String("sensor", s.Key),
			zap.String("name", s.Name),
			zap.String("old", old.Payload()),
			zap.String("new", r.Payload()),
			zap.Bool("overwrite", overwrite))
		if !overwrite {
			return
		}
	}
	o.readings[s.Key] = r
}

func (o *SensorOverlay) Readings() Readings {
	out := make(Readings, len(o.readings))
	for k, v := range o.readings {
		out[k] = v
	}
	return out
}

func (o *SensorOverlay) Get(key string) (Reading, bool) {
	r, ok := o.readings[key]
	return r, ok
}

func (o *SensorOverlay) Reset() {
	o.readings = Readings{}
}
