package speedwire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

const (
	telemetryPayloadOffset = 28
	telemetryLengthBias    = 16
	obisVersionChannel     = 144
	ObisVersionKey         = "sw_version"
)

var ErrNotTelemetry = errors.New("speedwire: not a 6069 datagram")

// Telemetry is one decoded energy meter datagram. Values is keyed by OBIS
// key "index:type:tariff", or sw_version.
type Telemetry struct {
	ProtocolID uint16
	SusyID     uint16
	Serial     uint32
	Timestamp  uint32
	Device     string
	Address    string
	Values     map[string]Value
	// set when the datagram ended inside a record
	Truncated bool
}

// DecodeTelemetry decodes a 6069 datagram received from addr.
func DecodeTelemetry(catalog *Catalog, data []byte, addr string, logger *zap.Logger) (*Telemetry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	h, err := ParseHeader(data)
	if err != nil {
		return nil, err
	}
	if !h.Is6069() {
		return nil, ErrNotTelemetry
	}
	sub, err := ParseTelemetryHeader(data)
	if err != nil {
		return nil, err
	}

	t := &Telemetry{
		ProtocolID: h.ProtocolID,
		SusyID:     sub.SusyID,
		Serial:     sub.Serial,
		Timestamp:  sub.Timestamp,
		Device:     catalog.MeterDeviceName(sub.SusyID),
		Address:    addr,
		Values:     map[string]Value{},
	}

	length := int(h.Length) + telemetryLengthBias
	if length > len(data) {
		t.Truncated = true
		length = len(data)
	}
	pos := telemetryPayloadOffset
	for pos < length {
		if pos+4 > length {
			t.Truncated = true
			break
		}
		channel, index, typ, tariff := data[pos], data[pos+1], data[pos+2], data[pos+3]
		switch {
		case typ == 4 || typ == 8:
			end := pos + 4 + int(typ)
			if end > length {
				t.Truncated = true
				return t, nil
			}
			var v uint64
			if typ == 4 {
				v = uint64(binary.BigEndian.Uint32(data[pos+4 : end]))
			} else {
				v = binary.BigEndian.Uint64(data[pos+4 : end])
			}
			t.Values[ObisKey(index, typ, tariff)] = NumberValue(int64(v))
			pos = end
		case channel == obisVersionChannel && typ == 0:
			if pos+8 > length {
				t.Truncated = true
				return t, nil
			}
			t.Values[ObisVersionKey] = TextValue(fmt.Sprintf("%d.%d.%d.%c",
				data[pos+4], data[pos+5], data[pos+6], data[pos+7]))
			pos += 8
		default:
			logger.Debug("unknown telemetry record",
				zap.Uint8("channel", channel),
				zap.Uint8("index", index),
				zap.Uint8("type", typ),
				zap.Uint8("tariff", tariff))
			pos += 8
		}
	}
	return t, nil
}

func ObisKey(index, typ, tariff uint8) string {
	return fmt.Sprintf("%d:%d:%d", index, typ, tariff)
}

func (t *Telemetry) SerialString() string {
	return fmt.Sprintf("%d", t.Serial)
}

// Readings maps the OBIS values onto catalog sensors, applying factors.
// The second result lists the names of sensors missing from the datagram.
func (t *Telemetry) Readings(overlay *SensorOverlay) (Readings, []string) {
	readings := Readings{}
	var missing []string
	for _, s := range overlay.catalog.ObisSensors() {
		v, ok := t.Values[s.Key]
		if !ok {
			missing = append(missing, s.Key)
			continue
		}
		readings[s.Key] = overlay.Reading(s, v)
	}
	return readings, missing
}

func (t *Telemetry) asMap() map[string]any {
	m := map[string]any{
		"protocolID": int(t.ProtocolID),
		"susyid":     int(t.SusyID),
		"device":     t.Device,
		"serial":     int64(t.Serial),
		"ip":         t.Address,
	}
	for k, v := range t.Values {
		if v.IsText {
			m[k] = v.Text
		} else {
			m[k] = v.Number
		}
	}
	return m
}
