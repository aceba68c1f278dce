package events

import (
	"sort"

	. "github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"
)

// InverterReadingsToUpdateEvents maps register readings to sensor updates of
// the inverter device, ordered by sensor id.
func InverterReadingsToUpdateEvents(inverterDevice Device, readings speedwire.Readings) []any {
	var events []any
	for _, key := range sortedKeys(readings) {
		r := readings[key]
		if r.Missing {
			continue
		}
		events = append(events, readingToUpdateEvent(InverterSensorId(inverterDevice, r.Key), r))
	}
	return events
}

func MeterReadingsToUpdateEvents(meterDevice Device, readings speedwire.Readings) []any {
	var events []any
	for _, key := range sortedKeys(readings) {
		r := readings[key]
		if r.Missing {
			continue
		}
		events = append(events, readingToUpdateEvent(MeterSensorId(meterDevice, r.Name), r))
	}
	return events
}

func readingToUpdateEvent(id string, r speedwire.Reading) any {
	if r.IsText() || r.Label != "" {
		return TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{
				Id: id,
			},
			Value: r.Payload(),
		}
	}
	return FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{
			Id: id,
		},
		Value:    r.Value,
		Decimals: -1,
	}
}

func sortedKeys(readings speedwire.Readings) []string {
	keys := make([]string, 0, len(readings))
	for k := range readings {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
