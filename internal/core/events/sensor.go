package events

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	. "github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE       = "bridge"
	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_CURRENT         = "current"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_FREQUENCY       = "frequency"
	DEVICE_CLASS_POWER           = "power"
	DEVICE_CLASS_TEMPERATURE     = "temperature"
	DEVICE_CLASS_VOLTAGE         = "voltage"
	DEVICE_CLASS_CONNECTIVITY    = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC      = "diagnostic"
	SENSOR_TYPE_SENSOR           = "sensor"
	SENSOR_TYPE_BINARY           = "binary_sensor"
)

var nonIdChars = regexp.MustCompile("[^a-z0-9_]+")

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("speedwire_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "ACasal",
		Model:        "Speedwire2MQTT",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Speedwire %s", md5HashShort(baseTopic)),
	}
}

func InverterDevice(info *speedwire.DeviceInfo) Device {
	return Device{
		Id:           fmt.Sprintf("sma_inverter_%s", info.Serial),
		Version:      info.SwVersion,
		Manufacturer: info.Manufacturer,
		Model:        info.Type,
		Name:         fmt.Sprintf("%s %s %s", info.Manufacturer, info.Type, info.Serial),
	}
}

func MeterDevice(info *speedwire.DeviceInfo) Device {
	return Device{
		Id:           fmt.Sprintf("sma_meter_%s", info.Serial),
		Version:      info.SwVersion,
		Manufacturer: info.Manufacturer,
		Model:        info.Type,
		Name:         fmt.Sprintf("%s %s %s", info.Manufacturer, info.Type, info.Serial),
	}
}

// MeterDeviceId is the device id of a meter known only by its serial.
func MeterDeviceId(serial string) string {
	return MeterDevice(&speedwire.DeviceInfo{Serial: serial}).Id
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

// InverterSensorId is the object id of an inverter register sensor.
func InverterSensorId(device Device, key string) string {
	return sensorId(device, slug(key))
}

// MeterSensorId is the object id of an energy meter sensor, named after the
// OBIS sensor name.
func MeterSensorId(device Device, name string) string {
	return sensorId(device, slug(name))
}

// InverterSensors describes every register sensor of the catalog. Only the
// first one carries the full device description.
func InverterSensors(inverterDevice Device, catalog *speedwire.Catalog) []GenericSensor {
	var sensors []GenericSensor
	for _, s := range catalog.Sensors() {
		sensors = append(sensors, catalogSensor(inverterDevice, slug(s.Key), s))
	}
	return withIdDevice(sensors)
}

func MeterSensors(meterDevice Device, catalog *speedwire.Catalog) []GenericSensor {
	var sensors []GenericSensor
	for _, s := range catalog.ObisSensors() {
		sensors = append(sensors, catalogSensor(meterDevice, slug(s.Name), s))
	}
	return withIdDevice(sensors)
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	// Bridge connection state
	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func catalogSensor(device Device, objectId string, s *speedwire.Sensor) GenericSensor {
	sensor := GenericSensor{
		Device:     device,
		Id:         sensorId(device, objectId),
		SensorType: SENSOR_TYPE_SENSOR,
		Name:       displayName(s.Name),
		UniqueId:   uniqueId(device.Id, objectId),
	}
	if s.Mapper || s.Unit == "" {
		// labels and versions are text
		sensor.EntityCategory = ENTITY_CLASS_DIAGNOSTIC
		return sensor
	}
	sensor.UnitOfMeasurement = s.Unit
	sensor.StateClass = STATE_CLASS_MEASUREMENT
	switch s.Unit {
	case "W":
		sensor.DeviceClass = DEVICE_CLASS_POWER
	case "Wh", "kWh":
		sensor.DeviceClass = DEVICE_CLASS_ENERGY
		sensor.StateClass = STATE_CLASS_TOTAL_INCREASING
	case "V":
		sensor.DeviceClass = DEVICE_CLASS_VOLTAGE
	case "A", "mA":
		sensor.DeviceClass = DEVICE_CLASS_CURRENT
	case "Hz":
		sensor.DeviceClass = DEVICE_CLASS_FREQUENCY
	case "°C":
		sensor.DeviceClass = DEVICE_CLASS_TEMPERATURE
	}
	return sensor
}

func withIdDevice(sensors []GenericSensor) []GenericSensor {
	for i := range sensors {
		if i > 0 {
			sensors[i].Device = IdDevice(sensors[i].Device)
		}
	}
	return sensors
}

func sensorId(device Device, objectId string) string {
	return fmt.Sprintf("%s_%s", device.Id, objectId)
}

func displayName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" {
		return name
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func slug(s string) string {
	return strings.Trim(nonIdChars.ReplaceAllString(strings.ToLower(s), "_"), "_")
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}
