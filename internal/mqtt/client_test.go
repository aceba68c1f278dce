package mqtt

import (
	"testing"

	"github.com/berfenger/speedwire2mqtt/internal/core/events"
	"github.com/berfenger/speedwire2mqtt/internal/util"
	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"github.com/stretchr/testify/assert"
)

func TestCommandParse(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")
	cmd, err := parseCommand(r, "loremTopic/command/refresh", []byte("1"))
	assert.Nil(err)
	assert.Equal(COMMAND_REFRESH, cmd.Command, "command extract")
	assert.Equal("1", cmd.Payload)
}

func TestCommandParseFail(t *testing.T) {

	assert := assert.New(t)

	r := commandExtractor("loremTopic")

	_, err := parseCommand(r, "loremTopic/sensor/my_device/state", nil)
	assert.NotNil(err, "not a command topic")

	_, err = parseCommand(r, "otherTopic/command/refresh", nil)
	assert.NotNil(err, "other base topic")

	_, err = parseCommand(r, "loremTopic/command/reboot", nil)
	assert.NotNil(err, "unknown command")
}

func TestTopics(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	client := CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)

	assert.Equal("speedwire/bridge/state", client.BridgeStateTopic())
	assert.Equal("speedwire/sensor/sma_inverter_1_grid_power/state", client.SensorStateTopic("sma_inverter_1_grid_power"))
	assert.Equal("speedwire/command/refresh", client.CommandTopic(COMMAND_REFRESH))
}

func TestSensorDiscoveryMessage(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	client := CreateMQTTClient(&cfg, OptsFromConfig(&cfg), nil, nil)

	device := events.InverterDevice(&speedwire.DeviceInfo{Serial: "1", Type: "SB 5000SE-10", Manufacturer: speedwire.Manufacturer})
	sensors := events.InverterSensors(device, speedwire.DefaultCatalog())
	var grid = sensors[0]
	for _, s := range sensors {
		if s.Id == "sma_inverter_1_grid_power" {
			grid = s
		}
	}

	msg := GenericSensorToHADiscoveryMessage(client, grid)
	assert.Equal("speedwire/sensor/sma_inverter_1_grid_power/state", msg.StateTopic)
	assert.Equal("speedwire/bridge/state", msg.AvTopic)
	assert.Equal("W", msg.UnitOfMeasurement)
	assert.Equal("homeassistant/sensor/sma_inverter_1/sma_inverter_1_grid_power/config",
		HADiscoverySensorTopic(client.HADiscoveryPrefix(), grid))

	bridge := events.BridgeSensors(events.BridgeDevice(cfg.MQTT.BaseTopic))[0]
	msg = GenericSensorToHADiscoveryMessage(client, bridge)
	assert.Equal(client.BridgeStateTopic(), msg.StateTopic)
	assert.Equal(MQTT_PAYLOAD_ONLINE, msg.PayloadOn)
}
