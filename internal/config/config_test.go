package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Inverter: InverterConfig{
			Host:     "192.0.2.10",
			Group:    "user",
			Password: "0000",
		},
		MQTT: MQTTConfig{
			BaseTopic:        "Speedwire",
			HADiscoveryTopic: "homeassistant",
		},
		MonitorConfig: MonitorConfig{
			PollIntervalMillis:  10000,
			MeterIntervalMillis: 2000,
		},
	}
}

func TestValidate(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	assert.Nil(Validate(&cfg))
	assert.Equal("speedwire", cfg.MQTT.BaseTopic, "lowercased")
}

func TestValidateBounds(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	cfg.MonitorConfig.PollIntervalMillis = 1999
	assert.ErrorContains(Validate(&cfg), "poll_interval_millis")

	cfg = validConfig()
	cfg.MonitorConfig.MeterIntervalMillis = 500
	assert.ErrorContains(Validate(&cfg), "meter_interval_millis")

	cfg = validConfig()
	cfg.Inverter.Group = "admin"
	assert.ErrorContains(Validate(&cfg), "inverter.group")

	cfg = validConfig()
	cfg.Inverter.Password = ""
	assert.ErrorContains(Validate(&cfg), "inverter.password")

	cfg = validConfig()
	cfg.Inverter.Host = ""
	assert.ErrorContains(Validate(&cfg), "nothing to monitor")

	cfg.EnergyMeter.Enable = true
	assert.Nil(Validate(&cfg), "meter only")
}

func TestValidateTopics(t *testing.T) {

	assert := assert.New(t)

	cfg := validConfig()
	cfg.MQTT.BaseTopic = "sma/bridge"
	assert.ErrorContains(Validate(&cfg), "base topic")

	cfg = validConfig()
	cfg.MQTT.HADiscoveryTopic = ""
	assert.ErrorContains(Validate(&cfg), "discovery topic")
}

func TestInverterOptions(t *testing.T) {

	assert := assert.New(t)

	opts := InverterConfig{CommandDelayMillis: 100}.Options()
	assert.Equal(500*time.Millisecond, opts.CommandTimeout, "default")
	assert.Equal(100*time.Millisecond, opts.CommandDelay)
	assert.Equal(time.Duration(0), opts.OverallTimeout)
	assert.Greater(opts.SessionTimeout(), 5*time.Second)

	opts = InverterConfig{CommandTimeoutMillis: 800, OverallTimeoutMillis: 9000}.Options()
	assert.Equal(800*time.Millisecond, opts.CommandTimeout)
	assert.Equal(9*time.Second, opts.SessionTimeout())
}
