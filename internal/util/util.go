package util

import (
	"github.com/berfenger/speedwire2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Inverter: config.InverterConfig{
			Host:                 "192.0.2.10",
			Group:                "user",
			Password:             "0000",
			CommandTimeoutMillis: 500,
		},
		EnergyMeter: config.EnergyMeterConfig{
			Enable: true,
		},
		MQTT: config.MQTTConfig{
			Host:             "localhost",
			Port:             1883,
			BaseTopic:        "speedwire",
			HADiscoveryTopic: "homeassistant",
		},
		MonitorConfig: config.MonitorConfig{
			PollIntervalMillis:  2000,
			MeterIntervalMillis: 1000,
		},
		Port: 8080,
	}
}
