package config

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel    zapcore.Level
	Inverter    InverterConfig    `mapstructure:"inverter"`
	EnergyMeter EnergyMeterConfig `mapstructure:"energy_meter"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`

	MonitorConfig MonitorConfig `mapstructure:"monitor"`
	Port          uint          `mapstructure:"port"`
	HttpLog       bool          `mapstructure:"http_log"`
}

type InverterConfig struct {
	Host                 string
	Group                string
	Password             string
	CommandTimeoutMillis uint32 `mapstructure:"command_timeout_millis"`
	CommandDelayMillis   uint32 `mapstructure:"command_delay_millis"`
	OverallTimeoutMillis uint32 `mapstructure:"overall_timeout_millis"`
}

type EnergyMeterConfig struct {
	Enable      bool
	BindingAddr string `mapstructure:"binding_addr"`
	Serial      string
}

type MonitorConfig struct {
	PollIntervalMillis  uint32 `mapstructure:"poll_interval_millis"`
	MeterIntervalMillis uint32 `mapstructure:"meter_interval_millis"`
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

func (c InverterConfig) Enabled() bool {
	return c.Host != ""
}

func (c InverterConfig) Options() speedwire.InverterOptions {
	opts := speedwire.DefaultInverterOptions()
	if c.CommandTimeoutMillis > 0 {
		opts.CommandTimeout = time.Duration(c.CommandTimeoutMillis) * time.Millisecond
	}
	opts.CommandDelay = time.Duration(c.CommandDelayMillis) * time.Millisecond
	opts.OverallTimeout = time.Duration(c.OverallTimeoutMillis) * time.Millisecond
	return opts
}

func (c MonitorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

func (c MonitorConfig) MeterInterval() time.Duration {
	return time.Duration(c.MeterIntervalMillis) * time.Millisecond
}

// Validate checks bounds and normalizes the MQTT topics in place.
func Validate(cfg *Config) error {
	// check and fix base topic
	baseTopic, err := CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if !cfg.Inverter.Enabled() && !cfg.EnergyMeter.Enable {
		return errors.New("nothing to monitor. set inverter.host or energy_meter.enable")
	}
	if cfg.Inverter.Enabled() {
		if _, err := speedwire.ParseLoginGroup(cfg.Inverter.Group); err != nil {
			return errors.New("config param inverter.group should be user or installer")
		}
		if cfg.Inverter.Password == "" {
			return errors.New("config param inverter.password is required")
		}
	}

	// check bounds
	if cfg.MonitorConfig.PollIntervalMillis < 2000 {
		return errors.New("config param monitor.poll_interval_millis should be >= 2000")
	}
	if cfg.MonitorConfig.MeterIntervalMillis < 1000 {
		return errors.New("config param monitor.meter_interval_millis should be >= 1000")
	}
	return nil
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
