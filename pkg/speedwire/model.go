package speedwire

import (
	"context"
	"time"
)

const (
	Port           = 9522
	MulticastGroup = "239.12.255.254"
	Manufacturer   = "SMA"
)

type DeviceInfo struct {
	Serial       string `json:"serial" cbor:"serial"`
	Name         string `json:"name" cbor:"name"`
	Type         string `json:"type" cbor:"type"`
	Class        string `json:"class" cbor:"class"`
	Manufacturer string `json:"manufacturer" cbor:"manufacturer"`
	SwVersion    string `json:"sw_version" cbor:"sw_version"`
}

type InverterOptions struct {
	CommandTimeout time.Duration
	CommandDelay   time.Duration
	// zero derives the bound from the command delay
	OverallTimeout time.Duration
}

func DefaultInverterOptions() InverterOptions {
	return InverterOptions{
		CommandTimeout: 500 * time.Millisecond,
	}
}

// overallTimeout is 5s plus one command delay per catalog command.
func (o InverterOptions) overallTimeout(catalog *Catalog) time.Duration {
	if o.OverallTimeout > 0 {
		return o.OverallTimeout
	}
	return 5*time.Second + time.Duration(len(catalog.commandOrder))*o.CommandDelay
}

// SessionTimeout bounds one inverter session run against the default catalog.
func (o InverterOptions) SessionTimeout() time.Duration {
	return o.overallTimeout(DefaultCatalog())
}

type InverterReader interface {
	Open() error
	Close() error
	NewSession(ctx context.Context) error
	GetInfo(ctx context.Context) (*DeviceInfo, error)
	DeviceList(ctx context.Context) (map[string]*DeviceInfo, error)
	ReadSensors(ctx context.Context) (Readings, error)
	Logoff() error
	Diagnostics() InverterDiagnostics
}

type MeterReadings struct {
	Serial   string
	Device   string
	Address  string
	Readings Readings
}

type EnergyMeterReader interface {
	Open() error
	Close() error
	NewSession(ctx context.Context) error
	DeviceList(ctx context.Context) (map[string]*DeviceInfo, error)
	// ReadSensors waits for the next packet, from serial when not empty.
	ReadSensors(ctx context.Context, serial string) (*MeterReadings, error)
	Diagnostics() MeterDiagnostics
}
