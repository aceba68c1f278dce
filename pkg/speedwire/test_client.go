package speedwire

import (
	"context"
)

func CreateTestInverterReader() (InverterReader, error) {
	return TestInverterReader{}, nil
}

func CreateTestEnergyMeterReader() (EnergyMeterReader, error) {
	return TestEnergyMeterReader{}, nil
}

// Inverter

type TestInverterReader struct {
}

func (inv TestInverterReader) Open() error {
	return nil
}

func (inv TestInverterReader) Close() error {
	return nil
}

func (inv TestInverterReader) NewSession(ctx context.Context) error {
	return nil
}

func (inv TestInverterReader) GetInfo(ctx context.Context) (*DeviceInfo, error) {
	return &DeviceInfo{
		Serial:       "3006543210",
		Name:         "3006543210",
		Type:         "SB 5.0-1AV-41",
		Class:        "Solar Inverters",
		Manufacturer: Manufacturer,
		SwVersion:    "4.1.4.R",
	}, nil
}

func (inv TestInverterReader) DeviceList(ctx context.Context) (map[string]*DeviceInfo, error) {
	info, _ := inv.GetInfo(ctx)
	return map[string]*DeviceInfo{info.Serial: info}, nil
}

func (inv TestInverterReader) ReadSensors(ctx context.Context) (Readings, error) {
	catalog := DefaultCatalog()
	overlay := NewSensorOverlay(catalog, nil)
	readings := Readings{}
	add := func(code string, raw Value) {
		rules, _ := catalog.Lookup(code)
		s, _ := rules[0].Target.Resolve(0)
		readings[s.Key] = overlay.Reading(s, raw)
	}
	add("40263F01", NumberValue(1523))
	add("00260101", NumberValue(12345678))
	add("00823401", TextValue("4.1.4.R"))
	return readings, nil
}

func (inv TestInverterReader) Logoff() error {
	return nil
}

func (inv TestInverterReader) Diagnostics() InverterDiagnostics {
	return InverterDiagnostics{SessionID: "test"}
}

// Energy meter

type TestEnergyMeterReader struct {
}

func (m TestEnergyMeterReader) Open() error {
	return nil
}

func (m TestEnergyMeterReader) Close() error {
	return nil
}

func (m TestEnergyMeterReader) NewSession(ctx context.Context) error {
	return nil
}

func (m TestEnergyMeterReader) DeviceList(ctx context.Context) (map[string]*DeviceInfo, error) {
	return map[string]*DeviceInfo{
		"1900123456": {
			Serial:       "1900123456",
			Name:         "1900123456",
			Type:         "Energy Meter 2",
			Class:        "349",
			Manufacturer: Manufacturer,
			SwVersion:    "2.3.4.R",
		},
	}, nil
}

func (m TestEnergyMeterReader) ReadSensors(ctx context.Context, serial string) (*MeterReadings, error) {
	catalog := DefaultCatalog()
	overlay := NewSensorOverlay(catalog, nil)
	readings := Readings{}
	for key, raw := range map[string]int64{"1:4:0": 4312, "2:4:0": 0, "1:8:0": 3600000 * 1520} {
		s, _ := catalog.Obis(key)
		readings[key] = overlay.Reading(s, NumberValue(raw))
	}
	return &MeterReadings{
		Serial:   "1900123456",
		Device:   "Energy Meter 2",
		Address:  "192.168.1.40:9522",
		Readings: readings,
	}, nil
}

func (m TestEnergyMeterReader) Diagnostics() MeterDiagnostics {
	return MeterDiagnostics{Serial: []uint32{1900123456}, Protocol: []string{"6069"}}
}
