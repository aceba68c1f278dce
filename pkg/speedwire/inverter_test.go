package speedwire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testInverter(t *testing.T, respond func(frame []byte) [][]byte, metrics *Metrics) (*InverterClient, *fakeTransport) {
	logger := zap.Must(zap.NewDevelopment())
	c, err := CreateInverterReader("192.0.2.10", "user", "xyz", InverterOptions{CommandTimeout: 20 * time.Millisecond}, logger, metrics)
	if err != nil {
		t.Fatal(err)
	}
	ft := newFakeTransport(respond)
	c.dial = func() (Transport, error) {
		return ft, nil
	}
	return c, ft
}

func TestCreateInverterReaderValidation(t *testing.T) {

	assert := assert.New(t)

	_, err := CreateInverterReader("192.0.2.10", "admin", "xyz", DefaultInverterOptions(), nil, nil)
	assert.NotNil(err, "invalid group")

	_, err = CreateInverterReader("192.0.2.10", "user", "", DefaultInverterOptions(), nil, nil)
	assert.NotNil(err, "empty password")
}

func TestInverterDeviceInfo(t *testing.T) {

	assert := assert.New(t)

	c, _ := testInverter(t, responder(0, map[string][][]byte{
		"TypeLabel": {typeLabelResponse()},
		"Firmware":  {firmwareResponse()},
	}), nil)
	defer c.Close()

	err := c.NewSession(context.Background())
	assert.Nil(err)

	info, err := c.GetInfo(context.Background())
	assert.Nil(err)
	assert.Equal("3006543210", info.Serial)
	assert.Equal("Solar Inverters", info.Class)
	assert.Equal("SB 5000SE-10", info.Type)
	assert.Equal("1.2.3.R", info.SwVersion)
	assert.Equal(Manufacturer, info.Manufacturer)

	diag := c.Diagnostics()
	assert.Equal(info, diag.DeviceInfo)
	assert.NotEmpty(diag.SessionID)
	assert.NotEmpty(diag.Messages)
	assert.Contains(diag.IDs, "01")
}

func TestInverterNewSessionWithoutAnswers(t *testing.T) {

	assert := assert.New(t)

	c, _ := testInverter(t, nil, nil)
	c.opts.OverallTimeout = 2 * time.Second
	defer c.Close()

	err := c.NewSession(context.Background())
	var connErr *ConnectionError
	assert.True(errors.As(err, &connErr))
}

func TestInverterReadSensors(t *testing.T) {

	assert := assert.New(t)

	metrics := NewMetrics(prometheus.NewRegistry())
	c, _ := testInverter(t, responder(0, map[string][][]byte{
		"SpotACTotalPower": {registerDatagram(testSerial, 0, 0x51000201, register(0x40263F01, 1523, 0))},
		"EnergyProduction": {registerDatagram(testSerial, 0, 0x54000201, register(0x00260101, 12345678, 0))},
	}), metrics)
	c.opts.CommandTimeout = 5 * time.Millisecond
	defer c.Close()

	assert.Nil(c.Open())
	readings, err := c.ReadSensors(context.Background())
	assert.Nil(err)
	assert.Len(readings, len(DefaultCatalog().Sensors()), "every catalog sensor")
	assert.Equal(1523.0, readings["grid_power"].Value)
	assert.False(readings["grid_power"].Missing)
	assert.Equal(12345.678, readings["total"].Value)
	assert.Equal("kWh", readings["total"].Unit)

	answered := 0
	for _, r := range readings {
		if !r.Missing {
			answered++
		}
	}
	assert.Equal(2, answered)
	assert.True(readings["inverter_type"].Missing)
	assert.Equal("", readings["inverter_type"].Payload())

	// energy_production shares its register range with EnergyProduction
	unanswered := len(DefaultCatalog().QueryCommands()) - 3
	assert.Equal(float64(unanswered), testutil.ToFloat64(metrics.FailedCommands))
	assert.Equal(float64(2*unanswered), testutil.ToFloat64(metrics.Resends))
}

func TestInverterDeviceInfoWithoutAnswers(t *testing.T) {

	assert := assert.New(t)

	c, _ := testInverter(t, nil, nil)
	c.opts.CommandTimeout = 5 * time.Millisecond
	defer c.Close()
	assert.Nil(c.Open())

	info, err := c.GetInfo(context.Background())
	assert.Nil(info)
	var connErr *ConnectionError
	assert.ErrorAs(err, &connErr)
}

func TestInverterDeviceInfoWithLoginOnly(t *testing.T) {

	assert := assert.New(t)

	c, _ := testInverter(t, responder(0, nil), nil)
	c.opts.CommandTimeout = 5 * time.Millisecond
	defer c.Close()
	assert.Nil(c.Open())

	info, err := c.GetInfo(context.Background())
	assert.Nil(info)
	var readErr *ReadError
	assert.ErrorAs(err, &readErr)
}

func TestInverterReadSensorsWithoutAnswers(t *testing.T) {

	assert := assert.New(t)

	c, _ := testInverter(t, nil, nil)
	c.opts.CommandTimeout = time.Millisecond
	c.opts.OverallTimeout = 10 * time.Second
	defer c.Close()
	assert.Nil(c.Open())

	readings, err := c.ReadSensors(context.Background())
	assert.Nil(readings)
	var connErr *ConnectionError
	assert.ErrorAs(err, &connErr)
}

func TestInverterLogoff(t *testing.T) {

	assert := assert.New(t)

	c, ft := testInverter(t, nil, nil)
	defer c.Close()
	assert.Nil(c.Logoff(), "not open is a no-op")

	assert.Nil(c.Open())
	assert.Nil(c.Logoff())
	frames := ft.sentFrames()
	assert.Len(frames, 1)
	code, _ := frameCommand(frames[0])
	assert.Equal(uint32(0xFFFD010E), code)
}

func TestDiagnosticsCBOR(t *testing.T) {

	assert := assert.New(t)

	c, _ := testInverter(t, responder(0, map[string][][]byte{
		"TypeLabel": {typeLabelResponse()},
	}), nil)
	defer c.Close()
	assert.Nil(c.Open())
	_, err := c.DeviceList(context.Background())
	assert.Nil(err)

	snapshot := c.Diagnostics()
	data, err := EncodeCBOR(snapshot)
	assert.Nil(err)

	var decoded InverterDiagnostics
	assert.Nil(DecodeCBOR(data, &decoded))
	assert.Equal(snapshot.SessionID, decoded.SessionID)
	assert.Equal(snapshot.SendCounter, decoded.SendCounter)
	assert.Equal(snapshot.FailedCounter, decoded.FailedCounter)
	assert.Equal(1, decoded.FailedCounter, "Firmware unanswered")
	assert.Equal(snapshot.DeviceInfo, decoded.DeviceInfo)
}
