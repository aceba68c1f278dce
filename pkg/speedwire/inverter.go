package speedwire

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var deviceInfoCommands = []string{"TypeLabel", "Firmware"}

// InverterClient reads one inverter over an authenticated 6065 session.
type InverterClient struct {
	host     string
	group    LoginGroup
	password string
	opts     InverterOptions
	catalog  *Catalog
	logger   *zap.Logger
	metrics  *Metrics

	instrument []Instrument
	dial       func() (Transport, error)
	diag       *inverterDiagnostics

	mu        sync.Mutex
	transport Transport
	seq       *Sequencer
}

func CreateInverterReader(host string, group string, password string, opts InverterOptions,
	logger *zap.Logger, metrics *Metrics) (*InverterClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	g, err := ParseLoginGroup(group)
	if err != nil {
		return nil, err
	}
	if password == "" {
		return nil, errors.New("password not set")
	}
	if host == "" {
		return nil, errors.New("inverter host not set")
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultInverterOptions().CommandTimeout
	}
	catalog := DefaultCatalog()
	clientLogger := logger.With(zap.String("target", "inverter"), zap.String("inverter", host))
	c := &InverterClient{
		host:       host,
		group:      g,
		password:   password,
		opts:       opts,
		catalog:    catalog,
		logger:     clientLogger,
		metrics:    metrics,
		instrument: buildInstruments(clientLogger, metrics.Instrument()),
		diag:       newInverterDiagnostics(len(catalog.commandOrder) * 10),
	}
	c.dial = func() (Transport, error) {
		return DialUDP(host, clientLogger)
	}
	return c, nil
}

func (c *InverterClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		return nil
	}
	t, err := c.dial()
	if err != nil {
		return &ConnectionError{Target: c.target(), Reason: "open endpoint", Err: err}
	}
	c.transport = t
	c.seq = newSequencer(c.target(), t, c.catalog, c.password, c.group, c.opts, c.logger, c.diag, c.metrics)
	return nil
}

func (c *InverterClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	c.seq = nil
	return err
}

// NewSession opens the endpoint and checks address and credentials with a
// device info query.
func (c *InverterClient) NewSession(ctx context.Context) error {
	defer RecordTimer("NewSession", c.instrument)()
	if err := c.Open(); err != nil {
		return err
	}
	sessionID := c.diag.newSession()
	c.logger.Debug("new session", zap.String("session", sessionID))
	_, err := c.GetInfo(ctx)
	return err
}

func (c *InverterClient) GetInfo(ctx context.Context) (*DeviceInfo, error) {
	devices, err := c.DeviceList(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		return d, nil
	}
	return nil, &ReadError{Target: c.target(), Reason: "no device info"}
}

func (c *InverterClient) DeviceList(ctx context.Context) (map[string]*DeviceInfo, error) {
	defer RecordTimer("DeviceList", c.instrument)()
	result, err := c.run(ctx, deviceInfoCommands)
	if err != nil {
		return nil, err
	}
	data := result.Values

	serial, _ := data["serial"].(string)
	firmware, _ := data["Firmware"].(string)
	_, hasType := data["inverter_type"]
	if serial == "" || (!hasType && firmware == "") {
		c.logger.Warn("no device info received", zap.Any("values", data))
		return nil, &ReadError{Target: c.target(), Reason: "no usable device info"}
	}
	info := &DeviceInfo{
		Serial:       serial,
		Name:         serial,
		Type:         c.catalog.DeviceTypeLabel(numericValue(data["inverter_type"])),
		Class:        c.catalog.DeviceClassLabel(numericValue(data["inverter_class"])),
		Manufacturer: Manufacturer,
		SwVersion:    firmware,
	}
	c.diag.setDeviceInfo(info)
	return map[string]*DeviceInfo{serial: info}, nil
}

// ReadSensors runs every query command. The result holds every catalog
// sensor; the ones the device did not report have no value.
func (c *InverterClient) ReadSensors(ctx context.Context) (Readings, error) {
	defer RecordTimer("ReadSensors", c.instrument)()
	result, err := c.run(ctx, c.catalog.QueryCommands())
	if err != nil {
		return nil, err
	}
	readings := make(Readings, len(result.Readings))
	var missing []string
	for _, s := range c.catalog.Sensors() {
		r, ok := result.Readings[s.Key]
		if !ok {
			missing = append(missing, s.Name)
			r = missingReading(s)
		}
		readings[s.Key] = r
	}
	if len(missing) > 0 {
		c.logger.Info("no values for sensors", zap.String("sensors", strings.Join(missing, ",")))
	}
	return readings, nil
}

func (c *InverterClient) Logoff() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	frame := c.seq.encoder.LogoffFrame()
	c.diag.traceSend(CommandLogoff)
	c.metrics.frameSent(CommandLogoff)
	return c.transport.Send(frame)
}

func (c *InverterClient) Diagnostics() InverterDiagnostics {
	return c.diag.snapshot()
}

func (c *InverterClient) run(ctx context.Context, commands []string) (*SessionResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.seq == nil {
		return nil, &ConnectionError{Target: c.target(), Reason: "endpoint not open"}
	}
	result, err := c.seq.Run(ctx, commands)
	if err != nil {
		return nil, err
	}
	if result.Failed >= result.Sent {
		return nil, &ConnectionError{Target: c.target(), Reason: "no command answered"}
	}
	return result, nil
}

func (c *InverterClient) target() string {
	return net.JoinHostPort(c.host, strconv.Itoa(Port))
}

func numericValue(v any) uint32 {
	switch n := v.(type) {
	case float64:
		return uint32(n)
	case int:
		return uint32(n)
	case int64:
		return uint32(n)
	case uint32:
		return n
	default:
		return 0
	}
}
