package speedwire

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

const (
	meterReadTimeout      = 2 * time.Second
	meterDeviceListWindow = 2100 * time.Millisecond
)

type packetMeta struct {
	addr      string
	timestamp uint32
}

type meterWaiter struct {
	serial string
	ch     chan *Telemetry
}

// EnergyMeterClient listens to the multicast telemetry of energy meters.
type EnergyMeterClient struct {
	bindingAddrs []string
	catalog      *Catalog
	logger       *zap.Logger
	metrics      *Metrics
	instrument   []Instrument
	readTimeout  time.Duration
	listWindow   time.Duration
	listen       func() (Transport, error)
	diag         *meterDiagnostics
	overlay      *SensorOverlay

	mu        sync.Mutex
	transport Transport
	waiters   []*meterWaiter
	lastMeta  packetMeta
}

// CreateEnergyMeterReader builds a client joining the multicast group on the
// interfaces owning the comma separated bindingAddr addresses, or on the
// default interface when empty.
func CreateEnergyMeterReader(bindingAddr string, logger *zap.Logger, metrics *Metrics) (*EnergyMeterClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var addrs []string
	for _, a := range strings.Split(bindingAddr, ",") {
		if a = strings.TrimSpace(a); a != "" {
			if net.ParseIP(a) == nil {
				return nil, fmt.Errorf("invalid binding address %q: IP of the interfaces must be used", a)
			}
			addrs = append(addrs, a)
		}
	}
	catalog := DefaultCatalog()
	clientLogger := logger.With(zap.String("target", "energyMeter"))
	c := &EnergyMeterClient{
		bindingAddrs: addrs,
		catalog:      catalog,
		logger:       clientLogger,
		metrics:      metrics,
		instrument:   buildInstruments(clientLogger, metrics.Instrument()),
		readTimeout:  meterReadTimeout,
		listWindow:   meterDeviceListWindow,
		diag:         newMeterDiagnostics(),
		overlay:      NewSensorOverlay(catalog, clientLogger),
	}
	c.listen = func() (Transport, error) {
		return ListenMulticast(addrs, clientLogger)
	}
	return c, nil
}

func (c *EnergyMeterClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport != nil {
		return nil
	}
	if len(c.bindingAddrs) > 0 {
		c.logger.Info("binding multicast", zap.Strings("addrs", c.bindingAddrs))
	}
	t, err := c.listen()
	if err != nil {
		return &ConnectionError{Target: MulticastGroup, Reason: "could not start multicast", Err: err}
	}
	c.transport = t
	go c.dispatch(t.Datagrams())
	return nil
}

func (c *EnergyMeterClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.transport == nil {
		return nil
	}
	err := c.transport.Close()
	c.transport = nil
	return err
}

// NewSession opens the listener and waits for the first usable datagram.
func (c *EnergyMeterClient) NewSession(ctx context.Context) error {
	defer RecordTimer("NewSession", c.instrument)()
	if err := c.Open(); err != nil {
		return err
	}
	t, err := c.NextValues(ctx, "")
	if err != nil {
		return err
	}
	if len(t.Values) == 0 {
		return &ReadError{Target: t.Address, Reason: "no usable data received"}
	}
	return nil
}

// NextValues waits for the next non duplicate datagram, from serial when not
// empty. Nothing arriving within the read timeout is a ConnectionError.
func (c *EnergyMeterClient) NextValues(ctx context.Context, serial string) (*Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	w := &meterWaiter{serial: serial, ch: make(chan *Telemetry, 1)}
	c.mu.Lock()
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()
	defer c.removeWaiter(w)

	select {
	case <-ctx.Done():
		if err := ctx.Err(); errors.Is(err, context.DeadlineExceeded) {
			return nil, &ConnectionError{Target: MulticastGroup, Reason: "no speedwire packet received", Err: err}
		}
		return nil, ctx.Err()
	case t := <-w.ch:
		return t, nil
	}
}

func (c *EnergyMeterClient) DeviceList(ctx context.Context) (map[string]*DeviceInfo, error) {
	defer RecordTimer("DeviceList", c.instrument)()
	devices := map[string]*DeviceInfo{}
	deadline := time.Now().Add(c.listWindow)
	for time.Now().Before(deadline) {
		t, err := c.NextValues(ctx, "")
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil && len(devices) > 0 {
				break
			}
			return nil, err
		}
		serial := t.SerialString()
		if _, ok := devices[serial]; ok {
			continue
		}
		sw := ""
		if v, ok := t.Values[ObisVersionKey]; ok {
			sw = v.Text
		}
		devices[serial] = &DeviceInfo{
			Serial:       serial,
			Name:         serial,
			Type:         t.Device,
			Class:        strconv.Itoa(int(t.SusyID)),
			Manufacturer: Manufacturer,
			SwVersion:    sw,
		}
	}
	return devices, nil
}

func (c *EnergyMeterClient) ReadSensors(ctx context.Context, serial string) (*MeterReadings, error) {
	defer RecordTimer("ReadSensors", c.instrument)()
	t, err := c.NextValues(ctx, serial)
	if err != nil {
		return nil, err
	}
	readings, missing := t.Readings(c.overlay)
	if len(missing) > 0 {
		c.logger.Info("no values for sensors", zap.String("sensors", strings.Join(missing, ",")))
	}
	return &MeterReadings{
		Serial:   t.SerialString(),
		Device:   t.Device,
		Address:  t.Address,
		Readings: readings,
	}, nil
}

func (c *EnergyMeterClient) Diagnostics() MeterDiagnostics {
	return c.diag.snapshot()
}

func (c *EnergyMeterClient) dispatch(datagrams <-chan Datagram) {
	for dg := range datagrams {
		t := c.process(dg)
		if t == nil {
			continue
		}
		c.mu.Lock()
		for _, w := range c.waiters {
			if w.serial != "" && w.serial != t.SerialString() {
				continue
			}
			select {
			case w.ch <- t:
			default:
			}
		}
		c.mu.Unlock()
	}
}

// process decodes one datagram and records it. Duplicates, which arrive once
// per joined interface, yield nil.
func (c *EnergyMeterClient) process(dg Datagram) *Telemetry {
	protocol := ""
	if h, err := ParseHeader(dg.Data); err == nil {
		protocol = fmt.Sprintf("%04x", h.ProtocolID)
	}
	c.diag.packet(dg.Data, protocol)

	addr := ""
	if dg.Addr != nil {
		addr = dg.Addr.String()
	}
	t, err := DecodeTelemetry(c.catalog, dg.Data, addr, c.logger)
	if err != nil {
		c.metrics.meterPacket("ignored")
		return nil
	}

	meta := packetMeta{addr: addr, timestamp: t.Timestamp}
	c.mu.Lock()
	duplicate := c.lastMeta == meta
	c.lastMeta = meta
	c.mu.Unlock()
	if duplicate {
		c.metrics.meterPacket("duplicate")
		return nil
	}
	if t.Truncated {
		c.logger.Debug("truncated telemetry datagram", zap.String("addr", addr), zap.Int("len", len(dg.Data)))
		c.metrics.meterPacket("truncated")
	} else {
		c.metrics.meterPacket("decoded")
	}
	c.diag.valid(dg.Data, t)
	return t
}

func (c *EnergyMeterClient) removeWaiter(w *meterWaiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, other := range c.waiters {
		if other == w {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return
		}
	}
}

// MulticastTransport is a listener on the Speedwire port joined to the
// telemetry group.
type MulticastTransport struct {
	conn      *ipv4.PacketConn
	raw       net.PacketConn
	group     *net.UDPAddr
	datagrams chan Datagram
	done      chan struct{}
	closeOnce sync.Once
}

func ListenMulticast(bindingAddrs []string, logger *zap.Logger) (*MulticastTransport, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	raw, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort("0.0.0.0", strconv.Itoa(Port)))
	if err != nil {
		return nil, err
	}
	group := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: Port}
	p := ipv4.NewPacketConn(raw)
	if len(bindingAddrs) == 0 {
		if err := p.JoinGroup(nil, group); err != nil {
			raw.Close()
			return nil, err
		}
	}
	for _, addr := range bindingAddrs {
		ifi, err := interfaceByIP(addr)
		if err == nil {
			err = p.JoinGroup(ifi, group)
		}
		if err != nil {
			raw.Close()
			return nil, fmt.Errorf("could not start multicast for %s, IP of the interfaces must be used: %w", addr, err)
		}
	}
	t := &MulticastTransport{
		conn:      p,
		raw:       raw,
		group:     group,
		datagrams: make(chan Datagram, 64),
		done:      make(chan struct{}),
	}
	go readLoop(raw, t.datagrams, t.done, logger)
	return t, nil
}

func (t *MulticastTransport) Send(frame []byte) error {
	_, err := t.conn.WriteTo(frame, nil, t.group)
	return err
}

func (t *MulticastTransport) Datagrams() <-chan Datagram {
	return t.datagrams
}

func (t *MulticastTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

func interfaceByIP(addr string) (*net.Interface, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return nil, fmt.Errorf("invalid address %s", addr)
	}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for i := range ifaces {
		addrs, err := ifaces[i].Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.Equal(ip) {
				return &ifaces[i], nil
			}
		}
	}
	return nil, fmt.Errorf("no interface with address %s", addr)
}
