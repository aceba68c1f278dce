package speedwire

import (
	"encoding/hex"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

const (
	TraceSend  = "SEND"
	TraceRecv  = "RECV"
	TraceTotal = "TOTAL"
)

type TraceEntry struct {
	Kind    string  `json:"kind" cbor:"kind"`
	Command string  `json:"command,omitempty" cbor:"command,omitempty"`
	Length  int     `json:"length,omitempty" cbor:"length,omitempty"`
	Hex     string  `json:"hex,omitempty" cbor:"hex,omitempty"`
	Seconds float64 `json:"seconds,omitempty" cbor:"seconds,omitempty"`
}

// InverterDiagnostics is a snapshot of an inverter client's counters and
// message trace.
type InverterDiagnostics struct {
	SessionID     string         `json:"session_id" cbor:"session_id"`
	Messages      []TraceEntry   `json:"msg" cbor:"msg"`
	Data          map[string]any `json:"data" cbor:"data"`
	Unfinished    []string       `json:"unfinished" cbor:"unfinished"`
	IDs           []string       `json:"ids" cbor:"ids"`
	SendCounter   int            `json:"sendcounter" cbor:"sendcounter"`
	ResendCounter int            `json:"resendcounter" cbor:"resendcounter"`
	FailedCounter int            `json:"failedCounter" cbor:"failedCounter"`
	Timeouts      int            `json:"timeouts" cbor:"timeouts"`
	DeviceInfo    *DeviceInfo    `json:"device_info,omitempty" cbor:"device_info,omitempty"`
}

// inverterDiagnostics is owned by one client. The sequencer writes to it while
// the bridge reads snapshots from another goroutine.
type inverterDiagnostics struct {
	mu         sync.Mutex
	sessionID  string
	traceSize  int
	messages   []TraceEntry
	data       map[string]any
	unfinished map[string]struct{}
	ids        map[string]struct{}
	sent       int
	resent     int
	failed     int
	timeouts   int
	deviceInfo *DeviceInfo
}

func newInverterDiagnostics(traceSize int) *inverterDiagnostics {
	return &inverterDiagnostics{
		sessionID:  uuid.NewString(),
		traceSize:  traceSize,
		data:       map[string]any{},
		unfinished: map[string]struct{}{},
		ids:        map[string]struct{}{},
	}
}

func (d *inverterDiagnostics) newSession() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessionID = uuid.NewString()
	return d.sessionID
}

func (d *inverterDiagnostics) trace(e TraceEntry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.messages = append(d.messages, e)
	if len(d.messages) > d.traceSize {
		d.messages = d.messages[len(d.messages)-d.traceSize:]
	}
}

func (d *inverterDiagnostics) traceSend(command string) {
	d.trace(TraceEntry{Kind: TraceSend, Command: command})
}

func (d *inverterDiagnostics) traceRecv(data []byte, delta time.Duration) {
	d.trace(TraceEntry{
		Kind:    TraceRecv,
		Length:  len(data),
		Hex:     strings.ToUpper(hex.EncodeToString(data)),
		Seconds: roundSeconds(delta),
	})
}

func (d *inverterDiagnostics) traceTotal(elapsed time.Duration) {
	d.trace(TraceEntry{Kind: TraceTotal, Seconds: roundSeconds(elapsed)})
}

func (d *inverterDiagnostics) decoded(dg *DecodedDatagram) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, code := range dg.Unknown {
		d.unfinished[code] = struct{}{}
	}
	for _, id := range dg.IDs {
		d.ids[id] = struct{}{}
	}
}

func (d *inverterDiagnostics) count(sent, resent, failed int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent += sent
	d.resent += resent
	d.failed += failed
}

func (d *inverterDiagnostics) timeout() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeouts++
}

func (d *inverterDiagnostics) setData(values map[string]any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = make(map[string]any, len(values))
	for k, v := range values {
		d.data[k] = v
	}
}

func (d *inverterDiagnostics) setDeviceInfo(info *DeviceInfo) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.deviceInfo = info
}

func (d *inverterDiagnostics) snapshot() InverterDiagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()
	data := make(map[string]any, len(d.data))
	for k, v := range d.data {
		data[k] = v
	}
	var info *DeviceInfo
	if d.deviceInfo != nil {
		c := *d.deviceInfo
		info = &c
	}
	return InverterDiagnostics{
		SessionID:     d.sessionID,
		Messages:      slices.Clone(d.messages),
		Data:          data,
		Unfinished:    sortedKeys(d.unfinished),
		IDs:           sortedKeys(d.ids),
		SendCounter:   d.sent,
		ResendCounter: d.resent,
		FailedCounter: d.failed,
		Timeouts:      d.timeouts,
		DeviceInfo:    info,
	}
}

// MeterDiagnostics is a snapshot of an energy meter client's packet history.
type MeterDiagnostics struct {
	Serial          []uint32       `json:"serial" cbor:"serial"`
	Protocol        []string       `json:"protocol" cbor:"protocol"`
	LastPacket      []byte         `json:"last_packet" cbor:"last_packet"`
	LastValidPacket []byte         `json:"last_valid_packet" cbor:"last_valid_packet"`
	LastData        map[string]any `json:"last_data" cbor:"last_data"`
}

type meterDiagnostics struct {
	mu              sync.Mutex
	serials         map[uint32]struct{}
	protocols       map[string]struct{}
	lastPacket      []byte
	lastValidPacket []byte
	lastData        map[string]any
}

func newMeterDiagnostics() *meterDiagnostics {
	return &meterDiagnostics{
		serials:   map[uint32]struct{}{},
		protocols: map[string]struct{}{},
	}
}

func (d *meterDiagnostics) packet(data []byte, protocol string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPacket = slices.Clone(data)
	if protocol != "" {
		d.protocols[protocol] = struct{}{}
	}
}

func (d *meterDiagnostics) valid(data []byte, t *Telemetry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.serials[t.Serial] = struct{}{}
	d.lastValidPacket = slices.Clone(data)
	d.lastData = t.asMap()
}

func (d *meterDiagnostics) snapshot() MeterDiagnostics {
	d.mu.Lock()
	defer d.mu.Unlock()
	serials := make([]uint32, 0, len(d.serials))
	for s := range d.serials {
		serials = append(serials, s)
	}
	slices.Sort(serials)
	return MeterDiagnostics{
		Serial:          serials,
		Protocol:        sortedKeys(d.protocols),
		LastPacket:      slices.Clone(d.lastPacket),
		LastValidPacket: slices.Clone(d.lastValidPacket),
		LastData:        d.lastData,
	}
}

// EncodeCBOR serializes a diagnostics snapshot for capture files.
func EncodeCBOR(v any) ([]byte, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	return em.Marshal(v)
}

func DecodeCBOR(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func sortedKeys(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func roundSeconds(d time.Duration) float64 {
	return float64(d.Round(10*time.Millisecond).Milliseconds()) / 1000
}
