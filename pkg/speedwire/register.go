package speedwire

import (
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"
)

type DatagramKind int

const (
	DatagramIgnored DatagramKind = iota
	DatagramNack
	DatagramLogin
	DatagramRejected
	DatagramRegisters
)

func (k DatagramKind) String() string {
	switch k {
	case DatagramIgnored:
		return "ignored"
	case DatagramNack:
		return "nack"
	case DatagramLogin:
		return "login"
	case DatagramRejected:
		return "rejected"
	case DatagramRegisters:
		return "registers"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Confirms reports whether the datagram answers the command in flight.
func (k DatagramKind) Confirms() bool {
	return k != DatagramIgnored
}

var validRegisterWidths = []int{16, 28, 40}

// sentinel bit patterns meaning "no value"
var (
	uintSentinels = []uint32{0xFFFFFFFF, 0x80000000, 0xFFFFFFEC, 0x00FFFFFE}
	intSentinels  = []uint32{0xFFFFFFFF, 0x80000000, 0x00FFFFFE}
)

type LoginResult struct {
	Error  uint16
	Serial uint32
}

func (l LoginResult) AuthFailed() bool {
	return l.Error == loginErrorAuth
}

// Extraction is one value extracted for one sensor. Value is nil when the
// register held a sentinel.
type Extraction struct {
	Code      string
	Register  int
	Sensor    *Sensor
	Value     *Value
	Overwrite bool
}

type DecodedDatagram struct {
	Kind        DatagramKind
	Code        uint32
	Header      *RegisterHeader
	Login       *LoginResult
	Count       int
	Width       int
	Extractions []Extraction
	Unknown     []string
	IDs         []string
}

// RegisterDecoder decodes 6065 datagrams. It holds no state besides the
// read-only catalog, so decoding the same datagram twice yields the same result.
type RegisterDecoder struct {
	catalog *Catalog
	logger  *zap.Logger
}

func NewRegisterDecoder(catalog *Catalog, logger *zap.Logger) *RegisterDecoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RegisterDecoder{catalog: catalog, logger: logger}
}

// RegisterLayout derives register count and width from the datagram length.
// The width is never transmitted.
func RegisterLayout(datagramLength int, first, last uint32) (count int, width int, ok bool) {
	count = int(int64(last) - int64(first) + 1)
	payload := datagramLength - registerPayloadOffset - registerTrailerSize
	if count <= 0 || payload <= 0 || payload%count != 0 {
		return count, -1, false
	}
	width = payload / count
	for _, w := range validRegisterWidths {
		if w == width {
			return count, width, true
		}
	}
	return count, width, false
}

func (d *RegisterDecoder) Decode(data []byte) *DecodedDatagram {
	h, err := ParseHeader(data)
	if err != nil || !h.Is6065() {
		protocol := uint16(0)
		if h != nil {
			protocol = h.ProtocolID
		}
		d.logger.Debug("ignoring non 6065 datagram", zap.Uint16("protocol", protocol))
		return &DecodedDatagram{Kind: DatagramIgnored}
	}

	if len(data) < minRegisterDatagram {
		d.logger.Debug("nack", zap.Int("len", len(data)))
		return &DecodedDatagram{Kind: DatagramNack}
	}

	rh, _ := ParseRegisterHeader(data)
	if rh.IsLoginResponse() {
		return &DecodedDatagram{
			Kind:   DatagramLogin,
			Header: rh,
			Login:  &LoginResult{Error: rh.Error, Serial: rh.SrcSerial},
		}
	}

	code := binary.LittleEndian.Uint32(data[registerPayloadOffset : registerPayloadOffset+4])
	if len(data) == minRegisterDatagram && code&0x00FFFF00 == 0 {
		d.logger.Debug("nack", zap.Int("len", len(data)), zap.String("code", fmt.Sprintf("%08X", code)))
		return &DecodedDatagram{Kind: DatagramNack, Header: rh, Code: code}
	}

	count, width, ok := RegisterLayout(len(data), rh.FirstRegister, rh.LastRegister)
	out := &DecodedDatagram{
		Kind:   DatagramRegisters,
		Code:   code,
		Header: rh,
		Count:  count,
		Width:  width,
	}
	if !ok {
		d.logger.Warn("skipping datagram with invalid register layout",
			zap.Int("len", len(data)),
			zap.Int("registers", count),
			zap.Int("width", width))
		out.Kind = DatagramRejected
		return out
	}

	for i := 0; i < count; i++ {
		start := registerPayloadOffset + i*width
		d.decodeRegister(out, data[start:start+width], i)
	}
	return out
}

func (d *RegisterDecoder) decodeRegister(out *DecodedDatagram, reg []byte, registerIdx int) {
	raw := binary.LittleEndian.Uint32(reg[0:4])
	code := fmt.Sprintf("%08X", raw)
	out.IDs = append(out.IDs, code[6:])
	code = d.catalog.Normalize(code)

	rules, ok := d.catalog.Lookup(code)
	if !ok {
		var values []int32
		for off := 8; off+4 <= len(reg); off += 4 {
			values = append(values, int32(binary.LittleEndian.Uint32(reg[off:off+4])))
		}
		d.logger.Warn("no handler for response code",
			zap.String("code", code),
			zap.Int("register", registerIdx),
			zap.Int32s("values", values))
		out.Unknown = append(out.Unknown, code)
		return
	}

	for _, rule := range rules {
		if rule.Target == nil {
			continue
		}
		values := extractValues(rule, reg)

		var v *Value
		if rule.Idx == IdxScan {
			v = scanFlagged(values)
		} else if rule.Idx < len(values) {
			v = values[rule.Idx]
		} else {
			d.logger.Warn("value index out of range",
				zap.String("code", code),
				zap.Int("idx", rule.Idx),
				zap.Int("values", len(values)))
			continue
		}

		sensor, ok := rule.Target.Resolve(registerIdx)
		if !ok {
			d.logger.Warn("no sensor for register index",
				zap.String("code", code),
				zap.Int("register", registerIdx))
			continue
		}
		out.Extractions = append(out.Extractions, Extraction{
			Code:      code,
			Register:  registerIdx,
			Sensor:    sensor,
			Value:     v,
			Overwrite: rule.Overwrite,
		})
	}
}

func extractValues(rule Rule, reg []byte) []*Value {
	sentinels := uintSentinels
	if rule.Format == FormatInt {
		sentinels = intSentinels
	}
	var values []*Value
	for off := 8; off+4 <= len(reg); off += 4 {
		bits := binary.LittleEndian.Uint32(reg[off : off+4])
		if isSentinel(bits, sentinels) {
			values = append(values, nil)
			continue
		}
		var v Value
		switch rule.Format {
		case FormatVersion:
			v = TextValue(VersionToString(bits))
		case FormatInt:
			if rule.HasMask {
				bits &= rule.Mask
				v = NumberValue(int64(bits))
			} else {
				v = NumberValue(int64(int32(bits)))
			}
		default:
			if rule.HasMask {
				bits &= rule.Mask
			}
			v = NumberValue(int64(bits))
		}
		values = append(values, &v)
	}
	return values
}

// scanFlagged picks the first value whose top byte is set and returns its
// low 24 bits.
func scanFlagged(values []*Value) *Value {
	for _, v := range values {
		if v == nil || v.IsText {
			continue
		}
		if uint32(v.Number)&0xFF000000 != 0 {
			out := NumberValue(int64(uint32(v.Number) & 0x00FFFFFF))
			return &out
		}
	}
	return nil
}

func isSentinel(bits uint32, sentinels []uint32) bool {
	for _, s := range sentinels {
		if bits == s {
			return true
		}
	}
	return false
}
