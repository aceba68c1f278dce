package speedwire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	ProtocolRegister  = 0x6065
	ProtocolTelemetry = 0x6069
	ProtocolDiscovery = 0x0001

	HeaderSize          = 18
	RegisterHeaderSize  = 36
	TelemetryHeaderSize = 10

	// offset of the first register in a 6065 datagram
	registerPayloadOffset = HeaderSize + RegisterHeaderSize
	registerTrailerSize   = 4
	minRegisterDatagram   = registerPayloadOffset + 4

	loginResponseCommand = 0xFFFD040D
	loginErrorAuth       = 256
)

var magic = []byte("SMA\x00")

var ErrShortDatagram = errors.New("speedwire: datagram too short")

// Header is the 18 byte outer envelope shared by every Speedwire datagram.
type Header struct {
	Magic      [4]byte
	TagLength  uint16
	Tag        uint16
	Group      uint32
	Length     uint16
	Tag0x10    uint16
	ProtocolID uint16
}

func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, ErrShortDatagram
	}
	h := &Header{
		TagLength:  binary.BigEndian.Uint16(data[4:6]),
		Tag:        binary.BigEndian.Uint16(data[6:8]),
		Group:      binary.BigEndian.Uint32(data[8:12]),
		Length:     binary.BigEndian.Uint16(data[12:14]),
		Tag0x10:    binary.BigEndian.Uint16(data[14:16]),
		ProtocolID: binary.BigEndian.Uint16(data[16:18]),
	}
	copy(h.Magic[:], data[0:4])
	return h, nil
}

func (h *Header) envelopeValid() bool {
	return bytes.Equal(h.Magic[:], magic) && h.TagLength == 4 && h.Tag == 0x02A0 && h.Group == 1
}

// Is6065 reports a register query/response datagram. Size is not checked here.
func (h *Header) Is6065() bool {
	return h.envelopeValid() && h.Tag0x10 == 0x10 && h.ProtocolID == ProtocolRegister
}

func (h *Header) Is6069() bool {
	return h.envelopeValid() && h.Tag0x10 == 0x10 && h.ProtocolID == ProtocolTelemetry
}

func (h *Header) IsDiscoveryResponse() bool {
	return h.envelopeValid() && h.Length == 2 && h.Tag0x10 == 0 && h.ProtocolID == ProtocolDiscovery
}

// RegisterHeader is the little-endian sub-header of a 6065 datagram.
type RegisterHeader struct {
	DstSusyID     uint16
	DstSerial     uint32
	SrcSusyID     uint16
	SrcSerial     uint32
	Error         uint16
	Fragment      uint16
	PacketID      uint16
	Command       uint32
	FirstRegister uint32
	LastRegister  uint32
}

func ParseRegisterHeader(data []byte) (*RegisterHeader, error) {
	if len(data) < registerPayloadOffset {
		return nil, ErrShortDatagram
	}
	b := data[HeaderSize:registerPayloadOffset]
	return &RegisterHeader{
		DstSusyID:     binary.LittleEndian.Uint16(b[0:2]),
		DstSerial:     binary.LittleEndian.Uint32(b[2:6]),
		SrcSusyID:     binary.LittleEndian.Uint16(b[8:10]),
		SrcSerial:     binary.LittleEndian.Uint32(b[10:14]),
		Error:         binary.LittleEndian.Uint16(b[18:20]),
		Fragment:      binary.LittleEndian.Uint16(b[20:22]),
		PacketID:      binary.LittleEndian.Uint16(b[22:24]),
		Command:       binary.LittleEndian.Uint32(b[24:28]),
		FirstRegister: binary.LittleEndian.Uint32(b[28:32]),
		LastRegister:  binary.LittleEndian.Uint32(b[32:36]),
	}, nil
}

func (h *RegisterHeader) IsLoginResponse() bool {
	return h.Command == loginResponseCommand
}

// TelemetryHeader follows the outer header of a 6069 datagram, big-endian.
type TelemetryHeader struct {
	SusyID    uint16
	Serial    uint32
	Timestamp uint32
}

func ParseTelemetryHeader(data []byte) (*TelemetryHeader, error) {
	if len(data) < HeaderSize+TelemetryHeaderSize {
		return nil, ErrShortDatagram
	}
	b := data[HeaderSize : HeaderSize+TelemetryHeaderSize]
	return &TelemetryHeader{
		SusyID:    binary.BigEndian.Uint16(b[0:2]),
		Serial:    binary.BigEndian.Uint32(b[2:6]),
		Timestamp: binary.BigEndian.Uint32(b[6:10]),
	}, nil
}
