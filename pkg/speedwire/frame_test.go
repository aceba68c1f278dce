package speedwire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoginFrame(t *testing.T) {

	assert := assert.New(t)

	enc := NewFrameEncoder()
	frame := enc.LoginFrame("xyz", GroupUser)

	assert.Equal(20+22+36, len(frame), "frame length")
	assert.Equal([]byte("SMA\x00"), frame[0:4])
	assert.Equal(uint16(58), binary.BigEndian.Uint16(frame[12:14]), "data length")
	assert.Equal(byte(58/4), frame[18], "longwords")
	assert.Equal(byte(0xA0), frame[19], "ctrl")
	assert.Equal([]byte{0x00, 0x01}, frame[26:28], "login ctrl pair")
	assert.Equal(uint16(0x8001), binary.LittleEndian.Uint16(frame[40:42]), "first sequence")

	body := frame[42:]
	assert.Equal(uint32(0xFFFD040C), binary.LittleEndian.Uint32(body[0:4]))
	assert.Equal(uint32(0x07), binary.LittleEndian.Uint32(body[4:8]), "user login type")
	assert.Equal(uint32(900), binary.LittleEndian.Uint32(body[8:12]), "timeout")

	pw := body[20:32]
	assert.Equal(byte((0x88+int('x'))%256), pw[0])
	assert.Equal(byte((0x88+int('y'))%256), pw[1])
	assert.Equal(byte((0x88+int('z'))%256), pw[2])
	for i := 3; i < 12; i++ {
		assert.Equal(byte(0x88), pw[i], "padding")
	}
}

func TestInstallerPasswordWraps(t *testing.T) {

	assert := assert.New(t)

	pw := EncodePassword("x", GroupInstaller)
	assert.Equal(byte((0xBB+int('x'))%256), pw[0])
	assert.Equal(byte(0xBB), pw[11])
}

func TestSequenceIncrements(t *testing.T) {

	assert := assert.New(t)

	enc := NewFrameEncoder()
	cmd, ok := DefaultCatalog().Command("TypeLabel")
	assert.True(ok)

	first := enc.QueryFrame(cmd)
	second := enc.LogoffFrame()

	assert.Equal(uint16(0x8001), binary.LittleEndian.Uint16(first[40:42]))
	assert.Equal(uint16(0x8002), binary.LittleEndian.Uint16(second[40:42]))

	// a fresh encoder starts over
	assert.Equal(uint16(0x8001), binary.LittleEndian.Uint16(NewFrameEncoder().LogoffFrame()[40:42]))
}

func TestQueryAndLogoffFrames(t *testing.T) {

	assert := assert.New(t)

	enc := NewFrameEncoder()
	cmd, _ := DefaultCatalog().Command("TypeLabel")
	query := enc.QueryFrame(cmd)

	assert.Equal(20+22+16, len(query))
	assert.Equal(uint16(38), binary.BigEndian.Uint16(query[12:14]))
	assert.Equal([]byte{0x00, 0x00}, query[26:28])
	code, first := frameCommand(query)
	assert.Equal(uint32(0x58000200), code)
	assert.Equal(uint32(0x00821E00), first)
	assert.Equal(uint32(0x008220FF), binary.LittleEndian.Uint32(query[50:54]))

	logoff := enc.LogoffFrame()
	assert.Equal(20+22+12, len(logoff))
	assert.Equal([]byte{0x00, 0x03}, logoff[26:28])
	assert.Equal(uint32(0xFFFD010E), binary.LittleEndian.Uint32(logoff[42:46]))
	assert.Equal(uint32(0xFFFFFFFF), binary.LittleEndian.Uint32(logoff[46:50]))
}

func TestParseLoginGroup(t *testing.T) {

	assert := assert.New(t)

	g, err := ParseLoginGroup("installer")
	assert.Nil(err)
	assert.Equal(GroupInstaller, g)

	_, err = ParseLoginGroup("admin")
	assert.NotNil(err)
}

func TestHeaderPredicates(t *testing.T) {

	assert := assert.New(t)

	_, err := ParseHeader([]byte("SMA"))
	assert.ErrorIs(err, ErrShortDatagram)

	h, err := ParseHeader(loginResponse(1, 0))
	assert.Nil(err)
	assert.True(h.Is6065())
	assert.False(h.Is6069())

	discovery := make([]byte, 20)
	copy(discovery[0:4], magic)
	binary.BigEndian.PutUint16(discovery[4:6], 4)
	binary.BigEndian.PutUint16(discovery[6:8], 0x02A0)
	binary.BigEndian.PutUint32(discovery[8:12], 1)
	binary.BigEndian.PutUint16(discovery[12:14], 2)
	binary.BigEndian.PutUint16(discovery[16:18], ProtocolDiscovery)
	h, err = ParseHeader(discovery)
	assert.Nil(err)
	assert.True(h.IsDiscoveryResponse())
	assert.False(h.Is6065())

	// the probe itself is not a response
	h, _ = ParseHeader(discoveryProbe)
	assert.False(h.IsDiscoveryResponse())
}

func TestVersionToString(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("", VersionToString(0))
	assert.Equal("1.2.3.R", VersionToString(0x01020304))
	assert.Equal("2.a.20.B", VersionToString(0x020A1403))
}
