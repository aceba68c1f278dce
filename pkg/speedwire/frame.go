package speedwire

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

const (
	appID          = 125
	anySusyID      = 0xFFFF
	anySerial      = 0xFFFFFFFF
	loginTimeout   = 900
	frameCtrl      = 0xA0
	passwordLength = 12

	loginCommand  = 0xFFFD040C
	logoffCommand = 0xFFFD010E

	frameHeaderSize = 20
	dataHeaderSize  = 22
)

// LoginGroup selects the account the login frame authenticates against.
type LoginGroup string

const (
	GroupUser      LoginGroup = "user"
	GroupInstaller LoginGroup = "installer"
)

func ParseLoginGroup(s string) (LoginGroup, error) {
	switch LoginGroup(s) {
	case GroupUser, GroupInstaller:
		return LoginGroup(s), nil
	}
	return "", fmt.Errorf("invalid user type: %s (user or installer)", s)
}

func (g LoginGroup) loginType() uint32 {
	if g == GroupInstaller {
		return 0x0A
	}
	return 0x07
}

func (g LoginGroup) passwordCode() byte {
	if g == GroupInstaller {
		return 0xBB
	}
	return 0x88
}

// EncodePassword obfuscates the password into the fixed 12 byte login field.
func EncodePassword(password string, group LoginGroup) [passwordLength]byte {
	var encoded [passwordLength]byte
	code := group.passwordCode()
	for i := range encoded {
		if i < len(password) {
			encoded[i] = code + password[i]
		} else {
			encoded[i] = code
		}
	}
	return encoded
}

var (
	ctrlQuery  = [2]byte{0x00, 0x00}
	ctrlLogin  = [2]byte{0x00, 0x01}
	ctrlLogoff = [2]byte{0x00, 0x03}
)

// FrameEncoder builds outgoing 6065 frames. Each encoded frame consumes one
// sequence number; the counter starts at 1 for every encoder.
type FrameEncoder struct {
	mu        sync.Mutex
	sequence  uint16
	appSerial uint32
	now       func() time.Time
}

func NewFrameEncoder() *FrameEncoder {
	return &FrameEncoder{sequence: 1, now: time.Now}
}

func (e *FrameEncoder) nextSequence() uint16 {
	e.mu.Lock()
	defer e.mu.Unlock()
	seq := e.sequence | 0x8000
	e.sequence++
	return seq
}

func (e *FrameEncoder) LoginFrame(password string, group LoginGroup) []byte {
	body := make([]byte, 36)
	binary.LittleEndian.PutUint32(body[0:4], loginCommand)
	binary.LittleEndian.PutUint32(body[4:8], group.loginType())
	binary.LittleEndian.PutUint32(body[8:12], loginTimeout)
	binary.LittleEndian.PutUint32(body[12:16], uint32(e.now().Unix()))
	pw := EncodePassword(password, group)
	copy(body[20:32], pw[:])
	return e.frame(ctrlLogin, body)
}

func (e *FrameEncoder) QueryFrame(cmd Command) []byte {
	body := make([]byte, 16)
	binary.LittleEndian.PutUint32(body[0:4], cmd.Code)
	binary.LittleEndian.PutUint32(body[4:8], cmd.First)
	binary.LittleEndian.PutUint32(body[8:12], cmd.Last)
	return e.frame(ctrlQuery, body)
}

func (e *FrameEncoder) LogoffFrame() []byte {
	body := make([]byte, 12)
	binary.LittleEndian.PutUint32(body[0:4], logoffCommand)
	binary.LittleEndian.PutUint32(body[4:8], 0xFFFFFFFF)
	return e.frame(ctrlLogoff, body)
}

func (e *FrameEncoder) frame(ctrl [2]byte, body []byte) []byte {
	dataLength := dataHeaderSize + len(body)
	buf := make([]byte, frameHeaderSize+dataLength)

	// frame header
	copy(buf[0:4], magic)
	copy(buf[4:8], []byte{0x00, 0x04, 0x02, 0xA0})
	copy(buf[8:12], []byte{0x00, 0x00, 0x00, 0x01})
	binary.BigEndian.PutUint16(buf[12:14], uint16(dataLength))
	copy(buf[14:18], []byte{0x00, 0x10, 0x60, 0x65})
	buf[18] = byte(dataLength / 4)
	buf[19] = frameCtrl

	// data header
	d := buf[frameHeaderSize:]
	binary.LittleEndian.PutUint16(d[0:2], anySusyID)
	binary.LittleEndian.PutUint32(d[2:6], anySerial)
	copy(d[6:8], ctrl[:])
	binary.LittleEndian.PutUint16(d[8:10], appID)
	binary.LittleEndian.PutUint32(d[10:14], e.appSerial)
	copy(d[14:16], ctrl[:])
	binary.LittleEndian.PutUint16(d[20:22], e.nextSequence())

	copy(d[dataHeaderSize:], body)
	return buf
}
