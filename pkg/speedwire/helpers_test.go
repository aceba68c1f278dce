package speedwire

import (
	"encoding/binary"
	"sync"
	"syscall"
	"time"
)

// register builds one register: code, timestamp, then the values.
func register(code uint32, values ...uint32) []byte {
	reg := make([]byte, 8+4*len(values))
	binary.LittleEndian.PutUint32(reg[0:4], code)
	for i, v := range values {
		binary.LittleEndian.PutUint32(reg[8+4*i:], v)
	}
	return reg
}

func outerHeader(buf []byte, length uint16, protocol uint16) {
	copy(buf[0:4], magic)
	binary.BigEndian.PutUint16(buf[4:6], 4)
	binary.BigEndian.PutUint16(buf[6:8], 0x02A0)
	binary.BigEndian.PutUint32(buf[8:12], 1)
	binary.BigEndian.PutUint16(buf[12:14], length)
	binary.BigEndian.PutUint16(buf[14:16], 0x10)
	binary.BigEndian.PutUint16(buf[16:18], protocol)
}

// registerDatagram builds a 6065 response carrying the given registers,
// numbered from 0.
func registerDatagram(serial uint32, errCode uint16, command uint32, registers ...[]byte) []byte {
	payload := 0
	for _, r := range registers {
		payload += len(r)
	}
	buf := make([]byte, registerPayloadOffset+payload+registerTrailerSize)
	outerHeader(buf, uint16(len(buf)-20), ProtocolRegister)

	sub := buf[HeaderSize:]
	binary.LittleEndian.PutUint16(sub[8:10], 0x0078)
	binary.LittleEndian.PutUint32(sub[10:14], serial)
	binary.LittleEndian.PutUint16(sub[18:20], errCode)
	binary.LittleEndian.PutUint32(sub[24:28], command)
	binary.LittleEndian.PutUint32(sub[28:32], 0)
	last := uint32(0)
	if len(registers) > 0 {
		last = uint32(len(registers) - 1)
	}
	binary.LittleEndian.PutUint32(sub[32:36], last)

	pos := registerPayloadOffset
	for _, r := range registers {
		copy(buf[pos:], r)
		pos += len(r)
	}
	return buf
}

func loginResponse(serial uint32, errCode uint16) []byte {
	return registerDatagram(serial, errCode, loginResponseCommand)
}

type fakeTransport struct {
	mu        sync.Mutex
	sent      [][]byte
	datagrams chan Datagram
	respond   func(frame []byte) [][]byte
	closed    bool
	// failSends makes the next sends fail like a refused connection.
	failSends int
}

func newFakeTransport(respond func(frame []byte) [][]byte) *fakeTransport {
	return &fakeTransport{
		datagrams: make(chan Datagram, 64),
		respond:   respond,
	}
}

func (t *fakeTransport) Send(frame []byte) error {
	t.mu.Lock()
	t.sent = append(t.sent, frame)
	if t.failSends > 0 {
		t.failSends--
		t.mu.Unlock()
		return syscall.ECONNREFUSED
	}
	t.mu.Unlock()
	if t.respond == nil {
		return nil
	}
	for _, dg := range t.respond(frame) {
		t.datagrams <- Datagram{Data: dg, Received: time.Now()}
	}
	return nil
}

func (t *fakeTransport) Datagrams() <-chan Datagram {
	return t.datagrams
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.datagrams)
	}
	return nil
}

func (t *fakeTransport) sentFrames() [][]byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([][]byte(nil), t.sent...)
}

// frameCommand returns the command code and first register of a sent frame.
func frameCommand(frame []byte) (uint32, uint32) {
	body := frame[frameHeaderSize+dataHeaderSize:]
	return binary.LittleEndian.Uint32(body[0:4]), binary.LittleEndian.Uint32(body[4:8])
}

func isLoginFrame(frame []byte) bool {
	code, _ := frameCommand(frame)
	return code == loginCommand
}

// countFrames counts sent query frames of a catalog command.
func countFrames(frames [][]byte, cmd Command) int {
	n := 0
	for _, f := range frames {
		code, first := frameCommand(f)
		if code == cmd.Code && first == cmd.First {
			n++
		}
	}
	return n
}
