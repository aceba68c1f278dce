package speedwire

import (
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type readStep struct {
	data []byte
	err  error
}

// scriptedReader replays reads, then reports the connection closed.
type scriptedReader struct {
	steps []readStep
	next  int
}

func (r *scriptedReader) ReadFrom(b []byte) (int, net.Addr, error) {
	if r.next >= len(r.steps) {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: net.ErrClosed}
	}
	step := r.steps[r.next]
	r.next++
	if step.err != nil {
		return 0, nil, &net.OpError{Op: "read", Net: "udp", Err: step.err}
	}
	return copy(b, step.data), &net.UDPAddr{IP: net.IPv4(192, 0, 2, 10), Port: Port}, nil
}

func TestReadLoopSkipsReadErrors(t *testing.T) {

	assert := assert.New(t)

	reader := &scriptedReader{steps: []readStep{
		{err: os.NewSyscallError("recvfrom", syscall.ECONNREFUSED)},
		{data: []byte("a")},
		{err: os.NewSyscallError("recvfrom", syscall.EHOSTUNREACH)},
		{data: []byte("b")},
	}}
	out := make(chan Datagram, 4)
	go readLoop(reader, out, make(chan struct{}), zap.NewNop())

	var got []string
	timeout := time.After(time.Second)
	for done := false; !done; {
		select {
		case dg, ok := <-out:
			if !ok {
				done = true
				continue
			}
			got = append(got, string(dg.Data))
		case <-timeout:
			t.Fatal("read loop did not stop")
		}
	}
	assert.Equal([]string{"a", "b"}, got)
}

func TestUDPTransportSurvivesUnreachablePeer(t *testing.T) {

	assert := assert.New(t)

	free, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	addr := free.LocalAddr().(*net.UDPAddr)
	free.Close()

	tr, err := dialUDP(addr, zap.Must(zap.NewDevelopment()))
	if err != nil {
		t.Fatal(err)
	}
	defer tr.Close()

	// nobody listens yet: the refusal is reported on the socket
	_ = tr.Send([]byte("ping"))
	time.Sleep(50 * time.Millisecond)

	echo, err := net.ListenUDP("udp4", addr)
	if err != nil {
		t.Skipf("port taken meanwhile: %v", err)
	}
	defer echo.Close()
	go func() {
		buf := make([]byte, 64)
		for {
			n, from, err := echo.ReadFromUDP(buf)
			if err != nil {
				return
			}
			_, _ = echo.WriteToUDP(buf[:n], from)
		}
	}()

	var got *Datagram
	for i := 0; i < 20 && got == nil; i++ {
		_ = tr.Send([]byte("ping"))
		select {
		case dg, ok := <-tr.Datagrams():
			if !ok {
				t.Fatal("datagrams closed after a refused send")
			}
			got = &dg
		case <-time.After(50 * time.Millisecond):
		}
	}
	if assert.NotNil(got) {
		assert.Equal([]byte("ping"), got.Data)
		assert.Equal(addr.String(), got.Addr.String())
	}
}

func TestUDPTransportClose(t *testing.T) {

	assert := assert.New(t)

	peer, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Skipf("no loopback: %v", err)
	}
	defer peer.Close()

	tr, err := dialUDP(peer.LocalAddr().(*net.UDPAddr), nil)
	if err != nil {
		t.Fatal(err)
	}
	assert.Nil(tr.Close())
	assert.Nil(tr.Close(), "second close is a no-op")

	select {
	case _, ok := <-tr.Datagrams():
		assert.False(ok)
	case <-time.After(time.Second):
		t.Fatal("datagrams not closed")
	}
	assert.NotNil(tr.Send([]byte("ping")))
}
