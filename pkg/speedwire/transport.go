package speedwire

import (
	"errors"
	"net"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

const maxDatagramSize = 2048

type Datagram struct {
	Data     []byte
	Addr     net.Addr
	Received time.Time
}

// Transport carries frames of one session. Datagrams are delivered on a
// channel that is closed when the transport closes.
type Transport interface {
	Send(frame []byte) error
	Datagrams() <-chan Datagram
	Close() error
}

type packetReader interface {
	ReadFrom(b []byte) (int, net.Addr, error)
}

// UDPTransport is a connected UDP endpoint towards one device.
type UDPTransport struct {
	conn      *net.UDPConn
	datagrams chan Datagram
	done      chan struct{}
	closeOnce sync.Once
	logger    *zap.Logger
}

func DialUDP(host string, logger *zap.Logger) (*UDPTransport, error) {
	raddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(host, strconv.Itoa(Port)))
	if err != nil {
		return nil, err
	}
	return dialUDP(raddr, logger)
}

func dialUDP(raddr *net.UDPAddr, logger *zap.Logger) (*UDPTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := net.DialUDP("udp4", nil, raddr)
	if err != nil {
		return nil, err
	}
	t := &UDPTransport{
		conn:      conn,
		datagrams: make(chan Datagram, 64),
		done:      make(chan struct{}),
		logger:    logger,
	}
	go readLoop(conn, t.datagrams, t.done, logger)
	return t, nil
}

func (t *UDPTransport) Send(frame []byte) error {
	_, err := t.conn.Write(frame)
	return err
}

func (t *UDPTransport) Datagrams() <-chan Datagram {
	return t.datagrams
}

func (t *UDPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = t.conn.Close()
	})
	return err
}

// readLoop forwards datagrams until the connection is closed. Other read
// errors, such as ICMP unreachable reports on a connected socket, are skipped.
func readLoop(conn packetReader, out chan<- Datagram, done <-chan struct{}, logger *zap.Logger) {
	defer close(out)
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-done:
				return
			default:
			}
			logger.Debug("speedwire receive failed", zap.Error(err))
			continue
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case out <- Datagram{Data: data, Addr: addr, Received: time.Now()}:
		case <-done:
			return
		}
	}
}
