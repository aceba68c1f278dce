package speedwire

import (
	"context"
	"encoding/hex"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

var discoveryProbe, _ = hex.DecodeString("534d4100000402a0ffffffff0000002000000000")

type DiscoveryOptions struct {
	Repeats  int
	Interval time.Duration
	Wait     time.Duration
}

func DefaultDiscoveryOptions() DiscoveryOptions {
	return DiscoveryOptions{
		Repeats:  3,
		Interval: 500 * time.Millisecond,
		Wait:     500 * time.Millisecond,
	}
}

// Discover probes the Speedwire multicast group and returns the unique
// addresses of devices answering the probe.
func Discover(ctx context.Context, opts DiscoveryOptions, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	raw, err := net.ListenPacket("udp4", "0.0.0.0:0")
	if err != nil {
		return nil, err
	}
	p := ipv4.NewPacketConn(raw)
	defer p.Close()
	if err := p.SetMulticastTTL(1); err != nil {
		return nil, err
	}

	dst := &net.UDPAddr{IP: net.ParseIP(MulticastGroup), Port: Port}
	datagrams := make(chan Datagram, 16)
	done := make(chan struct{})
	defer close(done)
	go readLoop(raw, datagrams, done, logger)

	send := func() error {
		logger.Debug("sending discovery request")
		_, err := p.WriteTo(discoveryProbe, nil, dst)
		return err
	}
	return collectDiscovery(ctx, opts, send, datagrams, logger)
}

func collectDiscovery(ctx context.Context, opts DiscoveryOptions, send func() error,
	datagrams <-chan Datagram, logger *zap.Logger) ([]string, error) {
	var found []string
	seen := map[string]bool{}

	wait := func(d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
				return nil
			case dg, ok := <-datagrams:
				if !ok {
					return nil
				}
				h, err := ParseHeader(dg.Data)
				if err != nil || !h.IsDiscoveryResponse() {
					logger.Debug("ignoring discovery datagram", zap.Int("len", len(dg.Data)))
					continue
				}
				addr := dg.Addr.String()
				if !seen[addr] {
					seen[addr] = true
					found = append(found, addr)
				}
			}
		}
	}

	for i := 0; i < opts.Repeats; i++ {
		if err := send(); err != nil {
			return found, err
		}
		if i < opts.Repeats-1 {
			if err := wait(opts.Interval); err != nil {
				return found, err
			}
		}
	}
	if err := wait(opts.Wait); err != nil {
		return found, err
	}
	return found, nil
}
