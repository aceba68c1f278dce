package speedwire

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestDiscoveryProbe(t *testing.T) {

	assert := assert.New(t)

	assert.Len(discoveryProbe, 20)
	assert.Equal([]byte("SMA\x00"), discoveryProbe[0:4])
}

func TestCollectDiscovery(t *testing.T) {

	assert := assert.New(t)

	response := make([]byte, 20)
	outerHeader(response, 2, ProtocolDiscovery)
	binary.BigEndian.PutUint16(response[14:16], 0)

	first, _ := net.ResolveUDPAddr("udp4", "192.168.1.10:9522")
	second, _ := net.ResolveUDPAddr("udp4", "192.168.1.11:9522")

	datagrams := make(chan Datagram, 16)
	sends := 0
	send := func() error {
		sends++
		datagrams <- Datagram{Data: response, Addr: first}
		datagrams <- Datagram{Data: discoveryProbe, Addr: second}
		if sends == 2 {
			datagrams <- Datagram{Data: response, Addr: second}
		}
		return nil
	}

	opts := DiscoveryOptions{Repeats: 3, Interval: 10 * time.Millisecond, Wait: 10 * time.Millisecond}
	found, err := collectDiscovery(context.Background(), opts, send, datagrams, zap.NewNop())
	assert.Nil(err)
	assert.Equal(3, sends)
	assert.Equal([]string{"192.168.1.10:9522", "192.168.1.11:9522"}, found)
}
