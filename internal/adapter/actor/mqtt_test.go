package actor

import (
	"testing"
	"time"

	"github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/internal/util"
	"github.com/berfenger/speedwire2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)

	context := as.Root

	es := eventstream.EventStream{}
	published := make(chan string, 16)

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, &es, published, logger) })
	pid := context.Spawn(props)

	msg := domain.ActorHealthRequest{}
	result, err := context.RequestFuture(pid, msg, 2*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(ok)
	assert.True(resp.Healthy)

	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: "sma_inverter_3006543210_grid_power",
		},
		Value:    1523,
		Decimals: -1,
	})
	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: "sma_inverter_3006543210_total",
		},
		Value:    12345.678,
		Decimals: 1,
	})
	es.Publish(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: "sma_inverter_3006543210_firmware",
		},
		Value: "4.1.4.R",
	})

	assert.Equal("speedwire/sensor/sma_inverter_3006543210_grid_power/state=1523", receive(t, published))
	assert.Equal("speedwire/sensor/sma_inverter_3006543210_total/state=12345.7", receive(t, published))
	assert.Equal("speedwire/sensor/sma_inverter_3006543210_firmware/state=4.1.4.R", receive(t, published))

	_, err = context.RequestFuture(pid, domain.PublishSensorUpdateRequest{
		Event: domain.BridgeStateUpdateEvent{Value: false},
	}, 2*time.Second).Result()
	assert.Nil(err)
	assert.Equal("speedwire/bridge/state=offline", receive(t, published))

	context.Stop(pid)

	time.Sleep(500 * time.Millisecond)

	as.Shutdown()
}

func receive(t *testing.T, published <-chan string) string {
	select {
	case m := <-published:
		return m
	case <-time.After(2 * time.Second):
		t.Error("no message published")
		return ""
	}
}
