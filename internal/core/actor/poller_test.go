package actor

import (
	"testing"
	"time"

	adactor "github.com/berfenger/speedwire2mqtt/internal/adapter/actor"
	"github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/internal/util"
	"github.com/berfenger/speedwire2mqtt/internal/util/actorutil"
	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func waitForEvent(events <-chan any, timeout time.Duration, match func(any) bool) bool {
	deadline := time.After(timeout)
	for {
		select {
		case ev := <-events:
			if match(ev) {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func TestPollerActor(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.PollIntervalMillis = 60000

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := &eventstream.EventStream{}
	received := make(chan any, 1024)
	es.Subscribe(func(ev any) {
		select {
		case received <- ev:
		default:
		}
	})

	speedwirePID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewSpeedwireActor(speedwire.TestInverterReader{}, speedwire.TestEnergyMeterReader{}, 5*time.Second, logger)
	}))
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, speedwirePID, es, logger)
	}))

	assert.True(waitForEvent(received, 5*time.Second, func(ev any) bool {
		f, ok := ev.(domain.FloatSensorUpdateEvent)
		return ok && f.Id == "sma_inverter_3006543210_grid_power" && f.Value == 1523
	}), "inverter power event")

	assert.True(waitForEvent(received, 5*time.Second, func(ev any) bool {
		f, ok := ev.(domain.FloatSensorUpdateEvent)
		return ok && f.Id == "sma_meter_1900123456_metering_total_absorbed" && f.Value == 1520
	}), "meter energy event")

	// next sweep is a minute away, only a poll request triggers it
	context.Send(pid, domain.PollNowRequest{})
	assert.True(waitForEvent(received, 2*time.Second, func(ev any) bool {
		tx, ok := ev.(domain.TextSensorUpdateEvent)
		return ok && tx.Id == "sma_inverter_3006543210_firmware" && tx.Value == "4.1.4.R"
	}), "firmware event after poll request")

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	health := result.(domain.ActorHealthResponse)
	assert.True(health.Healthy)
	assert.Contains([]string{"idle", "polling"}, health.State)

	context.Stop(pid)
	context.Stop(speedwirePID)

	as.Shutdown()
}

func TestPollerActorWithoutInverter(t *testing.T) {

	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	cfg.Inverter.Host = ""

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	context := as.Root

	es := &eventstream.EventStream{}
	received := make(chan any, 1024)
	es.Subscribe(func(ev any) {
		select {
		case received <- ev:
		default:
		}
	})

	speedwirePID := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewSpeedwireActor(nil, speedwire.TestEnergyMeterReader{}, 5*time.Second, logger)
	}))
	pid := context.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, speedwirePID, es, logger)
	}))

	context.Send(pid, domain.PollNowRequest{})

	assert.True(waitForEvent(received, 5*time.Second, func(ev any) bool {
		f, ok := ev.(domain.FloatSensorUpdateEvent)
		return ok && f.Id == "sma_meter_1900123456_metering_power_absorbed"
	}), "meter power event")

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	assert.Equal("idle", result.(domain.ActorHealthResponse).State)

	context.Stop(pid)
	context.Stop(speedwirePID)

	as.Shutdown()
}
