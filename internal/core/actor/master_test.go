package actor

import (
	"strings"
	"testing"
	"time"

	adactor "github.com/berfenger/speedwire2mqtt/internal/adapter/actor"
	"github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/internal/mqtt"
	"github.com/berfenger/speedwire2mqtt/internal/util"
	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.MonitorConfig.PollIntervalMillis = 60000
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	published := make(chan string, 1024)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, func() *adactor.SpeedwireActor {
			return adactor.NewSpeedwireActor(speedwire.TestInverterReader{}, speedwire.TestEnergyMeterReader{}, 5*time.Second, logger)
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, published, logger)
		}, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(1 * time.Second)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	assert.True(t, healthResp.Healthy, "healthy is true")

	res, err = context.RequestFuture(pid, domain.GetDiagnosticsRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	diag, ok := res.(domain.GetDiagnosticsResponse)
	assert.True(t, ok)
	assert.Equal(t, "test", diag.Inverter.SessionID)

	assert.True(t, waitForMessage(published, 5*time.Second, func(m string) bool {
		return m == "speedwire/sensor/sma_inverter_3006543210_grid_power/state=1523"
	}), "inverter reading published")
	assert.True(t, waitForMessage(published, 5*time.Second, func(m string) bool {
		return m == "speedwire/sensor/sma_meter_1900123456_metering_power_absorbed/state=431.2"
	}), "meter reading published")

	drain(published)
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{Command: mqtt.COMMAND_REFRESH}})
	assert.True(t, waitForMessage(published, 2*time.Second, func(m string) bool {
		return m == "speedwire/sensor/sma_inverter_3006543210_total/state=12345.678"
	}), "refresh publishes a new sweep")

	context.Stop(pid)

	as.Shutdown()
}

func TestMasterActorDiscovery(t *testing.T) {

	as := actor.NewActorSystem()
	context := as.Root

	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true
	logger := zap.Must(zap.NewDevelopment())

	published := make(chan string, 1024)

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, func() *adactor.SpeedwireActor {
			return adactor.NewSpeedwireActor(speedwire.TestInverterReader{}, speedwire.TestEnergyMeterReader{}, 5*time.Second, logger)
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, published, logger)
		}, logger)
	})
	pid := context.Spawn(props)

	assert.True(t, waitForMessage(published, 5*time.Second, func(m string) bool {
		return strings.HasPrefix(m, "homeassistant/sensor/sma_inverter_3006543210/sma_inverter_3006543210_grid_power/config=")
	}), "inverter discovery published")

	context.Stop(pid)

	as.Shutdown()
}

func waitForMessage(published <-chan string, timeout time.Duration, match func(string) bool) bool {
	deadline := time.After(timeout)
	for {
		select {
		case m := <-published:
			if match(m) {
				return true
			}
		case <-deadline:
			return false
		}
	}
}

func drain(published <-chan string) {
	for {
		select {
		case <-published:
		default:
			return
		}
	}
}
