package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/speedwire2mqtt/internal/config"
	"github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/internal/core/events"
	"github.com/berfenger/speedwire2mqtt/internal/util/actorutil"
	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

type HADiscoveryActor struct {
	config                *config.Config
	behavior              actor.Behavior
	stash                 *actorutil.Stash
	scheduler             *scheduler.TimerScheduler
	speedwireActor        *actor.PID
	mqttActor             *actor.PID
	speedwireActorHealthy bool
	mqttActorHealthy      bool
	healthyRecv           int

	logger *zap.Logger
}

type retryDevicesInfo struct {
}

func NewHADiscoveryActor(config *config.Config, speedwireActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:         config,
		speedwireActor: speedwireActor,
		mqttActor:      mqttActor,
		behavior:       actor.NewBehavior(),
		stash:          &actorutil.Stash{},
		logger:         actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		state.scheduler = scheduler.NewTimerScheduler(ctx)

		// Check Speedwire and MQTT actor healthy
		state.healthyRecv = 0
		state.speedwireActorHealthy = false
		state.mqttActorHealthy = false
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.speedwireActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_SPEEDWIRE,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_SPEEDWIRE:
				state.speedwireActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if state.speedwireActorHealthy && state.mqttActorHealthy {
				state.requestDevicesInfo(ctx)
				state.behavior.Become(state.WaitingInfoReceive)
				state.stash.UnstashAll(ctx)
			} else {
				panic(errors.New("MQTT Actor or Speedwire Actor are not healthy"))
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case retryDevicesInfo:
		state.requestDevicesInfo(ctx)
	case domain.GetDevicesInfoResponse:
		if msg.HasResponseError() {
			// retry until the devices answer
			state.logger.Warn("hadiscovery@info: GetDevicesInfoResponse", zap.Error(msg.GetResponseError()))
			state.scheduler.RequestOnce(state.config.MonitorConfig.PollInterval(), ctx.Self(), retryDevicesInfo{})
			return
		}
		state.logger.Debug("hadiscovery@info: GetDevicesInfoResponse", zap.Any("response", msg))

		sensors := DiscoverySensors(state.config, msg)

		ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: sensors,
		})
		state.logger.Info("hadiscovery@info: discovery published", zap.Int("sensors", len(sensors)))
		state.behavior.Become(state.Done)

	default:
		state.logger.Debug("hadiscovery@info: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *HADiscoveryActor) requestDevicesInfo(ctx actor.Context) {
	timeout := state.config.Inverter.Options().SessionTimeout() + meterRequestTimeout + requestMargin
	actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.speedwireActor, domain.GetDevicesInfoRequest{}, timeout), func(err error) any {
		return domain.GetDevicesInfoResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
		}
	})
}

// DiscoverySensors lists the bridge sensors followed by every catalog sensor
// of the discovered devices.
func DiscoverySensors(config *config.Config, info domain.GetDevicesInfoResponse) []domain.GenericSensor {
	catalog := speedwire.DefaultCatalog()

	bridgeDevice := events.BridgeDevice(config.MQTT.BaseTopic)
	sensors := events.BridgeSensors(bridgeDevice)

	if info.Inverter != nil {
		inverterDevice := events.InverterDevice(info.Inverter)
		inverterDevice.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, events.InverterSensors(inverterDevice, catalog)...)
	}
	for _, m := range info.Meters {
		if config.EnergyMeter.Serial != "" && m.Serial != config.EnergyMeter.Serial {
			continue
		}
		meterDevice := events.MeterDevice(m)
		meterDevice.ViaDevice = bridgeDevice.Id
		sensors = append(sensors, events.MeterSensors(meterDevice, catalog)...)
	}
	return sensors
}
