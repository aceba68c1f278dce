package actor

import (
	"fmt"
	"time"

	"github.com/berfenger/speedwire2mqtt/internal/config"
	"github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/internal/core/events"
	. "github.com/berfenger/speedwire2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	meterRequestTimeout = 5 * time.Second
	requestMargin       = 2 * time.Second
)

// PollerActor sweeps the inverter and reads the energy meter on their own
// intervals, publishing every reading to the event stream.
type PollerActor struct {
	ActorWithStates
	scheduler      *scheduler.TimerScheduler
	stash          *Stash
	speedwireActor *actor.PID
	config         *config.Config
	eventStream    *eventstream.EventStream
	inverterDevice *domain.Device
	meterPending   bool

	logger *zap.Logger
}

type inverterTick struct {
}

type meterTick struct {
}

func NewPollerActor(config *config.Config, speedwireActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		config:         config,
		speedwireActor: speedwireActor,
		stash:          &Stash{},
		logger:         ActorLogger(domain.ACTOR_ID_POLLER, logger),
		eventStream:    eventStream,
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(PollerStartingState{
		actor: act,
	})
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type PollerStartingState struct {
	ActorState
	actor *PollerActor
}

func (state PollerStartingState) Name() string {
	return "starting"
}

func (state PollerStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("poller@starting started")

		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)

		if state.actor.config.Inverter.Enabled() {
			ctx.Send(ctx.Self(), inverterTick{})
		}
		if state.actor.config.EnergyMeter.Enable {
			ctx.Send(ctx.Self(), meterTick{})
		}

		state.actor.Become(PollerIdleState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("poller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type PollerIdleState struct {
	ActorState
	actor *PollerActor
}

func (state PollerIdleState) Name() string {
	return "idle"
}

func (state PollerIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("poller@idle: ActorHealthRequest")
		state.actor.respondHealth(ctx)
	case inverterTick:
		state.actor.logger.Debug("poller@idle: inverter tick")
		state.actor.scheduler.RequestOnce(state.actor.config.MonitorConfig.PollInterval(), ctx.Self(), inverterTick{})
		state.actor.poll(ctx)
	case domain.PollNowRequest:
		state.actor.logger.Info("poller@idle: poll requested")
		state.actor.poll(ctx)
	case meterTick:
		state.actor.onMeterTick(ctx)
	case domain.ReadMeterResponse:
		state.actor.onMeterResponse(msg)
	default:
		state.actor.logger.Debug("poller@idle: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Polling state, waiting for the inverter

type PollerPollingState struct {
	ActorState
	actor *PollerActor
}

func (state PollerPollingState) Name() string {
	return "polling"
}

func (state PollerPollingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.respondHealth(ctx)
	case domain.GetDevicesInfoResponse:
		if msg.HasResponseError() || msg.Inverter == nil || msg.Inverter.Serial == "" {
			state.actor.logger.Error("poller@polling GetDevicesInfoResponse error", zap.Error(msg.GetResponseError()))
			state.actor.done(ctx)
			return
		}
		state.actor.logger.Debug("poller@polling GetDevicesInfoResponse", zap.String("serial", msg.Inverter.Serial))
		device := events.InverterDevice(msg.Inverter)
		state.actor.inverterDevice = &device
		state.actor.readInverter(ctx)
	case domain.ReadInverterResponse:
		if msg.HasResponseError() {
			state.actor.logger.Warn("poller@polling ReadInverterResponse error", zap.Error(msg.GetResponseError()))
			state.actor.done(ctx)
			return
		}
		state.actor.logger.Debug("poller@polling ReadInverterResponse", zap.Int("readings", len(msg.Readings)))
		state.actor.publish(events.InverterReadingsToUpdateEvents(*state.actor.inverterDevice, msg.Readings))
		state.actor.done(ctx)
	case inverterTick:
		// sweep still running, skip this one
		state.actor.logger.Debug("poller@polling: skip tick")
		state.actor.scheduler.RequestOnce(state.actor.config.MonitorConfig.PollInterval(), ctx.Self(), inverterTick{})
	case domain.PollNowRequest:
		state.actor.logger.Debug("poller@polling: already polling")
	case meterTick:
		state.actor.onMeterTick(ctx)
	case domain.ReadMeterResponse:
		state.actor.onMeterResponse(msg)
	default:
		state.actor.logger.Debug("poller@polling: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (a *PollerActor) poll(ctx actor.Context) {
	if !a.config.Inverter.Enabled() {
		return
	}
	a.BecomeStacked(PollerPollingState{
		actor: a,
	})
	if a.inverterDevice == nil {
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.speedwireActor, domain.GetDevicesInfoRequest{}, a.inverterRequestTimeout()+meterRequestTimeout), func(err error) any {
			return domain.GetDevicesInfoResponse{
				ActorResponseMixIn: domain.ErrorResponse(err),
			}
		})
		return
	}
	a.readInverter(ctx)
}

func (a *PollerActor) readInverter(ctx actor.Context) {
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.speedwireActor, domain.ReadInverterRequest{}, a.inverterRequestTimeout()), func(err error) any {
		return domain.ReadInverterResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
		}
	})
}

func (a *PollerActor) done(ctx actor.Context) {
	a.UnbecomeStacked()
	a.stash.UnstashAll(ctx)
}

func (a *PollerActor) onMeterTick(ctx actor.Context) {
	a.scheduler.RequestOnce(a.config.MonitorConfig.MeterInterval(), ctx.Self(), meterTick{})
	if a.meterPending {
		return
	}
	a.meterPending = true
	// the speedwire actor may be busy with an inverter sweep
	timeout := a.inverterRequestTimeout() + meterRequestTimeout
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(a.speedwireActor, domain.ReadMeterRequest{Serial: a.config.EnergyMeter.Serial}, timeout), func(err error) any {
		return domain.ReadMeterResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
		}
	})
}

func (a *PollerActor) onMeterResponse(msg domain.ReadMeterResponse) {
	a.meterPending = false
	if msg.HasResponseError() || msg.Meter == nil {
		a.logger.Warn("poller: energy meter read error", zap.Error(msg.GetResponseError()))
		return
	}
	a.logger.Debug("poller: ReadMeterResponse", zap.String("serial", msg.Meter.Serial))
	device := domain.Device{Id: events.MeterDeviceId(msg.Meter.Serial)}
	a.publish(events.MeterReadingsToUpdateEvents(device, msg.Meter.Readings))
}

func (a *PollerActor) publish(evs []any) {
	for _, ev := range evs {
		a.eventStream.Publish(ev)
	}
}

func (a *PollerActor) respondHealth(ctx actor.Context) {
	ctx.Respond(domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_POLLER,
		Healthy: true,
		State:   a.StateName(),
	})
}

func (a *PollerActor) inverterRequestTimeout() time.Duration {
	return a.config.Inverter.Options().SessionTimeout() + requestMargin
}
