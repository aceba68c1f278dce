package actor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/berfenger/speedwire2mqtt/internal/core/domain"
	"github.com/berfenger/speedwire2mqtt/internal/util/actorutil"
	"github.com/berfenger/speedwire2mqtt/pkg/speedwire"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	// slack on top of the reader's own bounds before a task is abandoned
	taskTimeoutMargin = 2 * time.Second
	meterReadTimeout  = 3 * time.Second
)

// SpeedwireActor owns the device readers. Reads run one at a time as
// background tasks while other requests wait in the stash.
type SpeedwireActor struct {
	behavior        actor.Behavior
	stash           *actorutil.Stash
	inverter        speedwire.InverterReader
	meter           speedwire.EnergyMeterReader
	inverterTimeout time.Duration
	logger          *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

// NewSpeedwireActor builds the actor. Either reader may be nil when the device
// is not configured. sessionTimeout bounds one inverter session.
func NewSpeedwireActor(inverter speedwire.InverterReader, meter speedwire.EnergyMeterReader, sessionTimeout time.Duration, logger *zap.Logger) *SpeedwireActor {
	act := &SpeedwireActor{
		inverter:        inverter,
		meter:           meter,
		inverterTimeout: sessionTimeout,
		behavior:        actor.NewBehavior(),
		stash:           &actorutil.Stash{},
		logger:          actorutil.ActorLogger(domain.ACTOR_ID_SPEEDWIRE, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *SpeedwireActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *SpeedwireActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("speedwire@starting started")
		if state.inverter != nil {
			if err := state.inverter.Open(); err != nil {
				panic(err)
			}
		}
		if state.meter != nil {
			if err := state.meter.Open(); err != nil {
				panic(err)
			}
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	default:
		state.logger.Debug("speedwire@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *SpeedwireActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("speedwire@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SPEEDWIRE,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetDiagnosticsRequest:
		state.logger.Debug("speedwire@default: GetDiagnosticsRequest")
		actorutil.ForRequest(msg).Respond(ctx, state.diagnostics())
	case domain.GetDevicesInfoRequest:
		state.logger.Debug("speedwire@default: GetDevicesInfoRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getDevicesInfo),
			mapTaskResult[domain.GetDevicesInfoResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetDevicesInfoResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.inverterTimeout + meterReadTimeout + taskTimeoutMargin).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingDevice)
	case domain.ReadInverterRequest:
		state.logger.Debug("speedwire@default: ReadInverterRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.readInverter),
			mapTaskResult[domain.ReadInverterResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ReadInverterResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.inverterTimeout + taskTimeoutMargin).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingDevice)
	case domain.ReadMeterRequest:
		state.logger.Debug("speedwire@default: ReadMeterRequest", zap.String("serial", msg.Serial))
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		serial := msg.Serial
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, func() (*domain.ReadMeterResponse, error) {
			return state.readMeter(serial)
		}), mapTaskResult[domain.ReadMeterResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.ReadMeterResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(meterReadTimeout + taskTimeoutMargin).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingDevice)
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("speedwire@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *SpeedwireActor) WaitingDevice(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("speedwire@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		if msg.replyTo != nil {
			ctx.Send(msg.replyTo, msg.message)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SPEEDWIRE,
			Healthy: true,
			State:   "reading",
		})
	case domain.GetDiagnosticsRequest:
		actorutil.ForRequest(msg).Respond(ctx, state.diagnostics())
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("speedwire@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (a *SpeedwireActor) getDevicesInfo() (*domain.GetDevicesInfoResponse, error) {
	resp := &domain.GetDevicesInfoResponse{}
	if a.inverter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.inverterTimeout)
		defer cancel()
		info, err := a.inverter.GetInfo(ctx)
		if err != nil {
			a.logger.Error("inverter device info", zap.Error(err))
			return nil, err
		}
		resp.Inverter = info
	}
	if a.meter != nil {
		ctx, cancel := context.WithTimeout(context.Background(), meterReadTimeout)
		defer cancel()
		meters, err := a.meter.DeviceList(ctx)
		if err != nil {
			a.logger.Error("energy meter device list", zap.Error(err))
			return nil, err
		}
		serials := make([]string, 0, len(meters))
		for serial := range meters {
			serials = append(serials, serial)
		}
		sort.Strings(serials)
		for _, serial := range serials {
			resp.Meters = append(resp.Meters, meters[serial])
		}
	}
	return resp, nil
}

func (a *SpeedwireActor) readInverter() (*domain.ReadInverterResponse, error) {
	if a.inverter == nil {
		return nil, errors.New("no inverter configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.inverterTimeout)
	defer cancel()
	readings, err := a.inverter.ReadSensors(ctx)
	if err != nil {
		a.logger.Error("inverter read", zap.Error(err))
		return nil, err
	}
	return &domain.ReadInverterResponse{Readings: readings}, nil
}

func (a *SpeedwireActor) readMeter(serial string) (*domain.ReadMeterResponse, error) {
	if a.meter == nil {
		return nil, errors.New("no energy meter configured")
	}
	ctx, cancel := context.WithTimeout(context.Background(), meterReadTimeout)
	defer cancel()
	res, err := a.meter.ReadSensors(ctx, serial)
	if err != nil {
		a.logger.Warn("energy meter read", zap.String("serial", serial), zap.Error(err))
		return nil, err
	}
	return &domain.ReadMeterResponse{Meter: res}, nil
}

func (a *SpeedwireActor) diagnostics() domain.GetDiagnosticsResponse {
	var resp domain.GetDiagnosticsResponse
	if a.inverter != nil {
		d := a.inverter.Diagnostics()
		resp.Inverter = &d
	}
	if a.meter != nil {
		d := a.meter.Diagnostics()
		resp.EnergyMeter = &d
	}
	return resp
}

func (a *SpeedwireActor) close() {
	if a.inverter != nil {
		if err := a.inverter.Logoff(); err != nil {
			a.logger.Debug("inverter logoff", zap.Error(err))
		}
		a.inverter.Close()
	}
	if a.meter != nil {
		a.meter.Close()
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
