package speedwire

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type SessionState int

const (
	StateIdle SessionState = iota
	StateAwaitingLogin
	StateAwaitingCommand
	StateSettling
	StateDone
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingLogin:
		return "awaiting_login"
	case StateAwaitingCommand:
		return "awaiting_command"
	case StateSettling:
		return "settling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

const (
	maxResends   = 2
	settleWindow = 200 * time.Millisecond
)

var errTransportClosed = errors.New("transport closed")

type SessionResult struct {
	// raw values: login error and serial, then sensor keys
	Values   map[string]any
	Readings Readings
	Sent     int
	Failed   int
	Resent   int
}

// Sequencer drives one session over one transport: login, then each command
// in turn, one in flight at a time, resending on timeout.
type Sequencer struct {
	target    string
	transport Transport
	encoder   *FrameEncoder
	decoder   *RegisterDecoder
	catalog   *Catalog
	password  string
	group     LoginGroup
	opts      InverterOptions
	settle    time.Duration
	logger    *zap.Logger
	diag      *inverterDiagnostics
	metrics   *Metrics

	state    SessionState
	commands []string
	index    int
	resends  int
	sent     int
	failed   int
	resent   int
	values   map[string]any
	overlay  *SensorOverlay
	lastSend time.Time
}

func newSequencer(target string, transport Transport, catalog *Catalog, password string, group LoginGroup,
	opts InverterOptions, logger *zap.Logger, diag *inverterDiagnostics, metrics *Metrics) *Sequencer {
	return &Sequencer{
		target:    target,
		transport: transport,
		encoder:   NewFrameEncoder(),
		decoder:   NewRegisterDecoder(catalog, logger),
		catalog:   catalog,
		password:  password,
		group:     group,
		opts:      opts,
		settle:    settleWindow,
		logger:    logger,
		diag:      diag,
		metrics:   metrics,
		overlay:   NewSensorOverlay(catalog, logger),
		values:    map[string]any{},
	}
}

func (s *Sequencer) State() SessionState {
	return s.state
}

// Run executes login followed by commands. It returns an AuthenticationError
// when the login is rejected, and a ConnectionError or ReadError when the
// overall deadline passes before the last command is settled.
func (s *Sequencer) Run(ctx context.Context, commands []string) (*SessionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.overallTimeout(s.catalog))
	defer cancel()

	s.reset(commands)
	start := time.Now()

	for s.index < len(s.commands) {
		name := s.commands[s.index]
		if s.resends == 0 {
			if err := sleepContext(ctx, s.opts.CommandDelay); err != nil {
				return nil, s.fail(err)
			}
			s.sent++
			s.diag.count(1, 0, 0)
		}
		frame, err := s.frame(name)
		if err != nil {
			s.state = StateFailed
			return nil, err
		}
		if err := s.send(name, frame); err != nil {
			// an unreachable device shows up as a failed send, retried like a timeout
			s.logger.Debug("send failed", zap.String("command", name), zap.Error(err))
		}

		confirmed, err := s.await(ctx, s.opts.CommandTimeout)
		if err != nil {
			return nil, s.fail(err)
		}
		if confirmed {
			s.advance()
			continue
		}

		s.logger.Debug("command timeout", zap.String("command", name), zap.Int("resends", s.resends))
		if s.resends >= maxResends {
			s.logger.Debug("giving up on command", zap.String("command", name))
			s.failed++
			s.diag.count(0, 0, 1)
			s.metrics.commandFailed()
			s.advance()
			continue
		}
		s.resends++
		s.resent++
		s.diag.count(0, 1, 0)
		s.metrics.resent()
	}

	s.state = StateSettling
	if err := s.drain(ctx, s.settle); err != nil && !isDeadline(err) {
		return nil, s.fail(err)
	}
	s.state = StateDone
	s.diag.setData(s.values)
	s.diag.traceTotal(time.Since(start))
	return s.result(), nil
}

func (s *Sequencer) reset(commands []string) {
	s.commands = append([]string{CommandLogin}, commands...)
	s.index = 0
	s.resends = 0
	s.sent = 0
	s.failed = 0
	s.resent = 0
	s.values = map[string]any{}
	s.overlay.Reset()
	s.state = StateAwaitingLogin
}

func (s *Sequencer) advance() {
	s.index++
	s.resends = 0
	if s.index < len(s.commands) {
		s.state = StateAwaitingCommand
	}
}

func (s *Sequencer) frame(name string) ([]byte, error) {
	if name == CommandLogin {
		return s.encoder.LoginFrame(s.password, s.group), nil
	}
	cmd, ok := s.catalog.Command(name)
	if !ok {
		return nil, fmt.Errorf("unknown command %s", name)
	}
	return s.encoder.QueryFrame(cmd), nil
}

func (s *Sequencer) send(name string, frame []byte) error {
	s.logger.Debug("sending command", zap.String("command", name), zap.Int("len", len(frame)))
	s.diag.traceSend(name)
	s.metrics.frameSent(name)
	s.lastSend = time.Now()
	return s.transport.Send(frame)
}

// await consumes datagrams until one confirms the command in flight or the
// command timeout passes.
func (s *Sequencer) await(ctx context.Context, timeout time.Duration) (bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-timer.C:
			return false, nil
		case dg, ok := <-s.transport.Datagrams():
			if !ok {
				return false, errTransportClosed
			}
			confirmed, err := s.handle(dg, true)
			if err != nil {
				return false, err
			}
			if confirmed {
				return true, nil
			}
		}
	}
}

// drain decodes straggling datagrams until the window closes.
func (s *Sequencer) drain(ctx context.Context, window time.Duration) error {
	timer := time.NewTimer(window)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case dg, ok := <-s.transport.Datagrams():
			if !ok {
				return nil
			}
			if _, err := s.handle(dg, false); err != nil {
				return err
			}
		}
	}
}

func (s *Sequencer) handle(dg Datagram, pending bool) (bool, error) {
	var delta time.Duration
	if !s.lastSend.IsZero() {
		delta = dg.Received.Sub(s.lastSend)
		s.lastSend = time.Time{}
	}
	s.diag.traceRecv(dg.Data, delta)

	decoded := s.decoder.Decode(dg.Data)
	if !decoded.Kind.Confirms() {
		return false, nil
	}
	s.diag.decoded(decoded)
	for range decoded.Unknown {
		s.metrics.unknownCode()
	}

	switch decoded.Kind {
	case DatagramLogin:
		s.logger.Debug("login response", zap.Uint16("error", decoded.Login.Error), zap.Uint32("serial", decoded.Login.Serial))
		s.overlay.Reset()
		s.values = map[string]any{
			"error":  int(decoded.Login.Error),
			"serial": strconv.FormatUint(uint64(decoded.Login.Serial), 10),
		}
		if decoded.Login.AuthFailed() {
			s.logger.Error("login failed", zap.String("target", s.target), zap.String("group", string(s.group)))
			return false, &AuthenticationError{Target: s.target, Group: s.group}
		}
	case DatagramRegisters:
		for _, e := range decoded.Extractions {
			s.overlay.Apply(e.Sensor, e.Value, e.Overwrite)
			if r, ok := s.overlay.Get(e.Sensor.Key); ok {
				s.values[e.Sensor.Key] = rawValue(r)
			}
		}
	}

	if !pending {
		s.logger.Debug("unexpected message", zap.String("code", fmt.Sprintf("%08X", decoded.Code)), zap.Stringer("kind", decoded.Kind))
		return false, nil
	}
	return true, nil
}

func (s *Sequencer) fail(err error) error {
	s.state = StateFailed
	var authErr *AuthenticationError
	switch {
	case errors.As(err, &authErr):
		return err
	case errors.Is(err, errTransportClosed):
		return &ConnectionError{Target: s.target, Reason: "transport closed", Err: err}
	case isDeadline(err):
		s.diag.timeout()
		s.metrics.sessionTimeout(s.target)
		s.logger.Warn("session timeout", zap.String("target", s.target), zap.Int("command", s.index), zap.Int("commands", len(s.commands)))
		if loginError, ok := s.values["error"].(int); ok && loginError == 0 {
			return &ReadError{Target: s.target, Reason: "reply for request not received"}
		}
		return &ConnectionError{Target: s.target, Reason: "session timeout", Err: err}
	default:
		return err
	}
}

func (s *Sequencer) result() *SessionResult {
	values := make(map[string]any, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return &SessionResult{
		Values:   values,
		Readings: s.overlay.Readings(),
		Sent:     s.sent,
		Failed:   s.failed,
		Resent:   s.resent,
	}
}

func rawValue(r Reading) any {
	if r.IsText() {
		return r.Raw.Text
	}
	return r.Value
}

func isDeadline(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
