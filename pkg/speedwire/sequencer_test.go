package speedwire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

const testSerial = 3006543210

func testSequencer(transport Transport, opts InverterOptions) *Sequencer {
	logger := zap.Must(zap.NewDevelopment())
	s := newSequencer("test", transport, DefaultCatalog(), "xyz", GroupUser, opts, logger, newInverterDiagnostics(100), nil)
	s.settle = 10 * time.Millisecond
	return s
}

// responder answers the login and the commands whose first register has an
// entry in answers.
func responder(loginError uint16, answers map[string][][]byte) func(frame []byte) [][]byte {
	byFirst := map[uint32][][]byte{}
	for name, dgs := range answers {
		cmd, _ := DefaultCatalog().Command(name)
		byFirst[cmd.First] = dgs
	}
	return func(frame []byte) [][]byte {
		if isLoginFrame(frame) {
			return [][]byte{loginResponse(testSerial, loginError)}
		}
		_, first := frameCommand(frame)
		return byFirst[first]
	}
}

func typeLabelResponse() []byte {
	return registerDatagram(testSerial, 0, 0x58000201,
		register(0x08821F01, 0x01000000|8001, 0, 0, 0, 0),
		register(0x08822001, 0x01000000|9225, 0, 0, 0, 0))
}

func firmwareResponse() []byte {
	return registerDatagram(testSerial, 0, 0x58000201, register(0x00823401, 0, 0, 0, 0, 0x01020304))
}

func TestUnansweredCommandIsResentTwice(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(responder(0, nil))
	s := testSequencer(ft, InverterOptions{CommandTimeout: 20 * time.Millisecond})

	result, err := s.Run(context.Background(), []string{"TypeLabel"})
	assert.Nil(err)
	assert.Equal(StateDone, s.State())

	cmd, _ := DefaultCatalog().Command("TypeLabel")
	assert.Equal(3, countFrames(ft.sentFrames(), cmd), "one send and two resends")
	assert.Equal(1, result.Failed)
	assert.Equal(2, result.Sent, "login and TypeLabel")
	assert.Equal(2, result.Resent)
	assert.Equal("3006543210", result.Values["serial"])
	assert.Equal(0, result.Values["error"])
}

func TestFailedSendIsRetried(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(responder(0, map[string][][]byte{
		"TypeLabel": {typeLabelResponse()},
	}))
	ft.failSends = 2
	s := testSequencer(ft, InverterOptions{CommandTimeout: 20 * time.Millisecond})

	result, err := s.Run(context.Background(), []string{"TypeLabel"})
	assert.Nil(err)
	assert.Equal(StateDone, s.State())
	assert.Equal(0, result.Failed)
	assert.Equal(2, result.Resent, "login sent three times")
	assert.Len(ft.sentFrames(), 4)
	assert.Contains(result.Readings, "inverter_type")
}

func TestUnreachableCommandIsAbandoned(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(nil)
	ft.failSends = 100
	s := testSequencer(ft, InverterOptions{CommandTimeout: 5 * time.Millisecond})

	result, err := s.Run(context.Background(), []string{"TypeLabel"})
	assert.Nil(err)
	assert.Equal(2, result.Failed)
	assert.Equal(2, result.Sent)
	assert.Equal(4, result.Resent)
	assert.Len(ft.sentFrames(), 6)
	diag := s.diag.snapshot()
	assert.Equal(2, diag.FailedCounter)
	assert.Equal(4, diag.ResendCounter)
}

func TestDeviceInfoWithOnlyTypeLabelAnswered(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(responder(0, map[string][][]byte{
		"TypeLabel": {typeLabelResponse()},
	}))
	s := testSequencer(ft, InverterOptions{CommandTimeout: 20 * time.Millisecond})

	result, err := s.Run(context.Background(), []string{"TypeLabel", "Firmware"})
	assert.Nil(err)
	assert.Equal(1, result.Failed)
	assert.Equal(3, result.Sent)

	assert.Len(result.Readings, 2)
	assert.Contains(result.Readings, "inverter_class")
	assert.Contains(result.Readings, "inverter_type")
	assert.NotContains(result.Readings, "Firmware")
	assert.Equal("Solar Inverters", result.Readings["inverter_class"].Label)
	assert.Equal(8001.0, result.Values["inverter_class"])
}

func TestLoginRejected(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(responder(loginErrorAuth, nil))
	s := testSequencer(ft, InverterOptions{CommandTimeout: 20 * time.Millisecond})

	_, err := s.Run(context.Background(), []string{"TypeLabel", "Firmware"})
	var authErr *AuthenticationError
	assert.True(errors.As(err, &authErr))
	assert.Equal(StateFailed, s.State())
	assert.Len(ft.sentFrames(), 1, "nothing sent after the login")
}

func TestOverallTimeoutWithoutLogin(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(nil)
	s := testSequencer(ft, InverterOptions{CommandTimeout: 30 * time.Millisecond, OverallTimeout: 50 * time.Millisecond})

	_, err := s.Run(context.Background(), []string{"TypeLabel"})
	var connErr *ConnectionError
	assert.True(errors.As(err, &connErr))
	assert.Equal(StateFailed, s.State())
	assert.Equal(1, s.diag.snapshot().Timeouts)
}

func TestOverallTimeoutAfterLogin(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(responder(0, nil))
	s := testSequencer(ft, InverterOptions{CommandTimeout: 40 * time.Millisecond, OverallTimeout: 60 * time.Millisecond})

	_, err := s.Run(context.Background(), []string{"TypeLabel"})
	var readErr *ReadError
	assert.True(errors.As(err, &readErr))
}

func TestStragglerDecodedWhileSettling(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(responder(0, map[string][][]byte{
		"TypeLabel": {typeLabelResponse(), firmwareResponse()},
	}))
	s := testSequencer(ft, InverterOptions{CommandTimeout: 20 * time.Millisecond})

	result, err := s.Run(context.Background(), []string{"TypeLabel"})
	assert.Nil(err)
	assert.Equal(0, result.Failed)
	assert.Equal("1.2.3.R", result.Values["Firmware"])
}

func TestNackConfirmsCommand(t *testing.T) {

	assert := assert.New(t)

	nack := registerDatagram(testSerial, 0, 0x58000201)[:50]
	ft := newFakeTransport(responder(0, map[string][][]byte{
		"TypeLabel": {nack},
	}))
	s := testSequencer(ft, InverterOptions{CommandTimeout: 20 * time.Millisecond})

	result, err := s.Run(context.Background(), []string{"TypeLabel"})
	assert.Nil(err)
	assert.Equal(0, result.Failed)
	assert.Empty(result.Readings)

	cmd, _ := DefaultCatalog().Command("TypeLabel")
	assert.Equal(1, countFrames(ft.sentFrames(), cmd))
}

func TestCommandDelay(t *testing.T) {

	assert := assert.New(t)

	ft := newFakeTransport(responder(0, map[string][][]byte{
		"TypeLabel": {typeLabelResponse()},
		"Firmware":  {firmwareResponse()},
	}))
	s := testSequencer(ft, InverterOptions{CommandTimeout: 20 * time.Millisecond, CommandDelay: 30 * time.Millisecond})

	start := time.Now()
	result, err := s.Run(context.Background(), []string{"TypeLabel", "Firmware"})
	assert.Nil(err)
	assert.GreaterOrEqual(time.Since(start), 90*time.Millisecond, "one delay per first send")
	assert.Len(result.Readings, 3)
}
