package domain

import "github.com/berfenger/speedwire2mqtt/pkg/speedwire"

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_SPEEDWIRE    = "speedwire"
	ACTOR_ID_POLLER       = "poller"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetDevicesInfoRequest struct {
	ActorRequestMixIn
}

type GetDevicesInfoResponse struct {
	ActorResponseMixIn
	Inverter *speedwire.DeviceInfo
	Meters   []*speedwire.DeviceInfo
}

type ReadInverterRequest struct {
	ActorRequestMixIn
}

type ReadInverterResponse struct {
	ActorResponseMixIn
	Readings speedwire.Readings
}

type ReadMeterRequest struct {
	ActorRequestMixIn
	// empty accepts any meter
	Serial string
}

type ReadMeterResponse struct {
	ActorResponseMixIn
	Meter *speedwire.MeterReadings
}

type GetDiagnosticsRequest struct {
	ActorRequestMixIn
}

type GetDiagnosticsResponse struct {
	ActorResponseMixIn `json:"-" cbor:"-"`
	Inverter           *speedwire.InverterDiagnostics `json:"inverter,omitempty" cbor:"inverter,omitempty"`
	EnergyMeter        *speedwire.MeterDiagnostics    `json:"energy_meter,omitempty" cbor:"energy_meter,omitempty"`
}

// PollNowRequest asks the poller for an immediate inverter sweep.
type PollNowRequest struct {
	ActorRequestMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishSensorUpdateRequest struct {
	ActorRequestMixIn
	Retain bool
	Event  SensorUpdateEvent
}

type PublishSensorUpdateResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors []GenericSensor
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}
