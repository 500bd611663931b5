// Package events defines event types and enumerations for the flexlink event system.
package events

import "time"

// EventType represents the type of event emitted through the EventBus.
type EventType string

const (
	// Session lifecycle events
	EventConnectionState EventType = "connection_state"
	EventStreamActivity  EventType = "stream_activity"
	EventHandle          EventType = "client_handle"

	// Registry lifecycle events
	EventObjectAdded    EventType = "object_added"
	EventObjectUpdated  EventType = "object_updated"
	EventObjectRemoving EventType = "object_removing"

	// Radio-level events
	EventRadioUpdated EventType = "radio_updated"
	EventRadioMessage EventType = "radio_message"
	EventReplyError   EventType = "reply_error"
	EventMeterUpdated EventType = "meter_updated"
	EventPacketLoss   EventType = "packet_loss"

	// System events
	EventHeartbeat     EventType = "heartbeat"
	EventConfigChanged EventType = "config_changed"
	EventShutdown      EventType = "shutdown"
)

// ConnectionState is the coarse lifecycle of a radio session.
type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateConnecting
	StateConnected
	StateStreamBound
	StateActive
	StateUpdating
	StateDisconnected
)

// connectionStateStrings maps ConnectionState values to their JSON string representation.
var connectionStateStrings = map[ConnectionState]string{
	StateIdle:         "idle",
	StateConnecting:   "transport_connecting",
	StateConnected:    "transport_connected",
	StateStreamBound:  "stream_transport_bound",
	StateActive:       "session_active",
	StateUpdating:     "updating",
	StateDisconnected: "disconnected",
}

// String returns the string representation of ConnectionState.
func (s ConnectionState) String() string {
	if str, ok := connectionStateStrings[s]; ok {
		return str
	}
	return "idle"
}

// MarshalJSON serializes ConnectionState as a JSON string (e.g. "session_active").
func (s ConnectionState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// DisconnectReason explains why a session reached StateDisconnected.
type DisconnectReason int

const (
	ReasonNone DisconnectReason = iota
	ReasonClosed
	ReasonConnectionFailed
	ReasonTimeout
	ReasonTooManyGuiClients
	ReasonRequested
)

var disconnectReasonStrings = map[DisconnectReason]string{
	ReasonNone:              "",
	ReasonClosed:            "closed",
	ReasonConnectionFailed:  "connection_failed",
	ReasonTimeout:           "timeout",
	ReasonTooManyGuiClients: "too_many_gui_clients",
	ReasonRequested:         "requested",
}

// String returns the string representation of DisconnectReason.
func (r DisconnectReason) String() string {
	return disconnectReasonStrings[r]
}

// MarshalJSON serializes DisconnectReason as a JSON string.
func (r DisconnectReason) MarshalJSON() ([]byte, error) {
	return []byte(`"` + r.String() + `"`), nil
}

// ObjectKind identifies a registry collection.
type ObjectKind int

const (
	KindAudioStream ObjectKind = iota
	KindMicAudioStream
	KindTxAudioStream
	KindIqStream
	KindPanadapter
	KindWaterfall
	KindOpus
	KindSlice
	KindMemory
	KindMeter
	KindEqualizer
	KindTnf
	KindXvtr
	KindUsbCable
)

var objectKindStrings = map[ObjectKind]string{
	KindAudioStream:    "audio_stream",
	KindMicAudioStream: "mic_audio_stream",
	KindTxAudioStream:  "tx_audio_stream",
	KindIqStream:       "iq_stream",
	KindPanadapter:     "panadapter",
	KindWaterfall:      "waterfall",
	KindOpus:           "opus",
	KindSlice:          "slice",
	KindMemory:         "memory",
	KindMeter:          "meter",
	KindEqualizer:      "equalizer",
	KindTnf:            "tnf",
	KindXvtr:           "xvtr",
	KindUsbCable:       "usb_cable",
}

// AllKinds lists every registry collection in display order.
var AllKinds = []ObjectKind{
	KindSlice, KindPanadapter, KindWaterfall, KindMeter, KindAudioStream,
	KindMicAudioStream, KindTxAudioStream, KindIqStream, KindOpus, KindEqualizer,
	KindTnf, KindMemory, KindXvtr, KindUsbCable,
}

// String returns the string representation of ObjectKind.
func (k ObjectKind) String() string {
	if str, ok := objectKindStrings[k]; ok {
		return str
	}
	return "unknown"
}

// ParseObjectKind returns the kind named s (as produced by String).
func ParseObjectKind(s string) (ObjectKind, bool) {
	for k, name := range objectKindStrings {
		if name == s {
			return k, true
		}
	}
	return 0, false
}

// MarshalJSON serializes ObjectKind as a JSON string (e.g. "slice").
func (k ObjectKind) MarshalJSON() ([]byte, error) {
	return []byte(`"` + k.String() + `"`), nil
}

// Event represents a single event in the system.
type Event struct {
	Type    EventType
	Source  string
	Payload interface{}
}

// ConnectionStatePayload accompanies EventConnectionState.
type ConnectionStatePayload struct {
	SessionID string
	State     ConnectionState
	Reason    DisconnectReason
	Host      string
	Port      int
	UDPPort   int
}

// ObjectPayload accompanies EventObjectAdded and EventObjectRemoving. Object
// is the live registry entry.
type ObjectPayload struct {
	Kind   ObjectKind
	ID     string
	Object interface{}
}

// ObjectUpdatedPayload lists the fields an applied status line or setter changed.
type ObjectUpdatedPayload struct {
	Kind    ObjectKind
	ID      string
	Changed []string
}

// RadioUpdatedPayload lists radio-level fields changed in one area
// (radio, transmit, atu, gps, interlock, profile, info, ...).
type RadioUpdatedPayload struct {
	Area    string
	Changed []string
}

// RadioMessagePayload carries an M line.
type RadioMessagePayload struct {
	Code       uint32
	Severity   string
	Text       string
	ReceivedAt time.Time
}

// ReplyErrorPayload is emitted for a non-zero reply with no continuation.
type ReplyErrorPayload struct {
	Sequence uint32
	Command  string
	Code     string
	Body     string
}

// MeterUpdatedPayload carries a scaled meter reading.
type MeterUpdatedPayload struct {
	ID    string
	Name  string
	Units string
	Value float64
}

// PacketLossPayload reports a detected gap or dropped frame on a stream.
type PacketLossPayload struct {
	Kind  ObjectKind
	ID    string
	Total uint64
}

// StreamActivityPayload reports the stream transport going active or idle.
type StreamActivityPayload struct {
	Active bool
}

// HeartbeatPayload is the periodic session summary published to telemetry.
type HeartbeatPayload struct {
	SessionID     string
	State         ConnectionState
	Handle        string
	Objects       map[string]int
	Outstanding   int
	CPUPercent    float64
	MemoryPercent float64
	Timestamp     time.Time
}

// ConfigChangedPayload is emitted when configuration changes occur.
type ConfigChangedPayload struct {
	Section string
	Key     string
	Value   interface{}
}
