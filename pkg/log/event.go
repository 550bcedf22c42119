package log

import (
	"time"
)

// Event is one entry in a protocol capture. Every event carries the
// envelope fields (timestamp, source device, direction, layer,
// category) plus exactly one payload matching its category. Struct
// tags use integer keys so the on-disk CBOR stays compact.
type Event struct {
	// Timestamp records when the event happened, to nanosecond
	// precision.
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID groups events belonging to one chiller TCP session
	// or one LabJack session (a UUID). Empty when the event is not
	// tied to a session.
	ConnectionID string `cbor:"2,keyasint,omitempty"`

	// Source names the device the event came from.
	Source Source `cbor:"3,keyasint"`

	// Direction tells whether data flowed toward or away from the
	// device.
	Direction Direction `cbor:"4,keyasint"`

	// Layer tells where in the stack the event was captured.
	Layer Layer `cbor:"5,keyasint"`

	// Category selects which payload field below is populated.
	Category Category `cbor:"6,keyasint"`

	// RemoteAddr is the device's network address (IP:port), when
	// known.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`
	Command     *CommandEvent     `cbor:"9,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"11,keyasint,omitempty"`
}

// Source names the device a log event relates to.
type Source uint8

const (
	// SourceChiller is the ThermoTek chiller.
	SourceChiller Source = 0
	// SourceLamp is the KiloArc lamp controller (via the LabJack).
	SourceLamp Source = 1
)

func (s Source) String() string {
	switch s {
	case SourceChiller:
		return "CHILLER"
	case SourceLamp:
		return "LAMP"
	default:
		return "UNKNOWN"
	}
}

// Direction is the flow of data relative to us: in from the device,
// out toward it, or none for events with no flow (state changes).
type Direction uint8

const (
	DirectionIn   Direction = 0
	DirectionOut  Direction = 1
	DirectionNone Direction = 2
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	case DirectionNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// Layer is the stack level an event was captured at.
type Layer uint8

const (
	// LayerTransport covers raw framing: the bytes on the socket.
	LayerTransport Layer = 0
	// LayerProtocol covers decoded commands and replies.
	LayerProtocol Layer = 1
	// LayerDevice covers derived device state.
	LayerDevice Layer = 2
)

func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerProtocol:
		return "PROTOCOL"
	case LayerDevice:
		return "DEVICE"
	default:
		return "UNKNOWN"
	}
}

// Category says what kind of payload an event carries.
type Category uint8

const (
	// CategoryFrame marks a raw protocol frame.
	CategoryFrame Category = 0
	// CategoryCommand marks a decoded command or reply.
	CategoryCommand Category = 1
	// CategoryState marks a device state transition.
	CategoryState Category = 2
	// CategoryError marks an error.
	CategoryError Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryCommand:
		return "COMMAND"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent holds the raw bytes of one wire frame.
type FrameEvent struct {
	// Size is the frame length in bytes.
	Size int `cbor:"1,keyasint"`

	// Data holds the frame bytes themselves.
	Data []byte `cbor:"2,keyasint,omitempty"`
}

// CommandEvent holds one decoded chiller command or reply.
type CommandEvent struct {
	// CommandID is the 2-digit chiller command ID (e.g. "01").
	CommandID string `cbor:"1,keyasint"`

	// Mnemonic is the 8-character command name (e.g. "WatchDog").
	Mnemonic string `cbor:"2,keyasint,omitempty"`

	// Data is the command or reply payload, verbatim.
	Data string `cbor:"3,keyasint,omitempty"`

	// ErrorDigit is the reply's error digit ("0" means success);
	// empty on outbound commands, which carry none.
	ErrorDigit string `cbor:"4,keyasint,omitempty"`
}

// StateChangeEvent holds one device state transition.
type StateChangeEvent struct {
	// Entity names what changed, e.g. "lampBasicState" or
	// "chillerControllerState".
	Entity string `cbor:"1,keyasint"`

	// OldState and NewState are the state names before and after.
	OldState string `cbor:"2,keyasint"`
	NewState string `cbor:"3,keyasint"`

	// Reason gives optional context for the transition.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// ErrorEventData holds one error observed at any layer.
type ErrorEventData struct {
	// Layer is where the error happened.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context adds detail, e.g. the command that was running.
	Context string `cbor:"3,keyasint,omitempty"`
}
