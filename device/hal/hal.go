package hal

import (
	"context"
	"fmt"
)

// Direction is the data direction of an endpoint or control packet event,
// encoded as bit 7 of an endpoint address.
type Direction uint8

// Directions, named from the controller's point of view as in USB 2.0.
const (
	DirectionOut Direction = 0x00 // Host to device
	DirectionIn  Direction = 0x80 // Device to host
)

// String returns "IN" or "OUT".
func (d Direction) String() string {
	if d == DirectionIn {
		return "IN"
	}
	return "OUT"
}

// EndpointType is the transfer type of an endpoint (bmAttributes bits 0-1).
type EndpointType uint8

// Endpoint transfer types (USB 2.0 Spec Table 9-13).
const (
	EndpointTypeControl     EndpointType = 0x00
	EndpointTypeIsochronous EndpointType = 0x01
	EndpointTypeBulk        EndpointType = 0x02
	EndpointTypeInterrupt   EndpointType = 0x03
)

// String returns a human-readable transfer type name.
func (t EndpointType) String() string {
	switch t & 0x03 {
	case EndpointTypeControl:
		return "Control"
	case EndpointTypeIsochronous:
		return "Isochronous"
	case EndpointTypeBulk:
		return "Bulk"
	default:
		return "Interrupt"
	}
}

// EndpointConfig describes one hardware endpoint to be configured when a
// configuration is activated. BufferOffset and BufferLength locate the
// endpoint's FIFO in the controller's packet RAM; the length already includes
// room for double buffering.
type EndpointConfig struct {
	Address       uint8        // Endpoint address including direction bit
	Type          EndpointType // Transfer type
	MaxPacketSize uint16       // Maximum packet size
	BufferOffset  uint16       // Start of the FIFO in packet RAM
	BufferLength  uint16       // Size of the FIFO in packet RAM
}

// Number returns the endpoint number (0-15).
func (e *EndpointConfig) Number() uint8 {
	return e.Address & 0x0F
}

// Direction returns the endpoint direction.
func (e *EndpointConfig) Direction() Direction {
	return Direction(e.Address & 0x80)
}

// ResetScope selects which endpoints ResetEndpoints tears down.
type ResetScope uint8

// Reset scopes.
const (
	ResetAll  ResetScope = iota // Every endpoint including EP0
	ResetUser                   // Every endpoint except EP0
)

// EventKind identifies a bus or endpoint notification from the controller.
type EventKind uint8

// Controller notifications.
const (
	EventNone    EventKind = iota
	EventReset             // Bus reset
	EventSuspend           // Bus idle for 3ms
	EventWakeup            // Resume signalling
	EventControl           // EP0 packet complete, tagged with Direction
)

// Event is one notification delivered by the controller's interrupt.
type Event struct {
	Kind      EventKind
	Direction Direction // Valid for EventControl
}

// String returns a human-readable event description.
func (e Event) String() string {
	switch e.Kind {
	case EventReset:
		return "reset"
	case EventSuspend:
		return "suspend"
	case EventWakeup:
		return "wakeup"
	case EventControl:
		return "control " + e.Direction.String()
	case EventNone:
		return "none"
	default:
		return fmt.Sprintf("event(%d)", e.Kind)
	}
}

// DeviceHAL is the Hardware Abstraction Layer consumed by the control
// transfer engine.
//
// Implementations expose the controller's endpoint FIFOs and buffer
// descriptor bookkeeping. Every method except WaitEvent is called from the
// engine's single event context and must not block.
type DeviceHAL interface {
	// Init initializes the controller. The context can be used to cancel
	// initialization.
	Init(ctx context.Context) error

	// Attach connects the device to the bus (e.g. enables the D+ pull-up).
	Attach() error

	// Detach disconnects the device from the bus.
	Detach() error

	// SetAddress writes the device address register.
	SetAddress(address uint8)

	// Address reads the device address register.
	Address() uint8

	// SetupEndpoint configures a non-control endpoint and its FIFO region.
	SetupEndpoint(cfg EndpointConfig) error

	// ResetEndpoints tears down endpoints in the given scope.
	ResetEndpoints(scope ResetScope)

	// RxCount returns the byte count the controller reports for the packet
	// waiting in the endpoint's OUT FIFO.
	RxCount(ep uint8) int

	// SetupReceived reports whether the packet waiting in the endpoint's OUT
	// FIFO arrived as a SETUP token, and clears the indication.
	SetupReceived(ep uint8) bool

	// RecvData copies up to len(buf) bytes from the endpoint's OUT FIFO and
	// returns the number copied.
	RecvData(ep uint8, buf []byte) int

	// SendData queues data into the endpoint's IN FIFO and returns the number
	// of bytes queued. Controllers may require len(data) to be a multiple of
	// the FIFO word size except for the final write of a packet.
	SendData(ep uint8, data []byte) int

	// CompleteRx releases the OUT FIFO. dataEnd marks the last packet of the
	// data phase.
	CompleteRx(ep uint8, dataEnd bool)

	// CompleteTx arms the IN FIFO for transmission. dataEnd marks the last
	// packet of the data phase.
	CompleteTx(ep uint8, dataEnd bool)

	// Stall signals a protocol stall on the endpoint.
	Stall(ep uint8)

	// WaitEvent blocks until the controller raises a notification or the
	// context is cancelled. On hardware with a real interrupt vector the
	// vector calls the engine directly and WaitEvent is unused.
	WaitEvent(ctx context.Context) (Event, error)
}
