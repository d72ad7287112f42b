package device

import "fmt"

// Engine limits for fixed-size tables.
const (
	// MaxEndpoints is the number of endpoint numbers per direction.
	MaxEndpoints = 16

	// MaxConfigurations is the maximum number of configurations per device.
	MaxConfigurations = 4

	// MaxInterfaces is the maximum number of interfaces per configuration
	// that may carry a class handler.
	MaxInterfaces = 8

	// FIFOWordSize is the write granularity of the controller's FIFOs.
	// Every FIFO write except the last of a packet is a multiple of this size.
	FIFOWordSize = 4

	// DefaultMaxPacketSize0 is used when neither the configuration nor the
	// device descriptor provides an endpoint 0 packet size.
	DefaultMaxPacketSize0 = 64

	// DefaultEP0BufferSize is the packet RAM reserved for endpoint 0. User
	// endpoint buffers are allocated after it.
	DefaultEP0BufferSize = 256
)

// Device states. The engine reads bus events and control requests to
// advance between them.
const (
	StateDetached   State = iota // Not connected to the bus
	StateAttached                // Pull-up enabled, not yet powered
	StatePowered                 // Powered, awaiting bus reset
	StateWaiting                 // Reset received, default address
	StateAddressing              // SET_ADDRESS acknowledged, address pending
	StateAddressed               // Unique address assigned
	StateConfigured              // Configuration active
)

// State represents USB device state.
type State uint8

// String returns a human-readable state description.
func (s State) String() string {
	switch s {
	case StateDetached:
		return "Detached"
	case StateAttached:
		return "Attached"
	case StatePowered:
		return "Powered"
	case StateWaiting:
		return "Waiting"
	case StateAddressing:
		return "Addressing"
	case StateAddressed:
		return "Addressed"
	case StateConfigured:
		return "Configured"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Control endpoint phases.
const (
	PhaseIdle     Phase = iota // No transaction in progress
	PhaseWait                  // Setup stage decoded, answer pending
	PhaseDataTX                // Device-to-host data stage
	PhaseDataRX                // Host-to-device data stage
	PhaseStatusTX              // Device sends the status ZLP
	PhaseStatusRX              // Device awaits the host's status ZLP
)

// Phase is the control endpoint's position within a control transfer.
type Phase uint8

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseWait:
		return "wait"
	case PhaseDataTX:
		return "dataTX"
	case PhaseDataRX:
		return "dataRX"
	case PhaseStatusTX:
		return "statusTX"
	case PhaseStatusRX:
		return "statusRX"
	default:
		return fmt.Sprintf("phase(%d)", p)
	}
}
