package device

import (
	"fmt"
	"sync/atomic"

	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
)

// Config holds runtime engine settings. Zero fields take defaults.
type Config struct {
	// MaxPacketSize0 is the endpoint 0 packet size. Zero uses the catalog's
	// bMaxPacketSize0, or DefaultMaxPacketSize0 without a catalog.
	MaxPacketSize0 uint8

	// EP0BufferSize is the packet RAM reserved for endpoint 0 ahead of user
	// endpoint buffers. Zero uses DefaultEP0BufferSize.
	EP0BufferSize uint16
}

// Engine is the endpoint 0 control-transfer engine. It owns the setup packet,
// control phase, per-endpoint transfer statuses, class handler registry, and
// device state.
//
// Engine is not reentrant. HandleEvent and HandleControlPacket must be called
// from one execution context at a time, typically the controller interrupt
// or a Stack event loop. State and ActiveConfiguration may be read from any
// goroutine.
type Engine struct {
	hal     hal.DeviceHAL
	catalog DescriptorCatalog

	packetSize    int
	ep0BufferSize uint16

	setupBuf [SetupPacketSize]byte
	setup    SetupPacket
	phase    Phase

	state        atomic.Uint32
	activeConfig atomic.Uint32
	suspended    atomic.Bool

	// Storage referenced by data answers; valid until the next setup.
	configByte [1]byte
	statusResp [2]byte

	in  [MaxEndpoints]TransferStatus
	out [MaxEndpoints]TransferStatus

	registry Registry

	deferred func()
	received func(data []byte) Answer

	onSuspend func()
	onWakeup  func()
}

// NewEngine creates an engine on top of h serving descriptors from catalog.
// catalog may be nil, in which case every GET_DESCRIPTOR stalls and no
// configuration can be selected.
func NewEngine(h hal.DeviceHAL, catalog DescriptorCatalog, cfg Config) *Engine {
	e := &Engine{
		hal:           h,
		catalog:       catalog,
		packetSize:    int(cfg.MaxPacketSize0),
		ep0BufferSize: cfg.EP0BufferSize,
	}
	if e.packetSize == 0 && catalog != nil {
		e.packetSize = int(catalog.MaxPacketSize0())
	}
	if e.packetSize == 0 {
		e.packetSize = DefaultMaxPacketSize0
	}
	if e.ep0BufferSize == 0 {
		e.ep0BufferSize = DefaultEP0BufferSize
	}
	for i := 0; i < MaxEndpoints; i++ {
		e.in[i].endpoint = EndpointAddress{number: uint8(i), dir: hal.DirectionIn}
		e.out[i].endpoint = EndpointAddress{number: uint8(i), dir: hal.DirectionOut}
	}
	return e
}

// State returns the current device state.
func (e *Engine) State() State {
	return State(e.state.Load())
}

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(uint32(s)))
	if old != s {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", old.String(),
			"to", s.String())
	}
}

// ActiveConfiguration returns the active configuration value, or 0 when the
// device is not configured.
func (e *Engine) ActiveConfiguration() uint8 {
	return uint8(e.activeConfig.Load())
}

func (e *Engine) setActiveConfiguration(v uint8) {
	e.activeConfig.Store(uint32(v))
	e.configByte[0] = v
}

// Phase returns the control endpoint phase. It must only be read from the
// engine's execution context.
func (e *Engine) Phase() Phase {
	return e.phase
}

// Setup returns the most recent setup packet.
func (e *Engine) Setup() SetupPacket {
	return e.setup
}

// PacketSize returns the endpoint 0 packet size in use.
func (e *Engine) PacketSize() int {
	return e.packetSize
}

// Suspended reports whether the bus is suspended.
func (e *Engine) Suspended() bool {
	return e.suspended.Load()
}

// SetOnSuspend sets the bus suspend callback.
func (e *Engine) SetOnSuspend(cb func()) {
	e.onSuspend = cb
}

// SetOnWakeup sets the bus wakeup callback.
func (e *Engine) SetOnWakeup(cb func()) {
	e.onWakeup = cb
}

// Attach connects the device to the bus.
func (e *Engine) Attach() error {
	e.setState(StateAttached)
	if err := e.hal.Attach(); err != nil {
		e.setState(StateDetached)
		return fmt.Errorf("attach: %w", err)
	}
	e.hal.SetAddress(0)
	e.setActiveConfiguration(0)
	e.setState(StatePowered)
	pkg.LogInfo(pkg.ComponentDevice, "attached")
	return nil
}

// Detach disconnects the device from the bus and releases class drivers.
func (e *Engine) Detach() error {
	err := e.hal.Detach()
	e.registry.deinit(e.ActiveConfiguration())
	e.setActiveConfiguration(0)
	e.cancelTransaction()
	e.setState(StateDetached)
	if err != nil {
		return fmt.Errorf("detach: %w", err)
	}
	pkg.LogInfo(pkg.ComponentDevice, "detached")
	return nil
}

// HandleEvent processes one controller notification.
func (e *Engine) HandleEvent(ev hal.Event) {
	switch ev.Kind {
	case hal.EventReset:
		e.busReset()
	case hal.EventSuspend:
		e.suspended.Store(true)
		pkg.LogDebug(pkg.ComponentDevice, "bus suspended")
		if e.onSuspend != nil {
			e.onSuspend()
		}
	case hal.EventWakeup:
		e.suspended.Store(false)
		pkg.LogDebug(pkg.ComponentDevice, "bus resumed")
		if e.onWakeup != nil {
			e.onWakeup()
		}
	case hal.EventControl:
		e.HandleControlPacket(ev.Direction)
	default:
		pkg.LogDebug(pkg.ComponentDevice, "ignoring event", "event", ev.String())
	}
}

func (e *Engine) busReset() {
	e.registry.deinit(e.ActiveConfiguration())
	e.hal.ResetEndpoints(hal.ResetAll)
	e.hal.SetAddress(0)
	e.setActiveConfiguration(0)
	e.suspended.Store(false)
	e.cancelTransaction()
	e.setState(StateWaiting)
	pkg.LogDebug(pkg.ComponentDevice, "bus reset")
}
