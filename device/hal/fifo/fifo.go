package fifo

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
	"github.com/ardnew/usbcore/pkg/capture"
)

// WordSize is the FIFO access granularity. Every write to a transmit FIFO
// except the last one of a packet must be a multiple of WordSize bytes.
const WordSize = device.FIFOWordSize

// MaxPacketSize0 is the largest endpoint 0 packet the controller buffers.
const MaxPacketSize0 = 64

// DefaultRAMSize is the default size of the packet RAM in bytes.
const DefaultRAMSize = 4096

// eventQueueSize bounds the notifications queued for the event loop.
const eventQueueSize = 32

type endpointSlot struct {
	cfg  hal.EndpointConfig
	used bool
}

// Controller is an in-memory model of a device controller. It implements
// hal.DeviceHAL for the engine and exposes the bus side to a Host.
//
// The model enforces the rules real hardware imposes on the engine: FIFO
// writes of WordSize granularity, endpoint buffers inside packet RAM without
// overlapping each other or the endpoint 0 reservation, and packets no larger
// than MaxPacketSize0 on endpoint 0.
type Controller struct {
	mutex sync.Mutex

	ramSize    uint16
	ep0Reserve uint16
	sink       capture.Sink

	initDone bool
	attached bool
	address  uint8

	endpoints [device.MaxEndpoints][2]endpointSlot
	stalled   [device.MaxEndpoints]bool

	// Endpoint 0 receive side: the packet last delivered by the host.
	rx      []byte
	rxSetup bool

	// Endpoint 0 transmit side.
	tx       [MaxPacketSize0]byte
	txLen    int
	txSealed bool
	inQueue  [][]byte

	faults []error

	events    chan hal.Event
	closeCh   chan struct{}
	closeOnce sync.Once

	// Event hand-off counters. handled catches up with taken each time the
	// event loop comes back for more work.
	posted   uint64
	taken    uint64
	handled  uint64
	progress chan struct{}
}

// Option configures a Controller.
type Option func(*Controller)

// WithRAMSize sets the packet RAM size.
func WithRAMSize(n uint16) Option {
	return func(c *Controller) { c.ramSize = n }
}

// WithEP0Reserve sets the packet RAM reserved for endpoint 0 at offset 0.
func WithEP0Reserve(n uint16) Option {
	return func(c *Controller) { c.ep0Reserve = n }
}

// WithCapture sends a record of every controller operation to s.
func WithCapture(s capture.Sink) Option {
	return func(c *Controller) { c.sink = s }
}

// New creates a controller.
func New(opts ...Option) *Controller {
	c := &Controller{
		ramSize:    DefaultRAMSize,
		ep0Reserve: device.DefaultEP0BufferSize,
		events:     make(chan hal.Event, eventQueueSize),
		closeCh:    make(chan struct{}),
		progress:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) record(r capture.Record) {
	if c.sink == nil {
		return
	}
	if err := c.sink.Record(r); err != nil {
		pkg.LogWarn(pkg.ComponentHAL, "capture failed", "error", err)
	}
}

// fault notes a violated controller rule. Caller must hold the mutex.
func (c *Controller) fault(err error) {
	c.faults = append(c.faults, err)
	c.record(capture.Record{Op: capture.OpFault, Note: err.Error()})
	pkg.LogError(pkg.ComponentHAL, "controller fault", "error", err)
}

// Init prepares the controller.
func (c *Controller) Init(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.initDone {
		return pkg.ErrAlreadyRunning
	}
	if c.ep0Reserve >= c.ramSize {
		return fmt.Errorf("endpoint 0 reserve %d of %d bytes: %w", c.ep0Reserve, c.ramSize, pkg.ErrNoMemory)
	}
	c.initDone = true
	pkg.LogInfo(pkg.ComponentHAL, "controller initialized",
		"ram", c.ramSize,
		"ep0Reserve", c.ep0Reserve)
	return nil
}

// Attach enables the pull-up.
func (c *Controller) Attach() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.initDone {
		return fmt.Errorf("attach before init: %w", pkg.ErrInvalidState)
	}
	c.attached = true
	c.record(capture.Record{Op: capture.OpAttach})
	return nil
}

// Detach disables the pull-up.
func (c *Controller) Detach() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.attached = false
	c.record(capture.Record{Op: capture.OpDetach})
	return nil
}

// IsAttached reports whether the pull-up is enabled.
func (c *Controller) IsAttached() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.attached
}

// SetAddress writes the device address register.
func (c *Controller) SetAddress(address uint8) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.address = address & 0x7F
	c.record(capture.Record{Op: capture.OpSetAddress, Value: uint32(c.address)})
	pkg.LogDebug(pkg.ComponentHAL, "address set", "address", c.address)
}

// Address returns the device address register.
func (c *Controller) Address() uint8 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.address
}

// SetupEndpoint configures a data endpoint and its packet RAM region.
func (c *Controller) SetupEndpoint(cfg hal.EndpointConfig) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	num := cfg.Number()
	if num == 0 || int(num) >= device.MaxEndpoints {
		return fmt.Errorf("endpoint 0x%02X: %w", cfg.Address, pkg.ErrInvalidEndpoint)
	}
	if cfg.MaxPacketSize == 0 || cfg.BufferLength < cfg.MaxPacketSize {
		return fmt.Errorf("endpoint 0x%02X buffer %d for packet %d: %w",
			cfg.Address, cfg.BufferLength, cfg.MaxPacketSize, pkg.ErrInvalidParameter)
	}
	start, end := uint32(cfg.BufferOffset), uint32(cfg.BufferOffset)+uint32(cfg.BufferLength)
	if start < uint32(c.ep0Reserve) || end > uint32(c.ramSize) {
		return fmt.Errorf("endpoint 0x%02X region [%d,%d) outside [%d,%d): %w",
			cfg.Address, start, end, c.ep0Reserve, c.ramSize, pkg.ErrNoMemory)
	}

	slot := &c.endpoints[num][dirIndex(cfg.Direction())]
	if slot.used {
		return fmt.Errorf("endpoint 0x%02X: %w", cfg.Address, pkg.ErrBusy)
	}
	for n := range c.endpoints {
		for d := range c.endpoints[n] {
			o := &c.endpoints[n][d]
			if !o.used {
				continue
			}
			ostart, oend := uint32(o.cfg.BufferOffset), uint32(o.cfg.BufferOffset)+uint32(o.cfg.BufferLength)
			if start < oend && ostart < end {
				return fmt.Errorf("endpoint 0x%02X region overlaps endpoint 0x%02X: %w",
					cfg.Address, o.cfg.Address, pkg.ErrBusy)
			}
		}
	}

	slot.cfg = cfg
	slot.used = true
	c.stalled[num] = false
	c.record(capture.Record{
		Op:       capture.OpSetupEndpoint,
		Endpoint: cfg.Address,
		Value:    uint32(cfg.BufferOffset)<<16 | uint32(cfg.BufferLength),
	})
	return nil
}

func dirIndex(d hal.Direction) int {
	if d == hal.DirectionIn {
		return 1
	}
	return 0
}

// Endpoints returns the configured data endpoints in endpoint number order,
// OUT before IN.
func (c *Controller) Endpoints() []hal.EndpointConfig {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	var out []hal.EndpointConfig
	for n := range c.endpoints {
		for d := range c.endpoints[n] {
			if c.endpoints[n][d].used {
				out = append(out, c.endpoints[n][d].cfg)
			}
		}
	}
	return out
}

// ResetEndpoints tears down endpoints. ResetAll also drops any endpoint 0
// traffic in flight.
func (c *Controller) ResetEndpoints(scope hal.ResetScope) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	for n := 1; n < device.MaxEndpoints; n++ {
		c.endpoints[n] = [2]endpointSlot{}
		c.stalled[n] = false
	}
	if scope == hal.ResetAll {
		c.stalled[0] = false
		c.rx = nil
		c.rxSetup = false
		c.txLen = 0
		c.txSealed = false
		c.inQueue = nil
	}
	c.record(capture.Record{Op: capture.OpResetEndpoints, Value: uint32(scope)})
}

// RxCount returns the byte count of the packet waiting in the receive FIFO.
func (c *Controller) RxCount(ep uint8) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ep != 0 {
		return 0
	}
	return len(c.rx)
}

// SetupReceived reports whether the waiting packet is a SETUP packet.
func (c *Controller) SetupReceived(ep uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return ep == 0 && c.rxSetup
}

// RecvData reads from the receive FIFO.
func (c *Controller) RecvData(ep uint8, buf []byte) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ep != 0 {
		return 0
	}
	n := copy(buf, c.rx)
	c.rx = c.rx[n:]
	return n
}

// SendData writes to the transmit FIFO. A write whose length is not a
// multiple of WordSize must be the last one before CompleteTx.
func (c *Controller) SendData(ep uint8, data []byte) int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ep != 0 {
		return 0
	}
	if c.txSealed {
		c.fault(fmt.Errorf("write of %d bytes after unaligned write: %w", len(data), pkg.ErrUnalignedWrite))
		return 0
	}
	n := copy(c.tx[c.txLen:], data)
	if n < len(data) {
		c.fault(fmt.Errorf("write of %d bytes overflows %d byte packet: %w", len(data), MaxPacketSize0, pkg.ErrBufferTooSmall))
	}
	c.txLen += n
	if len(data)%WordSize != 0 {
		c.txSealed = true
	}
	return n
}

// CompleteRx releases the receive FIFO.
func (c *Controller) CompleteRx(ep uint8, dataEnd bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ep != 0 {
		return
	}
	c.rx = nil
	c.rxSetup = false
}

// CompleteTx hands the transmit FIFO contents to the host as one packet.
func (c *Controller) CompleteTx(ep uint8, dataEnd bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if ep != 0 {
		return
	}
	pkt := append([]byte(nil), c.tx[:c.txLen]...)
	c.inQueue = append(c.inQueue, pkt)
	c.txLen = 0
	c.txSealed = false
	c.record(capture.Record{Op: capture.OpIn, Data: pkt})
}

// Stall stalls an endpoint. An endpoint 0 stall discards pending IN data and
// lasts until the next SETUP packet.
func (c *Controller) Stall(ep uint8) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	ep &= 0x0F
	c.stalled[ep] = true
	if ep == 0 {
		c.txLen = 0
		c.txSealed = false
		c.inQueue = nil
	}
	c.record(capture.Record{Op: capture.OpStall, Endpoint: ep})
	pkg.LogDebug(pkg.ComponentHAL, "endpoint stalled", "endpoint", ep)
}

// Stalled reports whether an endpoint is stalled.
func (c *Controller) Stalled(ep uint8) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stalled[ep&0x0F]
}

// Faults returns the controller rule violations observed so far.
func (c *Controller) Faults() []error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return append([]error(nil), c.faults...)
}

// WaitEvent blocks until the host produces a notification.
func (c *Controller) WaitEvent(ctx context.Context) (hal.Event, error) {
	c.mutex.Lock()
	if c.handled != c.taken {
		c.handled = c.taken
		close(c.progress)
		c.progress = make(chan struct{})
	}
	c.mutex.Unlock()

	select {
	case <-ctx.Done():
		return hal.Event{}, ctx.Err()
	case <-c.closeCh:
		return hal.Event{}, pkg.ErrCancelled
	case ev := <-c.events:
		c.mutex.Lock()
		c.taken++
		c.mutex.Unlock()
		return ev, nil
	}
}

// Close ends WaitEvent with pkg.ErrCancelled.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() { close(c.closeCh) })
	return nil
}

// post queues ev for the event loop and returns its sequence number.
func (c *Controller) post(ev hal.Event) (uint64, error) {
	c.mutex.Lock()
	c.posted++
	seq := c.posted
	c.mutex.Unlock()
	select {
	case c.events <- ev:
		return seq, nil
	case <-c.closeCh:
		return 0, pkg.ErrCancelled
	}
}

// waitHandled blocks until the event loop finished event seq.
func (c *Controller) waitHandled(ctx context.Context, seq uint64) error {
	for {
		c.mutex.Lock()
		if c.handled >= seq {
			c.mutex.Unlock()
			return nil
		}
		ch := c.progress
		c.mutex.Unlock()

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return fmt.Errorf("event %d not handled: %w", seq, pkg.ErrTimeout)
			}
			return ctx.Err()
		case <-c.closeCh:
			return pkg.ErrCancelled
		case <-ch:
		}
	}
}

// busEvent signals a bus condition.
func (c *Controller) busEvent(kind hal.EventKind) (uint64, error) {
	op := capture.OpReset
	switch kind {
	case hal.EventSuspend:
		op = capture.OpSuspend
	case hal.EventWakeup:
		op = capture.OpWakeup
	}
	c.mutex.Lock()
	c.record(capture.Record{Op: op})
	c.mutex.Unlock()
	return c.post(hal.Event{Kind: kind})
}

// deliverSetup places a SETUP packet in the receive FIFO. A SETUP clears an
// endpoint 0 stall and aborts IN data the host has not collected.
func (c *Controller) deliverSetup(pkt []byte) (uint64, error) {
	c.mutex.Lock()
	c.stalled[0] = false
	c.txLen = 0
	c.txSealed = false
	c.inQueue = nil
	c.rx = append([]byte(nil), pkt...)
	c.rxSetup = true
	c.record(capture.Record{Op: capture.OpSetup, Data: c.rx})
	c.mutex.Unlock()
	return c.post(hal.Event{Kind: hal.EventControl, Direction: hal.DirectionOut})
}

// deliverOut places an OUT data packet in the receive FIFO.
func (c *Controller) deliverOut(data []byte) (uint64, error) {
	c.mutex.Lock()
	c.rx = append([]byte(nil), data...)
	c.rxSetup = false
	c.record(capture.Record{Op: capture.OpOut, Data: c.rx})
	c.mutex.Unlock()
	return c.post(hal.Event{Kind: hal.EventControl, Direction: hal.DirectionOut})
}

// collectIn removes the oldest IN packet and acknowledges it to the engine.
func (c *Controller) collectIn() ([]byte, uint64, bool, error) {
	c.mutex.Lock()
	if len(c.inQueue) == 0 {
		c.mutex.Unlock()
		return nil, 0, false, nil
	}
	pkt := c.inQueue[0]
	c.inQueue = c.inQueue[1:]
	c.mutex.Unlock()
	seq, err := c.post(hal.Event{Kind: hal.EventControl, Direction: hal.DirectionIn})
	return pkt, seq, true, err
}

var _ hal.DeviceHAL = (*Controller)(nil)
