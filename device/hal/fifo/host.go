package fifo

import (
	"context"
	"fmt"
	"time"
	"unicode/utf16"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
)

// DefaultTimeout bounds how long a Host waits for the device to handle one
// bus event.
const DefaultTimeout = 2 * time.Second

// Host drives a Controller from the bus side the way a USB host controller
// would: it issues SETUP, OUT and IN tokens on endpoint 0 and waits for the
// device's event loop to handle each one before issuing the next.
//
// A Host requires the device's event loop (for example a device.Stack) to be
// running on the same Controller.
type Host struct {
	c          *Controller
	packetSize int
	timeout    time.Duration
}

// NewHost creates a host for c. The endpoint 0 packet size starts at
// MaxPacketSize0 until enumeration reads the device descriptor.
func NewHost(c *Controller) *Host {
	return &Host{c: c, packetSize: MaxPacketSize0, timeout: DefaultTimeout}
}

// SetPacketSize sets the endpoint 0 packet size the host expects.
func (h *Host) SetPacketSize(n int) {
	if n > 0 {
		h.packetSize = n
	}
}

// PacketSize returns the endpoint 0 packet size the host expects.
func (h *Host) PacketSize() int {
	return h.packetSize
}

// SetTimeout sets the per-event timeout. Non-positive values are ignored.
func (h *Host) SetTimeout(d time.Duration) {
	if d > 0 {
		h.timeout = d
	}
}

func (h *Host) wait(ctx context.Context, seq uint64, err error) error {
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.c.waitHandled(ctx, seq)
}

func (h *Host) checkStall(stage string) error {
	if h.c.Stalled(0) {
		return fmt.Errorf("%s stage: %w", stage, pkg.ErrStall)
	}
	return nil
}

// Reset signals a bus reset.
func (h *Host) Reset(ctx context.Context) error {
	seq, err := h.c.busEvent(hal.EventReset)
	return h.wait(ctx, seq, err)
}

// Suspend signals bus suspend.
func (h *Host) Suspend(ctx context.Context) error {
	seq, err := h.c.busEvent(hal.EventSuspend)
	return h.wait(ctx, seq, err)
}

// Resume signals bus resume.
func (h *Host) Resume(ctx context.Context) error {
	seq, err := h.c.busEvent(hal.EventWakeup)
	return h.wait(ctx, seq, err)
}

func (h *Host) setup(ctx context.Context, s *device.SetupPacket) error {
	var buf [device.SetupPacketSize]byte
	s.MarshalTo(buf[:])
	seq, err := h.c.deliverSetup(buf[:])
	if err := h.wait(ctx, seq, err); err != nil {
		return fmt.Errorf("setup stage: %w", err)
	}
	return h.checkStall("setup")
}

func (h *Host) out(ctx context.Context, stage string, data []byte) error {
	seq, err := h.c.deliverOut(data)
	if err := h.wait(ctx, seq, err); err != nil {
		return fmt.Errorf("%s stage: %w", stage, err)
	}
	return h.checkStall(stage)
}

func (h *Host) in(ctx context.Context, stage string) ([]byte, error) {
	pkt, seq, ok, err := h.c.collectIn()
	if err != nil {
		return nil, fmt.Errorf("%s stage: %w", stage, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s stage: no IN packet: %w", stage, pkg.ErrProtocol)
	}
	if err := h.wait(ctx, seq, nil); err != nil {
		return nil, fmt.Errorf("%s stage: %w", stage, err)
	}
	return pkt, h.checkStall(stage)
}

// ControlRead performs a device-to-host control transfer and returns the
// data stage. A stall in any stage returns an error wrapping pkg.ErrStall.
func (h *Host) ControlRead(ctx context.Context, s device.SetupPacket) ([]byte, error) {
	if !s.IsDeviceToHost() {
		return nil, fmt.Errorf("control read with %s: %w", s.String(), pkg.ErrInvalidParameter)
	}
	if err := h.setup(ctx, &s); err != nil {
		return nil, err
	}

	var data []byte
	for len(data) < int(s.Length) {
		pkt, err := h.in(ctx, "data")
		if err != nil {
			return data, err
		}
		if len(pkt) > h.packetSize {
			return data, fmt.Errorf("data stage: %d byte packet exceeds %d: %w", len(pkt), h.packetSize, pkg.ErrProtocol)
		}
		data = append(data, pkt...)
		if len(pkt) < h.packetSize {
			break
		}
	}
	if len(data) > int(s.Length) {
		return data, fmt.Errorf("data stage: %d bytes for wLength %d: %w", len(data), s.Length, pkg.ErrProtocol)
	}

	if err := h.out(ctx, "status", nil); err != nil {
		return data, err
	}
	return data, nil
}

// ControlWrite performs a host-to-device control transfer with an optional
// data stage.
func (h *Host) ControlWrite(ctx context.Context, s device.SetupPacket, data []byte) error {
	if s.IsDeviceToHost() || len(data) != int(s.Length) {
		return fmt.Errorf("control write of %d bytes with %s: %w", len(data), s.String(), pkg.ErrInvalidParameter)
	}
	if err := h.setup(ctx, &s); err != nil {
		return err
	}
	for len(data) > 0 {
		n := min(len(data), h.packetSize)
		if err := h.out(ctx, "data", data[:n]); err != nil {
			return err
		}
		data = data[n:]
	}

	pkt, err := h.in(ctx, "status")
	if err != nil {
		return err
	}
	if len(pkt) != 0 {
		return fmt.Errorf("status stage: %d byte packet: %w", len(pkt), pkg.ErrProtocol)
	}
	return nil
}

// GetDescriptor reads a descriptor.
func (h *Host) GetDescriptor(ctx context.Context, kind, index uint8, lang, length uint16) ([]byte, error) {
	var s device.SetupPacket
	device.GetDescriptorSetup(&s, kind, index, lang, length)
	return h.ControlRead(ctx, s)
}

// SetAddress assigns the device address.
func (h *Host) SetAddress(ctx context.Context, address uint8) error {
	var s device.SetupPacket
	device.SetAddressSetup(&s, address)
	return h.ControlWrite(ctx, s, nil)
}

// SetConfiguration selects a configuration.
func (h *Host) SetConfiguration(ctx context.Context, value uint8) error {
	var s device.SetupPacket
	device.SetConfigurationSetup(&s, value)
	return h.ControlWrite(ctx, s, nil)
}

// GetConfiguration reads the active configuration value.
func (h *Host) GetConfiguration(ctx context.Context) (uint8, error) {
	var s device.SetupPacket
	device.GetConfigurationSetup(&s)
	data, err := h.ControlRead(ctx, s)
	if err != nil {
		return 0, err
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("configuration response of %d bytes: %w", len(data), pkg.ErrProtocol)
	}
	return data[0], nil
}

// GetStatus reads the status word of a recipient.
func (h *Host) GetStatus(ctx context.Context, recipient uint8, index uint16) (uint16, error) {
	var s device.SetupPacket
	device.GetStatusSetup(&s, recipient, index)
	data, err := h.ControlRead(ctx, s)
	if err != nil {
		return 0, err
	}
	if len(data) != 2 {
		return 0, fmt.Errorf("status response of %d bytes: %w", len(data), pkg.ErrProtocol)
	}
	return uint16(data[0]) | uint16(data[1])<<8, nil
}

// GetString reads string descriptor index in language lang.
func (h *Host) GetString(ctx context.Context, index uint8, lang uint16) (string, error) {
	data, err := h.GetDescriptor(ctx, device.DescriptorTypeString, index, lang, 255)
	if err != nil {
		return "", err
	}
	return decodeString(data)
}

func decodeString(data []byte) (string, error) {
	if len(data) < 2 || data[1] != device.DescriptorTypeString || int(data[0]) != len(data) || len(data)%2 != 0 {
		return "", fmt.Errorf("string descriptor % X: %w", data, pkg.ErrProtocol)
	}
	units := make([]uint16, 0, (len(data)-2)/2)
	for i := 2; i+1 < len(data); i += 2 {
		units = append(units, uint16(data[i])|uint16(data[i+1])<<8)
	}
	return string(utf16.Decode(units)), nil
}

// Enumeration is what a host learns while enumerating a device.
type Enumeration struct {
	Address       uint8
	Device        device.DeviceDescriptor
	Configuration device.ConfigurationDescriptor
	Interfaces    []device.InterfaceDescriptor
	Endpoints     []device.EndpointDescriptor
	Languages     []uint16
	Manufacturer  string
	Product       string
	SerialNumber  string
}

// Enumerate runs the standard enumeration sequence: reset, read the first
// eight bytes of the device descriptor to learn the packet size, reset
// again, assign address, read the full device and configuration
// descriptors and the strings they reference, then select the first
// configuration.
func (h *Host) Enumerate(ctx context.Context, address uint8) (*Enumeration, error) {
	if err := h.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	h.packetSize = MaxPacketSize0
	data, err := h.GetDescriptor(ctx, device.DescriptorTypeDevice, 0, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("device descriptor prefix: %w", err)
	}
	if len(data) < 8 {
		return nil, fmt.Errorf("device descriptor prefix of %d bytes: %w", len(data), pkg.ErrProtocol)
	}
	h.SetPacketSize(int(data[7]))

	if err := h.Reset(ctx); err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	if err := h.SetAddress(ctx, address); err != nil {
		return nil, fmt.Errorf("set address: %w", err)
	}
	if got := h.c.Address(); got != address&0x7F {
		return nil, fmt.Errorf("address register %d after SET_ADDRESS(%d): %w", got, address, pkg.ErrProtocol)
	}

	e := &Enumeration{Address: address & 0x7F}
	data, err = h.GetDescriptor(ctx, device.DescriptorTypeDevice, 0, 0, device.DeviceDescriptorSize)
	if err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}
	if err := device.ParseDeviceDescriptor(data, &e.Device); err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}

	if e.Device.NumConfigurations > 0 {
		if err := h.readConfiguration(ctx, e); err != nil {
			return nil, err
		}
	}

	if data, err := h.GetDescriptor(ctx, device.DescriptorTypeString, 0, 0, 255); err == nil {
		for i := 2; i+1 < len(data); i += 2 {
			e.Languages = append(e.Languages, uint16(data[i])|uint16(data[i+1])<<8)
		}
	}
	if len(e.Languages) > 0 {
		lang := e.Languages[0]
		for _, s := range []struct {
			index uint8
			out   *string
		}{
			{e.Device.ManufacturerIndex, &e.Manufacturer},
			{e.Device.ProductIndex, &e.Product},
			{e.Device.SerialNumberIndex, &e.SerialNumber},
		} {
			if s.index == 0 {
				continue
			}
			str, err := h.GetString(ctx, s.index, lang)
			if err != nil {
				return nil, fmt.Errorf("string %d: %w", s.index, err)
			}
			*s.out = str
		}
	}

	if e.Device.NumConfigurations > 0 {
		if err := h.SetConfiguration(ctx, e.Configuration.ConfigurationValue); err != nil {
			return nil, fmt.Errorf("set configuration: %w", err)
		}
	}
	pkg.LogInfo(pkg.ComponentSim, "device enumerated",
		"address", e.Address,
		"vid", fmt.Sprintf("%04X", e.Device.VendorID),
		"pid", fmt.Sprintf("%04X", e.Device.ProductID))
	return e, nil
}

func (h *Host) readConfiguration(ctx context.Context, e *Enumeration) error {
	data, err := h.GetDescriptor(ctx, device.DescriptorTypeConfiguration, 0, 0, device.ConfigurationDescriptorSize)
	if err != nil {
		return fmt.Errorf("configuration header: %w", err)
	}
	if err := device.ParseConfigurationDescriptor(data, &e.Configuration); err != nil {
		return fmt.Errorf("configuration header: %w", err)
	}
	data, err = h.GetDescriptor(ctx, device.DescriptorTypeConfiguration, 0, 0, e.Configuration.TotalLength)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}
	if len(data) != int(e.Configuration.TotalLength) {
		return fmt.Errorf("configuration of %d bytes, wTotalLength %d: %w",
			len(data), e.Configuration.TotalLength, pkg.ErrProtocol)
	}

	for rest := data; len(rest) >= 2; {
		n := int(rest[0])
		if n < 2 || n > len(rest) {
			return fmt.Errorf("configuration descriptor length %d: %w", n, pkg.ErrDescriptorTooShort)
		}
		switch rest[1] {
		case device.DescriptorTypeInterface:
			var d device.InterfaceDescriptor
			if err := device.ParseInterfaceDescriptor(rest[:n], &d); err != nil {
				return err
			}
			e.Interfaces = append(e.Interfaces, d)
		case device.DescriptorTypeEndpoint:
			var d device.EndpointDescriptor
			if err := device.ParseEndpointDescriptor(rest[:n], &d); err != nil {
				return err
			}
			e.Endpoints = append(e.Endpoints, d)
		}
		rest = rest[n:]
	}
	return nil
}
