package device

import (
	"fmt"

	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
)

// dispatch produces the answer for a setup packet. Standard requests are
// handled by the engine; class requests addressed to an interface go to the
// handler registered for that interface in the active configuration.
func (e *Engine) dispatch(setup *SetupPacket) Answer {
	switch setup.Type() {
	case RequestTypeStandard:
		return e.handleStandard(setup)
	case RequestTypeClass:
		if setup.IsInterfaceRecipient() {
			return e.registry.handle(e.ActiveConfiguration(), setup)
		}
	}
	return Unhandled()
}

// handleStandard processes the standard requests the engine implements.
// Anything else is unhandled. Malformed requests stall before any state
// changes.
func (e *Engine) handleStandard(setup *SetupPacket) Answer {
	if err := checkStandard(setup); err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "standard request rejected",
			"error", err,
			"setup", setup.String())
		return Stall()
	}
	switch setup.Request {
	case RequestSetAddress:
		e.setState(StateAddressing)
		return ZeroLength()
	case RequestGetDescriptor:
		return e.getDescriptor(setup)
	case RequestSetConfiguration:
		return e.setConfiguration(setup)
	case RequestGetConfiguration:
		e.configByte[0] = e.ActiveConfiguration()
		return Data(e.configByte[:])
	case RequestGetStatus:
		return e.getStatus(setup)
	default:
		return Unhandled()
	}
}

// checkStandard validates the direction and data stage length of the
// standard requests the engine implements.
func checkStandard(setup *SetupPacket) error {
	switch setup.Request {
	case RequestSetAddress, RequestSetConfiguration:
		if setup.IsDeviceToHost() {
			return fmt.Errorf("request %d: %w", setup.Request, pkg.ErrInvalidDirection)
		}
		if setup.Length != 0 {
			return fmt.Errorf("request %d with %d data bytes: %w", setup.Request, setup.Length, pkg.ErrInvalidRequest)
		}
	case RequestGetDescriptor, RequestGetConfiguration, RequestGetStatus:
		if setup.IsHostToDevice() {
			return fmt.Errorf("request %d: %w", setup.Request, pkg.ErrInvalidDirection)
		}
	}
	return nil
}

// getStatus answers GET_STATUS. The device is bus powered without remote
// wakeup, and interfaces always report zero.
func (e *Engine) getStatus(setup *SetupPacket) Answer {
	switch setup.Recipient() {
	case RequestRecipientDevice, RequestRecipientInterface:
		e.statusResp = [2]byte{0x00, 0x00}
		return Data(e.statusResp[:])
	default:
		// TODO: report endpoint halt status once endpoint stall tracking exists.
		return Unhandled()
	}
}

// getDescriptor looks the descriptor up in the catalog. Single-fragment
// descriptors are answered flat.
func (e *Engine) getDescriptor(setup *SetupPacket) Answer {
	if e.catalog == nil {
		return Stall()
	}
	view, ok := e.catalog.Descriptor(setup.DescriptorType(), setup.DescriptorIndex(), setup.Index)
	if !ok || view.TotalLength() == 0 {
		pkg.LogDebug(pkg.ComponentDispatch, "descriptor not found",
			"type", setup.DescriptorType(),
			"index", setup.DescriptorIndex())
		return Stall()
	}
	if view.Count() == 1 {
		return Data(view.Part(0))
	}
	return MultiPart(view)
}

// setConfiguration activates configuration wValue. Zero deconfigures the
// device. An unknown value stalls without touching the current state.
func (e *Engine) setConfiguration(setup *SetupPacket) Answer {
	value := setup.ValueLow()
	prev := e.ActiveConfiguration()

	if value == 0 {
		e.registry.deinit(prev)
		e.hal.ResetEndpoints(hal.ResetUser)
		e.setActiveConfiguration(0)
		e.setState(StateAddressed)
		return ZeroLength()
	}

	view, err := e.lookupConfiguration(value)
	if err != nil {
		pkg.LogWarn(pkg.ComponentDispatch, "set configuration rejected",
			"value", value,
			"error", err)
		return Stall()
	}

	e.registry.deinit(prev)
	e.hal.ResetEndpoints(hal.ResetUser)
	if err := e.configureEndpoints(view); err != nil {
		pkg.LogError(pkg.ComponentDispatch, "endpoint setup failed",
			"value", value,
			"error", err)
		e.hal.ResetEndpoints(hal.ResetUser)
		e.setActiveConfiguration(0)
		e.setState(StateAddressed)
		return Stall()
	}

	e.setActiveConfiguration(value)
	e.registry.init(value)
	e.setState(StateConfigured)
	pkg.LogInfo(pkg.ComponentDispatch, "configured", "value", value)
	return ZeroLength()
}

func (e *Engine) lookupConfiguration(value uint8) (MultiPartView, error) {
	if e.catalog == nil || int(value) > e.catalog.Configurations() {
		return MultiPartView{}, fmt.Errorf("configuration %d: %w", value, pkg.ErrInvalidConfiguration)
	}
	view, ok := e.catalog.Configuration(value)
	if !ok {
		return MultiPartView{}, fmt.Errorf("configuration %d: %w", value, pkg.ErrInvalidConfiguration)
	}
	return view, nil
}

// configureEndpoints walks every descriptor of a configuration and sets up
// each non-control endpoint. FIFO regions are allocated in descriptor order
// after the endpoint 0 reservation, two packets per endpoint.
func (e *Engine) configureEndpoints(view MultiPartView) error {
	offset := e.ep0BufferSize
	var err error
	view.Each(func(_ int, part []byte) bool {
		for len(part) >= 2 {
			n := int(part[0])
			if n < 2 || n > len(part) {
				err = fmt.Errorf("descriptor length %d: %w", n, pkg.ErrDescriptorTooShort)
				return false
			}
			if part[1] == DescriptorTypeEndpoint {
				var desc EndpointDescriptor
				if err = ParseEndpointDescriptor(part[:n], &desc); err != nil {
					return false
				}
				if desc.TransferType() != hal.EndpointTypeControl {
					cfg := hal.EndpointConfig{
						Address:       desc.EndpointAddress,
						Type:          desc.TransferType(),
						MaxPacketSize: desc.MaxPacketSize,
						BufferOffset:  offset,
						BufferLength:  2 * desc.MaxPacketSize,
					}
					if err = e.hal.SetupEndpoint(cfg); err != nil {
						err = fmt.Errorf("endpoint 0x%02X: %w", desc.EndpointAddress, err)
						return false
					}
					pkg.LogDebug(pkg.ComponentDispatch, "endpoint configured",
						"address", fmt.Sprintf("0x%02X", cfg.Address),
						"type", cfg.Type.String(),
						"offset", cfg.BufferOffset,
						"length", cfg.BufferLength)
					offset += cfg.BufferLength
				}
			}
			part = part[n:]
		}
		return true
	})
	return err
}
