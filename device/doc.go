// Package device implements the endpoint 0 control-transfer engine of a USB
// 2.0 device stack.
//
// It is platform-agnostic and interacts with hardware via the
// [hal.DeviceHAL] interface defined in the [github.com/ardnew/usbcore/device/hal]
// package. The engine never blocks and never allocates on the control path;
// every call runs to completion from the controller's interrupt or from a
// [Stack] event loop.
//
// # Architecture
//
//   - [Engine] owns the setup packet, control phase, device state, and active
//     configuration, and is the single entry point for controller events
//   - [TransferStatus] tracks an endpoint's in-flight transfer
//   - [MultiPartView] describes a descriptor scattered across fragments
//   - [Answer] is what every request handler returns
//   - [Registry] maps (configuration, interface) to class handlers
//   - [Catalog] serves descriptor blobs through [DescriptorCatalog]
//   - [Stack] feeds HAL events to the engine on one goroutine
//
// # Control Phases
//
//	idle → wait → {dataTX, dataRX} → {statusRX, statusTX} → idle
//
// A SETUP packet always cancels the transaction in progress.
//
// # Device States
//
//	Detached → Attached → Powered → Waiting → Addressing → Addressed → Configured
//
// # Multi-Part Descriptors
//
// Descriptors such as a string header followed by its UTF-16 payload, or a
// configuration header followed by its interface and endpoint descriptors,
// are streamed straight from their fragments. Writes to the FIFO are whole
// [FIFOWordSize] words except for the last write of a packet.
//
// # Class Drivers
//
// Class requests addressed to an interface are offered to the handler
// registered for that interface in the active configuration:
//
//	err := engine.RegisterHandler(0, 1, func(setup *device.SetupPacket) device.Answer {
//	    if setup.Request != myRequest {
//	        return device.Unhandled()
//	    }
//	    return device.Data(reply[:])
//	}, nil)
//
// [github.com/ardnew/usbcore/device/class/dfu] provides a Device Firmware
// Upgrade driver.
//
// # Example
//
//	catalog := device.NewCatalog(&device.DeviceDescriptor{
//	    USBVersion:     0x0200,
//	    VendorID:       0x1209,
//	    ProductID:      0x0001,
//	    MaxPacketSize0: 64,
//	})
//	catalog.AddConfiguration(device.NewConfigurationBuilder(1, 0, 0, 50).
//	    Interface(device.InterfaceDescriptor{InterfaceClass: device.ClassVendor}).
//	    Build())
//	engine := device.NewEngine(hal, catalog, device.Config{})
//	stack := device.NewStack(engine)
//	err := stack.Run(ctx)
//
// An in-memory controller for testing is available in
// [github.com/ardnew/usbcore/device/hal/fifo].
package device
