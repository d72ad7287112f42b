// Package hal defines the Hardware Abstraction Layer consumed by the usbcore
// control-transfer engine.
//
// The engine implements all USB protocol logic for endpoint 0; the HAL only
// moves bytes between the controller's FIFOs and memory, configures endpoint
// buffers in packet RAM, and reports bus and endpoint notifications.
//
// # Interface Overview
//
// The [DeviceHAL] interface covers:
//
//   - Lifecycle: Init, Attach, Detach
//   - Addressing: SetAddress, Address
//   - Endpoint setup: SetupEndpoint, ResetEndpoints
//   - EP0 FIFO access: RxCount, SetupReceived, RecvData, SendData,
//     CompleteRx, CompleteTx, Stall
//   - Notifications: WaitEvent, or a direct call from the interrupt vector
//
// # FIFO Granularity
//
// Many controllers only accept FIFO writes in whole 32-bit words. The engine
// honours this by issuing SendData calls whose lengths are multiples of four
// bytes, except for the last write of a packet. HALs for byte-addressable
// FIFOs may ignore the distinction.
//
// # Implementing a HAL
//
//  1. Create a type that implements all [DeviceHAL] methods
//  2. Handle clock, pin, and controller bring-up in Init()
//  3. Translate the controller's EP0 status bits into RxCount, SetupReceived,
//     CompleteRx, CompleteTx, and Stall
//  4. From the USB interrupt, deliver [Event] values to the engine
//
// An in-memory controller model for testing is available in
// [github.com/ardnew/usbcore/device/hal/fifo].
package hal
