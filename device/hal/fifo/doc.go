// Package fifo implements an in-memory device controller for testing and
// simulating the control-transfer engine without hardware.
//
// A [Controller] implements hal.DeviceHAL. It models endpoint 0's receive and
// transmit FIFOs and the packet RAM that data endpoints are carved from, and
// it enforces the rules a real controller imposes on the engine:
//
//   - Transmit FIFO writes must be multiples of [WordSize] bytes, except the
//     last write before a packet is completed.
//   - Data endpoint buffers must lie inside packet RAM, after the endpoint 0
//     reservation, and must not overlap.
//   - Endpoint 0 packets are at most [MaxPacketSize0] bytes.
//
// Violations are recorded as faults rather than panicking, so tests can
// assert that a whole session ran clean.
//
// A [Host] drives the bus side. It issues SETUP, OUT and IN tokens one at a
// time and waits for the device's event loop to handle each, which makes
// every control transfer deterministic:
//
//	ctrl := fifo.New(fifo.WithCapture(&records))
//	engine := device.NewEngine(ctrl, catalog, device.Config{})
//	stack := device.NewStack(engine)
//	go stack.Run(ctx)
//
//	host := fifo.NewHost(ctrl)
//	enum, err := host.Enumerate(ctx, 5)
//
// Every controller operation can be sent to a capture.Sink for later
// inspection.
package fifo
