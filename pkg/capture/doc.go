// Package capture records peripheral activity as a CBOR sequence.
//
// A capture stream starts with a [Header] item followed by one [Record] per
// controller operation: attach and detach, bus events, address and endpoint
// configuration, every SETUP, OUT and IN packet on endpoint 0, stalls, and
// controller rule violations. Records use integer map keys so streams stay
// compact.
//
// The in-memory controller in device/hal/fifo emits records to any [Sink].
// [Writer] persists them, [Reader] and [ReadAll] decode them again, and
// [Buffer] keeps them in memory for tests.
package capture
