package pkg

import "errors"

// USB protocol errors.
var (
	// ErrStall indicates a request was rejected with a protocol stall.
	ErrStall = errors.New("endpoint stalled")

	// ErrUnhandled indicates no handler claimed a control request.
	ErrUnhandled = errors.New("request not handled")

	// ErrTruncatedTransfer indicates the controller reported fewer bytes than
	// a fixed-size structure requires (e.g. a SETUP packet shorter than 8 bytes).
	ErrTruncatedTransfer = errors.New("truncated transfer")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidDirection indicates a request whose direction bit does not
	// match the request code.
	ErrInvalidDirection = errors.New("invalid request direction")

	// ErrInvalidConfiguration indicates a configuration value outside the
	// range of configurations the device exposes.
	ErrInvalidConfiguration = errors.New("invalid configuration")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidState indicates an invalid device state for the operation.
	ErrInvalidState = errors.New("invalid device state")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrDescriptorTooShort indicates the descriptor data is too short.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch indicates the descriptor type does not match expected.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrSetupPacketTooShort indicates the setup packet data is too short.
	ErrSetupPacketTooShort = errors.New("setup packet too short")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrBusy indicates the resource is busy.
	ErrBusy = errors.New("resource busy")

	// ErrNoMemory indicates insufficient memory (e.g. endpoint buffer RAM).
	ErrNoMemory = errors.New("insufficient memory")

	// ErrUnalignedWrite indicates a FIFO write that violates the controller's
	// word granularity.
	ErrUnalignedWrite = errors.New("unaligned FIFO write")

	// ErrNotAttached indicates the device is not attached to the bus.
	ErrNotAttached = errors.New("device not attached")

	// ErrAlreadyRunning indicates the stack is already running.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning indicates the stack is not running.
	ErrNotRunning = errors.New("not running")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")

	// ErrTimeout indicates an operation did not complete in time.
	ErrTimeout = errors.New("timeout")

	// ErrCancelled indicates the operation was cancelled because the
	// controller shut down.
	ErrCancelled = errors.New("cancelled")

	// ErrProtocol indicates the peer violated the control transfer sequence.
	ErrProtocol = errors.New("protocol error")
)
