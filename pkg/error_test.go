package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	errs := []error{
		ErrStall,
		ErrUnhandled,
		ErrTruncatedTransfer,
		ErrInvalidRequest,
		ErrInvalidDirection,
		ErrInvalidConfiguration,
		ErrInvalidEndpoint,
		ErrInvalidState,
		ErrInvalidParameter,
		ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch,
		ErrSetupPacketTooShort,
		ErrBufferTooSmall,
		ErrBusy,
		ErrNoMemory,
		ErrUnalignedWrite,
		ErrNotAttached,
		ErrAlreadyRunning,
		ErrNotRunning,
		ErrReset,
		ErrTimeout,
	}

	for i, err1 := range errs {
		if err1 == nil {
			t.Errorf("error %d is nil", i)
			continue
		}
		for j, err2 := range errs {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("error %d and %d are equal", i, j)
			}
		}
	}
}

func TestErrorWrapping(t *testing.T) {
	wrapped := fmt.Errorf("set configuration 3: %w", ErrInvalidConfiguration)
	if !errors.Is(wrapped, ErrInvalidConfiguration) {
		t.Errorf("errors.Is(%v, ErrInvalidConfiguration) = false", wrapped)
	}
	if errors.Is(wrapped, ErrStall) {
		t.Errorf("errors.Is(%v, ErrStall) = true", wrapped)
	}
}

func TestErrorMessages(t *testing.T) {
	tests := []struct {
		err     error
		wantMsg string
	}{
		{ErrStall, "endpoint stalled"},
		{ErrTruncatedTransfer, "truncated transfer"},
		{ErrUnalignedWrite, "unaligned FIFO write"},
		{ErrInvalidConfiguration, "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.wantMsg, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("error.Error() = %v, want %v", got, tt.wantMsg)
			}
		})
	}
}
