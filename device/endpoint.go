package device

import (
	"fmt"

	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
)

// Endpoint address masks (USB 2.0 Spec Table 9-13, bEndpointAddress).
const (
	EndpointNumberMask    = 0x0F
	EndpointDirectionMask = 0x80
)

// EndpointAddress is a 4-bit endpoint number plus a direction bit, packed the
// way bEndpointAddress encodes it. The zero value is EP0 OUT.
type EndpointAddress struct {
	number uint8
	dir    hal.Direction
}

// NewEndpointAddress builds an endpoint address from its parts.
// Returns ErrInvalidEndpoint if number exceeds 15.
func NewEndpointAddress(number uint8, dir hal.Direction) (EndpointAddress, error) {
	if number >= MaxEndpoints {
		return EndpointAddress{}, fmt.Errorf("endpoint %d: %w", number, pkg.ErrInvalidEndpoint)
	}
	if dir != hal.DirectionIn {
		dir = hal.DirectionOut
	}
	return EndpointAddress{number: number, dir: dir}, nil
}

// ParseEndpointAddress decodes a bEndpointAddress byte.
// Returns ErrInvalidEndpoint if reserved bits 4-6 are set.
func ParseEndpointAddress(b uint8) (EndpointAddress, error) {
	if b&0x70 != 0 {
		return EndpointAddress{}, fmt.Errorf("address 0x%02X: %w", b, pkg.ErrInvalidEndpoint)
	}
	return EndpointAddress{
		number: b & EndpointNumberMask,
		dir:    hal.Direction(b & EndpointDirectionMask),
	}, nil
}

// Number returns the endpoint number (0-15).
func (a EndpointAddress) Number() uint8 {
	return a.number
}

// Direction returns the endpoint direction.
func (a EndpointAddress) Direction() hal.Direction {
	return a.dir
}

// IsIn returns true if this is an IN endpoint (device to host).
func (a EndpointAddress) IsIn() bool {
	return a.dir == hal.DirectionIn
}

// IsOut returns true if this is an OUT endpoint (host to device).
func (a EndpointAddress) IsOut() bool {
	return a.dir == hal.DirectionOut
}

// Byte packs the address into its bEndpointAddress form.
func (a EndpointAddress) Byte() uint8 {
	return a.number | uint8(a.dir)
}

// String returns a human-readable endpoint address, e.g. "EP1 IN".
func (a EndpointAddress) String() string {
	return fmt.Sprintf("EP%d %s", a.number, a.dir)
}
