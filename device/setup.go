package device

import (
	"encoding/binary"
	"fmt"

	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
)

// Standard USB request codes (USB 2.0 Spec Table 9-4).
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Request type masks (USB 2.0 Spec Table 9-2).
const (
	RequestTypeDirectionMask = 0x80 // Direction bit mask
	RequestTypeTypeMask      = 0x60 // Type bits mask
	RequestTypeRecipientMask = 0x1F // Recipient bits mask
)

// Request type direction values.
const (
	RequestDirectionHostToDevice = 0x00 // Host to device
	RequestDirectionDeviceToHost = 0x80 // Device to host
)

// Request type values.
const (
	RequestTypeStandard = 0x00 // Standard request
	RequestTypeClass    = 0x20 // Class-specific request
	RequestTypeVendor   = 0x40 // Vendor-specific request
)

// Request recipient values.
const (
	RequestRecipientDevice    = 0x00 // Device recipient
	RequestRecipientInterface = 0x01 // Interface recipient
	RequestRecipientEndpoint  = 0x02 // Endpoint recipient
	RequestRecipientOther     = 0x03 // Other recipient
)

// SetupPacketSize is the size of a USB SETUP packet in bytes.
const SetupPacketSize = 8

// SetupPacket is the decoded 8-byte SETUP packet that opens every control
// transfer. The engine keeps one and reuses it for each transaction.
type SetupPacket struct {
	RequestType uint8  // bmRequestType
	Request     uint8  // bRequest
	Value       uint16 // wValue
	Index       uint16 // wIndex
	Length      uint16 // wLength, the most the data stage may carry
}

// ParseSetupPacket decodes the first SetupPacketSize bytes of data into out.
func ParseSetupPacket(data []byte, out *SetupPacket) error {
	if len(data) < SetupPacketSize {
		return fmt.Errorf("%d bytes: %w", len(data), pkg.ErrSetupPacketTooShort)
	}
	*out = SetupPacket{
		RequestType: data[0],
		Request:     data[1],
		Value:       binary.LittleEndian.Uint16(data[2:]),
		Index:       binary.LittleEndian.Uint16(data[4:]),
		Length:      binary.LittleEndian.Uint16(data[6:]),
	}
	return nil
}

// MarshalTo encodes s into buf and returns SetupPacketSize, or 0 if buf is
// too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupPacketSize {
		return 0
	}
	buf[0], buf[1] = s.RequestType, s.Request
	binary.LittleEndian.PutUint16(buf[2:], s.Value)
	binary.LittleEndian.PutUint16(buf[4:], s.Index)
	binary.LittleEndian.PutUint16(buf[6:], s.Length)
	return SetupPacketSize
}

// Direction returns the direction of the data stage. Requests without a
// data stage are host-to-device.
func (s *SetupPacket) Direction() hal.Direction {
	return hal.Direction(s.RequestType & RequestTypeDirectionMask)
}

func (s *SetupPacket) IsDeviceToHost() bool { return s.Direction() == hal.DirectionIn }
func (s *SetupPacket) IsHostToDevice() bool { return s.Direction() == hal.DirectionOut }

// Type returns RequestTypeStandard, RequestTypeClass, or RequestTypeVendor.
func (s *SetupPacket) Type() uint8 { return s.RequestType & RequestTypeTypeMask }

func (s *SetupPacket) IsStandard() bool { return s.Type() == RequestTypeStandard }
func (s *SetupPacket) IsClass() bool    { return s.Type() == RequestTypeClass }

// Recipient returns one of the RequestRecipient values.
func (s *SetupPacket) Recipient() uint8 { return s.RequestType & RequestTypeRecipientMask }

func (s *SetupPacket) IsInterfaceRecipient() bool {
	return s.Recipient() == RequestRecipientInterface
}

// DescriptorType and DescriptorIndex split wValue of GET_DESCRIPTOR.
func (s *SetupPacket) DescriptorType() uint8  { return s.ValueHigh() }
func (s *SetupPacket) DescriptorIndex() uint8 { return s.ValueLow() }

func (s *SetupPacket) ValueLow() uint8  { return uint8(s.Value) }
func (s *SetupPacket) ValueHigh() uint8 { return uint8(s.Value >> 8) }

// InterfaceNumber returns the interface addressed by wIndex.
func (s *SetupPacket) InterfaceNumber() uint8 { return uint8(s.Index) }

var (
	requestTypeNames = [4]string{"standard", "class", "vendor", "reserved"}
	recipientNames   = [4]string{"device", "interface", "endpoint", "other"}
	standardNames    = map[uint8]string{
		RequestGetStatus:        "GET_STATUS",
		RequestClearFeature:     "CLEAR_FEATURE",
		RequestSetFeature:       "SET_FEATURE",
		RequestSetAddress:       "SET_ADDRESS",
		RequestGetDescriptor:    "GET_DESCRIPTOR",
		RequestSetDescriptor:    "SET_DESCRIPTOR",
		RequestGetConfiguration: "GET_CONFIGURATION",
		RequestSetConfiguration: "SET_CONFIGURATION",
		RequestGetInterface:     "GET_INTERFACE",
		RequestSetInterface:     "SET_INTERFACE",
		RequestSynchFrame:       "SYNCH_FRAME",
	}
)

// String formats the packet for logs, naming standard requests.
func (s *SetupPacket) String() string {
	recipient := "recipient(" + fmt.Sprint(s.Recipient()) + ")"
	if int(s.Recipient()) < len(recipientNames) {
		recipient = recipientNames[s.Recipient()]
	}
	request := fmt.Sprintf("req=0x%02X", s.Request)
	if name, ok := standardNames[s.Request]; ok && s.IsStandard() {
		request = name
	}
	return fmt.Sprintf("%s %s/%s %s value=0x%04X index=0x%04X length=%d",
		s.Direction(), requestTypeNames[s.Type()>>5], recipient, request, s.Value, s.Index, s.Length)
}

func standardSetup(out *SetupPacket, dir hal.Direction, recipient, request uint8, value, index, length uint16) {
	*out = SetupPacket{
		RequestType: uint8(dir) | RequestTypeStandard | recipient,
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      length,
	}
}

// GetDescriptorSetup fills out with GET_DESCRIPTOR. langID only matters for
// string descriptors.
func GetDescriptorSetup(out *SetupPacket, descType, descIndex uint8, langID, length uint16) {
	standardSetup(out, hal.DirectionIn, RequestRecipientDevice, RequestGetDescriptor,
		uint16(descType)<<8|uint16(descIndex), langID, length)
}

// SetAddressSetup fills out with SET_ADDRESS.
func SetAddressSetup(out *SetupPacket, address uint8) {
	standardSetup(out, hal.DirectionOut, RequestRecipientDevice, RequestSetAddress, uint16(address), 0, 0)
}

// SetConfigurationSetup fills out with SET_CONFIGURATION.
func SetConfigurationSetup(out *SetupPacket, config uint8) {
	standardSetup(out, hal.DirectionOut, RequestRecipientDevice, RequestSetConfiguration, uint16(config), 0, 0)
}

// GetConfigurationSetup fills out with GET_CONFIGURATION.
func GetConfigurationSetup(out *SetupPacket) {
	standardSetup(out, hal.DirectionIn, RequestRecipientDevice, RequestGetConfiguration, 0, 0, 1)
}

// GetStatusSetup fills out with GET_STATUS for recipient.
func GetStatusSetup(out *SetupPacket, recipient uint8, index uint16) {
	standardSetup(out, hal.DirectionIn, recipient, RequestGetStatus, 0, index, 2)
}

// ClassInterfaceSetup fills out with a class request addressed to an
// interface.
func ClassInterfaceSetup(out *SetupPacket, dir hal.Direction, iface, request uint8, value, length uint16) {
	*out = SetupPacket{
		RequestType: uint8(dir) | RequestTypeClass | RequestRecipientInterface,
		Request:     request,
		Value:       value,
		Index:       uint16(iface),
		Length:      length,
	}
}
