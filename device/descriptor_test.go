package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
)

func TestDeviceDescriptor_MarshalTo(t *testing.T) {
	desc := DeviceDescriptor{
		USBVersion:        0x0200,
		MaxPacketSize0:    64,
		VendorID:          0x1209,
		ProductID:         0xDF11,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	want := []byte{
		0x12, 0x01, 0x00, 0x02, 0x00, 0x00, 0x00, 0x40,
		0x09, 0x12, 0x11, 0xDF, 0x00, 0x01, 0x01, 0x02, 0x03, 0x01,
	}

	var buf [DeviceDescriptorSize]byte
	if n := desc.MarshalTo(buf[:]); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DeviceDescriptorSize)
	}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % X, want % X", buf[:], want)
	}

	var parsed DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if parsed != desc {
		t.Errorf("ParseDeviceDescriptor() = %+v, want %+v", parsed, desc)
	}
	if n := desc.MarshalTo(buf[:10]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestParseDescriptor_Errors(t *testing.T) {
	var dev DeviceDescriptor
	if err := ParseDeviceDescriptor(make([]byte, 5), &dev); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("ParseDeviceDescriptor(short) error = %v, want ErrDescriptorTooShort", err)
	}
	wrong := make([]byte, DeviceDescriptorSize)
	wrong[1] = DescriptorTypeConfiguration
	if err := ParseDeviceDescriptor(wrong, &dev); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("ParseDeviceDescriptor(wrong type) error = %v, want ErrDescriptorTypeMismatch", err)
	}

	var ep EndpointDescriptor
	if err := ParseEndpointDescriptor([]byte{7, DescriptorTypeInterface, 0, 0, 0, 0, 0}, &ep); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("ParseEndpointDescriptor(wrong type) error = %v, want ErrDescriptorTypeMismatch", err)
	}
	var iface InterfaceDescriptor
	if err := ParseInterfaceDescriptor([]byte{9, DescriptorTypeInterface}, &iface); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("ParseInterfaceDescriptor(short) error = %v, want ErrDescriptorTooShort", err)
	}
}

func TestConfigurationDescriptor_MarshalTo(t *testing.T) {
	desc := ConfigurationDescriptor{
		TotalLength:        32,
		NumInterfaces:      1,
		ConfigurationValue: 1,
		MaxPower:           50,
	}
	var buf [ConfigurationDescriptorSize]byte
	desc.MarshalTo(buf[:])
	want := []byte{0x09, 0x02, 0x20, 0x00, 0x01, 0x01, 0x00, 0x80, 0x32}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % X, want % X", buf[:], want)
	}

	var parsed ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
	}
	if parsed.TotalLength != 32 || parsed.Attributes != ConfigAttrReserved {
		t.Errorf("ParseConfigurationDescriptor() = %+v", parsed)
	}
}

func TestEndpointDescriptor_RoundTrip(t *testing.T) {
	desc := EndpointDescriptor{
		EndpointAddress: 0x81,
		Attributes:      uint8(hal.EndpointTypeBulk),
		MaxPacketSize:   64,
	}
	var buf [EndpointDescriptorSize]byte
	desc.MarshalTo(buf[:])
	want := []byte{0x07, 0x05, 0x81, 0x02, 0x40, 0x00, 0x00}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % X, want % X", buf[:], want)
	}

	var parsed EndpointDescriptor
	if err := ParseEndpointDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("ParseEndpointDescriptor() error = %v", err)
	}
	if parsed != desc {
		t.Errorf("ParseEndpointDescriptor() = %+v, want %+v", parsed, desc)
	}
	if got := parsed.TransferType(); got != hal.EndpointTypeBulk {
		t.Errorf("TransferType() = %v, want Bulk", got)
	}
}

func TestInterfaceDescriptor_RoundTrip(t *testing.T) {
	desc := InterfaceDescriptor{
		InterfaceNumber:   2,
		InterfaceClass:    ClassAppSpecific,
		InterfaceSubClass: SubClassDFU,
		InterfaceProtocol: 1,
		InterfaceIndex:    4,
	}
	var buf [InterfaceDescriptorSize]byte
	desc.MarshalTo(buf[:])
	var parsed InterfaceDescriptor
	if err := ParseInterfaceDescriptor(buf[:], &parsed); err != nil {
		t.Fatalf("ParseInterfaceDescriptor() error = %v", err)
	}
	if parsed != desc {
		t.Errorf("ParseInterfaceDescriptor() = %+v, want %+v", parsed, desc)
	}
}

func TestDFUFunctionalDescriptor_MarshalTo(t *testing.T) {
	desc := DFUFunctionalDescriptor{
		Attributes:    DFUAttrCanDownload | DFUAttrWillDetach,
		DetachTimeout: 1000,
		TransferSize:  64,
		DFUVersion:    0x0110,
	}
	var buf [DFUFunctionalDescriptorSize]byte
	if n := desc.MarshalTo(buf[:]); n != DFUFunctionalDescriptorSize {
		t.Fatalf("MarshalTo() = %d, want %d", n, DFUFunctionalDescriptorSize)
	}
	want := []byte{0x09, 0x21, 0x09, 0xE8, 0x03, 0x40, 0x00, 0x10, 0x01}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("MarshalTo() = % X, want % X", buf[:], want)
	}
}

func TestStringDescriptor(t *testing.T) {
	v := StringDescriptor("ABCDE")
	if v.Count() != 2 {
		t.Fatalf("Count() = %d, want 2", v.Count())
	}
	if got := v.Part(0); !bytes.Equal(got, []byte{12, DescriptorTypeString}) {
		t.Errorf("header = % X, want 0C 03", got)
	}
	want := []byte{'A', 0, 'B', 0, 'C', 0, 'D', 0, 'E', 0}
	if got := v.Part(1); !bytes.Equal(got, want) {
		t.Errorf("payload = % X, want % X", got, want)
	}
	if v.TotalLength() != 12 {
		t.Errorf("TotalLength() = %d, want 12", v.TotalLength())
	}
}

func TestStringDescriptor_UTF16(t *testing.T) {
	// U+1F600 needs a surrogate pair.
	v := StringDescriptor("é😀")
	want := []byte{0xE9, 0x00, 0x3D, 0xD8, 0x00, 0xDE}
	if got := v.Part(1); !bytes.Equal(got, want) {
		t.Errorf("payload = % X, want % X", got, want)
	}
	if got := v.Part(0)[0]; got != 8 {
		t.Errorf("bLength = %d, want 8", got)
	}
}

func TestStringDescriptor_MaxLength(t *testing.T) {
	long := bytes.Repeat([]byte{'x'}, 200)
	v := StringDescriptor(string(long))
	if got := v.TotalLength(); got != 254 {
		t.Errorf("TotalLength() = %d, want 254", got)
	}
	if got := v.Part(0)[0]; got != 254 {
		t.Errorf("bLength = %d, want 254", got)
	}
}

func TestLanguageDescriptor(t *testing.T) {
	v := LanguageDescriptor(LangIDUSEnglish, 0x0407)
	want := []byte{0x06, 0x03, 0x09, 0x04, 0x07, 0x04}
	if got := v.AppendTo(nil); !bytes.Equal(got, want) {
		t.Errorf("LanguageDescriptor() = % X, want % X", got, want)
	}
}

func TestConfigurationBuilder(t *testing.T) {
	v := NewConfigurationBuilder(1, 0, ConfigAttrSelfPowered, 50).
		Interface(InterfaceDescriptor{InterfaceNumber: 0, NumEndpoints: 2, InterfaceClass: ClassVendor}).
		Endpoint(EndpointDescriptor{EndpointAddress: 0x81, Attributes: uint8(hal.EndpointTypeBulk), MaxPacketSize: 64}).
		Endpoint(EndpointDescriptor{EndpointAddress: 0x01, Attributes: uint8(hal.EndpointTypeBulk), MaxPacketSize: 64}).
		Interface(InterfaceDescriptor{InterfaceNumber: 0, AlternateSetting: 1, InterfaceClass: ClassVendor}).
		Build()

	if v.Count() != 5 {
		t.Fatalf("Count() = %d, want 5", v.Count())
	}
	wantTotal := ConfigurationDescriptorSize + 2*InterfaceDescriptorSize + 2*EndpointDescriptorSize
	if v.TotalLength() != wantTotal {
		t.Errorf("TotalLength() = %d, want %d", v.TotalLength(), wantTotal)
	}

	var hdr ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(v.Part(0), &hdr); err != nil {
		t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
	}
	if int(hdr.TotalLength) != wantTotal {
		t.Errorf("wTotalLength = %d, want %d", hdr.TotalLength, wantTotal)
	}
	if hdr.NumInterfaces != 1 {
		t.Errorf("bNumInterfaces = %d, want 1", hdr.NumInterfaces)
	}
	if hdr.Attributes != ConfigAttrReserved|ConfigAttrSelfPowered {
		t.Errorf("bmAttributes = 0x%02X", hdr.Attributes)
	}
}

func TestCatalog(t *testing.T) {
	cat := NewCatalog(&DeviceDescriptor{USBVersion: 0x0200, MaxPacketSize0: 8, VendorID: 0x1209})
	cat.SetLanguages(LangIDUSEnglish)
	if err := cat.SetStrings("usbcore", "DFU"); err != nil {
		t.Fatalf("SetStrings() error = %v", err)
	}
	cfg := NewConfigurationBuilder(1, 0, 0, 50).Build()
	value, err := cat.AddConfiguration(cfg)
	if err != nil || value != 1 {
		t.Fatalf("AddConfiguration() = %d, %v, want 1, nil", value, err)
	}

	if got := cat.MaxPacketSize0(); got != 8 {
		t.Errorf("MaxPacketSize0() = %d, want 8", got)
	}
	if got := cat.Configurations(); got != 1 {
		t.Errorf("Configurations() = %d, want 1", got)
	}

	dev, ok := cat.Descriptor(DescriptorTypeDevice, 0, 0)
	if !ok || dev.Count() != 1 {
		t.Fatalf("Descriptor(device) = %v, %v", dev, ok)
	}
	if got := dev.Part(0)[17]; got != 1 {
		t.Errorf("bNumConfigurations = %d, want 1", got)
	}

	if _, ok := cat.Descriptor(DescriptorTypeConfiguration, 0, 0); !ok {
		t.Error("Descriptor(configuration 0) not found")
	}
	if _, ok := cat.Descriptor(DescriptorTypeConfiguration, 1, 0); ok {
		t.Error("Descriptor(configuration 1) found, want missing")
	}
	if s, ok := cat.Descriptor(DescriptorTypeString, 2, LangIDUSEnglish); !ok || s.TotalLength() != 8 {
		t.Errorf("Descriptor(string 2) = %d bytes, %v, want 8, true", s.TotalLength(), ok)
	}
	if _, ok := cat.Descriptor(DescriptorTypeString, 3, LangIDUSEnglish); ok {
		t.Error("Descriptor(string 3) found, want missing")
	}
	if _, ok := cat.Descriptor(DescriptorTypeDeviceQualifier, 0, 0); ok {
		t.Error("Descriptor(device qualifier) found, want missing")
	}

	for i := 1; i < MaxConfigurations; i++ {
		if _, err := cat.AddConfiguration(cfg); err != nil {
			t.Fatalf("AddConfiguration(%d) error = %v", i+1, err)
		}
	}
	if _, err := cat.AddConfiguration(cfg); !errors.Is(err, pkg.ErrNoMemory) {
		t.Errorf("AddConfiguration(full) error = %v, want ErrNoMemory", err)
	}
	if err := cat.SetString(MaxStrings, StringDescriptor("x")); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("SetString(out of range) error = %v, want ErrInvalidParameter", err)
	}
}
