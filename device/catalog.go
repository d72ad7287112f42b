package device

import (
	"fmt"
	"unicode/utf16"

	"github.com/ardnew/usbcore/pkg"
)

// MaxStrings is the maximum number of string descriptors per device.
const MaxStrings = 16

// LangIDUSEnglish is the language ID for US English.
const LangIDUSEnglish = 0x0409

// DescriptorCatalog serves read-only descriptor blobs to the engine. Returned
// views must stay valid for the lifetime of the catalog.
type DescriptorCatalog interface {
	// Descriptor returns the descriptor of the given type and index. lang is
	// the language ID for string descriptors.
	Descriptor(kind, index uint8, lang uint16) (MultiPartView, bool)

	// Configuration returns the full descriptor set of configuration value.
	Configuration(value uint8) (MultiPartView, bool)

	// Configurations returns the number of configurations.
	Configurations() int

	// MaxPacketSize0 returns the device descriptor's bMaxPacketSize0, or 0
	// if the catalog has no device descriptor.
	MaxPacketSize0() uint8
}

// Catalog is a fixed-capacity DescriptorCatalog. It is populated at startup
// and read-only afterwards.
type Catalog struct {
	device     [DeviceDescriptorSize]byte
	deviceView MultiPartView
	hasDevice  bool
	configs    [MaxConfigurations]MultiPartView
	numConfigs int
	strings    [MaxStrings]MultiPartView
}

// NewCatalog creates a catalog for the given device descriptor.
// bNumConfigurations is maintained by AddConfiguration.
func NewCatalog(dev *DeviceDescriptor) *Catalog {
	c := &Catalog{}
	if dev != nil {
		dev.MarshalTo(c.device[:])
		c.device[17] = 0
		c.deviceView = NewMultiPartView(c.device[:])
		c.hasDevice = true
	}
	return c
}

// AddConfiguration appends a configuration descriptor set. Configurations
// are numbered from 1 in the order they are added.
// Returns the configuration value assigned.
func (c *Catalog) AddConfiguration(v MultiPartView) (uint8, error) {
	if c.numConfigs >= MaxConfigurations {
		return 0, fmt.Errorf("add configuration: %w", pkg.ErrNoMemory)
	}
	c.configs[c.numConfigs] = v
	c.numConfigs++
	c.device[17] = uint8(c.numConfigs)
	return uint8(c.numConfigs), nil
}

// SetString stores a string descriptor view at index.
func (c *Catalog) SetString(index uint8, v MultiPartView) error {
	if index >= MaxStrings {
		return fmt.Errorf("string %d: %w", index, pkg.ErrInvalidParameter)
	}
	c.strings[index] = v
	return nil
}

// SetLanguages sets the supported language IDs (string index 0).
func (c *Catalog) SetLanguages(langIDs ...uint16) {
	c.strings[0] = LanguageDescriptor(langIDs...)
}

// SetStrings stores strs as string descriptors 1 through len(strs).
func (c *Catalog) SetStrings(strs ...string) error {
	for i, s := range strs {
		if err := c.SetString(uint8(i+1), StringDescriptor(s)); err != nil {
			return err
		}
	}
	return nil
}

// Descriptor implements DescriptorCatalog. All strings are served for every
// language ID.
func (c *Catalog) Descriptor(kind, index uint8, _ uint16) (MultiPartView, bool) {
	switch kind {
	case DescriptorTypeDevice:
		if !c.hasDevice || index != 0 {
			return MultiPartView{}, false
		}
		return c.deviceView, true
	case DescriptorTypeConfiguration:
		return c.Configuration(index + 1)
	case DescriptorTypeString:
		if index >= MaxStrings || c.strings[index].Count() == 0 {
			return MultiPartView{}, false
		}
		return c.strings[index], true
	default:
		return MultiPartView{}, false
	}
}

// Configuration implements DescriptorCatalog.
func (c *Catalog) Configuration(value uint8) (MultiPartView, bool) {
	if value == 0 || int(value) > c.numConfigs {
		return MultiPartView{}, false
	}
	return c.configs[value-1], true
}

// Configurations implements DescriptorCatalog.
func (c *Catalog) Configurations() int {
	return c.numConfigs
}

// MaxPacketSize0 implements DescriptorCatalog.
func (c *Catalog) MaxPacketSize0() uint8 {
	if !c.hasDevice {
		return 0
	}
	return c.device[7]
}

// StringDescriptor encodes s as a two-fragment string descriptor: the 2-byte
// header and the UTF-16LE payload. Strings longer than 126 code units are
// truncated.
func StringDescriptor(s string) MultiPartView {
	units := utf16.Encode([]rune(s))
	if len(units) > 126 {
		units = units[:126]
	}
	payload := make([]byte, 2*len(units))
	for i, u := range units {
		payload[2*i] = byte(u)
		payload[2*i+1] = byte(u >> 8)
	}
	header := []byte{byte(2 + len(payload)), DescriptorTypeString}
	return NewMultiPartView(header, payload)
}

// LanguageDescriptor encodes string descriptor 0 listing langIDs.
func LanguageDescriptor(langIDs ...uint16) MultiPartView {
	if len(langIDs) > 126 {
		langIDs = langIDs[:126]
	}
	buf := make([]byte, 2+2*len(langIDs))
	buf[0] = byte(len(buf))
	buf[1] = DescriptorTypeString
	for i, id := range langIDs {
		buf[2+2*i] = byte(id)
		buf[3+2*i] = byte(id >> 8)
	}
	return NewMultiPartView(buf)
}

// ConfigurationBuilder assembles a configuration descriptor set as a
// multi-part view with one fragment per descriptor.
type ConfigurationBuilder struct {
	header ConfigurationDescriptor
	parts  [][]byte
}

// NewConfigurationBuilder starts a configuration. wTotalLength and
// bNumInterfaces are computed by Build.
func NewConfigurationBuilder(value, index, attributes, maxPower uint8) *ConfigurationBuilder {
	return &ConfigurationBuilder{
		header: ConfigurationDescriptor{
			ConfigurationValue: value,
			ConfigurationIndex: index,
			Attributes:         attributes,
			MaxPower:           maxPower,
		},
	}
}

// Interface appends an interface descriptor.
func (b *ConfigurationBuilder) Interface(d InterfaceDescriptor) *ConfigurationBuilder {
	buf := make([]byte, InterfaceDescriptorSize)
	d.MarshalTo(buf)
	if d.AlternateSetting == 0 {
		b.header.NumInterfaces++
	}
	b.parts = append(b.parts, buf)
	return b
}

// Endpoint appends an endpoint descriptor.
func (b *ConfigurationBuilder) Endpoint(d EndpointDescriptor) *ConfigurationBuilder {
	buf := make([]byte, EndpointDescriptorSize)
	d.MarshalTo(buf)
	b.parts = append(b.parts, buf)
	return b
}

// DFUFunctional appends a DFU functional descriptor.
func (b *ConfigurationBuilder) DFUFunctional(d DFUFunctionalDescriptor) *ConfigurationBuilder {
	buf := make([]byte, DFUFunctionalDescriptorSize)
	d.MarshalTo(buf)
	b.parts = append(b.parts, buf)
	return b
}

// Raw appends a pre-encoded class-specific descriptor as its own fragment.
func (b *ConfigurationBuilder) Raw(desc []byte) *ConfigurationBuilder {
	b.parts = append(b.parts, desc)
	return b
}

// Build returns the configuration header followed by every appended
// descriptor.
func (b *ConfigurationBuilder) Build() MultiPartView {
	total := ConfigurationDescriptorSize
	for _, p := range b.parts {
		total += len(p)
	}
	b.header.TotalLength = uint16(total)
	header := make([]byte, ConfigurationDescriptorSize)
	b.header.MarshalTo(header)
	return NewMultiPartView(append([][]byte{header}, b.parts...)...)
}
