package device

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ardnew/usbcore/device/hal"
)

func TestGetStatus(t *testing.T) {
	tests := []struct {
		name      string
		recipient uint8
		index     uint16
		wantStall bool
	}{
		{"Device", RequestRecipientDevice, 0, false},
		{"Interface", RequestRecipientInterface, 0, false},
		{"Endpoint", RequestRecipientEndpoint, 0x81, true},
		{"Other", RequestRecipientOther, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newTestEngine(t, Config{})
			var setup SetupPacket
			GetStatusSetup(&setup, tt.recipient, tt.index)
			data, stalled := m.controlRead(e, setup)
			if stalled != tt.wantStall {
				t.Fatalf("stalled = %v, want %v", stalled, tt.wantStall)
			}
			if !stalled && !bytes.Equal(data, []byte{0, 0}) {
				t.Errorf("status = %v, want [0 0]", data)
			}
			if e.Phase() != PhaseIdle {
				t.Errorf("Phase() = %v, want idle", e.Phase())
			}
		})
	}
}

func TestGetDescriptor_Device(t *testing.T) {
	e, m := newTestEngine(t, Config{})

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 0, 18)
	data, stalled := m.controlRead(e, setup)
	if stalled {
		t.Fatal("GET_DESCRIPTOR(device) stalled")
	}
	if len(data) != DeviceDescriptorSize {
		t.Fatalf("response length = %d, want %d", len(data), DeviceDescriptorSize)
	}
	var desc DeviceDescriptor
	if err := ParseDeviceDescriptor(data, &desc); err != nil {
		t.Fatalf("ParseDeviceDescriptor() error = %v", err)
	}
	if desc.NumConfigurations != 1 || desc.MaxPacketSize0 != 64 {
		t.Errorf("bNumConfigurations = %d bMaxPacketSize0 = %d", desc.NumConfigurations, desc.MaxPacketSize0)
	}
}

func TestGetDescriptor_TruncatedResponses(t *testing.T) {
	sizes := []uint16{1, 4, 8, 18, 64, 255, 512}

	for _, size := range sizes {
		t.Run(fmt.Sprintf("wLength=%d", size), func(t *testing.T) {
			e, m := newTestEngine(t, Config{})
			var setup SetupPacket
			GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 0, size)
			data, stalled := m.controlRead(e, setup)
			if stalled {
				t.Fatal("stalled")
			}
			if want := min(int(size), DeviceDescriptorSize); len(data) != want {
				t.Errorf("len = %d, want %d", len(data), want)
			}
		})
	}
}

func TestGetDescriptor_Configuration(t *testing.T) {
	e, m := newTestEngine(t, Config{MaxPacketSize0: 8})

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeConfiguration, 0, 0, 255)
	data, stalled := m.controlRead(e, setup)
	if stalled {
		t.Fatal("GET_DESCRIPTOR(configuration) stalled")
	}

	want, _ := newTestCatalog().Configuration(1)
	if !bytes.Equal(data, want.AppendTo(nil)) {
		t.Errorf("configuration = % X, want % X", data, want.AppendTo(nil))
	}
	var hdr ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(data, &hdr); err != nil {
		t.Fatalf("ParseConfigurationDescriptor() error = %v", err)
	}
	if int(hdr.TotalLength) != len(data) {
		t.Errorf("wTotalLength = %d, want %d", hdr.TotalLength, len(data))
	}
	// 32 bytes in 8-byte packets, short of wLength on a packet boundary.
	if got := len(m.packets); got != 5 {
		t.Errorf("packets = %d, want 4 data packets and a zero-length packet", got)
	}
}

func TestGetDescriptor_AllTypes(t *testing.T) {
	tests := []struct {
		name      string
		descType  uint8
		index     uint8
		wantStall bool
	}{
		{"Device", DescriptorTypeDevice, 0, false},
		{"Device_Index", DescriptorTypeDevice, 1, true},
		{"Configuration", DescriptorTypeConfiguration, 0, false},
		{"String_Language", DescriptorTypeString, 0, false},
		{"String_Manufacturer", DescriptorTypeString, 1, false},
		{"String_Product", DescriptorTypeString, 2, false},
		{"String_Unset", DescriptorTypeString, 5, true},
		{"String_Invalid", DescriptorTypeString, 99, true},
		{"Configuration_Invalid", DescriptorTypeConfiguration, 99, true},
		{"Unknown_Type", 0xFF, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newTestEngine(t, Config{})
			var setup SetupPacket
			GetDescriptorSetup(&setup, tt.descType, tt.index, LangIDUSEnglish, 255)
			data, stalled := m.controlRead(e, setup)
			if stalled != tt.wantStall {
				t.Fatalf("stalled = %v, want %v", stalled, tt.wantStall)
			}
			if !stalled && (len(data) < 2 || int(data[0]) != len(data) && tt.descType != DescriptorTypeConfiguration) {
				t.Errorf("descriptor = % X: bLength does not match", data)
			}
		})
	}
}

func TestGetDescriptor_String(t *testing.T) {
	e, m := newTestEngine(t, Config{})

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeString, 1, LangIDUSEnglish, 255)
	data, stalled := m.controlRead(e, setup)
	if stalled {
		t.Fatal("stalled")
	}
	if want := StringDescriptor("usbcore").AppendTo(nil); !bytes.Equal(data, want) {
		t.Errorf("string = % X, want % X", data, want)
	}
}

func TestGetDescriptor_NoCatalog(t *testing.T) {
	m := newMockHAL()
	e := NewEngine(m, nil, Config{})

	var setup SetupPacket
	GetDescriptorSetup(&setup, DescriptorTypeDevice, 0, 0, 18)
	if _, stalled := m.controlRead(e, setup); !stalled {
		t.Error("GET_DESCRIPTOR without catalog did not stall")
	}
}

func TestSetAddress(t *testing.T) {
	tests := []struct {
		name  string
		value uint16
		want  uint8
	}{
		{"Address_1", 1, 1},
		{"Address_5", 5, 5},
		{"Address_127", 127, 127},
		{"Address_0x85_masked", 0x85, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newTestEngine(t, Config{})
			setup := SetupPacket{
				RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
				Request:     RequestSetAddress,
				Value:       tt.value,
			}

			m.sendSetup(e, setup)
			if got := e.State(); got != StateAddressing {
				t.Fatalf("State() before status = %v, want Addressing", got)
			}
			if m.address != 0 {
				t.Errorf("address applied before status stage: %d", m.address)
			}
			if len(m.packets) != 1 || len(m.packets[0]) != 0 {
				t.Fatalf("packets = %v, want one zero-length status packet", m.packets)
			}

			e.HandleControlPacket(hal.DirectionIn)
			if got := e.State(); got != StateAddressed {
				t.Errorf("State() = %v, want Addressed", got)
			}
			if m.address != tt.want {
				t.Errorf("address = %d, want %d", m.address, tt.want)
			}
		})
	}
}

func TestSetAddress_LateEcho(t *testing.T) {
	e, m := newTestEngine(t, Config{})

	var setup SetupPacket
	SetAddressSetup(&setup, 7)
	m.sendSetup(e, setup)

	// A new setup replaces the request before its status stage completes.
	GetStatusSetup(&setup, RequestRecipientDevice, 0)
	m.sendSetup(e, setup)
	e.HandleControlPacket(hal.DirectionIn)

	if got := e.State(); got != StateWaiting {
		t.Errorf("State() = %v, want Waiting", got)
	}
	if m.address != 0 {
		t.Errorf("address = %d, want 0", m.address)
	}
}

func TestSetAddress_HighByteRejected(t *testing.T) {
	e, m := newTestEngine(t, Config{})
	setup := SetupPacket{
		RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
		Request:     RequestSetAddress,
		Value:       0x0105,
	}
	if m.controlNoData(e, setup) {
		t.Fatal("SET_ADDRESS stalled")
	}
	if got := e.State(); got != StateWaiting {
		t.Errorf("State() = %v, want Waiting", got)
	}
	if m.address != 0 {
		t.Errorf("address = %d, want 0", m.address)
	}
}

func TestSetConfiguration(t *testing.T) {
	e, m := newTestEngine(t, Config{})
	var inits []uint8
	err := e.RegisterHandler(0, 1, func(*SetupPacket) Answer { return Unhandled() },
		func(ep uint8) { inits = append(inits, ep) })
	if err != nil {
		t.Fatalf("RegisterHandler() error = %v", err)
	}

	var setup SetupPacket
	SetConfigurationSetup(&setup, 1)
	if m.controlNoData(e, setup) {
		t.Fatal("SET_CONFIGURATION(1) stalled")
	}

	if got := e.State(); got != StateConfigured {
		t.Errorf("State() = %v, want Configured", got)
	}
	if got := e.ActiveConfiguration(); got != 1 {
		t.Errorf("ActiveConfiguration() = %d, want 1", got)
	}
	want := []hal.EndpointConfig{
		{Address: 0x81, Type: hal.EndpointTypeBulk, MaxPacketSize: 64, BufferOffset: 256, BufferLength: 128},
		{Address: 0x01, Type: hal.EndpointTypeBulk, MaxPacketSize: 64, BufferOffset: 384, BufferLength: 128},
	}
	if len(m.endpoints) != len(want) {
		t.Fatalf("endpoints = %+v, want %+v", m.endpoints, want)
	}
	for i := range want {
		if m.endpoints[i] != want[i] {
			t.Errorf("endpoint %d = %+v, want %+v", i, m.endpoints[i], want[i])
		}
	}
	if len(inits) != 1 || inits[0] != 1 {
		t.Errorf("init calls = %v, want [1]", inits)
	}
	if got := m.resets[len(m.resets)-1]; got != hal.ResetUser {
		t.Errorf("reset scope = %v, want ResetUser", got)
	}

	GetConfigurationSetup(&setup)
	data, stalled := m.controlRead(e, setup)
	if stalled || !bytes.Equal(data, []byte{1}) {
		t.Errorf("GET_CONFIGURATION = %v (stalled %v), want [1]", data, stalled)
	}
}

func TestSetConfiguration_Values(t *testing.T) {
	tests := []struct {
		name       string
		config     uint8
		wantStall  bool
		wantState  State
		wantActive uint8
	}{
		{"Config_0", 0, false, StateAddressed, 0},
		{"Config_1", 1, false, StateConfigured, 1},
		{"Config_Invalid", 2, true, StateWaiting, 0},
		{"Config_255", 255, true, StateWaiting, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newTestEngine(t, Config{})
			var setup SetupPacket
			SetConfigurationSetup(&setup, tt.config)
			if got := m.controlNoData(e, setup); got != tt.wantStall {
				t.Errorf("stalled = %v, want %v", got, tt.wantStall)
			}
			if got := e.State(); got != tt.wantState {
				t.Errorf("State() = %v, want %v", got, tt.wantState)
			}
			if got := e.ActiveConfiguration(); got != tt.wantActive {
				t.Errorf("ActiveConfiguration() = %d, want %d", got, tt.wantActive)
			}
		})
	}
}

func TestSetConfiguration_Deconfigure(t *testing.T) {
	e, m := newTestEngine(t, Config{})
	d := &testDriver{}
	if err := e.RegisterDriver(0, 1, d); err != nil {
		t.Fatalf("RegisterDriver() error = %v", err)
	}

	var setup SetupPacket
	SetConfigurationSetup(&setup, 1)
	m.controlNoData(e, setup)

	// An invalid value leaves the active configuration alone.
	SetConfigurationSetup(&setup, 3)
	if !m.controlNoData(e, setup) {
		t.Error("SET_CONFIGURATION(3) did not stall")
	}
	if e.ActiveConfiguration() != 1 || d.deinits != 0 {
		t.Errorf("after invalid value: active = %d deinits = %d", e.ActiveConfiguration(), d.deinits)
	}

	SetConfigurationSetup(&setup, 0)
	if m.controlNoData(e, setup) {
		t.Fatal("SET_CONFIGURATION(0) stalled")
	}
	if got := e.State(); got != StateAddressed {
		t.Errorf("State() = %v, want Addressed", got)
	}
	if d.deinits != 1 {
		t.Errorf("deinit calls = %d, want 1", d.deinits)
	}
	if len(m.endpoints) != 0 {
		t.Errorf("endpoints still configured: %+v", m.endpoints)
	}
}

func TestConfigureEndpoints_SkipsControl(t *testing.T) {
	c := NewCatalog(&DeviceDescriptor{MaxPacketSize0: 64})
	cfg := NewConfigurationBuilder(1, 0, 0, 50).
		Interface(InterfaceDescriptor{NumEndpoints: 3}).
		Endpoint(EndpointDescriptor{EndpointAddress: 0x82, Attributes: 0x03, MaxPacketSize: 16, Interval: 10}).
		Endpoint(EndpointDescriptor{EndpointAddress: 0x03, Attributes: 0x00, MaxPacketSize: 8}).
		Raw([]byte{5, 0x24, 0x00, 0x10, 0x01}).
		Endpoint(EndpointDescriptor{EndpointAddress: 0x84, Attributes: 0x01, MaxPacketSize: 192, Interval: 1}).
		Build()
	c.AddConfiguration(cfg)

	m := newMockHAL()
	e := NewEngine(m, c, Config{EP0BufferSize: 128})
	var setup SetupPacket
	SetConfigurationSetup(&setup, 1)
	if m.controlNoData(e, setup) {
		t.Fatal("SET_CONFIGURATION stalled")
	}

	want := []hal.EndpointConfig{
		{Address: 0x82, Type: hal.EndpointTypeInterrupt, MaxPacketSize: 16, BufferOffset: 128, BufferLength: 32},
		{Address: 0x84, Type: hal.EndpointTypeIsochronous, MaxPacketSize: 192, BufferOffset: 160, BufferLength: 384},
	}
	if len(m.endpoints) != len(want) {
		t.Fatalf("endpoints = %+v, want %+v", m.endpoints, want)
	}
	for i := range want {
		if m.endpoints[i] != want[i] {
			t.Errorf("endpoint %d = %+v, want %+v", i, m.endpoints[i], want[i])
		}
	}
}

func TestConfigureEndpoints_MalformedDescriptor(t *testing.T) {
	c := NewCatalog(&DeviceDescriptor{MaxPacketSize0: 64})
	cfg := NewConfigurationBuilder(1, 0, 0, 50).
		Interface(InterfaceDescriptor{NumEndpoints: 1}).
		Raw([]byte{1, 0x24}).
		Build()
	c.AddConfiguration(cfg)

	m := newMockHAL()
	e := NewEngine(m, c, Config{})
	var setup SetupPacket
	SetConfigurationSetup(&setup, 1)
	if !m.controlNoData(e, setup) {
		t.Error("SET_CONFIGURATION with malformed descriptor did not stall")
	}
	if got := e.State(); got != StateAddressed {
		t.Errorf("State() = %v, want Addressed", got)
	}
}

func TestStandard_UnsupportedRequests(t *testing.T) {
	tests := []struct {
		name  string
		setup SetupPacket
	}{
		{"SetFeature", SetupPacket{
			RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestSetFeature,
			Value:       1,
		}},
		{"GetInterface", SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientInterface,
			Request:     RequestGetInterface,
			Length:      1,
		}},
		{"SynchFrame", SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientEndpoint,
			Request:     RequestSynchFrame,
			Index:       0x84,
			Length:      2,
		}},
		{"Vendor", SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestTypeVendor | RequestRecipientDevice,
			Request:     0x01,
			Length:      4,
		}},
		{"ClassDevice", SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestTypeClass | RequestRecipientDevice,
			Request:     0x01,
			Length:      1,
		}},
		{"SetAddressDeviceToHost", SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestSetAddress,
			Value:       5,
		}},
		{"SetConfigurationDeviceToHost", SetupPacket{
			RequestType: RequestDirectionDeviceToHost | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestSetConfiguration,
			Value:       1,
		}},
		{"GetConfigurationHostToDevice", SetupPacket{
			RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestGetConfiguration,
			Length:      1,
		}},
		{"GetStatusHostToDevice", SetupPacket{
			RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestGetStatus,
			Length:      2,
		}},
		{"GetDescriptorHostToDevice", SetupPacket{
			RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestGetDescriptor,
			Value:       uint16(DescriptorTypeDevice) << 8,
			Length:      18,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newTestEngine(t, Config{})
			var stalled bool
			if tt.setup.IsDeviceToHost() {
				_, stalled = m.controlRead(e, tt.setup)
			} else {
				stalled = m.controlNoData(e, tt.setup)
			}
			if !stalled {
				t.Error("request did not stall")
			}
			if e.Phase() != PhaseIdle {
				t.Errorf("Phase() = %v, want idle", e.Phase())
			}
			if got := e.State(); got != StateWaiting {
				t.Errorf("State() = %v, want Waiting", got)
			}
			if e.ActiveConfiguration() != 0 || len(m.endpoints) != 0 || m.address != 0 {
				t.Errorf("configuration = %d endpoints = %d address = %d, want all zero",
					e.ActiveConfiguration(), len(m.endpoints), m.address)
			}
		})
	}
}

func TestStandard_DataStageRejected(t *testing.T) {
	e, m := newTestEngine(t, Config{})
	var inits int
	err := e.RegisterHandler(0, 1, func(*SetupPacket) Answer { return Unhandled() },
		func(uint8) { inits++ })
	if err != nil {
		t.Fatalf("RegisterHandler() error = %v", err)
	}

	var setup SetupPacket
	SetAddressSetup(&setup, 7)
	if m.controlNoData(e, setup) {
		t.Fatal("SET_ADDRESS(7) stalled")
	}

	tests := []struct {
		name  string
		setup SetupPacket
	}{
		{"SetAddress", SetupPacket{
			RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestSetAddress,
			Value:       9,
			Length:      2,
		}},
		{"SetConfiguration", SetupPacket{
			RequestType: RequestDirectionHostToDevice | RequestTypeStandard | RequestRecipientDevice,
			Request:     RequestSetConfiguration,
			Value:       1,
			Length:      4,
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stalls := m.stalls
			m.sendSetup(e, tt.setup)
			if m.stalls == stalls {
				t.Fatal("request did not stall")
			}
			if got := e.State(); got != StateAddressed {
				t.Errorf("State() after stall = %v, want Addressed", got)
			}

			// The next transfer must not commit anything left behind.
			GetStatusSetup(&setup, RequestRecipientDevice, 0)
			if _, stalled := m.controlRead(e, setup); stalled {
				t.Fatal("GET_STATUS stalled")
			}
			if got := e.State(); got != StateAddressed {
				t.Errorf("State() = %v, want Addressed", got)
			}
			if m.address != 7 {
				t.Errorf("address = %d, want 7", m.address)
			}
			if e.ActiveConfiguration() != 0 || len(m.endpoints) != 0 || inits != 0 {
				t.Errorf("configuration = %d endpoints = %d inits = %d, want all zero",
					e.ActiveConfiguration(), len(m.endpoints), inits)
			}
		})
	}
}

// =============================================================================
// Benchmarks
// =============================================================================

func BenchmarkGetDescriptor(b *testing.B) {
	descriptors := []struct {
		name     string
		descType uint8
		index    uint8
		length   uint16
	}{
		{"Device", DescriptorTypeDevice, 0, 18},
		{"Configuration", DescriptorTypeConfiguration, 0, 255},
		{"String_Manufacturer", DescriptorTypeString, 1, 255},
	}

	for _, d := range descriptors {
		b.Run(d.name, func(b *testing.B) {
			m := newMockHAL()
			e := NewEngine(m, newTestCatalog(), Config{})
			var setup SetupPacket
			GetDescriptorSetup(&setup, d.descType, d.index, 0, d.length)
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				m.packets = m.packets[:0]
				m.controlRead(e, setup)
			}
		})
	}
}

func BenchmarkSetConfiguration(b *testing.B) {
	m := newMockHAL()
	e := NewEngine(m, newTestCatalog(), Config{})
	var setup SetupPacket
	SetConfigurationSetup(&setup, 1)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.resets = m.resets[:0]
		m.controlNoData(e, setup)
	}
}
