package device

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/ardnew/usbcore/device/hal"
)

// newClassEngine returns a configured engine whose interface 0 answers every
// class request with answer.
func newClassEngine(t *testing.T, cfg Config, answer func(setup *SetupPacket) Answer) (*Engine, *mockHAL) {
	t.Helper()
	e, m := newTestEngine(t, cfg)
	if err := e.RegisterHandler(0, 1, answer, nil); err != nil {
		t.Fatalf("RegisterHandler() error = %v", err)
	}
	var setup SetupPacket
	SetConfigurationSetup(&setup, 1)
	if m.controlNoData(e, setup) {
		t.Fatal("SET_CONFIGURATION stalled")
	}
	m.packets = nil
	m.packetEnds = nil
	m.writes = nil
	return e, m
}

func classIn(length uint16) SetupPacket {
	var s SetupPacket
	ClassInterfaceSetup(&s, hal.DirectionIn, 0, 0x01, 0, length)
	return s
}

func classOut(length uint16) SetupPacket {
	var s SetupPacket
	ClassInterfaceSetup(&s, hal.DirectionOut, 0, 0x02, 0, length)
	return s
}

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func TestControlRead_PacketBoundaries(t *testing.T) {
	tests := []struct {
		name     string
		dataLen  int
		wLength  uint16
		wantLens []int
	}{
		{"short", 5, 64, []int{5}},
		{"exact wLength on boundary", 16, 16, []int{8, 8}},
		{"short of wLength on boundary", 16, 64, []int{8, 8, 0}},
		{"short of wLength off boundary", 13, 64, []int{8, 5}},
		{"truncated by wLength", 100, 10, []int{8, 2}},
		{"truncated on boundary", 100, 24, []int{8, 8, 8}},
		{"empty", 0, 8, []int{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := sequence(tt.dataLen)
			e, m := newClassEngine(t, Config{MaxPacketSize0: 8}, func(*SetupPacket) Answer {
				return Data(payload)
			})

			data, stalled := m.controlRead(e, classIn(tt.wLength))
			if stalled {
				t.Fatal("stalled")
			}
			want := payload[:min(tt.dataLen, int(tt.wLength))]
			if !bytes.Equal(data, want) {
				t.Errorf("data = % X, want % X", data, want)
			}
			if len(m.packets) != len(tt.wantLens) {
				t.Fatalf("packets = %d, want %d", len(m.packets), len(tt.wantLens))
			}
			for i, p := range m.packets {
				if len(p) != tt.wantLens[i] {
					t.Errorf("packet %d = %d bytes, want %d", i, len(p), tt.wantLens[i])
				}
			}
			if !m.packetEnds[len(m.packetEnds)-1] {
				t.Error("last packet not marked as end of data")
			}
			for i, end := range m.packetEnds[:len(m.packetEnds)-1] {
				if end {
					t.Errorf("packet %d marked as end of data", i)
				}
			}
			if e.Phase() != PhaseIdle {
				t.Errorf("Phase() = %v, want idle", e.Phase())
			}
		})
	}
}

func TestControlRead_NeverExceedsRequest(t *testing.T) {
	for _, wLength := range []uint16{0, 1, 7, 8, 9, 63, 64, 65, 200} {
		for _, size := range []int{0, 1, 8, 64, 100} {
			t.Run(fmt.Sprintf("wLength=%d/len=%d", wLength, size), func(t *testing.T) {
				payload := sequence(size)
				e, m := newClassEngine(t, Config{MaxPacketSize0: 8}, func(*SetupPacket) Answer {
					return Data(payload)
				})
				data, stalled := m.controlRead(e, classIn(wLength))
				if stalled {
					t.Fatal("stalled")
				}
				if want := min(size, int(wLength)); len(data) != want {
					t.Errorf("received %d bytes, want %d", len(data), want)
				}
			})
		}
	}
}

func TestControlRead_MultiPart(t *testing.T) {
	view := NewMultiPartView([]byte("abc"), []byte("defgh"), []byte("ijklmnopqrst"))
	e, m := newClassEngine(t, Config{MaxPacketSize0: 8}, func(*SetupPacket) Answer {
		return MultiPart(view)
	})

	data, stalled := m.controlRead(e, classIn(64))
	if stalled {
		t.Fatal("stalled")
	}
	if want := view.AppendTo(nil); !bytes.Equal(data, want) {
		t.Errorf("data = %q, want %q", data, want)
	}
	for i, w := range m.writes {
		for j, n := range w[:max(len(w)-1, 0)] {
			if n%FIFOWordSize != 0 {
				t.Errorf("packet %d write %d = %d bytes, not word aligned", i, j, n)
			}
		}
	}
}

func TestControlRead_InvalidAnswers(t *testing.T) {
	tests := []struct {
		name   string
		answer Answer
	}{
		{"nil data", Data(nil)},
		{"stall", Stall()},
		{"unhandled", Unhandled()},
		{"receive on IN request", Receive(make([]byte, 8), func([]byte) Answer { return ZeroLength() })},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newClassEngine(t, Config{}, func(*SetupPacket) Answer { return tt.answer })
			if _, stalled := m.controlRead(e, classIn(8)); !stalled {
				t.Error("request did not stall")
			}
			if e.Phase() != PhaseIdle {
				t.Errorf("Phase() = %v, want idle", e.Phase())
			}
			if len(m.packets) != 0 {
				t.Errorf("sent %d packets after stall", len(m.packets))
			}
		})
	}
}

func TestControlRead_EarlyStatus(t *testing.T) {
	e, m := newClassEngine(t, Config{MaxPacketSize0: 8}, func(*SetupPacket) Answer {
		return Data(sequence(32))
	})

	m.sendSetup(e, classIn(32))
	if e.Phase() != PhaseDataTX {
		t.Fatalf("Phase() = %v, want dataTX", e.Phase())
	}
	// The host ends the data stage after one packet.
	m.sendOut(e, nil)
	if e.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v, want idle", e.Phase())
	}
}

func TestControl_SetupInterruptsTransaction(t *testing.T) {
	e, m := newClassEngine(t, Config{MaxPacketSize0: 8}, func(*SetupPacket) Answer {
		return Data(sequence(40))
	})

	m.sendSetup(e, classIn(40))
	e.HandleControlPacket(hal.DirectionIn)
	if got := len(m.packets); got != 2 {
		t.Fatalf("packets = %d, want 2", got)
	}

	var s SetupPacket
	GetConfigurationSetup(&s)
	data, stalled := m.controlRead(e, s)
	if stalled || !bytes.Equal(data, []byte{1}) {
		t.Errorf("GET_CONFIGURATION = %v (stalled %v), want [1]", data, stalled)
	}
	if got := len(m.packets); got != 3 {
		t.Errorf("packets = %d, want 3: the class response must not resume", got)
	}
	if e.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v, want idle", e.Phase())
	}
}

func TestControl_TruncatedSetup(t *testing.T) {
	e, m := newTestEngine(t, Config{})

	m.rx = []byte{0x80, 0x06, 0x00}
	m.rxSetup = true
	e.HandleControlPacket(hal.DirectionOut)

	if m.stalls != 1 {
		t.Errorf("stalls = %d, want 1", m.stalls)
	}
	if e.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v, want idle", e.Phase())
	}
	if len(m.packets) != 0 {
		t.Errorf("sent %d packets for a truncated setup", len(m.packets))
	}
}

func TestControlWrite_Receive(t *testing.T) {
	var got []byte
	var hooks int
	e, m := newClassEngine(t, Config{MaxPacketSize0: 8}, func(*SetupPacket) Answer {
		buf := make([]byte, 32)
		return Receive(buf, func(data []byte) Answer {
			got = append([]byte(nil), data...)
			return ZeroLength()
		}).Then(func() { hooks++ })
	})

	payload := sequence(20)
	m.sendSetup(e, classOut(20))
	if e.Phase() != PhaseDataRX {
		t.Fatalf("Phase() = %v, want dataRX", e.Phase())
	}
	m.sendOut(e, payload[:8])
	m.sendOut(e, payload[8:16])
	if got != nil {
		t.Fatal("receive callback ran before the data stage drained")
	}
	m.sendOut(e, payload[16:])

	if !bytes.Equal(got, payload) {
		t.Errorf("received = % X, want % X", got, payload)
	}
	if e.Phase() != PhaseStatusTX {
		t.Errorf("Phase() = %v, want statusTX", e.Phase())
	}
	if len(m.packets) != 1 || len(m.packets[0]) != 0 {
		t.Errorf("packets = %v, want one zero-length status packet", m.packets)
	}
	if want := []bool{false, false, true}; len(m.rxEnds) < 3 || !equalBools(m.rxEnds[len(m.rxEnds)-3:], want) {
		t.Errorf("rx data ends = %v, want suffix %v", m.rxEnds, want)
	}
	if hooks != 0 {
		t.Error("deferred hook ran before the status stage completed")
	}

	e.HandleControlPacket(hal.DirectionIn)
	if hooks != 1 {
		t.Errorf("deferred hook calls = %d, want 1", hooks)
	}
	if e.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v, want idle", e.Phase())
	}
}

func TestControlWrite_ReceiveStall(t *testing.T) {
	e, m := newClassEngine(t, Config{MaxPacketSize0: 8}, func(*SetupPacket) Answer {
		return Receive(make([]byte, 4), func([]byte) Answer { return Stall() })
	})
	if !m.controlWrite(e, classOut(4), []byte{1, 2, 3, 4}) {
		t.Error("rejected data stage did not stall")
	}
	if e.Phase() != PhaseIdle {
		t.Errorf("Phase() = %v, want idle", e.Phase())
	}
}

func TestControlWrite_ReceiveInvalidStatus(t *testing.T) {
	e, m := newClassEngine(t, Config{}, func(*SetupPacket) Answer {
		return Receive(make([]byte, 4), func([]byte) Answer { return Data([]byte{1}) })
	})
	if !m.controlWrite(e, classOut(4), []byte{1, 2, 3, 4}) {
		t.Error("data answer after data stage did not stall")
	}
}

func TestControlWrite_ReceiveNoData(t *testing.T) {
	var calls int
	var got []byte
	e, m := newClassEngine(t, Config{}, func(*SetupPacket) Answer {
		return Receive(nil, func(data []byte) Answer {
			calls++
			got = data
			return ZeroLength()
		})
	})
	if m.controlNoData(e, classOut(0)) {
		t.Fatal("stalled")
	}
	if calls != 1 || len(got) != 0 {
		t.Errorf("callback calls = %d data = %v, want 1 call with no data", calls, got)
	}
}

func TestControlWrite_InvalidAnswers(t *testing.T) {
	complete := func([]byte) Answer { return ZeroLength() }
	tests := []struct {
		name   string
		answer Answer
	}{
		{"data on OUT request", Data([]byte{1, 2, 3, 4})},
		{"zero length with data stage", ZeroLength()},
		{"buffer too small", Receive(make([]byte, 3), complete)},
		{"no callback", Receive(make([]byte, 8), nil)},
		{"unhandled", Unhandled()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, m := newClassEngine(t, Config{}, func(*SetupPacket) Answer { return tt.answer })
			if !m.controlWrite(e, classOut(4), []byte{1, 2, 3, 4}) {
				t.Error("request did not stall")
			}
			if e.Phase() != PhaseIdle {
				t.Errorf("Phase() = %v, want idle", e.Phase())
			}
		})
	}
}

func TestControl_DeferredHook(t *testing.T) {
	var hooks int
	e, m := newClassEngine(t, Config{}, func(s *SetupPacket) Answer {
		if s.IsDeviceToHost() {
			return Data([]byte{1, 2}).Then(func() { hooks++ })
		}
		return ZeroLength().Then(func() { hooks++ })
	})

	m.sendSetup(e, classOut(0))
	if hooks != 0 {
		t.Fatal("hook ran during the setup stage")
	}
	e.HandleControlPacket(hal.DirectionIn)
	if hooks != 1 {
		t.Fatalf("hook calls after status = %d, want 1", hooks)
	}

	if _, stalled := m.controlRead(e, classIn(2)); stalled {
		t.Fatal("stalled")
	}
	if hooks != 2 {
		t.Errorf("hook calls after read = %d, want 2", hooks)
	}

	// A new setup drops the pending hook.
	m.sendSetup(e, classOut(0))
	var s SetupPacket
	GetConfigurationSetup(&s)
	m.controlRead(e, s)
	if hooks != 2 {
		t.Errorf("dropped hook ran: calls = %d, want 2", hooks)
	}
}

func equalBools(a, b []bool) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
