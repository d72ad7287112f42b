package dfu

import (
	"fmt"
	"sync"

	"github.com/ardnew/usbcore/pkg"
)

// Zone is a writable flash region [Start, End).
type Zone struct {
	Start uint32
	End   uint32
}

// Size returns the zone length in bytes.
func (z Zone) Size() uint32 {
	if z.End <= z.Start {
		return 0
	}
	return z.End - z.Start
}

// Target stores downloaded firmware.
type Target interface {
	// Write programs data at address. The range lies inside one zone.
	Write(address uint32, data []byte) error
}

// Eraser is optionally implemented by targets that must erase a zone before
// it is programmed. Erase is called once per zone, when the download first
// reaches it.
type Eraser interface {
	Erase(z Zone) error
}

// locate maps an image offset onto the zones laid end to end. It returns the
// zone index and the address of the offset.
func locate(zones []Zone, offset uint32) (int, uint32, bool) {
	for i, z := range zones {
		if offset < z.Size() {
			return i, z.Start + offset, true
		}
		offset -= z.Size()
	}
	return 0, 0, false
}

// capacity returns the total size of zones.
func capacity(zones []Zone) uint32 {
	var n uint32
	for _, z := range zones {
		n += z.Size()
	}
	return n
}

// MemoryTarget is a Target backed by a byte slice addressed from Base. Erased
// bytes read as 0xFF.
type MemoryTarget struct {
	mutex  sync.Mutex
	Base   uint32
	mem    []byte
	erases int
}

// NewMemoryTarget creates a target of size bytes starting at base.
func NewMemoryTarget(base uint32, size int) *MemoryTarget {
	m := &MemoryTarget{Base: base, mem: make([]byte, size)}
	for i := range m.mem {
		m.mem[i] = 0xFF
	}
	return m
}

func (m *MemoryTarget) span(address uint32, n int) (int, error) {
	if address < m.Base || int(address-m.Base)+n > len(m.mem) {
		return 0, fmt.Errorf("address 0x%08X+%d: %w", address, n, pkg.ErrInvalidParameter)
	}
	return int(address - m.Base), nil
}

// Write implements Target.
func (m *MemoryTarget) Write(address uint32, data []byte) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	off, err := m.span(address, len(data))
	if err != nil {
		return err
	}
	copy(m.mem[off:], data)
	return nil
}

// Erase implements Eraser.
func (m *MemoryTarget) Erase(z Zone) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	off, err := m.span(z.Start, int(z.Size()))
	if err != nil {
		return err
	}
	for i, n := 0, int(z.Size()); i < n; i++ {
		m.mem[off+i] = 0xFF
	}
	m.erases++
	return nil
}

// Bytes returns a copy of the target memory.
func (m *MemoryTarget) Bytes() []byte {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]byte(nil), m.mem...)
}

// Erases returns the number of zone erasures performed.
func (m *MemoryTarget) Erases() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.erases
}
