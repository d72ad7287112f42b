package device

import "fmt"

// Packed transfer flag bits, used only when flags cross the HAL or debug
// boundary.
const (
	flagBitTerminated  = 1 << 0
	flagBitNeedsArming = 1 << 1
	flagBitStall       = 1 << 2
	flagBitMultiPart   = 1 << 3
)

// TransferFlags holds the four independent flags of a TransferStatus.
type TransferFlags struct {
	terminated  bool
	needsArming bool
	stall       bool
	multiPart   bool
}

// Terminated reports whether the transfer is known to end exactly at the
// host's requested length, so no trailing zero-length packet is needed.
func (f TransferFlags) Terminated() bool { return f.terminated }

// NeedsArming reports whether a response is pending and must be sent.
func (f TransferFlags) NeedsArming() bool { return f.needsArming }

// Stall reports whether the request was rejected.
func (f TransferFlags) Stall() bool { return f.stall }

// MultiPart reports whether the cursor indexes a MultiPartView.
func (f TransferFlags) MultiPart() bool { return f.multiPart }

// Pack returns the flags as a bit field.
func (f TransferFlags) Pack() uint8 {
	var b uint8
	if f.terminated {
		b |= flagBitTerminated
	}
	if f.needsArming {
		b |= flagBitNeedsArming
	}
	if f.stall {
		b |= flagBitStall
	}
	if f.multiPart {
		b |= flagBitMultiPart
	}
	return b
}

// UnpackTransferFlags decodes a bit field produced by Pack.
func UnpackTransferFlags(b uint8) TransferFlags {
	return TransferFlags{
		terminated:  b&flagBitTerminated != 0,
		needsArming: b&flagBitNeedsArming != 0,
		stall:       b&flagBitStall != 0,
		multiPart:   b&flagBitMultiPart != 0,
	}
}

// String returns the set flags, e.g. "[arm multi]".
func (f TransferFlags) String() string {
	s := "["
	sep := ""
	for _, fl := range []struct {
		set  bool
		name string
	}{
		{f.terminated, "term"},
		{f.needsArming, "arm"},
		{f.stall, "stall"},
		{f.multiPart, "multi"},
	} {
		if fl.set {
			s += sep + fl.name
			sep = " "
		}
	}
	return s + "]"
}

// TransferStatus tracks one endpoint's in-flight transfer: a cursor into a
// caller-owned flat buffer or multi-part view, the remaining byte count, and
// the transfer flags. The status never owns the memory it walks.
type TransferStatus struct {
	endpoint EndpointAddress

	// Flat cursor
	buf []byte
	pos int

	// Multi-part cursor
	view    MultiPartView
	part    int
	partOff int

	count uint16
	flags TransferFlags
}

// Endpoint returns the endpoint address this status belongs to.
func (s *TransferStatus) Endpoint() EndpointAddress {
	return s.endpoint
}

// Reset returns the status to its zero state, keeping the endpoint echo.
func (s *TransferStatus) Reset() {
	ep := s.endpoint
	*s = TransferStatus{endpoint: ep}
}

// SetBuffer selects a flat buffer and sets the count to its length.
func (s *TransferStatus) SetBuffer(buf []byte) {
	s.buf, s.pos = buf, 0
	s.view, s.part, s.partOff = MultiPartView{}, 0, 0
	s.count = clampCount(len(buf))
	s.flags.multiPart = false
}

// SetMultiPart selects a multi-part view and sets the count to its total
// length.
func (s *TransferStatus) SetMultiPart(v MultiPartView) {
	s.buf, s.pos = nil, 0
	s.view, s.part, s.partOff = v, 0, 0
	s.count = clampCount(v.TotalLength())
	s.flags.multiPart = true
}

// Limit clamps the remaining count to max.
func (s *TransferStatus) Limit(max uint16) {
	if s.count > max {
		s.count = max
	}
}

// Remaining returns the number of bytes left to move.
func (s *TransferStatus) Remaining() uint16 {
	return s.count
}

// Flags returns the transfer flags.
func (s *TransferStatus) Flags() TransferFlags {
	return s.flags
}

// SetTerminated sets the terminated flag.
func (s *TransferStatus) SetTerminated(v bool) { s.flags.terminated = v }

// SetNeedsArming sets the needs-arming flag.
func (s *TransferStatus) SetNeedsArming(v bool) { s.flags.needsArming = v }

// SetStall sets the stall flag.
func (s *TransferStatus) SetStall(v bool) { s.flags.stall = v }

// ClearFlags clears every flag except the multi-part selector.
func (s *TransferStatus) ClearFlags() {
	s.flags = TransferFlags{multiPart: s.flags.multiPart}
}

// Consume advances the cursor by up to n bytes and returns the number of
// bytes actually consumed. The count never underflows.
func (s *TransferStatus) Consume(n int) int {
	if n <= 0 {
		return 0
	}
	if n > int(s.count) {
		n = int(s.count)
	}
	s.count -= uint16(n)
	if !s.flags.multiPart {
		s.pos += n
		return n
	}
	for rem := n; rem > 0; {
		p := s.fragment()
		if p == nil {
			break
		}
		step := min(rem, len(p))
		s.partOff += step
		rem -= step
	}
	return n
}

// cursor returns the flat buffer window still to be moved.
func (s *TransferStatus) cursor() []byte {
	if s.pos >= len(s.buf) {
		return nil
	}
	end := s.pos + int(s.count)
	if end > len(s.buf) {
		end = len(s.buf)
	}
	return s.buf[s.pos:end]
}

// fragment returns the unread tail of the current fragment, skipping empty
// fragments. Returns nil when the view is exhausted.
func (s *TransferStatus) fragment() []byte {
	for s.part < s.view.Count() {
		p := s.view.Part(s.part)
		if s.partOff < len(p) {
			return p[s.partOff:]
		}
		s.part++
		s.partOff = 0
	}
	return nil
}

// String returns a compact description for debug logs.
func (s *TransferStatus) String() string {
	return fmt.Sprintf("%s remaining=%d flags=%s", s.endpoint, s.count, s.flags)
}

func clampCount(n int) uint16 {
	if n > 0xFFFF {
		return 0xFFFF
	}
	return uint16(n)
}
