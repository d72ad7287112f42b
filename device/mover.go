package device

import (
	"github.com/ardnew/usbcore/pkg"
)

// PacketReader copies bytes out of an endpoint's receive FIFO.
type PacketReader interface {
	RecvData(ep uint8, buf []byte) int
}

// PacketWriter queues bytes into an endpoint's transmit FIFO.
type PacketWriter interface {
	SendData(ep uint8, data []byte) int
}

// receivePacket reads one packet of reported bytes into the status' flat
// buffer. The reported count is clamped against the bytes still expected.
// Returns the bytes read and whether the transfer is complete.
func receivePacket(s *TransferStatus, r PacketReader, reported int) (int, bool) {
	n := min(reported, int(s.Remaining()))
	if n > 0 {
		dst := s.cursor()
		if n > len(dst) {
			n = len(dst)
		}
		got := r.RecvData(s.endpoint.Number(), dst[:n])
		n = s.Consume(min(got, n))
	}
	return n, s.Remaining() == 0
}

// transmitPacket queues up to one packet of the status' remaining bytes and
// returns the number queued. A zero return with nothing remaining is a
// zero-length packet.
func transmitPacket(s *TransferStatus, w PacketWriter, packetSize int) int {
	n := min(int(s.Remaining()), packetSize)
	if n == 0 {
		return 0
	}
	ep := s.endpoint.Number()
	if !s.flags.multiPart {
		src := s.cursor()
		if n > len(src) {
			n = len(src)
		}
		sent := w.SendData(ep, src[:n])
		return s.Consume(min(sent, n))
	}
	return transmitMultiPart(s, w, ep, n)
}

// transmitMultiPart streams budget bytes of a multi-part view as one packet.
// Writes are whole FIFO words; a short tail is held in a leftover word and
// completed with the next fragment's leading bytes. Whatever remains in the
// leftover word when the packet is full is flushed as the packet's last
// write.
func transmitMultiPart(s *TransferStatus, w PacketWriter, ep uint8, budget int) int {
	var (
		left  [FIFOWordSize]byte
		nLeft int
		sent  int
	)
	for budget > 0 {
		frag := s.fragment()
		if frag == nil {
			pkg.LogWarn(pkg.ComponentMover, "multi-part view shorter than transfer",
				"endpoint", s.endpoint.String(),
				"missing", s.Remaining())
			s.count = 0
			break
		}
		if len(frag) > budget {
			frag = frag[:budget]
		}
		take := len(frag)

		if nLeft > 0 {
			fill := copy(left[nLeft:], frag)
			nLeft += fill
			frag = frag[fill:]
			if nLeft == FIFOWordSize {
				w.SendData(ep, left[:])
				nLeft = 0
			}
		}
		if aligned := len(frag) &^ (FIFOWordSize - 1); aligned > 0 {
			w.SendData(ep, frag[:aligned])
			frag = frag[aligned:]
		}
		if len(frag) > 0 {
			nLeft = copy(left[:], frag)
		}

		s.Consume(take)
		budget -= take
		sent += take
	}
	if nLeft > 0 {
		w.SendData(ep, left[:nLeft])
	}
	return sent
}
