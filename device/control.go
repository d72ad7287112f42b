package device

import (
	"log/slog"

	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/pkg"
)

// HandleControlPacket advances the endpoint 0 state machine after the
// controller completed a packet in direction dir. It is the single entry
// point for control traffic and never blocks.
func (e *Engine) HandleControlPacket(dir hal.Direction) {
	if dir == hal.DirectionIn {
		e.handleIn()
		return
	}
	e.handleOut()
}

func (e *Engine) handleOut() {
	if e.hal.SetupReceived(0) {
		if e.phase != PhaseIdle {
			pkg.LogDebug(pkg.ComponentControl, "setup interrupted transaction",
				"phase", e.phase.String())
		}
		e.cancelTransaction()
		e.handleSetup()
		return
	}

	switch e.phase {
	case PhaseDataRX:
		e.receiveChunk()
	default:
		// Host status stage, or an early status after a short read.
		e.hal.CompleteRx(0, false)
		e.finish()
	}
}

func (e *Engine) handleIn() {
	if e.State() == StateAddressing {
		e.commitAddress()
	}

	switch e.phase {
	case PhaseDataTX:
		if e.sendChunk() {
			e.enterIdle()
		}
	default:
		e.finish()
	}
}

// commitAddress applies the address from the SET_ADDRESS request whose status
// stage just completed.
func (e *Engine) commitAddress() {
	s := &e.setup
	if !s.IsStandard() || s.Request != RequestSetAddress || s.ValueHigh() != 0 {
		pkg.LogWarn(pkg.ComponentControl, "address commit rejected",
			"setup", s.String())
		e.hal.SetAddress(0)
		e.setState(StateWaiting)
		return
	}
	addr := s.ValueLow() & 0x7F
	e.hal.SetAddress(addr)
	e.setState(StateAddressed)
	pkg.LogDebug(pkg.ComponentControl, "address committed", "address", addr)
}

func (e *Engine) handleSetup() {
	out := &e.out[0]
	out.SetBuffer(e.setupBuf[:])
	n, done := receivePacket(out, e.hal, e.hal.RxCount(0))
	e.hal.CompleteRx(0, false)
	if !done {
		pkg.LogWarn(pkg.ComponentControl, "setup stage aborted",
			"error", pkg.ErrTruncatedTransfer,
			"received", n)
		e.hal.Stall(0)
		e.cancelTransaction()
		return
	}
	// Cannot fail: the buffer holds a full packet.
	_ = ParseSetupPacket(e.setupBuf[:], &e.setup)

	e.phase = PhaseWait
	e.in[0].Reset()
	e.out[0].Reset()

	if pkg.LogEnabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentControl, "setup", "packet", e.setup.String())
	}

	e.completeSetup(e.dispatch(&e.setup))
}

// completeSetup loads the transfer statuses from ans and starts the data or
// status stage.
func (e *Engine) completeSetup(ans Answer) {
	in, out := &e.in[0], &e.out[0]
	s := &e.setup
	e.deferred = ans.then

	if ans.kind == AnswerReceive && s.Length == 0 {
		ans = e.completeReceive(ans, nil)
	}

	switch ans.kind {
	case AnswerData:
		switch {
		case !s.IsDeviceToHost():
			pkg.LogWarn(pkg.ComponentControl, "data answer to host-to-device request",
				"setup", s.String())
			in.SetStall(true)
		case ans.multi:
			in.SetMultiPart(ans.view)
		case ans.data == nil:
			pkg.LogWarn(pkg.ComponentControl, "data answer without buffer",
				"setup", s.String())
			in.SetStall(true)
		default:
			in.SetBuffer(ans.data)
		}
		if !in.flags.stall {
			in.Limit(s.Length)
			in.SetTerminated(in.Remaining() == s.Length)
			in.SetNeedsArming(true)
		}
	case AnswerZeroLength:
		if s.IsHostToDevice() && s.Length > 0 {
			pkg.LogWarn(pkg.ComponentControl, "zero-length answer to request with data stage",
				"setup", s.String())
			in.SetStall(true)
			break
		}
		in.SetBuffer(nil)
		in.SetTerminated(true)
		in.SetNeedsArming(true)
	case AnswerReceive:
		if !s.IsHostToDevice() || len(ans.data) < int(s.Length) || ans.complete == nil {
			pkg.LogWarn(pkg.ComponentControl, "cannot receive data stage",
				"error", pkg.ErrBufferTooSmall,
				"setup", s.String(),
				"buffer", len(ans.data))
			in.SetStall(true)
			break
		}
		out.SetBuffer(ans.data)
		out.Limit(s.Length)
		out.SetNeedsArming(true)
		e.received = ans.complete
	case AnswerStall:
		in.SetStall(true)
	default:
		pkg.LogDebug(pkg.ComponentDispatch, "request not claimed",
			"error", pkg.ErrUnhandled,
			"setup", s.String())
		in.SetStall(true)
	}

	switch {
	case in.flags.stall:
		e.hal.Stall(0)
		e.cancelTransaction()
	case out.flags.needsArming:
		e.phase = PhaseDataRX
	case in.flags.needsArming:
		if s.IsDeviceToHost() {
			e.phase = PhaseDataTX
		} else {
			e.phase = PhaseStatusTX
		}
		if e.sendChunk() {
			if e.phase == PhaseDataTX {
				e.phase = PhaseStatusRX
			} else {
				e.phase = PhaseIdle
			}
		}
	default:
		e.cancelTransaction()
	}
}

// sendChunk transmits the next IN packet of endpoint 0 and reports whether
// the data phase is drained.
func (e *Engine) sendChunk() bool {
	in := &e.in[0]
	n := transmitPacket(in, e.hal, e.packetSize)
	drained := in.Remaining() == 0
	if drained && n == e.packetSize && !in.flags.terminated {
		// Short of wLength on a packet boundary: one more zero-length packet.
		in.SetTerminated(true)
		drained = false
	}
	e.hal.CompleteTx(0, drained)
	if pkg.LogEnabled(slog.LevelDebug) {
		pkg.LogDebug(pkg.ComponentMover, "sent", "bytes", n, "status", in.String())
	}
	return drained
}

// receiveChunk reads the next OUT data packet of endpoint 0. When the data
// stage drains, the receive callback decides the status stage.
func (e *Engine) receiveChunk() {
	out := &e.out[0]
	_, done := receivePacket(out, e.hal, e.hal.RxCount(0))
	e.hal.CompleteRx(0, done)
	if !done {
		return
	}

	complete := Answer{kind: AnswerReceive, complete: e.received}
	ans := e.completeReceive(complete, out.buf[:out.pos])
	out.SetNeedsArming(false)
	if ans.kind != AnswerZeroLength {
		e.hal.Stall(0)
		e.cancelTransaction()
		return
	}

	in := &e.in[0]
	in.SetBuffer(nil)
	in.SetTerminated(true)
	e.phase = PhaseStatusTX
	e.sendChunk()
}

// completeReceive runs the receive callback of ans over data. Any answer
// other than ZeroLength or Stall is reported as a stall.
func (e *Engine) completeReceive(ans Answer, data []byte) Answer {
	e.received = nil
	if ans.complete == nil {
		return ZeroLength()
	}
	res := ans.complete(data)
	if res.then != nil {
		e.deferred = res.then
	}
	switch res.kind {
	case AnswerZeroLength, AnswerStall:
		return res
	default:
		pkg.LogWarn(pkg.ComponentControl, "invalid status answer after data stage",
			"kind", res.kind.String())
		return Stall()
	}
}

// enterIdle returns the phase to idle and clears the endpoint 0 flags.
func (e *Engine) enterIdle() {
	e.phase = PhaseIdle
	e.in[0].ClearFlags()
	e.out[0].ClearFlags()
}

// finish completes the transaction's status stage and runs its deferred work.
func (e *Engine) finish() {
	e.enterIdle()
	if fn := e.deferred; fn != nil {
		e.deferred = nil
		fn()
	}
}

// cancelTransaction discards the in-flight transaction.
func (e *Engine) cancelTransaction() {
	e.phase = PhaseIdle
	e.in[0].Reset()
	e.out[0].Reset()
	e.deferred = nil
	e.received = nil
}
