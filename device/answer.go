package device

// AnswerKind is the outcome of a control request.
type AnswerKind uint8

// Answer kinds.
const (
	AnswerUnhandled  AnswerKind = iota // No handler claimed the request
	AnswerData                         // Data stage to the host
	AnswerZeroLength                   // Acknowledge with an empty status stage
	AnswerStall                        // Reject the request
	AnswerReceive                      // Data stage from the host
)

// String returns a human-readable answer kind.
func (k AnswerKind) String() string {
	switch k {
	case AnswerData:
		return "data"
	case AnswerZeroLength:
		return "zero-length"
	case AnswerStall:
		return "stall"
	case AnswerReceive:
		return "receive"
	default:
		return "unhandled"
	}
}

// Answer is returned by every request handler. The zero value is an
// unhandled answer.
//
// Data answers reference memory that must stay valid until the transfer
// completes; the engine never copies it.
type Answer struct {
	kind     AnswerKind
	data     []byte
	view     MultiPartView
	multi    bool
	complete func(data []byte) Answer
	then     func()
}

// Data answers with a flat buffer. A nil buffer is treated as a stall.
func Data(b []byte) Answer {
	return Answer{kind: AnswerData, data: b}
}

// MultiPart answers with a multi-part view streamed without copying.
func MultiPart(v MultiPartView) Answer {
	return Answer{kind: AnswerData, view: v, multi: true}
}

// ZeroLength acknowledges the request with an empty status stage.
func ZeroLength() Answer {
	return Answer{kind: AnswerZeroLength}
}

// Stall rejects the request.
func Stall() Answer {
	return Answer{kind: AnswerStall}
}

// Unhandled declines the request so another handler may claim it.
func Unhandled() Answer {
	return Answer{}
}

// Receive accepts a host-to-device data stage into buf. When the data stage
// drains, complete is called with the received bytes and its answer decides
// the status stage: ZeroLength acknowledges, anything else stalls.
func Receive(buf []byte, complete func(data []byte) Answer) Answer {
	return Answer{kind: AnswerReceive, data: buf, complete: complete}
}

// Then returns a copy of a with fn scheduled to run once the control
// transfer has finished its status stage.
func (a Answer) Then(fn func()) Answer {
	a.then = fn
	return a
}

// Kind returns the answer kind.
func (a Answer) Kind() AnswerKind {
	return a.kind
}

// Len returns the number of bytes the answer offers or accepts.
func (a Answer) Len() int {
	if a.multi {
		return a.view.TotalLength()
	}
	return len(a.data)
}

// Bytes returns the flat buffer, or nil for multi-part answers.
func (a Answer) Bytes() []byte {
	if a.multi {
		return nil
	}
	return a.data
}

// View returns the multi-part view and true if the answer is multi-part.
func (a Answer) View() (MultiPartView, bool) {
	return a.view, a.multi
}

// IsMultiPart reports whether the answer streams a multi-part view.
func (a Answer) IsMultiPart() bool {
	return a.multi
}
