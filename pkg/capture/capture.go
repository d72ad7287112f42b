package capture

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/ardnew/usbcore/pkg"
)

// Magic identifies a capture stream.
const Magic = "usbcore-capture"

// Version is the capture format version written by Writer.
const Version = 1

// ErrInvalidCapture indicates a stream that does not start with a capture
// header of a supported version.
var ErrInvalidCapture = errors.New("invalid capture stream")

// Op identifies the peripheral activity a Record describes.
type Op uint8

// Recorded operations.
const (
	OpAttach         Op = iota + 1 // Pull-up enabled
	OpDetach                       // Pull-up disabled
	OpReset                        // Bus reset signalled by the host
	OpSuspend                      // Bus suspend
	OpWakeup                       // Bus resume
	OpSetAddress                   // Address register written; Value is the address
	OpSetupEndpoint                // Endpoint configured; Value packs offset<<16 | length
	OpResetEndpoints               // Endpoints torn down; Value is the reset scope
	OpSetup                        // SETUP packet from the host
	OpOut                          // OUT data packet from the host
	OpIn                           // IN packet handed to the host
	OpStall                        // Endpoint stalled
	OpFault                        // Controller rule violated; Note holds the error
)

// String returns a short operation name.
func (o Op) String() string {
	switch o {
	case OpAttach:
		return "attach"
	case OpDetach:
		return "detach"
	case OpReset:
		return "reset"
	case OpSuspend:
		return "suspend"
	case OpWakeup:
		return "wakeup"
	case OpSetAddress:
		return "set-address"
	case OpSetupEndpoint:
		return "setup-endpoint"
	case OpResetEndpoints:
		return "reset-endpoints"
	case OpSetup:
		return "setup"
	case OpOut:
		return "out"
	case OpIn:
		return "in"
	case OpStall:
		return "stall"
	case OpFault:
		return "fault"
	default:
		return fmt.Sprintf("op(%d)", o)
	}
}

// ParseOp returns the operation named name, as printed by Op.String.
func ParseOp(name string) (Op, error) {
	for op := OpAttach; op <= OpFault; op++ {
		if op.String() == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("capture: unknown operation %q: %w", name, pkg.ErrInvalidParameter)
}

// Record is one captured peripheral operation.
type Record struct {
	Seq      uint64 `cbor:"1,keyasint"`
	Op       Op     `cbor:"2,keyasint"`
	Endpoint uint8  `cbor:"3,keyasint,omitempty"`
	Data     []byte `cbor:"4,keyasint,omitempty"`
	Value    uint32 `cbor:"5,keyasint,omitempty"`
	Note     string `cbor:"6,keyasint,omitempty"`
}

// String returns a one-line description of the record.
func (r Record) String() string {
	s := fmt.Sprintf("%6d %-15s ep%d", r.Seq, r.Op, r.Endpoint)
	switch r.Op {
	case OpSetAddress, OpResetEndpoints:
		s += fmt.Sprintf(" value=%d", r.Value)
	case OpSetupEndpoint:
		s += fmt.Sprintf(" offset=%d length=%d", r.Value>>16, r.Value&0xFFFF)
	case OpSetup, OpOut, OpIn:
		s += fmt.Sprintf(" len=%-3d % X", len(r.Data), r.Data)
	}
	if r.Note != "" {
		s += " " + r.Note
	}
	return s
}

// Header is the first item of a capture stream.
type Header struct {
	Magic   string `cbor:"1,keyasint"`
	Version uint   `cbor:"2,keyasint"`
	Device  string `cbor:"3,keyasint,omitempty"`
}

// Sink receives records as they happen.
type Sink interface {
	Record(r Record) error
}

// Writer encodes records as a CBOR sequence following a Header.
type Writer struct {
	mutex sync.Mutex
	enc   *cbor.Encoder
	seq   uint64
}

// NewWriter writes a header describing device to w and returns a Writer
// appending records to it.
func NewWriter(w io.Writer, device string) (*Writer, error) {
	mode, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("capture: encoding mode: %w", err)
	}
	enc := mode.NewEncoder(w)
	if err := enc.Encode(Header{Magic: Magic, Version: Version, Device: device}); err != nil {
		return nil, fmt.Errorf("capture: write header: %w", err)
	}
	return &Writer{enc: enc}, nil
}

// Record implements Sink. Records are numbered from 1 in arrival order,
// overwriting r.Seq.
func (w *Writer) Record(r Record) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.seq++
	r.Seq = w.seq
	if err := w.enc.Encode(r); err != nil {
		pkg.LogWarn(pkg.ComponentCapture, "record dropped", "op", r.Op.String(), "error", err)
		return fmt.Errorf("capture: write record %d: %w", r.Seq, err)
	}
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() uint64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.seq
}

// Reader decodes a capture stream written by Writer.
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and validates the stream header.
func NewReader(r io.Reader) (*Reader, error) {
	dec := cbor.NewDecoder(r)
	var h Header
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("capture: empty stream: %w", ErrInvalidCapture)
		}
		return nil, fmt.Errorf("capture: read header: %w", err)
	}
	if h.Magic != Magic || h.Version == 0 || h.Version > Version {
		return nil, fmt.Errorf("capture: magic %q version %d: %w", h.Magic, h.Version, ErrInvalidCapture)
	}
	return &Reader{dec: dec, header: h}, nil
}

// Header returns the stream header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the stream.
func (r *Reader) Next() (Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("capture: read record: %w", err)
	}
	return rec, nil
}

// ReadAll reads every record of a capture stream.
func ReadAll(r io.Reader) (Header, []Record, error) {
	cr, err := NewReader(r)
	if err != nil {
		return Header{}, nil, err
	}
	var recs []Record
	for {
		rec, err := cr.Next()
		if errors.Is(err, io.EOF) {
			return cr.Header(), recs, nil
		}
		if err != nil {
			return cr.Header(), recs, err
		}
		recs = append(recs, rec)
	}
}

// Buffer is an in-memory Sink.
type Buffer struct {
	mutex   sync.Mutex
	records []Record
}

// Record implements Sink.
func (b *Buffer) Record(r Record) error {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	r.Seq = uint64(len(b.records) + 1)
	if r.Data != nil {
		r.Data = append([]byte(nil), r.Data...)
	}
	b.records = append(b.records, r)
	return nil
}

// Records returns a copy of the recorded operations.
func (b *Buffer) Records() []Record {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]Record(nil), b.records...)
}

// Filter returns the recorded operations of the given kinds.
func (b *Buffer) Filter(ops ...Op) []Record {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	var out []Record
	for _, r := range b.records {
		for _, op := range ops {
			if r.Op == op {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

// Reset discards all records.
func (b *Buffer) Reset() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.records = nil
}

// Tee returns a Sink forwarding every record to each of sinks. The first
// error is returned after all sinks have been offered the record.
func Tee(sinks ...Sink) Sink {
	return tee(sinks)
}

type tee []Sink

func (t tee) Record(r Record) error {
	var first error
	for _, s := range t {
		if err := s.Record(r); err != nil && first == nil {
			first = err
		}
	}
	return first
}
