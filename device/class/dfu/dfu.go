package dfu

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"hash"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/pkg"
)

// Config describes a DFU interface and the firmware store behind it.
type Config struct {
	// Interface is the interface number the driver answers for.
	Interface uint8

	// StringIndex is the interface string descriptor index.
	StringIndex uint8

	// Attributes holds the device.DFUAttr* bits advertised in the functional
	// descriptor.
	Attributes uint8

	// DetachTimeout is the time in milliseconds the device waits for a bus
	// reset after DFU_DETACH.
	DetachTimeout uint16

	// TransferSize is the largest DFU_DNLOAD block. Zero uses
	// DefaultTransferSize.
	TransferSize uint16

	// PollTimeout is reported in DFU_GETSTATUS as bwPollTimeout (24 bits,
	// milliseconds).
	PollTimeout uint32

	// Zones are the flash regions the image is written to, filled in order.
	Zones []Zone

	// Target programs the zones. Without a target every download fails.
	Target Target

	// Digest, when set, is the BLAKE2b-256 digest the complete image must
	// match at manifestation.
	Digest []byte

	// Detach disconnects the device from the bus. It runs after the status
	// stage of DFU_DETACH.
	Detach func() error

	// Reboot restarts the device into its DFU mode image. It runs after
	// Detach.
	Reboot func()
}

// DFU implements the Device Firmware Upgrade 1.1 class for one interface.
// It answers DFU requests from the engine's execution context and may be
// inspected from any goroutine.
type DFU struct {
	mutex sync.Mutex
	cfg   Config

	state    State
	detached bool
	status   Status

	// Download progress.
	buf     []byte
	offset  uint32
	block   uint16
	blocks  int
	erased  []bool
	hash    hash.Hash
	digest  [DigestSize]byte
	settled bool

	configured bool

	// Response storage referenced by data answers.
	statusBuf [StatusSize]byte
	stateBuf  [1]byte
}

// New creates a DFU driver in the run-time (appIDLE) state.
func New(cfg Config) (*DFU, error) {
	if cfg.TransferSize == 0 {
		cfg.TransferSize = DefaultTransferSize
	}
	if len(cfg.Digest) != 0 && len(cfg.Digest) != DigestSize {
		return nil, fmt.Errorf("dfu: digest of %d bytes: %w", len(cfg.Digest), pkg.ErrInvalidParameter)
	}
	if cfg.PollTimeout > 0xFFFFFF {
		return nil, fmt.Errorf("dfu: poll timeout %d: %w", cfg.PollTimeout, pkg.ErrInvalidParameter)
	}
	for _, z := range cfg.Zones {
		if z.Size() == 0 {
			return nil, fmt.Errorf("dfu: empty zone [0x%08X,0x%08X): %w", z.Start, z.End, pkg.ErrInvalidParameter)
		}
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return nil, fmt.Errorf("dfu: digest: %w", err)
	}
	return &DFU{
		cfg:    cfg,
		state:  StateAppIdle,
		status: StatusOK,
		buf:    make([]byte, cfg.TransferSize),
		erased: make([]bool, len(cfg.Zones)),
		hash:   h,
	}, nil
}

// Register installs the driver for its interface in configuration config.
func (d *DFU) Register(e *device.Engine, config uint8) error {
	return e.RegisterDriver(d.cfg.Interface, config, d)
}

// SetDetached selects the start-up state: dfuIDLE when the device booted
// into its DFU mode image, appIDLE otherwise.
func (d *DFU) SetDetached(detached bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.detached = detached
	d.state = d.idleState()
	d.status = StatusOK
	d.resetProgress()
}

// State returns the current DFU state.
func (d *DFU) State() State {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.state
}

// Status returns the current DFU status.
func (d *DFU) Status() Status {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.status
}

// Configured reports whether the driver's configuration is active.
func (d *DFU) Configured() bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.configured
}

// Progress returns the number of image bytes written and blocks accepted
// by the current download.
func (d *DFU) Progress() (written uint32, blocks int) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.offset, d.blocks
}

// Digest returns the BLAKE2b-256 digest of the last manifested image.
func (d *DFU) Digest() ([]byte, bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	if !d.settled {
		return nil, false
	}
	return append([]byte(nil), d.digest[:]...), true
}

// FunctionalDescriptor returns the DFU functional descriptor for the
// interface.
func (d *DFU) FunctionalDescriptor() device.DFUFunctionalDescriptor {
	return device.DFUFunctionalDescriptor{
		Attributes:    d.cfg.Attributes,
		DetachTimeout: d.cfg.DetachTimeout,
		TransferSize:  d.cfg.TransferSize,
		DFUVersion:    0x0110,
	}
}

// AppendDescriptors appends the DFU interface and functional descriptors
// to b.
func (d *DFU) AppendDescriptors(b *device.ConfigurationBuilder) *device.ConfigurationBuilder {
	d.mutex.Lock()
	protocol := uint8(ProtocolRuntime)
	if d.detached {
		protocol = ProtocolDFUMode
	}
	d.mutex.Unlock()
	return b.Interface(device.InterfaceDescriptor{
		InterfaceNumber:   d.cfg.Interface,
		InterfaceClass:    device.ClassAppSpecific,
		InterfaceSubClass: device.SubClassDFU,
		InterfaceProtocol: protocol,
		InterfaceIndex:    d.cfg.StringIndex,
	}).DFUFunctional(d.FunctionalDescriptor())
}

// Init implements device.ClassDriver.
func (d *DFU) Init(endpoint uint8) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.configured = true
	pkg.LogDebug(pkg.ComponentClass, "dfu configured",
		"interface", d.cfg.Interface,
		"endpoint", endpoint,
		"state", d.state.String())
}

// Deinit implements device.Deinitializer. An unfinished download is
// abandoned.
func (d *DFU) Deinit() {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.configured = false
	if d.state != StateAppDetach && d.state != d.idleState() {
		pkg.LogInfo(pkg.ComponentClass, "dfu download abandoned",
			"state", d.state.String(),
			"written", d.offset)
		d.state = d.idleState()
		d.status = StatusOK
	}
	d.resetProgress()
}

// HandleRequest implements device.ClassDriver.
func (d *DFU) HandleRequest(setup *device.SetupPacket) device.Answer {
	if !setup.IsClass() || !setup.IsInterfaceRecipient() || setup.Index != uint16(d.cfg.Interface) {
		return device.Unhandled()
	}

	d.mutex.Lock()
	defer d.mutex.Unlock()

	in := setup.IsDeviceToHost()
	switch setup.Request {
	case RequestDetach:
		if in {
			return device.Stall()
		}
		return device.ZeroLength().Then(d.detach)
	case RequestDownload:
		if in {
			return device.Stall()
		}
		return d.download(setup)
	case RequestGetStatus:
		if !in {
			return device.Stall()
		}
		d.advance()
		d.statusBuf = [StatusSize]byte{
			byte(d.status),
			byte(d.cfg.PollTimeout),
			byte(d.cfg.PollTimeout >> 8),
			byte(d.cfg.PollTimeout >> 16),
			byte(d.state),
			0,
		}
		return device.Data(d.statusBuf[:])
	case RequestClearStatus:
		if in {
			return device.Stall()
		}
		if d.state == StateError {
			d.state = StateIdle
			d.status = StatusOK
		}
		return device.ZeroLength()
	case RequestGetState:
		if !in {
			return device.Stall()
		}
		d.stateBuf[0] = byte(d.state)
		return device.Data(d.stateBuf[:])
	case RequestAbort:
		if in {
			return device.Stall()
		}
		d.resetProgress()
		d.state = StateIdle
		return device.ZeroLength()
	}
	return device.Stall()
}

func (d *DFU) idleState() State {
	if d.detached {
		return StateIdle
	}
	return StateAppIdle
}

func (d *DFU) resetProgress() {
	d.offset = 0
	d.block = 0
	d.blocks = 0
	clear(d.erased)
	d.hash.Reset()
}

// fail enters dfuERROR with status and stalls the request.
func (d *DFU) fail(status Status, reason string, args ...any) device.Answer {
	d.state = StateError
	d.status = status
	pkg.LogWarn(pkg.ComponentClass, "dfu "+reason,
		append(args, "status", status.String())...)
	return device.Stall()
}

func (d *DFU) detach() {
	d.mutex.Lock()
	d.state = StateAppDetach
	detach, reboot := d.cfg.Detach, d.cfg.Reboot
	d.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentClass, "dfu detach", "interface", d.cfg.Interface)
	if detach != nil {
		if err := detach(); err != nil {
			pkg.LogError(pkg.ComponentClass, "dfu detach failed", "error", err)
		}
	}
	if reboot != nil {
		reboot()
	}
}

// download answers DFU_DNLOAD. Caller holds the mutex.
func (d *DFU) download(setup *device.SetupPacket) device.Answer {
	if d.cfg.Target == nil || len(d.cfg.Zones) == 0 {
		return d.fail(StatusErrTarget, "download without target")
	}
	if int(setup.Length) > len(d.buf) {
		return d.fail(StatusErrStalledPkt, "block exceeds transfer size",
			"length", setup.Length,
			"transferSize", len(d.buf))
	}

	switch d.state {
	case StateIdle:
		if setup.Length == 0 {
			return d.fail(StatusErrNotDone, "empty download")
		}
		d.resetProgress()
		d.settled = false
	case StateDownloadIdle:
		if setup.Length == 0 {
			return d.manifest()
		}
		if setup.Value != d.block+1 {
			return d.fail(StatusErrStalledPkt, "block out of sequence",
				"block", setup.Value,
				"want", d.block+1)
		}
	default:
		return d.fail(StatusErrStalledPkt, "download in state "+d.state.String())
	}

	block := setup.Value
	return device.Receive(d.buf[:setup.Length], func(data []byte) device.Answer {
		return d.received(block, data)
	})
}

// received programs one block once its data stage has drained.
func (d *DFU) received(block uint16, data []byte) device.Answer {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if status, err := d.program(data); err != nil {
		return d.fail(status, "program failed",
			"block", block,
			"offset", d.offset,
			"error", err)
	}
	d.hash.Write(data)
	d.block = block
	d.blocks++
	d.state = StateDownloadSync
	pkg.LogDebug(pkg.ComponentClass, "dfu block written",
		"block", block,
		"length", len(data),
		"offset", d.offset)
	return device.ZeroLength()
}

// program writes data at the current image offset, splitting it across zone
// boundaries and erasing each zone before its first write.
func (d *DFU) program(data []byte) (Status, error) {
	if d.offset+uint32(len(data)) > capacity(d.cfg.Zones) {
		return StatusErrAddress, fmt.Errorf("image exceeds %d bytes: %w", capacity(d.cfg.Zones), pkg.ErrNoMemory)
	}
	for len(data) > 0 {
		i, addr, ok := locate(d.cfg.Zones, d.offset)
		if !ok {
			return StatusErrAddress, fmt.Errorf("offset %d: %w", d.offset, pkg.ErrInvalidParameter)
		}
		zone := d.cfg.Zones[i]
		if !d.erased[i] {
			if er, ok := d.cfg.Target.(Eraser); ok {
				if err := er.Erase(zone); err != nil {
					return StatusErrErase, err
				}
			}
			d.erased[i] = true
		}
		n := min(len(data), int(zone.End-addr))
		if err := d.cfg.Target.Write(addr, data[:n]); err != nil {
			return StatusErrWrite, err
		}
		d.offset += uint32(n)
		data = data[n:]
	}
	return StatusOK, nil
}

// manifest finishes the download and verifies its digest. Caller holds the
// mutex.
func (d *DFU) manifest() device.Answer {
	d.hash.Sum(d.digest[:0])
	d.settled = true
	sum := hex.EncodeToString(d.digest[:])
	if len(d.cfg.Digest) > 0 && !bytes.Equal(d.digest[:], d.cfg.Digest) {
		return d.fail(StatusErrVerify, "image digest mismatch",
			"digest", sum,
			"want", hex.EncodeToString(d.cfg.Digest))
	}
	d.state = StateManifestSync
	pkg.LogInfo(pkg.ComponentClass, "dfu image received",
		"bytes", d.offset,
		"blocks", d.blocks,
		"digest", sum)
	return device.ZeroLength()
}

// advance applies the transitions DFU_GETSTATUS triggers. Caller holds the
// mutex.
func (d *DFU) advance() {
	switch d.state {
	case StateDownloadSync:
		d.state = StateDownloadIdle
	case StateManifestSync:
		if d.cfg.Attributes&device.DFUAttrManifestationTolerant != 0 {
			d.state = StateIdle
		} else {
			d.state = StateManifestWaitReset
		}
	}
}

var (
	_ device.ClassDriver   = (*DFU)(nil)
	_ device.Deinitializer = (*DFU)(nil)
)
