package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/usbcore/device"
	"github.com/ardnew/usbcore/device/class/dfu"
	"github.com/ardnew/usbcore/device/hal"
	"github.com/ardnew/usbcore/device/hal/fifo"
	"github.com/ardnew/usbcore/pkg"
	"github.com/ardnew/usbcore/pkg/capture"
	"github.com/ardnew/usbcore/pkg/usbid"
)

// Interface numbers of the simulated device.
const (
	vendorInterface = 0
	dfuInterface    = 1
)

// flashBase is the address of the simulated DFU flash.
const flashBase = 0x08000000

type runOptions struct {
	packetSize   uint8
	ep0Reserve   uint16
	ramSize      uint16
	address      uint8
	vendorID     uint16
	productID    uint16
	manufacturer string
	product      string
	serial       string
	capturePath  string
	trace        bool
	dfuSize      int
	transferSize uint16
	timeout      time.Duration
	usbIDs       string
}

// autoUSBIDs selects the first usb.ids found in usbid.DefaultPaths.
const autoUSBIDs = "auto"

func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Enumerate a simulated device",
		Long: `run builds a device with a vendor-specific bulk interface, serves it with
the endpoint 0 engine on the in-memory FIFO controller, and enumerates it with
a scripted host. With --dfu-size it also exposes a DFU interface and
downloads a generated firmware image of that many bytes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSim(cmd.Context(), cmd.OutOrStdout(), opts)
		},
	}

	f := cmd.Flags()
	f.Uint8Var(&opts.packetSize, "packet-size", 64, "endpoint 0 max packet size (8, 16, 32, or 64)")
	f.Uint16Var(&opts.ep0Reserve, "ep0-reserve", device.DefaultEP0BufferSize, "packet RAM reserved for endpoint 0")
	f.Uint16Var(&opts.ramSize, "ram", fifo.DefaultRAMSize, "controller packet RAM size")
	f.Uint8Var(&opts.address, "address", 7, "address assigned during enumeration")
	f.Uint16Var(&opts.vendorID, "vid", 0x1209, "idVendor")
	f.Uint16Var(&opts.productID, "pid", 0x0001, "idProduct")
	f.StringVar(&opts.manufacturer, "manufacturer", "usbcore", "manufacturer string")
	f.StringVar(&opts.product, "product", "ep0sim device", "product string")
	f.StringVar(&opts.serial, "serial", "0001", "serial number string (empty for none)")
	f.StringVarP(&opts.capturePath, "capture", "o", "", "write a CBOR capture of controller operations to this file")
	f.BoolVarP(&opts.trace, "trace", "t", false, "print every controller operation")
	f.IntVar(&opts.dfuSize, "dfu-size", 0, "expose a DFU interface and download an image of this many bytes")
	f.Uint16Var(&opts.transferSize, "dfu-transfer-size", dfu.DefaultTransferSize, "DFU wTransferSize")
	f.DurationVar(&opts.timeout, "timeout", fifo.DefaultTimeout, "per-event host timeout")
	f.StringVar(&opts.usbIDs, "usb-ids", autoUSBIDs, `usb.ids file used to name the vendor, product, and classes ("auto" searches the usual paths, empty disables)`)
	return cmd
}

func (o runOptions) validate() error {
	switch o.packetSize {
	case 8, 16, 32, 64:
	default:
		return fmt.Errorf("packet size %d: %w", o.packetSize, pkg.ErrInvalidParameter)
	}
	if o.address == 0 || o.address > 127 {
		return fmt.Errorf("address %d: %w", o.address, pkg.ErrInvalidParameter)
	}
	if o.dfuSize < 0 {
		return fmt.Errorf("dfu size %d: %w", o.dfuSize, pkg.ErrInvalidParameter)
	}
	return nil
}

// firmware returns a deterministic image of n bytes.
func firmware(n int) []byte {
	img := make([]byte, n)
	for i := range img {
		img[i] = byte(i ^ i>>8)
	}
	return img
}

// buildCatalog describes the simulated device. updater is nil unless a DFU
// interface is requested.
func buildCatalog(o runOptions, updater *dfu.DFU) (*device.Catalog, error) {
	desc := &device.DeviceDescriptor{
		USBVersion:        0x0200,
		MaxPacketSize0:    o.packetSize,
		VendorID:          o.vendorID,
		ProductID:         o.productID,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
	}
	strs := []string{o.manufacturer, o.product}
	if o.serial != "" {
		desc.SerialNumberIndex = 3
		strs = append(strs, o.serial)
	}
	catalog := device.NewCatalog(desc)

	b := device.NewConfigurationBuilder(1, 0, device.ConfigAttrReserved, 50).
		Interface(device.InterfaceDescriptor{
			InterfaceNumber: vendorInterface,
			NumEndpoints:    2,
			InterfaceClass:  device.ClassVendor,
		}).
		Endpoint(device.EndpointDescriptor{EndpointAddress: 0x81, Attributes: uint8(hal.EndpointTypeBulk), MaxPacketSize: 64}).
		Endpoint(device.EndpointDescriptor{EndpointAddress: 0x01, Attributes: uint8(hal.EndpointTypeBulk), MaxPacketSize: 64})
	if updater != nil {
		updater.AppendDescriptors(b)
	}
	if _, err := catalog.AddConfiguration(b.Build()); err != nil {
		return nil, err
	}
	catalog.SetLanguages(device.LangIDUSEnglish)
	if err := catalog.SetStrings(strs...); err != nil {
		return nil, err
	}
	return catalog, nil
}

// loadNames opens the usb.ids database selected by o. A missing database
// only costs the names, so failures are logged and a nil database returned.
func loadNames(o runOptions) *usbid.Database {
	var paths []string
	switch o.usbIDs {
	case "":
		return nil
	case autoUSBIDs:
		paths = usbid.DefaultPaths
	default:
		paths = []string{o.usbIDs}
	}
	db, err := usbid.Open(paths...)
	if err != nil {
		pkg.LogInfo(component, "device names unavailable", "error", err)
		return nil
	}
	return db
}

func runSim(ctx context.Context, out io.Writer, o runOptions) error {
	if err := o.validate(); err != nil {
		return err
	}
	names := loadNames(o)

	var (
		sinks []capture.Sink
		trace capture.Buffer
	)
	if o.trace {
		sinks = append(sinks, &trace)
	}
	if o.capturePath != "" {
		file, err := os.Create(o.capturePath)
		if err != nil {
			return fmt.Errorf("create capture: %w", err)
		}
		defer file.Close()
		w, err := capture.NewWriter(file, fmt.Sprintf("%04X:%04X %s", o.vendorID, o.productID, o.product))
		if err != nil {
			return err
		}
		sinks = append(sinks, w)
	}

	var (
		img     []byte
		updater *dfu.DFU
	)
	if o.dfuSize > 0 {
		img = firmware(o.dfuSize)
		sum := blake2b.Sum256(img)
		var err error
		updater, err = dfu.New(dfu.Config{
			Interface:     dfuInterface,
			Attributes:    device.DFUAttrCanDownload | device.DFUAttrManifestationTolerant,
			DetachTimeout: 1000,
			TransferSize:  o.transferSize,
			Zones:         []dfu.Zone{{Start: flashBase, End: flashBase + uint32(o.dfuSize)}},
			Target:        dfu.NewMemoryTarget(flashBase, o.dfuSize),
			Digest:        sum[:],
		})
		if err != nil {
			return err
		}
		updater.SetDetached(true)
	}

	catalog, err := buildCatalog(o, updater)
	if err != nil {
		return fmt.Errorf("build descriptors: %w", err)
	}

	ctrlOpts := []fifo.Option{fifo.WithRAMSize(o.ramSize), fifo.WithEP0Reserve(o.ep0Reserve)}
	if len(sinks) > 0 {
		ctrlOpts = append(ctrlOpts, fifo.WithCapture(capture.Tee(sinks...)))
	}
	ctrl := fifo.New(ctrlOpts...)
	engine := device.NewEngine(ctrl, catalog, device.Config{EP0BufferSize: o.ep0Reserve})
	if updater != nil {
		if err := updater.Register(engine, 1); err != nil {
			return fmt.Errorf("register dfu: %w", err)
		}
	}

	stack := device.NewStack(engine)
	if err := stack.Start(ctx); err != nil {
		return fmt.Errorf("start device: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	// The device runs until the host script ends or fails.
	g.Go(func() error {
		<-gctx.Done()
		return stack.Stop()
	})

	// The summary is taken before the device detaches, which releases the
	// class drivers.
	var summary strings.Builder
	g.Go(func() error {
		defer cancel()
		host := fifo.NewHost(ctrl)
		host.SetTimeout(o.timeout)
		e, err := host.Enumerate(gctx, o.address)
		if err != nil {
			return fmt.Errorf("enumerate: %w", err)
		}
		if updater != nil {
			size := int(updater.FunctionalDescriptor().TransferSize)
			if err := download(gctx, host, img, size); err != nil {
				return fmt.Errorf("dfu download: %w", err)
			}
		}

		printEnumeration(&summary, e, ctrl.Endpoints(), engine.State(), names)
		if updater != nil {
			written, blocks := updater.Progress()
			digest, _ := updater.Digest()
			fmt.Fprintf(&summary, "dfu      %d bytes in %d blocks, state %s, blake2b %s\n",
				written, blocks, updater.State(), hex.EncodeToString(digest))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}

	io.WriteString(out, summary.String())
	if faults := ctrl.Faults(); len(faults) > 0 {
		for _, f := range faults {
			fmt.Fprintf(out, "fault    %v\n", f)
		}
		return fmt.Errorf("%d controller faults: %w", len(faults), faults[0])
	}
	if o.trace {
		fmt.Fprintln(out)
		for _, r := range trace.Records() {
			fmt.Fprintln(out, r.String())
		}
	}
	return nil
}

// download writes img through the DFU interface block by block, polling
// DFU_GETSTATUS after each block, then ends the download.
func download(ctx context.Context, h *fifo.Host, img []byte, transferSize int) error {
	var s device.SetupPacket
	status := func() error {
		device.ClassInterfaceSetup(&s, hal.DirectionIn, dfuInterface, dfu.RequestGetStatus, 0, dfu.StatusSize)
		resp, err := h.ControlRead(ctx, s)
		if err != nil {
			return err
		}
		if len(resp) != dfu.StatusSize {
			return fmt.Errorf("status of %d bytes: %w", len(resp), pkg.ErrProtocol)
		}
		if st := dfu.Status(resp[0]); st != dfu.StatusOK {
			return fmt.Errorf("device status %s in state %s: %w", st, dfu.State(resp[4]), pkg.ErrInvalidState)
		}
		return nil
	}

	var block uint16
	for off := 0; off < len(img); block++ {
		n := min(transferSize, len(img)-off)
		device.ClassInterfaceSetup(&s, hal.DirectionOut, dfuInterface, dfu.RequestDownload, block, uint16(n))
		if err := h.ControlWrite(ctx, s, img[off:off+n]); err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		if err := status(); err != nil {
			return fmt.Errorf("block %d: %w", block, err)
		}
		off += n
	}

	device.ClassInterfaceSetup(&s, hal.DirectionOut, dfuInterface, dfu.RequestDownload, block, 0)
	if err := h.ControlWrite(ctx, s, nil); err != nil {
		return fmt.Errorf("manifest: %w", err)
	}
	return status()
}

// label formats a usb.ids name as a line suffix.
func label(name string) string {
	if name == "" {
		return ""
	}
	return " (" + name + ")"
}

func printEnumeration(out io.Writer, e *fifo.Enumeration, eps []hal.EndpointConfig, state device.State, names *usbid.Database) {
	d := e.Device
	fmt.Fprintf(out, "address  %d (%s)\n", e.Address, state)
	fmt.Fprintf(out, "device   %04X:%04X usb %x.%02x release %x.%02x ep0 %d\n",
		d.VendorID, d.ProductID, d.USBVersion>>8, d.USBVersion&0xFF,
		d.DeviceVersion>>8, d.DeviceVersion&0xFF, d.MaxPacketSize0)
	if vendor := names.Vendor(d.VendorID); vendor != "" {
		fmt.Fprintf(out, "vendor   %s%s\n", vendor, label(names.Product(d.VendorID, d.ProductID)))
	}
	fmt.Fprintf(out, "strings  %q %q %q\n", e.Manufacturer, e.Product, e.SerialNumber)
	c := e.Configuration
	fmt.Fprintf(out, "config   %d: %d interfaces, %d bytes, %d mA\n",
		c.ConfigurationValue, c.NumInterfaces, c.TotalLength, 2*int(c.MaxPower))
	for _, i := range e.Interfaces {
		fmt.Fprintf(out, "iface    %d class %02X/%02X/%02X endpoints %d%s\n",
			i.InterfaceNumber, i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol, i.NumEndpoints,
			label(names.Class(i.InterfaceClass, i.InterfaceSubClass, i.InterfaceProtocol)))
	}
	for _, ep := range eps {
		fmt.Fprintf(out, "endpoint 0x%02X %s mps %d fifo [%d,%d)\n",
			ep.Address, ep.Type, ep.MaxPacketSize, ep.BufferOffset, ep.BufferOffset+ep.BufferLength)
	}
}
