// Package dfu implements the USB Device Firmware Upgrade (DFU 1.1) class
// for the usbcore endpoint 0 engine.
//
// A DFU interface has no data endpoints. Every request arrives on endpoint 0
// as a class request addressed to the DFU interface, so the driver is a
// plain device.ClassDriver registered for one interface of one
// configuration.
//
// # Modes
//
// An application exposes the run-time interface (appIDLE). DFU_DETACH
// acknowledges the request and, once the status stage has completed, runs
// the configured Detach and Reboot callbacks. The firmware image that then
// boots calls SetDetached(true) and exposes the DFU mode interface
// (dfuIDLE), which accepts DFU_DNLOAD.
//
// # Downloads
//
// Each DFU_DNLOAD block is received into a buffer of wTransferSize bytes
// and written through a Target into the configured flash zones, which are
// filled in order as if laid end to end. A running BLAKE2b-256 digest
// covers the image; when Config.Digest is set, the zero-length DFU_DNLOAD
// that ends the download fails with errVERIFY unless the digests match.
//
// DFU_UPLOAD is not supported and always stalls.
//
// # Usage
//
//	target := dfu.NewMemoryTarget(0x08000000, 64*1024)
//	d, err := dfu.New(dfu.Config{
//	    Attributes:   device.DFUAttrCanDownload | device.DFUAttrWillDetach,
//	    TransferSize: 256,
//	    Zones:        []dfu.Zone{{Start: 0x08000000, End: 0x08010000}},
//	    Target:       target,
//	})
//	if err != nil {
//	    return err
//	}
//	d.SetDetached(true)
//
//	cfg := d.AppendDescriptors(device.NewConfigurationBuilder(1, 0, device.ConfigAttrReserved, 50)).Build()
//	catalog.AddConfiguration(cfg)
//	d.Register(engine, 1)
package dfu
