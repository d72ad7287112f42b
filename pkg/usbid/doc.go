// Package usbid names vendors, products, and interface classes from the
// usb.ids database distributed with usbutils.
//
// # Usage
//
//	db, err := usbid.Open(usbid.DefaultPaths...)
//	if err != nil {
//	    // No database installed; lookups on a nil *Database return "".
//	}
//	fmt.Println(db.Vendor(0x1209), db.Product(0x1209, 0x0001))
//	fmt.Println(db.Class(0xFE, 0x01, 0x02))
//
// Only the vendor/product section and the "C" device class section of the
// file are read. All lookups are safe for concurrent use once the database
// is built.
package usbid
