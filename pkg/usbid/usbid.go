package usbid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultPaths lists the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// ErrNotFound indicates none of the searched paths holds a database.
var ErrNotFound = errors.New("usb.ids not found")

// Database holds the names read from a usb.ids file. It is immutable after
// Parse returns.
type Database struct {
	vendors  map[uint16]string
	products map[uint32]string // vid<<16 | pid
	classes  map[uint32]string // 1<<24 | class<<16 | sub<<8 | proto, with unused levels zero
}

// Open parses the first readable file among paths.
func Open(paths ...string) (*Database, error) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		db, err := Parse(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("searched %d paths: %w", len(paths), ErrNotFound)
}

// Parse reads a database in usb.ids format.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
		classes:  make(map[uint32]string),
	}

	const (
		sectionNone = iota
		sectionVendor
		sectionClass
	)
	section := sectionNone
	var vid uint16
	var class, sub uint8

	s := bufio.NewScanner(r)
	for s.Scan() {
		line := s.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		depth := 0
		for depth < len(line) && line[depth] == '\t' {
			depth++
		}
		body := line[depth:]

		switch {
		case depth == 0 && strings.HasPrefix(body, "C "):
			id, name, ok := entry(body[2:], 2)
			if !ok {
				section = sectionNone
				continue
			}
			section, class = sectionClass, uint8(id)
			db.classes[classKey(3, class, 0, 0)] = name
		case depth == 0:
			id, name, ok := entry(body, 4)
			if !ok {
				// Another section (AT, HID, L, ...) begins.
				section = sectionNone
				continue
			}
			section, vid = sectionVendor, uint16(id)
			db.vendors[vid] = name
		case section == sectionVendor && depth == 1:
			if pid, name, ok := entry(body, 4); ok {
				db.products[uint32(vid)<<16|uint32(pid)] = name
			}
		case section == sectionClass && depth == 1:
			if id, name, ok := entry(body, 2); ok {
				sub = uint8(id)
				db.classes[classKey(2, class, sub, 0)] = name
			}
		case section == sectionClass && depth == 2:
			if id, name, ok := entry(body, 2); ok {
				db.classes[classKey(1, class, sub, uint8(id))] = name
			}
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

// entry splits "hhhh  name" where the id has digits hex digits.
func entry(s string, digits int) (uint64, string, bool) {
	if len(s) < digits+2 || s[digits] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:digits], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(s[digits:])
	return id, name, name != ""
}

// classKey encodes a class triple. level distinguishes class (3), subclass
// (2), and protocol (1) entries.
func classKey(level int, class, sub, proto uint8) uint32 {
	return uint32(level)<<24 | uint32(class)<<16 | uint32(sub)<<8 | uint32(proto)
}

// Vendor returns the vendor name of vid, or "" if unknown.
func (db *Database) Vendor(vid uint16) string {
	if db == nil {
		return ""
	}
	return db.vendors[vid]
}

// Product returns the product name of vid:pid, or "" if unknown.
func (db *Database) Product(vid, pid uint16) string {
	if db == nil {
		return ""
	}
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// Class returns the most specific known name of a class triple, or "".
func (db *Database) Class(class, sub, proto uint8) string {
	if db == nil {
		return ""
	}
	if name, ok := db.classes[classKey(1, class, sub, proto)]; ok {
		return name
	}
	if name, ok := db.classes[classKey(2, class, sub, 0)]; ok {
		return name
	}
	return db.classes[classKey(3, class, 0, 0)]
}

// Len returns the number of vendors, products, and class entries.
func (db *Database) Len() (vendors, products, classes int) {
	if db == nil {
		return 0, 0, 0
	}
	return len(db.vendors), len(db.products), len(db.classes)
}
