package device

// MultiPartView is an immutable ordered sequence of byte fragments that form
// one logical descriptor, such as a string descriptor header followed by a
// separately stored UTF-16 payload, or a configuration descriptor followed by
// its interface and endpoint descriptors.
//
// The view never copies fragment contents; the caller must keep the backing
// memory valid for as long as the view is in use.
type MultiPartView struct {
	parts [][]byte
	total int
}

// NewMultiPartView returns a view over parts in order. The fragment list is
// copied, so later changes to the argument slice do not affect the view.
func NewMultiPartView(parts ...[]byte) MultiPartView {
	v := MultiPartView{parts: make([][]byte, len(parts))}
	for i, p := range parts {
		v.parts[i] = p[:len(p):len(p)]
		v.total += len(p)
	}
	return v
}

// Count returns the number of fragments.
func (v MultiPartView) Count() int {
	return len(v.parts)
}

// Part returns fragment i, or nil if i is out of range.
func (v MultiPartView) Part(i int) []byte {
	if i < 0 || i >= len(v.parts) {
		return nil
	}
	return v.parts[i]
}

// TotalLength returns the sum of all fragment lengths.
func (v MultiPartView) TotalLength() int {
	return v.total
}

// Each calls fn for every fragment in order until fn returns false.
func (v MultiPartView) Each(fn func(i int, part []byte) bool) {
	for i, p := range v.parts {
		if !fn(i, p) {
			return
		}
	}
}

// AppendTo appends the concatenation of all fragments to dst.
func (v MultiPartView) AppendTo(dst []byte) []byte {
	for _, p := range v.parts {
		dst = append(dst, p...)
	}
	return dst
}
