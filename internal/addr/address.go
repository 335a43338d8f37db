// Package addr provides addresses, closed address ranges, and disjoint
// range sets for tracking decoded and decodable regions of a binary image.
package addr

import "fmt"

// Address is a 64-bit virtual address with an undefined state.
// The zero value is undefined. Arithmetic on undefined stays undefined.
type Address struct {
	val     uint64
	defined bool
}

// New returns a defined address.
func New(v uint64) Address {
	return Address{val: v, defined: true}
}

// Undef returns the undefined address.
func Undef() Address {
	return Address{}
}

// Defined reports whether the address holds a value.
func (a Address) Defined() bool { return a.defined }

// Uint64 returns the raw value. It is 0 for an undefined address.
func (a Address) Uint64() uint64 { return a.val }

// Add returns a+n, or undefined if a is undefined.
func (a Address) Add(n uint64) Address {
	if !a.defined {
		return a
	}
	return New(a.val + n)
}

// Sub returns a-n, or undefined if a is undefined.
func (a Address) Sub(n uint64) Address {
	if !a.defined {
		return a
	}
	return New(a.val - n)
}

// Less orders addresses by value. Undefined sorts before all defined values.
func (a Address) Less(b Address) bool {
	if a.defined != b.defined {
		return !a.defined
	}
	return a.val < b.val
}

// Equal reports value equality; two undefined addresses are equal.
func (a Address) Equal(b Address) bool {
	return a.defined == b.defined && a.val == b.val
}

// String formats the address as 0x-prefixed lowercase hex, or "<undef>".
func (a Address) String() string {
	if !a.defined {
		return "<undef>"
	}
	return fmt.Sprintf("0x%x", a.val)
}

// Range is a closed interval [Start, End] of defined addresses.
type Range struct {
	Start Address
	End   Address
}

// NewRange builds a closed range. Both bounds must be defined and
// start must not exceed end.
func NewRange(start, end Address) (Range, error) {
	if !start.Defined() || !end.Defined() {
		return Range{}, fmt.Errorf("addr: range bound undefined: [%v, %v]", start, end)
	}
	if end.Less(start) {
		return Range{}, fmt.Errorf("addr: range start %v after end %v", start, end)
	}
	return Range{Start: start, End: end}, nil
}

// MustRange is NewRange for bounds known to be valid.
func MustRange(start, end uint64) Range {
	r, err := NewRange(New(start), New(end))
	if err != nil {
		panic(err)
	}
	return r
}

// Size returns the number of addresses in the range.
func (r Range) Size() uint64 {
	return r.End.Uint64() - r.Start.Uint64() + 1
}

// Contains reports whether a lies inside the range.
func (r Range) Contains(a Address) bool {
	if !a.Defined() {
		return false
	}
	return !a.Less(r.Start) && !r.End.Less(a)
}

func (r Range) String() string {
	return fmt.Sprintf("[%v, %v]", r.Start, r.End)
}
