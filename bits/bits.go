// Package bits provides primitives for bitwise operations on 32-bit
// registers, plus a small bit-field abstraction built on top of them for
// decoding and encoding packed records such as the KEYROM CONFIG word.
//
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.
package bits

// Field describes a fixed-width bit field within a packed 32-bit record,
// such as a KEYROM CONFIG word. Offset is counted from bit 0 (LSB).
type Field struct {
	Width  uint
	Offset uint
}

// NewField builds a Field of the given width at the given bit offset.
func NewField(width, offset uint) Field {
	return Field{Width: width, Offset: offset}
}

func (f Field) mask() int {
	return (1 << f.Width) - 1
}

// Get extracts the field's value from a packed word. Single-bit fields
// route through Get, wider ones through GetN.
func (f Field) Get(word uint32) uint32 {
	if f.Width == 1 {
		if Get(&word, int(f.Offset)) {
			return 1
		}
		return 0
	}
	return GetN(&word, int(f.Offset), f.mask())
}

// Set returns word with the field replaced by value, other bits preserved.
// Single-bit fields route through SetTo, wider ones through SetN.
func (f Field) Set(word uint32, value uint32) uint32 {
	if f.Width == 1 {
		SetTo(&word, int(f.Offset), value != 0)
		return word
	}
	SetN(&word, int(f.Offset), f.mask(), value)
	return word
}
