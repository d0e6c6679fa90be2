// Package heap implements Katsu's tagged value representation, heap object
// kinds, and the moving garbage collector (spec §3, §4.2, §4.3).
package heap

import (
	"math"

	"github.com/pkg/errors"
)

// Tag is the 3-bit discriminant carried by every Value.
type Tag uint8

const (
	TagFixnum Tag = iota
	TagFloat
	TagBool
	TagNull
	TagObject

	numTags
)

func (t Tag) String() string {
	switch t {
	case TagFixnum:
		return "fixnum"
	case TagFloat:
		return "float"
	case TagBool:
		return "bool"
	case TagNull:
		return "null"
	case TagObject:
		return "object"
	default:
		return "!unknown-tag!"
	}
}

const (
	tagBits    = 3
	inlineBits = 64 - tagBits
	tagMask    = uint64(1)<<tagBits - 1
)

// FixnumMax and FixnumMin bound the range a fixnum can encode (spec §3, §8).
const (
	FixnumMax = int64(1)<<(inlineBits-1) - 1
	FixnumMin = -(int64(1) << (inlineBits - 1))
)

// fixnumMask masks off the tag bits, leaving room for the inline payload.
const fixnumMask = ^(tagMask << inlineBits)

func init() {
	if numTags > 1<<tagBits {
		panic("heap: too many tags for 3-bit tag field")
	}
}

// Value is Katsu's 64-bit tagged word: a 3-bit tag plus either an inline
// scalar payload or (for TagObject) a byte offset into the GC's active
// semispace, shifted left by tagBits (object addresses are always
// 8-byte aligned, spec §3).
type Value uint64

func pack(tag Tag, payload uint64) Value {
	return Value((payload << tagBits) | uint64(tag))
}

// Tag returns the value's tag.
func (v Value) Tag() Tag {
	return Tag(uint64(v) & tagMask)
}

func (v Value) rawPayload() uint64 {
	return uint64(v) >> tagBits
}

// Null is the null singleton value.
func Null() Value { return pack(TagNull, 0) }

// IsNull reports whether v is the null singleton.
func (v Value) IsNull() bool { return v.Tag() == TagNull }

// IsInline reports whether v carries its payload inline (not a heap
// pointer): fixnum, float, bool, or null.
func (v Value) IsInline() bool { return v.Tag() != TagObject }

// IsObject reports whether v refers to a heap object.
func (v Value) IsObject() bool { return v.Tag() == TagObject }

// IsFixnum reports whether v is a fixnum.
func (v Value) IsFixnum() bool { return v.Tag() == TagFixnum }

// IsFloat reports whether v is a float32.
func (v Value) IsFloat() bool { return v.Tag() == TagFloat }

// IsBool reports whether v is a bool.
func (v Value) IsBool() bool { return v.Tag() == TagBool }

// NewFixnum encodes n as a fixnum Value. Raises (panics with) an
// out-of-range condition-compatible error if n is outside
// [FixnumMin, FixnumMax] (spec §7 "out-of-range", spec §8).
func NewFixnum(n int64) Value {
	if n < FixnumMin || n > FixnumMax {
		panic(&RangeError{Value: n})
	}
	return pack(TagFixnum, uint64(n)&fixnumMask)
}

// RangeError is raised by NewFixnum when the input cannot be represented.
// Callers at the VM boundary translate this into the "out-of-range"
// condition (spec §7).
type RangeError struct {
	Value int64
}

func (e *RangeError) Error() string {
	return "input is too large an integer to be represented as a fixnum"
}

// Fixnum decodes a fixnum Value back to int64. Panics if v is not a
// fixnum.
func (v Value) Fixnum() int64 {
	if !v.IsFixnum() {
		panic(errors.Errorf("heap: Fixnum() called on a %s value", v.Tag()))
	}
	raw := v.rawPayload()
	// raw is stored as an inlineBits-width two's-complement value; sign
	// extend back to a full 64-bit two's complement int64.
	signBit := uint64(1) << (inlineBits - 1)
	var extended uint64
	if raw&signBit != 0 {
		extended = raw | ^fixnumMask
	} else {
		extended = raw
	}
	return int64(extended)
}

// NewFloat32 encodes f as a float32 Value.
func NewFloat32(f float32) Value {
	return pack(TagFloat, uint64(math.Float32bits(f)))
}

// Float32 decodes a float32 Value. Panics if v is not a float.
func (v Value) Float32() float32 {
	if !v.IsFloat() {
		panic(errors.Errorf("heap: Float32() called on a %s value", v.Tag()))
	}
	return math.Float32frombits(uint32(v.rawPayload()))
}

// NewBool encodes b as a bool Value.
func NewBool(b bool) Value {
	if b {
		return pack(TagBool, 1)
	}
	return pack(TagBool, 0)
}

// Bool decodes a bool Value. Panics if v is not a bool.
func (v Value) Bool() bool {
	if !v.IsBool() {
		panic(errors.Errorf("heap: Bool() called on a %s value", v.Tag()))
	}
	return v.rawPayload() != 0
}

// objectOffset returns the byte offset this value's payload encodes.
// Panics if v is not a TagObject value.
func (v Value) objectOffset() offset {
	if !v.IsObject() {
		panic(errors.Errorf("heap: objectOffset() called on a %s value", v.Tag()))
	}
	return offset(v.rawPayload() << tagBits)
}

func objectValue(off offset) Value {
	if uint64(off)&tagMask != 0 {
		panic(errors.Errorf("heap: object offset %d is not %d-bit aligned", off, tagBits))
	}
	return pack(TagObject, uint64(off)>>tagBits)
}

// Equal implements Value equality: byte-exact on the tagged representation,
// so two distinct String objects with identical bytes are NOT Value-equal.
// This package has no comparison of String contents.
func (v Value) Equal(other Value) bool {
	return v == other
}
