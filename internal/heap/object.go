package heap

import "github.com/pkg/errors"

// offset is a byte offset into the GC's currently-active semispace. Unlike
// a real pointer, an offset survives being copied between a Value slot and
// back, but is only valid to dereference against the GC that produced it,
// and only until the next allocation (which may trigger a collection and
// relocate the object, spec §4.2).
type offset uint64

// ObjectTag identifies the kind of a heap object, and is packed into the
// low bits of every object's header word above the forwarding bit
// (spec §3 "Object header").
type ObjectTag uint8

const (
	ObjRef ObjectTag = iota
	ObjTuple
	ObjArray
	ObjVector
	ObjAssoc
	ObjString
	ObjCode
	ObjClosure
	ObjMethod
	ObjMultiMethod
	ObjType
	ObjInstance
	ObjCallSegment
	ObjForeign
)

func (t ObjectTag) String() string {
	switch t {
	case ObjRef:
		return "ref"
	case ObjTuple:
		return "tuple"
	case ObjArray:
		return "array"
	case ObjVector:
		return "vector"
	case ObjAssoc:
		return "assoc"
	case ObjString:
		return "string"
	case ObjCode:
		return "code"
	case ObjClosure:
		return "closure"
	case ObjMethod:
		return "method"
	case ObjMultiMethod:
		return "multimethod"
	case ObjType:
		return "type"
	case ObjInstance:
		return "instance"
	case ObjCallSegment:
		return "call-segment"
	case ObjForeign:
		return "foreign"
	default:
		return "!unknown-object-tag!"
	}
}

// --- low-level word access over the active semispace ---
//
// Every object is laid out as a sequence of 8-byte words starting at its
// offset: word 0 is always the header (spec §3). Field layout below
// mirrors the original Katsu C++ struct field order (vm/value.h) but
// stores everything — including small integer fields like Code.num_regs —
// as a full word, trading density for a uniform, easy-to-audit layout.

func (g *GC) wordAt(off offset) *uint64 {
	return (*uint64)(wordPointer(g.active, off))
}

func (g *GC) readWord(off offset) uint64    { return *g.wordAt(off) }
func (g *GC) writeWord(off offset, w uint64) { *g.wordAt(off) = w }
func (g *GC) readValue(off offset) Value    { return Value(g.readWord(off)) }
func (g *GC) writeValue(off offset, v Value) { g.writeWord(off, uint64(v)) }

func headerForwarding(h uint64) (offset, bool) {
	if h&1 != 0 {
		return offset(h >> 1), true
	}
	return 0, false
}

func headerTag(h uint64) ObjectTag {
	return ObjectTag(h >> 1)
}

func makeHeader(tag ObjectTag) uint64 {
	return uint64(tag) << 1
}

func makeForwardingHeader(to offset) uint64 {
	return (uint64(to) << 1) | 1
}

// Obj is a lightweight, uncached view over a heap object at a fixed offset.
// It must not be retained across any call that might allocate (and
// therefore collect) — see spec §4.3. Root handles hold a Value instead
// and re-derive the view on demand.
type Obj struct {
	g   *GC
	Off offset
}

func (g *GC) objAt(v Value) Obj {
	return Obj{g: g, Off: v.objectOffset()}
}

// Tag returns the object's kind, following a forwarding pointer if the
// object has already been relocated by an in-progress collection.
func (o Obj) Tag() ObjectTag {
	h := o.g.readWord(o.Off)
	if to, fwd := headerForwarding(h); fwd {
		return o.g.objAt(objectValue(to)).Tag()
	}
	return headerTag(h)
}

func (o Obj) requireTag(want ObjectTag) {
	if got := o.Tag(); got != want {
		panic(errors.Errorf("heap: expected object tag %s, got %s", want, got))
	}
}

// TagOf reports the object kind of v (e.g. distinguishing a Type matcher
// from a Ref matcher during multimethod dispatch, internal/vm's
// dispatch.go). Panics if v is not an object.
func (g *GC) TagOf(v Value) ObjectTag {
	return g.objAt(v).Tag()
}

// --- Ref: one mutable Value cell ---

type Ref struct{ Obj }

func (g *GC) AsRef(v Value) Ref {
	o := g.objAt(v)
	o.requireTag(ObjRef)
	return Ref{o}
}

func (r Ref) Get() Value     { return r.g.readValue(r.Off + 8) }
func (r Ref) Set(v Value)    { r.g.writeValue(r.Off+8, v) }
func refSize() uint64        { return 16 }

// --- Tuple / Array: fixed-length inline Value arrays ---

type Tuple struct{ Obj }
type Array struct{ Obj }

func (g *GC) AsTuple(v Value) Tuple {
	o := g.objAt(v)
	o.requireTag(ObjTuple)
	return Tuple{o}
}
func (g *GC) AsArray(v Value) Array {
	o := g.objAt(v)
	o.requireTag(ObjArray)
	return Array{o}
}

func (t Tuple) Length() uint64 { return t.g.readWord(t.Off + 8) }
func (t Tuple) Get(i uint64) Value {
	t.boundsCheck(i)
	return t.g.readValue(t.Off + 16 + offset(i)*8)
}
func (t Tuple) Set(i uint64, v Value) {
	t.boundsCheck(i)
	t.g.writeValue(t.Off+16+offset(i)*8, v)
}
func (t Tuple) boundsCheck(i uint64) {
	if i >= t.Length() {
		panic(errors.Errorf("heap: tuple index %d out of range (length %d)", i, t.Length()))
	}
}
func tupleSize(length uint64) uint64 { return 16 + length*8 }

func (a Array) Length() uint64 { return a.g.readWord(a.Off + 8) }
func (a Array) Get(i uint64) Value {
	a.boundsCheck(i)
	return a.g.readValue(a.Off + 16 + offset(i)*8)
}
func (a Array) Set(i uint64, v Value) {
	a.boundsCheck(i)
	a.g.writeValue(a.Off+16+offset(i)*8, v)
}
func (a Array) boundsCheck(i uint64) {
	if i >= a.Length() {
		panic(errors.Errorf("heap: array index %d out of range (length %d)", i, a.Length()))
	}
}
func arraySize(length uint64) uint64 { return 16 + length*8 }

// --- Vector: growable, backed by an Array ---

type Vector struct{ Obj }

func (g *GC) AsVector(v Value) Vector {
	o := g.objAt(v)
	o.requireTag(ObjVector)
	return Vector{o}
}

func (v Vector) Length() uint64      { return v.g.readWord(v.Off + 8) }
func (v Vector) setLength(n uint64)  { v.g.writeWord(v.Off+8, n) }
func (v Vector) BackingArray() Value { return v.g.readValue(v.Off + 16) }
func (v Vector) setBackingArray(a Value) { v.g.writeValue(v.Off+16, a) }
func (v Vector) Capacity() uint64 {
	return v.g.AsArray(v.BackingArray()).Length()
}
func (v Vector) Get(i uint64) Value {
	if i >= v.Length() {
		panic(errors.Errorf("heap: vector index %d out of range (length %d)", i, v.Length()))
	}
	return v.g.AsArray(v.BackingArray()).Get(i)
}
func (v Vector) Set(i uint64, val Value) {
	if i >= v.Length() {
		panic(errors.Errorf("heap: vector index %d out of range (length %d)", i, v.Length()))
	}
	v.g.AsArray(v.BackingArray()).Set(i, val)
}
func vectorSize() uint64 { return 24 }

// --- Assoc: linear-scan String-keyed map, backed by an Array of 2n slots ---

type Assoc struct{ Obj }

func (g *GC) AsAssoc(v Value) Assoc {
	o := g.objAt(v)
	o.requireTag(ObjAssoc)
	return Assoc{o}
}

func (a Assoc) Length() uint64          { return a.g.readWord(a.Off + 8) }
func (a Assoc) setLength(n uint64)      { a.g.writeWord(a.Off+8, n) }
func (a Assoc) BackingArray() Value     { return a.g.readValue(a.Off + 16) }
func (a Assoc) setBackingArray(v Value) { a.g.writeValue(a.Off+16, v) }

// Base is the module-lookup chain link (Assoc or Null), a supplement
// over the core data-model table grounded on the original's
// module_lookup base-module walk.
func (a Assoc) Base() Value      { return a.g.readValue(a.Off + 24) }
func (a Assoc) setBase(v Value)  { a.g.writeValue(a.Off+24, v) }
func (a Assoc) HasBase() bool    { return !a.Base().IsNull() }

func (a Assoc) KeyAt(i uint64) Value {
	return a.g.AsArray(a.BackingArray()).Get(2 * i)
}
func (a Assoc) ValueAt(i uint64) Value {
	return a.g.AsArray(a.BackingArray()).Get(2*i + 1)
}
func (a Assoc) setEntryAt(i uint64, key, val Value) {
	arr := a.g.AsArray(a.BackingArray())
	arr.Set(2*i, key)
	arr.Set(2*i+1, val)
}
func assocSize() uint64 { return 32 }

// --- String: immutable UTF-8-by-convention byte string ---

type String struct{ Obj }

func (g *GC) AsString(v Value) String {
	o := g.objAt(v)
	o.requireTag(ObjString)
	return String{o}
}

func (s String) Length() uint64 { return s.g.readWord(s.Off + 8) }

// Bytes returns a slice directly over the string's storage in the active
// semispace. The slice is invalidated by the next allocation, exactly like
// every other unrooted view in this package.
func (s String) Bytes() []byte {
	n := s.Length()
	start := uint64(s.Off) + 16
	return s.g.active[start : start+n]
}
func (s String) String() string { return string(s.Bytes()) }
func stringSize(length uint64) uint64 { return alignUp(16+length, tagBits) }

// --- Code: a compiled method/closure body ---

type Code struct{ Obj }

func (g *GC) AsCode(v Value) Code {
	o := g.objAt(v)
	o.requireTag(ObjCode)
	return Code{o}
}

func (c Code) Module() Value       { return c.g.readValue(c.Off + 8) }
func (c Code) setModule(v Value)   { c.g.writeValue(c.Off+8, v) }
func (c Code) NumParams() uint32   { return uint32(c.g.readWord(c.Off + 16)) }
func (c Code) setNumParams(n uint32) { c.g.writeWord(c.Off+16, uint64(n)) }
func (c Code) NumRegs() uint32     { return uint32(c.g.readWord(c.Off + 24)) }
func (c Code) setNumRegs(n uint32) { c.g.writeWord(c.Off+24, uint64(n)) }
func (c Code) NumData() uint32     { return uint32(c.g.readWord(c.Off + 32)) }
func (c Code) setNumData(n uint32) { c.g.writeWord(c.Off+32, uint64(n)) }
func (c Code) UpregMap() Value     { return c.g.readValue(c.Off + 40) } // Null, or Array of fixnums
func (c Code) setUpregMap(v Value) { c.g.writeValue(c.Off+40, v) }
func (c Code) Insts() Value        { return c.g.readValue(c.Off + 48) } // Array of fixnums
func (c Code) setInsts(v Value)    { c.g.writeValue(c.Off+48, v) }
func (c Code) Args() Value         { return c.g.readValue(c.Off + 56) } // Array
func (c Code) setArgs(v Value)     { c.g.writeValue(c.Off+56, v) }
func (c Code) Span() Value         { return c.g.readValue(c.Off + 64) }
func (c Code) setSpan(v Value)     { c.g.writeValue(c.Off+64, v) }
func (c Code) InstSpans() Value    { return c.g.readValue(c.Off + 72) } // Array, parallel to Insts
func (c Code) setInstSpans(v Value) { c.g.writeValue(c.Off+72, v) }
func codeSize() uint64 { return 80 }

// --- Closure: Code plus captured upregs ---

type Closure struct{ Obj }

func (g *GC) AsClosure(v Value) Closure {
	o := g.objAt(v)
	o.requireTag(ObjClosure)
	return Closure{o}
}

func (c Closure) Code() Value      { return c.g.readValue(c.Off + 8) }
func (c Closure) setCode(v Value)  { c.g.writeValue(c.Off+8, v) }
func (c Closure) Upregs() Value    { return c.g.readValue(c.Off + 16) }
func (c Closure) setUpregs(v Value) { c.g.writeValue(c.Off+16, v) }
func closureSize() uint64 { return 24 }

// --- Method ---
//
// Exactly one of {Code, NativeHandlerID, IntrinsicHandlerID} is set
// (spec §3). Native/intrinsic handlers are Go functions, which cannot be
// stored as raw bytes inside the semispace (Go's own GC does not scan a
// []byte arena for pointers it might contain). Instead a Method stores a
// small integer handle into a side table of registered handler functions
// that internal/vm owns (see internal/vm's handler registry) — ordinary
// Go-GC-managed memory sitting alongside, not inside, the semispace.

type Method struct{ Obj }

const noHandler = ^uint64(0)

func (g *GC) AsMethod(v Value) Method {
	o := g.objAt(v)
	o.requireTag(ObjMethod)
	return Method{o}
}

func (m Method) ParamMatchers() Value     { return m.g.readValue(m.Off + 8) }
func (m Method) setParamMatchers(v Value) { m.g.writeValue(m.Off+8, v) }
func (m Method) ReturnType() Value        { return m.g.readValue(m.Off + 16) } // Type or Null
func (m Method) setReturnType(v Value)    { m.g.writeValue(m.Off+16, v) }
func (m Method) CodeValue() Value         { return m.g.readValue(m.Off + 24) } // Code or Null
func (m Method) setCodeValue(v Value)     { m.g.writeValue(m.Off+24, v) }
func (m Method) Attributes() Value        { return m.g.readValue(m.Off + 32) } // Vector
func (m Method) setAttributes(v Value)    { m.g.writeValue(m.Off+32, v) }

func (m Method) NativeHandlerID() (uint64, bool) {
	id := m.g.readWord(m.Off + 40)
	return id, id != noHandler
}
func (m Method) setNativeHandlerID(id uint64) { m.g.writeWord(m.Off+40, id) }

func (m Method) IntrinsicHandlerID() (uint64, bool) {
	id := m.g.readWord(m.Off + 48)
	return id, id != noHandler
}
func (m Method) setIntrinsicHandlerID(id uint64) { m.g.writeWord(m.Off+48, id) }

func methodSize() uint64 { return 56 }

// --- MultiMethod ---

type MultiMethod struct{ Obj }

func (g *GC) AsMultiMethod(v Value) MultiMethod {
	o := g.objAt(v)
	o.requireTag(ObjMultiMethod)
	return MultiMethod{o}
}

func (m MultiMethod) Name() Value        { return m.g.readValue(m.Off + 8) }
func (m MultiMethod) setName(v Value)    { m.g.writeValue(m.Off+8, v) }
func (m MultiMethod) NumParams() uint32  { return uint32(m.g.readWord(m.Off + 16)) }
func (m MultiMethod) setNumParams(n uint32) { m.g.writeWord(m.Off+16, uint64(n)) }
func (m MultiMethod) Methods() Value     { return m.g.readValue(m.Off + 24) } // Vector of Method
func (m MultiMethod) setMethods(v Value) { m.g.writeValue(m.Off+24, v) }
func (m MultiMethod) Attributes() Value  { return m.g.readValue(m.Off + 32) } // Vector
func (m MultiMethod) setAttributes(v Value) { m.g.writeValue(m.Off+32, v) }
func multiMethodSize() uint64 { return 40 }

// --- Type ---

type TypeKind uint8

const (
	KindPrimitive TypeKind = iota
	KindDataclass
	KindMixin
)

type Type struct{ Obj }

func (g *GC) AsType(v Value) Type {
	o := g.objAt(v)
	o.requireTag(ObjType)
	return Type{o}
}

func (t Type) Name() Value             { return t.g.readValue(t.Off + 8) }
func (t Type) setName(v Value)         { t.g.writeValue(t.Off+8, v) }
func (t Type) Bases() Value            { return t.g.readValue(t.Off + 16) } // Array of Type
func (t Type) setBases(v Value)        { t.g.writeValue(t.Off+16, v) }
func (t Type) Sealed() bool            { return t.g.readWord(t.Off+24) != 0 }
func (t Type) setSealed(b bool)        { t.g.writeWord(t.Off+24, boolWord(b)) }
func (t Type) Linearization() Value    { return t.g.readValue(t.Off + 32) } // Array of Type
func (t Type) setLinearization(v Value) { t.g.writeValue(t.Off+32, v) }
func (t Type) Subtypes() Value         { return t.g.readValue(t.Off + 40) } // Vector of Type
func (t Type) setSubtypes(v Value)     { t.g.writeValue(t.Off+40, v) }
func (t Type) Kind() TypeKind          { return TypeKind(t.g.readWord(t.Off + 48)) }
func (t Type) setKind(k TypeKind)      { t.g.writeWord(t.Off+48, uint64(k)) }
func (t Type) Slots() Value            { return t.g.readValue(t.Off + 56) } // Array of String, or Null
func (t Type) setSlots(v Value)        { t.g.writeValue(t.Off+56, v) }
func (t Type) HasSlots() bool          { return !t.Slots().IsNull() }
func (t Type) NumTotalSlots() uint32   { return uint32(t.g.readWord(t.Off + 64)) }
func (t Type) setNumTotalSlots(n uint32) { t.g.writeWord(t.Off+64, uint64(n)) }
func typeSize() uint64 { return 72 }

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// --- DataclassInstance ---

type Instance struct{ Obj }

func (g *GC) AsInstance(v Value) Instance {
	o := g.objAt(v)
	o.requireTag(ObjInstance)
	return Instance{o}
}

func (i Instance) TypeValue() Value   { return i.g.readValue(i.Off + 8) }
func (i Instance) setTypeValue(v Value) { i.g.writeValue(i.Off+8, v) }
func (i Instance) NumSlots() uint64 {
	return uint64(i.g.AsType(i.TypeValue()).NumTotalSlots())
}
func (i Instance) Slot(idx uint64) Value {
	if idx >= i.NumSlots() {
		panic(errors.Errorf("heap: slot index %d out of range (have %d)", idx, i.NumSlots()))
	}
	return i.g.readValue(i.Off + 16 + offset(idx)*8)
}
func (i Instance) SetSlot(idx uint64, v Value) {
	if idx >= i.NumSlots() {
		panic(errors.Errorf("heap: slot index %d out of range (have %d)", idx, i.NumSlots()))
	}
	i.g.writeValue(i.Off+16+offset(idx)*8, v)
}
func instanceSize(numSlots uint64) uint64 { return 16 + numSlots*8 }

// instanceSizeDuringScan mirrors the original GC's get_num_slots: the
// instance's type field may itself already be a forwarding pointer while
// the instance is being copied, so the number of slots must be read by
// following the forwarding chain rather than via the (possibly stale)
// Type accessor. A forwarding offset points into the to-space, which
// during Collect is g.inactive.
func (g *GC) instanceSizeDuringScan(typeValue Value) uint64 {
	o := g.objAt(typeValue)
	h := g.readWord(o.Off)
	var numSlots uint64
	if to, fwd := headerForwarding(h); fwd {
		numSlots = *(*uint64)(wordPointer(g.inactive, to+64))
	} else {
		numSlots = g.readWord(o.Off + 64)
	}
	return instanceSize(numSlots)
}

// --- CallSegment: a reified, replayable slice of call frames ---

type CallSegment struct{ Obj }

func (g *GC) AsCallSegment(v Value) CallSegment {
	o := g.objAt(v)
	o.requireTag(ObjCallSegment)
	return CallSegment{o}
}

func (c CallSegment) Length() uint64 { return c.g.readWord(c.Off + 8) }

// Bytes returns the raw frame bytes embedded in the segment, directly over
// the active semispace (see String.Bytes for the same caveat).
func (c CallSegment) Bytes() []byte {
	n := c.Length()
	start := uint64(c.Off) + 16
	return c.g.active[start : start+n]
}
func callSegmentSize(length uint64) uint64 { return alignUp(16+length, tagBits) }

// --- ForeignValue: an opaque handle to Go-managed state the GC never
// inspects or frees (spec §5). As with Method's handlers, the actual
// payload lives in a side table outside the semispace, not inline.

type ForeignValue struct{ Obj }

func (g *GC) AsForeignValue(v Value) ForeignValue {
	o := g.objAt(v)
	o.requireTag(ObjForeign)
	return ForeignValue{o}
}

func (f ForeignValue) HandleID() uint64     { return f.g.readWord(f.Off + 8) }
func (f ForeignValue) setHandleID(id uint64) { f.g.writeWord(f.Off+8, id) }
func (f ForeignValue) Payload() any         { return f.g.foreignTable[f.HandleID()] }
func foreignValueSize() uint64 { return 16 }
