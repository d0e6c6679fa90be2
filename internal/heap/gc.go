package heap

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// poisonByte fills freshly allocated regions with a recognizable pattern
// so that code reading before writing shows up as garbage rather than
// plausible-looking zeroes (spec SUPPLEMENTED FEATURES "Debug memory
// fill", grounded on the original's DEBUG_GC_FILL default).
const poisonByte = 0x42

func fillPoison(b []byte) {
	for i := range b {
		b[i] = poisonByte
	}
}

// RootProvider is implemented by anything that owns live Values the
// collector must not discard — principally the VM, whose frames are
// walked the same way a CallSegment's embedded frames are (spec §4.4).
type RootProvider interface {
	VisitRoots(visit func(*Value))
}

// Config controls the size of a GC's two semispaces.
type Config struct {
	// SemispaceSize is the byte size of each of the two semispaces. It is
	// rounded up to an 8-byte boundary.
	SemispaceSize uint64
}

// GC is a stop-the-world, two-semispace copying collector (spec §4.2).
type GC struct {
	active   []byte
	inactive []byte
	spot     offset
	size     uint64

	providers []RootProvider
	roots     []*Value

	foreignTable []any

	// DebugTag distinguishes GC instances in debug pretty-printing; see
	// DOMAIN STACK in SPEC_FULL.md.
	DebugTag string
}

// New creates a GC managing two semispaces of cfg.SemispaceSize bytes.
func New(cfg Config) *GC {
	size := alignUp(cfg.SemispaceSize, tagBits)
	g := &GC{
		active:   make([]byte, size),
		inactive: make([]byte, size),
		size:     size,
		DebugTag: uuid.NewString(),
	}
	fillPoison(g.active)
	fillPoison(g.inactive)
	return g
}

// AddRootProvider registers a RootProvider the collector consults on
// every collection. The VM registers itself exactly once.
func (g *GC) AddRootProvider(p RootProvider) {
	g.providers = append(g.providers, p)
}

// OutOfMemoryError is raised when an allocation cannot be satisfied even
// after a collection (spec §7 "out-of-memory").
type OutOfMemoryError struct {
	Requested uint64
}

func (e *OutOfMemoryError) Error() string {
	return "GC failed to make room for the requested allocation"
}

// alloc reserves size bytes (rounded up to 8-byte alignment) in the
// active semispace, triggering a collection if necessary, and returns
// the offset of the reserved, poison-filled region (spec §4.2).
func (g *GC) alloc(size uint64) offset {
	size = alignUp(size, tagBits)
	if size > g.size {
		panic(&OutOfMemoryError{Requested: size})
	}

	remaining := g.size - uint64(g.spot)
	if size > remaining {
		g.Collect()
		remaining = g.size - uint64(g.spot)
		if size > remaining {
			panic(&OutOfMemoryError{Requested: size})
		}
	}

	spot := g.spot
	g.spot += offset(size)
	region := g.active[spot : uint64(spot)+size]
	fillPoison(region)
	return spot
}

// NewRef allocates a fresh Ref cell holding v.
func (g *GC) NewRef(v Value) Value {
	off := g.alloc(refSize())
	g.writeWord(off, makeHeader(ObjRef))
	g.writeValue(off+8, v)
	return objectValue(off)
}

// rootSlice roots every value in vs (in order) against GC motion, the
// same fan-out NewMethod/NewInstance use for a variable-length argument
// list; the returned roots must be closed in reverse order.
func rootSlice(g *GC, vs []Value) []*ValueRoot {
	roots := make([]*ValueRoot, len(vs))
	for i, v := range vs {
		roots[i] = NewValueRoot(g, v)
	}
	return roots
}

func closeRoots(roots []*ValueRoot) {
	for i := len(roots) - 1; i >= 0; i-- {
		roots[i].Close()
	}
}

// NewTuple allocates a Tuple populated with vs, in order. vs is rooted
// before allocating so a collection triggered by g.alloc cannot leave the
// Tuple populated with stale offsets (spec §4.3).
func (g *GC) NewTuple(vs []Value) Value {
	roots := rootSlice(g, vs)
	defer closeRoots(roots)

	off := g.alloc(tupleSize(uint64(len(vs))))
	g.writeWord(off, makeHeader(ObjTuple))
	g.writeWord(off+8, uint64(len(vs)))
	for i, r := range roots {
		g.writeValue(off+16+offset(i)*8, r.Get())
	}
	return objectValue(off)
}

// NewArray allocates an Array populated with vs, in order. vs is rooted
// before allocating, for the same reason as NewTuple above.
func (g *GC) NewArray(vs []Value) Value {
	roots := rootSlice(g, vs)
	defer closeRoots(roots)

	off := g.alloc(arraySize(uint64(len(vs))))
	g.writeWord(off, makeHeader(ObjArray))
	g.writeWord(off+8, uint64(len(vs)))
	for i, r := range roots {
		g.writeValue(off+16+offset(i)*8, r.Get())
	}
	return objectValue(off)
}

// NewArrayOfLength allocates a length-n Array with every slot null.
func (g *GC) NewArrayOfLength(n uint64) Value {
	off := g.alloc(arraySize(n))
	g.writeWord(off, makeHeader(ObjArray))
	g.writeWord(off+8, n)
	for i := uint64(0); i < n; i++ {
		g.writeValue(off+16+offset(i)*8, Null())
	}
	return objectValue(off)
}

// NewVector allocates an empty Vector with the given backing capacity.
// backing is rooted across the Vector's own alloc, since it was produced
// by a prior allocation (NewArrayOfLength) and is otherwise held only in
// an unrooted local.
func (g *GC) NewVector(capacity uint64) Value {
	backingRoot := NewValueRoot(g, g.NewArrayOfLength(capacity))
	defer backingRoot.Close()

	off := g.alloc(vectorSize())
	g.writeWord(off, makeHeader(ObjVector))
	g.writeWord(off+8, 0)
	g.writeValue(off+16, backingRoot.Get())
	return objectValue(off)
}

// AppendVector appends v to the Vector value vecVal, growing the backing
// array (by doubling) if needed. Returns the (possibly reallocated)
// Vector value; callers must use the return value, as the original
// vecVal's backing array offset may no longer be current after a
// collection triggered by the growth allocation.
func (g *GC) AppendVector(vecVal Value, v Value) Value {
	root := NewValueRoot(g, vecVal)
	defer root.Close()
	elemRoot := NewValueRoot(g, v)
	defer elemRoot.Close()

	vec := g.AsVector(root.Get())
	if vec.Length() == vec.Capacity() {
		newCap := vec.Capacity()*2 + 1
		newBacking := g.NewArrayOfLength(newCap)
		vec = g.AsVector(root.Get())
		oldBacking := g.AsArray(vec.BackingArray())
		newArr := g.AsArray(newBacking)
		for i := uint64(0); i < vec.Length(); i++ {
			newArr.Set(i, oldBacking.Get(i))
		}
		vec.setBackingArray(newBacking)
	}
	arr := g.AsArray(vec.BackingArray())
	arr.Set(vec.Length(), elemRoot.Get())
	vec.setLength(vec.Length() + 1)
	return root.Get()
}

// NewVectorFromSlice builds a Vector containing vs, in order. vs is
// rooted in its entirety up front (not just the element AppendVector is
// handed on a given iteration), so a collection triggered by growth
// partway through cannot corrupt the elements still waiting to be
// appended.
func (g *GC) NewVectorFromSlice(vs []Value) Value {
	roots := rootSlice(g, vs)
	defer closeRoots(roots)

	vecRoot := NewValueRoot(g, g.NewVector(uint64(len(vs))))
	defer vecRoot.Close()
	for _, r := range roots {
		vecRoot.Set(g.AppendVector(vecRoot.Get(), r.Get()))
	}
	return vecRoot.Get()
}

// NewString allocates a String copying the given bytes.
func (g *GC) NewString(s string) Value {
	off := g.alloc(stringSize(uint64(len(s))))
	g.writeWord(off, makeHeader(ObjString))
	g.writeWord(off+8, uint64(len(s)))
	copy(g.active[uint64(off)+16:uint64(off)+16+uint64(len(s))], s)
	return objectValue(off)
}

// NewForeignValue wraps payload as an opaque heap object (spec §5,
// SUPPLEMENTED FEATURES "ForeignValue"). The GC never inspects payload.
func (g *GC) NewForeignValue(payload any) Value {
	id := uint64(len(g.foreignTable))
	g.foreignTable = append(g.foreignTable, payload)
	off := g.alloc(foreignValueSize())
	g.writeWord(off, makeHeader(ObjForeign))
	g.writeWord(off+8, id)
	return objectValue(off)
}

// NewCallSegment copies frameBytes (already caller-nulled by the VM, per
// spec §4.7) into a fresh heap-resident CallSegment.
//
// frameBytes must not be a detached snapshot of Values still live
// elsewhere (e.g. frames still on the VM's stack): the alloc below can
// trigger a collection, which rewrites every rooted reference but has no
// way to find or fix up an ordinary Go byte slice. A caller reifying
// still-live frames should use NewCallSegmentOfLength instead, and copy
// the frame bytes in only after the segment itself is allocated.
func (g *GC) NewCallSegment(frameBytes []byte) Value {
	off := g.alloc(callSegmentSize(uint64(len(frameBytes))))
	g.writeWord(off, makeHeader(ObjCallSegment))
	g.writeWord(off+8, uint64(len(frameBytes)))
	copy(g.active[uint64(off)+16:uint64(off)+16+uint64(len(frameBytes))], frameBytes)
	return objectValue(off)
}

// NewCallSegmentOfLength allocates a CallSegment with length bytes of
// (poisoned, uninitialized) frame storage and no other writes. Callers
// reifying frames that are still live on the VM's stack must copy the
// frame bytes in via the returned segment's CallSegment.Bytes() only
// after this call returns, so the copy source is read post-collection
// (spec §4.7; see NewCallSegment's doc comment for why a pre-alloc
// detached copy is unsafe).
func (g *GC) NewCallSegmentOfLength(length uint64) Value {
	off := g.alloc(callSegmentSize(length))
	g.writeWord(off, makeHeader(ObjCallSegment))
	g.writeWord(off+8, length)
	return objectValue(off)
}

// --- collection ---

// objectSize returns the byte size (unaligned) of the live object with
// the given header at off, dispatching by kind exactly as the original
// gc.cc's move_obj switch does.
func (g *GC) objectSize(off offset, header uint64) uint64 {
	switch headerTag(header) {
	case ObjRef:
		return refSize()
	case ObjTuple:
		return tupleSize(g.readWord(off + 8))
	case ObjArray:
		return arraySize(g.readWord(off + 8))
	case ObjVector:
		return vectorSize()
	case ObjAssoc:
		return assocSize()
	case ObjString:
		return stringSize(g.readWord(off + 8))
	case ObjCode:
		return codeSize()
	case ObjClosure:
		return closureSize()
	case ObjMethod:
		return methodSize()
	case ObjMultiMethod:
		return multiMethodSize()
	case ObjType:
		return typeSize()
	case ObjInstance:
		return g.instanceSizeDuringScan(g.readValue(off + 8))
	case ObjCallSegment:
		return callSegmentSize(g.readWord(off + 8))
	case ObjForeign:
		return foreignValueSize()
	default:
		panic(errors.Errorf("heap: missed an object tag in collector (%d)", headerTag(header)))
	}
}

// numSlotsDuringScan mirrors get_num_slots from the original collector:
// the instance's type field may itself be mid-forward, so the slot count
// is read by following the forwarding chain rather than trusting a
// (possibly stale) Type accessor. A forwarding offset points into the
// to-space, which during Collect is g.inactive.
func (g *GC) numSlotsDuringScan(typeValue Value) uint64 {
	o := g.objAt(typeValue)
	h := g.readWord(o.Off)
	if to, fwd := headerForwarding(h); fwd {
		return *(*uint64)(wordPointer(g.inactive, to+64))
	}
	return g.readWord(o.Off + 64)
}

// Collect runs one full stop-the-world copying collection (spec §4.2).
func (g *GC) Collect() {
	to := g.inactive
	toSpot := offset(0)

	moveObj := func(node *Value) {
		off := node.objectOffset()
		h := g.readWord(off)
		if fwdTo, fwd := headerForwarding(h); fwd {
			*node = objectValue(fwdTo)
			return
		}
		size := g.objectSize(off, h)
		copy(to[toSpot:uint64(toSpot)+size], g.active[off:uint64(off)+size])
		g.writeWord(off, makeForwardingHeader(toSpot))
		*node = objectValue(toSpot)
		toSpot += offset(alignUp(size, tagBits))
	}

	moveValue := func(node *Value) {
		if node.Tag() == TagObject {
			moveObj(node)
		} else if !node.IsInline() {
			panic(errors.New("heap: can only move an object reference or an inline value"))
		}
	}

	addRoot := func(root *Value) {
		if !root.IsInline() {
			moveObj(root)
		}
	}

	for _, p := range g.providers {
		p.VisitRoots(addRoot)
	}
	for _, r := range g.roots {
		addRoot(r)
	}

	toWordAt := func(off offset) *uint64 {
		return (*uint64)(wordPointer(to, off))
	}
	toValuePtr := func(off offset) *Value {
		return (*Value)(wordPointer(to, off))
	}

	queue := offset(0)
	for queue < toSpot {
		header := *toWordAt(queue)
		tag := headerTag(header)

		var size uint64
		switch tag {
		case ObjRef:
			moveValue(toValuePtr(queue + 8))
			size = refSize()
		case ObjTuple:
			length := *toWordAt(queue + 8)
			for i := uint64(0); i < length; i++ {
				moveValue(toValuePtr(queue + 16 + offset(i)*8))
			}
			size = tupleSize(length)
		case ObjArray:
			length := *toWordAt(queue + 8)
			for i := uint64(0); i < length; i++ {
				moveValue(toValuePtr(queue + 16 + offset(i)*8))
			}
			size = arraySize(length)
		case ObjVector:
			moveValue(toValuePtr(queue + 16))
			size = vectorSize()
		case ObjAssoc:
			moveValue(toValuePtr(queue + 16))
			moveValue(toValuePtr(queue + 24))
			size = assocSize()
		case ObjString:
			size = stringSize(*toWordAt(queue + 8))
		case ObjCode:
			moveValue(toValuePtr(queue + 8))  // module
			moveValue(toValuePtr(queue + 40)) // upreg_map
			moveValue(toValuePtr(queue + 48)) // insts
			moveValue(toValuePtr(queue + 56)) // args
			moveValue(toValuePtr(queue + 64)) // span
			moveValue(toValuePtr(queue + 72)) // inst_spans
			size = codeSize()
		case ObjClosure:
			moveValue(toValuePtr(queue + 8))
			moveValue(toValuePtr(queue + 16))
			size = closureSize()
		case ObjMethod:
			moveValue(toValuePtr(queue + 8))
			moveValue(toValuePtr(queue + 16))
			moveValue(toValuePtr(queue + 24))
			moveValue(toValuePtr(queue + 32))
			size = methodSize()
		case ObjMultiMethod:
			moveValue(toValuePtr(queue + 8))
			moveValue(toValuePtr(queue + 24))
			moveValue(toValuePtr(queue + 32))
			size = multiMethodSize()
		case ObjType:
			moveValue(toValuePtr(queue + 8))
			moveValue(toValuePtr(queue + 16))
			moveValue(toValuePtr(queue + 32))
			moveValue(toValuePtr(queue + 40))
			moveValue(toValuePtr(queue + 56))
			size = typeSize()
		case ObjInstance:
			typeField := toValuePtr(queue + 8)
			numSlots := g.numSlotsDuringScan(*typeField)
			moveValue(typeField)
			for i := uint64(0); i < numSlots; i++ {
				moveValue(toValuePtr(queue + 16 + offset(i)*8))
			}
			size = instanceSize(numSlots)
		case ObjCallSegment:
			length := *toWordAt(queue + 8)
			base := uint64(queue) + 16
			fr := FrameAt(to, base)
			pastEnd := base + length
			for fr.Off < pastEnd {
				code := fr.Code()
				moveValue(&code)
				fr.SetCode(code)
				mod := fr.Module()
				moveValue(&mod)
				fr.SetModule(mod)
				mk := fr.Marker()
				moveValue(&mk)
				fr.SetMarker(mk)
				for i := uint32(0); i < fr.NumRegs(); i++ {
					v := fr.Reg(i)
					moveValue(&v)
					fr.SetReg(i, v)
				}
				for i := uint32(0); i < fr.DataDepth(); i++ {
					v := fr.Data(i)
					moveValue(&v)
					fr.SetData(i, v)
				}
				fr = FrameAt(to, fr.Next())
			}
			size = callSegmentSize(length)
		case ObjForeign:
			size = foreignValueSize()
		default:
			panic(errors.Errorf("heap: missed an object tag while scanning (%d)", tag))
		}
		queue += offset(alignUp(size, tagBits))
	}

	g.active, g.inactive = g.inactive, g.active
	fillPoison(g.inactive)
	g.spot = toSpot
}
