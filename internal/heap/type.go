package heap

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// InheritanceCycleError and LinearizationFailureError are raised by
// NewType; the VM boundary translates these into the "inheritance-cycle"
// and "type-linearization-failure" conditions (spec §7, §4.6).
type InheritanceCycleError struct{ TypeName string }

func (e *InheritanceCycleError) Error() string {
	return "inheritance cycle starting from " + e.TypeName
}

type LinearizationFailureError struct{ TypeName string }

func (e *LinearizationFailureError) Error() string {
	return "could not determine linearization of " + e.TypeName
}

func containsValue(vs []Value, v Value) bool {
	return slices.ContainsFunc(vs, func(x Value) bool { return x.Equal(v) })
}

// arrayToSlice copies an Array's contents out as a plain []Value. The
// returned slice must be consumed before the next allocation: the
// Values it holds are snapshots of heap offsets that a collection would
// relocate without updating this copy (it is not GC-rooted).
func (g *GC) arrayToSlice(v Value) []Value {
	arr := g.AsArray(v)
	out := make([]Value, arr.Length())
	for i := range out {
		out[i] = arr.Get(uint64(i))
	}
	return out
}

// vectorToArray copies a Vector's logical contents into a freshly
// allocated, exactly-sized Array (grounded on the original's
// vector_to_array, used to finalize a Vector-built linearization into
// the Array the Type.linearization field requires per spec §3).
func (g *GC) vectorToArray(vecVal Value) Value {
	vecRoot := NewValueRoot(g, vecVal)
	defer vecRoot.Close()
	n := g.AsVector(vecRoot.Get()).Length()
	arrVal := g.NewArrayOfLength(n)
	arrRoot := NewValueRoot(g, arrVal)
	defer arrRoot.Close()
	for i := uint64(0); i < n; i++ {
		g.AsArray(arrRoot.Get()).Set(i, g.AsVector(vecRoot.Get()).Get(i))
	}
	return arrRoot.Get()
}

// c3Merge implements the C3 merge step of spec §4.6 over listsVal, an
// Array of Arrays (the bases' own linearizations plus the bases list
// itself). Grounded on the original's c3_merge, which for the same
// reason keeps its working lists and merge output as rooted heap
// values rather than plain vectors: every list lookup re-derives
// through listsRoot so an allocation from AppendVector mid-merge can
// never strand a stale offset. Returns the merged order as a Vector
// Value, or ok=false if no valid order exists.
func (g *GC) c3Merge(listsRoot *Root[Array]) (merged Value, ok bool) {
	n := listsRoot.Get().Length()
	spots := make([]int, n)

	mergedVal := g.NewVector(n + 1)
	mergedRoot := NewValueRoot(g, mergedVal)
	defer mergedRoot.Close()

	for {
		var head Value
		found := false
		any := false

		lists := listsRoot.Get()
		for i := uint64(0); i < n && !found; i++ {
			lin := g.AsArray(lists.Get(i))
			if uint64(spots[i]) == lin.Length() {
				continue
			}
			any = true
			candidate := lin.Get(uint64(spots[i]))

			isHead := true
			for j := uint64(0); j < n; j++ {
				other := g.AsArray(lists.Get(j))
				for k := spots[j] + 1; uint64(k) < other.Length(); k++ {
					if other.Get(uint64(k)).Equal(candidate) {
						isHead = false
						break
					}
				}
				if !isHead {
					break
				}
			}
			if isHead {
				head = candidate
				found = true
			}
		}

		if !any {
			return mergedRoot.Get(), true
		}
		if !found {
			return Null(), false
		}

		mergedRoot.Set(g.AppendVector(mergedRoot.Get(), head))

		lists = listsRoot.Get()
		for i := uint64(0); i < n; i++ {
			lin := g.AsArray(lists.Get(i))
			if uint64(spots[i]) >= lin.Length() {
				continue
			}
			if lin.Get(uint64(spots[i])).Equal(head) {
				spots[i]++
			}
		}
	}
}

// NewType constructs a fresh Type, computing its C3 linearization from
// basesVal (an Array of Type) and registering it into each proper
// ancestor's subtypes vector (spec §4.6).
//
// kind/slots/numTotalSlots follow spec §3's Type invariant: DATACLASS
// iff slots is set (non-null) and numTotalSlots is given.
func (g *GC) NewType(name string, basesVal Value, sealed bool, kind TypeKind, slotsVal Value, numTotalSlots uint32) Value {
	basesRoot := NewValueRoot(g, basesVal)
	defer basesRoot.Close()
	slotsRoot := NewValueRoot(g, slotsVal)
	defer slotsRoot.Close()

	nameVal := g.NewString(name)
	nameRoot := NewValueRoot(g, nameVal)
	defer nameRoot.Close()

	numBases := g.AsArray(basesRoot.Get()).Length()

	emptyLin := g.NewArray(nil)
	emptySubtypes := g.NewVector(0)
	typeOff := g.alloc(typeSize())
	g.writeWord(typeOff, makeHeader(ObjType))
	typeVal := objectValue(typeOff)
	typeRoot := NewValueRoot(g, typeVal)
	defer typeRoot.Close()

	t := g.AsType(typeRoot.Get())
	t.setName(nameRoot.Get())
	t.setBases(basesRoot.Get())
	t.setSealed(sealed)
	t.setLinearization(emptyLin)
	t.setSubtypes(emptySubtypes)
	t.setKind(kind)
	t.setSlots(slotsRoot.Get())
	t.setNumTotalSlots(numTotalSlots)

	for i := uint64(0); i < numBases; i++ {
		baseType := g.AsType(g.AsArray(basesRoot.Get()).Get(i))
		if containsValue(g.arrayToSlice(baseType.Linearization()), typeRoot.Get()) {
			panic(&InheritanceCycleError{TypeName: name})
		}
	}

	// listsVal[0..numBases) = each base's own linearization;
	// listsVal[numBases] = the bases list itself — mirrors the original's
	// c3_linearization building of `linearizations`.
	listsVal := g.NewArrayOfLength(numBases + 1)
	listsRoot := NewRoot(g, listsVal, (*GC).AsArray)
	defer listsRoot.Close()
	for i := uint64(0); i < numBases; i++ {
		baseType := g.AsType(g.AsArray(basesRoot.Get()).Get(i))
		listsRoot.Get().Set(i, baseType.Linearization())
	}
	listsRoot.Get().Set(numBases, basesRoot.Get())

	mergedVal, ok := g.c3Merge(listsRoot)
	if !ok {
		panic(&LinearizationFailureError{TypeName: name})
	}
	mergedRoot := NewValueRoot(g, mergedVal)
	defer mergedRoot.Close()

	linVal := g.AppendVector(g.NewVector(g.AsVector(mergedRoot.Get()).Length()+1), typeRoot.Get())
	linRoot := NewValueRoot(g, linVal)
	defer linRoot.Close()
	merged := g.AsVector(mergedRoot.Get())
	for i := uint64(0); i < merged.Length(); i++ {
		linRoot.Set(g.AppendVector(linRoot.Get(), merged.Get(i)))
	}
	linArrayVal := g.vectorToArray(linRoot.Get())
	g.AsType(typeRoot.Get()).setLinearization(linArrayVal)
	linArrayRoot := NewValueRoot(g, linArrayVal)
	defer linArrayRoot.Close()

	// Register typeRoot into every proper ancestor's subtypes vector.
	linLen := g.AsArray(linArrayRoot.Get()).Length()
	for i := uint64(1); i < linLen; i++ {
		ancestor := g.AsArray(linArrayRoot.Get()).Get(i)
		at := g.AsType(ancestor)
		newSubtypes := g.AppendVector(at.Subtypes(), typeRoot.Get())
		g.AsType(ancestor).setSubtypes(newSubtypes)
	}

	return typeRoot.Get()
}

// IsSubtype reports whether a <: b: b's linearization is a suffix of
// a's (spec §4.6).
func (g *GC) IsSubtype(a, b Value) bool {
	linA := g.arrayToSlice(g.AsType(a).Linearization())
	linB := g.arrayToSlice(g.AsType(b).Linearization())
	if len(linA) < len(linB) {
		return false
	}
	return linA[len(linA)-len(linB)].Equal(linB[0])
}

// NewClosure wraps code with the given upregs (already ordered per
// code.upreg_map).
func (g *GC) NewClosure(code Value, upregs Value) Value {
	codeRoot := NewValueRoot(g, code)
	defer codeRoot.Close()
	upregsRoot := NewValueRoot(g, upregs)
	defer upregsRoot.Close()

	off := g.alloc(closureSize())
	g.writeWord(off, makeHeader(ObjClosure))
	v := objectValue(off)
	cl := g.AsClosure(v)
	cl.setCode(codeRoot.Get())
	cl.setUpregs(upregsRoot.Get())
	return v
}

// NewMethod constructs a Method whose body is Code (codeVal may be null
// if a handler ID is supplied instead, per spec §3's "exactly one of").
func (g *GC) NewMethod(paramMatchers, returnType, codeVal, attributes Value, nativeID, intrinsicID int64) Value {
	roots := []*ValueRoot{
		NewValueRoot(g, paramMatchers),
		NewValueRoot(g, returnType),
		NewValueRoot(g, codeVal),
		NewValueRoot(g, attributes),
	}
	defer func() {
		for i := len(roots) - 1; i >= 0; i-- {
			roots[i].Close()
		}
	}()

	off := g.alloc(methodSize())
	g.writeWord(off, makeHeader(ObjMethod))
	v := objectValue(off)
	m := g.AsMethod(v)
	m.setParamMatchers(roots[0].Get())
	m.setReturnType(roots[1].Get())
	m.setCodeValue(roots[2].Get())
	m.setAttributes(roots[3].Get())
	if nativeID < 0 {
		m.setNativeHandlerID(noHandler)
	} else {
		m.setNativeHandlerID(uint64(nativeID))
	}
	if intrinsicID < 0 {
		m.setIntrinsicHandlerID(noHandler)
	} else {
		m.setIntrinsicHandlerID(uint64(intrinsicID))
	}
	return v
}

// NewMultiMethod constructs an empty (zero-method) MultiMethod; methods
// are added with AddMethod.
func (g *GC) NewMultiMethod(name string, numParams uint32, attributes Value) Value {
	attrRoot := NewValueRoot(g, attributes)
	defer attrRoot.Close()

	nameVal := g.NewString(name)
	nameRoot := NewValueRoot(g, nameVal)
	defer nameRoot.Close()

	methodsVal := g.NewVector(0)
	methodsRoot := NewValueRoot(g, methodsVal)
	defer methodsRoot.Close()

	off := g.alloc(multiMethodSize())
	g.writeWord(off, makeHeader(ObjMultiMethod))
	v := objectValue(off)
	mm := g.AsMultiMethod(v)
	mm.setName(nameRoot.Get())
	mm.setNumParams(numParams)
	mm.setMethods(methodsRoot.Get())
	mm.setAttributes(attrRoot.Get())
	return v
}

// AddMethod appends method to multimethod's methods vector (spec §4.5
// "evaluate callable.methods"), validating arity agreement (spec §3
// MultiMethod invariant: "Every method has matching arity").
func (g *GC) AddMethod(multimethod, method Value) Value {
	mmRoot := NewValueRoot(g, multimethod)
	defer mmRoot.Close()
	methodRoot := NewValueRoot(g, method)
	defer methodRoot.Close()

	mm := g.AsMultiMethod(mmRoot.Get())
	m := g.AsMethod(methodRoot.Get())
	if g.AsArray(m.ParamMatchers()).Length() != uint64(mm.NumParams()) {
		panic(errors.Errorf("heap: method arity %d does not match multimethod %s arity %d",
			g.AsArray(m.ParamMatchers()).Length(), g.AsString(mm.Name()).String(), mm.NumParams()))
	}
	newMethods := g.AppendVector(mm.Methods(), methodRoot.Get())
	g.AsMultiMethod(mmRoot.Get()).setMethods(newMethods)
	return mmRoot.Get()
}

// NewInstance constructs a DataclassInstance of typeVal (which must have
// Kind() == KindDataclass) with the given slot values, in declaration
// order (spec §3 DataclassInstance invariant).
func (g *GC) NewInstance(typeVal Value, slotVals []Value) Value {
	typeRoot := NewValueRoot(g, typeVal)
	defer typeRoot.Close()

	numSlots := uint64(g.AsType(typeRoot.Get()).NumTotalSlots())
	if uint64(len(slotVals)) != numSlots {
		panic(errors.Errorf("heap: instance of %d slots constructed with %d values", numSlots, len(slotVals)))
	}

	slotRoots := make([]*ValueRoot, len(slotVals))
	for i, sv := range slotVals {
		slotRoots[i] = NewValueRoot(g, sv)
	}
	defer func() {
		for i := len(slotRoots) - 1; i >= 0; i-- {
			slotRoots[i].Close()
		}
	}()

	off := g.alloc(instanceSize(numSlots))
	g.writeWord(off, makeHeader(ObjInstance))
	v := objectValue(off)
	inst := g.AsInstance(v)
	inst.setTypeValue(typeRoot.Get())
	for i, r := range slotRoots {
		inst.SetSlot(uint64(i), r.Get())
	}
	return v
}
