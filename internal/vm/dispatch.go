package vm

import (
	"katsu/internal/condition"
	"katsu/internal/heap"

	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// dispatchAndCall selects the winning Method on mmVal for args (spec
// §4.5) and invokes it, fully managing inst_spot and any result push
// itself — the same contract an intrinsic handler has, since a native or
// code-backed winner is just as capable of reshaping the frame.
func (vm *VM) dispatchAndCall(mmVal heap.Value, tailCall bool, args []heap.Value) {
	method := vm.dispatchMethod(mmVal, args)
	m := vm.gc.AsMethod(method)

	if id, ok := m.NativeHandlerID(); ok {
		result := vm.natives[id](vm, args)
		f := vm.currentFrameView()
		f.Push(result)
		f.SetInstSpot(f.InstSpot() + 1)
		return
	}
	if id, ok := m.IntrinsicHandlerID(); ok {
		vm.intrinsics[id](vm, tailCall, args)
		return
	}
	vm.callClosureOrCode(m.CodeValue(), false, tailCall, args, heap.Null())
}

// dispatchMethod runs the matcher test and specificity comparison of spec
// §4.5 and returns the winning Method, or signals no-matching-method /
// ambiguous-method-resolution.
func (vm *VM) dispatchMethod(mmVal heap.Value, args []heap.Value) heap.Value {
	mm := vm.gc.AsMultiMethod(mmVal)
	methods := vm.gc.AsVector(mm.Methods())

	var matching []heap.Value
	for i := uint64(0); i < methods.Length(); i++ {
		candidate := methods.Get(i)
		matchers := vm.gc.AsArray(vm.gc.AsMethod(candidate).ParamMatchers())
		ok := true
		for j := uint64(0); j < matchers.Length(); j++ {
			if !vm.matcherMatches(matchers.Get(j), args[j]) {
				ok = false
				break
			}
		}
		if ok {
			matching = append(matching, candidate)
		}
	}

	name := vm.gc.AsString(mm.Name()).String()
	if len(matching) == 0 {
		condition.Signal(condition.NoMatchingMethod, "no method of %s matches the given arguments", name)
	}

	for i, candidate := range matching {
		dominatesAll := true
		for j, other := range matching {
			if i == j {
				continue
			}
			if vm.moreSpecific(vm.matchersOf(candidate), vm.matchersOf(other)) != cmpAGreater {
				dominatesAll = false
				break
			}
		}
		if dominatesAll {
			return candidate
		}
	}
	condition.Signal(condition.AmbiguousMethodResolution, "ambiguous dispatch for %s: no method is strictly more specific than every other match", name)
	panic("unreachable")
}

func (vm *VM) matchersOf(methodVal heap.Value) []heap.Value {
	arr := vm.gc.AsArray(vm.gc.AsMethod(methodVal).ParamMatchers())
	out := make([]heap.Value, arr.Length())
	for i := range out {
		out[i] = arr.Get(uint64(i))
	}
	return out
}

// matcherMatches tests one parameter matcher against one argument (spec
// §4.5): null matches any value, a Type matcher matches iff the arg's
// type's linearization contains it, a Ref matcher matches iff the arg is
// Value-equal to the ref's contents.
func (vm *VM) matcherMatches(matcher, arg heap.Value) bool {
	if matcher.IsNull() {
		return true
	}
	switch vm.gc.TagOf(matcher) {
	case heap.ObjType:
		argType := vm.TypeOf(arg)
		lin := vm.gc.AsArray(vm.gc.AsType(argType).Linearization())
		return slices.ContainsFunc(linearizationSlice(vm.gc, lin), func(t heap.Value) bool {
			return t.Equal(matcher)
		})
	case heap.ObjRef:
		return arg.Equal(vm.gc.AsRef(matcher).Get())
	default:
		panic(errors.Errorf("vm: invalid parameter matcher kind %s", vm.gc.TagOf(matcher)))
	}
}

func linearizationSlice(g *heap.GC, lin heap.Array) []heap.Value {
	out := make([]heap.Value, lin.Length())
	for i := range out {
		out[i] = lin.Get(uint64(i))
	}
	return out
}

// cmpResult is the outcome of comparing two methods' specificity at one
// parameter position, or overall (spec §4.5 "lexicographic product of
// per-parameter specificity").
type cmpResult int

const (
	cmpEqual cmpResult = iota
	cmpAGreater
	cmpALess
	cmpIncomparable
)

// matcherRank places a matcher's kind on the Ref ≻ Type ≻ null scale.
func matcherRank(vm *VM, m heap.Value) int {
	if m.IsNull() {
		return 0
	}
	switch vm.gc.TagOf(m) {
	case heap.ObjType:
		return 1
	case heap.ObjRef:
		return 2
	default:
		panic(errors.Errorf("vm: invalid parameter matcher kind %s", vm.gc.TagOf(m)))
	}
}

// compareMatcherSpecificity orders two matchers at the same parameter
// position. Two Type matchers are ordered by the subtype relation; two
// distinct Ref matchers (or two Types neither a subtype of the other) are
// incomparable.
func (vm *VM) compareMatcherSpecificity(a, b heap.Value) cmpResult {
	ra, rb := matcherRank(vm, a), matcherRank(vm, b)
	if ra != rb {
		if ra > rb {
			return cmpAGreater
		}
		return cmpALess
	}
	switch ra {
	case 0:
		return cmpEqual
	case 2:
		if a.Equal(b) {
			return cmpEqual
		}
		return cmpIncomparable
	default: // both Type
		if a.Equal(b) {
			return cmpEqual
		}
		if vm.gc.IsSubtype(a, b) {
			return cmpAGreater
		}
		if vm.gc.IsSubtype(b, a) {
			return cmpALess
		}
		return cmpIncomparable
	}
}

// moreSpecific folds compareMatcherSpecificity across every parameter
// position: the two methods must agree in direction at every position
// where they differ, or the overall comparison is incomparable.
func (vm *VM) moreSpecific(a, b []heap.Value) cmpResult {
	overall := cmpEqual
	for i := range a {
		switch vm.compareMatcherSpecificity(a[i], b[i]) {
		case cmpIncomparable:
			return cmpIncomparable
		case cmpEqual:
			continue
		case cmpAGreater:
			if overall == cmpALess {
				return cmpIncomparable
			}
			overall = cmpAGreater
		case cmpALess:
			if overall == cmpAGreater {
				return cmpIncomparable
			}
			overall = cmpALess
		}
	}
	return overall
}

// callCallable is the generic "apply a callable value" path (spec §4.5
// call protocol), used by the call:, call/marked: and call/dc: intrinsics
// (continuation.go) and to invoke the condition handler; dispatched
// methods with Code go to callClosureOrCode directly.
// marker is set on the callee frame when non-null (call/marked:); pass
// heap.Null() otherwise.
func (vm *VM) callCallable(callable heap.Value, tailCall bool, args []heap.Value, marker heap.Value) {
	if callable.IsObject() {
		switch vm.gc.TagOf(callable) {
		case heap.ObjClosure:
			vm.callClosureOrCode(callable, true, tailCall, args, marker)
			return
		case heap.ObjCode:
			if !vm.gc.AsCode(callable).UpregMap().IsNull() {
				condition.Signal(condition.RawClosureCall, "cannot call a raw Code object that requires upregs without wrapping it in a Closure")
			}
			vm.callClosureOrCode(callable, false, tailCall, args, marker)
			return
		case heap.ObjCallSegment:
			vm.callCallSegment(callable, tailCall, args)
			return
		}
	}

	// Self-returning: at most one method's worth of behavior for a
	// non-callable value (spec §4.5).
	f := vm.currentFrameView()
	f.Push(callable)
	if !tailCall {
		f.SetInstSpot(f.InstSpot() + 1)
	}
}

// callClosureOrCode constructs a callee frame for a Closure or raw Code
// object, checking arity (with the zero-arg-to-one-param null-default
// special case) and, for a Closure, loading upregs per code.upreg_map
// (spec §4.5).
func (vm *VM) callClosureOrCode(callable heap.Value, isClosure, tailCall bool, args []heap.Value, marker heap.Value) {
	var codeVal, upregsVal heap.Value
	if isClosure {
		cl := vm.gc.AsClosure(callable)
		codeVal = cl.Code()
		upregsVal = cl.Upregs()
	} else {
		codeVal = callable
	}
	code := vm.gc.AsCode(codeVal)
	nargs := len(args)
	numParams := int(code.NumParams())
	if nargs != numParams && !(nargs == 0 && numParams == 1) {
		condition.Signal(condition.ArgumentCountMismatch, "called with %d arguments, expected %d", nargs, numParams)
	}

	if tailCall {
		vm.UnwindFrame(false)
	}
	// After an unwind (if any), vm.currentFrame is exactly the frame the
	// new one should chain onto: the original caller for a regular call,
	// or the caller's caller for a tail call replacing it in place.
	parentOff := vm.currentFrame
	hadCaller := parentOff != noFrame

	off := vm.AllocFrame(code.NumRegs(), code.NumData(), codeVal, code.Module(), marker)
	next := heap.FrameAt(vm.stackMem, off)
	next.SetCaller(parentOff)
	if nargs == 0 && numParams == 1 {
		next.SetReg(0, heap.Null())
	} else {
		for i, a := range args {
			next.SetReg(uint32(i), a)
		}
	}
	if isClosure && !code.UpregMap().IsNull() {
		upregMap := vm.gc.AsArray(code.UpregMap())
		upregs := vm.gc.AsArray(upregsVal)
		for i := uint64(0); i < upregMap.Length(); i++ {
			dst := uint32(upregMap.Get(i).Fixnum())
			next.SetReg(dst, upregs.Get(i))
		}
	}

	if !tailCall && hadCaller {
		caller := heap.FrameAt(vm.stackMem, parentOff)
		caller.SetInstSpot(caller.InstSpot() + 1)
	}
	vm.currentFrame = off
}
