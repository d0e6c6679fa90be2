package main

import (
	"katsu/internal/condition"
	"katsu/internal/heap"
	"katsu/internal/vm"
)

// runtime bundles a GC/VM pair plus the handful of builtin types and
// multimethods a demo program needs, built the same way
// internal/vm's own test environment is (env_test.go's newTestEnv):
// there is no compiler or builtin-library collaborator in this repo
// (spec §1), so the driver wires up just enough of both by hand to
// drive the fixed demo programs in demos.go to completion.
type runtime struct {
	g  *heap.GC
	vm *vm.VM

	objectType heap.Value
	fixnumType heap.Value
	stringType heap.Value

	addMM      heap.Value
	subMM      heap.Value
	mulMM      heap.Value
	divMM      heap.Value
	eqMM       heap.Value
	callMM     heap.Value
	printMM    heap.Value
	callMarked heap.Value
	callDC     heap.Value
}

func newRuntime() *runtime {
	g := heap.New(heap.Config{SemispaceSize: 1 << 20})
	v := vm.New(g, 1<<20)
	rt := &runtime{g: g, vm: v}

	rt.objectType = g.NewType("Object", g.NewArray(nil), false, heap.KindPrimitive, heap.Null(), 0)
	rt.fixnumType = g.NewType("Fixnum", g.NewArray([]heap.Value{rt.objectType}), true, heap.KindPrimitive, heap.Null(), 0)
	rt.stringType = g.NewType("String", g.NewArray([]heap.Value{rt.objectType}), true, heap.KindPrimitive, heap.Null(), 0)
	boolType := g.NewType("Bool", g.NewArray([]heap.Value{rt.objectType}), true, heap.KindPrimitive, heap.Null(), 0)
	nullType := g.NewType("Null", g.NewArray([]heap.Value{rt.objectType}), true, heap.KindPrimitive, heap.Null(), 0)
	floatType := g.NewType("Float", g.NewArray([]heap.Value{rt.objectType}), true, heap.KindPrimitive, heap.Null(), 0)

	v.RegisterBuiltin("Object", rt.objectType)
	v.RegisterBuiltin("Fixnum", rt.fixnumType)
	v.RegisterBuiltin("String", rt.stringType)
	v.RegisterBuiltin("Bool", boolType)
	v.RegisterBuiltin("Null", nullType)
	v.RegisterBuiltin("Float", floatType)
	for _, name := range []string{"Ref", "Tuple", "Array", "Vector", "Assoc", "Code", "Closure", "Method", "MultiMethod", "Type", "CallSegment"} {
		v.RegisterBuiltin(name, g.NewType(name, g.NewArray([]heap.Value{rt.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	}

	binary := func(name string, fn func(a, b int64) heap.Value) heap.Value {
		id := v.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value {
			return fn(args[0].Fixnum(), args[1].Fixnum())
		})
		mm := g.NewMultiMethod(name, 2, g.NewVector(0))
		matchers := g.NewArray([]heap.Value{heap.Null(), heap.Null()})
		return g.AddMethod(mm, g.NewMethod(matchers, heap.Null(), heap.Null(), g.NewVector(0), id, -1))
	}

	rt.addMM = binary("+", func(a, b int64) heap.Value { return heap.NewFixnum(a + b) })
	rt.subMM = binary("-", func(a, b int64) heap.Value { return heap.NewFixnum(a - b) })
	rt.mulMM = binary("*", func(a, b int64) heap.Value { return heap.NewFixnum(a * b) })
	rt.divMM = binary("/", func(a, b int64) heap.Value {
		if b == 0 {
			condition.Signal(condition.DivideByZero, "%d / 0", a)
		}
		return heap.NewFixnum(a / b)
	})

	eqID := v.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value {
		return heap.NewBool(args[0].Equal(args[1]))
	})
	rt.eqMM = g.NewMultiMethod("=", 2, g.NewVector(0))
	rt.eqMM = g.AddMethod(rt.eqMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), eqID, -1))

	callID := v.RegisterIntrinsic(vm.IntrinsicCall)
	rt.callMM = g.NewMultiMethod("call:", 2, g.NewVector(0))
	rt.callMM = g.AddMethod(rt.callMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), -1, callID))

	printID := v.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value {
		printValue(g, args[0])
		return heap.Null()
	})
	rt.printMM = g.NewMultiMethod("print:", 1, g.NewVector(0))
	rt.printMM = g.AddMethod(rt.printMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), printID, -1))

	markedID := v.RegisterIntrinsic(vm.IntrinsicCallMarked)
	rt.callMarked = g.NewMultiMethod("call/marked:", 2, g.NewVector(0))
	rt.callMarked = g.AddMethod(rt.callMarked, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), -1, markedID))

	dcID := v.RegisterIntrinsic(vm.IntrinsicCallDC)
	rt.callDC = g.NewMultiMethod("call/dc:", 2, g.NewVector(0))
	rt.callDC = g.AddMethod(rt.callDC, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), -1, dcID))

	return rt
}
