package vm

import (
	"testing"

	"katsu/internal/condition"
	"katsu/internal/heap"
)

// env bundles a GC/VM pair plus a minimal builtin type hierarchy and a
// handful of native/intrinsic multimethods, enough to drive spec §8's
// end-to-end scenarios without a surface-language compiler.
type env struct {
	g  *heap.GC
	vm *VM

	objectType heap.Value
	fixnumType heap.Value
	stringType heap.Value
	boolType   heap.Value
	nullType   heap.Value

	addMM  heap.Value
	subMM  heap.Value
	divMM  heap.Value
	eqMM   heap.Value
	callMM heap.Value
}

func newTestEnv(t *testing.T) *env {
	t.Helper()
	g := heap.New(heap.Config{SemispaceSize: 1 << 16})
	v := New(g, 1<<16)

	e := &env{g: g, vm: v}

	e.objectType = g.NewType("Object", g.NewArray(nil), false, heap.KindPrimitive, heap.Null(), 0)
	e.fixnumType = g.NewType("Fixnum", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0)
	e.stringType = g.NewType("String", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0)
	e.boolType = g.NewType("Bool", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0)
	e.nullType = g.NewType("Null", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0)

	v.RegisterBuiltin("Object", e.objectType)
	v.RegisterBuiltin("Fixnum", e.fixnumType)
	v.RegisterBuiltin("String", e.stringType)
	v.RegisterBuiltin("Bool", e.boolType)
	v.RegisterBuiltin("Null", e.nullType)
	v.RegisterBuiltin("Ref", g.NewType("Ref", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("Tuple", g.NewType("Tuple", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("Array", g.NewType("Array", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("Vector", g.NewType("Vector", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("Assoc", g.NewType("Assoc", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("Code", g.NewType("Code", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("Closure", g.NewType("Closure", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("Method", g.NewType("Method", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("MultiMethod", g.NewType("MultiMethod", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("Type", g.NewType("Type", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))
	v.RegisterBuiltin("CallSegment", g.NewType("CallSegment", g.NewArray([]heap.Value{e.objectType}), true, heap.KindPrimitive, heap.Null(), 0))

	addID := v.RegisterNative(func(vm *VM, args []heap.Value) heap.Value {
		return heap.NewFixnum(args[0].Fixnum() + args[1].Fixnum())
	})
	subID := v.RegisterNative(func(vm *VM, args []heap.Value) heap.Value {
		return heap.NewFixnum(args[0].Fixnum() - args[1].Fixnum())
	})
	divID := v.RegisterNative(func(vm *VM, args []heap.Value) heap.Value {
		if args[1].Fixnum() == 0 {
			condition.Signal(condition.DivideByZero, "division by zero")
		}
		return heap.NewFixnum(args[0].Fixnum() / args[1].Fixnum())
	})
	eqID := v.RegisterNative(func(vm *VM, args []heap.Value) heap.Value {
		return heap.NewBool(args[0].Equal(args[1]))
	})

	e.addMM = g.NewMultiMethod("+", 2, g.NewVector(0))
	e.addMM = g.AddMethod(e.addMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), addID, -1))

	e.subMM = g.NewMultiMethod("-", 2, g.NewVector(0))
	e.subMM = g.AddMethod(e.subMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), subID, -1))

	e.divMM = g.NewMultiMethod("/", 2, g.NewVector(0))
	e.divMM = g.AddMethod(e.divMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), divID, -1))

	e.eqMM = g.NewMultiMethod("=", 2, g.NewVector(0))
	e.eqMM = g.AddMethod(e.eqMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), eqID, -1))

	callIntrinsicID := v.RegisterIntrinsic(func(vm *VM, tailCall bool, args []heap.Value) {
		vm.callCallable(args[0], tailCall, args[1:], heap.Null())
	})
	e.callMM = g.NewMultiMethod("call:", 2, g.NewVector(0))
	e.callMM = g.AddMethod(e.callMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), -1, callIntrinsicID))

	return e
}

// run assembles nothing itself; callers build a Code object with
// internal/asm and hand it to this to drive it through completion.
func (e *env) run(code heap.Value) (heap.Value, error) {
	return e.vm.EvalToplevel(code)
}
