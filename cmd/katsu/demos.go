package main

import (
	"fmt"

	"katsu/internal/asm"
	"katsu/internal/heap"
	"katsu/internal/vm"
)

// demo is one fixed, hand-assembled program exercising a concrete scenario
// from spec §8. There is no lexer/parser/compiler in this repo (spec §1
// places them out of scope), so each demo plays the role a compiled
// source file would: it builds a Code object directly with internal/asm
// and runs it to completion through EvalToplevel.
type demo struct {
	name        string
	description string
	run         func(rt *runtime) (string, error)
}

var demos = []demo{
	{
		name:        "literal",
		description: "1234 evaluates to fixnum 1234",
		run: func(rt *runtime) (string, error) {
			b := asm.New(rt.g)
			b.LoadValue(heap.NewFixnum(1234))
			code := b.Finish(heap.Null(), 0, 0, 1)
			result, err := rt.vm.EvalToplevel(code)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d", result.Fixnum()), nil
		},
	},
	{
		name:        "addition",
		description: "3 + 4 evaluates to fixnum 7",
		run: func(rt *runtime) (string, error) {
			b := asm.New(rt.g)
			b.LoadValue(heap.NewFixnum(3))
			b.LoadValue(heap.NewFixnum(4))
			b.Invoke(rt.addMM, 2)
			code := b.Finish(heap.Null(), 0, 0, 2)
			result, err := rt.vm.EvalToplevel(code)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d", result.Fixnum()), nil
		},
	},
	{
		name:        "divide-by-zero",
		description: "1 / 0 raises the divide-by-zero condition",
		run: func(rt *runtime) (string, error) {
			b := asm.New(rt.g)
			b.LoadValue(heap.NewFixnum(1))
			b.LoadValue(heap.NewFixnum(0))
			b.Invoke(rt.divMM, 2)
			code := b.Finish(heap.Null(), 0, 0, 2)
			_, err := rt.vm.EvalToplevel(code)
			if err == nil {
				return "", fmt.Errorf("expected a divide-by-zero condition, got none")
			}
			return err.Error(), nil
		},
	},
	{
		name:        "tuple",
		description: "1, 2, 3 produces a 3-tuple in order",
		run: func(rt *runtime) (string, error) {
			b := asm.New(rt.g)
			b.LoadValue(heap.NewFixnum(1))
			b.LoadValue(heap.NewFixnum(2))
			b.LoadValue(heap.NewFixnum(3))
			b.MakeTuple(3)
			code := b.Finish(heap.Null(), 0, 0, 3)
			result, err := rt.vm.EvalToplevel(code)
			if err != nil {
				return "", err
			}
			tup := rt.g.AsTuple(result)
			return fmt.Sprintf("(%d, %d, %d)", tup.Get(0).Fixnum(), tup.Get(1).Fixnum(), tup.Get(2).Fixnum()), nil
		},
	},
	{
		name:        "block-call",
		description: "[ it + 1 ] call: 10 evaluates to fixnum 11",
		run: func(rt *runtime) (string, error) {
			blockBuilder := asm.New(rt.g)
			blockBuilder.LoadReg(0)
			blockBuilder.LoadValue(heap.NewFixnum(1))
			blockBuilder.Invoke(rt.addMM, 2)
			blockCode := blockBuilder.Finish(heap.Null(), 1, 1, 2)

			b := asm.New(rt.g)
			b.MakeClosure(blockCode)
			b.LoadValue(heap.NewFixnum(10))
			b.Invoke(rt.callMM, 2)
			code := b.Finish(heap.Null(), 0, 0, 2)

			result, err := rt.vm.EvalToplevel(code)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d", result.Fixnum()), nil
		},
	},
	{
		name:        "triangular-number",
		description: "tail-recursive 2000 triangular-num: 0 evaluates to 2001000 without stack overflow",
		run: func(rt *runtime) (string, error) {
			g := rt.g
			triMM := g.NewMultiMethod("tri:acc:", 2, g.NewVector(0))

			zeroRef := g.NewRef(heap.NewFixnum(0))
			baseID := rt.vm.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value {
				return args[1]
			})
			baseMethod := g.NewMethod(g.NewArray([]heap.Value{zeroRef, heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), baseID, -1)
			triMM = g.AddMethod(triMM, baseMethod)

			recBuilder := asm.New(g)
			recBuilder.LoadReg(0)
			recBuilder.LoadValue(heap.NewFixnum(1))
			recBuilder.Invoke(rt.subMM, 2)
			recBuilder.LoadReg(1)
			recBuilder.LoadReg(0)
			recBuilder.Invoke(rt.addMM, 2)
			recBuilder.InvokeTail(triMM, 2)
			recCode := recBuilder.Finish(heap.Null(), 2, 2, 4)
			recMethod := g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), recCode, g.NewVector(0), -1, -1)
			triMM = g.AddMethod(triMM, recMethod)

			b := asm.New(g)
			b.LoadValue(heap.NewFixnum(2000))
			b.LoadValue(heap.NewFixnum(0))
			b.Invoke(triMM, 2)
			code := b.Finish(heap.Null(), 0, 0, 2)

			result, err := rt.vm.EvalToplevel(code)
			if err != nil {
				return "", err
			}
			return fmt.Sprintf("%d", result.Fixnum()), nil
		},
	},
	{
		name:        "dispatch",
		description: "multimethod specificity and ambiguity (spec §8 scenario 7)",
		run: func(rt *runtime) (string, error) {
			g := rt.g
			mm := g.NewMultiMethod("m:", 2, g.NewVector(0))

			firstID := rt.vm.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value { return heap.NewFixnum(1) })
			secondID := rt.vm.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value { return heap.NewFixnum(2) })
			thirdID := rt.vm.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value { return heap.NewFixnum(3) })

			first := g.NewMethod(g.NewArray([]heap.Value{rt.fixnumType, heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), firstID, -1)
			second := g.NewMethod(g.NewArray([]heap.Value{heap.Null(), rt.fixnumType}), heap.Null(), heap.Null(), g.NewVector(0), secondID, -1)
			third := g.NewMethod(g.NewArray([]heap.Value{heap.Null(), heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), thirdID, -1)
			mm = g.AddMethod(mm, first)
			mm = g.AddMethod(mm, second)
			mm = g.AddMethod(mm, third)

			call := func(a, b heap.Value) (heap.Value, error) {
				bd := asm.New(g)
				bd.LoadValue(a)
				bd.LoadValue(b)
				bd.Invoke(mm, 2)
				code := bd.Finish(heap.Null(), 0, 0, 2)
				return rt.vm.EvalToplevel(code)
			}

			r1, err := call(heap.NewFixnum(5), g.NewString("x"))
			if err != nil {
				return "", err
			}
			r2, err := call(g.NewString("x"), heap.NewFixnum(5))
			if err != nil {
				return "", err
			}
			r3, err := call(g.NewString("x"), g.NewString("y"))
			if err != nil {
				return "", err
			}
			_, err = call(heap.NewFixnum(5), heap.NewFixnum(10))
			if err == nil {
				return "", fmt.Errorf("expected ambiguous-method-resolution, got none")
			}

			return fmt.Sprintf("5 m: \"x\" -> %d, \"x\" m: 5 -> %d, \"x\" m: \"y\" -> %d, 5 m: 10 -> %s",
				r1.Fixnum(), r2.Fixnum(), r3.Fixnum(), err.Error()), nil
		},
	},
	{
		name:        "delimited-continuation",
		description: "call/marked:/call/dc: capture a replayable continuation (spec §8 scenario 8)",
		run: func(rt *runtime) (string, error) {
			g := rt.g
			v := rt.vm

			sideEffects := 0
			printID := v.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value {
				sideEffects++
				return heap.Null()
			})
			printMM := g.NewMultiMethod("demo-print:", 1, g.NewVector(0))
			printMM = g.AddMethod(printMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), printID, -1))

			var capturedSeg heap.Value
			captureID := v.RegisterNative(func(_ *vm.VM, args []heap.Value) heap.Value {
				capturedSeg = args[0]
				return heap.Null()
			})
			captureMM := g.NewMultiMethod("capture:", 1, g.NewVector(0))
			captureMM = g.AddMethod(captureMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), captureID, -1))

			fBuilder := asm.New(g)
			fBuilder.LoadReg(0)
			fBuilder.Invoke(captureMM, 1)
			fCode := fBuilder.Finish(heap.Null(), 1, 1, 2)

			marker := heap.NewFixnum(777)
			tag := heap.NewFixnum(99)

			mb := asm.New(g)
			mb.LoadValue(fCode)
			mb.LoadValue(marker)
			mb.Invoke(rt.callDC, 2)
			mb.Drop()
			mb.LoadValue(tag)
			mb.Invoke(printMM, 1)
			mb.Drop()
			mb.LoadValue(tag)
			mb.Invoke(printMM, 1)
			markedBody := mb.Finish(heap.Null(), 0, 0, 2)

			top := asm.New(g)
			top.LoadValue(markedBody)
			top.LoadValue(marker)
			top.Invoke(rt.callMarked, 2)
			topCode := top.Finish(heap.Null(), 0, 0, 2)

			_, err := v.EvalToplevel(topCode)
			if err != nil {
				return "", err
			}
			if sideEffects != 0 {
				return "", fmt.Errorf("continuation tail ran before being invoked (side effects = %d)", sideEffects)
			}

			_, err = v.InvokeCallSegment(capturedSeg, heap.Null())
			if err != nil {
				return "", err
			}
			afterFirst := sideEffects

			_, err = v.InvokeCallSegment(capturedSeg, heap.Null())
			if err != nil {
				return "", err
			}
			afterSecond := sideEffects

			return fmt.Sprintf("side effects after first replay: %d, after second replay: %d", afterFirst, afterSecond), nil
		},
	},
	{
		name:        "marker-not-found",
		description: "call/dc: outside a matching call/marked: raises marker-not-found (spec §8 scenario 9)",
		run: func(rt *runtime) (string, error) {
			b := asm.New(rt.g)
			b.LoadValue(heap.Null())
			b.LoadValue(heap.NewFixnum(123))
			b.Invoke(rt.callDC, 2)
			code := b.Finish(heap.Null(), 0, 0, 2)
			_, err := rt.vm.EvalToplevel(code)
			if err == nil {
				return "", fmt.Errorf("expected marker-not-found, got none")
			}
			return err.Error(), nil
		},
	},
	{
		name:        "dataclass",
		description: "data: P has: { x; y } construction, slot get/set, and P? predicate (spec §8 scenario 10)",
		run: func(rt *runtime) (string, error) {
			g := rt.g
			pType := g.NewType("P", g.NewArray([]heap.Value{rt.objectType}), false, heap.KindDataclass,
				g.NewArray([]heap.Value{g.NewString("x"), g.NewString("y")}), 2)

			b := asm.New(g)
			b.LoadValue(pType)
			b.LoadValue(heap.NewFixnum(1))
			b.LoadValue(heap.NewFixnum(2))
			b.MakeInstance(2)
			code := b.Finish(heap.Null(), 0, 0, 3)
			instance, err := rt.vm.EvalToplevel(code)
			if err != nil {
				return "", err
			}

			getX := func() (heap.Value, error) {
				gb := asm.New(g)
				gb.LoadValue(instance)
				gb.GetSlot(0)
				return rt.vm.EvalToplevel(gb.Finish(heap.Null(), 0, 0, 1))
			}

			before, err := getX()
			if err != nil {
				return "", err
			}

			setX := asm.New(g)
			setX.LoadValue(instance)
			setX.LoadValue(heap.NewFixnum(7))
			setX.SetSlot(0)
			if _, err := rt.vm.EvalToplevel(setX.Finish(heap.Null(), 0, 0, 2)); err != nil {
				return "", err
			}

			after, err := getX()
			if err != nil {
				return "", err
			}

			isPID := rt.vm.RegisterNative(func(machine *vm.VM, args []heap.Value) heap.Value {
				return heap.NewBool(g.IsSubtype(machine.TypeOf(args[0]), pType))
			})
			isPMM := g.NewMultiMethod("P?", 1, g.NewVector(0))
			isPMM = g.AddMethod(isPMM, g.NewMethod(g.NewArray([]heap.Value{heap.Null()}), heap.Null(), heap.Null(), g.NewVector(0), isPID, -1))

			checkInstance := func(v heap.Value) (heap.Value, error) {
				cb := asm.New(g)
				cb.LoadValue(v)
				cb.Invoke(isPMM, 1)
				return rt.vm.EvalToplevel(cb.Finish(heap.Null(), 0, 0, 1))
			}

			isP, err := checkInstance(instance)
			if err != nil {
				return "", err
			}
			isNotP, err := checkInstance(g.NewString("not a P"))
			if err != nil {
				return "", err
			}

			return fmt.Sprintf(".x before set: %d, after x: 7: %d, instance P?: %t, string P?: %t",
				before.Fixnum(), after.Fixnum(), isP.Bool(), isNotP.Bool()), nil
		},
	},
}
