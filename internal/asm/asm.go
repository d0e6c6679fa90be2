// Package asm is a tiny in-repo Code-object builder. It is not a
// compiler: it stands in for the out-of-scope lexer/parser/AST-to-
// bytecode compiler (spec §1) solely so tests and cmd/katsu can hand-
// construct well-formed Code heap objects (spec §4.1, §6.1) without
// parsing surface syntax.
package asm

import (
	"katsu/internal/bytecode"
	"katsu/internal/heap"
)

// Builder accumulates instructions and their operand Values for one Code
// object.
type Builder struct {
	gc    *heap.GC
	insts []bytecode.Inst
	args  []heap.Value
}

// New starts a Builder against gc.
func New(gc *heap.GC) *Builder {
	return &Builder{gc: gc}
}

func (b *Builder) emit(op bytecode.OpCode, operands ...heap.Value) *Builder {
	base := uint32(len(b.args))
	b.args = append(b.args, operands...)
	b.insts = append(b.insts, bytecode.MakeInst(op, base))
	return b
}

func fix(n int64) heap.Value { return heap.NewFixnum(n) }

func (b *Builder) LoadReg(k uint32) *Builder      { return b.emit(bytecode.LOAD_REG, fix(int64(k))) }
func (b *Builder) StoreReg(k uint32) *Builder     { return b.emit(bytecode.STORE_REG, fix(int64(k))) }
func (b *Builder) LoadRef(k uint32) *Builder      { return b.emit(bytecode.LOAD_REF, fix(int64(k))) }
func (b *Builder) StoreRef(k uint32) *Builder     { return b.emit(bytecode.STORE_REF, fix(int64(k))) }
func (b *Builder) LoadValue(v heap.Value) *Builder { return b.emit(bytecode.LOAD_VALUE, v) }
func (b *Builder) InitRef(k uint32) *Builder      { return b.emit(bytecode.INIT_REF, fix(int64(k))) }
func (b *Builder) LoadModule(ref heap.Value) *Builder {
	return b.emit(bytecode.LOAD_MODULE, ref)
}
func (b *Builder) StoreModule(ref heap.Value) *Builder {
	return b.emit(bytecode.STORE_MODULE, ref)
}
func (b *Builder) Invoke(mm heap.Value, n uint32) *Builder {
	return b.emit(bytecode.INVOKE, mm, fix(int64(n)))
}
func (b *Builder) InvokeTail(mm heap.Value, n uint32) *Builder {
	return b.emit(bytecode.INVOKE_TAIL, mm, fix(int64(n)))
}
func (b *Builder) Drop() *Builder { return b.emit(bytecode.DROP) }
func (b *Builder) MakeTuple(n uint32) *Builder {
	return b.emit(bytecode.MAKE_TUPLE, fix(int64(n)))
}
func (b *Builder) MakeArray(n uint32) *Builder {
	return b.emit(bytecode.MAKE_ARRAY, fix(int64(n)))
}
func (b *Builder) MakeVector(n uint32) *Builder {
	return b.emit(bytecode.MAKE_VECTOR, fix(int64(n)))
}
func (b *Builder) MakeClosure(code heap.Value) *Builder {
	return b.emit(bytecode.MAKE_CLOSURE, code)
}
func (b *Builder) MakeInstance(n uint32) *Builder {
	return b.emit(bytecode.MAKE_INSTANCE, fix(int64(n)))
}
func (b *Builder) VerifyIsType() *Builder { return b.emit(bytecode.VERIFY_IS_TYPE) }
func (b *Builder) GetSlot(i uint32) *Builder {
	return b.emit(bytecode.GET_SLOT, fix(int64(i)))
}
func (b *Builder) SetSlot(i uint32) *Builder {
	return b.emit(bytecode.SET_SLOT, fix(int64(i)))
}

// Finish builds the Code object: module, numParams/numRegs/numData as
// given, no upregs, the accumulated insts/args, and null span data (spec
// §9 treats spans as opaque, out of scope here).
func (b *Builder) Finish(module heap.Value, numParams, numRegs, numData uint32) heap.Value {
	instVals := make([]heap.Value, len(b.insts))
	spanVals := make([]heap.Value, len(b.insts))
	for i, inst := range b.insts {
		instVals[i] = fix(int64(uint32(inst)))
		spanVals[i] = heap.Null()
	}
	instsArr := b.gc.NewArray(instVals)
	argsArr := b.gc.NewArray(b.args)
	spansArr := b.gc.NewArray(spanVals)
	return b.gc.NewCode(module, numParams, numRegs, numData, heap.Null(), instsArr, argsArr, heap.Null(), spansArr)
}

// FinishClosureBody is like Finish but declares one upreg slot per entry
// of destRegs, upreg i being loaded into register destRegs[i] (used for
// MAKE_CLOSURE targets).
func (b *Builder) FinishClosureBody(module heap.Value, numParams, numRegs, numData uint32, destRegs []uint32) heap.Value {
	instVals := make([]heap.Value, len(b.insts))
	spanVals := make([]heap.Value, len(b.insts))
	for i, inst := range b.insts {
		instVals[i] = fix(int64(uint32(inst)))
		spanVals[i] = heap.Null()
	}
	instsArr := b.gc.NewArray(instVals)
	argsArr := b.gc.NewArray(b.args)
	spansArr := b.gc.NewArray(spanVals)

	mapVals := make([]heap.Value, len(destRegs))
	for i, r := range destRegs {
		mapVals[i] = fix(int64(r))
	}
	upregMap := b.gc.NewArray(mapVals)

	return b.gc.NewCode(module, numParams, numRegs, numData, upregMap, instsArr, argsArr, heap.Null(), spansArr)
}
