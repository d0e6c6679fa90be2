package heap

// NewCode constructs a Code object (spec §3): a compiled method/closure
// body. upregMap must be Null or an Array of fixnums; insts and args are
// Arrays (insts of fixnums encoding bytecode.Inst words, args holding the
// operand Values they index into); span and instSpans carry debug-span
// data the core treats as opaque (spec §9 "only in spans... treat them as
// plain tagged records") and may be Null.
func (g *GC) NewCode(module Value, numParams, numRegs, numData uint32, upregMap, insts, argsVal, span, instSpans Value) Value {
	roots := []*ValueRoot{
		NewValueRoot(g, module),
		NewValueRoot(g, upregMap),
		NewValueRoot(g, insts),
		NewValueRoot(g, argsVal),
		NewValueRoot(g, span),
		NewValueRoot(g, instSpans),
	}
	defer func() {
		for i := len(roots) - 1; i >= 0; i-- {
			roots[i].Close()
		}
	}()

	off := g.alloc(codeSize())
	g.writeWord(off, makeHeader(ObjCode))
	v := objectValue(off)
	c := g.AsCode(v)
	c.setModule(roots[0].Get())
	c.setNumParams(numParams)
	c.setNumRegs(numRegs)
	c.setNumData(numData)
	c.setUpregMap(roots[1].Get())
	c.setInsts(roots[2].Get())
	c.setArgs(roots[3].Get())
	c.setSpan(roots[4].Get())
	c.setInstSpans(roots[5].Get())
	return v
}
