package main

import (
	"fmt"

	"katsu/internal/heap"
)

// printValue renders v the way a Katsu program's `print:` builtin would:
// plainly for the inline scalars and Strings a demo is likely to print,
// falling back to the GC's own debug pretty-printer (internal/heap's
// kr/pretty-backed Dump) for anything else.
func printValue(g *heap.GC, v heap.Value) {
	switch {
	case v.IsFixnum():
		fmt.Println(v.Fixnum())
	case v.IsFloat():
		fmt.Println(v.Float32())
	case v.IsBool():
		fmt.Println(v.Bool())
	case v.IsNull():
		fmt.Println("null")
	case v.IsObject() && g.TagOf(v) == heap.ObjString:
		fmt.Println(g.AsString(v).String())
	default:
		fmt.Println(g.Dump(v))
	}
}
