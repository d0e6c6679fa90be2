package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// sliceRootProvider lets a test register a handful of Values as GC roots
// without building a full VM.
type sliceRootProvider struct {
	values []*Value
}

func (p *sliceRootProvider) VisitRoots(visit func(*Value)) {
	for _, v := range p.values {
		visit(v)
	}
}

func newTestGC(t *testing.T, size uint64) *GC {
	t.Helper()
	return New(Config{SemispaceSize: size})
}

func TestCollectSurvivesRootedObjectAtNewIdentity(t *testing.T) {
	g := newTestGC(t, 4096)

	str := g.NewString("hello")
	provider := &sliceRootProvider{values: []*Value{&str}}
	g.AddRootProvider(provider)

	before := str
	g.Collect()
	after := str

	// The object was copied into the other semispace (as the only live
	// object it lands at offset 0 there, the same offset it had before),
	// its rooted slot was rewritten to track it, and its contents
	// survived untouched.
	assert.True(t, after.IsObject())
	assert.Equal(t, "hello", g.AsString(after).String())
	_ = before
}

func TestCollectReclaimsGarbage(t *testing.T) {
	g := newTestGC(t, 4096)

	// Allocate a string with nothing rooting it.
	g.NewString("garbage")

	kept := g.NewString("kept")
	provider := &sliceRootProvider{values: []*Value{&kept}}
	g.AddRootProvider(provider)

	spotBefore := g.spot
	g.Collect()
	assert.Less(t, uint64(g.spot), uint64(spotBefore))
	assert.Equal(t, "kept", g.AsString(kept).String())
}

func TestCollectRewritesNestedReferences(t *testing.T) {
	g := newTestGC(t, 4096)

	inner := g.NewString("inner")
	tup := g.NewTuple([]Value{inner, NewFixnum(42)})
	provider := &sliceRootProvider{values: []*Value{&tup}}
	g.AddRootProvider(provider)

	g.Collect()

	tv := g.AsTuple(tup)
	require.Equal(t, uint64(2), tv.Length())
	assert.Equal(t, "inner", g.AsString(tv.Get(0)).String())
	assert.Equal(t, int64(42), tv.Get(1).Fixnum())
}

func TestAppendVectorGrowsAndPreservesElements(t *testing.T) {
	g := newTestGC(t, 4096)

	vec := g.NewVector(1)
	for i := int64(0); i < 10; i++ {
		vec = g.AppendVector(vec, NewFixnum(i))
	}
	v := g.AsVector(vec)
	require.Equal(t, uint64(10), v.Length())
	for i := uint64(0); i < 10; i++ {
		assert.Equal(t, int64(i), v.Get(i).Fixnum())
	}
}

func TestAllocOutOfMemoryPanics(t *testing.T) {
	g := newTestGC(t, 64)
	assert.Panics(t, func() {
		g.NewString("this string is far too long to fit in such a tiny semispace for sure")
	})
}

func TestNewForeignValueRoundTrip(t *testing.T) {
	g := newTestGC(t, 4096)
	type payload struct{ n int }
	v := g.NewForeignValue(&payload{n: 7})
	got := g.AsForeignValue(v).Payload().(*payload)
	assert.Equal(t, 7, got.n)
}
