package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameInitAndRegisters(t *testing.T) {
	buf := make([]byte, 512)
	code := NewFixnum(1)
	module := NewFixnum(2)
	marker := Null()
	f := InitFrame(buf, 0, 3, 4, code, module, marker)

	caller, ok := f.Caller()
	assert.False(t, ok)
	assert.Equal(t, NoCaller, caller)
	assert.Equal(t, uint32(3), f.NumRegs())
	assert.Equal(t, uint32(4), f.NumData())
	assert.Equal(t, uint32(0), f.DataDepth())
	for i := uint32(0); i < 3; i++ {
		assert.True(t, f.Reg(i).IsNull())
	}

	f.SetReg(1, NewFixnum(99))
	assert.Equal(t, int64(99), f.Reg(1).Fixnum())
}

func TestFramePushPopPeek(t *testing.T) {
	buf := make([]byte, 512)
	f := InitFrame(buf, 0, 0, 3, NewFixnum(1), Null(), Null())

	f.Push(NewFixnum(10))
	f.Push(NewFixnum(20))
	require.Equal(t, uint32(2), f.DataDepth())
	assert.Equal(t, int64(20), f.Peek().Fixnum())

	popped := f.Pop()
	assert.Equal(t, int64(20), popped.Fixnum())
	assert.Equal(t, uint32(1), f.DataDepth())
	// The vacated slot is cleared (spec's "clear on pop" decision).
	assert.True(t, f.Data(1).IsNull())

	popped = f.Pop()
	assert.Equal(t, int64(10), popped.Fixnum())
	assert.Equal(t, uint32(0), f.DataDepth())
}

func TestFrameNextIsContiguousAndAligned(t *testing.T) {
	buf := make([]byte, 1024)
	f := InitFrame(buf, 0, 2, 2, NewFixnum(1), Null(), Null())
	next := f.Next()
	assert.Equal(t, f.Off+alignUp(f.Size(), tagBits), next)
	assert.Equal(t, uint64(0), next%8)

	f2 := InitFrame(buf, next, 1, 1, NewFixnum(2), Null(), Null())
	assert.Equal(t, int64(2), f2.Code().Fixnum())
	// Writing into f2 must not disturb f's already-initialized fields.
	f2.SetReg(0, NewFixnum(77))
	assert.Equal(t, int64(1), f.Code().Fixnum())
}
