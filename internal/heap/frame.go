package heap

// Frame describes the in-memory layout of one VM call frame (spec §3
// "Frame (on call stack only, not a heap object)"). A Frame is not a
// typed Go struct allocated by the Go runtime: it is a view over a
// caller-supplied byte buffer, because the same layout is used both for
// the VM's live call-stack region (internal/vm) and for the bytes
// embedded in a reified CallSegment (spec §4.7). Using one layout for
// both means the collector's CallSegment scan (GC.Collect in gc.go) and
// the VM's own root-provider walk (VM.VisitRoots) visit frames the same
// way, as the original's gc.cc comments it: "this is effectively
// VM::visit_roots()".
type Frame struct {
	buf []byte
	Off uint64
}

// FrameAt views the frame starting at byte offset off within buf.
func FrameAt(buf []byte, off uint64) Frame {
	return Frame{buf: buf, Off: off}
}

// NoCaller is the sentinel caller offset marking the bottom frame, or a
// frame whose caller pointer has been nulled out during CallSegment
// reification (spec §4.7).
const NoCaller = ^uint64(0)

func (f Frame) wordAt(rel uint64) *uint64 {
	return (*uint64)(wordPointer(f.buf, offset(f.Off+rel)))
}

func (f Frame) Caller() (uint64, bool) {
	c := *f.wordAt(0)
	return c, c != NoCaller
}
func (f Frame) SetCaller(off uint64)  { *f.wordAt(0) = off }
func (f Frame) ClearCaller()          { *f.wordAt(0) = NoCaller }

func (f Frame) Code() Value      { return Value(*f.wordAt(8)) }
func (f Frame) SetCode(v Value)  { *f.wordAt(8) = uint64(v) }

func (f Frame) InstSpot() uint32     { return uint32(*f.wordAt(16)) }
func (f Frame) SetInstSpot(n uint32) { *f.wordAt(16) = uint64(n) }

func (f Frame) NumRegs() uint32 { return uint32(*f.wordAt(24)) }
func (f Frame) NumData() uint32 { return uint32(*f.wordAt(32)) }

func (f Frame) DataDepth() uint32     { return uint32(*f.wordAt(40)) }
func (f Frame) SetDataDepth(n uint32) { *f.wordAt(40) = uint64(n) }

func (f Frame) Module() Value     { return Value(*f.wordAt(48)) }
func (f Frame) SetModule(v Value) { *f.wordAt(48) = uint64(v) }

func (f Frame) Marker() Value     { return Value(*f.wordAt(56)) }
func (f Frame) SetMarker(v Value) { *f.wordAt(56) = uint64(v) }

const frameHeaderSize = 64

func (f Frame) Reg(i uint32) Value {
	return Value(*f.wordAt(uint64(frameHeaderSize + i*8)))
}
func (f Frame) SetReg(i uint32, v Value) {
	*f.wordAt(uint64(frameHeaderSize + i*8)) = uint64(v)
}

func (f Frame) dataBase() uint64 {
	return frameHeaderSize + uint64(f.NumRegs())*8
}

// Data reads data-stack slot i (0 is the bottom of this frame's data
// stack). Only slots below DataDepth are guaranteed meaningful.
func (f Frame) Data(i uint32) Value {
	return Value(*f.wordAt(f.dataBase() + uint64(i)*8))
}
func (f Frame) SetData(i uint32, v Value) {
	*f.wordAt(f.dataBase() + uint64(i)*8) = uint64(v)
}

// Push appends a value at the current data depth and advances it. It
// does not check the depth against num_data: staying within that bound
// is the compiler's obligation, which the VM trusts (spec §4.1, §6).
func (f Frame) Push(v Value) {
	d := f.DataDepth()
	f.SetData(d, v)
	f.SetDataDepth(d + 1)
}

// Pop removes and returns the top data-stack value, clearing the vacated
// slot to null (spec §9 open question: "the safer rule: clear on pop").
func (f Frame) Pop() Value {
	d := f.DataDepth() - 1
	v := f.Data(d)
	f.SetData(d, Null())
	f.SetDataDepth(d)
	return v
}

func (f Frame) Peek() Value {
	return f.Data(f.DataDepth() - 1)
}

// Size returns this frame's total byte size (header + registers + data
// stack), unaligned.
func (f Frame) Size() uint64 {
	return FrameSize(f.NumRegs(), f.NumData())
}

// FrameSize computes the byte size of a frame with the given register
// and data-stack capacities, before 8-byte alignment.
func FrameSize(numRegs, numData uint32) uint64 {
	return frameHeaderSize + uint64(numRegs)*8 + uint64(numData)*8
}

// Next returns the byte offset, within the same buffer, of the frame
// immediately following f (spec §3: "next frame's address = current
// address + align_up(size, 8)").
func (f Frame) Next() uint64 {
	return f.Off + alignUp(f.Size(), tagBits)
}

// InitFrame writes a fresh frame header at off within buf: no caller by
// default, inst_spot 0, data_depth 0, the given num_regs/num_data, code,
// module and marker. Every register is set to null; the data stack is
// left as whatever the allocator already placed there.
func InitFrame(buf []byte, off uint64, numRegs, numData uint32, code, module, marker Value) Frame {
	f := Frame{buf: buf, Off: off}
	f.ClearCaller()
	f.SetCode(code)
	f.SetInstSpot(0)
	*f.wordAt(24) = uint64(numRegs)
	*f.wordAt(32) = uint64(numData)
	f.SetDataDepth(0)
	f.SetModule(module)
	f.SetMarker(marker)
	for i := uint32(0); i < numRegs; i++ {
		f.SetReg(i, Null())
	}
	return f
}
