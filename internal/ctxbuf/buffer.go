// Package ctxbuf provides the engine's ContextBuffer: a save/jump pair that
// captures a Thread's resumption point and later transfers control back to
// it.
//
// Go has no portable non-local jump that can resume in the middle of an
// arbitrary, already-running call stack, so a Buffer is backed by a
// per-Thread channel rather than raw register state: parking is a blocking
// receive, resuming is a send. The SP/PC fields exist only to preserve the
// data model's notion of a mangled stack pointer and program counter; they
// are never dereferenced.
package ctxbuf

import "math/bits"

// Outcome reports why Save returned control to its caller.
type Outcome int

const (
	// Fresh names the first landing in a synthesized Buffer. That landing
	// runs the entry procedure directly on the Buffer's goroutine, so Save
	// never returns Fresh.
	Fresh Outcome = iota
	// Resumed is returned every time a previously parked Buffer is jumped
	// back to.
	Resumed
)

func (o Outcome) String() string {
	if o == Fresh {
		return "fresh"
	}
	return "resumed"
}

// mangleCookie is the XOR key used to transform synthetic SP/PC values,
// matching the platform note in spec §4.1: some environments mangle the
// stack pointer and program counter before storing them, and synthetic
// initialization must be indistinguishable from a real save.
const mangleCookie = 0x5f0e4c3a9d7b1826

func mangle(v uint64) uint64 {
	return bits.RotateLeft64(v^mangleCookie, 17)
}

func unmangle(v uint64) uint64 {
	return bits.RotateLeft64(v, -17) ^ mangleCookie
}

// Buffer is an opaque context buffer. The zero value is not usable; create
// one with New or Synthesize.
type Buffer struct {
	resume chan struct{}
	sp, pc uint64 // mangled; descriptive only, never dereferenced
}

// New returns a Buffer with no entry procedure attached, suitable for the
// main Thread: its first Save call happens only once the main Thread is
// itself preempted or yields.
func New() *Buffer {
	return &Buffer{resume: make(chan struct{})}
}

// Synthesize produces a Buffer for a freshly spawned Thread: the first Jump
// to it begins executing entry on a goroutine that stands in for the
// Thread's stack. stackHint is recorded (mangled) as the synthetic stack
// pointer purely to satisfy the data model; entry's address is recorded
// (mangled) as the synthetic program counter.
func Synthesize(stackHint []byte, entry func()) *Buffer {
	b := &Buffer{resume: make(chan struct{})}
	b.sp = mangle(syntheticAddr(stackHint))
	b.pc = mangle(syntheticFuncAddr(entry))
	go func() {
		<-b.resume // wait for the first Jump; this is the synthetic Fresh landing site
		entry()
	}()
	return b
}

// Save parks the calling goroutine until a matching Jump targets this
// Buffer, then returns Resumed.
//
// Save must never be called on a Buffer whose owning Thread has already
// been destroyed (see spec §4.2: a Thread's context must never be saved
// after destruction).
func (b *Buffer) Save() Outcome {
	<-b.resume
	return Resumed
}

// Jump transfers control to whatever Save call (or, for a freshly
// synthesized Buffer, whatever pending entry launch) is waiting on buf. The
// send is unbuffered, so Jump waits until that side takes the hand-off (and
// waits forever if nothing ever receives on buf); it does not park the
// caller after that. Callers that must also park themselves call Save on
// their own Buffer immediately afterward.
func Jump(buf *Buffer) {
	buf.resume <- struct{}{}
}

// SP and PC return the mangled synthetic stack-pointer and program-counter
// fields. Only Synthesize fills them in; Save does not, so a Buffer made by
// New keeps zero values here.
func (b *Buffer) SP() uint64 { return b.sp }
func (b *Buffer) PC() uint64 { return b.pc }

// Unmangle reverses the mangling transform; exported for tests only.
func Unmangle(v uint64) uint64 { return unmangle(v) }

func syntheticAddr(stack []byte) uint64 {
	if len(stack) == 0 {
		return 0
	}
	return uint64(uintptrOf(&stack[len(stack)-1]))
}

func syntheticFuncAddr(fn func()) uint64 {
	if fn == nil {
		return 0
	}
	return uint64(funcPtr(fn))
}
