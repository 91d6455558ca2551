package greenthreads

import "github.com/YaelBatat/greenthreads/internal/ctxbuf"

// stackBytes is the fixed stack size each spawned Thread is granted, per
// spec §3. It is allocated for data-model fidelity and for the synthetic
// ctxbuf.Buffer's SP field; the actual Go call stack backing a Thread's
// goroutine is managed and grown by the Go runtime, not by this buffer.
const stackBytes = 4096

// threadState is one of READY, RUNNING, or BLOCKED. TERMINATED is
// deliberately not a value here: spec §3 calls it transient, and a
// terminated Thread is removed from every scheduler structure immediately,
// so it is never an observable state of a live thread value.
type threadState int8

const (
	stateReady threadState = iota
	stateRunning
	stateBlocked
)

func (s threadState) String() string {
	switch s {
	case stateReady:
		return "ready"
	case stateRunning:
		return "running"
	case stateBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// thread is one execution unit: identity, state, owned stack, saved
// context, quantum counters, and sleep countdown (spec §3).
type thread struct {
	id    int
	entry func()
	stack []byte // nil for the main thread, which has no owned stack
	ctx   *ctxbuf.Buffer

	state          threadState
	runQuantums    int
	sleepRemaining int
}

// newMainThread constructs the id-0 thread. Its context is populated the
// first time it is saved (at its first preemption or voluntary switch),
// not here.
func newMainThread() *thread {
	return &thread{
		id:    0,
		state: stateRunning,
		ctx:   ctxbuf.New(),
	}
}

// newThread allocates a spawned thread's stack and a synthetic context
// that begins executing entry on its first Jump. onResume is invoked by
// the thread's own goroutine immediately after that first Jump lands,
// before entry runs, so the thread can reopen the signal gate for itself
// exactly as any other resumption does.
func newThread(id int, entry func(), onResume func()) *thread {
	t := &thread{
		id:    id,
		entry: entry,
		stack: make([]byte, stackBytes),
		state: stateReady,
	}
	t.ctx = ctxbuf.Synthesize(t.stack, func() {
		onResume()
		entry()
	})
	return t
}

func (t *thread) tickSleep() {
	if t.sleepRemaining > 0 {
		t.sleepRemaining--
	}
}

func (t *thread) isSleeping() bool {
	return t.sleepRemaining > 0
}

func (t *thread) setSleep(n int) {
	if n < 1 {
		panic("greenthreads: setSleep requires n >= 1")
	}
	t.sleepRemaining = n
}

func (t *thread) incrementQuantum() {
	t.runQuantums++
}

// destroy releases the thread's stack. The caller must already have
// arranged for control to have left this thread's context before calling
// destroy; destroy never touches t.ctx.
func (t *thread) destroy() {
	t.stack = nil
}
