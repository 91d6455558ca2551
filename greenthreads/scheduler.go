// Package greenthreads implements a user-level threading engine that
// multiplexes many cooperative execution contexts on a single logical
// kernel thread, preempted by a virtual-time timer (spec §1-§5).
//
// See SPEC_FULL.md §2 for the Go portability redesign of the original
// signal/longjmp-based context switch into a channel-based one.
package greenthreads

import (
	"os"
	"os/signal"
	"runtime"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/YaelBatat/greenthreads/internal/ctxbuf"
	"github.com/YaelBatat/greenthreads/internal/fatal"
	"github.com/YaelBatat/greenthreads/internal/gtlog"
	"github.com/YaelBatat/greenthreads/internal/siggate"
	"github.com/YaelBatat/greenthreads/internal/vtimer"
)

// defaultMaxThreads is the concurrent-thread bound spec §9 asks
// implementers to define and document. It counts the main thread: Spawn
// fails once this many threads are live.
const defaultMaxThreads = 100

// Option configures a Scheduler at Init time.
type Option func(*Scheduler)

// WithLogger installs a structured logger. The default is disabled, so a
// library caller that never opts in sees no console output.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithMaxThreads overrides the concurrent-thread bound.
func WithMaxThreads(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.maxThreads = n
		}
	}
}

// Scheduler owns every Thread, the ready queue, and hosts the preemption
// path (spec §4.5). Exactly one Scheduler exists per process; see api.go
// for the process-wide singleton the package-level forwarders use. The
// signal reactor started by New holds its Scheduler directly.
type Scheduler struct {
	threads map[int]*thread
	ready   readyQueue
	current int

	sleeping []int // ids with sleepRemaining > 0, in the order sleep() was called

	totalQuantums int
	quantumUsecs  int
	nextID        int
	maxThreads    int

	timer *vtimer.Timer
	gate  siggate.Gate
	log   zerolog.Logger

	sigCh       chan os.Signal
	reactorDone chan struct{}
}

// New constructs a Scheduler and performs everything spec §6's Init does:
// creates the main Thread (id 0, RUNNING), arms the Timer, and sets
// totalQuantums to 1 for the main thread's initial election.
//
// New fails with a *Error (ErrMisuse) if quantumUsecs <= 0. Timer or
// signal-mask install failures are fatal configuration errors (spec §7):
// they are reported via internal/fatal and terminate the process, since
// the library cannot operate in an environment that rejects them.
func New(quantumUsecs int, opts ...Option) (*Scheduler, error) {
	if quantumUsecs <= 0 {
		return nil, misusef("Init", "quantum_usecs must be positive, got %d", quantumUsecs)
	}

	s := &Scheduler{
		threads:      make(map[int]*thread),
		quantumUsecs: quantumUsecs,
		maxThreads:   defaultMaxThreads,
		log:          gtlog.Disabled(),
		nextID:       1,
	}
	for _, opt := range opts {
		opt(s)
	}

	main := newMainThread()
	s.threads[0] = main
	s.current = 0
	s.totalQuantums = 1
	main.incrementQuantum()

	timer, err := vtimer.Start(quantumUsecs)
	if err != nil {
		fatal.Trigger(s.log, fatal.Info{Reason: "virtual timer install failed", Err: err})
		return nil, err
	}
	s.timer = timer

	if err := s.startReactor(); err != nil {
		fatal.Trigger(s.log, fatal.Info{Reason: "signal mask install failed", Err: err})
		return nil, err
	}

	s.log.Debug().Int("quantum_usecs", quantumUsecs).Msg("scheduler initialized")
	return s, nil
}

// startReactor installs the SIGVTALRM handler. Per spec §5's signal-safety
// constraint, the handler body does nothing but set an async-signal-safe
// flag (siggate.Gate.RequestPreempt); it never touches threads, ready, or
// any other scheduler structure directly.
func (s *Scheduler) startReactor() error {
	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, unix.SIGVTALRM)
	s.reactorDone = make(chan struct{})
	go func() {
		for range s.sigCh {
			s.gate.RequestPreempt()
		}
		close(s.reactorDone)
	}()
	return nil
}

// Shutdown stops the timer and signal reactor and releases every thread's
// stack, without exiting the process. This is the supplemented-feature
// counterpart (SPEC_FULL.md §6) of the original's Scheduler destructor;
// spec.md itself only ever exits the process on terminate(0).
func (s *Scheduler) Shutdown() {
	signal.Stop(s.sigCh)
	close(s.sigCh)
	<-s.reactorDone
	if s.timer != nil {
		_ = s.timer.Stop()
	}
	for _, t := range s.threads {
		t.destroy()
	}
	s.threads = nil
}

// Checkpoint is the cooperative preemption point thread bodies must call
// periodically (SPEC_FULL.md §2). It is a no-op unless a virtual-timer
// signal is pending and the gate is open, in which case it runs the same
// election algorithm a real preemption handler would, on the calling
// (currently running) thread's own goroutine.
func (s *Scheduler) Checkpoint() {
	if !s.gate.TakePreempt() {
		return
	}
	s.gate.Block()
	s.log.Debug().Int("tid", s.current).Msg("preempted")
	s.electAndSwitch(s.current, true, false, 0)
}

// Spawn allocates a new id, constructs a Thread in READY state with a
// synthetic context, and appends it to the ready queue (spec §4.5
// spawn). It fails if entry is nil or the thread-count bound is reached.
func (s *Scheduler) Spawn(entry func()) (int, error) {
	s.gate.Block()
	defer s.gate.Unblock()

	if entry == nil {
		return -1, misusef("Spawn", "entry must not be nil")
	}
	id, err := s.allocID()
	if err != nil {
		return -1, err
	}

	// Wrap entry so a thread that runs off the end of its body terminates
	// itself instead of leaking a parked goroutine.
	wrapped := func() {
		entry()
		s.terminateSelfOnReturn(id)
	}
	t := newThread(id, wrapped, s.gate.Unblock)

	s.threads[id] = t
	s.ready.push(id)
	s.log.Debug().Int("tid", id).Msg("spawned")
	return id, nil
}

// terminateSelfOnReturn runs when a spawned thread's entry procedure
// returns normally rather than calling Terminate explicitly.
func (s *Scheduler) terminateSelfOnReturn(id int) {
	s.gate.Block()
	s.destroyAndSwitch(id)
}

// allocID draws the next id, skipping live ids and probing linearly after
// the monotonic cursor wraps (spec §3, §9; original_source's allocator).
func (s *Scheduler) allocID() (int, error) {
	if len(s.threads) >= s.maxThreads {
		return -1, resourcef("Spawn", "maximum thread count %d reached", s.maxThreads)
	}
	for i := 0; i < s.maxThreads; i++ {
		id := s.nextID
		s.nextID++
		if s.nextID >= s.maxThreads {
			s.nextID = 1
		}
		if _, live := s.threads[id]; !live {
			return id, nil
		}
	}
	return -1, resourcef("Spawn", "no free thread id available")
}

// Terminate destroys tid, removing it from every scheduler structure
// (spec §4.5 terminate). tid == 0 exits the process. If tid is the
// caller's own id, control switches away immediately and never returns.
func (s *Scheduler) Terminate(tid int) error {
	s.gate.Block()

	if _, ok := s.threads[tid]; !ok {
		s.gate.Unblock()
		return misusef("Terminate", "unknown tid %d", tid)
	}
	if tid == 0 {
		s.log.Info().Msg("terminate(0): process exit")
		os.Exit(0)
	}

	self := tid == s.current
	if !self {
		t := s.threads[tid]
		delete(s.threads, tid)
		s.ready.remove(tid)
		t.destroy()
		s.log.Debug().Int("tid", tid).Msg("terminated")
		s.gate.Unblock()
		return nil
	}

	s.destroyAndSwitch(tid)
	return nil // unreachable: destroyAndSwitch ends in runtime.Goexit
}

// destroyAndSwitch removes the calling thread from scheduler bookkeeping
// and runs the election algorithm with destroy semantics: the outgoing
// thread's context is never saved, and this goroutine never returns to
// its caller (spec §4.2, §4.5, §5).
func (s *Scheduler) destroyAndSwitch(id int) {
	t := s.threads[id]
	delete(s.threads, id)
	s.ready.remove(id)
	t.destroy()
	s.log.Debug().Int("tid", id).Msg("terminated (self)")
	s.timer.Reset()
	s.electAndSwitch(id, false, true, 0)
	runtime.Goexit()
}

// Block sets tid to BLOCKED and removes it from the ready queue (spec
// §4.5 block). Fails on unknown id or tid == 0. A no-op if already
// blocked. If tid is the caller's own id, switches away immediately.
func (s *Scheduler) Block(tid int) error {
	s.gate.Block()

	if tid == 0 {
		s.gate.Unblock()
		return misusef("Block", "main thread is not blockable")
	}
	t, ok := s.threads[tid]
	if !ok {
		s.gate.Unblock()
		return misusef("Block", "unknown tid %d", tid)
	}
	if t.state == stateBlocked {
		s.gate.Unblock()
		return nil
	}

	t.state = stateBlocked
	s.ready.remove(tid)

	if tid != s.current {
		s.log.Debug().Int("tid", tid).Msg("blocked")
		s.gate.Unblock()
		return nil
	}

	s.log.Debug().Int("tid", tid).Msg("blocked (self)")
	s.electAndSwitch(tid, false, false, 0)
	return nil
}

// Resume clears BLOCKED on tid, making it eligible for election once any
// sleep countdown also clears (spec §4.5 resume). Fails on unknown id.
func (s *Scheduler) Resume(tid int) error {
	s.gate.Block()
	defer s.gate.Unblock()

	t, ok := s.threads[tid]
	if !ok {
		return misusef("Resume", "unknown tid %d", tid)
	}
	if t.state != stateBlocked {
		return nil
	}
	t.state = stateReady
	if !t.isSleeping() {
		s.ready.push(tid)
	}
	s.log.Debug().Int("tid", tid).Msg("resumed")
	return nil
}

// Sleep sets the caller's sleepRemaining and switches away immediately
// (spec §4.5 sleep). Fails if the caller is main or numQuantums < 1.
func (s *Scheduler) Sleep(numQuantums int) error {
	s.gate.Block()

	if s.current == 0 {
		s.gate.Unblock()
		return misusef("Sleep", "main thread cannot sleep")
	}
	if numQuantums < 1 {
		s.gate.Unblock()
		return misusef("Sleep", "num_quantums must be >= 1, got %d", numQuantums)
	}

	id := s.current
	t := s.threads[id]
	t.setSleep(numQuantums)
	s.markSleeping(id)
	s.log.Debug().Int("tid", id).Int("quantums", numQuantums).Msg("sleeping")
	// The election this call performs is the one that switches the caller
	// out; it must not itself count against the sleep it just requested,
	// or sleep(1) would wake on the same election that granted it.
	s.electAndSwitch(id, false, false, id)
	return nil
}

func (s *Scheduler) markSleeping(id int) {
	for _, v := range s.sleeping {
		if v == id {
			return
		}
	}
	s.sleeping = append(s.sleeping, id)
}

// GetTID returns the calling thread's id. Like GetTotalQuantums and
// GetQuantums it reads without taking the gate: only the currently
// running thread's own goroutine ever calls these, and by construction
// exactly one goroutine is unparked at a time, so the read is inherently
// consistent (spec §4.5 Queries).
func (s *Scheduler) GetTID() int {
	return s.current
}

// GetTotalQuantums returns the count of elections performed since Init.
func (s *Scheduler) GetTotalQuantums() int {
	return s.totalQuantums
}

// GetQuantums returns tid's run_quantums, or -1 if tid is unknown.
func (s *Scheduler) GetQuantums(tid int) int {
	t, ok := s.threads[tid]
	if !ok {
		return -1
	}
	return t.runQuantums
}

// electAndSwitch is the elected-thread transition of spec §4.5: tick
// sleepers, handle the outgoing thread, elect, install, and jump.
//
// reenqueueOutgoing is true only for the preemption case (the outgoing
// thread is still RUNNING and must go back to READY). destroyOutgoing is
// true only for self-termination, in which case the caller must not
// reference the outgoing thread's struct or Save its context afterward —
// the caller arranges that by calling runtime.Goexit() right after this
// returns. skipTick is the id of a thread that just called Sleep as part
// of triggering this very election, if any (0 otherwise, which is safe
// since the main thread can never sleep): its countdown must not be
// ticked by the election that grants it, only by later ones.
func (s *Scheduler) electAndSwitch(outgoingID int, reenqueueOutgoing, destroyOutgoing bool, skipTick int) {
	s.tickSleepers(skipTick)

	if reenqueueOutgoing {
		out := s.threads[outgoingID]
		out.state = stateReady
		s.ready.push(outgoingID)
	}

	nextID, ok := s.ready.pop()
	if !ok || nextID == outgoingID {
		// Every other thread is blocked or sleeping; outgoing is the only
		// eligible thread. No switch occurs (spec §4.5 step 4).
		//
		// The nextID == outgoingID case arises when reenqueueOutgoing just
		// pushed outgoing back onto an otherwise-empty ready queue: pop
		// hands it straight back. Jumping into a Buffer before its own
		// Save call is waiting on it would deadlock, so this is handled
		// identically to the queue-empty case: outgoing keeps running, no
		// quantum is charged, no context switch happens.
		//
		// No Save/Jump means no other thread's resumption path will ever
		// reopen the gate on this call's behalf, so it must be done here
		// directly, unless the caller is about to destroy and Goexit
		// without ever having the gate open again matter.
		if !destroyOutgoing {
			s.threads[outgoingID].state = stateRunning
			s.gate.Unblock()
		}
		return
	}

	next := s.threads[nextID]
	// Capture everything this goroutine still needs before Jump: once Jump
	// returns, next's goroutine may already be running concurrently (a
	// channel send only orders what happened before the send, not what the
	// sender does after it), and it is free to mutate s.threads itself
	// (Spawn, Terminate, Block on its first instruction). Touching
	// s.threads after the jump would race against that.
	out := s.threads[outgoingID]
	s.current = nextID
	next.state = stateRunning
	s.totalQuantums++
	next.incrementQuantum()
	_ = s.timer.Reset()

	ctxbuf.Jump(next.ctx)

	if destroyOutgoing {
		return // caller calls runtime.Goexit(); never save into a destroyed thread
	}

	out.ctx.Save()
	s.gate.Unblock()
}

// tickSleepers decrements every sleeping thread's countdown, except skip,
// and moves any thread whose countdown just reached 0, and is not
// BLOCKED, to READY (spec §4.5 step 1). Order follows sleep() call order
// for determinism.
func (s *Scheduler) tickSleepers(skip int) {
	if len(s.sleeping) == 0 {
		return
	}
	stillSleeping := s.sleeping[:0:0]
	for _, id := range s.sleeping {
		if id == skip {
			stillSleeping = append(stillSleeping, id)
			continue
		}
		t, ok := s.threads[id]
		if !ok {
			continue
		}
		t.tickSleep()
		if t.sleepRemaining == 0 {
			if t.state != stateBlocked {
				t.state = stateReady
				s.ready.push(id)
			}
			continue
		}
		stillSleeping = append(stillSleeping, id)
	}
	s.sleeping = stillSleeping
}
