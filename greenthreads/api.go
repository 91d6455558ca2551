package greenthreads

import "sync"

// singleton is the process-wide Scheduler that the integer-returning
// forwarders below operate on. spec §6 describes a C-style global API
// (uthread_init, uthread_spawn, ...) rather than a handle a caller passes
// around; a package-level Scheduler is the idiomatic Go equivalent. The
// signal reactor does not go through it: each Scheduler's reactor
// goroutine holds that Scheduler directly.
var (
	singletonMu sync.Mutex
	singleton   *Scheduler
)

// Init constructs the process-wide Scheduler. It fails with -1 if
// quantumUsecs is not positive or if a Scheduler already exists: spec §6
// treats double-init as misuse, not as idempotent reinitialization.
func Init(quantumUsecs int, opts ...Option) int {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton != nil {
		return -1
	}
	s, err := New(quantumUsecs, opts...)
	if err != nil {
		return -1
	}
	singleton = s
	return 0
}

// Spawn creates a new Thread running entry and returns its id, or -1 on
// failure (spec §6 uthread_spawn).
func Spawn(entry func()) int {
	s, ok := current()
	if !ok {
		return -1
	}
	id, err := s.Spawn(entry)
	if err != nil {
		return -1
	}
	return id
}

// Terminate destroys tid, or exits the process if tid == 0 (spec §6
// uthread_terminate). Returns -1 on failure, 0 otherwise.
func Terminate(tid int) int {
	s, ok := current()
	if !ok {
		return -1
	}
	if err := s.Terminate(tid); err != nil {
		return -1
	}
	return 0
}

// Block sets tid to BLOCKED (spec §6 uthread_block). Returns -1 on
// failure, 0 otherwise.
func Block(tid int) int {
	s, ok := current()
	if !ok {
		return -1
	}
	if err := s.Block(tid); err != nil {
		return -1
	}
	return 0
}

// Resume clears BLOCKED on tid (spec §6 uthread_resume). Returns -1 on
// failure, 0 otherwise.
func Resume(tid int) int {
	s, ok := current()
	if !ok {
		return -1
	}
	if err := s.Resume(tid); err != nil {
		return -1
	}
	return 0
}

// Sleep parks the calling Thread for numQuantums elections (spec §6
// uthread_sleep). Returns -1 on failure, 0 otherwise.
func Sleep(numQuantums int) int {
	s, ok := current()
	if !ok {
		return -1
	}
	if err := s.Sleep(numQuantums); err != nil {
		return -1
	}
	return 0
}

// GetTID returns the calling Thread's id, or -1 if the Scheduler has not
// been initialized (spec §6 uthread_get_tid).
func GetTID() int {
	s, ok := current()
	if !ok {
		return -1
	}
	return s.GetTID()
}

// GetTotalQuantums returns the number of elections performed since Init,
// or -1 if the Scheduler has not been initialized (spec §6
// uthread_get_total_quantums).
func GetTotalQuantums() int {
	s, ok := current()
	if !ok {
		return -1
	}
	return s.GetTotalQuantums()
}

// GetQuantums returns tid's run_quantums, or -1 if tid is unknown or the
// Scheduler has not been initialized (spec §6 uthread_get_quantums).
func GetQuantums(tid int) int {
	s, ok := current()
	if !ok {
		return -1
	}
	return s.GetQuantums(tid)
}

// Checkpoint calls Checkpoint on the process-wide Scheduler. It is a
// no-op, rather than an error, if the Scheduler has not been initialized,
// since thread bodies may be written to call it unconditionally.
func Checkpoint() {
	if s, ok := current(); ok {
		s.Checkpoint()
	}
}

// Shutdown tears down the process-wide Scheduler so a later Init can
// construct a fresh one. Mainly useful for tests and the demo CLI; spec.md
// has no equivalent (terminate(0) is the only documented teardown).
func Shutdown() {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	if singleton == nil {
		return
	}
	singleton.Shutdown()
	singleton = nil
}

func current() (*Scheduler, bool) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	return singleton, singleton != nil
}
