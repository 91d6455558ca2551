package greenthreads

import (
	"sync"
	"testing"
	"time"
)

// newTestScheduler builds a Scheduler with a long quantum so tests drive
// every election explicitly via Checkpoint, Block, Sleep, and Terminate
// rather than racing the real virtual timer.
func newTestScheduler(t *testing.T) *Scheduler {
	t.Helper()
	s, err := New(1_000_000)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Shutdown)
	return s
}

func TestNewRejectsNonPositiveQuantum(t *testing.T) {
	if _, err := New(0); err == nil {
		t.Fatal("expected error for zero quantum_usecs")
	}
	if _, err := New(-5); err == nil {
		t.Fatal("expected error for negative quantum_usecs")
	}
}

func TestNewStartsWithMainRunningAndOneQuantum(t *testing.T) {
	s := newTestScheduler(t)
	if got := s.GetTID(); got != 0 {
		t.Fatalf("expected main tid 0, got %d", got)
	}
	if got := s.GetTotalQuantums(); got != 1 {
		t.Fatalf("expected 1 total quantum at init, got %d", got)
	}
	if got := s.GetQuantums(0); got != 1 {
		t.Fatalf("expected main run_quantums 1, got %d", got)
	}
}

func TestSpawnAssignsFirstIdAndQueuesReady(t *testing.T) {
	s := newTestScheduler(t)
	block := make(chan struct{})
	done := make(chan struct{})

	id, err := s.Spawn(func() {
		<-block
		close(done)
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected first spawned tid 1, got %d", id)
	}
	if !s.ready.contains(id) {
		t.Fatal("expected spawned thread in ready queue")
	}

	close(block)
	s.gate.RequestPreempt()
	s.Checkpoint() // elect the spawned thread; Spawn alone only queues it
	<-done
}

func TestSpawnRejectsNilEntry(t *testing.T) {
	s := newTestScheduler(t)
	if _, err := s.Spawn(nil); err == nil {
		t.Fatal("expected error for nil entry")
	}
}

func TestSpawnFailsAtMaxThreads(t *testing.T) {
	s, err := New(1_000_000, WithMaxThreads(2))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(s.Shutdown)

	block := make(chan struct{})
	if _, err := s.Spawn(func() { <-block }); err != nil {
		t.Fatalf("first Spawn: %v", err)
	}
	if _, err := s.Spawn(func() { <-block }); err == nil {
		t.Fatal("expected resource error once max thread count is reached")
	}
	close(block)
}

// TestCheckpointElectsInReadyQueueOrder spawns two threads that each
// record their own tid and self-terminate (no further Checkpoint calls of
// their own), so the whole relay main -> A -> B -> main happens inside a
// single Checkpoint call on main: Jump only hands off the baton, and
// every non-destroying switch parks the outgoing side on its own Save
// immediately afterward, so the chain unwinds back to whoever is waiting
// on the next Save in line.
func TestCheckpointElectsInReadyQueueOrder(t *testing.T) {
	s := newTestScheduler(t)

	var mu sync.Mutex
	var order []int
	doneA := make(chan struct{})
	doneB := make(chan struct{})

	record := func(done chan<- struct{}) func() {
		return func() {
			mu.Lock()
			order = append(order, s.GetTID())
			mu.Unlock()
			close(done)
		}
	}

	idA, err := s.Spawn(record(doneA))
	if err != nil {
		t.Fatalf("spawn A: %v", err)
	}
	idB, err := s.Spawn(record(doneB))
	if err != nil {
		t.Fatalf("spawn B: %v", err)
	}

	s.gate.RequestPreempt()
	s.Checkpoint() // relays main -> A -> B -> main and returns once back on main

	select {
	case <-doneA:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for thread A")
	}
	select {
	case <-doneB:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for thread B")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != idA || order[1] != idB {
		t.Fatalf("expected round-robin order [%d %d], got %v", idA, idB, order)
	}
	if got := s.GetTID(); got != 0 {
		t.Fatalf("expected control back on main, got tid %d", got)
	}
}

func TestBlockSelfSwitchesAwayAndResumeReturnsToReady(t *testing.T) {
	s := newTestScheduler(t)

	reached := make(chan struct{})
	resumed := make(chan struct{})
	id, err := s.Spawn(func() {
		close(reached)
		if err := s.Block(s.GetTID()); err != nil {
			t.Errorf("self Block: %v", err)
		}
		close(resumed)
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	s.gate.RequestPreempt()
	s.Checkpoint() // elect the spawned thread

	select {
	case <-reached:
	case <-time.After(time.Second):
		t.Fatal("spawned thread never ran")
	}

	// The spawned thread blocked itself and control returned to main.
	if got := s.GetTID(); got != 0 {
		t.Fatalf("expected control back on main after self-block, got tid %d", got)
	}

	if err := s.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if !s.ready.contains(id) {
		t.Fatal("expected resumed thread back in ready queue")
	}

	s.gate.RequestPreempt()
	s.Checkpoint() // elect it again so it can finish

	select {
	case <-resumed:
	case <-time.After(time.Second):
		t.Fatal("resumed thread never finished")
	}
}

func TestResumeOnNonBlockedThreadIsNoOp(t *testing.T) {
	s := newTestScheduler(t)
	block := make(chan struct{})
	id, err := s.Spawn(func() { <-block })
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := s.Resume(id); err != nil {
		t.Fatalf("Resume on ready thread: %v", err)
	}
	if !s.ready.contains(id) {
		t.Fatal("expected thread to remain ready")
	}
	close(block)
}

func TestSleepSingleQuantumWakesAfterOneElection(t *testing.T) {
	s := newTestScheduler(t)

	woke := make(chan struct{})
	sleeperID, err := s.Spawn(func() {
		if err := s.Sleep(1); err != nil {
			t.Errorf("Sleep: %v", err)
		}
		close(woke)
	})
	if err != nil {
		t.Fatalf("Spawn sleeper: %v", err)
	}

	s.gate.RequestPreempt()
	s.Checkpoint() // elect sleeper; it immediately sleeps and switches back to main

	if s.ready.contains(sleeperID) {
		t.Fatal("sleeping thread must not be in the ready queue after only one election")
	}
	select {
	case <-woke:
		t.Fatal("sleeper must not wake on the election that granted its own sleep")
	default:
	}

	s.gate.RequestPreempt()
	s.Checkpoint() // tickSleepers fires here, at the start of the next election,
	// and immediately elects the now-ready sleeper

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("sleeper never woke after its single quantum elapsed")
	}
}

func TestSleepRejectsMainThread(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Sleep(1); err == nil {
		t.Fatal("expected error when main thread calls Sleep")
	}
}

func TestSleepRejectsNonPositiveQuantums(t *testing.T) {
	s := newTestScheduler(t)
	done := make(chan struct{})
	_, err := s.Spawn(func() {
		if err := s.Sleep(0); err == nil {
			t.Error("expected error for num_quantums < 1")
		}
		close(done)
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	s.gate.RequestPreempt()
	s.Checkpoint()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out")
	}
}

func TestSelfElectWithOnlyOneLiveThread(t *testing.T) {
	s := newTestScheduler(t)
	before := s.GetTotalQuantums()

	// Main is the only live thread; a preemption must not switch it out.
	s.gate.RequestPreempt()
	s.Checkpoint()

	if got := s.GetTID(); got != 0 {
		t.Fatalf("expected main to remain current, got tid %d", got)
	}
	if got := s.GetTotalQuantums(); got != before {
		t.Fatalf("expected no quantum charged on self-elect, got %d want %d", got, before)
	}
}

func TestTerminateSelfSwitchesAwayWithoutReturning(t *testing.T) {
	s := newTestScheduler(t)

	finished := make(chan struct{})
	id, err := s.Spawn(func() {
		if err := s.Terminate(s.GetTID()); err != nil {
			t.Errorf("self Terminate: %v", err)
		}
		// Unreachable: Terminate(self) ends the goroutine via runtime.Goexit.
		close(finished)
	})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	s.gate.RequestPreempt()
	s.Checkpoint()

	select {
	case <-finished:
		t.Fatal("expected self-terminate to never return to its caller")
	case <-time.After(50 * time.Millisecond):
	}

	if _, ok := s.threads[id]; ok {
		t.Fatal("expected terminated thread removed from scheduler")
	}
	if got := s.GetTID(); got != 0 {
		t.Fatalf("expected control back on main after self-terminate, got tid %d", got)
	}
}

func TestTerminateOtherRemovesFromReadyQueue(t *testing.T) {
	s := newTestScheduler(t)
	block := make(chan struct{})
	id, err := s.Spawn(func() { <-block })
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	if err := s.Terminate(id); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if s.ready.contains(id) {
		t.Fatal("expected terminated thread removed from ready queue")
	}
	if _, ok := s.threads[id]; ok {
		t.Fatal("expected terminated thread removed from thread table")
	}
	close(block)
}

func TestTerminateUnknownTidFails(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Terminate(99); err == nil {
		t.Fatal("expected error for unknown tid")
	}
}

func TestBlockMainFails(t *testing.T) {
	s := newTestScheduler(t)
	if err := s.Block(0); err == nil {
		t.Fatal("expected error blocking main thread")
	}
}

func TestGetQuantumsUnknownTidReturnsNegativeOne(t *testing.T) {
	s := newTestScheduler(t)
	if got := s.GetQuantums(42); got != -1 {
		t.Fatalf("expected -1 for unknown tid, got %d", got)
	}
}
