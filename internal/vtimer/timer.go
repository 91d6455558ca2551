//go:build unix

// Package vtimer arms a virtual-time interval timer that delivers
// SIGVTALRM to this process every configured quantum, measured in CPU time
// actually charged to the process rather than wall-clock time.
package vtimer

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// Timer wraps setitimer(ITIMER_VIRTUAL, ...). It holds no OS-level state of
// its own beyond what the kernel already tracks for the process's single
// virtual timer, so a Timer value is safe to keep by value inside the
// owning Scheduler.
type Timer struct {
	quantum time.Duration
}

// Start arms the first interval and the periodic reload at quantumUsecs
// microseconds. It fails if quantumUsecs is not positive, or if the
// platform rejects ITIMER_VIRTUAL, which spec §7 classifies as a fatal
// configuration error.
func Start(quantumUsecs int) (*Timer, error) {
	if quantumUsecs <= 0 {
		return nil, fmt.Errorf("vtimer: quantum must be positive, got %d", quantumUsecs)
	}
	t := &Timer{quantum: time.Duration(quantumUsecs) * time.Microsecond}
	if err := t.arm(); err != nil {
		return nil, fmt.Errorf("vtimer: setitimer(ITIMER_VIRTUAL): %w", err)
	}
	return t, nil
}

// Reset re-arms the timer from now, so a thread elected by a voluntary
// switch gets a full quantum rather than the remainder of the outgoing
// thread's.
func (t *Timer) Reset() error {
	return t.arm()
}

// Stop disarms the timer. Used by Scheduler.Shutdown.
func (t *Timer) Stop() error {
	_, err := unix.Setitimer(unix.ITIMER_VIRTUAL, unix.Itimerval{})
	return err
}

func (t *Timer) arm() error {
	tv := unix.NsecToTimeval(t.quantum.Nanoseconds())
	val := unix.Itimerval{
		Value:    tv,
		Interval: tv,
	}
	_, err := unix.Setitimer(unix.ITIMER_VIRTUAL, val)
	return err
}

// QuantumUsecs reports the configured quantum length.
func (t *Timer) QuantumUsecs() int64 {
	return t.quantum.Microseconds()
}
