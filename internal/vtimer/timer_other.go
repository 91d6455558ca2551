//go:build !unix

package vtimer

import (
	"fmt"
	"time"
)

// Timer on non-unix platforms cannot be armed: there is no portable
// ITIMER_VIRTUAL equivalent. Constructing one is a fatal configuration
// error per spec §7, surfaced here as a plain error for the caller to
// escalate.
type Timer struct {
	quantum time.Duration
}

func Start(quantumUsecs int) (*Timer, error) {
	return nil, fmt.Errorf("vtimer: virtual interval timers are not supported on this platform")
}

func (t *Timer) Reset() error        { return fmt.Errorf("vtimer: unsupported platform") }
func (t *Timer) Stop() error         { return fmt.Errorf("vtimer: unsupported platform") }
func (t *Timer) QuantumUsecs() int64 { return 0 }
