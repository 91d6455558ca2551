// Package fatal is the engine's unrecoverable-configuration-error path:
// timer install failure, context-buffer synthesis on an unsupported
// platform, signal-mask install failure (spec §7, "Fatal configuration").
//
// It is adapted from sparkos/kernel/panic.go's recovered-panic reporting:
// the same single-writer atomic.Bool plus sync.Once shape, generalized
// from "a goroutine panicked" to "the environment cannot run this
// engine", since this engine has no recoverable-panic concept of its own
// to report.
package fatal

import (
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Info describes the unrecoverable condition. Stack is filled in by
// Trigger, not by the caller.
type Info struct {
	Reason string
	Err    error
	Stack  []byte
}

var (
	active  atomic.Bool
	once    sync.Once
	handler atomic.Value // func(Info)
)

// Active reports whether the process has already entered fatal mode.
func Active() bool {
	return active.Load()
}

// SetHandler installs a process-wide handler invoked at most once, before
// the process exits. Tests use this to observe the diagnostic without
// actually calling os.Exit (see WithoutExit).
func SetHandler(fn func(Info)) {
	handler.Store(fn)
}

// Trigger logs the diagnostic and terminates the process. It is a no-op
// past the first call: only the first fatal condition is reported.
func Trigger(log zerolog.Logger, info Info) {
	once.Do(func() {
		active.Store(true)
		info.Stack = debug.Stack()
		log.Error().Err(info.Err).Str("reason", info.Reason).Bytes("stack", info.Stack).
			Msg("fatal configuration error")
		if v := handler.Load(); v != nil {
			if fn, ok := v.(func(Info)); ok && fn != nil {
				fn(info)
			}
		}
		if !testMode.Load() {
			os.Exit(1)
		}
	})
}

var testMode atomic.Bool

// WithoutExit disables the os.Exit(1) call made by Trigger, for tests that
// need to exercise the fatal path without killing the test binary. It
// returns a restore function.
func WithoutExit() (restore func()) {
	testMode.Store(true)
	return func() { testMode.Store(false) }
}
