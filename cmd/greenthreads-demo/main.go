// Command greenthreads-demo spawns a handful of cooperatively scheduled
// threads and logs each election, so the engine's round-robin behavior can
// be watched rather than only asserted in tests. It is a thin wrapper
// around the greenthreads package, not part of the engine itself.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/YaelBatat/greenthreads/greenthreads"
	"github.com/YaelBatat/greenthreads/internal/gtlog"
)

var (
	flagQuantumUsecs int
	flagThreads      int
	flagLogLevel     string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "greenthreads-demo",
		Short: "Run a small round-robin demo on the greenthreads engine",
		RunE:  runDemo,
	}

	root.PersistentFlags().IntVar(&flagQuantumUsecs, "quantum-usecs", 200_000, "virtual-time quantum length, in microseconds")
	root.PersistentFlags().IntVar(&flagThreads, "threads", 3, "number of worker threads to spawn")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "log level (debug, info, warn, error)")

	return root
}

func runDemo(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	log := gtlog.Console(level)

	if rc := greenthreads.Init(flagQuantumUsecs, greenthreads.WithLogger(log)); rc != 0 {
		return fmt.Errorf("greenthreads.Init failed")
	}
	defer greenthreads.Shutdown()

	done := make(chan int, flagThreads)
	for i := 0; i < flagThreads; i++ {
		worker := i
		tid := greenthreads.Spawn(func() {
			for step := 0; step < 3; step++ {
				log.Info().Int("worker", worker).Int("tid", greenthreads.GetTID()).Int("step", step).
					Msg("working")
				greenthreads.Checkpoint()
			}
			if rc := greenthreads.Sleep(2); rc != 0 {
				log.Warn().Int("worker", worker).Msg("sleep failed")
			}
			log.Info().Int("worker", worker).Msg("done")
			done <- greenthreads.GetTID()
		})
		if tid < 0 {
			return fmt.Errorf("spawn worker %d failed", worker)
		}
	}

	deadline := time.Now().Add(5 * time.Second)
	finished := 0
	for finished < flagThreads && time.Now().Before(deadline) {
		greenthreads.Checkpoint()
		select {
		case <-done:
			finished++
		default:
		}
	}

	log.Info().Int("total_quantums", greenthreads.GetTotalQuantums()).Msg("demo finished")
	return nil
}
