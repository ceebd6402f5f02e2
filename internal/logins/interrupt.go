package logins

import "sync/atomic"

// Interrupter provides a non-blocking, cooperative cancellation check. The
// reconciler and update-plan executor poll it between records and between
// SQL chunks; they never block waiting on it.
type Interrupter interface {
	IsInterrupted() bool
}

// NeverInterrupt never signals, for callers with no cancellation source.
type NeverInterrupt struct{}

func (NeverInterrupt) IsInterrupted() bool { return false }

// InterruptFlag is an edge-triggered, non-preemptive cancel token: once
// Signal is called, every subsequent IsInterrupted call returns true. It is
// safe to share across goroutines, though the core itself is single-writer.
type InterruptFlag struct {
	flag atomic.Bool
}

func (f *InterruptFlag) Signal() { f.flag.Store(true) }

func (f *InterruptFlag) IsInterrupted() bool { return f.flag.Load() }

func checkInterrupt(interrupter Interrupter) error {
	if interrupter != nil && interrupter.IsInterrupted() {
		return ErrInterrupted
	}
	return nil
}
