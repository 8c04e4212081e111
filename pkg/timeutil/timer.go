// Package timeutil provides timer helpers for the build core's deadline
// handling.
package timeutil

import (
	"time"
)

// StopAndDrainTimer stops a timer and performs a non-blocking drain on its
// channel, regardless of whether the timer already fired. The executors use
// it to retire their output-drain deadline timers without tracking which
// side of the deadline a join finished on.
func StopAndDrainTimer(timer *time.Timer) {
	timer.Stop()
	select {
	case <-timer.C:
	default:
	}
}
