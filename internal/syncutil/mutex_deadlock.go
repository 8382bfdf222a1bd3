//go:build deadlock

// Package syncutil provides the mutex types used across the card.
// This file is compiled when building with -tags=deadlock.
package syncutil

import deadlock "github.com/sasha-s/go-deadlock"

func init() {
	// The serving loop holds its lock across a blocking frame capture with
	// no timeout, so only lock ordering is checked.
	deadlock.Opts.DeadlockTimeout = 0
}

// Mutex wraps deadlock.Mutex.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex wraps deadlock.RWMutex.
type RWMutex struct {
	deadlock.RWMutex
}

// Checked reports whether lock checking is compiled in.
func Checked() bool {
	return true
}
