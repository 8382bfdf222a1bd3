//go:build !deadlock

// Package syncutil provides the mutex types used across the card. By default
// they are plain sync mutexes. Build with -tags=deadlock to swap in
// github.com/sasha-s/go-deadlock for lock-order checking.
package syncutil

import "sync"

// Mutex wraps sync.Mutex.
//
//nolint:gocritic // Embedded to expose Lock/Unlock/TryLock directly
type Mutex struct {
	sync.Mutex
}

// RWMutex wraps sync.RWMutex.
//
//nolint:gocritic // Embedded to expose the full RWMutex method set
type RWMutex struct {
	sync.RWMutex
}

// Checked reports whether lock checking is compiled in.
func Checked() bool {
	return false
}
