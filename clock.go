// clock.go: Time source abstraction used by expiring signatures.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keyczar

import (
	"time"

	"github.com/agilira/go-timecache"
)

// Clock supplies the current time to operations that check expiry.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// cachedClock reads the process-wide cached time, which avoids a syscall per
// verification at millisecond resolution.
type cachedClock struct{}

func (cachedClock) Now() time.Time { return timecache.CachedTime() }

// DefaultClock returns the clock used when none is injected.
func DefaultClock() Clock { return cachedClock{} }

// FixedClock returns a Clock that always reports t.
func FixedClock(t time.Time) Clock {
	return ClockFunc(func() time.Time { return t })
}
