// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package session

import "time"

// Clock supplies time and delays to a session so retry, debounce and cache
// timing can be driven by tests.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

// RealClock uses the system clock
type RealClock struct{}

// Now returns time.Now()
func (RealClock) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep
func (RealClock) Sleep(d time.Duration) { time.Sleep(d) }
