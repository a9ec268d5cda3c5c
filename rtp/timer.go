// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

import "time"

// Timer is the injected scheduling capability used to pace read and write
// (§4.3, §5). Per §9 Design Notes ("Open question: timer sources") this
// package does not reproduce a named-backend registry: callers hand in
// whatever Timer implementation fits their runtime (a real clock, a test
// fake, a sample-accurate audio clock).
type Timer interface {
	// Step advances the timer by one tick, blocking until the tick is due
	// when the implementation is rate-paced (e.g. a real-time ticker).
	Step()
	// Check reports whether a tick is due without blocking.
	Check() bool
	// SampleCount returns the monotonic sample counter maintained by the
	// timer, used by the write path to stamp timestamps when the caller
	// does not supply one explicitly.
	SampleCount() uint32
	// Interval returns the configured samples-per-tick.
	Interval() uint32
}

// SystemTimer paces ticks with a real time.Ticker at the given sample
// interval and sample rate, advancing SampleCount() by samplesPerInterval
// every tick — the common case for a session driven by wall-clock audio
// frames rather than an external sample-accurate source.
type SystemTimer struct {
	ticker            *time.Ticker
	samplesPerInterval uint32
	samples           uint32
}

func NewSystemTimer(interval time.Duration, samplesPerInterval uint32) *SystemTimer {
	return &SystemTimer{
		ticker:             time.NewTicker(interval),
		samplesPerInterval: samplesPerInterval,
	}
}

func (t *SystemTimer) Step() {
	<-t.ticker.C
	t.samples += t.samplesPerInterval
}

func (t *SystemTimer) Check() bool {
	select {
	case <-t.ticker.C:
		t.samples += t.samplesPerInterval
		return true
	default:
		return false
	}
}

func (t *SystemTimer) SampleCount() uint32 { return t.samples }

func (t *SystemTimer) Interval() uint32 { return t.samplesPerInterval }

func (t *SystemTimer) Stop() { t.ticker.Stop() }
