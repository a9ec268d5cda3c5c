// SPDX-License-Identifier: BSD-2-Clause
// Copyright (C) 2024 Emir Aganovic

package rtp

import "time"

// Codec is the subset of payload negotiation the core needs: sample rate
// and nominal frame duration for jitter-buffer inference and RTCP
// timestamp math. Full codec negotiation (SDP) is out of scope per §1.
type Codec struct {
	PayloadType uint8
	SampleRate  uint32
	SampleDur   time.Duration
}

func (c *Codec) SampleTimestamp() uint32 {
	return uint32(float64(c.SampleRate) * c.SampleDur.Seconds())
}

var (
	CodecPCMU = Codec{PayloadType: 0, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
	CodecPCMA = Codec{PayloadType: 8, SampleRate: 8000, SampleDur: 20 * time.Millisecond}
)

// DefaultCNGPayloadType is SWITCH_RTP_CNG_PAYLOAD in the original; per §9
// Design Notes ("Open question: CNG semantics") the operator-configured
// value is authoritative and this is only the fallback when unset.
const DefaultCNGPayloadType uint8 = 13

// DefaultTelephoneEventPayloadType is the common static assignment for
// RFC 4733/2833 telephone-event (payload type 101 by convention, not a
// fixed IANA static PT — callers configure it explicitly in most
// deployments, this is only a sane constructor default).
const DefaultTelephoneEventPayloadType uint8 = 101

// GOOGLEHACK rewrites payload type 102 to 97 and back, a historical
// interop fixup some Google endpoints required for the telephone-event
// payload type. §6 names the flag; the rewrite pair is fixed.
const (
	googleHackFrom uint8 = 102
	googleHackTo   uint8 = 97
)

// ApplyGoogleHack rewrites pt if the GOOGLEHACK flag is active, in either
// direction (both directions use the same pair, so the rewrite is its own
// inverse).
func ApplyGoogleHack(pt uint8, active bool) uint8 {
	if !active {
		return pt
	}
	switch pt {
	case googleHackFrom:
		return googleHackTo
	case googleHackTo:
		return googleHackFrom
	default:
		return pt
	}
}

// CNGKeepAlivePayload is the synthetic comfort-noise payload §4.3 step 7
// emits to keep a path alive; CNGBreakPayload is the soft-break
// placeholder payload §4.3 step 5 emits on BREAK.
var (
	CNGKeepAlivePayload = []byte{0x41}
	CNGBreakPayload     = []byte{0x7F}
)
