// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

// Package codecglue adapts G.711 payloads into PCM16 samples for the
// session endpoint's VAD gate (§4.3 step "codec.decode"). It is a decode
// adapter only — full codec negotiation and transcoding are out of scope.
package codecglue

import (
	"fmt"

	"github.com/zaf/g711"
)

// PayloadType identifies which G.711 law a payload is encoded with.
type PayloadType uint8

const (
	PayloadTypePCMU PayloadType = 0
	PayloadTypePCMA PayloadType = 8
)

// DecodeToPCM16 converts a G.711 RTP payload into signed 16-bit PCM
// samples, the minimal "codec.decode" glue the VAD energy scan needs.
func DecodeToPCM16(pt PayloadType, payload []byte) ([]int16, error) {
	samples := make([]int16, len(payload))
	switch pt {
	case PayloadTypePCMU:
		for i, b := range payload {
			samples[i] = g711.DecodeUlawFrame(b)
		}
	case PayloadTypePCMA:
		for i, b := range payload {
			samples[i] = g711.DecodeAlawFrame(b)
		}
	default:
		return nil, fmt.Errorf("codecglue: unsupported payload type %d for VAD decode", pt)
	}
	return samples, nil
}

func abs16(v int16) int32 {
	if v < 0 {
		return -int32(v)
	}
	return int32(v)
}

// EnergyScore computes the mean absolute sample amplitude, the same
// metric original_source/src/switch_rtp.c's VAD scan compares against its
// learned background level.
func EnergyScore(samples []int16) uint32 {
	if len(samples) == 0 {
		return 0
	}
	var sum int64
	for _, s := range samples {
		sum += int64(abs16(s))
	}
	return uint32(sum / int64(len(samples)))
}

// VAD tracks a learned background noise level and a talking/silent state
// with hangover (frames of near-silence tolerated before declaring silence
// again) and hangunder (frames of above-background energy required before
// declaring talking) debounce, mirroring switch_rtp_vad_data.
type VAD struct {
	BackgroundLearnFrames int
	DiffLevel             uint32
	HangunderFrames       int
	HangoverFrames        int

	bgLevel     uint32
	bgCount     int
	bgLearned   bool
	talking     bool
	hangunderHits int
	hangoverHits  int
}

// NewVAD constructs a VAD with the original's defaults: learn background
// over 5 frames, declare talking after 3 above-threshold frames, declare
// silence again after 10 below-threshold frames.
func NewVAD() *VAD {
	return &VAD{BackgroundLearnFrames: 5, DiffLevel: 400, HangunderFrames: 3, HangoverFrames: 10}
}

// Scan feeds one frame's energy score through the state machine and
// reports whether the endpoint should currently be considered talking.
func (v *VAD) Scan(score uint32) bool {
	if !v.bgLearned {
		v.bgLevel += score
		v.bgCount++
		if v.bgCount >= v.BackgroundLearnFrames {
			v.bgLevel /= uint32(v.BackgroundLearnFrames)
			v.bgLearned = true
		}
		return v.talking
	}

	if score > v.bgLevel {
		diff := score - v.bgLevel
		if v.hangoverHits > 0 {
			v.hangoverHits--
		}
		if diff >= v.DiffLevel {
			v.hangunderHits++
		}
		if v.hangunderHits >= v.HangunderFrames {
			v.talking = true
			v.hangunderHits = 0
		}
	} else if v.talking {
		v.hangoverHits++
		if v.hangoverHits >= v.HangoverFrames {
			v.talking = false
			v.hangoverHits = 0
			v.hangunderHits = 0
		}
	}
	return v.talking
}

// Reset clears learned background level and state, used when the VAD flag
// is re-enabled mid-session.
func (v *VAD) Reset() {
	*v = VAD{BackgroundLearnFrames: v.BackgroundLearnFrames, DiffLevel: v.DiffLevel, HangunderFrames: v.HangunderFrames, HangoverFrames: v.HangoverFrames}
}
