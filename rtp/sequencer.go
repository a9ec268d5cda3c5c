// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package rtp

import "math/rand"

// RFC 3550 appendix A.1 constants, as used by the teacher's sequencer and
// by original_source/libs/jrtplib/src/rtpsources.cpp's update_seq.
var (
	maxMisorder uint16 = 100
	maxDropout  uint16 = 3000
	maxSeqNum   uint16 = 65535
)

// ExtendedSequenceNumber tracks a 16-bit RTP sequence number plus wrap-
// around count, giving callers a monotonic 64-bit view for ordering and
// loss accounting. Not safe for concurrent use; callers serialize access
// same as the jitter buffer (§5 Shared mutable state).
type ExtendedSequenceNumber struct {
	seqNum  uint16
	wrapped uint16
	badSeq  uint16
}

func NewSequencer() ExtendedSequenceNumber {
	var sn ExtendedSequenceNumber
	sn.InitSeq(uint16(rand.Uint32()))
	return sn
}

func (sn *ExtendedSequenceNumber) InitSeq(seq uint16) {
	sn.seqNum = seq
	sn.badSeq = maxSeqNum
	sn.wrapped = 0
}

// UpdateSeq implements RFC 1889 Appendix A.2's update_seq (the probation-
// free variant the teacher uses for raw read-side tracking; the
// participant table in package rtcp layers the full validated/probation
// state machine on top of the same constants).
func (sn *ExtendedSequenceNumber) UpdateSeq(seq uint16) error {
	maxSeq := sn.seqNum
	udelta := seq - maxSeq

	if udelta < maxDropout {
		if seq < maxSeq {
			sn.wrapped++
		}
		sn.seqNum = seq
		return nil
	}

	if udelta <= maxSeqNum-maxMisorder {
		if seq == sn.badSeq {
			sn.InitSeq(seq)
			return nil
		}
		sn.badSeq = seq + 1
		return ErrRTPSequenceBad
	}

	return ErrRTPSequenceDuplicate
}

func (sn *ExtendedSequenceNumber) ReadExtendedSeq() uint64 {
	return uint64(sn.seqNum) + (uint64(maxSeqNum)+1)*uint64(sn.wrapped)
}

func (sn *ExtendedSequenceNumber) NextSeqNumber() uint16 {
	sn.seqNum++
	if sn.seqNum == 0 {
		sn.wrapped++
	}
	return sn.seqNum
}

var (
	ErrRTPSequenceBad       = wrapErr(KindInvalidState, "rtp: sequence out of order", nil)
	ErrRTPSequenceDuplicate = wrapErr(KindInvalidState, "rtp: sequence duplicate", nil)
)
