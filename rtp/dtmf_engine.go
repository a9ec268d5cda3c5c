// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package rtp

import "sync"

// Component 4 — RFC 2833/4733 DTMF engine. Grounded on the teacher's
// RTPDtmfWriter.writeDTMF (redundant train via ticker) and
// processDTMFEvent (debounce-on-duplicate-end receive logic), generalized
// from a fixed "7 redundant events" constant into the spec's explicit
// 3-packet start/end trains with a growing continuation phase in between.

const (
	dtmfTrainRepeats = 3
)

// PendingDigit is one queued outbound DTMF digit.
type PendingDigit struct {
	Digit          rune
	DurationSamples uint16
	Volume          uint8
}

type dtmfSendState struct {
	active          bool
	event           uint8
	volume          uint8
	durationTotal   uint16
	sofar           uint16
	startsSent      int
	endsSent        int
	ts              uint32
}

// DTMFSender drives the outbound RFC 2833 event train one tick at a time
// (§4.4 "Outbound"). SamplesPerTick must match the caller's frame interval
// so the Duration field advances in step with the wall clock.
type DTMFSender struct {
	mu              sync.Mutex
	pending         []PendingDigit
	state           dtmfSendState
	samplesPerTick  uint16
	buggy2833       bool
}

func NewDTMFSender(samplesPerTick uint16) *DTMFSender {
	return &DTMFSender{samplesPerTick: samplesPerTick}
}

// SetBuggy2833 suppresses the marker bit on the very first start packet,
// matching the BUGGY_2833 interop flag (§6).
func (s *DTMFSender) SetBuggy2833(on bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buggy2833 = on
}

// Queue appends a digit to send. durationSamples is the digit's total
// nominal duration (e.g. 160ms at 8kHz = 1280 samples).
func (s *DTMFSender) Queue(digit rune, durationSamples uint16, volume uint8) error {
	if !isDTMFChar(digit) {
		return wrapErr(KindInvalidPacket, "rtp: not a dtmf character", ErrInvalidPacket)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, PendingDigit{Digit: digit, DurationSamples: durationSamples, Volume: volume})
	return nil
}

// Pending reports whether the sender has digits queued or in flight.
func (s *DTMFSender) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.active || len(s.pending) > 0
}

// sentEvent is one outbound telephone-event packet: its payload plus
// whether it starts a new event (and so should carry the RTP marker bit)
// and the frozen event timestamp to stamp the RTP header with.
type sentEvent struct {
	Payload []byte
	Marker  bool
	Ts      uint32
}

// Tick advances the train by one step and returns the next packet to send,
// or ok=false if there is nothing to send this tick (§4.4 "called once per
// tick"). currentTs is the RTP timestamp to freeze for a newly started
// event.
func (s *DTMFSender) Tick(currentTs uint32) (sentEvent, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.active {
		if len(s.pending) == 0 {
			return sentEvent{}, false
		}
		d := s.pending[0]
		s.pending = s.pending[1:]
		s.state = dtmfSendState{
			active:        true,
			event:         dtmfEventMapping[d.Digit],
			volume:        d.Volume,
			durationTotal: d.DurationSamples,
			sofar:         uint16(s.samplesPerTick),
			ts:            currentTs,
		}
	}

	st := &s.state

	if st.startsSent < dtmfTrainRepeats {
		marker := st.startsSent == 0 && !s.buggy2833
		pkt := EncodeDTMF(DTMFEvent{Event: st.event, EndOfEvent: false, Volume: st.volume, Duration: st.sofar})
		st.startsSent++
		return sentEvent{Payload: pkt, Marker: marker, Ts: st.ts}, true
	}

	if st.sofar < st.durationTotal {
		st.sofar += s.samplesPerTick
		if st.sofar > st.durationTotal {
			st.sofar = st.durationTotal
		}
		pkt := EncodeDTMF(DTMFEvent{Event: st.event, EndOfEvent: false, Volume: st.volume, Duration: st.sofar})
		return sentEvent{Payload: pkt, Ts: st.ts}, true
	}

	pkt := EncodeDTMF(DTMFEvent{Event: st.event, EndOfEvent: true, Volume: st.volume, Duration: st.durationTotal})
	st.endsSent++
	if st.endsSent >= dtmfTrainRepeats {
		s.state = dtmfSendState{}
	}
	return sentEvent{Payload: pkt, Ts: st.ts}, true
}

// DTMFReceiver decodes an inbound event stream into ASCII digits (§4.4
// "Inbound"), applying the duplicate-end debounce so a held digit doesn't
// repeat and a freshly re-pressed identical digit is still recognized.
type DTMFReceiver struct {
	mu           sync.Mutex
	queue        *DTMFByteQueue
	inDigitSeq   uint16
	haveInSeq    bool
	lastDigit    uint8
	haveLastDigit bool
	dupEndCount  int
	lastDigitAt  uint64 // caller-supplied monotonic clock, e.g. milliseconds
	breakRequested bool
}

// NewDTMFReceiver constructs a receiver delivering decoded digits into
// queueCapacity bytes of FIFO buffer.
func NewDTMFReceiver(queueCapacity int) *DTMFReceiver {
	return &DTMFReceiver{queue: NewDTMFByteQueue(queueCapacity)}
}

// dtmfIdleResetMillis is the gap after which stale debounce state is
// discarded rather than carried into an unrelated later event train.
const dtmfIdleResetMillis = 2000

// Feed processes one inbound telephone-event packet. seq is the packet's
// RTP sequence number (used for the strictly-increasing guard); nowMillis
// is the caller's monotonic clock.
func (r *DTMFReceiver) Feed(seq uint16, payload []byte, nowMillis uint64) error {
	ev, err := DecodeDTMF(payload)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.haveInSeq && int16(seq-r.inDigitSeq) <= 0 {
		return nil
	}
	r.inDigitSeq = seq
	r.haveInSeq = true

	if r.haveLastDigit && nowMillis-r.lastDigitAt > dtmfIdleResetMillis {
		r.haveLastDigit = false
		r.dupEndCount = 0
	}

	if ev.Duration == 0 || !ev.EndOfEvent {
		return nil
	}

	r.lastDigitAt = nowMillis

	if !r.haveLastDigit || r.lastDigit != ev.Event {
		ch, ok := dtmfEventMappingRev[ev.Event]
		if !ok {
			return wrapErr(KindInvalidPacket, "rtp: unknown dtmf event", ErrInvalidPacket)
		}
		if _, err := r.queue.Write([]byte{byte(ch)}); err != nil {
			return err
		}
		r.lastDigit = ev.Event
		r.haveLastDigit = true
		r.dupEndCount = 0
		r.breakRequested = true
		return nil
	}

	r.dupEndCount++
	if r.dupEndCount >= dtmfTrainRepeats {
		r.haveLastDigit = false
		r.dupEndCount = 0
	}
	return nil
}

// TakeBreakRequest reports and clears whether a new digit was decoded
// since the last call, the signal a session endpoint uses to set its
// one-shot BREAK flag (§6).
func (r *DTMFReceiver) TakeBreakRequest() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.breakRequested
	r.breakRequested = false
	return v
}

// Read drains decoded digits into p.
func (r *DTMFReceiver) Read(p []byte) int {
	return r.queue.Read(p)
}

// Len reports the number of decoded digits waiting to be read.
func (r *DTMFReceiver) Len() int {
	return r.queue.Len()
}
