// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

// Component 2 — adaptive jitter buffer. Three rotating frame arrays
// ("in"/"out"/"old"), grounded on original_source/libs/stfu/stfu.c
// (stfu_frame_t / stfu_instance's three-queue rotation) but expressed as
// Go slices and explicit state instead of the C library's fixed
// STFU_DATALEN byte arrays and opaque instance pointer.

// IntakeStatus is the result of a Put call (§4.2 intake contract).
type IntakeStatus int

const (
	IntakeOK IntakeStatus = iota
	IntakeNeedMoreData
	IntakeTooLate
)

// Frame is one playout-ready unit emitted by Read, real or PLC.
type Frame struct {
	Timestamp      uint32
	SequenceNumber uint16
	PayloadType    uint8
	Payload        []byte
	PLC            bool
}

type slot struct {
	ts      uint32
	seq     uint16
	pt      uint8
	payload []byte
	read    bool
	valid   bool
}

// Options configures the buffer's adaptive-resize policy (§4.2). Zero
// values select the documented defaults.
type Options struct {
	OrigQlen      uint32
	MaxQlen       uint32
	MaxDrift      uint32 // 0 disables drift-based drop
	DriftMaxDropped uint32
	PeriodTime    uint32 // ticks per resize-policy evaluation period
	DecrementTime uint32 // consecutive-good / clean-period threshold to shrink
	MaxPLC        uint32 // consecutive PLC misses tolerated before reset
}

func (o *Options) setDefaults() {
	if o.OrigQlen == 0 {
		o.OrigQlen = 3
	}
	if o.MaxQlen == 0 {
		o.MaxQlen = 10
	}
	if o.DriftMaxDropped == 0 {
		o.DriftMaxDropped = 5
	}
	if o.PeriodTime == 0 {
		o.PeriodTime = 100
	}
	if o.DecrementTime == 0 {
		o.DecrementTime = 50
	}
	if o.MaxPLC == 0 {
		o.MaxPLC = 50
	}
}

// JitterBuffer implements §3.3/§4.2. Not safe for concurrent intake+read;
// callers single-thread it or serialize calls (§5).
type JitterBuffer struct {
	opts Options
	qlen uint32

	in, out, old []slot
	inCount      int

	samplesPerPacket uint32
	sppReady         bool
	inferLastTs      uint32
	inferHaveLastTs  bool
	inferDelta       uint32
	inferMatches     int

	curTs      uint32
	curTsReady bool
	lastWrTs   uint32
	needsSync  bool

	tsOffset    int64
	tsOffsetSet bool
	tsDrift     int64
	driftDropped uint32

	periodTicks          uint32
	periodMissingCount   uint32
	periodCleanCount     uint32
	consecutiveGoodCount uint32

	missCount uint32

	lastPT        uint8
	lastPayloadLen int

	// Counters surfaced to callers / metrics (§3.3 period counters).
	PacketsIn  uint64
	PacketsOut uint64
	Missing    uint64
}

func NewJitterBuffer(opts Options) *JitterBuffer {
	opts.setDefaults()
	jb := &JitterBuffer{
		opts: opts,
		qlen: opts.OrigQlen,
	}
	jb.allocQueues()
	return jb
}

func (jb *JitterBuffer) allocQueues() {
	jb.in = make([]slot, jb.opts.MaxQlen)
	jb.out = make([]slot, jb.opts.MaxQlen)
	jb.old = make([]slot, jb.opts.MaxQlen)
	jb.inCount = 0
}

// Qlen returns the current window size, always within [OrigQlen, MaxQlen].
func (jb *JitterBuffer) Qlen() uint32 { return jb.qlen }

// Put ingests a packet arriving with its RTP timestamp ts and the caller's
// current wall-clock/sample-clock reading now (§4.2 intake contract).
func (jb *JitterBuffer) Put(ts uint32, seq uint16, pt uint8, payload []byte, now uint32, last bool) (IntakeStatus, error) {
	if !jb.sppReady {
		if !jb.inferHaveLastTs {
			jb.inferLastTs = ts
			jb.inferHaveLastTs = true
			return IntakeNeedMoreData, ErrNeedMoreData
		}
		delta := ts - jb.inferLastTs
		jb.inferLastTs = ts
		if delta == jb.inferDelta && delta != 0 {
			jb.inferMatches++
		} else {
			jb.inferDelta = delta
			jb.inferMatches = 1
		}
		if jb.inferMatches < 5 {
			return IntakeNeedMoreData, ErrNeedMoreData
		}
		jb.samplesPerPacket = jb.inferDelta
		jb.sppReady = true
	}

	if !jb.tsOffsetSet {
		jb.tsOffset = int64(now) - int64(ts)
		jb.tsOffsetSet = true
	}
	drift := int64(ts) + jb.tsOffset - int64(now)
	jb.tsDrift = drift
	if jb.opts.MaxDrift > 0 && absInt64(drift) > int64(jb.opts.MaxDrift) {
		jb.driftDropped++
		if jb.driftDropped > jb.opts.DriftMaxDropped {
			jb.driftDropped = 0
		}
		return IntakeTooLate, ErrTooLate
	}
	jb.driftDropped = 0

	if jb.curTsReady && !laterThan(ts, jb.lastWrTs) {
		return IntakeTooLate, ErrTooLate
	}

	if !jb.curTsReady {
		jb.curTs = ts - jb.samplesPerPacket
		jb.lastWrTs = jb.curTs
		jb.curTsReady = true
	}

	cp := append([]byte(nil), payload...)
	jb.in[jb.inCount] = slot{ts: ts, seq: seq, pt: pt, payload: cp, valid: true}
	jb.inCount++
	jb.lastPT = pt
	jb.lastPayloadLen = len(payload)
	jb.PacketsIn++

	if jb.inCount >= int(jb.qlen) || last || jb.inCount >= len(jb.in) {
		jb.rotate()
	}

	return IntakeOK, nil
}

func (jb *JitterBuffer) rotate() {
	jb.old, jb.out, jb.in = jb.out, jb.in, jb.old
	for i := range jb.in {
		jb.in[i] = slot{}
	}
	jb.inCount = 0
}

// Read advances the playout cursor by one tick and returns the next frame,
// a PLC placeholder on miss, or ok=false once max PLC misses forces a
// reset (§4.2 read contract; caller treats false as stream-lost).
func (jb *JitterBuffer) Read() (Frame, bool) {
	if !jb.sppReady || !jb.curTsReady {
		return Frame{}, false
	}

	if jb.needsSync {
		jb.resync()
	}

	jb.curTs += jb.samplesPerPacket
	lower := jb.lastWrTs

	if found, ok := jb.findAndMark(jb.out, lower, jb.curTs); ok {
		return jb.deliver(found, false, lower)
	}
	if found, ok := jb.findAndMark(jb.in, lower, jb.curTs); ok {
		return jb.deliver(found, false, lower)
	}
	if found, ok := jb.findAndMark(jb.old, lower, jb.curTs); ok {
		return jb.deliver(found, false, lower)
	}

	jb.missCount++
	jb.periodMissingCount++
	jb.consecutiveGoodCount = 0
	jb.Missing++
	jb.lastWrTs = jb.curTs

	if jb.missCount > jb.opts.MaxPLC {
		jb.Reset()
		return Frame{}, false
	}

	plcPayload := make([]byte, jb.lastPayloadLen)
	for i := range plcPayload {
		plcPayload[i] = 0xFF
	}
	frame := Frame{
		Timestamp:   jb.curTs,
		PayloadType: jb.lastPT,
		Payload:     plcPayload,
		PLC:         true,
	}
	jb.evaluatePeriod()
	jb.PacketsOut++
	return frame, true
}

func (jb *JitterBuffer) deliver(s slot, plc bool, lower uint32) (Frame, bool) {
	jb.missCount = 0
	jb.periodCleanCount++
	jb.consecutiveGoodCount++
	jb.lastWrTs = jb.curTs
	jb.PacketsOut++

	jb.evaluatePeriod()

	return Frame{
		Timestamp:      s.ts,
		SequenceNumber: s.seq,
		PayloadType:    s.pt,
		Payload:        s.payload,
		PLC:            plc,
	}, true
}

func (jb *JitterBuffer) findAndMark(q []slot, lower, upper uint32) (slot, bool) {
	for i := range q {
		s := &q[i]
		if !s.valid || s.read {
			continue
		}
		if laterThan(s.ts, lower) && !laterThan(s.ts, upper) {
			s.read = true
			return *s, true
		}
	}
	return slot{}, false
}

// evaluatePeriod runs the adaptive resize policy (§4.2). The consecutive-
// good-streak shrink check runs every tick; the missing/clean-period
// checks run once per PeriodTime ticks.
func (jb *JitterBuffer) evaluatePeriod() {
	if jb.qlen > jb.opts.OrigQlen && jb.consecutiveGoodCount > jb.opts.DecrementTime {
		jb.resizeDown()
	}

	jb.periodTicks++
	if jb.periodTicks < jb.opts.PeriodTime {
		return
	}

	if jb.periodMissingCount > 2*jb.qlen {
		jb.resizeUp()
	} else if jb.qlen > jb.opts.OrigQlen && (jb.periodCleanCount > jb.opts.DecrementTime || jb.periodMissingCount == 0) {
		jb.resizeDown()
	}

	jb.periodTicks = 0
	jb.periodMissingCount = 0
	jb.periodCleanCount = 0
}

func (jb *JitterBuffer) resizeUp() {
	if jb.qlen < jb.opts.MaxQlen {
		jb.qlen++
	}
}

func (jb *JitterBuffer) resizeDown() {
	if jb.qlen > jb.opts.OrigQlen {
		jb.qlen--
		jb.Sync(1)
	}
	jb.consecutiveGoodCount = 0
}

// Sync discards in-flight state equivalent to n packets and forces a
// resync on the next Read (§4.2 Sync). Invoked on resize and on stream
// replacement (e.g. a fresh talk spurt signaled by the RTP marker bit).
// n is accepted for API compatibility with the original's partial-discard
// form but unused: resync() always re-anchors fully to the earliest
// still-unread frame, which subsumes any partial-n discard.
func (jb *JitterBuffer) Sync(n uint32) {
	_ = n
	jb.needsSync = true
}

// resync re-anchors curTs/lastWrTs to the earliest unread frame still held
// across all three queues, so the next Read's window picks it up instead
// of treating it as already passed. Consulted lazily by Read rather than
// acted on immediately, since Sync may be called between ticks.
func (jb *JitterBuffer) resync() {
	jb.needsSync = false
	if ts, ok := jb.earliestUnreadTs(); ok {
		jb.curTs = ts - jb.samplesPerPacket
		jb.lastWrTs = jb.curTs
	}
}

// earliestUnreadTs scans out/in/old for the lowest timestamp among slots
// that are valid and not yet delivered.
func (jb *JitterBuffer) earliestUnreadTs() (uint32, bool) {
	var earliest uint32
	found := false
	for _, q := range [][]slot{jb.out, jb.in, jb.old} {
		for i := range q {
			s := &q[i]
			if !s.valid || s.read {
				continue
			}
			if !found || laterThan(earliest, s.ts) {
				earliest = s.ts
				found = true
			}
		}
	}
	return earliest, found
}

// Reset clears all three queues, zeroes counters, drops the inferred
// samples-per-packet and re-enters the "not ready" state (§4.2 Reset).
func (jb *JitterBuffer) Reset() {
	jb.allocQueues()
	jb.sppReady = false
	jb.samplesPerPacket = 0
	jb.inferHaveLastTs = false
	jb.inferMatches = 0
	jb.curTsReady = false
	jb.tsOffsetSet = false
	jb.missCount = 0
	jb.periodTicks = 0
	jb.periodMissingCount = 0
	jb.periodCleanCount = 0
	jb.consecutiveGoodCount = 0
	jb.qlen = jb.opts.OrigQlen
}

func laterThan(a, b uint32) bool {
	// Treat the comparison as a signed 32-bit difference so a single wrap
	// of the RTP timestamp doesn't register as "earlier".
	return int32(a-b) > 0
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
