// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtcp

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Component — the SSRC participant table (§3.6/§4.6), implementing RFC
// 3550 Appendix A.1's update_seq probation/validation state machine.
// Grounded on original_source/libs/jrtplib's RTPSources bookkeeping
// (per-SSRC sequence validation, timeout sweeps, collision detection),
// re-expressed with Go maps/mutex instead of jrtplib's intrusive lists.

const (
	minSequential = 2
	maxDropout    = 3000
	maxMisorder   = 100
	rtpSeqMod     = 1 << 16
)

// ParticipantState is a source's validation lifecycle.
type ParticipantState int

const (
	StateProbation ParticipantState = iota
	StateValid
)

// Participant is one tracked SSRC's RFC 3550 Appendix A.1 bookkeeping plus
// the session-level metadata the table needs for timeouts and collision
// checks. The flag set mirrors §3.6's {own, sender, active, validated,
// CSRC-observed, BYE-pending} record.
type Participant struct {
	SSRC  uint32
	CNAME string

	State     ParticipantState
	probation int

	IsOwn        bool
	IsSender     bool
	IsActive     bool
	CSRCObserved bool
	BYEPending   bool

	baseSeq uint32
	maxSeq  uint16
	badSeq  uint16
	cycles  uint32

	Received      uint64
	receivedPrior uint64
	expectedPrior uint64

	transitJitter   float64
	lastTransit     int32
	haveLastTransit bool

	LastRTPActivity  time.Time
	LastRTCPActivity time.Time
	LastSRReceived   time.Time

	SentBye bool
	ByeAt   time.Time

	SDESNote  string
	noteSetAt time.Time

	addr *net.UDPAddr
}

func newParticipant(ssrc uint32, seq uint16, now time.Time) *Participant {
	p := &Participant{SSRC: ssrc}
	p.initSeq(seq)
	p.probation = minSequential - 1
	p.LastRTPActivity = now
	p.IsActive = true
	return p
}

// newOwnParticipant builds the locally-originated participant record
// installed by CreateOwnSSRC: it never runs the probation state machine
// since it isn't validated by inbound sequence numbers, only by this
// session's own decision to send under that SSRC.
func newOwnParticipant(ssrc uint32, now time.Time) *Participant {
	return &Participant{
		SSRC:            ssrc,
		State:           StateValid,
		IsOwn:           true,
		IsActive:        true,
		LastRTPActivity: now,
	}
}

// newCSRCParticipant builds the minimal record created the first time a
// CSRC is observed in a mixed stream's contributing-source list; it carries
// no sequence bookkeeping of its own since CSRCs aren't a packet source the
// table receives directly from.
func newCSRCParticipant(ssrc uint32, now time.Time) *Participant {
	return &Participant{
		SSRC:            ssrc,
		State:           StateProbation,
		CSRCObserved:    true,
		LastRTPActivity: now,
	}
}

func (p *Participant) initSeq(seq uint16) {
	p.baseSeq = uint32(seq)
	p.maxSeq = seq
	p.badSeq = rtpSeqMod + 1
	p.cycles = 0
	p.Received = 0
	p.receivedPrior = 0
	p.expectedPrior = 0
}

// updateSeq is RFC 3550 Appendix A.1's update_seq, returning whether the
// packet should be counted as received (false means reject — probation
// restart or a too-wild jump that might be a new/duplicate source).
func (p *Participant) updateSeq(seq uint16) bool {
	udelta := seq - p.maxSeq

	if p.probation > 0 {
		if seq == p.maxSeq+1 {
			p.probation--
			p.maxSeq = seq
			if p.probation == 0 {
				p.initSeq(seq)
				p.State = StateValid
				p.Received++
				return true
			}
			return false
		}
		p.probation = minSequential - 1
		p.maxSeq = seq
		return false
	}

	switch {
	case udelta < maxDropout:
		if seq < p.maxSeq {
			p.cycles += rtpSeqMod
		}
		p.maxSeq = seq
	case udelta <= uint16(rtpSeqMod-maxMisorder):
		if seq == p.badSeq {
			p.initSeq(seq)
			p.State = StateValid
		} else {
			p.badSeq = (seq + 1) & (rtpSeqMod - 1)
			return false
		}
	default:
		// duplicate or out of order within tolerance: still counted
	}

	p.Received++
	return true
}

// ExtendedHighestSeq returns the cycles|seq pair RFC 3550 calls
// extended_max, used directly as a reception report's ExtendedHighestSeq.
func (p *Participant) ExtendedHighestSeq() uint32 {
	return p.cycles + uint32(p.maxSeq)
}

// UpdateJitter folds one packet's transit time into the RFC 3550 §6.4.1
// interarrival jitter estimate. rtpTimestamp/arrivalRTPUnits must share
// the same clock units (sampled at the codec's clock rate).
func (p *Participant) UpdateJitter(rtpTimestamp uint32, arrivalRTPUnits uint32) {
	transit := int32(arrivalRTPUnits) - int32(rtpTimestamp)
	if p.haveLastTransit {
		d := transit - p.lastTransit
		if d < 0 {
			d = -d
		}
		p.transitJitter += (float64(d) - p.transitJitter) / 16
	}
	p.lastTransit = transit
	p.haveLastTransit = true
}

// Jitter returns the current RFC 3550 jitter estimate in RTP clock units.
func (p *Participant) Jitter() uint32 { return uint32(p.transitJitter) }

// FractionLost computes the reception-report fraction-lost byte (RFC 3550
// §6.4.1) for the interval since the last report and resets the interval
// counters.
func (p *Participant) FractionLost() (fraction uint8, cumulativeLost uint32) {
	expected := uint64(p.ExtendedHighestSeq()) - uint64(p.baseSeq) + 1
	var expectedInterval, receivedInterval uint64
	if expected > p.expectedPrior {
		expectedInterval = expected - p.expectedPrior
	}
	if p.Received > p.receivedPrior {
		receivedInterval = p.Received - p.receivedPrior
	}

	p.expectedPrior = expected
	p.receivedPrior = p.Received

	var lostInterval int64
	if expectedInterval > receivedInterval {
		lostInterval = int64(expectedInterval - receivedInterval)
	}

	if expectedInterval == 0 || lostInterval <= 0 {
		fraction = 0
	} else {
		fraction = uint8((lostInterval << 8) / int64(expectedInterval))
	}

	if expected > p.Received {
		cumulativeLost = uint32(expected - p.Received)
	}
	return fraction, cumulativeLost
}

// Totals is the table's {member-count, sender-count, active-count}
// snapshot (§3.6).
type Totals struct {
	Member int
	Sender int
	Active int
}

// Table is the session's SSRC→Participant registry (§3.6 collision
// detection and timeout sweeps).
type Table struct {
	mu           sync.Mutex
	bySSRC       map[uint32]*Participant
	cnameBySSRC  map[uint32]string
	ssrcsByCNAME map[string]map[uint32]bool
	ownSSRC      *uint32

	log zerolog.Logger

	OnNewSource         func(p *Participant)
	OnValidated         func(p *Participant)
	OnSSRCCollision     func(existing *Participant, addr *net.UDPAddr)
	OnCNAMECollision    func(ssrc uint32, oldCNAME, newCNAME string)
	OnByePacket         func(p *Participant)
	OnTimeout           func(p *Participant)
	OnByeTimeout        func(p *Participant)
	OnNoteTimeout       func(p *Participant)
	OnAppPacket         func(app App)
	OnUnknownPacketType func(pt uint8)
}

func NewTable() *Table {
	return &Table{
		bySSRC:       make(map[uint32]*Participant),
		cnameBySSRC:  make(map[uint32]string),
		ssrcsByCNAME: make(map[string]map[uint32]bool),
		log:          zerolog.Nop(),
	}
}

// SetLogger installs the table's structured logger, matching the rtp
// package's per-component log field so collision/timeout diagnostics show
// up the same way across both packages.
func (t *Table) SetLogger(log zerolog.Logger) { t.log = log }

// CreateOwnSSRC registers this session's own SSRC (§4.6 "own-SSRC
// lifecycle"). It refuses with AlreadyExists if an own SSRC is already
// registered, or with Collision if ssrc is already a known remote
// participant.
func (t *Table) CreateOwnSSRC(ssrc uint32, now time.Time) (*Participant, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ownSSRC != nil {
		return nil, ErrAlreadyExists
	}
	if _, exists := t.bySSRC[ssrc]; exists {
		return nil, wrapErr(KindCollision, "rtcp: own ssrc collides with a known participant", ErrCollision)
	}

	p := newOwnParticipant(ssrc, now)
	t.bySSRC[ssrc] = p
	own := ssrc
	t.ownSSRC = &own
	t.log.Debug().Uint32("ssrc", ssrc).Msg("rtcp: own ssrc created")
	return p, nil
}

// DeleteOwnSSRC removes this session's own SSRC, if any.
func (t *Table) DeleteOwnSSRC() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ownSSRC == nil {
		return
	}
	t.log.Debug().Uint32("ssrc", *t.ownSSRC).Msg("rtcp: own ssrc deleted")
	delete(t.bySSRC, *t.ownSSRC)
	t.ownSSRC = nil
}

// SentRTPPacket marks the own participant as a sender, called once per
// outbound RTP packet so the sender flag tracks real traffic rather than
// the mere existence of the own SSRC.
func (t *Table) SentRTPPacket(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ownSSRC == nil {
		return
	}
	if p, ok := t.bySSRC[*t.ownSSRC]; ok {
		p.IsSender = true
		p.IsActive = true
		p.LastRTPActivity = now
	}
}

// OnRTPPacket records one inbound RTP packet from ssrc/addr at seq,
// creating the participant on first sight and applying the probation
// state machine. csrc is the packet's contributing-source list; once this
// SSRC is validated, each CSRC is resolved-or-created and marked
// CSRC-observed (§4.6). Returns the participant and whether the packet
// should be accepted downstream (probation-rejected packets still update
// state but are not delivered).
func (t *Table) OnRTPPacket(ssrc uint32, seq uint16, csrc []uint32, addr *net.UDPAddr, now time.Time) (*Participant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.bySSRC[ssrc]
	if !ok {
		p = newParticipant(ssrc, seq, now)
		p.addr = addr
		t.bySSRC[ssrc] = p
		if t.OnNewSource != nil {
			t.OnNewSource(p)
		}
		t.log.Debug().Uint32("ssrc", ssrc).Msg("rtcp: new rtp source")
		return p, false
	}

	if p.IsOwn {
		t.log.Warn().Uint32("ssrc", ssrc).Stringer("addr", addr).Msg("rtcp: ssrc collision against own ssrc")
		if t.OnSSRCCollision != nil {
			t.OnSSRCCollision(p, addr)
		}
		return p, false
	}

	if p.addr != nil && addr != nil && !p.addr.IP.Equal(addr.IP) {
		t.log.Warn().Uint32("ssrc", ssrc).Stringer("addr", addr).Msg("rtcp: ssrc collision detected")
		if t.OnSSRCCollision != nil {
			t.OnSSRCCollision(p, addr)
		}
		return p, false
	}
	p.addr = addr
	p.LastRTPActivity = now
	p.IsActive = true

	wasProbation := p.State == StateProbation
	accepted := p.updateSeq(seq)
	if accepted {
		p.IsSender = true
	}
	if wasProbation && p.State == StateValid && t.OnValidated != nil {
		t.OnValidated(p)
	}
	if p.State == StateValid {
		t.markCSRCObserved(csrc, now)
	}
	return p, accepted
}

// markCSRCObserved resolves-or-creates a minimal record for each
// contributing-source SSRC seen in a mixed stream and flags it
// CSRC-observed (§4.6). Caller must hold t.mu.
func (t *Table) markCSRCObserved(csrc []uint32, now time.Time) {
	for _, c := range csrc {
		cp, ok := t.bySSRC[c]
		if !ok {
			cp = newCSRCParticipant(c, now)
			t.bySSRC[c] = cp
			continue
		}
		cp.CSRCObserved = true
	}
}

// OnSenderReport records that a tracked participant sent an SR: it stamps
// LastRTCPActivity and LastSRReceived and marks the participant active.
// The SR's NTP/RTP timestamps and packet/octet counts are not stored, and
// an SR from an SSRC the table does not track is ignored.
func (t *Table) OnSenderReport(sr SenderReport, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.bySSRC[sr.SSRC]
	if !ok {
		return
	}
	p.LastRTCPActivity = now
	p.LastSRReceived = now
	p.IsActive = true
}

// OnReceiverReport updates a reporting participant's last-RTCP-activity
// time; the report blocks it carries describe ITS view of US, so there is
// nothing further to fold into the reporter's own record.
func (t *Table) OnReceiverReport(rr ReceiverReport, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p, ok := t.bySSRC[rr.SSRC]; ok {
		p.LastRTCPActivity = now
		p.IsActive = true
	}
}

// OnSDES registers/validates a CNAME for ssrc, reporting a CNAME collision
// when an SSRC that already has a CNAME arrives with a different one
// (§3.6 collision detection). The same CNAME appearing on a second SSRC is
// recorded without a collision report. NOTE items are tracked
// separately so NoteTimeout can expire them.
func (t *Table) OnSDES(ssrc uint32, cname string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.bySSRC[ssrc]; ok {
		p.LastRTCPActivity = now
		p.IsActive = true
		p.CNAME = cname
	}

	if old, ok := t.cnameBySSRC[ssrc]; ok && old != cname {
		t.log.Warn().Uint32("ssrc", ssrc).Str("old", old).Str("new", cname).Msg("rtcp: cname collision detected")
		if t.OnCNAMECollision != nil {
			t.OnCNAMECollision(ssrc, old, cname)
		}
		delete(t.ssrcsByCNAME[old], ssrc)
	}
	t.cnameBySSRC[ssrc] = cname

	set, ok := t.ssrcsByCNAME[cname]
	if !ok {
		set = make(map[uint32]bool)
		t.ssrcsByCNAME[cname] = set
	}
	set[ssrc] = true
}

// OnSDESNote records an SDES NOTE item against ssrc, timestamped so
// NoteTimeout can clear it later (§4.6).
func (t *Table) OnSDESNote(ssrc uint32, note string, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.bySSRC[ssrc]
	if !ok {
		return
	}
	p.SDESNote = note
	p.noteSetAt = now
}

// OnBye marks ssrc as having sent BYE, for prompt removal ahead of the
// regular timeout sweep. BYE for this session's own SSRC is ignored
// (§4.6).
func (t *Table) OnBye(ssrc uint32, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ownSSRC != nil && *t.ownSSRC == ssrc {
		return
	}
	if p, ok := t.bySSRC[ssrc]; ok {
		p.SentBye = true
		p.BYEPending = true
		p.ByeAt = now
		t.log.Debug().Uint32("ssrc", ssrc).Msg("rtcp: bye received")
		if t.OnByePacket != nil {
			t.OnByePacket(p)
		}
	}
}

// OnApp forwards an APP record to OnAppPacket (§4.6).
func (t *Table) OnApp(app App) {
	if t.OnAppPacket != nil {
		t.OnAppPacket(app)
	}
}

// HandleUnknownPacketType forwards an unrecognized compound-record packet
// type to the OnUnknownPacketType callback (§4.6).
func (t *Table) HandleUnknownPacketType(pt uint8) {
	t.log.Debug().Uint8("pt", pt).Msg("rtcp: unknown compound record type")
	if t.OnUnknownPacketType != nil {
		t.OnUnknownPacketType(pt)
	}
}

// Get returns the tracked participant for ssrc, if any.
func (t *Table) Get(ssrc uint32) (*Participant, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.bySSRC[ssrc]
	return p, ok
}

// removeLocked drops ssrc from the table (used after a BYE grace period or a
// timeout sweep decision). Caller must hold t.mu.
func (t *Table) removeLocked(ssrc uint32) {
	delete(t.bySSRC, ssrc)
	if cname, ok := t.cnameBySSRC[ssrc]; ok {
		delete(t.ssrcsByCNAME[cname], ssrc)
		delete(t.cnameBySSRC, ssrc)
	}
}

// Remove drops ssrc from the table (used after a BYE grace period or a
// timeout sweep decision).
func (t *Table) Remove(ssrc uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(ssrc)
}

// Timeout removes participants whose last message is older than general
// (§4.6). The own participant is never timed out by this sweep.
func (t *Table) Timeout(now time.Time, general time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ssrc, p := range t.bySSRC {
		if p.IsOwn {
			continue
		}
		lastActivity := p.LastRTPActivity
		if p.LastRTCPActivity.After(lastActivity) {
			lastActivity = p.LastRTCPActivity
		}
		if now.Sub(lastActivity) <= general {
			continue
		}
		t.log.Debug().Uint32("ssrc", ssrc).Msg("rtcp: participant timed out")
		if t.OnTimeout != nil {
			t.OnTimeout(p)
		}
		t.removeLocked(ssrc)
	}
}

// SenderTimeout clears the sender flag on participants whose last RTP
// activity is older than sender, without removing them from the table
// (§4.6 — sender timeout is shorter than general timeout and must not be
// conflated with participant removal).
func (t *Table) SenderTimeout(now time.Time, sender time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ssrc, p := range t.bySSRC {
		if !p.IsSender {
			continue
		}
		if now.Sub(p.LastRTPActivity) <= sender {
			continue
		}
		t.log.Debug().Uint32("ssrc", ssrc).Msg("rtcp: sender flag cleared on timeout")
		p.IsSender = false
	}
}

// ByeTimeout removes participants that sent BYE more than bye ago (§4.6),
// giving late-arriving packets a grace period before the record disappears.
func (t *Table) ByeTimeout(now time.Time, bye time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for ssrc, p := range t.bySSRC {
		if !p.BYEPending {
			continue
		}
		if now.Sub(p.ByeAt) <= bye {
			continue
		}
		t.log.Debug().Uint32("ssrc", ssrc).Msg("rtcp: participant removed after bye timeout")
		if t.OnByeTimeout != nil {
			t.OnByeTimeout(p)
		}
		t.removeLocked(ssrc)
	}
}

// NoteTimeout clears SDES NOTE items after note has elapsed since they
// were last set (§4.6).
func (t *Table) NoteTimeout(now time.Time, note time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, p := range t.bySSRC {
		if p.noteSetAt.IsZero() {
			continue
		}
		if now.Sub(p.noteSetAt) <= note {
			continue
		}
		p.SDESNote = ""
		p.noteSetAt = time.Time{}
		if t.OnNoteTimeout != nil {
			t.OnNoteTimeout(p)
		}
	}
}

// Count returns the number of currently tracked participants, regardless
// of validation state. Kept alongside Totals for callers that only need
// the member count.
func (t *Table) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.bySSRC)
}

// Totals recomputes the {member, sender, active} totals (§3.6/§4.6) from
// the current table state.
func (t *Table) Totals() Totals {
	t.mu.Lock()
	defer t.mu.Unlock()
	var tot Totals
	for _, p := range t.bySSRC {
		tot.Member++
		if p.IsSender {
			tot.Sender++
		}
		if p.IsActive {
			tot.Active++
		}
	}
	return tot
}

// Each calls fn once per currently tracked participant, used to assemble
// outbound reception report blocks. fn must not call back into the table.
func (t *Table) Each(fn func(p *Participant)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.bySSRC {
		fn(p)
	}
}
