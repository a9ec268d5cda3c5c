// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtcp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_NewSourceStartsOnProbation(t *testing.T) {
	tbl := NewTable()
	var newSourceSeen bool
	tbl.OnNewSource = func(p *Participant) { newSourceSeen = true }

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	p, accepted := tbl.OnRTPPacket(42, 100, nil, addr, time.Now())
	assert.True(t, newSourceSeen)
	assert.False(t, accepted)
	assert.Equal(t, StateProbation, p.State)
}

func TestTable_ValidatesAfterMinSequential(t *testing.T) {
	tbl := NewTable()
	var validated bool
	tbl.OnValidated = func(p *Participant) { validated = true }

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	now := time.Now()
	_, accepted := tbl.OnRTPPacket(42, 100, nil, addr, now)
	assert.False(t, accepted)
	_, accepted = tbl.OnRTPPacket(42, 101, nil, addr, now)
	assert.True(t, accepted)
	assert.True(t, validated)

	p, ok := tbl.Get(42)
	require.True(t, ok)
	assert.Equal(t, StateValid, p.State)
}

func TestTable_ProbationResetsOnNonSequential(t *testing.T) {
	tbl := NewTable()
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	now := time.Now()

	_, accepted := tbl.OnRTPPacket(42, 100, nil, addr, now)
	assert.False(t, accepted)
	// Jump instead of the expected 101 — probation restarts.
	_, accepted = tbl.OnRTPPacket(42, 150, nil, addr, now)
	assert.False(t, accepted)

	p, ok := tbl.Get(42)
	require.True(t, ok)
	assert.Equal(t, StateProbation, p.State)
}

func TestTable_SSRCCollisionDetectedOnAddressChange(t *testing.T) {
	tbl := NewTable()
	var collided bool
	tbl.OnSSRCCollision = func(existing *Participant, addr *net.UDPAddr) { collided = true }

	addr1 := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	addr2 := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 6000}
	now := time.Now()

	tbl.OnRTPPacket(42, 100, nil, addr1, now)
	tbl.OnRTPPacket(42, 101, nil, addr1, now)
	tbl.OnRTPPacket(42, 102, nil, addr2, now)

	assert.True(t, collided)
}

func TestTable_CNAMECollisionDetected(t *testing.T) {
	tbl := NewTable()
	var oldCNAME, newCNAME string
	tbl.OnCNAMECollision = func(ssrc uint32, oc, nc string) { oldCNAME, newCNAME = oc, nc }

	now := time.Now()
	tbl.OnSDES(42, "alice@example.com", now)
	tbl.OnSDES(42, "mallory@example.com", now)

	assert.Equal(t, "alice@example.com", oldCNAME)
	assert.Equal(t, "mallory@example.com", newCNAME)
}

func TestTable_TimeoutRemovesStale(t *testing.T) {
	tbl := NewTable()
	var timedOut bool
	tbl.OnTimeout = func(p *Participant) { timedOut = true }

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	past := time.Now().Add(-1 * time.Hour)
	tbl.OnRTPPacket(42, 100, nil, addr, past)

	tbl.Timeout(time.Now(), 30*time.Second)
	assert.True(t, timedOut)
	assert.Equal(t, 0, tbl.Count())
}

func TestTable_SenderTimeoutClearsFlagWithoutRemoving(t *testing.T) {
	tbl := NewTable()
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	now := time.Now()
	tbl.OnRTPPacket(42, 100, nil, addr, now)
	tbl.OnRTPPacket(42, 101, nil, addr, now)

	p, ok := tbl.Get(42)
	require.True(t, ok)
	require.True(t, p.IsSender)

	tbl.SenderTimeout(now.Add(1*time.Hour), 30*time.Second)

	p, ok = tbl.Get(42)
	require.True(t, ok)
	assert.False(t, p.IsSender)
}

func TestTable_ByeTimeoutRemovesAfterGrace(t *testing.T) {
	tbl := NewTable()
	var removed bool
	tbl.OnByeTimeout = func(p *Participant) { removed = true }

	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	now := time.Now()
	tbl.OnRTPPacket(42, 100, nil, addr, now)
	tbl.OnRTPPacket(42, 101, nil, addr, now)
	tbl.OnBye(42, now)

	tbl.ByeTimeout(now.Add(1*time.Hour), 5*time.Second)
	assert.True(t, removed)
	assert.Equal(t, 0, tbl.Count())
}

func TestTable_NoteTimeoutClearsSDESNote(t *testing.T) {
	tbl := NewTable()
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	now := time.Now()
	tbl.OnRTPPacket(42, 100, nil, addr, now)
	tbl.OnSDESNote(42, "on hold", now)

	tbl.NoteTimeout(now.Add(1*time.Hour), 5*time.Second)

	p, ok := tbl.Get(42)
	require.True(t, ok)
	assert.Empty(t, p.SDESNote)
}

func TestTable_OwnSSRCLifecycle(t *testing.T) {
	tbl := NewTable()
	now := time.Now()

	_, err := tbl.CreateOwnSSRC(42, now)
	require.NoError(t, err)

	_, err = tbl.CreateOwnSSRC(42, now)
	assert.Equal(t, KindAlreadyExists, Kind(err))

	var collided bool
	tbl.OnSSRCCollision = func(existing *Participant, addr *net.UDPAddr) { collided = true }
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 9), Port: 7000}
	p, accepted := tbl.OnRTPPacket(42, 100, nil, addr, now)
	assert.True(t, collided)
	assert.False(t, accepted)
	assert.True(t, p.IsOwn)

	tbl.DeleteOwnSSRC()
	_, ok := tbl.Get(42)
	assert.False(t, ok)
}

func TestTable_CSRCObservedMarking(t *testing.T) {
	tbl := NewTable()
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	now := time.Now()
	tbl.OnRTPPacket(42, 100, []uint32{7}, addr, now)
	tbl.OnRTPPacket(42, 101, []uint32{7}, addr, now)

	csrc, ok := tbl.Get(7)
	require.True(t, ok)
	assert.True(t, csrc.CSRCObserved)
}

func TestTable_TotalsCountMembersSendersActive(t *testing.T) {
	tbl := NewTable()
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	now := time.Now()
	tbl.OnRTPPacket(42, 100, nil, addr, now)
	tbl.OnRTPPacket(42, 101, nil, addr, now)

	tot := tbl.Totals()
	assert.Equal(t, 1, tot.Member)
	assert.Equal(t, 1, tot.Sender)
	assert.Equal(t, 1, tot.Active)
}

func TestTable_OnSenderReportUpdatesActivity(t *testing.T) {
	tbl := NewTable()
	addr := &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000}
	now := time.Now()
	tbl.OnRTPPacket(42, 100, nil, addr, now)

	tbl.OnSenderReport(SenderReport{SSRC: 42}, now.Add(time.Second))

	p, ok := tbl.Get(42)
	require.True(t, ok)
	assert.False(t, p.LastSRReceived.IsZero())
}

func TestTable_OnAppForwardsToCallback(t *testing.T) {
	tbl := NewTable()
	var got App
	tbl.OnAppPacket = func(app App) { got = app }

	tbl.OnApp(App{SubType: 1, SSRC: 7, Name: [4]byte{'t', 'e', 's', 't'}})
	assert.Equal(t, uint32(7), got.SSRC)
}

func TestTable_HandleUnknownPacketTypeForwardsToCallback(t *testing.T) {
	tbl := NewTable()
	var gotPT uint8
	tbl.OnUnknownPacketType = func(pt uint8) { gotPT = pt }

	tbl.HandleUnknownPacketType(211)
	assert.Equal(t, uint8(211), gotPT)
}

func TestParticipant_FractionLostAccountsForGaps(t *testing.T) {
	p := newParticipant(1, 100, time.Now())
	p.State = StateValid
	p.probation = 0
	p.updateSeq(101)
	p.updateSeq(105) // 102,103,104 lost

	frac, lost := p.FractionLost()
	assert.Greater(t, lost, uint32(0))
	assert.Greater(t, frac, uint8(0))
}

func TestParticipant_JitterAccumulates(t *testing.T) {
	p := newParticipant(1, 1, time.Now())
	p.UpdateJitter(1000, 1000)
	p.UpdateJitter(1160, 1170)
	p.UpdateJitter(1320, 1340)
	assert.Greater(t, p.Jitter(), uint32(0))
}
