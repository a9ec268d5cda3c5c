// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDTMFEncodeDecodeRoundTrip(t *testing.T) {
	ev := DTMFEvent{Event: 5, EndOfEvent: true, Volume: 10, Duration: 1280}
	buf := EncodeDTMF(ev)
	require.Len(t, buf, 4)

	got, err := DecodeDTMF(buf)
	require.NoError(t, err)
	assert.Equal(t, ev, got)
}

func TestDecodeDTMF_ShortPayload(t *testing.T) {
	_, err := DecodeDTMF([]byte{1, 2})
	assert.Equal(t, KindInvalidPacket, Kind(err))
}

func TestDTMFByteQueue_OverflowEvictsOldest(t *testing.T) {
	q := NewDTMFByteQueue(3)
	_, err := q.Write([]byte{'1', '2', '3'})
	require.NoError(t, err)
	_, err = q.Write([]byte{'4'})
	require.NoError(t, err)

	buf := make([]byte, 8)
	n := q.Read(buf)
	assert.Equal(t, "234", string(buf[:n]))
}

func TestDTMFByteQueue_RejectsNonDTMFChar(t *testing.T) {
	q := NewDTMFByteQueue(8)
	_, err := q.Write([]byte{'x'})
	assert.Equal(t, KindInvalidPacket, Kind(err))
}

func TestDTMFSender_Train(t *testing.T) {
	s := NewDTMFSender(160)
	require.NoError(t, s.Queue('5', 1280, 7))

	var starts, ends, continuations int
	var lastDuration uint16
	ts := uint32(8000)

	for i := 0; i < 3; i++ {
		pkt, ok := s.Tick(ts)
		require.True(t, ok)
		ev, err := DecodeDTMF(pkt.Payload)
		require.NoError(t, err)
		assert.Equal(t, uint8(5), ev.Event)
		assert.False(t, ev.EndOfEvent)
		assert.Equal(t, uint16(160), ev.Duration)
		assert.Equal(t, ts, pkt.Ts)
		if i == 0 {
			assert.True(t, pkt.Marker)
		} else {
			assert.False(t, pkt.Marker)
		}
		starts++
	}

	for {
		pkt, ok := s.Tick(ts)
		require.True(t, ok)
		ev, err := DecodeDTMF(pkt.Payload)
		require.NoError(t, err)
		assert.Equal(t, ts, pkt.Ts)
		if ev.EndOfEvent {
			ends++
			assert.Equal(t, uint16(1280), ev.Duration)
			if ends == 3 {
				break
			}
			continue
		}
		continuations++
		assert.Greater(t, ev.Duration, lastDuration)
		lastDuration = ev.Duration
	}

	assert.Equal(t, 3, starts)
	assert.Equal(t, 3, ends)
	assert.Positive(t, continuations)
	assert.False(t, s.Pending())

	_, ok := s.Tick(ts)
	assert.False(t, ok)
}

func TestDTMFSender_RejectsBadDigit(t *testing.T) {
	s := NewDTMFSender(160)
	err := s.Queue('x', 1280, 7)
	assert.Equal(t, KindInvalidPacket, Kind(err))
}

func TestDTMFReceiver_DecodesSingleDigit(t *testing.T) {
	r := NewDTMFReceiver(16)

	seq := uint16(100)
	for i := 0; i < 3; i++ {
		payload := EncodeDTMF(DTMFEvent{Event: 5, EndOfEvent: false, Volume: 7, Duration: uint16(160 * (i + 1))})
		require.NoError(t, r.Feed(seq, payload, uint64(i)*20))
		seq++
	}
	for i := 0; i < 3; i++ {
		payload := EncodeDTMF(DTMFEvent{Event: 5, EndOfEvent: true, Volume: 7, Duration: 1280})
		require.NoError(t, r.Feed(seq, payload, 100+uint64(i)*20))
		seq++
	}

	assert.Equal(t, 1, r.Len())
	buf := make([]byte, 4)
	n := r.Read(buf)
	assert.Equal(t, "5", string(buf[:n]))
	assert.True(t, r.TakeBreakRequest())
	assert.False(t, r.TakeBreakRequest())
}

func TestDTMFReceiver_IgnoresOutOfOrderAndDuplicates(t *testing.T) {
	r := NewDTMFReceiver(16)

	end := EncodeDTMF(DTMFEvent{Event: 1, EndOfEvent: true, Volume: 0, Duration: 1280})
	require.NoError(t, r.Feed(10, end, 0))
	assert.Equal(t, 1, r.Len())

	// Stale/duplicate sequence number must not re-enqueue.
	require.NoError(t, r.Feed(9, end, 1))
	assert.Equal(t, 1, r.Len())

	// Same seq again also rejected (strictly increasing guard).
	require.NoError(t, r.Feed(10, end, 2))
	assert.Equal(t, 1, r.Len())
}

func TestDTMFReceiver_RepeatedDigitAfterDebounce(t *testing.T) {
	r := NewDTMFReceiver(16)
	end := EncodeDTMF(DTMFEvent{Event: 2, EndOfEvent: true, Volume: 0, Duration: 1280})

	seq := uint16(1)
	for i := 0; i < 4; i++ {
		require.NoError(t, r.Feed(seq, end, uint64(i)))
		seq++
	}
	assert.Equal(t, 1, r.Len())

	// Same digit pressed again should decode as a new press once the
	// three-duplicate debounce window has cleared last_digit.
	require.NoError(t, r.Feed(seq, end, 500))
	assert.Equal(t, 2, r.Len())
}
