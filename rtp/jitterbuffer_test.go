// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feedInference(t *testing.T, jb *JitterBuffer, startTs uint32, count int) uint32 {
	t.Helper()
	ts := startTs
	var now uint32
	for i := 0; i < count; i++ {
		_, _ = jb.Put(ts, uint16(i+1), 0, []byte{1, 2, 3}, now, false)
		ts += 160
		now += 160
	}
	return ts
}

func TestJitterBuffer_HappyPath(t *testing.T) {
	jb := NewJitterBuffer(Options{OrigQlen: 3, MaxQlen: 10})

	ts := uint32(0)
	seq := uint16(1)
	var now uint32
	var lastTs uint32
	haveLast := false
	plcSeen := false
	for i := 0; i < 100; i++ {
		status, err := jb.Put(ts, seq, 0, []byte{byte(i)}, now, false)
		require.NotEqual(t, IntakeTooLate, status, "put %d: %v", i, err)
		ts += 160
		seq++
		now += 160
		if status != IntakeOK {
			continue // packet spacing not inferred yet
		}

		f, ok := jb.Read()
		require.True(t, ok, "read after put %d", i)
		if f.PLC {
			plcSeen = true
		} else {
			if haveLast {
				assert.Greater(t, f.Timestamp, lastTs)
			}
			lastTs = f.Timestamp
			haveLast = true
		}
	}
	assert.False(t, plcSeen, "happy path should not need PLC once warmed up")
}

func TestJitterBuffer_SingleLoss(t *testing.T) {
	jb := NewJitterBuffer(Options{OrigQlen: 3, MaxQlen: 10})

	ts := feedInference(t, jb, 0, 5)
	now := ts
	plcCount := 0
	for seq := 6; seq <= 15; seq++ {
		if seq != 10 { // seq 10 is the dropped packet
			jb.Put(ts, uint16(seq), 0, []byte{0xAB}, now, false)
		}
		ts += 160
		now += 160

		f, ok := jb.Read()
		if !ok {
			break
		}
		if f.PLC {
			plcCount++
		}
	}
	assert.Equal(t, 1, plcCount)
}

func TestJitterBuffer_Reorder(t *testing.T) {
	jb := NewJitterBuffer(Options{OrigQlen: 5, MaxQlen: 10})

	base := feedInference(t, jb, 0, 5)
	order := []int{1, 2, 4, 3, 5}
	now := base
	for _, seq := range order {
		packetTs := base + uint32(seq-1)*160
		jb.Put(packetTs, uint16(seq+5), 0, []byte{byte(seq)}, now, false)
		now += 160
	}

	var tsOrder []uint32
	for i := 0; i < 5; i++ {
		f, ok := jb.Read()
		if !ok || f.PLC {
			continue
		}
		tsOrder = append(tsOrder, f.Timestamp)
	}

	require.Len(t, tsOrder, 5)
	for i := 1; i < len(tsOrder); i++ {
		assert.Greater(t, tsOrder[i], tsOrder[i-1])
	}
}

func TestJitterBuffer_QlenBounds(t *testing.T) {
	jb := NewJitterBuffer(Options{OrigQlen: 2, MaxQlen: 4})
	assert.Equal(t, uint32(2), jb.Qlen())
	jb.resizeUp()
	jb.resizeUp()
	jb.resizeUp()
	jb.resizeUp()
	assert.LessOrEqual(t, jb.Qlen(), jb.opts.MaxQlen)
	for i := 0; i < 10; i++ {
		jb.resizeDown()
	}
	assert.GreaterOrEqual(t, jb.Qlen(), jb.opts.OrigQlen)
}

func TestJitterBuffer_SinglePacketQlen(t *testing.T) {
	jb := NewJitterBuffer(Options{OrigQlen: 1, MaxQlen: 1})
	ts := feedInference(t, jb, 0, 5)
	now := ts
	for seq := 1; seq <= 5; seq++ {
		jb.Put(ts, uint16(seq), 0, []byte{byte(seq)}, now, false)
		f, ok := jb.Read()
		require.True(t, ok)
		assert.Equal(t, ts, f.Timestamp)
		ts += 160
		now += 160
	}
}

func TestJitterBuffer_NeedMoreDataUntilInferred(t *testing.T) {
	jb := NewJitterBuffer(Options{OrigQlen: 3, MaxQlen: 10})
	status, err := jb.Put(0, 1, 0, []byte{1}, 0, false)
	assert.Equal(t, IntakeNeedMoreData, status)
	assert.Equal(t, KindNeedMoreData, Kind(err))
}
