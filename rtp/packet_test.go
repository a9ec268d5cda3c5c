// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRTP_Basic(t *testing.T) {
	pkt := Packet{
		Header: Header{
			Version:        2,
			Marker:         true,
			PayloadType:    0,
			SequenceNumber: 1000,
			Timestamp:      160000,
			SSRC:           0xdeadbeef,
		},
		Payload: []byte{1, 2, 3, 4},
	}

	buf, err := EncodeRTP(&pkt, nil)
	require.NoError(t, err)

	decoded, err := DecodeRTP(buf)
	require.NoError(t, err)
	assert.Equal(t, uint8(2), decoded.Version)
	assert.True(t, decoded.Marker)
	assert.Equal(t, uint16(1000), decoded.SequenceNumber)
	assert.Equal(t, uint32(160000), decoded.Timestamp)
	assert.Equal(t, uint32(0xdeadbeef), decoded.SSRC)
	assert.Equal(t, []byte{1, 2, 3, 4}, decoded.Payload)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Packet{
		{
			Header:  Header{Version: 2, PayloadType: 0, SequenceNumber: 1, Timestamp: 160, SSRC: 1},
			Payload: []byte{0xAA, 0xBB},
		},
		{
			Header:  Header{Version: 2, Marker: true, PayloadType: 101, SequenceNumber: 65535, Timestamp: 0xFFFFFFFF, SSRC: 42, CSRC: []uint32{7, 8, 9}},
			Payload: []byte{1, 2, 3, 4},
		},
		{
			Header: Header{
				Version: 2, PayloadType: 8, SequenceNumber: 5, Timestamp: 800, SSRC: 99,
				Extension: true, ExtensionProfile: 0xBEDE, ExtensionPayload: []byte{0, 0, 0, 1},
			},
			Payload: []byte{5, 6, 7},
		},
		{
			Header:  Header{Version: 2, PayloadType: 0, SequenceNumber: 9, Timestamp: 1440, SSRC: 5, Padding: true, PadCount: 4},
			Payload: []byte{1, 2, 3, 4, 5, 6},
		},
	}

	for _, c := range cases {
		buf, err := EncodeRTP(&c, nil)
		require.NoError(t, err)

		decoded, err := DecodeRTP(buf)
		require.NoError(t, err)

		reencoded, err := EncodeRTP(&decoded, nil)
		require.NoError(t, err)
		assert.Equal(t, buf, reencoded)
	}
}

func TestDecodeRTP_InvalidVersion(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = 0x00 // version 0
	_, err := DecodeRTP(buf)
	require.Error(t, err)
	assert.Equal(t, KindInvalidPacket, Kind(err))
}

func TestDecodeRTP_ShortBuffer(t *testing.T) {
	_, err := DecodeRTP(make([]byte, 4))
	require.Error(t, err)
	assert.Equal(t, KindInvalidPacket, Kind(err))
}

func TestDecodeRTP_MarkerRTCPCollision(t *testing.T) {
	buf := make([]byte, 12)
	buf[0] = 0x80 // version 2
	buf[1] = 200  // collides with RTCP SR type byte
	_, err := DecodeRTP(buf)
	require.Error(t, err)
}

func TestDecodeRTP_InvalidPaddingCount(t *testing.T) {
	pkt := Packet{
		Header:  Header{Version: 2, PayloadType: 0, SequenceNumber: 1, Timestamp: 1, SSRC: 1, Padding: true, PadCount: 10},
		Payload: []byte{1, 2},
	}
	buf, err := EncodeRTP(&pkt, nil)
	require.NoError(t, err)
	// Corrupt the trailing pad count to exceed remaining length.
	buf[len(buf)-1] = 250
	_, err = DecodeRTP(buf)
	require.Error(t, err)
	assert.Equal(t, KindInvalidPacket, Kind(err))
}

func TestHeaderPayloadOffset(t *testing.T) {
	h := Header{CSRC: []uint32{1, 2}, Extension: true, ExtensionPayload: make([]byte, 8)}
	assert.Equal(t, minHeaderLen+8+4+8, h.PayloadOffset())
}
