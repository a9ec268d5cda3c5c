// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSenderReportRoundTrip(t *testing.T) {
	sr := SenderReport{
		SSRC:        111,
		NTPTime:     0x1122334455667788,
		RTPTime:     9000,
		PacketCount: 50,
		OctetCount:  8000,
		Reports: []ReportBlock{
			{SSRC: 222, FractionLost: 5, CumulativeLost: 12, ExtendedHighestSeq: 500, Jitter: 3, LastSR: 42, DelaySinceLastSR: 7},
		},
	}

	buf := EncodeSenderReport(sr)
	compound, err := DecodeCompound(buf)
	require.NoError(t, err)
	require.Len(t, compound.SenderReports, 1)
	assert.Equal(t, sr, compound.SenderReports[0])
}

func TestReceiverReportRoundTrip(t *testing.T) {
	rr := ReceiverReport{
		SSRC: 333,
		Reports: []ReportBlock{
			{SSRC: 444, FractionLost: 1, CumulativeLost: 2, ExtendedHighestSeq: 99, Jitter: 4, LastSR: 1, DelaySinceLastSR: 2},
			{SSRC: 555, FractionLost: 0, CumulativeLost: 0, ExtendedHighestSeq: 10, Jitter: 0, LastSR: 0, DelaySinceLastSR: 0},
		},
	}

	buf := EncodeReceiverReport(rr)
	compound, err := DecodeCompound(buf)
	require.NoError(t, err)
	require.Len(t, compound.ReceiverReports, 1)
	assert.Equal(t, rr, compound.ReceiverReports[0])
}

func TestCompoundPacket_SRThenSDESThenBye(t *testing.T) {
	b := NewCompoundBuilder(0)
	require.NoError(t, b.AddSenderReport(SenderReport{SSRC: 1}))
	require.NoError(t, b.AddSDES(SourceDescription{Chunks: []SDESChunk{
		{SSRC: 1, Items: []SDESItem{{Type: SDESCNAME, Text: "alice@example.com"}}},
	}}))
	require.NoError(t, b.AddBye(Goodbye{Sources: []uint32{1}, Reason: "done"}))

	buf, err := b.Build()
	require.NoError(t, err)

	compound, err := DecodeCompound(buf)
	require.NoError(t, err)
	require.Len(t, compound.SenderReports, 1)
	require.Len(t, compound.SourceDescriptions, 1)
	require.Len(t, compound.Goodbyes, 1)

	assert.Equal(t, "alice@example.com", compound.SourceDescriptions[0].Chunks[0].Items[0].Text)
	assert.Equal(t, "done", compound.Goodbyes[0].Reason)
	assert.Equal(t, []uint32{1}, compound.Goodbyes[0].Sources)
}

func TestDecodeCompound_RejectsNonSRRRFirst(t *testing.T) {
	buf := EncodeBye(Goodbye{Sources: []uint32{1}})
	_, err := DecodeCompound(buf)
	assert.Equal(t, KindInvalidPacket, Kind(err))
}

func TestDecodeCompound_TruncatedHeader(t *testing.T) {
	_, err := DecodeCompound([]byte{0x80, 200})
	assert.Equal(t, KindNoBufferSpace, Kind(err))
}

func TestAppRoundTrip(t *testing.T) {
	app := App{SubType: 3, SSRC: 77, Name: [4]byte{'t', 'e', 's', 't'}, Data: []byte{1, 2, 3, 4}}
	b := NewCompoundBuilder(0)
	require.NoError(t, b.AddReceiverReport(ReceiverReport{SSRC: 1}))
	require.NoError(t, b.AddApp(app))
	buf, err := b.Build()
	require.NoError(t, err)

	compound, err := DecodeCompound(buf)
	require.NoError(t, err)
	require.Len(t, compound.Apps, 1)
	assert.Equal(t, app.SSRC, compound.Apps[0].SSRC)
	assert.Equal(t, app.Name, compound.Apps[0].Name)
	assert.Equal(t, app.Data, compound.Apps[0].Data)
}
