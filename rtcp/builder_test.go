// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompoundBuilder_RejectsSDESBeforeSRRR(t *testing.T) {
	b := NewCompoundBuilder(0)
	err := b.AddSDES(SourceDescription{})
	assert.Equal(t, KindInvalidState, Kind(err))
}

func TestCompoundBuilder_RejectsSecondSRAfterFirst(t *testing.T) {
	b := NewCompoundBuilder(0)
	require.NoError(t, b.AddSenderReport(SenderReport{SSRC: 1}))
	err := b.AddSenderReport(SenderReport{SSRC: 2})
	assert.Equal(t, KindInvalidState, Kind(err))
}

func TestCompoundBuilder_EmptyBuildRejected(t *testing.T) {
	b := NewCompoundBuilder(0)
	_, err := b.Build()
	assert.Equal(t, KindInvalidState, Kind(err))
}

func TestCompoundBuilder_ResetAllowsReuse(t *testing.T) {
	b := NewCompoundBuilder(0)
	require.NoError(t, b.AddSenderReport(SenderReport{SSRC: 1}))
	_, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, BuilderBuilt, b.State())

	b.Reset()
	assert.Equal(t, BuilderIdle, b.State())
	require.NoError(t, b.AddReceiverReport(ReceiverReport{SSRC: 2}))
	_, err = b.Build()
	require.NoError(t, err)
}

func TestCompoundBuilder_SenderReportSpillsReportBlocksPast31(t *testing.T) {
	blocks := make([]ReportBlock, 35)
	for i := range blocks {
		blocks[i].SSRC = uint32(i + 1)
	}
	b := NewCompoundBuilder(0)
	require.NoError(t, b.AddSenderReport(SenderReport{SSRC: 1, Reports: blocks}))
	wire, err := b.Build()
	require.NoError(t, err)

	compound, err := DecodeCompound(wire)
	require.NoError(t, err)
	require.Len(t, compound.SenderReports, 1)
	require.Len(t, compound.ReceiverReports, 1)
	assert.Len(t, compound.SenderReports[0].Reports, 31)
	assert.Len(t, compound.ReceiverReports[0].Reports, 4)
	assert.Equal(t, uint32(1), compound.ReceiverReports[0].SSRC)
}

func TestCompoundBuilder_AppRejectsSubtypeOver31(t *testing.T) {
	b := NewCompoundBuilder(0)
	require.NoError(t, b.AddSenderReport(SenderReport{SSRC: 1}))
	err := b.AddApp(App{SubType: 32, SSRC: 1})
	assert.Equal(t, KindNoBufferSpace, Kind(err))
}

func TestCompoundBuilder_EnforcesMaxSize(t *testing.T) {
	b := NewCompoundBuilder(30)
	require.NoError(t, b.AddSenderReport(SenderReport{SSRC: 1}))
	err := b.AddSDES(SourceDescription{Chunks: []SDESChunk{
		{SSRC: 1, Items: []SDESItem{{Type: SDESCNAME, Text: "a much too long cname for this tiny budget"}}},
	}})
	assert.Equal(t, KindNoBufferSpace, Kind(err))
}
