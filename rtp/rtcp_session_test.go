// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package rtp

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRTCPSession_WriteReportThenReadRTCP(t *testing.T) {
	a := NewRTCPSession(1111, "alice@example.com")
	require.NoError(t, a.Bind("127.0.0.1", 0))
	defer a.Close()

	b := NewRTCPSession(2222, "bob@example.com")
	require.NoError(t, b.Bind("127.0.0.1", 0))
	defer b.Close()

	bPort := b.conn.LocalAddr().(*net.UDPAddr).Port
	require.NoError(t, a.SetRemote("127.0.0.1", bPort))

	require.NoError(t, a.WriteReport())

	buf := make([]byte, 1500)
	b.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, b.ReadRTCP(buf))
}

func TestRTCPSession_ReportBlocksEmptyBeforeAnyRTP(t *testing.T) {
	s := NewRTCPSession(42, "nobody@example.com")
	blocks := s.reportBlocks()
	assert.Empty(t, blocks)
}

func TestRTCPSession_OnRTPPacketFeedsTable(t *testing.T) {
	s := NewRTCPSession(42, "carol@example.com")
	now := time.Now()
	s.OnRTPPacket(99, 100, nil, 8000, 8000, nil)
	s.OnRTPPacket(99, 101, nil, 8160, 8170, nil)
	_, ok := s.table.Get(99)
	require.True(t, ok)
	_ = now
}
