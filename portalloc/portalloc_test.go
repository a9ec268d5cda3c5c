// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package portalloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_EvenPortsOnly(t *testing.T) {
	a := newAllocator(10001, 10010)
	for i := 0; i < 5; i++ {
		port, err := a.Request()
		require.NoError(t, err)
		assert.Equal(t, uint16(0), port%2)
	}
}

func TestAllocator_FreeAndReuse(t *testing.T) {
	a := newAllocator(10000, 10002)
	p1, err := a.Request()
	require.NoError(t, err)
	a.Free(p1)
	p2, err := a.Request()
	require.NoError(t, err)
	assert.Equal(t, p1, p2)
}

func TestAllocator_ExhaustsRange(t *testing.T) {
	a := newAllocator(10000, 10002)
	_, err := a.Request()
	require.NoError(t, err)
	_, err = a.Request()
	require.NoError(t, err)
	_, err = a.Request()
	assert.Error(t, err)
}

func TestTable_PerHostIsolation(t *testing.T) {
	tbl := NewTable(20000, 20010)
	p1, err := tbl.Request("host-a")
	require.NoError(t, err)
	p2, err := tbl.Request("host-b")
	require.NoError(t, err)
	assert.Equal(t, p1, p2, "each host starts from the same base range independently")

	tbl.Free("host-a", p1)
	p3, err := tbl.Request("host-a")
	require.NoError(t, err)
	assert.Equal(t, p1, p3)
}
