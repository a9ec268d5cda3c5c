// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package codecglue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeToPCM16_PCMUSilence(t *testing.T) {
	payload := make([]byte, 160)
	for i := range payload {
		payload[i] = 0xFF // mu-law silence
	}
	samples, err := DecodeToPCM16(PayloadTypePCMU, payload)
	require.NoError(t, err)
	assert.Len(t, samples, 160)
	assert.Less(t, EnergyScore(samples), uint32(10))
}

func TestDecodeToPCM16_UnsupportedPayload(t *testing.T) {
	_, err := DecodeToPCM16(PayloadType(99), []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestVAD_DetectsTalkingAfterBackgroundLearned(t *testing.T) {
	v := NewVAD()
	for i := 0; i < 5; i++ {
		v.Scan(5)
	}

	var talking bool
	for i := 0; i < 5; i++ {
		talking = v.Scan(2000)
	}
	assert.True(t, talking)
}

func TestVAD_ReturnsToSilenceAfterHangover(t *testing.T) {
	v := NewVAD()
	for i := 0; i < 5; i++ {
		v.Scan(5)
	}
	for i := 0; i < 5; i++ {
		v.Scan(2000)
	}
	require.True(t, v.talking)

	var talking bool
	for i := 0; i < 10; i++ {
		talking = v.Scan(5)
	}
	assert.False(t, talking)
}
