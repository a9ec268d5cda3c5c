// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package rtp

import (
	"github.com/pion/srtp/v3"
)

// SRTP envelope (§4.3's SECURE flag / crypto-context pair). The wire codec
// and jitter buffer stay media-agnostic; this file is the thin layer that
// wraps a negotiated key/salt pair into something the session endpoint can
// hand ciphertext/plaintext through. Key agreement itself (SDES, DTLS-SRTP)
// is out of scope — callers supply the master key/salt however they got it.

// Protection profile identifiers, re-exported as our own type so callers
// don't need to import pion/srtp directly for the common cases.
const (
	SRTPProfileAES128CmHMACSHA1_80 uint16 = uint16(srtp.ProtectionProfileAes128CmHmacSha1_80)
	SRTPProfileAES256CmHMACSHA1_80 uint16 = uint16(srtp.ProtectionProfileAes256CmHmacSha1_80)
	SRTPProfileNullHMACSHA1_80     uint16 = uint16(srtp.ProtectionProfileNullHmacSha1_80)
)

// SRTPProfileName returns the SDP crypto-suite name for a profile, for
// logging and signaling integration.
func SRTPProfileName(profile uint16) string {
	switch srtp.ProtectionProfile(profile) {
	case srtp.ProtectionProfileAes128CmHmacSha1_80:
		return "AES_CM_128_HMAC_SHA1_80"
	case srtp.ProtectionProfileAes256CmHmacSha1_80:
		return "AES_CM_256_HMAC_SHA1_80"
	case srtp.ProtectionProfileNullHmacSha1_80:
		return "NULL_HMAC_SHA1_80"
	default:
		return "UNKNOWN"
	}
}

// CryptoPair holds the two directional SRTP contexts a secured session
// needs: one to encrypt what this endpoint sends, one to decrypt what it
// receives. The two are independent because each side of a call picks its
// own key/salt.
type CryptoPair struct {
	local  *srtp.Context
	remote *srtp.Context
}

// NewCryptoPair builds both directional contexts from already-negotiated
// key material. profile is one of the SRTPProfile* constants above.
func NewCryptoPair(localKey, localSalt, remoteKey, remoteSalt []byte, profile uint16) (*CryptoPair, error) {
	p := srtp.ProtectionProfile(profile)

	local, err := srtp.CreateContext(localKey, localSalt, p)
	if err != nil {
		return nil, wrapErr(KindCryptError, "rtp: create local srtp context", err)
	}
	remote, err := srtp.CreateContext(remoteKey, remoteSalt, p)
	if err != nil {
		return nil, wrapErr(KindCryptError, "rtp: create remote srtp context", err)
	}
	return &CryptoPair{local: local, remote: remote}, nil
}

// EncryptRTP protects an already-encoded RTP packet in place into dst.
func (c *CryptoPair) EncryptRTP(dst, plaintext []byte) ([]byte, error) {
	out, err := c.local.EncryptRTP(dst, plaintext, nil)
	if err != nil {
		return nil, wrapErr(KindCryptError, "rtp: encrypt rtp", err)
	}
	return out, nil
}

// DecryptRTP unprotects a received SRTP packet into dst.
func (c *CryptoPair) DecryptRTP(dst, ciphertext []byte) ([]byte, error) {
	out, err := c.remote.DecryptRTP(dst, ciphertext, nil)
	if err != nil {
		return nil, wrapErr(KindCryptError, "rtp: decrypt rtp", err)
	}
	return out, nil
}

// EncryptRTCP protects an RTCP compound packet in place into dst.
func (c *CryptoPair) EncryptRTCP(dst, plaintext []byte) ([]byte, error) {
	out, err := c.local.EncryptRTCP(dst, plaintext, nil)
	if err != nil {
		return nil, wrapErr(KindCryptError, "rtp: encrypt rtcp", err)
	}
	return out, nil
}

// DecryptRTCP unprotects a received SRTCP compound packet into dst.
func (c *CryptoPair) DecryptRTCP(dst, ciphertext []byte) ([]byte, error) {
	out, err := c.remote.DecryptRTCP(dst, ciphertext, nil)
	if err != nil {
		return nil, wrapErr(KindCryptError, "rtp: decrypt rtcp", err)
	}
	return out, nil
}
