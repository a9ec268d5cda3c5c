// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"encoding/binary"
)

// Component 1 — wire codec. Fixed 12-byte RTP header pack/unpack against a
// byte slice, explicit shift/mask only: no struct overlay on the wire
// buffer (see SPEC_FULL §9 Design Notes / original_source jrtplib
// rtppacket.cpp, which this replaces the C struct-cast style of).

const (
	minHeaderLen = 12
	version2     = 2
)

// Header is the decoded form of the fixed RTP header plus whatever CSRC
// list and extension header were present on the wire.
type Header struct {
	Version        uint8
	Padding        bool
	Extension      bool
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
	CSRC           []uint32

	// Present only if Extension is true.
	ExtensionProfile uint16
	// Raw extension words, length = 4*ExtensionLengthWords. Kept as opaque
	// bytes (not decoded further) since the extension's internal layout is
	// application-defined (see ed137-style payloads in the pack).
	ExtensionPayload []byte

	// PadCount is the number of trailing padding bytes, valid only if
	// Padding is true. The last payload byte on the wire encodes it.
	PadCount uint8
}

// Packet is a fully decoded RTP datagram.
type Packet struct {
	Header
	Payload []byte
}

// csrcCount returns the CC nibble that will be written for this header.
func (h *Header) csrcCount() int { return len(h.CSRC) }

// PayloadOffset returns the number of header bytes (fixed header + CSRC
// list + extension header) that precede the payload, as it would be
// encoded. Useful to callers sizing buffers before Encode.
func (h *Header) PayloadOffset() int {
	off := minHeaderLen + 4*h.csrcCount()
	if h.Extension {
		off += 4 + len(h.ExtensionPayload)
	}
	return off
}

// DecodeRTP parses buf into an RTP packet per §3.1/§4.1: version must be 2,
// the computed payload offset must not exceed len(buf), the padding count
// (if padding is set) must be between 1 and the remaining length, and the
// marker+payload-type byte must not collide with an RTCP SR/RR indicator
// (200/201) — a datagram exhibiting that pattern is not RTP.
func DecodeRTP(buf []byte) (Packet, error) {
	var pkt Packet
	if len(buf) < minHeaderLen {
		return pkt, wrapErr(KindInvalidPacket, "rtp: short header", ErrInvalidPacket)
	}

	b0 := buf[0]
	version := b0 >> 6
	if version != version2 {
		return pkt, wrapErr(KindInvalidPacket, "rtp: unsupported version", ErrInvalidPacket)
	}
	padding := b0&0x20 != 0
	extension := b0&0x10 != 0
	cc := int(b0 & 0x0F)

	b1 := buf[1]
	// A marker bit set together with a payload type matching RTCP's SR
	// (200) or RR (201) packet-type byte in the same wire position marks
	// this datagram as misrouted RTCP, not RTP.
	if b1 == 200 || b1 == 201 {
		return pkt, wrapErr(KindInvalidPacket, "rtp: marker/pt collides with RTCP SR/RR", ErrInvalidPacket)
	}
	marker := b1&0x80 != 0
	pt := b1 & 0x7F

	seq := binary.BigEndian.Uint16(buf[2:4])
	ts := binary.BigEndian.Uint32(buf[4:8])
	ssrc := binary.BigEndian.Uint32(buf[8:12])

	off := minHeaderLen
	if off+4*cc > len(buf) {
		return pkt, wrapErr(KindInvalidPacket, "rtp: csrc list overruns buffer", ErrInvalidPacket)
	}
	var csrc []uint32
	if cc > 0 {
		csrc = make([]uint32, cc)
		for i := 0; i < cc; i++ {
			csrc[i] = binary.BigEndian.Uint32(buf[off : off+4])
			off += 4
		}
	}

	var extProfile uint16
	var extPayload []byte
	if extension {
		if off+4 > len(buf) {
			return pkt, wrapErr(KindInvalidPacket, "rtp: truncated extension header", ErrInvalidPacket)
		}
		extProfile = binary.BigEndian.Uint16(buf[off : off+2])
		extWords := int(binary.BigEndian.Uint16(buf[off+2 : off+4]))
		off += 4
		extLen := extWords * 4
		if off+extLen > len(buf) {
			return pkt, wrapErr(KindInvalidPacket, "rtp: extension overruns buffer", ErrInvalidPacket)
		}
		extPayload = append([]byte(nil), buf[off:off+extLen]...)
		off += extLen
	}

	if off > len(buf) {
		return pkt, wrapErr(KindInvalidPacket, "rtp: payload_offset exceeds length", ErrInvalidPacket)
	}

	end := len(buf)
	var padCount uint8
	if padding {
		if end <= off {
			return pkt, wrapErr(KindInvalidPacket, "rtp: padding set but no payload", ErrInvalidPacket)
		}
		padCount = buf[end-1]
		if padCount < 1 || int(padCount) > end-off {
			return pkt, wrapErr(KindInvalidPacket, "rtp: invalid padding count", ErrInvalidPacket)
		}
		end -= int(padCount)
	}

	pkt.Header = Header{
		Version:          version,
		Padding:          padding,
		Extension:        extension,
		Marker:           marker,
		PayloadType:      pt,
		SequenceNumber:   seq,
		Timestamp:        ts,
		SSRC:             ssrc,
		CSRC:             csrc,
		ExtensionProfile: extProfile,
		ExtensionPayload: extPayload,
		PadCount:         padCount,
	}
	pkt.Payload = append([]byte(nil), buf[off:end]...)
	return pkt, nil
}

// EncodeRTP writes pkt's wire representation, appending to dst (which may
// be nil), and returns the resulting slice. It writes network byte order
// fields and the header byte bit-fields by explicit shift/mask, never a
// struct overlay.
func EncodeRTP(pkt *Packet, dst []byte) ([]byte, error) {
	if len(pkt.CSRC) > 0x0F {
		return dst, wrapErr(KindInvalidPacket, "rtp: too many csrc", ErrInvalidPacket)
	}

	size := minHeaderLen + 4*len(pkt.CSRC)
	if pkt.Extension {
		size += 4 + len(pkt.ExtensionPayload)
	}
	size += len(pkt.Payload)
	if pkt.Padding {
		size += int(pkt.PadCount)
	}

	start := len(dst)
	dst = growBuffer(dst, size)
	buf := dst[start:]

	var b0 byte = version2 << 6
	if pkt.Padding {
		b0 |= 0x20
	}
	if pkt.Extension {
		b0 |= 0x10
	}
	b0 |= byte(len(pkt.CSRC)) & 0x0F
	buf[0] = b0

	var b1 byte
	if pkt.Marker {
		b1 = 0x80
	}
	b1 |= pkt.PayloadType & 0x7F
	buf[1] = b1

	binary.BigEndian.PutUint16(buf[2:4], pkt.SequenceNumber)
	binary.BigEndian.PutUint32(buf[4:8], pkt.Timestamp)
	binary.BigEndian.PutUint32(buf[8:12], pkt.SSRC)

	off := minHeaderLen
	for _, c := range pkt.CSRC {
		binary.BigEndian.PutUint32(buf[off:off+4], c)
		off += 4
	}

	if pkt.Extension {
		binary.BigEndian.PutUint16(buf[off:off+2], pkt.ExtensionProfile)
		binary.BigEndian.PutUint16(buf[off+2:off+4], uint16(len(pkt.ExtensionPayload)/4))
		off += 4
		copy(buf[off:], pkt.ExtensionPayload)
		off += len(pkt.ExtensionPayload)
	}

	copy(buf[off:], pkt.Payload)
	off += len(pkt.Payload)

	if pkt.Padding {
		for i := 0; i < int(pkt.PadCount)-1; i++ {
			buf[off+i] = 0
		}
		buf[len(buf)-1] = pkt.PadCount
	}

	return dst, nil
}

func growBuffer(dst []byte, extra int) []byte {
	n := len(dst)
	if cap(dst)-n >= extra {
		return dst[:n+extra]
	}
	grown := make([]byte, n+extra)
	copy(grown, dst)
	return grown
}

// HasExtensionSlot reports whether the packet carries an extension header
// matching the given profile id — mirrors `rtp.Header.GetExtension` in the
// teacher's ed137 usage, generalized to the profile identifier instead of
// a fixed index.
func (h *Header) HasExtensionSlot(profile uint16) bool {
	return h.Extension && h.ExtensionProfile == profile
}
