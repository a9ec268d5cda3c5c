// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

// Package rtcp implements RFC 3550 compound RTCP packets and the sender
// participant table that validates arriving SSRCs. Like the sibling rtp
// package's wire codec, the compound parser/builder here is hand-rolled
// rather than delegated to pion/rtcp: this package IS the component
// responsible for that framing, grounded on the record layout
// media.RTPSession exercises through pion/rtcp in rtp_session.go, re-
// expressed as explicit byte decode/encode.
package rtcp

import "encoding/binary"

// Packet type identifiers (RFC 3550 §6.1).
const (
	PacketTypeSR   uint8 = 200
	PacketTypeRR   uint8 = 201
	PacketTypeSDES uint8 = 202
	PacketTypeBYE  uint8 = 203
	PacketTypeAPP  uint8 = 204
)

// SDES item types (RFC 3550 §6.5).
const (
	SDESEnd   uint8 = 0
	SDESCNAME uint8 = 1
	SDESNAME  uint8 = 2
	SDESEMAIL uint8 = 3
	SDESPHONE uint8 = 4
	SDESLOC   uint8 = 5
	SDESTOOL  uint8 = 6
	SDESNOTE  uint8 = 7
	SDESPRIV  uint8 = 8
)

const rtcpVersion = 2

// ReportBlock is one reception report (RFC 3550 §6.4.1), shared by SR and
// RR packets.
type ReportBlock struct {
	SSRC               uint32
	FractionLost       uint8
	CumulativeLost     uint32 // 24-bit value, stored widened
	ExtendedHighestSeq uint32
	Jitter             uint32
	LastSR             uint32
	DelaySinceLastSR   uint32
}

func encodeReportBlock(dst []byte, rb ReportBlock) {
	binary.BigEndian.PutUint32(dst[0:4], rb.SSRC)
	dst[4] = rb.FractionLost
	dst[5] = byte(rb.CumulativeLost >> 16)
	dst[6] = byte(rb.CumulativeLost >> 8)
	dst[7] = byte(rb.CumulativeLost)
	binary.BigEndian.PutUint32(dst[8:12], rb.ExtendedHighestSeq)
	binary.BigEndian.PutUint32(dst[12:16], rb.Jitter)
	binary.BigEndian.PutUint32(dst[16:20], rb.LastSR)
	binary.BigEndian.PutUint32(dst[20:24], rb.DelaySinceLastSR)
}

func decodeReportBlock(src []byte) ReportBlock {
	return ReportBlock{
		SSRC:               binary.BigEndian.Uint32(src[0:4]),
		FractionLost:       src[4],
		CumulativeLost:     uint32(src[5])<<16 | uint32(src[6])<<8 | uint32(src[7]),
		ExtendedHighestSeq: binary.BigEndian.Uint32(src[8:12]),
		Jitter:             binary.BigEndian.Uint32(src[12:16]),
		LastSR:             binary.BigEndian.Uint32(src[16:20]),
		DelaySinceLastSR:   binary.BigEndian.Uint32(src[20:24]),
	}
}

// SenderReport is RFC 3550 §6.4.1.
type SenderReport struct {
	SSRC        uint32
	NTPTime     uint64
	RTPTime     uint32
	PacketCount uint32
	OctetCount  uint32
	Reports     []ReportBlock
}

// ReceiverReport is RFC 3550 §6.4.2.
type ReceiverReport struct {
	SSRC    uint32
	Reports []ReportBlock
}

// SDESItem is one chunk item (RFC 3550 §6.5).
type SDESItem struct {
	Type uint8
	Text string
}

// SDESChunk is a per-SSRC run of items in an SDES packet.
type SDESChunk struct {
	SSRC  uint32
	Items []SDESItem
}

// SourceDescription is RFC 3550 §6.5.
type SourceDescription struct {
	Chunks []SDESChunk
}

// Goodbye is RFC 3550 §6.6.
type Goodbye struct {
	Sources []uint32
	Reason  string
}

// App is RFC 3550 §6.7, an application-defined packet. Data must already
// be a multiple of 4 bytes — the wire format has no independent data
// length field, only the record's overall 32-bit word count, so any
// padding EncodeApp adds would otherwise be indistinguishable from data.
type App struct {
	SubType uint8
	SSRC    uint32
	Name    [4]byte
	Data    []byte
}

// CompoundPacket is a parsed RTCP compound packet: RFC 3550 §6.1 requires
// every compound packet sent over RTP/RTCP to begin with an SR or RR.
type CompoundPacket struct {
	SenderReports      []SenderReport
	ReceiverReports    []ReceiverReport
	SourceDescriptions []SourceDescription
	Goodbyes           []Goodbye
	Apps               []App

	// UnknownTypes carries the packet-type byte of any record that isn't
	// one of SR/RR/SDES/BYE/APP, in encounter order (§4.6
	// "on_unknown_packet_type").
	UnknownTypes []uint8
}

func roundUp4(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}

// DecodeCompound parses a full compound RTCP packet (back-to-back records,
// no framing between them beyond each record's own length field).
func DecodeCompound(buf []byte) (CompoundPacket, error) {
	var out CompoundPacket
	first := true

	for len(buf) > 0 {
		if len(buf) < 4 {
			return out, wrapErr(KindNoBufferSpace, "rtcp: truncated record header", ErrNoBufferSpace)
		}
		version := buf[0] >> 6
		padding := buf[0]&0x20 != 0
		count := buf[0] & 0x1F
		pt := buf[1]
		lengthWords := binary.BigEndian.Uint16(buf[2:4])
		recordLen := (int(lengthWords) + 1) * 4

		if version != rtcpVersion {
			return out, wrapErr(KindInvalidPacket, "rtcp: unsupported version", ErrInvalidPacket)
		}
		if first && pt != PacketTypeSR && pt != PacketTypeRR {
			return out, wrapErr(KindInvalidPacket, "rtcp: compound packet must start with SR or RR", ErrInvalidPacket)
		}
		first = false

		if recordLen > len(buf) {
			return out, wrapErr(KindNoBufferSpace, "rtcp: record length exceeds buffer", ErrNoBufferSpace)
		}
		body := buf[4:recordLen]
		if padding {
			if len(body) == 0 {
				return out, wrapErr(KindInvalidPacket, "rtcp: padding bit set with empty body", ErrInvalidPacket)
			}
			padCount := int(body[len(body)-1])
			if padCount == 0 || padCount > len(body) {
				return out, wrapErr(KindInvalidPacket, "rtcp: invalid padding count", ErrInvalidPacket)
			}
			body = body[:len(body)-padCount]
		}

		switch pt {
		case PacketTypeSR:
			sr, err := decodeSenderReport(body, count)
			if err != nil {
				return out, err
			}
			out.SenderReports = append(out.SenderReports, sr)
		case PacketTypeRR:
			rr, err := decodeReceiverReport(body, count)
			if err != nil {
				return out, err
			}
			out.ReceiverReports = append(out.ReceiverReports, rr)
		case PacketTypeSDES:
			sdes, err := decodeSDES(body, count)
			if err != nil {
				return out, err
			}
			out.SourceDescriptions = append(out.SourceDescriptions, sdes)
		case PacketTypeBYE:
			bye, err := decodeBye(body, count)
			if err != nil {
				return out, err
			}
			out.Goodbyes = append(out.Goodbyes, bye)
		case PacketTypeAPP:
			app, err := decodeApp(body, count)
			if err != nil {
				return out, err
			}
			out.Apps = append(out.Apps, app)
		default:
			out.UnknownTypes = append(out.UnknownTypes, pt)
		}

		buf = buf[recordLen:]
	}

	return out, nil
}

func decodeSenderReport(body []byte, count uint8) (SenderReport, error) {
	var sr SenderReport
	if len(body) < 24 {
		return sr, wrapErr(KindNoBufferSpace, "rtcp: sender report too short", ErrNoBufferSpace)
	}
	sr.SSRC = binary.BigEndian.Uint32(body[0:4])
	sr.NTPTime = binary.BigEndian.Uint64(body[4:12])
	sr.RTPTime = binary.BigEndian.Uint32(body[12:16])
	sr.PacketCount = binary.BigEndian.Uint32(body[16:20])
	sr.OctetCount = binary.BigEndian.Uint32(body[20:24])
	rest := body[24:]
	blocks, err := decodeReportBlocks(rest, count)
	if err != nil {
		return sr, err
	}
	sr.Reports = blocks
	return sr, nil
}

func decodeReceiverReport(body []byte, count uint8) (ReceiverReport, error) {
	var rr ReceiverReport
	if len(body) < 4 {
		return rr, wrapErr(KindNoBufferSpace, "rtcp: receiver report too short", ErrNoBufferSpace)
	}
	rr.SSRC = binary.BigEndian.Uint32(body[0:4])
	blocks, err := decodeReportBlocks(body[4:], count)
	if err != nil {
		return rr, err
	}
	rr.Reports = blocks
	return rr, nil
}

func decodeReportBlocks(buf []byte, count uint8) ([]ReportBlock, error) {
	if len(buf) < int(count)*24 {
		return nil, wrapErr(KindNoBufferSpace, "rtcp: report block truncated", ErrNoBufferSpace)
	}
	blocks := make([]ReportBlock, count)
	for i := 0; i < int(count); i++ {
		blocks[i] = decodeReportBlock(buf[i*24 : i*24+24])
	}
	return blocks, nil
}

func decodeSDES(buf []byte, count uint8) (SourceDescription, error) {
	var sdes SourceDescription
	for i := 0; i < int(count); i++ {
		if len(buf) < 4 {
			return sdes, wrapErr(KindNoBufferSpace, "rtcp: sdes chunk truncated", ErrNoBufferSpace)
		}
		chunk := SDESChunk{SSRC: binary.BigEndian.Uint32(buf[0:4])}
		buf = buf[4:]
		consumed := 4

		for len(buf) > 0 && buf[0] != SDESEnd {
			if len(buf) < 2 {
				return sdes, wrapErr(KindNoBufferSpace, "rtcp: sdes item truncated", ErrNoBufferSpace)
			}
			itemType := buf[0]
			itemLen := int(buf[1])
			if len(buf) < 2+itemLen {
				return sdes, wrapErr(KindNoBufferSpace, "rtcp: sdes item text truncated", ErrNoBufferSpace)
			}
			chunk.Items = append(chunk.Items, SDESItem{Type: itemType, Text: string(buf[2 : 2+itemLen])})
			buf = buf[2+itemLen:]
			consumed += 2 + itemLen
		}
		// consume the terminating null and pad to a 4-byte boundary
		// measured from the start of the chunk.
		padded := roundUp4(consumed + 1)
		skip := padded - consumed
		if skip > len(buf) {
			skip = len(buf)
		}
		buf = buf[skip:]

		sdes.Chunks = append(sdes.Chunks, chunk)
	}
	return sdes, nil
}

func decodeBye(buf []byte, count uint8) (Goodbye, error) {
	var bye Goodbye
	if len(buf) < int(count)*4 {
		return bye, wrapErr(KindNoBufferSpace, "rtcp: bye truncated", ErrNoBufferSpace)
	}
	for i := 0; i < int(count); i++ {
		bye.Sources = append(bye.Sources, binary.BigEndian.Uint32(buf[i*4:i*4+4]))
	}
	buf = buf[int(count)*4:]
	if len(buf) > 0 {
		n := int(buf[0])
		if 1+n <= len(buf) {
			bye.Reason = string(buf[1 : 1+n])
		}
	}
	return bye, nil
}

func decodeApp(buf []byte, subtype uint8) (App, error) {
	var app App
	if len(buf) < 8 {
		return app, wrapErr(KindNoBufferSpace, "rtcp: app packet too short", ErrNoBufferSpace)
	}
	app.SubType = subtype
	app.SSRC = binary.BigEndian.Uint32(buf[0:4])
	copy(app.Name[:], buf[4:8])
	app.Data = append([]byte(nil), buf[8:]...)
	return app, nil
}

// EncodeSenderReport serializes one SR record (count-from-len(Reports)).
func EncodeSenderReport(sr SenderReport) []byte {
	bodyLen := 24 + 24*len(sr.Reports)
	out := make([]byte, 4+bodyLen)
	out[0] = rtcpVersion<<6 | byte(len(sr.Reports))&0x1F
	out[1] = PacketTypeSR
	binary.BigEndian.PutUint16(out[2:4], uint16(bodyLen / 4))
	binary.BigEndian.PutUint32(out[4:8], sr.SSRC)
	binary.BigEndian.PutUint64(out[8:16], sr.NTPTime)
	binary.BigEndian.PutUint32(out[16:20], sr.RTPTime)
	binary.BigEndian.PutUint32(out[20:24], sr.PacketCount)
	binary.BigEndian.PutUint32(out[24:28], sr.OctetCount)
	for i, rb := range sr.Reports {
		encodeReportBlock(out[28+i*24:28+i*24+24], rb)
	}
	return out
}

// EncodeReceiverReport serializes one RR record.
func EncodeReceiverReport(rr ReceiverReport) []byte {
	bodyLen := 4 + 24*len(rr.Reports)
	out := make([]byte, 4+bodyLen)
	out[0] = rtcpVersion<<6 | byte(len(rr.Reports))&0x1F
	out[1] = PacketTypeRR
	binary.BigEndian.PutUint16(out[2:4], uint16(bodyLen / 4))
	binary.BigEndian.PutUint32(out[4:8], rr.SSRC)
	for i, rb := range rr.Reports {
		encodeReportBlock(out[8+i*24:8+i*24+24], rb)
	}
	return out
}

// EncodeSDES serializes an SDES packet, one chunk per SSRC.
func EncodeSDES(sdes SourceDescription) []byte {
	var body []byte
	for _, chunk := range sdes.Chunks {
		start := len(body)
		hdr := make([]byte, 4)
		binary.BigEndian.PutUint32(hdr, chunk.SSRC)
		body = append(body, hdr...)
		for _, item := range chunk.Items {
			body = append(body, item.Type, byte(len(item.Text)))
			body = append(body, item.Text...)
		}
		body = append(body, SDESEnd)
		consumed := len(body) - start
		padded := roundUp4(consumed)
		for len(body)-start < padded {
			body = append(body, 0)
		}
	}

	out := make([]byte, 4+len(body))
	out[0] = rtcpVersion<<6 | byte(len(sdes.Chunks))&0x1F
	out[1] = PacketTypeSDES
	binary.BigEndian.PutUint16(out[2:4], uint16(len(body)/4+1-1))
	copy(out[4:], body)
	return out
}

// EncodeBye serializes a BYE packet.
func EncodeBye(bye Goodbye) []byte {
	body := make([]byte, 4*len(bye.Sources))
	for i, ssrc := range bye.Sources {
		binary.BigEndian.PutUint32(body[i*4:i*4+4], ssrc)
	}
	if bye.Reason != "" {
		reasonBlock := append([]byte{byte(len(bye.Reason))}, bye.Reason...)
		padded := roundUp4(len(reasonBlock))
		for len(reasonBlock) < padded {
			reasonBlock = append(reasonBlock, 0)
		}
		body = append(body, reasonBlock...)
	}

	out := make([]byte, 4+len(body))
	out[0] = rtcpVersion<<6 | byte(len(bye.Sources))&0x1F
	out[1] = PacketTypeBYE
	binary.BigEndian.PutUint16(out[2:4], uint16(len(body)/4+1-1))
	copy(out[4:], body)
	return out
}

// EncodeApp serializes an APP packet.
func EncodeApp(app App) []byte {
	bodyLen := roundUp4(8 + len(app.Data))
	out := make([]byte, 4+bodyLen)
	out[0] = rtcpVersion<<6 | app.SubType&0x1F
	out[1] = PacketTypeAPP
	binary.BigEndian.PutUint16(out[2:4], uint16(bodyLen / 4))
	binary.BigEndian.PutUint32(out[4:8], app.SSRC)
	copy(out[8:12], app.Name[:])
	copy(out[12:], app.Data)
	return out
}
