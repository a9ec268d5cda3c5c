// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"encoding/binary"
	"net"
)

// Component — minimal ICE/STUN keep-alive (§4.7, §9 Design Notes: "a
// hand-rolled binding request/response, not a full ICE agent"). Grounded
// on original_source/src/switch_rtp.c's ice_out/handle_ice, which speaks a
// legacy STUN binding exchange (no XOR-MAPPED-ADDRESS, no fragment
// priorities) purely to keep a NAT binding alive and confirm reachability.

const (
	stunBindingRequest  uint16 = 0x0001
	stunBindingResponse uint16 = 0x0101

	stunAttrMappedAddress uint16 = 0x0001
	stunAttrUsername      uint16 = 0x0006

	stunHeaderLen       = 20
	stunTransactionLen  = 16
	stunIPv4Family      = 0x01
)

// ICEAgent drives the keep-alive binding exchange for one RTP component.
// Username is matched exactly (no fragment priority/role negotiation),
// mirroring the original's plain strcmp check.
type ICEAgent struct {
	// SendUsername is placed in outbound binding requests: local-ufrag
	// concatenated with remote-ufrag, in that order (§4 supplemented
	// features: "STUN username concatenation order").
	SendUsername string
	// ExpectUsername is what an inbound binding request's USERNAME
	// attribute must equal for this agent to answer it: remote-ufrag
	// concatenated with local-ufrag, the reverse of SendUsername.
	ExpectUsername string

	transactionID [stunTransactionLen]byte
	ticksSinceRequest int
	ticksSinceReply   int
}

// BuildBindingRequest constructs the outbound keep-alive packet (ice_out).
// Callers send this at a fixed cadence over the RTP socket's underlying
// UDP connection.
func (a *ICEAgent) BuildBindingRequest() []byte {
	a.ticksSinceRequest = 0
	return buildStunPacket(stunBindingRequest, a.transactionID, a.SendUsername, nil, 0)
}

// HandleIncoming parses a received packet as STUN (the caller is
// responsible for routing non-RTP/RTCP-looking datagrams here first) and,
// if it's a binding request whose username matches, returns the binding
// response to send back along with ok=true. A binding response (our own
// keep-alive's reply) only resets the activity counter and returns
// ok=false — there's nothing to send back.
func (a *ICEAgent) HandleIncoming(buf []byte, fromAddr *net.UDPAddr) ([]byte, bool) {
	pkt, err := parseStunPacket(buf)
	if err != nil {
		return nil, false
	}
	a.ticksSinceReply = 0

	if pkt.msgType == stunBindingResponse {
		return nil, false
	}
	if pkt.msgType != stunBindingRequest {
		return nil, false
	}
	if pkt.username != a.ExpectUsername {
		return nil, false
	}

	resp := buildStunPacket(stunBindingResponse, pkt.transactionID, pkt.username, fromAddr.IP, fromAddr.Port)
	return resp, true
}

// Tick advances the keep-alive's idle counters by one scheduling interval,
// returning true if the peer has gone quiet long enough that the caller
// should treat the ICE path as stale (the PUNT condition in the original).
func (a *ICEAgent) Tick(staleAfterTicks int) bool {
	a.ticksSinceRequest++
	a.ticksSinceReply++
	return a.ticksSinceReply > staleAfterTicks
}

// LooksLikeStun reports whether buf's leading bytes are plausibly a STUN
// message rather than RTP/RTCP, for demultiplexing a single socket.
func LooksLikeStun(buf []byte) bool {
	if len(buf) < stunHeaderLen {
		return false
	}
	// RTP version bits (top two bits of byte 0) are 2; STUN's top two bits
	// of the message-type field are always 0.
	return buf[0]&0xC0 == 0
}

type stunPacket struct {
	msgType       uint16
	transactionID [stunTransactionLen]byte
	username      string
}

func buildStunPacket(msgType uint16, transactionID [stunTransactionLen]byte, username string, mappedIP net.IP, mappedPort int) []byte {
	var attrs []byte
	if username != "" {
		attrs = append(attrs, encodeStunAttr(stunAttrUsername, []byte(username))...)
	}
	if mappedIP != nil {
		v4 := mappedIP.To4()
		val := make([]byte, 8)
		val[1] = stunIPv4Family
		binary.BigEndian.PutUint16(val[2:4], uint16(mappedPort))
		copy(val[4:8], v4)
		attrs = append(attrs, encodeStunAttr(stunAttrMappedAddress, val)...)
	}

	out := make([]byte, stunHeaderLen+len(attrs))
	binary.BigEndian.PutUint16(out[0:2], msgType)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(attrs)))
	copy(out[4:20], transactionID[:])
	copy(out[20:], attrs)
	return out
}

func encodeStunAttr(attrType uint16, value []byte) []byte {
	padded := len(value)
	if rem := padded % 4; rem != 0 {
		padded += 4 - rem
	}
	out := make([]byte, 4+padded)
	binary.BigEndian.PutUint16(out[0:2], attrType)
	binary.BigEndian.PutUint16(out[2:4], uint16(len(value)))
	copy(out[4:], value)
	return out
}

func parseStunPacket(buf []byte) (stunPacket, error) {
	var pkt stunPacket
	if len(buf) < stunHeaderLen {
		return pkt, wrapErr(KindInvalidPacket, "rtp: stun packet too short", ErrInvalidPacket)
	}
	pkt.msgType = binary.BigEndian.Uint16(buf[0:2])
	attrLen := int(binary.BigEndian.Uint16(buf[2:4]))
	copy(pkt.transactionID[:], buf[4:20])

	if 20+attrLen > len(buf) {
		return pkt, wrapErr(KindInvalidPacket, "rtp: stun attribute length overflow", ErrInvalidPacket)
	}

	offset := stunHeaderLen
	end := stunHeaderLen + attrLen
	for offset+4 <= end {
		attrType := binary.BigEndian.Uint16(buf[offset : offset+2])
		attrValLen := int(binary.BigEndian.Uint16(buf[offset+2 : offset+4]))
		valStart := offset + 4
		if valStart+attrValLen > len(buf) {
			break
		}
		if attrType == stunAttrUsername {
			pkt.username = string(buf[valStart : valStart+attrValLen])
		}
		padded := attrValLen
		if rem := padded % 4; rem != 0 {
			padded += 4 - rem
		}
		offset = valStart + padded
	}

	return pkt, nil
}
