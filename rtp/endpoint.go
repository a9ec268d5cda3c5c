// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package rtp

import (
	"encoding/hex"
	"math/rand"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Component 6 — the session endpoint. Owns the socket, the jitter buffer,
// the DTMF engine, optional SRTP/ICE, and the per-direction sequence/
// timestamp counters, grounded on media.MediaSession's socket lifecycle
// (createListeners/listenRTPandRTCP's bind-with-retry) and
// media.RTPSession's read/write stat bookkeeping, generalized from a
// paired RTP+RTCP socket into one endpoint owning both concerns directly.

// RTPDebug gates expensive per-packet debug formatting the same way the
// teacher's media.RTPDebug/media.RTCPDebug package booleans do, so a
// caller can flip verbose tracing on without paying for it by default.
var RTPDebug = false

// State is the endpoint lifecycle (§4.3 "States").
type State int

const (
	StateConstructed State = iota
	StateBound
	StateLive
	StateKilled
	StateDestroyed
)

// CodecDecodeFunc is the "codec.decode" collaborator callback the VAD gate
// uses to turn an outbound payload into PCM for energy scoring (§6).
type CodecDecodeFunc func(payload []byte) (pcm []int16, err error)

// EndpointOptions configures Construction (§4.3 "create").
type EndpointOptions struct {
	PayloadType             uint8
	SamplesPerInterval      uint32
	CNGPayloadType          uint8
	TelephoneEventPayloadType uint8
	MaxMissedPackets        uint32

	Timer Timer

	JitterBuffer Options

	// MasterKeyHex, when non-empty, must be exactly 2*MasterKeyLen hex
	// digits (key||salt concatenated). Anything else is CryptError.
	MasterKeyHex       string
	RemoteMasterKeyHex string
	SRTPProfile        uint16

	ID string
}

// MasterKeyLen is the raw byte length of an AES-128 SRTP master key+salt
// pair this endpoint accepts hex-encoded (§4.3 Construction).
const MasterKeyLen = 30

// Endpoint is one RTP/RTCP/SRTP/DTMF session over a single UDP socket.
type Endpoint struct {
	id string

	state State
	flags *Flags

	conn       *net.UDPConn
	localAddr  *net.UDPAddr
	remoteAddr *net.UDPAddr

	payloadType               uint8
	cngPayloadType            uint8
	telephoneEventPayloadType uint8
	samplesPerInterval        uint32
	maxMissedPackets          uint32
	missedCount               uint32

	ssrc uint32
	seq  uint16
	ts   uint32

	lastWriteTs         uint32
	lastWriteSeq        uint16
	lastWriteSampleCount uint32
	lastCNGRun          bool
	idleSamples         uint32

	jitter *JitterBuffer
	timer  Timer

	dtmfSender   *DTMFSender
	dtmfReceiver *DTMFReceiver

	crypto *CryptoPair
	ice    *ICEAgent
	rtcp   *RTCPSession

	vad        *vadGate
	codecDecode CodecDecodeFunc

	autoAdjustMismatches int

	OnInvalidPacket func(buf []byte, from *net.UDPAddr)

	log zerolog.Logger
}

type vadGate struct {
	active      bool
	talking     bool
	bgLevel     int64
	frames      int
}

// NewEndpoint constructs an endpoint with a random initial SSRC and
// sequence number and a zero initial timestamp (§4.3 Construction).
func NewEndpoint(opts EndpointOptions, flags Flag) (*Endpoint, error) {
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}

	ep := &Endpoint{
		id:                        id,
		state:                     StateConstructed,
		flags:                     NewFlags(flags),
		payloadType:               opts.PayloadType,
		cngPayloadType:            opts.CNGPayloadType,
		telephoneEventPayloadType: opts.TelephoneEventPayloadType,
		samplesPerInterval:        opts.SamplesPerInterval,
		maxMissedPackets:          opts.MaxMissedPackets,
		ssrc:                      rand.Uint32(),
		seq:                       uint16(rand.Uint32()),
		ts:                        0,
		timer:                     opts.Timer,
		jitter:                    NewJitterBuffer(opts.JitterBuffer),
		dtmfSender:                NewDTMFSender(uint16(opts.SamplesPerInterval)),
		dtmfReceiver:              NewDTMFReceiver(64),
		log:                       zerolog.Nop(),
	}
	if ep.cngPayloadType == 0 {
		ep.cngPayloadType = DefaultCNGPayloadType
	}
	if ep.telephoneEventPayloadType == 0 {
		ep.telephoneEventPayloadType = DefaultTelephoneEventPayloadType
	}

	if opts.MasterKeyHex != "" {
		key, salt, err := decodeMasterKeyHex(opts.MasterKeyHex)
		if err != nil {
			return nil, err
		}
		remoteKey, remoteSalt, err := decodeMasterKeyHex(opts.RemoteMasterKeyHex)
		if err != nil {
			return nil, err
		}
		pair, err := NewCryptoPair(key, salt, remoteKey, remoteSalt, opts.SRTPProfile)
		if err != nil {
			return nil, err
		}
		ep.crypto = pair
		ep.flags.Set(FlagSecure)
	}

	if ep.flags.Has(FlagVAD) {
		ep.vad = &vadGate{active: true}
	}

	return ep, nil
}

func decodeMasterKeyHex(s string) (key, salt []byte, err error) {
	if len(s) != 2*MasterKeyLen {
		return nil, nil, wrapErr(KindCryptError, "rtp: master key must be hex-encoded and 2*MasterKeyLen digits", ErrCryptError)
	}
	raw := make([]byte, MasterKeyLen)
	if _, decErr := hex.Decode(raw, []byte(s)); decErr != nil {
		return nil, nil, wrapErr(KindCryptError, "rtp: master key is not valid hex", decErr)
	}
	return raw[:16], raw[16:], nil
}

// SetLogger installs a structured logger for this endpoint.
func (e *Endpoint) SetLogger(log zerolog.Logger) { e.log = log }

// SetCodecDecode installs the VAD energy-scoring collaborator (§6).
func (e *Endpoint) SetCodecDecode(fn CodecDecodeFunc) { e.codecDecode = fn }

// SetICE installs the ICE keep-alive agent.
func (e *Endpoint) SetICE(agent *ICEAgent) { e.ice = agent }

// SetRTCP installs the companion RTCP session. Once set, ReadFrame feeds
// accepted media packets into its participant table and WriteFrame tallies
// the sent-packet/octet counters a sender report needs.
func (e *Endpoint) SetRTCP(session *RTCPSession) { e.rtcp = session }

// SSRC returns this endpoint's synchronization source identifier.
func (e *Endpoint) SSRC() uint32 { return e.ssrc }

// Flags exposes the endpoint's flag word for callers needing direct
// Set/Clear/Has access (§6 "Flags exposed").
func (e *Endpoint) Flags() *Flags { return e.flags }

// State reports the endpoint's lifecycle state.
func (e *Endpoint) State() State { return e.state }

// LocalAddr returns the bound media socket's address, valid after SetLocal.
func (e *Endpoint) LocalAddr() *net.UDPAddr { return e.localAddr }

// SetReadTimeout bounds the next ReadFrame call, for callers driving the
// read loop from a fixed-length demo or test rather than a dedicated
// goroutine.
func (e *Endpoint) SetReadTimeout(d time.Duration) error {
	return e.conn.SetReadDeadline(time.Now().Add(d))
}

// QueueDTMF queues an outbound RFC 2833 digit; WriteFrame drives the
// redundant event train one tick at a time once a digit is pending.
func (e *Endpoint) QueueDTMF(digit rune, durationSamples uint16, volume uint8) error {
	return e.dtmfSender.Queue(digit, durationSamples, volume)
}

// ReadDTMF drains digits the DTMF receiver has decoded from inbound
// telephone-event packets.
func (e *Endpoint) ReadDTMF(p []byte) int {
	return e.dtmfReceiver.Read(p)
}

const (
	bindProbeAttempts = 500
	bindProbeYield     = time.Millisecond
)

// SetLocal binds the endpoint's UDP socket and confirms it is live with a
// self-send/self-recv probe (§4.3 "Local bind").
func (e *Endpoint) SetLocal(host string, port int) error {
	addr := &net.UDPAddr{IP: net.ParseIP(host), Port: port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return wrapErr(KindSocketError, "rtp: bind local socket", err)
	}

	if err := probeSocket(conn); err != nil {
		conn.Close()
		return err
	}

	if e.conn != nil {
		e.conn.Close()
	}
	e.conn = conn
	e.localAddr = conn.LocalAddr().(*net.UDPAddr)
	e.log.Debug().Str("addr", e.localAddr.String()).Msg("rtp: local socket bound")

	if e.flags.Has(FlagUseTimer) || e.flags.Has(FlagNoBlock) {
		// Non-blocking reads are implemented via read deadlines at call
		// sites rather than a socket-level nonblocking mode, since Go's
		// net.UDPConn has no direct equivalent.
	}

	e.state = StateBound
	return nil
}

func probeSocket(conn *net.UDPConn) error {
	local := conn.LocalAddr().(*net.UDPAddr)
	probe := []byte{0}
	for i := 0; i < bindProbeAttempts; i++ {
		if _, err := conn.WriteToUDP(probe, local); err != nil {
			time.Sleep(bindProbeYield)
			continue
		}
		conn.SetReadDeadline(time.Now().Add(bindProbeYield))
		buf := make([]byte, 1)
		if _, _, err := conn.ReadFromUDP(buf); err == nil {
			conn.SetReadDeadline(time.Time{})
			return nil
		}
		time.Sleep(bindProbeYield)
	}
	return wrapErr(KindSocketError, "rtp: local socket self-probe failed", ErrSocketError)
}

// SetRemote resolves and stores the peer address (§4.3 "Remote set").
func (e *Endpoint) SetRemote(host string, port int) error {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return wrapErr(KindAddressError, "rtp: resolve remote host", err)
		}
		ip = resolved.IP
	}
	e.remoteAddr = &net.UDPAddr{IP: ip, Port: port}
	return nil
}

// MediaFrame is one decoded, application-ready media unit from ReadFrame.
type MediaFrame struct {
	Payload []byte
	Timestamp uint32
	SequenceNumber uint16
	SSRC uint32
	Marker bool
	CNG bool
}

// ReadFrame executes the twelve-step read loop (§4.3 "Read loop").
func (e *Endpoint) ReadFrame(buf []byte) (MediaFrame, error) {
	n, from, err := e.conn.ReadFromUDP(buf)
	if err != nil {
		return MediaFrame{}, wrapErr(KindSocketError, "rtp: read from socket", err)
	}
	raw := buf[:n]

	if e.timer != nil && !e.flags.Has(FlagBreak) {
		e.timer.Step()
	}

	if e.flags.TestAndClear(FlagBreak) {
		return MediaFrame{Payload: append([]byte(nil), CNGBreakPayload...), CNG: true}, nil
	}

	if e.ice != nil && LooksLikeStun(raw) {
		if resp, ok := e.ice.HandleIncoming(raw, from); ok {
			e.log.Debug().Stringer("from", from).Msg("rtp: answered STUN binding request")
			e.conn.WriteToUDP(resp, from)
		}
		return MediaFrame{}, ErrNeedMoreData
	}

	if raw[0]>>6 != 2 {
		e.log.Warn().Stringer("from", from).Uint8("version", raw[0]>>6).Msg("rtp: dropped packet with unsupported version")
		if e.OnInvalidPacket != nil {
			e.OnInvalidPacket(raw, from)
		}
		return MediaFrame{Payload: append([]byte(nil), CNGKeepAlivePayload...), CNG: true}, nil
	}

	if e.crypto != nil {
		decrypted, err := e.crypto.DecryptRTP(nil, raw)
		if err != nil {
			e.log.Warn().Err(err).Stringer("from", from).Msg("rtp: srtp unprotect failed")
			return MediaFrame{}, wrapErr(KindCryptError, "rtp: srtp unprotect failed", err)
		}
		raw = decrypted
	}

	pkt, err := DecodeRTP(raw)
	if err != nil {
		e.log.Warn().Err(err).Stringer("from", from).Msg("rtp: invalid packet")
		if e.OnInvalidPacket != nil {
			e.OnInvalidPacket(raw, from)
		}
		return MediaFrame{Payload: append([]byte(nil), CNGKeepAlivePayload...), CNG: true}, nil
	}
	if RTPDebug && e.log.Debug().Enabled() {
		e.log.Debug().Uint16("seq", pkt.SequenceNumber).Uint32("ts", pkt.Timestamp).Uint8("pt", pkt.PayloadType).Msg("rtp: recv")
	}

	if e.flags.Has(FlagAutoAdjust) && e.remoteAddr != nil {
		if !from.IP.Equal(e.remoteAddr.IP) || from.Port != e.remoteAddr.Port {
			e.autoAdjustMismatches++
			if e.autoAdjustMismatches >= 10 {
				e.log.Info().Stringer("old", e.remoteAddr).Stringer("new", from).Msg("rtp: auto-adjusted remote address after repeated mismatch")
				e.remoteAddr = from
				e.autoAdjustMismatches = 0
			}
		} else {
			e.autoAdjustMismatches = 0
		}
	}

	if pkt.PayloadType == e.cngPayloadType {
		return MediaFrame{}, ErrNeedMoreData
	}

	effectivePT := ApplyGoogleHack(pkt.PayloadType, e.flags.Has(FlagGoogleHack))
	if effectivePT == e.telephoneEventPayloadType && e.flags.Has(FlagPassRFC2833) {
		ferr := e.dtmfReceiver.Feed(pkt.SequenceNumber, pkt.Payload, uint64(time.Now().UnixMilli()))
		if ferr != nil {
			e.log.Debug().Err(ferr).Msg("rtp: dtmf event packet ignored")
		} else if e.dtmfReceiver.TakeBreakRequest() {
			e.log.Debug().Msg("rtp: dtmf digit decoded")
			e.flags.Set(FlagBreak)
		}
		return MediaFrame{}, ErrNeedMoreData
	}

	if pkt.PayloadType == effectivePT && effectivePT == e.payloadType {
		if e.rtcp != nil {
			e.rtcp.OnRTPPacket(pkt.SSRC, pkt.SequenceNumber, pkt.CSRC, pkt.Timestamp, uint32(time.Now().UnixMilli()), from)
		}
		status, intakeErr := e.jitter.Put(pkt.Timestamp, pkt.SequenceNumber, pkt.PayloadType, pkt.Payload, uint32(time.Now().UnixMilli()), pkt.Marker)
		_ = intakeErr
		if status == IntakeOK {
			if frame, ok := e.jitter.Read(); ok {
				if frame.PLC {
					e.missedCount++
					if e.maxMissedPackets > 0 && e.missedCount >= e.maxMissedPackets {
						e.log.Warn().Uint32("missed", e.missedCount).Msg("rtp: max missed packets reached")
						return MediaFrame{}, ErrStreamLost
					}
				} else {
					e.missedCount = 0
				}
				return MediaFrame{
					Payload:        frame.Payload,
					Timestamp:      frame.Timestamp,
					SequenceNumber: frame.SequenceNumber,
					SSRC:           pkt.SSRC,
					Marker:         pkt.Marker,
					CNG:            frame.PLC,
				}, nil
			}
			e.log.Warn().Msg("rtp: jitter buffer reset, stream lost")
			return MediaFrame{}, ErrStreamLost
		}
	}

	return MediaFrame{
		Payload:        pkt.Payload,
		Timestamp:      pkt.Timestamp,
		SequenceNumber: pkt.SequenceNumber,
		SSRC:           pkt.SSRC,
		Marker:         pkt.Marker,
	}, nil
}

// WriteFrame executes the eight-step write path (§4.3 "Write path").
func (e *Endpoint) WriteFrame(payload []byte, explicitTs uint32, hasExplicitTs bool) (int, error) {
	if e.flags.Has(FlagRawWrite) {
		n, err := e.conn.WriteToUDP(payload, e.remoteAddr)
		return n, wrapSocketErr(err)
	}

	e.seq++
	var ts uint32
	switch {
	case hasExplicitTs:
		ts = explicitTs
	case e.timer != nil:
		ts = e.timer.SampleCount()
	default:
		ts = e.ts + e.samplesPerInterval
	}
	e.ts = ts

	marker := ts > e.lastWriteTs+10*e.samplesPerInterval || e.lastCNGRun
	e.lastCNGRun = false

	outPayload := payload
	if e.vad != nil && e.vad.active && e.codecDecode != nil {
		pcm, err := e.codecDecode(payload)
		if err != nil {
			e.log.Warn().Err(err).Msg("rtp: vad codec decode failed, forwarding frame unsuppressed")
		} else {
			wasTalking := e.vad.talking
			talking := e.vad.scan(pcm)
			if talking != wasTalking {
				e.log.Debug().Bool("talking", talking).Msg("rtp: vad transition")
			}
			if !talking {
				e.idleSamples += e.samplesPerInterval
				e.lastWriteTs = ts
				e.lastWriteSeq = e.seq
				if e.flags.Has(FlagAutoCNG) && e.idleSamples >= 50*e.samplesPerInterval {
					e.writeCNGKeepAlive()
					e.idleSamples = 0
					e.lastCNGRun = true
				}
				return 0, nil
			}
			e.idleSamples = 0
		}
	}

	pt := e.payloadType
	if e.dtmfSender.Pending() {
		e.dtmfSender.SetBuggy2833(e.flags.Has(FlagBuggy2833))
		if ev, ok := e.dtmfSender.Tick(ts); ok {
			outPayload = ev.Payload
			marker = ev.Marker
			pt = ApplyGoogleHack(e.telephoneEventPayloadType, e.flags.Has(FlagGoogleHack))
		}
	}

	hdr := Header{Version: 2, Marker: marker, PayloadType: pt, SequenceNumber: e.seq, Timestamp: ts, SSRC: e.ssrc}
	pkt := Packet{Header: hdr, Payload: outPayload}
	wire, err := EncodeRTP(&pkt, nil)
	if err != nil {
		return 0, err
	}

	if e.crypto != nil {
		wire, err = e.crypto.EncryptRTP(nil, wire)
		if err != nil {
			e.log.Warn().Err(err).Msg("rtp: srtp protect failed")
			return 0, wrapErr(KindCryptError, "rtp: srtp protect failed", err)
		}
	}

	if RTPDebug && e.log.Debug().Enabled() {
		e.log.Debug().Uint16("seq", e.seq).Uint32("ts", ts).Uint8("pt", pt).Msg("rtp: send")
	}

	n, err := e.conn.WriteToUDP(wire, e.remoteAddr)
	if err != nil {
		e.log.Warn().Err(err).Msg("rtp: socket write failed")
		return 0, wrapSocketErr(err)
	}

	e.lastWriteTs = ts
	e.lastWriteSeq = e.seq
	e.lastWriteSampleCount += e.samplesPerInterval
	e.idleSamples = 0

	if e.rtcp != nil {
		e.rtcp.packetsSent++
		e.rtcp.octetsSent += uint32(len(outPayload))
		e.rtcp.OnSentRTPPacket()
	}

	if e.ice != nil {
		if e.ice.Tick(1) {
			req := e.ice.BuildBindingRequest()
			e.conn.WriteToUDP(req, e.remoteAddr)
		}
	}

	return n, nil
}

func (e *Endpoint) writeCNGKeepAlive() {
	hdr := Header{Version: 2, PayloadType: e.cngPayloadType, SequenceNumber: e.seq, Timestamp: e.ts, SSRC: e.ssrc}
	pkt := Packet{Header: hdr, Payload: CNGKeepAlivePayload}
	wire, err := EncodeRTP(&pkt, nil)
	if err != nil {
		return
	}
	e.conn.WriteToUDP(wire, e.remoteAddr)
}

func wrapSocketErr(err error) error {
	if err == nil {
		return nil
	}
	return wrapErr(KindSocketError, "rtp: socket write failed", err)
}

// scan computes a PCM frame's mean-absolute energy, averages the first
// five frames into a background level, and from then on reports talking
// whenever a frame's energy exceeds that level by more than 400. Each frame
// is judged on its own: there is no hangover/hangunder hysteresis, and the
// background level is never re-learned. The fuller background-learning
// state machine lives in package codecglue for callers that want it
// standalone.
func (g *vadGate) scan(pcm []int16) bool {
	if len(pcm) == 0 {
		return g.talking
	}
	var sum int64
	for _, s := range pcm {
		v := int64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	energy := sum / int64(len(pcm))

	g.frames++
	if g.frames <= 5 {
		g.bgLevel += energy
		if g.frames == 5 {
			g.bgLevel /= 5
		}
		return g.talking
	}

	g.talking = energy > g.bgLevel+400
	return g.talking
}

// Kill shuts down the socket and clears the IO flag, the first half of
// teardown (§4.3 "States").
func (e *Endpoint) Kill() error {
	e.log.Debug().Msg("rtp: endpoint killed")
	e.flags.Clear(FlagIO)
	e.state = StateKilled
	if e.conn != nil {
		return e.conn.Close()
	}
	return nil
}

// Destroy tears down SRTP, the timer, and the jitter buffer and marks the
// endpoint Destroyed. Port release is the caller's responsibility via
// package portalloc, since the endpoint doesn't know which table it was
// allocated from.
func (e *Endpoint) Destroy() {
	e.log.Debug().Msg("rtp: endpoint destroyed")
	if e.state != StateKilled {
		e.Kill()
	}
	if st, ok := e.timer.(*SystemTimer); ok {
		st.Stop()
	}
	e.jitter.Reset()
	e.crypto = nil
	e.state = StateDestroyed
}
