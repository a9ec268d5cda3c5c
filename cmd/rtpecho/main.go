// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

// Command rtpecho exercises the full core end to end over loopback
// sockets: a caller endpoint sends audio frames and a DTMF digit, a
// callee endpoint receives and decodes them, and the caller sends one
// RTCP report that the callee reads. It is a smoke harness, not a supported deployment tool.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/halvarsson/rtpcore/rtp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEndpoint(name string, log zerolog.Logger) (*rtp.Endpoint, *rtp.RTCPSession) {
	ep, err := rtp.NewEndpoint(rtp.EndpointOptions{
		PayloadType:               0,
		CNGPayloadType:            13,
		TelephoneEventPayloadType: 101,
		SamplesPerInterval:        160,
		MaxMissedPackets:          50,
	}, rtp.FlagIO|rtp.FlagPassRFC2833|rtp.FlagAutoAdjust)
	must(err)
	ep.SetLogger(log.With().Str("endpoint", name).Logger())
	must(ep.SetLocal("127.0.0.1", 0))

	rtcpSession := rtp.NewRTCPSession(ep.SSRC(), name+"@rtpecho")
	rtcpSession.SetLogger(log.With().Str("endpoint", name).Logger())
	must(rtcpSession.Bind("127.0.0.1", 0))
	ep.SetRTCP(rtcpSession)
	return ep, rtcpSession
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	caller, callerRTCP := newEndpoint("caller", log)
	callee, calleeRTCP := newEndpoint("callee", log)
	defer caller.Destroy()
	defer callee.Destroy()
	defer callerRTCP.Close()
	defer calleeRTCP.Close()

	must(caller.SetRemote("127.0.0.1", callee.LocalAddr().Port))
	must(callee.SetRemote("127.0.0.1", caller.LocalAddr().Port))
	must(callerRTCP.SetRemote("127.0.0.1", calleeRTCP.LocalAddr().Port))
	must(calleeRTCP.SetRemote("127.0.0.1", callerRTCP.LocalAddr().Port))

	must(caller.QueueDTMF('5', 1280, 10))

	silence := make([]byte, 160)
	for i := range silence {
		silence[i] = 0xFF // mu-law silence
	}

	const frameCount = 20

	// caller and callee run their media loops on separate goroutines, the
	// way a real two-party session would, rather than lockstepping a
	// single loop the way a serial demo could get away with.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	g, _ := errgroup.WithContext(ctx)

	g.Go(func() error {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; i < frameCount; i++ {
			<-ticker.C
			ts := uint32(i * 160)
			if _, err := caller.WriteFrame(silence, ts, true); err != nil {
				log.Warn().Err(err).Msg("write failed")
			}
		}
		return callerRTCP.WriteReport()
	})

	g.Go(func() error {
		readBuf := make([]byte, 1500)
		for i := 0; i < frameCount; i++ {
			must(callee.SetReadTimeout(100 * time.Millisecond))
			got, err := callee.ReadFrame(readBuf)
			switch {
			case rtp.Kind(err) == rtp.KindNeedMoreData:
				// a DTMF event packet was consumed by the receiver, not returned as media
			case err != nil:
				log.Warn().Err(err).Msg("read failed")
			case !got.CNG:
				log.Info().Uint16("seq", got.SequenceNumber).Uint32("ts", got.Timestamp).Msg("callee received frame")
			}
		}

		must(calleeRTCP.SetReadTimeout(2 * time.Second))
		return calleeRTCP.ReadRTCP(readBuf)
	})

	must(g.Wait())

	digits := make([]byte, 8)
	n := callee.ReadDTMF(digits)
	log.Info().Str("digits", string(digits[:n])).Msg("dtmf decoded")
}
