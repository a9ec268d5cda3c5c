// SPDX-License-Identifier: MPL-2.0
// Copyright (C) 2024 Emir Aganovic

package rtp

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters/gauges for a session endpoint. Nothing in this
// package updates them; the caller that owns the Endpoint does.
// Grounded on the facebook-time PTP stack's Prometheus exporter pattern
// (construct the collectors, register them into a caller-owned registry,
// update them inline rather than scraping a side channel).
type Metrics struct {
	PacketsReceived prometheus.Counter
	PacketsSent     prometheus.Counter
	BytesReceived   prometheus.Counter
	BytesSent       prometheus.Counter
	PacketsLost     prometheus.Counter
	PLCFrames       prometheus.Counter
	JitterBufferResizeUp   prometheus.Counter
	JitterBufferResizeDown prometheus.Counter
	DTMFDigitsSent     prometheus.Counter
	DTMFDigitsReceived prometheus.Counter
	SSRCCollisions     prometheus.Counter
	JitterEstimate prometheus.Gauge
	RoundTripTime  prometheus.Gauge
	ActiveParticipants prometheus.Gauge
}

// NewMetrics constructs a fresh set of collectors labeled with the
// session name so one registry can hold metrics for several concurrent
// sessions without name collisions.
func NewMetrics(sessionLabel string) *Metrics {
	constLabels := prometheus.Labels{"session": sessionLabel}
	return &Metrics{
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_packets_received_total", Help: "RTP packets received.", ConstLabels: constLabels,
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_packets_sent_total", Help: "RTP packets sent.", ConstLabels: constLabels,
		}),
		BytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_bytes_received_total", Help: "RTP payload bytes received.", ConstLabels: constLabels,
		}),
		BytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_bytes_sent_total", Help: "RTP payload bytes sent.", ConstLabels: constLabels,
		}),
		PacketsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_packets_lost_total", Help: "Packets the jitter buffer never received.", ConstLabels: constLabels,
		}),
		PLCFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_plc_frames_total", Help: "Concealment frames synthesized for missing packets.", ConstLabels: constLabels,
		}),
		JitterBufferResizeUp: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_jitter_buffer_resize_up_total", Help: "Adaptive jitter buffer grow events.", ConstLabels: constLabels,
		}),
		JitterBufferResizeDown: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_jitter_buffer_resize_down_total", Help: "Adaptive jitter buffer shrink events.", ConstLabels: constLabels,
		}),
		DTMFDigitsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_dtmf_digits_sent_total", Help: "RFC 2833 digits transmitted.", ConstLabels: constLabels,
		}),
		DTMFDigitsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_dtmf_digits_received_total", Help: "RFC 2833 digits decoded.", ConstLabels: constLabels,
		}),
		SSRCCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rtpcore_ssrc_collisions_total", Help: "SSRC collisions detected in the participant table.", ConstLabels: constLabels,
		}),
		JitterEstimate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtpcore_jitter_estimate_seconds", Help: "RFC 3550 interarrival jitter estimate.", ConstLabels: constLabels,
		}),
		RoundTripTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtpcore_round_trip_time_seconds", Help: "Last RTCP-derived round trip estimate.", ConstLabels: constLabels,
		}),
		ActiveParticipants: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rtpcore_active_participants", Help: "Validated participants currently tracked.", ConstLabels: constLabels,
		}),
	}
}

// Register adds every collector to reg, matching the AlreadyRegisteredError
// tolerance the facebook-time exporter uses so re-registering an existing
// session's metrics doesn't abort startup.
func (m *Metrics) Register(reg *prometheus.Registry) error {
	collectors := []prometheus.Collector{
		m.PacketsReceived, m.PacketsSent, m.BytesReceived, m.BytesSent,
		m.PacketsLost, m.PLCFrames, m.JitterBufferResizeUp, m.JitterBufferResizeDown,
		m.DTMFDigitsSent, m.DTMFDigitsReceived, m.SSRCCollisions,
		m.JitterEstimate, m.RoundTripTime, m.ActiveParticipants,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
