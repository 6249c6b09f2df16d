package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the Prometheus collectors for reflector activity: session
// lifecycle, talker arbitration, and VAD gate outcomes.
type Metrics struct {
	sessionsConnected prometheus.Gauge
	sessionsTotal      prometheus.Counter
	disconnectsTotal    prometheus.Counter

	talkerStartsTotal *prometheus.CounterVec // label: tg
	talkerStopsTotal  *prometheus.CounterVec // label: tg
	audioBroadcastTotal *prometheus.CounterVec // label: tg

	vadDeniedTotal *prometheus.CounterVec // label: callsign

	pusher *push.Pusher
}

// NewMetrics registers the reflector's collectors and, if pushGateway is
// non-empty, wires a push.Pusher for periodic pushes (grounded on the
// teacher's promauto-registration-plus-push-gateway pattern).
func NewMetrics(pushGateway string) *Metrics {
	m := &Metrics{
		sessionsConnected: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "reflector_sessions_connected",
			Help: "Number of currently connected sessions.",
		}),
		sessionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reflector_sessions_total",
			Help: "Total sessions that have completed the handshake.",
		}),
		disconnectsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "reflector_disconnects_total",
			Help: "Total session disconnects.",
		}),
		talkerStartsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_talker_starts_total",
			Help: "Total talker-start transitions, by talkgroup.",
		}, []string{"tg"}),
		talkerStopsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_talker_stops_total",
			Help: "Total talker-stop transitions, by talkgroup.",
		}, []string{"tg"}),
		audioBroadcastTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_audio_broadcast_total",
			Help: "Total audio datagrams accepted for broadcast, by talkgroup.",
		}, []string{"tg"}),
		vadDeniedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "reflector_vad_denied_total",
			Help: "Total sessions disconnected for exhausting the VAD gate budget, by callsign.",
		}, []string{"callsign"}),
	}

	if pushGateway != "" {
		m.pusher = push.New(pushGateway, "svxreflector")
	}

	return m
}

func (m *Metrics) SessionConnected() {
	m.sessionsConnected.Inc()
	m.sessionsTotal.Inc()
}

func (m *Metrics) SessionDisconnected() {
	m.sessionsConnected.Dec()
	m.disconnectsTotal.Inc()
}

func (m *Metrics) TalkerStart(tg uint32) {
	m.talkerStartsTotal.WithLabelValues(fmt.Sprint(tg)).Inc()
}

func (m *Metrics) TalkerStop(tg uint32) {
	m.talkerStopsTotal.WithLabelValues(fmt.Sprint(tg)).Inc()
}

func (m *Metrics) AudioBroadcast(tg uint32) {
	m.audioBroadcastTotal.WithLabelValues(fmt.Sprint(tg)).Inc()
}

func (m *Metrics) VADDenied(callsign string) {
	m.vadDeniedTotal.WithLabelValues(callsign).Inc()
}

// RunPusher periodically pushes metrics to the configured gateway until
// ctx is cancelled. A no-op if no push gateway was configured.
func (m *Metrics) RunPusher(ctx context.Context, interval time.Duration) {
	if m.pusher == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.pusher.Push(); err != nil {
				log.Printf("metrics: push to gateway failed: %v", err)
			}
		}
	}
}
