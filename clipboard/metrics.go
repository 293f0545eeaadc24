package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	reg *prometheus.Registry

	sessions      prometheus.Gauge
	history       prometheus.Gauge
	appended      prometheus.Counter
	dropped       prometheus.Counter
	slowConsumers prometheus.Counter
	joinFailures  prometheus.Counter
	uploads       prometheus.Counter
	uploadBytes   prometheus.Counter
}

func newMetrics(reg *prometheus.Registry) *metrics {
	f := promauto.With(reg)
	return &metrics{
		reg: reg,
		sessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "clipboard", Name: "sessions",
			Help: "Sessions currently registered with the hub.",
		}),
		history: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "clipboard", Name: "history_messages",
			Help: "Messages currently held in the history.",
		}),
		appended: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clipboard", Name: "messages_appended_total",
			Help: "Messages appended and broadcast.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clipboard", Name: "messages_dropped_total",
			Help: "Malformed or undecodable client messages.",
		}),
		slowConsumers: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clipboard", Name: "slow_consumers_total",
			Help: "Sessions disconnected because their outbound queue was full.",
		}),
		joinFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clipboard", Name: "join_failures_total",
			Help: "Connections dropped because the snapshot could not be delivered.",
		}),
		uploads: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clipboard", Name: "uploads_total",
			Help: "Files stored by the upload endpoint.",
		}),
		uploadBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: "clipboard", Name: "upload_bytes_total",
			Help: "Bytes stored by the upload endpoint.",
		}),
	}
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
