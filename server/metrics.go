package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapd_connections_total",
			Help: "Conexões IMAP aceitas e encerradas.",
		},
		[]string{"event"}, // accepted, closed
	)
	metricSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imapd_sessions_open",
			Help: "Sessões IMAP abertas.",
		},
	)
	metricSessionPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imapd_session_panics_total",
			Help: "Sessões encerradas por pânico no tratamento.",
		},
	)
	metricSMTPDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapd_smtp_deliveries_total",
			Help: "Entregas SMTP, por resultado.",
		},
		[]string{"result"}, // ok, error
	)
)
