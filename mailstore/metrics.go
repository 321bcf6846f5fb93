package mailstore

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricMessagesAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapd_mailstore_messages_added_total",
			Help: "Mensagens gravadas, por armazenamento.",
		},
		[]string{"storage"},
	)
	metricMessagesRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "imapd_mailstore_messages_removed_total",
			Help: "Mensagens removidas, por armazenamento.",
		},
		[]string{"storage"},
	)
	metricAddRollbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imapd_mailstore_add_rollbacks_total",
			Help: "Ids devolvidos após falha na gravação.",
		},
	)
	metricShutdownErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "imapd_mailstore_shutdown_errors_total",
			Help: "Armazenamentos que falharam ao encerrar.",
		},
	)
)
