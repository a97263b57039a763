package match

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ordersReceivedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_orders_received_total",
		Help: "Orders dequeued by matching threads.",
	})

	ordersRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "match_orders_rejected_total",
		Help: "Orders rejected, by reason.",
	}, []string{"reason"})

	executionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_executions_total",
		Help: "Executions written to the trade log.",
	})

	executionIDFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_execution_id_failures_total",
		Help: "Executions logged with the sentinel id.",
	})

	submitQueueFullTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_submit_queue_full_total",
		Help: "Submissions refused because the matching queue stayed full.",
	})

	outboxDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "match_outbox_dropped_total",
		Help: "Outbound messages dropped because a session outbox was full.",
	})
)
