package tradelog

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	appendsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradelog_appends_total",
		Help: "Execution records appended to the trade log.",
	})

	rotationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradelog_rotations_total",
		Help: "Log files replaced by the rotation loop.",
	})

	rotationFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradelog_rotation_failures_total",
		Help: "Rotation attempts that failed and were rescheduled.",
	})

	writerStallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradelog_writer_stalls_total",
		Help: "Appends that had to wait for the standby file to become ready.",
	})
)
