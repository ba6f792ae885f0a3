package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksSynced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "creep",
		Name:      "loader_tasks_synced_total",
		Help:      "Tasks matched to assets and published to the worker queue.",
	})

	publishFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "creep",
		Name:      "loader_publish_failures_total",
		Help:      "Committed tasks whose queue publish failed, leaving them orphaned until lease expiry.",
	})

	tasksSettled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creep",
		Name:      "worker_tasks_settled_total",
		Help:      "Tasks driven to a terminal state, partitioned by outcome.",
	}, []string{"outcome"})

	assetsRecovered = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "creep",
		Name:      "janitor_assets_recovered_total",
		Help:      "Assets returned to the READY pool, partitioned by sweep.",
	}, []string{"sweep"})
)
