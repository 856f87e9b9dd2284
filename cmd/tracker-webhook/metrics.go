package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// runsStarted counts accepted pipeline triggers.
	// Labels: source (api, webhook)
	runsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specd",
			Subsystem: "trigger",
			Name:      "runs_started_total",
			Help:      "Total pipeline runs started by trigger source",
		},
		[]string{"source"},
	)

	// runsRejected counts triggers that never reached the cluster.
	// Labels: reason (invalid, duplicate, rate_limited)
	runsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specd",
			Subsystem: "trigger",
			Name:      "runs_rejected_total",
			Help:      "Total run triggers rejected before starting a workflow",
		},
		[]string{"reason"},
	)

	// webhookEvents counts tracker webhook deliveries by outcome.
	// Labels: result (accepted, ignored, duplicate, invalid_signature, invalid_payload)
	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "specd",
			Subsystem: "trigger",
			Name:      "webhook_events_total",
			Help:      "Total tracker webhook deliveries by processing result",
		},
		[]string{"result"},
	)
)
