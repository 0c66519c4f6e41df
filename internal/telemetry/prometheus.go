package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsflow_runs_total",
		Help: "Pipeline runs by outcome.",
	}, []string{"status"})

	runDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsflow_run_duration_seconds",
		Help:    "End-to-end pipeline run duration.",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
	})

	articlesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsflow_articles_fetched_total",
		Help: "Articles fetched per source.",
	}, []string{"source"})

	sourceFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsflow_source_failures_total",
		Help: "Failed fetch attempts per source.",
	}, []string{"source"})

	degradedSummariesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsflow_degraded_summaries_total",
		Help: "Articles delivered title-only after the summarizer chain was exhausted.",
	})

	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsflow_deliveries_total",
		Help: "Channel deliveries by outcome.",
	}, []string{"channel", "status"})

	llmTokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsflow_llm_tokens_total",
		Help: "LLM tokens consumed per model.",
	}, []string{"model"})

	agentJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsflow_agent_jobs_total",
		Help: "Extension jobs reaching a terminal state.",
	}, []string{"state"})
)
