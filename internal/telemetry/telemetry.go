package telemetry

import (
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/newsflow/config"
)

// Telemetry aggregates pipeline metrics and LLM cost tracking. All Record
// methods are safe for concurrent use and are no-ops when telemetry is
// disabled.
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds counters for the pipeline stages and the extension agent.
type Metrics struct {
	TotalRuns      int64
	SuccessfulRuns int64
	FailedRuns     int64
	CancelledRuns  int64
	AverageRunTime time.Duration

	SourceRequests     map[string]int64
	SourceFailures     map[string]int64
	SourceAverageTimes map[string]time.Duration

	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64

	ChannelDeliveries map[string]int64
	ChannelFailures   map[string]int64

	AgentJobs map[string]int64
}

// CostTracker accumulates LLM spend across models and operations.
type CostTracker struct {
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
	TotalCost      float64
	TotalTokens    int64
}

// RunEvent describes one completed pipeline run.
type RunEvent struct {
	RunID      string
	Duration   time.Duration
	Success    bool
	Cancelled  bool
	Fetched    int
	Deduped    int
	Summarized int
	Degraded   int
	Delivered  int
	Cost       float64
	Tokens     int64
}

// SourceEvent describes one source fetch attempt, successful or not.
type SourceEvent struct {
	Source   string
	Duration time.Duration
	Success  bool
	Error    string
	Articles int
}

// LLMEvent describes one LLM call made by the summarize stage or the
// extension agent.
type LLMEvent struct {
	Operation string
	Model     string
	Duration  time.Duration
	Success   bool
	Tokens    int64
	Cost      float64
}

// DeliveryEvent describes one channel send for one topic.
type DeliveryEvent struct {
	Channel  string
	Topic    string
	Success  bool
	Articles int
}

// AgentJobEvent describes an extension job reaching a terminal state.
type AgentJobEvent struct {
	JobID    string
	State    string
	Attempts int
	Duration time.Duration
}

func New(cfg config.TelemetryConfig) *Telemetry {
	return &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			SourceRequests:     make(map[string]int64),
			SourceFailures:     make(map[string]int64),
			SourceAverageTimes: make(map[string]time.Duration),
			LLMRequests:        make(map[string]int64),
			LLMTokensUsed:      make(map[string]int64),
			ChannelDeliveries:  make(map[string]int64),
			ChannelFailures:    make(map[string]int64),
			AgentJobs:          make(map[string]int64),
		},
		costTracker: &CostTracker{
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
	}
}

func (t *Telemetry) RecordRunEvent(event RunEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalRuns++
	switch {
	case event.Cancelled:
		t.metrics.CancelledRuns++
	case event.Success:
		t.metrics.SuccessfulRuns++
	default:
		t.metrics.FailedRuns++
	}

	if t.metrics.TotalRuns == 1 {
		t.metrics.AverageRunTime = event.Duration
	} else {
		total := t.metrics.AverageRunTime * time.Duration(t.metrics.TotalRuns-1)
		t.metrics.AverageRunTime = (total + event.Duration) / time.Duration(t.metrics.TotalRuns)
	}

	if t.config.CostTracking {
		t.costTracker.TotalCost += event.Cost
		t.costTracker.TotalTokens += event.Tokens
	}

	runsTotal.WithLabelValues(runStatus(event)).Inc()
	runDurationSeconds.Observe(event.Duration.Seconds())
	degradedSummariesTotal.Add(float64(event.Degraded))

	t.logger.Printf("Run Event: ID=%s, Success=%t, Duration=%v, Fetched=%d, Delivered=%d, Cost=$%.4f, Tokens=%d",
		event.RunID, event.Success, event.Duration, event.Fetched, event.Delivered, event.Cost, event.Tokens)
}

func (t *Telemetry) RecordSourceEvent(event SourceEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.SourceRequests[event.Source]++
	if !event.Success {
		t.metrics.SourceFailures[event.Source]++
		sourceFailuresTotal.WithLabelValues(event.Source).Inc()
	}

	requests := t.metrics.SourceRequests[event.Source]
	currentAvg := t.metrics.SourceAverageTimes[event.Source]
	if requests == 1 {
		t.metrics.SourceAverageTimes[event.Source] = event.Duration
	} else {
		total := currentAvg * time.Duration(requests-1)
		t.metrics.SourceAverageTimes[event.Source] = (total + event.Duration) / time.Duration(requests)
	}

	articlesFetchedTotal.WithLabelValues(event.Source).Add(float64(event.Articles))

	t.logger.Printf("Source Event: Source=%s, Success=%t, Duration=%v, Articles=%d",
		event.Source, event.Success, event.Duration, event.Articles)
}

func (t *Telemetry) RecordLLMEvent(event LLMEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.LLMRequests[event.Model]++
	t.metrics.LLMTokensUsed[event.Model] += event.Tokens

	if t.config.CostTracking {
		t.costTracker.ModelCosts[event.Model] += event.Cost
		t.costTracker.OperationCosts[event.Operation] += event.Cost
	}

	llmTokensTotal.WithLabelValues(event.Model).Add(float64(event.Tokens))

	t.logger.Printf("LLM Event: Operation=%s, Model=%s, Success=%t, Duration=%v, Tokens=%d, Cost=$%.4f",
		event.Operation, event.Model, event.Success, event.Duration, event.Tokens, event.Cost)
}

func (t *Telemetry) RecordDeliveryEvent(event DeliveryEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if event.Success {
		t.metrics.ChannelDeliveries[event.Channel]++
		deliveriesTotal.WithLabelValues(event.Channel, "ok").Inc()
	} else {
		t.metrics.ChannelFailures[event.Channel]++
		deliveriesTotal.WithLabelValues(event.Channel, "failed").Inc()
	}

	t.logger.Printf("Delivery Event: Channel=%s, Topic=%s, Success=%t, Articles=%d",
		event.Channel, event.Topic, event.Success, event.Articles)
}

func (t *Telemetry) RecordAgentJobEvent(event AgentJobEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.AgentJobs[event.State]++
	agentJobsTotal.WithLabelValues(event.State).Inc()

	t.logger.Printf("Agent Job Event: ID=%s, State=%s, Attempts=%d, Duration=%v",
		event.JobID, event.State, event.Attempts, event.Duration)
}

// GetMetrics returns a copy of the current metrics.
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	metrics := *t.metrics
	metrics.SourceRequests = copyInt64Map(t.metrics.SourceRequests)
	metrics.SourceFailures = copyInt64Map(t.metrics.SourceFailures)
	metrics.SourceAverageTimes = copyDurationMap(t.metrics.SourceAverageTimes)
	metrics.LLMRequests = copyInt64Map(t.metrics.LLMRequests)
	metrics.LLMTokensUsed = copyInt64Map(t.metrics.LLMTokensUsed)
	metrics.ChannelDeliveries = copyInt64Map(t.metrics.ChannelDeliveries)
	metrics.ChannelFailures = copyInt64Map(t.metrics.ChannelFailures)
	metrics.AgentJobs = copyInt64Map(t.metrics.AgentJobs)
	return metrics
}

// CostSummary is a point-in-time view of accumulated LLM spend.
type CostSummary struct {
	TotalCost      float64
	TotalTokens    int64
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
}

func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:      t.costTracker.TotalCost,
		TotalTokens:    t.costTracker.TotalTokens,
		ModelCosts:     make(map[string]float64, len(t.costTracker.ModelCosts)),
		OperationCosts: make(map[string]float64, len(t.costTracker.OperationCosts)),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	for k, v := range t.costTracker.OperationCosts {
		summary.OperationCosts[k] = v
	}
	return summary
}

// Shutdown logs a final report.
func (t *Telemetry) Shutdown() {
	if !t.config.Enabled {
		return
	}

	metrics := t.GetMetrics()
	costs := t.GetCostSummary()

	t.logger.Printf("Final Report: Runs=%d (ok=%d failed=%d cancelled=%d), AvgRunTime=%v, TotalCost=$%.4f, TotalTokens=%d",
		metrics.TotalRuns, metrics.SuccessfulRuns, metrics.FailedRuns, metrics.CancelledRuns,
		metrics.AverageRunTime, costs.TotalCost, costs.TotalTokens)
}

func runStatus(event RunEvent) string {
	switch {
	case event.Cancelled:
		return "cancelled"
	case event.Success:
		return "ok"
	default:
		return "failed"
	}
}

func copyInt64Map(in map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyDurationMap(in map[string]time.Duration) map[string]time.Duration {
	out := make(map[string]time.Duration, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
