package extension

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/llm"
	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

// ErrJobActive is returned when a source name already has a live job. One
// job per source name at a time; resubmit after it reaches a terminal state.
var ErrJobActive = errors.New("extension job already active for source")

// Store persists finished jobs and registered descriptors, best effort.
type Store interface {
	SaveExtensionJob(ctx context.Context, job Job) error
	UpsertPlugin(ctx context.Context, d plugin.Descriptor) error
}

// Publisher emits job lifecycle events to the stream bus, best effort.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Agent runs extension jobs: plan, generate, test, validate, register. The
// registry is only ever touched at the very end of a successful job.
type Agent struct {
	cfg       config.AgentConfig
	registry  *plugin.Registry
	logger    *log.Logger
	telemetry *telemetry.Telemetry
	store     Store
	publisher Publisher

	planning   llm.Provider
	generation llm.Provider
	validation llm.Provider

	mu     sync.Mutex
	jobs   map[string]*Job
	active map[string]string
}

// NewAgent wires an agent against the configured LLM routing. Each role
// (planning, generation, validation) resolves its own provider, falling back
// to the routing fallback.
func NewAgent(cfg config.AgentConfig, routing config.LLMRoutingConfig, providers llm.Providers, reg *plugin.Registry, logger *log.Logger, tel *telemetry.Telemetry, st Store, pub Publisher) (*Agent, error) {
	if logger == nil {
		logger = log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	}
	planning, err := providers.Pick(routing.Planning, routing.Fallback)
	if err != nil {
		return nil, fmt.Errorf("planning provider: %w", err)
	}
	generation, err := providers.Pick(routing.Generation, routing.Fallback)
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	validation, err := providers.Pick(routing.Validation, routing.Fallback)
	if err != nil {
		return nil, fmt.Errorf("validation provider: %w", err)
	}

	return &Agent{
		cfg:        cfg,
		registry:   reg,
		logger:     logger,
		telemetry:  tel,
		store:      st,
		publisher:  pub,
		planning:   planning,
		generation: generation,
		validation: validation,
		jobs:       make(map[string]*Job),
		active:     make(map[string]string),
	}, nil
}

// Submit creates a job and processes it in the background. The returned Job
// is a snapshot taken right after creation.
func (a *Agent) Submit(ctx context.Context, req Request) (Job, error) {
	job, err := a.create(req)
	if err != nil {
		return Job{}, err
	}
	go a.process(context.WithoutCancel(ctx), job.ID)
	return job.clone(), nil
}

// Execute creates a job and processes it synchronously, returning its final
// state.
func (a *Agent) Execute(ctx context.Context, req Request) (Job, error) {
	job, err := a.create(req)
	if err != nil {
		return Job{}, err
	}
	a.process(ctx, job.ID)
	final, _ := a.Job(job.ID)
	return final, nil
}

func (a *Agent) create(req Request) (*Job, error) {
	if req.SourceName == "" {
		parsed, err := ParseRequest(req.Description)
		if err != nil {
			return nil, err
		}
		req.SourceName = parsed.SourceName
		if req.URL == "" {
			req.URL = parsed.URL
		}
	} else {
		req.SourceName = SanitizeSourceName(req.SourceName)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if id, ok := a.active[req.SourceName]; ok {
		return nil, fmt.Errorf("%w: source %s has job %s", ErrJobActive, req.SourceName, id)
	}
	now := time.Now()
	job := &Job{
		ID:         uuid.NewString(),
		SourceName: req.SourceName,
		Request:    req,
		State:      StateRequested,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	a.jobs[job.ID] = job
	a.active[req.SourceName] = job.ID
	return job, nil
}

// Job returns a snapshot of one job.
func (a *Agent) Job(id string) (Job, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// Jobs returns snapshots of all jobs, oldest first.
func (a *Agent) Jobs() []Job {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Job, 0, len(a.jobs))
	for _, job := range a.jobs {
		out = append(out, job.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// process drives one job through the lifecycle. Attempts are consumed only
// by generate-and-test cycles; a planning failure is terminal on its own.
func (a *Agent) process(ctx context.Context, id string) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			a.failJob(id, fmt.Errorf("panic: %v", r))
		}
		a.finishJob(ctx, id, started)
	}()

	req := a.request(id)

	a.setState(id, StatePlanning)
	plan, err := a.plan(ctx, req)
	if err != nil {
		a.failJob(id, err)
		return
	}
	a.setPlan(id, plan)
	a.logger.Printf("job %s: planned module %s", id, plan.Module)

	snap := a.registry.Snapshot()

	var (
		candidate plugin.Descriptor
		sample    []model.RawArticle
		passed    bool
	)
	for attempt := 1; attempt <= a.cfg.MaxAttempts; attempt++ {
		att := Attempt{Number: attempt, StartedAt: time.Now()}

		d, err := a.generateCandidate(ctx, req, plan, a.attempts(id))
		if err == nil {
			att.Descriptor = d
			a.setCandidate(id, d)
			a.setState(id, StateGenerated)
			a.setState(id, StateTesting)
			sample, att.Articles, err = a.test(ctx, snap, d)
		}
		att.FinishedAt = time.Now()

		if err != nil {
			att.Error = err.Error()
			a.appendAttempt(id, att)
			a.logger.Printf("job %s: attempt %d/%d failed: %v", id, attempt, a.cfg.MaxAttempts, err)
			continue
		}

		a.appendAttempt(id, att)
		candidate = d
		passed = true
		break
	}

	if !passed {
		a.failJob(id, fmt.Errorf("no candidate passed testing in %d attempts", a.cfg.MaxAttempts))
		return
	}

	a.setState(id, StateValidating)
	verdict, err := a.validate(ctx, req, candidate, sample)
	if err == nil {
		a.setVerdict(id, verdict)
	}
	switch {
	case err != nil:
		a.failJob(id, fmt.Errorf("validate: %w", err))
	case !verdict.Approved:
		a.discardJob(id, verdict.Reason)
	default:
		if err := a.registry.Upsert(candidate); err != nil {
			a.failJob(id, fmt.Errorf("register: %w", err))
			return
		}
		a.setState(id, StateRegistered)
		a.logger.Printf("job %s: registered source %s (module %s)", id, candidate.Name, candidate.Module)
		if a.store != nil {
			if err := a.store.UpsertPlugin(ctx, candidate); err != nil {
				a.logger.Printf("warn: persist registered source %s failed: %v", candidate.Name, err)
			}
		}
		if a.publisher != nil {
			if job, ok := a.Job(id); ok {
				if err := a.publisher.Publish(ctx, "extension.registered", job); err != nil {
					a.logger.Printf("warn: publish extension.registered failed: %v", err)
				}
			}
		}
	}
}

func (a *Agent) finishJob(ctx context.Context, id string, started time.Time) {
	job, ok := a.Job(id)
	if !ok {
		return
	}
	a.mu.Lock()
	if a.active[job.SourceName] == id && job.State.Terminal() {
		delete(a.active, job.SourceName)
	}
	a.mu.Unlock()

	if a.telemetry != nil {
		a.telemetry.RecordAgentJobEvent(telemetry.AgentJobEvent{
			JobID:    id,
			State:    string(job.State),
			Attempts: len(job.Attempts),
			Duration: time.Since(started),
		})
	}
	if a.store != nil {
		if err := a.store.SaveExtensionJob(context.WithoutCancel(ctx), job); err != nil {
			a.logger.Printf("warn: save extension job %s failed: %v", id, err)
		}
	}
}

func (a *Agent) request(id string) Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	if job, ok := a.jobs[id]; ok {
		return job.Request
	}
	return Request{}
}

func (a *Agent) attempts(id string) []Attempt {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok {
		return nil
	}
	out := make([]Attempt, len(job.Attempts))
	copy(out, job.Attempts)
	return out
}

func (a *Agent) setPlan(id string, plan Plan) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if job, ok := a.jobs[id]; ok {
		job.Plan = &plan
		job.UpdatedAt = time.Now()
	}
}

func (a *Agent) setCandidate(id string, d plugin.Descriptor) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if job, ok := a.jobs[id]; ok {
		job.Candidate = &d
		job.UpdatedAt = time.Now()
	}
}

func (a *Agent) setVerdict(id string, v Verdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if job, ok := a.jobs[id]; ok {
		job.Verdict = &v
		job.UpdatedAt = time.Now()
	}
}

func (a *Agent) setState(id string, to State) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok {
		return
	}
	if err := job.transition(to); err != nil {
		a.logger.Printf("warn: %v", err)
	}
}

func (a *Agent) appendAttempt(id string, att Attempt) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if job, ok := a.jobs[id]; ok {
		job.Attempts = append(job.Attempts, att)
		job.UpdatedAt = time.Now()
	}
}

func (a *Agent) failJob(id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok || job.State.Terminal() {
		return
	}
	if terr := job.transition(StateFailed); terr != nil {
		a.logger.Printf("warn: %v", terr)
		job.State = StateFailed
		job.UpdatedAt = time.Now()
	}
	job.Error = err.Error()
}

func (a *Agent) discardJob(id string, reason string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	job, ok := a.jobs[id]
	if !ok || job.State.Terminal() {
		return
	}
	if terr := job.transition(StateDiscarded); terr != nil {
		a.logger.Printf("warn: %v", terr)
		job.State = StateDiscarded
		job.UpdatedAt = time.Now()
	}
	if reason == "" {
		reason = "validation rejected the source output"
	}
	job.Error = reason
}

// llmCall wraps one provider call with the configured timeout and telemetry.
func (a *Agent) llmCall(ctx context.Context, p llm.Provider, operation string, prompt string) (string, error) {
	if a.cfg.PlanTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.PlanTimeout)
		defer cancel()
	}
	started := time.Now()
	out, usage, err := p.Generate(ctx, prompt)
	if a.telemetry != nil {
		a.telemetry.RecordLLMEvent(telemetry.LLMEvent{
			Operation: operation,
			Model:     p.ModelName(),
			Duration:  time.Since(started),
			Success:   err == nil,
			Tokens:    usage.Total(),
			Cost:      p.Cost(usage),
		})
	}
	return out, err
}
