package pipeline

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

// ErrNoSources is the one wholesale failure a run can have: nothing enabled
// to fetch from. Everything downstream degrades per unit instead.
var ErrNoSources = errors.New("no enabled sources")

// Store is the persistence surface the orchestrator uses. All calls are best
// effort: a store error is logged and never stops a run.
type Store interface {
	SaveRun(ctx context.Context, report model.RunReport) error
	SaveArticles(ctx context.Context, articles []model.Article) error
	SaveSummaries(ctx context.Context, summaries []model.Summary) error
	WasDelivered(ctx context.Context, channel, articleID string) (bool, error)
	MarkDelivered(ctx context.Context, channel string, articleIDs []string) error
}

// Publisher emits run lifecycle events to the stream bus, best effort.
type Publisher interface {
	Publish(ctx context.Context, eventType string, payload interface{}) error
}

// Indexer receives summarized articles for full-text search, best effort.
type Indexer interface {
	IndexArticles(items []model.Summarized) error
}

// Orchestrator drives one pipeline run: fetch, dedup and route, summarize,
// deliver. It reads plugins through a registry snapshot taken at run start,
// so registrations landing mid-run apply to the next run only.
type Orchestrator struct {
	cfg          config.PipelineConfig
	defaultTopic string
	registry     *plugin.Registry
	logger       *log.Logger
	telemetry    *telemetry.Telemetry
	store        Store
	publisher    Publisher
	indexer      Indexer

	tracer           trace.Tracer
	runCounter       otelmetric.Int64Counter
	deliveredCounter otelmetric.Int64Counter
	degradedCounter  otelmetric.Int64Counter
}

// New constructs an Orchestrator. logger, tel, st, pub, idx, meter and tracer
// may all be nil; the orchestrator runs without them.
func New(cfg config.PipelineConfig, defaultTopic string, reg *plugin.Registry, logger *log.Logger, tel *telemetry.Telemetry, st Store, pub Publisher, idx Indexer, meter otelmetric.Meter, tracer trace.Tracer) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	}
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("pipeline")
	}

	o := &Orchestrator{
		cfg:          cfg,
		defaultTopic: defaultTopic,
		registry:     reg,
		logger:       logger,
		telemetry:    tel,
		store:        st,
		publisher:    pub,
		indexer:      idx,
		tracer:       tracer,
	}
	if meter != nil {
		var err error
		o.runCounter, err = meter.Int64Counter("pipeline_runs_processed")
		if err != nil {
			logger.Printf("warn: create run counter failed: %v", err)
		}
		o.deliveredCounter, err = meter.Int64Counter("pipeline_articles_delivered")
		if err != nil {
			logger.Printf("warn: create delivered counter failed: %v", err)
		}
		o.degradedCounter, err = meter.Int64Counter("pipeline_summaries_degraded")
		if err != nil {
			logger.Printf("warn: create degraded counter failed: %v", err)
		}
	}
	return o
}

// Options narrows one run. The zero value runs everything.
type Options struct {
	// Sources restricts the run to these source names. Empty means every
	// enabled source.
	Sources []string
	// DryRun skips channel sends and delivery-ledger writes. The report
	// still shows what each channel would have received.
	DryRun bool
}

// Run executes one full pipeline run and always returns a populated report.
// The error is non-nil only for the wholesale failure case (no enabled
// sources); per-source and per-channel failures live inside the report.
func (o *Orchestrator) Run(ctx context.Context) (model.RunReport, error) {
	return o.RunWith(ctx, Options{})
}

// RunWith executes one pipeline run narrowed by opts.
func (o *Orchestrator) RunWith(ctx context.Context, opts Options) (model.RunReport, error) {
	ctx, span := o.tracer.Start(ctx, "pipeline.run")
	defer span.End()

	report := model.RunReport{RunID: uuid.NewString(), StartedAt: time.Now(), DryRun: opts.DryRun}
	snap := o.registry.Snapshot()

	sources := snap.ListEnabled(plugin.KindSource)
	if len(opts.Sources) > 0 {
		sources = filterSources(sources, opts.Sources)
	}
	if len(sources) == 0 {
		report.FinishedAt = time.Now()
		o.finish(ctx, &report, false)
		return report, ErrNoSources
	}

	o.logger.Printf("run %s: fetching from %d source(s)", report.RunID, len(sources))
	results, failures := o.fetchAll(ctx, snap, sources)
	report.SourceFailures = failures
	report.Counts.SourceFailures = len(failures)
	for _, r := range results {
		report.Counts.Fetched += len(r.Articles)
	}

	articles, drops := DedupRoute(results, o.defaultTopic, time.Now())
	report.Drops = drops
	report.Counts.Deduped = len(articles)
	report.Counts.Dropped = len(drops)
	o.persistArticles(ctx, articles)

	summarized := o.summarizeAll(ctx, snap, articles)
	for _, s := range summarized {
		if s.Degraded {
			report.Counts.Degraded++
		} else {
			report.Counts.Summarized++
		}
	}
	o.persistSummaries(ctx, summarized)
	o.persistIndex(summarized)

	if ctx.Err() != nil {
		report.Cancelled = true
		o.logger.Printf("run %s: cancelled before delivery", report.RunID)
	} else {
		report.Deliveries = o.deliverAll(ctx, snap, summarized, opts.DryRun)
		for _, d := range report.Deliveries {
			if d.Success {
				report.Counts.Delivered += len(d.ArticleIDs)
			} else {
				report.Counts.SendFailures++
			}
		}
		if ctx.Err() != nil {
			report.Cancelled = true
		}
	}

	report.FinishedAt = time.Now()
	o.finish(ctx, &report, true)
	o.logger.Printf("run %s: fetched=%d deduped=%d summarized=%d degraded=%d delivered=%d in %s",
		report.RunID, report.Counts.Fetched, report.Counts.Deduped, report.Counts.Summarized,
		report.Counts.Degraded, report.Counts.Delivered, report.FinishedAt.Sub(report.StartedAt))
	return report, nil
}

// finish records the run wherever runs get recorded. Nothing here can fail
// the run itself.
func (o *Orchestrator) finish(ctx context.Context, report *model.RunReport, ok bool) {
	if o.runCounter != nil {
		o.runCounter.Add(ctx, 1)
	}
	if o.deliveredCounter != nil {
		o.deliveredCounter.Add(ctx, int64(report.Counts.Delivered))
	}
	if o.degradedCounter != nil {
		o.degradedCounter.Add(ctx, int64(report.Counts.Degraded))
	}
	if o.telemetry != nil {
		o.telemetry.RecordRunEvent(telemetry.RunEvent{
			RunID:      report.RunID,
			Duration:   report.FinishedAt.Sub(report.StartedAt),
			Success:    ok && !report.Cancelled,
			Cancelled:  report.Cancelled,
			Fetched:    report.Counts.Fetched,
			Deduped:    report.Counts.Deduped,
			Summarized: report.Counts.Summarized,
			Degraded:   report.Counts.Degraded,
			Delivered:  report.Counts.Delivered,
		})
	}
	if o.store != nil {
		if err := o.store.SaveRun(context.WithoutCancel(ctx), *report); err != nil {
			o.logger.Printf("warn: save run %s failed: %v", report.RunID, err)
		}
	}
	if o.publisher != nil {
		if err := o.publisher.Publish(context.WithoutCancel(ctx), "run.completed", report); err != nil {
			o.logger.Printf("warn: publish run.completed for %s failed: %v", report.RunID, err)
		}
	}
}

func (o *Orchestrator) persistArticles(ctx context.Context, articles []model.Article) {
	if o.store == nil || len(articles) == 0 {
		return
	}
	if err := o.store.SaveArticles(ctx, articles); err != nil {
		o.logger.Printf("warn: save articles failed: %v", err)
	}
}

func (o *Orchestrator) persistSummaries(ctx context.Context, summarized []model.Summarized) {
	if o.store == nil {
		return
	}
	var summaries []model.Summary
	for _, s := range summarized {
		if s.Summary != nil {
			summaries = append(summaries, *s.Summary)
		}
	}
	if len(summaries) == 0 {
		return
	}
	if err := o.store.SaveSummaries(ctx, summaries); err != nil {
		o.logger.Printf("warn: save summaries failed: %v", err)
	}
}

func (o *Orchestrator) persistIndex(summarized []model.Summarized) {
	if o.indexer == nil || len(summarized) == 0 {
		return
	}
	if err := o.indexer.IndexArticles(summarized); err != nil {
		o.logger.Printf("warn: index articles failed: %v", err)
	}
}

// filterSources keeps the enabled descriptors whose names were requested,
// preserving registry order. Unknown names are silently absent; if nothing
// matches the run fails the same way an empty registry does.
func filterSources(sources []plugin.Descriptor, names []string) []plugin.Descriptor {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	kept := sources[:0:0]
	for _, d := range sources {
		if want[d.Name] {
			kept = append(kept, d)
		}
	}
	return kept
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
