package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/queue/streams"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// StoreAPI captures the store methods required by the worker.
type StoreAPI interface {
	ClaimIdempotency(ctx context.Context, scope, key string) (bool, error)
	GetArticle(ctx context.Context, id string) (model.Article, bool, error)
	GetSummary(ctx context.Context, articleID string) (model.Summary, bool, error)
}

// Indexer ingests rebuilt documents. *index.Index satisfies it.
type Indexer interface {
	IndexArticles(items []model.Summarized) error
}

// Processor keeps the search index in step with the pipeline by consuming
// run.completed events and indexing the articles each run delivered. It runs
// out of process, so a pipeline without an inline index still ends up
// searchable. Re-indexing an article id overwrites the previous document, and
// the idempotency claim drops redelivered events, so crash-and-replay is safe.
type Processor struct {
	logger       *log.Logger
	store        StoreAPI
	consumer     *streams.Consumer
	index        Indexer
	tracer       trace.Tracer
	runCounter   otelmetric.Int64Counter
	indexCounter otelmetric.Int64Counter
}

// NewProcessor constructs a Processor.
func NewProcessor(logger *log.Logger, st StoreAPI, cons *streams.Consumer, ix Indexer, meter otelmetric.Meter, tracer trace.Tracer) *Processor {
	if tracer == nil {
		tracer = trace.NewNoopTracerProvider().Tracer("worker")
	}

	proc := &Processor{
		logger:   logger,
		store:    st,
		consumer: cons,
		index:    ix,
		tracer:   tracer,
	}
	if meter != nil {
		var err error
		proc.runCounter, err = meter.Int64Counter("worker_runs_indexed")
		if err != nil {
			logger.Printf("warn: create run counter failed: %v", err)
		}
		proc.indexCounter, err = meter.Int64Counter("worker_articles_indexed")
		if err != nil {
			logger.Printf("warn: create index counter failed: %v", err)
		}
	}
	return proc
}

// Start blocks, continuously processing run.completed events until the context is cancelled.
func (p *Processor) Start(ctx context.Context) error {
	p.logger.Printf("index worker starting; consuming %s events", streams.EventRunCompleted)

	for {
		select {
		case <-ctx.Done():
			p.logger.Printf("index worker stopping: %v", ctx.Err())
			return nil
		default:
		}

		msgs, err := p.consumer.Read(ctx, 16, 5*time.Second)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Printf("error reading stream: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(msgs) == 0 {
			continue
		}

		for _, msg := range msgs {
			if err := p.handleRunCompleted(ctx, msg); err != nil {
				p.logger.Printf("error handling message %s: %v", msg.ID, err)
			}
			if err := p.consumer.Ack(ctx, msg.ID); err != nil {
				p.logger.Printf("warn: failed to ack message %s: %v", msg.ID, err)
			}
		}
	}
}

func (p *Processor) handleRunCompleted(ctx context.Context, msg streams.Message) error {
	if msg.Envelope.EventType != streams.EventRunCompleted {
		return nil
	}

	ctx, span := p.tracer.Start(ctx, "worker.handle_run_completed")
	defer span.End()

	claimed, err := p.store.ClaimIdempotency(ctx, msg.Envelope.EventType, msg.Envelope.EventID)
	if err != nil {
		return fmt.Errorf("claim idempotency: %w", err)
	}
	if !claimed {
		p.logger.Printf("skip event %s: already processed", msg.Envelope.EventID)
		return nil
	}

	var report model.RunReport
	if err := json.Unmarshal(msg.Envelope.Data, &report); err != nil {
		return fmt.Errorf("unmarshal run report: %w", err)
	}

	items, missing, err := p.loadDelivered(ctx, report)
	if err != nil {
		return err
	}
	if missing > 0 {
		p.logger.Printf("run %s: %d delivered article(s) not in store, skipped", report.RunID, missing)
	}
	if len(items) == 0 {
		return nil
	}

	if err := p.index.IndexArticles(items); err != nil {
		return fmt.Errorf("index articles for run %s: %w", report.RunID, err)
	}

	p.logger.Printf("run %s: indexed %d article(s)", report.RunID, len(items))
	if p.runCounter != nil {
		p.runCounter.Add(ctx, 1)
	}
	if p.indexCounter != nil {
		p.indexCounter.Add(ctx, int64(len(items)))
	}
	return nil
}

// loadDelivered resolves the article ids a run delivered back into full
// documents. Failed channel sends still name their articles, and those were
// summarized too, so every id in the report is fair game. An article with no
// summary row went out title-only and is indexed the same way.
func (p *Processor) loadDelivered(ctx context.Context, report model.RunReport) ([]model.Summarized, int, error) {
	seen := make(map[string]struct{})
	var items []model.Summarized
	missing := 0
	for _, d := range report.Deliveries {
		for _, id := range d.ArticleIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}

			article, ok, err := p.store.GetArticle(ctx, id)
			if err != nil {
				return nil, missing, fmt.Errorf("load article %s: %w", id, err)
			}
			if !ok {
				missing++
				continue
			}
			item := model.Summarized{Article: article}
			summary, ok, err := p.store.GetSummary(ctx, id)
			if err != nil {
				return nil, missing, fmt.Errorf("load summary %s: %w", id, err)
			}
			if ok {
				item.Summary = &summary
			} else {
				item.Degraded = true
			}
			items = append(items, item)
		}
	}
	return items, missing, nil
}
