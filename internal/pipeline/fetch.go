package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

// SourceResult carries one source's fetch output together with the
// descriptor it came from. Order in the result slice follows the
// enabled-descriptor order, which downstream dedup depends on.
type SourceResult struct {
	Descriptor plugin.Descriptor
	Articles   []model.RawArticle
}

// fetchAll runs every enabled source concurrently under the configured
// ceiling. A source that errors, times out or panics is recorded as a
// failure and never takes the run down with it.
func (o *Orchestrator) fetchAll(ctx context.Context, snap *plugin.Snapshot, sources []plugin.Descriptor) ([]SourceResult, []model.SourceFailure) {
	concurrency := o.cfg.FetchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	slots := make([]*SourceResult, len(sources))
	failSlots := make([]*model.SourceFailure, len(sources))

	var wg sync.WaitGroup
	for i, d := range sources {
		wg.Add(1)
		go func(i int, d plugin.Descriptor) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					failSlots[i] = &model.SourceFailure{SourceName: d.Name, Error: fmt.Sprintf("panic: %v", r)}
					o.logger.Printf("source %s panicked: %v", d.Name, r)
				}
			}()
			sem <- struct{}{}
			defer func() { <-sem }()

			started := time.Now()
			articles, err := o.fetchOne(ctx, snap, d)
			if o.telemetry != nil {
				o.telemetry.RecordSourceEvent(telemetry.SourceEvent{
					Source:   d.Name,
					Duration: time.Since(started),
					Success:  err == nil,
					Error:    errString(err),
					Articles: len(articles),
				})
			}
			if err != nil {
				failSlots[i] = &model.SourceFailure{SourceName: d.Name, Error: err.Error()}
				return
			}
			slots[i] = &SourceResult{Descriptor: d, Articles: articles}
		}(i, d)
	}
	wg.Wait()

	results := make([]SourceResult, 0, len(sources))
	var failures []model.SourceFailure
	for i := range sources {
		if slots[i] != nil {
			results = append(results, *slots[i])
		}
		if failSlots[i] != nil {
			failures = append(failures, *failSlots[i])
		}
	}
	return results, failures
}

// fetchOne builds the source and fetches with a per-attempt timeout,
// retrying with exponential backoff up to the configured retry count.
func (o *Orchestrator) fetchOne(ctx context.Context, snap *plugin.Snapshot, d plugin.Descriptor) ([]model.RawArticle, error) {
	src, err := snap.BuildSource(d)
	if err != nil {
		return nil, fmt.Errorf("build source: %w", err)
	}

	tries := o.cfg.FetchRetries + 1
	if tries < 1 {
		tries = 1
	}

	var lastErr error
	for attempt := 0; attempt < tries; attempt++ {
		if attempt > 0 {
			backoff := o.cfg.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		fctx := ctx
		var cancel context.CancelFunc
		if o.cfg.FetchTimeout > 0 {
			fctx, cancel = context.WithTimeout(ctx, o.cfg.FetchTimeout)
		}
		articles, err := src.Fetch(fctx)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return articles, nil
		}
		lastErr = err
		o.logger.Printf("source %s attempt %d/%d failed: %v", d.Name, attempt+1, tries, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}
