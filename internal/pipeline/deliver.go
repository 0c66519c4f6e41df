package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

// deliverAll groups summarized articles by topic and sends one digest per
// matching channel. Channels with a topic list receive only their topics; a
// channel with no topic list is a catch-all and receives a topic's digest
// only when no topic-specific channel claimed it. Each (channel, topic)
// send succeeds or fails on its own; there is no cross-run retry here.
func (o *Orchestrator) deliverAll(ctx context.Context, snap *plugin.Snapshot, summarized []model.Summarized, dryRun bool) []model.DeliveryResult {
	channels := snap.ListEnabled(plugin.KindChannel)
	if len(channels) == 0 {
		o.logger.Printf("no enabled channels; nothing to deliver")
		return nil
	}

	topics, groups := groupByTopic(summarized)

	var results []model.DeliveryResult
	for _, topic := range topics {
		if ctx.Err() != nil {
			break
		}

		targets := matchChannels(channels, topic)
		if len(targets) == 0 {
			o.logger.Printf("topic %s has no matching channel", topic)
			continue
		}
		for _, d := range targets {
			if ctx.Err() != nil {
				break
			}
			if res, sent := o.deliverDigest(ctx, snap, d, topic, groups[topic], dryRun); sent {
				results = append(results, res)
			}
		}
	}
	return results
}

// matchChannels picks the channels responsible for a topic. Topic-specific
// channels win; catch-alls apply only when nothing specific matched.
func matchChannels(channels []plugin.Descriptor, topic string) []plugin.Descriptor {
	var specific, catchAll []plugin.Descriptor
	for _, d := range channels {
		switch {
		case d.MatchesTopic(topic):
			specific = append(specific, d)
		case d.CatchAll():
			catchAll = append(catchAll, d)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	return catchAll
}

// deliverDigest sends one topic digest to one channel. The second return is
// false when every article was already delivered on this channel and no
// send was attempted.
func (o *Orchestrator) deliverDigest(ctx context.Context, snap *plugin.Snapshot, d plugin.Descriptor, topic string, items []model.Summarized, dryRun bool) (model.DeliveryResult, bool) {
	items = o.filterDelivered(ctx, d.Name, items)
	if len(items) == 0 {
		o.logger.Printf("channel %s topic %s: all articles already delivered", d.Name, topic)
		return model.DeliveryResult{}, false
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.Article.ID
	}
	result := model.DeliveryResult{ChannelName: d.Name, Topic: topic, ArticleIDs: ids}

	ch, err := snap.ResolveChannel(d.Name)
	if err != nil {
		result.Error = fmt.Sprintf("resolve channel: %v", err)
		o.recordDelivery(result, len(items))
		return result, true
	}

	if dryRun {
		result.Success = true
		o.logger.Printf("dry run: would send %d article(s) to channel %s for topic %s", len(items), d.Name, topic)
		return result, true
	}

	message := digest(topic, items, time.Now())
	ok, err := o.sendOnce(ctx, ch, message, topic)
	switch {
	case err != nil:
		result.Error = err.Error()
	case !ok:
		result.Error = "channel reported failure"
	default:
		result.Success = true
		o.markDelivered(ctx, d.Name, ids)
	}

	o.recordDelivery(result, len(items))
	return result, true
}

// sendOnce invokes the channel with the delivery timeout. A panicking
// channel is a failed send, not a failed run.
func (o *Orchestrator) sendOnce(ctx context.Context, ch plugin.Channel, message, topic string) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("channel %s panicked: %v", ch.Name(), r)
		}
	}()

	if o.cfg.DeliveryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.DeliveryTimeout)
		defer cancel()
	}
	return ch.Send(ctx, message, topic)
}

// filterDelivered drops articles this channel already delivered in an
// earlier run. A store error means we cannot prove prior delivery, so the
// article stays in: duplicates beat losses.
func (o *Orchestrator) filterDelivered(ctx context.Context, channel string, items []model.Summarized) []model.Summarized {
	if o.store == nil {
		return items
	}
	kept := items[:0:0]
	for _, it := range items {
		done, err := o.store.WasDelivered(ctx, channel, it.Article.ID)
		if err != nil {
			o.logger.Printf("warn: delivery lookup for %s/%s failed: %v", channel, it.Article.ID, err)
			kept = append(kept, it)
			continue
		}
		if !done {
			kept = append(kept, it)
		}
	}
	return kept
}

func (o *Orchestrator) markDelivered(ctx context.Context, channel string, ids []string) {
	if o.store == nil {
		return
	}
	if err := o.store.MarkDelivered(context.WithoutCancel(ctx), channel, ids); err != nil {
		o.logger.Printf("warn: mark delivered for %s failed: %v", channel, err)
	}
}

func (o *Orchestrator) recordDelivery(result model.DeliveryResult, articles int) {
	if o.telemetry == nil {
		return
	}
	o.telemetry.RecordDeliveryEvent(telemetry.DeliveryEvent{
		Channel:  result.ChannelName,
		Topic:    result.Topic,
		Success:  result.Success,
		Articles: articles,
	})
}

// groupByTopic buckets articles per topic, keeping first-appearance topic
// order and within-topic article order.
func groupByTopic(items []model.Summarized) ([]string, map[string][]model.Summarized) {
	var order []string
	groups := make(map[string][]model.Summarized)
	for _, it := range items {
		topic := it.Article.Topic
		if _, ok := groups[topic]; !ok {
			order = append(order, topic)
		}
		groups[topic] = append(groups[topic], it)
	}
	return order, groups
}

// digest renders one topic's articles as a single message. Articles whose
// summarizer chain failed appear title-only with an explicit marker.
func digest(topic string, items []model.Summarized, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "News digest: %s\n%s\n%d article(s)\n\n", topic, now.Format(time.RFC1123), len(items))

	parts := make([]string, 0, len(items))
	for _, it := range items {
		var p strings.Builder
		p.WriteString(it.Article.Title)
		if it.Summary != nil {
			p.WriteString("\n")
			p.WriteString(it.Summary.Text)
		} else {
			p.WriteString("\n(summary unavailable)")
		}
		p.WriteString("\n")
		p.WriteString(it.Article.URL)
		parts = append(parts, p.String())
	}
	b.WriteString(strings.Join(parts, "\n\n---\n\n"))
	return b.String()
}
