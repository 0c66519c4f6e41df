// Package plugin holds the descriptor model and the registry that resolves
// plugin names to typed capabilities. Capabilities are registered through
// explicit per-kind builder maps at startup; nothing in the pipeline does a
// reflective lookup.
package plugin

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-viper/mapstructure/v2"

	"github.com/mohammad-safakhou/newsflow/internal/model"
)

// Kind discriminates the three plugin families.
type Kind string

const (
	KindSource     Kind = "source"
	KindSummarizer Kind = "summarizer"
	KindChannel    Kind = "channel"
)

// Kinds lists all plugin kinds in a stable order.
var Kinds = []Kind{KindSource, KindSummarizer, KindChannel}

// Descriptor is the persisted registration record for one plugin. Module
// names the built-in strategy implementing the capability; Config is the
// strategy's typed option set, validated at registration time. For sources
// the first entry of Topics is the default routing topic; for channels
// Topics is the topic filter (empty = catch-all).
type Descriptor struct {
	Name    string            `json:"name" mapstructure:"name"`
	Kind    Kind              `json:"kind" mapstructure:"kind"`
	Module  string            `json:"module" mapstructure:"module"`
	Enabled bool              `json:"enabled" mapstructure:"enabled"`
	Topics  []string          `json:"topics,omitempty" mapstructure:"topics"`
	Config  map[string]string `json:"config,omitempty" mapstructure:"config"`
}

// Validate checks structural fields. Config content is validated separately
// by the module builder.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("plugin descriptor: name is required")
	}
	switch d.Kind {
	case KindSource, KindSummarizer, KindChannel:
	default:
		return fmt.Errorf("plugin descriptor %q: unknown kind %q", d.Name, d.Kind)
	}
	if strings.TrimSpace(d.Module) == "" {
		return fmt.Errorf("plugin descriptor %q: module is required", d.Name)
	}
	return nil
}

// DefaultTopic returns the source's default routing topic, or "".
func (d Descriptor) DefaultTopic() string {
	if len(d.Topics) > 0 {
		return d.Topics[0]
	}
	return ""
}

// CatchAll reports whether a channel descriptor accepts every topic.
func (d Descriptor) CatchAll() bool {
	return len(d.Topics) == 0
}

// MatchesTopic reports whether a channel descriptor explicitly lists topic.
func (d Descriptor) MatchesTopic(topic string) bool {
	for _, t := range d.Topics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// Source fetches raw articles from one news origin. Implementations must be
// safe to call repeatedly.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.RawArticle, error)
}

// Summarizer reduces one article to a short text. It must return an error on
// backend unavailability rather than empty output.
type Summarizer interface {
	Name() string
	ModelName() string
	Summarize(ctx context.Context, article model.Article) (string, error)
}

// Channel pushes one message to an external notification surface. A false
// result is the ordinary delivery-failure signal; a non-nil error is reserved
// for contract violations (bad config, impossible request).
type Channel interface {
	Name() string
	Send(ctx context.Context, message string, topic string) (bool, error)
}

// Builders construct a capability from a descriptor. They must reject
// unknown or malformed config (see DecodeConfig) so defects surface at
// registration, not mid-run.
type (
	SourceBuilder     func(Descriptor) (Source, error)
	SummarizerBuilder func(Descriptor) (Summarizer, error)
	ChannelBuilder    func(Descriptor) (Channel, error)
)

// UnknownPluginError reports a resolve miss. It marks a configuration
// defect: callers surface it and never retry.
type UnknownPluginError struct {
	Kind Kind
	Name string
}

func (e *UnknownPluginError) Error() string {
	return fmt.Sprintf("unknown %s plugin %q", e.Kind, e.Name)
}

// DecodeConfig maps a descriptor's raw string config onto a module's typed
// option struct. Unknown keys and untypeable values are errors: plugin
// config defects are rejected at load time, never silently ignored at call
// time.
func DecodeConfig(raw map[string]string, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "config",
		ErrorUnused:      true,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return err
	}
	in := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		in[k] = v
	}
	if err := dec.Decode(in); err != nil {
		return fmt.Errorf("plugin config: %w", err)
	}
	return nil
}
