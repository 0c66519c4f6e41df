package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

// generateCandidate turns the plan into a concrete source descriptor. Errors
// from earlier attempts are fed back into the prompt so each retry is biased
// away from what already failed.
func (a *Agent) generateCandidate(ctx context.Context, req Request, plan Plan, previous []Attempt) (plugin.Descriptor, error) {
	var b strings.Builder
	b.WriteString("You configure source plugins for a news aggregation pipeline.\n\n")
	b.WriteString(moduleCatalog)
	b.WriteString("\n\nPlanned integration:\n")
	planJSON, _ := json.Marshal(plan)
	b.Write(planJSON)
	fmt.Fprintf(&b, "\n\nRequested source name: %s\n", req.SourceName)
	if req.Description != "" {
		fmt.Fprintf(&b, "Request: %s\n", req.Description)
	}
	if req.URL != "" {
		fmt.Fprintf(&b, "URL hint: %s\n", req.URL)
	}

	if len(previous) > 0 {
		b.WriteString("\nEarlier attempts failed. Produce a configuration that avoids these failures:\n")
		for _, att := range previous {
			fmt.Fprintf(&b, "  attempt %d (module %s): %s\n", att.Number, att.Descriptor.Module, att.Error)
		}
	}

	b.WriteString("\nRespond with one JSON object only:\n")
	b.WriteString(`{"module": "...", "config": {"key": "value"}, "topics": ["..."]}`)

	out, err := a.llmCall(ctx, a.generation, "generate", b.String())
	if err != nil {
		return plugin.Descriptor{}, fmt.Errorf("generate: %w", err)
	}

	var parsed struct {
		Module string                 `json:"module"`
		Config map[string]interface{} `json:"config"`
		Topics []string               `json:"topics"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil {
		return plugin.Descriptor{}, fmt.Errorf("generate: parse response: %w", err)
	}
	if parsed.Module == "" {
		parsed.Module = plan.Module
	}
	topics := parsed.Topics
	if len(topics) == 0 {
		topics = plan.Topics
	}

	d := plugin.Descriptor{
		Name:    req.SourceName,
		Kind:    plugin.KindSource,
		Module:  parsed.Module,
		Enabled: true,
		Topics:  topics,
		Config:  stringifyConfig(parsed.Config),
	}
	if err := d.Validate(); err != nil {
		return plugin.Descriptor{}, fmt.Errorf("generate: %w", err)
	}
	return d, nil
}
