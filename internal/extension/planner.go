package extension

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ErrPlanRejected marks a planning completion the agent refuses to act on:
// unparseable, naming no module, naming an unavailable module, or configured
// with an implausible URL. Distinct from a planning backend error.
var ErrPlanRejected = errors.New("plan rejected")

// moduleCatalog tells the planner what it can actually build. Keep in sync
// with source.RegisterBuiltins.
const moduleCatalog = `Available source modules and their config keys:
- rss: url (required), limit, max_age (duration such as "24h")
- scrape: url (required), item_selector (required, CSS selector matching article links), limit, render (bool, JS-rendered pages), extract_body (bool), max_chars, user_agent
- newsapi: api_key (required), query (required), language, limit`

// Plan is the planner's choice of module and starting configuration for a
// requested source.
type Plan struct {
	Module string            `json:"module"`
	Config map[string]string `json:"config,omitempty"`
	Topics []string          `json:"topics,omitempty"`
	Notes  string            `json:"notes,omitempty"`
}

// plan asks the planning model to map a request onto one known module. Any
// failure here is terminal for the job and consumes no attempt.
func (a *Agent) plan(ctx context.Context, req Request) (Plan, error) {
	var b strings.Builder
	b.WriteString("You plan new source integrations for a news aggregation pipeline.\n\n")
	b.WriteString(moduleCatalog)
	b.WriteString("\n\nRequest:\n")
	fmt.Fprintf(&b, "  source name: %s\n", req.SourceName)
	if req.Description != "" {
		fmt.Fprintf(&b, "  description: %s\n", req.Description)
	}
	if req.URL != "" {
		fmt.Fprintf(&b, "  url hint: %s\n", req.URL)
	}
	if len(req.Topics) > 0 {
		fmt.Fprintf(&b, "  topics: %s\n", strings.Join(req.Topics, ", "))
	}
	b.WriteString("\nPick the single best module and its configuration. Respond with one JSON object only:\n")
	b.WriteString(`{"module": "...", "config": {"key": "value"}, "topics": ["..."], "notes": "..."}`)

	out, err := a.llmCall(ctx, a.planning, "plan", b.String())
	if err != nil {
		return Plan{}, fmt.Errorf("plan: %w", err)
	}

	var parsed struct {
		Module string                 `json:"module"`
		Config map[string]interface{} `json:"config"`
		Topics []string               `json:"topics"`
		Notes  string                 `json:"notes"`
	}
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &parsed); err != nil {
		return Plan{}, fmt.Errorf("plan: %w: cannot parse response: %v", ErrPlanRejected, err)
	}
	if parsed.Module == "" {
		return Plan{}, fmt.Errorf("plan: %w: response names no module", ErrPlanRejected)
	}
	if !a.registry.HasSourceModule(parsed.Module) {
		return Plan{}, fmt.Errorf("plan: %w: module %q is not registered", ErrPlanRejected, parsed.Module)
	}

	plan := Plan{
		Module: parsed.Module,
		Config: stringifyConfig(parsed.Config),
		Topics: parsed.Topics,
		Notes:  parsed.Notes,
	}
	if raw, ok := plan.Config["url"]; ok {
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			return Plan{}, fmt.Errorf("plan: %w: implausible url %q", ErrPlanRejected, raw)
		}
	}
	if len(plan.Topics) == 0 {
		plan.Topics = req.Topics
	}
	return plan, nil
}

// extractFirstJSON attempts to find the first top-level JSON object in a string
func extractFirstJSON(s string) string {
	start := -1
	depth := 0
	for i, ch := range s {
		if ch == '{' {
			if depth == 0 {
				start = i
			}
			depth++
		} else if ch == '}' {
			if depth > 0 {
				depth--
			}
			if depth == 0 && start != -1 {
				return s[start : i+1]
			}
		}
	}
	return s
}

// stringifyConfig flattens model-emitted JSON values onto the descriptor's
// string config.
func stringifyConfig(raw map[string]interface{}) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch t := v.(type) {
		case string:
			out[k] = t
		case bool:
			out[k] = strconv.FormatBool(t)
		case float64:
			out[k] = strconv.FormatFloat(t, 'f', -1, 64)
		default:
			out[k] = fmt.Sprintf("%v", t)
		}
	}
	return out
}
