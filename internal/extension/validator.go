package extension

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

// Verdict is the validation model's judgement of a tested candidate.
type Verdict struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason,omitempty"`
}

// validate shows the validation model what the candidate actually fetched
// and asks whether it matches the request. A rejection discards the job with
// no retry; only a backend error fails it.
func (a *Agent) validate(ctx context.Context, req Request, d plugin.Descriptor, sample []model.RawArticle) (Verdict, error) {
	var b strings.Builder
	b.WriteString("You review candidate news sources before they are registered.\n\n")
	fmt.Fprintf(&b, "Requested source: %s\n", req.SourceName)
	if req.Description != "" {
		fmt.Fprintf(&b, "Request: %s\n", req.Description)
	}
	fmt.Fprintf(&b, "Candidate module: %s\n", d.Module)
	b.WriteString("\nSample of fetched articles:\n")
	for i, raw := range sample {
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, strings.TrimSpace(raw.Title), strings.TrimSpace(raw.URL))
		if body := strings.TrimSpace(raw.Body); body != "" {
			if len([]rune(body)) > 200 {
				body = string([]rune(body)[:200]) + "..."
			}
			fmt.Fprintf(&b, "   %s\n", body)
		}
	}
	b.WriteString("\nApprove only if these look like real articles matching the request.\n")
	b.WriteString("Respond with one JSON object only:\n")
	b.WriteString(`{"approved": true|false, "reason": "..."}`)

	out, err := a.llmCall(ctx, a.validation, "validate", b.String())
	if err != nil {
		return Verdict{}, err
	}

	var verdict Verdict
	if err := json.Unmarshal([]byte(extractFirstJSON(out)), &verdict); err != nil {
		return Verdict{}, fmt.Errorf("parse verdict: %w", err)
	}
	return verdict, nil
}
