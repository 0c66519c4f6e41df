package summarize

import (
	"github.com/mohammad-safakhou/newsflow/internal/llm"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

// RegisterBuiltins wires the built-in summarizer modules into reg.
func RegisterBuiltins(reg *plugin.Registry, providers llm.Providers, tel *telemetry.Telemetry) {
	reg.RegisterSummarizerModule("llm", NewLLM(providers, tel))
	reg.RegisterSummarizerModule("headline", NewHeadline)
}
