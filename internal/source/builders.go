package source

import "github.com/mohammad-safakhou/newsflow/internal/plugin"

// RegisterBuiltins installs the built-in source modules into the registry.
func RegisterBuiltins(reg *plugin.Registry) {
	reg.RegisterSourceModule("rss", NewRSS)
	reg.RegisterSourceModule("scrape", NewScrape)
	reg.RegisterSourceModule("newsapi", NewNewsAPI)
}
