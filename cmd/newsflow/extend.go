package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/channel"
	"github.com/mohammad-safakhou/newsflow/internal/extension"
	"github.com/mohammad-safakhou/newsflow/internal/llm"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	srv "github.com/mohammad-safakhou/newsflow/internal/server"
	"github.com/mohammad-safakhou/newsflow/internal/source"
	"github.com/mohammad-safakhou/newsflow/internal/store"
	"github.com/mohammad-safakhou/newsflow/internal/summarize"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

// extendCMD drives one extension job to a terminal state from the command
// line. The registered descriptor lands in the registry of this process and,
// when postgres is configured, in the plugins table, so the next serve or
// run picks it up.
func extendCMD() *cobra.Command {
	var cfgPath string
	var name string
	var description string
	var url string
	var topics []string

	var extend = &cobra.Command{
		Use:   "extend [request text]",
		Short: "Ask the extension agent to build a new source plugin",
		Long: `Ask the extension agent to build a new source plugin.

The request can be structured flags or plain text:

  newsflow extend --name hacker-news --url https://news.ycombinator.com/rss
  newsflow extend add hacker news with url https://news.ycombinator.com/rss`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if description == "" && len(args) > 0 {
				description = strings.Join(args, " ")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := log.New(os.Stderr, "[AGENT] ", log.LstdFlags)

			var st *store.Store
			if cfg.Storage.Postgres.Enabled() {
				s, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
				if err != nil {
					return err
				}
				defer func() { _ = s.DB.Close() }()
				st = s
			}

			tel := telemetry.New(cfg.Telemetry)
			providers, err := llm.FromConfig(cfg.LLM)
			if err != nil {
				return err
			}

			reg := plugin.NewRegistry()
			source.RegisterBuiltins(reg)
			summarize.RegisterBuiltins(reg, providers, tel)
			channel.RegisterBuiltins(reg)
			if err := srv.SeedRegistry(ctx, reg, cfg, st, logger); err != nil {
				return err
			}

			var extSt extension.Store
			if st != nil {
				extSt = st
			}
			agent, err := extension.NewAgent(cfg.Agent, cfg.LLM.Routing, providers, reg, logger, tel, extSt, nil)
			if err != nil {
				return err
			}

			job, err := agent.Execute(ctx, extension.Request{
				SourceName:  name,
				Description: description,
				URL:         url,
				Topics:      topics,
			})
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			if job.State != extension.StateRegistered {
				return fmt.Errorf("job %s ended %s: %s", job.ID, job.State, job.Error)
			}
			return nil
		},
	}
	extend.Flags().StringVar(&name, "name", "", "source name to register (derived from the request text when omitted)")
	extend.Flags().StringVar(&description, "description", "", "what the source should cover")
	extend.Flags().StringVar(&url, "url", "", "feed or site URL, if known")
	extend.Flags().StringSliceVar(&topics, "topics", nil, "routing topics for the new source")
	extend.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	return extend
}
