package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/channel"
	"github.com/mohammad-safakhou/newsflow/internal/index"
	"github.com/mohammad-safakhou/newsflow/internal/llm"
	"github.com/mohammad-safakhou/newsflow/internal/pipeline"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/queue/streams"
	srv "github.com/mohammad-safakhou/newsflow/internal/server"
	"github.com/mohammad-safakhou/newsflow/internal/source"
	"github.com/mohammad-safakhou/newsflow/internal/store"
	"github.com/mohammad-safakhou/newsflow/internal/summarize"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

// runCMD executes a single pipeline run and prints the report as JSON.
// Postgres, Redis and the search index are all optional here: an unset
// section simply disables that collaborator. Interrupt cancels the run
// cooperatively; whatever was delivered stays delivered.
func runCMD() *cobra.Command {
	var cfgPath string
	var dryRun bool
	var sources []string
	var run = &cobra.Command{
		Use:   "run",
		Short: "Execute one pipeline run and print the report",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			logger := log.New(os.Stderr, "[PIPELINE] ", log.LstdFlags)

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

			var pipeSt pipeline.Store
			if st != nil {
				pipeSt = st
			}
			var pub pipeline.Publisher
			if cfg.Storage.Redis.Enabled() && cfg.Streams.Enabled {
				rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
				if err := rdb.Ping(ctx).Err(); err != nil {
					return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
				}
				defer func() { _ = rdb.Close() }()
				pub = streams.NewPublisher(rdb, cfg.Streams.Stream, cfg.Streams.MaxLen)
			}
			var idx pipeline.Indexer
			if cfg.Index.Enabled {
				ix, err := index.Open(cfg.Index.Path)
				if err != nil {
					return fmt.Errorf("open index: %w", err)
				}
				defer func() { _ = ix.Close() }()
				idx = ix
			}

			orch := pipeline.New(cfg.Pipeline, cfg.General.DefaultTopic, reg, logger, tel, pipeSt, pub, idx, nil, nil)
			report, err := orch.RunWith(ctx, pipeline.Options{Sources: sources, DryRun: dryRun})
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		},
	}
	run.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")
	run.Flags().BoolVar(&dryRun, "dry-run", false, "skip channel sends; report what would have been delivered")
	run.Flags().StringSliceVar(&sources, "sources", nil, "restrict the run to these source names")

	return run
}
