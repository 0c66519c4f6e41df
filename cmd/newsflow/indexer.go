package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/index"
	"github.com/mohammad-safakhou/newsflow/internal/queue/streams"
	"github.com/mohammad-safakhou/newsflow/internal/store"
	"github.com/mohammad-safakhou/newsflow/internal/worker"
)

// indexerCMD runs the index worker: it consumes run.completed events and
// keeps the search index in step with delivered articles. Meant to run
// alongside a server whose pipeline publishes events but does not index
// inline, or to rebuild an index by replaying the stream into a new group.
func indexerCMD() *cobra.Command {
	var cfgPath string
	var group string

	var indexer = &cobra.Command{
		Use:   "indexer",
		Short: "Run the index worker, consuming run.completed events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if !cfg.Storage.Postgres.Enabled() {
				return fmt.Errorf("postgres not configured (storage.postgres.url or host)")
			}
			if !cfg.Storage.Redis.Enabled() || !cfg.Streams.Enabled {
				return fmt.Errorf("streams not configured (storage.redis and streams.enabled)")
			}
			if !cfg.Index.Enabled {
				return fmt.Errorf("index not configured (index.enabled)")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
			if err != nil {
				return err
			}
			defer func() { _ = st.DB.Close() }()

			rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
			}
			defer func() { _ = rdb.Close() }()

			if err := streams.EnsureGroup(ctx, rdb, cfg.Streams.Stream, group); err != nil {
				return fmt.Errorf("ensure group: %w", err)
			}

			ix, err := index.Open(cfg.Index.Path)
			if err != nil {
				return fmt.Errorf("open index: %w", err)
			}
			defer func() { _ = ix.Close() }()

			consumerName := fmt.Sprintf("indexer-%s", uuid.NewString()[:8])
			consumer := streams.NewConsumer(rdb, cfg.Streams.Stream, group, consumerName)

			logger := log.New(os.Stdout, "[INDEXER] ", log.LstdFlags)
			proc := worker.NewProcessor(logger, st, consumer, ix, otel.Meter("newsflow"), otel.Tracer("newsflow"))
			return proc.Start(ctx)
		},
	}
	indexer.Flags().StringVar(&group, "group", "newsflow-indexer", "consumer group name")
	indexer.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	return indexer
}
