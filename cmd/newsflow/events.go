package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/queue/streams"
)

// eventsCMD tails the event stream and prints envelopes as JSON lines. Each
// invocation joins the group under a fresh consumer name, so parallel tails
// split the stream rather than duplicating it.
func eventsCMD() *cobra.Command {
	var cfgPath string
	var group string

	var events = &cobra.Command{
		Use:   "events",
		Short: "Tail pipeline and extension events from the Redis stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if !cfg.Storage.Redis.Enabled() || !cfg.Streams.Enabled {
				return fmt.Errorf("streams not configured (storage.redis and streams.enabled)")
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			rdb := redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
			if err := rdb.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
			}
			defer func() { _ = rdb.Close() }()

			if err := streams.EnsureGroup(ctx, rdb, cfg.Streams.Stream, group); err != nil {
				return fmt.Errorf("ensure group: %w", err)
			}

			consumerName := fmt.Sprintf("cli-%s", uuid.NewString()[:8])
			consumer := streams.NewConsumer(rdb, cfg.Streams.Stream, group, consumerName)

			for {
				msgs, err := consumer.Read(ctx, 10, 5*time.Second)
				if err != nil {
					if ctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("read stream: %w", err)
				}
				for _, msg := range msgs {
					line, err := json.Marshal(msg.Envelope)
					if err != nil {
						continue
					}
					fmt.Println(string(line))
					if err := consumer.Ack(ctx, msg.ID); err != nil && ctx.Err() == nil {
						return fmt.Errorf("ack %s: %w", msg.ID, err)
					}
				}
				if ctx.Err() != nil {
					return nil
				}
			}
		},
	}
	events.Flags().StringVar(&group, "group", "newsflow-cli", "consumer group name")
	events.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is ./config)")

	return events
}
