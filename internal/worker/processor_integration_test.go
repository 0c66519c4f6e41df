package worker_test

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/mohammad-safakhou/newsflow/internal/index"
	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/queue/streams"
	"github.com/mohammad-safakhou/newsflow/internal/store"
	"github.com/mohammad-safakhou/newsflow/internal/worker"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcPostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	otelnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
)

func TestWorkerIndexesDeliveredRuns(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	pgUser := "newsflow"
	pgPassword := "newsflow"
	pgDB := "newsflow"

	migration, err := filepath.Abs(filepath.Join("..", "..", "migrations", "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("migration path: %v", err)
	}

	pgC, err := tcPostgres.RunContainer(ctx,
		tcPostgres.WithDatabase(pgDB),
		tcPostgres.WithUsername(pgUser),
		tcPostgres.WithPassword(pgPassword),
		tcPostgres.WithInitScripts(migration),
		testcontainers.WithWaitStrategy(wait.ForListeningPort("5432/tcp")),
	)
	if err != nil {
		t.Fatalf("postgres container: %v", err)
	}
	defer func() {
		_ = pgC.Terminate(ctx)
	}()

	pgHost, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("postgres host: %v", err)
	}
	pgPort, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("postgres port: %v", err)
	}

	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	redisHost, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	redisPort, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", pgUser, pgPassword, pgHost, pgPort.Port(), pgDB)
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	defer func() { _ = st.DB.Close() }()

	now := time.Now().UTC().Truncate(time.Microsecond)
	articles := []model.Article{
		{ID: "a1", Title: "Glaciers retreat in the Alps", Body: "Survey shows record loss.", URL: "https://example.com/a1", Topic: "climate", SourceName: "rss", FetchedAt: now},
		{ID: "a2", Title: "Chip fabs expand", Body: "New capacity announced.", URL: "https://example.com/a2", Topic: "tech", SourceName: "rss", FetchedAt: now},
	}
	if err := st.SaveArticles(ctx, articles); err != nil {
		t.Fatalf("seed articles: %v", err)
	}
	if err := st.SaveSummaries(ctx, []model.Summary{
		{ArticleID: "a1", Text: "Alpine glaciers lost record mass this year.", ModelName: "headline", ProducedAt: now},
	}); err != nil {
		t.Fatalf("seed summaries: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", redisHost, redisPort.Port())})
	defer func() { _ = redisClient.Close() }()

	const streamName = "newsflow:events"
	const groupName = "indexer-test-group"
	if err := streams.EnsureGroup(ctx, redisClient, streamName, groupName); err != nil {
		t.Fatalf("ensure group: %v", err)
	}

	publisher := streams.NewPublisher(redisClient, streamName, 0)
	consumer := streams.NewConsumer(redisClient, streamName, groupName, "consumer-1")

	ix, err := index.NewMemOnly()
	if err != nil {
		t.Fatalf("mem index: %v", err)
	}
	defer func() { _ = ix.Close() }()

	noopMeter := otelnoop.NewMeterProvider().Meter("worker-test")
	noopTracer := trace.NewNoopTracerProvider().Tracer("worker-test")
	proc := worker.NewProcessor(log.New(os.Stdout, "[TEST] ", log.LstdFlags), st, consumer, ix, noopMeter, noopTracer)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- proc.Start(runCtx)
	}()

	report := model.RunReport{
		RunID:     "run-1",
		StartedAt: now,
		Deliveries: []model.DeliveryResult{
			{ChannelName: "telegram", Topic: "climate", ArticleIDs: []string{"a1"}, Success: true},
			{ChannelName: "email", Topic: "tech", ArticleIDs: []string{"a2"}, Success: false, Error: "smtp timeout"},
		},
	}
	env := envelopeFor(t, "evt-run-1", report)
	if _, err := publisher.PublishEnvelope(ctx, env); err != nil {
		t.Fatalf("publish run.completed: %v", err)
	}

	awaitDocCount(t, ix, 2, 15*time.Second)

	hits, err := ix.Search("glaciers", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) == 0 || hits[0].ArticleID != "a1" {
		t.Fatalf("expected a1 as top hit, got %+v", hits)
	}

	// Replay the same event id; the claim makes it a no-op.
	if _, err := publisher.PublishEnvelope(ctx, env); err != nil {
		t.Fatalf("republish run.completed: %v", err)
	}
	// A second run with a fresh id still lands; awaiting it also proves the
	// replayed event above was consumed.
	if err := publisher.Publish(ctx, streams.EventRunCompleted, model.RunReport{
		RunID:      "run-2",
		StartedAt:  now,
		Deliveries: []model.DeliveryResult{{ChannelName: "telegram", Topic: "climate", ArticleIDs: []string{"a1", "a2"}, Success: true}},
	}); err != nil {
		t.Fatalf("publish second run: %v", err)
	}

	awaitClaims(t, ctx, st, 2, 15*time.Second)

	count, err := ix.Count()
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected re-indexed articles to overwrite, got %d documents", count)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("worker exit: %v", err)
	}
}

func envelopeFor(t *testing.T, eventID string, report model.RunReport) streams.Envelope {
	t.Helper()
	data, err := json.Marshal(report)
	if err != nil {
		t.Fatalf("marshal report: %v", err)
	}
	return streams.Envelope{
		EventID:        eventID,
		EventType:      streams.EventRunCompleted,
		OccurredAt:     time.Now().UTC(),
		PayloadVersion: "v1",
		Data:           data,
	}
}

func awaitDocCount(t *testing.T, ix *index.Index, want uint64, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		count, err := ix.Count()
		if err != nil {
			t.Fatalf("count: %v", err)
		}
		if count >= want {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("index did not reach %d documents within timeout", want)
}

func awaitClaims(t *testing.T, ctx context.Context, st *store.Store, want int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		var n int
		if err := st.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM idempotency_keys WHERE scope=$1`, streams.EventRunCompleted).Scan(&n); err != nil {
			t.Fatalf("count claims: %v", err)
		}
		if n >= want {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("did not observe %d idempotency claims within timeout", want)
}
