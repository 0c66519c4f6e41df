package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/mohammad-safakhou/newsflow/config"
	"github.com/mohammad-safakhou/newsflow/internal/channel"
	"github.com/mohammad-safakhou/newsflow/internal/extension"
	"github.com/mohammad-safakhou/newsflow/internal/index"
	"github.com/mohammad-safakhou/newsflow/internal/llm"
	"github.com/mohammad-safakhou/newsflow/internal/pipeline"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
	"github.com/mohammad-safakhou/newsflow/internal/queue/streams"
	"github.com/mohammad-safakhou/newsflow/internal/source"
	"github.com/mohammad-safakhou/newsflow/internal/store"
	"github.com/mohammad-safakhou/newsflow/internal/summarize"
	"github.com/mohammad-safakhou/newsflow/internal/telemetry"
)

// Run wires the full service and serves the API: store, registry, pipeline
// orchestrator, extension agent, scheduler. addr overrides server.address.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()
	bootLogger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)

	if !cfg.Storage.Postgres.Enabled() {
		return fmt.Errorf("postgres not configured (storage.postgres.url or host)")
	}
	if err := Migrate("file://migrations", cfg.Storage.Postgres.DSN(), "up", 0); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("migrate: %w", err)
	}
	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return err
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
	if err := SeedRegistry(ctx, reg, cfg, st, bootLogger); err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Storage.Redis.Enabled() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Storage.Redis.Addr(), Password: cfg.Storage.Redis.Password, DB: cfg.Storage.Redis.DB})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
		}
	}

	// Optional collaborators stay typed-nil free: only assign the interface
	// when the concrete value exists.
	var pipePub pipeline.Publisher
	var extPub extension.Publisher
	if rdb != nil && cfg.Streams.Enabled {
		pub := streams.NewPublisher(rdb, cfg.Streams.Stream, cfg.Streams.MaxLen)
		pipePub = pub
		extPub = pub
	}

	var ix *index.Index
	var indexer pipeline.Indexer
	if cfg.Index.Enabled {
		ix, err = index.Open(cfg.Index.Path)
		if err != nil {
			return fmt.Errorf("open index: %w", err)
		}
		indexer = ix
	}

	meter := otel.Meter("newsflow")
	tracer := otel.Tracer("newsflow")
	pipeLogger := log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)
	orch := pipeline.New(cfg.Pipeline, cfg.General.DefaultTopic, reg, pipeLogger, tel, st, pipePub, indexer, meter, tracer)

	agentLogger := log.New(log.Writer(), "[AGENT] ", log.LstdFlags)
	agent, err := extension.NewAgent(cfg.Agent, cfg.LLM.Routing, providers, reg, agentLogger, tel, st, extPub)
	if err != nil {
		return err
	}

	secret := cfg.Server.JWTSecret
	if secret == "" {
		return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
	}
	auth := &AuthHandler{Store: st, Secret: []byte(secret)}

	api := e.Group("/api")
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, auth.Secret) })
	me.GET("", func(c echo.Context) error {
		return c.JSON(http.StatusOK, MeResponse{UserID: c.Get("user_id").(string)})
	})

	(&PluginsHandler{Registry: reg, Store: st}).Register(api.Group("/plugins"), auth.Secret)
	(&RunsHandler{Runner: orch, Store: st}).Register(api.Group("/runs"), auth.Secret)
	(&ExtensionsHandler{Agent: agent}).Register(api.Group("/extensions"), auth.Secret)
	(&SearchHandler{Index: ix}).Register(api.Group("/search"), auth.Secret)

	if cfg.Scheduler.Enabled {
		sched := &Scheduler{
			Runner:  orch,
			Rdb:     rdb,
			Cron:    cfg.Scheduler.Cron,
			LockTTL: cfg.Scheduler.LockTTL,
			Jitter:  2 * time.Second,
			Logger:  log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
			Stop:    make(chan struct{}),
		}
		sched.Start()
	}

	if addr == "" {
		addr = cfg.Server.Address
	}
	if addr != "" && !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	bootLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}

// SeedRegistry loads descriptors into the registry: config entries first,
// then stored rows for names the config does not declare (agent-registered
// sources and runtime edits). Config wins for its own names. A nil store
// seeds from config alone.
func SeedRegistry(ctx context.Context, reg *plugin.Registry, cfg *config.Config, st *store.Store, logger *log.Logger) error {
	entries := map[plugin.Kind][]config.PluginEntry{
		plugin.KindSource:     cfg.Plugins.Sources,
		plugin.KindSummarizer: cfg.Plugins.Summarizers,
		plugin.KindChannel:    cfg.Plugins.Channels,
	}
	for _, kind := range plugin.Kinds {
		for _, e := range entries[kind] {
			d := plugin.Descriptor{Name: e.Name, Kind: kind, Module: e.Module, Enabled: e.Enabled, Topics: e.Topics, Config: e.Config}
			if err := reg.Upsert(d); err != nil {
				return fmt.Errorf("plugins.%s.%s: %w", kind, e.Name, err)
			}
			if st != nil {
				if err := st.UpsertPlugin(ctx, d); err != nil {
					logger.Printf("warn: persist plugin %s/%s: %v", kind, e.Name, err)
				}
			}
		}
	}
	if st == nil {
		return nil
	}
	stored, err := st.ListPlugins(ctx)
	if err != nil {
		return fmt.Errorf("load stored plugins: %w", err)
	}
	snap := reg.Snapshot()
	for _, d := range stored {
		if _, ok := snap.Descriptor(d.Kind, d.Name); ok {
			continue
		}
		if err := reg.Upsert(d); err != nil {
			logger.Printf("warn: stored plugin %s/%s rejected: %v", d.Kind, d.Name, err)
		}
	}
	return nil
}
