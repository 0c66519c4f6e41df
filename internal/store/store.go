package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/lib/pq"
	"github.com/mohammad-safakhou/newsflow/internal/extension"
	"github.com/mohammad-safakhou/newsflow/internal/model"
	"github.com/mohammad-safakhou/newsflow/internal/plugin"
)

type Store struct {
	DB *sql.DB
}

// New constructs the Store from environment variables. DATABASE_URL wins;
// otherwise the DSN is assembled from the POSTGRES_* variables.
func New(ctx context.Context) (*Store, error) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		host := getenvDefault("POSTGRES_HOST", "localhost")
		port := getenvDefault("POSTGRES_PORT", "5432")
		user := os.Getenv("POSTGRES_USER")
		pass := os.Getenv("POSTGRES_PASSWORD")
		db := os.Getenv("POSTGRES_DB")
		ssl := getenvDefault("POSTGRES_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, ssl)
	}
	return NewWithDSN(ctx, dsn)
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

func getenvDefault(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}

// User operations
func (s *Store) CreateUser(ctx context.Context, email, hash string) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (email, password_hash) VALUES ($1,$2)`, email, hash)
	return err
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (id string, hash string, err error) {
	err = s.DB.QueryRowContext(ctx, `SELECT id, password_hash FROM users WHERE email=$1`, email).Scan(&id, &hash)
	return
}

// Plugin descriptor operations. Descriptors are keyed (kind, name); the
// position column preserves registration order so a reloaded registry lists
// plugins the way they were registered.

// UpsertPlugin inserts or replaces a plugin descriptor. An existing row keeps
// its position so updates do not reshuffle the list.
func (s *Store) UpsertPlugin(ctx context.Context, d plugin.Descriptor) error {
	topics, err := json.Marshal(d.Topics)
	if err != nil {
		return err
	}
	cfg, err := json.Marshal(d.Config)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO plugins (kind, name, module, enabled, topics, config)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (kind, name) DO UPDATE SET
  module = EXCLUDED.module,
  enabled = EXCLUDED.enabled,
  topics = EXCLUDED.topics,
  config = EXCLUDED.config,
  updated_at = NOW();
`, string(d.Kind), d.Name, d.Module, d.Enabled, topics, cfg)
	return err
}

// SetPluginEnabled flips the enabled flag for one descriptor.
func (s *Store) SetPluginEnabled(ctx context.Context, kind plugin.Kind, name string, enabled bool) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `UPDATE plugins SET enabled=$1, updated_at=NOW() WHERE kind=$2 AND name=$3`, enabled, string(kind), name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// DeletePlugin removes a descriptor.
func (s *Store) DeletePlugin(ctx context.Context, kind plugin.Kind, name string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM plugins WHERE kind=$1 AND name=$2`, string(kind), name)
	return err
}

// ListPlugins returns every stored descriptor in registration order.
func (s *Store) ListPlugins(ctx context.Context) ([]plugin.Descriptor, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT kind, name, module, enabled, topics, config FROM plugins ORDER BY position ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []plugin.Descriptor
	for rows.Next() {
		var (
			kind      string
			d         plugin.Descriptor
			topicsRaw []byte
			cfgRaw    []byte
		)
		if err := rows.Scan(&kind, &d.Name, &d.Module, &d.Enabled, &topicsRaw, &cfgRaw); err != nil {
			return nil, err
		}
		d.Kind = plugin.Kind(kind)
		if len(topicsRaw) > 0 {
			_ = json.Unmarshal(topicsRaw, &d.Topics)
		}
		if len(cfgRaw) > 0 {
			_ = json.Unmarshal(cfgRaw, &d.Config)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// Run operations
func (s *Store) SaveRun(ctx context.Context, report model.RunReport) error {
	counts, err := json.Marshal(report.Counts)
	if err != nil {
		return err
	}
	full, err := json.Marshal(report)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO runs (id, started_at, finished_at, cancelled, counts, report)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (id) DO UPDATE SET
  finished_at = EXCLUDED.finished_at,
  cancelled = EXCLUDED.cancelled,
  counts = EXCLUDED.counts,
  report = EXCLUDED.report;
`, report.RunID, report.StartedAt, report.FinishedAt, report.Cancelled, counts, full)
	return err
}

// GetRun fetches one run report by id.
func (s *Store) GetRun(ctx context.Context, runID string) (model.RunReport, bool, error) {
	var raw []byte
	err := s.DB.QueryRowContext(ctx, `SELECT report FROM runs WHERE id=$1`, runID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.RunReport{}, false, nil
		}
		return model.RunReport{}, false, err
	}
	var report model.RunReport
	if err := json.Unmarshal(raw, &report); err != nil {
		return model.RunReport{}, false, err
	}
	return report, true, nil
}

// ListRuns returns the most recent run reports, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]model.RunReport, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `SELECT report FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.RunReport
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var report model.RunReport
		if err := json.Unmarshal(raw, &report); err != nil {
			return nil, err
		}
		out = append(out, report)
	}
	return out, rows.Err()
}

// Article operations
func (s *Store) SaveArticles(ctx context.Context, articles []model.Article) error {
	for _, a := range articles {
		_, err := s.DB.ExecContext(ctx, `
INSERT INTO articles (id, title, body, url, topic, source_name, fetched_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  body = EXCLUDED.body,
  topic = EXCLUDED.topic,
  source_name = EXCLUDED.source_name,
  fetched_at = EXCLUDED.fetched_at;
`, a.ID, a.Title, a.Body, a.URL, a.Topic, a.SourceName, a.FetchedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetArticle fetches one article by content hash id.
func (s *Store) GetArticle(ctx context.Context, id string) (model.Article, bool, error) {
	var a model.Article
	err := s.DB.QueryRowContext(ctx, `
SELECT id, title, body, url, topic, source_name, fetched_at
FROM articles
WHERE id=$1
`, id).Scan(&a.ID, &a.Title, &a.Body, &a.URL, &a.Topic, &a.SourceName, &a.FetchedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Article{}, false, nil
		}
		return model.Article{}, false, err
	}
	return a, true, nil
}

// ListArticles returns recent articles, optionally filtered by topic.
func (s *Store) ListArticles(ctx context.Context, topic string, limit int) ([]model.Article, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
SELECT id, title, body, url, topic, source_name, fetched_at
FROM articles
`
	args := []interface{}{}
	if topic != "" {
		query += `WHERE topic=$1
ORDER BY fetched_at DESC LIMIT $2`
		args = append(args, topic, limit)
	} else {
		query += `ORDER BY fetched_at DESC LIMIT $1`
		args = append(args, limit)
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Article
	for rows.Next() {
		var a model.Article
		if err := rows.Scan(&a.ID, &a.Title, &a.Body, &a.URL, &a.Topic, &a.SourceName, &a.FetchedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Summary operations
func (s *Store) SaveSummaries(ctx context.Context, summaries []model.Summary) error {
	for _, sm := range summaries {
		_, err := s.DB.ExecContext(ctx, `
INSERT INTO summaries (article_id, text, model_name, produced_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (article_id) DO UPDATE SET
  text = EXCLUDED.text,
  model_name = EXCLUDED.model_name,
  produced_at = EXCLUDED.produced_at;
`, sm.ArticleID, sm.Text, sm.ModelName, sm.ProducedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetSummary fetches the stored summary for an article.
func (s *Store) GetSummary(ctx context.Context, articleID string) (model.Summary, bool, error) {
	var sm model.Summary
	err := s.DB.QueryRowContext(ctx, `SELECT article_id, text, model_name, produced_at FROM summaries WHERE article_id=$1`, articleID).
		Scan(&sm.ArticleID, &sm.Text, &sm.ModelName, &sm.ProducedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return model.Summary{}, false, nil
		}
		return model.Summary{}, false, err
	}
	return sm, true, nil
}

// Delivery ledger. A (channel_name, article_id) row means the article went out
// on that channel in some earlier run; the pipeline filters against it so a
// re-fetched article is not sent twice.

func (s *Store) WasDelivered(ctx context.Context, channel, articleID string) (bool, error) {
	var exists bool
	err := s.DB.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM deliveries WHERE channel_name=$1 AND article_id=$2)`, channel, articleID).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func (s *Store) MarkDelivered(ctx context.Context, channel string, articleIDs []string) error {
	if len(articleIDs) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO deliveries (channel_name, article_id)
SELECT $1, unnest($2::text[])
ON CONFLICT DO NOTHING;
`, channel, pq.Array(articleIDs))
	return err
}

// ClaimIdempotency attempts to register a processed event. It returns false if the key already exists.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// Extension job operations. The job row is upserted on every state change;
// attempts are append-only.

func (s *Store) SaveExtensionJob(ctx context.Context, job extension.Job) error {
	req, err := json.Marshal(job.Request)
	if err != nil {
		return err
	}
	var planRaw, candRaw, verdictRaw []byte
	if job.Plan != nil {
		if planRaw, err = json.Marshal(job.Plan); err != nil {
			return err
		}
	}
	if job.Candidate != nil {
		if candRaw, err = json.Marshal(job.Candidate); err != nil {
			return err
		}
	}
	if job.Verdict != nil {
		if verdictRaw, err = json.Marshal(job.Verdict); err != nil {
			return err
		}
	}
	// nil []byte is sent as an empty jsonb value, not NULL; pass untyped nils.
	planArg := interface{}(nil)
	if len(planRaw) > 0 {
		planArg = planRaw
	}
	candArg := interface{}(nil)
	if len(candRaw) > 0 {
		candArg = candRaw
	}
	verdictArg := interface{}(nil)
	if len(verdictRaw) > 0 {
		verdictArg = verdictRaw
	}
	_, err = s.DB.ExecContext(ctx, `
INSERT INTO extension_jobs (id, source_name, state, request, plan, candidate, verdict, error, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (id) DO UPDATE SET
  state = EXCLUDED.state,
  plan = EXCLUDED.plan,
  candidate = EXCLUDED.candidate,
  verdict = EXCLUDED.verdict,
  error = EXCLUDED.error,
  updated_at = EXCLUDED.updated_at;
`, job.ID, job.SourceName, string(job.State), req, planArg, candArg, verdictArg, job.Error, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return err
	}
	for _, att := range job.Attempts {
		desc, err := json.Marshal(att.Descriptor)
		if err != nil {
			return err
		}
		_, err = s.DB.ExecContext(ctx, `
INSERT INTO extension_attempts (job_id, number, descriptor, error, articles, started_at, finished_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (job_id, number) DO NOTHING;
`, job.ID, att.Number, desc, att.Error, att.Articles, att.StartedAt, att.FinishedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

// GetExtensionJob fetches one job with its attempts.
func (s *Store) GetExtensionJob(ctx context.Context, jobID string) (extension.Job, bool, error) {
	var (
		job                          extension.Job
		state                        string
		reqRaw                       []byte
		planRaw, candRaw, verdictRaw []byte
	)
	err := s.DB.QueryRowContext(ctx, `
SELECT id, source_name, state, request, plan, candidate, verdict, error, created_at, updated_at
FROM extension_jobs
WHERE id=$1
`, jobID).Scan(&job.ID, &job.SourceName, &state, &reqRaw, &planRaw, &candRaw, &verdictRaw, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return extension.Job{}, false, nil
		}
		return extension.Job{}, false, err
	}
	job.State = extension.State(state)
	if len(reqRaw) > 0 {
		_ = json.Unmarshal(reqRaw, &job.Request)
	}
	if len(planRaw) > 0 {
		_ = json.Unmarshal(planRaw, &job.Plan)
	}
	if len(candRaw) > 0 {
		_ = json.Unmarshal(candRaw, &job.Candidate)
	}
	if len(verdictRaw) > 0 {
		_ = json.Unmarshal(verdictRaw, &job.Verdict)
	}
	attempts, err := s.listAttempts(ctx, jobID)
	if err != nil {
		return extension.Job{}, false, err
	}
	job.Attempts = attempts
	return job, true, nil
}

// ListExtensionJobs returns recent jobs, newest first, without attempts.
func (s *Store) ListExtensionJobs(ctx context.Context, limit int) ([]extension.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, source_name, state, request, error, created_at, updated_at
FROM extension_jobs
ORDER BY created_at DESC
LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []extension.Job
	for rows.Next() {
		var (
			job    extension.Job
			state  string
			reqRaw []byte
		)
		if err := rows.Scan(&job.ID, &job.SourceName, &state, &reqRaw, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
			return nil, err
		}
		job.State = extension.State(state)
		if len(reqRaw) > 0 {
			_ = json.Unmarshal(reqRaw, &job.Request)
		}
		out = append(out, job)
	}
	return out, rows.Err()
}

func (s *Store) listAttempts(ctx context.Context, jobID string) ([]extension.Attempt, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT number, descriptor, error, articles, started_at, finished_at
FROM extension_attempts
WHERE job_id=$1
ORDER BY number ASC
`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []extension.Attempt
	for rows.Next() {
		var (
			att     extension.Attempt
			descRaw []byte
		)
		if err := rows.Scan(&att.Number, &descRaw, &att.Error, &att.Articles, &att.StartedAt, &att.FinishedAt); err != nil {
			return nil, err
		}
		if len(descRaw) > 0 {
			_ = json.Unmarshal(descRaw, &att.Descriptor)
		}
		out = append(out, att)
	}
	return out, rows.Err()
}
