package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/toolwatch/internal/db"
	"github.com/sells-group/toolwatch/internal/model"
)

const pgMigration = `
CREATE TABLE IF NOT EXISTS search_terms (
	id                BIGSERIAL PRIMARY KEY,
	term              TEXT NOT NULL UNIQUE,
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	priority          INTEGER NOT NULL DEFAULT 0,
	last_scraped_date TIMESTAMPTZ,
	jobs_found_count  INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS raw_postings (
	id            BIGSERIAL PRIMARY KEY,
	job_id        TEXT NOT NULL UNIQUE,
	platform      TEXT NOT NULL DEFAULT '',
	company       TEXT NOT NULL,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	search_term   TEXT NOT NULL,
	scraped_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed     BOOLEAN NOT NULL DEFAULT FALSE,
	analyzed_date TIMESTAMPTZ,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	needs_review  BOOLEAN NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS idx_raw_postings_unprocessed
	ON raw_postings (scraped_at) WHERE NOT processed AND NOT needs_review;

CREATE TABLE IF NOT EXISTS identified_companies (
	id              BIGSERIAL PRIMARY KEY,
	company         TEXT NOT NULL,
	tool_detected   TEXT NOT NULL,
	signal_type     TEXT NOT NULL,
	context         TEXT NOT NULL DEFAULT '',
	job_title       TEXT NOT NULL DEFAULT '',
	job_url         TEXT NOT NULL DEFAULT '',
	tier            TEXT NOT NULL,
	identified_date TIMESTAMPTZ NOT NULL DEFAULT now(),
	lead_generated  BOOLEAN NOT NULL DEFAULT FALSE,
	lead_metadata   JSONB
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_identified_companies_company_tool
	ON identified_companies (lower(btrim(company)), tool_detected);

CREATE TABLE IF NOT EXISTS tier_one_companies (
	id       BIGSERIAL PRIMARY KEY,
	name     TEXT NOT NULL UNIQUE,
	industry TEXT NOT NULL DEFAULT '',
	size     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scraping_runs (
	id              TEXT PRIMARY KEY,
	search_term     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	jobs_scraped    INTEGER NOT NULL DEFAULT 0,
	jobs_analyzed   INTEGER NOT NULL DEFAULT 0,
	companies_found INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS notifications (
	id                TEXT PRIMARY KEY,
	notification_type TEXT NOT NULL,
	title             TEXT NOT NULL,
	message           TEXT NOT NULL DEFAULT '',
	metadata          JSONB,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	is_read           BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS pipeline_locks (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
`

// PostgresStore implements Store on pgx.
type PostgresStore struct {
	pool    db.Pool
	pgxPool *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgres connects a pgx pool to databaseURL.
func NewPostgres(ctx context.Context, databaseURL string, maxConns, minConns int32) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "store: parse database url")
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	if minConns > 0 {
		cfg.MinConns = minConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "store: connect")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "store: ping")
	}

	return &PostgresStore{pool: pool, pgxPool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, pgMigration); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	if s.pgxPool != nil {
		s.pgxPool.Close()
	}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- search terms ---

const termColumns = `id, term, is_active, priority, last_scraped_date, jobs_found_count, created_at`

func scanTerm(row pgx.Row) (*model.SearchTerm, error) {
	var t model.SearchTerm
	err := row.Scan(&t.ID, &t.Term, &t.IsActive, &t.Priority, &t.LastScrapedAt, &t.JobsFoundCount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &t, nil
}

func (s *PostgresStore) CreateTerm(ctx context.Context, term string, priority int) (*model.SearchTerm, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO search_terms (term, priority)
		VALUES ($1, $2)
		ON CONFLICT (term) DO UPDATE SET priority = EXCLUDED.priority
		RETURNING `+termColumns, term, priority)
	t, err := scanTerm(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: create term")
	}
	return t, nil
}

func (s *PostgresStore) GetTerm(ctx context.Context, term string) (*model.SearchTerm, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+termColumns+` FROM search_terms WHERE term = $1`, term)
	t, err := scanTerm(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: get term")
	}
	return t, nil
}

func (s *PostgresStore) ListTerms(ctx context.Context, activeOnly bool) ([]model.SearchTerm, error) {
	q := `SELECT ` + termColumns + ` FROM search_terms`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY priority DESC, term ASC`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "store: list terms")
	}
	defer rows.Close()

	var out []model.SearchTerm
	for rows.Next() {
		var t model.SearchTerm
		if err := rows.Scan(&t.ID, &t.Term, &t.IsActive, &t.Priority, &t.LastScrapedAt, &t.JobsFoundCount, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan term")
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetTermActive(ctx context.Context, id int64, active bool) error {
	_, err := s.pool.Exec(ctx, `UPDATE search_terms SET is_active = $2 WHERE id = $1`, id, active)
	if err != nil {
		return eris.Wrap(err, "store: set term active")
	}
	return nil
}

func (s *PostgresStore) NextDueTerm(ctx context.Context, olderThan time.Time) (*model.SearchTerm, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+termColumns+` FROM search_terms
		WHERE is_active AND (last_scraped_date IS NULL OR last_scraped_date < $1)
		ORDER BY last_scraped_date ASC NULLS FIRST, priority DESC, id ASC
		LIMIT 1`, olderThan)
	t, err := scanTerm(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: next due term")
	}
	return t, nil
}

func (s *PostgresStore) CountDueTerms(ctx context.Context, olderThan time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM search_terms
		WHERE is_active AND (last_scraped_date IS NULL OR last_scraped_date < $1)`, olderThan).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: count due terms")
	}
	return n, nil
}

func (s *PostgresStore) MarkTermScraped(ctx context.Context, id int64, scrapedAt time.Time, jobsFound int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE search_terms
		SET last_scraped_date = $2, jobs_found_count = $3
		WHERE id = $1`, id, scrapedAt, jobsFound)
	if err != nil {
		return eris.Wrap(err, "store: mark term scraped")
	}
	return nil
}

// --- raw postings ---

const postingColumns = `id, job_id, platform, company, title, description, url, search_term, scraped_at, processed, analyzed_date, retry_count, needs_review`

func (s *PostgresStore) InsertPosting(ctx context.Context, p *model.RawPosting) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO raw_postings (job_id, platform, company, title, description, url, search_term, scraped_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING`,
		p.JobID, p.Platform, p.Company, p.Title, p.Description, p.URL, p.SearchTerm, p.ScrapedAt)
	if err != nil {
		return false, eris.Wrap(err, "store: insert posting")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListUnprocessed(ctx context.Context, limit int) ([]model.RawPosting, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+postingColumns+` FROM raw_postings
		WHERE NOT processed AND NOT needs_review
		ORDER BY scraped_at ASC, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list unprocessed")
	}
	defer rows.Close()

	var out []model.RawPosting
	for rows.Next() {
		var p model.RawPosting
		if err := rows.Scan(&p.ID, &p.JobID, &p.Platform, &p.Company, &p.Title, &p.Description, &p.URL,
			&p.SearchTerm, &p.ScrapedAt, &p.Processed, &p.AnalyzedAt, &p.RetryCount, &p.NeedsReview); err != nil {
			return nil, eris.Wrap(err, "store: scan posting")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkPostingProcessed(ctx context.Context, id int64, analyzedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE raw_postings SET processed = TRUE, analyzed_date = $2 WHERE id = $1`, id, analyzedAt)
	if err != nil {
		return eris.Wrap(err, "store: mark posting processed")
	}
	return nil
}

func (s *PostgresStore) RecordPostingFailure(ctx context.Context, id int64, maxRetries int) (bool, error) {
	var needsReview bool
	err := s.pool.QueryRow(ctx, `
		UPDATE raw_postings
		SET retry_count = retry_count + 1,
		    needs_review = retry_count + 1 >= $2
		WHERE id = $1
		RETURNING needs_review`, id, maxRetries).Scan(&needsReview)
	if err != nil {
		return false, eris.Wrap(err, "store: record posting failure")
	}
	return needsReview, nil
}

func (s *PostgresStore) CountUnprocessed(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM raw_postings WHERE NOT processed AND NOT needs_review`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: count unprocessed")
	}
	return n, nil
}

// --- identified companies ---

const companyColumns = `id, company, tool_detected, signal_type, context, job_title, job_url, tier, identified_date, lead_generated, lead_metadata`

func scanCompany(row pgx.Row) (*model.IdentifiedCompany, error) {
	var c model.IdentifiedCompany
	err := row.Scan(&c.ID, &c.Company, &c.ToolDetected, &c.SignalType, &c.Context, &c.JobTitle, &c.JobURL,
		&c.Tier, &c.IdentifiedAt, &c.LeadGenerated, &c.LeadMetadata)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &c, nil
}

func (s *PostgresStore) GetCompany(ctx context.Context, company string, tool model.Tool) (*model.IdentifiedCompany, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+companyColumns+` FROM identified_companies
		WHERE lower(btrim(company)) = lower(btrim($1)) AND tool_detected = $2`, company, tool)
	c, err := scanCompany(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: get company")
	}
	return c, nil
}

func (s *PostgresStore) InsertCompany(ctx context.Context, c *model.IdentifiedCompany) (*model.IdentifiedCompany, error) {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO identified_companies (company, tool_detected, signal_type, context, job_title, job_url, tier, identified_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+companyColumns,
		c.Company, c.ToolDetected, c.SignalType, c.Context, c.JobTitle, c.JobURL, c.Tier, c.IdentifiedAt)
	out, err := scanCompany(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, eris.Wrap(err, "store: insert company")
	}
	return out, nil
}

func (s *PostgresStore) RefreshCompanyEvidence(ctx context.Context, id int64, cand model.Candidate, identifiedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE identified_companies
		SET signal_type = $2, context = $3, job_title = $4, job_url = $5, identified_date = $6
		WHERE id = $1`,
		id, cand.SignalType, cand.Context, cand.JobTitle, cand.JobURL, identifiedAt)
	if err != nil {
		return eris.Wrap(err, "store: refresh company evidence")
	}
	return nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, f CompanyFilter) ([]model.IdentifiedCompany, error) {
	q := `SELECT ` + companyColumns + ` FROM identified_companies WHERE 1=1`
	var args []any
	if f.Tool != "" {
		args = append(args, f.Tool)
		q += ` AND tool_detected = $` + strconv.Itoa(len(args))
	}
	if f.Tier != "" {
		args = append(args, f.Tier)
		q += ` AND tier = $` + strconv.Itoa(len(args))
	}
	if f.LeadGenerated != nil {
		args = append(args, *f.LeadGenerated)
		q += ` AND lead_generated = $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY identified_date DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list companies")
	}
	defer rows.Close()

	var out []model.IdentifiedCompany
	for rows.Next() {
		var c model.IdentifiedCompany
		if err := rows.Scan(&c.ID, &c.Company, &c.ToolDetected, &c.SignalType, &c.Context, &c.JobTitle,
			&c.JobURL, &c.Tier, &c.IdentifiedAt, &c.LeadGenerated, &c.LeadMetadata); err != nil {
			return nil, eris.Wrap(err, "store: scan company")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkLeadGenerated(ctx context.Context, id int64, metadata json.RawMessage) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE identified_companies SET lead_generated = TRUE, lead_metadata = $2 WHERE id = $1`, id, metadata)
	if err != nil {
		return eris.Wrap(err, "store: mark lead generated")
	}
	return nil
}

// --- tier one references ---

func (s *PostgresStore) ListTierOneReferences(ctx context.Context) ([]model.TierOneReference, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, industry, size FROM tier_one_companies ORDER BY name ASC`)
	if err != nil {
		return nil, eris.Wrap(err, "store: list tier one references")
	}
	defer rows.Close()

	var out []model.TierOneReference
	for rows.Next() {
		var r model.TierOneReference
		if err := rows.Scan(&r.ID, &r.Name, &r.Industry, &r.Size); err != nil {
			return nil, eris.Wrap(err, "store: scan tier one reference")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertTierOneReference(ctx context.Context, ref model.TierOneReference) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO tier_one_companies (name, industry, size)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET industry = EXCLUDED.industry, size = EXCLUDED.size`,
		ref.Name, ref.Industry, ref.Size)
	if err != nil {
		return eris.Wrap(err, "store: upsert tier one reference")
	}
	return nil
}

// --- run ledger ---

const runColumns = `id, search_term, status, started_at, completed_at, jobs_scraped, jobs_analyzed, companies_found, error, created_at`

func (s *PostgresStore) CreateRun(ctx context.Context, id, term string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO scraping_runs (id, search_term, status) VALUES ($1, $2, 'pending')`, id, term)
	if err != nil {
		return eris.Wrap(err, "store: create run")
	}
	return nil
}

func (s *PostgresStore) StartRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scraping_runs SET status = 'running', started_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return eris.Wrap(err, "store: start run")
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, id string, at time.Time, scraped, analyzed, companies int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scraping_runs
		SET status = 'completed', completed_at = $2, jobs_scraped = $3, jobs_analyzed = $4, companies_found = $5
		WHERE id = $1`, id, at, scraped, analyzed, companies)
	if err != nil {
		return eris.Wrap(err, "store: complete run")
	}
	return nil
}

func (s *PostgresStore) FailRun(ctx context.Context, id string, at time.Time, errMsg string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE scraping_runs SET status = 'failed', completed_at = $2, error = $3 WHERE id = $1`, id, at, errMsg)
	if err != nil {
		return eris.Wrap(err, "store: fail run")
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, id string) (*model.ScrapingRun, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+runColumns+` FROM scraping_runs WHERE id = $1`, id)
	var r model.ScrapingRun
	err := row.Scan(&r.ID, &r.SearchTerm, &r.Status, &r.StartedAt, &r.CompletedAt,
		&r.JobsScraped, &r.JobsAnalyzed, &r.CompaniesFound, &r.Error, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "store: get run")
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, f RunFilter) ([]model.ScrapingRun, error) {
	q := `SELECT ` + runColumns + ` FROM scraping_runs WHERE 1=1`
	var args []any
	if f.Status != "" {
		args = append(args, f.Status)
		q += ` AND status = $` + strconv.Itoa(len(args))
	}
	if f.Term != "" {
		args = append(args, f.Term)
		q += ` AND search_term = $` + strconv.Itoa(len(args))
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var out []model.ScrapingRun
	for rows.Next() {
		var r model.ScrapingRun
		if err := rows.Scan(&r.ID, &r.SearchTerm, &r.Status, &r.StartedAt, &r.CompletedAt,
			&r.JobsScraped, &r.JobsAnalyzed, &r.CompaniesFound, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *PostgresStore) LastCompletedScrape(ctx context.Context) (*time.Time, error) {
	var at *time.Time
	err := s.pool.QueryRow(ctx, `
		SELECT max(completed_at) FROM scraping_runs WHERE status = 'completed'`).Scan(&at)
	if err != nil {
		return nil, eris.Wrap(err, "store: last completed scrape")
	}
	return at, nil
}

// --- notifications ---

func (s *PostgresStore) InsertNotification(ctx context.Context, n *model.NotificationEvent) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO notifications (id, notification_type, title, message, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		n.ID, n.Type, n.Title, n.Message, n.Metadata, n.CreatedAt)
	if err != nil {
		return eris.Wrap(err, "store: insert notification")
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]model.NotificationEvent, error) {
	q := `SELECT id, notification_type, title, message, metadata, created_at, is_read FROM notifications`
	if unreadOnly {
		q += ` WHERE NOT is_read`
	}
	q += ` ORDER BY created_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list notifications")
	}
	defer rows.Close()

	var out []model.NotificationEvent
	for rows.Next() {
		var n model.NotificationEvent
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.Metadata, &n.CreatedAt, &n.IsRead); err != nil {
			return nil, eris.Wrap(err, "store: scan notification")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return eris.Wrap(err, "store: mark notification read")
	}
	return nil
}

// --- dispatch locks ---

func (s *PostgresStore) AcquireLock(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO pipeline_locks (name, owner, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE pipeline_locks.expires_at <= $4`,
		name, owner, now.Add(ttl), now)
	if err != nil {
		return false, eris.Wrap(err, "store: acquire lock")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM pipeline_locks WHERE name = $1 AND owner = $2`, name, owner)
	if err != nil {
		return eris.Wrap(err, "store: release lock")
	}
	return nil
}

// --- metrics ---

func (s *PostgresStore) ActivitySince(ctx context.Context, since time.Time) (ActivityCounts, error) {
	var c ActivityCounts
	err := s.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM raw_postings WHERE scraped_at >= $1),
			(SELECT count(*) FROM raw_postings WHERE analyzed_date >= $1),
			(SELECT count(*) FROM identified_companies WHERE identified_date >= $1)`,
		since).Scan(&c.JobsScraped, &c.JobsAnalyzed, &c.CompaniesFound)
	if err != nil {
		return ActivityCounts{}, eris.Wrap(err, "store: activity since")
	}
	return c, nil
}

func (s *PostgresStore) DailyMetrics(ctx context.Context, since time.Time) ([]DayMetrics, error) {
	queries := []string{
		`SELECT to_char(scraped_at, 'YYYY-MM-DD'), count(*) FROM raw_postings WHERE scraped_at >= $1 GROUP BY 1`,
		`SELECT to_char(analyzed_date, 'YYYY-MM-DD'), count(*) FROM raw_postings WHERE analyzed_date >= $1 GROUP BY 1`,
		`SELECT to_char(identified_date, 'YYYY-MM-DD'), count(*) FROM identified_companies WHERE identified_date >= $1 GROUP BY 1`,
	}

	maps := make([]map[string]int, len(queries))
	for i, q := range queries {
		m, err := s.queryDayCounts(ctx, q, since)
		if err != nil {
			return nil, err
		}
		maps[i] = m
	}
	return dayCounts(maps[0], maps[1], maps[2]), nil
}

func (s *PostgresStore) queryDayCounts(ctx context.Context, q string, since time.Time) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, q, since)
	if err != nil {
		return nil, eris.Wrap(err, "store: daily metrics")
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, eris.Wrap(err, "store: scan daily metrics")
		}
		out[day] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) ToolCounts(ctx context.Context) (map[model.Tool]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tool_detected, count(*) FROM identified_companies GROUP BY tool_detected`)
	if err != nil {
		return nil, eris.Wrap(err, "store: tool counts")
	}
	defer rows.Close()

	out := map[model.Tool]int{}
	for rows.Next() {
		var tool model.Tool
		var n int
		if err := rows.Scan(&tool, &n); err != nil {
			return nil, eris.Wrap(err, "store: scan tool counts")
		}
		out[tool] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) TierCounts(ctx context.Context) (map[model.Tier]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT tier, count(*) FROM identified_companies GROUP BY tier`)
	if err != nil {
		return nil, eris.Wrap(err, "store: tier counts")
	}
	defer rows.Close()

	out := map[model.Tier]int{}
	for rows.Next() {
		var tier model.Tier
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return nil, eris.Wrap(err, "store: scan tier counts")
		}
		out[tier] = n
	}
	return out, rows.Err()
}

func (s *PostgresStore) RunOutcomes(ctx context.Context, since time.Time) (int, int, error) {
	var completed, failed int
	err := s.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed')
		FROM scraping_runs WHERE created_at >= $1`, since).Scan(&completed, &failed)
	if err != nil {
		return 0, 0, eris.Wrap(err, "store: run outcomes")
	}
	return completed, failed, nil
}
