package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/toolwatch/internal/model"
)

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS search_terms (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	term              TEXT NOT NULL UNIQUE,
	is_active         BOOLEAN NOT NULL DEFAULT TRUE,
	priority          INTEGER NOT NULL DEFAULT 0,
	last_scraped_date TIMESTAMP,
	jobs_found_count  INTEGER NOT NULL DEFAULT 0,
	created_at        TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS raw_postings (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	job_id        TEXT NOT NULL UNIQUE,
	platform      TEXT NOT NULL DEFAULT '',
	company       TEXT NOT NULL,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL,
	url           TEXT NOT NULL DEFAULT '',
	search_term   TEXT NOT NULL,
	scraped_at    TIMESTAMP NOT NULL,
	processed     BOOLEAN NOT NULL DEFAULT FALSE,
	analyzed_date TIMESTAMP,
	retry_count   INTEGER NOT NULL DEFAULT 0,
	needs_review  BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS identified_companies (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	company         TEXT NOT NULL,
	tool_detected   TEXT NOT NULL,
	signal_type     TEXT NOT NULL,
	context         TEXT NOT NULL DEFAULT '',
	job_title       TEXT NOT NULL DEFAULT '',
	job_url         TEXT NOT NULL DEFAULT '',
	tier            TEXT NOT NULL,
	identified_date TIMESTAMP NOT NULL,
	lead_generated  BOOLEAN NOT NULL DEFAULT FALSE,
	lead_metadata   TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_identified_companies_company_tool
	ON identified_companies (lower(trim(company)), tool_detected);

CREATE TABLE IF NOT EXISTS tier_one_companies (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	name     TEXT NOT NULL UNIQUE,
	industry TEXT NOT NULL DEFAULT '',
	size     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS scraping_runs (
	id              TEXT PRIMARY KEY,
	search_term     TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'pending',
	started_at      TIMESTAMP,
	completed_at    TIMESTAMP,
	jobs_scraped    INTEGER NOT NULL DEFAULT 0,
	jobs_analyzed   INTEGER NOT NULL DEFAULT 0,
	companies_found INTEGER NOT NULL DEFAULT 0,
	error           TEXT NOT NULL DEFAULT '',
	created_at      TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS notifications (
	id                TEXT PRIMARY KEY,
	notification_type TEXT NOT NULL,
	title             TEXT NOT NULL,
	message           TEXT NOT NULL DEFAULT '',
	metadata          TEXT,
	created_at        TIMESTAMP NOT NULL,
	is_read           BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS pipeline_locks (
	name       TEXT PRIMARY KEY,
	owner      TEXT NOT NULL,
	expires_at TIMESTAMP NOT NULL
);
`

// SQLiteStore implements Store on modernc.org/sqlite for local runs and
// tests. All timestamps are stored in UTC so that text comparison and
// strftime grouping behave.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLite opens (or creates) the database at path. Use ":memory:" for an
// ephemeral store.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_time_format=sqlite&_pragma=busy_timeout(10000)"
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "store: open sqlite")
	}
	// A single connection keeps :memory: databases alive and sidesteps
	// SQLITE_BUSY under concurrent writers.
	sqlDB.SetMaxOpenConns(1)
	return &SQLiteStore{db: sqlDB}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "store: migrate")
	}
	return nil
}

func (s *SQLiteStore) Close() {
	_ = s.db.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func utc(t time.Time) time.Time { return t.UTC() }

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}

// --- search terms ---

func (s *SQLiteStore) scanTermRow(row *sql.Row) (*model.SearchTerm, error) {
	var t model.SearchTerm
	var last sql.NullTime
	err := row.Scan(&t.ID, &t.Term, &t.IsActive, &t.Priority, &last, &t.JobsFoundCount, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	t.LastScrapedAt = nullTimePtr(last)
	return &t, nil
}

func (s *SQLiteStore) CreateTerm(ctx context.Context, term string, priority int) (*model.SearchTerm, error) {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO search_terms (term, priority, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (term) DO UPDATE SET priority = excluded.priority`,
		term, priority, utc(time.Now()))
	if err != nil {
		return nil, eris.Wrap(err, "store: create term")
	}
	return s.GetTerm(ctx, term)
}

func (s *SQLiteStore) GetTerm(ctx context.Context, term string) (*model.SearchTerm, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+termColumns+` FROM search_terms WHERE term = ?`, term)
	t, err := s.scanTermRow(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: get term")
	}
	return t, nil
}

func (s *SQLiteStore) ListTerms(ctx context.Context, activeOnly bool) ([]model.SearchTerm, error) {
	q := `SELECT ` + termColumns + ` FROM search_terms`
	if activeOnly {
		q += ` WHERE is_active`
	}
	q += ` ORDER BY priority DESC, term ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, eris.Wrap(err, "store: list terms")
	}
	defer rows.Close()

	var out []model.SearchTerm
	for rows.Next() {
		var t model.SearchTerm
		var last sql.NullTime
		if err := rows.Scan(&t.ID, &t.Term, &t.IsActive, &t.Priority, &last, &t.JobsFoundCount, &t.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan term")
		}
		t.LastScrapedAt = nullTimePtr(last)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SetTermActive(ctx context.Context, id int64, active bool) error {
	_, err := s.db.ExecContext(ctx, `UPDATE search_terms SET is_active = ? WHERE id = ?`, active, id)
	if err != nil {
		return eris.Wrap(err, "store: set term active")
	}
	return nil
}

func (s *SQLiteStore) NextDueTerm(ctx context.Context, olderThan time.Time) (*model.SearchTerm, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+termColumns+` FROM search_terms
		WHERE is_active AND (last_scraped_date IS NULL OR last_scraped_date < ?)
		ORDER BY last_scraped_date ASC NULLS FIRST, priority DESC, id ASC
		LIMIT 1`, utc(olderThan))
	t, err := s.scanTermRow(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: next due term")
	}
	return t, nil
}

func (s *SQLiteStore) CountDueTerms(ctx context.Context, olderThan time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM search_terms
		WHERE is_active AND (last_scraped_date IS NULL OR last_scraped_date < ?)`, utc(olderThan)).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: count due terms")
	}
	return n, nil
}

func (s *SQLiteStore) MarkTermScraped(ctx context.Context, id int64, scrapedAt time.Time, jobsFound int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE search_terms
		SET last_scraped_date = ?, jobs_found_count = ?
		WHERE id = ?`, utc(scrapedAt), jobsFound, id)
	if err != nil {
		return eris.Wrap(err, "store: mark term scraped")
	}
	return nil
}

// --- raw postings ---

func (s *SQLiteStore) InsertPosting(ctx context.Context, p *model.RawPosting) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO raw_postings (job_id, platform, company, title, description, url, search_term, scraped_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job_id) DO NOTHING`,
		p.JobID, p.Platform, p.Company, p.Title, p.Description, p.URL, p.SearchTerm, utc(p.ScrapedAt))
	if err != nil {
		return false, eris.Wrap(err, "store: insert posting")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "store: insert posting rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListUnprocessed(ctx context.Context, limit int) ([]model.RawPosting, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+postingColumns+` FROM raw_postings
		WHERE NOT processed AND NOT needs_review
		ORDER BY scraped_at ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list unprocessed")
	}
	defer rows.Close()

	var out []model.RawPosting
	for rows.Next() {
		var p model.RawPosting
		var analyzed sql.NullTime
		if err := rows.Scan(&p.ID, &p.JobID, &p.Platform, &p.Company, &p.Title, &p.Description, &p.URL,
			&p.SearchTerm, &p.ScrapedAt, &p.Processed, &analyzed, &p.RetryCount, &p.NeedsReview); err != nil {
			return nil, eris.Wrap(err, "store: scan posting")
		}
		p.AnalyzedAt = nullTimePtr(analyzed)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkPostingProcessed(ctx context.Context, id int64, analyzedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE raw_postings SET processed = TRUE, analyzed_date = ? WHERE id = ?`, utc(analyzedAt), id)
	if err != nil {
		return eris.Wrap(err, "store: mark posting processed")
	}
	return nil
}

func (s *SQLiteStore) RecordPostingFailure(ctx context.Context, id int64, maxRetries int) (bool, error) {
	var needsReview bool
	err := s.db.QueryRowContext(ctx, `
		UPDATE raw_postings
		SET retry_count = retry_count + 1,
		    needs_review = retry_count + 1 >= ?
		WHERE id = ?
		RETURNING needs_review`, maxRetries, id).Scan(&needsReview)
	if err != nil {
		return false, eris.Wrap(err, "store: record posting failure")
	}
	return needsReview, nil
}

func (s *SQLiteStore) CountUnprocessed(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT count(*) FROM raw_postings WHERE NOT processed AND NOT needs_review`).Scan(&n)
	if err != nil {
		return 0, eris.Wrap(err, "store: count unprocessed")
	}
	return n, nil
}

// --- identified companies ---

func (s *SQLiteStore) scanCompanyRow(row *sql.Row) (*model.IdentifiedCompany, error) {
	var c model.IdentifiedCompany
	var meta []byte
	err := row.Scan(&c.ID, &c.Company, &c.ToolDetected, &c.SignalType, &c.Context, &c.JobTitle, &c.JobURL,
		&c.Tier, &c.IdentifiedAt, &c.LeadGenerated, &meta)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	c.LeadMetadata = meta
	return &c, nil
}

func (s *SQLiteStore) GetCompany(ctx context.Context, company string, tool model.Tool) (*model.IdentifiedCompany, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+companyColumns+` FROM identified_companies
		WHERE lower(trim(company)) = lower(trim(?)) AND tool_detected = ?`, company, tool)
	c, err := s.scanCompanyRow(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: get company")
	}
	return c, nil
}

func (s *SQLiteStore) InsertCompany(ctx context.Context, c *model.IdentifiedCompany) (*model.IdentifiedCompany, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO identified_companies (company, tool_detected, signal_type, context, job_title, job_url, tier, identified_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.Company, c.ToolDetected, c.SignalType, c.Context, c.JobTitle, c.JobURL, c.Tier, utc(c.IdentifiedAt))
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return nil, ErrDuplicateKey
		}
		return nil, eris.Wrap(err, "store: insert company")
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, eris.Wrap(err, "store: insert company id")
	}

	out := *c
	out.ID = id
	out.IdentifiedAt = utc(c.IdentifiedAt)
	return &out, nil
}

func (s *SQLiteStore) RefreshCompanyEvidence(ctx context.Context, id int64, cand model.Candidate, identifiedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identified_companies
		SET signal_type = ?, context = ?, job_title = ?, job_url = ?, identified_date = ?
		WHERE id = ?`,
		cand.SignalType, cand.Context, cand.JobTitle, cand.JobURL, utc(identifiedAt), id)
	if err != nil {
		return eris.Wrap(err, "store: refresh company evidence")
	}
	return nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, f CompanyFilter) ([]model.IdentifiedCompany, error) {
	q := `SELECT ` + companyColumns + ` FROM identified_companies WHERE 1=1`
	var args []any
	if f.Tool != "" {
		q += ` AND tool_detected = ?`
		args = append(args, f.Tool)
	}
	if f.Tier != "" {
		q += ` AND tier = ?`
		args = append(args, f.Tier)
	}
	if f.LeadGenerated != nil {
		q += ` AND lead_generated = ?`
		args = append(args, *f.LeadGenerated)
	}
	q += ` ORDER BY identified_date DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list companies")
	}
	defer rows.Close()

	var out []model.IdentifiedCompany
	for rows.Next() {
		var c model.IdentifiedCompany
		var meta []byte
		if err := rows.Scan(&c.ID, &c.Company, &c.ToolDetected, &c.SignalType, &c.Context, &c.JobTitle,
			&c.JobURL, &c.Tier, &c.IdentifiedAt, &c.LeadGenerated, &meta); err != nil {
			return nil, eris.Wrap(err, "store: scan company")
		}
		c.LeadMetadata = meta
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkLeadGenerated(ctx context.Context, id int64, metadata json.RawMessage) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE identified_companies SET lead_generated = TRUE, lead_metadata = ? WHERE id = ?`, []byte(metadata), id)
	if err != nil {
		return eris.Wrap(err, "store: mark lead generated")
	}
	return nil
}

// --- tier one references ---

func (s *SQLiteStore) ListTierOneReferences(ctx context.Context) ([]model.TierOneReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, industry, size FROM tier_one_companies ORDER BY name ASC`)
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

func (s *SQLiteStore) UpsertTierOneReference(ctx context.Context, ref model.TierOneReference) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tier_one_companies (name, industry, size)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET industry = excluded.industry, size = excluded.size`,
		ref.Name, ref.Industry, ref.Size)
	if err != nil {
		return eris.Wrap(err, "store: upsert tier one reference")
	}
	return nil
}

// --- run ledger ---

func (s *SQLiteStore) CreateRun(ctx context.Context, id, term string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraping_runs (id, search_term, status, created_at)
		VALUES (?, ?, 'pending', ?)`, id, term, utc(time.Now()))
	if err != nil {
		return eris.Wrap(err, "store: create run")
	}
	return nil
}

func (s *SQLiteStore) StartRun(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_runs SET status = 'running', started_at = ? WHERE id = ?`, utc(at), id)
	if err != nil {
		return eris.Wrap(err, "store: start run")
	}
	return nil
}

func (s *SQLiteStore) CompleteRun(ctx context.Context, id string, at time.Time, scraped, analyzed, companies int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_runs
		SET status = 'completed', completed_at = ?, jobs_scraped = ?, jobs_analyzed = ?, companies_found = ?
		WHERE id = ?`, utc(at), scraped, analyzed, companies, id)
	if err != nil {
		return eris.Wrap(err, "store: complete run")
	}
	return nil
}

func (s *SQLiteStore) FailRun(ctx context.Context, id string, at time.Time, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scraping_runs SET status = 'failed', completed_at = ?, error = ? WHERE id = ?`,
		utc(at), errMsg, id)
	if err != nil {
		return eris.Wrap(err, "store: fail run")
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*model.ScrapingRun, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM scraping_runs WHERE id = ?`, id)
	r, err := scanRunSQL(row)
	if err != nil {
		return nil, eris.Wrap(err, "store: get run")
	}
	return r, nil
}

func scanRunSQL(row *sql.Row) (*model.ScrapingRun, error) {
	var r model.ScrapingRun
	var started, completed sql.NullTime
	err := row.Scan(&r.ID, &r.SearchTerm, &r.Status, &started, &completed,
		&r.JobsScraped, &r.JobsAnalyzed, &r.CompaniesFound, &r.Error, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	r.StartedAt = nullTimePtr(started)
	r.CompletedAt = nullTimePtr(completed)
	return &r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, f RunFilter) ([]model.ScrapingRun, error) {
	q := `SELECT ` + runColumns + ` FROM scraping_runs WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.Term != "" {
		q += ` AND search_term = ?`
		args = append(args, f.Term)
	}
	q += ` ORDER BY created_at DESC, id DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, eris.Wrap(err, "store: list runs")
	}
	defer rows.Close()

	var out []model.ScrapingRun
	for rows.Next() {
		var r model.ScrapingRun
		var started, completed sql.NullTime
		if err := rows.Scan(&r.ID, &r.SearchTerm, &r.Status, &started, &completed,
			&r.JobsScraped, &r.JobsAnalyzed, &r.CompaniesFound, &r.Error, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "store: scan run")
		}
		r.StartedAt = nullTimePtr(started)
		r.CompletedAt = nullTimePtr(completed)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) LastCompletedScrape(ctx context.Context) (*time.Time, error) {
	var at sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT max(completed_at) FROM scraping_runs WHERE status = 'completed'`).Scan(&at)
	if err != nil {
		return nil, eris.Wrap(err, "store: last completed scrape")
	}
	return nullTimePtr(at), nil
}

// --- notifications ---

func (s *SQLiteStore) InsertNotification(ctx context.Context, n *model.NotificationEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, notification_type, title, message, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Title, n.Message, []byte(n.Metadata), utc(n.CreatedAt))
	if err != nil {
		return eris.Wrap(err, "store: insert notification")
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, unreadOnly bool, limit int) ([]model.NotificationEvent, error) {
	q := `SELECT id, notification_type, title, message, metadata, created_at, is_read FROM notifications`
	if unreadOnly {
		q += ` WHERE NOT is_read`
	}
	q += ` ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, eris.Wrap(err, "store: list notifications")
	}
	defer rows.Close()

	var out []model.NotificationEvent
	for rows.Next() {
		var n model.NotificationEvent
		var meta []byte
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &meta, &n.CreatedAt, &n.IsRead); err != nil {
			return nil, eris.Wrap(err, "store: scan notification")
		}
		n.Metadata = meta
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) MarkNotificationRead(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = ?`, id)
	if err != nil {
		return eris.Wrap(err, "store: mark notification read")
	}
	return nil
}

// --- dispatch locks ---

func (s *SQLiteStore) AcquireLock(ctx context.Context, name, owner string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO pipeline_locks (name, owner, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		WHERE pipeline_locks.expires_at <= ?`,
		name, owner, utc(now.Add(ttl)), utc(now))
	if err != nil {
		return false, eris.Wrap(err, "store: acquire lock")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "store: acquire lock rows affected")
	}
	return n == 1, nil
}

func (s *SQLiteStore) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM pipeline_locks WHERE name = ? AND owner = ?`, name, owner)
	if err != nil {
		return eris.Wrap(err, "store: release lock")
	}
	return nil
}

// --- metrics ---

func (s *SQLiteStore) ActivitySince(ctx context.Context, since time.Time) (ActivityCounts, error) {
	var c ActivityCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT count(*) FROM raw_postings WHERE scraped_at >= ?1),
			(SELECT count(*) FROM raw_postings WHERE analyzed_date >= ?1),
			(SELECT count(*) FROM identified_companies WHERE identified_date >= ?1)`,
		utc(since)).Scan(&c.JobsScraped, &c.JobsAnalyzed, &c.CompaniesFound)
	if err != nil {
		return ActivityCounts{}, eris.Wrap(err, "store: activity since")
	}
	return c, nil
}

func (s *SQLiteStore) DailyMetrics(ctx context.Context, since time.Time) ([]DayMetrics, error) {
	queries := []string{
		`SELECT strftime('%Y-%m-%d', scraped_at), count(*) FROM raw_postings WHERE scraped_at >= ? GROUP BY 1`,
		`SELECT strftime('%Y-%m-%d', analyzed_date), count(*) FROM raw_postings WHERE analyzed_date >= ? GROUP BY 1`,
		`SELECT strftime('%Y-%m-%d', identified_date), count(*) FROM identified_companies WHERE identified_date >= ? GROUP BY 1`,
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

func (s *SQLiteStore) queryDayCounts(ctx context.Context, q string, since time.Time) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, q, utc(since))
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

func (s *SQLiteStore) ToolCounts(ctx context.Context) (map[model.Tool]int, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) TierCounts(ctx context.Context) (map[model.Tier]int, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) RunOutcomes(ctx context.Context, since time.Time) (int, int, error) {
	var completed, failed int
	err := s.db.QueryRowContext(ctx, `
		SELECT
			count(*) FILTER (WHERE status = 'completed'),
			count(*) FILTER (WHERE status = 'failed')
		FROM scraping_runs WHERE created_at >= ?`, utc(since)).Scan(&completed, &failed)
	if err != nil {
		return 0, 0, eris.Wrap(err, "store: run outcomes")
	}
	return completed, failed, nil
}
