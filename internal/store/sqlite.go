package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/newsletter-worker/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Used for local
// development and as the backend for the shared store test suite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS emails (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	subject           TEXT NOT NULL DEFAULT '',
	content           TEXT NOT NULL DEFAULT '',
	raw_content       TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL DEFAULT 'pending',
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	started_at        DATETIME,
	completed_at      DATETIME,
	extracted_count   INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT,
	received_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_emails_pending ON emails(user_id, processing_status, received_at DESC);

CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	normalized_slug TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	industry_tags   TEXT NOT NULL DEFAULT '[]',
	mention_count   INTEGER NOT NULL DEFAULT 1,
	first_seen_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	last_updated_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (user_id, name)
);

CREATE INDEX IF NOT EXISTS idx_companies_user ON companies(user_id, last_updated_at DESC);

CREATE TABLE IF NOT EXISTS mentions (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL REFERENCES companies(id),
	email_id     TEXT NOT NULL REFERENCES emails(id),
	context      TEXT NOT NULL DEFAULT '',
	sentiment    TEXT NOT NULL DEFAULT 'neutral',
	confidence   REAL NOT NULL DEFAULT 0.8,
	extracted_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_mentions_company ON mentions(company_id, extracted_at DESC);
CREATE INDEX IF NOT EXISTS idx_mentions_email ON mentions(email_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateEmail(ctx context.Context, e *model.Email) error {
	fillEmailDefaults(e)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO emails (id, user_id, subject, content, raw_content, processing_status, extraction_status, extracted_count, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.Subject, e.Content, e.RawContent,
		string(e.ProcessingStatus), string(e.ExtractionStatus), e.ExtractedCount, e.ReceivedAt,
	)
	return eris.Wrap(err, "sqlite: insert email")
}

func (s *SQLiteStore) GetEmail(ctx context.Context, id string) (*model.Email, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, subject, content, raw_content, processing_status, extraction_status,
		 started_at, completed_at, extracted_count, last_error, received_at
		 FROM emails WHERE id = ?`,
		id,
	)
	e, err := scanEmailLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, eris.Errorf("email not found: %s", id)
		}
		return nil, eris.Wrapf(err, "sqlite: get email %s", id)
	}
	return e, nil
}

func (s *SQLiteStore) FetchPendingEmails(ctx context.Context, userID string, limit int) ([]model.Email, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, subject, content, raw_content, processing_status, extraction_status,
		 started_at, completed_at, extracted_count, last_error, received_at
		 FROM emails WHERE user_id = ? AND processing_status = 'pending'
		 ORDER BY received_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch pending emails")
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmailLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan email")
		}
		emails = append(emails, *e)
	}
	return emails, eris.Wrap(rows.Err(), "sqlite: fetch pending iterate")
}

func (s *SQLiteStore) UpdateEmailStatus(ctx context.Context, id string, upd model.StatusUpdate) error {
	b, err := statusUpdateBuilder(sq.StatementBuilder, upd)
	if err != nil {
		return err
	}

	query, args, err := b.Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return eris.Wrap(err, "sqlite: build status update")
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update email status %s", id)
	}
	return checkRowsAffected(res, "email", id)
}

func (s *SQLiteStore) CountPendingEmails(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM emails WHERE user_id = ? AND processing_status = 'pending'`,
		userID,
	).Scan(&count)
	return count, eris.Wrap(err, "sqlite: count pending emails")
}

func (s *SQLiteStore) RequeueFailedEmails(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE emails SET processing_status = 'pending', extraction_status = 'pending',
		 started_at = NULL, completed_at = NULL, last_error = NULL, extracted_count = 0
		 WHERE user_id = ? AND processing_status = 'failed'`,
		userID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue failed emails")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListUsersWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM emails WHERE processing_status = 'pending'`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list users with pending")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user id")
		}
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "sqlite: list users iterate")
}

func (s *SQLiteStore) FindCompanyByName(ctx context.Context, userID, name string) (*model.Company, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, normalized_slug, description, industry_tags, mention_count, first_seen_at, last_updated_at
		 FROM companies WHERE user_id = ? AND name = ?`,
		userID, name,
	)
	c, err := scanCompanyLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "sqlite: find company by name")
	}
	return c, nil
}

func (s *SQLiteStore) UpsertCompanyByName(ctx context.Context, c *model.Company) (bool, error) {
	fillCompanyDefaults(c)

	tagsJSON, err := json.Marshal(c.IndustryTags)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal industry tags")
	}

	err = s.db.QueryRowContext(ctx,
		`INSERT INTO companies (id, user_id, name, normalized_slug, description, industry_tags, mention_count, first_seen_at, last_updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (user_id, name) DO UPDATE SET
		   mention_count = mention_count + 1,
		   last_updated_at = excluded.last_updated_at
		 RETURNING id, normalized_slug, description, mention_count, first_seen_at, last_updated_at`,
		c.ID, c.UserID, c.Name, c.NormalizedSlug, c.Description, string(tagsJSON),
		c.MentionCount, c.FirstSeenAt, c.LastUpdatedAt,
	).Scan(&c.ID, &c.NormalizedSlug, &c.Description, &c.MentionCount, &c.FirstSeenAt, &c.LastUpdatedAt)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: upsert company %s", c.Name)
	}

	return c.MentionCount == 1, nil
}

func (s *SQLiteStore) ListCompanies(ctx context.Context, userID string, limit int) ([]model.Company, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, name, normalized_slug, description, industry_tags, mention_count, first_seen_at, last_updated_at
		 FROM companies WHERE user_id = ? ORDER BY last_updated_at DESC LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		c, err := scanCompanyLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: list companies iterate")
}

func (s *SQLiteStore) InsertMention(ctx context.Context, m *model.Mention) error {
	fillMentionDefaults(m)

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO mentions (id, company_id, email_id, context, sentiment, confidence, extracted_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.CompanyID, m.EmailID, m.Context, m.Sentiment, m.Confidence, m.ExtractedAt,
	)
	return eris.Wrap(err, "sqlite: insert mention")
}

func (s *SQLiteStore) ListMentions(ctx context.Context, companyID string, limit int) ([]model.Mention, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, email_id, context, sentiment, confidence, extracted_at
		 FROM mentions WHERE company_id = ? ORDER BY extracted_at DESC LIMIT ?`,
		companyID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list mentions")
	}
	defer rows.Close()

	var mentions []model.Mention
	for rows.Next() {
		var m model.Mention
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.EmailID, &m.Context, &m.Sentiment, &m.Confidence, &m.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan mention")
		}
		mentions = append(mentions, m)
	}
	return mentions, eris.Wrap(rows.Err(), "sqlite: list mentions iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEmailLite(row scannable) (*model.Email, error) {
	var e model.Email
	var startedAt, completedAt sql.NullTime
	var lastError sql.NullString

	err := row.Scan(&e.ID, &e.UserID, &e.Subject, &e.Content, &e.RawContent,
		&e.ProcessingStatus, &e.ExtractionStatus,
		&startedAt, &completedAt, &e.ExtractedCount, &lastError, &e.ReceivedAt)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid {
		t := startedAt.Time
		e.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	if lastError.Valid {
		s := lastError.String
		e.LastError = &s
	}
	return &e, nil
}

func scanCompanyLite(row scannable) (*model.Company, error) {
	var c model.Company
	var tagsJSON string
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.NormalizedSlug, &c.Description,
		&tagsJSON, &c.MentionCount, &c.FirstSeenAt, &c.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &c.IndustryTags); err != nil {
			return nil, eris.Wrap(err, "unmarshal industry tags")
		}
	}
	return &c, nil
}
