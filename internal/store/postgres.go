package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/newsletter-worker/internal/db"
	"github.com/sells-group/newsletter-worker/internal/model"
)

// psql builds queries with Postgres-style placeholders.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists the pipeline's hot-path queries, prepared on each
// new connection.
var preparedStatements = map[string]string{
	"fetch_pending": `SELECT id, user_id, subject, content, raw_content, processing_status, extraction_status,
	 started_at, completed_at, extracted_count, last_error, received_at
	 FROM emails WHERE user_id = $1 AND processing_status = 'pending'
	 ORDER BY received_at DESC LIMIT $2`,
	"count_pending":  `SELECT COUNT(*) FROM emails WHERE user_id = $1 AND processing_status = 'pending'`,
	"insert_mention": `INSERT INTO mentions (id, company_id, email_id, context, sentiment, confidence, extracted_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS emails (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	subject           TEXT NOT NULL DEFAULT '',
	content           TEXT NOT NULL DEFAULT '',
	raw_content       TEXT NOT NULL DEFAULT '',
	processing_status TEXT NOT NULL DEFAULT 'pending',
	extraction_status TEXT NOT NULL DEFAULT 'pending',
	started_at        TIMESTAMPTZ,
	completed_at      TIMESTAMPTZ,
	extracted_count   INTEGER NOT NULL DEFAULT 0,
	last_error        TEXT,
	received_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_emails_pending ON emails(user_id, processing_status, received_at DESC);

CREATE TABLE IF NOT EXISTS companies (
	id              TEXT PRIMARY KEY,
	user_id         TEXT NOT NULL,
	name            TEXT NOT NULL,
	normalized_slug TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	industry_tags   JSONB NOT NULL DEFAULT '[]',
	mention_count   INTEGER NOT NULL DEFAULT 1,
	first_seen_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user_id, name)
);

CREATE INDEX IF NOT EXISTS idx_companies_user ON companies(user_id, last_updated_at DESC);

CREATE TABLE IF NOT EXISTS mentions (
	id           TEXT PRIMARY KEY,
	company_id   TEXT NOT NULL REFERENCES companies(id),
	email_id     TEXT NOT NULL REFERENCES emails(id),
	context      TEXT NOT NULL DEFAULT '',
	sentiment    TEXT NOT NULL DEFAULT 'neutral',
	confidence   DOUBLE PRECISION NOT NULL DEFAULT 0.8,
	extracted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_mentions_company ON mentions(company_id, extracted_at DESC);
CREATE INDEX IF NOT EXISTS idx_mentions_email ON mentions(email_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateEmail(ctx context.Context, e *model.Email) error {
	fillEmailDefaults(e)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO emails (id, user_id, subject, content, raw_content, processing_status, extraction_status, extracted_count, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.UserID, e.Subject, e.Content, e.RawContent,
		string(e.ProcessingStatus), string(e.ExtractionStatus), e.ExtractedCount, e.ReceivedAt,
	)
	return eris.Wrap(err, "postgres: insert email")
}

func (s *PostgresStore) GetEmail(ctx context.Context, id string) (*model.Email, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, subject, content, raw_content, processing_status, extraction_status,
		 started_at, completed_at, extracted_count, last_error, received_at
		 FROM emails WHERE id = $1`,
		id,
	)
	e, err := scanEmailPG(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Errorf("email not found: %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get email %s", id)
	}
	return e, nil
}

func (s *PostgresStore) FetchPendingEmails(ctx context.Context, userID string, limit int) ([]model.Email, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, subject, content, raw_content, processing_status, extraction_status,
		 started_at, completed_at, extracted_count, last_error, received_at
		 FROM emails WHERE user_id = $1 AND processing_status = 'pending'
		 ORDER BY received_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch pending emails")
	}
	defer rows.Close()

	var emails []model.Email
	for rows.Next() {
		e, err := scanEmailPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan email")
		}
		emails = append(emails, *e)
	}
	return emails, eris.Wrap(rows.Err(), "postgres: fetch pending iterate")
}

func (s *PostgresStore) UpdateEmailStatus(ctx context.Context, id string, upd model.StatusUpdate) error {
	b, err := statusUpdateBuilder(psql, upd)
	if err != nil {
		return err
	}

	query, args, err := b.Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return eris.Wrap(err, "postgres: build status update")
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update email status %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("email not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) CountPendingEmails(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM emails WHERE user_id = $1 AND processing_status = 'pending'`,
		userID,
	).Scan(&count)
	return count, eris.Wrap(err, "postgres: count pending emails")
}

func (s *PostgresStore) RequeueFailedEmails(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE emails SET processing_status = 'pending', extraction_status = 'pending',
		 started_at = NULL, completed_at = NULL, last_error = NULL, extracted_count = 0
		 WHERE user_id = $1 AND processing_status = 'failed'`,
		userID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue failed emails")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListUsersWithPending(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM emails WHERE processing_status = 'pending'`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list users with pending")
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, eris.Wrap(err, "postgres: scan user id")
		}
		users = append(users, u)
	}
	return users, eris.Wrap(rows.Err(), "postgres: list users iterate")
}

func (s *PostgresStore) FindCompanyByName(ctx context.Context, userID, name string) (*model.Company, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, user_id, name, normalized_slug, description, industry_tags, mention_count, first_seen_at, last_updated_at
		 FROM companies WHERE user_id = $1 AND name = $2`,
		userID, name,
	)
	c, err := scanCompanyPG(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: find company by name")
	}
	return c, nil
}

func (s *PostgresStore) UpsertCompanyByName(ctx context.Context, c *model.Company) (bool, error) {
	fillCompanyDefaults(c)

	tagsJSON, err := json.Marshal(c.IndustryTags)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal industry tags")
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO companies (id, user_id, name, normalized_slug, description, industry_tags, mention_count, first_seen_at, last_updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (user_id, name) DO UPDATE SET
		   mention_count = companies.mention_count + 1,
		   last_updated_at = EXCLUDED.last_updated_at
		 RETURNING id, normalized_slug, description, mention_count, first_seen_at, last_updated_at`,
		c.ID, c.UserID, c.Name, c.NormalizedSlug, c.Description, tagsJSON,
		c.MentionCount, c.FirstSeenAt, c.LastUpdatedAt,
	).Scan(&c.ID, &c.NormalizedSlug, &c.Description, &c.MentionCount, &c.FirstSeenAt, &c.LastUpdatedAt)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: upsert company %s", c.Name)
	}

	return c.MentionCount == 1, nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context, userID string, limit int) ([]model.Company, error) {
	if limit <= 0 {
		limit = 100
	}

	query, args, err := psql.
		Select("id", "user_id", "name", "normalized_slug", "description", "industry_tags",
			"mention_count", "first_seen_at", "last_updated_at").
		From("companies").
		Where(sq.Eq{"user_id": userID}).
		OrderBy("last_updated_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list companies")
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		c, err := scanCompanyPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		companies = append(companies, *c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: list companies iterate")
}

func (s *PostgresStore) InsertMention(ctx context.Context, m *model.Mention) error {
	fillMentionDefaults(m)

	_, err := s.pool.Exec(ctx,
		`INSERT INTO mentions (id, company_id, email_id, context, sentiment, confidence, extracted_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.CompanyID, m.EmailID, m.Context, m.Sentiment, m.Confidence, m.ExtractedAt,
	)
	return eris.Wrap(err, "postgres: insert mention")
}

func (s *PostgresStore) ListMentions(ctx context.Context, companyID string, limit int) ([]model.Mention, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, email_id, context, sentiment, confidence, extracted_at
		 FROM mentions WHERE company_id = $1 ORDER BY extracted_at DESC LIMIT $2`,
		companyID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list mentions")
	}
	defer rows.Close()

	var mentions []model.Mention
	for rows.Next() {
		var m model.Mention
		if err := rows.Scan(&m.ID, &m.CompanyID, &m.EmailID, &m.Context, &m.Sentiment, &m.Confidence, &m.ExtractedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan mention")
		}
		mentions = append(mentions, m)
	}
	return mentions, eris.Wrap(rows.Err(), "postgres: list mentions iterate")
}

// scanEmailPG scans an email row from pgx.
func scanEmailPG(row pgx.Row) (*model.Email, error) {
	var e model.Email
	err := row.Scan(&e.ID, &e.UserID, &e.Subject, &e.Content, &e.RawContent,
		&e.ProcessingStatus, &e.ExtractionStatus,
		&e.StartedAt, &e.CompletedAt, &e.ExtractedCount, &e.LastError, &e.ReceivedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// scanCompanyPG scans a company row from pgx, decoding the JSONB tag array.
func scanCompanyPG(row pgx.Row) (*model.Company, error) {
	var c model.Company
	var tagsJSON []byte
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.NormalizedSlug, &c.Description,
		&tagsJSON, &c.MentionCount, &c.FirstSeenAt, &c.LastUpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &c.IndustryTags); err != nil {
			return nil, eris.Wrap(err, "unmarshal industry tags")
		}
	}
	return &c, nil
}
