// Package store persists emails, companies and mentions for the extraction
// pipeline, with Postgres and SQLite backends.
package store

import (
	"context"

	"github.com/sells-group/newsletter-worker/internal/model"
)

// Store defines the persistence interface for the extraction pipeline.
type Store interface {
	// Emails
	CreateEmail(ctx context.Context, e *model.Email) error
	GetEmail(ctx context.Context, id string) (*model.Email, error)
	// FetchPendingEmails returns up to limit pending emails for the user,
	// most recently received first.
	FetchPendingEmails(ctx context.Context, userID string, limit int) ([]model.Email, error)
	UpdateEmailStatus(ctx context.Context, id string, upd model.StatusUpdate) error
	CountPendingEmails(ctx context.Context, userID string) (int, error)
	// RequeueFailedEmails resets failed emails back to pending, clearing
	// lifecycle fields. This is the external reset the pipeline itself never
	// performs.
	RequeueFailedEmails(ctx context.Context, userID string) (int, error)
	// ListUsersWithPending returns the distinct user IDs with a non-empty
	// pending backlog.
	ListUsersWithPending(ctx context.Context) ([]string, error)

	// Companies
	FindCompanyByName(ctx context.Context, userID, name string) (*model.Company, error)
	// UpsertCompanyByName inserts c, or — if a company with the same
	// (user_id, name) already exists — atomically increments its mention
	// count and refreshes last_updated_at. On return c reflects the stored
	// row; created reports whether a new row was inserted.
	UpsertCompanyByName(ctx context.Context, c *model.Company) (created bool, err error)
	ListCompanies(ctx context.Context, userID string, limit int) ([]model.Company, error)

	// Mentions
	InsertMention(ctx context.Context, m *model.Mention) error
	ListMentions(ctx context.Context, companyID string, limit int) ([]model.Mention, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
