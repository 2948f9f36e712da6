package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/newsletter-worker/internal/model"
)

func newTestSQLite(t *testing.T) Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func TestSQLiteStore(t *testing.T) {
	storeTestSuite(t, newTestSQLite)
}

func storeTestSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("CreateAndGetEmail", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		email := &model.Email{
			UserID:  "user-1",
			Subject: "Weekly funding roundup",
			Content: "Acme Robotics raised a Series B this week.",
		}
		require.NoError(t, s.CreateEmail(ctx, email))
		assert.NotEmpty(t, email.ID)
		assert.Equal(t, model.StatusPending, email.ProcessingStatus)
		assert.Equal(t, model.StatusPending, email.ExtractionStatus)

		got, err := s.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, email.ID, got.ID)
		assert.Equal(t, "user-1", got.UserID)
		assert.Equal(t, "Weekly funding roundup", got.Subject)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.LastError)
	})

	t.Run("GetEmailNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.GetEmail(context.Background(), "nonexistent-id")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("FetchPendingOrderAndLimit", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
		var ids []string
		for i := 0; i < 3; i++ {
			e := &model.Email{
				UserID:     "user-1",
				Subject:    "newsletter",
				Content:    "body",
				ReceivedAt: base.Add(time.Duration(i) * time.Hour),
			}
			require.NoError(t, s.CreateEmail(ctx, e))
			ids = append(ids, e.ID)
		}
		// Another user's email must not show up.
		require.NoError(t, s.CreateEmail(ctx, &model.Email{UserID: "user-2", Content: "other"}))

		got, err := s.FetchPendingEmails(ctx, "user-1", 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		// Most recently received first.
		assert.Equal(t, ids[2], got[0].ID)
		assert.Equal(t, ids[1], got[1].ID)
	})

	t.Run("FetchPendingSkipsTerminal", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		done := &model.Email{UserID: "user-1", Content: "done"}
		require.NoError(t, s.CreateEmail(ctx, done))
		pending := &model.Email{UserID: "user-1", Content: "pending"}
		require.NoError(t, s.CreateEmail(ctx, pending))

		count := 0
		require.NoError(t, s.UpdateEmailStatus(ctx, done.ID, model.StatusUpdate{
			ProcessingStatus: model.StatusCompleted,
			ExtractionStatus: model.StatusCompleted,
			ExtractedCount:   &count,
		}))

		got, err := s.FetchPendingEmails(ctx, "user-1", 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, pending.ID, got[0].ID)
	})

	t.Run("UpdateEmailStatusLifecycle", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		email := &model.Email{UserID: "user-1", Content: "body"}
		require.NoError(t, s.CreateEmail(ctx, email))

		started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
		require.NoError(t, s.UpdateEmailStatus(ctx, email.ID, model.StatusUpdate{
			ProcessingStatus: model.StatusProcessing,
			ExtractionStatus: model.StatusProcessing,
			StartedAt:        &started,
			ClearError:       true,
		}))

		mid, err := s.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusProcessing, mid.ProcessingStatus)
		assert.Equal(t, model.StatusProcessing, mid.ExtractionStatus)
		require.NotNil(t, mid.StartedAt)
		assert.Nil(t, mid.CompletedAt)

		done := started.Add(2 * time.Second)
		extracted := 3
		require.NoError(t, s.UpdateEmailStatus(ctx, email.ID, model.StatusUpdate{
			ProcessingStatus: model.StatusCompleted,
			ExtractionStatus: model.StatusCompleted,
			CompletedAt:      &done,
			ExtractedCount:   &extracted,
		}))

		final, err := s.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusCompleted, final.ProcessingStatus)
		assert.Equal(t, 3, final.ExtractedCount)
		require.NotNil(t, final.CompletedAt)
	})

	t.Run("UpdateEmailStatusFailure", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		email := &model.Email{UserID: "user-1", Content: "body"}
		require.NoError(t, s.CreateEmail(ctx, email))

		msg := "extract mentions: model timeout"
		require.NoError(t, s.UpdateEmailStatus(ctx, email.ID, model.StatusUpdate{
			ProcessingStatus: model.StatusFailed,
			ExtractionStatus: model.StatusFailed,
			LastError:        &msg,
		}))

		got, err := s.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusFailed, got.ProcessingStatus)
		require.NotNil(t, got.LastError)
		assert.Equal(t, msg, *got.LastError)

		// A later run clears the stale error when it picks the email up again.
		require.NoError(t, s.UpdateEmailStatus(ctx, email.ID, model.StatusUpdate{
			ProcessingStatus: model.StatusProcessing,
			ExtractionStatus: model.StatusProcessing,
			ClearError:       true,
		}))
		got, err = s.GetEmail(ctx, email.ID)
		require.NoError(t, err)
		assert.Nil(t, got.LastError)
	})

	t.Run("UpdateEmailStatusNotFound", func(t *testing.T) {
		s := newStore(t)

		err := s.UpdateEmailStatus(context.Background(), "nonexistent-id", model.StatusUpdate{
			ProcessingStatus: model.StatusProcessing,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("UpdateEmailStatusEmpty", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		email := &model.Email{UserID: "user-1", Content: "body"}
		require.NoError(t, s.CreateEmail(ctx, email))

		err := s.UpdateEmailStatus(ctx, email.ID, model.StatusUpdate{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty status update")
	})

	t.Run("CountPending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			require.NoError(t, s.CreateEmail(ctx, &model.Email{UserID: "user-1", Content: "body"}))
		}
		require.NoError(t, s.CreateEmail(ctx, &model.Email{UserID: "user-2", Content: "body"}))

		n, err := s.CountPendingEmails(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		n, err = s.CountPendingEmails(ctx, "user-3")
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("RequeueFailed", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		failed := &model.Email{UserID: "user-1", Content: "body"}
		require.NoError(t, s.CreateEmail(ctx, failed))
		ok := &model.Email{UserID: "user-1", Content: "body"}
		require.NoError(t, s.CreateEmail(ctx, ok))

		msg := "boom"
		now := time.Now().UTC()
		require.NoError(t, s.UpdateEmailStatus(ctx, failed.ID, model.StatusUpdate{
			ProcessingStatus: model.StatusFailed,
			ExtractionStatus: model.StatusFailed,
			StartedAt:        &now,
			CompletedAt:      &now,
			LastError:        &msg,
		}))

		n, err := s.RequeueFailedEmails(ctx, "user-1")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := s.GetEmail(ctx, failed.ID)
		require.NoError(t, err)
		assert.Equal(t, model.StatusPending, got.ProcessingStatus)
		assert.Equal(t, model.StatusPending, got.ExtractionStatus)
		assert.Nil(t, got.StartedAt)
		assert.Nil(t, got.CompletedAt)
		assert.Nil(t, got.LastError)
	})

	t.Run("ListUsersWithPending", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateEmail(ctx, &model.Email{UserID: "user-1", Content: "a"}))
		require.NoError(t, s.CreateEmail(ctx, &model.Email{UserID: "user-1", Content: "b"}))
		require.NoError(t, s.CreateEmail(ctx, &model.Email{UserID: "user-2", Content: "c"}))

		users, err := s.ListUsersWithPending(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"user-1", "user-2"}, users)
	})

	t.Run("UpsertCompanyCreatesThenIncrements", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		first := &model.Company{
			UserID:         "user-1",
			Name:           "Acme Robotics",
			NormalizedSlug: "acme-robotics-1740000000",
			Description:    "Warehouse automation",
			IndustryTags:   []string{"robotics", "logistics"},
		}
		created, err := s.UpsertCompanyByName(ctx, first)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 1, first.MentionCount)

		second := &model.Company{
			UserID:         "user-1",
			Name:           "Acme Robotics",
			NormalizedSlug: "acme-robotics-1740000999",
			Description:    "Different description",
		}
		created, err = s.UpsertCompanyByName(ctx, second)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, 2, second.MentionCount)
		// The original record wins; only the counter and timestamp move.
		assert.Equal(t, "acme-robotics-1740000000", second.NormalizedSlug)
		assert.Equal(t, "Warehouse automation", second.Description)
	})

	t.Run("UpsertCompanyScopedPerUser", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		a := &model.Company{UserID: "user-1", Name: "Globex", NormalizedSlug: "globex-1"}
		created, err := s.UpsertCompanyByName(ctx, a)
		require.NoError(t, err)
		assert.True(t, created)

		b := &model.Company{UserID: "user-2", Name: "Globex", NormalizedSlug: "globex-2"}
		created, err = s.UpsertCompanyByName(ctx, b)
		require.NoError(t, err)
		assert.True(t, created)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("FindCompanyByName", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		c := &model.Company{UserID: "user-1", Name: "Initech", NormalizedSlug: "initech-1"}
		_, err := s.UpsertCompanyByName(ctx, c)
		require.NoError(t, err)

		got, err := s.FindCompanyByName(ctx, "user-1", "Initech")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, c.ID, got.ID)

		// Exact-name matching: a different casing is a different company.
		miss, err := s.FindCompanyByName(ctx, "user-1", "initech")
		require.NoError(t, err)
		assert.Nil(t, miss)
	})

	t.Run("ListCompanies", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, name := range []string{"Alpha", "Beta", "Gamma"} {
			_, err := s.UpsertCompanyByName(ctx, &model.Company{
				UserID:         "user-1",
				Name:           name,
				NormalizedSlug: name,
			})
			require.NoError(t, err)
		}
		_, err := s.UpsertCompanyByName(ctx, &model.Company{
			UserID:         "user-2",
			Name:           "Other",
			NormalizedSlug: "other",
		})
		require.NoError(t, err)

		got, err := s.ListCompanies(ctx, "user-1", 10)
		require.NoError(t, err)
		assert.Len(t, got, 3)

		limited, err := s.ListCompanies(ctx, "user-1", 2)
		require.NoError(t, err)
		assert.Len(t, limited, 2)
	})

	t.Run("InsertAndListMentions", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		email := &model.Email{UserID: "user-1", Content: "body"}
		require.NoError(t, s.CreateEmail(ctx, email))
		c := &model.Company{UserID: "user-1", Name: "Acme", NormalizedSlug: "acme-1"}
		_, err := s.UpsertCompanyByName(ctx, c)
		require.NoError(t, err)

		m := &model.Mention{
			CompanyID:  c.ID,
			EmailID:    email.ID,
			Context:    "Acme raised a Series B",
			Confidence: 0.9,
		}
		require.NoError(t, s.InsertMention(ctx, m))
		assert.NotEmpty(t, m.ID)
		assert.Equal(t, model.SentimentNeutral, m.Sentiment)

		got, err := s.ListMentions(ctx, c.ID, 10)
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Acme raised a Series B", got[0].Context)
		assert.InDelta(t, 0.9, got[0].Confidence, 0.001)
	})
}
