// Package company resolves extracted company mentions against the canonical
// company records for a user.
package company

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newsletter-worker/internal/model"
	"github.com/sells-group/newsletter-worker/pkg/extract"
)

// defaultConfidence is used when the adapter supplied no confidence score.
const defaultConfidence = 0.8

// CompanyStore defines the persistence operations the resolver needs.
type CompanyStore interface { //nolint:revive // stutters but mirrors the store naming
	UpsertCompanyByName(ctx context.Context, c *model.Company) (bool, error)
	InsertMention(ctx context.Context, m *model.Mention) error
}

// Resolver matches extracted entities to canonical company records and
// appends mention history.
type Resolver struct {
	store CompanyStore
}

// NewResolver creates a company resolver.
func NewResolver(store CompanyStore) *Resolver {
	return &Resolver{store: store}
}

// Resolve finds-or-creates the company for an extracted entity and records a
// mention linking it to the email it came from.
//
// Matching is by (userID, exact name). The lookup+insert is a single
// conditional upsert at the store layer, so two concurrent resolutions of the
// same new name cannot produce duplicate Company rows. Trivial name variants
// ("OpenAI" vs "OpenAI.") still create separate records; the slug is
// display-only and plays no part in matching.
func (r *Resolver) Resolve(ctx context.Context, userID string, entity extract.Entity, emailID string) error {
	name := strings.TrimSpace(entity.Name)
	if name == "" {
		return eris.New("company: entity name is required for resolve")
	}

	now := time.Now().UTC()
	record := &model.Company{
		UserID:         userID,
		Name:           name,
		NormalizedSlug: Slugify(name, now),
		Description:    entity.Description,
		IndustryTags:   []string(entity.IndustryTags),
		MentionCount:   1,
		FirstSeenAt:    now,
		LastUpdatedAt:  now,
	}

	created, err := r.store.UpsertCompanyByName(ctx, record)
	if err != nil {
		return eris.Wrap(err, "company: upsert")
	}

	if created {
		zap.L().Info("resolve: created new company",
			zap.String("name", name),
			zap.String("company_id", record.ID),
			zap.String("user_id", userID),
		)
	} else {
		zap.L().Debug("resolve: matched existing company",
			zap.String("name", name),
			zap.String("company_id", record.ID),
			zap.Int("mention_count", record.MentionCount),
		)
	}

	confidence := entity.Confidence
	if confidence <= 0 {
		confidence = defaultConfidence
	}

	mention := &model.Mention{
		CompanyID:   record.ID,
		EmailID:     emailID,
		Context:     entity.Context,
		Sentiment:   model.SentimentNeutral,
		Confidence:  confidence,
		ExtractedAt: now,
	}
	if err := r.store.InsertMention(ctx, mention); err != nil {
		return eris.Wrapf(err, "company: insert mention for %s", name)
	}

	return nil
}
