package model

import "time"

// Company is the canonical record for a company mentioned in a user's
// newsletters. Matching is by (user_id, exact name); NormalizedSlug is
// display-only and carries a timestamp suffix, so it is not a dedup key.
type Company struct {
	ID             string    `json:"id" db:"id"`
	UserID         string    `json:"user_id" db:"user_id"`
	Name           string    `json:"name" db:"name"`
	NormalizedSlug string    `json:"normalized_slug" db:"normalized_slug"`
	Description    string    `json:"description,omitempty" db:"description"`
	IndustryTags   []string  `json:"industry_tags,omitempty" db:"industry_tags"`
	MentionCount   int       `json:"mention_count" db:"mention_count"`
	FirstSeenAt    time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastUpdatedAt  time.Time `json:"last_updated_at" db:"last_updated_at"`
}

// Mention links a company to the email it was extracted from. Mentions are
// insert-only; there is no update or delete path in this subsystem.
type Mention struct {
	ID          string    `json:"id" db:"id"`
	CompanyID   string    `json:"company_id" db:"company_id"`
	EmailID     string    `json:"email_id" db:"email_id"`
	Context     string    `json:"context,omitempty" db:"context"`
	Sentiment   string    `json:"sentiment" db:"sentiment"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	ExtractedAt time.Time `json:"extracted_at" db:"extracted_at"`
}

// SentimentNeutral is the only sentiment the pipeline currently writes.
const SentimentNeutral = "neutral"
