package store

import (
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/newsletter-worker/internal/model"
)

// statusUpdateBuilder turns a StatusUpdate into an UPDATE builder. Returns an
// error when the update would set nothing.
func statusUpdateBuilder(builder sq.StatementBuilderType, upd model.StatusUpdate) (sq.UpdateBuilder, error) {
	b := builder.Update("emails")
	set := false

	if upd.ProcessingStatus != "" {
		b = b.Set("processing_status", string(upd.ProcessingStatus))
		set = true
	}
	if upd.ExtractionStatus != "" {
		b = b.Set("extraction_status", string(upd.ExtractionStatus))
		set = true
	}
	if upd.StartedAt != nil {
		b = b.Set("started_at", *upd.StartedAt)
		set = true
	}
	if upd.CompletedAt != nil {
		b = b.Set("completed_at", *upd.CompletedAt)
		set = true
	}
	if upd.ExtractedCount != nil {
		b = b.Set("extracted_count", *upd.ExtractedCount)
		set = true
	}
	switch {
	case upd.LastError != nil:
		b = b.Set("last_error", *upd.LastError)
		set = true
	case upd.ClearError:
		b = b.Set("last_error", nil)
		set = true
	}

	if !set {
		return b, eris.New("store: empty status update")
	}
	return b, nil
}

func fillEmailDefaults(e *model.Email) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.ProcessingStatus == "" {
		e.ProcessingStatus = model.StatusPending
	}
	if e.ExtractionStatus == "" {
		e.ExtractionStatus = model.StatusPending
	}
	if e.ReceivedAt.IsZero() {
		e.ReceivedAt = time.Now().UTC()
	}
}

func fillCompanyDefaults(c *model.Company) {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.MentionCount == 0 {
		c.MentionCount = 1
	}
	if c.FirstSeenAt.IsZero() {
		c.FirstSeenAt = now
	}
	if c.LastUpdatedAt.IsZero() {
		c.LastUpdatedAt = now
	}
	if c.IndustryTags == nil {
		c.IndustryTags = []string{}
	}
}

func fillMentionDefaults(m *model.Mention) {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Sentiment == "" {
		m.Sentiment = model.SentimentNeutral
	}
	if m.ExtractedAt.IsZero() {
		m.ExtractedAt = time.Now().UTC()
	}
}
