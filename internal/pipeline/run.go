// Package pipeline drives time-boxed, resumable extraction runs over a
// user's queue of pending emails.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/newsletter-worker/internal/config"
	"github.com/sells-group/newsletter-worker/internal/model"
	"github.com/sells-group/newsletter-worker/internal/progress"
	"github.com/sells-group/newsletter-worker/pkg/extract"
)

// allProcessedMessage is returned when a run drains the queue.
const allProcessedMessage = "All emails processed successfully"

// Store is the slice of the storage layer the run loop needs.
type Store interface {
	FetchPendingEmails(ctx context.Context, userID string, limit int) ([]model.Email, error)
	UpdateEmailStatus(ctx context.Context, id string, upd model.StatusUpdate) error
	CountPendingEmails(ctx context.Context, userID string) (int, error)
}

// EntityResolver persists one extracted entity as a company plus mention.
type EntityResolver interface {
	Resolve(ctx context.Context, userID string, entity extract.Entity, emailID string) error
}

// Params are the inputs to a single processing run.
type Params struct {
	UserID    string
	BatchSize int

	// Origin and ForwardHeaders come from the triggering HTTP request and are
	// replayed on the continuation request so it clears the same auth.
	Origin         string
	ForwardHeaders map[string]string
}

// Processor executes processing runs: fetch pending emails in batches,
// extract company mentions from each, and stop cleanly when the time budget
// runs out, scheduling a follow-up run for the remainder.
type Processor struct {
	store     Store
	extractor extract.Client
	resolver  EntityResolver
	publisher progress.Publisher
	scheduler Scheduler
	cfg       config.PipelineConfig

	newBudget func() *Budget
}

// NewProcessor wires a processor. A nil publisher or scheduler is replaced
// with a no-op so callers like the CLI can omit them.
func NewProcessor(store Store, extractor extract.Client, resolver EntityResolver,
	publisher progress.Publisher, scheduler Scheduler, cfg config.PipelineConfig) *Processor {
	if publisher == nil {
		publisher = progress.Noop{}
	}
	if scheduler == nil {
		scheduler = NoopScheduler{}
	}
	return &Processor{
		store:     store,
		extractor: extractor,
		resolver:  resolver,
		publisher: publisher,
		scheduler: scheduler,
		cfg:       cfg,
		newBudget: func() *Budget { return NewBudget(cfg.Budget()) },
	}
}

// ClampBatchSize normalizes a requested batch size into the configured range.
// Zero or negative requests get the default.
func ClampBatchSize(requested int, cfg config.PipelineConfig) int {
	if requested <= 0 {
		return cfg.DefaultBatchSize
	}
	if requested > cfg.MaxBatchSize {
		return cfg.MaxBatchSize
	}
	return requested
}

// Run processes the user's pending queue until it drains or the budget
// expires. It returns an error only when the first fetch fails and nothing
// was attempted; all later failures are isolated per item and reported in
// the result.
func (p *Processor) Run(ctx context.Context, params Params) (*model.ProcessResult, error) {
	batch := ClampBatchSize(params.BatchSize, p.cfg)
	budget := p.newBudget()
	res := &model.ProcessResult{Success: true, Errors: []string{}}

	zap.L().Info("starting processing run",
		zap.String("user_id", params.UserID),
		zap.Int("batch_size", batch))

	firstFetch := true
	for !budget.Expired() {
		emails, err := p.store.FetchPendingEmails(ctx, params.UserID, batch)
		if err != nil {
			if firstFetch {
				return nil, eris.Wrapf(err, "pipeline: fetch pending for user %s", params.UserID)
			}
			zap.L().Error("mid-run fetch failed, stopping early",
				zap.String("user_id", params.UserID), zap.Error(err))
			res.Errors = append(res.Errors, fmt.Sprintf("fetch: %v", err))
			break
		}
		firstFetch = false
		if len(emails) == 0 {
			break
		}

		advanced := 0
		stopped := false
		for i := range emails {
			if budget.Expired() {
				stopped = true
				break
			}
			if p.processOne(ctx, params.UserID, &emails[i], res) {
				advanced++
			}
		}
		if stopped {
			break
		}
		// Every item in the batch failed before reaching a terminal status,
		// so the next fetch would return the same rows. Bail out rather
		// than spin on them for the rest of the budget.
		if advanced == 0 {
			break
		}
	}

	remaining, err := p.store.CountPendingEmails(ctx, params.UserID)
	if err != nil {
		zap.L().Error("failed to count remaining emails",
			zap.String("user_id", params.UserID), zap.Error(err))
		res.Errors = append(res.Errors, fmt.Sprintf("count remaining: %v", err))
		remaining = 0
	}
	res.Remaining = remaining

	if remaining > 0 {
		next := batch
		if remaining < next {
			next = remaining
		}
		res.FollowUpTriggered = p.scheduler.Trigger(ctx, ContinuationRequest{
			UserID:         params.UserID,
			BatchSize:      next,
			Origin:         params.Origin,
			ForwardHeaders: params.ForwardHeaders,
		})
		res.Message = fmt.Sprintf("Processed %d emails, %d remaining", res.Processed, remaining)
	} else {
		res.Message = allProcessedMessage
	}

	p.publisher.Publish(ctx, progress.Event{
		Type:      progress.EventRunFinished,
		UserID:    params.UserID,
		Processed: res.Processed,
		Remaining: remaining,
	})

	zap.L().Info("processing run finished",
		zap.String("user_id", params.UserID),
		zap.Int("processed", res.Processed),
		zap.Int("companies", res.CompaniesExtracted),
		zap.Int("remaining", remaining),
		zap.Bool("follow_up", res.FollowUpTriggered),
		zap.Duration("elapsed", budget.Elapsed()))

	return res, nil
}

// processOne moves a single email through its lifecycle. It reports whether
// the email reached a terminal status; failures are recorded on the email
// and in the result, never returned.
func (p *Processor) processOne(ctx context.Context, userID string, email *model.Email, res *model.ProcessResult) bool {
	started := time.Now().UTC()
	err := p.store.UpdateEmailStatus(ctx, email.ID, model.StatusUpdate{
		ProcessingStatus: model.StatusProcessing,
		ExtractionStatus: model.StatusProcessing,
		StartedAt:        &started,
		ClearError:       true,
	})
	if err != nil {
		zap.L().Error("failed to mark email processing",
			zap.String("email_id", email.ID), zap.Error(err))
		res.Errors = append(res.Errors, itemError(email.ID, err))
		return false
	}

	content := selectContent(email)
	if len([]rune(content)) < p.cfg.MinContentChars {
		// Too short to contain anything worth extracting; complete it so it
		// never comes back around.
		if err := p.completeItem(ctx, email.ID, 0); err != nil {
			res.Errors = append(res.Errors, itemError(email.ID, err))
			return false
		}
		res.Processed++
		p.publisher.Publish(ctx, progress.Event{
			Type:    progress.EventItemSkipped,
			UserID:  userID,
			EmailID: email.ID,
			Subject: email.Subject,
		})
		return true
	}

	entities, err := p.extractor.ExtractMentions(ctx, content, email.Subject)
	if err != nil {
		p.failItem(ctx, userID, email, res, eris.Wrap(err, "extract mentions"))
		return true
	}

	resolved := 0
	for _, entity := range entities {
		if err := p.resolver.Resolve(ctx, userID, entity, email.ID); err != nil {
			p.failItem(ctx, userID, email, res, eris.Wrapf(err, "resolve %q", entity.Name))
			return true
		}
		resolved++
	}

	if err := p.completeItem(ctx, email.ID, resolved); err != nil {
		res.Errors = append(res.Errors, itemError(email.ID, err))
		return false
	}
	res.Processed++
	res.CompaniesExtracted += resolved

	p.publisher.Publish(ctx, progress.Event{
		Type:      progress.EventItemCompleted,
		UserID:    userID,
		EmailID:   email.ID,
		Subject:   email.Subject,
		Companies: resolved,
	})
	return true
}

func (p *Processor) completeItem(ctx context.Context, emailID string, extracted int) error {
	done := time.Now().UTC()
	return p.store.UpdateEmailStatus(ctx, emailID, model.StatusUpdate{
		ProcessingStatus: model.StatusCompleted,
		ExtractionStatus: model.StatusCompleted,
		CompletedAt:      &done,
		ExtractedCount:   &extracted,
	})
}

// failItem records a per-item failure without touching the rest of the run.
func (p *Processor) failItem(ctx context.Context, userID string, email *model.Email, res *model.ProcessResult, cause error) {
	msg := cause.Error()
	done := time.Now().UTC()
	err := p.store.UpdateEmailStatus(ctx, email.ID, model.StatusUpdate{
		ProcessingStatus: model.StatusFailed,
		ExtractionStatus: model.StatusFailed,
		CompletedAt:      &done,
		LastError:        &msg,
	})
	if err != nil {
		zap.L().Error("failed to mark email failed",
			zap.String("email_id", email.ID), zap.Error(err))
	}

	zap.L().Warn("email failed",
		zap.String("email_id", email.ID),
		zap.String("user_id", userID),
		zap.String("cause", msg))

	res.Processed++
	res.Errors = append(res.Errors, itemError(email.ID, cause))
	p.publisher.Publish(ctx, progress.Event{
		Type:    progress.EventItemFailed,
		UserID:  userID,
		EmailID: email.ID,
		Subject: email.Subject,
		Error:   msg,
	})
}

func itemError(emailID string, err error) string {
	return fmt.Sprintf("%s: %v", emailID, err)
}
