package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/newsletter-worker/internal/model"
	"github.com/sells-group/newsletter-worker/internal/progress"
	"github.com/sells-group/newsletter-worker/pkg/extract"
)

// memStore is an in-memory Store for run loop tests.
type memStore struct {
	mu     sync.Mutex
	emails map[string]*model.Email

	fetchErr     error
	fetchErrOnce bool
	fetchCalls   int
}

func newMemStore() *memStore {
	return &memStore{emails: map[string]*model.Email{}}
}

func (m *memStore) add(e model.Email) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.ProcessingStatus == "" {
		e.ProcessingStatus = model.StatusPending
	}
	if e.ExtractionStatus == "" {
		e.ExtractionStatus = model.StatusPending
	}
	m.emails[e.ID] = &e
}

func (m *memStore) get(id string) model.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.emails[id]
}

func (m *memStore) FetchPendingEmails(ctx context.Context, userID string, limit int) ([]model.Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCalls++
	if m.fetchErr != nil {
		err := m.fetchErr
		if m.fetchErrOnce {
			m.fetchErr = nil
		}
		return nil, err
	}

	var out []model.Email
	for _, e := range m.emails {
		if e.UserID == userID && e.ProcessingStatus == model.StatusPending {
			out = append(out, *e)
		}
	}
	// Deterministic order by ID; recency ordering is the store's concern.
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) UpdateEmailStatus(ctx context.Context, id string, upd model.StatusUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.emails[id]
	if !ok {
		return eris.Errorf("email not found: %s", id)
	}
	if upd.ProcessingStatus != "" {
		e.ProcessingStatus = upd.ProcessingStatus
	}
	if upd.ExtractionStatus != "" {
		e.ExtractionStatus = upd.ExtractionStatus
	}
	if upd.StartedAt != nil {
		e.StartedAt = upd.StartedAt
	}
	if upd.CompletedAt != nil {
		e.CompletedAt = upd.CompletedAt
	}
	if upd.ExtractedCount != nil {
		e.ExtractedCount = *upd.ExtractedCount
	}
	if upd.LastError != nil {
		e.LastError = upd.LastError
	} else if upd.ClearError {
		e.LastError = nil
	}
	return nil
}

func (m *memStore) CountPendingEmails(ctx context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.emails {
		if e.UserID == userID && e.ProcessingStatus == model.StatusPending {
			n++
		}
	}
	return n, nil
}

// fakeExtractor returns canned entities, optionally failing for specific
// content, and can advance a fake clock per call.
type fakeExtractor struct {
	mu       sync.Mutex
	entities []extract.Entity
	failOn   string
	onCall   func()
	calls    int
}

func (f *fakeExtractor) ExtractMentions(ctx context.Context, content, sourceLabel string) ([]extract.Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.onCall != nil {
		f.onCall()
	}
	if f.failOn != "" && content == f.failOn {
		return nil, eris.New("model timeout")
	}
	return f.entities, nil
}

// fakeResolver records resolved entities.
type fakeResolver struct {
	mu       sync.Mutex
	resolved []extract.Entity
	err      error
}

func (f *fakeResolver) Resolve(ctx context.Context, userID string, entity extract.Entity, emailID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.resolved = append(f.resolved, entity)
	return nil
}

// capturePublisher records published events.
type capturePublisher struct {
	mu     sync.Mutex
	events []progress.Event
}

func (c *capturePublisher) Publish(ctx context.Context, ev progress.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *capturePublisher) Close() error { return nil }

func (c *capturePublisher) ofType(kind string) []progress.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []progress.Event
	for _, ev := range c.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

// captureScheduler records trigger requests and returns a fixed answer.
type captureScheduler struct {
	mu       sync.Mutex
	requests []ContinuationRequest
	accept   bool
}

func (c *captureScheduler) Trigger(ctx context.Context, req ContinuationRequest) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return c.accept
}
