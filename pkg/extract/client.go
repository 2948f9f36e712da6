// Package extract calls Claude to pull structured company mentions out of
// newsletter text.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/newsletter-worker/internal/resilience"
)

// Client defines the extraction operation used by the pipeline. The call may
// fail (timeout, quota, malformed response); callers treat any error as an
// extraction failure for the item and never retry within a run.
type Client interface {
	ExtractMentions(ctx context.Context, content, sourceLabel string) ([]Entity, error)
}

// Entity is one extracted company mention.
type Entity struct {
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	IndustryTags TagList `json:"industryTags,omitempty"`
	Context      string  `json:"context,omitempty"`
	Confidence   float64 `json:"confidence,omitempty"`
}

// TagList accepts either a single string or a list of strings from the model
// and normalizes to a list.
type TagList []string

// UnmarshalJSON implements the string-or-list coercion.
func (t *TagList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single == "" {
			*t = nil
		} else {
			*t = TagList{single}
		}
		return nil
	}
	return eris.Errorf("extract: industryTags is neither string nor list: %s", string(data))
}

// Config holds model selection and throttling for the extraction client.
type Config struct {
	Model             string
	MaxTokens         int64
	RequestsPerSecond float64
}

const systemText = "You are an analyst extracting company mentions from newsletter emails. " +
	"Return only valid JSON with the shape " +
	`{"entities": [{"name": string, "description": string, "industryTags": [string], "context": string, "confidence": number}]}. ` +
	"Include every distinct company mentioned; context is the sentence the mention appears in; confidence is 0.0-1.0. " +
	`If no companies are mentioned, return {"entities": []}.`

const promptTemplate = `Extract all company mentions from this newsletter email.

Source: %s

Email content:
%s`

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client  sdk.Client
	cfg     Config
	limiter *rate.Limiter
	retry   resilience.RetryConfig
}

// NewClient creates an extraction client backed by the SDK.
func NewClient(apiKey string, cfg Config) Client {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		retry:   resilience.DefaultRetryConfig(),
	}
}

// classifyAPIError marks rate limits and server-side failures as transient so
// the retry wrapper can take another pass at them.
func classifyAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.TransientStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return err
}

func (c *sdkClient) ExtractMentions(ctx context.Context, content, sourceLabel string) ([]Entity, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "extract: rate limit wait")
	}

	prompt := fmt.Sprintf(promptTemplate, sourceLabel, content)

	var msg *sdk.Message
	err := resilience.Do(ctx, c.retry, "anthropic.messages", func(ctx context.Context) error {
		var callErr error
		msg, callErr = c.client.Messages.New(ctx, sdk.MessageNewParams{
			Model:     sdk.Model(c.cfg.Model),
			MaxTokens: c.cfg.MaxTokens,
			System: []sdk.TextBlockParam{
				{Text: systemText},
			},
			Messages: []sdk.MessageParam{
				sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
			},
		})
		return classifyAPIError(callErr)
	})
	if err != nil {
		return nil, eris.Wrap(err, "extract: create message")
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	entities, err := ParseEntities(text.String())
	if err != nil {
		return nil, err
	}

	zap.L().Debug("extract: mentions extracted",
		zap.String("source", sourceLabel),
		zap.Int("entities", len(entities)),
		zap.Int64("input_tokens", msg.Usage.InputTokens),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	return entities, nil
}

// ParseEntities parses the model's JSON response into entities. Entities with
// an empty name are dropped.
func ParseEntities(text string) ([]Entity, error) {
	cleaned := cleanJSON(text)

	var resp struct {
		Entities []Entity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(cleaned), &resp); err != nil {
		return nil, eris.Wrap(err, "extract: parse response")
	}

	entities := resp.Entities[:0]
	for _, e := range resp.Entities {
		e.Name = strings.TrimSpace(e.Name)
		if e.Name == "" {
			continue
		}
		entities = append(entities, e)
	}
	return entities, nil
}

// cleanJSON strips markdown code fences and surrounding prose, keeping the
// outermost JSON object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		return text[start : end+1]
	}
	return text
}
