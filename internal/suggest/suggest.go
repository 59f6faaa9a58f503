// Package suggest proposes tags for a new task with the Anthropic Messages API.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	DefaultModel   = "claude-haiku-4-5"
	DefaultMaxTags = 3
	maxTokens      = 128
	maxTagLength   = 24
)

const systemPrompt = `You label tasks on a personal kanban board.
Reply with a JSON array of short lowercase tags (one or two words, hyphenated) that
categorise the task. Use at most %d tags. Reply with the array only.`

// Config configures a Suggester.
type Config struct {
	APIKey string
	// Model defaults to DefaultModel
	Model string
	// MaxTags defaults to DefaultMaxTags
	MaxTags int
	// BaseURL overrides the API endpoint (tests, proxies)
	BaseURL string
	Logger  *zap.Logger
}

// Suggester asks the model for tags.
type Suggester struct {
	client  anthropic.Client
	model   string
	maxTags int
	logger  *zap.Logger
}

// New returns a Suggester. An API key is required.
func New(cfg Config) (*Suggester, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("suggest: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	s := &Suggester{
		client:  anthropic.NewClient(opts...),
		model:   cfg.Model,
		maxTags: cfg.MaxTags,
		logger:  cfg.Logger,
	}
	if s.model == "" {
		s.model = DefaultModel
	}
	if s.maxTags <= 0 {
		s.maxTags = DefaultMaxTags
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s, nil
}

// SuggestTags returns up to MaxTags normalised tags for the task.
func (s *Suggester) SuggestTags(ctx context.Context, title, description string) ([]string, error) {
	prompt := "Title: " + title
	if strings.TrimSpace(description) != "" {
		prompt += "\nDescription: " + description
	}

	msg, err := s.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: fmt.Sprintf(systemPrompt, s.maxTags)}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}, option.WithMaxRetries(1))
	if err != nil {
		return nil, fmt.Errorf("failed to request tag suggestions: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	tags := ParseTags(text.String(), s.maxTags)
	s.logger.Debug("suggested tags", zap.String("title", title), zap.Strings("tags", tags))
	return tags, nil
}

// ParseTags reads a model reply as a JSON array of strings, or failing that
// as a comma or newline separated list, and normalises the tags: lowercase,
// spaces become hyphens, a leading '#' is dropped, duplicates and empty or
// overlong tags are removed. At most limit tags are returned.
func ParseTags(reply string, limit int) []string {
	reply = strings.TrimSpace(reply)
	var raw []string
	if start, end := strings.Index(reply, "["), strings.LastIndex(reply, "]"); start >= 0 && end > start {
		if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
			raw = nil
		}
	}
	if raw == nil {
		raw = strings.FieldsFunc(reply, func(r rune) bool { return r == ',' || r == '\n' })
	}

	tags := []string{}
	seen := map[string]bool{}
	for _, t := range raw {
		t = strings.ToLower(strings.TrimSpace(t))
		t = strings.Trim(t, `"'.-`)
		t = strings.TrimPrefix(t, "#")
		t = strings.Join(strings.Fields(t), "-")
		if t == "" || len(t) > maxTagLength || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
		if len(tags) == limit {
			break
		}
	}
	return tags
}
