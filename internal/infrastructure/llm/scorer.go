package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"newsdigest/internal/domain"
	"newsdigest/internal/ports"
)

const scorerSystemPrompt = `You analyze technology news articles. Respond with a single JSON object:
{"summary": "2-3 sentence summary", "relevance_score": 0-100, "categories": ["up to 5"], "key_points": ["up to 5"]}
Score how significant the article is for readers following AI and machine learning.`

// ScorerConfig describes the chat-completions endpoint used for scoring.
type ScorerConfig struct {
	Endpoint string
	Model    string
	APIKey   string
}

// Scorer implements ports.Analyzer backed by an OpenAI-compatible chat
// API. It is treated as slow and fallible: one retry, then the caller
// proceeds without enrichment.
type Scorer struct {
	cfg    ScorerConfig
	http   *http.Client
	logger *slog.Logger
}

var _ ports.Analyzer = (*Scorer)(nil)

// NewScorer builds a scorer from configuration.
func NewScorer(cfg ScorerConfig, logger *slog.Logger) *Scorer {
	return &Scorer{
		cfg:    cfg,
		http:   &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Score asks the model for relevance, categories, key points, and a
// summary of the candidate.
func (s *Scorer) Score(ctx context.Context, candidate domain.Candidate) (domain.Analysis, error) {
	if s.cfg.APIKey == "" || s.cfg.Endpoint == "" || s.cfg.Model == "" {
		return domain.Analysis{}, fmt.Errorf("scorer misconfigured")
	}

	input := buildScoringInput(candidate)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		analysis, err := s.scoreOnce(ctx, input)
		if err == nil {
			return analysis, nil
		}
		lastErr = err
		s.debug("scoring attempt failed", "attempt", attempt, "error", err)
	}
	return domain.Analysis{}, fmt.Errorf("score article: %w", lastErr)
}

func (s *Scorer) scoreOnce(ctx context.Context, input string) (domain.Analysis, error) {
	body, err := json.Marshal(map[string]any{
		"model": s.cfg.Model,
		"messages": []map[string]string{
			{"role": "system", "content": scorerSystemPrompt},
			{"role": "user", "content": input},
		},
	})
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return domain.Analysis{}, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return domain.Analysis{}, fmt.Errorf("scorer error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return domain.Analysis{}, fmt.Errorf("decode response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return domain.Analysis{}, fmt.Errorf("response has no choices")
	}

	return parseAnalysis(decoded.Choices[0].Message.Content)
}

func parseAnalysis(content string) (domain.Analysis, error) {
	content = strings.TrimSpace(content)
	// Models wrap JSON in fences often enough to strip them here.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed struct {
		Summary        string   `json:"summary"`
		RelevanceScore float64  `json:"relevance_score"`
		Categories     []string `json:"categories"`
		KeyPoints      []string `json:"key_points"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return domain.Analysis{}, fmt.Errorf("parse analysis JSON: %w", err)
	}

	if parsed.RelevanceScore < 0 {
		parsed.RelevanceScore = 0
	}
	if parsed.RelevanceScore > 100 {
		parsed.RelevanceScore = 100
	}
	if len(parsed.Categories) > 5 {
		parsed.Categories = parsed.Categories[:5]
	}
	if len(parsed.KeyPoints) > 5 {
		parsed.KeyPoints = parsed.KeyPoints[:5]
	}

	return domain.Analysis{
		Summary:        parsed.Summary,
		RelevanceScore: parsed.RelevanceScore,
		Categories:     parsed.Categories,
		KeyPoints:      parsed.KeyPoints,
	}, nil
}

func buildScoringInput(candidate domain.Candidate) string {
	content := candidate.Content
	if len(content) > 4000 {
		cut := 4000
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut] + "... [truncated]"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s", candidate.Source)
	if candidate.Author != "" {
		fmt.Fprintf(&b, " | Author: %s", candidate.Author)
	}
	fmt.Fprintf(&b, "\n\nTitle: %s\n\nContent: %s\n", candidate.Title, content)
	return b.String()
}

func (s *Scorer) debug(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, args...)
	}
}
