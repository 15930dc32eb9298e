package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"newsdigest/internal/ports"
)

// ClientConfig describes the embedding inference endpoint.
type ClientConfig struct {
	Endpoint  string
	Model     string
	APIKey    string
	Dimension int
}

// Client calls an OpenAI-style embeddings endpoint and returns
// fixed-dimension vectors.
type Client struct {
	cfg  ClientConfig
	http *http.Client
}

var _ ports.Embedder = (*Client)(nil)

// NewClient builds a reusable embedder client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 384
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Dimension returns the configured vector length.
func (c *Client) Dimension() int {
	return c.cfg.Dimension
}

// Embed requests a vector for the text. The result is L2-normalized so
// dot products equal cosine similarity.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.cfg.Endpoint == "" {
		return nil, fmt.Errorf("embedding client misconfigured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text cannot be empty")
	}

	body, err := json.Marshal(map[string]any{
		"model": c.cfg.Model,
		"input": truncateForModel(text),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embedding payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var decoded struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}
	if len(decoded.Data) == 0 {
		return nil, fmt.Errorf("embedding response has no data")
	}

	vec := decoded.Data[0].Embedding
	if len(vec) != c.cfg.Dimension {
		return nil, fmt.Errorf("embedding dimension %d, want %d", len(vec), c.cfg.Dimension)
	}

	return normalize(vec), nil
}

// truncateForModel keeps inputs inside model token limits without
// splitting a rune at the cut.
func truncateForModel(text string) string {
	const maxChars = 8000
	if len(text) <= maxChars {
		return text
	}
	cut := maxChars
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	return text[:cut] + "..."
}

func normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}
	inv := 1.0 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, v := range vec {
		out[i] = float32(float64(v) * inv)
	}
	return out
}
