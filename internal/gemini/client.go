package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"doctriage/internal/domain"
)

const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Config for the Gemini REST client.
type Config struct {
	APIKey    string // if empty, falls back to env APIKeyEnv
	APIKeyEnv string // default GOOGLE_API_KEY
	BaseURL   string
	Timeout   time.Duration
	// EmbeddingModel is used by Embed, e.g. "text-embedding-004".
	EmbeddingModel string
}

// Client talks to the Generative Language REST API. It implements the
// classifier's generator, the agent's image describer and embedding.Embedder.
type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.APIKeyEnv == "" {
		cfg.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv(cfg.APIKeyEnv)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key: set gemini.api_key or env %s", cfg.APIKeyEnv)
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-004"
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        logger,
	}, nil
}

// GenerateRequest is one generateContent call.
type GenerateRequest struct {
	Model  string
	Prompt string
	// JSON asks the model for application/json output.
	JSON  bool
	Image *InlineImage
}

// InlineImage is an image sent alongside the prompt.
type InlineImage struct {
	MIMEType string
	Data     []byte
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type content struct {
	Parts []part `json:"parts"`
}

// Generate returns the concatenated text parts of the first candidate.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	parts := []part{{Text: req.Prompt}}
	if req.Image != nil {
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: req.Image.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(req.Image.Data),
		}})
	}
	body := map[string]any{
		"contents": []content{{Parts: parts}},
	}
	if req.JSON {
		body["generationConfig"] = map[string]any{"responseMimeType": "application/json"}
	}

	var out struct {
		Candidates []struct {
			Content      content `json:"content"`
			FinishReason string  `json:"finishReason"`
		} `json:"candidates"`
		PromptFeedback struct {
			BlockReason string `json:"blockReason"`
		} `json:"promptFeedback"`
	}
	endpoint := fmt.Sprintf("%s/%s:generateContent", c.cfg.BaseURL, modelPath(req.Model))
	if err := c.do(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return "", err
	}
	if len(out.Candidates) == 0 {
		if out.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("gemini: prompt blocked: %s", out.PromptFeedback.BlockReason)
		}
		return "", errors.New("gemini: no candidates in response")
	}
	var b strings.Builder
	for _, p := range out.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// TaskType maps an embedding intent onto the API's task type.
func TaskType(intent domain.Intent) string {
	if intent == domain.IntentQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// Name returns the identifier of this embedder implementation.
func (c *Client) Name() string { return "gemini" }

// Embed requests a single embedding for text with the configured model.
func (c *Client) Embed(ctx context.Context, text string, intent domain.Intent) ([]float32, error) {
	model := modelPath(c.cfg.EmbeddingModel)
	body := map[string]any{
		"model":    model,
		"content":  content{Parts: []part{{Text: text}}},
		"taskType": TaskType(intent),
	}
	var out struct {
		Embedding struct {
			Values []float32 `json:"values"`
		} `json:"embedding"`
	}
	endpoint := fmt.Sprintf("%s/%s:embedContent", c.cfg.BaseURL, model)
	if err := c.do(ctx, http.MethodPost, endpoint, body, &out); err != nil {
		return nil, err
	}
	if len(out.Embedding.Values) == 0 {
		return nil, errors.New("gemini: no embedding returned")
	}
	return out.Embedding.Values, nil
}

// ListModels returns the names of models that support generateContent.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	var names []string
	token := ""
	for {
		q := url.Values{"pageSize": {"100"}}
		if token != "" {
			q.Set("pageToken", token)
		}
		var out struct {
			Models []struct {
				Name                       string   `json:"name"`
				SupportedGenerationMethods []string `json:"supportedGenerationMethods"`
			} `json:"models"`
			NextPageToken string `json:"nextPageToken"`
		}
		if err := c.do(ctx, http.MethodGet, c.cfg.BaseURL+"/models?"+q.Encode(), nil, &out); err != nil {
			return names, err
		}
		for _, m := range out.Models {
			for _, method := range m.SupportedGenerationMethods {
				if method == "generateContent" {
					names = append(names, m.Name)
					break
				}
			}
		}
		if out.NextPageToken == "" {
			return names, nil
		}
		token = out.NextPageToken
	}
}

func modelPath(model string) string {
	if strings.HasPrefix(model, "models/") || strings.HasPrefix(model, "tunedModels/") {
		return model
	}
	return "models/" + model
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	reqID := uuid.New().String()
	start := time.Now()

	var rdr io.Reader
	size := 0
	if body != nil {
		bs, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		size = len(bs)
		rdr = bytes.NewReader(bs)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	c.log.Debug("gemini.http.request", "req_id", reqID, "method", method, "url", endpoint, "content_length", size)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("gemini.http.send_error", "req_id", reqID, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return err
	}
	defer func(Body io.ReadCloser) {
		if err := Body.Close(); err != nil {
			c.log.Warn("gemini.http.response_body_close_error", "req_id", reqID, "error", err)
		}
	}(resp.Body)

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	c.log.Debug("gemini.http.response",
		"req_id", reqID,
		"status", resp.StatusCode,
		"bytes", len(raw),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	if resp.StatusCode/100 != 2 {
		return newAPIError(resp.StatusCode, raw)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gemini response: %w", err)
	}
	return nil
}
