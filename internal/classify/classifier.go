package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"doctriage/internal/domain"
	"doctriage/internal/gemini"
)

// DefaultTopics is used when neither the caller nor the config supplies a list.
var DefaultTopics = []string{
	"Computer Vision",
	"NLP",
	"Image Deblurring",
	"Operating Systems",
	"Continual Learning",
	"Recommendation Systems",
}

// Candidate is one model to try, in priority order.
type Candidate struct {
	Model string
	// StructuredOutput is false for models that reject responseMimeType;
	// those still get the JSON instruction in the prompt.
	StructuredOutput bool
}

// DefaultCandidates mirrors the aliases the flash family has been published under.
var DefaultCandidates = []Candidate{
	{Model: "gemini-2.5-flash", StructuredOutput: true},
	{Model: "gemini-1.5-flash-latest", StructuredOutput: true},
	{Model: "gemini-1.5-flash-002", StructuredOutput: true},
}

// Generator is the subset of the Gemini client used for classification.
type Generator interface {
	Generate(ctx context.Context, req gemini.GenerateRequest) (string, error)
}

// ModelLister is optionally implemented by the generator; it is only used
// to print diagnostics when every candidate failed.
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Config struct {
	Candidates []Candidate
	// MaxRetries bounds restarts of the candidate list after a rate limit.
	MaxRetries int
	RetryDelay time.Duration
	// TextLimit truncates the text embedded in the prompt, in characters.
	TextLimit int
}

// Result describes how a category was obtained.
type Result struct {
	Category string
	// Model is empty when no candidate succeeded.
	Model    string
	Retries  int
	Fallback bool
}

type Classifier struct {
	cfg    Config
	gen    Generator
	sleep  SleepFunc
	logger *slog.Logger
}

func New(cfg Config, gen Generator, sleep SleepFunc, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.Candidates) == 0 {
		cfg.Candidates = DefaultCandidates
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Second
	}
	if cfg.TextLimit <= 0 {
		cfg.TextLimit = 5000
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Classifier{cfg: cfg, gen: gen, sleep: sleep, logger: logger}
}

// Classify asks the candidates in order for one category out of
// topics ∪ {Others}. Model-not-found errors move to the next candidate; a rate
// limit restarts the list after RetryDelay until MaxRetries is spent, then it
// is treated like any other failure. When nothing succeeds the result is Others.
// Only context cancellation is returned as an error.
func (c *Classifier) Classify(ctx context.Context, text string, topics []string) (Result, error) {
	if len(topics) == 0 {
		topics = DefaultTopics
	}
	prompt := BuildPrompt(text, topics, c.cfg.TextLimit)

	retries := 0
attempts:
	for {
		for _, cand := range c.cfg.Candidates {
			if err := ctx.Err(); err != nil {
				return Result{}, err
			}
			raw, err := c.gen.Generate(ctx, gemini.GenerateRequest{
				Model:  cand.Model,
				Prompt: prompt,
				JSON:   cand.StructuredOutput,
			})
			if err == nil {
				label, perr := parseResponse(raw)
				if perr == nil {
					category := Normalize(label, topics)
					c.logger.Info("classify.ok", "category", category, "raw_category", label, "model", cand.Model, "retries", retries)
					return Result{Category: category, Model: cand.Model, Retries: retries}, nil
				}
				err = perr
			}

			switch {
			case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
				return Result{}, err
			case errors.Is(err, gemini.ErrModelNotFound):
				c.logger.Debug("classify.model_not_found", "model", cand.Model)
				continue
			case errors.Is(err, gemini.ErrRateLimited) && retries < c.cfg.MaxRetries:
				retries++
				c.logger.Warn("classify.rate_limited",
					"model", cand.Model, "retry", retries, "max_retries", c.cfg.MaxRetries,
					"sleep_ms", c.cfg.RetryDelay.Milliseconds())
				if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
					return Result{}, err
				}
				continue attempts
			default:
				c.logger.Warn("classify.candidate_failed", "model", cand.Model, "error", err)
			}
		}
		break
	}

	c.logger.Error("classify.all_candidates_failed", "candidates", len(c.cfg.Candidates), "retries", retries)
	c.logAvailableModels(ctx)
	return Result{Category: domain.CategoryOthers, Retries: retries, Fallback: true}, nil
}

func (c *Classifier) logAvailableModels(ctx context.Context) {
	lister, ok := c.gen.(ModelLister)
	if !ok {
		return
	}
	models, err := lister.ListModels(ctx)
	if err != nil {
		c.logger.Debug("classify.list_models_failed", "error", err)
		return
	}
	for _, m := range models {
		c.logger.Info("classify.available_model", "model", m)
	}
}

// BuildPrompt renders the classification prompt. text is cut to limit characters.
func BuildPrompt(text string, topics []string, limit int) string {
	return fmt.Sprintf(
		`Classify this paper into ONE category: [%s, %s]. JSON: {"category": "Name"}. Text: %s`,
		strings.Join(topics, ", "), domain.CategoryOthers, Truncate(text, limit))
}

// Normalize maps a model label onto the matching topic, ignoring case and
// surrounding space. Empty labels and labels outside the list become Others.
func Normalize(label string, topics []string) string {
	label = strings.TrimSpace(label)
	if label == "" {
		return domain.CategoryOthers
	}
	for _, t := range topics {
		if strings.EqualFold(strings.TrimSpace(t), label) {
			return strings.TrimSpace(t)
		}
	}
	return domain.CategoryOthers
}

// ParseTopics splits a comma separated topic list, dropping empty entries.
func ParseTopics(s string) []string {
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// Truncate returns at most n characters of s.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Sleep is the default SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
