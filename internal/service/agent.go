package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"doctriage/internal/classify"
	"doctriage/internal/domain"
	"doctriage/internal/embedding"
	"doctriage/internal/extract"
	"doctriage/internal/gemini"
	"doctriage/internal/vectorstore"
)

// ErrNotRegularFile rejects directories and other non-file paths before anything is moved.
var ErrNotRegularFile = errors.New("not a regular file")

// TextExtractor returns the usable text of a PDF, or "" when it cannot be read.
type TextExtractor interface {
	Text(ctx context.Context, path string) string
}

// Classifier picks a category for a document's text.
type Classifier interface {
	Classify(ctx context.Context, text string, topics []string) (classify.Result, error)
}

// Organizer files a document under its category and returns the new path.
type Organizer interface {
	Move(path, category string) string
}

// Describer generates text for an image prompt.
type Describer interface {
	Generate(ctx context.Context, req gemini.GenerateRequest) (string, error)
}

// ImageLoader reads an image from disk.
type ImageLoader func(path string) (extract.Image, error)

type Config struct {
	// Topics is the default topic list when AddPaper gets none.
	Topics []string
	// MinChars is the amount of trimmed text needed before classifying.
	MinChars int
	// SnippetChars bounds the text stored and embedded per paper.
	SnippetChars int
	ScanPause    time.Duration
	TopK         int
	VisionModel  string
	ImagePrompt  string
}

// Agent wires extraction, classification, filing, embedding and the vector
// store into the paper and image workflows.
type Agent struct {
	cfg        Config
	extractor  TextExtractor
	classifier Classifier
	organizer  Organizer
	embedder   embedding.Embedder
	store      vectorstore.Storage
	describer  Describer
	loadImage  ImageLoader
	sleep      classify.SleepFunc
	progress   io.Writer
	logger     *slog.Logger
}

// Deps groups the collaborators of an Agent.
type Deps struct {
	Extractor  TextExtractor
	Classifier Classifier
	Organizer  Organizer
	Embedder   embedding.Embedder
	Store      vectorstore.Storage
	Describer  Describer
	LoadImage  ImageLoader
	Sleep      classify.SleepFunc
	// Progress receives the scan progress bar; nil disables it.
	Progress io.Writer
	Logger   *slog.Logger
}

func NewAgent(cfg Config, d Deps) *Agent {
	if cfg.MinChars <= 0 {
		cfg.MinChars = 50
	}
	if cfg.SnippetChars <= 0 {
		cfg.SnippetChars = 3000
	}
	if cfg.TopK <= 0 {
		cfg.TopK = vectorstore.DefaultTopK
	}
	if cfg.VisionModel == "" {
		cfg.VisionModel = "gemini-2.5-flash"
	}
	if cfg.ImagePrompt == "" {
		cfg.ImagePrompt = "Describe this image for semantic search."
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Sleep == nil {
		d.Sleep = classify.Sleep
	}
	if d.LoadImage == nil {
		d.LoadImage = extract.LoadImage
	}
	return &Agent{
		cfg:        cfg,
		extractor:  d.Extractor,
		classifier: d.Classifier,
		organizer:  d.Organizer,
		embedder:   d.Embedder,
		store:      d.Store,
		describer:  d.Describer,
		loadImage:  d.LoadImage,
		sleep:      d.Sleep,
		progress:   d.Progress,
		logger:     d.Logger,
	}
}

// PaperOutcome reports what happened to one PDF.
type PaperOutcome struct {
	Source     string `json:"source"`
	Path       string `json:"path"`
	Category   string `json:"category"`
	Model      string `json:"model,omitempty"`
	Classified bool   `json:"classified"`
	Moved      bool   `json:"moved"`
	Indexed    bool   `json:"indexed"`
}

// AddPaper extracts, classifies, files and indexes one PDF. Failures after
// the file was found are logged and degrade to defaults; the returned error is
// non-nil only for a missing or non-regular path or a cancelled context.
func (a *Agent) AddPaper(ctx context.Context, path string, topics []string) (PaperOutcome, error) {
	out := PaperOutcome{Source: path, Path: path, Category: domain.CategoryUncategorized}
	info, err := os.Stat(path)
	if err != nil {
		return out, fmt.Errorf("add paper: %w", err)
	}
	if !info.Mode().IsRegular() {
		return out, fmt.Errorf("add paper %s: %w", path, ErrNotRegularFile)
	}
	if len(topics) == 0 {
		topics = a.cfg.Topics
	}
	a.logger.Info("paper.processing", "file", filepath.Base(path))

	text := a.extractor.Text(ctx, path)
	if utf8.RuneCountInString(strings.TrimSpace(text)) >= a.cfg.MinChars {
		res, err := a.classifier.Classify(ctx, text, topics)
		if err != nil {
			return out, err
		}
		out.Category = res.Category
		out.Model = res.Model
		out.Classified = !res.Fallback
	} else {
		a.logger.Warn("paper.no_usable_text", "file", filepath.Base(path), "chars", utf8.RuneCountInString(strings.TrimSpace(text)))
	}

	out.Path = a.organizer.Move(path, out.Category)
	out.Moved = out.Path != path

	snippet := classify.Truncate(text, a.cfg.SnippetChars)
	if strings.TrimSpace(snippet) == "" {
		a.logger.Warn("paper.not_indexed", "file", filepath.Base(out.Path), "reason", "no text")
		return out, nil
	}
	vec, err := a.embedder.Embed(ctx, snippet, domain.IntentDocument)
	if err != nil {
		a.logger.Error("paper.embedding_error", "file", filepath.Base(out.Path), "error", err)
		return out, ctx.Err()
	}
	id := out.Path
	if abs, err := filepath.Abs(out.Path); err == nil {
		id = abs
	}
	rec := domain.NewPaperRecord(id, snippet, out.Category, vec)
	if err := a.store.Upsert(ctx, domain.Papers, []domain.Record{rec}); err != nil {
		a.logger.Error("paper.index_error", "file", filepath.Base(out.Path), "error", err)
		return out, ctx.Err()
	}
	out.Indexed = true
	a.logger.Info("paper.indexed", "id", id, "category", out.Category)
	return out, nil
}

// ScanStats summarises a directory scan.
type ScanStats struct {
	Found   int `json:"found"`
	Indexed int `json:"indexed"`
	Failed  int `json:"failed"`
}

// CollectPDFs walks root and returns every file with a .pdf extension.
func CollectPDFs(root string) ([]string, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("root path is required")
	}
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".pdf") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return files, fmt.Errorf("walk: %w", err)
	}
	return files, nil
}

// ScanDir ingests every PDF under root one at a time, pausing ScanPause
// between files. Individual failures are counted, not returned.
func (a *Agent) ScanDir(ctx context.Context, root string) (ScanStats, error) {
	a.logger.Info("scan.start", "root", root)
	files, err := CollectPDFs(root)
	if err != nil {
		return ScanStats{}, err
	}
	stats := ScanStats{Found: len(files)}
	if len(files) == 0 {
		return stats, nil
	}

	var p *mpb.Progress
	var bar *mpb.Bar
	if a.progress != nil {
		p = mpb.NewWithContext(ctx, mpb.WithOutput(a.progress), mpb.WithWidth(60))
		bar = p.AddBar(int64(len(files)),
			mpb.PrependDecorators(
				decor.Name("Scanning PDFs: "),
				decor.CountersNoUnit("%d/%d", decor.WCSyncSpace),
			),
			mpb.AppendDecorators(
				decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "done!"),
			),
		)
		defer p.Wait()
	}

	for i, path := range files {
		out, err := a.AddPaper(ctx, path, nil)
		if bar != nil {
			bar.Increment()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			if bar != nil {
				bar.Abort(false)
			}
			return stats, ctxErr
		}
		switch {
		case err != nil:
			stats.Failed++
			a.logger.Error("scan.item_failed", "path", path, "error", err)
		case out.Indexed:
			stats.Indexed++
		default:
			stats.Failed++
		}
		if i < len(files)-1 && a.cfg.ScanPause > 0 {
			a.logger.Info("scan.cooldown", "pause_ms", a.cfg.ScanPause.Milliseconds(), "done", i+1, "total", len(files))
			if err := a.sleep(ctx, a.cfg.ScanPause); err != nil {
				if bar != nil {
					bar.Abort(false)
				}
				return stats, err
			}
		}
	}
	a.logger.Info("scan.done", "found", stats.Found, "indexed", stats.Indexed, "failed", stats.Failed)
	return stats, nil
}

// Search embeds query with query intent and returns the nearest records of
// collection. A failed embedding yields no results and no error.
func (a *Agent) Search(ctx context.Context, collection domain.Collection, query string) ([]domain.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	vec, err := a.embedder.Embed(ctx, query, domain.IntentQuery)
	if err != nil {
		a.logger.Error("search.embedding_error", "collection", collection, "error", err)
		return nil, nil
	}
	if vectorstore.IsZero(vec) {
		a.logger.Warn("search.empty_embedding", "collection", collection, "query", query)
		return nil, nil
	}
	res, err := a.store.Search(ctx, collection, vec, a.cfg.TopK)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", collection, err)
	}
	return res, nil
}

// ImageOutcome reports what happened to one image.
type ImageOutcome struct {
	Path        string `json:"path"`
	Description string `json:"description"`
	Indexed     bool   `json:"indexed"`
}

// AddImage describes an image with the vision model and indexes the description.
func (a *Agent) AddImage(ctx context.Context, path string) (ImageOutcome, error) {
	out := ImageOutcome{Path: path}
	a.logger.Info("image.analyzing", "path", path)
	img, err := a.loadImage(path)
	if err != nil {
		return out, fmt.Errorf("load image: %w", err)
	}
	if a.describer == nil {
		return out, errors.New("no image describer configured")
	}
	desc, err := a.describer.Generate(ctx, gemini.GenerateRequest{
		Model:  a.cfg.VisionModel,
		Prompt: a.cfg.ImagePrompt,
		Image:  &gemini.InlineImage{MIMEType: img.MIMEType, Data: img.Data},
	})
	if err != nil {
		return out, fmt.Errorf("describe image: %w", err)
	}
	out.Description = strings.TrimSpace(desc)
	if out.Description == "" {
		return out, errors.New("describe image: empty description")
	}
	vec, err := a.embedder.Embed(ctx, out.Description, domain.IntentDocument)
	if err != nil {
		a.logger.Error("image.embedding_error", "path", path, "error", err)
		return out, nil
	}
	if err := a.store.Upsert(ctx, domain.Images, []domain.Record{domain.NewImageRecord(path, out.Description, vec)}); err != nil {
		return out, fmt.Errorf("index image: %w", err)
	}
	out.Indexed = true
	a.logger.Info("image.indexed", "path", path, "description", classify.Truncate(out.Description, 50))
	return out, nil
}

// Records lists everything stored in collection.
func (a *Agent) Records(ctx context.Context, collection domain.Collection) ([]domain.Record, error) {
	return a.store.List(ctx, collection)
}
