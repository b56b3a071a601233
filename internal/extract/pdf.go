package extract

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
)

type Config struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
	MaxPages  int    // pages read from the start of the document, default 3
}

// PDFExtractor pulls plain text from the first pages of a PDF.
type PDFExtractor struct {
	cfg    Config
	runner Runner
	logger *slog.Logger
}

func NewPDFExtractor(cfg Config, logger *slog.Logger) *PDFExtractor {
	return NewPDFExtractorWithRunner(cfg, execRunner{}, logger)
}

// NewPDFExtractorWithRunner is NewPDFExtractor with an explicit command runner.
func NewPDFExtractorWithRunner(cfg Config, runner Runner, logger *slog.Logger) *PDFExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	return &PDFExtractor{cfg: cfg, runner: runner, logger: logger}
}

// Text returns the text of the first MaxPages pages, one page per line block.
// Read failures are logged and yield "".
func (e *PDFExtractor) Text(ctx context.Context, path string) string {
	// pdftotext -f 1 -l N -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext,
		"-f", "1", "-l", strconv.Itoa(e.cfg.MaxPages),
		"-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		e.logger.Error("extract.pdf_read_error", "path", path, "error", err, "stderr", strings.TrimSpace(string(errb)))
		return ""
	}
	// pdftotext separates pages with a form feed
	pages := strings.Split(string(out), "\f")
	var b strings.Builder
	for _, p := range pages {
		if strings.TrimSpace(p) == "" {
			continue
		}
		b.WriteString(p)
		b.WriteString("\n")
	}
	text := b.String()
	e.logger.Debug("extract.pdf_ok", "path", path, "chars", len(text), "pages", len(pages))
	return text
}
