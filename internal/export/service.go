package export

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xuri/excelize/v2"

	"doctriage/internal/domain"
)

// RecordLister lists the records of one collection.
type RecordLister interface {
	Records(ctx context.Context, collection domain.Collection) ([]domain.Record, error)
}

// Service dumps the vector store collections into an XLSX workbook.
type Service struct {
	src    RecordLister
	logger *slog.Logger
}

func NewService(src RecordLister, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{src: src, logger: logger}
}

const (
	PapersSheet = "Papers"
	ImagesSheet = "Images"
)

// Workbook builds a workbook with one sheet per collection. Embeddings are not exported.
func (s *Service) Workbook(ctx context.Context) (*excelize.File, error) {
	start := time.Now()
	papers, err := s.src.Records(ctx, domain.Papers)
	if err != nil {
		return nil, fmt.Errorf("list papers: %w", err)
	}
	images, err := s.src.Records(ctx, domain.Images)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}

	f := excelize.NewFile()
	// NewFile starts with Sheet1; rename it instead of leaving it empty
	if err := f.SetSheetName("Sheet1", PapersSheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(ImagesSheet); err != nil {
		return nil, err
	}

	paperRows := make([][]any, 0, len(papers))
	for _, r := range papers {
		paperRows = append(paperRows, []any{r.ID, r.Category(), r.Source(), r.Document})
	}
	if err := writeSheet(f, PapersSheet, []string{"ID", "Category", "Source", "Snippet"}, paperRows); err != nil {
		return nil, err
	}

	imageRows := make([][]any, 0, len(images))
	for _, r := range images {
		imageRows = append(imageRows, []any{r.ID, r.Source(), r.Document})
	}
	if err := writeSheet(f, ImagesSheet, []string{"ID", "Source", "Description"}, imageRows); err != nil {
		return nil, err
	}

	idx, _ := f.GetSheetIndex(PapersSheet)
	f.SetActiveSheet(idx)

	s.logger.Info("export.workbook_built",
		"papers", len(papers),
		"images", len(images),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return f, nil
}

// WriteFile builds the workbook and saves it to path.
func (s *Service) WriteFile(ctx context.Context, path string) error {
	f, err := s.Workbook(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := f.Close(); err != nil {
			s.logger.Warn("export.close_error", "error", err)
		}
	}()
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheet string, headers []string, rows [][]any) error {
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return err
		}
	}
	for r, row := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, r+2)
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return err
		}
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		last, _ := excelize.CoordinatesToCellName(len(headers), 1)
		_ = f.SetCellStyle(sheet, "A1", last, style)
	}
	return nil
}
