package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-quiz/internal/model"
	"github.com/stemsi/exstem-quiz/internal/response"
	"github.com/xuri/excelize/v2"
)

// exportHeader is shared by the CSV and XLSX exports.
var exportHeader = []string{"Name", "School", "Score", "Total Questions", "Time Spent (seconds)", "Date"}

const exportSheet = "Responses"

// ResponseLister reads stored results.
type ResponseLister interface {
	List(ctx context.Context, q model.ListResponsesQuery) ([]model.Response, int, error)
	ListAll(ctx context.Context, q model.ListResponsesQuery) ([]model.Response, error)
}

// ResponseService serves the admin results listing and exports.
type ResponseService struct {
	repo ResponseLister
	log  zerolog.Logger
}

// NewResponseService creates a new ResponseService.
func NewResponseService(repo ResponseLister, log zerolog.Logger) *ResponseService {
	return &ResponseService{
		repo: repo,
		log:  log.With().Str("component", "response_service").Logger(),
	}
}

// List returns one page of stored results, newest first unless q says otherwise.
func (s *ResponseService) List(ctx context.Context, q model.ListResponsesQuery) ([]model.Response, *response.Pagination, error) {
	q.Normalize()
	items, total, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("list responses: %w", err)
	}
	return items, response.NewPagination(q.Page, q.PerPage, total), nil
}

// ExportCSV writes every result matching q as CSV.
func (s *ResponseService) ExportCSV(ctx context.Context, q model.ListResponsesQuery, w io.Writer) (int, error) {
	q.Normalize()
	items, err := s.repo.ListAll(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("list responses: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(exportHeader); err != nil {
		return 0, err
	}
	for _, r := range items {
		if err := cw.Write(exportRow(r)); err != nil {
			return 0, err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("write csv: %w", err)
	}

	s.log.Info().Int("rows", len(items)).Str("search", q.Search).Msg("CSV export")
	return len(items), nil
}

// ExportXLSX writes every result matching q as a single-sheet workbook.
func (s *ResponseService) ExportXLSX(ctx context.Context, q model.ListResponsesQuery, w io.Writer) (int, error) {
	q.Normalize()
	items, err := s.repo.ListAll(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("list responses: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return 0, fmt.Errorf("rename sheet: %w", err)
	}

	header := make([]interface{}, len(exportHeader))
	for i, h := range exportHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(exportSheet, "A1", &header); err != nil {
		return 0, fmt.Errorf("write header: %w", err)
	}

	for i, r := range items {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return 0, err
		}
		row := []interface{}{
			r.FullName,
			r.SchoolName,
			r.Score,
			r.TotalQuestions,
			r.TimeSpentSeconds,
			r.CreatedAt.Format(time.DateOnly),
		}
		if err := f.SetSheetRow(exportSheet, cell, &row); err != nil {
			return 0, fmt.Errorf("write row %d: %w", i+2, err)
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return 0, fmt.Errorf("write xlsx: %w", err)
	}

	s.log.Info().Int("rows", len(items)).Str("search", q.Search).Msg("XLSX export")
	return len(items), nil
}

// ExportFileName returns the download name for an export created at now.
func ExportFileName(ext string, now time.Time) string {
	return fmt.Sprintf("exam-responses-%s.%s", now.Format(time.DateOnly), ext)
}

func exportRow(r model.Response) []string {
	return []string{
		r.FullName,
		r.SchoolName,
		strconv.Itoa(r.Score),
		strconv.Itoa(r.TotalQuestions),
		strconv.Itoa(r.TimeSpentSeconds),
		r.CreatedAt.Format(time.DateOnly),
	}
}
