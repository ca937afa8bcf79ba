package service

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/uni-request-api/internal/models"
	appErrors "github.com/noah-isme/uni-request-api/pkg/errors"
	"github.com/noah-isme/uni-request-api/pkg/export"
)

// Supported export formats.
const (
	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
	ContentType() string
	Extension() string
}

// ExportFile is a rendered download.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ExportService renders the student request register.
type ExportService struct {
	renderers map[string]datasetRenderer
}

// NewExportService constructs an ExportService with the CSV and PDF renderers.
func NewExportService() *ExportService {
	return &ExportService{renderers: map[string]datasetRenderer{
		ExportFormatCSV: export.NewCSVExporter(),
		ExportFormatPDF: export.NewPDFExporter(),
	}}
}

var requestExportColumns = []export.Column{
	{Key: "id", Label: "ID", Weight: 0.6},
	{Key: "created_at", Label: "Submitted", Weight: 1.2},
	{Key: "student", Label: "Student", Weight: 1.6},
	{Key: "type", Label: "Type", Weight: 1},
	{Key: "category", Label: "Category", Weight: 1.3},
	{Key: "title", Label: "Title", Weight: 3},
	{Key: "priority", Label: "Priority", Weight: 0.9},
	{Key: "status", Label: "Status", Weight: 1},
	{Key: "assignee", Label: "Assignee", Weight: 1.6},
	{Key: "due_date", Label: "Due", Weight: 1.2},
}

// Export renders items in the requested format.
func (s *ExportService) Export(format string, items []models.StudentRequestDetail, generatedAt time.Time) (*ExportFile, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = ExportFormatCSV
	}
	renderer, ok := s.renderers[format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported export format %q", format))
	}
	body, err := renderer.Render(buildRequestDataset(items, generatedAt))
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{
		Filename:    fmt.Sprintf("student_requests_%s.%s", generatedAt.Format("20060102_150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func buildRequestDataset(items []models.StudentRequestDetail, generatedAt time.Time) export.Dataset {
	rows := make([]map[string]string, 0, len(items))
	for _, item := range items {
		assignee := "unassigned"
		if item.AssigneeName != nil {
			assignee = *item.AssigneeName
		}
		due := ""
		if item.DueDate != nil {
			due = item.DueDate.Format("2006-01-02")
		}
		rows = append(rows, map[string]string{
			"id":         strconv.FormatInt(item.ID, 10),
			"created_at": item.CreatedAt.Format("2006-01-02"),
			"student":    item.StudentName,
			"type":       string(item.Type),
			"category":   string(item.Category),
			"title":      item.Title,
			"priority":   string(item.Priority),
			"status":     string(item.Status),
			"assignee":   assignee,
			"due_date":   due,
		})
	}
	return export.Dataset{
		Title:   fmt.Sprintf("Student requests (%s)", generatedAt.Format("2006-01-02 15:04")),
		Columns: requestExportColumns,
		Rows:    rows,
	}
}
