// Package report generates audit reports (JSON and CSV) over a bounded time window
// and optionally exports them to the archive backend with an integrity checksum.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/finvest-platform/audit-service/internal/crypto"
	"github.com/finvest-platform/audit-service/internal/db/models"
	"github.com/finvest-platform/audit-service/internal/db/repositories"
	"github.com/finvest-platform/audit-service/internal/storage"
	"github.com/finvest-platform/audit-service/pkg/checksum"
)

// ErrInvalidParams marks report requests rejected before any query runs. Handlers map
// it to 400.
var ErrInvalidParams = errors.New("invalid report parameters")

// ErrArchiveDisabled is returned by Export when no archive backend is configured.
var ErrArchiveDisabled = errors.New("archive backend not configured")

// maxReportRange bounds a single report window so exports stay a bounded size.
const maxReportRange = 366 * 24 * time.Hour

// pageSize is the repository page size used while draining the report window.
const pageSize = 1000

// Params describes one report request.
type Params struct {
	StartDate time.Time
	EndDate   time.Time

	EventType *models.EventType
	Severity  *models.Severity
	ActorID   *string
	IPAddress *string

	// Format is "json" or "csv".
	Format string
	// IncludeDetails adds old/new values and request context to each record.
	IncludeDetails bool
}

// Validate rejects empty or inverted windows, oversized ranges, and unknown formats.
func (p *Params) Validate() error {
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return fmt.Errorf("%w: start_date and end_date are required", ErrInvalidParams)
	}
	if !p.EndDate.After(p.StartDate) {
		return fmt.Errorf("%w: end_date must be after start_date", ErrInvalidParams)
	}
	if p.EndDate.Sub(p.StartDate) > maxReportRange {
		return fmt.Errorf("%w: report window exceeds %d days", ErrInvalidParams, int(maxReportRange.Hours()/24))
	}
	switch p.Format {
	case "json", "csv":
	case "":
		p.Format = "json"
	default:
		return fmt.Errorf("%w: unsupported format %q (must be 'json' or 'csv')", ErrInvalidParams, p.Format)
	}
	return nil
}

// Report is a rendered report ready to serve or export.
type Report struct {
	Filename    string
	ContentType string
	GeneratedAt time.Time
	TotalCount  int
	Data        []byte
}

// Generator renders reports from the audit trail.
type Generator struct {
	audits  *repositories.AuditRepository
	archive storage.Archive       // nil when archiving is disabled
	cipher  *crypto.ArchiveCipher // nil when exports are stored in the clear
	logger  *slog.Logger
}

// Option customizes a Generator.
type Option func(*Generator)

// WithCipher encrypts every exported report before it reaches the archive backend.
func WithCipher(c *crypto.ArchiveCipher) Option {
	return func(g *Generator) { g.cipher = c }
}

// NewGenerator creates a report generator. archive may be nil.
func NewGenerator(audits *repositories.AuditRepository, archive storage.Archive, logger *slog.Logger, opts ...Option) *Generator {
	g := &Generator{audits: audits, archive: archive, logger: logger}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate validates params, drains the matching audit entries, and renders them in
// the requested format.
func (g *Generator) Generate(ctx context.Context, p Params) (*Report, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	logs, err := g.collect(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to collect report data: %w", err)
	}

	now := time.Now().UTC()
	rep := &Report{
		GeneratedAt: now,
		TotalCount:  len(logs),
		Filename:    fmt.Sprintf("audit_report_%s.%s", now.Format("20060102_150405"), p.Format),
	}

	switch p.Format {
	case "csv":
		rep.ContentType = "text/csv"
		rep.Data, err = renderCSV(logs, p.IncludeDetails)
	default:
		rep.ContentType = "application/json"
		rep.Data, err = renderJSON(logs, now, p.IncludeDetails)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to render report: %w", err)
	}

	g.logger.Info("report generated",
		slog.String("format", p.Format),
		slog.Int("records", rep.TotalCount),
		slog.Time("start", p.StartDate),
		slog.Time("end", p.EndDate))

	return rep, nil
}

// Export writes a generated report to the archive backend under a year/month prefix
// and returns the stored path, size, and checksum.
func (g *Generator) Export(ctx context.Context, rep *Report) (*storage.StoreResult, error) {
	if g.archive == nil {
		return nil, ErrArchiveDisabled
	}

	data := rep.Data
	filename := rep.Filename
	if g.cipher != nil {
		sealed, err := g.cipher.Seal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt report: %w", err)
		}
		data = sealed
		filename += ".enc"
	}

	path := fmt.Sprintf("reports/%s/%s", rep.GeneratedAt.Format("2006/01"), filename)
	result, err := g.archive.Store(ctx, path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to export report: %w", err)
	}

	g.logger.Info("report exported",
		slog.String("path", result.Path),
		slog.Int64("size", result.Size),
		slog.String("checksum", result.Checksum))

	return result, nil
}

// collect pages through the repository until the window is drained.
func (g *Generator) collect(ctx context.Context, p Params) ([]*models.AuditLog, error) {
	filters := repositories.AuditFilters{
		StartDate: &p.StartDate,
		EndDate:   &p.EndDate,
		ActorID:   p.ActorID,
		IPAddress: p.IPAddress,
	}
	if p.EventType != nil {
		s := string(*p.EventType)
		filters.EventType = &s
	}
	if p.Severity != nil {
		s := string(*p.Severity)
		filters.Severity = &s
	}

	var logs []*models.AuditLog
	for offset := 0; ; offset += pageSize {
		page, total, err := g.audits.List(ctx, filters, pageSize, offset)
		if err != nil {
			return nil, err
		}
		logs = append(logs, page...)
		if len(logs) >= total || len(page) == 0 {
			return logs, nil
		}
	}
}

type reportRecord struct {
	ID          string                 `json:"id"`
	CreatedAt   time.Time              `json:"created_at"`
	EventType   models.EventType       `json:"event_type"`
	Severity    models.Severity        `json:"severity"`
	ActorID     *string                `json:"actor_id,omitempty"`
	SubjectKind *string                `json:"subject_kind,omitempty"`
	SubjectID   *string                `json:"subject_id,omitempty"`
	IPAddress   *string                `json:"ip_address,omitempty"`
	Description string                 `json:"description"`
	OldValues   map[string]interface{} `json:"old_values,omitempty"`
	NewValues   map[string]interface{} `json:"new_values,omitempty"`
	Context     map[string]interface{} `json:"context,omitempty"`
}

func renderJSON(logs []*models.AuditLog, generatedAt time.Time, includeDetails bool) ([]byte, error) {
	records := make([]reportRecord, 0, len(logs))
	for _, l := range logs {
		r := reportRecord{
			ID:          l.ID,
			CreatedAt:   l.CreatedAt,
			EventType:   l.EventType,
			Severity:    l.Severity,
			ActorID:     l.ActorID,
			SubjectKind: l.SubjectKind,
			SubjectID:   l.SubjectID,
			IPAddress:   l.IPAddress,
			Description: l.Description,
		}
		if includeDetails {
			r.OldValues = l.OldValues
			r.NewValues = l.NewValues
			r.Context = l.Context
		}
		records = append(records, r)
	}

	return json.MarshalIndent(map[string]interface{}{
		"report_generated_at": generatedAt,
		"total_records":       len(records),
		"data":                records,
	}, "", "  ")
}

func renderCSV(logs []*models.AuditLog, includeDetails bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	headers := []string{"timestamp", "event_type", "severity", "actor_id", "ip_address", "subject", "description"}
	if includeDetails {
		headers = append(headers, "old_values", "new_values", "context")
	}
	if err := w.Write(headers); err != nil {
		return nil, err
	}

	for _, l := range logs {
		row := []string{
			l.CreatedAt.UTC().Format(time.RFC3339),
			string(l.EventType),
			string(l.Severity),
			deref(l.ActorID),
			deref(l.IPAddress),
			l.Subject().String(),
			l.Description,
		}
		if includeDetails {
			row = append(row, jsonCell(l.OldValues), jsonCell(l.NewValues), jsonCell(l.Context))
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func jsonCell(m map[string]interface{}) string {
	if len(m) == 0 {
		return ""
	}
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(data)
}

// VerifyExport re-reads an exported report and checks it against the recorded
// checksum. Backs the report verification endpoint.
func (g *Generator) VerifyExport(ctx context.Context, path, expectedChecksum string) (bool, error) {
	if g.archive == nil {
		return false, ErrArchiveDisabled
	}

	r, err := g.archive.Open(ctx, path)
	if err != nil {
		return false, err
	}
	defer r.Close()

	return checksum.VerifySHA256(r, expectedChecksum)
}
