package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/primerouter/internal/dedup"
	ingestdomain "github.com/smallbiznis/primerouter/internal/ingest/domain"
	"github.com/smallbiznis/primerouter/internal/ingest/parser"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	"github.com/smallbiznis/primerouter/internal/settings"
	"gorm.io/datatypes"
)

const trackingColumn = "message_id"

func (s *Service) parseCovid(req ingestdomain.Request, actionLog *lineagedomain.ActionLogger) *submission {
	sub := &submission{kind: ingestdomain.KindCovid, req: req, bodyFormat: settings.FormatCSV}

	table, err := parser.ReadCSV(req.Content)
	if err != nil {
		actionLog.Error(lineagedomain.LogDetail{
			Kind:    lineagedomain.KindInvalidContent,
			Message: fmt.Sprintf("Unable to parse CSV content: %s", err),
		})
		return sub
	}

	header := append([]string(nil), table.Header...)
	var missing []string
	for name := range req.Defaults {
		if !contains(header, name) {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	header = append(header, missing...)

	for _, rec := range table.Records {
		if len(rec.Values) != len(table.Header) {
			actionLog.ItemError(rec.Index, "", lineagedomain.LogDetail{
				Kind:    lineagedomain.KindInvalidRow,
				Message: fmt.Sprintf("Row has %d columns, expected %d.", len(rec.Values), len(table.Header)),
			})
			continue
		}

		fields := table.Fields(rec)
		for name, value := range req.Defaults {
			if strings.TrimSpace(fields[name]) == "" {
				fields[name] = value
			}
		}
		tracking := strings.TrimSpace(fields[trackingColumn])

		for _, required := range req.Sender.RequiredFields {
			if strings.TrimSpace(fields[required]) == "" {
				actionLog.ItemWarning(rec.Index, tracking, lineagedomain.LogDetail{
					Kind:      lineagedomain.KindMissingField,
					Message:   fmt.Sprintf("Blank value for required field '%s'.", required),
					FieldName: required,
				})
			}
		}
		sub.rows = append(sub.rows, dedup.Row{Index: rec.Index, TrackingID: tracking, Fields: fields})
	}

	sub.itemCount = len(sub.rows)
	sub.render = func(keep map[int]bool) []byte {
		return renderCSV(header, sub.rows, keep)
	}
	sub.internalBody = sub.render(nil)
	return sub
}

// renderCSV writes rows under header. A nil keep writes every row.
func renderCSV(header []string, rows []dedup.Row, keep map[int]bool) []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(header)
	for _, row := range rows {
		if keep != nil && !keep[row.Index] {
			continue
		}
		values := make([]string, len(header))
		for i, name := range header {
			values[i] = row.Fields[name]
		}
		_ = w.Write(values)
	}
	w.Flush()
	return buf.Bytes()
}

// processAsync hands a copy of the received report to the process stage.
func (s *Service) processAsync(ctx context.Context, tx lineagedomain.Repository, sub *submission, out *outcome, now time.Time) error {
	req := sub.req
	info, err := s.blob.Upload(ctx, sub.internalBody)
	if err != nil {
		return fmt.Errorf("upload process body: %w", err)
	}

	child := copyReport(out.report, now)
	child.NextAction = lineagedomain.TaskActionProcess
	child.BodyURL = strPtr(info.URL)
	child.BlobDigest = info.Digest
	child.BodyFormat = string(sub.bodyFormat)

	if err := tx.CreateReports(ctx, []*lineagedomain.Report{child}); err != nil {
		return fmt.Errorf("create process report: %w", err)
	}
	if err := tx.CreateLineage(ctx, []*lineagedomain.ReportLineage{{
		ActionID:       out.action.ID,
		ParentReportID: out.report.ReportID,
		ChildReportID:  child.ReportID,
		CreatedAt:      now,
	}}); err != nil {
		return fmt.Errorf("create process lineage: %w", err)
	}

	task := newTask(child.ReportID, lineagedomain.TaskActionProcess, child.BodyFormat, info.URL, nil, req.Sender.SchemaName, lineagedomain.ProcessEvent{
		EventAction: lineagedomain.TaskActionProcess,
		ReportID:    child.ReportID,
		Options:     string(req.Options),
		Defaults:    req.Defaults,
		RouteTo:     req.RouteTo,
	}, nil, now)
	if err := tx.InsertTask(ctx, task); err != nil {
		return fmt.Errorf("insert process task: %w", err)
	}
	out.mode = "async"
	return nil
}

// copyReport derives a child of src. Only the inbound report carries the
// sending organization.
func copyReport(src *lineagedomain.Report, now time.Time) *lineagedomain.Report {
	child := *src
	child.ReportID = uuid.New()
	child.CreatedAt = now
	child.NextActionAt = nil
	child.SendingOrg = nil
	child.SendingOrgClient = nil
	return &child
}

func newTask(
	reportID uuid.UUID,
	next lineagedomain.TaskAction,
	format string,
	bodyURL string,
	receiver *string,
	schemaName string,
	event lineagedomain.ProcessEvent,
	at *time.Time,
	now time.Time,
) *lineagedomain.Task {
	event.At = at
	return &lineagedomain.Task{
		ReportID:     reportID,
		NextAction:   next,
		NextActionAt: at,
		BodyFormat:   format,
		BodyURL:      optionalStr(bodyURL),
		ReceiverName: receiver,
		SchemaName:   schemaName,
		ProcessEvent: datatypes.NewJSONType(event),
		CreatedAt:    now,
	}
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}
