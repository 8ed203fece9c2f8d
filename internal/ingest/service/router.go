package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	ingestdomain "github.com/smallbiznis/primerouter/internal/ingest/domain"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	"github.com/smallbiznis/primerouter/internal/settings"
)

// routeSync fans the received report out to every matching receiver as a
// batch-ready child report.
func (s *Service) routeSync(ctx context.Context, tx lineagedomain.Repository, sub *submission, out *outcome, actionLog *lineagedomain.ActionLogger, now time.Time) error {
	req := sub.req
	out.mode = "sync"

	switch req.Options {
	case ingestdomain.OptionValidatePayload, ingestdomain.OptionCheckConnections:
		return nil
	}

	receivers := s.receiversFor(req, actionLog)
	if len(receivers) == 0 {
		actionLog.Warning(lineagedomain.LogDetail{
			Kind:    lineagedomain.KindRouting,
			Message: fmt.Sprintf("No receivers found for topic %s.", req.Sender.Topic),
		})
		return nil
	}

	info, err := s.blob.Upload(ctx, sub.internalBody)
	if err != nil {
		return fmt.Errorf("upload routed body: %w", err)
	}

	reports := make([]*lineagedomain.Report, 0, len(receivers))
	edges := make([]*lineagedomain.ReportLineage, 0, len(receivers))
	tasks := make([]*lineagedomain.Task, 0, len(receivers))
	for _, receiver := range receivers {
		next := lineagedomain.TaskActionBatch
		at := now.Add(time.Duration(receiver.BatchDelayMinutes) * time.Minute)
		if req.Options == ingestdomain.OptionSendImmediately {
			at = now
		}
		if req.Options == ingestdomain.OptionSkipSend {
			next = lineagedomain.TaskActionNone
		}

		child := copyReport(out.report, now)
		child.NextAction = next
		child.NextActionAt = &at
		child.ReceivingOrg = strPtr(receiver.OrganizationName)
		child.ReceivingOrgSvc = strPtr(receiver.Name)
		child.BodyURL = strPtr(info.URL)
		child.BlobDigest = info.Digest
		if receiver.Format != "" {
			child.BodyFormat = string(receiver.Format)
		}
		reports = append(reports, child)
		edges = append(edges, &lineagedomain.ReportLineage{
			ActionID:       out.action.ID,
			ParentReportID: out.report.ReportID,
			ChildReportID:  child.ReportID,
			CreatedAt:      now,
		})

		if next == lineagedomain.TaskActionNone {
			continue
		}
		receiverName := receiver.FullName()
		tasks = append(tasks, newTask(child.ReportID, next, child.BodyFormat, info.URL, &receiverName, req.Sender.SchemaName, lineagedomain.ProcessEvent{
			EventAction: next,
			ReportID:    child.ReportID,
			Options:     string(req.Options),
		}, &at, now))
	}

	if err := tx.CreateReports(ctx, reports); err != nil {
		return fmt.Errorf("create routed reports: %w", err)
	}
	if err := tx.CreateLineage(ctx, edges); err != nil {
		return fmt.Errorf("create routed lineage: %w", err)
	}
	for _, task := range tasks {
		if err := tx.InsertTask(ctx, task); err != nil {
			return fmt.Errorf("insert batch task: %w", err)
		}
	}
	return nil
}

// receiversFor lists active receivers on the sender's topic, narrowed by
// routeTo when given. Unknown routeTo names become parameter warnings.
func (s *Service) receiversFor(req ingestdomain.Request, actionLog *lineagedomain.ActionLogger) []settings.Receiver {
	active := s.settings.ReceiversForTopic(req.Sender.Topic)
	if len(req.RouteTo) == 0 {
		return active
	}

	byName := make(map[string]settings.Receiver, len(active))
	for _, receiver := range active {
		byName[receiver.FullName()] = receiver
	}
	var selected []settings.Receiver
	seen := make(map[string]bool, len(req.RouteTo))
	for _, name := range req.RouteTo {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		receiver, ok := byName[name]
		if !ok {
			actionLog.ParameterWarning(lineagedomain.LogDetail{
				Kind:      lineagedomain.KindInvalidReceiver,
				Message:   fmt.Sprintf("Invalid receiver name: %s", name),
				FieldName: "routeTo",
			})
			continue
		}
		selected = append(selected, receiver)
	}
	return selected
}
