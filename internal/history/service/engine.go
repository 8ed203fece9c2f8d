package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	historydomain "github.com/smallbiznis/primerouter/internal/history/domain"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
)

// stageOrder is the order descendants are folded in. Stages missing here,
// such as batch, contribute nothing.
var stageOrder = []lineagedomain.TaskAction{
	lineagedomain.TaskActionProcess,
	lineagedomain.TaskActionSend,
	lineagedomain.TaskActionDownload,
}

// Engine folds a receive action and its descendants into a Submission.
// It performs no I/O.
type Engine struct {
	orgs historydomain.OrganizationLookup
}

func NewEngine(orgs historydomain.OrganizationLookup) *Engine {
	return &Engine{orgs: orgs}
}

// foldState is the accumulator threaded through every merge step.
type foldState struct {
	destinations []historydomain.Destination
	errors       []historydomain.Log
	warnings     []historydomain.Log
}

func (s foldState) clone() foldState {
	out := foldState{
		destinations: make([]historydomain.Destination, len(s.destinations)),
		errors:       append([]historydomain.Log(nil), s.errors...),
		warnings:     append([]historydomain.Log(nil), s.warnings...),
	}
	for i, d := range s.destinations {
		d.SentReports = append([]historydomain.Report(nil), d.SentReports...)
		d.DownloadedReports = append([]historydomain.Report(nil), d.DownloadedReports...)
		out.destinations[i] = d
	}
	return out
}

func (s foldState) find(org, svc string) int {
	for i, d := range s.destinations {
		if d.OrganizationID == org && d.Service == svc {
			return i
		}
	}
	return -1
}

type mergeFunc func(foldState, lineagedomain.ActionDetail) foldState

func (e *Engine) Build(root lineagedomain.ActionDetail, descendants []lineagedomain.ActionDetail) (*historydomain.Submission, error) {
	if root.Action.ActionName != lineagedomain.TaskActionReceive {
		return nil, fmt.Errorf("%w: action %d is %s, not receive", historydomain.ErrInvariantViolation, root.Action.ID, root.Action.ActionName)
	}

	sub, state, err := seed(root)
	if err != nil {
		return nil, err
	}

	merges := map[lineagedomain.TaskAction]mergeFunc{
		lineagedomain.TaskActionProcess:  mergeProcess,
		lineagedomain.TaskActionSend:     mergeSend,
		lineagedomain.TaskActionDownload: mergeDownload,
	}
	for _, d := range stageSorted(root.Action.ID, descendants) {
		state = merges[d.Action.ActionName](state, d)
	}

	for i := range state.destinations {
		d := &state.destinations[i]
		if e.orgs != nil {
			d.Organization = e.orgs.DisplayName(d.OrganizationID, d.Service)
		}
	}

	sub.Destinations = state.destinations
	sub.Errors = state.errors
	sub.Warnings = state.warnings
	sub.ErrorCount = len(state.errors)
	sub.WarningCount = len(state.warnings)
	summarize(sub)
	return sub, nil
}

// seed reads the sender-facing fields and the initial destinations from the
// receive action itself.
func seed(root lineagedomain.ActionDetail) (*historydomain.Submission, foldState, error) {
	action := root.Action
	sub := &historydomain.Submission{
		SubmissionID: action.ID,
		Timestamp:    action.CreatedAt,
		HTTPStatus:   action.HTTPStatus,
		ExternalName: action.ExternalName,
	}
	if action.SendingOrg != nil {
		sub.SendingOrg = *action.SendingOrg
	}

	state := foldState{}
	state.errors, state.warnings = splitLogs(root.Logs)
	rootHasErrors := len(state.errors) > 0

	inbound := 0
	for _, report := range root.Reports {
		if dest, ok := destinationFor(report, root.Logs); ok {
			state.destinations = append(state.destinations, dest)
		}
		if report.SendingOrg == nil {
			continue
		}
		inbound++
		if inbound > 1 {
			return nil, foldState{}, fmt.Errorf("%w: action %d has more than one inbound report", historydomain.ErrInvariantViolation, action.ID)
		}
		if !rootHasErrors {
			id := report.ReportID.String()
			sub.ID = &id
		}
		sub.ExternalName = report.ExternalName
		count := report.ItemCount
		sub.ReportItemCount = &count
		sub.SendingOrg = *report.SendingOrg
		client := ""
		if report.SendingOrgClient != nil {
			client = *report.SendingOrgClient
		}
		sub.Sender = *report.SendingOrg + "." + client
		sub.Topic = report.SchemaTopic
	}
	if sub.Sender == "" && action.SendingOrg != nil {
		client := ""
		if action.SendingOrgClient != nil {
			client = *action.SendingOrgClient
		}
		sub.Sender = *action.SendingOrg + "." + client
	}
	return sub, state, nil
}

// destinationFor builds a destination from a report addressed to a receiver,
// attaching the filter logs recorded against that report.
func destinationFor(report lineagedomain.Report, logs []lineagedomain.ActionLog) (historydomain.Destination, bool) {
	if report.ReceivingOrg == nil || report.ReceivingOrgSvc == nil {
		return historydomain.Destination{}, false
	}
	dest := historydomain.Destination{
		OrganizationID:            *report.ReceivingOrg,
		Service:                   *report.ReceivingOrgSvc,
		ItemCount:                 report.ItemCount,
		ItemCountBeforeQualFilter: report.ItemCountBeforeQualFilter,
		SendingAt:                 report.NextActionAt,
		FilteredReportRows:        []string{},
		FilteredReportItems:       []historydomain.FilterResult{},
		SentReports:               []historydomain.Report{},
		DownloadedReports:         []historydomain.Report{},
	}
	for _, entry := range logs {
		if entry.Type != lineagedomain.LogLevelFilter || entry.ReportID == nil || *entry.ReportID != report.ReportID {
			continue
		}
		detail := entry.Detail.Data()
		dest.FilteredReportRows = append(dest.FilteredReportRows, detail.Message)
		dest.FilteredReportItems = append(dest.FilteredReportItems, historydomain.FilterResult{
			FilterType:              detail.FilterType,
			FilterName:              detail.FilterName,
			FilteredTrackingElement: detail.FilteredTrackingElement,
			FilterArgs:              detail.FilterArgs,
			Message:                 detail.Message,
		})
	}
	return dest, true
}

// stageSorted drops the root, repeated action ids and stages that carry no
// history, then orders the rest by stage. Within a stage actions are ordered
// by creation time and id so the fold does not depend on input order.
func stageSorted(rootID int64, descendants []lineagedomain.ActionDetail) []lineagedomain.ActionDetail {
	rank := make(map[lineagedomain.TaskAction]int, len(stageOrder))
	for i, stage := range stageOrder {
		rank[stage] = i
	}

	seen := make(map[int64]bool, len(descendants))
	out := make([]lineagedomain.ActionDetail, 0, len(descendants))
	for _, d := range descendants {
		if d.Action.ID == rootID || seen[d.Action.ID] {
			continue
		}
		if _, ok := rank[d.Action.ActionName]; !ok {
			continue
		}
		seen[d.Action.ID] = true
		out = append(out, d)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].Action, out[j].Action
		if rank[a.ActionName] != rank[b.ActionName] {
			return rank[a.ActionName] < rank[b.ActionName]
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

func mergeProcess(state foldState, d lineagedomain.ActionDetail) foldState {
	next := state.clone()
	for _, report := range d.Reports {
		if dest, ok := destinationFor(report, d.Logs); ok {
			next.destinations = append(next.destinations, dest)
		}
	}
	errs, warns := splitLogs(d.Logs)
	next.errors = append(next.errors, errs...)
	next.warnings = append(next.warnings, warns...)
	return next
}

func mergeSend(state foldState, d lineagedomain.ActionDetail) foldState {
	next := state.clone()
	for _, report := range d.Reports {
		if report.ReceivingOrg == nil || report.ReceivingOrgSvc == nil {
			continue
		}
		if i := next.find(*report.ReceivingOrg, *report.ReceivingOrgSvc); i >= 0 {
			next.destinations[i].SentReports = append(next.destinations[i].SentReports, toReport(report))
			continue
		}
		next.destinations = append(next.destinations, bareDestination(report))
	}
	return next
}

func mergeDownload(state foldState, d lineagedomain.ActionDetail) foldState {
	next := state.clone()
	for _, report := range d.Reports {
		if report.ReceivingOrg == nil || report.ReceivingOrgSvc == nil {
			continue
		}
		i := next.find(*report.ReceivingOrg, *report.ReceivingOrgSvc)
		if i < 0 {
			next.destinations = append(next.destinations, bareDestination(report))
			i = len(next.destinations) - 1
		}
		next.destinations[i].DownloadedReports = append(next.destinations[i].DownloadedReports, toReport(report))
	}
	return next
}

// bareDestination is a destination first seen at delivery time. It has no
// filter results and no scheduled sending time.
func bareDestination(report lineagedomain.Report) historydomain.Destination {
	return historydomain.Destination{
		OrganizationID:            *report.ReceivingOrg,
		Service:                   *report.ReceivingOrgSvc,
		ItemCount:                 report.ItemCount,
		ItemCountBeforeQualFilter: report.ItemCountBeforeQualFilter,
		SentReports:               []historydomain.Report{},
		DownloadedReports:         []historydomain.Report{},
	}
}

func toReport(r lineagedomain.Report) historydomain.Report {
	return historydomain.Report{
		ReportID:                  r.ReportID,
		ReceivingOrg:              r.ReceivingOrg,
		ReceivingOrgSvc:           r.ReceivingOrgSvc,
		ExternalName:              r.ExternalName,
		ItemCount:                 r.ItemCount,
		ItemCountBeforeQualFilter: r.ItemCountBeforeQualFilter,
		NextActionAt:              r.NextActionAt,
		CreatedAt:                 r.CreatedAt,
	}
}

func splitLogs(logs []lineagedomain.ActionLog) (errs, warns []historydomain.Log) {
	errs, warns = []historydomain.Log{}, []historydomain.Log{}
	for _, entry := range logs {
		switch entry.Type {
		case lineagedomain.LogLevelError:
			errs = append(errs, toLog(entry))
		case lineagedomain.LogLevelWarning:
			warns = append(warns, toLog(entry))
		}
	}
	return errs, warns
}

func toLog(entry lineagedomain.ActionLog) historydomain.Log {
	detail := entry.Detail.Data()
	var reportID *uuid.UUID
	if entry.ReportID != nil {
		id := *entry.ReportID
		reportID = &id
	}
	return historydomain.Log{
		Scope:      string(entry.Scope),
		ReportID:   reportID,
		Index:      entry.Index,
		TrackingID: entry.TrackingID,
		Field:      detail.FieldName,
		Kind:       string(detail.Kind),
		Message:    detail.Message,
	}
}

// summarize derives the status fields once every stage has been merged.
func summarize(sub *historydomain.Submission) {
	var realDests []historydomain.Destination
	for _, d := range sub.Destinations {
		if d.Real() {
			realDests = append(realDests, d)
		}
	}
	sub.DestinationCount = len(realDests)
	sub.OverallStatus = status(sub.HTTPStatus, len(sub.Destinations), realDests)

	switch sub.OverallStatus {
	case historydomain.StatusError, historydomain.StatusReceived, historydomain.StatusNotDelivering:
		sub.PlannedCompletionAt = nil
	default:
		sub.PlannedCompletionAt = maxSendingAt(realDests)
	}

	sub.ActualCompletionAt = nil
	if sub.OverallStatus == historydomain.StatusDelivered {
		sub.ActualCompletionAt = maxDeliveredAt(realDests)
	}
}

func status(httpStatus, destinations int, realDests []historydomain.Destination) historydomain.Status {
	if httpStatus != 200 && httpStatus != 201 {
		return historydomain.StatusError
	}
	if destinations == 0 {
		return historydomain.StatusReceived
	}
	if len(realDests) == 0 {
		return historydomain.StatusNotDelivering
	}

	finished := 0
	for _, d := range realDests {
		if d.Finished() {
			finished++
		}
	}
	switch {
	case finished == len(realDests):
		return historydomain.StatusDelivered
	case finished > 0:
		return historydomain.StatusPartiallyDelivered
	default:
		return historydomain.StatusWaitingToDeliver
	}
}

func maxSendingAt(realDests []historydomain.Destination) *time.Time {
	var latest *time.Time
	for _, d := range realDests {
		if d.SendingAt == nil {
			continue
		}
		if latest == nil || d.SendingAt.After(*latest) {
			t := *d.SendingAt
			latest = &t
		}
	}
	return latest
}

// maxDeliveredAt picks the latest createdAt among sent and downloaded
// reports. Ties resolve to the first one seen.
func maxDeliveredAt(realDests []historydomain.Destination) *time.Time {
	var latest *time.Time
	consider := func(reports []historydomain.Report) {
		for _, r := range reports {
			if latest == nil || r.CreatedAt.After(*latest) {
				t := r.CreatedAt
				latest = &t
			}
		}
	}
	for _, d := range realDests {
		consider(d.SentReports)
		consider(d.DownloadedReports)
	}
	return latest
}
