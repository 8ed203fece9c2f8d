package service

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	historydomain "github.com/smallbiznis/primerouter/internal/history/domain"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

var base = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type staticOrgs map[string]string

func (s staticOrgs) DisplayName(org, svc string) string { return s[org+"."+svc] }

func ptr[T any](v T) *T { return &v }

func action(id int64, name lineagedomain.TaskAction, status int, at time.Time) lineagedomain.Action {
	return lineagedomain.Action{ID: id, ActionName: name, HTTPStatus: status, CreatedAt: at}
}

func inbound(items int) lineagedomain.Report {
	return lineagedomain.Report{
		ReportID:         uuid.New(),
		SendingOrg:       ptr("simple_report"),
		SendingOrgClient: ptr("default"),
		SchemaTopic:      "covid-19",
		ExternalName:     ptr("upload.csv"),
		ItemCount:        items,
		CreatedAt:        base,
	}
}

func outbound(org, svc string, items int, at time.Time) lineagedomain.Report {
	return lineagedomain.Report{
		ReportID:        uuid.New(),
		ReceivingOrg:    ptr(org),
		ReceivingOrgSvc: ptr(svc),
		ItemCount:       items,
		CreatedAt:       at,
	}
}

func scheduled(r lineagedomain.Report, at time.Time) lineagedomain.Report {
	r.NextActionAt = &at
	return r
}

func logEntry(level lineagedomain.LogLevel, scope lineagedomain.LogScope, reportID *uuid.UUID, detail lineagedomain.LogDetail) lineagedomain.ActionLog {
	return lineagedomain.ActionLog{Type: level, Scope: scope, ReportID: reportID, Detail: datatypes.NewJSONType(detail)}
}

func rootDetail(status int, reports ...lineagedomain.Report) lineagedomain.ActionDetail {
	a := action(1, lineagedomain.TaskActionReceive, status, base)
	a.SendingOrg = ptr("simple_report")
	a.SendingOrgClient = ptr("default")
	return lineagedomain.ActionDetail{Action: a, Reports: reports}
}

func TestBuildReceivedWithoutDestinations(t *testing.T) {
	root := rootDetail(200, inbound(3))

	sub, err := NewEngine(nil).Build(root, nil)
	require.NoError(t, err)

	assert.Equal(t, historydomain.StatusReceived, sub.OverallStatus)
	assert.Nil(t, sub.PlannedCompletionAt)
	assert.Nil(t, sub.ActualCompletionAt)
	assert.Equal(t, "simple_report.default", sub.Sender)
	assert.Equal(t, "covid-19", sub.Topic)
	require.NotNil(t, sub.ReportItemCount)
	assert.Equal(t, 3, *sub.ReportItemCount)
	require.NotNil(t, sub.ID)
	assert.Equal(t, root.Reports[0].ReportID.String(), *sub.ID)
	assert.Equal(t, "simple_report", sub.SendingOrg)
}

func TestBuildDeliveredBySend(t *testing.T) {
	sendAt := base.Add(2 * time.Hour)
	root := rootDetail(201, inbound(10), scheduled(outbound("co-phd", "elr", 10, base), base.Add(time.Hour)))
	send := lineagedomain.ActionDetail{
		Action:  action(5, lineagedomain.TaskActionSend, 200, sendAt),
		Reports: []lineagedomain.Report{outbound("co-phd", "elr", 10, sendAt)},
	}

	sub, err := NewEngine(staticOrgs{"co-phd.elr": "Colorado PHD"}).Build(root, []lineagedomain.ActionDetail{send})
	require.NoError(t, err)

	assert.Equal(t, historydomain.StatusDelivered, sub.OverallStatus)
	require.NotNil(t, sub.ActualCompletionAt)
	assert.True(t, sub.ActualCompletionAt.Equal(sendAt))
	require.NotNil(t, sub.PlannedCompletionAt)
	assert.True(t, sub.PlannedCompletionAt.Equal(base.Add(time.Hour)))
	require.Len(t, sub.Destinations, 1)
	assert.Equal(t, "Colorado PHD", sub.Destinations[0].Organization)
	assert.Len(t, sub.Destinations[0].SentReports, 1)
	assert.Equal(t, 1, sub.DestinationCount)
}

func TestBuildStatus(t *testing.T) {
	later := base.Add(time.Hour)
	tests := []struct {
		name        string
		status      int
		reports     []lineagedomain.Report
		descendants []lineagedomain.ActionDetail
		want        historydomain.Status
		wantCount   int
		wantPlanned bool
	}{
		{
			name:    "failed receive",
			status:  400,
			reports: []lineagedomain.Report{scheduled(outbound("co-phd", "elr", 4, base), later)},
			want:    historydomain.StatusError, wantCount: 1,
		},
		{
			name:    "only empty destinations",
			status:  201,
			reports: []lineagedomain.Report{inbound(2), outbound("co-phd", "elr", 0, base)},
			want:    historydomain.StatusNotDelivering,
		},
		{
			name:    "empty destination ignored",
			status:  201,
			reports: []lineagedomain.Report{inbound(5), scheduled(outbound("org-a", "svc", 5, base), later), outbound("org-b", "svc", 0, base)},
			want:    historydomain.StatusWaitingToDeliver, wantCount: 1, wantPlanned: true,
		},
		{
			name:    "one of two delivered",
			status:  201,
			reports: []lineagedomain.Report{inbound(5), scheduled(outbound("org-a", "svc", 2, base), later), scheduled(outbound("org-b", "svc", 3, base), later)},
			descendants: []lineagedomain.ActionDetail{{
				Action:  action(9, lineagedomain.TaskActionSend, 200, later),
				Reports: []lineagedomain.Report{outbound("org-a", "svc", 2, later)},
			}},
			want: historydomain.StatusPartiallyDelivered, wantCount: 2, wantPlanned: true,
		},
		{
			name:    "short send keeps waiting",
			status:  201,
			reports: []lineagedomain.Report{inbound(5), scheduled(outbound("org-a", "svc", 5, base), later)},
			descendants: []lineagedomain.ActionDetail{{
				Action:  action(9, lineagedomain.TaskActionSend, 200, later),
				Reports: []lineagedomain.Report{outbound("org-a", "svc", 4, later)},
			}},
			want: historydomain.StatusWaitingToDeliver, wantCount: 1, wantPlanned: true,
		},
		{
			name:    "download completes",
			status:  201,
			reports: []lineagedomain.Report{inbound(5), scheduled(outbound("org-a", "svc", 5, base), later)},
			descendants: []lineagedomain.ActionDetail{{
				Action:  action(9, lineagedomain.TaskActionDownload, 200, later),
				Reports: []lineagedomain.Report{outbound("org-a", "svc", 5, later)},
			}},
			want: historydomain.StatusDelivered, wantCount: 1, wantPlanned: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub, err := NewEngine(nil).Build(rootDetail(tt.status, tt.reports...), tt.descendants)
			require.NoError(t, err)
			assert.Equal(t, tt.want, sub.OverallStatus)
			assert.Equal(t, tt.wantCount, sub.DestinationCount)
			assert.Equal(t, tt.wantPlanned, sub.PlannedCompletionAt != nil)
			if tt.want != historydomain.StatusDelivered {
				assert.Nil(t, sub.ActualCompletionAt)
			}
		})
	}
}

func TestBuildProcessDestinationsAndFilters(t *testing.T) {
	root := rootDetail(201, inbound(4))
	processed := outbound("co-phd", "elr", 3, base.Add(time.Minute))
	before := 4
	processed.ItemCountBeforeQualFilter = &before
	processed = scheduled(processed, base.Add(time.Hour))

	process := lineagedomain.ActionDetail{
		Action:  action(2, lineagedomain.TaskActionProcess, 200, base.Add(time.Minute)),
		Reports: []lineagedomain.Report{processed},
		Logs: []lineagedomain.ActionLog{
			logEntry(lineagedomain.LogLevelFilter, lineagedomain.LogScopeItem, &processed.ReportID, lineagedomain.LogDetail{
				Kind: lineagedomain.KindFilter, Message: "Filtered row 2", FilterType: "QUALITY_FILTER",
				FilterName: "hasValidDataFor", FilteredTrackingElement: "m2", FilterArgs: []string{"patient_id"},
			}),
			logEntry(lineagedomain.LogLevelWarning, lineagedomain.LogScopeReport, nil, lineagedomain.LogDetail{Message: "late"}),
			logEntry(lineagedomain.LogLevelError, lineagedomain.LogScopeItem, nil, lineagedomain.LogDetail{Message: "bad row"}),
		},
	}
	batch := lineagedomain.ActionDetail{
		Action:  action(3, lineagedomain.TaskActionBatch, 200, base.Add(2*time.Minute)),
		Reports: []lineagedomain.Report{outbound("co-phd", "elr", 3, base.Add(2*time.Minute))},
	}

	sub, err := NewEngine(nil).Build(root, []lineagedomain.ActionDetail{batch, process})
	require.NoError(t, err)

	require.Len(t, sub.Destinations, 1)
	dest := sub.Destinations[0]
	assert.Equal(t, "co-phd", dest.OrganizationID)
	assert.Equal(t, []string{"Filtered row 2"}, dest.FilteredReportRows)
	require.Len(t, dest.FilteredReportItems, 1)
	assert.Equal(t, "hasValidDataFor", dest.FilteredReportItems[0].FilterName)
	assert.Equal(t, []string{"patient_id"}, dest.FilteredReportItems[0].FilterArgs)
	assert.Equal(t, 4, *dest.ItemCountBeforeQualFilter)
	assert.Empty(t, dest.SentReports)

	assert.Equal(t, 1, sub.ErrorCount)
	assert.Equal(t, 1, sub.WarningCount)
	require.NotNil(t, sub.ID, "only root errors hide the report id")
}

func TestBuildRootErrorsHideReportID(t *testing.T) {
	root := rootDetail(201, inbound(2))
	root.Logs = []lineagedomain.ActionLog{
		logEntry(lineagedomain.LogLevelError, lineagedomain.LogScopeItem, nil, lineagedomain.LogDetail{Kind: lineagedomain.KindDuplicateItem, Message: "dup"}),
	}

	sub, err := NewEngine(nil).Build(root, nil)
	require.NoError(t, err)
	assert.Nil(t, sub.ID)
	assert.Equal(t, 1, sub.ErrorCount)
	require.Len(t, sub.Errors, 1)
	assert.Equal(t, string(lineagedomain.KindDuplicateItem), sub.Errors[0].Kind)
}

func TestBuildSecondInboundReportIsInvariantViolation(t *testing.T) {
	_, err := NewEngine(nil).Build(rootDetail(201, inbound(1), inbound(1)), nil)
	assert.True(t, errors.Is(err, historydomain.ErrInvariantViolation))
}

func TestBuildRejectsNonReceiveRoot(t *testing.T) {
	root := lineagedomain.ActionDetail{Action: action(1, lineagedomain.TaskActionSend, 200, base)}
	_, err := NewEngine(nil).Build(root, nil)
	assert.ErrorIs(t, err, historydomain.ErrInvariantViolation)
}

func TestBuildDeliveryCreatesMissingDestinations(t *testing.T) {
	root := rootDetail(201, inbound(4))
	at := base.Add(time.Hour)
	send := lineagedomain.ActionDetail{
		Action:  action(7, lineagedomain.TaskActionSend, 200, at),
		Reports: []lineagedomain.Report{outbound("org-a", "svc", 4, at), {ReportID: uuid.New(), ItemCount: 4}},
	}
	download := lineagedomain.ActionDetail{
		Action:  action(8, lineagedomain.TaskActionDownload, 200, at),
		Reports: []lineagedomain.Report{outbound("org-b", "sftp", 4, at)},
	}

	sub, err := NewEngine(nil).Build(root, []lineagedomain.ActionDetail{download, send, send})
	require.NoError(t, err)

	require.Len(t, sub.Destinations, 2)
	a, b := sub.Destinations[0], sub.Destinations[1]
	assert.Equal(t, "org-a", a.OrganizationID)
	assert.Nil(t, a.SendingAt)
	assert.Nil(t, a.FilteredReportRows)
	assert.Empty(t, a.SentReports)
	assert.Equal(t, "org-b", b.OrganizationID)
	assert.Len(t, b.DownloadedReports, 1)
	assert.Equal(t, historydomain.StatusPartiallyDelivered, sub.OverallStatus)
	assert.Nil(t, sub.PlannedCompletionAt)
}

func TestBuildCollapsesRepeatedDescendants(t *testing.T) {
	at := base.Add(time.Hour)
	root := rootDetail(201, inbound(4), scheduled(outbound("org-a", "svc", 4, base), at))
	send := lineagedomain.ActionDetail{
		Action:  action(7, lineagedomain.TaskActionSend, 200, at),
		Reports: []lineagedomain.Report{outbound("org-a", "svc", 2, at)},
	}

	sub, err := NewEngine(nil).Build(root, []lineagedomain.ActionDetail{send, send})
	require.NoError(t, err)
	assert.Len(t, sub.Destinations[0].SentReports, 1)
	assert.Equal(t, historydomain.StatusWaitingToDeliver, sub.OverallStatus)
}

func TestBuildActualCompletionIsLatestDelivery(t *testing.T) {
	first, second := base.Add(time.Hour), base.Add(3*time.Hour)
	root := rootDetail(201, inbound(4),
		scheduled(outbound("org-a", "svc", 2, base), first),
		scheduled(outbound("org-b", "svc", 2, base), second),
	)
	descendants := []lineagedomain.ActionDetail{
		{Action: action(7, lineagedomain.TaskActionSend, 200, first), Reports: []lineagedomain.Report{outbound("org-a", "svc", 2, first)}},
		{Action: action(8, lineagedomain.TaskActionDownload, 200, second), Reports: []lineagedomain.Report{outbound("org-b", "svc", 2, second)}},
	}

	sub, err := NewEngine(nil).Build(root, descendants)
	require.NoError(t, err)
	assert.Equal(t, historydomain.StatusDelivered, sub.OverallStatus)
	assert.True(t, sub.ActualCompletionAt.Equal(second))
	assert.True(t, sub.PlannedCompletionAt.Equal(second))
}

func TestStatusJSON(t *testing.T) {
	raw, err := json.Marshal(historydomain.StatusWaitingToDeliver)
	require.NoError(t, err)
	assert.Equal(t, `"Waiting to Deliver"`, string(raw))

	var status historydomain.Status
	require.NoError(t, json.Unmarshal([]byte(`"Partially Delivered"`), &status))
	assert.Equal(t, historydomain.StatusPartiallyDelivered, status)
	assert.Error(t, json.Unmarshal([]byte(`"Lost"`), &status))
}

func TestSubmissionJSONShape(t *testing.T) {
	root := rootDetail(201, inbound(1), scheduled(outbound("co-phd", "elr", 1, base), base.Add(time.Hour)))
	sub, err := NewEngine(nil).Build(root, nil)
	require.NoError(t, err)

	raw, err := json.Marshal(sub)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, "Waiting to Deliver", decoded["overallStatus"])
	assert.NotContains(t, decoded, "actualCompletionAt")
	assert.NotContains(t, decoded, "SendingOrg")
	dests := decoded["destinations"].([]any)
	require.Len(t, dests, 1)
	dest := dests[0].(map[string]any)
	assert.Equal(t, "co-phd", dest["organization_id"])
	assert.Contains(t, dest, "sending_at")
}
