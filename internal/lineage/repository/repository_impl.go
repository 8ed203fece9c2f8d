package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	"github.com/smallbiznis/primerouter/pkg/db"
	"github.com/smallbiznis/primerouter/pkg/db/option"
	"github.com/smallbiznis/primerouter/pkg/repository"
	"gorm.io/gorm"
)

const descendantActionsSQL = `
WITH RECURSIVE lineage_tree (action_id, child_report_id) AS (
	SELECT rl.action_id, rl.child_report_id
	FROM report_lineage rl
	WHERE rl.parent_report_id IN (SELECT report_id FROM report_file WHERE action_id = ?)
	UNION
	SELECT rl.action_id, rl.child_report_id
	FROM report_lineage rl
	JOIN lineage_tree lt ON rl.parent_report_id = lt.child_report_id
)
SELECT DISTINCT action_id FROM lineage_tree WHERE action_id <> ?`

type repo struct {
	db         *gorm.DB
	reports    repository.Repository[lineagedomain.Report]
	edges      repository.Repository[lineagedomain.ReportLineage]
	logs       repository.Repository[lineagedomain.ActionLog]
	items      repository.Repository[lineagedomain.ItemLineage]
	tasks      repository.Repository[lineagedomain.Task]
	actionRepo repository.Repository[lineagedomain.Action]
}

func Provide(conn *gorm.DB) lineagedomain.Repository {
	return &repo{
		db:         conn,
		reports:    repository.ProvideStore[lineagedomain.Report](conn),
		edges:      repository.ProvideStore[lineagedomain.ReportLineage](conn),
		logs:       repository.ProvideStore[lineagedomain.ActionLog](conn),
		items:      repository.ProvideStore[lineagedomain.ItemLineage](conn),
		tasks:      repository.ProvideStore[lineagedomain.Task](conn),
		actionRepo: repository.ProvideStore[lineagedomain.Action](conn),
	}
}

func (r *repo) withTrx(tx *gorm.DB) *repo {
	return &repo{
		db:         tx,
		reports:    r.reports.WithTrx(tx),
		edges:      r.edges.WithTrx(tx),
		logs:       r.logs.WithTrx(tx),
		items:      r.items.WithTrx(tx),
		tasks:      r.tasks.WithTrx(tx),
		actionRepo: r.actionRepo.WithTrx(tx),
	}
}

func (r *repo) Transaction(ctx context.Context, fn func(tx lineagedomain.Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(r.withTrx(tx))
	})
}

func (r *repo) CreateAction(ctx context.Context, action *lineagedomain.Action) error {
	if action == nil {
		return errors.New("action is required")
	}
	return r.actionRepo.Create(ctx, action)
}

func (r *repo) CreateReports(ctx context.Context, reports []*lineagedomain.Report) error {
	return r.reports.BatchCreate(ctx, reports)
}

func (r *repo) CreateLineage(ctx context.Context, edges []*lineagedomain.ReportLineage) error {
	return r.edges.BatchCreate(ctx, edges)
}

func (r *repo) CreateLogs(ctx context.Context, logs []*lineagedomain.ActionLog) error {
	return r.logs.BatchCreate(ctx, logs)
}

func (r *repo) CreateItemLineage(ctx context.Context, items []*lineagedomain.ItemLineage) error {
	return r.items.BatchCreate(ctx, items)
}

func (r *repo) IsDuplicateItem(ctx context.Context, itemHash string) (bool, error) {
	found, err := r.items.Exists(ctx, &lineagedomain.ItemLineage{ItemHash: itemHash})
	if err != nil {
		return false, fmt.Errorf("lookup item hash: %w", err)
	}
	return found, nil
}

func (r *repo) InsertTask(ctx context.Context, task *lineagedomain.Task) error {
	if err := r.tasks.Create(ctx, task); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return lineagedomain.ErrTaskExists
		}
		return err
	}
	return nil
}

func (r *repo) FetchRoot(ctx context.Context, sendingOrg string, actionID int64) (*lineagedomain.ActionDetail, error) {
	query := &lineagedomain.Action{ID: actionID, ActionName: lineagedomain.TaskActionReceive}
	if org := strings.TrimSpace(sendingOrg); org != "" {
		query.SendingOrg = &org
	}

	action, err := r.actionRepo.FindOne(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch action %d: %w", actionID, err)
	}
	if action == nil {
		return nil, lineagedomain.ErrNotFound
	}

	details, err := r.loadDetails(ctx, []*lineagedomain.Action{action})
	if err != nil {
		return nil, err
	}
	return &details[0], nil
}

func (r *repo) FetchDescendants(ctx context.Context, actionID int64) ([]lineagedomain.ActionDetail, error) {
	var ids []int64
	if err := r.db.WithContext(ctx).Raw(descendantActionsSQL, actionID, actionID).Scan(&ids).Error; err != nil {
		return nil, fmt.Errorf("fetch descendants of %d: %w", actionID, err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	actions, err := r.actionRepo.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "id", Operator: option.IN, Value: ids}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Field: "created_at", Direction: option.SortAsc}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch descendant actions: %w", err)
	}
	return r.loadDetails(ctx, actions)
}

// loadDetails attaches reports and logs to actions with one query per table.
func (r *repo) loadDetails(ctx context.Context, actions []*lineagedomain.Action) ([]lineagedomain.ActionDetail, error) {
	ids := make([]int64, 0, len(actions))
	for _, action := range actions {
		ids = append(ids, action.ID)
	}

	reports, err := r.reports.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "action_id", Operator: option.IN, Value: ids}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"created_at": true}, Field: "created_at", Direction: option.SortAsc}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch reports: %w", err)
	}
	logs, err := r.logs.Find(ctx, nil,
		option.ApplyOperator(option.Condition{Field: "action_id", Operator: option.IN, Value: ids}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"id": true}, Field: "id", Direction: option.SortAsc}),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch action logs: %w", err)
	}

	reportsByAction := make(map[int64][]lineagedomain.Report, len(actions))
	for _, report := range reports {
		reportsByAction[report.ActionID] = append(reportsByAction[report.ActionID], *report)
	}
	logsByAction := make(map[int64][]lineagedomain.ActionLog, len(actions))
	for _, entry := range logs {
		logsByAction[entry.ActionID] = append(logsByAction[entry.ActionID], *entry)
	}

	details := make([]lineagedomain.ActionDetail, 0, len(actions))
	for _, action := range actions {
		details = append(details, lineagedomain.ActionDetail{
			Action:  *action,
			Reports: reportsByAction[action.ID],
			Logs:    logsByAction[action.ID],
		})
	}
	return details, nil
}

func (r *repo) FetchActions(ctx context.Context, filter lineagedomain.ListFilter) ([]lineagedomain.SubmissionRow, error) {
	org := strings.TrimSpace(filter.SendingOrg)
	if org == "" {
		return nil, errors.New("sending org is required")
	}

	stmt := r.db.WithContext(ctx).
		Table("action AS a").
		Select(`a.id AS action_id, a.created_at, a.http_status, a.sending_org, a.sending_org_client,
			a.external_name, r.report_id, r.schema_topic, r.item_count`).
		Joins("LEFT JOIN report_file r ON r.action_id = a.id AND r.sending_org IS NOT NULL").
		Where("a.action_name = ?", lineagedomain.TaskActionReceive).
		Where("a.sending_org = ?", org)

	options := []option.QueryOption{}
	if client := strings.TrimSpace(filter.SendingOrgClient); client != "" {
		options = append(options, option.ApplyOperator(option.Condition{Field: "a.sending_org_client", Operator: option.EQ, Value: client}))
	}
	if filter.Since != nil {
		options = append(options, option.ApplyOperator(option.Condition{Field: "a.created_at", Operator: option.GTE, Value: filter.Since.UTC()}))
	}
	if filter.Until != nil {
		options = append(options, option.ApplyOperator(option.Condition{Field: "a.created_at", Operator: option.LT, Value: filter.Until.UTC()}))
	}
	if !filter.ShowFailed {
		options = append(options,
			option.ApplyOperator(option.Condition{Field: "a.http_status", Operator: option.GTE, Value: 200}),
			option.ApplyOperator(option.Condition{Field: "a.http_status", Operator: option.LT, Value: 300}),
		)
	}

	direction := filter.SortDir
	if direction != option.SortAsc {
		direction = option.SortDesc
	}
	if seek := filter.After; seek != nil {
		cmp := "<"
		if direction == option.SortAsc {
			cmp = ">"
		}
		at := seek.CreatedAt.UTC()
		stmt = stmt.Where("(a.created_at "+cmp+" ? OR (a.created_at = ? AND a.id "+cmp+" ?))", at, at, seek.ID)
	}
	options = append(options,
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"a.created_at": true}, Field: "a.created_at", Direction: direction}),
		option.WithSortBy(option.QuerySortBy{Allow: map[string]bool{"a.id": true}, Field: "a.id", Direction: direction}),
		option.WithLimit(filter.Limit),
	)
	for _, opt := range options {
		stmt = opt.Apply(stmt)
	}

	var rows []lineagedomain.SubmissionRow
	if err := stmt.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("fetch actions for %s: %w", org, err)
	}
	return rows, nil
}

func (r *repo) FetchActionIDForReport(ctx context.Context, reportID uuid.UUID) (int64, error) {
	report, err := r.reports.FindOne(ctx, &lineagedomain.Report{ReportID: reportID})
	if err != nil {
		return 0, fmt.Errorf("fetch report %s: %w", reportID, err)
	}
	if report == nil {
		return 0, lineagedomain.ErrNotFound
	}
	return report.ActionID, nil
}
