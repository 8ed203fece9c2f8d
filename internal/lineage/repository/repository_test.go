package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/smallbiznis/primerouter/internal/lineage/domain"
	"github.com/smallbiznis/primerouter/pkg/db/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRepo(t *testing.T) (domain.Repository, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(
		&domain.Action{},
		&domain.Report{},
		&domain.ReportLineage{},
		&domain.ActionLog{},
		&domain.ItemLineage{},
		&domain.Task{},
	))
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return Provide(conn), conn
}

func strPtr(v string) *string { return &v }

type graphFixture struct {
	root      int64
	rootRep   uuid.UUID
	processID int64
	batchID   int64
	sendID    int64
}

// seedDiamond builds receive -> process with two children that both feed one
// batch action, which then emits a send.
func seedDiamond(t *testing.T, repo domain.Repository, base time.Time) graphFixture {
	t.Helper()
	ctx := context.Background()
	fx := graphFixture{root: 100, processID: 200, batchID: 300, sendID: 400, rootRep: uuid.New()}

	actions := []*domain.Action{
		{ID: fx.root, ActionName: domain.TaskActionReceive, HTTPStatus: 201, SendingOrg: strPtr("ignore"), CreatedAt: base},
		{ID: fx.processID, ActionName: domain.TaskActionProcess, HTTPStatus: 200, CreatedAt: base.Add(time.Minute)},
		{ID: fx.batchID, ActionName: domain.TaskActionBatch, HTTPStatus: 200, CreatedAt: base.Add(2 * time.Minute)},
		{ID: fx.sendID, ActionName: domain.TaskActionSend, HTTPStatus: 200, CreatedAt: base.Add(3 * time.Minute)},
	}
	for _, action := range actions {
		require.NoError(t, repo.CreateAction(ctx, action))
	}

	childA, childB, batched, sent := uuid.New(), uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, repo.CreateReports(ctx, []*domain.Report{
		{ReportID: fx.rootRep, ActionID: fx.root, SendingOrg: strPtr("ignore"), ItemCount: 2, CreatedAt: base},
		{ReportID: childA, ActionID: fx.processID, ReceivingOrg: strPtr("co-phd"), ItemCount: 1, CreatedAt: base},
		{ReportID: childB, ActionID: fx.processID, ReceivingOrg: strPtr("co-phd"), ItemCount: 1, CreatedAt: base},
		{ReportID: batched, ActionID: fx.batchID, ReceivingOrg: strPtr("co-phd"), ItemCount: 2, CreatedAt: base},
		{ReportID: sent, ActionID: fx.sendID, ReceivingOrg: strPtr("co-phd"), ItemCount: 2, CreatedAt: base},
	}))
	require.NoError(t, repo.CreateLineage(ctx, []*domain.ReportLineage{
		{ActionID: fx.processID, ParentReportID: fx.rootRep, ChildReportID: childA, CreatedAt: base},
		{ActionID: fx.processID, ParentReportID: fx.rootRep, ChildReportID: childB, CreatedAt: base},
		{ActionID: fx.batchID, ParentReportID: childA, ChildReportID: batched, CreatedAt: base},
		{ActionID: fx.batchID, ParentReportID: childB, ChildReportID: batched, CreatedAt: base},
		{ActionID: fx.sendID, ParentReportID: batched, ChildReportID: sent, CreatedAt: base},
	}))
	return fx
}

func TestFetchDescendantsCollapsesDiamond(t *testing.T) {
	repo, _ := setupRepo(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fx := seedDiamond(t, repo, base)

	descendants, err := repo.FetchDescendants(context.Background(), fx.root)
	require.NoError(t, err)

	ids := make([]int64, 0, len(descendants))
	for _, d := range descendants {
		ids = append(ids, d.Action.ID)
		assert.NotEqual(t, fx.root, d.Action.ID)
	}
	assert.ElementsMatch(t, []int64{fx.processID, fx.batchID, fx.sendID}, ids)

	for _, d := range descendants {
		if d.Action.ID == fx.processID {
			assert.Len(t, d.Reports, 2)
		}
	}
}

func TestFetchDescendantsWithoutLineage(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.CreateAction(ctx, &domain.Action{ID: 1, ActionName: domain.TaskActionReceive, HTTPStatus: 201, CreatedAt: time.Now().UTC()}))

	descendants, err := repo.FetchDescendants(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, descendants)
}

func TestFetchRoot(t *testing.T) {
	repo, _ := setupRepo(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fx := seedDiamond(t, repo, base)
	ctx := context.Background()

	require.NoError(t, repo.CreateLogs(ctx, []*domain.ActionLog{
		{ActionID: fx.root, Type: domain.LogLevelWarning, Scope: domain.LogScopeReport, CreatedAt: base},
	}))

	tests := []struct {
		name    string
		org     string
		id      int64
		wantErr error
	}{
		{name: "matching org", org: "ignore", id: fx.root},
		{name: "no org filter", org: "", id: fx.root},
		{name: "other org", org: "other", id: fx.root, wantErr: domain.ErrNotFound},
		{name: "not a receive action", org: "", id: fx.sendID, wantErr: domain.ErrNotFound},
		{name: "missing", org: "", id: 999, wantErr: domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detail, err := repo.FetchRoot(ctx, tt.org, tt.id)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, fx.root, detail.Action.ID)
			assert.Len(t, detail.Reports, 1)
			assert.Len(t, detail.Logs, 1)
		})
	}
}

func TestFetchActionsHalfOpenWindow(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	statuses := []int{201, 201, 400, 201}
	for i, status := range statuses {
		id := int64(i + 1)
		created := base.Add(time.Duration(i) * time.Hour)
		require.NoError(t, repo.CreateAction(ctx, &domain.Action{
			ID: id, ActionName: domain.TaskActionReceive, HTTPStatus: status,
			SendingOrg: strPtr("simple_report"), CreatedAt: created,
		}))
		if status == 201 {
			require.NoError(t, repo.CreateReports(ctx, []*domain.Report{{
				ReportID: uuid.New(), ActionID: id, SendingOrg: strPtr("simple_report"),
				SchemaTopic: "covid-19", ItemCount: 3, CreatedAt: created,
			}}))
		}
	}
	require.NoError(t, repo.CreateAction(ctx, &domain.Action{
		ID: 50, ActionName: domain.TaskActionReceive, HTTPStatus: 201, SendingOrg: strPtr("other"), CreatedAt: base,
	}))

	since := base.Add(time.Hour)
	rows, err := repo.FetchActions(ctx, domain.ListFilter{SendingOrg: "simple_report", Since: &since, SortDir: option.SortAsc, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(2), rows[0].ActionID)
	assert.Equal(t, int64(4), rows[1].ActionID)
	require.NotNil(t, rows[0].ItemCount)
	assert.Equal(t, 3, *rows[0].ItemCount)

	until := base.Add(3 * time.Hour)
	rows, err = repo.FetchActions(ctx, domain.ListFilter{SendingOrg: "simple_report", Until: &until, SortDir: option.SortDesc, Limit: 10, ShowFailed: true})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []int64{3, 2, 1}, []int64{rows[0].ActionID, rows[1].ActionID, rows[2].ActionID})
	assert.Nil(t, rows[0].ReportID)

	rows, err = repo.FetchActions(ctx, domain.ListFilter{SendingOrg: "simple_report", SortDir: option.SortDesc, Limit: 1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(4), rows[0].ActionID)
}

func TestFetchActionsSeeksPastTies(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	created := []time.Time{base, base, base, base.Add(500 * time.Nanosecond)}
	for i, at := range created {
		require.NoError(t, repo.CreateAction(ctx, &domain.Action{
			ID: int64(i + 1), ActionName: domain.TaskActionReceive, HTTPStatus: 201,
			SendingOrg: strPtr("simple_report"), CreatedAt: at,
		}))
	}
	ids := func(rows []domain.SubmissionRow) []int64 {
		out := make([]int64, 0, len(rows))
		for _, row := range rows {
			out = append(out, row.ActionID)
		}
		return out
	}

	tests := []struct {
		name  string
		dir   option.SortDirection
		first []int64
		after domain.Seek
		rest  []int64
	}{
		{name: "ascending", dir: option.SortAsc, first: []int64{1, 2}, after: domain.Seek{CreatedAt: base, ID: 2}, rest: []int64{3, 4}},
		{name: "descending", dir: option.SortDesc, first: []int64{4, 3}, after: domain.Seek{CreatedAt: base, ID: 3}, rest: []int64{2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := repo.FetchActions(ctx, domain.ListFilter{SendingOrg: "simple_report", SortDir: tt.dir, Limit: 2})
			require.NoError(t, err)
			assert.Equal(t, tt.first, ids(rows))

			after := tt.after
			rows, err = repo.FetchActions(ctx, domain.ListFilter{SendingOrg: "simple_report", SortDir: tt.dir, After: &after, Limit: 10})
			require.NoError(t, err)
			assert.Equal(t, tt.rest, ids(rows))
		})
	}
}

func TestInsertTaskDuplicate(t *testing.T) {
	repo, _ := setupRepo(t)
	ctx := context.Background()
	task := &domain.Task{ReportID: uuid.New(), NextAction: domain.TaskActionProcess, CreatedAt: time.Now().UTC()}

	require.NoError(t, repo.InsertTask(ctx, task))
	err := repo.InsertTask(ctx, task)
	assert.True(t, errors.Is(err, domain.ErrTaskExists))
}

func TestTransactionRollback(t *testing.T) {
	repo, conn := setupRepo(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := repo.Transaction(ctx, func(tx domain.Repository) error {
		require.NoError(t, tx.CreateAction(ctx, &domain.Action{ID: 7, ActionName: domain.TaskActionReceive, CreatedAt: time.Now().UTC()}))
		require.NoError(t, tx.CreateItemLineage(ctx, []*domain.ItemLineage{{ReportID: uuid.New(), ItemIndex: 1, ItemHash: "abc", CreatedAt: time.Now().UTC()}}))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int64
	require.NoError(t, conn.Model(&domain.Action{}).Count(&count).Error)
	assert.Zero(t, count)

	dup, err := repo.IsDuplicateItem(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestFetchActionIDForReport(t *testing.T) {
	repo, _ := setupRepo(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fx := seedDiamond(t, repo, base)

	id, err := repo.FetchActionIDForReport(context.Background(), fx.rootRep)
	require.NoError(t, err)
	assert.Equal(t, fx.root, id)

	_, err = repo.FetchActionIDForReport(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
