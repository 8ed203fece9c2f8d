package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/primerouter/pkg/db/option"
)

var (
	ErrNotFound   = errors.New("not_found")
	ErrTaskExists = errors.New("task_exists")
)

// ActionDetail is an action together with the reports it produced and the
// logs it emitted.
type ActionDetail struct {
	Action  Action
	Reports []Report
	Logs    []ActionLog
}

// SubmissionRow is the list projection of a receive action.
type SubmissionRow struct {
	ActionID         int64
	CreatedAt        time.Time
	HTTPStatus       int
	SendingOrg       *string
	SendingOrgClient *string
	ExternalName     *string
	ReportID         *uuid.UUID
	SchemaTopic      *string
	ItemCount        *int
}

// ListFilter selects receive actions for one sending organization. The
// created_at window is half-open: Since is inclusive, Until is exclusive.
type ListFilter struct {
	SendingOrg       string
	SendingOrgClient string
	Since            *time.Time
	Until            *time.Time
	SortDir          option.SortDirection
	// After resumes a listing strictly past a row already returned, in
	// SortDir order.
	After            *Seek
	Limit            int
	ShowFailed       bool
}

// Seek is a row position in (created_at, id) order.
type Seek struct {
	CreatedAt time.Time
	ID        int64
}

type Repository interface {
	// Transaction runs fn against a repository bound to one database
	// transaction. Returning an error rolls everything back.
	Transaction(ctx context.Context, fn func(tx Repository) error) error

	CreateAction(ctx context.Context, action *Action) error
	CreateReports(ctx context.Context, reports []*Report) error
	CreateLineage(ctx context.Context, edges []*ReportLineage) error
	CreateLogs(ctx context.Context, logs []*ActionLog) error
	CreateItemLineage(ctx context.Context, items []*ItemLineage) error
	IsDuplicateItem(ctx context.Context, itemHash string) (bool, error)
	InsertTask(ctx context.Context, task *Task) error

	// FetchRoot loads a receive action. A blank sendingOrg disables the
	// organization filter.
	FetchRoot(ctx context.Context, sendingOrg string, actionID int64) (*ActionDetail, error)
	// FetchDescendants returns every distinct action reachable from the
	// root's reports through report lineage, excluding the root itself.
	FetchDescendants(ctx context.Context, actionID int64) ([]ActionDetail, error)
	FetchActions(ctx context.Context, filter ListFilter) ([]SubmissionRow, error)
	FetchActionIDForReport(ctx context.Context, reportID uuid.UUID) (int64, error)
}
