package domain

import (
	"time"

	"github.com/smallbiznis/primerouter/pkg/db/option"
	"github.com/smallbiznis/primerouter/pkg/db/pagination"
)

const SortColumnCreatedAt = "created_at"

// AuthContext is the identity of a caller as read from its token.
type AuthContext struct {
	Subject       string
	Organizations []string
	IsAdmin       bool
}

// ListRequest pages through the receive actions of one organization. The
// window is [CursorAfter, CursorBefore). After continues from the last row of
// a previous page.
type ListRequest struct {
	Organization string
	Client       string
	SortColumn   string
	SortDir      option.SortDirection
	CursorAfter  *time.Time
	CursorBefore *time.Time
	After        *Position
	PageSize     int
	ShowFailed   bool
}

// Position identifies a submission within a sorted listing.
type Position struct {
	Timestamp    time.Time
	SubmissionID int64
}

// Summary is the list view of a submission.
type Summary struct {
	ID              *string   `json:"id"`
	SubmissionID    int64     `json:"submissionId"`
	Timestamp       time.Time `json:"timestamp"`
	Sender          string    `json:"sender"`
	HTTPStatus      int       `json:"httpStatus"`
	ExternalName    *string   `json:"externalName,omitempty"`
	Topic           *string   `json:"topic,omitempty"`
	ReportItemCount *int      `json:"reportItemCount"`
}

type ListResponse struct {
	Submissions []*Summary           `json:"submissions"`
	PageInfo    *pagination.PageInfo `json:"page_info"`
}
