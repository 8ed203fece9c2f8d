package domain

import (
	"context"

	"github.com/google/uuid"
	historydomain "github.com/smallbiznis/primerouter/internal/history/domain"
)

type Service interface {
	List(ctx context.Context, req ListRequest) (*ListResponse, error)
	// GetDetailed builds the history of a receive action. A blank org looks
	// the action up across all organizations.
	GetDetailed(ctx context.Context, org string, submissionID int64, auth AuthContext) (*historydomain.Submission, error)
	GetDetailedByReport(ctx context.Context, reportID uuid.UUID, auth AuthContext) (*historydomain.Submission, error)
}
