package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/smallbiznis/primerouter/internal/authorization"
	"github.com/smallbiznis/primerouter/internal/cache"
	historydomain "github.com/smallbiznis/primerouter/internal/history/domain"
	historyservice "github.com/smallbiznis/primerouter/internal/history/service"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	obscontext "github.com/smallbiznis/primerouter/internal/observability/context"
	"github.com/smallbiznis/primerouter/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/primerouter/internal/observability/metrics"
	submissiondomain "github.com/smallbiznis/primerouter/internal/submission/domain"
	"github.com/smallbiznis/primerouter/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const maxPageSize = 1000

type ServiceParam struct {
	fx.In

	Repo       lineagedomain.Repository
	History    *historyservice.Engine
	Authz      authorization.Service
	Log        *zap.Logger
	Cache      cache.ReportActionCache `optional:"true"`
	ObsMetrics *obsmetrics.Metrics     `optional:"true"`
}

type Service struct {
	repo       lineagedomain.Repository
	history    *historyservice.Engine
	authz      authorization.Service
	log        *zap.Logger
	cache      cache.ReportActionCache
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) submissiondomain.Service {
	return &Service{
		repo:       p.Repo,
		history:    p.History,
		authz:      p.Authz,
		log:        p.Log.Named("submission.service"),
		cache:      p.Cache,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) List(ctx context.Context, req submissiondomain.ListRequest) (*submissiondomain.ListResponse, error) {
	org := strings.TrimSpace(req.Organization)
	if org == "" {
		return nil, submissiondomain.ErrInvalidOrganization
	}
	if req.PageSize <= 0 {
		return nil, submissiondomain.ErrInvalidPageSize
	}
	pageSize := req.PageSize
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	column := strings.TrimSpace(req.SortColumn)
	if column != "" && column != submissiondomain.SortColumnCreatedAt {
		return nil, submissiondomain.ErrInvalidSortColumn
	}
	if req.CursorAfter != nil && req.CursorBefore != nil && !req.CursorAfter.Before(*req.CursorBefore) {
		return nil, submissiondomain.ErrInvalidCursor
	}

	filter := lineagedomain.ListFilter{
		SendingOrg:       org,
		SendingOrgClient: req.Client,
		Since:            req.CursorAfter,
		Until:            req.CursorBefore,
		SortDir:          req.SortDir,
		Limit:            pageSize + 1,
		ShowFailed:       req.ShowFailed,
	}
	if req.After != nil {
		filter.After = &lineagedomain.Seek{CreatedAt: req.After.Timestamp, ID: req.After.SubmissionID}
	}

	rows, err := s.repo.FetchActions(ctx, filter)
	if err != nil {
		return nil, err
	}

	summaries := make([]*submissiondomain.Summary, 0, len(rows))
	for _, row := range rows {
		summaries = append(summaries, toSummary(row))
	}
	page, pageInfo := pagination.BuildCursorPageInfo(summaries, int32(pageSize), func(sum *submissiondomain.Summary) string {
		return pagination.CreatedAtCursor(strconv.FormatInt(sum.SubmissionID, 10), sum.Timestamp)
	})

	return &submissiondomain.ListResponse{
		Submissions: page,
		PageInfo:    pageInfo,
	}, nil
}

func (s *Service) GetDetailed(ctx context.Context, org string, submissionID int64, auth submissiondomain.AuthContext) (*historydomain.Submission, error) {
	ctx = obscontext.WithOrg(ctx, strings.TrimSpace(org))
	log := logger.WithContext(ctx, s.log).With(zap.Int64("submission_id", submissionID))

	root, err := s.repo.FetchRoot(ctx, org, submissionID)
	if errors.Is(err, lineagedomain.ErrNotFound) {
		return nil, submissiondomain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	descendants, err := s.repo.FetchDescendants(ctx, root.Action.ID)
	if err != nil {
		return nil, err
	}

	history, err := s.history.Build(*root, descendants)
	if err != nil {
		log.Error("failed to build submission history", zap.Error(err))
		return nil, err
	}

	err = s.authz.Authorize(ctx,
		authorization.Subjects(auth.Organizations, auth.IsAdmin),
		authorization.OrganizationSubject(history.SendingOrg),
		authorization.ActionSubmissionView,
	)
	if errors.Is(err, authorization.ErrForbidden) {
		log.Info("submission access denied",
			zap.String("subject", auth.Subject),
			zap.String("sending_org", history.SendingOrg),
		)
		return nil, submissiondomain.ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("authorize submission: %w", err)
	}

	s.obsMetrics.RecordSubmissionStatus(ctx, history.OverallStatus.String())
	return history, nil
}

func (s *Service) GetDetailedByReport(ctx context.Context, reportID uuid.UUID, auth submissiondomain.AuthContext) (*historydomain.Submission, error) {
	if reportID == uuid.Nil {
		return nil, submissiondomain.ErrNotFound
	}

	actionID, ok := s.cachedActionID(reportID)
	if !ok {
		id, err := s.repo.FetchActionIDForReport(ctx, reportID)
		if errors.Is(err, lineagedomain.ErrNotFound) {
			return nil, submissiondomain.ErrNotFound
		}
		if err != nil {
			return nil, err
		}
		actionID = id
		if s.cache != nil {
			s.cache.SetActionID(reportID, actionID)
		}
	}
	return s.GetDetailed(ctx, "", actionID, auth)
}

func (s *Service) cachedActionID(reportID uuid.UUID) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	return s.cache.GetActionID(reportID)
}

func toSummary(row lineagedomain.SubmissionRow) *submissiondomain.Summary {
	sum := &submissiondomain.Summary{
		SubmissionID:    row.ActionID,
		Timestamp:       row.CreatedAt,
		HTTPStatus:      row.HTTPStatus,
		ExternalName:    row.ExternalName,
		Topic:           row.SchemaTopic,
		ReportItemCount: row.ItemCount,
	}
	if row.ReportID != nil {
		id := row.ReportID.String()
		sum.ID = &id
	}
	if row.SendingOrg != nil {
		sum.Sender = *row.SendingOrg
		if row.SendingOrgClient != nil {
			sum.Sender += "." + *row.SendingOrgClient
		}
	}
	return sum
}
