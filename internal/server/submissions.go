package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/smallbiznis/primerouter/internal/authorization"
	historydomain "github.com/smallbiznis/primerouter/internal/history/domain"
	submissiondomain "github.com/smallbiznis/primerouter/internal/submission/domain"
	"github.com/smallbiznis/primerouter/pkg/db/option"
)

const defaultPageSize = 50

func (s *Server) ListSubmissions(c *gin.Context) {
	var query struct {
		SortDir    string `form:"sortdir"`
		SortCol    string `form:"sortcol"`
		Cursor     string `form:"cursor"`
		Since      string `form:"since"`
		Until      string `form:"until"`
		PageSize   string `form:"pagesize"`
		ShowFailed string `form:"showfailed"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	org, client, _ := strings.Cut(strings.TrimSpace(c.Param("org")), ".")
	if org == "" {
		AbortWithError(c, submissiondomain.ErrInvalidOrganization)
		return
	}

	direction, err := parseSortDirection(query.SortDir)
	if err != nil {
		AbortWithError(c, newValidationError("sortdir", "invalid_sortdir", "invalid sort direction"))
		return
	}
	pageSize, err := parseOptionalInt(query.PageSize)
	if err != nil {
		AbortWithError(c, newValidationError("pagesize", "invalid_pagesize", "invalid page size"))
		return
	}
	showFailed, err := parseOptionalBool(query.ShowFailed)
	if err != nil {
		AbortWithError(c, newValidationError("showfailed", "invalid_showfailed", "invalid showfailed"))
		return
	}
	since, err := parseOptionalTime(query.Since, false)
	if err != nil {
		AbortWithError(c, newValidationError("since", "invalid_since", "invalid since"))
		return
	}
	until, err := parseOptionalTime(query.Until, true)
	if err != nil {
		AbortWithError(c, newValidationError("until", "invalid_until", "invalid until"))
		return
	}
	cursor, err := parseOptionalCursor(query.Cursor)
	if err != nil {
		AbortWithError(c, newValidationError("cursor", "invalid_cursor", "invalid cursor"))
		return
	}

	auth := authContext(c)
	if err := s.authzSvc.Authorize(c.Request.Context(),
		authorization.Subjects(auth.Organizations, auth.IsAdmin),
		authorization.OrganizationSubject(org),
		authorization.ActionSubmissionView,
	); err != nil {
		AbortWithError(c, err)
		return
	}

	req := submissiondomain.ListRequest{
		Organization: org,
		Client:       client,
		SortColumn:   strings.TrimSpace(query.SortCol),
		SortDir:      direction,
		CursorAfter:  since,
		CursorBefore: until,
		PageSize:     defaultPageSize,
	}
	if pageSize != nil {
		req.PageSize = *pageSize
	}
	if showFailed != nil {
		req.ShowFailed = *showFailed
	}
	// A page token resumes after the row it names. A bare timestamp is an
	// inclusive lower bound ascending and an exclusive upper bound descending.
	if cursor != nil {
		at := cursor.at
		switch {
		case cursor.position != nil:
			req.After = cursor.position
		case direction == option.SortDesc:
			req.CursorBefore = &at
		default:
			req.CursorAfter = &at
		}
	}

	resp, err := s.submissionSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetSubmissionHistory accepts either the action id of a submission or the id
// of any report it produced.
func (s *Server) GetSubmissionHistory(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	auth := authContext(c)

	var (
		resp *historydomain.Submission
		err  error
	)
	if actionID, parseErr := parseOptionalSnowflakeID(id); parseErr == nil && actionID != nil {
		resp, err = s.submissionSvc.GetDetailed(c.Request.Context(), "", actionID.Int64(), auth)
	} else if reportID, parseErr := uuid.Parse(id); parseErr == nil {
		resp, err = s.submissionSvc.GetDetailedByReport(c.Request.Context(), reportID, auth)
	} else {
		AbortWithError(c, newValidationError("id", "invalid_id", "invalid submission id"))
		return
	}
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}
