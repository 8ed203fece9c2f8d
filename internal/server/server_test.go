package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/golang-jwt/jwt/v5"
	"github.com/smallbiznis/primerouter/internal/authorization"
	"github.com/smallbiznis/primerouter/internal/blob"
	"github.com/smallbiznis/primerouter/internal/cache"
	"github.com/smallbiznis/primerouter/internal/clock"
	"github.com/smallbiznis/primerouter/internal/config"
	historyservice "github.com/smallbiznis/primerouter/internal/history/service"
	ingestdomain "github.com/smallbiznis/primerouter/internal/ingest/domain"
	ingestservice "github.com/smallbiznis/primerouter/internal/ingest/service"
	lineagedomain "github.com/smallbiznis/primerouter/internal/lineage/domain"
	lineagerepo "github.com/smallbiznis/primerouter/internal/lineage/repository"
	"github.com/smallbiznis/primerouter/internal/observability"
	"github.com/smallbiznis/primerouter/internal/queue"
	"github.com/smallbiznis/primerouter/internal/settings"
	submissionservice "github.com/smallbiznis/primerouter/internal/submission/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type testServer struct {
	*Server
	clock    *clock.FakeClock
	ingest   ingestdomain.Service
	settings settings.Provider
}

func testOrganizations() []settings.Organization {
	return []settings.Organization{
		{
			Name:        "simple_report",
			Description: "SimpleReport",
			Senders: []settings.Sender{
				{Name: "default", Format: settings.FormatCSV, Topic: settings.TopicCovid19, SchemaName: "primedatainput/pdi-covid-19"},
			},
		},
		{
			Name:        "co-phd",
			Description: "Colorado Department of Public Health",
			Receivers: []settings.Receiver{
				{Name: "elr", Topic: settings.TopicCovid19, CustomerStatus: settings.CustomerStatusActive, Format: settings.FormatHL7, BatchDelayMinutes: 60},
			},
		},
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&lineagedomain.Action{},
		&lineagedomain.Report{},
		&lineagedomain.ReportLineage{},
		&lineagedomain.ActionLog{},
		&lineagedomain.ItemLineage{},
		&lineagedomain.Task{},
	))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	holder, err := settings.NewStaticHolder(testOrganizations())
	require.NoError(t, err)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})

	cfg := config.Config{
		AuthJWTSecret: testSecret,
		Queue:         config.QueueConfig{ELRProcessQueue: "elr-fhir-convert"},
	}
	repo := lineagerepo.Provide(db)
	fake := clock.NewFakeClock(time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC))

	ingestSvc := ingestservice.NewService(ingestservice.ServiceParam{
		Repo:     repo,
		Settings: holder,
		Blob:     blob.NewMemoryStore(),
		Queue:    queue.NewMemoryQueue(),
		Clock:    fake,
		GenID:    node,
		Config:   cfg,
		Log:      zap.NewNop(),
	})
	srv := NewServer(ServerParams{
		Gin:      NewEngine(observability.Config{}, nil),
		Cfg:      cfg,
		Log:      zap.NewNop(),
		JWT:      NewJWTValidator(cfg),
		AuthzSvc: authz,
		SubmissionSvc: submissionservice.NewService(submissionservice.ServiceParam{
			Repo:    repo,
			History: historyservice.NewEngine(historyservice.NewOrganizationLookup(holder)),
			Authz:   authz,
			Log:     zap.NewNop(),
			Cache:   cache.NewReportActionCache(),
		}),
	})
	return &testServer{Server: srv, clock: fake, ingest: ingestSvc, settings: holder}
}

func signToken(t *testing.T, secret string, groups ...string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "bob@example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Organization: groups,
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, target, token string, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	return rec
}

func covidCSV(rows int, offset int) string {
	var b strings.Builder
	b.WriteString("message_id,patient_id,result\n")
	for i := 0; i < rows; i++ {
		fmt.Fprintf(&b, "m%d,p%d,positive\n", offset+i, offset+i)
	}
	return b.String()
}

type submitted struct {
	ID           string
	SubmissionID int64
}

// submit ingests a CSV for simple_report.default. Reports reach the pipeline
// outside this server, so tests seed them through the ingest service.
func (s *testServer) submit(t *testing.T, body string) submitted {
	t.Helper()
	result, err := s.ingestCSV(body)
	require.NoError(t, err)
	return submitted{ID: result.ReportID.String(), SubmissionID: result.ActionID}
}

func (s *testServer) ingestCSV(body string) (*ingestdomain.Result, error) {
	sender, ok := s.settings.FindSender("simple_report.default")
	if !ok {
		return nil, fmt.Errorf("sender missing from test settings")
	}
	return s.ingest.Ingest(context.Background(), ingestdomain.Request{
		Sender:      *sender,
		Content:     []byte(body),
		PayloadName: "batch.csv",
	})
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)
	rec := srv.do(t, http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAuthRequired(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "missing token"},
		{name: "wrong secret", token: signToken(t, "other-secret", "DHSender_simple_report")},
		{name: "garbage", token: "not-a-jwt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, "/api/waters/org/simple_report/submissions", tt.token, "", nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "unauthorized", decodeError(t, rec).Type)
		})
	}
}

func TestValidatorWithoutSecretFailsClosed(t *testing.T) {
	v := NewJWTValidator(config.Config{})
	_, err := v.Validate(signToken(t, testSecret, "DHPrimeAdmins"))
	assert.Error(t, err)
}

func TestClaimsAuthContext(t *testing.T) {
	tests := []struct {
		name      string
		groups    []string
		wantOrgs  []string
		wantAdmin bool
	}{
		{name: "sender group", groups: []string{"DHSender_simple_report"}, wantOrgs: []string{"simple_report"}},
		{name: "organization group", groups: []string{"DHmd-phd"}, wantOrgs: []string{"md-phd"}},
		{name: "admin", groups: []string{"DHfoobar", "DHPrimeAdmins"}, wantOrgs: []string{"foobar"}, wantAdmin: true},
		{name: "blank groups", groups: []string{"", "DH"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			auth := (&Claims{Organization: tt.groups}).AuthContext()
			assert.Equal(t, tt.wantOrgs, auth.Organizations)
			assert.Equal(t, tt.wantAdmin, auth.IsAdmin)
		})
	}
}

func TestListSubmissionsShowFailed(t *testing.T) {
	srv := newTestServer(t)
	owner := signToken(t, testSecret, "DHSender_simple_report")

	accepted := srv.submit(t, covidCSV(2, 0))
	srv.clock.Advance(time.Minute)
	_, err := srv.ingestCSV(covidCSV(2, 0))
	var rejected *ingestdomain.ValidationError
	require.ErrorAs(t, err, &rejected)

	visible := srv.list(t, owner, url.Values{})
	require.Len(t, visible.Submissions, 1)
	assert.Equal(t, accepted.SubmissionID, visible.Submissions[0].SubmissionID)

	all := srv.list(t, owner, url.Values{"showfailed": {"true"}})
	require.Len(t, all.Submissions, 2)
	assert.Equal(t, http.StatusBadRequest, all.Submissions[0].HTTPStatus)
	assert.Equal(t, http.StatusCreated, all.Submissions[1].HTTPStatus)
}

func TestGetSubmissionHistory(t *testing.T) {
	srv := newTestServer(t)
	owner := signToken(t, testSecret, "DHSender_simple_report")
	out := srv.submit(t, covidCSV(3, 0))

	byAction := srv.do(t, http.MethodGet, fmt.Sprintf("/api/waters/report/%d/history", out.SubmissionID), owner, "", nil)
	require.Equal(t, http.StatusOK, byAction.Code, byAction.Body.String())

	var history map[string]any
	require.NoError(t, json.Unmarshal(byAction.Body.Bytes(), &history))
	assert.EqualValues(t, out.SubmissionID, history["submissionId"])
	assert.Equal(t, out.ID, history["id"])
	assert.Equal(t, "simple_report.default", history["sender"])
	assert.EqualValues(t, 3, history["reportItemCount"])
	destinations, ok := history["destinations"].([]any)
	require.True(t, ok)
	require.Len(t, destinations, 1)
	assert.Equal(t, "Colorado Department of Public Health", destinations[0].(map[string]any)["organization"])

	byReport := srv.do(t, http.MethodGet, "/api/waters/report/"+out.ID+"/history", owner, "", nil)
	require.Equal(t, http.StatusOK, byReport.Code)
	assert.JSONEq(t, byAction.Body.String(), byReport.Body.String())

	admin := srv.do(t, http.MethodGet, fmt.Sprintf("/api/waters/report/%d/history", out.SubmissionID), signToken(t, testSecret, "DHPrimeAdmins"), "", nil)
	assert.Equal(t, http.StatusOK, admin.Code)

	tests := []struct {
		name   string
		path   string
		token  string
		status int
	}{
		{name: "other organization", path: fmt.Sprintf("/api/waters/report/%d/history", out.SubmissionID), token: signToken(t, testSecret, "DHco-phd"), status: http.StatusForbidden},
		{name: "unknown action", path: "/api/waters/report/42/history", token: owner, status: http.StatusNotFound},
		{name: "unknown report", path: "/api/waters/report/8d0e6b38-8d7b-4e6e-9a7e-0d3f1b0b9a11/history", token: owner, status: http.StatusNotFound},
		{name: "malformed id", path: "/api/waters/report/abc/history", token: owner, status: http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, tt.path, tt.token, "", nil)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

type listResponse struct {
	Submissions []struct {
		SubmissionID int64     `json:"submissionId"`
		Timestamp    time.Time `json:"timestamp"`
		Sender       string    `json:"sender"`
		HTTPStatus   int       `json:"httpStatus"`
	} `json:"submissions"`
	PageInfo struct {
		NextPageToken string `json:"next_page_token"`
		HasMore       bool   `json:"has_more"`
	} `json:"page_info"`
}

func (s *testServer) list(t *testing.T, token string, query url.Values) listResponse {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/waters/org/simple_report/submissions?"+query.Encode(), token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var out listResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestListSubmissionsPages(t *testing.T) {
	srv := newTestServer(t)
	owner := signToken(t, testSecret, "DHSender_simple_report")

	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, srv.submit(t, covidCSV(1, i*10)).SubmissionID)
		srv.clock.Advance(time.Minute)
	}

	first := srv.list(t, owner, url.Values{"pagesize": {"2"}})
	require.Len(t, first.Submissions, 2)
	assert.True(t, first.PageInfo.HasMore)
	assert.Equal(t, []int64{ids[2], ids[1]}, []int64{first.Submissions[0].SubmissionID, first.Submissions[1].SubmissionID})
	assert.Equal(t, "simple_report.default", first.Submissions[0].Sender)

	second := srv.list(t, owner, url.Values{"pagesize": {"2"}, "cursor": {first.PageInfo.NextPageToken}})
	require.Len(t, second.Submissions, 1)
	assert.False(t, second.PageInfo.HasMore)
	assert.Equal(t, ids[0], second.Submissions[0].SubmissionID)

	asc := srv.list(t, owner, url.Values{"pagesize": {"2"}, "sortdir": {"ASC"}})
	require.Len(t, asc.Submissions, 2)
	assert.Equal(t, ids[0], asc.Submissions[0].SubmissionID)

	ascNext := srv.list(t, owner, url.Values{"pagesize": {"2"}, "sortdir": {"ASC"}, "cursor": {asc.PageInfo.NextPageToken}})
	require.Len(t, ascNext.Submissions, 1)
	assert.Equal(t, ids[2], ascNext.Submissions[0].SubmissionID)
}

func TestListSubmissionsRejectsBadArguments(t *testing.T) {
	srv := newTestServer(t)
	owner := signToken(t, testSecret, "DHSender_simple_report")

	tests := []struct {
		name   string
		path   string
		token  string
		status int
		code   string
	}{
		{name: "page size zero", path: "/api/waters/org/simple_report/submissions?pagesize=0", token: owner, status: http.StatusBadRequest, code: "invalid_page_size"},
		{name: "page size not a number", path: "/api/waters/org/simple_report/submissions?pagesize=x", token: owner, status: http.StatusBadRequest, code: "invalid_pagesize"},
		{name: "unsupported sort column", path: "/api/waters/org/simple_report/submissions?sortcol=sender", token: owner, status: http.StatusBadRequest, code: "invalid_sort_column"},
		{name: "bad sort direction", path: "/api/waters/org/simple_report/submissions?sortdir=up", token: owner, status: http.StatusBadRequest, code: "invalid_sortdir"},
		{name: "empty window", path: "/api/waters/org/simple_report/submissions?since=2026-06-02T00:00:00Z&until=2026-06-01T00:00:00Z", token: owner, status: http.StatusBadRequest, code: "invalid_cursor"},
		{name: "other organization", path: "/api/waters/org/simple_report/submissions", token: signToken(t, testSecret, "DHco-phd"), status: http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := srv.do(t, http.MethodGet, tt.path, tt.token, "", nil)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.code != "" {
				payload := decodeError(t, rec)
				require.NotEmpty(t, payload.Errors)
				assert.Equal(t, tt.code, payload.Errors[0].Code)
			}
		})
	}
}

func TestMapError(t *testing.T) {
	status, payload := mapError(ErrTooManyRequests)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "too_many_requests", payload.Type)

	errType, code := classifyErrorForLog(fmt.Errorf("list: %w", ErrNotFound))
	assert.Equal(t, "not_found", errType)
	assert.Equal(t, "not_found", code)
}

func TestListSubmissionsAscendingTimestampCursorIsInclusive(t *testing.T) {
	srv := newTestServer(t)
	owner := signToken(t, testSecret, "DHSender_simple_report")

	first := srv.submit(t, covidCSV(1, 0)).SubmissionID
	srv.clock.Advance(time.Minute)
	second := srv.submit(t, covidCSV(1, 10)).SubmissionID

	all := srv.list(t, owner, url.Values{"sortdir": {"ASC"}})
	require.Len(t, all.Submissions, 2)
	boundary := all.Submissions[1].Timestamp.UTC().Format(time.RFC3339Nano)

	asc := srv.list(t, owner, url.Values{"sortdir": {"ASC"}, "cursor": {boundary}})
	require.Len(t, asc.Submissions, 1)
	assert.Equal(t, second, asc.Submissions[0].SubmissionID)

	desc := srv.list(t, owner, url.Values{"cursor": {boundary}})
	require.Len(t, desc.Submissions, 1)
	assert.Equal(t, first, desc.Submissions[0].SubmissionID)
}

func TestListSubmissionsTokenResumesWithinTimestamp(t *testing.T) {
	srv := newTestServer(t)
	owner := signToken(t, testSecret, "DHSender_simple_report")

	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, srv.submit(t, covidCSV(1, i*10)).SubmissionID)
	}

	for _, dir := range []string{"ASC", "DESC"} {
		first := srv.list(t, owner, url.Values{"pagesize": {"2"}, "sortdir": {dir}})
		require.Len(t, first.Submissions, 2)
		require.True(t, first.PageInfo.HasMore)
		assert.Equal(t, first.Submissions[0].Timestamp, first.Submissions[1].Timestamp)

		next := srv.list(t, owner, url.Values{"pagesize": {"2"}, "sortdir": {dir}, "cursor": {first.PageInfo.NextPageToken}})
		require.Len(t, next.Submissions, 1, dir)

		seen := []int64{first.Submissions[0].SubmissionID, first.Submissions[1].SubmissionID, next.Submissions[0].SubmissionID}
		assert.ElementsMatch(t, ids, seen, dir)
	}
}
