package authorization

import (
	"context"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	return NewService(Params{Log: zap.NewNop(), Enforcer: enforcer}), db
}

func TestAuthorizeSubmissionView(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	object := OrganizationSubject("simple_report")

	tests := []struct {
		name     string
		subjects []string
		wantErr  error
	}{
		{name: "owning organization", subjects: Subjects([]string{"simple_report"}, false)},
		{name: "one of several organizations", subjects: Subjects([]string{"other", "simple_report"}, false)},
		{name: "admin", subjects: Subjects(nil, true)},
		{name: "other organization", subjects: Subjects([]string{"other"}, false), wantErr: ErrForbidden},
		{name: "no claims", subjects: nil, wantErr: ErrForbidden},
		{name: "blank claims", subjects: []string{" "}, wantErr: ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Authorize(ctx, tt.subjects, object, ActionSubmissionView)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestAuthorizeChecksAction(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()
	object := OrganizationSubject("simple_report")

	assert.NoError(t, svc.Authorize(ctx, []string{object}, object, ActionSubmissionView))
	assert.NoError(t, svc.Authorize(ctx, []string{OrganizationSubject("other"), RoleAdmin}, object, ActionSubmissionView))
	assert.ErrorIs(t, svc.Authorize(ctx, []string{OrganizationSubject("other")}, object, ActionSubmissionView), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, []string{object}, object, "submission.delete"), ErrForbidden)
	assert.ErrorIs(t, svc.Authorize(ctx, []string{RoleAdmin}, object, "submission.delete"), ErrForbidden)
}

func TestAuthorizeValidatesArguments(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	assert.ErrorIs(t, svc.Authorize(ctx, []string{RoleAdmin}, "", ActionSubmissionView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, []string{RoleAdmin}, "org:x", " "), ErrInvalidAction)
}

func TestSeedPoliciesIsIdempotent(t *testing.T) {
	_, db := setupService(t)

	enforcer, err := NewEnforcer(db)
	require.NoError(t, err)
	policies, err := enforcer.GetPolicy()
	require.NoError(t, err)
	assert.Len(t, policies, 1)
}
