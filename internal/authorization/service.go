package authorization

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

const (
	RoleAdmin = "role:admin"

	ActionSubmissionView = "submission.view"
)

type Service interface {
	// Authorize succeeds when any subject may perform action on object.
	Authorize(ctx context.Context, subjects []string, object string, action string) error
}

// OrganizationSubject names an organization both as a caller and as the
// owner of a resource.
func OrganizationSubject(org string) string {
	return "org:" + strings.TrimSpace(org)
}

// Subjects lists the casbin subjects held by a caller.
func Subjects(organizations []string, isAdmin bool) []string {
	out := make([]string, 0, len(organizations)+1)
	for _, org := range organizations {
		if strings.TrimSpace(org) == "" {
			continue
		}
		out = append(out, OrganizationSubject(org))
	}
	if isAdmin {
		out = append(out, RoleAdmin)
	}
	return out
}
