package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

// defaultPolicies let the admin role view every organization's submissions.
// Organizations reach their own through the model matcher instead of stored
// rows.
var defaultPolicies = [][]string{
	{RoleAdmin, "*", ActionSubmissionView},
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

// NewEnforcer loads policies from the casbin_rule table and adds any missing
// default policy.
func NewEnforcer(conn *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(conn)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	// AddPoliciesEx skips rows that already exist.
	if _, err := enforcer.AddPoliciesEx(defaultPolicies); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, subjects []string, object string, action string) error {
	object = strings.TrimSpace(object)
	action = strings.TrimSpace(action)
	switch {
	case object == "":
		return ErrInvalidObject
	case action == "":
		return ErrInvalidAction
	}

	requests := make([][]interface{}, 0, len(subjects))
	for _, subject := range subjects {
		if subject = strings.TrimSpace(subject); subject != "" {
			requests = append(requests, []interface{}{subject, object, action})
		}
	}
	if len(requests) == 0 {
		return ErrForbidden
	}

	decisions, err := s.enforcer.BatchEnforce(requests)
	if err != nil {
		return err
	}
	for _, allowed := range decisions {
		if allowed {
			return nil
		}
	}

	s.log.Debug("authorization denied",
		zap.Strings("subjects", subjects),
		zap.String("object", object),
		zap.String("action", action),
	)
	return ErrForbidden
}
