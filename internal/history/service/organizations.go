package service

import (
	"time"

	"github.com/smallbiznis/primerouter/internal/cache"
	historydomain "github.com/smallbiznis/primerouter/internal/history/domain"
	"github.com/smallbiznis/primerouter/internal/settings"
)

const orgNameTTL = 5 * time.Minute

// organizationLookup reads display names from the settings provider. Names
// are cached briefly because settings may be reloaded at runtime.
type organizationLookup struct {
	settings settings.Provider
	names    cache.Cache[string, string]
}

func NewOrganizationLookup(provider settings.Provider) historydomain.OrganizationLookup {
	return &organizationLookup{
		settings: provider,
		names:    cache.NewTTLCache[string, string](),
	}
}

func (l *organizationLookup) DisplayName(organizationID, service string) string {
	key := organizationID + "." + service
	if name, ok := l.names.Get(key); ok {
		return name
	}
	org, _, ok := l.settings.FindOrganizationAndReceiver(key)
	if !ok {
		return ""
	}
	name := org.Description
	if name == "" {
		name = org.Name
	}
	l.names.Set(key, name, orgNameTTL)
	return name
}
