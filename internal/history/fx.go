package history

import (
	"github.com/smallbiznis/primerouter/internal/history/service"
	"go.uber.org/fx"
)

var Module = fx.Module("history.service",
	fx.Provide(
		service.NewOrganizationLookup,
		service.NewEngine,
	),
)
