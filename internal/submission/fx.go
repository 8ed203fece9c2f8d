package submission

import (
	"github.com/smallbiznis/primerouter/internal/submission/service"
	"go.uber.org/fx"
)

var Module = fx.Module("submission.service",
	fx.Provide(service.NewService),
)
