package lineage

import (
	"github.com/smallbiznis/primerouter/internal/lineage/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("lineage.repository",
	fx.Provide(repository.Provide),
)
