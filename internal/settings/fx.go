package settings

import "go.uber.org/fx"

var Module = fx.Module("settings",
	fx.Provide(NewHolder),
	fx.Provide(func(h *Holder) Provider { return h }),
)
