package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/primerouter/internal/authorization"
	"github.com/smallbiznis/primerouter/internal/blob"
	"github.com/smallbiznis/primerouter/internal/cache"
	"github.com/smallbiznis/primerouter/internal/clock"
	"github.com/smallbiznis/primerouter/internal/config"
	"github.com/smallbiznis/primerouter/internal/history"
	"github.com/smallbiznis/primerouter/internal/ingest"
	"github.com/smallbiznis/primerouter/internal/lineage"
	"github.com/smallbiznis/primerouter/internal/migration"
	"github.com/smallbiznis/primerouter/internal/observability"
	"github.com/smallbiznis/primerouter/internal/queue"
	"github.com/smallbiznis/primerouter/internal/ratelimit"
	"github.com/smallbiznis/primerouter/internal/server"
	"github.com/smallbiznis/primerouter/internal/settings"
	"github.com/smallbiznis/primerouter/internal/submission"
	"github.com/smallbiznis/primerouter/pkg/db"
	"go.uber.org/fx"
)

func main() {
	fx.New(appOptions()).Run()
}

// appOptions assembles the process graph. The ingest service is provided for
// in-process triggers; the HTTP server only exposes the submission read API.
func appOptions() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		settings.Module,
		lineage.Module,
		authorization.Module,
		blob.Module,
		queue.Module,
		ratelimit.Module,
		cache.Module,
		history.Module,
		ingest.Module,
		submission.Module,
		server.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
