package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/primerouter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("blob",
	fx.Provide(NewStore),
)

type Params struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

// NewStore builds the configured backend: fs (default), s3, gcs or memory.
func NewStore(p Params) (Store, error) {
	cfg := p.Config.Blob
	ctx := context.Background()
	kind := strings.ToLower(strings.TrimSpace(cfg.Type))

	var (
		store Store
		err   error
	)
	switch kind {
	case "", "fs":
		store, err = NewFileStore(cfg.Dir)
	case "s3":
		store, err = NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			Prefix:   cfg.S3Prefix,
		})
	case "gcs":
		var gcs *GCSStore
		gcs, err = NewGCSStore(ctx, GCSStoreConfig{Bucket: cfg.GCSBucket, Prefix: cfg.GCSPrefix})
		if err == nil {
			p.Lifecycle.Append(fx.Hook{OnStop: func(context.Context) error { return gcs.Close() }})
			store = gcs
		}
	case "memory":
		store = NewMemoryStore()
	default:
		return nil, fmt.Errorf("unsupported blob storage type: %s", cfg.Type)
	}
	if err != nil {
		return nil, err
	}

	p.Log.Named("blob").Info("blob store ready", zap.String("type", kind))
	return store, nil
}
