package ratelimit

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/primerouter/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const senderKeyPrefix = "ingest:lock:sender:"

var ErrSenderBusy = errors.New("sender_busy")

// SenderLock serializes ingestion per sender across instances so two copies
// of one file cannot both pass the historical duplicate check. When disabled
// every acquire succeeds.
type SenderLock struct {
	enabled bool
	locker  *redislock.Client
	ttl     time.Duration
	wait    time.Duration
	poll    time.Duration
}

type SenderLockParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    config.Config
	Log       *zap.Logger
}

func NewSenderLock(p SenderLockParams) (*SenderLock, error) {
	lockCfg := p.Config.Lock
	if !lockCfg.Enabled {
		return &SenderLock{}, nil
	}

	addr := strings.TrimSpace(lockCfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("ingest lock redis addr is required")
	}
	ttl := time.Duration(lockCfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		return nil, errors.New("ingest lock ttl must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(lockCfg.RedisPassword),
		DB:       lockCfg.RedisDB,
	})
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	}
	p.Log.Named("ratelimit").Info("ingest sender lock enabled", zap.String("addr", addr), zap.Duration("ttl", ttl))

	return &SenderLock{
		enabled: true,
		locker:  redislock.New(client),
		ttl:     ttl,
		wait:    ttl,
		poll:    50 * time.Millisecond,
	}, nil
}

func (l *SenderLock) Enabled() bool {
	return l != nil && l.enabled
}

// Acquire blocks until the sender's lease is held, the wait elapses or ctx is
// done. The returned release func is always non-nil. A lease that outlived
// its TTL and was taken over is never released by its old holder.
func (l *SenderLock) Acquire(ctx context.Context, senderFullName string) (func(), error) {
	if !l.Enabled() {
		return func() {}, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	lease, err := l.locker.Obtain(waitCtx, senderKey(senderFullName), l.ttl, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(l.poll),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return func() {}, ctxErr
		}
		if errors.Is(err, redislock.ErrNotObtained) || errors.Is(err, context.DeadlineExceeded) {
			return func() {}, ErrSenderBusy
		}
		return func() {}, err
	}

	return func() {
		_ = lease.Release(context.WithoutCancel(ctx))
	}, nil
}

func senderKey(sender string) string {
	return senderKeyPrefix + strings.TrimSpace(sender)
}
