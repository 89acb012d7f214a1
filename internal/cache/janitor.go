package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tunabay/go-infounit"
)

// Janitor 周期性执行 Evict，把缓存目录压回 MaxCacheSize 以内。
type Janitor struct {
	store    Store
	maxBytes infounit.ByteCount
	interval time.Duration
	logger   *logrus.Logger
}

// NewJanitor 构造 Janitor；interval <= 0 时 Run 只执行一次淘汰就返回。
func NewJanitor(store Store, maxBytes infounit.ByteCount, interval time.Duration, logger *logrus.Logger) *Janitor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Janitor{
		store:    store,
		maxBytes: maxBytes,
		interval: interval,
		logger:   logger,
	}
}

// Run 阻塞直到 ctx 结束，每个周期执行一次淘汰，错误只记录日志。
func (j *Janitor) Run(ctx context.Context) {
	for {
		j.RunOnce(ctx)
		if j.interval <= 0 {
			return
		}

		timer := time.NewTimer(j.interval)
		select {
		case <-ctx.Done():
			if !timer.Stop() {
				<-timer.C
			}
			return
		case <-timer.C:
		}
	}
}

// RunOnce 执行一次淘汰并返回结果。
func (j *Janitor) RunOnce(ctx context.Context) EvictResult {
	result, err := j.store.Evict(ctx, j.maxBytes)
	if err != nil {
		if ctx.Err() == nil {
			j.logger.WithError(err).WithField("action", "cache_evict").Warn("cache_evict_failed")
		}
		return result
	}
	if result.Removed > 0 || result.Failed > 0 {
		j.logger.WithFields(logrus.Fields{
			"action":  "cache_evict",
			"kept":    result.Kept,
			"removed": result.Removed,
			"failed":  result.Failed,
			"freed":   fmtBytes(result.RemovedBytes),
			"limit":   fmtBytes(j.maxBytes),
		}).Info("cache_evicted")
	}
	return result
}
