package cache

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tunabay/go-infounit"

	"github.com/any-hub/pixcache/internal/fingerprint"
)

// Maintenance 是与任何下载任务无关的进程级缓存维护入口。所有操作尽力而为：
// 失败只写日志，不向调用方传播。
type Maintenance struct {
	store  Store
	logger *logrus.Logger
}

// NewMaintenance 包装 store，logger 为空时使用 logrus 全局实例。
func NewMaintenance(store Store, logger *logrus.Logger) *Maintenance {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Maintenance{store: store, logger: logger}
}

// ClearOne 删除 url 对应的缓存条目。
func (m *Maintenance) ClearOne(ctx context.Context, url string) {
	key := fingerprint.ForURL(url)
	fields := logrus.Fields{"action": "cache_clear", "url": url, "key": key}
	if err := m.store.Delete(ctx, key); err != nil {
		m.logger.WithError(err).WithFields(fields).Warn("cache_clear_failed")
		return
	}
	m.logger.WithFields(fields).Info("cache_cleared")
}

// ClearOverLimit 执行一次淘汰，使缓存总大小不超过 maxBytes。
func (m *Maintenance) ClearOverLimit(ctx context.Context, maxBytes infounit.ByteCount) EvictResult {
	result, err := m.store.Evict(ctx, maxBytes)
	fields := logrus.Fields{"action": "cache_evict", "limit": fmtBytes(maxBytes)}
	if err != nil {
		m.logger.WithError(err).WithFields(fields).Warn("cache_evict_failed")
		return result
	}
	fields["kept"] = result.Kept
	fields["removed"] = result.Removed
	fields["freed"] = fmtBytes(result.RemovedBytes)
	m.logger.WithFields(fields).Info("cache_evicted")
	return result
}

// ClearAll 删除全部缓存条目。
func (m *Maintenance) ClearAll(ctx context.Context) {
	if err := m.store.ClearAll(ctx); err != nil {
		m.logger.WithError(err).WithField("action", "cache_clear_all").Warn("cache_clear_failed")
		return
	}
	m.logger.WithField("action", "cache_clear_all").Info("cache_cleared")
}

// Entries 返回当前缓存条目，失败时返回空列表。
func (m *Maintenance) Entries(ctx context.Context) []Entry {
	entries, err := m.store.Entries(ctx)
	if err != nil {
		m.logger.WithError(err).WithField("action", "cache_list").Warn("cache_list_failed")
		return nil
	}
	return entries
}

func fmtBytes(n infounit.ByteCount) string {
	return fmt.Sprintf("%.1S", n)
}
