package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pixcache/internal/cache"
	"github.com/any-hub/pixcache/internal/fingerprint"
	"github.com/any-hub/pixcache/internal/logging"
)

// Options 汇总 Engine 的依赖。Registry 为空时由 Engine 自建。
type Options struct {
	Store    cache.Store
	Fetcher  Fetcher
	Decoder  Decoder
	Registry *Registry
	Logger   *logrus.Logger
	Defaults Settings
}

// Engine 负责“缓存命中 → 合并到在途 Job → 新建 Job 回源”的编排。
type Engine struct {
	store    cache.Store
	fetcher  Fetcher
	decoder  Decoder
	registry *Registry
	logger   *logrus.Logger
	defaults Settings
	closed   atomic.Bool
}

// New constructs an Engine; store, fetcher and decoder are required.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Decoder == nil {
		return nil, errors.New("decoder is required")
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{
		store:    opts.Store,
		fetcher:  opts.Fetcher,
		decoder:  opts.Decoder,
		registry: registry,
		logger:   logger,
		defaults: opts.Defaults,
	}, nil
}

// Registry 返回 Engine 使用的在途任务登记表。
func (e *Engine) Registry() *Registry { return e.registry }

// Close 取消所有在途 Job，之后的 Start 返回 ErrEngineClosed。
func (e *Engine) Close(ctx context.Context) {
	if e.closed.Swap(true) {
		return
	}
	e.registry.Shutdown(ctx)
	e.logger.WithField("action", "engine_close").Info("engine_closed")
}

// Load 为 rawURL 创建一个请求构建器，初始配置取自 Options.Defaults。
func (e *Engine) Load(rawURL string) *Request {
	return &Request{
		engine:   e,
		url:      rawURL,
		settings: e.defaults,
	}
}

// start 是 Request.Start 的实际实现。
func (e *Engine) start(ctx context.Context, r *Request) (*Handle, error) {
	if e.closed.Load() {
		return nil, ErrEngineClosed
	}

	normalized, err := normalizeURL(r.url)
	if err != nil {
		e.logger.WithError(err).WithField("action", "request_start").Warn("request_rejected")
		return nil, err
	}
	if r.sink == nil {
		err := configError("target", "target has not been set, use Into to set a sink")
		e.logger.WithError(err).WithField("action", "request_start").Warn("request_rejected")
		return nil, err
	}

	key := fingerprint.Compute(normalized)
	sub := &subscriber{
		id:       uuid.NewString(),
		url:      normalized,
		key:      key,
		hooks:    r.hooks,
		settings: cloneSettings(r.settings),
		sink:     r.sink,
		owner:    r.owner,
		done:     make(chan struct{}),
	}
	sub.log = e.logger.WithFields(logging.JobFields(key, normalized, sub.id))
	sub.trace("request_started", logrus.Fields{"cached": sub.settings.Cached})

	handle := &Handle{sub: sub}

	if len(sub.settings.LoadingPlaceholder) > 0 {
		safeInvoke(sub, "loading_placeholder", materializeLoadingPlaceholder)
	}

	if sub.settings.Cached && e.store.Has(ctx, key) {
		sub.cacheHit.Store(true)
		go e.serveFromCache(sub)
		return handle, nil
	}

	job, isNew, err := e.registry.AttachOrCreate(key, sub, FetchRequest{
		URL:    normalized,
		Header: requestHeader(sub.settings.AuthToken),
	})
	if err != nil {
		return nil, err
	}
	handle.job = job
	if isNew {
		sub.trace("job_created", nil)
		go job.run(e)
	} else {
		sub.trace("job_joined", nil)
	}
	return handle, nil
}

// serveFromCache 是缓存命中路径：不经过 Registry，直接以合成进度走完整生命周期。
func (e *Engine) serveFromCache(sub *subscriber) {
	bus := &callbackBus{subs: []*subscriber{sub}, closed: true}
	subs := bus.subs
	ctx := context.Background()

	bus.start(subs)
	bus.progress(subs, 100)

	data, err := e.store.Read(ctx, sub.key)
	if err != nil {
		e.failSolo(bus, subs, &PersistenceError{Op: "read", Key: sub.key, Err: err})
		return
	}
	img, err := e.decoder.Decode(data)
	if err != nil {
		e.deleteEntry(sub.key, sub.log)
		e.failSolo(bus, subs, &DecodeError{Key: sub.key, Err: err})
		return
	}

	bus.downloaded(subs)
	if sub.live() {
		safeInvoke(sub, "materialize", func(sub *subscriber) { materialize(sub, img) })
	}
	bus.loaded(subs)
	bus.end(subs)
	finishAll(subs)
}

func (e *Engine) failSolo(bus *callbackBus, subs []*subscriber, err error) {
	bus.failed(subs, err)
	for _, sub := range subs {
		if sub.live() && len(sub.settings.ErrorPlaceholder) > 0 {
			safeInvoke(sub, "error_placeholder", materializeErrorPlaceholder)
		}
	}
	bus.end(subs)
	finishAll(subs)
}

// deleteEntry 尽力删除缓存条目，失败只记录日志。
func (e *Engine) deleteEntry(key string, log *logrus.Entry) {
	if err := e.store.Delete(context.Background(), key); err != nil {
		log.WithError(err).Warn("cache_delete_failed")
	}
}

func normalizeURL(raw string) (string, error) {
	normalized, err := fingerprint.Normalize(raw)
	switch {
	case errors.Is(err, fingerprint.ErrEmptyURL):
		return "", configError("url", "url has not been set, use Load to set image url")
	case err != nil:
		return "", configError("url", err.Error())
	}
	return normalized, nil
}

func requestHeader(token string) http.Header {
	header := http.Header{}
	if token = strings.TrimSpace(token); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	return header
}

func cloneSettings(s Settings) Settings {
	s.LoadingPlaceholder = append([]byte(nil), s.LoadingPlaceholder...)
	s.ErrorPlaceholder = append([]byte(nil), s.ErrorPlaceholder...)
	return s
}
