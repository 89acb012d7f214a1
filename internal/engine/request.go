package engine

import (
	"context"
	"sync"
	"time"
)

// Request 是 Load 返回的构建器。Start 时配置被复制，之后的修改只影响下一次 Start。
type Request struct {
	engine   *Engine
	url      string
	sink     Sink
	settings Settings
	hooks    Hooks
	owner    func() bool

	mu      sync.Mutex
	current *Handle
}

// Into 设置渲染目标。
func (r *Request) Into(sink Sink) *Request {
	r.sink = sink
	return r
}

// WithCache 设置是否保留缓存；false 时本次下载的条目在 onEnd 之前被删除。
func (r *Request) WithCache(cached bool) *Request {
	r.settings.Cached = cached
	return r
}

// WithFadeDuration 设置淡入时长，0 表示不淡入。
func (r *Request) WithFadeDuration(d time.Duration) *Request {
	r.settings.FadeDuration = d
	return r
}

// WithTargetAlpha 设置淡入的目标 alpha，0 表示沿用 Sink 当前值。
func (r *Request) WithTargetAlpha(alpha float64) *Request {
	r.settings.TargetAlpha = alpha
	return r
}

// WithAuthToken 设置回源时使用的 Bearer token。
func (r *Request) WithAuthToken(token string) *Request {
	r.settings.AuthToken = token
	return r
}

// WithLoadingPlaceholder 设置加载期间显示的占位图。
func (r *Request) WithLoadingPlaceholder(payload []byte) *Request {
	r.settings.LoadingPlaceholder = payload
	return r
}

// WithErrorPlaceholder 设置失败时显示的占位图。
func (r *Request) WithErrorPlaceholder(payload []byte) *Request {
	r.settings.ErrorPlaceholder = payload
	return r
}

// WithLogging 打开后本请求的生命周期日志以 Info 级别输出。
func (r *Request) WithLogging(enable bool) *Request {
	r.settings.EnableLog = enable
	return r
}

// WithOwner 设置存活检查；返回 false 后该请求的回调被静默跳过。
func (r *Request) WithOwner(alive func() bool) *Request {
	r.owner = alive
	return r
}

// WithHooks 一次性设置全部回调。
func (r *Request) WithHooks(hooks Hooks) *Request {
	r.hooks = hooks
	return r
}

func (r *Request) OnStart(fn func()) *Request {
	r.hooks.OnStart = fn
	return r
}

func (r *Request) OnProgress(fn func(percent int)) *Request {
	r.hooks.OnProgress = fn
	return r
}

func (r *Request) OnDownloaded(fn func()) *Request {
	r.hooks.OnDownloaded = fn
	return r
}

func (r *Request) OnLoaded(fn func()) *Request {
	r.hooks.OnLoaded = fn
	return r
}

func (r *Request) OnError(fn func(message string)) *Request {
	r.hooks.OnError = fn
	return r
}

func (r *Request) OnEnd(fn func()) *Request {
	r.hooks.OnEnd = fn
	return r
}

// Start 校验配置并启动加载。配置错误同步返回（errors.Is(err, ErrConfiguration)），
// 不会创建任何 Job。对同一个 Request 再次调用 Start 会先停止上一次的 Handle。
func (r *Request) Start(ctx context.Context) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil {
		r.current.Stop()
		r.current = nil
	}
	handle, err := r.engine.start(ctx, r)
	if err != nil {
		return nil, err
	}
	r.current = handle
	return handle, nil
}

// Handle 是一次 Start 的可取消句柄。
type Handle struct {
	sub *subscriber
	job *Job

	stopOnce sync.Once
}

// Key 返回请求的指纹。
func (h *Handle) Key() string { return h.sub.key }

// URL 返回规范化后的 URL。
func (h *Handle) URL() string { return h.sub.url }

// CacheHit 报告本次请求是否直接由缓存满足。
func (h *Handle) CacheHit() bool { return h.sub.cacheHit.Load() }

// Job 返回本次请求挂载的 Job；缓存命中时为 nil。
func (h *Handle) Job() *Job { return h.job }

// Done 在本请求收到 onEnd 或被取消后关闭。
func (h *Handle) Done() <-chan struct{} { return h.sub.done }

// Err 返回投递给本请求的失败原因。
func (h *Handle) Err() error { return h.sub.result() }

// Wait 阻塞直到 Done 或 ctx 结束。
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.sub.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 取消本请求：不再触发任何回调（包括 onEnd），Sink 的 alpha 恢复到配置值。
// 若 Job 上已没有存活的订阅者，则停止回源并从 Registry 注销。
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		sub := h.sub
		sub.cancelled.Store(true)
		if h.job != nil {
			h.job.detach()
		}
		settings := sub.settings
		if settings.TargetAlpha > 0 && settings.FadeDuration > 0 && sub.sink != nil {
			sub.sink.RestoreAlpha(settings.TargetAlpha)
		}
		sub.trace("request_stopped", nil)
		sub.finish()
	})
}

// Dispose 等同于 Stop，供持有方在销毁时调用。
func (h *Handle) Dispose() {
	h.Stop()
	h.sub.trace("request_disposed", nil)
}
