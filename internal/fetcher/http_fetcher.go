package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/pixcache/internal/config"
	"github.com/any-hub/pixcache/internal/engine"
	"github.com/any-hub/pixcache/internal/version"
)

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回回源使用的 http.Client，超时取 UpstreamTimeout。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// StatusError 表示上游返回了非 2xx 状态码。
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream responded %s", e.Status)
}

// Options 控制重试行为；MaxRetries 为 0 时只请求一次。
type Options struct {
	MaxRetries     int
	InitialBackoff time.Duration
}

// HTTPFetcher 是 engine.Fetcher 的默认实现。
type HTTPFetcher struct {
	client  *http.Client
	opts    Options
	logger  *logrus.Logger
	sleeper func(ctx context.Context, d time.Duration) error
}

var _ engine.Fetcher = (*HTTPFetcher)(nil)

// New 创建 HTTPFetcher，client 为空时使用默认配置的共享 transport。
func New(client *http.Client, opts Options, logger *logrus.Logger) *HTTPFetcher {
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &HTTPFetcher{client: client, opts: opts, logger: logger, sleeper: sleepContext}
}

// NewFromConfig 按全局配置构造 HTTPFetcher。
func NewFromConfig(cfg *config.Config, logger *logrus.Logger) *HTTPFetcher {
	return New(NewUpstreamClient(cfg), Options{
		MaxRetries:     cfg.Global.MaxRetries,
		InitialBackoff: cfg.Global.InitialBackoff.DurationValue(),
	}, logger)
}

// Fetch 下载 req.URL 的完整内容。连接错误与 5xx 会按指数退避重试，
// 其他非 2xx 状态直接返回 StatusError。
func (f *HTTPFetcher) Fetch(ctx context.Context, req engine.FetchRequest, progress engine.ProgressFunc) ([]byte, error) {
	log := f.logger.WithFields(logrus.Fields{"action": "upstream_fetch", "url": req.URL})

	var lastErr error
	for attempt := 0; attempt <= f.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := f.opts.InitialBackoff * time.Duration(1<<(attempt-1))
			log.WithFields(logrus.Fields{"attempt": attempt, "delay": delay.String()}).
				WithError(lastErr).Debug("upstream_retry")
			if err := f.sleeper(ctx, delay); err != nil {
				return nil, err
			}
		}

		data, retry, err := f.fetchOnce(ctx, req, progress)
		if err == nil {
			return data, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		lastErr = err
		if !retry {
			break
		}
	}
	log.WithError(lastErr).Debug("upstream_failed")
	return nil, lastErr
}

func (f *HTTPFetcher) fetchOnce(ctx context.Context, req engine.FetchRequest, progress engine.ProgressFunc) ([]byte, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	for key, values := range req.Header {
		for _, value := range values {
			httpReq.Header.Add(key, value)
		}
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		statusErr := &StatusError{StatusCode: resp.StatusCode, Status: resp.Status}
		return nil, resp.StatusCode >= 500, statusErr
	}

	body := io.Reader(resp.Body)
	if resp.ContentLength > 0 && progress != nil {
		body = &progressReader{r: resp.Body, total: resp.ContentLength, report: progress}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, !errors.Is(err, context.Canceled), fmt.Errorf("read body: %w", err)
	}
	return data, false, nil
}

// progressReader 按已读字节数换算百分比；去重与单调性由引擎负责。
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report engine.ProgressFunc
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	if n > 0 {
		p.read += int64(n)
		p.report(int(p.read * 100 / p.total))
	}
	return n, err
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
