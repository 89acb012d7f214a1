package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/pixcache/internal/engine"
	"github.com/any-hub/pixcache/internal/logging"
)

// fetchHandler 实现 GET /fetch?url=&cache=&token=：通过引擎加载图片并等待生命周期结束。
type fetchHandler struct {
	engine  *engine.Engine
	logger  *logrus.Logger
	timeout time.Duration
}

func (h *fetchHandler) Handle(c fiber.Ctx) error {
	rawURL := strings.TrimSpace(c.Query("url"))
	sink := &captureSink{}
	// HTTP 响应只关心最终结果，加载占位图不参与。
	req := h.engine.Load(rawURL).Into(sink).WithLoadingPlaceholder(nil)

	if raw := c.Query("cache"); raw != "" {
		cached, err := strconv.ParseBool(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_cache_flag"})
		}
		req.WithCache(cached)
	}
	if token := c.Query("token"); token != "" {
		req.WithAuthToken(token)
	}
	if c.Query("log") == "1" {
		req.WithLogging(true)
	}

	ctx, cancel := context.WithCancel(c.Context())
	defer cancel()
	stop := context.AfterFunc(c.RequestCtx(), cancel)
	defer stop()

	handle, err := req.Start(ctx)
	if err != nil {
		return h.renderStartError(c, rawURL, err)
	}

	switch awaitHandle(ctx, handle, h.timeout) {
	case waitTimedOut:
		h.log(c, rawURL, handle.CacheHit(), fiber.StatusGatewayTimeout).Warn("fetch_timeout")
		return c.Status(fiber.StatusGatewayTimeout).JSON(fiber.Map{"error": "timeout"})
	case waitAbandoned:
		h.log(c, rawURL, handle.CacheHit(), statusClientClosed).Info("fetch_abandoned")
		return c.SendStatus(statusClientClosed)
	}

	c.Set("X-Cache", cacheStatus(handle.CacheHit()))
	c.Set("X-Image-Key", handle.Key())

	img, placeholder := sink.result()
	if err := handle.Err(); err != nil || img == nil {
		return h.renderFailure(c, rawURL, handle, err, placeholder)
	}

	c.Set(fiber.HeaderContentType, "image/"+img.Format)
	c.Set("X-Image-Width", strconv.Itoa(img.Width))
	c.Set("X-Image-Height", strconv.Itoa(img.Height))
	h.log(c, rawURL, handle.CacheHit(), fiber.StatusOK).Info("fetch_completed")
	return c.Status(fiber.StatusOK).Send(img.Data)
}

// statusClientClosed 记录客户端在结果就绪前离开的请求。
const statusClientClosed = 499

type waitOutcome int

const (
	waitFinished waitOutcome = iota
	waitTimedOut
	waitAbandoned
)

// awaitHandle 等待 handle 结束。超时或 ctx 结束（客户端断开、服务关闭）时释放 handle，
// 订阅者随即从 Job 上摘除。
func awaitHandle(ctx context.Context, handle *engine.Handle, timeout time.Duration) waitOutcome {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-handle.Done():
		return waitFinished
	case <-timer.C:
		handle.Dispose()
		return waitTimedOut
	case <-ctx.Done():
		handle.Dispose()
		return waitAbandoned
	}
}

func (h *fetchHandler) renderStartError(c fiber.Ctx, rawURL string, err error) error {
	status := fiber.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, engine.ErrConfiguration):
		status, code = fiber.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrEngineClosed):
		status, code = fiber.StatusServiceUnavailable, "shutting_down"
	}
	h.log(c, rawURL, false, status).WithError(err).Warn("fetch_rejected")
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}

// renderFailure 在配置了错误占位图时返回占位图（仍使用 502），否则返回 JSON 错误。
func (h *fetchHandler) renderFailure(c fiber.Ctx, rawURL string, handle *engine.Handle, err error, placeholder []byte) error {
	message := "image unavailable"
	if err != nil {
		message = err.Error()
	}
	h.log(c, rawURL, handle.CacheHit(), fiber.StatusBadGateway).WithError(err).Warn("fetch_failed")

	if len(placeholder) > 0 {
		c.Set(fiber.HeaderContentType, http.DetectContentType(placeholder))
		c.Set("X-Error", message)
		return c.Status(fiber.StatusBadGateway).Send(placeholder)
	}
	return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "fetch_failed", "message": message})
}

func (h *fetchHandler) log(c fiber.Ctx, rawURL string, cacheHit bool, status int) *logrus.Entry {
	return h.logger.WithFields(logging.RequestFields(RequestID(c), rawURL, cacheHit, status))
}

func cacheStatus(hit bool) string {
	if hit {
		return "HIT"
	}
	return "MISS"
}
