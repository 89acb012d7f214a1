package engine

import (
	"context"
	"net/http"
	"time"
)

// FetchRequest 描述一次回源请求，Header 中已按需带上 Bearer 鉴权头。
type FetchRequest struct {
	URL    string
	Header http.Header
}

// ProgressFunc 接收 0-100 的下载进度。同一次 Fetch 内必须串行调用。
type ProgressFunc func(percent int)

// Fetcher 负责实际的网络传输。引擎本身不设超时，ctx 被取消时实现应尽快返回。
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest, progress ProgressFunc) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, req FetchRequest, progress ProgressFunc) ([]byte, error)

// Fetch makes FetcherFunc satisfy Fetcher.
func (f FetcherFunc) Fetch(ctx context.Context, req FetchRequest, progress ProgressFunc) ([]byte, error) {
	return f(ctx, req, progress)
}

// Image 是解码后的可渲染资源。Data 保留原始字节，供 Sink 自行上传/绘制。
type Image struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Decoder 把缓存中的字节解码为 Image。
type Decoder interface {
	Decode(data []byte) (Image, error)
}

// Sink 是渲染目标。插值、动画与绘制均由 Sink 负责，引擎只做交接。
//
// targetAlpha 为 0 时表示“沿用 Sink 当前的 alpha”，而不是完全透明。
type Sink interface {
	ApplyPlaceholder(payload []byte)
	ApplyImage(img Image, fade time.Duration, targetAlpha float64)
	RestoreAlpha(targetAlpha float64)
}

// ResolveAlpha 按 targetAlpha 的哨兵语义计算最终 alpha，供 Sink 实现复用。
func ResolveAlpha(targetAlpha, current float64) float64 {
	if targetAlpha > 0 {
		return targetAlpha
	}
	return current
}
