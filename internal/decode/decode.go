// Package decode turns cached bytes into engine.Image values. Only the image
// header is parsed; pixel data stays encoded and is handed to the sink as-is.
package decode

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/any-hub/pixcache/internal/engine"
)

// ErrEmpty 表示缓存条目为空。
var ErrEmpty = errors.New("empty image payload")

// HeaderDecoder 通过 image.DecodeConfig 识别格式与尺寸。
type HeaderDecoder struct{}

var _ engine.Decoder = HeaderDecoder{}

// Decode 实现 engine.Decoder。
func (HeaderDecoder) Decode(data []byte) (engine.Image, error) {
	if len(data) == 0 {
		return engine.Image{}, ErrEmpty
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return engine.Image{}, fmt.Errorf("decode image header: %w", err)
	}
	return engine.Image{
		Data:   data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
