package server

import (
	"sync"
	"time"

	"github.com/any-hub/pixcache/internal/engine"
)

// captureSink 把引擎交付的图像或占位图暂存下来，供 HTTP 响应使用。
type captureSink struct {
	mu          sync.Mutex
	image       *engine.Image
	placeholder []byte
}

func (s *captureSink) ApplyPlaceholder(payload []byte) {
	s.mu.Lock()
	s.placeholder = payload
	s.mu.Unlock()
}

func (s *captureSink) ApplyImage(img engine.Image, _ time.Duration, _ float64) {
	s.mu.Lock()
	s.image = &img
	s.mu.Unlock()
}

// RestoreAlpha 对 HTTP 响应没有意义。
func (s *captureSink) RestoreAlpha(float64) {}

func (s *captureSink) result() (*engine.Image, []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image, s.placeholder
}
