package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Hooks 是一个调用方的生命周期回调，全部可选。
type Hooks struct {
	OnStart      func()
	OnProgress   func(percent int)
	OnDownloaded func()
	OnLoaded     func()
	OnError      func(message string)
	OnEnd        func()
}

// Settings 是单个请求的配置，请求启动后不可再修改。
type Settings struct {
	Cached             bool
	FadeDuration       time.Duration
	TargetAlpha        float64
	AuthToken          string
	LoadingPlaceholder []byte
	ErrorPlaceholder   []byte
	EnableLog          bool
}

// subscriber 是挂在某个 Job（或一次缓存命中）上的单个调用方。
type subscriber struct {
	id       string
	url      string
	key      string
	hooks    Hooks
	settings Settings
	sink     Sink
	owner    func() bool
	log      *logrus.Entry

	cancelled atomic.Bool
	cacheHit  atomic.Bool

	mu  sync.Mutex
	err error

	done     chan struct{}
	doneOnce sync.Once
}

// live 在每次回调前检查：调用方已被销毁或已取消的订阅者被静默跳过。
func (s *subscriber) live() bool {
	if s.cancelled.Load() {
		return false
	}
	return s.owner == nil || s.owner()
}

func (s *subscriber) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *subscriber) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *subscriber) result() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// trace 按请求的日志开关决定级别：开启时 Info，否则 Debug。
func (s *subscriber) trace(msg string, fields logrus.Fields) {
	level := logrus.DebugLevel
	if s.settings.EnableLog {
		level = logrus.InfoLevel
	}
	entry := s.log
	if len(fields) > 0 {
		entry = entry.WithFields(fields)
	}
	entry.Log(level, msg)
}
