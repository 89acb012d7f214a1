package engine

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// callbackBus 按挂载顺序把事件投递给当前已挂载的订阅者。订阅者列表只追加，
// 直到 close 之后不再接受新的订阅者。
type callbackBus struct {
	mu     sync.Mutex
	subs   []*subscriber
	closed bool
}

func newCallbackBus() *callbackBus {
	return &callbackBus{}
}

// attach 追加订阅者；bus 已关闭（Job 进入终态）时返回 false。
func (b *callbackBus) attach(sub *subscriber) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.subs = append(b.subs, sub)
	return true
}

// snapshot 返回事件触发这一刻已挂载的订阅者。
func (b *callbackBus) snapshot() []*subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*subscriber(nil), b.subs...)
}

// close 把 bus 标记为终态并返回最终订阅者列表；已关闭时 ok 为 false。
func (b *callbackBus) close() ([]*subscriber, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, false
	}
	b.closed = true
	return append([]*subscriber(nil), b.subs...), true
}

// closeIfIdle 在没有任何存活订阅者时关闭 bus，用于取消路径。
func (b *callbackBus) closeIfIdle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	for _, sub := range b.subs {
		if sub.live() {
			return false
		}
	}
	b.closed = true
	return true
}

func (b *callbackBus) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

func (b *callbackBus) start(subs []*subscriber) {
	b.dispatch(subs, "on_start", func(sub *subscriber) {
		sub.trace("job_started", nil)
		if sub.hooks.OnStart != nil {
			sub.hooks.OnStart()
		}
	})
}

func (b *callbackBus) progress(subs []*subscriber, percent int) {
	b.dispatch(subs, "on_progress", func(sub *subscriber) {
		sub.trace("job_progress", logrus.Fields{"progress": percent})
		if sub.hooks.OnProgress != nil {
			sub.hooks.OnProgress(percent)
		}
	})
}

func (b *callbackBus) downloaded(subs []*subscriber) {
	b.dispatch(subs, "on_downloaded", func(sub *subscriber) {
		sub.trace("job_downloaded", nil)
		if sub.hooks.OnDownloaded != nil {
			sub.hooks.OnDownloaded()
		}
	})
}

func (b *callbackBus) loaded(subs []*subscriber) {
	b.dispatch(subs, "on_loaded", func(sub *subscriber) {
		sub.trace("job_loaded", nil)
		if sub.hooks.OnLoaded != nil {
			sub.hooks.OnLoaded()
		}
	})
}

func (b *callbackBus) failed(subs []*subscriber, err error) {
	message := err.Error()
	b.dispatch(subs, "on_error", func(sub *subscriber) {
		sub.setErr(err)
		sub.log.WithError(err).Warn("job_failed")
		if sub.hooks.OnError != nil {
			sub.hooks.OnError(message)
		}
	})
}

func (b *callbackBus) end(subs []*subscriber) {
	b.dispatch(subs, "on_end", func(sub *subscriber) {
		sub.trace("job_finished", nil)
		if sub.hooks.OnEnd != nil {
			sub.hooks.OnEnd()
		}
	})
}

// finishAll 关闭所有订阅者的 Done 通道，包括被跳过的订阅者。
func finishAll(subs []*subscriber) {
	for _, sub := range subs {
		sub.finish()
	}
}

func (b *callbackBus) dispatch(subs []*subscriber, event string, fn func(*subscriber)) {
	for _, sub := range subs {
		if !sub.live() {
			continue
		}
		safeInvoke(sub, event, fn)
	}
}

// safeInvoke 隔离单个回调的 panic，避免一个调用方拖垮同一 Job 的其他订阅者。
func safeInvoke(sub *subscriber, event string, fn func(*subscriber)) {
	defer func() {
		if r := recover(); r != nil {
			sub.log.WithFields(logrus.Fields{
				"event": event,
				"error": fmt.Sprintf("panic: %v", r),
			}).Error("callback_panic")
		}
	}()
	fn(sub)
}
