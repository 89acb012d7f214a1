package engine

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// JobState 是下载任务的状态。Succeeded 与 Failed 为终态。
type JobState int

const (
	JobPending JobState = iota
	JobDownloading
	JobSucceeded
	JobFailed
)

func (s JobState) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobDownloading:
		return "downloading"
	case JobSucceeded:
		return "succeeded"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Job 是某个指纹的下载任务，被所有合并进来的请求共享。
type Job struct {
	key       string
	req       FetchRequest
	registry  *Registry
	bus       *callbackBus
	createdAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    JobState
	progress int
	err      error

	cancelled      atomic.Bool
	wrote          atomic.Bool
	deregisterOnce sync.Once
	done           chan struct{}
}

func newJob(key string, req FetchRequest, registry *Registry) *Job {
	ctx, cancel := context.WithCancel(context.Background())
	return &Job{
		key:       key,
		req:       req,
		registry:  registry,
		bus:       newCallbackBus(),
		createdAt: time.Now().UTC(),
		ctx:       ctx,
		cancel:    cancel,
		state:     JobPending,
		progress:  -1,
		done:      make(chan struct{}),
	}
}

// Key 返回 Job 的指纹。
func (j *Job) Key() string { return j.key }

// State 返回当前状态。
func (j *Job) State() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Err 返回失败原因，成功或未结束时为 nil。
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.err
}

// Done 在 Job 完成全部投递或被取消后关闭。
func (j *Job) Done() <-chan struct{} { return j.done }

// Info 返回 Job 的只读快照。
func (j *Job) Info() JobInfo {
	j.mu.Lock()
	state, progress := j.state, j.progress
	j.mu.Unlock()
	if progress < 0 {
		progress = 0
	}
	return JobInfo{
		Key:         j.key,
		URL:         j.req.URL,
		State:       state.String(),
		Progress:    progress,
		Subscribers: j.bus.len(),
		CreatedAt:   j.createdAt,
	}
}

// run 驱动 Pending → Downloading → {Succeeded, Failed}。无论结果如何，
// 返回前都会从 Registry 注销。
func (j *Job) run(e *Engine) {
	defer close(j.done)
	defer j.deregister()

	log := e.logger.WithFields(logrus.Fields{"action": "job", "key": j.key, "url": j.req.URL})

	j.mu.Lock()
	j.state = JobDownloading
	j.mu.Unlock()
	j.bus.start(j.bus.snapshot())
	log.Debug("job_fetch_started")

	data, err := e.fetcher.Fetch(j.ctx, j.req, j.reportProgress)
	if j.cancelled.Load() {
		log.Debug("job_cancelled")
		return
	}
	if err != nil {
		j.fail(e, &TransportError{URL: j.req.URL, Err: err})
		return
	}

	j.reportFinalProgress()

	if _, err := e.store.Write(j.ctx, j.key, bytes.NewReader(data)); err != nil {
		if j.cancelled.Load() {
			return
		}
		j.fail(e, &PersistenceError{Op: "write", Key: j.key, Err: err})
		return
	}
	j.wrote.Store(true)

	stored, err := e.store.Read(j.ctx, j.key)
	if err != nil {
		if j.cancelled.Load() {
			return
		}
		j.fail(e, &PersistenceError{Op: "read", Key: j.key, Err: err})
		return
	}

	img, err := e.decoder.Decode(stored)
	if err != nil {
		// 无法解码的字节不留在缓存里，否则后续命中会一直失败。
		e.deleteEntry(j.key, log)
		j.fail(e, &DecodeError{Key: j.key, Err: err})
		return
	}

	j.succeed(e, img, log)
}

// reportProgress 只投递严格递增且小于 100 的进度；100 由 reportFinalProgress 统一补发。
func (j *Job) reportProgress(percent int) {
	j.mu.Lock()
	if j.state != JobDownloading || percent <= j.progress || percent >= 100 {
		j.mu.Unlock()
		return
	}
	j.progress = percent
	j.mu.Unlock()

	if j.cancelled.Load() {
		return
	}
	j.bus.progress(j.bus.snapshot(), percent)
}

func (j *Job) reportFinalProgress() {
	j.mu.Lock()
	j.progress = 100
	j.mu.Unlock()
	j.bus.progress(j.bus.snapshot(), 100)
}

func (j *Job) succeed(e *Engine, img Image, log *logrus.Entry) {
	subs, ok := j.bus.close()
	if !ok {
		return
	}
	j.mu.Lock()
	j.state = JobSucceeded
	j.mu.Unlock()

	j.bus.downloaded(subs)
	for _, sub := range subs {
		if sub.live() {
			safeInvoke(sub, "materialize", func(sub *subscriber) { materialize(sub, img) })
		}
	}
	j.bus.loaded(subs)
	if declinesCache(subs) {
		e.deleteEntry(j.key, log)
	}
	j.bus.end(subs)
	j.deregister()
	finishAll(subs)
	log.WithField("subscribers", len(subs)).Debug("job_succeeded")
}

func (j *Job) fail(e *Engine, err error) {
	subs, ok := j.bus.close()
	if !ok {
		return
	}
	j.mu.Lock()
	j.state = JobFailed
	j.err = err
	j.mu.Unlock()

	j.bus.failed(subs, err)
	for _, sub := range subs {
		if sub.live() && len(sub.settings.ErrorPlaceholder) > 0 {
			safeInvoke(sub, "error_placeholder", materializeErrorPlaceholder)
		}
	}
	// 只删除本 Job 写入的条目；回源失败时磁盘上更早的有效条目保持不动。
	if j.wrote.Load() && declinesCache(subs) {
		e.deleteEntry(j.key, e.logger.WithField("key", j.key))
	}
	j.bus.end(subs)
	j.deregister()
	finishAll(subs)
}

// detach 在订阅者取消后调用：若已没有存活订阅者，则停止回源并显式注销。
func (j *Job) detach() {
	if !j.bus.closeIfIdle() {
		return
	}
	j.cancelled.Store(true)
	j.cancel()
	j.deregister()
}

// abort 无条件取消 Job，用于 Registry.Shutdown。订阅者不会收到 onEnd。
func (j *Job) abort() {
	j.cancelled.Store(true)
	j.cancel()
	if subs, ok := j.bus.close(); ok {
		finishAll(subs)
	}
}

func (j *Job) deregister() {
	j.deregisterOnce.Do(func() {
		j.registry.Deregister(j.key, j)
		j.cancel()
	})
}

// declinesCache 报告是否有存活订阅者关闭了缓存；只要有一个关闭，条目就在 onEnd 前删除。
func declinesCache(subs []*subscriber) bool {
	for _, sub := range subs {
		if sub.live() && !sub.settings.Cached {
			return true
		}
	}
	return false
}
