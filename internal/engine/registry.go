package engine

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Registry 记录每个指纹当前唯一的活跃 Job，用于合并并发请求。
// 它由 Engine 持有，生命周期随 Engine 的构造与 Close 结束。
type Registry struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	closed bool
}

// NewRegistry 创建空的 Registry。
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// AttachOrCreate 在 key 已有非终态 Job 时把 sub 追加到该 Job 并返回 isNew=false，
// 调用方不应再次回源；否则创建并登记新的 Pending Job，返回 isNew=true，由调用方启动回源。
// 检查与创建在同一把锁内完成。
func (r *Registry) AttachOrCreate(key string, sub *subscriber, req FetchRequest) (*Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, false, ErrEngineClosed
	}

	if job, ok := r.jobs[key]; ok {
		if job.bus.attach(sub) {
			return job, false, nil
		}
		// 已进入终态或已取消但尚未注销，由新 Job 接替。
	}

	job := newJob(key, req, r)
	job.bus.attach(sub)
	r.jobs[key] = job
	return job, true, nil
}

// Deregister 仅在 key 仍指向 job 时移除，避免误删接替它的新 Job。
func (r *Registry) Deregister(key string, job *Job) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.jobs[key]; ok && current == job {
		delete(r.jobs, key)
		return true
	}
	return false
}

// Lookup 返回 key 对应的活跃 Job。
func (r *Registry) Lookup(key string) (*Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[key]
	return job, ok
}

// Len 返回当前活跃 Job 数量。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// JobInfo 是 Job 的只读快照，供诊断接口输出。
type JobInfo struct {
	Key         string    `json:"key"`
	URL         string    `json:"url"`
	State       string    `json:"state"`
	Progress    int       `json:"progress"`
	Subscribers int       `json:"subscribers"`
	CreatedAt   time.Time `json:"created_at"`
}

// Snapshot 按指纹排序返回所有活跃 Job 的快照。
func (r *Registry) Snapshot() []JobInfo {
	r.mu.Lock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		jobs = append(jobs, job)
	}
	r.mu.Unlock()

	result := make([]JobInfo, 0, len(jobs))
	for _, job := range jobs {
		result = append(result, job.Info())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Key < result[j].Key
	})
	return result
}

// Shutdown 取消所有活跃 Job 并清空登记表，之后 AttachOrCreate 返回 ErrEngineClosed。
func (r *Registry) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	jobs := r.jobs
	r.jobs = make(map[string]*Job)
	r.mu.Unlock()

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		job.abort()
	}
}
