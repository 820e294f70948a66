package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestContext 单次外层调用的跟踪记录，
// 仅在调用期间存在，完成或失败后移除，不做持久化。
type RequestContext struct {
	ID        string    `json:"id"`
	Method    string    `json:"method"`
	StartedAt time.Time `json:"startedAt"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError,omitempty"`
}

// MethodStats 按方法聚合的调用统计
type MethodStats struct {
	Method        string        `json:"method"`
	Calls         int           `json:"calls"`
	Failures      int           `json:"failures"`
	Retries       int           `json:"retries"`
	TotalDuration time.Duration `json:"totalDuration"`
	// WindowFailures 监控窗口内的失败次数
	WindowFailures int `json:"windowFailures"`
}

// requestTracker 维护活动请求表与方法级统计
type requestTracker struct {
	mu     sync.Mutex
	active map[string]*RequestContext
	stats  map[string]*MethodStats
	// 监控窗口内的失败时间点，过期条目在读取时裁剪
	recentFailures map[string][]time.Time
	window         time.Duration
}

func newRequestTracker(window time.Duration) *requestTracker {
	return &requestTracker{
		active:         make(map[string]*RequestContext),
		stats:          make(map[string]*MethodStats),
		recentFailures: make(map[string][]time.Time),
		window:         window,
	}
}

func (t *requestTracker) begin(method string) *RequestContext {
	req := &RequestContext{
		ID:        uuid.NewString(),
		Method:    method,
		StartedAt: time.Now(),
	}

	t.mu.Lock()
	t.active[req.ID] = req
	if t.stats[method] == nil {
		t.stats[method] = &MethodStats{Method: method}
	}
	t.stats[method].Calls++
	t.mu.Unlock()
	return req
}

func (t *requestTracker) attempt(req *RequestContext, retry bool) {
	t.mu.Lock()
	req.Attempts++
	if retry {
		t.stats[req.Method].Retries++
	}
	t.mu.Unlock()
}

func (t *requestTracker) fail(req *RequestContext, err error) {
	t.mu.Lock()
	req.LastError = err.Error()
	t.stats[req.Method].Failures++
	t.recentFailures[req.Method] = append(t.recentFailures[req.Method], time.Now())
	t.mu.Unlock()
}

func (t *requestTracker) finish(req *RequestContext) {
	t.mu.Lock()
	delete(t.active, req.ID)
	t.stats[req.Method].TotalDuration += time.Since(req.StartedAt)
	t.mu.Unlock()
}

// activeRequests 活动请求快照
func (t *requestTracker) activeRequests() []RequestContext {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]RequestContext, 0, len(t.active))
	for _, req := range t.active {
		out = append(out, *req)
	}
	return out
}

// requestStats 方法级统计快照，窗口失败数按监控周期裁剪
func (t *requestTracker) requestStats() map[string]MethodStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := time.Now().Add(-t.window)
	out := make(map[string]MethodStats, len(t.stats))
	for method, st := range t.stats {
		recent := t.recentFailures[method]
		trimmed := recent[:0]
		for _, ts := range recent {
			if ts.After(cutoff) {
				trimmed = append(trimmed, ts)
			}
		}
		t.recentFailures[method] = trimmed

		copied := *st
		copied.WindowFailures = len(trimmed)
		out[method] = copied
	}
	return out
}
