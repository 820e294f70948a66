package engine

import (
	"sync"
	"time"

	"CoralPlay/model"

	"github.com/faiface/beep"
)

// BufferHandle 一条曲目的解码缓冲与其专属图节点。
// 由加载它的引擎独占，停止/卸载时从表中移除。
type BufferHandle struct {
	Track  *model.Track
	Buffer *beep.Buffer
	Format beep.Format

	mu        sync.Mutex
	loaded    bool
	gain      *gainNode
	ctrl      *beep.Ctrl
	resampler *beep.Resampler
	startedAt time.Duration // 源开始播放时的图时钟
}

// IsLoaded 解码成功完成后才可播放
func (h *BufferHandle) IsLoaded() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loaded
}

// SetGain 设置该曲目的独立增益（过渡引擎驱动淡入淡出）
func (h *BufferHandle) SetGain(v float64) {
	h.mu.Lock()
	g := h.gain
	h.mu.Unlock()
	if g != nil {
		g.SetGain(v)
	}
}

// Gain 返回该曲目的独立增益；尚未建源时为 1
func (h *BufferHandle) Gain() float64 {
	h.mu.Lock()
	g := h.gain
	h.mu.Unlock()
	if g == nil {
		return 1
	}
	return g.Gain()
}

// Duration 缓冲时长
func (h *BufferHandle) Duration() time.Duration {
	if h.Buffer == nil {
		return 0
	}
	return h.Format.SampleRate.D(h.Buffer.Len())
}

// bufferArena 曲目ID → 缓冲句柄的所有权表，
// 随引擎实例存在，条目在停止/卸载时移除，长会话下不会无界增长。
type bufferArena struct {
	mu      sync.RWMutex
	entries map[string]*BufferHandle
}

func newBufferArena() *bufferArena {
	return &bufferArena{entries: make(map[string]*BufferHandle)}
}

func (a *bufferArena) put(id string, h *BufferHandle) {
	a.mu.Lock()
	a.entries[id] = h
	a.mu.Unlock()
}

func (a *bufferArena) get(id string) *BufferHandle {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.entries[id]
}

func (a *bufferArena) remove(id string) {
	a.mu.Lock()
	delete(a.entries, id)
	a.mu.Unlock()
}

func (a *bufferArena) size() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}

func (a *bufferArena) clear() {
	a.mu.Lock()
	a.entries = make(map[string]*BufferHandle)
	a.mu.Unlock()
}
