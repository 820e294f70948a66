package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"CoralPlay/config"
	"CoralPlay/core/event"
	"CoralPlay/logger"
	"CoralPlay/model"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/wav"
)

// State 引擎播放状态
type State string

const (
	StateIdle    State = "idle"
	StatePlaying State = "playing"
	StatePaused  State = "paused"
)

// 播放速率的允许区间
const (
	MinPlaybackRate = 0.25
	MaxPlaybackRate = 4.0
)

// Fetcher 拉取一条曲目的完整音频数据。
// 引擎自身不重试，重试由上游的流客户端负责。
type Fetcher interface {
	FetchAudio(ctx context.Context, track *model.Track) (data []byte, format string, err error)
}

// Engine 播放引擎：维护唯一的活动音频图与其计时。
// 主链 mixer → 主增益 → 三段EQ → 压缩器 → 分析器 → 图时钟 → 输出。
type Engine struct {
	mu      sync.Mutex
	cfg     *config.Config
	bus     *event.Bus
	out     Output
	fetcher Fetcher

	sampleRate beep.SampleRate
	mixer      *beep.Mixer
	master     *gainNode
	eq         *eqNode
	comp       *compressorNode
	analyser   *analyserNode
	clock      *clockNode

	arena   *bufferArena
	current *BufferHandle

	state  State
	volume float64
	rate   float64

	startOffset time.Duration // 当前曲目内的起始偏移
	startClock  time.Duration // 本次播放开始时的图时钟

	loadGen     uint64 // 过期加载检测
	initialized bool
	closed      bool
}

// NewEngine 创建播放引擎。out 为 nil 时使用系统扬声器。
func NewEngine(cfg *config.Config, bus *event.Bus, fetcher Fetcher, out Output) *Engine {
	if out == nil {
		out = NewSpeakerOutput()
	}
	return &Engine{
		cfg:     cfg,
		bus:     bus,
		out:     out,
		fetcher: fetcher,
		arena:   newBufferArena(),
		state:   StateIdle,
		volume:  1.0,
		rate:    1.0,
	}
}

// Initialize 构建音频处理图并启动输出。
// 平台音频子系统不可用时返回 model.ErrEngineInit。
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.initialized {
		return nil
	}

	sr := beep.SampleRate(e.cfg.SampleRate)
	if err := e.out.Init(sr, e.cfg.BufferSize); err != nil {
		return fmt.Errorf("%w: %v", model.ErrEngineInit, err)
	}

	e.sampleRate = sr
	e.mixer = &beep.Mixer{}
	e.master = newGainNode(e.mixer, e.volume)
	e.eq = newEQNode(e.master, sr)
	e.comp = newCompressorNode(e.eq, sr)
	e.analyser = newAnalyserNode(e.comp)
	e.clock = newClockNode(e.analyser, sr)

	e.out.Play(e.clock)
	e.initialized = true

	logger.Info("播放引擎初始化完成",
		logger.Int("sampleRate", e.cfg.SampleRate),
		logger.Int("bufferSize", e.cfg.BufferSize))
	return nil
}

// decodeBuffer 解码整段音频到内存缓冲
func decodeBuffer(data []byte, format string) (*beep.Buffer, beep.Format, error) {
	rc := io.NopCloser(bytes.NewReader(data))

	var (
		streamer beep.StreamSeeker
		bformat  beep.Format
		err      error
	)
	switch strings.ToLower(format) {
	case "wav":
		streamer, bformat, err = wav.Decode(rc)
	default:
		streamer, bformat, err = mp3.Decode(rc)
	}
	if err != nil {
		return nil, beep.Format{}, err
	}

	buf := beep.NewBuffer(bformat)
	buf.Append(streamer)
	return buf, bformat, nil
}

// LoadTrack 停止当前源，拉取并解码曲目，建立新的源节点。
// 失败返回 *model.LoadError（区分网络/解码），且之前的播放保持停止。
// 加载期间曲目被切换时，过期的完成按无操作处理。
func (e *Engine) LoadTrack(ctx context.Context, track *model.Track) error {
	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return model.ErrEngineInit
	}
	e.loadGen++
	gen := e.loadGen
	e.stopLocked()
	e.mu.Unlock()

	data, format, err := e.fetcher.FetchAudio(ctx, track)
	if err != nil {
		lerr := model.NewLoadError(model.LoadErrorNetwork, track.ID, err)
		e.bus.Emit(model.EventError, model.ErrorData{Op: "loadTrack", Error: lerr.Error()})
		return lerr
	}

	buf, bformat, err := decodeBuffer(data, format)
	if err != nil {
		lerr := model.NewLoadError(model.LoadErrorDecode, track.ID, err)
		e.bus.Emit(model.EventError, model.ErrorData{Op: "loadTrack", Error: lerr.Error()})
		return lerr
	}

	e.mu.Lock()
	if e.closed || gen != e.loadGen {
		// 过期加载：期间来了新的命令
		e.mu.Unlock()
		logger.Debug("忽略过期的加载完成", logger.String("trackId", track.ID))
		return nil
	}
	h := &BufferHandle{Track: track, Buffer: buf, Format: bformat, loaded: true}
	e.arena.put(track.ID, h)
	e.current = h
	e.state = StateIdle
	e.startOffset = 0
	e.mu.Unlock()

	logger.Debug("曲目加载完成",
		logger.String("trackId", track.ID),
		logger.Duration("duration", h.Duration()))
	return nil
}

// Preload 解码曲目到缓冲表但不播放，用于让后续过渡不阻塞
func (e *Engine) Preload(ctx context.Context, track *model.Track) error {
	if h := e.arena.get(track.ID); h != nil && h.IsLoaded() {
		return nil
	}

	data, format, err := e.fetcher.FetchAudio(ctx, track)
	if err != nil {
		return model.NewLoadError(model.LoadErrorNetwork, track.ID, err)
	}
	buf, bformat, err := decodeBuffer(data, format)
	if err != nil {
		return model.NewLoadError(model.LoadErrorDecode, track.ID, err)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.arena.put(track.ID, &BufferHandle{Track: track, Buffer: buf, Format: bformat, loaded: true})
	e.mu.Unlock()
	return nil
}

// attachSource 为句柄建源并挂到混音器。调用方持有 e.mu。
func (e *Engine) attachSource(h *BufferHandle, from time.Duration, initialGain float64, paused bool) {
	start := h.Format.SampleRate.N(from)
	if start > h.Buffer.Len() {
		start = h.Buffer.Len()
	}
	seeker := h.Buffer.Streamer(start, h.Buffer.Len())

	base := float64(h.Format.SampleRate) / float64(e.sampleRate)
	res := beep.ResampleRatio(4, base*e.rate, seeker)
	gain := newGainNode(res, initialGain)
	ctrl := &beep.Ctrl{
		Streamer: beep.Seq(gain, beep.Callback(func() {
			// 回调发生在输出锁内，转到新 goroutine 处理
			go e.handleSourceEnd(h)
		})),
		Paused: paused,
	}

	h.mu.Lock()
	h.gain = gain
	h.ctrl = ctrl
	h.resampler = res
	h.startedAt = e.clock.Now()
	h.mu.Unlock()

	e.out.Lock()
	e.mixer.Add(ctrl)
	e.out.Unlock()
}

// detachSource 把句柄的源从混音器摘除（置空后混音器自动丢弃）
func (e *Engine) detachSource(h *BufferHandle) {
	h.mu.Lock()
	ctrl := h.ctrl
	h.ctrl = nil
	h.mu.Unlock()

	if ctrl != nil {
		e.out.Lock()
		ctrl.Streamer = nil
		e.out.Unlock()
	}
}

// Play 开始或恢复播放
func (e *Engine) Play() error {
	e.mu.Lock()

	switch e.state {
	case StatePlaying:
		e.mu.Unlock()
		return nil
	case StatePaused:
		h := e.current
		h.mu.Lock()
		ctrl := h.ctrl
		h.mu.Unlock()
		e.out.Lock()
		ctrl.Paused = false
		e.out.Unlock()
		e.startClock = e.clock.Now()
		e.state = StatePlaying
	default:
		if e.current == nil || !e.current.IsLoaded() {
			e.mu.Unlock()
			return model.ErrTrackNotLoaded
		}
		e.attachSource(e.current, e.startOffset, 1.0, false)
		e.startClock = e.clock.Now()
		e.state = StatePlaying
	}

	track := e.current.Track
	e.mu.Unlock()

	e.bus.Emit(model.EventPlay, track)
	return nil
}

// Pause 暂停并记录已播放时间，恢复时从同一偏移继续。
// 对已暂停的引擎调用是无操作。
func (e *Engine) Pause() {
	e.mu.Lock()
	if e.state != StatePlaying {
		e.mu.Unlock()
		return
	}

	e.startOffset = e.currentTimeLocked()
	h := e.current
	h.mu.Lock()
	ctrl := h.ctrl
	h.mu.Unlock()
	e.out.Lock()
	ctrl.Paused = true
	e.out.Unlock()
	e.state = StatePaused
	track := e.current.Track
	e.mu.Unlock()

	e.bus.Emit(model.EventPause, track)
}

// Stop 停止播放并卸载当前缓冲，偏移归零。
// 对已停止的引擎调用是无操作。
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == StateIdle && e.current == nil {
		e.mu.Unlock()
		return
	}
	e.stopLocked()
	e.mu.Unlock()

	e.bus.Emit(model.EventStop, nil)
}

// stopLocked 摘除并卸载当前源。调用方持有 e.mu。
func (e *Engine) stopLocked() {
	if e.current != nil {
		e.detachSource(e.current)
		e.arena.remove(e.current.Track.ID)
		e.current = nil
	}
	e.state = StateIdle
	e.startOffset = 0
}

// Seek 跳转到指定位置，越界会被收敛到 [0, duration]。
// 播放中按 暂停→重定位→恢复 处理，图不会带着过期偏移运行。
func (e *Engine) Seek(pos time.Duration) error {
	e.mu.Lock()
	if e.current == nil {
		e.mu.Unlock()
		return model.ErrTrackNotLoaded
	}

	dur := e.current.Duration()
	if pos < 0 {
		pos = 0
	}
	if pos > dur {
		pos = dur
	}

	h := e.current
	h.mu.Lock()
	hasSource := h.ctrl != nil
	h.mu.Unlock()

	if hasSource {
		prevGain := h.Gain()
		e.detachSource(h)
		e.attachSource(h, pos, prevGain, e.state == StatePaused)
	}

	e.startOffset = pos
	if e.state == StatePlaying {
		e.startClock = e.clock.Now()
	}
	e.mu.Unlock()

	e.bus.Emit(model.EventSeek, pos.Seconds())
	return nil
}

// SetVolume 设置主音量，收敛到 [0,1]，立即作用于活动图
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = clampUnit(v)
	if e.master != nil {
		e.master.SetGain(e.volume)
	}
	vol := e.volume
	e.mu.Unlock()

	e.bus.Emit(model.EventVolume, vol)
}

// Volume 返回当前主音量
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// SetMuted 静音开关，不改变记录的音量值
func (e *Engine) SetMuted(m bool) {
	e.mu.Lock()
	if e.master != nil {
		e.master.SetMuted(m)
	}
	e.mu.Unlock()
}

// Muted 返回静音状态
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.master == nil {
		return false
	}
	return e.master.Muted()
}

// SetPlaybackRate 设置播放速率，收敛到 [0.25, 4.0]
func (e *Engine) SetPlaybackRate(r float64) {
	if r < MinPlaybackRate {
		r = MinPlaybackRate
	}
	if r > MaxPlaybackRate {
		r = MaxPlaybackRate
	}

	e.mu.Lock()
	// 先固化已播放时间，避免速率切换造成时间跳变
	if e.state == StatePlaying {
		e.startOffset = e.currentTimeLocked()
		e.startClock = e.clock.Now()
	}
	e.rate = r

	if e.current != nil {
		h := e.current
		h.mu.Lock()
		res := h.resampler
		h.mu.Unlock()
		if res != nil {
			base := float64(h.Format.SampleRate) / float64(e.sampleRate)
			e.out.Lock()
			res.SetRatio(base * r)
			e.out.Unlock()
		}
	}
	e.mu.Unlock()
}

// PlaybackRate 返回当前播放速率
func (e *Engine) PlaybackRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// currentTimeLocked 图时钟推算的曲目内位置。调用方持有 e.mu。
func (e *Engine) currentTimeLocked() time.Duration {
	if e.current == nil {
		return 0
	}
	pos := e.startOffset
	if e.state == StatePlaying {
		elapsed := e.clock.Now() - e.startClock
		pos += time.Duration(float64(elapsed) * e.rate)
	}
	// 即使时钟漂移也不超过时长
	if dur := e.current.Duration(); pos > dur {
		pos = dur
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// CurrentTime 当前曲目内位置
func (e *Engine) CurrentTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentTimeLocked()
}

// Duration 当前曲目时长
func (e *Engine) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return 0
	}
	return e.current.Duration()
}

// State 返回引擎状态
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentTrack 返回当前曲目，未加载时为 nil
func (e *Engine) CurrentTrack() *model.Track {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return nil
	}
	return e.current.Track
}

// Handle 按曲目ID查找缓冲句柄
func (e *Engine) Handle(trackID string) *BufferHandle {
	return e.arena.get(trackID)
}

// GraphTime 返回图时钟时间，过渡引擎据此计算进度
func (e *Engine) GraphTime() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.clock == nil {
		return 0
	}
	return e.clock.Now()
}

// Analyser 返回输出电平快照
func (e *Engine) Analyser() AnalyserSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.analyser == nil {
		return AnalyserSnapshot{}
	}
	return e.analyser.Snapshot()
}

// SetEQ 设置三段均衡增益
func (e *Engine) SetEQ(low, mid, high float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.eq != nil {
		e.eq.SetBands(low, mid, high)
	}
}

// StartSecondary 以指定初始增益启动一个已预载的句柄，
// 不改变当前曲目，供过渡引擎叠放下一首。
func (e *Engine) StartSecondary(h *BufferHandle, initialGain float64) error {
	if h == nil || !h.IsLoaded() {
		return model.ErrTrackNotLoaded
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return model.ErrEngineInit
	}
	e.attachSource(h, 0, initialGain, false)
	return nil
}

// PromoteSecondary 过渡完成后把叠放的下一首提升为当前曲目
func (e *Engine) PromoteSecondary(h *BufferHandle) {
	e.mu.Lock()
	old := e.current
	if old != nil && old != h {
		e.detachSource(old)
		e.arena.remove(old.Track.ID)
	}
	e.current = h
	e.state = StatePlaying
	e.startOffset = 0
	h.mu.Lock()
	e.startClock = h.startedAt
	h.mu.Unlock()
	e.mu.Unlock()
}

// StopHandle 摘除并卸载一个非当前句柄
func (e *Engine) StopHandle(h *BufferHandle) {
	if h == nil {
		return
	}
	e.detachSource(h)
	e.mu.Lock()
	if e.current != h {
		e.arena.remove(h.Track.ID)
	}
	e.mu.Unlock()
}

// PlayHandle 立即切到句柄并从头播放（无淡化的直切回退路径）
func (e *Engine) PlayHandle(h *BufferHandle) error {
	if h == nil || !h.IsLoaded() {
		return model.ErrTrackNotLoaded
	}

	e.mu.Lock()
	if !e.initialized {
		e.mu.Unlock()
		return model.ErrEngineInit
	}
	old := e.current
	if old != nil && old != h {
		e.detachSource(old)
		e.arena.remove(old.Track.ID)
	}
	e.current = h
	e.attachSource(h, 0, 1.0, false)
	e.state = StatePlaying
	e.startOffset = 0
	e.startClock = e.clock.Now()
	track := h.Track
	e.mu.Unlock()

	e.bus.Emit(model.EventPlay, track)
	return nil
}

// handleSourceEnd 源自然播放结束。过期回调（句柄已不是当前曲目）按无操作处理。
// 只发出带 ended 标记的 trackChange 事件，自动续播由队列管理器决定。
func (e *Engine) handleSourceEnd(h *BufferHandle) {
	e.mu.Lock()
	if e.closed || h != e.current || e.state != StatePlaying {
		e.mu.Unlock()
		return
	}
	track := h.Track
	e.stopLocked()
	e.mu.Unlock()

	logger.Debug("曲目播放结束", logger.String("trackId", track.ID))
	e.bus.Emit(model.EventTrackChange, model.TrackChangeData{Track: track, Ended: true})
}

// ArenaSize 缓冲表当前条目数
func (e *Engine) ArenaSize() int {
	return e.arena.size()
}

// Close 释放引擎资源
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.current = nil
	e.state = StateIdle
	e.arena.clear()
	if e.initialized {
		e.out.Clear()
	}
	e.mu.Unlock()
}
