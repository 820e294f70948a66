package controller

import (
	"context"
	"time"

	"CoralPlay/core/engine"
	"CoralPlay/core/event"
	"CoralPlay/core/stream"
	"CoralPlay/logger"
	"CoralPlay/model"
)

// Status 播放器当前状态快照，供控制接口查询
type Status struct {
	State        string       `json:"state"`
	Track        *model.Track `json:"track,omitempty"`
	Position     float64      `json:"position"` // 秒
	Duration     float64      `json:"duration"` // 秒
	Volume       float64      `json:"volume"`
	Muted        bool         `json:"muted"`
	PlaybackRate float64      `json:"playbackRate"`
}

// Controller 播放控制器：把流客户端与播放引擎装配成统一的命令入口，
// 命令失败时发出错误事件并保持状态一致。
type Controller struct {
	eng    *engine.Engine
	client *stream.Client
	bus    *event.Bus
}

// New 创建播放控制器
func New(eng *engine.Engine, client *stream.Client, bus *event.Bus) *Controller {
	return &Controller{eng: eng, client: client, bus: bus}
}

// Load 解析、拉取并解码曲目，加载完成后停在曲目开头
func (c *Controller) Load(ctx context.Context, track model.Track) error {
	if err := c.eng.LoadTrack(ctx, &track); err != nil {
		logger.Error("曲目加载失败",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
		return err
	}
	c.bus.Emit(model.EventTrackChange, model.TrackChangeData{Track: &track, Ended: false})
	return nil
}

// LoadAndPlay 加载并立即开始播放
func (c *Controller) LoadAndPlay(ctx context.Context, track model.Track) error {
	if err := c.Load(ctx, track); err != nil {
		return err
	}
	return c.eng.Play()
}

// Preload 后台解码曲目，供队列管理器为过渡做准备
func (c *Controller) Preload(ctx context.Context, track model.Track) error {
	return c.eng.Preload(ctx, &track)
}

// Play 开始或恢复播放
func (c *Controller) Play() error {
	if err := c.eng.Play(); err != nil {
		c.bus.Emit(model.EventError, model.ErrorData{Op: "play", Error: err.Error()})
		return err
	}
	return nil
}

// Pause 暂停播放
func (c *Controller) Pause() { c.eng.Pause() }

// Stop 停止播放并卸载当前曲目
func (c *Controller) Stop() { c.eng.Stop() }

// Seek 跳转到曲目内位置（秒）
func (c *Controller) Seek(seconds float64) error {
	if err := c.eng.Seek(time.Duration(seconds * float64(time.Second))); err != nil {
		c.bus.Emit(model.EventError, model.ErrorData{Op: "seek", Error: err.Error()})
		return err
	}
	return nil
}

// SetVolume 设置主音量 [0,1]
func (c *Controller) SetVolume(v float64) { c.eng.SetVolume(v) }

// SetMuted 静音开关
func (c *Controller) SetMuted(m bool) { c.eng.SetMuted(m) }

// SetPlaybackRate 设置播放速率
func (c *Controller) SetPlaybackRate(r float64) { c.eng.SetPlaybackRate(r) }

// SetEQ 设置三段均衡
func (c *Controller) SetEQ(low, mid, high float64) { c.eng.SetEQ(low, mid, high) }

// CurrentTrack 返回引擎当前曲目
func (c *Controller) CurrentTrack() *model.Track { return c.eng.CurrentTrack() }

// Playing 引擎是否处于播放中
func (c *Controller) Playing() bool { return c.eng.State() == engine.StatePlaying }

// Loaded 曲目是否已解码进缓冲表
func (c *Controller) Loaded(trackID string) bool {
	h := c.eng.Handle(trackID)
	return h != nil && h.IsLoaded()
}

// Duration 当前曲目时长
func (c *Controller) Duration() time.Duration { return c.eng.Duration() }

// Position 当前曲目内位置
func (c *Controller) Position() time.Duration { return c.eng.CurrentTime() }

// Status 汇总当前播放状态
func (c *Controller) Status() Status {
	return Status{
		State:        string(c.eng.State()),
		Track:        c.eng.CurrentTrack(),
		Position:     c.eng.CurrentTime().Seconds(),
		Duration:     c.eng.Duration().Seconds(),
		Volume:       c.eng.Volume(),
		Muted:        c.eng.Muted(),
		PlaybackRate: c.eng.PlaybackRate(),
	}
}

// Analyser 输出电平快照
func (c *Controller) Analyser() engine.AnalyserSnapshot { return c.eng.Analyser() }
