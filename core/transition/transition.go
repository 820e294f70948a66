package transition

import (
	"sync"
	"time"

	"CoralPlay/config"
	"CoralPlay/core/engine"
	"CoralPlay/core/event"
	"CoralPlay/logger"
	"CoralPlay/model"
)

// Type 过渡类型
type Type string

const (
	TypeNone      Type = "none"
	TypeCrossfade Type = "crossfade"
	TypeGapless   Type = "gapless"
	TypeFade      Type = "fade"
	TypeCut       Type = "cut"
)

// 淡化驱动的步进间隔，相当于宿主的帧调度
const defaultTick = 25 * time.Millisecond

// 无缝切换时掩盖调度抖动的最短淡化
const minGaplessFade = 50 * time.Millisecond

// State 描述一次进行中的过渡。全系统同一时刻最多一个处于活动状态。
type State struct {
	Type      Type          `json:"type"`
	Active    bool          `json:"active"`
	Progress  float64       `json:"progress"`
	StartedAt time.Duration `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	From      *model.Track  `json:"from,omitempty"`
	To        *model.Track  `json:"to,omitempty"`
	FadeIn    float64       `json:"fadeIn"`
	FadeOut   float64       `json:"fadeOut"`
}

// Engine 过渡引擎：在两个已加载的缓冲之间做定时、可取消的交接。
// 淡化进度以播放引擎的图时钟为基准，宿主暂停不会让淡化失步。
type Engine struct {
	mu sync.Mutex

	eng       *engine.Engine
	bus       *event.Bus
	crossfade config.CrossfadeConfig
	gapless   config.GaplessConfig
	curve     CurveFunc
	tick      time.Duration

	st     State
	fromH  *engine.BufferHandle
	toH    *engine.BufferHandle
	cancel chan struct{}
}

// New 创建过渡引擎
func New(eng *engine.Engine, cfg *config.Config, bus *event.Bus) *Engine {
	return &Engine{
		eng:       eng,
		bus:       bus,
		crossfade: cfg.Crossfade,
		gapless:   cfg.Gapless,
		curve:     CurveByName(cfg.Crossfade.Curve),
		tick:      defaultTick,
		st:        State{Type: TypeNone},
	}
}

// SetCurve 使用调用方自定义的淡化曲线
func (t *Engine) SetCurve(fn CurveFunc) {
	t.mu.Lock()
	if fn != nil {
		t.curve = fn
	}
	t.mu.Unlock()
}

// State 返回当前过渡状态的副本
func (t *Engine) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

// Active 是否有过渡在进行
func (t *Engine) Active() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st.Active
}

// handles 取两端句柄并校验已加载
func (t *Engine) handles(currentID, nextID string) (cur, next *engine.BufferHandle, err error) {
	cur = t.eng.Handle(currentID)
	next = t.eng.Handle(nextID)
	if cur == nil || !cur.IsLoaded() || next == nil || !next.IsLoaded() {
		return nil, nil, model.ErrTrackNotLoaded
	}
	return cur, next, nil
}

// StartCrossfade 交叉淡化：下一首以零增益起播，按曲线同步驱动两端增益。
// 功能关闭时退化为立即直切，不是错误。
func (t *Engine) StartCrossfade(currentID, nextID string) error {
	cur, next, err := t.handles(currentID, nextID)
	if err != nil {
		return err
	}

	if !t.crossfade.Enabled {
		return t.eng.PlayHandle(next)
	}

	dur := t.crossfade.Duration
	fadeIn := t.crossfade.FadeInDuration
	if fadeIn <= 0 || fadeIn > dur {
		fadeIn = dur
	}
	fadeOut := t.crossfade.FadeOutDuration
	if fadeOut <= 0 || fadeOut > dur {
		fadeOut = dur
	}

	t.mu.Lock()
	if t.st.Active {
		t.mu.Unlock()
		return model.ErrTransitionActive
	}
	cancel := make(chan struct{})
	startedAt := t.eng.GraphTime()
	t.st = State{
		Type:      TypeCrossfade,
		Active:    true,
		StartedAt: startedAt,
		Duration:  dur,
		From:      cur.Track,
		To:        next.Track,
	}
	t.fromH, t.toH = cur, next
	t.cancel = cancel
	t.mu.Unlock()

	if err := t.eng.StartSecondary(next, 0); err != nil {
		t.mu.Lock()
		t.resetLocked()
		t.mu.Unlock()
		return err
	}

	logger.Info("开始交叉淡化",
		logger.String("from", cur.Track.ID),
		logger.String("to", next.Track.ID),
		logger.Duration("duration", dur),
		logger.Duration("fadeIn", fadeIn),
		logger.Duration("fadeOut", fadeOut))
	t.bus.Emit(model.EventTransitionStart, model.TransitionData{
		Type: string(TypeCrossfade), From: cur.Track.ID, To: next.Track.ID,
	})

	go t.runFade(cur, next, startedAt, dur, fadeIn, fadeOut, cancel)
	return nil
}

// StartGapless 无缝切换：在当前曲目结束前 seamlessThreshold 处起播下一首，
// 并用一段远短于交叉淡化的对称淡化掩盖调度抖动。
// 极短曲目会让起播延迟算出负值，这里收敛到 0。
func (t *Engine) StartGapless(currentID, nextID string) error {
	cur, next, err := t.handles(currentID, nextID)
	if err != nil {
		return err
	}

	if !t.gapless.Enabled {
		return t.eng.PlayHandle(next)
	}

	fadeDur := t.crossfade.Duration / 4
	if fadeDur < minGaplessFade {
		fadeDur = minGaplessFade
	}

	remaining := t.eng.Duration() - t.eng.CurrentTime()
	delay := remaining - t.gapless.SeamlessThreshold
	if delay < 0 {
		delay = 0
	}

	t.mu.Lock()
	if t.st.Active {
		t.mu.Unlock()
		return model.ErrTransitionActive
	}
	cancel := make(chan struct{})
	now := t.eng.GraphTime()
	t.st = State{
		Type:      TypeGapless,
		Active:    true,
		StartedAt: now,
		Duration:  delay + fadeDur,
		From:      cur.Track,
		To:        next.Track,
	}
	t.fromH, t.toH = cur, next
	t.cancel = cancel
	t.mu.Unlock()

	logger.Info("安排无缝切换",
		logger.String("from", cur.Track.ID),
		logger.String("to", next.Track.ID),
		logger.Duration("delay", delay),
		logger.Duration("fade", fadeDur))
	t.bus.Emit(model.EventTransitionStart, model.TransitionData{
		Type: string(TypeGapless), From: cur.Track.ID, To: next.Track.ID,
	})

	go t.runGapless(cur, next, now+delay, fadeDur, cancel)
	return nil
}

// progressOf 把经过时间折算为 [0,1] 进度
func progressOf(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	p := float64(elapsed) / float64(total)
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

// runFade 每个步进按图时钟计算进度并驱动两端增益，整体进度到 1 收尾。
// 淡入淡出各自按自己的时长走完，允许不对称。
func (t *Engine) runFade(cur, next *engine.BufferHandle, startedAt, duration, fadeIn, fadeOut time.Duration, cancel chan struct{}) {
	ticker := time.NewTicker(t.tick)
	defer ticker.Stop()

	for {
		select {
		case <-cancel:
			return
		case <-ticker.C:
			elapsed := t.eng.GraphTime() - startedAt
			p := progressOf(elapsed, duration)

			t.mu.Lock()
			if !t.st.Active {
				t.mu.Unlock()
				return
			}
			in := t.curve(progressOf(elapsed, fadeIn))
			out := 1 - t.curve(progressOf(elapsed, fadeOut))
			t.st.Progress = p
			t.st.FadeIn = in
			t.st.FadeOut = out
			typ := t.st.Type
			t.mu.Unlock()

			cur.SetGain(out)
			next.SetGain(in)

			t.bus.Emit(model.EventTransitionProgress, model.TransitionData{
				Type: string(typ), Progress: p,
				From: cur.Track.ID, To: next.Track.ID,
			})

			if p >= 1 {
				t.complete(cur, next)
				return
			}
		}
	}
}

// runGapless 先等到计划的起播时刻，再进入短淡化
func (t *Engine) runGapless(cur, next *engine.BufferHandle, startAt, fadeDur time.Duration, cancel chan struct{}) {
	ticker := time.NewTicker(t.tick)
	for {
		select {
		case <-cancel:
			ticker.Stop()
			return
		case <-ticker.C:
		}
		if t.eng.GraphTime() >= startAt {
			break
		}
	}
	ticker.Stop()

	if err := t.eng.StartSecondary(next, 0); err != nil {
		logger.Warn("无缝切换起播失败", logger.ErrorField(err))
		t.mu.Lock()
		t.resetLocked()
		t.mu.Unlock()
		return
	}

	t.runFade(cur, next, t.eng.GraphTime(), fadeDur, fadeDur, fadeDur, cancel)
}

// complete 停掉上一首，把下一首提升为当前曲目，状态复位
func (t *Engine) complete(cur, next *engine.BufferHandle) {
	next.SetGain(1)
	t.eng.StopHandle(cur)
	t.eng.PromoteSecondary(next)

	t.mu.Lock()
	typ := t.st.Type
	to := t.st.To
	t.resetLocked()
	t.mu.Unlock()

	logger.Debug("过渡完成", logger.String("trackId", to.ID))
	t.bus.Emit(model.EventTransitionComplete, model.TransitionData{
		Type: string(typ), Progress: 1, To: to.ID,
	})
	t.bus.Emit(model.EventTrackChange, model.TrackChangeData{Track: to, Ended: false})
}

// Cancel 取消进行中的过渡：停掉叠放的下一首，恢复当前曲目增益
func (t *Engine) Cancel() {
	t.mu.Lock()
	if !t.st.Active {
		t.mu.Unlock()
		return
	}
	close(t.cancel)
	from, to := t.fromH, t.toH
	t.resetLocked()
	t.mu.Unlock()

	if to != nil {
		t.eng.StopHandle(to)
	}
	if from != nil {
		from.SetGain(1)
	}
}

// resetLocked 状态回到 none。调用方持有 t.mu。
func (t *Engine) resetLocked() {
	t.st = State{Type: TypeNone}
	t.fromH, t.toH = nil, nil
	t.cancel = nil
}
