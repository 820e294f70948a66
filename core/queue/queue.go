package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"CoralPlay/config"
	"CoralPlay/core/event"
	"CoralPlay/logger"
	"CoralPlay/model"
)

// RepeatMode 循环模式
type RepeatMode string

const (
	RepeatOff RepeatMode = "off"
	RepeatAll RepeatMode = "all"
	RepeatOne RepeatMode = "one"
)

// 历史列表的容量上限
const historyCap = 50

// 事件处理中后台加载的超时
const loadTimeout = 30 * time.Second

// 播放期间周期性保存进度的间隔
const positionSaveInterval = 5 * time.Second

// Player 队列管理器驱动的播放门面
type Player interface {
	LoadAndPlay(ctx context.Context, track model.Track) error
	Preload(ctx context.Context, track model.Track) error
	Stop()
	Playing() bool
	Loaded(trackID string) bool
	Duration() time.Duration
	Position() time.Duration
}

// Transitioner 曲目间过渡的执行方
type Transitioner interface {
	StartCrossfade(currentID, nextID string) error
	StartGapless(currentID, nextID string) error
	Cancel()
	Active() bool
}

// SnapshotStore 队列快照与播放进度的持久化后端
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, playerID string, snapshot []byte) error
	LoadSnapshot(ctx context.Context, playerID string) ([]byte, error)
	SavePosition(ctx context.Context, playerID, trackID string, position float64) error
	LoadPosition(ctx context.Context, playerID string) (trackID string, position float64, err error)
}

// HistoryRecorder 播放历史的持久化后端
type HistoryRecorder interface {
	Record(track *model.Track, completed bool) error
}

// Manager 队列管理器：维护曲目顺序、随机排列、循环模式与播放历史，
// 并通过事件总线对曲目结束做自动续播。
// currentIndex 是遍历顺序（随机时为排列）里的下标，队列为空时为 -1。
type Manager struct {
	mu sync.Mutex

	cfg    *config.Config
	bus    *event.Bus
	player Player
	trans  Transitioner

	snapshots SnapshotStore
	history   HistoryRecorder
	playerID  string

	tracks  []model.Track
	current int
	perm    []int
	shuffle bool
	repeat  RepeatMode
	played  []model.Track
	rng     *rand.Rand

	preloadTimer    *time.Timer
	transitionTimer *time.Timer
	subID           string
	pauseSubID      string
	stopSubID       string
	done            chan struct{}
	closed          bool
}

// NewManager 创建队列管理器并订阅曲目变更事件
func NewManager(cfg *config.Config, bus *event.Bus, player Player, trans Transitioner) *Manager {
	m := &Manager{
		cfg:     cfg,
		bus:     bus,
		player:  player,
		trans:   trans,
		current: -1,
		repeat:  RepeatOff,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		done:    make(chan struct{}),
	}
	m.subID = bus.Subscribe(model.EventTrackChange, m.onTrackChange)
	m.pauseSubID = bus.Subscribe(model.EventPause, m.onPlaybackHalt)
	m.stopSubID = bus.Subscribe(model.EventStop, m.onPlaybackHalt)
	go m.positionLoop()
	return m
}

// SetSnapshotStore 配置快照持久化（可选）
func (m *Manager) SetSnapshotStore(s SnapshotStore, playerID string) {
	m.mu.Lock()
	m.snapshots = s
	m.playerID = playerID
	m.mu.Unlock()
}

// SetHistoryRecorder 配置播放历史持久化（可选）
func (m *Manager) SetHistoryRecorder(r HistoryRecorder) {
	m.mu.Lock()
	m.history = r
	m.mu.Unlock()
}

// resolveLocked 把遍历下标解析为插入序下标。调用方持有 m.mu。
func (m *Manager) resolveLocked(i int) int {
	if i < 0 || i >= len(m.tracks) {
		return -1
	}
	if m.shuffle && len(m.perm) == len(m.tracks) {
		return m.perm[i]
	}
	return i
}

// logicalOfLocked 找到插入序下标在遍历顺序里的位置。调用方持有 m.mu。
func (m *Manager) logicalOfLocked(physical int) int {
	if physical < 0 || physical >= len(m.tracks) {
		return -1
	}
	if !m.shuffle {
		return physical
	}
	for j, p := range m.perm {
		if p == physical {
			return j
		}
	}
	return -1
}

// regenPermLocked 重建随机排列（Fisher–Yates）。调用方持有 m.mu。
func (m *Manager) regenPermLocked() {
	m.perm = m.rng.Perm(len(m.tracks))
}

// currentTrackLocked 当前曲目的副本。调用方持有 m.mu。
func (m *Manager) currentTrackLocked() *model.Track {
	p := m.resolveLocked(m.current)
	if p < 0 {
		return nil
	}
	t := m.tracks[p]
	return &t
}

// nextIndexLocked 下一个遍历下标，到尾且不整队循环时返回 -1。
// 单曲循环只作用于自然播完，不影响手动切换。调用方持有 m.mu。
func (m *Manager) nextIndexLocked() int {
	if len(m.tracks) == 0 || m.current < 0 {
		return -1
	}
	i := m.current + 1
	if i >= len(m.tracks) {
		if m.repeat == RepeatAll {
			return 0
		}
		return -1
	}
	return i
}

// peekNextLocked 预载/过渡要用的下一曲，没有则为 nil。调用方持有 m.mu。
func (m *Manager) peekNextLocked() *model.Track {
	if m.repeat == RepeatOne {
		return nil
	}
	ni := m.nextIndexLocked()
	p := m.resolveLocked(ni)
	if p < 0 {
		return nil
	}
	t := m.tracks[p]
	return &t
}

// pushHistoryLocked 追加历史，超限丢弃最旧的。调用方持有 m.mu。
func (m *Manager) pushHistoryLocked(t *model.Track) {
	if t == nil {
		return
	}
	m.played = append(m.played, *t)
	if len(m.played) > historyCap {
		m.played = m.played[len(m.played)-historyCap:]
	}
}

// SetQueue 替换整个队列并从 startIndex 开始播放。
// startIndex 越界时从第一首开始，空队列则停止播放。
func (m *Manager) SetQueue(ctx context.Context, tracks []model.Track, startIndex int) error {
	m.mu.Lock()
	m.cancelTimersLocked()
	m.tracks = append([]model.Track(nil), tracks...)

	if len(m.tracks) == 0 {
		m.current = -1
		m.perm = nil
		m.mu.Unlock()
		m.cancelTransition()
		m.player.Stop()
		m.saveSnapshot()
		return nil
	}

	if startIndex < 0 || startIndex >= len(m.tracks) {
		startIndex = 0
	}
	if m.shuffle {
		m.regenPermLocked()
		m.current = m.logicalOfLocked(startIndex)
	} else {
		m.current = startIndex
	}
	track := m.currentTrackLocked()
	m.mu.Unlock()

	m.cancelTransition()
	err := m.player.LoadAndPlay(ctx, *track)
	m.saveSnapshot()
	return err
}

// AddToQueue 追加曲目。position 为 "next" 时插到当前曲目之后，否则排到队尾。
func (m *Manager) AddToQueue(track model.Track, position string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	playingPhys := m.resolveLocked(m.current)

	var insertAt int
	if position == "next" && playingPhys >= 0 {
		insertAt = playingPhys + 1
	} else {
		insertAt = len(m.tracks)
	}

	m.tracks = append(m.tracks, model.Track{})
	copy(m.tracks[insertAt+1:], m.tracks[insertAt:])
	m.tracks[insertAt] = track

	if playingPhys >= insertAt {
		playingPhys++
	}

	if m.shuffle {
		m.regenPermLocked()
		m.current = m.logicalOfLocked(playingPhys)
		if position == "next" && m.current >= 0 {
			// 随机模式下仍保证"下一首播放"：把新曲目挪到当前位置之后
			j := m.logicalOfLocked(insertAt)
			p := m.perm[j]
			m.perm = append(m.perm[:j], m.perm[j+1:]...)
			if j < m.current {
				// 摘除的槽位在当前曲目之前，当前曲目左移了一位
				m.current--
			}
			at := m.current + 1
			m.perm = append(m.perm, 0)
			copy(m.perm[at+1:], m.perm[at:])
			m.perm[at] = p
		}
	} else if m.current >= 0 {
		m.current = playingPhys
	}
}

// RemoveFromQueue 按插入序下标移除曲目。移除当前曲目会停止播放。
func (m *Manager) RemoveFromQueue(index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.tracks) {
		m.mu.Unlock()
		return fmt.Errorf("queue index out of range: %d", index)
	}

	playingPhys := m.resolveLocked(m.current)
	removedCurrent := index == playingPhys
	if removedCurrent {
		m.cancelTimersLocked()
	}

	m.tracks = append(m.tracks[:index], m.tracks[index+1:]...)

	newPhys := playingPhys
	switch {
	case playingPhys < 0:
		newPhys = -1
	case removedCurrent:
		newPhys = index
		if newPhys >= len(m.tracks) {
			newPhys = len(m.tracks) - 1
		}
	case index < playingPhys:
		newPhys = playingPhys - 1
	}

	if m.shuffle {
		m.regenPermLocked()
		m.current = m.logicalOfLocked(newPhys)
	} else {
		m.current = newPhys
	}
	m.mu.Unlock()

	if removedCurrent {
		m.cancelTransition()
		m.player.Stop()
	}
	m.saveSnapshot()
	return nil
}

// MoveTrack 调整队列内的插入序位置
func (m *Manager) MoveTrack(from, to int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if from < 0 || from >= len(m.tracks) || to < 0 || to >= len(m.tracks) {
		return fmt.Errorf("queue index out of range: %d -> %d", from, to)
	}
	if from == to {
		return nil
	}

	playingPhys := m.resolveLocked(m.current)

	t := m.tracks[from]
	m.tracks = append(m.tracks[:from], m.tracks[from+1:]...)
	m.tracks = append(m.tracks, model.Track{})
	copy(m.tracks[to+1:], m.tracks[to:])
	m.tracks[to] = t

	newPhys := playingPhys
	switch {
	case playingPhys == from:
		newPhys = to
	case from < playingPhys && to >= playingPhys:
		newPhys = playingPhys - 1
	case from > playingPhys && to <= playingPhys:
		newPhys = playingPhys + 1
	}

	if m.shuffle {
		m.regenPermLocked()
		m.current = m.logicalOfLocked(newPhys)
	} else if m.current >= 0 {
		m.current = newPhys
	}
	return nil
}

// ClearQueue 清空队列并停止播放
func (m *Manager) ClearQueue() {
	m.mu.Lock()
	m.cancelTimersLocked()
	m.tracks = nil
	m.perm = nil
	m.current = -1
	m.mu.Unlock()

	m.cancelTransition()
	m.player.Stop()
	m.saveSnapshot()
}

// Next 切到下一曲。队尾且不整队循环时停止播放。
// 交叉淡化开启且下一曲已预载时以淡化切换，否则直切。
func (m *Manager) Next(ctx context.Context) error {
	m.mu.Lock()
	if len(m.tracks) == 0 {
		m.mu.Unlock()
		return model.ErrQueueEmpty
	}
	m.cancelTimersLocked()

	prev := m.currentTrackLocked()
	ni := m.nextIndexLocked()
	if ni < 0 {
		m.pushHistoryLocked(prev)
		m.mu.Unlock()
		m.cancelTransition()
		m.player.Stop()
		m.recordHistory(prev, false)
		m.saveSnapshot()
		return nil
	}
	m.pushHistoryLocked(prev)
	m.current = ni
	track := m.currentTrackLocked()
	m.mu.Unlock()

	err := m.switchTo(ctx, prev, track)
	m.recordHistory(prev, false)
	m.saveSnapshot()
	return err
}

// Previous 切到上一曲。在队首时整队循环回到队尾，否则重播当前曲目。
func (m *Manager) Previous(ctx context.Context) error {
	m.mu.Lock()
	if len(m.tracks) == 0 {
		m.mu.Unlock()
		return model.ErrQueueEmpty
	}
	m.cancelTimersLocked()

	prev := m.currentTrackLocked()
	ni := m.current - 1
	if ni < 0 {
		if m.repeat == RepeatAll {
			ni = len(m.tracks) - 1
		} else {
			ni = m.current
		}
	}
	m.current = ni
	track := m.currentTrackLocked()
	m.mu.Unlock()

	err := m.switchTo(ctx, prev, track)
	m.saveSnapshot()
	return err
}

// SkipTo 跳到指定插入序下标的曲目
func (m *Manager) SkipTo(ctx context.Context, index int) error {
	m.mu.Lock()
	if index < 0 || index >= len(m.tracks) {
		m.mu.Unlock()
		return fmt.Errorf("queue index out of range: %d", index)
	}
	m.cancelTimersLocked()

	prev := m.currentTrackLocked()
	m.pushHistoryLocked(prev)
	m.current = m.logicalOfLocked(index)
	track := m.currentTrackLocked()
	m.mu.Unlock()

	err := m.switchTo(ctx, prev, track)
	m.recordHistory(prev, false)
	m.saveSnapshot()
	return err
}

// switchTo 执行切曲：能淡化就淡化，否则加载直切。调用时不持锁。
func (m *Manager) switchTo(ctx context.Context, prev, track *model.Track) error {
	if track == nil {
		m.player.Stop()
		return nil
	}

	if m.trans != nil {
		m.trans.Cancel()
		if m.cfg.Crossfade.Enabled && prev != nil && prev.ID != track.ID &&
			m.player.Playing() && m.player.Loaded(track.ID) {
			if err := m.trans.StartCrossfade(prev.ID, track.ID); err == nil {
				return nil
			}
		}
	}
	return m.player.LoadAndPlay(ctx, *track)
}

// SetRepeatMode 设置循环模式
func (m *Manager) SetRepeatMode(mode RepeatMode) error {
	switch mode {
	case RepeatOff, RepeatAll, RepeatOne:
	default:
		return fmt.Errorf("unknown repeat mode: %q", mode)
	}
	m.mu.Lock()
	m.repeat = mode
	m.mu.Unlock()
	m.saveSnapshot()
	return nil
}

// SetShuffleMode 开关随机播放。开启时重建排列，当前曲目保持不变。
func (m *Manager) SetShuffleMode(on bool) {
	m.mu.Lock()
	if on == m.shuffle {
		m.mu.Unlock()
		return
	}
	playingPhys := m.resolveLocked(m.current)
	m.shuffle = on
	if on {
		m.regenPermLocked()
		m.current = m.logicalOfLocked(playingPhys)
	} else {
		m.perm = nil
		m.current = playingPhys
	}
	m.mu.Unlock()
	m.saveSnapshot()
}

// onTrackChange 处理曲目变更事件：自然播完驱动续播，新曲目开始时安排预载与过渡
func (m *Manager) onTrackChange(ev model.Event) {
	data, ok := ev.Data.(model.TrackChangeData)
	if !ok {
		return
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}

	if data.Ended {
		m.advanceAfterEnd(data.Track)
		return
	}
	m.scheduleTimers()
}

// advanceAfterEnd 曲目自然播完后的续播决策。
// 过渡进行中（无缝切换的淡化可能跨过曲目结尾）结束事件由过渡引擎收尾，
// 这里按过期事件忽略。
func (m *Manager) advanceAfterEnd(ended *model.Track) {
	if m.trans != nil && m.trans.Active() {
		return
	}
	if m.player.Playing() {
		// 引擎已经在播别的源，说明过渡已完成接管
		return
	}

	m.mu.Lock()
	m.cancelTimersLocked()

	if len(m.tracks) == 0 || m.current < 0 {
		m.mu.Unlock()
		m.recordHistory(ended, true)
		return
	}

	if m.repeat != RepeatOne {
		ni := m.nextIndexLocked()
		if ni < 0 {
			// 队尾且不循环：停在原地
			m.pushHistoryLocked(ended)
			m.mu.Unlock()
			m.recordHistory(ended, true)
			m.saveSnapshot()
			return
		}
		m.pushHistoryLocked(ended)
		m.current = ni
	}
	track := m.currentTrackLocked()
	m.mu.Unlock()

	m.recordHistory(ended, true)
	if track == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	if err := m.player.LoadAndPlay(ctx, *track); err != nil {
		logger.Error("自动续播失败",
			logger.String("trackId", track.ID),
			logger.ErrorField(err))
	}
	m.saveSnapshot()
}

// scheduleTimers 为刚开始的曲目安排预载与过渡触发
func (m *Manager) scheduleTimers() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimersLocked()
	if m.current < 0 || m.closed {
		return
	}

	preloadAfter := m.cfg.Gapless.PreloadDuration
	if preloadAfter <= 0 {
		preloadAfter = time.Second
	}
	m.preloadTimer = time.AfterFunc(preloadAfter, m.preloadNext)

	dur := m.player.Duration()
	if dur <= 0 {
		return
	}

	var lead time.Duration
	switch {
	case m.cfg.Crossfade.Enabled:
		lead = m.cfg.Crossfade.Duration
		if lead < m.cfg.Crossfade.OverlapThreshold {
			lead = m.cfg.Crossfade.OverlapThreshold
		}
	case m.cfg.Gapless.Enabled:
		lead = m.cfg.Gapless.SeamlessThreshold + time.Second
	default:
		return
	}

	fireIn := dur - m.player.Position() - lead
	if fireIn < 0 {
		fireIn = 0
	}
	m.transitionTimer = time.AfterFunc(fireIn, m.maybeTransition)
}

// preloadNext 后台预载下一曲，失败只记录，绝不打断当前播放
func (m *Manager) preloadNext() {
	m.mu.Lock()
	next := m.peekNextLocked()
	closed := m.closed
	m.mu.Unlock()
	if next == nil || closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
	defer cancel()
	if err := m.player.Preload(ctx, *next); err != nil {
		logger.Warn("预载下一曲失败",
			logger.String("trackId", next.ID),
			logger.ErrorField(err))
	}
}

// maybeTransition 接近曲目结尾时发起配置的过渡。
// 下一曲未预载好时放弃，交给结束事件直切。
func (m *Manager) maybeTransition() {
	m.mu.Lock()
	cur := m.currentTrackLocked()
	next := m.peekNextLocked()
	closed := m.closed
	m.mu.Unlock()
	if closed || cur == nil || next == nil || cur.ID == next.ID {
		return
	}
	if m.trans == nil || m.trans.Active() || !m.player.Playing() {
		return
	}
	if !m.player.Loaded(next.ID) {
		return
	}

	var err error
	if m.cfg.Crossfade.Enabled {
		err = m.trans.StartCrossfade(cur.ID, next.ID)
	} else {
		err = m.trans.StartGapless(cur.ID, next.ID)
	}
	if err != nil {
		logger.Warn("发起过渡失败",
			logger.String("from", cur.ID),
			logger.String("to", next.ID),
			logger.ErrorField(err))
		return
	}

	m.mu.Lock()
	m.pushHistoryLocked(cur)
	if ni := m.nextIndexLocked(); ni >= 0 {
		m.current = ni
	}
	m.mu.Unlock()

	m.recordHistory(cur, true)
	m.saveSnapshot()
}

// cancelTimersLocked 撤销待触发的预载与过渡。调用方持有 m.mu。
func (m *Manager) cancelTimersLocked() {
	if m.preloadTimer != nil {
		m.preloadTimer.Stop()
		m.preloadTimer = nil
	}
	if m.transitionTimer != nil {
		m.transitionTimer.Stop()
		m.transitionTimer = nil
	}
}

func (m *Manager) cancelTransition() {
	if m.trans != nil {
		m.trans.Cancel()
	}
}

// recordHistory 异步写播放历史
func (m *Manager) recordHistory(track *model.Track, completed bool) {
	m.mu.Lock()
	rec := m.history
	m.mu.Unlock()
	if rec == nil || track == nil {
		return
	}
	t := *track
	go func() {
		if err := rec.Record(&t, completed); err != nil {
			logger.Warn("播放历史写入失败",
				logger.String("trackId", t.ID),
				logger.ErrorField(err))
		}
	}()
}

// queueSnapshot 可导出的队列状态。外部只当作不透明字节保存。
type queueSnapshot struct {
	Tracks       []model.Track `json:"tracks"`
	CurrentIndex int           `json:"currentIndex"`
	RepeatMode   RepeatMode    `json:"repeatMode"`
	Shuffle      bool          `json:"shuffle"`
	History      []model.Track `json:"history"`
}

// ExportState 导出队列状态为JSON
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.Lock()
	snap := queueSnapshot{
		Tracks:       append([]model.Track(nil), m.tracks...),
		CurrentIndex: m.resolveLocked(m.current),
		RepeatMode:   m.repeat,
		Shuffle:      m.shuffle,
		History:      append([]model.Track(nil), m.played...),
	}
	m.mu.Unlock()
	return json.Marshal(snap)
}

// ImportState 从导出的JSON恢复队列状态。不自动开始播放。
func (m *Manager) ImportState(data []byte) error {
	var snap queueSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("invalid queue snapshot: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelTimersLocked()

	m.tracks = snap.Tracks
	m.repeat = snap.RepeatMode
	if m.repeat == "" {
		m.repeat = RepeatOff
	}
	m.shuffle = snap.Shuffle
	m.played = snap.History
	if len(m.played) > historyCap {
		m.played = m.played[len(m.played)-historyCap:]
	}

	phys := snap.CurrentIndex
	if phys < 0 || phys >= len(m.tracks) {
		phys = -1
		if len(m.tracks) > 0 {
			phys = 0
		}
	}
	if m.shuffle {
		m.regenPermLocked()
		m.current = m.logicalOfLocked(phys)
	} else {
		m.perm = nil
		m.current = phys
	}
	return nil
}

// saveSnapshot 异步持久化队列快照
func (m *Manager) saveSnapshot() {
	m.mu.Lock()
	store := m.snapshots
	playerID := m.playerID
	m.mu.Unlock()
	if store == nil {
		return
	}

	data, err := m.ExportState()
	if err != nil {
		logger.Warn("队列快照导出失败", logger.ErrorField(err))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.SaveSnapshot(ctx, playerID, data); err != nil {
			logger.Warn("队列快照保存失败", logger.ErrorField(err))
		}
	}()
}

// onPlaybackHalt 暂停或停止时落一次播放进度
func (m *Manager) onPlaybackHalt(model.Event) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	m.savePosition()
}

// positionLoop 播放期间周期性保存进度，Close 时退出
func (m *Manager) positionLoop() {
	ticker := time.NewTicker(positionSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			if m.player.Playing() {
				m.savePosition()
			}
		}
	}
}

// savePosition 异步持久化当前曲目与曲内进度
func (m *Manager) savePosition() {
	m.mu.Lock()
	store := m.snapshots
	playerID := m.playerID
	track := m.currentTrackLocked()
	m.mu.Unlock()
	if store == nil || track == nil {
		return
	}

	pos := m.player.Position().Seconds()
	trackID := track.ID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.SavePosition(ctx, playerID, trackID, pos); err != nil {
			logger.Warn("播放进度保存失败",
				logger.String("trackId", trackID),
				logger.ErrorField(err))
		}
	}()
}

// SavedPosition 读取持久化的播放进度，没有后端或没存过时返回空
func (m *Manager) SavedPosition(ctx context.Context) (trackID string, position float64, err error) {
	m.mu.Lock()
	store := m.snapshots
	playerID := m.playerID
	m.mu.Unlock()
	if store == nil {
		return "", 0, nil
	}
	return store.LoadPosition(ctx, playerID)
}

// RestoreSnapshot 从持久化后端恢复队列状态，没有快照时是无操作
func (m *Manager) RestoreSnapshot(ctx context.Context) error {
	m.mu.Lock()
	store := m.snapshots
	playerID := m.playerID
	m.mu.Unlock()
	if store == nil {
		return nil
	}

	data, err := store.LoadSnapshot(ctx, playerID)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	return m.ImportState(data)
}

// Tracks 返回插入序的队列副本
func (m *Manager) Tracks() []model.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Track(nil), m.tracks...)
}

// CurrentIndex 当前曲目的插入序下标，队列为空时为 -1
func (m *Manager) CurrentIndex() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveLocked(m.current)
}

// CurrentTrack 当前曲目，队列为空时为 nil
func (m *Manager) CurrentTrack() *model.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.currentTrackLocked()
}

// RepeatMode 当前循环模式
func (m *Manager) RepeatMode() RepeatMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repeat
}

// ShuffleMode 随机播放是否开启
func (m *Manager) ShuffleMode() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shuffle
}

// History 返回历史列表副本，最旧在前
func (m *Manager) History() []model.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]model.Track(nil), m.played...)
}

// Order 返回当前遍历顺序对应的插入序下标
func (m *Manager) Order() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	order := make([]int, len(m.tracks))
	for i := range order {
		order[i] = m.resolveLocked(i)
	}
	return order
}

// Close 退订事件并撤销定时器。幂等。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.cancelTimersLocked()
	m.mu.Unlock()

	close(m.done)
	m.bus.Unsubscribe(model.EventTrackChange, m.subID)
	m.bus.Unsubscribe(model.EventPause, m.pauseSubID)
	m.bus.Unsubscribe(model.EventStop, m.stopSubID)
}
