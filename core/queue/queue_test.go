package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"testing"
	"time"

	"CoralPlay/config"
	"CoralPlay/core/event"
	"CoralPlay/model"
)

// stubPlayer 记录播放命令的假播放器
type stubPlayer struct {
	mu        sync.Mutex
	loads     []string
	preloads  []string
	stops     int
	playing   bool
	currentID string
	loaded    map[string]bool
	failLoad  map[string]error
	dur       time.Duration
	pos       time.Duration
}

func newStubPlayer() *stubPlayer {
	return &stubPlayer{
		loaded:   make(map[string]bool),
		failLoad: make(map[string]error),
		dur:      3 * time.Second,
	}
}

func (p *stubPlayer) LoadAndPlay(_ context.Context, track model.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failLoad[track.ID]; err != nil {
		return err
	}
	p.loads = append(p.loads, track.ID)
	p.loaded[track.ID] = true
	p.currentID = track.ID
	p.playing = true
	return nil
}

func (p *stubPlayer) Preload(_ context.Context, track model.Track) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.failLoad[track.ID]; err != nil {
		return err
	}
	p.preloads = append(p.preloads, track.ID)
	p.loaded[track.ID] = true
	return nil
}

func (p *stubPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	p.playing = false
	p.currentID = ""
}

func (p *stubPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *stubPlayer) Loaded(trackID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.loaded[trackID]
}

func (p *stubPlayer) Duration() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dur
}

func (p *stubPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pos
}

func (p *stubPlayer) setPosition(d time.Duration) {
	p.mu.Lock()
	p.pos = d
	p.mu.Unlock()
}

func (p *stubPlayer) setPlaying(v bool) {
	p.mu.Lock()
	p.playing = v
	p.mu.Unlock()
}

func (p *stubPlayer) loadHistory() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.loads...)
}

func (p *stubPlayer) lastLoad() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loads) == 0 {
		return ""
	}
	return p.loads[len(p.loads)-1]
}

func (p *stubPlayer) preloadHistory() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.preloads...)
}

func (p *stubPlayer) stopCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops
}

// stubTransitioner 记录过渡命令
type stubTransitioner struct {
	mu         sync.Mutex
	crossfades [][2]string
	gapless    [][2]string
	cancels    int
	active     bool
	fail       error
}

func (s *stubTransitioner) StartCrossfade(cur, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.crossfades = append(s.crossfades, [2]string{cur, next})
	return nil
}

func (s *stubTransitioner) StartGapless(cur, next string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return s.fail
	}
	s.gapless = append(s.gapless, [2]string{cur, next})
	return nil
}

func (s *stubTransitioner) Cancel() {
	s.mu.Lock()
	s.cancels++
	s.mu.Unlock()
}

func (s *stubTransitioner) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

func (s *stubTransitioner) crossfadeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.crossfades)
}

func testQueueConfig() *config.Config {
	return &config.Config{
		Crossfade: config.CrossfadeConfig{Enabled: false},
		Gapless: config.GaplessConfig{
			Enabled:         false,
			PreloadDuration: time.Minute, // 默认拉远，避免定时器干扰
		},
	}
}

type queueRig struct {
	m      *Manager
	player *stubPlayer
	trans  *stubTransitioner
	bus    *event.Bus
}

func newQueueRig(t *testing.T, mutate func(*config.Config)) *queueRig {
	t.Helper()
	cfg := testQueueConfig()
	if mutate != nil {
		mutate(cfg)
	}
	bus := event.NewBus()
	player := newStubPlayer()
	trans := &stubTransitioner{}
	m := NewManager(cfg, bus, player, trans)
	t.Cleanup(m.Close)
	return &queueRig{m: m, player: player, trans: trans, bus: bus}
}

func makeTracks(n int) []model.Track {
	out := make([]model.Track, n)
	for i := range out {
		out[i] = model.Track{ID: fmt.Sprintf("t%d", i), Title: fmt.Sprintf("Track %d", i)}
	}
	return out
}

// emitEnded 模拟引擎的自然播完事件
func (r *queueRig) emitEnded(track *model.Track) {
	r.player.setPlaying(false)
	r.bus.Emit(model.EventTrackChange, model.TrackChangeData{Track: track, Ended: true})
}

func TestSetQueue(t *testing.T) {
	t.Run("starts playback at startIndex", func(t *testing.T) {
		r := newQueueRig(t, nil)
		if err := r.m.SetQueue(context.Background(), makeTracks(3), 1); err != nil {
			t.Fatalf("SetQueue: %v", err)
		}
		if got := r.player.lastLoad(); got != "t1" {
			t.Fatalf("loaded %q, want t1", got)
		}
		if got := r.m.CurrentIndex(); got != 1 {
			t.Fatalf("currentIndex = %d, want 1", got)
		}
	})

	t.Run("out of range startIndex falls back to first", func(t *testing.T) {
		r := newQueueRig(t, nil)
		if err := r.m.SetQueue(context.Background(), makeTracks(3), 99); err != nil {
			t.Fatalf("SetQueue: %v", err)
		}
		if got := r.m.CurrentIndex(); got != 0 {
			t.Fatalf("currentIndex = %d, want 0", got)
		}
	})

	t.Run("empty queue stops playback", func(t *testing.T) {
		r := newQueueRig(t, nil)
		if err := r.m.SetQueue(context.Background(), makeTracks(3), 0); err != nil {
			t.Fatalf("SetQueue: %v", err)
		}
		if err := r.m.SetQueue(context.Background(), nil, 0); err != nil {
			t.Fatalf("SetQueue(empty): %v", err)
		}
		if got := r.m.CurrentIndex(); got != -1 {
			t.Fatalf("currentIndex = %d, want -1", got)
		}
		if r.player.stopCount() == 0 {
			t.Fatal("expected Stop to be called")
		}
	})
}

func TestAddToQueue(t *testing.T) {
	t.Run("end appends", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(2), 0)
		r.m.AddToQueue(model.Track{ID: "x"}, "end")

		tracks := r.m.Tracks()
		if len(tracks) != 3 || tracks[2].ID != "x" {
			t.Fatalf("tracks = %v, want x appended", tracks)
		}
		if got := r.m.CurrentIndex(); got != 0 {
			t.Fatalf("currentIndex = %d, want 0", got)
		}
	})

	t.Run("next inserts after current", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 1)
		r.m.AddToQueue(model.Track{ID: "x"}, "next")

		tracks := r.m.Tracks()
		if tracks[2].ID != "x" {
			t.Fatalf("tracks = %v, want x at index 2", tracks)
		}
		// 当前曲目不变
		if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "t1" {
			t.Fatalf("current = %v, want t1", cur)
		}
	})

	t.Run("insert before current keeps current track", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 0)
		r.m.AddToQueue(model.Track{ID: "x"}, "next") // 插到 0 之后
		if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "t0" {
			t.Fatalf("current = %v, want t0", cur)
		}
	})
}

func TestRemoveFromQueue(t *testing.T) {
	t.Run("before current shifts index", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 2)
		if err := r.m.RemoveFromQueue(0); err != nil {
			t.Fatalf("RemoveFromQueue: %v", err)
		}
		if got := r.m.CurrentIndex(); got != 1 {
			t.Fatalf("currentIndex = %d, want 1", got)
		}
		if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "t2" {
			t.Fatalf("current = %v, want t2", cur)
		}
	})

	t.Run("removing current stops playback", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 1)
		before := r.player.stopCount()
		if err := r.m.RemoveFromQueue(1); err != nil {
			t.Fatalf("RemoveFromQueue: %v", err)
		}
		if r.player.stopCount() == before {
			t.Fatal("expected Stop to be called")
		}
		// 游标仍指向合法曲目
		if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "t2" {
			t.Fatalf("current = %v, want t2", cur)
		}
	})

	t.Run("removing last remaining track empties queue", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(1), 0)
		if err := r.m.RemoveFromQueue(0); err != nil {
			t.Fatalf("RemoveFromQueue: %v", err)
		}
		if got := r.m.CurrentIndex(); got != -1 {
			t.Fatalf("currentIndex = %d, want -1", got)
		}
	})

	t.Run("out of range", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(2), 0)
		if err := r.m.RemoveFromQueue(5); err == nil {
			t.Fatal("expected error for out-of-range index")
		}
	})
}

func TestMoveTrack(t *testing.T) {
	r := newQueueRig(t, nil)
	r.m.SetQueue(context.Background(), makeTracks(4), 1)

	if err := r.m.MoveTrack(3, 0); err != nil {
		t.Fatalf("MoveTrack: %v", err)
	}
	tracks := r.m.Tracks()
	want := []string{"t3", "t0", "t1", "t2"}
	for i, w := range want {
		if tracks[i].ID != w {
			t.Fatalf("tracks = %v, want %v", tracks, want)
		}
	}
	// 当前曲目跟随移动
	if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "t1" {
		t.Fatalf("current = %v, want t1", cur)
	}

	if err := r.m.MoveTrack(0, 9); err == nil {
		t.Fatal("expected error for out-of-range move")
	}
}

func TestNext(t *testing.T) {
	t.Run("advances", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 0)
		if err := r.m.Next(context.Background()); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got := r.player.lastLoad(); got != "t1" {
			t.Fatalf("loaded %q, want t1", got)
		}
	})

	t.Run("stops at end with repeat off", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(2), 1)
		before := r.player.stopCount()
		if err := r.m.Next(context.Background()); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if r.player.stopCount() == before {
			t.Fatal("expected Stop at queue end")
		}
	})

	t.Run("wraps with repeat all", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(2), 1)
		r.m.SetRepeatMode(RepeatAll)
		if err := r.m.Next(context.Background()); err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got := r.m.CurrentIndex(); got != 0 {
			t.Fatalf("currentIndex = %d, want 0 (wrapped)", got)
		}
	})

	t.Run("empty queue", func(t *testing.T) {
		r := newQueueRig(t, nil)
		if err := r.m.Next(context.Background()); !errors.Is(err, model.ErrQueueEmpty) {
			t.Fatalf("err = %v, want ErrQueueEmpty", err)
		}
	})
}

func TestPrevious(t *testing.T) {
	t.Run("goes back", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 2)
		if err := r.m.Previous(context.Background()); err != nil {
			t.Fatalf("Previous: %v", err)
		}
		if got := r.m.CurrentIndex(); got != 1 {
			t.Fatalf("currentIndex = %d, want 1", got)
		}
	})

	t.Run("replays first track at start", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 0)
		if err := r.m.Previous(context.Background()); err != nil {
			t.Fatalf("Previous: %v", err)
		}
		if got := r.m.CurrentIndex(); got != 0 {
			t.Fatalf("currentIndex = %d, want 0", got)
		}
		loads := r.player.loadHistory()
		if len(loads) != 2 || loads[1] != "t0" {
			t.Fatalf("loads = %v, want t0 reloaded", loads)
		}
	})

	t.Run("wraps with repeat all", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 0)
		r.m.SetRepeatMode(RepeatAll)
		if err := r.m.Previous(context.Background()); err != nil {
			t.Fatalf("Previous: %v", err)
		}
		if got := r.m.CurrentIndex(); got != 2 {
			t.Fatalf("currentIndex = %d, want 2 (wrapped)", got)
		}
	})
}

func TestSkipTo(t *testing.T) {
	r := newQueueRig(t, nil)
	r.m.SetQueue(context.Background(), makeTracks(5), 0)

	if err := r.m.SkipTo(context.Background(), 3); err != nil {
		t.Fatalf("SkipTo: %v", err)
	}
	if got := r.player.lastLoad(); got != "t3" {
		t.Fatalf("loaded %q, want t3", got)
	}

	hist := r.m.History()
	if len(hist) == 0 || hist[len(hist)-1].ID != "t0" {
		t.Fatalf("history = %v, want t0 recorded", hist)
	}

	if err := r.m.SkipTo(context.Background(), 9); err == nil {
		t.Fatal("expected error for out-of-range skip")
	}
}

func TestAutoAdvanceOnEnd(t *testing.T) {
	t.Run("advances to next", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 0)

		cur := r.m.CurrentTrack()
		r.emitEnded(cur)

		if got := r.player.lastLoad(); got != "t1" {
			t.Fatalf("loaded %q, want t1", got)
		}
		if got := r.m.CurrentIndex(); got != 1 {
			t.Fatalf("currentIndex = %d, want 1", got)
		}
	})

	t.Run("stops after last with repeat off", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(2), 1)

		loadsBefore := len(r.player.loadHistory())
		r.emitEnded(r.m.CurrentTrack())

		if got := len(r.player.loadHistory()); got != loadsBefore {
			t.Fatalf("unexpected load after final track: %v", r.player.loadHistory())
		}
		if got := r.m.CurrentIndex(); got != 1 {
			t.Fatalf("currentIndex = %d, want 1 (stays)", got)
		}
	})

	t.Run("repeat one replays same track", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 1)
		r.m.SetRepeatMode(RepeatOne)

		r.emitEnded(r.m.CurrentTrack())

		if got := r.m.CurrentIndex(); got != 1 {
			t.Fatalf("currentIndex = %d, want 1 (unchanged)", got)
		}
		loads := r.player.loadHistory()
		if len(loads) != 2 || loads[1] != "t1" {
			t.Fatalf("loads = %v, want t1 reloaded", loads)
		}
	})

	t.Run("repeat all wraps to first", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(2), 1)
		r.m.SetRepeatMode(RepeatAll)

		r.emitEnded(r.m.CurrentTrack())

		if got := r.m.CurrentIndex(); got != 0 {
			t.Fatalf("currentIndex = %d, want 0 (wrapped)", got)
		}
	})

	t.Run("ignored while transition active", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(3), 0)
		r.trans.mu.Lock()
		r.trans.active = true
		r.trans.mu.Unlock()

		loadsBefore := len(r.player.loadHistory())
		r.emitEnded(r.m.CurrentTrack())

		if got := len(r.player.loadHistory()); got != loadsBefore {
			t.Fatal("ended event during transition must be ignored")
		}
	})
}

func TestShuffle(t *testing.T) {
	t.Run("order is a valid permutation", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(10), 3)
		r.m.SetShuffleMode(true)

		order := r.m.Order()
		if len(order) != 10 {
			t.Fatalf("order length = %d, want 10", len(order))
		}
		sorted := append([]int(nil), order...)
		sort.Ints(sorted)
		for i, v := range sorted {
			if v != i {
				t.Fatalf("order %v is not a permutation of 0..9", order)
			}
		}
	})

	t.Run("current track survives toggling", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(10), 3)

		r.m.SetShuffleMode(true)
		if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "t3" {
			t.Fatalf("current after shuffle = %v, want t3", cur)
		}

		r.m.SetShuffleMode(false)
		if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "t3" {
			t.Fatalf("current after unshuffle = %v, want t3", cur)
		}
		if got := r.m.CurrentIndex(); got != 3 {
			t.Fatalf("currentIndex = %d, want 3", got)
		}
	})

	t.Run("permutation regenerated on mutation", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(6), 2)
		r.m.SetShuffleMode(true)

		r.m.AddToQueue(model.Track{ID: "x"}, "end")

		order := r.m.Order()
		if len(order) != 7 {
			t.Fatalf("order length = %d, want 7", len(order))
		}
		sorted := append([]int(nil), order...)
		sort.Ints(sorted)
		for i, v := range sorted {
			if v != i {
				t.Fatalf("order %v is not a permutation of 0..6", order)
			}
		}
		if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "t2" {
			t.Fatalf("current = %v, want t2 preserved", cur)
		}
	})

	t.Run("play next honored while shuffled", func(t *testing.T) {
		// 插入位置取决于随机排列，固定种子逐一覆盖
		// （含当前曲目落在排列末位、新槽位在当前曲目之前的情况）
		for _, n := range []int{2, 3, 6} {
			for seed := int64(0); seed < 32; seed++ {
				r := newQueueRig(t, nil)
				r.m.SetQueue(context.Background(), makeTracks(n), n-1)
				r.m.rng = rand.New(rand.NewSource(seed))
				r.m.SetShuffleMode(true)

				r.m.AddToQueue(model.Track{ID: "x"}, "next")

				order := r.m.Order()
				sorted := append([]int(nil), order...)
				sort.Ints(sorted)
				for i, v := range sorted {
					if v != i {
						t.Fatalf("n=%d seed=%d: order %v is not a permutation", n, seed, order)
					}
				}
				want := fmt.Sprintf("t%d", n-1)
				if cur := r.m.CurrentTrack(); cur == nil || cur.ID != want {
					t.Fatalf("n=%d seed=%d: current = %v, want %s preserved", n, seed, cur, want)
				}

				if err := r.m.Next(context.Background()); err != nil {
					t.Fatalf("n=%d seed=%d: Next: %v", n, seed, err)
				}
				if cur := r.m.CurrentTrack(); cur == nil || cur.ID != "x" {
					t.Fatalf("n=%d seed=%d: current = %v, want x (queued as next)", n, seed, cur)
				}
				r.m.Close()
			}
		}
	})
}

func TestHistoryBounded(t *testing.T) {
	r := newQueueRig(t, nil)
	r.m.SetQueue(context.Background(), makeTracks(60), 0)

	for i := 0; i < 59; i++ {
		if err := r.m.Next(context.Background()); err != nil {
			t.Fatalf("Next #%d: %v", i, err)
		}
	}
	if got := len(r.m.History()); got != 50 {
		t.Fatalf("history length = %d, want 50 (bounded)", got)
	}
	// 最旧的被丢弃，最新的在尾部
	hist := r.m.History()
	if hist[len(hist)-1].ID != "t58" {
		t.Fatalf("newest history entry = %v, want t58", hist[len(hist)-1])
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	r := newQueueRig(t, nil)
	r.m.SetQueue(context.Background(), makeTracks(5), 2)
	r.m.SetRepeatMode(RepeatAll)

	data, err := r.m.ExportState()
	if err != nil {
		t.Fatalf("ExportState: %v", err)
	}
	if !json.Valid(data) {
		t.Fatal("exported state is not valid JSON")
	}

	r2 := newQueueRig(t, nil)
	if err := r2.m.ImportState(data); err != nil {
		t.Fatalf("ImportState: %v", err)
	}

	if got := len(r2.m.Tracks()); got != 5 {
		t.Fatalf("tracks = %d, want 5", got)
	}
	if cur := r2.m.CurrentTrack(); cur == nil || cur.ID != "t2" {
		t.Fatalf("current = %v, want t2", cur)
	}
	if got := r2.m.RepeatMode(); got != RepeatAll {
		t.Fatalf("repeat = %v, want all", got)
	}
	// 导入不自动播放
	if got := r2.player.loadHistory(); len(got) != 0 {
		t.Fatalf("import must not start playback, got loads %v", got)
	}
}

func TestImportStateInvalid(t *testing.T) {
	r := newQueueRig(t, nil)
	if err := r.m.ImportState([]byte("not json")); err == nil {
		t.Fatal("expected error for invalid snapshot")
	}
}

func TestRepeatModeValidation(t *testing.T) {
	r := newQueueRig(t, nil)
	if err := r.m.SetRepeatMode("bogus"); err == nil {
		t.Fatal("expected error for unknown repeat mode")
	}
	for _, mode := range []RepeatMode{RepeatOff, RepeatAll, RepeatOne} {
		if err := r.m.SetRepeatMode(mode); err != nil {
			t.Fatalf("SetRepeatMode(%v): %v", mode, err)
		}
	}
}

func TestPreloadTimer(t *testing.T) {
	t.Run("preloads next shortly after start", func(t *testing.T) {
		r := newQueueRig(t, func(cfg *config.Config) {
			cfg.Gapless.PreloadDuration = 10 * time.Millisecond
		})
		r.m.SetQueue(context.Background(), makeTracks(3), 0)

		// 曲目开始事件触发定时器安排
		r.bus.Emit(model.EventTrackChange, model.TrackChangeData{Track: r.m.CurrentTrack()})

		deadline := time.Now().Add(2 * time.Second)
		for {
			pre := r.player.preloadHistory()
			if len(pre) > 0 {
				if pre[0] != "t1" {
					t.Fatalf("preloaded %q, want t1", pre[0])
				}
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("next track was never preloaded")
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("preload failure does not disturb playback", func(t *testing.T) {
		r := newQueueRig(t, func(cfg *config.Config) {
			cfg.Gapless.PreloadDuration = 10 * time.Millisecond
		})
		r.m.SetQueue(context.Background(), makeTracks(2), 0)
		r.player.mu.Lock()
		r.player.failLoad["t1"] = errors.New("connection refused")
		r.player.mu.Unlock()

		r.bus.Emit(model.EventTrackChange, model.TrackChangeData{Track: r.m.CurrentTrack()})
		time.Sleep(50 * time.Millisecond)

		if !r.player.Playing() {
			t.Fatal("playback must survive a failed preload")
		}
		if got := r.m.CurrentIndex(); got != 0 {
			t.Fatalf("currentIndex = %d, want 0", got)
		}
	})
}

func TestTransitionScheduledNearEnd(t *testing.T) {
	r := newQueueRig(t, func(cfg *config.Config) {
		cfg.Crossfade = config.CrossfadeConfig{
			Enabled:          true,
			Duration:         50 * time.Millisecond,
			OverlapThreshold: 50 * time.Millisecond,
		}
		cfg.Gapless.PreloadDuration = 5 * time.Millisecond
	})
	r.player.mu.Lock()
	r.player.dur = 150 * time.Millisecond
	r.player.mu.Unlock()

	r.m.SetQueue(context.Background(), makeTracks(3), 0)
	r.bus.Emit(model.EventTrackChange, model.TrackChangeData{Track: r.m.CurrentTrack()})

	deadline := time.Now().Add(2 * time.Second)
	for r.trans.crossfadeCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("crossfade was never started near track end")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r.trans.mu.Lock()
	pair := r.trans.crossfades[0]
	r.trans.mu.Unlock()
	if pair != [2]string{"t0", "t1"} {
		t.Fatalf("crossfade pair = %v, want t0 -> t1", pair)
	}
	// 过渡发起后游标前移
	if got := r.m.CurrentIndex(); got != 1 {
		t.Fatalf("currentIndex = %d, want 1", got)
	}
}

// memorySnapshots 内存快照与播放进度后端
type memorySnapshots struct {
	mu       sync.Mutex
	data     map[string][]byte
	posTrack map[string]string
	posVal   map[string]float64
}

func (s *memorySnapshots) SaveSnapshot(_ context.Context, playerID string, snapshot []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.data[playerID] = snapshot
	return nil
}

func (s *memorySnapshots) LoadSnapshot(_ context.Context, playerID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data[playerID], nil
}

func (s *memorySnapshots) SavePosition(_ context.Context, playerID, trackID string, position float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.posTrack == nil {
		s.posTrack = make(map[string]string)
		s.posVal = make(map[string]float64)
	}
	s.posTrack[playerID] = trackID
	s.posVal[playerID] = position
	return nil
}

func (s *memorySnapshots) LoadPosition(_ context.Context, playerID string) (string, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.posTrack[playerID], s.posVal[playerID], nil
}

func TestSnapshotPersistence(t *testing.T) {
	store := &memorySnapshots{}

	r := newQueueRig(t, nil)
	r.m.SetSnapshotStore(store, "p1")
	r.m.SetQueue(context.Background(), makeTracks(4), 2)

	// 快照是异步写的
	deadline := time.Now().Add(2 * time.Second)
	for {
		store.mu.Lock()
		_, ok := store.data["p1"]
		store.mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("snapshot was never saved")
		}
		time.Sleep(5 * time.Millisecond)
	}

	r2 := newQueueRig(t, nil)
	r2.m.SetSnapshotStore(store, "p1")
	if err := r2.m.RestoreSnapshot(context.Background()); err != nil {
		t.Fatalf("RestoreSnapshot: %v", err)
	}
	if cur := r2.m.CurrentTrack(); cur == nil || cur.ID != "t2" {
		t.Fatalf("restored current = %v, want t2", cur)
	}
}

func TestPositionPersistence(t *testing.T) {
	t.Run("saved on pause and readable across sessions", func(t *testing.T) {
		store := &memorySnapshots{}

		r := newQueueRig(t, nil)
		r.m.SetSnapshotStore(store, "p1")
		r.m.SetQueue(context.Background(), makeTracks(3), 1)
		r.player.setPosition(42 * time.Second)

		// 进度是异步写的
		r.bus.Emit(model.EventPause, r.m.CurrentTrack())

		deadline := time.Now().Add(2 * time.Second)
		for {
			trackID, pos, err := store.LoadPosition(context.Background(), "p1")
			if err != nil {
				t.Fatalf("LoadPosition: %v", err)
			}
			if trackID == "t1" && pos == 42 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("position never saved, got %q/%v", trackID, pos)
			}
			time.Sleep(5 * time.Millisecond)
		}

		r2 := newQueueRig(t, nil)
		r2.m.SetSnapshotStore(store, "p1")
		trackID, pos, err := r2.m.SavedPosition(context.Background())
		if err != nil {
			t.Fatalf("SavedPosition: %v", err)
		}
		if trackID != "t1" || pos != 42 {
			t.Fatalf("saved position = %q/%v, want t1/42", trackID, pos)
		}
	})

	t.Run("saved on stop", func(t *testing.T) {
		store := &memorySnapshots{}

		r := newQueueRig(t, nil)
		r.m.SetSnapshotStore(store, "p1")
		r.m.SetQueue(context.Background(), makeTracks(2), 0)
		r.player.setPosition(7 * time.Second)

		r.bus.Emit(model.EventStop, nil)

		deadline := time.Now().Add(2 * time.Second)
		for {
			trackID, pos, _ := store.LoadPosition(context.Background(), "p1")
			if trackID == "t0" && pos == 7 {
				break
			}
			if time.Now().After(deadline) {
				t.Fatalf("position never saved, got %q/%v", trackID, pos)
			}
			time.Sleep(5 * time.Millisecond)
		}
	})

	t.Run("no backend is a no-op", func(t *testing.T) {
		r := newQueueRig(t, nil)
		r.m.SetQueue(context.Background(), makeTracks(2), 0)
		trackID, pos, err := r.m.SavedPosition(context.Background())
		if err != nil || trackID != "" || pos != 0 {
			t.Fatalf("SavedPosition = %q/%v/%v, want empty", trackID, pos, err)
		}
	})
}

// memoryRecorder 内存播放历史
type memoryRecorder struct {
	mu      sync.Mutex
	entries []struct {
		id        string
		completed bool
	}
}

func (r *memoryRecorder) Record(track *model.Track, completed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, struct {
		id        string
		completed bool
	}{track.ID, completed})
	return nil
}

func TestHistoryRecorder(t *testing.T) {
	rec := &memoryRecorder{}

	r := newQueueRig(t, nil)
	r.m.SetHistoryRecorder(rec)
	r.m.SetQueue(context.Background(), makeTracks(3), 0)

	// 手动跳过记 completed=false，自然播完记 completed=true
	if err := r.m.Next(context.Background()); err != nil {
		t.Fatalf("Next: %v", err)
	}
	r.emitEnded(r.m.CurrentTrack())

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec.mu.Lock()
		n := len(rec.entries)
		rec.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("history entries were never recorded")
		}
		time.Sleep(5 * time.Millisecond)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	var skipped, completed bool
	for _, e := range rec.entries {
		if e.id == "t0" && !e.completed {
			skipped = true
		}
		if e.id == "t1" && e.completed {
			completed = true
		}
	}
	if !skipped {
		t.Fatalf("entries = %v, want t0 recorded as skipped", rec.entries)
	}
	if !completed {
		t.Fatalf("entries = %v, want t1 recorded as completed", rec.entries)
	}
}
