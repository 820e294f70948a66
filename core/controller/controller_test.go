package controller

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"sync"
	"testing"
	"time"

	"CoralPlay/config"
	"CoralPlay/core/engine"
	"CoralPlay/core/event"
	"CoralPlay/model"

	"github.com/faiface/beep"
)

// stubOutput 不出声的输出端
type stubOutput struct {
	mu     sync.Mutex
	stream beep.Streamer
}

func (o *stubOutput) Init(beep.SampleRate, int) error { return nil }

func (o *stubOutput) Play(s beep.Streamer) {
	o.mu.Lock()
	o.stream = s
	o.mu.Unlock()
}

func (o *stubOutput) Lock()   { o.mu.Lock() }
func (o *stubOutput) Unlock() { o.mu.Unlock() }

func (o *stubOutput) Clear() {
	o.mu.Lock()
	o.stream = nil
	o.mu.Unlock()
}

// wavBytes 生成双声道 PCM16 静音 WAV
func wavBytes(tb testing.TB, sampleRate int, dur time.Duration) []byte {
	tb.Helper()

	frames := int(math.Round(float64(sampleRate) * dur.Seconds()))
	dataLen := frames * 4

	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(36+dataLen))
	buf.WriteString("WAVEfmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(2))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(sampleRate*4))
	binary.Write(&buf, binary.LittleEndian, uint16(4))
	binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(dataLen))
	buf.Write(make([]byte, dataLen))
	return buf.Bytes()
}

func newTestController(t *testing.T, cat *fakeCatalog) *Controller {
	t.Helper()

	client := newTestStreamClient(cat)
	fetcher := NewAudioFetcher(client, nil, "standard")
	bus := event.NewBus()

	eng := engine.NewEngine(&config.Config{SampleRate: 44100, BufferSize: 512}, bus, fetcher, &stubOutput{})
	if err := eng.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(eng.Close)

	return New(eng, client, bus)
}

func TestControllerPreload(t *testing.T) {
	cat := &fakeCatalog{format: "wav", fetchedData: wavBytes(t, 44100, 300*time.Millisecond)}
	ctrl := newTestController(t, cat)
	ctx := context.Background()

	if err := ctrl.Preload(ctx, model.Track{ID: "42", Title: "a"}); err != nil {
		t.Fatalf("Preload: %v", err)
	}
	if !ctrl.Loaded("42") {
		t.Fatal("track must be loaded after preload")
	}
	if got := ctrl.CurrentTrack(); got != nil {
		t.Fatalf("current = %v, preload must not make the track current", got)
	}
}

func TestControllerLoadAndPlay(t *testing.T) {
	cat := &fakeCatalog{format: "wav", fetchedData: wavBytes(t, 44100, 300*time.Millisecond)}
	ctrl := newTestController(t, cat)
	ctx := context.Background()

	if err := ctrl.LoadAndPlay(ctx, model.Track{ID: "43", Title: "b"}); err != nil {
		t.Fatalf("LoadAndPlay: %v", err)
	}
	if !ctrl.Playing() {
		t.Fatal("engine must be playing")
	}
	if got := ctrl.CurrentTrack(); got == nil || got.ID != "43" {
		t.Fatalf("current = %v, want 43", got)
	}

	st := ctrl.Status()
	if st.State != string(engine.StatePlaying) {
		t.Fatalf("state = %q, want playing", st.State)
	}
	if st.Duration < 0.29 || st.Duration > 0.31 {
		t.Fatalf("duration = %v, want ~0.3s", st.Duration)
	}
}
