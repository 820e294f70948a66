package engine

import (
	"math"
	"sync"
	"time"

	"github.com/faiface/beep"
)

// 音频图节点。主链为 mixer → masterGain → eq → compressor → analyser → clock，
// 每个曲目源另带一个独立的 gainNode（过渡引擎驱动淡入淡出用）。

// gainNode 音量控制节点，对经过的采样施加 [0,1] 增益
type gainNode struct {
	mu       sync.RWMutex
	streamer beep.Streamer
	gain     float64
	muted    bool
}

func newGainNode(s beep.Streamer, gain float64) *gainNode {
	return &gainNode{streamer: s, gain: clampUnit(gain)}
}

func clampUnit(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// SetGain 设置增益，超出 [0,1] 会被收敛
func (g *gainNode) SetGain(v float64) {
	g.mu.Lock()
	g.gain = clampUnit(v)
	g.mu.Unlock()
}

func (g *gainNode) Gain() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.gain
}

func (g *gainNode) SetMuted(m bool) {
	g.mu.Lock()
	g.muted = m
	g.mu.Unlock()
}

func (g *gainNode) Muted() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.muted
}

func (g *gainNode) Stream(samples [][2]float64) (int, bool) {
	n, ok := g.streamer.Stream(samples)

	g.mu.RLock()
	gain := g.gain
	if g.muted {
		gain = 0
	}
	g.mu.RUnlock()

	for i := range samples[:n] {
		samples[i][0] *= gain
		samples[i][1] *= gain
	}
	return n, ok
}

func (g *gainNode) Err() error { return g.streamer.Err() }

// eqNode 三段均衡。用两个一阶低通把信号分成低/中/高三段，
// 分段增益后再求和。
type eqNode struct {
	mu       sync.RWMutex
	streamer beep.Streamer

	low, mid, high float64 // 各段增益，1 为平直

	aLow, aHigh float64 // 低通系数
	lpLow       [2]float64
	lpHigh      [2]float64
}

func newEQNode(s beep.Streamer, sr beep.SampleRate) *eqNode {
	return &eqNode{
		streamer: s,
		low:      1, mid: 1, high: 1,
		aLow:  onePoleCoef(250, sr),
		aHigh: onePoleCoef(4000, sr),
	}
}

func onePoleCoef(cutoff float64, sr beep.SampleRate) float64 {
	return 1 - math.Exp(-2*math.Pi*cutoff/float64(sr))
}

// SetBands 设置低/中/高三段增益
func (e *eqNode) SetBands(low, mid, high float64) {
	e.mu.Lock()
	e.low, e.mid, e.high = low, mid, high
	e.mu.Unlock()
}

func (e *eqNode) Bands() (low, mid, high float64) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.low, e.mid, e.high
}

func (e *eqNode) Stream(samples [][2]float64) (int, bool) {
	n, ok := e.streamer.Stream(samples)

	e.mu.RLock()
	low, mid, high := e.low, e.mid, e.high
	e.mu.RUnlock()

	for i := range samples[:n] {
		for ch := 0; ch < 2; ch++ {
			x := samples[i][ch]
			e.lpLow[ch] += e.aLow * (x - e.lpLow[ch])
			e.lpHigh[ch] += e.aHigh * (x - e.lpHigh[ch])

			l := e.lpLow[ch]
			m := e.lpHigh[ch] - e.lpLow[ch]
			h := x - e.lpHigh[ch]
			samples[i][ch] = low*l + mid*m + high*h
		}
	}
	return n, ok
}

func (e *eqNode) Err() error { return e.streamer.Err() }

// compressorNode 简单前馈压缩器：包络跟随 + 超阈值按比例压缩
type compressorNode struct {
	streamer  beep.Streamer
	threshold float64 // 线性幅度阈值
	ratio     float64
	attack    float64 // 包络系数
	release   float64
	envelope  float64
}

func newCompressorNode(s beep.Streamer, sr beep.SampleRate) *compressorNode {
	return &compressorNode{
		streamer:  s,
		threshold: 0.8,
		ratio:     4,
		attack:    onePoleCoef(200, sr),
		release:   onePoleCoef(5, sr),
	}
}

func (c *compressorNode) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.streamer.Stream(samples)
	for i := range samples[:n] {
		level := math.Max(math.Abs(samples[i][0]), math.Abs(samples[i][1]))
		coef := c.release
		if level > c.envelope {
			coef = c.attack
		}
		c.envelope += coef * (level - c.envelope)

		gain := 1.0
		if c.envelope > c.threshold {
			compressed := c.threshold + (c.envelope-c.threshold)/c.ratio
			gain = compressed / c.envelope
		}
		samples[i][0] *= gain
		samples[i][1] *= gain
	}
	return n, ok
}

func (c *compressorNode) Err() error { return c.streamer.Err() }

// AnalyserSnapshot 分析节点的瞬时读数
type AnalyserSnapshot struct {
	RMS  float64 `json:"rms"`
	Peak float64 `json:"peak"`
}

// analyserNode 输出电平分析，供 UI 做可视化
type analyserNode struct {
	mu       sync.RWMutex
	streamer beep.Streamer
	rms      float64
	peak     float64
}

func newAnalyserNode(s beep.Streamer) *analyserNode {
	return &analyserNode{streamer: s}
}

func (a *analyserNode) Stream(samples [][2]float64) (int, bool) {
	n, ok := a.streamer.Stream(samples)

	var sum, peak float64
	for i := range samples[:n] {
		v := (samples[i][0] + samples[i][1]) / 2
		sum += v * v
		abs := math.Abs(v)
		if abs > peak {
			peak = abs
		}
	}

	if n > 0 {
		rms := math.Sqrt(sum / float64(n))
		a.mu.Lock()
		// 峰值缓慢衰减，RMS 用指数平滑
		a.rms += 0.3 * (rms - a.rms)
		a.peak *= 0.95
		if peak > a.peak {
			a.peak = peak
		}
		a.mu.Unlock()
	}
	return n, ok
}

func (a *analyserNode) Snapshot() AnalyserSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return AnalyserSnapshot{RMS: a.rms, Peak: a.peak}
}

func (a *analyserNode) Err() error { return a.streamer.Err() }

// clockNode 图时钟：统计流出的采样数。
// 只有当输出端真正拉取采样时时钟才前进，宿主暂停输出时时钟冻结，
// 过渡进度以它为基准而不是墙上时钟。
type clockNode struct {
	mu       sync.Mutex
	streamer beep.Streamer
	sr       beep.SampleRate
	samples  int
}

func newClockNode(s beep.Streamer, sr beep.SampleRate) *clockNode {
	return &clockNode{streamer: s, sr: sr}
}

func (c *clockNode) Stream(samples [][2]float64) (int, bool) {
	n, ok := c.streamer.Stream(samples)
	c.mu.Lock()
	c.samples += n
	c.mu.Unlock()
	return n, ok
}

func (c *clockNode) Err() error { return c.streamer.Err() }

// Now 返回图时钟时间
func (c *clockNode) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sr.D(c.samples)
}

// advance 手动推进时钟，仅测试使用
func (c *clockNode) advance(d time.Duration) {
	c.mu.Lock()
	c.samples += c.sr.N(d)
	c.mu.Unlock()
}
