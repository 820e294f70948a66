package engine

import (
	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"
)

// Output 抽象音频输出端。生产环境使用系统扬声器，
// 测试注入 stub 并手动推进图时钟。
type Output interface {
	Init(sr beep.SampleRate, bufferSize int) error
	Play(s beep.Streamer)
	Lock()
	Unlock()
	Clear()
}

// speakerOutput 基于 beep/speaker 的默认输出
type speakerOutput struct{}

// NewSpeakerOutput 返回系统扬声器输出
func NewSpeakerOutput() Output { return &speakerOutput{} }

func (speakerOutput) Init(sr beep.SampleRate, bufferSize int) error {
	return speaker.Init(sr, bufferSize)
}

func (speakerOutput) Play(s beep.Streamer) { speaker.Play(s) }
func (speakerOutput) Lock()                { speaker.Lock() }
func (speakerOutput) Unlock()              { speaker.Unlock() }
func (speakerOutput) Clear()               { speaker.Clear() }
