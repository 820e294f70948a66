package model

import "time"

// EventType 事件类型
type EventType string

const (
	// 播放控制事件
	EventPlay   EventType = "play"
	EventPause  EventType = "pause"
	EventStop   EventType = "stop"
	EventSeek   EventType = "seek"
	EventVolume EventType = "volume"

	// 曲目与错误事件
	EventTrackChange EventType = "trackChange"
	EventError       EventType = "error"

	// 流客户端事件
	EventRetry EventType = "retry"

	// 过渡事件
	EventTransitionStart    EventType = "transitionStart"
	EventTransitionProgress EventType = "transitionProgress"
	EventTransitionComplete EventType = "transitionComplete"

	// EventAny 通配订阅，接收所有事件
	EventAny EventType = "*"
)

// Event 是所有组件对外通知的统一载体
type Event struct {
	Type      EventType   `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"` // epoch 毫秒
}

// NewEvent 构造带当前时间戳的事件
func NewEvent(t EventType, data interface{}) Event {
	return Event{Type: t, Data: data, Timestamp: time.Now().UnixMilli()}
}

// TrackChangeData 曲目变更事件负载
type TrackChangeData struct {
	Track *Track `json:"track,omitempty"`
	Ended bool   `json:"ended"` // 自然播放结束时为 true
}

// RetryData 重试事件负载
type RetryData struct {
	Method  string        `json:"method"`
	Attempt int           `json:"attempt"`
	Delay   time.Duration `json:"delay"`
	Error   string        `json:"error"`
}

// TransitionData 过渡事件负载
type TransitionData struct {
	Type     string  `json:"type"`
	Progress float64 `json:"progress"`
	From     string  `json:"from,omitempty"`
	To       string  `json:"to,omitempty"`
}

// ErrorData 错误事件负载
type ErrorData struct {
	Op    string `json:"op"`
	Error string `json:"error"`
}
