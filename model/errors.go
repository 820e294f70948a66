package model

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrEngineInit 音频子系统不可用，致命错误，不重试
	ErrEngineInit = errors.New("audio engine initialization failed")

	// ErrTrackNotLoaded 在缓冲未解码完成时发起过渡等操作
	ErrTrackNotLoaded = errors.New("track not loaded")

	// ErrTransitionActive 已有过渡在进行中
	ErrTransitionActive = errors.New("transition already in progress")

	// ErrCircuitOpen 熔断器打开，调用被直接拒绝
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrAuthRequired 需要重新认证，永不重试
	ErrAuthRequired = errors.New("authentication required")

	// ErrTrackNotFound 目录中不存在该曲目
	ErrTrackNotFound = errors.New("track not found")

	// ErrQueueEmpty 队列为空
	ErrQueueEmpty = errors.New("queue is empty")
)

// LoadErrorKind 区分加载失败的来源
type LoadErrorKind string

const (
	LoadErrorNetwork LoadErrorKind = "network"
	LoadErrorDecode  LoadErrorKind = "decode"
)

// LoadError 加载曲目失败（网络或解码）
type LoadError struct {
	Kind    LoadErrorKind
	TrackID string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load track %s failed (%s): %v", e.TrackID, e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError 构造加载错误
func NewLoadError(kind LoadErrorKind, trackID string, err error) *LoadError {
	return &LoadError{Kind: kind, TrackID: trackID, Err: err}
}

// ProviderError 远程目录/流媒体服务返回的带状态码错误
type ProviderError struct {
	Method  string
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (status %d)", e.Method, e.Message, e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Method, e.Message)
}

// IsAuthError 判断错误是否属于认证类（永不重试）
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAuthRequired) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if pe.Status == 401 || pe.Status == 403 {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication") || strings.Contains(msg, "unauthorized")
}
