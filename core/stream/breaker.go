package stream

import (
	"sync"
	"time"

	"CoralPlay/config"
	"CoralPlay/logger"
	"CoralPlay/model"
)

// BreakerState 熔断器状态
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// Breaker 熔断器状态机 closed → open → half-open → closed。
// 连续失败达到阈值后打开，恢复超时过后放行一次探测调用。
type Breaker struct {
	mu          sync.Mutex
	cfg         config.BreakerConfig
	state       BreakerState
	failures    int
	lastFailure time.Time

	now func() time.Time // 测试注入
}

// NewBreaker 创建熔断器
func NewBreaker(cfg config.BreakerConfig) *Breaker {
	return &Breaker{
		cfg:   cfg,
		state: BreakerClosed,
		now:   time.Now,
	}
}

// Allow 判断本次调用是否放行。熔断打开且未到恢复时间时
// 返回 model.ErrCircuitOpen，完全不触网。
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.lastFailure) >= b.cfg.RecoveryTimeout {
			b.state = BreakerHalfOpen
			logger.Info("熔断器进入半开状态")
			return nil
		}
		return model.ErrCircuitOpen
	default:
		return nil
	}
}

// OnSuccess 成功关闭熔断并清零失败计数
func (b *Breaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerClosed {
		logger.Info("熔断器恢复关闭")
	}
	b.state = BreakerClosed
	b.failures = 0
}

// OnFailure 记录一次失败；半开状态下失败立即重新打开并重启超时
func (b *Breaker) OnFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	if b.state == BreakerHalfOpen || b.failures >= b.cfg.FailureThreshold {
		if b.state != BreakerOpen {
			logger.Warn("熔断器打开",
				logger.Int("failures", b.failures),
				logger.Duration("recoveryTimeout", b.cfg.RecoveryTimeout))
		}
		b.state = BreakerOpen
	}
}

// State 返回当前状态
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures 返回连续失败计数
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
