package stream

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"CoralPlay/config"
	"CoralPlay/core/event"
	"CoralPlay/core/provider"
	"CoralPlay/logger"
	"CoralPlay/model"
)

// Client 弹性流客户端：把每个远程目录/流媒体调用包上
// 有界指数退避重试与熔断隔离，不改变调用的成功返回形态。
type Client struct {
	provider provider.Provider
	retry    config.RetryConfig
	breaker  *Breaker
	bus      *event.Bus
	tracker  *requestTracker

	rngMu sync.Mutex
	rng   *rand.Rand
}

// NewClient 创建弹性流客户端
func NewClient(p provider.Provider, retry config.RetryConfig, breaker config.BreakerConfig, bus *event.Bus) *Client {
	return &Client{
		provider: p,
		retry:    retry,
		breaker:  NewBreaker(breaker),
		bus:      bus,
		tracker:  newRequestTracker(breaker.MonitoringPeriod),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Breaker 返回熔断器，供调用方查看状态
func (c *Client) Breaker() *Breaker { return c.breaker }

// ActiveRequests 当前在途请求快照
func (c *Client) ActiveRequests() []RequestContext {
	return c.tracker.activeRequests()
}

// RequestStats 按方法聚合的调用统计
func (c *Client) RequestStats() map[string]MethodStats {
	return c.tracker.requestStats()
}

// backoffDelay 第 attempt 次重试前的等待：
// min(maxDelay, baseDelay × multiplier^attempt × (1 + 最多10%抖动))
func (c *Client) backoffDelay(attempt int) time.Duration {
	delay := float64(c.retry.BaseDelay)
	for i := 0; i < attempt; i++ {
		delay *= c.retry.BackoffMultiplier
	}

	c.rngMu.Lock()
	jitter := 1 + c.rng.Float64()*0.1
	c.rngMu.Unlock()
	delay *= jitter

	if max := float64(c.retry.MaxDelay); delay > max {
		delay = max
	}
	return time.Duration(delay)
}

// retryable 判定错误是否可重试：
// 状态码在允许名单内，或错误文本命中配置的子串；认证类错误永不重试。
func (c *Client) retryable(err error) bool {
	if err == nil {
		return false
	}
	if model.IsAuthError(err) {
		return false
	}

	var pe *model.ProviderError
	if errors.As(err, &pe) {
		for _, status := range c.retry.RetryableStatuses {
			if pe.Status == status {
				return true
			}
		}
	}

	msg := strings.ToLower(err.Error())
	for _, sub := range c.retry.RetryableMessages {
		if strings.Contains(msg, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// execute 重试与熔断的统一执行路径。
// 熔断打开时立即失败不触网；每次重试前发出 retry 事件（仅观测用）。
func (c *Client) execute(ctx context.Context, method string, fn func(context.Context) error) error {
	if err := c.breaker.Allow(); err != nil {
		return err
	}

	req := c.tracker.begin(method)
	defer c.tracker.finish(req)

	var lastErr error
	for attempt := 0; attempt <= c.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.backoffDelay(attempt)
			logger.Warn("重试远程调用",
				logger.String("method", method),
				logger.Int("attempt", attempt),
				logger.Duration("delay", delay),
				logger.ErrorField(lastErr))
			c.bus.Emit(model.EventRetry, model.RetryData{
				Method:  method,
				Attempt: attempt,
				Delay:   delay,
				Error:   lastErr.Error(),
			})

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			if err := c.breaker.Allow(); err != nil {
				return err
			}
		}

		c.tracker.attempt(req, attempt > 0)
		err := fn(ctx)
		if err == nil {
			c.breaker.OnSuccess()
			return nil
		}

		lastErr = err
		c.tracker.fail(req, err)
		c.breaker.OnFailure()

		if !c.retryable(err) {
			break
		}
	}
	return lastErr
}

// 以下均为对同名目录服务操作的直通包装，成功载荷形态不变。

// Search 搜索曲目
func (c *Client) Search(ctx context.Context, query string, limit, offset int) (*model.SearchResult, error) {
	var out *model.SearchResult
	err := c.execute(ctx, "search", func(ctx context.Context) error {
		var err error
		out, err = c.provider.Search(ctx, query, limit, offset)
		return err
	})
	return out, err
}

// GetTrackDetail 获取曲目详情
func (c *Client) GetTrackDetail(ctx context.Context, trackID string) (*model.Track, error) {
	var out *model.Track
	err := c.execute(ctx, "getTrackDetail", func(ctx context.Context) error {
		var err error
		out, err = c.provider.GetTrackDetail(ctx, trackID)
		return err
	})
	return out, err
}

// GetAlbum 获取专辑详情
func (c *Client) GetAlbum(ctx context.Context, albumID string) (*model.Album, error) {
	var out *model.Album
	err := c.execute(ctx, "getAlbum", func(ctx context.Context) error {
		var err error
		out, err = c.provider.GetAlbum(ctx, albumID)
		return err
	})
	return out, err
}

// GetTrackStream 解析曲目的流地址
func (c *Client) GetTrackStream(ctx context.Context, trackID, quality string) (*model.StreamInfo, error) {
	var out *model.StreamInfo
	err := c.execute(ctx, "getTrackStream", func(ctx context.Context) error {
		var err error
		out, err = c.provider.GetTrackStream(ctx, trackID, quality)
		return err
	})
	return out, err
}

// GetLyrics 获取歌词
func (c *Client) GetLyrics(ctx context.Context, trackID string) (string, error) {
	var out string
	err := c.execute(ctx, "getLyrics", func(ctx context.Context) error {
		var err error
		out, err = c.provider.GetLyrics(ctx, trackID)
		return err
	})
	return out, err
}

// LikeTrack 收藏曲目
func (c *Client) LikeTrack(ctx context.Context, trackID string) error {
	return c.execute(ctx, "likeTrack", func(ctx context.Context) error {
		return c.provider.LikeTrack(ctx, trackID)
	})
}

// FetchAudio 下载音频数据
func (c *Client) FetchAudio(ctx context.Context, url string) ([]byte, string, error) {
	var (
		data   []byte
		format string
	)
	err := c.execute(ctx, "fetchAudio", func(ctx context.Context) error {
		var err error
		data, format, err = c.provider.FetchAudio(ctx, url)
		return err
	})
	return data, format, err
}
