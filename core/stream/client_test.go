package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"CoralPlay/config"
	"CoralPlay/core/event"
	"CoralPlay/model"
)

// scriptedProvider 按调用次数返回预置错误，脚本耗尽后成功
type scriptedProvider struct {
	mu     sync.Mutex
	script []error
	calls  int
}

func (p *scriptedProvider) next() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.script) {
		return p.script[i]
	}
	return nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *scriptedProvider) Search(context.Context, string, int, int) (*model.SearchResult, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	return &model.SearchResult{Total: 1}, nil
}

func (p *scriptedProvider) GetTrackDetail(context.Context, string) (*model.Track, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	return &model.Track{ID: "1", Title: "ok"}, nil
}

func (p *scriptedProvider) GetAlbum(context.Context, string) (*model.Album, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	return &model.Album{ID: "1"}, nil
}

func (p *scriptedProvider) GetTrackStream(context.Context, string, string) (*model.StreamInfo, error) {
	if err := p.next(); err != nil {
		return nil, err
	}
	return &model.StreamInfo{URL: "http://example/a.mp3"}, nil
}

func (p *scriptedProvider) GetLyrics(context.Context, string) (string, error) {
	if err := p.next(); err != nil {
		return "", err
	}
	return "[00:00] la", nil
}

func (p *scriptedProvider) LikeTrack(context.Context, string) error { return p.next() }

func (p *scriptedProvider) FetchAudio(context.Context, string) ([]byte, string, error) {
	if err := p.next(); err != nil {
		return nil, "", err
	}
	return []byte{1, 2, 3}, "mp3", nil
}

func serverErr(status int) error {
	return &model.ProviderError{Method: "test", Status: status, Message: "Service unavailable"}
}

func testRetryConfig() config.RetryConfig {
	return config.RetryConfig{
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
		RetryableStatuses: []int{408, 429, 500, 502, 503, 504},
		RetryableMessages: []string{"Network error", "Timeout", "connection refused"},
	}
}

func testBreakerConfig() config.BreakerConfig {
	return config.BreakerConfig{
		FailureThreshold: 100, // 默认不触发熔断
		RecoveryTimeout:  time.Minute,
		MonitoringPeriod: time.Minute,
	}
}

func newTestClient(script ...error) (*Client, *scriptedProvider, *event.Bus) {
	p := &scriptedProvider{script: script}
	bus := event.NewBus()
	c := NewClient(p, testRetryConfig(), testBreakerConfig(), bus)
	return c, p, bus
}

func TestClientRetriesTransientFailures(t *testing.T) {
	c, p, bus := newTestClient(serverErr(500), serverErr(503))

	retries := 0
	bus.Subscribe(model.EventRetry, func(ev model.Event) {
		if _, ok := ev.Data.(model.RetryData); ok {
			retries++
		}
	})

	track, err := c.GetTrackDetail(context.Background(), "1")
	if err != nil {
		t.Fatalf("GetTrackDetail: %v", err)
	}
	if track == nil || track.ID != "1" {
		t.Fatalf("track = %v, want id 1", track)
	}
	if got := p.callCount(); got != 3 {
		t.Fatalf("provider calls = %d, want 3 (1 + 2 retries)", got)
	}
	if retries != 2 {
		t.Fatalf("retry events = %d, want 2", retries)
	}
}

func TestClientExhaustsRetries(t *testing.T) {
	// 脚本全失败：maxRetries=2 → 总共3次调用后放弃
	c, p, _ := newTestClient(serverErr(500), serverErr(500), serverErr(500), serverErr(500))

	_, err := c.GetTrackDetail(context.Background(), "1")
	var pe *model.ProviderError
	if !errors.As(err, &pe) || pe.Status != 500 {
		t.Fatalf("err = %v, want ProviderError 500", err)
	}
	if got := p.callCount(); got != 3 {
		t.Fatalf("provider calls = %d, want 3", got)
	}
}

func TestClientDoesNotRetryAuthErrors(t *testing.T) {
	authErr := &model.ProviderError{Method: "test", Status: 401, Message: "Authentication failed"}
	c, p, _ := newTestClient(authErr, authErr)

	_, err := c.GetTrackDetail(context.Background(), "1")
	if !model.IsAuthError(err) {
		t.Fatalf("err = %v, want auth error", err)
	}
	if got := p.callCount(); got != 1 {
		t.Fatalf("provider calls = %d, want 1 (no retry)", got)
	}
}

func TestClientDoesNotRetryUnknownErrors(t *testing.T) {
	c, p, _ := newTestClient(errors.New("invalid track id"))

	_, err := c.GetTrackDetail(context.Background(), "1")
	if err == nil {
		t.Fatal("expected error")
	}
	if got := p.callCount(); got != 1 {
		t.Fatalf("provider calls = %d, want 1", got)
	}
}

func TestClientRetriesByMessage(t *testing.T) {
	c, p, _ := newTestClient(&model.ProviderError{Method: "test", Message: "Network error: connection reset"})

	if _, err := c.GetTrackDetail(context.Background(), "1"); err != nil {
		t.Fatalf("GetTrackDetail: %v", err)
	}
	if got := p.callCount(); got != 2 {
		t.Fatalf("provider calls = %d, want 2", got)
	}
}

func TestClientCircuitBreaker(t *testing.T) {
	p := &scriptedProvider{script: []error{
		errors.New("boom"), errors.New("boom"), // 不可重试，每次调用记一次失败
	}}
	bus := event.NewBus()
	breakerCfg := testBreakerConfig()
	breakerCfg.FailureThreshold = 2
	c := NewClient(p, testRetryConfig(), breakerCfg, bus)

	ctx := context.Background()
	if _, err := c.GetTrackDetail(ctx, "1"); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := c.GetTrackDetail(ctx, "1"); err == nil {
		t.Fatal("expected failure")
	}
	if got := c.Breaker().State(); got != BreakerOpen {
		t.Fatalf("breaker state = %v, want open", got)
	}

	// 熔断打开：第三次调用直接拒绝，不触网
	before := p.callCount()
	if _, err := c.GetTrackDetail(ctx, "1"); !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if got := p.callCount(); got != before {
		t.Fatalf("provider calls = %d, want %d (breaker must not touch network)", got, before)
	}
}

func TestClientBreakerRecovers(t *testing.T) {
	p := &scriptedProvider{script: []error{errors.New("boom")}}
	bus := event.NewBus()
	breakerCfg := testBreakerConfig()
	breakerCfg.FailureThreshold = 1
	breakerCfg.RecoveryTimeout = 30 * time.Second
	c := NewClient(p, testRetryConfig(), breakerCfg, bus)

	now := time.Now()
	c.breaker.now = func() time.Time { return now }

	ctx := context.Background()
	if _, err := c.GetTrackDetail(ctx, "1"); err == nil {
		t.Fatal("expected failure")
	}
	if _, err := c.GetTrackDetail(ctx, "1"); !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}

	// 恢复超时过后放行探测，成功则关闭
	now = now.Add(31 * time.Second)
	if _, err := c.GetTrackDetail(ctx, "1"); err != nil {
		t.Fatalf("probe call: %v", err)
	}
	if got := c.Breaker().State(); got != BreakerClosed {
		t.Fatalf("breaker state = %v, want closed", got)
	}
}

func TestClientContextCancelAbortsBackoff(t *testing.T) {
	p := &scriptedProvider{script: []error{serverErr(500), serverErr(500), serverErr(500)}}
	bus := event.NewBus()
	retry := testRetryConfig()
	retry.BaseDelay = 10 * time.Second
	retry.MaxDelay = 10 * time.Second
	c := NewClient(p, retry, testBreakerConfig(), bus)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := c.GetTrackDetail(ctx, "1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("cancel took %v, backoff sleep was not aborted", elapsed)
	}
}

func TestClientBackoffDelayBounds(t *testing.T) {
	c, _, _ := newTestClient()
	retry := testRetryConfig()

	for attempt := 0; attempt < 6; attempt++ {
		d := c.backoffDelay(attempt)
		base := float64(retry.BaseDelay)
		for i := 0; i < attempt; i++ {
			base *= retry.BackoffMultiplier
		}
		min := time.Duration(base)
		max := time.Duration(base * 1.1)
		if min > retry.MaxDelay {
			min = retry.MaxDelay
		}
		if max > retry.MaxDelay {
			max = retry.MaxDelay
		}
		if d < min || d > max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", attempt, d, min, max)
		}
	}
}

func TestClientRequestStats(t *testing.T) {
	c, _, _ := newTestClient(serverErr(500))

	if _, err := c.GetTrackDetail(context.Background(), "1"); err != nil {
		t.Fatalf("GetTrackDetail: %v", err)
	}
	if _, err := c.Search(context.Background(), "q", 10, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}

	stats := c.RequestStats()
	detail, ok := stats["getTrackDetail"]
	if !ok {
		t.Fatal("missing getTrackDetail stats")
	}
	if detail.Calls != 1 || detail.Failures != 1 || detail.Retries != 1 {
		t.Fatalf("getTrackDetail stats = %+v, want 1 call, 1 failure, 1 retry", detail)
	}
	if detail.WindowFailures != 1 {
		t.Fatalf("window failures = %d, want 1", detail.WindowFailures)
	}
	if s, ok := stats["search"]; !ok || s.Calls != 1 || s.Failures != 0 {
		t.Fatalf("search stats = %+v, want 1 clean call", s)
	}

	if n := len(c.ActiveRequests()); n != 0 {
		t.Fatalf("active requests = %d, want 0 after completion", n)
	}
}
