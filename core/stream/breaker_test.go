package stream

import (
	"errors"
	"testing"
	"time"

	"CoralPlay/config"
	"CoralPlay/model"
)

func testBreaker(threshold int, recovery time.Duration) (*Breaker, *time.Time) {
	now := time.Now()
	b := NewBreaker(config.BreakerConfig{
		FailureThreshold: threshold,
		RecoveryTimeout:  recovery,
	})
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := testBreaker(2, 30*time.Second)

	if b.State() != BreakerClosed {
		t.Fatalf("initial state = %v, want closed", b.State())
	}

	b.OnFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("state after 1 failure = %v, want closed", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow below threshold: %v", err)
	}

	b.OnFailure()
	if b.State() != BreakerOpen {
		t.Fatalf("state after 2 failures = %v, want open", b.State())
	}
	if err := b.Allow(); !errors.Is(err, model.ErrCircuitOpen) {
		t.Fatalf("Allow while open = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	t.Run("success closes", func(t *testing.T) {
		b, now := testBreaker(1, 30*time.Second)
		b.OnFailure()

		*now = now.Add(29 * time.Second)
		if err := b.Allow(); !errors.Is(err, model.ErrCircuitOpen) {
			t.Fatalf("Allow before recovery = %v, want ErrCircuitOpen", err)
		}

		*now = now.Add(2 * time.Second)
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow after recovery: %v", err)
		}
		if b.State() != BreakerHalfOpen {
			t.Fatalf("state = %v, want half-open", b.State())
		}

		b.OnSuccess()
		if b.State() != BreakerClosed {
			t.Fatalf("state = %v, want closed", b.State())
		}
		if b.Failures() != 0 {
			t.Fatalf("failures = %d, want 0", b.Failures())
		}
	})

	t.Run("failure reopens", func(t *testing.T) {
		b, now := testBreaker(3, 30*time.Second)
		b.OnFailure()
		b.OnFailure()
		b.OnFailure()

		*now = now.Add(31 * time.Second)
		if err := b.Allow(); err != nil {
			t.Fatalf("Allow after recovery: %v", err)
		}

		// 半开探测失败：立即重新打开并重启恢复计时
		b.OnFailure()
		if b.State() != BreakerOpen {
			t.Fatalf("state = %v, want open", b.State())
		}
		*now = now.Add(29 * time.Second)
		if err := b.Allow(); !errors.Is(err, model.ErrCircuitOpen) {
			t.Fatalf("Allow = %v, want ErrCircuitOpen (timeout restarted)", err)
		}
	})
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := testBreaker(3, time.Second)
	b.OnFailure()
	b.OnFailure()
	b.OnSuccess()
	b.OnFailure()
	b.OnFailure()
	if b.State() != BreakerClosed {
		t.Fatalf("state = %v, want closed (count reset by success)", b.State())
	}
}
