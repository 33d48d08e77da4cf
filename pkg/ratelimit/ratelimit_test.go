package ratelimit

import (
	"context"
	"testing"
	"time"
)

// 默认限制器只登记本机器人会打的端点
func TestDefaultLimiterEndpoints(t *testing.T) {
	m := NewRateLimitManager()

	cases := []struct {
		endpoint  string
		remaining int
	}{
		{"clob:orders:post", 800},
		{"clob:orders:delete", 800},
		{"clob:orders:get", 150},
		{"gamma:markets:get", 125},
		{"data:general", 200},
	}
	for _, c := range cases {
		if got := m.GetRemaining(c.endpoint); got != c.remaining {
			t.Fatalf("%s 初始余量 = %d, want %d", c.endpoint, got, c.remaining)
		}
	}

	if len(m.limiters) != len(cases) {
		t.Fatalf("登记端点数 = %d, want %d", len(m.limiters), len(cases))
	}
}

// 未登记端点走兜底限制器，不 panic 也不拒绝
func TestUnknownEndpointFallback(t *testing.T) {
	m := NewRateLimitManager()
	if !m.Allow("clob:book:get") {
		t.Fatal("未登记端点的首个请求应放行")
	}
}

func TestTokenBucketConsumesAndRefills(t *testing.T) {
	tb := NewTokenBucket(2, 1000, 10*time.Second)
	if !tb.Allow() || !tb.Allow() {
		t.Fatal("容量内的请求应放行")
	}
	if tb.Allow() {
		t.Fatal("桶空后应拒绝")
	}

	// refillRate 很高，Wait 应在补充后很快返回
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("Wait 应等到令牌补充: %v", err)
	}
}

func TestSlidingWindowBlocksAtLimit(t *testing.T) {
	sw := NewSlidingWindow(3, 100*time.Millisecond)
	for i := 0; i < 3; i++ {
		if !sw.Allow() {
			t.Fatalf("第 %d 个请求应放行", i+1)
		}
	}
	if sw.Allow() {
		t.Fatal("窗口内超限应拒绝")
	}
	if got := sw.GetRemaining(); got != 0 {
		t.Fatalf("余量 = %d, want 0", got)
	}

	// 窗口滑出后恢复
	time.Sleep(120 * time.Millisecond)
	if !sw.Allow() {
		t.Fatal("窗口滑出后应放行")
	}
}

func TestWaitRespectsContext(t *testing.T) {
	sw := NewSlidingWindow(1, time.Hour)
	if !sw.Allow() {
		t.Fatal("首个请求应放行")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := sw.Wait(ctx); err == nil {
		t.Fatal("窗口占满时 Wait 应随上下文取消返回错误")
	}
}
