package scheduler

import (
	"testing"
	"time"

	"github.com/betbot/laddermm/pkg/marketspec"
)

func TestWakeTime(t *testing.T) {
	next := int64(1756100700)
	wake := wakeTime(next, 5*time.Second)
	want := time.Unix(1756100695, 0)
	if !wake.Equal(want) {
		t.Fatalf("wake = %v, want %v", wake, want)
	}
}

func TestNextPeriodAlignment(t *testing.T) {
	spec, err := marketspec.New("btc", "15m", "updown")
	if err != nil {
		t.Fatalf("marketspec.New: %v", err)
	}

	// 窗口起点按 epoch 900 秒对齐
	now := time.Unix(1756100700+321, 0)
	start := spec.CurrentPeriodStartUnix(now)
	if start != 1756100700 {
		t.Fatalf("start = %d, want 1756100700", start)
	}
	if next := spec.NextPeriodStartUnix(start); next != 1756101600 {
		t.Fatalf("next = %d, want 1756101600", next)
	}
	if slug := spec.Slug(start); slug != "btc-updown-15m-1756100700" {
		t.Fatalf("slug = %q", slug)
	}
}
