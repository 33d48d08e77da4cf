package recorder

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/internal/domain"
)

func TestRecordFillAndWindow(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trades.db")
	r, err := Open(dbPath, "sess-1")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()

	r.RecordFill("btc-updown-15m-1756100700", domain.FillEvent{
		OrderID:    "ord-1",
		AssetID:    "asset-yes",
		Side:       domain.SideYes,
		PriceTicks: 495,
		Size:       decimal.NewFromFloat(7.5),
		IsMaker:    true,
		TS:         time.Now(),
	})

	var count int
	if err := r.db.QueryRow(`SELECT COUNT(*) FROM fills WHERE session_id = 'sess-1'`).Scan(&count); err != nil {
		t.Fatalf("查询成交失败: %v", err)
	}
	if count != 1 {
		t.Fatalf("成交条数 = %d, want 1", count)
	}

	r.RecordWindow(WindowSummary{
		Slug:        "btc-updown-15m-1756100700",
		WindowStart: 1756100700,
		Strike:      65000.5,
		QtyYes:      "30",
		QtyNo:       "28",
		CostYes:     "13500",
		CostNo:      "13720",
		MinPnLTicks: "780",
		FillCount:   6,
	})
	// 同窗口重复写入做覆盖而不是报错
	r.RecordWindow(WindowSummary{Slug: "btc-updown-15m-1756100700", WindowStart: 1756100700, FillCount: 7})

	var fills int
	err = r.db.QueryRow(`SELECT fill_count FROM window_summaries WHERE session_id = 'sess-1' AND slug = 'btc-updown-15m-1756100700'`).Scan(&fills)
	if err != nil {
		t.Fatalf("查询窗口小结失败: %v", err)
	}
	if fills != 7 {
		t.Fatalf("fill_count = %d, want 7", fills)
	}
}
