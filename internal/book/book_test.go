package book

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/internal/domain"
)

func lv(price int) domain.BookLevel {
	return domain.BookLevel{PriceTicks: price, Size: decimal.NewFromInt(100)}
}

func TestSnapshotBestIsLastLevel(t *testing.T) {
	b := New()

	changed := b.ApplySnapshot(domain.SideYes,
		[]domain.BookLevel{lv(460), lv(470), lv(480)},
		[]domain.BookLevel{lv(540), lv(530), lv(520)})
	if !changed {
		t.Fatal("首个快照应标记变化")
	}
	if got := b.BestBid(domain.SideYes); got != 480 {
		t.Fatalf("BestBid = %d, want 480（最优档在末尾）", got)
	}
	if got := b.BestAsk(domain.SideYes); got != 520 {
		t.Fatalf("BestAsk = %d, want 520", got)
	}
}

func TestSyncedNeedsBothSides(t *testing.T) {
	b := New()
	b.ApplySnapshot(domain.SideYes, []domain.BookLevel{lv(480)}, []domain.BookLevel{lv(520)})
	if b.Synced() {
		t.Fatal("只有一侧快照不应 synced")
	}
	b.ApplySnapshot(domain.SideNo, []domain.BookLevel{lv(470)}, []domain.BookLevel{lv(510)})
	if !b.Synced() {
		t.Fatal("两侧都有快照后应 synced")
	}

	b.ResetSync()
	if b.Synced() {
		t.Fatal("ResetSync 后不应 synced")
	}
	// 盘口数值保留，只清 synced 标记
	if got := b.BestBid(domain.SideYes); got != 480 {
		t.Fatalf("ResetSync 不应清盘口: BestBid = %d", got)
	}
}

func TestBBOPartialUpdate(t *testing.T) {
	b := New()
	b.ApplySnapshot(domain.SideYes, []domain.BookLevel{lv(480)}, []domain.BookLevel{lv(520)})

	bid := 490
	if !b.ApplyBBO(domain.SideYes, &bid, nil) {
		t.Fatal("bid 变化应返回 true")
	}
	if got := b.BestAsk(domain.SideYes); got != 520 {
		t.Fatalf("nil 字段不应被改动: BestAsk = %d", got)
	}

	// 重复的相同更新不触发下游
	if b.ApplyBBO(domain.SideYes, &bid, nil) {
		t.Fatal("数值未变应返回 false")
	}
}

func TestResetClearsEverything(t *testing.T) {
	b := New()
	b.ApplySnapshot(domain.SideYes, []domain.BookLevel{lv(480)}, []domain.BookLevel{lv(520)})
	b.ApplySnapshot(domain.SideNo, []domain.BookLevel{lv(470)}, []domain.BookLevel{lv(510)})

	b.Reset()
	if b.Synced() {
		t.Fatal("Reset 后不应 synced")
	}
	if q := b.Quote(domain.SideYes); q != (SideQuote{}) {
		t.Fatalf("Reset 后盘口应清空: %+v", q)
	}
}
