package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/internal/book"
	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/internal/ledger"
	"github.com/betbot/laddermm/internal/pricing"
	"github.com/betbot/laddermm/internal/tracker"
)

func d(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// fakeVenue 记录全部调用的场内假实现
type fakeVenue struct {
	placeCalls  [][]PlaceRequest
	cancelCalls [][]string
	nextID      int
	notCanceled map[string]string
}

func (f *fakeVenue) PostOrders(_ context.Context, reqs []PlaceRequest) ([]PlaceResult, error) {
	batch := make([]PlaceRequest, len(reqs))
	copy(batch, reqs)
	f.placeCalls = append(f.placeCalls, batch)
	out := make([]PlaceResult, len(reqs))
	for i := range reqs {
		f.nextID++
		out[i] = PlaceResult{OrderID: fmt.Sprintf("ord-%d", f.nextID)}
	}
	return out, nil
}

func (f *fakeVenue) CancelOrders(_ context.Context, ids []string) (*CancelReport, error) {
	batch := make([]string, len(ids))
	copy(batch, ids)
	f.cancelCalls = append(f.cancelCalls, batch)
	rep := &CancelReport{NotCanceled: map[string]string{}}
	for _, id := range ids {
		if reason, bad := f.notCanceled[id]; bad {
			rep.NotCanceled[id] = reason
			continue
		}
		rep.Canceled = append(rep.Canceled, id)
	}
	return rep, nil
}

func (f *fakeVenue) CancelMarketOrders(_ context.Context, _ string) error { return nil }

func (f *fakeVenue) calls() int { return len(f.placeCalls) + len(f.cancelCalls) }

var testMarket = &domain.Market{
	ConditionID: "0xcond",
	Slug:        "btc-updown-15m-1756100700",
	AssetIDYes:  "asset-yes",
	AssetIDNo:   "asset-no",
	WindowStart: 1756100700,
}

// 冷启动盘口：ask_yes=520 ask_no=490（YES p_final=495，NO p_final=465）
func newTestRig(t *testing.T) (*Reconciler, *fakeVenue, *book.Book, *ledger.Ledger, *tracker.Tracker) {
	t.Helper()
	b := book.New()
	yesBid, yesAsk, noBid, noAsk := 500, 520, 470, 490
	b.ApplyBBO(domain.SideYes, &yesBid, &yesAsk)
	b.ApplyBBO(domain.SideNo, &noBid, &noAsk)
	b.ApplySnapshot(domain.SideYes, []domain.BookLevel{{PriceTicks: 500}}, []domain.BookLevel{{PriceTicks: 520}})
	b.ApplySnapshot(domain.SideNo, []domain.BookLevel{{PriceTicks: 470}}, []domain.BookLevel{{PriceTicks: 490}})

	l := ledger.New()
	tr := tracker.New()
	v := &fakeVenue{notCanceled: map[string]string{}}
	r := NewReconciler(ReconcilerConfig{
		Params:       pricing.Default(),
		MinOrderSize: d(2),
		BatchMax:     15,
	}, b, l, tr, v)
	r.SetMarket(testMarket)
	return r, v, b, l, tr
}

func TestColdStartPlacesFullLadder(t *testing.T) {
	r, v, _, _, tr := newTestRig(t)
	r.ReconcileSide(context.Background(), domain.SideYes)

	if len(v.placeCalls) != 1 {
		t.Fatalf("下单调用 = %d, want 1", len(v.placeCalls))
	}
	if len(v.cancelCalls) != 0 {
		t.Fatalf("冷启动不应撤单, got %d", len(v.cancelCalls))
	}
	batch := v.placeCalls[0]
	wantPrices := []int{495, 485, 475, 465, 455}
	if len(batch) != len(wantPrices) {
		t.Fatalf("批量下单 = %d 笔, want %d", len(batch), len(wantPrices))
	}
	for i, req := range batch {
		if req.PriceTicks != wantPrices[i] {
			t.Fatalf("下单[%d] price = %d, want %d", i, req.PriceTicks, wantPrices[i])
		}
		if !req.Size.Equal(d(10)) {
			t.Fatalf("下单[%d] size = %s, want 10", i, req.Size)
		}
		if req.AssetID != testMarket.AssetIDYes {
			t.Fatalf("下单[%d] asset = %s, want %s", i, req.AssetID, testMarket.AssetIDYes)
		}
	}
	for _, p := range wantPrices {
		if got := tr.TotalSizeAt(domain.SideYes, p); !got.Equal(d(10)) {
			t.Fatalf("tracker@%d = %s, want 10", p, got)
		}
	}
}

// 部分在场：495 已有 6，补一笔 4，其余价位不动
func TestStackingPlacesDiff(t *testing.T) {
	r, v, _, _, tr := newTestRig(t)
	tr.Add(domain.SideYes, 495, "seed-1", d(6))
	for _, p := range []int{485, 475, 465, 455} {
		tr.Add(domain.SideYes, p, fmt.Sprintf("seed-%d", p), d(10))
	}

	r.ReconcileSide(context.Background(), domain.SideYes)

	if len(v.cancelCalls) != 0 {
		t.Fatalf("stacking 不应撤单, got %v", v.cancelCalls)
	}
	if len(v.placeCalls) != 1 || len(v.placeCalls[0]) != 1 {
		t.Fatalf("应只补一笔, got %v", v.placeCalls)
	}
	req := v.placeCalls[0][0]
	if req.PriceTicks != 495 || !req.Size.Equal(d(4)) {
		t.Fatalf("补单 = %d@%s, want 495@4", req.PriceTicks, req.Size)
	}
	if got := tr.TotalSizeAt(domain.SideYes, 495); !got.Equal(d(10)) {
		t.Fatalf("total@495 = %s, want 10", got)
	}
	if got := len(tr.OrdersAt(domain.SideYes, 495)); got != 2 {
		t.Fatalf("495 订单数 = %d, want 2", got)
	}
}

// 缩量：495 在场 16 > 10·1.5，全撤后重挂 10
func TestShrinkByHysteresis(t *testing.T) {
	r, v, _, _, tr := newTestRig(t)
	tr.Add(domain.SideYes, 495, "big-1", d(10))
	tr.Add(domain.SideYes, 495, "big-2", d(6))
	for _, p := range []int{485, 475, 465, 455} {
		tr.Add(domain.SideYes, p, fmt.Sprintf("seed-%d", p), d(10))
	}

	r.ReconcileSide(context.Background(), domain.SideYes)

	if len(v.cancelCalls) != 1 {
		t.Fatalf("撤单调用 = %d, want 1", len(v.cancelCalls))
	}
	if got := len(v.cancelCalls[0]); got != 2 {
		t.Fatalf("撤单笔数 = %d, want 2 (495 的两笔)", got)
	}
	if len(v.placeCalls) != 1 || len(v.placeCalls[0]) != 1 {
		t.Fatalf("应重挂一笔, got %v", v.placeCalls)
	}
	req := v.placeCalls[0][0]
	if req.PriceTicks != 495 || !req.Size.Equal(d(10)) {
		t.Fatalf("重挂 = %d@%s, want 495@10", req.PriceTicks, req.Size)
	}
	if got := tr.TotalSizeAt(domain.SideYes, 495); !got.Equal(d(10)) {
		t.Fatalf("total@495 = %s, want 10", got)
	}
}

// 恰好在滞回带内（10 < current ≤ 15）不动
func TestHoldWithinHysteresis(t *testing.T) {
	r, v, _, _, tr := newTestRig(t)
	tr.Add(domain.SideYes, 495, "o1", d(14))
	for _, p := range []int{485, 475, 465, 455} {
		tr.Add(domain.SideYes, p, fmt.Sprintf("seed-%d", p), d(10))
	}
	r.ReconcileSide(context.Background(), domain.SideYes)
	if v.calls() != 0 {
		t.Fatalf("滞回带内应 hold, 调用 = %d", v.calls())
	}
}

// 连续两次 reconcile：第二次零场内调用
func TestReconcileIdempotent(t *testing.T) {
	r, v, _, _, _ := newTestRig(t)
	r.ReconcileAll(context.Background())
	before := v.calls()
	r.ReconcileAll(context.Background())
	if v.calls() != before {
		t.Fatalf("第二次 reconcile 发出了 %d 次调用, want 0", v.calls()-before)
	}
}

// 盘口未就绪时不得动作
func TestNoActionBeforeSync(t *testing.T) {
	r, v, b, _, _ := newTestRig(t)
	b.ResetSync()
	r.ReconcileAll(context.Background())
	if v.calls() != 0 {
		t.Fatalf("未同步时发出了 %d 次调用", v.calls())
	}
}

// 停止挂单：撤单照常流动，新挂单被拦截
func TestHaltPlacementsCancelsStillFlow(t *testing.T) {
	r, v, _, _, tr := newTestRig(t)
	tr.Add(domain.SideYes, 905, "stale-1", d(10)) // 不在理想阶梯上
	r.HaltPlacements()

	r.ReconcileSide(context.Background(), domain.SideYes)

	if len(v.cancelCalls) != 1 || len(v.cancelCalls[0]) != 1 {
		t.Fatalf("应撤掉 stale 订单, got %v", v.cancelCalls)
	}
	if len(v.placeCalls) != 0 {
		t.Fatalf("halt 后不应下单, got %v", v.placeCalls)
	}
}

// 撤单失败但原因是订单已不存在：照样从 tracker 移除
func TestNotCanceledGoneStillRemoved(t *testing.T) {
	r, v, _, _, tr := newTestRig(t)
	tr.Add(domain.SideYes, 905, "gone-1", d(10))
	tr.Add(domain.SideYes, 915, "held-1", d(10))
	v.notCanceled["gone-1"] = "order does not exist"
	v.notCanceled["held-1"] = "order is being matched"

	r.ReconcileSide(context.Background(), domain.SideYes)

	if tr.Count(domain.SideYes) < 1 {
		t.Fatal("held-1 不应被移除")
	}
	if got := tr.TotalSizeAt(domain.SideYes, 905); !got.IsZero() {
		t.Fatalf("gone-1 应被移除, total@905 = %s", got)
	}
	if got := tr.TotalSizeAt(domain.SideYes, 915); !got.Equal(d(10)) {
		t.Fatalf("held-1 应保留, total@915 = %s", got)
	}
}

// 每档目标量低于 MIN_ORDER_SIZE 时不挂
func TestMinOrderSizeBlocksSmallDiff(t *testing.T) {
	r, v, _, _, tr := newTestRig(t)
	r.minOrderSize = d(5)
	tr.Add(domain.SideYes, 495, "seed-1", d(7)) // diff=3 < 5
	for _, p := range []int{485, 475, 465, 455} {
		tr.Add(domain.SideYes, p, fmt.Sprintf("seed-%d", p), d(10))
	}
	r.ReconcileSide(context.Background(), domain.SideYes)
	if v.calls() != 0 {
		t.Fatalf("diff < MIN_ORDER_SIZE 应 hold, 调用 = %d", v.calls())
	}
}

// 超过 15 笔的下单分批
func TestPlacesBatched(t *testing.T) {
	r, v, _, _, _ := newTestRig(t)
	r.batchMax = 3
	r.ReconcileSide(context.Background(), domain.SideYes) // 5 档 → 3+2
	if len(v.placeCalls) != 2 {
		t.Fatalf("批次 = %d, want 2", len(v.placeCalls))
	}
	if len(v.placeCalls[0]) != 3 || len(v.placeCalls[1]) != 2 {
		t.Fatalf("批次大小 = %d,%d, want 3,2", len(v.placeCalls[0]), len(v.placeCalls[1]))
	}
}
