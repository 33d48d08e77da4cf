package tracker

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/internal/domain"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestAddAndTotalSizeAt(t *testing.T) {
	tr := New()
	tr.Add(domain.SideYes, 495, "o1", d("6"))
	tr.Add(domain.SideYes, 495, "o2", d("4"))
	tr.Add(domain.SideNo, 465, "o3", d("10"))

	if got := tr.TotalSizeAt(domain.SideYes, 495); !got.Equal(d("10")) {
		t.Fatalf("TotalSizeAt(YES,495) = %s, want 10", got)
	}
	if got := tr.Count(domain.SideYes); got != 2 {
		t.Fatalf("Count(YES) = %d, want 2", got)
	}
	if got := tr.TotalSizeAt(domain.SideNo, 465); !got.Equal(d("10")) {
		t.Fatalf("TotalSizeAt(NO,465) = %s, want 10", got)
	}
}

// taker 穿价成交：成交价与挂单价不同，必须按 id 定位到订单扣减
func TestApplyFillByIDCrossedPrice(t *testing.T) {
	tr := New()
	tr.Add(domain.SideYes, 495, "o1", d("10"))

	ok, err := tr.ApplyFill(domain.SideYes, "o1", d("4"))
	if err != nil || !ok {
		t.Fatalf("ApplyFill = (%v, %v), want (true, nil)", ok, err)
	}
	if got := tr.TotalSizeAt(domain.SideYes, 495); !got.Equal(d("6")) {
		t.Fatalf("剩余量 = %s, want 6", got)
	}

	// 完全成交后订单应被移除
	if ok, err := tr.ApplyFill(domain.SideYes, "o1", d("6")); err != nil || !ok {
		t.Fatalf("ApplyFill = (%v, %v), want (true, nil)", ok, err)
	}
	if got := tr.Count(domain.SideYes); got != 0 {
		t.Fatalf("Count(YES) = %d, want 0", got)
	}
	if prices := tr.Prices(domain.SideYes); len(prices) != 0 {
		t.Fatalf("Prices(YES) = %v, want 空", prices)
	}
}

func TestApplyFillUnknownID(t *testing.T) {
	tr := New()
	ok, err := tr.ApplyFill(domain.SideYes, "ghost", d("1"))
	if err != nil {
		t.Fatalf("未知 id 不应报错: %v", err)
	}
	if ok {
		t.Fatal("未知 id 应返回 false")
	}
}

func TestApplyFillDustRemoval(t *testing.T) {
	tr := New()
	tr.Add(domain.SideNo, 475, "o1", d("10"))
	if _, err := tr.ApplyFill(domain.SideNo, "o1", d("9.9995")); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	// 剩余 0.0005 ≤ dust，应已移除
	if got := tr.Count(domain.SideNo); got != 0 {
		t.Fatalf("Count(NO) = %d, want 0", got)
	}
}

func TestApplyFillOverfill(t *testing.T) {
	tr := New()
	tr.Add(domain.SideYes, 495, "o1", d("5"))
	ok, err := tr.ApplyFill(domain.SideYes, "o1", d("7"))
	if !ok {
		t.Fatal("超额成交仍应命中订单")
	}
	if err == nil {
		t.Fatal("超额成交应返回不变量错误")
	}
	if got := tr.Count(domain.SideYes); got != 0 {
		t.Fatalf("超额成交后订单应被移除, Count = %d", got)
	}
}

func TestRemoveByIDs(t *testing.T) {
	tr := New()
	tr.Add(domain.SideYes, 495, "o1", d("10"))
	tr.Add(domain.SideYes, 485, "o2", d("10"))
	tr.Add(domain.SideYes, 475, "o3", d("10"))

	removed := tr.RemoveByIDs(domain.SideYes, []string{"o1", "o3", "ghost"})
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	// 已撤销订单的再次撤销是 no-op
	if again := tr.RemoveByIDs(domain.SideYes, []string{"o1"}); again != 0 {
		t.Fatalf("重复撤销 removed = %d, want 0", again)
	}
	if prices := tr.Prices(domain.SideYes); len(prices) != 1 || prices[0] != 485 {
		t.Fatalf("Prices = %v, want [485]", prices)
	}
}

func TestClearAll(t *testing.T) {
	tr := New()
	tr.Add(domain.SideYes, 495, "o1", d("10"))
	tr.Add(domain.SideNo, 465, "o2", d("10"))
	tr.ClearAll()
	if tr.Count(domain.SideYes) != 0 || tr.Count(domain.SideNo) != 0 {
		t.Fatal("ClearAll 后应无在场订单")
	}
}
