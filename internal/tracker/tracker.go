// Package tracker 追踪我们自己挂在场内的订单（Order Tracker）。
//
// 结构：side → price → 同价多笔订单列表（允许 stacking）。
// 成交按 order_id 扣减——taker 穿价时成交价可能与挂单价不同，
// 必须找到 id 对应的那笔订单，而不是按到达价格找档位。
package tracker

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/internal/domain"
)

// dust 剩余量低于此值视为完全成交并移除
var dust = decimal.NewFromFloat(0.001)

// StandingOrder 一笔在场订单
type StandingOrder struct {
	OrderID       string
	PriceTicks    int
	RemainingSize decimal.Decimal
	OriginalSize  decimal.Decimal
}

// Tracker 双侧在场订单索引
type Tracker struct {
	byPrice [2]map[int][]*StandingOrder
	byID    [2]map[string]*StandingOrder
}

func New() *Tracker {
	t := &Tracker{}
	for i := range t.byPrice {
		t.byPrice[i] = make(map[int][]*StandingOrder)
		t.byID[i] = make(map[string]*StandingOrder)
	}
	return t
}

// Add 记录一笔新挂单
func (t *Tracker) Add(side domain.Side, priceTicks int, orderID string, size decimal.Decimal) {
	o := &StandingOrder{
		OrderID:       orderID,
		PriceTicks:    priceTicks,
		RemainingSize: size,
		OriginalSize:  size,
	}
	t.byPrice[side][priceTicks] = append(t.byPrice[side][priceTicks], o)
	t.byID[side][orderID] = o
}

// RemoveByIDs 按 id 批量移除（撤单成功后调用）。返回实际移除数量。
func (t *Tracker) RemoveByIDs(side domain.Side, ids []string) int {
	removed := 0
	for _, id := range ids {
		o, ok := t.byID[side][id]
		if !ok {
			continue
		}
		t.removeOrder(side, o)
		removed++
	}
	return removed
}

// ApplyFill 按 order_id 扣减剩余量；剩余量归零（≤ dust）时移除该订单。
// 找不到 id（非本进程订单或已移除）时返回 false。
func (t *Tracker) ApplyFill(side domain.Side, orderID string, size decimal.Decimal) (bool, error) {
	o, ok := t.byID[side][orderID]
	if !ok {
		return false, nil
	}
	o.RemainingSize = o.RemainingSize.Sub(size)
	if o.RemainingSize.IsNegative() {
		// 场内报告的成交量超过我们记录的剩余量——状态已不可信
		err := fmt.Errorf("订单 %s 剩余量为负: %s", orderID, o.RemainingSize)
		o.RemainingSize = decimal.Zero
		t.removeOrder(side, o)
		return true, err
	}
	if o.RemainingSize.LessThanOrEqual(dust) {
		t.removeOrder(side, o)
	}
	return true, nil
}

// OrdersAt 某价位的订单副本列表
func (t *Tracker) OrdersAt(side domain.Side, priceTicks int) []StandingOrder {
	list := t.byPrice[side][priceTicks]
	out := make([]StandingOrder, 0, len(list))
	for _, o := range list {
		out = append(out, *o)
	}
	return out
}

// IDsAt 某价位全部订单 id
func (t *Tracker) IDsAt(side domain.Side, priceTicks int) []string {
	list := t.byPrice[side][priceTicks]
	out := make([]string, 0, len(list))
	for _, o := range list {
		out = append(out, o.OrderID)
	}
	return out
}

// TotalSizeAt 某价位剩余量合计
func (t *Tracker) TotalSizeAt(side domain.Side, priceTicks int) decimal.Decimal {
	sum := decimal.Zero
	for _, o := range t.byPrice[side][priceTicks] {
		sum = sum.Add(o.RemainingSize)
	}
	return sum
}

// Prices 有在场订单的价位列表（升序）
func (t *Tracker) Prices(side domain.Side) []int {
	out := make([]int, 0, len(t.byPrice[side]))
	for p := range t.byPrice[side] {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// Count 单侧在场订单笔数
func (t *Tracker) Count(side domain.Side) int {
	return len(t.byID[side])
}

// ClearAll 清空全部状态（窗口切换）
func (t *Tracker) ClearAll() {
	for i := range t.byPrice {
		t.byPrice[i] = make(map[int][]*StandingOrder)
		t.byID[i] = make(map[string]*StandingOrder)
	}
}

// Summary 日志摘要：每侧笔数 / 价位区间 / 总量
func (t *Tracker) Summary() string {
	part := func(side domain.Side) string {
		prices := t.Prices(side)
		if len(prices) == 0 {
			return fmt.Sprintf("%s: 0 笔", side)
		}
		total := decimal.Zero
		for _, p := range prices {
			total = total.Add(t.TotalSizeAt(side, p))
		}
		return fmt.Sprintf("%s: %d 笔 [%d..%d] 共 %s",
			side, t.Count(side), prices[0], prices[len(prices)-1], total)
	}
	return part(domain.SideYes) + " | " + part(domain.SideNo)
}

func (t *Tracker) removeOrder(side domain.Side, o *StandingOrder) {
	delete(t.byID[side], o.OrderID)
	list := t.byPrice[side][o.PriceTicks]
	for i, cur := range list {
		if cur == o {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(t.byPrice[side], o.PriceTicks)
	} else {
		t.byPrice[side][o.PriceTicks] = list
	}
}
