// Package ledger 维护当前窗口的持仓与成本（Position Ledger）。
//
// Q 为持有 shares（decimal，两位小数），C 为累计成本（ticks·shares）。
// 只有 ApplyFill / AdjustUpward / Reset 会修改状态；定价器只读。
package ledger

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/internal/domain"
)

// ErrInvariant 持仓不变量被破坏（Q 或 C 变负）
var ErrInvariant = fmt.Errorf("持仓不变量被破坏")

// Ledger YES/NO 两侧的持仓与成本
type Ledger struct {
	qty  [2]decimal.Decimal
	cost [2]decimal.Decimal
}

func New() *Ledger {
	return &Ledger{
		qty:  [2]decimal.Decimal{decimal.Zero, decimal.Zero},
		cost: [2]decimal.Decimal{decimal.Zero, decimal.Zero},
	}
}

// ApplyFill 记一笔成交：Q += size，C += price·size。
// size 或 price 非法时返回 ErrInvariant，不修改状态。
func (l *Ledger) ApplyFill(side domain.Side, priceTicks int, size decimal.Decimal) error {
	if size.IsNegative() || priceTicks < 0 {
		return fmt.Errorf("%w: side=%s price=%d size=%s", ErrInvariant, side, priceTicks, size)
	}
	l.qty[side] = l.qty[side].Add(size)
	l.cost[side] = l.cost[side].Add(decimal.NewFromInt(int64(priceTicks)).Mul(size))
	return nil
}

// AdjustUpward 周期性对账：场内份额多于本地记录时向上修正（只增不减）。
// cost 按给定均价补记；venueQty ≤ 本地记录时不做任何事。
func (l *Ledger) AdjustUpward(side domain.Side, venueQty decimal.Decimal, avgPriceTicks int) decimal.Decimal {
	diff := venueQty.Sub(l.qty[side])
	if diff.Sign() <= 0 {
		return decimal.Zero
	}
	l.qty[side] = venueQty
	l.cost[side] = l.cost[side].Add(decimal.NewFromInt(int64(avgPriceTicks)).Mul(diff))
	return diff
}

// Qty 持有份额
func (l *Ledger) Qty(side domain.Side) decimal.Decimal { return l.qty[side] }

// Cost 累计成本（ticks·shares）
func (l *Ledger) Cost(side domain.Side) decimal.Decimal { return l.cost[side] }

// Avg 平均成本（ticks）。Q=0 时 ok=false。
func (l *Ledger) Avg(side domain.Side) (decimal.Decimal, bool) {
	if l.qty[side].IsZero() {
		return decimal.Zero, false
	}
	return l.cost[side].Div(l.qty[side]), true
}

// Net 本侧净暴露：Q_side − Q_other。正 = heavy，负 = light。
func (l *Ledger) Net(side domain.Side) decimal.Decimal {
	return l.qty[side].Sub(l.qty[side.Opposite()])
}

// PairCost 每对（1 YES + 1 NO）的成本：avg_y + avg_n（ticks）。
// 任一侧无持仓时 ok=false。
func (l *Ledger) PairCost() (decimal.Decimal, bool) {
	ay, ok1 := l.Avg(domain.SideYes)
	an, ok2 := l.Avg(domain.SideNo)
	if !ok1 || !ok2 {
		return decimal.Zero, false
	}
	return ay.Add(an), true
}

// MinGuaranteedPayout 无论结果如何都能兑付的下限：min(Qy,Qn)·1000 ticks。
func (l *Ledger) MinGuaranteedPayout() decimal.Decimal {
	m := l.qty[domain.SideYes]
	if l.qty[domain.SideNo].LessThan(m) {
		m = l.qty[domain.SideNo]
	}
	return m.Mul(decimal.NewFromInt(domain.TicksPerUnit))
}

// MinPnL 保底盈亏（ticks）：min_guaranteed_payout − (Cy + Cn)。
func (l *Ledger) MinPnL() decimal.Decimal {
	return l.MinGuaranteedPayout().Sub(l.TotalCost())
}

// TotalCost Cy + Cn（ticks·shares）
func (l *Ledger) TotalCost() decimal.Decimal {
	return l.cost[domain.SideYes].Add(l.cost[domain.SideNo])
}

// Reset 窗口切换时原子清零
func (l *Ledger) Reset() {
	for i := range l.qty {
		l.qty[i] = decimal.Zero
		l.cost[i] = decimal.Zero
	}
}

// Check 校验不变量：Qy,Qn,Cy,Cn ≥ 0
func (l *Ledger) Check() error {
	for _, s := range domain.Sides {
		if l.qty[s].IsNegative() || l.cost[s].IsNegative() {
			return fmt.Errorf("%w: %s Q=%s C=%s", ErrInvariant, s, l.qty[s], l.cost[s])
		}
	}
	return nil
}

// Summary 人类可读摘要（日志用）
func (l *Ledger) Summary() string {
	return fmt.Sprintf("Qy=%s Cy=%s | Qn=%s Cn=%s | minPnL=%s",
		l.qty[domain.SideYes], l.cost[domain.SideYes],
		l.qty[domain.SideNo], l.cost[domain.SideNo], l.MinPnL())
}
