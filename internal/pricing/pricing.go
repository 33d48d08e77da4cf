// Package pricing 实现单侧报价计算：三道闸门取最小值，再叠加阶梯。
//
// 所有价格为整数 ticks。三道闸门：
//   - 账户闸门 AccountGate：基于对侧持仓的保本/加价约束；
//   - 市场闸门 MarketGate：基于对侧盘口的锚定价 ± 库存倾斜；
//   - 执行闸门 ExecGate：相对本侧卖一的吃单上限。
//
// p_final = clamp(min(三者), MinPrice, MaxPrice)。闸门之间彼此独立，
// 任何一道都可以单独收紧最终价格。
package pricing

import (
	"github.com/shopspring/decimal"
)

// Params 报价参数。零值不可用，请从 Default() 出发覆盖。
type Params struct {
	Tick        int     // 最小报价步长（ticks）
	MinPrice    int     // 挂单价格下限
	MaxPrice    int     // 挂单价格上限
	BaseSize    float64 // 基准单量（shares）
	BaseMargin  int     // 锚定/保本加价（ticks）
	Gamma       float64 // 库存倾斜系数（每 share 的价格偏移，单位 1.00）
	MaxSkew     int     // 倾斜上限（ticks）
	SlippageTol int     // light 侧允许的追价宽容（ticks）
	LadderDepth int     // 阶梯档数
	Hysteresis  float64 // 缩量触发阈值（超出 target·(1+h) 才重建）
	MaxPosition float64 // 单侧净暴露硬上限（shares）
}

// Default 默认参数
func Default() Params {
	return Params{
		Tick:        10,
		MinPrice:    100,
		MaxPrice:    990,
		BaseSize:    10,
		BaseMargin:  15,
		Gamma:       0.001,
		MaxSkew:     100,
		SlippageTol: 20,
		LadderDepth: 5,
		Hysteresis:  0.5,
		MaxPosition: 75,
	}
}

// Inputs 单侧报价所需的全部状态快照。
// Net 为本侧净暴露（Q_side − Q_other）；AskThis/AskOther 为 0 时表示盘口未知。
type Inputs struct {
	Net        decimal.Decimal
	QtyOther   decimal.Decimal
	AvgOther   decimal.Decimal // 对侧均价（ticks）；QtyOther=0 时无意义
	AvgOtherOK bool
	CostSide   decimal.Decimal // 本侧累计成本（ticks·shares）
	AskThis    int
	AskOther   int
}

// Gates 三道闸门的取值与最终价格（日志/测试用）
type Gates struct {
	Acct  int
	Mkt   int
	Exec  int
	Final int
}

// AccountGate 账户闸门。
//
// 对侧无持仓时不构成约束，返回 MaxPrice。
// light（本侧净暴露为负）：对侧已锁定的兑付减去本侧成本，摊到缺口份额上，
// 得到本侧“免费补齐”的最高买价（向下取整，保守）。
// heavy/neutral：对侧均价的互补价再让出 BaseMargin。
func (p Params) AccountGate(in Inputs) int {
	if in.QtyOther.IsZero() {
		return p.MaxPrice
	}
	unit := decimal.NewFromInt(1000)

	if in.Net.IsNegative() {
		lockedGain := in.QtyOther.Mul(unit.Sub(in.AvgOther)).Sub(in.CostSide)
		breakeven := lockedGain.Div(in.Net.Abs())
		return int(breakeven.Floor().IntPart())
	}

	avgOther := decimal.Zero
	if in.AvgOtherOK {
		avgOther = in.AvgOther
	}
	return int(unit.Sub(avgOther).Floor().IntPart()) - p.BaseMargin
}

// MarketGate 市场闸门：对侧卖一的互补价做锚，再按净暴露倾斜。
// heavy（net>0）压低报价，light（net<0）抬高报价；倾斜量 clamp 在 ±MaxSkew。
// 对侧卖一未知时按 1000 代入（与 ExecGate 的未知约定一致），
// 锚定价落到 −BaseMargin，最终被 clamp 到 MinPrice：盘口不明宁可报地板价。
func (p Params) MarketGate(in Inputs) int {
	askOther := in.AskOther
	if askOther <= 0 {
		askOther = 1000
	}
	anchor := 1000 - askOther - p.BaseMargin
	skewD := in.Net.Mul(decimal.NewFromFloat(p.Gamma * 1000))
	skew := int(skewD.Round(0).IntPart())
	if skew > p.MaxSkew {
		skew = p.MaxSkew
	} else if skew < -p.MaxSkew {
		skew = -p.MaxSkew
	}
	return anchor - skew
}

// ExecGate 执行闸门：light 侧允许越过本侧卖一追价 SlippageTol，
// 其余情况必须停在卖一之下一个 tick。盘口未知时不设限。
func (p Params) ExecGate(in Inputs) int {
	if in.AskThis == 0 {
		return 1000
	}
	if in.Net.IsNegative() {
		return in.AskThis + p.SlippageTol
	}
	return in.AskThis - p.Tick
}

// FinalPrice 三道闸门取最小值后 clamp 到合法区间
func (p Params) FinalPrice(in Inputs) Gates {
	g := Gates{
		Acct: p.AccountGate(in),
		Mkt:  p.MarketGate(in),
		Exec: p.ExecGate(in),
	}
	final := g.Acct
	if g.Mkt < final {
		final = g.Mkt
	}
	if g.Exec < final {
		final = g.Exec
	}
	if final < p.MinPrice {
		final = p.MinPrice
	} else if final > p.MaxPrice {
		final = p.MaxPrice
	}
	g.Final = final
	return g
}

// TargetSize 每档目标量：scalar = clamp(1 − net/MaxPosition, 0, 2)，
// target = BaseSize·scalar 向下取整到两位小数。
// net ≥ MaxPosition 时返回 0（硬停，阶梯为空）。
func (p Params) TargetSize(net decimal.Decimal) decimal.Decimal {
	maxPos := decimal.NewFromFloat(p.MaxPosition)
	if net.GreaterThanOrEqual(maxPos) {
		return decimal.Zero
	}
	scalar := decimal.NewFromInt(1).Sub(net.Div(maxPos))
	if scalar.IsNegative() {
		scalar = decimal.Zero
	}
	two := decimal.NewFromInt(2)
	if scalar.GreaterThan(two) {
		scalar = two
	}
	return decimal.NewFromFloat(p.BaseSize).Mul(scalar).RoundDown(2)
}

// BuildLadder 从 p_final 向下每 Tick 一档，共 LadderDepth 档；
// 低于 MinPrice 的档位丢弃。
func (p Params) BuildLadder(pFinal int) []int {
	rungs := make([]int, 0, p.LadderDepth)
	for i := 0; i < p.LadderDepth; i++ {
		price := pFinal - i*p.Tick
		if price < p.MinPrice {
			break
		}
		rungs = append(rungs, price)
	}
	return rungs
}

// Ideal 单侧理想挂单：rungs × size。size=0 时 rungs 为空。
type Ideal struct {
	Gates Gates
	Rungs []int
	Size  decimal.Decimal
}

// Compute 一次性算出单侧理想状态
func (p Params) Compute(in Inputs) Ideal {
	size := p.TargetSize(in.Net)
	g := p.FinalPrice(in)
	if size.IsZero() {
		return Ideal{Gates: g, Size: decimal.Zero}
	}
	return Ideal{Gates: g, Rungs: p.BuildLadder(g.Final), Size: size}
}
