// Package domain 定义交易核心共享的基础类型：方向、tick 价格、成交事件。
package domain

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// 价格单位约定：整数 ticks，1.00 = 1000 ticks。
const (
	TicksPerUnit = 1000
	// Tick 最小报价步长（10 ticks ≈ 1 美分）
	Tick = 10
	// MinPrice 允许挂单的最低价格
	MinPrice = 100
	// MaxPrice 允许挂单的最高价格
	MaxPrice = 990
)

// Side 市场方向（YES/NO 两个互补 outcome token）
type Side int

const (
	SideYes Side = iota
	SideNo
)

// Sides 按固定顺序遍历两侧时使用
var Sides = [2]Side{SideYes, SideNo}

func (s Side) String() string {
	switch s {
	case SideYes:
		return "YES"
	case SideNo:
		return "NO"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

// Opposite 返回对侧
func (s Side) Opposite() Side {
	if s == SideYes {
		return SideNo
	}
	return SideYes
}

// DecimalToTicks 把场内十进制价格（如 "0.495"）转换为 ticks，四舍五入到整数。
func DecimalToTicks(raw string) (int, error) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("解析价格失败 %q: %w", raw, err)
	}
	return int(math.Round(f * TicksPerUnit)), nil
}

// TicksToDecimal 把 ticks 转换为场内十进制价格
func TicksToDecimal(ticks int) float64 {
	return float64(ticks) / TicksPerUnit
}

// BookLevel 订单簿单档（价格 ticks + 数量 shares）
type BookLevel struct {
	PriceTicks int
	Size       decimal.Decimal
}

// FillEvent 用户通道翻译出的成交事件（只承载事实，不含业务判断）
type FillEvent struct {
	OrderID    string
	AssetID    string
	Side       Side
	PriceTicks int
	Size       decimal.Decimal
	IsMaker    bool
	TS         time.Time
}

// Market 当前窗口的市场元数据
type Market struct {
	ConditionID string
	Slug        string
	AssetIDYes  string
	AssetIDNo   string
	// Strike 窗口开盘时刻标的现货价（信息性字段，不参与定价）
	Strike float64
	EndTS  time.Time
	// WindowStart 窗口起点（unix 秒），同时是 slug 的后缀
	WindowStart int64
}

// SideOfAsset 根据 asset id 判断方向；未知资产返回 ok=false。
func (m *Market) SideOfAsset(assetID string) (Side, bool) {
	switch assetID {
	case m.AssetIDYes:
		return SideYes, true
	case m.AssetIDNo:
		return SideNo, true
	default:
		return 0, false
	}
}

// AssetOf 返回某一侧的 asset id
func (m *Market) AssetOf(side Side) string {
	if side == SideYes {
		return m.AssetIDYes
	}
	return m.AssetIDNo
}
