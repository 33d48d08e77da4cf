package engine

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/internal/domain"
)

// PlaceRequest 一笔 GTC 买单请求（价格 ticks，数量 shares）
type PlaceRequest struct {
	AssetID    string
	Side       domain.Side
	PriceTicks int
	Size       decimal.Decimal
}

// PlaceResult 单笔下单结果：OrderID 为空即拒单，ErrMsg 给出原因
type PlaceResult struct {
	OrderID string
	ErrMsg  string
}

// CancelReport 批量撤单结果
type CancelReport struct {
	Canceled    []string
	NotCanceled map[string]string
}

// Venue reconciler 依赖的场内操作面。实现方负责签名、限速与超时。
type Venue interface {
	// PostOrders 批量下单，调用方保证 len ≤ BATCH_MAX；结果与请求一一对应
	PostOrders(ctx context.Context, reqs []PlaceRequest) ([]PlaceResult, error)
	// CancelOrders 按 id 批量撤单
	CancelOrders(ctx context.Context, ids []string) (*CancelReport, error)
	// CancelMarketOrders 清空整个 condition 下的挂单（启动清扫 / 窗口切换）
	CancelMarketOrders(ctx context.Context, conditionID string) error
}

// cancelReasonGone 撤单失败原因表明订单已不存在时，仍应从 tracker 移除
func cancelReasonGone(reason string) bool {
	r := strings.ToLower(reason)
	return strings.Contains(r, "does not exist") ||
		strings.Contains(r, "not exist") ||
		strings.Contains(r, "not found") ||
		strings.Contains(r, "already canceled") ||
		strings.Contains(r, "already cancelled")
}
