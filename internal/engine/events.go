package engine

import (
	"time"

	"github.com/betbot/laddermm/internal/domain"
)

// Event 事件队列的标签联合。WS/调度器只生产事件，
// 消费（以及对 book/ledger/tracker 的全部写入）由单个 reconciler goroutine 完成。
type Event interface {
	eventTag()
}

// SnapshotEvent 单侧订单簿初始快照（连接/重连后的第一帧）
type SnapshotEvent struct {
	AssetID string
	Bids    []domain.BookLevel
	Asks    []domain.BookLevel
}

// BBOEvent best_bid_ask 增量；nil 字段表示本次未更新
type BBOEvent struct {
	AssetID string
	BestBid *int
	BestAsk *int
	TS      time.Time
}

// FillBatchEvent 用户通道翻译出的一批成交（通常一笔）
type FillBatchEvent struct {
	Fills []domain.FillEvent
}

// WindowRollEvent 窗口切换：携带新窗口元数据，旧窗口状态全部清空
type WindowRollEvent struct {
	Market *domain.Market
}

// LedgerSyncEvent 周期性持仓对账结果（只向上修正）
type LedgerSyncEvent struct {
	Side          domain.Side
	VenueQty      float64
	AvgPriceTicks int
}

// HaltPlacementsEvent 临近到期且新窗口元数据不可得：停止新挂单，撤单照常
type HaltPlacementsEvent struct{}

// CheckpointEvent 监督器驱动的周期性对账触发
type CheckpointEvent struct{}

// DesyncEvent 行情断线：清除 synced 标记，恢复快照前 reconciler 不得动作
type DesyncEvent struct{}

func (SnapshotEvent) eventTag()       {}
func (BBOEvent) eventTag()            {}
func (FillBatchEvent) eventTag()      {}
func (WindowRollEvent) eventTag()     {}
func (LedgerSyncEvent) eventTag()     {}
func (HaltPlacementsEvent) eventTag() {}
func (CheckpointEvent) eventTag()     {}
func (DesyncEvent) eventTag()         {}
