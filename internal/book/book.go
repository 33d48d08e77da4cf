// Package book 维护当前窗口的盘口视图（Market Book）。
//
// 所有价格为 ticks（1.00 = 1000）。字段值 0 表示未知。
// 本结构只允许 reconciler goroutine 写入；其它 goroutine 通过事件队列
// 间接触达，因此内部不加锁。Reset 必须原地执行，调用方可能缓存指针。
package book

import (
	"github.com/betbot/laddermm/internal/domain"
)

// SideQuote 单侧盘口（0 = 未知）
type SideQuote struct {
	BestBid int
	BestAsk int
	Synced  bool
}

// Book 当前窗口 YES/NO 两侧的一档盘口
type Book struct {
	yes SideQuote
	no  SideQuote
}

func New() *Book {
	return &Book{}
}

// ApplySnapshot 用初始快照替换单侧盘口并标记 synced。
// bids/asks 已按价格排序，最优档在末尾（场内 book 消息的约定）。
func (b *Book) ApplySnapshot(side domain.Side, bids, asks []domain.BookLevel) bool {
	q := b.side(side)
	old := *q
	q.BestBid = 0
	q.BestAsk = 0
	if len(bids) > 0 {
		q.BestBid = bids[len(bids)-1].PriceTicks
	}
	if len(asks) > 0 {
		q.BestAsk = asks[len(asks)-1].PriceTicks
	}
	q.Synced = true
	return *q != old
}

// ApplyBBO 应用 best_bid_ask 增量：只更新显式给出的字段（nil = 不变）。
// 返回是否有数值真正变化；重复的相同更新不得触发下游工作。
func (b *Book) ApplyBBO(side domain.Side, bestBid, bestAsk *int) bool {
	q := b.side(side)
	changed := false
	if bestBid != nil && *bestBid != q.BestBid {
		q.BestBid = *bestBid
		changed = true
	}
	if bestAsk != nil && *bestAsk != q.BestAsk {
		q.BestAsk = *bestAsk
		changed = true
	}
	return changed
}

// Quote 返回单侧盘口副本
func (b *Book) Quote(side domain.Side) SideQuote {
	return *b.side(side)
}

// BestAsk 单侧最优卖价（0 = 未知）
func (b *Book) BestAsk(side domain.Side) int {
	return b.side(side).BestAsk
}

// BestBid 单侧最优买价（0 = 未知）
func (b *Book) BestBid(side domain.Side) int {
	return b.side(side).BestBid
}

// Synced 两侧都收到过初始快照才算就绪
func (b *Book) Synced() bool {
	return b.yes.Synced && b.no.Synced
}

// ResetSync 清掉两侧 synced 标记（断线 / 切换订阅后等待新快照）
func (b *Book) ResetSync() {
	b.yes.Synced = false
	b.no.Synced = false
}

// Reset 原地清空全部状态（窗口切换）
func (b *Book) Reset() {
	b.yes = SideQuote{}
	b.no = SideQuote{}
}

// Snapshot 一致性副本，供策略计算使用
type Snapshot struct {
	Yes SideQuote
	No  SideQuote
}

func (b *Book) Snapshot() Snapshot {
	return Snapshot{Yes: b.yes, No: b.no}
}

func (b *Book) side(side domain.Side) *SideQuote {
	if side == domain.SideYes {
		return &b.yes
	}
	return &b.no
}
