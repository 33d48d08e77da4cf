// Package engine 是交易核心：中央事件队列 + 单消费者 reconciler。
//
// book/ledger/tracker 只被 Run 里的消费 goroutine 写入，因此三者内部不加锁。
// 成交事件先入账再 reconcile（串行，一笔成交完整处理后才看下一笔）；
// 行情事件只标脏，队列排空后合并成一次 reconcile（coalescing）。
package engine

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/internal/book"
	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/internal/ledger"
	"github.com/betbot/laddermm/internal/tracker"
)

// ErrInvariantHalt 状态不变量被破坏，交易必须停止（进程退出码 2）
var ErrInvariantHalt = errors.New("不变量被破坏，停止交易")

// Config 引擎参数。金额以美元计，内部换算为 ticks·shares（$1 = 1000）。
type Config struct {
	QueueSize        int
	ProfitLockMinUSD float64
	CircuitBreakUSD  float64
}

// Engine 事件消费者。所有状态修改都发生在 Run 的 goroutine 里。
type Engine struct {
	log   *logrus.Entry
	queue chan Event

	rec     *Reconciler
	book    *book.Book
	ledger  *ledger.Ledger
	tracker *tracker.Tracker

	profitLockMin  decimal.Decimal
	circuitBreaker decimal.Decimal

	// fillHook 每笔入账成交的旁路回调（落盘记录用），在消费 goroutine 里调用
	fillHook func(domain.FillEvent)
	// rollHook 换窗前的旁路回调，此时旧窗口账本尚未清空，可安全读取
	rollHook func(closing *domain.Market, l *ledger.Ledger)

	mdDirty bool
}

func New(cfg Config, rec *Reconciler, b *book.Book, l *ledger.Ledger, t *tracker.Tracker) *Engine {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Engine{
		log:            logrus.WithField("component", "engine"),
		queue:          make(chan Event, cfg.QueueSize),
		rec:            rec,
		book:           b,
		ledger:         l,
		tracker:        t,
		profitLockMin:  decimal.NewFromFloat(cfg.ProfitLockMinUSD * domain.TicksPerUnit),
		circuitBreaker: decimal.NewFromFloat(cfg.CircuitBreakUSD * domain.TicksPerUnit),
	}
}

// SetFillHook 必须在 Run 之前设置
func (e *Engine) SetFillHook(fn func(domain.FillEvent)) { e.fillHook = fn }

// SetRollHook 必须在 Run 之前设置
func (e *Engine) SetRollHook(fn func(closing *domain.Market, l *ledger.Ledger)) { e.rollHook = fn }

// Submit 投递事件。队列满时丢弃并告警，绝不阻塞生产者（WS 读循环）。
func (e *Engine) Submit(ev Event) {
	select {
	case e.queue <- ev:
	default:
		e.log.Warnf("事件队列已满，丢弃 %T", ev)
	}
}

// Pending 当前积压的事件数（监控/测试用）
func (e *Engine) Pending() int { return len(e.queue) }

// Run 消费循环。只有不变量被破坏才返回错误；ctx 取消返回 nil。
func (e *Engine) Run(ctx context.Context) error {
	for {
		// 先非阻塞排空队列：行情事件合并，排空后统一 reconcile 一次
		select {
		case ev := <-e.queue:
			if err := e.handle(ctx, ev); err != nil {
				return err
			}
			continue
		default:
		}

		if e.mdDirty {
			e.mdDirty = false
			e.applyPolicies(ctx)
			e.rec.ReconcileAll(ctx)
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.queue:
			if err := e.handle(ctx, ev); err != nil {
				return err
			}
		}
	}
}

func (e *Engine) handle(ctx context.Context, ev Event) error {
	switch v := ev.(type) {
	case WindowRollEvent:
		return e.handleRoll(v)
	case SnapshotEvent:
		e.handleSnapshot(v)
	case BBOEvent:
		e.handleBBO(v)
	case FillBatchEvent:
		return e.handleFills(ctx, v)
	case LedgerSyncEvent:
		e.handleSync(ctx, v)
	case HaltPlacementsEvent:
		e.log.Warn("临近到期且新窗口元数据不可得，停止新挂单")
		e.rec.HaltPlacements()
	case CheckpointEvent:
		e.applyPolicies(ctx)
		e.rec.ReconcileAll(ctx)
	case DesyncEvent:
		e.book.ResetSync()
	default:
		e.log.Warnf("未知事件 %T，丢弃", ev)
	}
	return nil
}

// handleRoll 原子换窗：清空 A/B/C 并换元数据。
// 队列里残留的旧窗口事件随后会因 asset id 不匹配被静默丢弃。
func (e *Engine) handleRoll(ev WindowRollEvent) error {
	if closing := e.rec.Market(); closing != nil && e.rollHook != nil {
		e.rollHook(closing, e.ledger)
	}
	if ev.Market == nil {
		return nil
	}
	e.book.Reset()
	e.ledger.Reset()
	e.tracker.ClearAll()
	e.rec.SetMarket(ev.Market)
	e.mdDirty = false
	e.log.Infof("✅ 切换窗口 %s (end=%s)", ev.Market.Slug, ev.Market.EndTS.Format("15:04:05"))
	return nil
}

func (e *Engine) handleSnapshot(ev SnapshotEvent) {
	m := e.rec.Market()
	if m == nil {
		return
	}
	side, ok := m.SideOfAsset(ev.AssetID)
	if !ok {
		return // 旧窗口残留事件
	}
	if e.book.ApplySnapshot(side, ev.Bids, ev.Asks) {
		e.mdDirty = true
	}
	if e.book.Synced() {
		e.log.Debugf("%s 快照就绪 bid=%d ask=%d", side, e.book.BestBid(side), e.book.BestAsk(side))
	}
}

func (e *Engine) handleBBO(ev BBOEvent) {
	m := e.rec.Market()
	if m == nil {
		return
	}
	side, ok := m.SideOfAsset(ev.AssetID)
	if !ok {
		return
	}
	if e.book.ApplyBBO(side, ev.BestBid, ev.BestAsk) {
		e.mdDirty = true
	}
}

// handleFills 成交驱动路径：先全部入账（B 先于 C），再做策略检查与一次 reconcile。
func (e *Engine) handleFills(ctx context.Context, ev FillBatchEvent) error {
	m := e.rec.Market()
	if m == nil {
		return nil
	}
	applied := false
	for _, fill := range ev.Fills {
		side, ok := m.SideOfAsset(fill.AssetID)
		if !ok {
			continue // 旧窗口成交
		}
		fill.Side = side
		if err := e.ledger.ApplyFill(side, fill.PriceTicks, fill.Size); err != nil {
			e.log.WithError(err).Error("持仓入账失败")
			return fmt.Errorf("%w: %v", ErrInvariantHalt, err)
		}
		hit, err := e.tracker.ApplyFill(side, fill.OrderID, fill.Size)
		if err != nil {
			e.log.WithError(err).Error("订单扣减失败")
			return fmt.Errorf("%w: %v", ErrInvariantHalt, err)
		}
		if !hit {
			e.log.Warnf("成交 %s 未命中在场订单（可能对账补录前的错过成交）", fill.OrderID)
		}
		e.log.Infof("成交 %s %s@%d id=%s maker=%v | %s",
			side, fill.Size, fill.PriceTicks, fill.OrderID, fill.IsMaker, e.ledger.Summary())
		if e.fillHook != nil {
			e.fillHook(fill)
		}
		applied = true
	}
	if !applied {
		return nil
	}
	if err := e.ledger.Check(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariantHalt, err)
	}
	e.applyPolicies(ctx)
	e.rec.ReconcileAll(ctx)
	e.mdDirty = false
	return nil
}

// handleSync 周期性持仓对账：只向上修正；有修正才触发 reconcile。
// data-api 比成交流慢约 30 秒，1 股以内的差异是在途噪音，不处理。
func (e *Engine) handleSync(ctx context.Context, ev LedgerSyncEvent) {
	venueQty := decimal.NewFromFloat(ev.VenueQty)
	if venueQty.Sub(e.ledger.Qty(ev.Side)).LessThanOrEqual(decimal.NewFromInt(1)) {
		return
	}
	diff := e.ledger.AdjustUpward(ev.Side, venueQty, ev.AvgPriceTicks)
	if diff.IsZero() {
		return
	}
	e.log.Warnf("持仓对账 %s 向上修正 +%s（错过的成交）| %s", ev.Side, diff, e.ledger.Summary())
	e.applyPolicies(ctx)
	e.rec.ReconcileAll(ctx)
	e.mdDirty = false
}

// applyPolicies 熔断与锁利。触发后撤掉全部在场订单并禁止本窗口再挂单，
// 行情与成交继续入账以保证账目准确。
func (e *Engine) applyPolicies(ctx context.Context) {
	if e.rec.Suppressed() {
		return
	}
	if e.ledger.TotalCost().GreaterThanOrEqual(e.circuitBreaker) {
		e.log.Errorf("熔断：总成本 %s 超过上限 %s，本窗口停止挂单",
			e.ledger.TotalCost(), e.circuitBreaker)
		e.rec.CancelAllTracked(ctx)
		e.rec.SuppressWindow()
		return
	}
	if pnl := e.ledger.MinPnL(); pnl.GreaterThanOrEqual(e.profitLockMin) && pnl.IsPositive() {
		e.log.Infof("✅ 锁定利润 minPnL=%s ≥ %s，撤单收工", pnl, e.profitLockMin)
		e.rec.CancelAllTracked(ctx)
		e.rec.SuppressWindow()
	}
}
