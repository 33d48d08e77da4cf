package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/internal/book"
	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/internal/ledger"
	"github.com/betbot/laddermm/internal/pricing"
	"github.com/betbot/laddermm/internal/tracker"
)

// Reconciler 把单侧在场订单调整到理想阶梯。
//
// 两阶段：先撤（不在理想价位的全部订单 + 需要缩量重建的价位），
// 后挂（补空档 / stacking 差额 / 缩量重建）。撤单合并为一次场内调用，
// 挂单按 batchMax 分批。两侧互不相干，可依次独立执行。
//
// 任何场内错误只记日志不上抛，reconciler 永不因一次失败而崩溃。
type Reconciler struct {
	log          *logrus.Entry
	params       pricing.Params
	minOrderSize decimal.Decimal
	batchMax     int
	callTimeout  time.Duration

	book    *book.Book
	ledger  *ledger.Ledger
	tracker *tracker.Tracker
	venue   Venue

	market *domain.Market

	// haltPlacements：临近到期停止新挂单，撤单照常
	haltPlacements bool
	// suppress：本窗口锁利/熔断后禁止一切新挂单并清空阶梯
	suppress bool
}

// ReconcilerConfig 构造参数
type ReconcilerConfig struct {
	Params       pricing.Params
	MinOrderSize decimal.Decimal
	BatchMax     int
	CallTimeout  time.Duration
}

func NewReconciler(cfg ReconcilerConfig, b *book.Book, l *ledger.Ledger, t *tracker.Tracker, v Venue) *Reconciler {
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 15
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Reconciler{
		log:          logrus.WithField("component", "reconciler"),
		params:       cfg.Params,
		minOrderSize: cfg.MinOrderSize,
		batchMax:     cfg.BatchMax,
		callTimeout:  cfg.CallTimeout,
		book:         b,
		ledger:       l,
		tracker:      t,
		venue:        v,
	}
}

// SetMarket 窗口切换：换元数据并解除本窗口的挂单禁令
func (r *Reconciler) SetMarket(m *domain.Market) {
	r.market = m
	r.haltPlacements = false
	r.suppress = false
}

func (r *Reconciler) Market() *domain.Market { return r.market }

// HaltPlacements 停止新挂单（撤单不受影响）
func (r *Reconciler) HaltPlacements() { r.haltPlacements = true }

// SuppressWindow 本窗口禁止挂单；下次 reconcile 会把阶梯全部撤掉
func (r *Reconciler) SuppressWindow() { r.suppress = true }

func (r *Reconciler) Suppressed() bool { return r.suppress }

// ReconcileAll 依次调整两侧
func (r *Reconciler) ReconcileAll(ctx context.Context) {
	for _, side := range domain.Sides {
		r.ReconcileSide(ctx, side)
	}
}

// ReconcileSide 单侧两阶段调整。盘口未就绪或无市场时不动作。
func (r *Reconciler) ReconcileSide(ctx context.Context, side domain.Side) {
	if r.market == nil || !r.book.Synced() {
		return
	}

	opp := side.Opposite()
	avgOther, avgOK := r.ledger.Avg(opp)
	in := pricing.Inputs{
		Net:        r.ledger.Net(side),
		QtyOther:   r.ledger.Qty(opp),
		AvgOther:   avgOther,
		AvgOtherOK: avgOK,
		CostSide:   r.ledger.Cost(side),
		AskThis:    r.book.BestAsk(side),
		AskOther:   r.book.BestAsk(opp),
	}
	ideal := r.params.Compute(in)
	rungs := ideal.Rungs
	if r.suppress {
		rungs = nil
	}

	// 两边都空：零场内调用直接返回
	if r.tracker.Count(side) == 0 && len(rungs) == 0 {
		return
	}

	idealSet := make(map[int]struct{}, len(rungs))
	for _, p := range rungs {
		idealSet[p] = struct{}{}
	}

	// 撤单集合：不在理想价位的全部订单
	var cancelIDs []string
	for _, p := range r.tracker.Prices(side) {
		if _, ok := idealSet[p]; !ok {
			cancelIDs = append(cancelIDs, r.tracker.IDsAt(side, p)...)
		}
	}

	// 挂单集合：place / stack / shrink / hold
	var places []PlaceRequest
	canPlace := !r.haltPlacements && !r.suppress
	hystCap := ideal.Size.Mul(decimal.NewFromFloat(1 + r.params.Hysteresis))
	for _, price := range rungs {
		current := r.tracker.TotalSizeAt(side, price)
		switch {
		case current.IsZero():
			if canPlace && ideal.Size.GreaterThanOrEqual(r.minOrderSize) {
				places = append(places, r.placeReq(side, price, ideal.Size))
			}
		case current.LessThan(ideal.Size):
			diff := ideal.Size.Sub(current)
			if canPlace && diff.GreaterThanOrEqual(r.minOrderSize) {
				places = append(places, r.placeReq(side, price, diff))
			}
		case current.GreaterThan(hystCap):
			// 缩量：全撤该价位再挂一笔目标量
			cancelIDs = append(cancelIDs, r.tracker.IDsAt(side, price)...)
			if canPlace && ideal.Size.GreaterThanOrEqual(r.minOrderSize) {
				places = append(places, r.placeReq(side, price, ideal.Size))
			}
		default:
			// hold
		}
	}

	if len(cancelIDs) > 0 {
		r.flushCancels(ctx, side, cancelIDs)
	}
	if len(places) > 0 {
		r.flushPlaces(ctx, side, places)
	}
}

// CancelAllTracked 撤掉两侧全部在场订单（锁利 / 熔断 / 退出）
func (r *Reconciler) CancelAllTracked(ctx context.Context) {
	for _, side := range domain.Sides {
		var ids []string
		for _, p := range r.tracker.Prices(side) {
			ids = append(ids, r.tracker.IDsAt(side, p)...)
		}
		if len(ids) > 0 {
			r.flushCancels(ctx, side, ids)
		}
	}
}

func (r *Reconciler) placeReq(side domain.Side, price int, size decimal.Decimal) PlaceRequest {
	return PlaceRequest{
		AssetID:    r.market.AssetOf(side),
		Side:       side,
		PriceTicks: price,
		Size:       size.RoundDown(2),
	}
}

// flushCancels 一次调用撤掉全部 id；撤单失败但订单已不存在的照样移除
func (r *Reconciler) flushCancels(ctx context.Context, side domain.Side, ids []string) {
	cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	report, err := r.venue.CancelOrders(cctx, ids)
	if err != nil {
		r.log.WithError(err).Warnf("%s 撤单失败 (%d 笔)", side, len(ids))
		return
	}
	r.tracker.RemoveByIDs(side, report.Canceled)
	for id, reason := range report.NotCanceled {
		if cancelReasonGone(reason) {
			r.tracker.RemoveByIDs(side, []string{id})
			continue
		}
		r.log.Warnf("%s 订单 %s 未撤销: %s", side, id, reason)
	}
}

// flushPlaces 分批下单；无 orderID 即拒单，不写 tracker
func (r *Reconciler) flushPlaces(ctx context.Context, side domain.Side, reqs []PlaceRequest) {
	for start := 0; start < len(reqs); start += r.batchMax {
		end := start + r.batchMax
		if end > len(reqs) {
			end = len(reqs)
		}
		batch := reqs[start:end]

		cctx, cancel := context.WithTimeout(ctx, r.callTimeout)
		results, err := r.venue.PostOrders(cctx, batch)
		cancel()
		if err != nil {
			r.log.WithError(err).Warnf("%s 批量下单失败 (%d 笔)", side, len(batch))
			continue
		}
		for i, res := range results {
			if i >= len(batch) {
				break
			}
			req := batch[i]
			if res.OrderID == "" {
				r.log.Warnf("%s 拒单 price=%d size=%s: %s", side, req.PriceTicks, req.Size, res.ErrMsg)
				continue
			}
			r.tracker.Add(side, req.PriceTicks, res.OrderID, req.Size)
		}
	}
}
