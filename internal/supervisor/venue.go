package supervisor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/clob/client"
	"github.com/betbot/laddermm/clob/types"
	"github.com/betbot/laddermm/internal/engine"
)

// clobVenue 把 reconciler 的撤/挂请求落到 CLOB REST 客户端
type clobVenue struct {
	client *client.Client
	log    *logrus.Entry
}

func newClobVenue(c *client.Client) *clobVenue {
	return &clobVenue{
		client: c,
		log:    logrus.WithField("component", "venue"),
	}
}

func (v *clobVenue) PostOrders(ctx context.Context, reqs []engine.PlaceRequest) ([]engine.PlaceResult, error) {
	if len(reqs) == 0 {
		return nil, nil
	}

	args := make([]types.PostOrdersArgs, 0, len(reqs))
	for _, req := range reqs {
		signed, err := v.client.CreateSignedBuyOrder(req.AssetID, req.PriceTicks, req.Size, false)
		if err != nil {
			return nil, fmt.Errorf("构建订单失败 (%d ticks × %s): %w", req.PriceTicks, req.Size, err)
		}
		args = append(args, types.PostOrdersArgs{Order: *signed, OrderType: types.OrderTypeGTC})
	}

	resps, err := v.client.PostOrders(ctx, args)
	if err != nil {
		return nil, err
	}

	// 响应与请求一一对应；数量不符时缺的按拒单处理
	results := make([]engine.PlaceResult, len(reqs))
	for i := range reqs {
		if i >= len(resps) {
			results[i] = engine.PlaceResult{ErrMsg: "场内未返回该笔订单的结果"}
			continue
		}
		results[i] = engine.PlaceResult{
			OrderID: resps[i].OrderID,
			ErrMsg:  resps[i].ErrorMsg,
		}
	}
	return results, nil
}

func (v *clobVenue) CancelOrders(ctx context.Context, orderIDs []string) (*engine.CancelReport, error) {
	resp, err := v.client.CancelOrders(ctx, orderIDs)
	if err != nil {
		return nil, err
	}
	return &engine.CancelReport{
		Canceled:    resp.Canceled,
		NotCanceled: resp.NotCanceled,
	}, nil
}

func (v *clobVenue) CancelMarketOrders(ctx context.Context, conditionID string) error {
	_, err := v.client.CancelMarketOrders(ctx, conditionID)
	return err
}

// dryRunVenue 纸交易执行器：不发真实请求，订单 id 本地生成。
// 撤单永远成功，方便在真实行情上演练 reconciler。
type dryRunVenue struct {
	log    *logrus.Entry
	nextID atomic.Int64
}

func newDryRunVenue() *dryRunVenue {
	return &dryRunVenue{log: logrus.WithField("component", "venue_dryrun")}
}

func (v *dryRunVenue) PostOrders(_ context.Context, reqs []engine.PlaceRequest) ([]engine.PlaceResult, error) {
	results := make([]engine.PlaceResult, len(reqs))
	for i, req := range reqs {
		id := fmt.Sprintf("dry-%d", v.nextID.Add(1))
		v.log.Infof("[DRY] 挂单 %s %s@%d -> %s", req.Side, req.Size, req.PriceTicks, id)
		results[i] = engine.PlaceResult{OrderID: id}
	}
	return results, nil
}

func (v *dryRunVenue) CancelOrders(_ context.Context, orderIDs []string) (*engine.CancelReport, error) {
	v.log.Infof("[DRY] 撤单 %d 笔", len(orderIDs))
	return &engine.CancelReport{Canceled: orderIDs}, nil
}

func (v *dryRunVenue) CancelMarketOrders(_ context.Context, conditionID string) error {
	v.log.Infof("[DRY] 清空市场挂单 %s", conditionID)
	return nil
}
