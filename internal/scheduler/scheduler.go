// Package scheduler 驱动窗口切换：在每个窗口结束前 LEAD 秒拉取
// 下一窗口元数据，然后通知监督器原子地完成切换。
package scheduler

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/internal/discovery"
	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/pkg/marketspec"
)

const (
	// DefaultLead 提前量：窗口结束前多少秒开始切换
	DefaultLead = 5 * time.Second

	// 元数据拉取失败的退避上限
	maxFetchBackoff = 10 * time.Second
)

// RollFunc 监督器提供的切换回调：撤掉旧窗口订单、清状态、切订阅。
// 返回错误时调度器停止（监督器用它实现 --markets N 停止条件）。
type RollFunc func(ctx context.Context, market *domain.Market) error

// NearExpiryFunc 临近到期仍拿不到新窗口元数据时的通知（停止新挂单）
type NearExpiryFunc func()

// Scheduler 窗口调度器
type Scheduler struct {
	spec         marketspec.MarketSpec
	disc         *discovery.Client
	lead         time.Duration
	onRoll       RollFunc
	onNearExpiry NearExpiryFunc
	log          *logrus.Entry
}

// New 创建调度器
func New(spec marketspec.MarketSpec, disc *discovery.Client, onRoll RollFunc, onNearExpiry NearExpiryFunc) *Scheduler {
	return &Scheduler{
		spec:         spec,
		disc:         disc,
		lead:         DefaultLead,
		onRoll:       onRoll,
		onNearExpiry: onNearExpiry,
		log:          logrus.WithField("component", "scheduler"),
	}
}

// Run 从 current 窗口开始循环调度，直到 ctx 取消或回调返回错误。
// 睡过头（醒来时已过 next_start）也立即切换，下个周期自然重新对齐。
func (s *Scheduler) Run(ctx context.Context, current *domain.Market) error {
	windowStart := current.WindowStart

	for {
		nextStart := s.spec.NextPeriodStartUnix(windowStart)
		wake := wakeTime(nextStart, s.lead)

		if d := time.Until(wake); d > 0 {
			s.log.Infof("下一窗口 %d, %s 后切换", nextStart, d.Round(time.Second))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
			}
		} else {
			s.log.Warnf("唤醒晚于切换点 %s, 立即切换", (-d).Round(time.Second))
		}

		market, err := s.fetchWithBackoff(ctx, nextStart)
		if err != nil {
			return err
		}

		if err := s.onRoll(ctx, market); err != nil {
			return err
		}
		windowStart = market.WindowStart
	}
}

// fetchWithBackoff 拉取新窗口元数据，失败退避重试。
// 旧窗口自然结束后仍拿不到元数据时通知监督器停止新挂单。
func (s *Scheduler) fetchWithBackoff(ctx context.Context, windowStart int64) (*domain.Market, error) {
	slug := s.spec.Slug(windowStart)
	backoff := 1 * time.Second
	notified := false

	for {
		market, err := s.disc.MarketBySlug(ctx, slug)
		if err == nil {
			return market, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, discovery.ErrMarketNotFound) {
			s.log.Warnf("市场 %s 尚未创建, %s 后重试", slug, backoff)
		} else {
			s.log.Warnf("拉取市场 %s 失败: %v, %s 后重试", slug, err, backoff)
		}

		// 已经过了窗口起点还拿不到元数据：旧窗口继续交易到自然结束，
		// 但要通知 reconciler 临近到期，停止新挂单
		if !notified && time.Now().Unix() >= windowStart && s.onNearExpiry != nil {
			s.onNearExpiry()
			notified = true
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxFetchBackoff {
			backoff = maxFetchBackoff
		}
	}
}

// wakeTime 切换唤醒时刻 = next_start − lead
func wakeTime(nextStartUnix int64, lead time.Duration) time.Time {
	return time.Unix(nextStartUnix, 0).Add(-lead)
}
