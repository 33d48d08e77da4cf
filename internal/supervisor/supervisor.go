// Package supervisor 把 feed、engine、scheduler、venue 接成一个可运行的机器人，
// 并承担横切策略：启动清扫、跳过首窗、周期性持仓对账、优雅停机。
package supervisor

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/laddermm/clob/client"
	"github.com/betbot/laddermm/clob/types"
	"github.com/betbot/laddermm/internal/book"
	"github.com/betbot/laddermm/internal/discovery"
	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/internal/engine"
	"github.com/betbot/laddermm/internal/feed"
	"github.com/betbot/laddermm/internal/ledger"
	"github.com/betbot/laddermm/internal/oracle"
	"github.com/betbot/laddermm/internal/pricing"
	"github.com/betbot/laddermm/internal/recorder"
	"github.com/betbot/laddermm/internal/scheduler"
	"github.com/betbot/laddermm/internal/tracker"
	"github.com/betbot/laddermm/pkg/config"
	"github.com/betbot/laddermm/pkg/logger"
	"github.com/betbot/laddermm/pkg/marketspec"
	"github.com/betbot/laddermm/pkg/secretstore"
	"github.com/betbot/laddermm/pkg/syncgroup"
	"github.com/shopspring/decimal"
)

// ErrMarketsDone --markets N 指定的窗口数已做完（正常退出）
var ErrMarketsDone = errors.New("指定窗口数已完成")

// Options 运行期选项（来自命令行）
type Options struct {
	Markets int  // 做完 N 个窗口后退出，0 = 不限
	Seconds int  // 运行 S 秒后退出，0 = 不限
	NoSkip  bool // 不跳过启动时进行中的窗口
	DryRun  bool
}

// Supervisor 机器人监督器
type Supervisor struct {
	cfg  *config.Config
	opts Options
	spec marketspec.MarketSpec
	log  *logrus.Entry

	disc   *discovery.Client
	oracle *oracle.Client
	clob   *client.Client // dry-run 时为 nil
	venue  engine.Venue

	book    *book.Book
	ledger  *ledger.Ledger
	tracker *tracker.Tracker
	rec     *engine.Reconciler
	eng     *engine.Engine

	marketFeed *feed.MarketFeed
	userFeed   *feed.UserFeed // dry-run 时为 nil
	recorder   *recorder.Recorder

	funderAddress string

	// current 只在 roll（scheduler goroutine）里写；sync loop 读，用锁保护
	currentMu sync.Mutex
	current   *domain.Market

	// windowFills 只在 engine 消费 goroutine 里读写（fill/roll 钩子）
	windowFills int

	completed int // 已完成窗口数（scheduler goroutine）
}

// New 按配置完成全部装配。privateKey 在 dry-run 时可为 nil。
func New(cfg *config.Config, opts Options, privateKey *ecdsa.PrivateKey, sessionID string) (*Supervisor, error) {
	spec, err := marketspec.New(cfg.Market.Symbol, cfg.Market.Timeframe, "updown")
	if err != nil {
		return nil, err
	}

	s := &Supervisor{
		cfg:    cfg,
		opts:   opts,
		spec:   spec,
		log:    logrus.WithField("component", "supervisor"),
		disc:   discovery.NewClient(),
		oracle: oracle.NewClient(),
	}

	if opts.DryRun {
		s.venue = newDryRunVenue()
	} else {
		if privateKey == nil {
			return nil, fmt.Errorf("实盘模式需要私钥")
		}
		clobClient, err := client.NewClient(
			cfg.ClobHost,
			types.Chain(cfg.ChainID),
			privateKey,
			nil,
			cfg.Wallet.FunderAddress,
			signatureType(cfg.Wallet.SignatureType),
		)
		if err != nil {
			return nil, fmt.Errorf("创建 CLOB 客户端失败: %w", err)
		}
		s.clob = clobClient
		s.venue = newClobVenue(clobClient)

		addr, err := clobClient.GetAddress()
		if err != nil {
			return nil, err
		}
		s.funderAddress = cfg.Wallet.FunderAddress
		if s.funderAddress == "" {
			s.funderAddress = addr.Hex()
		}
	}

	params := pricing.Default()
	params.BaseSize = cfg.Strategy.BaseSize
	params.Gamma = cfg.Strategy.Gamma
	params.LadderDepth = cfg.Strategy.LadderDepth
	params.MaxPosition = cfg.Strategy.MaxPosition

	s.book = book.New()
	s.ledger = ledger.New()
	s.tracker = tracker.New()
	s.rec = engine.NewReconciler(engine.ReconcilerConfig{
		Params:       params,
		MinOrderSize: decimal.NewFromFloat(cfg.Strategy.MinOrderSize),
	}, s.book, s.ledger, s.tracker, s.venue)
	s.eng = engine.New(engine.Config{
		ProfitLockMinUSD: cfg.Risk.ProfitLockMinUSD,
		CircuitBreakUSD:  cfg.Risk.CircuitBreakUSD,
	}, s.rec, s.book, s.ledger, s.tracker)

	s.marketFeed = feed.NewMarketFeed(s.eng, feedConfig(cfg))

	if cfg.RecorderPath != "" {
		r, err := recorder.Open(cfg.RecorderPath, sessionID)
		if err != nil {
			// 记录器是旁路，打不开只告警
			s.log.Warnf("打开交易记录器失败: %v", err)
		} else {
			s.recorder = r
		}
	}

	s.eng.SetFillHook(s.onFill)
	s.eng.SetRollHook(s.onWindowClose)
	return s, nil
}

func feedConfig(cfg *config.Config) *feed.Config {
	fc := feed.DefaultConfig()
	fc.ProxyURL = cfg.ProxyURL
	return fc
}

func signatureType(v string) types.SignatureType {
	switch strings.ToLower(v) {
	case "eoa":
		return types.SignatureTypeEOA
	case "magic":
		return types.SignatureTypeMagic
	default:
		// Polymarket 代理钱包是最常见的形态
		return types.SignatureTypeGnosisSafe
	}
}

// Run 跑完整生命周期。返回 nil = 正常退出；engine.ErrInvariantHalt 要求退出码 2。
func (s *Supervisor) Run(ctx context.Context) error {
	if s.opts.Seconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(s.opts.Seconds)*time.Second)
		defer cancel()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// L2 凭证（撤单、下单、user 频道都要用），然后清扫上次残留的挂单
	if s.clob != nil {
		creds, err := s.loadOrDeriveCreds(ctx)
		if err != nil {
			return fmt.Errorf("推导 API 凭证失败: %w", err)
		}
		s.clob.SetCreds(creds)
		s.userFeed = feed.NewUserFeed(s.eng, creds, s.funderAddress, feedConfig(s.cfg))

		if _, err := s.clob.CancelAll(ctx); err != nil {
			return fmt.Errorf("启动清扫失败: %w", err)
		}
		s.log.Info("✅ 启动清扫完成，账户无在场订单")
	}

	first, err := s.awaitFirstWindow(ctx)
	if err != nil {
		return err
	}

	if err := s.openWindow(ctx, first, nil); err != nil {
		return err
	}
	defer s.shutdown()

	// engine 消费循环 / 持仓对账循环 / 窗口调度循环
	sched := scheduler.New(s.spec, s.disc, s.roll, func() {
		s.eng.Submit(engine.HaltPlacementsEvent{})
	})
	errCh := make(chan error, 2)
	sg := syncgroup.NewSyncGroup()
	sg.Add(func() { errCh <- s.eng.Run(ctx) })
	sg.Add(func() { s.syncLoop(ctx) })
	sg.Add(func() { errCh <- sched.Run(ctx, first) })
	sg.Run()

	err = <-errCh
	cancel()
	sg.Wait()

	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil
	case errors.Is(err, ErrMarketsDone):
		s.log.Infof("✅ 已完成 %d 个窗口，正常退出", s.completed)
		return nil
	default:
		return err
	}
}

// loadOrDeriveCreds API 凭证优先走本地缓存（badger），避免每次启动都做 L1 签名推导。
// 缓存读写失败只告警，推导本身失败才是硬错误。
func (s *Supervisor) loadOrDeriveCreds(ctx context.Context) (*types.ApiKeyCreds, error) {
	addr, err := s.clob.GetAddress()
	if err != nil {
		return nil, err
	}
	cacheKey := "clob:creds:" + strings.ToLower(addr.Hex())

	var store *secretstore.Store
	if s.cfg.CredCachePath != "" {
		encKey, _ := secretstore.ParseKey(os.Getenv("SECRETSTORE_KEY"))
		st, err := secretstore.Open(secretstore.OpenOptions{Path: s.cfg.CredCachePath, EncryptionKey: encKey})
		if err != nil {
			s.log.Warnf("打开凭证缓存失败: %v", err)
		} else {
			store = st
			defer store.Close()
			if raw, found, err := store.GetString(cacheKey); err == nil && found {
				var creds types.ApiKeyCreds
				if json.Unmarshal([]byte(raw), &creds) == nil && creds.Key != "" {
					s.log.Info("使用缓存的 API 凭证")
					return &creds, nil
				}
			}
		}
	}

	creds, err := s.clob.CreateOrDeriveAPIKey(ctx, nil)
	if err != nil {
		return nil, err
	}
	if store != nil {
		if raw, err := json.Marshal(creds); err == nil {
			if err := store.SetString(cacheKey, string(raw)); err != nil {
				s.log.Warnf("写入凭证缓存失败: %v", err)
			}
		}
	}
	return creds, nil
}

// awaitFirstWindow 决定第一个交易窗口。
// 默认跳过启动时进行中的窗口，从第一个完整观测的窗口开始。
func (s *Supervisor) awaitFirstWindow(ctx context.Context) (*domain.Market, error) {
	start := s.spec.CurrentPeriodStartUnix(time.Now())
	if s.cfg.SkipFirstWindow && !s.opts.NoSkip {
		next := s.spec.NextPeriodStartUnix(start)
		wait := time.Until(time.Unix(next, 0).Add(-scheduler.DefaultLead))
		if wait > 0 {
			s.log.Infof("跳过进行中的窗口，%s 后进入 %d", wait.Round(time.Second), next)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
		start = next
	}

	slug := s.spec.Slug(start)
	backoff := 1 * time.Second
	for {
		market, err := s.disc.MarketBySlug(ctx, slug)
		if err == nil {
			return market, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.log.Warnf("查找首个窗口 %s 失败: %v, %s 后重试", slug, err, backoff)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
}

// openWindow 进入一个新窗口：记 strike、换引擎状态、切订阅。
// old == nil 表示首个窗口（feed 尚未启动）。
func (s *Supervisor) openWindow(ctx context.Context, market *domain.Market, old *domain.Market) error {
	if spot, err := s.oracle.SpotPrice(ctx, "BTC-USD"); err == nil {
		market.Strike = spot
	} else {
		s.log.Warnf("记录 strike 失败（信息性字段，继续）: %v", err)
	}

	s.eng.Submit(engine.WindowRollEvent{Market: market})

	assetIDs := []string{market.AssetIDYes, market.AssetIDNo}
	if old == nil {
		if err := s.marketFeed.Start(ctx, assetIDs); err != nil {
			return err
		}
		if s.userFeed != nil {
			if err := s.userFeed.Start(ctx); err != nil {
				return err
			}
		}
	} else {
		if err := s.marketFeed.Switch(assetIDs); err != nil {
			s.log.Warnf("切换行情订阅失败（重连后会自愈）: %v", err)
		}
	}
	if s.userFeed != nil {
		if old != nil {
			s.userFeed.UnsubscribeMarkets(old.ConditionID)
		}
		if err := s.userFeed.SubscribeMarkets(market.ConditionID); err != nil {
			s.log.Warnf("订阅用户频道失败: %v", err)
		}
	}

	s.currentMu.Lock()
	s.current = market
	s.currentMu.Unlock()

	// 每个窗口一个日志文件（文件名跟随市场 slug）
	if s.cfg.Log.ByCycle && s.cfg.Log.File != "" {
		logger.SetMarketTimestamp(market.WindowStart)
		if err := logger.CheckAndRotateLogWithForce(logger.Config{
			Level:         s.cfg.Log.Level,
			OutputFile:    s.cfg.Log.File,
			LogByCycle:    true,
			CycleDuration: s.spec.Duration(),
		}, true); err != nil {
			s.log.Warnf("切换周期日志失败: %v", err)
		}
	}

	s.log.Infof("✅ 进入窗口 %s strike=%.2f end=%s",
		market.Slug, market.Strike, market.EndTS.Format("15:04:05"))
	return nil
}

// roll 调度器回调：结束旧窗口、进入新窗口
func (s *Supervisor) roll(ctx context.Context, market *domain.Market) error {
	old := s.currentMarket()

	// 撤掉到期窗口的全部挂单（market 级清扫；平时撤单都是按 id）
	if old != nil {
		cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := s.venue.CancelMarketOrders(cctx, old.ConditionID); err != nil {
			s.log.Warnf("清扫到期窗口挂单失败: %v", err)
		}
		cancel()
	}

	s.completed++
	if s.opts.Markets > 0 && s.completed >= s.opts.Markets {
		// 不进入新窗口，直接收工
		s.eng.Submit(engine.WindowRollEvent{Market: nil})
		return ErrMarketsDone
	}

	return s.openWindow(ctx, market, old)
}

// syncLoop 周期性对账节拍：每个 tick 先让引擎做一次全量 checkpoint
// 兜底（防 BBO 长时间静止时挂单漂移），再做持仓对账。
func (s *Supervisor) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(s.cfg.SyncIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		s.syncTick(ctx)
	}
}

// syncTick 单次对账节拍。持仓查询只在实盘且有代理钱包时进行；
// 账本修正只向上，阈值由引擎侧判。
func (s *Supervisor) syncTick(ctx context.Context) {
	market := s.currentMarket()
	if market == nil {
		return
	}

	s.eng.Submit(engine.CheckpointEvent{})

	if s.clob == nil || s.funderAddress == "" {
		return
	}
	positions, err := s.disc.Positions(ctx, s.funderAddress, market.ConditionID)
	if err != nil {
		s.log.Warnf("持仓对账查询失败: %v", err)
		return
	}
	for _, pos := range positions {
		side, ok := market.SideOfAsset(pos.Asset)
		if !ok {
			continue
		}
		avgTicks := int(math.Round(pos.AvgPrice * domain.TicksPerUnit))
		if avgTicks <= 0 && pos.Size > 0 {
			avgTicks = int(math.Round(pos.InitialValue / pos.Size * domain.TicksPerUnit))
		}
		s.eng.Submit(engine.LedgerSyncEvent{
			Side:          side,
			VenueQty:      pos.Size,
			AvgPriceTicks: avgTicks,
		})
	}
}

// onFill engine 消费 goroutine 里的成交旁路：计数 + 落盘
func (s *Supervisor) onFill(fill domain.FillEvent) {
	s.windowFills++
	if s.recorder == nil {
		return
	}
	market := s.currentMarket()
	slug := ""
	if market != nil {
		slug = market.Slug
	}
	s.recorder.RecordFill(slug, fill)
}

// onWindowClose engine 消费 goroutine 里的换窗钩子：落盘窗口小结
func (s *Supervisor) onWindowClose(closing *domain.Market, l *ledger.Ledger) {
	fills := s.windowFills
	s.windowFills = 0
	if s.recorder == nil || closing == nil {
		return
	}
	s.recorder.RecordWindow(recorder.WindowSummary{
		Slug:        closing.Slug,
		WindowStart: closing.WindowStart,
		Strike:      closing.Strike,
		QtyYes:      l.Qty(domain.SideYes).String(),
		QtyNo:       l.Qty(domain.SideNo).String(),
		CostYes:     l.Cost(domain.SideYes).String(),
		CostNo:      l.Cost(domain.SideNo).String(),
		MinPnLTicks: l.MinPnL().String(),
		FillCount:   fills,
	})
}

func (s *Supervisor) currentMarket() *domain.Market {
	s.currentMu.Lock()
	defer s.currentMu.Unlock()
	return s.current
}

// shutdown 停机序列：撤单、断开连接、落盘
func (s *Supervisor) shutdown() {
	s.log.Info("开始停机...")

	if s.clob != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if _, err := s.clob.CancelAll(ctx); err != nil {
			s.log.Warnf("停机撤单失败: %v", err)
		}
		cancel()
	}

	s.marketFeed.Stop()
	if s.userFeed != nil {
		s.userFeed.Stop()
	}
	if s.recorder != nil {
		s.recorder.Close()
	}
	s.log.Info("✅ 停机完成")
}
