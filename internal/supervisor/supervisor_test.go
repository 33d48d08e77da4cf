package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/laddermm/clob/types"
	"github.com/betbot/laddermm/internal/domain"
	"github.com/betbot/laddermm/pkg/config"
)

func newDryRunSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	cfg := config.Default()
	cfg.DryRun = true
	cfg.RecorderPath = "" // 测试不落盘
	s, err := New(cfg, Options{DryRun: true}, nil, "test-session")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewDryRunNeedsNoKey(t *testing.T) {
	s := newDryRunSupervisor(t)
	if s.clob != nil {
		t.Fatal("dry-run 不应创建 CLOB 客户端")
	}
	if s.venue == nil {
		t.Fatal("dry-run 也要有执行器")
	}
}

func TestNewLiveRequiresKey(t *testing.T) {
	cfg := config.Default()
	cfg.DryRun = false
	if _, err := New(cfg, Options{}, nil, "test-session"); err == nil {
		t.Fatal("实盘无私钥应报错")
	}
}

func TestSignatureTypeMapping(t *testing.T) {
	cases := []struct {
		in   string
		want types.SignatureType
	}{
		{"eoa", types.SignatureTypeEOA},
		{"EOA", types.SignatureTypeEOA},
		{"magic", types.SignatureTypeMagic},
		{"gnosis-safe", types.SignatureTypeGnosisSafe},
		{"", types.SignatureTypeGnosisSafe}, // 默认代理钱包
	}
	for _, c := range cases {
		if got := signatureType(c.in); got != c.want {
			t.Fatalf("signatureType(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFillHookCountsPerWindow(t *testing.T) {
	s := newDryRunSupervisor(t)

	s.onFill(domain.FillEvent{Side: domain.SideYes, Size: decimal.NewFromInt(5)})
	s.onFill(domain.FillEvent{Side: domain.SideNo, Size: decimal.NewFromInt(3)})
	if s.windowFills != 2 {
		t.Fatalf("windowFills = %d, want 2", s.windowFills)
	}

	// 换窗钩子清零计数
	s.onWindowClose(&domain.Market{Slug: "btc-updown-15m-1756100700"}, s.ledger)
	if s.windowFills != 0 {
		t.Fatalf("换窗后 windowFills = %d, want 0", s.windowFills)
	}
}

// 对账节拍每次都给引擎投一个 checkpoint 兜底；
// 没有在途窗口时什么都不投
func TestSyncTickSubmitsCheckpoint(t *testing.T) {
	s := newDryRunSupervisor(t)

	s.syncTick(context.Background())
	if got := s.eng.Pending(); got != 0 {
		t.Fatalf("无窗口时事件数 = %d, want 0", got)
	}

	s.currentMu.Lock()
	s.current = &domain.Market{
		ConditionID: "0xcond",
		Slug:        "btc-updown-15m-1756100700",
		WindowStart: 1756100700,
		EndTS:       time.Now().Add(15 * time.Minute),
	}
	s.currentMu.Unlock()

	s.syncTick(context.Background())
	// dry-run 无持仓查询，节拍只剩 checkpoint 一个事件
	if got := s.eng.Pending(); got != 1 {
		t.Fatalf("有窗口时事件数 = %d, want 1（checkpoint）", got)
	}
}

func TestMarketsDoneStopsScheduler(t *testing.T) {
	s := newDryRunSupervisor(t)
	s.opts.Markets = 1

	s.currentMu.Lock()
	s.current = &domain.Market{
		ConditionID: "0xcond",
		Slug:        "btc-updown-15m-1756100700",
		WindowStart: 1756100700,
		EndTS:       time.Now().Add(15 * time.Minute),
	}
	s.currentMu.Unlock()

	err := s.roll(context.Background(), &domain.Market{
		ConditionID: "0xcond2",
		Slug:        "btc-updown-15m-1756101600",
		WindowStart: 1756101600,
	})
	if err != ErrMarketsDone {
		t.Fatalf("roll 第 1 个窗口后应返回 ErrMarketsDone, got %v", err)
	}
	if s.completed != 1 {
		t.Fatalf("completed = %d, want 1", s.completed)
	}
}
