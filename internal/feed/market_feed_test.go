package feed

import (
	"testing"

	"github.com/betbot/laddermm/internal/engine"
)

type captureSink struct {
	events []engine.Event
}

func (s *captureSink) Submit(ev engine.Event) {
	s.events = append(s.events, ev)
}

func TestInitialSnapshotFrame(t *testing.T) {
	sink := &captureSink{}
	feed := NewMarketFeed(sink, nil)

	frame := `[
		{"event_type":"book","asset_id":"asset-yes",
		 "bids":[{"price":"0.10","size":"50"},{"price":"0.48","size":"120.5"}],
		 "asks":[{"price":"0.90","size":"30"},{"price":"0.52","size":"80"}],
		 "timestamp":"1756100700123"},
		{"event_type":"book","asset_id":"asset-no",
		 "bids":[{"price":"0.47","size":"60"}],
		 "asks":[{"price":"0.51","size":"40"}],
		 "timestamp":"1756100700123"}
	]`
	feed.handleMessage([]byte(frame))

	if len(sink.events) != 2 {
		t.Fatalf("事件数 = %d, want 2", len(sink.events))
	}
	snap, ok := sink.events[0].(engine.SnapshotEvent)
	if !ok {
		t.Fatalf("事件类型 = %T, want SnapshotEvent", sink.events[0])
	}
	if snap.AssetID != "asset-yes" {
		t.Fatalf("AssetID = %q, want asset-yes", snap.AssetID)
	}
	// 最优档在数组末尾
	if got := snap.Bids[len(snap.Bids)-1].PriceTicks; got != 480 {
		t.Fatalf("best bid = %d, want 480", got)
	}
	if got := snap.Asks[len(snap.Asks)-1].PriceTicks; got != 520 {
		t.Fatalf("best ask = %d, want 520", got)
	}
}

func TestLaterBookFramesIgnored(t *testing.T) {
	sink := &captureSink{}
	feed := NewMarketFeed(sink, nil)

	frame := `[{"event_type":"book","asset_id":"asset-yes","bids":[{"price":"0.48","size":"10"}],"asks":[]}]`
	feed.handleMessage([]byte(frame))
	feed.handleMessage([]byte(frame))

	if len(sink.events) != 1 {
		t.Fatalf("重复快照帧被处理: 事件数 = %d, want 1", len(sink.events))
	}
}

func TestBestBidAskDelta(t *testing.T) {
	sink := &captureSink{}
	feed := NewMarketFeed(sink, nil)

	msg := `{"event_type":"best_bid_ask","asset_id":"asset-no","best_bid":"0.47","best_ask":"0.51","timestamp":"1756100701000"}`
	feed.handleMessage([]byte(msg))

	if len(sink.events) != 1 {
		t.Fatalf("事件数 = %d, want 1", len(sink.events))
	}
	bbo, ok := sink.events[0].(engine.BBOEvent)
	if !ok {
		t.Fatalf("事件类型 = %T, want BBOEvent", sink.events[0])
	}
	if bbo.BestBid == nil || *bbo.BestBid != 470 {
		t.Fatalf("BestBid = %v, want 470", bbo.BestBid)
	}
	if bbo.BestAsk == nil || *bbo.BestAsk != 510 {
		t.Fatalf("BestAsk = %v, want 510", bbo.BestAsk)
	}
}

func TestBestBidAskPartialUpdate(t *testing.T) {
	sink := &captureSink{}
	feed := NewMarketFeed(sink, nil)

	// best_ask 缺失：该侧本次无更新
	msg := `{"event_type":"best_bid_ask","asset_id":"asset-yes","best_bid":"0.49"}`
	feed.handleMessage([]byte(msg))

	bbo := sink.events[0].(engine.BBOEvent)
	if bbo.BestBid == nil || *bbo.BestBid != 490 {
		t.Fatalf("BestBid = %v, want 490", bbo.BestBid)
	}
	if bbo.BestAsk != nil {
		t.Fatalf("BestAsk = %v, want nil", bbo.BestAsk)
	}
}

func TestHeartbeatAndUnknownIgnored(t *testing.T) {
	sink := &captureSink{}
	feed := NewMarketFeed(sink, nil)

	feed.handleMessage([]byte("PONG"))
	feed.handleMessage([]byte(`{"event_type":"last_trade_price","asset_id":"asset-yes","price":"0.50"}`))
	feed.handleMessage([]byte(``))

	if len(sink.events) != 0 {
		t.Fatalf("事件数 = %d, want 0", len(sink.events))
	}
}

func TestSwitchResetsSnapshotGate(t *testing.T) {
	sink := &captureSink{}
	feed := NewMarketFeed(sink, nil)

	frame := `[{"event_type":"book","asset_id":"a1","bids":[{"price":"0.40","size":"5"}],"asks":[]}]`
	feed.handleMessage([]byte(frame))

	// 未连接时 Switch 只更新订阅意图
	if err := feed.Switch([]string{"a2", "a3"}); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	frame2 := `[{"event_type":"book","asset_id":"a2","bids":[],"asks":[{"price":"0.60","size":"7"}]}]`
	feed.handleMessage([]byte(frame2))

	if len(sink.events) != 2 {
		t.Fatalf("切换后快照未被处理: 事件数 = %d, want 2", len(sink.events))
	}
	snap := sink.events[1].(engine.SnapshotEvent)
	if snap.AssetID != "a2" {
		t.Fatalf("AssetID = %q, want a2", snap.AssetID)
	}
}
