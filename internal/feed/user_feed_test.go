package feed

import (
	"testing"

	"github.com/betbot/laddermm/clob/types"
	"github.com/betbot/laddermm/internal/engine"
)

func newTestUserFeed(sink Sink) *UserFeed {
	creds := &types.ApiKeyCreds{Key: "k", Secret: "s", Passphrase: "p"}
	return NewUserFeed(sink, creds, "0xAbCd000000000000000000000000000000000001", nil)
}

func TestMakerFillClaimedByAddress(t *testing.T) {
	sink := &captureSink{}
	feed := newTestUserFeed(sink)

	msg := `{
		"event_type":"trade","status":"MATCHED","trader_side":"MAKER",
		"market":"0xcond","timestamp":"1756100705000",
		"maker_orders":[
			{"order_id":"other","maker_address":"0x9999000000000000000000000000000000000009","asset_id":"asset-yes","price":"0.48","matched_amount":"3"},
			{"order_id":"mine","maker_address":"0xabcd000000000000000000000000000000000001","asset_id":"asset-yes","price":"0.49","matched_amount":"7.5"}
		]
	}`
	feed.handleMessage([]byte(msg))

	if len(sink.events) != 1 {
		t.Fatalf("事件数 = %d, want 1", len(sink.events))
	}
	batch := sink.events[0].(engine.FillBatchEvent)
	if len(batch.Fills) != 1 {
		t.Fatalf("成交数 = %d, want 1", len(batch.Fills))
	}
	fill := batch.Fills[0]
	if fill.OrderID != "mine" {
		t.Fatalf("OrderID = %q, want mine", fill.OrderID)
	}
	if fill.PriceTicks != 490 {
		t.Fatalf("PriceTicks = %d, want 490", fill.PriceTicks)
	}
	if fill.Size.String() != "7.5" {
		t.Fatalf("Size = %s, want 7.5", fill.Size)
	}
	if !fill.IsMaker {
		t.Fatal("IsMaker = false, want true")
	}
}

func TestTakerFillUsesTopLevelFields(t *testing.T) {
	sink := &captureSink{}
	feed := newTestUserFeed(sink)

	msg := `{
		"event_type":"trade","status":"MATCHED","trader_side":"TAKER",
		"price":"0.52","size":"4","asset_id":"asset-no",
		"taker_order_id":"tko-1","market":"0xcond","timestamp":"1756100706000"
	}`
	feed.handleMessage([]byte(msg))

	if len(sink.events) != 1 {
		t.Fatalf("事件数 = %d, want 1", len(sink.events))
	}
	fill := sink.events[0].(engine.FillBatchEvent).Fills[0]
	if fill.OrderID != "tko-1" {
		t.Fatalf("OrderID = %q, want tko-1", fill.OrderID)
	}
	if fill.AssetID != "asset-no" {
		t.Fatalf("AssetID = %q, want asset-no", fill.AssetID)
	}
	if fill.PriceTicks != 520 {
		t.Fatalf("PriceTicks = %d, want 520", fill.PriceTicks)
	}
	if fill.IsMaker {
		t.Fatal("IsMaker = true, want false")
	}
}

func TestNonMatchedStatusesIgnored(t *testing.T) {
	sink := &captureSink{}
	feed := newTestUserFeed(sink)

	// 同一笔撮合的后续状态推送不能再次记账
	for _, status := range []string{"MINED", "CONFIRMED", "RETRYING", "FAILED"} {
		msg := `{"event_type":"trade","status":"` + status + `","trader_side":"TAKER","price":"0.50","size":"1","asset_id":"a","taker_order_id":"t"}`
		feed.handleMessage([]byte(msg))
	}
	if len(sink.events) != 0 {
		t.Fatalf("事件数 = %d, want 0", len(sink.events))
	}
}

func TestForeignMakerTradeIgnored(t *testing.T) {
	sink := &captureSink{}
	feed := newTestUserFeed(sink)

	msg := `{
		"event_type":"trade","status":"MATCHED","trader_side":"MAKER",
		"maker_orders":[{"order_id":"x","maker_address":"0xdead000000000000000000000000000000000000","asset_id":"a","price":"0.50","matched_amount":"2"}]
	}`
	feed.handleMessage([]byte(msg))

	if len(sink.events) != 0 {
		t.Fatalf("事件数 = %d, want 0", len(sink.events))
	}
}

func TestOrderAndHeartbeatMessagesIgnored(t *testing.T) {
	sink := &captureSink{}
	feed := newTestUserFeed(sink)

	feed.handleMessage([]byte("PONG"))
	feed.handleMessage([]byte(`{"event_type":"order","id":"o1","status":"LIVE"}`))

	if len(sink.events) != 0 {
		t.Fatalf("事件数 = %d, want 0", len(sink.events))
	}
}
