package relay

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/copyrelay/internal/domain"
)

// spyNotifier records every flushed block.
type spyNotifier struct {
	mu     sync.Mutex
	blocks [][]string
	err    error
}

func (n *spyNotifier) SendBlock(ctx context.Context, lines []string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blocks = append(n.blocks, append([]string(nil), lines...))
	return n.err
}

func (n *spyNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.blocks)
}

func TestUILogFlushAndTTLGate(t *testing.T) {
	spy := &spyNotifier{}
	u := NewUILog(spy, time.Hour, nil)

	u.Append(1, "BTC_USDT LONG :: LIMIT CANCELED copy_oid=1")
	u.MaybeFlush(context.Background())
	if spy.count() != 1 {
		t.Fatalf("got %d blocks, want 1", spy.count())
	}
	if !strings.Contains(spy.blocks[0][0], "COPY #1") {
		t.Fatalf("account header missing: %q", spy.blocks[0][0])
	}

	// Within the TTL further appends are held back.
	u.Append(1, "another line")
	u.MaybeFlush(context.Background())
	if spy.count() != 1 {
		t.Fatalf("TTL gate broken, got %d blocks", spy.count())
	}
}

func TestUILogFlushEmptyIsNoop(t *testing.T) {
	spy := &spyNotifier{}
	u := NewUILog(spy, time.Hour, nil)
	u.MaybeFlush(context.Background())
	if spy.count() != 0 {
		t.Fatal("empty flush must not notify")
	}
}

func TestUILogFormatsEventAndReports(t *testing.T) {
	spy := &spyNotifier{}
	u := NewUILog(spy, time.Hour, nil)

	tp := 61000.0
	u.AppendEvent(0, domain.MasterEvent{
		Event:   domain.EventBuy,
		Method:  domain.MethodLimit,
		Symbol:  "BTC_USDT",
		PosSide: domain.PosSideLong,
		SigType: domain.SigCopy,
		Payload: domain.OrderPayload{Price: 50000, TakeProfit: &tp},
	})

	pnl := 12.5
	pct := 3.75
	u.AppendReports([]domain.PnLReport{{
		CID:     2,
		Symbol:  "BTC_USDT",
		PosSide: domain.PosSideLong,
		PnlUSDT: &pnl,
		PnlPct:  &pct,
		EntryTS: 1700000000000,
		ExitTS:  1700000065000,
	}})

	u.MaybeFlush(context.Background())
	if spy.count() != 2 {
		t.Fatalf("got %d blocks, want event block + report block", spy.count())
	}

	event := spy.blocks[0][0]
	for _, want := range []string{"🧾 MASTER", "BTC_USDT LONG", "event: BUY", "price: 50000", "tp_price: 61000"} {
		if !strings.Contains(event, want) {
			t.Fatalf("event block missing %q:\n%s", want, event)
		}
	}

	report := strings.Join(spy.blocks[1], "\n")
	for _, want := range []string{"Copy ID: 2", "PNL: +12.5 $", "Duration: 1m 5s", "GENERAL SUMMARY", "Closed positions: 1"} {
		if !strings.Contains(report, want) {
			t.Fatalf("report block missing %q:\n%s", want, report)
		}
	}
}

func TestFormatReportsWithoutPnL(t *testing.T) {
	texts := formatReports([]domain.PnLReport{{
		CID: 1, Symbol: "ETH_USDT", PosSide: domain.PosSideShort, Err: "PNL_FETCH_FAILED",
	}})
	if len(texts) != 1 || !strings.Contains(texts[0], "PNL: N/A") {
		t.Fatalf("missing N/A rendering: %v", texts)
	}
	if !strings.Contains(texts[0], "Closed at: N/A") {
		t.Fatalf("missing N/A close time: %v", texts)
	}
}

func TestFormatDuration(t *testing.T) {
	cases := []struct {
		ms   int64
		want string
	}{
		{5_000, "5s"},
		{60_000, "1m"},
		{65_000, "1m 5s"},
		{3_600_000, "1h"},
		{3_660_000, "1h 1m"},
		{0, "0s"},
	}
	for _, c := range cases {
		if got := formatDuration(c.ms); got != c.want {
			t.Errorf("formatDuration(%d) = %q, want %q", c.ms, got, c.want)
		}
	}
}

func TestHumanFloat(t *testing.T) {
	if got := humanFloat(12.50); got != "12.5" {
		t.Fatalf("got %q, want 12.5", got)
	}
	if got := humanFloat(-3); got != "-3" {
		t.Fatalf("got %q, want -3", got)
	}
}
