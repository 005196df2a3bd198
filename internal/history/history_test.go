package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"futu-bridge/internal/gateway"

	"go.uber.org/zap"
)

type fakeQuoteChannel struct {
	mu      sync.Mutex
	rows    []gateway.RawBar
	err     error
	fetches int
	lastMax int
}

func (f *fakeQuoteChannel) Probe(ctx context.Context) error { return nil }
func (f *fakeQuoteChannel) Subscribe(ctx context.Context, codes []string, kinds []gateway.SubKind) error {
	return nil
}
func (f *fakeQuoteChannel) Unsubscribe(ctx context.Context, codes []string, kinds []gateway.SubKind) error {
	return nil
}
func (f *fakeQuoteChannel) ContractList(ctx context.Context, market gateway.Market) ([]gateway.RawContract, error) {
	return nil, nil
}

func (f *fakeQuoteChannel) HistoryBars(ctx context.Context, code string, interval gateway.BarInterval, start, end time.Time, maxRows int) ([]gateway.RawBar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	f.lastMax = maxRows
	return f.rows, f.err
}

func (f *fakeQuoteChannel) SetPushHandler(gateway.PushHandler) {}
func (f *fakeQuoteChannel) Close() error                       { return nil }

func (f *fakeQuoteChannel) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

func newTestComponent(ch *fakeQuoteChannel, minGap time.Duration) *Component {
	provider := func() gateway.QuoteChannel {
		if ch == nil {
			return nil
		}
		return ch
	}
	return New(provider, time.Hour, 100, minGap, nil, zap.NewNop())
}

func rawBars(n int, start time.Time, step time.Duration) []gateway.RawBar {
	rows := make([]gateway.RawBar, 0, n)
	for i := 0; i < n; i++ {
		ts := start.Add(time.Duration(i) * step)
		rows = append(rows, gateway.RawBar{
			Code:   "HK.00700",
			Time:   ts.Format(barTimeLayout),
			Open:   500,
			High:   501,
			Low:    499,
			Close:  500.5,
			Volume: int64(1000 + i),
		})
	}
	return rows
}

func dayRequest() Request {
	return Request{
		Symbol:   "00700.HK",
		Interval: gateway.IntervalDay,
		Start:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.Local),
		End:      time.Date(2026, 6, 30, 0, 0, 0, 0, time.Local),
	}
}

func TestQueryFetchesAndNormalizes(t *testing.T) {
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.Local)
	ch := &fakeQuoteChannel{rows: rawBars(3, start, 24*time.Hour)}
	c := newTestComponent(ch, time.Millisecond)

	bars := c.Query(context.Background(), dayRequest())
	if len(bars) != 3 {
		t.Fatalf("got %d bars, want 3", len(bars))
	}
	if !bars[0].Time.Equal(start) {
		t.Fatalf("first bar time = %v, want %v", bars[0].Time, start)
	}
	if bars[0].Symbol != "00700.HK" || bars[0].Interval != gateway.IntervalDay {
		t.Fatalf("bar not normalized: %+v", bars[0])
	}
}

func TestQueryHitsCacheWithinBucket(t *testing.T) {
	ch := &fakeQuoteChannel{rows: rawBars(2, time.Date(2026, 1, 5, 0, 0, 0, 0, time.Local), 24*time.Hour)}
	c := newTestComponent(ch, time.Millisecond)
	base := time.Date(2026, 8, 28, 10, 30, 10, 0, time.Local)
	c.now = func() time.Time { return base }

	c.Query(context.Background(), dayRequest())
	base = base.Add(5 * time.Minute) // same day bucket
	c.Query(context.Background(), dayRequest())
	if ch.fetchCount() != 1 {
		t.Fatalf("expected 1 fetch inside the bucket, got %d", ch.fetchCount())
	}

	base = base.Add(24 * time.Hour)
	c.Query(context.Background(), dayRequest())
	if ch.fetchCount() != 2 {
		t.Fatalf("expected refetch in the next bucket, got %d", ch.fetchCount())
	}
}

func TestMinuteIntervalBucketsByMinute(t *testing.T) {
	ch := &fakeQuoteChannel{rows: rawBars(2, time.Date(2026, 8, 28, 10, 0, 0, 0, time.Local), time.Minute)}
	c := newTestComponent(ch, time.Millisecond)
	base := time.Date(2026, 8, 28, 10, 30, 10, 0, time.Local)
	c.now = func() time.Time { return base }

	req := Request{Symbol: "00700.HK", Interval: gateway.IntervalMin1, Start: base.Add(-time.Hour), End: base}
	c.Query(context.Background(), req)
	base = base.Add(20 * time.Second) // still 10:30
	c.Query(context.Background(), req)
	if ch.fetchCount() != 1 {
		t.Fatalf("expected cache hit within the minute, got %d fetches", ch.fetchCount())
	}
	base = base.Add(time.Minute)
	c.Query(context.Background(), req)
	if ch.fetchCount() != 2 {
		t.Fatalf("expected miss in the next minute, got %d fetches", ch.fetchCount())
	}
}

func TestDistinctRangesAreDistinctEntries(t *testing.T) {
	ch := &fakeQuoteChannel{rows: rawBars(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.Local), 24*time.Hour)}
	c := newTestComponent(ch, time.Millisecond)

	req := dayRequest()
	c.Query(context.Background(), req)
	req.End = req.End.Add(24 * time.Hour)
	c.Query(context.Background(), req)
	if ch.fetchCount() != 2 {
		t.Fatalf("different ranges must not share entries, got %d fetches", ch.fetchCount())
	}
}

func TestRowCapPassedAndEnforced(t *testing.T) {
	ch := &fakeQuoteChannel{rows: rawBars(300, time.Date(2025, 1, 1, 0, 0, 0, 0, time.Local), 24*time.Hour)}
	c := newTestComponent(ch, time.Millisecond)

	bars := c.Query(context.Background(), dayRequest())
	if ch.lastMax != 252 {
		t.Fatalf("maxRows hint = %d, want 252 for daily bars", ch.lastMax)
	}
	if len(bars) != 252 {
		t.Fatalf("got %d bars, want cap of 252", len(bars))
	}
}

func TestMalformedRowSkipped(t *testing.T) {
	rows := rawBars(3, time.Date(2026, 1, 5, 0, 0, 0, 0, time.Local), 24*time.Hour)
	rows[1].Time = "not a timestamp"
	ch := &fakeQuoteChannel{rows: rows}
	c := newTestComponent(ch, time.Millisecond)

	bars := c.Query(context.Background(), dayRequest())
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2 with the malformed row skipped", len(bars))
	}
}

func TestQueryErrorsReturnEmpty(t *testing.T) {
	ch := &fakeQuoteChannel{err: errors.New("gateway timeout")}
	c := newTestComponent(ch, time.Millisecond)
	if bars := c.Query(context.Background(), dayRequest()); bars != nil {
		t.Fatalf("fetch failure must return nil, got %d bars", len(bars))
	}

	c2 := newTestComponent(nil, time.Millisecond)
	if bars := c2.Query(context.Background(), dayRequest()); bars != nil {
		t.Fatal("disconnected query must return nil")
	}

	req := dayRequest()
	req.Interval = "7m"
	if bars := c2.Query(context.Background(), req); bars != nil {
		t.Fatal("unknown interval must return nil")
	}

	req = dayRequest()
	req.Symbol = "garbage"
	if bars := c2.Query(context.Background(), req); bars != nil {
		t.Fatal("invalid symbol must return nil")
	}
}

func TestThrottleSpacesFetches(t *testing.T) {
	ch := &fakeQuoteChannel{rows: rawBars(1, time.Date(2026, 1, 5, 0, 0, 0, 0, time.Local), 24*time.Hour)}
	gap := 30 * time.Millisecond
	c := newTestComponent(ch, gap)

	req := dayRequest()
	begin := time.Now()
	for i := 0; i < 3; i++ {
		r := req
		r.End = req.End.Add(time.Duration(i) * 24 * time.Hour) // force misses
		c.Query(context.Background(), r)
	}
	elapsed := time.Since(begin)
	if elapsed < 2*gap {
		t.Fatalf("3 fetches finished in %v, want at least %v of throttle spacing", elapsed, 2*gap)
	}
}

func TestArchiveSinkReceivesBars(t *testing.T) {
	ch := &fakeQuoteChannel{rows: rawBars(2, time.Date(2026, 1, 5, 0, 0, 0, 0, time.Local), 24*time.Hour)}
	c := newTestComponent(ch, time.Millisecond)

	var archived []Bar
	c.SetArchive(func(bars []Bar) { archived = append(archived, bars...) })
	c.Query(context.Background(), dayRequest())
	if len(archived) != 2 {
		t.Fatalf("archive received %d bars, want 2", len(archived))
	}
}

func TestBucketFor(t *testing.T) {
	now := time.Date(2026, 8, 28, 10, 30, 45, 0, time.Local)
	cases := []struct {
		interval gateway.BarInterval
		want     time.Time
	}{
		{gateway.IntervalMin1, time.Date(2026, 8, 28, 10, 30, 0, 0, time.Local)},
		{gateway.IntervalMin5, time.Date(2026, 8, 28, 10, 30, 0, 0, time.Local)},
		{gateway.IntervalMin60, now.Truncate(time.Hour)},
		{gateway.IntervalDay, now.Truncate(24 * time.Hour)},
		{gateway.IntervalWeek, now.Truncate(24 * time.Hour)},
	}
	for _, tc := range cases {
		if got := bucketFor(tc.interval, now); got != tc.want.Unix() {
			t.Errorf("%s bucket = %d, want %d", tc.interval, got, tc.want.Unix())
		}
	}
}

func TestRowCapTable(t *testing.T) {
	cases := map[gateway.BarInterval]int{
		gateway.IntervalMin1:  1440,
		gateway.IntervalMin5:  864,
		gateway.IntervalMin15: 672,
		gateway.IntervalMin60: 500,
		gateway.IntervalDay:   252,
		gateway.IntervalWeek:  104,
		gateway.IntervalMonth: 60,
	}
	for interval, want := range cases {
		if got := rowCap(interval); got != want {
			t.Errorf("rowCap(%s) = %d, want %d", interval, got, want)
		}
	}
}
