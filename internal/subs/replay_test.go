package subs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"futu-bridge/internal/gateway"
	"futu-bridge/internal/retry"

	"go.uber.org/zap"
)

type sendRecorder struct {
	mu    sync.Mutex
	calls [][]string
	fail  func(codes []string) error
}

func (s *sendRecorder) send(ctx context.Context, codes []string, kinds []gateway.SubKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := append([]string(nil), codes...)
	s.calls = append(s.calls, copied)
	if s.fail != nil {
		return s.fail(codes)
	}
	return nil
}

func fastPerSymbolRetry(t *testing.T) {
	t.Helper()
	saved := perSymbolRetry
	perSymbolRetry = retry.Policy{Attempts: 2, Initial: time.Millisecond, Max: time.Millisecond}
	t.Cleanup(func() { perSymbolRetry = saved })
}

func tickRegistry(n int) *Registry {
	reg := NewRegistry()
	for i := 0; i < n; i++ {
		code := fmt.Sprintf("HK.%05d", i)
		reg.Add(Record{Symbol: fmt.Sprintf("%05d.HK", i), Code: code, Kinds: []gateway.SubKind{gateway.SubTick}})
	}
	return reg
}

func TestReplayEmptyRegistryIsNoop(t *testing.T) {
	rec := &sendRecorder{}
	if err := Replay(context.Background(), NewRegistry(), rec.send, 50, zap.NewNop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.calls) != 0 {
		t.Fatalf("expected no sends, got %d", len(rec.calls))
	}
}

func TestReplayBatchesByLimit(t *testing.T) {
	rec := &sendRecorder{}
	reg := tickRegistry(120)
	if err := Replay(context.Background(), reg, rec.send, 50, zap.NewNop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rec.calls) != 3 {
		t.Fatalf("expected 3 batches for 120 codes, got %d", len(rec.calls))
	}
	sizes := []int{len(rec.calls[0]), len(rec.calls[1]), len(rec.calls[2])}
	if sizes[0] != 50 || sizes[1] != 50 || sizes[2] != 20 {
		t.Fatalf("batch sizes = %v, want [50 50 20]", sizes)
	}
}

func TestReplayCoversExactRegisteredSet(t *testing.T) {
	rec := &sendRecorder{}
	reg := NewRegistry()
	reg.Add(Record{Symbol: "00700.HK", Code: "HK.00700", Kinds: []gateway.SubKind{gateway.SubTick}})
	reg.Add(Record{Symbol: "AAPL.US", Code: "US.AAPL", Kinds: []gateway.SubKind{gateway.SubTick, gateway.SubQuote}})

	if err := Replay(context.Background(), reg, rec.send, 50, zap.NewNop()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var replayed []string
	for _, call := range rec.calls {
		replayed = append(replayed, call...)
	}
	sort.Strings(replayed)
	want := []string{"HK.00700", "US.AAPL"}
	if len(replayed) != len(want) {
		t.Fatalf("replayed %v, want exactly %v", replayed, want)
	}
	for i := range want {
		if replayed[i] != want[i] {
			t.Fatalf("replayed %v, want exactly %v", replayed, want)
		}
	}
}

func TestReplayFallsBackPerSymbol(t *testing.T) {
	fastPerSymbolRetry(t)
	rec := &sendRecorder{}
	rec.fail = func(codes []string) error {
		if len(codes) > 1 {
			return errors.New("batch rejected")
		}
		if codes[0] == "HK.00002" {
			return errors.New("bad symbol")
		}
		return nil
	}
	reg := tickRegistry(5)

	err := Replay(context.Background(), reg, rec.send, 50, zap.NewNop())
	if err == nil {
		t.Fatal("expected error naming the unrestorable code")
	}
	restored := map[string]bool{}
	for _, call := range rec.calls {
		if len(call) == 1 {
			restored[call[0]] = true
		}
	}
	for _, code := range []string{"HK.00000", "HK.00001", "HK.00003", "HK.00004"} {
		if !restored[code] {
			t.Fatalf("expected %s restored via per-symbol fallback", code)
		}
	}
}
