package subs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"futu-bridge/internal/gateway"
	"futu-bridge/internal/retry"

	"go.uber.org/zap"
)

// SubscribeFunc issues one subscribe call against the current quote
// channel.
type SubscribeFunc func(ctx context.Context, codes []string, kinds []gateway.SubKind) error

var perSymbolRetry = retry.Policy{Attempts: 3, Initial: time.Second, Max: 8 * time.Second}

// Replay re-issues every registered subscription after a reconnection.
// Records sharing a kind set are batched up to batchSize codes per call; a
// failed batch falls back to symbol-by-symbol sends with their own backoff,
// so one bad symbol cannot block the rest. Returns an error listing the
// codes that could not be restored.
func Replay(ctx context.Context, reg *Registry, send SubscribeFunc, batchSize int, log *zap.Logger) error {
	if batchSize < 1 {
		batchSize = 50
	}
	records := reg.Snapshot()
	if len(records) == 0 {
		return nil
	}

	groups := make(map[string][]Record)
	order := make([]string, 0)
	for _, rec := range records {
		sig := kindSignature(rec.Kinds)
		if _, ok := groups[sig]; !ok {
			order = append(order, sig)
		}
		groups[sig] = append(groups[sig], rec)
	}

	var failed []string
	for _, sig := range order {
		group := groups[sig]
		kinds := group[0].Kinds
		for start := 0; start < len(group); start += batchSize {
			end := start + batchSize
			if end > len(group) {
				end = len(group)
			}
			codes := make([]string, 0, end-start)
			for _, rec := range group[start:end] {
				codes = append(codes, rec.Code)
			}
			if err := send(ctx, codes, kinds); err == nil {
				log.Info("replayed subscription batch", zap.Int("count", len(codes)))
				continue
			} else {
				log.Warn("subscription batch failed, retrying per symbol",
					zap.Int("count", len(codes)), zap.Error(err))
			}
			for _, code := range codes {
				code := code
				err := perSymbolRetry.Do(ctx, func() error {
					return send(ctx, []string{code}, kinds)
				})
				if err != nil {
					log.Error("subscription replay failed", zap.String("code", code), zap.Error(err))
					failed = append(failed, code)
				}
			}
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("replay failed for %s", strings.Join(failed, ","))
	}
	return nil
}

func kindSignature(kinds []gateway.SubKind) string {
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, string(k))
	}
	sort.Strings(parts)
	return strings.Join(parts, "|")
}
