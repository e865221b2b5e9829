package models

import (
	"testing"
	"time"

	"pgregory.net/rapid"
)

// genBucketTrades draws a non-empty batch of trades that all land in the
// same one-minute bucket, with distinct trade ids.
func genBucketTrades(t *rapid.T) []Trade {
	base := time.Date(2025, 11, 3, 14, 30, 0, 0, time.UTC)
	n := rapid.IntRange(1, 32).Draw(t, "n")

	trades := make([]Trade, n)
	seen := make(map[uint64]bool, n)
	for i := range trades {
		id := rapid.Uint64Range(1, 1_000_000).Draw(t, "id")
		for seen[id] {
			id++
		}
		seen[id] = true

		trades[i] = Trade{
			ExchangeTime: base.Add(time.Duration(rapid.Int64Range(0, 59_999).Draw(t, "ms")) * time.Millisecond),
			Symbol:       "BTC/USD",
			Price:        Price(rapid.Int64Range(1, 1_000_000_000_000).Draw(t, "price")),
			Volume:       Quantity(rapid.Int64Range(1, 1_000_000_000).Draw(t, "volume")),
			TradeID:      id,
			Side:         SideBuy,
		}
	}
	return trades
}

func foldAll(trades []Trade) PartialCandle {
	var c PartialCandle
	for _, tr := range trades {
		c.Fold(tr)
	}
	return c
}

// TestProperty_FoldOrderIndependent: folding the same trades in any order
// yields the same partial state.
func TestProperty_FoldOrderIndependent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := genBucketTrades(t)
		want := foldAll(trades)

		perm := rapid.Permutation(trades).Draw(t, "perm")
		if got := foldAll(perm); got != want {
			t.Fatalf("fold order changed result:\n got=%+v\nwant=%+v", got, want)
		}
	})
}

// TestProperty_MergeCommutesAndAssociates: any split of a trade batch into
// sub-batches, merged in any order and grouping, equals the straight fold.
func TestProperty_MergeCommutesAndAssociates(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		trades := genBucketTrades(t)
		want := foldAll(trades)

		// Split into k sub-batches by random assignment.
		k := rapid.IntRange(1, 5).Draw(t, "k")
		parts := make([]PartialCandle, k)
		for _, tr := range trades {
			i := rapid.IntRange(0, k-1).Draw(t, "part")
			parts[i].Fold(tr)
		}

		// Merge in a random order with left-fold grouping.
		order := rapid.Permutation(parts).Draw(t, "order")
		var merged PartialCandle
		for _, p := range order {
			merged = merged.Merge(p)
		}
		if merged != want {
			t.Fatalf("merge of splits differs from fold:\n got=%+v\nwant=%+v", merged, want)
		}

		// Commutativity on a pair.
		if k >= 2 {
			ab := parts[0].Merge(parts[1])
			ba := parts[1].Merge(parts[0])
			if ab != ba {
				t.Fatalf("merge not commutative:\n ab=%+v\n ba=%+v", ab, ba)
			}
		}
	})
}
