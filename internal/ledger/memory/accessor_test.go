package memory

import (
	"context"
	"fmt"
	"testing"

	"shielded-risk/internal/domain"
	"shielded-risk/internal/ledger"
)

func flow(txid string, time, amountZat int64) domain.Flow {
	return domain.Flow{Txid: txid, BlockHeight: time / 75, BlockTime: time, AmountZat: amountZat}
}

func TestAccessor_RangeAndOrdering(t *testing.T) {
	acc := NewAccessor()
	acc.AddShield(flow("c", 300, 100))
	acc.AddShield(flow("a", 100, 100))
	acc.AddShield(flow("b", 100, 100))
	acc.AddShield(flow("out", 900, 100))

	events, err := acc.Shields(context.Background(), ledger.FlowQuery{StartTime: 50, EndTime: 500})
	if err != nil {
		t.Fatalf("Shields failed: %v", err)
	}

	var got []string
	for _, e := range events {
		got = append(got, e.Txid)
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ordering wrong: got %v, want %v", got, want)
		}
	}
}

func TestAccessor_KeysetCursor(t *testing.T) {
	acc := NewAccessor()
	for i := 0; i < 10; i++ {
		acc.AddDeshield(flow(fmt.Sprintf("tx-%02d", i), 100+int64(i), 50))
	}

	ctx := context.Background()
	q := ledger.FlowQuery{StartTime: 0, EndTime: 1000, Limit: 4}

	var walked []string
	for {
		chunk, err := acc.Deshields(ctx, q)
		if err != nil {
			t.Fatalf("Deshields failed: %v", err)
		}
		for _, e := range chunk {
			walked = append(walked, e.Txid)
		}
		if len(chunk) < q.Limit {
			break
		}
		last := chunk[len(chunk)-1]
		q.AfterTime = last.BlockTime
		q.AfterTxid = last.Txid
	}

	if len(walked) != 10 {
		t.Fatalf("walked %d events, want 10: %v", len(walked), walked)
	}
	seen := map[string]bool{}
	for _, txid := range walked {
		if seen[txid] {
			t.Errorf("duplicate %s in keyset walk", txid)
		}
		seen[txid] = true
	}
}

func TestAccessor_FlowByTxid(t *testing.T) {
	acc := NewAccessor()
	acc.AddShield(flow("s-1", 100, 10))
	acc.AddDeshield(flow("d-1", 200, 20))

	ft, f, err := acc.FlowByTxid(context.Background(), "d-1")
	if err != nil {
		t.Fatalf("FlowByTxid failed: %v", err)
	}
	if ft != domain.FlowDeshield || f.AmountZat != 20 {
		t.Errorf("got %s/%d, want deshield/20", ft, f.AmountZat)
	}

	if _, _, err := acc.FlowByTxid(context.Background(), "missing"); err != ledger.ErrNotFound {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestAccessor_ShieldsNearAmount(t *testing.T) {
	acc := NewAccessor()
	acc.AddShield(flow("exact", 100, 1000))
	acc.AddShield(flow("near", 200, 1005))
	acc.AddShield(flow("far", 300, 2000))
	acc.AddShield(flow("late", 600, 1000)) // at/after beforeTime
	acc.AddShield(flow("ancient", 5, 1000))

	events, err := acc.ShieldsNearAmount(context.Background(), 1000, 10, 500, 480, 5)
	if err != nil {
		t.Fatalf("ShieldsNearAmount failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("got %d shields, want 2", len(events))
	}
	// Closest amount first.
	if events[0].Txid != "exact" || events[1].Txid != "near" {
		t.Errorf("order wrong: %s, %s", events[0].Txid, events[1].Txid)
	}
}

func TestAccessor_AmountHistogram(t *testing.T) {
	acc := NewAccessor()
	acc.AddShield(flow("s-1", 100, 123_450_000))
	acc.AddDeshield(flow("d-1", 200, 123_450_000))
	acc.AddDeshield(flow("d-2", 300, 999_990_000))
	acc.AddDeshield(flow("outside", 900, 123_450_000))

	hist, err := acc.AmountHistogram(context.Background(), 0, 500)
	if err != nil {
		t.Fatalf("AmountHistogram failed: %v", err)
	}

	if got := hist[domain.AmountBucket(123_450_000)]; got != 2 {
		t.Errorf("shared bucket count = %d, want 2 (both directions, window only)", got)
	}
	if got := hist[domain.AmountBucket(999_990_000)]; got != 1 {
		t.Errorf("unique bucket count = %d, want 1", got)
	}
}
