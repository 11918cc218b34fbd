package correlate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
	ledgermem "shielded-risk/internal/ledger/memory"
	"shielded-risk/internal/storage"
)

const (
	hour = int64(3600)
	day  = 24 * hour
)

// baseTime keeps all fixtures well past epoch so Valid() checks hold.
const baseTime = int64(1_700_000_000)

func newTestCorrelator(acc *ledgermem.Accessor) *Correlator {
	return New(acc, config.Default().Correlator, zap.NewNop(), nil)
}

func shieldFlow(txid string, time, amountZat int64) domain.Flow {
	return domain.Flow{
		Txid:        txid,
		BlockHeight: time / 75,
		BlockTime:   time,
		Pool:        domain.PoolOrchard,
		AmountZat:   amountZat,
	}
}

func TestCorrelate_ExactRoundTrip(t *testing.T) {
	acc := ledgermem.NewAccessor()
	acc.AddShield(shieldFlow("shield-1", baseTime, 100*domain.ZatPerZec))
	acc.AddDeshield(shieldFlow("deshield-1", baseTime+2*hour, 100*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	matches, err := c.Correlate(context.Background(), Anchor{
		Txid:      "deshield-1",
		FlowType:  domain.FlowDeshield,
		AmountZat: 100 * domain.ZatPerZec,
		BlockTime: baseTime + 2*hour,
	})
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}

	if len(matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(matches))
	}
	m := matches[0]
	if m.CandidateTxid != "shield-1" {
		t.Errorf("candidate = %s, want shield-1", m.CandidateTxid)
	}
	// Identical rare amount two hours apart is the canonical strong signal.
	if m.Score < 70 {
		t.Errorf("score = %d, want >= 70", m.Score)
	}
	if m.WarningLevel != domain.WarningHigh {
		t.Errorf("warning level = %s, want HIGH", m.WarningLevel)
	}
	if m.TimeDelta != 2*hour {
		t.Errorf("time delta = %d, want %d", m.TimeDelta, 2*hour)
	}
}

func TestCorrelate_CausalityIsStrict(t *testing.T) {
	acc := ledgermem.NewAccessor()
	// Shields at and after the anchor can never be its source.
	acc.AddShield(shieldFlow("same-instant", baseTime, 10*domain.ZatPerZec))
	acc.AddShield(shieldFlow("later", baseTime+hour, 10*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	matches, err := c.Correlate(context.Background(), Anchor{
		Txid:      "deshield-1",
		FlowType:  domain.FlowDeshield,
		AmountZat: 10 * domain.ZatPerZec,
		BlockTime: baseTime,
	})
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("non-causal candidates matched: %d", len(matches))
	}
}

func TestCorrelate_ShieldAnchorLooksForward(t *testing.T) {
	acc := ledgermem.NewAccessor()
	acc.AddDeshield(shieldFlow("before", baseTime-hour, 10*domain.ZatPerZec))
	acc.AddDeshield(shieldFlow("after", baseTime+hour, 10*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	matches, err := c.Correlate(context.Background(), Anchor{
		Txid:      "shield-1",
		FlowType:  domain.FlowShield,
		AmountZat: 10 * domain.ZatPerZec,
		BlockTime: baseTime,
	})
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if len(matches) != 1 || matches[0].CandidateTxid != "after" {
		t.Fatalf("expected only the later deshield, got %+v", matches)
	}
}

func TestCorrelate_ToleranceExcludesDistantAmounts(t *testing.T) {
	acc := ledgermem.NewAccessor()
	acc.AddShield(shieldFlow("close", baseTime, 100*domain.ZatPerZec))
	acc.AddShield(shieldFlow("far", baseTime+hour, 150*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	matches, err := c.Correlate(context.Background(), Anchor{
		Txid:      "deshield-1",
		FlowType:  domain.FlowDeshield,
		AmountZat: 100 * domain.ZatPerZec,
		BlockTime: baseTime + 2*hour,
	})
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if len(matches) != 1 || matches[0].CandidateTxid != "close" {
		t.Fatalf("expected only the close amount, got %+v", matches)
	}
}

func TestCorrelate_WindowExcludesOldShields(t *testing.T) {
	acc := ledgermem.NewAccessor()
	acc.AddShield(shieldFlow("ancient", baseTime-40*day, 10*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	matches, err := c.Correlate(context.Background(), Anchor{
		Txid:      "deshield-1",
		FlowType:  domain.FlowDeshield,
		AmountZat: 10 * domain.ZatPerZec,
		BlockTime: baseTime,
	})
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("shield outside the window matched: %+v", matches)
	}
}

func TestCorrelate_Deterministic(t *testing.T) {
	acc := ledgermem.NewAccessor()
	// Two equally distant shields with the same amount: order must be stable
	// across runs, tie-broken by txid after time delta.
	acc.AddShield(shieldFlow("shield-b", baseTime-hour, 10*domain.ZatPerZec))
	acc.AddShield(shieldFlow("shield-a", baseTime-hour, 10*domain.ZatPerZec))
	acc.AddShield(shieldFlow("shield-c", baseTime-2*hour, 10*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	anchor := Anchor{
		Txid:      "deshield-1",
		FlowType:  domain.FlowDeshield,
		AmountZat: 10 * domain.ZatPerZec,
		BlockTime: baseTime,
	}

	first, err := c.Correlate(context.Background(), anchor)
	if err != nil {
		t.Fatalf("Correlate failed: %v", err)
	}
	if len(first) != 3 {
		t.Fatalf("matches = %d, want 3", len(first))
	}
	if first[0].CandidateTxid != "shield-a" || first[1].CandidateTxid != "shield-b" {
		t.Errorf("tie order wrong: %s, %s", first[0].CandidateTxid, first[1].CandidateTxid)
	}

	for i := 0; i < 5; i++ {
		again, err := c.Correlate(context.Background(), anchor)
		if err != nil {
			t.Fatalf("Correlate failed: %v", err)
		}
		for j := range again {
			if again[j].CandidateTxid != first[j].CandidateTxid || again[j].Score != first[j].Score {
				t.Fatalf("run %d diverged at %d: %+v vs %+v", i, j, again[j], first[j])
			}
		}
	}
}

func TestLinkability_NoShieldedActivity(t *testing.T) {
	c := newTestCorrelator(ledgermem.NewAccessor())

	link, err := c.Linkability(context.Background(), "unknown-txid")
	if err != nil {
		t.Fatalf("Linkability failed: %v", err)
	}
	if link.HasShieldedActivity {
		t.Error("unknown txid should have no shielded activity")
	}
	if link.WarningLevel != domain.WarningLow {
		t.Errorf("warning level = %s, want LOW", link.WarningLevel)
	}
}

func TestLinkability_WithMatches(t *testing.T) {
	acc := ledgermem.NewAccessor()
	acc.AddShield(shieldFlow("shield-1", baseTime, 42*domain.ZatPerZec))
	acc.AddDeshield(shieldFlow("deshield-1", baseTime+3*hour, 42*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	link, err := c.Linkability(context.Background(), "deshield-1")
	if err != nil {
		t.Fatalf("Linkability failed: %v", err)
	}

	if !link.HasShieldedActivity {
		t.Fatal("expected shielded activity")
	}
	if link.FlowType != domain.FlowDeshield {
		t.Errorf("flow type = %s, want deshield", link.FlowType)
	}
	if len(link.Matches) != 1 {
		t.Fatalf("matches = %d, want 1", len(link.Matches))
	}
	if link.HighestScore != link.Matches[0].Score {
		t.Errorf("highest score %d != best match score %d", link.HighestScore, link.Matches[0].Score)
	}
}

func TestRiskyRoundTrips_StatsAndPagination(t *testing.T) {
	acc := ledgermem.NewAccessor()
	// Three strong round trips with distinct amounts.
	for i, amount := range []int64{10, 20, 30} {
		shieldTime := baseTime + int64(i)*day
		acc.AddShield(shieldFlow(tx("shield", i), shieldTime, amount*domain.ZatPerZec))
		acc.AddDeshield(shieldFlow(tx("deshield", i), shieldTime+hour, amount*domain.ZatPerZec))
	}
	// One deshield with no plausible source.
	acc.AddDeshield(shieldFlow("orphan", baseTime+5*day, 999*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	report, err := c.RiskyRoundTrips(context.Background(), RoundTripQuery{
		StartTime: baseTime,
		EndTime:   baseTime + 10*day,
		Sort:      RoundTripSortScore,
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("RiskyRoundTrips failed: %v", err)
	}

	if report.Stats.Total != 3 {
		t.Errorf("stats total = %d, want 3", report.Stats.Total)
	}
	if report.Stats.HighRisk != 3 {
		t.Errorf("high risk = %d, want 3", report.Stats.HighRisk)
	}
	if report.Stats.AvgScore <= 0 {
		t.Errorf("avg score = %v, want > 0", report.Stats.AvgScore)
	}

	if len(report.Entries) != 2 {
		t.Fatalf("page size = %d, want 2", len(report.Entries))
	}
	if !report.HasMore {
		t.Error("expected a further page")
	}

	// Second page completes the listing without duplicates.
	rest, err := c.RiskyRoundTrips(context.Background(), RoundTripQuery{
		StartTime: baseTime,
		EndTime:   baseTime + 10*day,
		Sort:      RoundTripSortScore,
		Offset:    2,
		Limit:     2,
	})
	if err != nil {
		t.Fatalf("RiskyRoundTrips failed: %v", err)
	}
	if len(rest.Entries) != 1 || rest.HasMore {
		t.Fatalf("second page = %d entries, hasMore %v", len(rest.Entries), rest.HasMore)
	}

	seen := map[string]bool{}
	for _, e := range append(report.Entries, rest.Entries...) {
		if seen[e.Txid] {
			t.Errorf("duplicate entry across pages: %s", e.Txid)
		}
		seen[e.Txid] = true
	}
}

func TestRiskyRoundTrips_LevelFilterKeepsStats(t *testing.T) {
	acc := ledgermem.NewAccessor()
	// Strong pair.
	acc.AddShield(shieldFlow("shield-strong", baseTime, 10*domain.ZatPerZec))
	acc.AddDeshield(shieldFlow("deshield-strong", baseTime+hour, 10*domain.ZatPerZec))
	// Weak pair: same amount seen far apart in time, amount shared widely.
	for i := 0; i < 50; i++ {
		acc.AddShield(shieldFlow(tx("noise", i), baseTime+int64(i)*hour, 5*domain.ZatPerZec))
	}
	acc.AddDeshield(shieldFlow("deshield-weak", baseTime+29*day, 5*domain.ZatPerZec))

	c := newTestCorrelator(acc)
	report, err := c.RiskyRoundTrips(context.Background(), RoundTripQuery{
		StartTime: baseTime,
		EndTime:   baseTime + 30*day,
		MinLevel:  domain.WarningHigh,
		Sort:      RoundTripSortScore,
		Limit:     50,
	})
	if err != nil {
		t.Fatalf("RiskyRoundTrips failed: %v", err)
	}

	for _, e := range report.Entries {
		if e.WarningLevel != domain.WarningHigh {
			t.Errorf("filtered listing contains %s entry %s", e.WarningLevel, e.Txid)
		}
	}
	// Stats cover the whole period regardless of the level filter.
	if report.Stats.Total < len(report.Entries) {
		t.Errorf("stats total %d below filtered count %d", report.Stats.Total, len(report.Entries))
	}
}

func tx(prefix string, i int) string {
	return fmt.Sprintf("%s-%02d", prefix, i)
}

func TestCorrelate_UnknownFlowType(t *testing.T) {
	c := newTestCorrelator(ledgermem.NewAccessor())

	_, err := c.Correlate(context.Background(), Anchor{
		Txid:      "anchor-1",
		FlowType:  domain.FlowType("swap"),
		AmountZat: domain.ZecToZat(1),
		BlockTime: baseTime,
	})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
