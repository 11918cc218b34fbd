package correlate

import (
	"math"

	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
	"shielded-risk/internal/ledger"
)

// AlgorithmVersion identifies the scoring algorithm exposed by the API.
// Bump on any change to factor formulas or default weights.
const AlgorithmVersion = "1.2.0"

// expDecayRate shapes the exponential proximity curve. The curve is
// normalized so it still hits exactly 0 at the window edge.
const expDecayRate = 5.0

// amountSimilarity is 100 when the amounts are identical and falls linearly
// with the relative difference. Always in [0, 100].
func amountSimilarity(aZat, bZat int64) float64 {
	den := float64(max64(aZat, bZat, 1))
	diff := math.Abs(float64(aZat - bZat))
	return clamp100(100 * (1 - diff/den))
}

// timeProximity decays monotonically from 100 at dt=0 to 0 at dt=window.
// The curve shape is configuration, not behavior: both options keep the
// bounds and monotonicity the scoring contract requires.
func timeProximity(deltaSecs, windowSecs int64, curve string) float64 {
	if windowSecs <= 0 || deltaSecs >= windowSecs {
		return 0
	}
	x := float64(deltaSecs) / float64(windowSecs)

	switch curve {
	case "exponential":
		num := math.Exp(-expDecayRate*x) - math.Exp(-expDecayRate)
		den := 1 - math.Exp(-expDecayRate)
		return clamp100(100 * num / den)
	default: // linear
		return clamp100(100 * (1 - x))
	}
}

// amountRarity weights how uncommon the matched amount is over the window.
// A shared amount seen once is maximal evidence; frequency dilutes it on a
// log scale. Always in (0, 100].
func amountRarity(hist ledger.Histogram, amountZat int64) float64 {
	count := hist[domain.AmountBucket(amountZat)]
	if count <= 1 {
		return 100
	}
	return clamp100(100 / (1 + math.Log10(float64(count))))
}

// compositeScore folds the three factors into a single [0, 100] score.
func compositeScore(b domain.MatchBreakdown, w config.Weights) int {
	raw := w.AmountSimilarity*b.AmountSimilarity +
		w.TimeProximity*b.TimeProximity +
		w.AmountRarity*b.AmountRarity

	score := int(math.Round(raw))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func clamp100(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func max64(vals ...int64) int64 {
	m := vals[0]
	for _, v := range vals[1:] {
		if v > m {
			m = v
		}
	}
	return m
}
