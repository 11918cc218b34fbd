package batchdetect

import (
	"math"

	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
)

// Canonical ladder maxima. Configured caps rescale each factor without
// changing the ladder shape, so calibration can shift factor influence
// independently.
const (
	canonBatchCount      = 30
	canonRoundNumber     = 20
	canonMatchingShield  = 25
	canonTimeClustering  = 12
	canonAddressAnalysis = 15
)

// batchCountPoints is an increasing, saturating function of cluster size.
func batchCountPoints(count int, maxPts int) int {
	var canonical int
	switch {
	case count >= 12:
		canonical = 30
	case count >= 10:
		canonical = 25
	case count >= 8:
		canonical = 22
	case count >= 5:
		canonical = 15
	default:
		canonical = 10
	}
	return scale(canonical, canonBatchCount, maxPts)
}

// roundNumberPoints grades the denomination. Bigger round denominations are
// stronger fingerprints; a non-round amount repeated across a large batch is
// suspicious in its own right and earns a smaller bonus.
func roundNumberPoints(amountZat int64, batchCount int, maxPts int) int {
	var canonical int
	switch {
	case !IsRoundNumber(amountZat):
		if batchCount >= 5 {
			canonical = 8
		}
	case amountZat%(1000*domain.ZatPerZec) == 0:
		canonical = 20
	case amountZat%(500*domain.ZatPerZec) == 0:
		canonical = 18
	case amountZat%(100*domain.ZatPerZec) == 0:
		canonical = 16
	case amountZat%(50*domain.ZatPerZec) == 0:
		canonical = 14
	case amountZat%(10*domain.ZatPerZec) == 0:
		canonical = 12
	default:
		canonical = 10
	}
	return scale(canonical, canonRoundNumber, maxPts)
}

// matchingShieldPoints grades how closely a prior shield matches the
// cluster's total amount.
func matchingShieldPoints(diffPct float64, maxPts int) int {
	var canonical int
	switch {
	case diffPct < 0.01:
		canonical = 25
	case diffPct < 0.1:
		canonical = 22
	case diffPct < 1:
		canonical = 18
	case diffPct < 5:
		canonical = 12
	default:
		canonical = 5
	}
	return scale(canonical, canonMatchingShield, maxPts)
}

// timeClusteringPoints is a decreasing function of the batch time span.
func timeClusteringPoints(spanHours float64, maxPts int) int {
	var canonical int
	switch {
	case spanHours < 6:
		canonical = 12
	case spanHours < 24:
		canonical = 10
	case spanHours < 72:
		canonical = 6
	case spanHours < 168:
		canonical = 3
	}
	return scale(canonical, canonTimeClustering, maxPts)
}

// addressAnalysisPoints increases with destination concentration. Every
// deshield landing on one address defeats the point of batching and is the
// strongest address signal.
func addressAnalysisPoints(sameAddressRatio float64, maxPts int) int {
	var canonical int
	switch {
	case sameAddressRatio >= 0.999:
		canonical = 15
	case sameAddressRatio >= 0.5:
		canonical = 10
	case sameAddressRatio >= 0.25:
		canonical = 5
	}
	return scale(canonical, canonAddressAnalysis, maxPts)
}

// scorePattern sums the capped sub-scores and clamps to [0, 100].
func scorePattern(b domain.PatternBreakdown) int {
	total := b.BatchCount + b.RoundNumber + b.MatchingShield + b.TimeClustering + b.AddressAnalysis
	if total > 100 {
		return 100
	}
	if total < 0 {
		return 0
	}
	return total
}

// scale maps a canonical ladder value onto the configured cap.
func scale(canonical, canonMax, maxPts int) int {
	if canonical <= 0 || maxPts <= 0 {
		return 0
	}
	return int(math.Round(float64(canonical) * float64(maxPts) / float64(canonMax)))
}

// defaultCaps guards zero-value configs in tests.
func capsOrDefault(c config.ScoreCaps) config.ScoreCaps {
	if c == (config.ScoreCaps{}) {
		return config.Default().Detector.Caps
	}
	return c
}
