package domain

import "math"

// ZatPerZec is the number of zatoshi in one ZEC.
const ZatPerZec = 100_000_000

// AmountBucketZat is the bucketing granularity for amount histograms and
// batch detection: 1e4 zat = 0.0001 ZEC, i.e. four decimal places.
const AmountBucketZat = 10_000

// ZatToZec converts zatoshi to a ZEC float. Only for scoring and API edges;
// storage and comparison always use zatoshi.
func ZatToZec(zat int64) float64 {
	return float64(zat) / ZatPerZec
}

// ZecToZat converts a ZEC float to zatoshi, rounding to the nearest unit.
func ZecToZat(zec float64) int64 {
	return int64(math.Round(zec * ZatPerZec))
}

// AmountBucket maps an amount to its histogram/detection bucket.
func AmountBucket(zat int64) int64 {
	return zat / AmountBucketZat
}
