package batchdetect

import "shielded-risk/internal/domain"

// Nice denominations humans pick when splitting a withdrawal: anything on a
// 0.1 ZEC or 0.25 ZEC grid. 1.0, 2.5 and 0.1 qualify; 1.23456 and 0.00001
// do not.
const (
	tenthZat   = domain.ZatPerZec / 10
	quarterZat = domain.ZatPerZec / 4
)

// IsRoundNumber reports whether the amount matches the nice-denomination
// heuristic. A round per-tx amount is a behavioral fingerprint: it survives
// shielding because humans re-use the same mental denominations on both
// sides of the pool.
func IsRoundNumber(amountZat int64) bool {
	if amountZat <= 0 {
		return false
	}
	return amountZat%tenthZat == 0 || amountZat%quarterZat == 0
}
