package domain

// MatchBreakdown exposes the three correlation factors before weighting.
// Each factor is in [0, 100].
type MatchBreakdown struct {
	AmountSimilarity float64 `json:"amountSimilarity"`
	TimeProximity    float64 `json:"timeProximity"`
	AmountRarity     float64 `json:"amountRarity"`
}

// CandidateMatch is one scored opposite-flow candidate for an anchor
// transaction. Matches are computed fresh per query and never persisted.
type CandidateMatch struct {
	AnchorTxid      string         `json:"anchorTxid"`
	CandidateTxid   string         `json:"candidateTxid"`
	CandidateHeight int64          `json:"candidateHeight"`
	CandidateTime   int64          `json:"candidateTime"`
	AmountZat       int64          `json:"amountZat"`
	TimeDelta       int64          `json:"timeDelta"` // |anchor - candidate|, seconds
	Score           int            `json:"score"`     // [0, 100]
	Breakdown       MatchBreakdown `json:"scoreBreakdown"`
	WarningLevel    WarningLevel   `json:"warningLevel"`
}
