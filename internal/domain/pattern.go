package domain

// PatternTypeBatchDeshield is the only pattern type the detector emits today.
const PatternTypeBatchDeshield = "BATCH_DESHIELD"

// ShieldMatch is a prior shield whose amount matches a cluster's total.
type ShieldMatch struct {
	Txid        string  `json:"txid"`
	BlockHeight int64   `json:"blockHeight"`
	BlockTime   int64   `json:"blockTime"`
	AmountZat   int64   `json:"amountZat"`
	DiffPct     float64 `json:"diffPct"` // |total - shield| / shield, percent
}

// PatternBreakdown holds the independently capped sub-scores that sum to the
// pattern score before clamping.
type PatternBreakdown struct {
	BatchCount      int `json:"batchCount"`
	RoundNumber     int `json:"roundNumber"`
	MatchingShield  int `json:"matchingShield"`
	TimeClustering  int `json:"timeClustering"`
	AddressAnalysis int `json:"addressAnalysis"`
}

// AddressStats summarizes destination addresses of a batch.
type AddressStats struct {
	UniqueAddresses  int     `json:"uniqueAddresses"`
	SameAddressRatio float64 `json:"sameAddressRatio"` // maxAddressFrequency / batchCount
	AllSameAddress   bool    `json:"allSameAddress"`
	TopAddress       string  `json:"topAddress,omitempty"`
}

// BatchPattern is a detected cluster of near-identical deshields.
// Invariants: BatchCount == len(Txids) == len(Heights) == len(Times);
// Score in [0, 100]; WarningLevel derived from Score by fixed thresholds.
type BatchPattern struct {
	PatternType    string           `json:"patternType"`
	PerTxAmountZat int64            `json:"perTxAmountZat"`
	BatchCount     int              `json:"batchCount"`
	TotalAmountZat int64            `json:"totalAmountZat"`
	Txids          []string         `json:"txids"`
	Heights        []int64          `json:"heights"`
	Times          []int64          `json:"times"`
	Addresses      []string         `json:"addresses"`
	MatchingShield *ShieldMatch     `json:"matchingShield,omitempty"`
	IsRoundNumber  bool             `json:"isRoundNumber"`
	Score          int              `json:"score"`
	WarningLevel   WarningLevel     `json:"warningLevel"`
	Breakdown      PatternBreakdown `json:"breakdown"`
	AddressStats   AddressStats     `json:"addressStats"`
	Explanation    string           `json:"explanation"`
	FirstTime      int64            `json:"firstTime"`
	LastTime       int64            `json:"lastTime"`
	TimeSpanHours  float64          `json:"timeSpanHours"`
}

// StoredPattern is the persisted projection of a BatchPattern, keyed by
// the content hash of its sorted txids. Re-detection of the same txid set
// updates the row in place and pushes ExpiresAt forward.
type StoredPattern struct {
	PatternHash    string
	PatternType    string
	Score          int
	WarningLevel   WarningLevel
	PerTxAmountZat int64
	TotalAmountZat int64
	BatchCount     int
	Txids          []string
	ShieldTxids    []string
	FirstTime      int64
	LastTime       int64
	TimeSpanHours  float64
	Metadata       []byte // full BatchPattern as JSON
	CreatedAt      int64
	UpdatedAt      int64
	ExpiresAt      int64
}
