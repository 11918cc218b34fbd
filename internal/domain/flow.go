package domain

// FlowType distinguishes the two directions of shielded-pool value movement.
type FlowType string

const (
	// FlowShield is a transparent-to-shielded transaction.
	FlowShield FlowType = "shield"

	// FlowDeshield is a shielded-to-transparent transaction.
	FlowDeshield FlowType = "deshield"
)

// Pool identifies the shielded pool a flow touched.
type Pool string

const (
	PoolSprout  Pool = "sprout"
	PoolSapling Pool = "sapling"
	PoolOrchard Pool = "orchard"
)

// Flow is one row of the indexer's shielded_flows table: a transparent-side
// fact about value entering or leaving the shielded pool. Flows are created
// once by the indexer and never mutated.
type Flow struct {
	Txid        string   // transaction id (hex)
	BlockHeight int64    // block containing the transaction
	BlockTime   int64    // Unix timestamp in seconds
	Pool        Pool     // sprout | sapling | orchard
	AmountZat   int64    // amount in zatoshi (1 ZEC = 1e8 zat)
	Addresses   []string // transparent addresses on the visible side
}

// ShieldEvent is a transparent-to-shielded flow.
type ShieldEvent struct {
	Flow
}

// DeshieldEvent is a shielded-to-transparent flow.
type DeshieldEvent struct {
	Flow
}

// Valid reports whether the flow carries the fields every scoring path
// requires. Rows failing this check are skipped and counted, never fatal.
func (f Flow) Valid() bool {
	return f.Txid != "" && f.BlockTime > 0 && f.AmountZat > 0
}
