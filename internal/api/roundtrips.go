package api

import (
	"net/http"

	"shielded-risk/internal/correlate"
	"shielded-risk/internal/domain"
)

type pageInfo struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"hasMore"`
}

type roundTripStatsView struct {
	correlate.RoundTripStats
	PeriodDays int `json:"periodDays"`
}

type roundTripResponse struct {
	Data             []correlate.RoundTripEntry `json:"transactions"`
	Stats            roundTripStatsView         `json:"stats"`
	Pagination       pageInfo                   `json:"pagination"`
	AlgorithmVersion string                     `json:"algorithmVersion"`
}

// HandleRiskyRoundTrips lists deshields in the period with their strongest
// shield correlation, filtered by risk level.
func (c *Controller) HandleRiskyRoundTrips(w http.ResponseWriter, r *http.Request) {
	spec, err := parseQuerySpec(r, c.cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sort := correlate.RoundTripSortScore
	if spec.Sort == "recent" {
		sort = correlate.RoundTripSortRecent
	}

	report, err := c.correlator.RiskyRoundTrips(r.Context(), correlate.RoundTripQuery{
		StartTime: spec.StartTime,
		EndTime:   spec.EndTime,
		MinLevel:  spec.MinLevel,
		Sort:      sort,
		Offset:    spec.Offset,
		Limit:     spec.Limit,
	})
	if err != nil {
		c.handleQueryError(w, "risky-round-trips", err)
		return
	}

	entries := report.Entries
	if entries == nil {
		entries = []correlate.RoundTripEntry{}
	}

	writeJSON(w, http.StatusOK, roundTripResponse{
		Data:  entries,
		Stats: roundTripStatsView{RoundTripStats: report.Stats, PeriodDays: spec.Days},
		Pagination: pageInfo{
			Limit:   spec.Limit,
			Offset:  spec.Offset,
			HasMore: report.HasMore,
		},
		AlgorithmVersion: correlate.AlgorithmVersion,
	})
}

type linkabilityResponse struct {
	Txid                string                  `json:"txid"`
	HasShieldedActivity bool                    `json:"hasShieldedActivity"`
	FlowType            domain.FlowType         `json:"flowType,omitempty"`
	WarningLevel        domain.WarningLevel     `json:"warningLevel"`
	HighestScore        int                     `json:"highestScore"`
	Matches             []domain.CandidateMatch `json:"linkedTransactions"`
	Algorithm           correlate.Algorithm     `json:"algorithm"`
}

// HandleLinkability reports round-trip exposure for a single transaction.
// A txid with no shielded activity is a valid empty answer, not a 404.
func (c *Controller) HandleLinkability(w http.ResponseWriter, r *http.Request) {
	txid := r.URL.Query().Get("txid")
	if txid == "" {
		writeError(w, http.StatusBadRequest, errMissingTxid.Error())
		return
	}

	link, err := c.correlator.Linkability(r.Context(), txid)
	if err != nil {
		c.handleQueryError(w, "linkability", err)
		return
	}

	matches := link.Matches
	if matches == nil {
		matches = []domain.CandidateMatch{}
	}

	writeJSON(w, http.StatusOK, linkabilityResponse{
		Txid:                txid,
		HasShieldedActivity: link.HasShieldedActivity,
		FlowType:            link.FlowType,
		WarningLevel:        link.WarningLevel,
		HighestScore:        link.HighestScore,
		Matches:             matches,
		Algorithm:           c.correlator.Algorithm(),
	})
}
