package api

import (
	"encoding/json"
	"net/http"

	"shielded-risk/internal/domain"
	"shielded-risk/internal/storage"
)

type storedPatternView struct {
	PatternHash    string              `json:"patternHash"`
	PatternType    string              `json:"patternType"`
	Score          int                 `json:"score"`
	WarningLevel   domain.WarningLevel `json:"warningLevel"`
	PerTxAmountZat int64               `json:"perTxAmountZat"`
	TotalAmountZat int64               `json:"totalAmountZat"`
	BatchCount     int                 `json:"batchCount"`
	Txids          []string            `json:"txids"`
	ShieldTxids    []string            `json:"shieldTxids,omitempty"`
	FirstTime      int64               `json:"firstTime"`
	LastTime       int64               `json:"lastTime"`
	TimeSpanHours  float64             `json:"timeSpanHours"`
	Pattern        json.RawMessage     `json:"pattern"` // full detection record
	UpdatedAt      int64               `json:"updatedAt"`
}

type patternStatsView struct {
	Total           int     `json:"total"`
	HighRisk        int     `json:"highRisk"`
	MediumRisk      int     `json:"mediumRisk"`
	TotalZecFlagged float64 `json:"totalZecFlagged"`
	FilteredTotal   int     `json:"filteredTotal"`
}

type cursorPageInfo struct {
	Limit      int     `json:"limit"`
	HasMore    bool    `json:"hasMore"`
	NextCursor *string `json:"nextCursor,omitempty"`
}

type batchPatternsResponse struct {
	Data          []storedPatternView `json:"patterns"`
	Stats         patternStatsView    `json:"stats"`
	FilteredTotal int                 `json:"filteredTotal"`
	Pagination    cursorPageInfo      `json:"pagination"`
}

// HandleBatchPatterns lists stored batch deshield patterns with cursor
// pagination. Each sort mode mints its own cursor shape.
func (c *Controller) HandleBatchPatterns(w http.ResponseWriter, r *http.Request) {
	spec, err := parseQuerySpec(r, c.cfg)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	sort := storage.SortScore
	if spec.Sort == "recent" {
		sort = storage.SortRecent
	}

	var cursor *storage.PatternCursor
	if raw := r.URL.Query().Get("cursor"); raw != "" {
		cursor, err = decodeCursor(raw, sort)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	q := storage.PatternQuery{
		StartTime: spec.StartTime,
		EndTime:   spec.EndTime,
		MinLevel:  spec.MinLevel,
		Sort:      sort,
		Cursor:    cursor,
		Limit:     spec.Limit,
	}

	patterns, hasMore, err := c.store.Query(r.Context(), q)
	if err != nil {
		c.handleQueryError(w, "batch-patterns", err)
		return
	}

	filteredTotal, err := c.store.Count(r.Context(), q)
	if err != nil {
		c.handleQueryError(w, "batch-patterns", err)
		return
	}

	stats, err := c.store.Stats(r.Context(), spec.StartTime, spec.EndTime)
	if err != nil {
		c.handleQueryError(w, "batch-patterns", err)
		return
	}

	views := make([]storedPatternView, 0, len(patterns))
	for _, p := range patterns {
		views = append(views, storedPatternView{
			PatternHash:    p.PatternHash,
			PatternType:    p.PatternType,
			Score:          p.Score,
			WarningLevel:   p.WarningLevel,
			PerTxAmountZat: p.PerTxAmountZat,
			TotalAmountZat: p.TotalAmountZat,
			BatchCount:     p.BatchCount,
			Txids:          p.Txids,
			ShieldTxids:    p.ShieldTxids,
			FirstTime:      p.FirstTime,
			LastTime:       p.LastTime,
			TimeSpanHours:  p.TimeSpanHours,
			Pattern:        json.RawMessage(p.Metadata),
			UpdatedAt:      p.UpdatedAt,
		})
	}

	var nextCursor *string
	if hasMore && len(patterns) > 0 {
		last := patterns[len(patterns)-1]
		encoded := encodeCursor(sort, storage.PatternCursor{
			Score:          last.Score,
			TotalAmountZat: last.TotalAmountZat,
			FirstTime:      last.FirstTime,
			PatternHash:    last.PatternHash,
		})
		nextCursor = &encoded
	}

	writeJSON(w, http.StatusOK, batchPatternsResponse{
		Data: views,
		Stats: patternStatsView{
			Total:           stats.Total,
			HighRisk:        stats.HighRisk,
			MediumRisk:      stats.MediumRisk,
			TotalZecFlagged: domain.ZatToZec(stats.TotalZatFlagged),
			FilteredTotal:   filteredTotal,
		},
		FilteredTotal: filteredTotal,
		Pagination: cursorPageInfo{
			Limit:      spec.Limit,
			HasMore:    hasMore,
			NextCursor: nextCursor,
		},
	})
}
