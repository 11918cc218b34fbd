package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"shielded-risk/internal/config"
	"shielded-risk/internal/domain"
)

var (
	errInvalidDays   = &parseError{msg: "invalid days, must be a positive integer"}
	errInvalidLevel  = &parseError{msg: "invalid riskLevel, must be 'all', 'medium' or 'high'"}
	errInvalidSort   = &parseError{msg: "invalid sort, must be 'score' or 'recent'"}
	errInvalidLimit  = &parseError{msg: "invalid limit, must be a positive integer"}
	errInvalidOffset = &parseError{msg: "invalid offset, must be a non-negative integer"}
	errInvalidCursor = &parseError{msg: "invalid cursor"}
	errMissingTxid   = &parseError{msg: "missing txid"}
)

type parseError struct{ msg string }

func (e *parseError) Error() string { return e.msg }

// querySpec holds the parsed, clamped listing parameters shared by the
// round-trip and batch-pattern endpoints.
type querySpec struct {
	Days      int
	StartTime int64
	EndTime   int64
	MinLevel  domain.WarningLevel
	Sort      string // "score" or "recent"
	Limit     int
	Offset    int
}

// parseQuerySpec validates the listing parameters against the configured
// clamps. Out-of-range days and limit are clamped, not rejected; malformed
// values are rejected.
func parseQuerySpec(r *http.Request, cfg config.APIConfig) (querySpec, error) {
	qs := r.URL.Query()

	days := cfg.DefaultPeriodDays
	raw := qs.Get("days")
	if raw == "" {
		raw = qs.Get("period")
	}
	if raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return querySpec{}, errInvalidDays
		}
		days = n
	}
	if days > cfg.MaxPeriodDays {
		days = cfg.MaxPeriodDays
	}

	var minLevel domain.WarningLevel
	switch strings.ToLower(qs.Get("riskLevel")) {
	case "", "all", "low":
	case "medium":
		minLevel = domain.WarningMedium
	case "high":
		minLevel = domain.WarningHigh
	default:
		return querySpec{}, errInvalidLevel
	}

	sort := "score"
	switch qs.Get("sort") {
	case "", "score":
	case "recent":
		sort = "recent"
	default:
		return querySpec{}, errInvalidSort
	}

	limit := cfg.DefaultLimit
	if v := qs.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return querySpec{}, errInvalidLimit
		}
		limit = n
	}
	if limit > cfg.MaxLimit {
		limit = cfg.MaxLimit
	}

	var offset int
	if v := qs.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return querySpec{}, errInvalidOffset
		}
		offset = n
	}
	if offset > cfg.MaxOffset {
		offset = cfg.MaxOffset
	}

	endTime := time.Now().Unix()
	return querySpec{
		Days:      days,
		StartTime: endTime - int64(days)*24*3600,
		EndTime:   endTime,
		MinLevel:  minLevel,
		Sort:      sort,
		Limit:     limit,
		Offset:    offset,
	}, nil
}
