package api

import (
	"encoding/base64"
	"encoding/json"

	"shielded-risk/internal/storage"
)

// Cursors are opaque to callers: base64 of the JSON keyset position. The
// sort mode is baked in so a cursor minted under one ordering cannot be
// replayed under another.
type cursorEnvelope struct {
	Sort   storage.PatternSort   `json:"sort"`
	Cursor storage.PatternCursor `json:"cursor"`
}

func encodeCursor(sort storage.PatternSort, c storage.PatternCursor) string {
	data, _ := json.Marshal(cursorEnvelope{Sort: sort, Cursor: c})
	return base64.RawURLEncoding.EncodeToString(data)
}

func decodeCursor(raw string, sort storage.PatternSort) (*storage.PatternCursor, error) {
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, errInvalidCursor
	}
	var env cursorEnvelope
	if err := json.Unmarshal(data, &env); err != nil || env.Sort != sort || env.Cursor.PatternHash == "" {
		return nil, errInvalidCursor
	}
	return &env.Cursor, nil
}
