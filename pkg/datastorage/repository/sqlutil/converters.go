// Package sqlutil holds the nil-pointer <-> sql.Null* conversion helpers
// every repository uses when reading and writing optional columns.
package sqlutil

import (
	"database/sql"
	"encoding/json"
	"time"
)

func ToNullString(s *string) sql.NullString {
	if s == nil || *s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func ToNullStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func ToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func ToNullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func FromNullString(n sql.NullString) *string {
	if !n.Valid {
		return nil
	}
	return &n.String
}

func FromNullTime(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}

func FromNullInt64(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	return &n.Int64
}

// ToNullJSON marshals v (a map, slice, or nil) into a nullable jsonb
// column value. A nil or empty map produces a SQL NULL.
func ToNullJSON(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case nil:
		return sql.NullString{}, nil
	case map[string]any:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case []string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// FromNullJSONMap unmarshals a nullable jsonb column into a map, returning
// nil for a SQL NULL.
func FromNullJSONMap(n sql.NullString) (map[string]any, error) {
	if !n.Valid {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(n.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// FromNullJSONStrings unmarshals a nullable jsonb array column into a
// string slice, returning nil for a SQL NULL.
func FromNullJSONStrings(n sql.NullString) ([]string, error) {
	if !n.Valid {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(n.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}
