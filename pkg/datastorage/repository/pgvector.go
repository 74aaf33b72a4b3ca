package repository

import (
	"fmt"
	"strconv"
	"strings"
)

// encodeVector renders a float32 embedding as a pgvector literal, e.g.
// "[0.1,0.2,0.3]". A nil or empty vector renders as an empty pgvector
// literal "[]", which pgvector accepts for a dimensionless insert only
// when the column itself is left NULL by the caller — callers with no
// embedding should skip this column entirely rather than call encodeVector.
func encodeVector(v []float32) string {
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// decodeVector parses a pgvector text literal back into a float32 slice.
func decodeVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, fmt.Errorf("decode vector component %d: %w", i, err)
		}
		out[i] = float32(v)
	}
	return out, nil
}
