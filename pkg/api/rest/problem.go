// Package rest is the chi-based REST mirror of pkg/api/rpc: the same
// seven operations under /api/v1/, plus the SSE feed, stats aggregates,
// the review-queue endpoints, and the well-known discovery document.
package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
)

// Problem is an RFC 7807 problem-details body, the shape every non-2xx
// REST response takes.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// writeProblem renders err as a Problem at its AppError-derived status,
// falling back to 500 for anything else.
func writeProblem(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	status := http.StatusInternalServerError
	typ := string(apperrors.ErrorTypeInternal)
	detail := "an unexpected error occurred"

	if errors.As(err, &appErr) {
		status = appErr.StatusCode
		typ = string(appErr.Type)
		detail = appErr.Message
	}

	writeJSON(w, status, Problem{
		Type:     "https://hivemind.dev/problems/" + strings.ReplaceAll(typ, "_", "-"),
		Title:    strings.ReplaceAll(typ, "_", " "),
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
