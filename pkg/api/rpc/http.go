package rpc

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
)

// toolNames lists every ToolName valid as the {tool} path segment, so an
// unrecognized name is rejected before it ever reaches Dispatch.
var toolNames = map[string]ToolName{
	"add_knowledge":     ToolAddKnowledge,
	"search_knowledge":  ToolSearchKnowledge,
	"list_knowledge":    ToolListKnowledge,
	"delete_knowledge":  ToolDeleteKnowledge,
	"publish_knowledge": ToolPublishKnowledge,
	"manage_roles":      ToolManageRoles,
	"report_outcome":    ToolReportOutcome,
}

// Router builds the tool-like RPC surface: one POST route per tool name,
// each taking the tool's JSON arguments as the request body and an
// `Authorization: Bearer <opaque>` header. A failed call is still a 200
// response carrying {isError: true, text} — the spec's non-HTTP error
// envelope — since this surface is consumed by agents driving a tool-call
// protocol, not browsers expecting HTTP status semantics.
func Router(d *Dispatcher) chi.Router {
	r := chi.NewRouter()
	r.Post("/{tool}", d.ServeToolCall)
	return r
}

// ServeToolCall is the shared handler every tool route registers: it
// resolves {tool} from the path, reads the body as the tool's raw JSON
// arguments, and dispatches.
func (d *Dispatcher) ServeToolCall(w http.ResponseWriter, r *http.Request) {
	toolParam := chi.URLParam(r, "tool")
	tool, ok := toolNames[toolParam]
	if !ok {
		writeEnvelope(w, http.StatusOK, ErrorEnvelope{IsError: true, Text: "unknown tool: " + toolParam})
		return
	}

	argsJSON := json.RawMessage("{}")
	if r.Body != nil {
		defer r.Body.Close()
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			writeEnvelope(w, http.StatusOK, ErrorEnvelope{IsError: true, Text: "malformed request body"})
			return
		}
		if len(raw) > 0 {
			argsJSON = raw
		}
	}

	result, err := d.Dispatch(r.Context(), tool, r.Header.Get("Authorization"), argsJSON)
	if err != nil {
		writeEnvelope(w, http.StatusOK, ErrorEnvelope{IsError: true, Text: errorText(err)})
		return
	}
	writeEnvelope(w, http.StatusOK, result)
}

// errorText renders err as the envelope's single text field — the
// AppError's message, never its cause, so no dependency detail or PII
// ever reaches the caller.
func errorText(err error) string {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "an unexpected error occurred"
}

func writeEnvelope(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
