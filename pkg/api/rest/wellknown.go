package rest

// serverCard is the static discovery document returned from
// /.well-known/mcp/server-card.json — no dynamic schema export, just the
// fixed tool surface and protocol version an agent needs before its
// first call.
var serverCard = map[string]any{
	"protocol_version": "2025-06-18",
	"name":             "hivemind",
	"description":      "Multi-tenant knowledge commons for autonomous agents",
	"capabilities": []string{
		"add_knowledge",
		"search_knowledge",
		"list_knowledge",
		"delete_knowledge",
		"publish_knowledge",
		"manage_roles",
		"report_outcome",
	},
	"auth": map[string]any{
		"schemes": []string{"bearer_signed_token", "api_key"},
		"header":  "X-API-Key or Authorization",
	},
}
