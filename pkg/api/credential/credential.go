// Package credential resolves the caller identity and billing tier behind
// either form of bearer credential the commons accepts: a signed token
// carrying {tenant_id, agent_id} directly, or an opaque hm_-prefixed API
// key matched by hash against the ApiKey table. Request arguments never
// supply tenant or agent identity — only the credential does.
package credential

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/hivemind-ai/hivemind/internal/errors"
	"github.com/hivemind-ai/hivemind/pkg/datastorage/models"
)

// APIKeyPrefix marks an opaque, database-backed credential rather than a
// signed token.
const APIKeyPrefix = "hm_"

// Identity is the resolved caller, trusted from here on by every
// downstream operation.
type Identity struct {
	TenantID string
	AgentID  string
	Tier     models.Tier
	APIKey   *models.ApiKey // nil when resolved from a signed token
}

// ApiKeyStore is the subset of ApiKeyRepository credential resolution
// needs.
type ApiKeyStore interface {
	FindByRawKey(ctx context.Context, rawKey string) (*models.ApiKey, error)
	RecordUsage(ctx context.Context, k *models.ApiKey, now time.Time) error
}

type tokenPayload struct {
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
}

// Sign produces a signed token of the form
// "<base64url(payload)>.<hex(hmac)>" carrying tenantID/agentID. Used by
// tooling that mints tokens for trusted internal callers.
func Sign(secret []byte, tenantID, agentID string) (string, error) {
	payload, err := json.Marshal(tokenPayload{TenantID: tenantID, AgentID: agentID})
	if err != nil {
		return "", err
	}
	encoded := base64.RawURLEncoding.EncodeToString(payload)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	return encoded + "." + hex.EncodeToString(mac.Sum(nil)), nil
}

// Resolve extracts the bearer credential from header (the raw value of an
// Authorization or X-API-Key header, with or without a "Bearer " prefix),
// and resolves it to an Identity. API keys are looked up and their usage
// recorded; signed tokens are verified against secret and never touch the
// database.
func Resolve(ctx context.Context, header string, apiKeys ApiKeyStore, secret []byte) (Identity, error) {
	raw := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if raw == "" {
		return Identity{}, apperrors.NewAuthError("missing credential")
	}

	if strings.HasPrefix(raw, APIKeyPrefix) {
		return resolveAPIKey(ctx, raw, apiKeys)
	}
	return resolveSignedToken(raw, secret)
}

func resolveAPIKey(ctx context.Context, raw string, store ApiKeyStore) (Identity, error) {
	if store == nil {
		return Identity{}, apperrors.NewAuthError("api key credentials are not accepted on this endpoint")
	}
	k, err := store.FindByRawKey(ctx, raw)
	if err != nil {
		return Identity{}, err
	}
	now := time.Now()
	if err := store.RecordUsage(ctx, k, now); err != nil {
		return Identity{}, apperrors.Wrap(err, apperrors.ErrorTypeDependency, "record api key usage")
	}
	return Identity{TenantID: k.TenantID, AgentID: k.AgentID, Tier: k.Tier, APIKey: k}, nil
}

func resolveSignedToken(raw string, secret []byte) (Identity, error) {
	parts := strings.SplitN(raw, ".", 2)
	if len(parts) != 2 {
		return Identity{}, apperrors.NewAuthError("malformed signed token")
	}
	encoded, sig := parts[0], parts[1]

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(encoded))
	want := mac.Sum(nil)
	got, err := hex.DecodeString(sig)
	if err != nil || !hmac.Equal(got, want) {
		return Identity{}, apperrors.NewAuthError("signed token failed verification")
	}

	decoded, err := decodeBase64(encoded)
	if err != nil {
		return Identity{}, apperrors.NewAuthError("malformed signed token payload")
	}
	var payload tokenPayload
	if err := json.Unmarshal([]byte(decoded), &payload); err != nil {
		return Identity{}, apperrors.NewAuthError("malformed signed token payload")
	}
	if payload.TenantID == "" || payload.AgentID == "" {
		return Identity{}, apperrors.NewAuthError("signed token missing tenant or agent id")
	}
	return Identity{TenantID: payload.TenantID, AgentID: payload.AgentID, Tier: models.TierEnterprise}, nil
}

func decodeBase64(s string) (string, error) {
	b, err := base64.RawURLEncoding.DecodeString(s)
	return string(b), err
}
