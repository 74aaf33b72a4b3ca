// Package conflict implements LLM-assisted conflict resolution: when the
// dedup pipeline surfaces a near-duplicate, Resolve classifies the
// relationship between the new content and the existing item, and Apply
// executes the resulting database action.
package conflict

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/hivemind-ai/hivemind/pkg/llm"
)

// Action is one of the four resolver outcomes, plus the review-escalation
// outcome reserved for multi-hop conflicts.
type Action string

const (
	ActionUpdate            Action = "UPDATE"
	ActionAdd               Action = "ADD"
	ActionNoop              Action = "NOOP"
	ActionVersionFork       Action = "VERSION_FORK"
	ActionFlaggedForReview  Action = "FLAGGED_FOR_REVIEW"
)

var validActions = map[Action]bool{
	ActionUpdate:      true,
	ActionAdd:         true,
	ActionNoop:        true,
	ActionVersionFork: true,
}

const systemPrompt = `You are a knowledge conflict resolver. Compare NEW knowledge with EXISTING knowledge and determine the appropriate action. Respond with JSON only, no explanation outside the JSON:

{"action": "UPDATE" | "ADD" | "NOOP" | "VERSION_FORK", "reason": string, "is_direct_conflict": bool}

Rules:
- UPDATE: New knowledge supersedes existing (newer version, corrected info, better explanation)
- ADD: New knowledge is distinct enough to coexist (different angle, complementary perspective)
- NOOP: New knowledge adds nothing beyond existing (exact or near-exact semantic duplicate)
- VERSION_FORK: Both are valid but for different versions/contexts (e.g. Python 3.11 vs 3.12 behavior)
- Only resolve DIRECT single-hop conflicts. If the conflict involves multi-hop reasoning across multiple items, set is_direct_conflict=false.`

var codeFenceRE = regexp.MustCompile("(?m)^```(?:json)?\\s*|\\s*```$")

// Existing is the minimal view of the candidate conflicting item the
// resolver needs.
type Existing struct {
	ID      string
	Content string
}

// Resolution is the outcome of Resolve.
type Resolution struct {
	Action           Action
	Reason           string
	IsDirectConflict bool
	ExistingItemID   string
}

// Resolve classifies the relationship between newContent and existing. If
// classifier is nil, or the LLM call fails or times out, it defaults to
// ADD — conflict resolution degrades non-blocking, same as every other
// best-effort stage in the ingestion pipeline.
func Resolve(ctx context.Context, classifier llm.Classifier, newContent string, existing Existing) Resolution {
	if classifier == nil {
		return Resolution{Action: ActionAdd, Reason: "no LLM classifier configured — defaulting to ADD", IsDirectConflict: true, ExistingItemID: existing.ID}
	}

	userPrompt := fmt.Sprintf("NEW KNOWLEDGE:\n%s\n\nEXISTING KNOWLEDGE:\n%s", newContent, existing.Content)

	raw, err := classifier.Classify(ctx, systemPrompt, userPrompt)
	if err != nil {
		return Resolution{Action: ActionAdd, Reason: fmt.Sprintf("LLM call failed: %v — defaulting to ADD", err), IsDirectConflict: true, ExistingItemID: existing.ID}
	}

	parsed := parseResponse(raw)
	if !parsed.isDirectConflict {
		return Resolution{Action: ActionFlaggedForReview, Reason: parsed.reason, IsDirectConflict: false, ExistingItemID: existing.ID}
	}

	return Resolution{Action: parsed.action, Reason: parsed.reason, IsDirectConflict: true, ExistingItemID: existing.ID}
}

type parsedResponse struct {
	action           Action
	reason           string
	isDirectConflict bool
}

func parseResponse(raw string) parsedResponse {
	cleaned := codeFenceRE.ReplaceAllString(strings.TrimSpace(raw), "")

	var body struct {
		Action           string `json:"action"`
		Reason           string `json:"reason"`
		IsDirectConflict *bool  `json:"is_direct_conflict"`
	}
	if err := json.Unmarshal([]byte(cleaned), &body); err != nil {
		return parsedResponse{action: ActionAdd, reason: fmt.Sprintf("parse error — defaulting to ADD: %v", err), isDirectConflict: true}
	}

	action := Action(strings.ToUpper(body.Action))
	if !validActions[action] {
		action = ActionAdd
	}

	isDirect := true
	if body.IsDirectConflict != nil {
		isDirect = *body.IsDirectConflict
	}

	return parsedResponse{action: action, reason: body.Reason, isDirectConflict: isDirect}
}

// Store is the minimal repository contract Apply needs to carry out an
// UPDATE or VERSION_FORK outcome.
type Store interface {
	ExpireItem(ctx context.Context, tenantID, itemID string, at time.Time) error
	InvalidateItem(ctx context.Context, tenantID, itemID string, at time.Time) error
}

// Applied describes the database action actually taken for a Resolution.
type Applied struct {
	Action     Action
	SiblingID  string
	ValidAt    time.Time
	Reason     string
}

// Apply executes the database side effect for a Resolution:
//   - UPDATE expires the existing item's system-time validity.
//   - VERSION_FORK invalidates the existing item's world-time validity;
//     the caller is responsible for inserting the new item with
//     valid_at = the returned ValidAt.
//   - NOOP, ADD, and FLAGGED_FOR_REVIEW make no database change.
func Apply(ctx context.Context, store Store, tenantID string, resolution Resolution) (Applied, error) {
	now := time.Now()

	switch resolution.Action {
	case ActionUpdate:
		if err := store.ExpireItem(ctx, tenantID, resolution.ExistingItemID, now); err != nil {
			return Applied{}, fmt.Errorf("conflict: apply UPDATE: %w", err)
		}
		return Applied{Action: ActionUpdate, SiblingID: resolution.ExistingItemID}, nil

	case ActionVersionFork:
		if err := store.InvalidateItem(ctx, tenantID, resolution.ExistingItemID, now); err != nil {
			return Applied{}, fmt.Errorf("conflict: apply VERSION_FORK: %w", err)
		}
		return Applied{Action: ActionVersionFork, SiblingID: resolution.ExistingItemID, ValidAt: now}, nil

	case ActionNoop:
		return Applied{Action: ActionNoop, Reason: resolution.Reason}, nil

	default:
		return Applied{Action: resolution.Action}, nil
	}
}
