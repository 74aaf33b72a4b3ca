// Package dedup implements the three-stage near-duplicate pipeline:
// cosine candidate retrieval, MinHash lexical confirmation, and an
// optional LLM semantic confirmation. Each stage is a filter — the
// pipeline returns ADD as soon as a stage's evidence is insufficient,
// and every stage degrades to ADD on failure rather than blocking the
// contribution.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/hivemind-ai/hivemind/pkg/llm"
	"github.com/hivemind-ai/hivemind/pkg/shared/logging"
)

const maxLLMCandidatesDefault = 3

// Candidate is a near-duplicate candidate surfaced by the cosine stage.
type Candidate struct {
	ID          string
	Content     string
	ContentHash string
	Distance    float64
	Category    string
	Version     int
}

// CosineFinder retrieves the top-K most similar active items to content,
// scoped to tenantID, ordered by ascending cosine distance and already
// filtered to distance < the configured maximum.
type CosineFinder interface {
	FindCandidates(ctx context.Context, content, tenantID string, topK int) ([]Candidate, error)
}

// MinhashQuerier narrows a candidate set by lexical (Jaccard) similarity.
// *minhash.Index satisfies this directly.
type MinhashQuerier interface {
	Query(content string) []string
}

// Action is the pipeline's final verdict.
type Action string

const (
	ActionAdd       Action = "ADD"
	ActionDuplicate Action = "DUPLICATE"
)

// Result is the outcome of Run.
type Result struct {
	Action      Action
	DuplicateOf string
	Confidence  float64
	Reason      string
	Duplicates  []Candidate
	StagesRun   []string
}

// Options configures a pipeline run.
type Options struct {
	TopK             int
	MaxLLMCandidates int
	Logger           *zap.Logger
}

// Run executes the pipeline for content within tenantID. classifier may be
// nil, in which case the LLM stage is skipped and the pipeline returns ADD
// with whatever cosine+MinHash intersection it found.
func Run(ctx context.Context, cosineFinder CosineFinder, minhashIdx MinhashQuerier, classifier llm.Classifier, content, tenantID string, opts Options) Result {
	topK := opts.TopK
	if topK <= 0 {
		topK = 10
	}
	maxLLM := opts.MaxLLMCandidates
	if maxLLM <= 0 {
		maxLLM = maxLLMCandidatesDefault
	}

	stagesRun := []string{"cosine"}

	cosineCandidates, err := cosineFinder.FindCandidates(ctx, content, tenantID, topK)
	if err != nil {
		logWarn(opts.Logger, "dedup cosine stage failed, degrading to ADD", err)
		return Result{Action: ActionAdd, StagesRun: stagesRun}
	}
	if len(cosineCandidates) == 0 {
		return Result{Action: ActionAdd, StagesRun: stagesRun}
	}

	stagesRun = append(stagesRun, "minhash")
	minhashIDs := map[string]bool{}
	if minhashIdx != nil {
		for _, id := range minhashIdx.Query(content) {
			minhashIDs[id] = true
		}
	}

	var intersection []Candidate
	for _, c := range cosineCandidates {
		if minhashIDs[c.ID] {
			intersection = append(intersection, c)
		}
	}
	if len(intersection) == 0 {
		return Result{Action: ActionAdd, Duplicates: cosineCandidates, StagesRun: stagesRun}
	}

	stagesRun = append(stagesRun, "llm")

	if classifier == nil {
		return Result{Action: ActionAdd, Duplicates: intersection, StagesRun: stagesRun}
	}

	llmCandidates := intersection
	if len(llmCandidates) > maxLLM {
		llmCandidates = llmCandidates[:maxLLM]
	}

	var (
		bestID         string
		bestConfidence float64
		bestReason     string
		confirmed      bool
	)
	for _, candidate := range llmCandidates {
		result := confirmDuplicate(ctx, classifier, content, candidate.Content, opts.Logger)
		if result.isDuplicate && result.confidence > bestConfidence {
			bestConfidence = result.confidence
			bestID = candidate.ID
			bestReason = result.reason
			confirmed = true
		}
	}

	if confirmed {
		return Result{
			Action:      ActionDuplicate,
			DuplicateOf: bestID,
			Confidence:  bestConfidence,
			Reason:      bestReason,
			Duplicates:  intersection,
			StagesRun:   stagesRun,
		}
	}

	return Result{Action: ActionAdd, Confidence: bestConfidence, Duplicates: intersection, StagesRun: stagesRun}
}

const dedupSystemPrompt = `You are a deduplication assistant. Compare these two knowledge items and determine if they are semantically duplicate (same information, possibly different wording). Respond with JSON only, no explanation outside the JSON:

{"is_duplicate": bool, "confidence": float, "reason": string}`

var codeFenceRE = regexp.MustCompile("(?m)^```(?:json)?\\s*|\\s*```$")

type llmConfirmation struct {
	isDuplicate bool
	confidence  float64
	reason      string
}

func confirmDuplicate(ctx context.Context, classifier llm.Classifier, contentA, contentB string, logger *zap.Logger) llmConfirmation {
	userPrompt := fmt.Sprintf("ITEM A:\n%s\n\nITEM B:\n%s", contentA, contentB)

	raw, err := classifier.Classify(ctx, dedupSystemPrompt, userPrompt)
	if err != nil {
		logWarn(logger, "dedup LLM stage call failed, skipping", err)
		return llmConfirmation{reason: fmt.Sprintf("LLM stage skipped: %v", err)}
	}

	cleaned := codeFenceRE.ReplaceAllString(strings.TrimSpace(raw), "")
	var body struct {
		IsDuplicate bool    `json:"is_duplicate"`
		Confidence  float64 `json:"confidence"`
		Reason      string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(cleaned), &body); err != nil {
		logWarn(logger, "dedup LLM stage response unparseable, skipping", err)
		return llmConfirmation{reason: fmt.Sprintf("response parse failed: %v", err)}
	}

	return llmConfirmation{isDuplicate: body.IsDuplicate, confidence: body.Confidence, reason: body.Reason}
}

func logWarn(logger *zap.Logger, msg string, err error) {
	if logger == nil {
		return
	}
	logger.Warn(msg, logging.NewFields().Component("dedup").Error(err).Zap()...)
}
