// Package kernel routes AI work to a cost/latency tier and enforces each
// org's spending budget. Budget pressure only ever downgrades the tier, it
// never blocks a call.
package kernel

import (
	"context"
	"encoding/json"
	"regexp"
	"time"

	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/ai"
	"github.com/paddockhq/governance/internal/cache"
	"github.com/paddockhq/governance/internal/config"
	"github.com/paddockhq/governance/internal/models"
)

type Complexity string

const (
	Trivial  Complexity = "trivial"
	Simple   Complexity = "simple"
	Moderate Complexity = "moderate"
	Complex  Complexity = "complex"
	Expert   Complexity = "expert"
)

type Latency string

const (
	Realtime    Latency = "realtime"
	Interactive Latency = "interactive"
	Batch       Latency = "batch"
)

type TierName string

const (
	TierFast     TierName = "fast"
	TierBalanced TierName = "balanced"
	TierPowerful TierName = "powerful"
)

const embeddingModel = "text-embedding-3-small"

type Options struct {
	Complexity  Complexity // optional hint; classified from the payload when empty
	Latency     Latency
	Tools       []ai.ToolSpec
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Text      string   `json:"text"`
	Tier      TierName `json:"tier"`
	Model     string   `json:"model"`
	CostCents int      `json:"cost_cents"`
	LatencyMs int      `json:"latency_ms"`
	Cached    bool     `json:"cached"`
}

// Vendor is the AI backend; *ai.Client implements it.
type Vendor interface {
	Chat(ctx context.Context, model string, messages []ai.Message, opts ai.ChatOptions) (*ai.ChatResult, error)
	Embed(ctx context.Context, model string, inputs []string) ([][]float64, error)
}

// LedgerStore reads budget policy and accumulates spend.
type LedgerStore interface {
	BudgetPolicy(ctx context.Context, orgID string) (*models.BudgetPolicy, error)
	SpentTodayCents(ctx context.Context, orgID string) (int, error)
	AppendLedger(ctx context.Context, entry *models.LedgerEntry) error
}

type Kernel struct {
	cfg    *config.Config
	vendor Vendor
	ledger LedgerStore
	cache  *cache.SemanticCache // optional
	log    zerolog.Logger
}

func New(cfg *config.Config, vendor Vendor, ledger LedgerStore, respCache *cache.SemanticCache, log zerolog.Logger) *Kernel {
	return &Kernel{
		cfg:    cfg,
		vendor: vendor,
		ledger: ledger,
		cache:  respCache,
		log:    log.With().Str("component", "kernel").Logger(),
	}
}

var multiStepRe = regexp.MustCompile(`(?i)step|plan|analyze|compare|evaluate|summarize`)

// Classify estimates task complexity from the last message and tool use.
func Classify(messages []ai.Message, tools []ai.ToolSpec) Complexity {
	var last string
	if len(messages) > 0 {
		last = messages[len(messages)-1].Content
	}

	hasMultiStep := multiStepRe.MatchString(last)
	hasTools := len(tools) > 0
	isLongForm := len(last) > 500

	switch {
	case isLongForm && hasMultiStep && hasTools:
		return Expert
	case hasMultiStep && hasTools:
		return Complex
	case hasTools || hasMultiStep:
		return Moderate
	case len(last) > 200:
		return Simple
	default:
		return Trivial
	}
}

// SelectTier maps complexity and latency requirements to a tier. Realtime
// work always takes the fast tier.
func SelectTier(complexity Complexity, latency Latency) TierName {
	if latency == Realtime {
		return TierFast
	}

	switch complexity {
	case Expert, Complex:
		return TierPowerful
	case Moderate, Simple:
		return TierBalanced
	default:
		return TierFast
	}
}

// applyBudget downgrades the tier under budget pressure. The checks are
// ordered so the critical mark only ever further restricts what the low mark
// chose. A failed budget read keeps the requested tier: budget must never
// turn into an outage.
func (k *Kernel) applyBudget(ctx context.Context, orgID string, tier TierName) TierName {
	remaining, err := k.remainingBudget(ctx, orgID)
	if err != nil {
		k.log.Warn().Err(err).Str("org_id", orgID).Msg("budget read failed, keeping requested tier")
		return tier
	}

	if remaining < k.cfg.BudgetLowWaterCents && tier != TierFast {
		k.log.Warn().Int("remaining_cents", remaining).Str("requested", string(tier)).
			Str("org_id", orgID).Msg("budget low, downgrading to fast tier")
		tier = TierFast
	}
	if remaining < k.cfg.BudgetCriticalCents && tier == TierPowerful {
		k.log.Warn().Int("remaining_cents", remaining).
			Str("org_id", orgID).Msg("budget critical, capping at balanced tier")
		tier = TierBalanced
	}

	return tier
}

func (k *Kernel) remainingBudget(ctx context.Context, orgID string) (int, error) {
	limit := k.cfg.DefaultDailyBudgetCents
	policy, err := k.ledger.BudgetPolicy(ctx, orgID)
	if err != nil {
		return 0, err
	}
	if policy != nil {
		limit = policy.DailyLimitCents
	}

	spent, err := k.ledger.SpentTodayCents(ctx, orgID)
	if err != nil {
		return 0, err
	}

	remaining := limit - spent
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

func (k *Kernel) tierConfig(tier TierName) config.TierConfig {
	switch tier {
	case TierPowerful:
		return k.cfg.PowerfulTier
	case TierBalanced:
		return k.cfg.BalancedTier
	default:
		return k.cfg.FastTier
	}
}

// Chat routes one unit of AI work: classify, select tier, apply budget, then
// dispatch to the tier's model. Vendor errors propagate; the spend ledger is
// written off the critical path and logged if it fails.
func (k *Kernel) Chat(ctx context.Context, tctx *models.TenantContext, messages []ai.Message, opts Options) (*Response, error) {
	complexity := opts.Complexity
	if complexity == "" {
		complexity = Classify(messages, opts.Tools)
	}
	latency := opts.Latency
	if latency == "" {
		latency = Interactive
	}

	tier := SelectTier(complexity, latency)
	tier = k.applyBudget(ctx, tctx.OrgID, tier)
	tc := k.tierConfig(tier)

	log := k.log.With().Str("request_id", tctx.RequestID).Str("org_id", tctx.OrgID).Logger()
	log.Info().
		Str("complexity", string(complexity)).
		Str("latency", string(latency)).
		Str("tier", string(tier)).
		Str("model", tc.Model).
		Int("tools", len(opts.Tools)).
		Msg("routing ai work")

	var prompt string
	if len(messages) > 0 {
		prompt = messages[len(messages)-1].Content
	}

	// Tool-free prompts can be served from the response cache.
	if k.cache != nil && len(opts.Tools) == 0 && prompt != "" {
		if text, hit := k.cache.Get(ctx, tctx.OrgID, prompt); hit {
			log.Info().Msg("response cache hit")
			return &Response{Text: text, Tier: tier, Model: tc.Model, Cached: true}, nil
		}
	}

	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = tc.MaxTokens
	}

	start := time.Now()
	result, err := k.vendor.Chat(ctx, tc.Model, messages, ai.ChatOptions{
		Temperature: opts.Temperature,
		MaxTokens:   maxTokens,
		Tools:       opts.Tools,
	})
	model := tc.Model
	if err != nil && tc.FallbackModel != "" {
		log.Warn().Err(err).Str("fallback", tc.FallbackModel).Msg("primary model failed, trying fallback")
		result, err = k.vendor.Chat(ctx, tc.FallbackModel, messages, ai.ChatOptions{
			Temperature: opts.Temperature,
			MaxTokens:   maxTokens,
			Tools:       opts.Tools,
		})
		model = tc.FallbackModel
	}
	if err != nil {
		return nil, err
	}

	latencyMs := int(time.Since(start).Milliseconds())
	costCents := estimateCostCents(result, tc)

	k.appendLedgerAsync(tctx, "ai.chat", model, costCents, latencyMs, map[string]any{
		"complexity": complexity,
		"tier":       tier,
		"tools":      len(opts.Tools),
	})

	if k.cache != nil && len(opts.Tools) == 0 && prompt != "" && result.Text != "" {
		if err := k.cache.Put(ctx, tctx.OrgID, prompt, result.Text); err != nil {
			log.Warn().Err(err).Msg("response cache write failed")
		}
	}

	log.Info().Str("tier", string(tier)).Int("latency_ms", latencyMs).Int("cost_cents", costCents).Msg("ai work completed")

	return &Response{
		Text:      result.Text,
		Tier:      tier,
		Model:     model,
		CostCents: costCents,
		LatencyMs: latencyMs,
	}, nil
}

// Embed generates embeddings and charges a flat cent to the ledger.
func (k *Kernel) Embed(ctx context.Context, tctx *models.TenantContext, texts []string) ([][]float64, error) {
	start := time.Now()
	vectors, err := k.vendor.Embed(ctx, embeddingModel, texts)
	if err != nil {
		return nil, err
	}

	k.appendLedgerAsync(tctx, "ai.embed", embeddingModel, 1, int(time.Since(start).Milliseconds()), map[string]any{
		"text_count": len(texts),
	})
	return vectors, nil
}

func estimateCostCents(result *ai.ChatResult, tc config.TierConfig) int {
	tokens := result.CompletionTokens
	if tokens == 0 {
		tokens = (len(result.Text) + 3) / 4
	}

	cost := float64(tokens) / 1000 * tc.CostPer1KCents
	cents := int(cost)
	if cost > float64(cents) {
		cents++
	}
	return cents
}

// appendLedgerAsync records spend without blocking the caller. Failures are
// logged, never silently dropped.
func (k *Kernel) appendLedgerAsync(tctx *models.TenantContext, action, model string, costCents, latencyMs int, metadata map[string]any) {
	meta, _ := json.Marshal(metadata)
	entry := &models.LedgerEntry{
		OrgID:     tctx.OrgID,
		UserID:    tctx.UserID,
		RequestID: tctx.RequestID,
		Action:    action,
		Model:     model,
		CostCents: costCents,
		LatencyMs: latencyMs,
		Metadata:  meta,
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := k.ledger.AppendLedger(ctx, entry); err != nil {
			k.log.Error().Err(err).Str("request_id", entry.RequestID).Msg("spend ledger write failed")
		}
	}()
}
