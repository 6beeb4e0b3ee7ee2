package kernel

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paddockhq/governance/internal/ai"
	"github.com/paddockhq/governance/internal/config"
	"github.com/paddockhq/governance/internal/models"
)

type fakeVendor struct {
	mu       sync.Mutex
	calls    []string
	failFor  map[string]error
	response string
	tokens   int
}

func (v *fakeVendor) Chat(ctx context.Context, model string, messages []ai.Message, opts ai.ChatOptions) (*ai.ChatResult, error) {
	v.mu.Lock()
	v.calls = append(v.calls, model)
	v.mu.Unlock()

	if err, ok := v.failFor[model]; ok {
		return nil, err
	}
	return &ai.ChatResult{Text: v.response, CompletionTokens: v.tokens}, nil
}

func (v *fakeVendor) Embed(ctx context.Context, model string, inputs []string) ([][]float64, error) {
	v.mu.Lock()
	v.calls = append(v.calls, model)
	v.mu.Unlock()
	vectors := make([][]float64, len(inputs))
	for i := range vectors {
		vectors[i] = []float64{0.1, 0.2}
	}
	return vectors, nil
}

func (v *fakeVendor) models() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.calls...)
}

type fakeLedger struct {
	limit   int
	spent   int
	readErr error

	mu      sync.Mutex
	entries []*models.LedgerEntry
	written chan struct{}
}

func newFakeLedger(limit, spent int) *fakeLedger {
	return &fakeLedger{limit: limit, spent: spent, written: make(chan struct{}, 16)}
}

func (l *fakeLedger) BudgetPolicy(ctx context.Context, orgID string) (*models.BudgetPolicy, error) {
	if l.readErr != nil {
		return nil, l.readErr
	}
	if l.limit == 0 {
		return nil, nil
	}
	return &models.BudgetPolicy{OrgID: orgID, DailyLimitCents: l.limit}, nil
}

func (l *fakeLedger) SpentTodayCents(ctx context.Context, orgID string) (int, error) {
	if l.readErr != nil {
		return 0, l.readErr
	}
	return l.spent, nil
}

func (l *fakeLedger) AppendLedger(ctx context.Context, entry *models.LedgerEntry) error {
	l.mu.Lock()
	l.entries = append(l.entries, entry)
	l.mu.Unlock()
	l.written <- struct{}{}
	return nil
}

func (l *fakeLedger) lastEntry(t *testing.T) *models.LedgerEntry {
	t.Helper()
	select {
	case <-l.written:
	case <-time.After(2 * time.Second):
		t.Fatal("ledger entry was never written")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries[len(l.entries)-1]
}

func testConfig() *config.Config {
	return &config.Config{
		FastTier:     config.TierConfig{Model: "fast-model", FallbackModel: "fast-fallback", CostPer1KCents: 0.01, MaxTokens: 4000},
		BalancedTier: config.TierConfig{Model: "balanced-model", FallbackModel: "balanced-fallback", CostPer1KCents: 0.05, MaxTokens: 8000},
		PowerfulTier: config.TierConfig{Model: "powerful-model", FallbackModel: "powerful-fallback", CostPer1KCents: 0.20, MaxTokens: 32000},

		DefaultDailyBudgetCents: 1000,
		BudgetLowWaterCents:     50,
		BudgetCriticalCents:     20,
	}
}

func testTenant() *models.TenantContext {
	return &models.TenantContext{UserID: "user-1", OrgID: "org-1", RequestID: "req-1", Flags: map[string]bool{}}
}

func newKernel(vendor *fakeVendor, ledger *fakeLedger) *Kernel {
	return New(testConfig(), vendor, ledger, nil, zerolog.Nop())
}

func TestClassify(t *testing.T) {
	tools := []ai.ToolSpec{{Name: "search"}}
	long := strings.Repeat("analyze the data step by step ", 20)

	tests := []struct {
		name    string
		content string
		tools   []ai.ToolSpec
		want    Complexity
	}{
		{"short chat", "hello", nil, Trivial},
		{"medium prose", strings.Repeat("x", 250), nil, Simple},
		{"multi-step verb", "please compare these options", nil, Moderate},
		{"tools only", "hello", tools, Moderate},
		{"tools plus planning", "plan the migration", tools, Complex},
		{"long form with tools and planning", long, tools, Expert},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify([]ai.Message{{Role: "user", Content: tt.content}}, tt.tools)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectTier(t *testing.T) {
	assert.Equal(t, TierFast, SelectTier(Expert, Realtime), "realtime always takes the fast tier")
	assert.Equal(t, TierPowerful, SelectTier(Expert, Batch))
	assert.Equal(t, TierPowerful, SelectTier(Complex, Interactive))
	assert.Equal(t, TierBalanced, SelectTier(Moderate, Interactive))
	assert.Equal(t, TierBalanced, SelectTier(Simple, Batch))
	assert.Equal(t, TierFast, SelectTier(Trivial, Interactive))
}

func TestChatRoutesTrivialToFastTier(t *testing.T) {
	vendor := &fakeVendor{response: "hi"}
	k := newKernel(vendor, newFakeLedger(1000, 0))

	resp, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "hello"}}, Options{})

	require.NoError(t, err)
	assert.Equal(t, TierFast, resp.Tier)
	assert.Equal(t, "fast-model", resp.Model)
	assert.Equal(t, []string{"fast-model"}, vendor.models())
}

func TestChatLowBudgetForcesFastTier(t *testing.T) {
	vendor := &fakeVendor{response: "ok"}
	// 1000 cent limit, 960 spent: 40 remaining is under the 50 cent low mark.
	ledger := newFakeLedger(1000, 960)
	k := newKernel(vendor, ledger)

	resp, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "x"}}, Options{
		Complexity: Complex,
	})

	require.NoError(t, err)
	assert.Equal(t, TierFast, resp.Tier)
	assert.Equal(t, []string{"fast-model"}, vendor.models())
}

func TestChatNeverPowerfulBelowCriticalBudget(t *testing.T) {
	vendor := &fakeVendor{response: "ok"}
	ledger := newFakeLedger(1000, 995)
	k := newKernel(vendor, ledger)

	resp, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "x"}}, Options{
		Complexity: Expert,
	})

	require.NoError(t, err)
	assert.NotEqual(t, TierPowerful, resp.Tier)
	assert.NotContains(t, vendor.models(), "powerful-model")
}

func TestChatBudgetAboveWaterMarksKeepsTier(t *testing.T) {
	vendor := &fakeVendor{response: "ok"}
	k := newKernel(vendor, newFakeLedger(1000, 100))

	resp, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "x"}}, Options{
		Complexity: Expert,
	})

	require.NoError(t, err)
	assert.Equal(t, TierPowerful, resp.Tier)
}

func TestChatBudgetReadFailureNeverBlocks(t *testing.T) {
	vendor := &fakeVendor{response: "ok"}
	ledger := newFakeLedger(1000, 0)
	ledger.readErr = errors.New("ledger down")
	k := newKernel(vendor, ledger)

	resp, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "x"}}, Options{
		Complexity: Expert,
	})

	require.NoError(t, err, "a broken budget read must not become an outage")
	assert.Equal(t, TierPowerful, resp.Tier, "requested tier survives a failed budget read")
}

func TestChatDefaultBudgetAppliesWithoutPolicy(t *testing.T) {
	vendor := &fakeVendor{response: "ok"}
	// No policy row: the 1000 cent default applies, 970 spent leaves 30.
	ledger := newFakeLedger(0, 970)
	k := newKernel(vendor, ledger)

	resp, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "x"}}, Options{
		Complexity: Moderate,
	})

	require.NoError(t, err)
	assert.Equal(t, TierFast, resp.Tier)
}

func TestChatFallsBackWhenPrimaryModelFails(t *testing.T) {
	vendor := &fakeVendor{
		response: "recovered",
		failFor:  map[string]error{"fast-model": errors.New("model overloaded")},
	}
	k := newKernel(vendor, newFakeLedger(1000, 0))

	resp, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "hello"}}, Options{})

	require.NoError(t, err)
	assert.Equal(t, "fast-fallback", resp.Model)
	assert.Equal(t, "recovered", resp.Text)
	assert.Equal(t, []string{"fast-model", "fast-fallback"}, vendor.models())
}

func TestChatPropagatesVendorFailure(t *testing.T) {
	boom := errors.New("vendor down")
	vendor := &fakeVendor{failFor: map[string]error{"fast-model": boom, "fast-fallback": boom}}
	k := newKernel(vendor, newFakeLedger(1000, 0))

	_, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "hello"}}, Options{})

	require.ErrorIs(t, err, boom)
}

func TestChatAppendsSpendLedger(t *testing.T) {
	vendor := &fakeVendor{response: "ok", tokens: 2000}
	ledger := newFakeLedger(1000, 0)
	k := newKernel(vendor, ledger)

	resp, err := k.Chat(context.Background(), testTenant(), []ai.Message{{Role: "user", Content: "hello"}}, Options{})
	require.NoError(t, err)

	entry := ledger.lastEntry(t)
	assert.Equal(t, "ai.chat", entry.Action)
	assert.Equal(t, "org-1", entry.OrgID)
	assert.Equal(t, "req-1", entry.RequestID)
	assert.Equal(t, resp.CostCents, entry.CostCents)
	assert.Positive(t, entry.CostCents)
}

func TestEmbedChargesFlatCent(t *testing.T) {
	vendor := &fakeVendor{}
	ledger := newFakeLedger(1000, 0)
	k := newKernel(vendor, ledger)

	vectors, err := k.Embed(context.Background(), testTenant(), []string{"a", "b"})

	require.NoError(t, err)
	assert.Len(t, vectors, 2)

	entry := ledger.lastEntry(t)
	assert.Equal(t, "ai.embed", entry.Action)
	assert.Equal(t, 1, entry.CostCents)
}

func TestEstimateCostCentsRoundsUp(t *testing.T) {
	tc := config.TierConfig{CostPer1KCents: 0.05}

	// 2000 tokens at 0.05 cents per 1k is 0.1 cents, billed as 1.
	assert.Equal(t, 1, estimateCostCents(&ai.ChatResult{CompletionTokens: 2000}, tc))

	// Token count falls back to a length estimate when the vendor omits it.
	text := strings.Repeat("x", 400)
	assert.Equal(t, 1, estimateCostCents(&ai.ChatResult{Text: text}, tc))

	// 40000 tokens at 0.05 is exactly 2 cents, no rounding.
	assert.Equal(t, 2, estimateCostCents(&ai.ChatResult{CompletionTokens: 40000}, tc))
}
