// Package cache is a per-org AI response cache: exact sha256 lookups hit
// Postgres, near-duplicate prompts are found by cosine similarity over
// embeddings kept in Redis.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/models"
)

// Store persists cached responses. Get returns (nil, nil) on a miss.
type Store interface {
	GetCachedResponse(ctx context.Context, orgID, promptHash string) (*models.CachedResponse, error)
	StoreCachedResponse(ctx context.Context, entry *models.CachedResponse) error
}

// EmbedFunc turns prompts into vectors; the kernel binds it to the vendor
// embeddings endpoint.
type EmbedFunc func(ctx context.Context, inputs []string) ([][]float64, error)

type SemanticCache struct {
	store     Store
	redis     *redis.Client
	embed     EmbedFunc
	threshold float64
	log       zerolog.Logger
}

func NewSemanticCache(store Store, redisURL string, embed EmbedFunc, log zerolog.Logger) (*SemanticCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	return &SemanticCache{
		store:     store,
		redis:     redis.NewClient(opt),
		embed:     embed,
		threshold: 0.85,
		log:       log.With().Str("component", "cache").Logger(),
	}, nil
}

func hashPrompt(prompt string) string {
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("%x", sum)
}

// Get looks up a cached response, exact match first, then embedding
// similarity. Lookup failures are treated as misses.
func (sc *SemanticCache) Get(ctx context.Context, orgID, prompt string) (string, bool) {
	promptHash := hashPrompt(prompt)

	cached, err := sc.store.GetCachedResponse(ctx, orgID, promptHash)
	if err == nil && cached != nil {
		return cached.Response, true
	}

	if sc.embed == nil {
		return "", false
	}

	vectors, err := sc.embed(ctx, []string{prompt})
	if err != nil || len(vectors) == 0 {
		return "", false
	}
	query := vectors[0]

	pattern := fmt.Sprintf("embedding:org:%s:prompt:*", orgID)
	keys, err := sc.redis.Keys(ctx, pattern).Result()
	if err != nil {
		return "", false
	}

	prefix := fmt.Sprintf("embedding:org:%s:prompt:", orgID)
	var bestHash string
	best := 0.0

	for _, key := range keys {
		raw, err := sc.redis.Get(ctx, key).Result()
		if err != nil {
			continue
		}

		var stored []float64
		if err := json.Unmarshal([]byte(raw), &stored); err != nil {
			continue
		}

		if sim := cosineSimilarity(query, stored); sim > best && sim >= sc.threshold {
			best = sim
			bestHash = key[len(prefix):]
		}
	}

	if bestHash != "" {
		cached, err := sc.store.GetCachedResponse(ctx, orgID, bestHash)
		if err == nil && cached != nil {
			return cached.Response, true
		}
	}

	return "", false
}

// Put stores the response and schedules the embedding write in the
// background; a lost embedding only costs future similarity hits.
func (sc *SemanticCache) Put(ctx context.Context, orgID, prompt, response string) error {
	promptHash := hashPrompt(prompt)

	entry := &models.CachedResponse{
		OrgID:      orgID,
		PromptHash: promptHash,
		Prompt:     prompt,
		Response:   response,
	}
	if err := sc.store.StoreCachedResponse(ctx, entry); err != nil {
		return err
	}

	if sc.embed == nil {
		return nil
	}

	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		vectors, err := sc.embed(bgCtx, []string{prompt})
		if err != nil || len(vectors) == 0 {
			sc.log.Warn().Err(err).Str("org_id", orgID).Msg("embedding store skipped")
			return
		}

		key := fmt.Sprintf("embedding:org:%s:prompt:%s", orgID, promptHash)
		payload, _ := json.Marshal(vectors[0])
		sc.redis.Set(bgCtx, key, payload, 7*24*time.Hour)
	}()

	return nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
