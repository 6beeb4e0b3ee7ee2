package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/ai"
	"github.com/paddockhq/governance/internal/kernel"
	"github.com/paddockhq/governance/internal/models"
)

// HandlerStore persists the artifacts the built-in handlers produce.
type HandlerStore interface {
	SaveEmbedding(ctx context.Context, orgID, sourceID, chunk string, vector []float64) error
	SaveCrawledPage(ctx context.Context, orgID, url, content string) error
	CreateNotification(ctx context.Context, orgID, userID, title, body string) error
}

// HandlerDeps carries everything the built-in handlers need.
type HandlerDeps struct {
	Kernel *kernel.Kernel
	Store  HandlerStore
	HTTP   *http.Client
	Log    zerolog.Logger
}

// DefaultRegistry wires every kind in the closed set to its handler.
func DefaultRegistry(deps HandlerDeps) *Registry {
	if deps.HTTP == nil {
		deps.HTTP = http.DefaultClient
	}

	r := NewRegistry()
	r.Register(KindEmbed, deps.handleEmbed)
	r.Register(KindCrawl, deps.handleCrawl)
	r.Register(KindOCR, deps.handleOCR)
	r.Register(KindNotify, deps.handleNotify)
	return r
}

// jobContext builds the tenant context a job runs under. Jobs inherit the
// org they were enqueued for; data access stays scoped to it.
func jobContext(job *models.Job) *models.TenantContext {
	return &models.TenantContext{
		UserID:    "worker",
		OrgID:     job.OrgID,
		Flags:     map[string]bool{},
		RequestID: "job:" + job.ID,
	}
}

func (d HandlerDeps) handleEmbed(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var payload struct {
		SourceID string   `json:"source_id"`
		Chunks   []string `json:"chunks"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("embed payload: %w", err)
	}
	if len(payload.Chunks) == 0 {
		return json.RawMessage(`{"embedded":0}`), nil
	}

	vectors, err := d.Kernel.Embed(ctx, jobContext(job), payload.Chunks)
	if err != nil {
		return nil, err
	}

	for i, vec := range vectors {
		if err := d.Store.SaveEmbedding(ctx, job.OrgID, payload.SourceID, payload.Chunks[i], vec); err != nil {
			return nil, fmt.Errorf("save embedding %d: %w", i, err)
		}
	}

	return json.Marshal(map[string]int{"embedded": len(vectors)})
}

func (d HandlerDeps) handleCrawl(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var payload struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("crawl payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, payload.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", payload.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", payload.URL, resp.StatusCode)
	}

	// 1 MiB cap keeps a single oversized page from ballooning the job table.
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	if err := d.Store.SaveCrawledPage(ctx, job.OrgID, payload.URL, string(body)); err != nil {
		return nil, err
	}

	return json.Marshal(map[string]any{"url": payload.URL, "bytes": len(body)})
}

func (d HandlerDeps) handleOCR(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var payload struct {
		DocumentID string `json:"document_id"`
		Text       string `json:"text"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("ocr payload: %w", err)
	}

	// Extracted text is cleaned up by the fast tier; batch latency, cheap model.
	resp, err := d.Kernel.Chat(ctx, jobContext(job), []ai.Message{
		{Role: "system", Content: "Clean up the following OCR output. Fix obvious recognition errors, preserve the original wording."},
		{Role: "user", Content: payload.Text},
	}, kernel.Options{Complexity: kernel.Trivial, Latency: kernel.Batch})
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{
		"document_id": payload.DocumentID,
		"text":        resp.Text,
	})
}

func (d HandlerDeps) handleNotify(ctx context.Context, job *models.Job) (json.RawMessage, error) {
	var payload struct {
		UserID string `json:"user_id"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	}
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("notify payload: %w", err)
	}

	if err := d.Store.CreateNotification(ctx, job.OrgID, payload.UserID, payload.Title, payload.Body); err != nil {
		return nil, err
	}

	return json.RawMessage(`{"sent":true}`), nil
}
