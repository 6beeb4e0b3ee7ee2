// Package jobs drains deferred work enqueued by request handlers. Each
// runner cycle claims exactly one pending job, dispatches it by kind, and
// records the outcome with bounded retries.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/httperr"
	"github.com/paddockhq/governance/internal/models"
)

// Kind is the closed set of background job variants. Adding one means
// registering a handler for it here, not growing a stringly switch.
type Kind string

const (
	KindEmbed  Kind = "embed"
	KindCrawl  Kind = "crawl"
	KindOCR    Kind = "ocr"
	KindNotify Kind = "notify"
)

// ParseKind rejects anything outside the closed set.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindEmbed, KindCrawl, KindOCR, KindNotify:
		return Kind(s), nil
	default:
		return "", httperr.InvalidJobKind(s)
	}
}

// Handler processes one job and returns its result payload.
type Handler func(ctx context.Context, job *models.Job) (json.RawMessage, error)

// Registry maps each kind to its handler.
type Registry struct {
	handlers map[Kind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[Kind]Handler)}
}

func (r *Registry) Register(kind Kind, h Handler) {
	r.handlers[kind] = h
}

func (r *Registry) handler(kind Kind) (Handler, bool) {
	h, ok := r.handlers[kind]
	return h, ok
}

// Store is the persistent job table. ClaimJob must atomically select the
// oldest eligible pending job, flip it to processing and increment attempts
// so two workers can never claim the same job; it returns (nil, nil) when
// nothing is eligible.
type Store interface {
	EnqueueJob(ctx context.Context, job *models.Job) error
	ClaimJob(ctx context.Context) (*models.Job, error)
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error
	FailJob(ctx context.Context, id string, errMsg string, retry bool) error
}

type Runner struct {
	store    Store
	registry *Registry
	log      zerolog.Logger
	observe  func(kind, outcome string)
}

func NewRunner(store Store, registry *Registry, log zerolog.Logger) *Runner {
	return &Runner{
		store:    store,
		registry: registry,
		log:      log.With().Str("component", "jobs").Logger(),
		observe:  func(string, string) {},
	}
}

// SetObserver installs a callback invoked once per finished cycle with the
// job kind and outcome ("done", "retried" or "failed").
func (r *Runner) SetObserver(fn func(kind, outcome string)) {
	if fn != nil {
		r.observe = fn
	}
}

// RunOnce performs one claim-and-process cycle and reports whether a job was
// claimed. Handler failures are recorded on the job itself and never escape;
// only claim/store errors are returned.
func (r *Runner) RunOnce(ctx context.Context) (bool, error) {
	job, err := r.store.ClaimJob(ctx)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	log := r.log.With().Str("job_id", job.ID).Str("kind", job.Kind).Int("attempt", job.Attempts).Logger()
	log.Info().Msg("job claimed")

	result, err := r.dispatch(ctx, job)
	if err != nil {
		r.finalizeFailure(ctx, job, err, log)
		return true, nil
	}

	if err := r.store.CompleteJob(ctx, job.ID, result); err != nil {
		log.Error().Err(err).Msg("failed to record job completion")
		return true, nil
	}
	r.observe(job.Kind, "done")
	log.Info().Msg("job done")
	return true, nil
}

// dispatch routes by kind. A panicking handler is converted into a regular
// handler failure so one bad job cannot take the worker down.
func (r *Runner) dispatch(ctx context.Context, job *models.Job) (result json.RawMessage, err error) {
	kind, err := ParseKind(job.Kind)
	if err != nil {
		return nil, err
	}

	handler, ok := r.registry.handler(kind)
	if !ok {
		return nil, httperr.InvalidJobKind(job.Kind)
	}

	defer func() {
		if p := recover(); p != nil {
			err = httperr.HandlerFailure(fmt.Errorf("panic: %v", p))
		}
	}()

	result, err = handler(ctx, job)
	return result, err
}

func (r *Runner) finalizeFailure(ctx context.Context, job *models.Job, cause error, log zerolog.Logger) {
	retry := job.Attempts < job.MaxAttempts && httperr.From(cause).Retryable()

	if err := r.store.FailJob(ctx, job.ID, cause.Error(), retry); err != nil {
		log.Error().Err(err).Msg("failed to record job failure")
		return
	}

	if retry {
		r.observe(job.Kind, "retried")
		log.Warn().Err(cause).Msg("job failed, re-queued")
	} else {
		r.observe(job.Kind, "failed")
		log.Error().Err(cause).Msg("job failed permanently")
	}
}
