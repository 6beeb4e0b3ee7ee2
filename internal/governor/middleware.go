package governor

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/paddockhq/governance/internal/httperr"
	"github.com/paddockhq/governance/internal/models"
	"github.com/paddockhq/governance/internal/ratelimit"
)

type contextKey string

const tenantContextKey contextKey = "tenant_context"

// FromContext returns the TenantContext injected by the middleware.
func FromContext(ctx context.Context) (*models.TenantContext, bool) {
	tctx, ok := ctx.Value(tenantContextKey).(*models.TenantContext)
	return tctx, ok
}

// WithContext is exported for tests and for the worker, which builds its own
// context per claimed job.
func WithContext(ctx context.Context, tctx *models.TenantContext) context.Context {
	return context.WithValue(ctx, tenantContextKey, tctx)
}

// AccessLogger records admitted requests. Writes are fired asynchronously
// and are not part of the request's critical path.
type AccessLogger interface {
	LogAccess(ctx context.Context, entry *models.AccessLog) error
}

// Middleware gates a route subtree with the given config. Rejections are
// rendered as minimal JSON with quota headers; admitted requests carry the
// TenantContext in their context and get correlation headers on the response.
func (g *Governor) Middleware(cfg GateConfig, access AccessLogger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			tctx, rate, err := g.Admit(r.Context(), r.Header.Get("Authorization"), cfg)
			if err != nil {
				writeRateHeaders(w, rate)
				httperr.Write(w, err)
				return
			}

			w.Header().Set("X-Request-Id", tctx.RequestID)
			w.Header().Set("X-Org-Id", tctx.OrgID)

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(WithContext(r.Context(), tctx)))

			if access != nil {
				entry := &models.AccessLog{
					OrgID:          tctx.OrgID,
					UserID:         tctx.UserID,
					RequestID:      tctx.RequestID,
					Endpoint:       r.URL.Path,
					Method:         r.Method,
					StatusCode:     rec.status,
					ResponseTimeMs: int(time.Since(start).Milliseconds()),
				}
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					if err := access.LogAccess(ctx, entry); err != nil {
						g.log.Warn().Err(err).Str("request_id", entry.RequestID).Msg("access log write failed")
					}
				}()
			}
		})
	}
}

func writeRateHeaders(w http.ResponseWriter, rate ratelimit.Result) {
	if rate.Limit == 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rate.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rate.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(rate.ResetAt.Unix(), 10))
}

type statusRecorder struct {
	http.ResponseWriter
	status  int
	written bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.written {
		r.status = code
		r.written = true
		r.ResponseWriter.WriteHeader(code)
	}
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if !r.written {
		r.WriteHeader(http.StatusOK)
	}
	return r.ResponseWriter.Write(b)
}
