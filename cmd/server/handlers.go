package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/ai"
	"github.com/paddockhq/governance/internal/db"
	"github.com/paddockhq/governance/internal/governor"
	"github.com/paddockhq/governance/internal/httperr"
	"github.com/paddockhq/governance/internal/identity"
	"github.com/paddockhq/governance/internal/jobs"
	"github.com/paddockhq/governance/internal/kernel"
	"github.com/paddockhq/governance/internal/metrics"
	"github.com/paddockhq/governance/internal/models"
)

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

// tokenHandler exchanges a user API key for a short-lived bearer token.
func tokenHandler(database *db.DB, jwtSecret string, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			APIKey string `json:"api_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		user, err := database.GetUserByAPIKey(r.Context(), req.APIKey)
		if err != nil {
			log.Warn().Msg("token request with unknown api key")
			http.Error(w, "invalid API key", http.StatusUnauthorized)
			return
		}

		token, err := identity.GenerateToken(user.ID, "", jwtSecret, 24*time.Hour)
		if err != nil {
			log.Error().Err(err).Msg("token generation failed")
			http.Error(w, "failed to generate token", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"token": token})
	}
}

// requireCapability guards a subtree behind a role loaded by the governor.
func requireCapability(role string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tctx, ok := governor.FromContext(r.Context())
			if !ok || !tctx.HasCapability(role) {
				httperr.Write(w, httperr.Forbidden("insufficient permissions"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func chatHandler(k *kernel.Kernel, m *metrics.Metrics) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tctx, ok := governor.FromContext(r.Context())
		if !ok {
			httperr.Write(w, httperr.Unauthenticated("missing tenant context"))
			return
		}

		var req struct {
			Messages   []ai.Message `json:"messages"`
			Complexity string       `json:"complexity,omitempty"`
			Latency    string       `json:"latency,omitempty"`
			MaxTokens  int          `json:"max_tokens,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Messages) == 0 {
			http.Error(w, "messages are required", http.StatusBadRequest)
			return
		}

		resp, err := k.Chat(r.Context(), tctx, req.Messages, kernel.Options{
			Complexity: kernel.Complexity(req.Complexity),
			Latency:    kernel.Latency(req.Latency),
			MaxTokens:  req.MaxTokens,
		})
		if err != nil {
			httperr.Write(w, err)
			return
		}

		m.AICostCents.Add(float64(resp.CostCents))
		writeJSON(w, http.StatusOK, resp)
	}
}

func embedHandler(k *kernel.Kernel) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tctx, ok := governor.FromContext(r.Context())
		if !ok {
			httperr.Write(w, httperr.Unauthenticated("missing tenant context"))
			return
		}

		var req struct {
			Texts []string `json:"texts"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.Texts) == 0 {
			http.Error(w, "texts are required", http.StatusBadRequest)
			return
		}

		vectors, err := k.Embed(r.Context(), tctx, req.Texts)
		if err != nil {
			httperr.Write(w, err)
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{"embeddings": vectors})
	}
}

func enqueueJobHandler(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tctx, ok := governor.FromContext(r.Context())
		if !ok {
			httperr.Write(w, httperr.Unauthenticated("missing tenant context"))
			return
		}

		var req struct {
			Kind        string          `json:"kind"`
			Payload     json.RawMessage `json:"payload"`
			MaxAttempts int             `json:"max_attempts,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}

		if _, err := jobs.ParseKind(req.Kind); err != nil {
			httperr.Write(w, err)
			return
		}

		job := &models.Job{
			OrgID:       tctx.OrgID,
			Kind:        req.Kind,
			Payload:     req.Payload,
			MaxAttempts: req.MaxAttempts,
		}
		if err := database.EnqueueJob(r.Context(), job); err != nil {
			http.Error(w, "failed to enqueue job", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusAccepted, job)
	}
}

func getJobHandler(database *db.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tctx, ok := governor.FromContext(r.Context())
		if !ok {
			httperr.Write(w, httperr.Unauthenticated("missing tenant context"))
			return
		}

		// Scoped by org id: jobs from other tenants are indistinguishable
		// from missing ones.
		job, err := database.GetJob(r.Context(), tctx.OrgID, mux.Vars(r)["id"])
		if err != nil {
			http.Error(w, "job not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, job)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
