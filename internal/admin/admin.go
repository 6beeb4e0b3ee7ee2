package admin

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/paddockhq/governance/internal/db"
	"github.com/paddockhq/governance/internal/models"
)

type AdminHandler struct {
	db  *db.DB
	log zerolog.Logger
}

func NewAdminHandler(database *db.DB, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{db: database, log: log.With().Str("component", "admin").Logger()}
}

func (h *AdminHandler) RegisterRoutes(router *mux.Router) {
	// Org management
	router.HandleFunc("/orgs", h.ListOrgs).Methods("GET")
	router.HandleFunc("/orgs", h.CreateOrg).Methods("POST")
	router.HandleFunc("/orgs/{id}", h.GetOrg).Methods("GET")
	router.HandleFunc("/orgs/{id}", h.UpdateOrg).Methods("PUT")
	router.HandleFunc("/orgs/{id}", h.DeleteOrg).Methods("DELETE")

	// Budget governance
	router.HandleFunc("/orgs/{id}/budget", h.GetBudget).Methods("GET")
	router.HandleFunc("/orgs/{id}/budget", h.SetBudget).Methods("PUT")
	router.HandleFunc("/orgs/{id}/spend", h.GetSpend).Methods("GET")

	// Job queue
	router.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	router.HandleFunc("/jobs/{id}/retry", h.RetryJob).Methods("POST")

	// Credentials
	router.HandleFunc("/users/{id}/rotate-key", h.RotateAPIKey).Methods("POST")
}

func (h *AdminHandler) CreateOrg(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	org := &models.Org{Name: req.Name}
	if err := h.db.CreateOrg(r.Context(), org); err != nil {
		h.log.Error().Err(err).Msg("create org failed")
		http.Error(w, "failed to create org", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, org)
}

func (h *AdminHandler) ListOrgs(w http.ResponseWriter, r *http.Request) {
	orgs, err := h.db.ListOrgs(r.Context())
	if err != nil {
		http.Error(w, "failed to list orgs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, orgs)
}

func (h *AdminHandler) GetOrg(w http.ResponseWriter, r *http.Request) {
	org, err := h.db.GetOrg(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "org not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, org)
}

func (h *AdminHandler) UpdateOrg(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name is required", http.StatusBadRequest)
		return
	}

	if err := h.db.UpdateOrg(r.Context(), mux.Vars(r)["id"], req.Name); err != nil {
		http.Error(w, "failed to update org", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (h *AdminHandler) DeleteOrg(w http.ResponseWriter, r *http.Request) {
	if err := h.db.DeleteOrg(r.Context(), mux.Vars(r)["id"]); err != nil {
		http.Error(w, "failed to delete org", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminHandler) GetBudget(w http.ResponseWriter, r *http.Request) {
	policy, err := h.db.BudgetPolicy(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		http.Error(w, "failed to load budget policy", http.StatusInternalServerError)
		return
	}
	if policy == nil {
		http.Error(w, "no budget policy set", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

func (h *AdminHandler) SetBudget(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DailyLimitCents int `json:"daily_limit_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DailyLimitCents <= 0 {
		http.Error(w, "daily_limit_cents must be positive", http.StatusBadRequest)
		return
	}

	policy := &models.BudgetPolicy{OrgID: mux.Vars(r)["id"], DailyLimitCents: req.DailyLimitCents}
	if err := h.db.SetBudgetPolicy(r.Context(), policy); err != nil {
		h.log.Error().Err(err).Msg("set budget policy failed")
		http.Error(w, "failed to set budget policy", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, policy)
}

func (h *AdminHandler) GetSpend(w http.ResponseWriter, r *http.Request) {
	orgID := mux.Vars(r)["id"]

	spent, err := h.db.SpentTodayCents(r.Context(), orgID)
	if err != nil {
		http.Error(w, "failed to load spend", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"org_id":            orgID,
		"spent_cents_today": spent,
	})
}

func (h *AdminHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	jobs, err := h.db.ListJobs(r.Context(), status, limit)
	if err != nil {
		http.Error(w, "failed to list jobs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (h *AdminHandler) RetryJob(w http.ResponseWriter, r *http.Request) {
	if err := h.db.RetryJob(r.Context(), mux.Vars(r)["id"]); err != nil {
		http.Error(w, "job not found or not failed", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "requeued"})
}

func (h *AdminHandler) RotateAPIKey(w http.ResponseWriter, r *http.Request) {
	newKey, err := generateAPIKey()
	if err != nil {
		http.Error(w, "failed to generate API key", http.StatusInternalServerError)
		return
	}

	if err := h.db.RotateUserAPIKey(r.Context(), mux.Vars(r)["id"], newKey); err != nil {
		http.Error(w, "failed to rotate API key", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"api_key": newKey,
		"status":  "rotated",
	})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func generateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}
