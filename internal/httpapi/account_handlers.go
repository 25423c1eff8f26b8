package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"pdf_gateway/internal/auth"
	"pdf_gateway/internal/middleware"
	"pdf_gateway/internal/models"
	"pdf_gateway/internal/plans"
	"pdf_gateway/internal/utils"
)

// handleUsage reports lifetime and current-month consumption for the
// account's dashboard.
func (deps *Dependencies) handleUsage(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing account")
		return
	}

	summary, err := deps.Ledger.Usage(r.Context(), account)
	if err != nil {
		deps.logger.Error("failed to fetch usage", "account", account, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Error fetching usage data")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, summary)
}

// handleSubscription reports the account's plan. Accounts without a
// subscription row read as the free tier.
func (deps *Dependencies) handleSubscription(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing account")
		return
	}

	sub, err := deps.Ledger.Subscription(r.Context(), account)
	if err != nil {
		deps.logger.Error("failed to fetch subscription", "account", account, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Error fetching subscription")
		return
	}

	plan := deps.Catalog.Resolve(plans.FreePlanID)
	status := "none"
	if sub != nil {
		plan = deps.Catalog.Resolve(sub.Plan)
		status = sub.Status
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]any{
		"plan":         plan.ID,
		"status":       status,
		"monthlyUnits": plan.MonthlyUnits,
		"slaTier":      plan.SLATier,
	})
}

// CreateAPIKeyRequest is the payload for minting a new key.
type CreateAPIKeyRequest struct {
	Name string `json:"name"`
}

// APIKeyCreatedResponse carries the plaintext key exactly once.
type APIKeyCreatedResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"createdAt"`
}

// handleCreateAPIKey mints a key for the account. The plaintext is
// returned here and never again.
func (deps *Dependencies) handleCreateAPIKey(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing account")
		return
	}

	var req CreateAPIKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = "API key"
	}

	plaintext, id, secret, err := auth.GenerateAPIKey()
	if err != nil {
		deps.logger.Error("failed to generate api key", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		deps.logger.Error("failed to hash api key secret", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	key := &models.APIKey{
		ID:         id,
		Account:    account,
		Name:       name,
		SecretHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := deps.APIKeys.Insert(r.Context(), key); err != nil {
		deps.logger.Error("failed to store api key", "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to create API key")
		return
	}

	utils.RespondWithJSON(w, http.StatusCreated, APIKeyCreatedResponse{
		ID:        key.ID,
		Name:      key.Name,
		Key:       plaintext,
		CreatedAt: key.CreatedAt,
	})
}

// handleListAPIKeys returns the account's keys without secret material.
func (deps *Dependencies) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing account")
		return
	}

	keys, err := deps.APIKeys.ListForAccount(r.Context(), account)
	if err != nil {
		deps.logger.Error("failed to list api keys", "account", account, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to list API keys")
		return
	}
	if keys == nil {
		keys = []models.APIKey{}
	}

	utils.RespondWithJSON(w, http.StatusOK, keys)
}

// handleDeleteAPIKey revokes one of the account's keys. The row is kept
// for audit; revoked keys simply stop authenticating.
func (deps *Dependencies) handleDeleteAPIKey(w http.ResponseWriter, r *http.Request) {
	account, ok := middleware.GetAccount(r.Context())
	if !ok {
		utils.RespondWithError(w, http.StatusUnauthorized, "Missing account")
		return
	}

	id := r.PathValue("id")
	if id == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "Missing key id")
		return
	}

	if err := deps.APIKeys.Revoke(r.Context(), account, id); err != nil {
		if errors.Is(err, auth.ErrKeyNotFound) {
			utils.RespondWithError(w, http.StatusNotFound, "API key not found")
			return
		}
		deps.logger.Error("failed to revoke api key", "account", account, "error", err)
		utils.RespondWithError(w, http.StatusInternalServerError, "Failed to revoke API key")
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}
