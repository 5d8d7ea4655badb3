package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	apiContext "idsync/internal/api/context"
	"idsync/internal/engine/profile"
	"idsync/internal/pkg/errors"
	"idsync/internal/platform/auth"
	"idsync/internal/platform/config"
	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
)

type OrgHandler struct {
	memberships    *repositories.MembershipRepository
	entitlements   *repositories.EntitlementRepository
	cache          *profile.Cache
	resourceFields []config.ResourceField
}

func NewOrgHandler(memberships *repositories.MembershipRepository, entitlements *repositories.EntitlementRepository,
	cache *profile.Cache, resourceFields []config.ResourceField) *OrgHandler {
	return &OrgHandler{
		memberships:    memberships,
		entitlements:   entitlements,
		cache:          cache,
		resourceFields: resourceFields,
	}
}

// resolveResources rewrites an entitlement's resources mapping with the
// configured defaults applied, so callers never see an absent or null
// grant for a configured field. Unconfigured keys pass through as-is.
func (h *OrgHandler) resolveResources(e *models.Entitlement) {
	if e == nil || len(h.resourceFields) == 0 {
		return
	}
	resolved := make(map[string]any, len(e.Resources)+len(h.resourceFields))
	for key, value := range e.Resources {
		if value != nil {
			resolved[key] = value
		}
	}
	for _, field := range h.resourceFields {
		resolved[field.Name] = e.Resource(field.Name, field.Default)
	}
	e.Resources = resolved
}

// GetCurrent returns the caller's active organization with its
// entitlement attached.
func (h *OrgHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	membership, err := h.memberships.GetActive(claims.UserUUID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if membership == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "No active organization", nil)
		return
	}

	org := membership.Organization
	if org.EntitlementID != nil {
		entitlement, err := h.entitlements.GetByID(*org.EntitlementID)
		if err != nil {
			errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
			return
		}
		org.Entitlement = entitlement
	}
	h.resolveResources(org.Entitlement)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(org)
}

// List returns every organization the caller belongs to, with the
// caller's admin and active flags on each.
func (h *OrgHandler) List(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	memberships, err := h.memberships.ListForUser(claims.UserUUID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(memberships)
}

type ActivateRequest struct {
	UUID string `json:"uuid"`
}

// Activate switches the caller's active organization. The caller must
// already be a member; activation never creates memberships.
func (h *OrgHandler) Activate(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	var req ActivateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UUID == "" {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "Invalid request body", nil)
		return
	}

	tx, err := h.memberships.BeginTx()
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	defer tx.Rollback()

	if err := h.memberships.SwitchActiveTx(tx, claims.UserUUID, req.UUID); err != nil {
		if errors.Is(err, errors.ErrNotFound) {
			errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "Not a member of this organization", nil)
			return
		}
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if err := tx.Commit(); err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	h.cache.Invalidate(claims.UserUUID)
	log.Info().Str("user", claims.UserUUID).Str("organization", req.UUID).Msg("switched active organization")

	membership, err := h.memberships.GetActive(claims.UserUUID)
	if err != nil || membership == nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(membership)
}
