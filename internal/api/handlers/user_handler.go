package handlers

import (
	"encoding/json"
	"net/http"

	apiContext "idsync/internal/api/context"
	"idsync/internal/engine/profile"
	"idsync/internal/pkg/errors"
	"idsync/internal/platform/auth"
	"idsync/internal/platform/repositories"
)

type UserHandler struct {
	users       *repositories.UserRepository
	memberships *repositories.MembershipRepository
	cache       *profile.Cache
}

func NewUserHandler(users *repositories.UserRepository, memberships *repositories.MembershipRepository, cache *profile.Cache) *UserHandler {
	return &UserHandler{users: users, memberships: memberships, cache: cache}
}

// Me returns the caller's mirrored profile. Served from the in-process
// cache when fresh; the cache is invalidated whenever a reconciliation
// touches the user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	claims := r.Context().Value(apiContext.Claims).(*auth.Claims)

	if p, ok := h.cache.Get(claims.UserUUID); ok {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
		return
	}

	user, err := h.users.Get(claims.UserUUID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Database error", nil)
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusNotFound, errors.ErrCodeNotFound, "User not found", nil)
		return
	}

	p := &profile.Profile{User: user}
	if membership, err := h.memberships.GetActive(user.UUID); err == nil && membership != nil {
		p.Organization = membership.Organization
	}

	h.cache.Set(user.UUID, p)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(p)
}
