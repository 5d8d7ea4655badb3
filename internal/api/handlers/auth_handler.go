package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"idsync/internal/engine/reconcile"
	"idsync/internal/pkg/errors"
	"idsync/internal/platform/auth"
	"idsync/internal/platform/config"
	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
)

const (
	stateCookie   = "oauth_state"
	idTokenCookie = "id_token"
)

// AuthHandler drives the OIDC authorization-code flow against the
// identity provider. All credential checks happen upstream; on
// callback the provider's claims are reconciled into the local mirror
// and a local session token is minted.
type AuthHandler struct {
	provider    *oidc.Provider
	oauth       *oauth2.Config
	oidcCfg     config.OIDCConfig
	providerCfg config.ProviderConfig
	users       *reconcile.UserReconciler
	memberships *repositories.MembershipRepository
	tokenSvc    *auth.TokenService
}

func NewAuthHandler(ctx context.Context, oidcCfg config.OIDCConfig, providerCfg config.ProviderConfig,
	users *reconcile.UserReconciler, memberships *repositories.MembershipRepository,
	tokenSvc *auth.TokenService) (*AuthHandler, error) {

	provider, err := oidc.NewProvider(ctx, oidcCfg.IssuerURL)
	if err != nil {
		return nil, err
	}

	return &AuthHandler{
		provider: provider,
		oauth: &oauth2.Config{
			ClientID:     oidcCfg.ClientID,
			ClientSecret: oidcCfg.ClientSecret,
			RedirectURL:  oidcCfg.RedirectURL,
			Endpoint:     provider.Endpoint(),
			Scopes:       oidcCfg.Scopes,
		},
		oidcCfg:     oidcCfg,
		providerCfg: providerCfg,
		users:       users,
		memberships: memberships,
		tokenSvc:    tokenSvc,
	}, nil
}

type LoginResponse struct {
	AccessToken string       `json:"access_token"`
	User        *models.User `json:"user"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	state := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.oauth.AuthCodeURL(state), http.StatusFound)
}

func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		errors.WriteError(w, http.StatusBadRequest, errors.ErrCodeInvalidInput, "State mismatch", nil)
		return
	}

	ctx := r.Context()
	token, err := h.oauth.Exchange(ctx, r.URL.Query().Get("code"))
	if err != nil {
		log.Error().Err(err).Msg("code exchange failed")
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Code exchange failed", nil)
		return
	}

	rawIDToken, _ := token.Extra("id_token").(string)
	if rawIDToken == "" {
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Provider response missing id_token", nil)
		return
	}
	verifier := h.provider.Verifier(&oidc.Config{ClientID: h.oidcCfg.ClientID})
	if _, err := verifier.Verify(ctx, rawIDToken); err != nil {
		log.Error().Err(err).Msg("id_token verification failed")
		errors.WriteError(w, http.StatusUnauthorized, errors.ErrCodeUnauthorized, "Invalid id_token", nil)
		return
	}

	userInfo, err := h.provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
	if err != nil {
		log.Error().Err(err).Msg("userinfo request failed")
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Failed to fetch user info", nil)
		return
	}

	var payload reconcile.UserPayload
	if err := userInfo.Claims(&payload); err != nil {
		errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream, "Malformed user info", nil)
		return
	}

	if h.providerCfg.WhitelistVerifiedJournalists && !hasVerifiedJournalistOrg(&payload) {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden,
			"Login restricted to verified journalists", nil)
		return
	}

	user, created, err := h.users.Reconcile(userInfo.Subject, &payload)
	if err != nil {
		if errors.IsValidation(err) {
			errors.WriteError(w, http.StatusBadGateway, errors.ErrCodeUpstream,
				"Provider payload missing required fields", err.Error())
			return
		}
		log.Error().Err(err).Str("user", userInfo.Subject).Msg("login reconciliation failed")
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to sync account", nil)
		return
	}
	if user == nil {
		errors.WriteError(w, http.StatusForbidden, errors.ErrCodeForbidden, "Agency accounts are disabled", nil)
		return
	}
	if created {
		log.Info().Str("user", user.UUID).Str("username", user.Username).Msg("provisioned user at login")
	}

	var orgUUID string
	if active, err := h.memberships.GetActive(user.UUID); err == nil && active != nil {
		orgUUID = active.OrgUUID
	}

	accessToken, err := h.tokenSvc.GenerateAccessToken(user.UUID, user.Username, orgUUID)
	if err != nil {
		errors.WriteError(w, http.StatusInternalServerError, errors.ErrCodeInternal, "Failed to generate token", nil)
		return
	}

	// Kept for the end-session hint at logout.
	http.SetCookie(w, &http.Cookie{
		Name:     idTokenCookie,
		Value:    rawIDToken,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(LoginResponse{AccessToken: accessToken, User: user})
}

// Logout clears the local session and sends the browser to the
// provider's end-session endpoint so the upstream session dies too.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	endSession := strings.TrimSuffix(h.oidcCfg.IssuerURL, "/") + "/end-session/"

	query := url.Values{}
	if cookie, err := r.Cookie(idTokenCookie); err == nil && cookie.Value != "" {
		query.Set("id_token_hint", cookie.Value)
	}
	if h.oidcCfg.PostLogoutURL != "" {
		query.Set("post_logout_redirect_uri", h.oidcCfg.PostLogoutURL)
	}
	if encoded := query.Encode(); encoded != "" {
		endSession += "?" + encoded
	}

	http.SetCookie(w, &http.Cookie{
		Name:     idTokenCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, endSession, http.StatusFound)
}

func hasVerifiedJournalistOrg(p *reconcile.UserPayload) bool {
	for i := range p.Organizations {
		if p.Organizations[i].VerifiedJournalist {
			return true
		}
	}
	return false
}
