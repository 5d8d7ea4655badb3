// Package reconcile merges authoritative identity-provider payloads
// into the local mirrored store while preserving the relational
// invariants: one active organization per user, one non-removable
// individual organization per user, per-membership admin flags and
// entitlement assignment.
package reconcile

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"

	"idsync/internal/pkg/errors"
)

// UserPayload is the user shape delivered both by the provider's API
// and by the OIDC callback. Key presence is tracked so defaults and
// required-field checks behave the same as on the wire.
type UserPayload struct {
	UUID              string                `json:"uuid"`
	PreferredUsername string                `json:"preferred_username"`
	Email             string                `json:"email"`
	Name              string                `json:"name"`
	Picture           string                `json:"picture"`
	EmailFailed       bool                  `json:"email_failed"`
	EmailVerified     bool                  `json:"email_verified"`
	UseAutologin      bool                  `json:"use_autologin"`
	Bio               string                `json:"bio"`
	IsAgency          bool                  `json:"is_agency"`
	Organizations     []OrganizationPayload `json:"organizations"`

	present map[string]bool
}

func (p *UserPayload) UnmarshalJSON(b []byte) error {
	type alias UserPayload
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = UserPayload(a)
	p.present = make(map[string]bool, len(raw))
	for k := range raw {
		p.present[k] = true
	}
	// autologin defaults on, all other absent fields default to zero
	if !p.present["use_autologin"] {
		p.UseAutologin = true
	}
	return nil
}

// Has reports whether the wire payload carried the given key.
func (p *UserPayload) Has(key string) bool { return p.present[key] }

// Validate checks the required keys before anything is persisted.
func (p *UserPayload) Validate() error {
	var missing []string
	for _, key := range []string{"preferred_username", "organizations"} {
		if !p.Has(key) {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return errors.NewValidation(missing...)
	}
	return nil
}

// OrganizationPayload is the organization shape delivered by the
// provider, either standalone or as a descriptor inside a user
// payload's organizations list (where it additionally carries Admin).
type OrganizationPayload struct {
	UUID               string               `json:"uuid"`
	Name               string               `json:"name"`
	Slug               string               `json:"slug"`
	Individual         bool                 `json:"individual"`
	Private            bool                 `json:"private"`
	Card               string               `json:"card"`
	PaymentFailed      bool                 `json:"payment_failed"`
	AvatarURL          string               `json:"avatar_url"`
	VerifiedJournalist bool                 `json:"verified_journalist"`
	MaxUsers           int                  `json:"max_users"`
	Admin              bool                 `json:"admin"`
	Entitlements       []EntitlementPayload `json:"entitlements"`

	present map[string]bool
}

func (p *OrganizationPayload) UnmarshalJSON(b []byte) error {
	type alias OrganizationPayload
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = OrganizationPayload(a)
	p.present = make(map[string]bool, len(raw))
	for k := range raw {
		p.present[k] = true
	}
	return nil
}

// Has reports whether the wire payload carried the given key. Partial
// payloads are legal: absent keys leave the mirrored field untouched.
func (p *OrganizationPayload) Has(key string) bool { return p.present[key] }

// Validate checks the required keys of the payload and of every
// entitlement descriptor before anything is persisted.
func (p *OrganizationPayload) Validate() error {
	var missing []string
	for _, key := range []string{"name", "slug", "entitlements", "max_users", "individual"} {
		if !p.Has(key) {
			missing = append(missing, key)
		}
	}
	for i := range p.Entitlements {
		missing = append(missing, p.Entitlements[i].missingFields()...)
	}
	if len(missing) > 0 {
		return errors.NewValidation(missing...)
	}
	return nil
}

// EntitlementPayload describes one subscription entitlement inside an
// organization payload. UpdateOn is a nullable YYYY-MM-DD string.
type EntitlementPayload struct {
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description"`
	Resources   map[string]any `json:"resources"`
	UpdateOn    *string        `json:"update_on"`

	present map[string]bool
}

func (p *EntitlementPayload) UnmarshalJSON(b []byte) error {
	type alias EntitlementPayload
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = EntitlementPayload(a)
	p.present = make(map[string]bool, len(raw))
	for k := range raw {
		p.present[k] = true
	}
	return nil
}

func (p *EntitlementPayload) missingFields() []string {
	var missing []string
	for _, key := range []string{"name", "slug", "description", "resources", "update_on"} {
		if !p.present[key] {
			missing = append(missing, "entitlements."+key)
		}
	}
	return missing
}

// UpdateDate parses the entitlement's update_on value. A null or
// missing value yields nil; an unparsable string is downgraded to nil
// with a diagnostic, never an error.
func (p *EntitlementPayload) UpdateDate() *string {
	if p.UpdateOn == nil {
		log.Debug().Str("entitlement", p.Slug).Msg("entitlement has no update_on date")
		return nil
	}
	t, err := time.Parse("2006-01-02", *p.UpdateOn)
	if err != nil {
		log.Warn().Str("entitlement", p.Slug).Str("update_on", *p.UpdateOn).
			Msg("unparsable update_on date, treating as null")
		return nil
	}
	s := t.Format("2006-01-02")
	return &s
}
