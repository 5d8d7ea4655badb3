package models

// FreeEntitlementSlug is the well-known entitlement assigned to
// organizations with no active subscription.
const FreeEntitlementSlug = "free"

// User mirrors a user record owned by the identity provider. The UUID
// is assigned by the provider; username and email are unique locally.
type User struct {
	UUID          string `json:"uuid"`
	Username      string `json:"username"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	AvatarURL     string `json:"avatar_url,omitempty"`
	Bio           string `json:"bio,omitempty"`
	EmailFailed   bool   `json:"email_failed"`
	EmailVerified bool   `json:"email_verified"`
	UseAutologin  bool   `json:"use_autologin"`
	CreatedAt     int64  `json:"created_at"`
	UpdatedAt     int64  `json:"updated_at"`
}

// Organization mirrors an organization record owned by the identity
// provider. Every user has exactly one organization with Individual set
// and the same UUID as the user; that organization is never deleted.
type Organization struct {
	UUID               string  `json:"uuid"`
	Name               string  `json:"name"`
	Slug               string  `json:"slug"`
	Private            bool    `json:"private"`
	Individual         bool    `json:"individual"`
	EntitlementID      *int64  `json:"entitlement_id,omitempty"`
	Card               string  `json:"card,omitempty"`
	AvatarURL          string  `json:"avatar_url,omitempty"`
	MaxUsers           int     `json:"max_users"`
	DateUpdate         *string `json:"date_update,omitempty"` // YYYY-MM-DD
	PaymentFailed      bool    `json:"payment_failed"`
	VerifiedJournalist bool    `json:"verified_journalist"`
	CreatedAt          int64   `json:"created_at"`
	UpdatedAt          int64   `json:"updated_at"`

	Entitlement *Entitlement `json:"entitlement,omitempty"`
}

// DisplayName shows "Personal Account" for individual organizations.
func (o *Organization) DisplayName() string {
	if o.Individual {
		return "Personal Account"
	}
	return o.Name
}

// Entitlement is a named bundle of resource grants attached to an
// organization through its subscription plan. The shape of Resources is
// defined by deployment configuration, not by this package.
type Entitlement struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	Description string         `json:"description"`
	Resources   map[string]any `json:"resources"`
}

// Resource reads a single grant from the resources mapping, falling
// back to def when the field is absent or null.
func (e *Entitlement) Resource(field string, def any) any {
	if e == nil || e.Resources == nil {
		return def
	}
	v, ok := e.Resources[field]
	if !ok || v == nil {
		return def
	}
	return v
}

// Membership joins a user to an organization. Exactly one membership
// per user is active at any time; (user, organization) is unique.
type Membership struct {
	UserUUID  string `json:"user_uuid"`
	OrgUUID   string `json:"organization_uuid"`
	Active    bool   `json:"active"`
	Admin     bool   `json:"admin"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`

	Organization *Organization `json:"organization,omitempty"`
}

// APIKey is a service credential for the management API. Only the
// bcrypt hash of the secret is stored; the raw key is shown once.
type APIKey struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	KeyID      string `json:"key_id"`
	SecretHash string `json:"-"`
	CreatedBy  string `json:"created_by"`
	ExpiresAt  *int64 `json:"expires_at,omitempty"`
	RevokedAt  *int64 `json:"revoked_at,omitempty"`
	CreatedAt  int64  `json:"created_at"`
}

// Pull task statuses.
const (
	PullTaskPending = "pending"
	PullTaskDone    = "done"
	PullTaskFailed  = "failed"
)

// PullTask is one scheduled invocation of the pull-data coordinator,
// persisted so the worker can retry transient failures with backoff.
type PullTask struct {
	ID        string `json:"id"`
	Type      string `json:"type"` // "user" or "organization"
	UUID      string `json:"uuid"`
	Status    string `json:"status"`
	Attempts  int    `json:"attempts"`
	NextRunAt int64  `json:"next_run_at"`
	LastError string `json:"last_error,omitempty"`
	CreatedAt int64  `json:"created_at"`
	UpdatedAt int64  `json:"updated_at"`
}
