package reconcile

import (
	"database/sql"

	"github.com/rs/zerolog/log"

	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
)

// UserObserver is notified after a user reconciliation commits. Called
// synchronously, fire-and-forget: return values and panics are the
// observer's own business.
type UserObserver func(user *models.User, payload *UserPayload)

// UserReconciler merges user payloads into the local User record and
// drives membership reconciliation for the payload's organizations.
type UserReconciler struct {
	db                  *sql.DB
	users               *repositories.UserRepository
	memberships         *MembershipReconciler
	disableCreateAgency bool
	observers           []UserObserver
}

func NewUserReconciler(db *sql.DB, users *repositories.UserRepository, memberships *MembershipReconciler, disableCreateAgency bool) *UserReconciler {
	return &UserReconciler{
		db:                  db,
		users:               users,
		memberships:         memberships,
		disableCreateAgency: disableCreateAgency,
	}
}

// Subscribe registers an observer. Meant to be called during wiring,
// before the reconciler handles traffic.
func (r *UserReconciler) Subscribe(fn UserObserver) {
	r.observers = append(r.observers, fn)
}

// Reconcile merges the payload for one user inside a single
// transaction. When agency accounts are disabled and the payload is an
// agency, the call is a no-op returning (nil, false, nil).
func (r *UserReconciler) Reconcile(uuid string, payload *UserPayload) (*models.User, bool, error) {
	if err := payload.Validate(); err != nil {
		return nil, false, err
	}

	if payload.IsAgency && r.disableCreateAgency {
		log.Debug().Str("user", uuid).Msg("skipping agency account, agency creation disabled")
		return nil, false, nil
	}

	tx, err := r.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	user := mapUser(uuid, payload)
	created, err := r.users.UpsertTx(tx, user)
	if err != nil {
		return nil, false, err
	}

	if err := r.memberships.ReconcileTx(tx, user, payload.Organizations); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}

	for _, fn := range r.observers {
		fn(user, payload)
	}

	return user, created, nil
}

// mapUser translates provider keys to local fields. The update is
// total over the mapped set: absent keys land as their defaults.
func mapUser(uuid string, p *UserPayload) *models.User {
	return &models.User{
		UUID:          uuid,
		Username:      p.PreferredUsername,
		Email:         p.Email,
		Name:          p.Name,
		AvatarURL:     p.Picture,
		Bio:           p.Bio,
		EmailFailed:   p.EmailFailed,
		EmailVerified: p.EmailVerified,
		UseAutologin:  p.UseAutologin,
	}
}
