package reconcile

import (
	"sort"

	"github.com/rs/zerolog/log"

	"idsync/internal/pkg/errors"
	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
)

// MembershipReconciler merges a user payload's organization list into
// the local membership set. Throughout a call it maintains two
// invariants: exactly one membership per user is active when the call
// ends, and the membership to the user's individual organization is
// never deleted.
type MembershipReconciler struct {
	memberships   *repositories.MembershipRepository
	organizations *OrganizationReconciler
}

func NewMembershipReconciler(memberships *repositories.MembershipRepository, organizations *OrganizationReconciler) *MembershipReconciler {
	return &MembershipReconciler{memberships: memberships, organizations: organizations}
}

// ReconcileTx runs inside the user reconciliation's transaction.
func (r *MembershipReconciler) ReconcileTx(q repositories.DBTX, user *models.User, descriptors []OrganizationPayload) error {
	// snapshot of the user's organizations; descriptors seen in the
	// payload are removed from it, anything left over is stale
	existing, err := r.memberships.ListForUserTx(q, user.UUID)
	if err != nil {
		return err
	}
	current := make(map[string]*models.Membership, len(existing))
	for _, m := range existing {
		current[m.OrgUUID] = m
	}

	// Non-individual organizations are reconciled before the
	// individual one. The order is load-bearing: with several unseen
	// organizations in one payload, it decides which new membership
	// becomes the active one.
	sorted := make([]OrganizationPayload, len(descriptors))
	copy(sorted, descriptors)
	sort.SliceStable(sorted, func(i, j int) bool {
		return !sorted[i].Individual && sorted[j].Individual
	})

	var staged []*models.Membership
	active := true
	for i := range sorted {
		descriptor := &sorted[i]
		if !descriptor.Has("uuid") {
			return errors.NewValidation("organizations.uuid")
		}

		org, _, err := r.organizations.ReconcileTx(q, descriptor.UUID, descriptor)
		if err != nil {
			return err
		}

		if _, ok := current[org.UUID]; ok {
			// still a member; keep the membership, refresh admin
			delete(current, org.UUID)
			if err := r.memberships.UpdateAdminTx(q, user.UUID, org.UUID, descriptor.Admin); err != nil {
				return err
			}
		} else {
			// only the first new membership in a call activates
			staged = append(staged, &models.Membership{
				UserUUID: user.UUID,
				OrgUUID:  org.UUID,
				Active:   active,
				Admin:    descriptor.Admin,
			})
			active = false
		}
	}

	if len(staged) > 0 {
		// the first staged membership becomes the sole active one
		if err := r.memberships.DeactivateAllTx(q, user.UUID); err != nil {
			return err
		}
		for _, m := range staged {
			if err := r.memberships.InsertTx(q, m); err != nil {
				return err
			}
		}
	}

	// the user must keep an active organization: if the active one is
	// slated for removal, fall back to the individual organization
	activeMembership, err := r.memberships.GetActiveTx(q, user.UUID)
	if err != nil {
		return err
	}
	if activeMembership != nil {
		if _, doomed := current[activeMembership.OrgUUID]; doomed {
			if err := r.memberships.ActivateIndividualTx(q, user.UUID); err != nil {
				return err
			}
		}
	}

	// never remove the user's individual organization, whatever the
	// payload says
	for orgUUID, m := range current {
		if m.Organization != nil && m.Organization.Individual {
			log.Error().Str("user", user.UUID).Str("organization", orgUUID).
				Msg("payload omits the user's individual organization, keeping membership")
			delete(current, orgUUID)
		}
	}

	stale := make([]string, 0, len(current))
	for orgUUID := range current {
		stale = append(stale, orgUUID)
	}
	return r.memberships.DeleteByOrgsTx(q, user.UUID, stale)
}
