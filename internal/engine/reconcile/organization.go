package reconcile

import (
	"database/sql"

	"github.com/rs/zerolog/log"

	"idsync/internal/platform/models"
	"idsync/internal/platform/repositories"
)

// EntitlementChooser picks which entitlement from a non-empty payload
// list becomes the organization's active entitlement.
type EntitlementChooser interface {
	ChooseEntitlement(candidates []EntitlementPayload) EntitlementPayload
}

// ResourceUpdater lets a deployment react to an organization's
// entitlement resources changing, inside the reconciliation
// transaction. dateUpdate is the parsed update_on of the chosen
// entitlement, nil when absent or unparsable.
type ResourceUpdater interface {
	UpdateResources(q repositories.DBTX, org *models.Organization, payload *OrganizationPayload, dateUpdate *string) error
}

// firstEntitlement keeps the provider's payload order: the first
// listed entitlement wins.
type firstEntitlement struct{}

func (firstEntitlement) ChooseEntitlement(candidates []EntitlementPayload) EntitlementPayload {
	return candidates[0]
}

// OrganizationReconciler merges organization payloads into the local
// Organization and Entitlement records.
type OrganizationReconciler struct {
	db           *sql.DB
	orgs         *repositories.OrganizationRepository
	entitlements *repositories.EntitlementRepository
	chooser      EntitlementChooser
	resources    ResourceUpdater
}

func NewOrganizationReconciler(db *sql.DB, orgs *repositories.OrganizationRepository, entitlements *repositories.EntitlementRepository) *OrganizationReconciler {
	return &OrganizationReconciler{
		db:           db,
		orgs:         orgs,
		entitlements: entitlements,
		chooser:      firstEntitlement{},
	}
}

// SetEntitlementChooser overrides the default first-in-list selection.
func (r *OrganizationReconciler) SetEntitlementChooser(c EntitlementChooser) {
	r.chooser = c
}

// SetResourceUpdater registers an optional hook run on every
// reconciliation after the entitlement is assigned.
func (r *OrganizationReconciler) SetResourceUpdater(u ResourceUpdater) {
	r.resources = u
}

// Reconcile merges the payload for one organization inside its own
// transaction. Returns the organization and whether it was created.
func (r *OrganizationReconciler) Reconcile(uuid string, payload *OrganizationPayload) (*models.Organization, bool, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	org, created, err := r.ReconcileTx(tx, uuid, payload)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return org, created, nil
}

// ReconcileTx is Reconcile running inside an enclosing transaction,
// used when a user reconciliation upserts its organizations.
func (r *OrganizationReconciler) ReconcileTx(q repositories.DBTX, uuid string, payload *OrganizationPayload) (*models.Organization, bool, error) {
	// fail fast, before any row is touched
	if err := payload.Validate(); err != nil {
		return nil, false, err
	}

	org, created, err := r.orgs.GetOrCreateTx(q, uuid)
	if err != nil {
		return nil, false, err
	}

	if len(payload.Entitlements) > 1 {
		log.Warn().Str("organization", uuid).Int("count", len(payload.Entitlements)).
			Msg("organization payload lists multiple entitlements")
	}

	var entitlement *models.Entitlement
	var dateUpdate *string
	if len(payload.Entitlements) > 0 {
		chosen := r.chooser.ChooseEntitlement(payload.Entitlements)
		dateUpdate = chosen.UpdateDate()
		entitlement = &models.Entitlement{
			Name:        chosen.Name,
			Slug:        chosen.Slug,
			Description: chosen.Description,
			Resources:   chosen.Resources,
		}
		if err := r.entitlements.UpsertTx(q, entitlement); err != nil {
			return nil, false, err
		}
	} else {
		entitlement, _, err = r.entitlements.GetOrCreateTx(q, models.FreeEntitlementSlug, "Free")
		if err != nil {
			return nil, false, err
		}
	}

	org.EntitlementID = &entitlement.ID
	org.Entitlement = entitlement
	org.DateUpdate = dateUpdate

	if r.resources != nil {
		if err := r.resources.UpdateResources(q, org, payload, dateUpdate); err != nil {
			return nil, false, err
		}
	}

	// overwrite only the fields the payload carries
	if payload.Has("name") {
		org.Name = payload.Name
	}
	if payload.Has("slug") {
		org.Slug = payload.Slug
	}
	if payload.Has("individual") {
		org.Individual = payload.Individual
	}
	if payload.Has("private") {
		org.Private = payload.Private
	}
	if payload.Has("card") {
		org.Card = payload.Card
	}
	if payload.Has("payment_failed") {
		org.PaymentFailed = payload.PaymentFailed
	}
	if payload.Has("avatar_url") {
		org.AvatarURL = payload.AvatarURL
	}
	if payload.Has("verified_journalist") {
		org.VerifiedJournalist = payload.VerifiedJournalist
	}

	if err := r.orgs.UpdateTx(q, org); err != nil {
		return nil, false, err
	}
	return org, created, nil
}

// SchemaResourceUpdater checks incoming entitlement resources against
// the deployment's configured field schema, logging keys the schema
// does not recognize. Reads of the mapping apply configured defaults
// through Entitlement.Resource.
type SchemaResourceUpdater struct {
	fields map[string]bool
}

func NewSchemaResourceUpdater(fieldNames []string) *SchemaResourceUpdater {
	fields := make(map[string]bool, len(fieldNames))
	for _, name := range fieldNames {
		fields[name] = true
	}
	return &SchemaResourceUpdater{fields: fields}
}

func (u *SchemaResourceUpdater) UpdateResources(q repositories.DBTX, org *models.Organization, payload *OrganizationPayload, dateUpdate *string) error {
	if org.Entitlement == nil {
		return nil
	}
	for key := range org.Entitlement.Resources {
		if !u.fields[key] {
			log.Warn().Str("organization", org.UUID).Str("entitlement", org.Entitlement.Slug).
				Str("resource", key).Msg("entitlement resource not in configured schema")
		}
	}
	return nil
}
