package pull

import (
	"context"

	"github.com/rs/zerolog/log"

	"idsync/internal/engine/reconcile"
	"idsync/internal/platform/repositories"
)

// Resource types the coordinator knows how to pull.
const (
	TypeUser         = "user"
	TypeOrganization = "organization"
)

// Coordinator decides whether a remote fetch is permitted and routes
// fetched payloads to the right reconciler. Designed for asynchronous,
// retryable invocation: transient fetch errors bubble up as
// TransientError for the task layer to retry with backoff.
type Coordinator struct {
	client        *Client
	users         *reconcile.UserReconciler
	organizations *reconcile.OrganizationReconciler
	userRepo      *repositories.UserRepository
	orgRepo       *repositories.OrganizationRepository

	// disableCreate restricts pulls to identities that already exist
	// locally, so webhook floods cannot spam entity creation.
	disableCreate bool
}

func NewCoordinator(client *Client, users *reconcile.UserReconciler, organizations *reconcile.OrganizationReconciler,
	userRepo *repositories.UserRepository, orgRepo *repositories.OrganizationRepository, disableCreate bool) *Coordinator {
	return &Coordinator{
		client:        client,
		users:         users,
		organizations: organizations,
		userRepo:      userRepo,
		orgRepo:       orgRepo,
		disableCreate: disableCreate,
	}
}

// Pull fetches one resource from the provider and reconciles it. An
// unknown type or a gated uuid is a silent no-op, not an error.
func (c *Coordinator) Pull(ctx context.Context, typ, uuid string) error {
	switch typ {
	case TypeUser:
		return c.pullUser(ctx, uuid)
	case TypeOrganization:
		return c.pullOrganization(ctx, uuid)
	default:
		log.Warn().Str("type", typ).Msg("pull received invalid type")
		return nil
	}
}

func (c *Coordinator) pullUser(ctx context.Context, uuid string) error {
	if c.disableCreate {
		exists, err := c.userRepo.Exists(uuid)
		if err != nil {
			return err
		}
		if !exists {
			log.Debug().Str("user", uuid).Msg("remote creation disabled, skipping pull for unknown user")
			return nil
		}
	}

	var payload reconcile.UserPayload
	if err := c.client.GetJSON(ctx, "/api/users/"+uuid+"/", &payload); err != nil {
		return err
	}
	log.Info().Str("user", uuid).Msg("pulled user data")

	_, _, err := c.users.Reconcile(uuid, &payload)
	return err
}

func (c *Coordinator) pullOrganization(ctx context.Context, uuid string) error {
	if c.disableCreate {
		exists, err := c.orgRepo.Exists(uuid)
		if err != nil {
			return err
		}
		if !exists {
			log.Debug().Str("organization", uuid).Msg("remote creation disabled, skipping pull for unknown organization")
			return nil
		}
	}

	var payload reconcile.OrganizationPayload
	if err := c.client.GetJSON(ctx, "/api/organizations/"+uuid+"/", &payload); err != nil {
		return err
	}
	log.Info().Str("organization", uuid).Msg("pulled organization data")

	_, _, err := c.organizations.Reconcile(uuid, &payload)
	return err
}
