package admission

import (
	"github.com/openmind/core-gateway/internal/ledger"
	"github.com/openmind/core-gateway/internal/registry"
	"github.com/openmind/core-gateway/pkg/api"
)

// Controller runs the pre-dispatch guards in a fixed sequence: provider
// lookup, model prefix match, rate-limit bucket, balance reservation.
// A request that fails any guard never reaches a transport.
type Controller struct {
	registry *registry.Registry
	ledger   *ledger.Ledger
}

func New(reg *registry.Registry, led *ledger.Ledger) *Controller {
	return &Controller{registry: reg, ledger: led}
}

// Admit validates the provider/model pair and reserves the estimated
// usage. On success the caller owns the ticket and must finalize it with
// exactly one ledger Commit or Release.
func (c *Controller) Admit(acct ledger.Account, providerID string, req *api.ChatRequest) (*registry.ProviderSpec, *ledger.Ticket, *api.Error) {
	spec, err := c.registry.Admit(providerID, req.Model)
	if err != nil {
		return nil, nil, err
	}

	ticket, err := c.ledger.Reserve(acct, ledger.EstimateUnits(req))
	if err != nil {
		return nil, nil, err
	}

	return spec, ticket, nil
}

// Registry exposes the provider table for the listing surface.
func (c *Controller) Registry() *registry.Registry {
	return c.registry
}
