package syncer

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrlokans/sitesync/internal/database/bookings"
	"github.com/mrlokans/sitesync/internal/entities"
)

// CustomerAdapter replicates customers. Customers are matched by email
// before the mapping table, since the same person may already exist locally.
type CustomerAdapter struct {
	flow[entities.Customer, CustomerFields]
}

func NewCustomerAdapter(deps Deps) *CustomerAdapter {
	a := &CustomerAdapter{}
	a.flow = newFlow[entities.Customer, CustomerFields](deps, entities.DomainCustomer, customerRecords{deps.Store}, bookings.ErrCustomerNotFound, a.apply)
	return a
}

func (a *CustomerAdapter) BuildPayload(ctx context.Context, localID uint) (*CustomerPayload, error) {
	c, err := a.deps.Store.GetCustomer(ctx, localID)
	if err != nil {
		return nil, err
	}
	fields := CustomerFieldsOf(c)
	hash, err := Hash(fields)
	if err != nil {
		return nil, err
	}
	return &CustomerPayload{Envelope: a.envelope(localID, hash), CustomerFields: fields}, nil
}

func (a *CustomerAdapter) QueueOutgoing(ctx context.Context, localID uint, action entities.Action) (int, error) {
	switch action {
	case entities.ActionDelete:
		return a.enqueue(ctx, localID, action, PriorityDelete, a.envelope(localID, ""))
	case entities.ActionCreate, entities.ActionUpdate, entities.ActionSync:
		payload, err := a.BuildPayload(ctx, localID)
		if err != nil {
			return 0, fmt.Errorf("failed to build customer payload: %w", err)
		}
		return a.enqueue(ctx, localID, action, PriorityCustomer, payload)
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
}

func (a *CustomerAdapter) Push(ctx context.Context, site *entities.RemoteSite, item *entities.QueueItem) error {
	return a.push(ctx, site, item)
}

// apply matches customers by email before the mapping table. An email match
// already synced with this peer keeps its drift check; one that never was is
// adopted.
func (a *CustomerAdapter) apply(ctx context.Context, site *entities.RemoteSite, env Envelope, f CustomerFields) (*Result, error) {
	m, err := a.mappingFor(ctx, site.ID, env.ID)
	if err != nil {
		return nil, err
	}

	byEmail, err := a.deps.Store.FindCustomerByEmail(ctx, f.Email)
	if err != nil && !errors.Is(err, bookings.ErrCustomerNotFound) {
		return nil, err
	}
	if byEmail != nil {
		if m != nil && m.LocalID == byEmail.ID {
			return a.update(ctx, site, m, byEmail, env.ID, f)
		}
		// The email match may already be synced with this peer under another
		// remote id; its baseline still decides whether the change applies.
		linked, err := a.mappingForLocal(ctx, site.ID, byEmail.ID)
		if err != nil {
			return nil, err
		}
		if linked != nil {
			return a.update(ctx, site, linked, byEmail, env.ID, f)
		}
		a.log.Debug("adopting existing customer", zap.Uint("local_id", byEmail.ID), zap.Uint("remote_id", env.ID))
		return a.write(ctx, site, byEmail, env.ID, f)
	}

	if m != nil {
		local, err := a.find(ctx, m.LocalID)
		if err != nil {
			return nil, err
		}
		if local != nil {
			return a.update(ctx, site, m, local, env.ID, f)
		}
	}
	return a.create(ctx, site, env.ID, f)
}

type customerRecords struct{ store *bookings.Repository }

func (r customerRecords) get(ctx context.Context, id uint) (*entities.Customer, error) {
	return r.store.GetCustomer(ctx, id)
}

func (r customerRecords) insert(ctx context.Context, c *entities.Customer) error {
	return r.store.CreateCustomer(ctx, c)
}

func (r customerRecords) save(ctx context.Context, c *entities.Customer) error {
	return r.store.SaveCustomer(ctx, c)
}

func (r customerRecords) remove(ctx context.Context, id uint) error {
	_, err := r.store.DeleteCustomer(ctx, id)
	return err
}

func (customerRecords) fields(c *entities.Customer) (uint, CustomerFields) {
	return c.ID, CustomerFieldsOf(c)
}
