package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mrlokans/sitesync/internal/entities"
)

// fieldSet is the replicated part of a local record R.
type fieldSet[R any] interface {
	check() error
	applyTo(r *R)
}

// records is the storage one domain exposes to the shared inbound flow.
type records[R any, F fieldSet[R]] interface {
	get(ctx context.Context, id uint) (*R, error)
	insert(ctx context.Context, r *R) error
	save(ctx context.Context, r *R) error
	remove(ctx context.Context, id uint) error
	// fields returns the record id and its replicated fields.
	fields(r *R) (uint, F)
}

// applyFunc decides how a validated inbound change reaches local storage.
type applyFunc[F any] func(ctx context.Context, site *entities.RemoteSite, env Envelope, f F) (*Result, error)

// flow applies inbound changes and conflict snapshots for one domain.
type flow[R any, F fieldSet[R]] struct {
	base
	recs records[R, F]
	// noun names the record in error messages.
	noun string
	// missing is the error recs.get returns for an unknown id.
	missing error
	// match replaces upsert for domains with extra matching rules.
	match applyFunc[F]
}

func newFlow[R any, F fieldSet[R]](deps Deps, domain entities.Domain, recs records[R, F], missing error, match applyFunc[F]) flow[R, F] {
	return flow[R, F]{
		base:    newBase(deps, domain),
		recs:    recs,
		noun:    string(domain),
		missing: missing,
		match:   match,
	}
}

// HandleIncoming applies a change received from a peer.
func (f *flow[R, F]) HandleIncoming(ctx context.Context, in Inbound) (*Result, error) {
	action, err := ActionForMethod(in.Method)
	if err != nil {
		return nil, err
	}
	// Payloads are flat JSON, so the envelope and the fields decode separately.
	var env Envelope
	if err := decodeInbound(in.Body, &env); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if action == entities.ActionDelete {
		if _, err := checkEnvelope(env, nil); err != nil {
			return nil, err
		}
		site, err := f.resolveSource(ctx, in, env)
		if err != nil {
			return nil, err
		}
		return f.delete(ctx, site, env.ID)
	}

	var fields F
	if err := decodeInbound(in.Body, &fields); err != nil {
		return nil, err
	}
	if err := fields.check(); err != nil {
		return nil, err
	}
	if _, err := checkEnvelope(env, fields); err != nil {
		return nil, err
	}
	site, err := f.resolveSource(ctx, in, env)
	if err != nil {
		return nil, err
	}

	if f.match != nil {
		return f.match(ctx, site, env, fields)
	}
	return f.upsert(ctx, site, env, fields)
}

// upsert treats a create for an already mapped id as a redelivery and takes
// the update path; an update without a mapping is applied as a create.
func (f *flow[R, F]) upsert(ctx context.Context, site *entities.RemoteSite, env Envelope, fields F) (*Result, error) {
	m, local, err := f.mapped(ctx, site.ID, env.ID)
	if err != nil {
		return nil, err
	}
	if local != nil {
		return f.update(ctx, site, m, local, env.ID, fields)
	}
	return f.create(ctx, site, env.ID, fields)
}

// mapped returns the mapping for a remote id and the local record it points
// to. Either is nil when missing.
func (f *flow[R, F]) mapped(ctx context.Context, siteID, remoteID uint) (*entities.Mapping, *R, error) {
	m, err := f.mappingFor(ctx, siteID, remoteID)
	if err != nil || m == nil {
		return nil, nil, err
	}
	local, err := f.find(ctx, m.LocalID)
	return m, local, err
}

// find loads a record, returning nil when it does not exist.
func (f *flow[R, F]) find(ctx context.Context, id uint) (*R, error) {
	r, err := f.recs.get(ctx, id)
	if errors.Is(err, f.missing) {
		return nil, nil
	}
	return r, err
}

func (f *flow[R, F]) create(ctx context.Context, site *entities.RemoteSite, remoteID uint, fields F) (*Result, error) {
	r := new(R)
	fields.applyTo(r)
	if err := f.recs.insert(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", f.noun, err)
	}
	id, err := f.rememberLocal(ctx, site.ID, r, remoteID)
	if err != nil {
		return nil, err
	}
	return f.applied(OutcomeApplied, id), nil
}

// update applies the change only if the local record still matches the hash
// recorded at the last sync; otherwise it records a concurrent_update conflict.
func (f *flow[R, F]) update(ctx context.Context, site *entities.RemoteSite, m *entities.Mapping, local *R, remoteID uint, fields F) (*Result, error) {
	id, localFields := f.recs.fields(local)
	current, err := Hash(localFields)
	if err != nil {
		return nil, err
	}
	if current != m.ContentHash {
		return f.conflict(ctx, site.ID, entities.ConflictTypeConcurrentUpdate, id, remoteID, localFields, fields)
	}
	return f.write(ctx, site, local, remoteID, fields)
}

// write overwrites the local record and maps it to the remote id.
func (f *flow[R, F]) write(ctx context.Context, site *entities.RemoteSite, local *R, remoteID uint, fields F) (*Result, error) {
	fields.applyTo(local)
	if err := f.recs.save(ctx, local); err != nil {
		return nil, fmt.Errorf("failed to update %s: %w", f.noun, err)
	}
	id, err := f.rememberLocal(ctx, site.ID, local, remoteID)
	if err != nil {
		return nil, err
	}
	return f.applied(OutcomeApplied, id), nil
}

func (f *flow[R, F]) delete(ctx context.Context, site *entities.RemoteSite, remoteID uint) (*Result, error) {
	m, err := f.mappingFor(ctx, site.ID, remoteID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return f.applied(OutcomeDeleted, 0), nil
	}
	if err := f.recs.remove(ctx, m.LocalID); err != nil {
		return nil, fmt.Errorf("failed to delete %s: %w", f.noun, err)
	}
	if err := f.forget(ctx, site.ID, m.LocalID); err != nil {
		return nil, err
	}
	return f.applied(OutcomeDeleted, m.LocalID), nil
}

// rememberLocal maps the record to the remote id using the hash of its stored fields.
func (f *flow[R, F]) rememberLocal(ctx context.Context, siteID uint, r *R, remoteID uint) (uint, error) {
	id, fields := f.recs.fields(r)
	hash, err := Hash(fields)
	if err != nil {
		return 0, err
	}
	return id, f.remember(ctx, siteID, id, remoteID, hash)
}

// ApplySnapshot writes a fields snapshot to the local record, creating it
// when localID is zero or no longer exists. It returns the local id and the
// hash of the stored fields.
func (f *flow[R, F]) ApplySnapshot(ctx context.Context, localID uint, data []byte) (uint, string, error) {
	var fields F
	if err := json.Unmarshal(data, &fields); err != nil {
		return 0, "", invalid("malformed snapshot: %v", err)
	}
	if err := fields.check(); err != nil {
		return 0, "", err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	var r *R
	if localID != 0 {
		existing, err := f.find(ctx, localID)
		if err != nil {
			return 0, "", err
		}
		r = existing
	}

	if r == nil {
		r = new(R)
		fields.applyTo(r)
		if err := f.recs.insert(ctx, r); err != nil {
			return 0, "", fmt.Errorf("failed to create %s: %w", f.noun, err)
		}
	} else {
		fields.applyTo(r)
		if err := f.recs.save(ctx, r); err != nil {
			return 0, "", fmt.Errorf("failed to update %s: %w", f.noun, err)
		}
	}

	id, stored := f.recs.fields(r)
	hash, err := Hash(stored)
	return id, hash, err
}

// CurrentHash returns the hash of the local record's fields.
func (f *flow[R, F]) CurrentHash(ctx context.Context, localID uint) (string, error) {
	r, err := f.recs.get(ctx, localID)
	if err != nil {
		return "", err
	}
	_, fields := f.recs.fields(r)
	return Hash(fields)
}
