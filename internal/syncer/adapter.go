// Package syncer translates local booking, availability and customer records
// to and from their wire payloads. Each domain adapter queues outbound work
// for eligible peers, pushes queued items, and applies inbound changes,
// recording a conflict instead of overwriting when local state diverged.
package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/mrlokans/sitesync/internal/database/bookings"
	"github.com/mrlokans/sitesync/internal/database/conflicts"
	"github.com/mrlokans/sitesync/internal/database/mappings"
	"github.com/mrlokans/sitesync/internal/database/queue"
	"github.com/mrlokans/sitesync/internal/database/sites"
	"github.com/mrlokans/sitesync/internal/entities"
	"github.com/mrlokans/sitesync/internal/logger"
	"github.com/mrlokans/sitesync/internal/metrics"
	"github.com/mrlokans/sitesync/internal/transport"
)

// Queue priorities; lower drains first.
const (
	PriorityDelete       = 5
	PriorityAvailability = 5
	PriorityBooking      = 10
	PriorityCustomer     = 15
)

// Deps are the collaborators shared by all adapters.
type Deps struct {
	Sites     *sites.Repository
	Mappings  *mappings.Repository
	Queue     *queue.Repository
	Conflicts *conflicts.Repository
	Store     *bookings.Repository
	Client    *transport.Client
	// SourceSite is this installation's public base URL, sent in every payload.
	SourceSite  string
	MaxAttempts int
	Logger      *zap.Logger
}

// Adapters groups the adapter of every domain.
type Adapters struct {
	Booking      *BookingAdapter
	Availability *AvailabilityAdapter
	Customer     *CustomerAdapter
}

func NewAdapters(deps Deps) *Adapters {
	return &Adapters{
		Booking:      NewBookingAdapter(deps),
		Availability: NewAvailabilityAdapter(deps),
		Customer:     NewCustomerAdapter(deps),
	}
}

// Inbound is a change received from a peer.
type Inbound struct {
	Method string
	Body   []byte
	// Site is the peer authenticated by the request signature, if any.
	Site *entities.RemoteSite
}

type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeConflict Outcome = "conflict"
	OutcomeDeleted  Outcome = "deleted"
)

// Result is the outcome of applying an inbound change.
type Result struct {
	Outcome  Outcome
	LocalID  uint
	Conflict *entities.ConflictRecord
}

// Reply converts the result to the wire reply.
func (r *Result) Reply() Reply {
	switch r.Outcome {
	case OutcomeConflict:
		return Reply{Status: ReplyConflict, LocalID: r.LocalID, ConflictID: r.Conflict.ID}
	case OutcomeDeleted:
		return Reply{Status: ReplyDeleted, LocalID: r.LocalID}
	}
	return Reply{Status: ReplyApplied, LocalID: r.LocalID}
}

// ActionForMethod maps an HTTP method to a sync action.
func ActionForMethod(method string) (entities.Action, error) {
	switch method {
	case http.MethodPost:
		return entities.ActionCreate, nil
	case http.MethodPut, http.MethodPatch:
		return entities.ActionUpdate, nil
	case http.MethodDelete:
		return entities.ActionDelete, nil
	}
	return "", fmt.Errorf("%w: method %s", ErrUnsupportedAction, method)
}

// MethodForAction maps a sync action to the HTTP method used to push it.
func MethodForAction(action entities.Action) (string, error) {
	switch action {
	case entities.ActionCreate:
		return http.MethodPost, nil
	case entities.ActionUpdate, entities.ActionSync:
		return http.MethodPut, nil
	case entities.ActionDelete:
		return http.MethodDelete, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedAction, action)
}

// base holds the behavior shared by all domain adapters.
type base struct {
	deps   Deps
	domain entities.Domain
	log    *zap.Logger
	// mu serializes local writes made on behalf of peers.
	mu *sync.Mutex
}

func newBase(deps Deps, domain entities.Domain) base {
	return base{
		deps:   deps,
		domain: domain,
		log:    logger.OrNop(deps.Logger).With(zap.String("domain", string(domain))),
		mu:     &sync.Mutex{},
	}
}

func (b *base) envelope(localID uint, hash string) Envelope {
	return Envelope{ID: localID, SourceSite: b.deps.SourceSite, Hash: hash}
}

// enqueue adds the payload to the queue of every site eligible for this domain.
func (b *base) enqueue(ctx context.Context, localID uint, action entities.Action, priority int, payload any) (int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to encode payload: %w", err)
	}

	targets, err := b.deps.Sites.ListEligible(ctx, b.domain)
	if err != nil {
		return 0, fmt.Errorf("failed to list eligible sites: %w", err)
	}

	for _, site := range targets {
		item := &entities.QueueItem{
			SiteID:      site.ID,
			Action:      action,
			Domain:      b.domain,
			ObjectID:    localID,
			Payload:     datatypes.JSON(data),
			Priority:    priority,
			MaxAttempts: b.deps.MaxAttempts,
		}
		if _, err := b.deps.Queue.Enqueue(ctx, item); err != nil {
			return 0, err
		}
		metrics.QueueItemsEnqueued.WithLabelValues(string(b.domain)).Inc()
	}

	if len(targets) > 0 {
		b.log.Debug("queued outgoing change",
			zap.Uint("local_id", localID),
			zap.String("action", string(action)),
			zap.Int("sites", len(targets)),
		)
	}
	return len(targets), nil
}

// resolveSource finds the peer named in the envelope and checks that it may
// send changes for this domain.
func (b *base) resolveSource(ctx context.Context, in Inbound, env Envelope) (*entities.RemoteSite, error) {
	site, err := b.deps.Sites.GetByURL(ctx, env.SourceSite)
	if errors.Is(err, sites.ErrSiteNotFound) || errors.Is(err, sites.ErrInvalidSite) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSite, env.SourceSite)
	}
	if err != nil {
		return nil, err
	}
	if in.Site != nil && in.Site.ID != site.ID {
		return nil, ErrSiteMismatch
	}
	if site.Status == entities.SiteStatusDisabled {
		return nil, ErrSiteDisabled
	}
	if !site.Direction.AllowsInbound() {
		return nil, fmt.Errorf("%w: site %d is %s", ErrDirectionForbidden, site.ID, site.Direction)
	}
	if !site.SyncsDomain(b.domain) {
		return nil, fmt.Errorf("%w: %s", ErrDomainDisabled, b.domain)
	}
	return site, nil
}

// mappingFor returns the mapping for a remote id, or nil when there is none.
func (b *base) mappingFor(ctx context.Context, siteID, remoteID uint) (*entities.Mapping, error) {
	m, err := b.deps.Mappings.GetByRemote(ctx, siteID, b.domain, remoteID)
	if errors.Is(err, mappings.ErrMappingNotFound) {
		return nil, nil
	}
	return m, err
}

// mappingForLocal returns the mapping a local record has with a site, or nil.
func (b *base) mappingForLocal(ctx context.Context, siteID, localID uint) (*entities.Mapping, error) {
	m, err := b.deps.Mappings.GetByLocal(ctx, siteID, b.domain, localID)
	if errors.Is(err, mappings.ErrMappingNotFound) {
		return nil, nil
	}
	return m, err
}

func (b *base) remember(ctx context.Context, siteID, localID, remoteID uint, hash string) error {
	err := b.deps.Mappings.Upsert(ctx, &entities.Mapping{
		SiteID:      siteID,
		Domain:      b.domain,
		LocalID:     localID,
		RemoteID:    remoteID,
		ContentHash: hash,
	})
	if err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}

func (b *base) forget(ctx context.Context, siteID, localID uint) error {
	if err := b.deps.Mappings.Delete(ctx, siteID, b.domain, localID); err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	return nil
}

// conflict records a divergence and returns it as the result.
func (b *base) conflict(ctx context.Context, siteID uint, kind entities.ConflictType, localID, remoteID uint, local, remote any) (*Result, error) {
	localData, err := json.Marshal(local)
	if err != nil {
		return nil, err
	}
	remoteData, err := json.Marshal(remote)
	if err != nil {
		return nil, err
	}

	rec := &entities.ConflictRecord{
		SiteID:       siteID,
		Domain:       b.domain,
		LocalID:      localID,
		RemoteID:     remoteID,
		LocalData:    datatypes.JSON(localData),
		RemoteData:   datatypes.JSON(remoteData),
		ConflictType: kind,
	}
	if err := b.deps.Conflicts.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to record conflict: %w", err)
	}

	metrics.ConflictsDetected.WithLabelValues(string(b.domain), string(kind)).Inc()
	metrics.InboundChanges.WithLabelValues(string(b.domain), string(OutcomeConflict)).Inc()
	b.log.Info("conflict recorded",
		zap.Uint("conflict_id", rec.ID),
		zap.Uint("site_id", siteID),
		zap.String("type", string(kind)),
		zap.Uint("local_id", localID),
		zap.Uint("remote_id", remoteID),
	)
	return &Result{Outcome: OutcomeConflict, LocalID: localID, Conflict: rec}, nil
}

func (b *base) applied(outcome Outcome, localID uint) *Result {
	metrics.InboundChanges.WithLabelValues(string(b.domain), string(outcome)).Inc()
	return &Result{Outcome: outcome, LocalID: localID}
}

// push sends a queued item to the peer and records the peer's id for the record.
func (b *base) push(ctx context.Context, site *entities.RemoteSite, item *entities.QueueItem) error {
	method, err := MethodForAction(item.Action)
	if err != nil {
		return &transport.TransportError{StatusCode: http.StatusBadRequest, Message: err.Error()}
	}

	resp, err := b.deps.Client.Send(ctx, site, method, string(b.domain), item.Payload)
	if err != nil {
		return err
	}

	if item.Action == entities.ActionDelete {
		return b.forget(ctx, site.ID, item.ObjectID)
	}

	var reply Reply
	if err := resp.Decode(&reply); err != nil {
		return err
	}
	switch reply.Status {
	case ReplyApplied:
		if reply.LocalID == 0 {
			return nil
		}
		var env Envelope
		if err := json.Unmarshal(item.Payload, &env); err != nil {
			return fmt.Errorf("failed to decode queued payload: %w", err)
		}
		return b.remember(ctx, site.ID, item.ObjectID, reply.LocalID, env.Hash)
	case ReplyConflict:
		// Delivered; the divergence is resolved on the peer.
		b.log.Info("peer reported conflict",
			zap.Uint("site_id", site.ID),
			zap.Uint("object_id", item.ObjectID),
			zap.Uint("conflict_id", reply.ConflictID),
		)
	}
	return nil
}

func decodeInbound(body []byte, v any) error {
	if len(body) == 0 {
		return invalid("empty payload")
	}
	if err := json.Unmarshal(body, v); err != nil {
		return invalid("malformed payload: %v", err)
	}
	return nil
}
