package entities

import (
	"time"

	"gorm.io/datatypes"
)

// Direction controls which way records flow between this installation and a peer.
type Direction string

const (
	DirectionPush Direction = "push" // local changes are sent to the peer
	DirectionPull Direction = "pull" // peer changes are accepted locally
	DirectionBoth Direction = "both"
)

func (d Direction) Valid() bool {
	switch d {
	case DirectionPush, DirectionPull, DirectionBoth:
		return true
	}
	return false
}

// AllowsOutbound reports whether local changes may be sent to the peer.
func (d Direction) AllowsOutbound() bool {
	return d == DirectionPush || d == DirectionBoth
}

// AllowsInbound reports whether changes from the peer may be applied locally.
func (d Direction) AllowsInbound() bool {
	return d == DirectionPull || d == DirectionBoth
}

type SiteStatus string

const (
	SiteStatusActive   SiteStatus = "active"
	SiteStatusDisabled SiteStatus = "disabled"
	SiteStatusError    SiteStatus = "error"
)

func (s SiteStatus) Valid() bool {
	switch s {
	case SiteStatusActive, SiteStatusDisabled, SiteStatusError:
		return true
	}
	return false
}

// Domain is one of the replicated record kinds.
type Domain string

const (
	DomainBooking      Domain = "booking"
	DomainAvailability Domain = "availability"
	DomainCustomer     Domain = "customer"
)

func (d Domain) Valid() bool {
	switch d {
	case DomainBooking, DomainAvailability, DomainCustomer:
		return true
	}
	return false
}

type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
	ActionSync   Action = "sync"
)

func (a Action) Valid() bool {
	switch a {
	case ActionCreate, ActionUpdate, ActionDelete, ActionSync:
		return true
	}
	return false
}

type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

type ConflictType string

const (
	ConflictTypeDoubleBooking    ConflictType = "double_booking"
	ConflictTypeConcurrentUpdate ConflictType = "concurrent_update"
)

// Resolution is the operator's decision for a conflict. A nil *Resolution means unresolved.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerge  Resolution = "merge"
	ResolutionSkip   Resolution = "skip"
)

func (r Resolution) Valid() bool {
	switch r {
	case ResolutionLocal, ResolutionRemote, ResolutionMerge, ResolutionSkip:
		return true
	}
	return false
}

// RemoteSite is a peer installation this site exchanges records with.
type RemoteSite struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	Name             string     `gorm:"size:200" json:"name"`
	BaseURL          string     `gorm:"size:500;uniqueIndex" json:"base_url"`
	APIKey           string     `gorm:"size:100;uniqueIndex" json:"api_key"`
	APISecret        string     `gorm:"size:500" json:"-"`
	Direction        Direction  `gorm:"size:10;default:both" json:"direction"`
	Status           SiteStatus `gorm:"size:20;index;default:active" json:"status"`
	SyncBookings     bool       `json:"sync_bookings"`
	SyncAvailability bool       `json:"sync_availability"`
	SyncCustomers    bool       `json:"sync_customers"`
	LastSync         *time.Time `json:"last_sync,omitempty"`
	LastError        string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (RemoteSite) TableName() string {
	return "remote_sites"
}

// SyncsDomain reports whether the per-domain flag for d is enabled.
func (s *RemoteSite) SyncsDomain(d Domain) bool {
	switch d {
	case DomainBooking:
		return s.SyncBookings
	case DomainAvailability:
		return s.SyncAvailability
	case DomainCustomer:
		return s.SyncCustomers
	}
	return false
}

// QueueItem is one pending unit of outbound work for a peer.
type QueueItem struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	SiteID         uint           `gorm:"index;not null" json:"site_id"`
	Action         Action         `gorm:"size:10;not null" json:"action"`
	Domain         Domain         `gorm:"size:20;not null" json:"domain"`
	ObjectID       uint           `gorm:"not null" json:"object_id"`
	Payload        datatypes.JSON `json:"payload"`
	Priority       int            `gorm:"default:10;index:idx_remote_queue_ready,priority:2" json:"priority"`
	Status         QueueStatus    `gorm:"size:20;default:pending;index:idx_remote_queue_ready,priority:1" json:"status"`
	Attempts       int            `gorm:"default:0" json:"attempts"`
	MaxAttempts    int            `gorm:"default:5" json:"max_attempts"`
	ScheduledAt    time.Time      `gorm:"index:idx_remote_queue_ready,priority:3" json:"scheduled_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
	ErrorMessage   string         `gorm:"type:text" json:"error_message,omitempty"`
	LeaseToken     string         `gorm:"size:36" json:"-"`
	LeaseExpiresAt *time.Time     `json:"-"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

func (QueueItem) TableName() string {
	return "remote_queue"
}

// Mapping correlates a local record with its counterpart on a peer.
type Mapping struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	SiteID      uint      `gorm:"not null;uniqueIndex:idx_mapping_local,priority:1;uniqueIndex:idx_mapping_remote,priority:1" json:"site_id"`
	Domain      Domain    `gorm:"size:20;not null;uniqueIndex:idx_mapping_local,priority:2;uniqueIndex:idx_mapping_remote,priority:2" json:"domain"`
	LocalID     uint      `gorm:"not null;uniqueIndex:idx_mapping_local,priority:3" json:"local_id"`
	RemoteID    uint      `gorm:"not null;uniqueIndex:idx_mapping_remote,priority:3" json:"remote_id"`
	ContentHash string    `gorm:"size:64" json:"content_hash"`
	LastSynced  time.Time `json:"last_synced"`
}

func (Mapping) TableName() string {
	return "remote_mappings"
}

// ConflictRecord is a divergence between a local record and an incoming change.
type ConflictRecord struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	SiteID       uint           `gorm:"index;not null" json:"site_id"`
	Domain       Domain         `gorm:"size:20;not null" json:"domain"`
	LocalID      uint           `json:"local_id"`
	RemoteID     uint           `json:"remote_id"`
	LocalData    datatypes.JSON `json:"local_data"`
	RemoteData   datatypes.JSON `json:"remote_data"`
	ConflictType ConflictType   `gorm:"size:30;index" json:"conflict_type"`
	Resolution   *Resolution    `gorm:"size:10;index" json:"resolution"`
	ResolvedAt   *time.Time     `json:"resolved_at,omitempty"`
	ResolvedBy   string         `gorm:"size:100" json:"resolved_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

func (ConflictRecord) TableName() string {
	return "remote_conflicts"
}

// IsResolved reports whether a resolution has been recorded.
func (c *ConflictRecord) IsResolved() bool {
	return c.Resolution != nil
}
