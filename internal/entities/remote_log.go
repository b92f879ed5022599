package entities

import (
	"time"

	"gorm.io/datatypes"
)

type LogDirection string

const (
	LogDirectionOutbound LogDirection = "outbound"
	LogDirectionInbound  LogDirection = "inbound"
)

type LogStatus string

const (
	LogStatusPending LogStatus = "pending"
	LogStatusSuccess LogStatus = "success"
	LogStatusError   LogStatus = "error"
)

// TransportLogEntry records one request/response cycle with a peer.
// Rows are written in pending state before the call, so a hung request leaves a trace.
type TransportLogEntry struct {
	ID         uint           `gorm:"primaryKey" json:"id"`
	SiteID     uint           `gorm:"index" json:"site_id"`
	Direction  LogDirection   `gorm:"size:10;index" json:"direction"`
	Method     string         `gorm:"size:10" json:"method"`
	Endpoint   string         `gorm:"size:500" json:"endpoint"`
	RequestID  string         `gorm:"size:36;index" json:"request_id"`
	Status     LogStatus      `gorm:"size:10;index" json:"status"`
	HTTPStatus int            `json:"http_status,omitempty"`
	Payload    datatypes.JSON `json:"payload,omitempty"`
	Response   string         `gorm:"type:text" json:"response,omitempty"`
	Error      string         `gorm:"size:500" json:"error,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

func (TransportLogEntry) TableName() string {
	return "remote_logs"
}
