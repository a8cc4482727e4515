package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Tenant is one business using the agent.
type Tenant struct {
	Key             string
	Name            string
	SnapshotVersion int64
	CreatedAt       time.Time
}

// CatalogItem is one sellable item of a tenant catalog.
type CatalogItem struct {
	TenantKey    string
	SKU          string
	Name         string
	CategoryID   string
	CategoryName string
	Price        float64
	Unit         string
	Tags         string // JSON array stored as text
	InStock      bool
}

// DeliveryArea is a postcode-prefix delivery rule.
type DeliveryArea struct {
	TenantKey string
	Prefix    string
	Fee       float64
	MinOrder  float64
	ETAMin    int
}

// DeliveryException is an exact-postcode override of the prefix rules.
type DeliveryException struct {
	TenantKey string
	Postcode  string
	Fee       float64
	MinOrder  float64
	ETAMin    int
}

// Branch is a physical store location.
type Branch struct {
	TenantKey string
	ID        string
	Name      string
	Postcode  string
	Phone     string
	Lat       float64
	Lon       float64
	Hours     string // JSON object stored as text, e.g. {"mon":"09:00-18:00"}
}

// FAQ is one curated question/answer pair.
type FAQ struct {
	TenantKey string
	ID        string
	Question  string
	Answer    string
	Tags      string // JSON array stored as text
}

// Synonym maps an alternative term to its canonical tag.
type Synonym struct {
	TenantKey string
	Term      string
	Canonical string
}

// Job is one unit of background work (tenant reindex after import).
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// SessionRow is a persisted conversation state blob.
type SessionRow struct {
	TenantKey string
	SessionID string
	StateJSON string
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// TurnAudit records one completed turn for the analytics collaborator.
type TurnAudit struct {
	ID        string
	TenantKey string
	SessionID string
	Intent    string
	Outcome   string
	ClaimKeys string // JSON array stored as text
	LatencyMs int64
	CreatedAt time.Time
}
