package trace

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("product not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("admin key not authorized")
)

const (
	EventsQueue   = "trace.events"
	EventCreated  = "product_created"
	EventAppended = "status_appended"
	EventDeleted  = "product_deleted"
)

// StatusEvent is one immutable fact about a product's state. Events are only
// ever appended; Seq orders them within a product and breaks timestamp ties.
type StatusEvent struct {
	ProductID int64     `json:"-"`
	Seq       int64     `json:"-"`
	Status    string    `json:"status" example:"Shipped"`
	Details   string    `json:"details" example:"Left warehouse"`
	Location  string    `json:"location,omitempty" example:"HCMC"`
	Timestamp time.Time `json:"timestamp" example:"2026-02-24T12:00:00Z"`
}

// Product carries its status history. A product always has at least one
// event (the creation event); the current status is derived, never stored.
type Product struct {
	ID           int64         `json:"productId" example:"1"`
	Name         string        `json:"name" example:"Widget"`
	Manufacturer string        `json:"manufacturer" example:"Acme"`
	ImageRef     string        `json:"imageUrl" example:"/uploads/3f1a.png"`
	CreatedAt    time.Time     `json:"createdAt" example:"2026-02-24T12:00:00Z"`
	History      []StatusEvent `json:"history,omitempty"`
}

// Current returns the most recent status event, or nil for a product whose
// history has not been loaded.
func (p Product) Current() *StatusEvent {
	if len(p.History) == 0 {
		return nil
	}
	return &p.History[len(p.History)-1]
}

// CreateProductInput carries the fields of the creation operation. ImageRef
// is an opaque reference to an externally stored image; the core never
// interprets it.
type CreateProductInput struct {
	Name           string
	Manufacturer   string
	ImageRef       string
	InitialStatus  string
	InitialDetails string
}

// TraceEvent is the message published to the notifications queue after a
// successful mutation.
type TraceEvent struct {
	EventType string    `json:"event_type"`
	ProductID int64     `json:"product_id"`
	Status    string    `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
