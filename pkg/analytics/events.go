package analytics

import (
	"strings"
	"time"
)

// EventType identifies the kind of business fact a RawEvent records.
type EventType string

// Known event types. Adding a type means adding it here, to AllEventTypes
// and to Domain; TestEveryEventTypeHasADomain catches a missed case.
const (
	EventPageView               EventType = "PAGE_VIEW"
	EventProductView            EventType = "PRODUCT_VIEW"
	EventSearch                 EventType = "SEARCH"
	EventAddToCart              EventType = "ADD_TO_CART"
	EventRemoveFromCart         EventType = "REMOVE_FROM_CART"
	EventCheckoutComplete       EventType = "CHECKOUT_COMPLETE"
	EventUserRegistered         EventType = "USER_REGISTERED"
	EventUserLogin              EventType = "USER_LOGIN"
	EventOrderCreated           EventType = "ORDER_CREATED"
	EventOrderShipped           EventType = "ORDER_SHIPPED"
	EventOrderDelivered         EventType = "ORDER_DELIVERED"
	EventOrderCancelled         EventType = "ORDER_CANCELLED"
	EventPaymentInitiated       EventType = "PAYMENT_INITIATED"
	EventPaymentCompleted       EventType = "PAYMENT_COMPLETED"
	EventPaymentFailed          EventType = "PAYMENT_FAILED"
	EventPaymentRefunded        EventType = "PAYMENT_REFUNDED"
	EventInventoryUpdated       EventType = "INVENTORY_UPDATED"
	EventWarehouseTaskCreated   EventType = "WAREHOUSE_TASK_CREATED"
	EventWarehouseTaskCompleted EventType = "WAREHOUSE_TASK_COMPLETED"
	EventServiceError           EventType = "SERVICE_ERROR"
	EventHealthCheck            EventType = "HEALTH_CHECK"
)

// EventDomain groups event types by the business area that produces them.
type EventDomain string

const (
	DomainEngagement EventDomain = "engagement"
	DomainCommerce   EventDomain = "commerce"
	DomainOrder      EventDomain = "order"
	DomainPayment    EventDomain = "payment"
	DomainInventory  EventDomain = "inventory"
	DomainPlatform   EventDomain = "platform"
)

// AllEventTypes returns every known event type in declaration order.
func AllEventTypes() []EventType {
	return []EventType{
		EventPageView, EventProductView, EventSearch,
		EventAddToCart, EventRemoveFromCart, EventCheckoutComplete,
		EventUserRegistered, EventUserLogin,
		EventOrderCreated, EventOrderShipped, EventOrderDelivered, EventOrderCancelled,
		EventPaymentInitiated, EventPaymentCompleted, EventPaymentFailed, EventPaymentRefunded,
		EventInventoryUpdated, EventWarehouseTaskCreated, EventWarehouseTaskCompleted,
		EventServiceError, EventHealthCheck,
	}
}

// Domain reports the business domain of the event type. ok is false for
// types outside the known set.
func (t EventType) Domain() (domain EventDomain, ok bool) {
	switch t {
	case EventPageView, EventProductView, EventSearch, EventUserRegistered, EventUserLogin:
		return DomainEngagement, true
	case EventAddToCart, EventRemoveFromCart, EventCheckoutComplete:
		return DomainCommerce, true
	case EventOrderCreated, EventOrderShipped, EventOrderDelivered, EventOrderCancelled:
		return DomainOrder, true
	case EventPaymentInitiated, EventPaymentCompleted, EventPaymentFailed, EventPaymentRefunded:
		return DomainPayment, true
	case EventInventoryUpdated, EventWarehouseTaskCreated, EventWarehouseTaskCompleted:
		return DomainInventory, true
	case EventServiceError, EventHealthCheck:
		return DomainPlatform, true
	}
	return "", false
}

// Valid reports whether t is part of the known set.
func (t EventType) Valid() bool {
	_, ok := t.Domain()
	return ok
}

func (t EventType) String() string {
	return string(t)
}

// ParseEventType accepts the wire tag in any case ("product_view" or
// "PRODUCT_VIEW").
func ParseEventType(s string) (EventType, bool) {
	t := EventType(strings.ToUpper(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", false
	}
	return t, true
}

// RawEvent is an immutable business fact recorded by an upstream producer.
type RawEvent struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"event_type"`
	Service    string            `json:"service"`
	UserID     string            `json:"user_id,omitempty"`
	SessionID  string            `json:"session_id,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// DistinctField selects the identifier used by unique counts.
type DistinctField string

const (
	DistinctUser    DistinctField = "user_id"
	DistinctSession DistinctField = "session_id"
)

// Value returns the identifier of e selected by f.
func (f DistinctField) Value(e RawEvent) string {
	switch f {
	case DistinctSession:
		return e.SessionID
	default:
		return e.UserID
	}
}

// EventFilter narrows event store queries. Empty Types matches every type;
// Start is inclusive and End exclusive.
type EventFilter struct {
	Types   []EventType
	Start   time.Time
	End     time.Time
	Service string
	UserID  string
}

// Matches reports whether e satisfies the filter.
func (f EventFilter) Matches(e RawEvent) bool {
	if e.Timestamp.Before(f.Start) || !e.Timestamp.Before(f.End) {
		return false
	}
	if f.Service != "" && e.Service != f.Service {
		return false
	}
	if f.UserID != "" && e.UserID != f.UserID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// TypeStrings returns the filter's event types as plain strings, the form
// SQL adapters bind as array parameters.
func (f EventFilter) TypeStrings() []string {
	out := make([]string, len(f.Types))
	for i, t := range f.Types {
		out[i] = string(t)
	}
	return out
}
