// Package remote defines the hosted table backend contract consumed by devices: row upserts,
// equality-filtered selects and deletes, and change-feed subscriptions.
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Table names served by the hosted backend.
const (
	TableChallenges   = "challenges"
	TablePets         = "pets"
	TablePartnerships = "partnerships"
)

var (
	// ErrUnauthorized indicates a missing or rejected access token.
	ErrUnauthorized = errors.New("remote: unauthorized")
	// ErrForbidden indicates the caller may not touch the requested rows.
	ErrForbidden = errors.New("remote: forbidden")
	// ErrNotFound indicates an unknown table or missing resource.
	ErrNotFound = errors.New("remote: not found")
	// ErrInvalidFilter indicates a malformed equality filter.
	ErrInvalidFilter = errors.New("remote: invalid filter")
	// ErrChannelClosed indicates an operation on a removed channel.
	ErrChannelClosed = errors.New("remote: channel closed")
)

// Row is a single table row in its JSON wire shape. Keys holding nil encode as explicit nulls.
type Row map[string]any

// EventType is the change-feed event discriminant.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ParseEventType validates a raw event type.
func ParseEventType(rawInput string) (EventType, error) {
	switch eventType := EventType(strings.ToUpper(strings.TrimSpace(rawInput))); eventType {
	case EventInsert, EventUpdate, EventDelete:
		return eventType, nil
	default:
		return "", fmt.Errorf("remote: unknown event type %q", rawInput)
	}
}

// Event is a raw change-feed notification.
type Event struct {
	Type            EventType `json:"eventType"`
	Table           string    `json:"table"`
	New             Row       `json:"new,omitempty"`
	Old             Row       `json:"old,omitempty"`
	CommitTimestamp time.Time `json:"commit_timestamp"`
}

// Filter is a single column equality predicate.
type Filter struct {
	Column string
	Value  string
}

// Eq builds an equality filter.
func Eq(column, value string) Filter {
	return Filter{Column: column, Value: value}
}

// String renders the filter as column=eq.value.
func (f Filter) String() string {
	return f.Column + "=eq." + f.Value
}

// Validate rejects filters missing a column or value.
func (f Filter) Validate() error {
	if strings.TrimSpace(f.Column) == "" {
		return fmt.Errorf("%w: empty column", ErrInvalidFilter)
	}
	if strings.TrimSpace(f.Value) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidFilter)
	}
	return nil
}

// ParseFilter parses the column=eq.value form.
func ParseFilter(rawInput string) (Filter, error) {
	column, expression, found := strings.Cut(strings.TrimSpace(rawInput), "=")
	if !found {
		return Filter{}, fmt.Errorf("%w: %q", ErrInvalidFilter, rawInput)
	}
	value, ok := strings.CutPrefix(expression, "eq.")
	if !ok {
		return Filter{}, fmt.Errorf("%w: only eq is supported", ErrInvalidFilter)
	}
	filter := Filter{Column: strings.TrimSpace(column), Value: value}
	if err := filter.Validate(); err != nil {
		return Filter{}, err
	}
	return filter, nil
}

// Subscription scopes a change-feed channel to one table and filter.
type Subscription struct {
	Channel string
	Table   string
	Filter  Filter
}

// Handler receives change-feed events. Handlers run on the channel's delivery goroutine.
type Handler func(ctx context.Context, event Event)

// Channel is an open change-feed subscription.
type Channel interface {
	Name() string
	Done() <-chan struct{}
}

// Backend is the hosted system of record.
type Backend interface {
	CurrentUser(ctx context.Context) (string, error)
	Upsert(ctx context.Context, table string, row Row) error
	Delete(ctx context.Context, table string, filter Filter) error
	Select(ctx context.Context, table string, filter Filter) ([]Row, error)
	Subscribe(ctx context.Context, subscription Subscription, handler Handler) (Channel, error)
	RemoveChannel(channel Channel) error
}
