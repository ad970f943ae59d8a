package storage

import (
	"context"
	"errors"
)

var (
	ErrStoreClosed  = errors.New("Store is closed")
	ErrInvalidKey   = errors.New("Session and service names must not be empty")
	ErrInvalidState = errors.New("Stored subscriptions are not a JSON object")
)

// Update is published whenever a session subscribes to, or unsubscribes
// from, a service.
type Update struct {
	Session    string
	Service    string
	Subscribed bool
}

// Store tracks which services each session is subscribed to.
type Store interface {
	Subscribe(ctx context.Context, session, service string) error
	Unsubscribe(ctx context.Context, session, service string) error
	Subscriptions(ctx context.Context, session string) ([]string, error)

	Restore(values []byte) error
	Backup() ([]byte, error)

	// ListenToUpdates returns a channel of updates and a function that stops
	// the updates and closes the channel. Updates are not queued for a
	// listener that falls behind, they are dropped.
	ListenToUpdates() (<-chan *Update, func())

	Close() error
}
