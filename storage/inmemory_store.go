package storage

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const UpdateBufferSize = 255

// InmemoryStore keeps subscriptions as a single JSON document:
//
//   {"<session>":{"<service>":true}}
type InmemoryStore struct {
	mu     sync.RWMutex
	values []byte

	listenMu  sync.Mutex
	listeners map[chan *Update]struct{}
	closed    bool
	dropped   uint64
}

func NewInmemoryStore() *InmemoryStore {
	return &InmemoryStore{
		values:    []byte(""),
		listeners: make(map[chan *Update]struct{}),
	}
}

func (i *InmemoryStore) Close() error {
	i.listenMu.Lock()
	defer i.listenMu.Unlock()

	if i.closed {
		return nil
	}

	i.closed = true

	for updateChan := range i.listeners {
		close(updateChan)
		delete(i.listeners, updateChan)
	}

	return nil
}

// Subscribe records that session is subscribed to service. Subscribing
// twice is not an error and publishes an update each time.
func (i *InmemoryStore) Subscribe(ctx context.Context, session, service string) error {
	if session == "" || service == "" {
		return ErrInvalidKey
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if i.isClosed() {
		return ErrStoreClosed
	}

	i.mu.Lock()
	values, err := sjson.SetBytes(i.values, path(session, service), true)
	if err == nil {
		i.values = values
	}
	i.mu.Unlock()

	if err != nil {
		return err
	}

	return i.publish(&Update{Session: session, Service: service, Subscribed: true})
}

// Unsubscribe removes service from session. Unsubscribing from a service
// that was never subscribed to is not an error.
func (i *InmemoryStore) Unsubscribe(ctx context.Context, session, service string) error {
	if session == "" || service == "" {
		return ErrInvalidKey
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if i.isClosed() {
		return ErrStoreClosed
	}

	i.mu.Lock()
	values, err := sjson.DeleteBytes(i.values, path(session, service))
	if err == nil {
		i.values = values
	}
	i.mu.Unlock()

	if err != nil {
		return err
	}

	return i.publish(&Update{Session: session, Service: service, Subscribed: false})
}

// Subscriptions returns the services session is subscribed to, sorted.
func (i *InmemoryStore) Subscriptions(ctx context.Context, session string) ([]string, error) {
	if session == "" {
		return nil, ErrInvalidKey
	}

	i.mu.RLock()
	result := gjson.GetBytes(i.values, escape(session))
	i.mu.RUnlock()

	services := make([]string, 0)
	result.ForEach(func(key, value gjson.Result) bool {
		if value.Bool() {
			services = append(services, key.String())
		}
		return true
	})

	sort.Strings(services)
	return services, nil
}

func (i *InmemoryStore) ListenToUpdates() (<-chan *Update, func()) {
	i.listenMu.Lock()
	defer i.listenMu.Unlock()

	updateChan := make(chan *Update, UpdateBufferSize)
	if i.closed {
		close(updateChan)
		return updateChan, func() {}
	}

	i.listeners[updateChan] = struct{}{}

	var once sync.Once
	stop := func() {
		once.Do(func() {
			i.listenMu.Lock()
			defer i.listenMu.Unlock()

			if _, ok := i.listeners[updateChan]; ok {
				delete(i.listeners, updateChan)
				close(updateChan)
			}
		})
	}

	return updateChan, stop
}

func (i *InmemoryStore) Restore(values []byte) error {
	if len(values) > 0 && !gjson.ValidBytes(values) {
		return ErrInvalidState
	}

	if len(values) > 0 && !gjson.ParseBytes(values).IsObject() {
		return ErrInvalidState
	}

	i.mu.Lock()
	i.values = append([]byte(nil), values...)
	i.mu.Unlock()

	return nil
}

func (i *InmemoryStore) Backup() ([]byte, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	if len(i.values) == 0 {
		return []byte("{}"), nil
	}

	return append([]byte(nil), i.values...), nil
}

// publish hands update to every listener without blocking. A listener whose
// buffer is full misses the update, it never holds up a committed change or
// the other listeners.
func (i *InmemoryStore) publish(update *Update) error {
	i.listenMu.Lock()
	defer i.listenMu.Unlock()

	if i.closed {
		return ErrStoreClosed
	}

	for updateChan := range i.listeners {
		select {
		case updateChan <- update:
		default:
			i.dropped++
		}
	}

	return nil
}

func (i *InmemoryStore) isClosed() bool {
	i.listenMu.Lock()
	defer i.listenMu.Unlock()

	return i.closed
}

// Dropped returns how many updates were not delivered to a full listener.
func (i *InmemoryStore) Dropped() uint64 {
	i.listenMu.Lock()
	defer i.listenMu.Unlock()

	return i.dropped
}

func path(session, service string) string {
	return escape(session) + "." + escape(service)
}

// escape quotes the characters that gjson and sjson treat as path syntax.
func escape(key string) string {
	var b strings.Builder

	for _, r := range key {
		switch r {
		case '.', '*', '?', '\\', '|', '#', '@':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}

	return b.String()
}
