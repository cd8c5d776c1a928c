// Package prefs stores each customer's weekly standing-order preferences as
// a JSON metafield on the platform, with get/upsert semantics keyed by a
// fixed (namespace, key) identity.
package prefs

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/nordbrew/standing-orders/pkg/admin"
	"github.com/nordbrew/standing-orders/pkg/logging"
)

// Identity of the preference document on the platform. A customer has at
// most one metafield under this namespace and key.
const (
	Namespace = "standing"
	Key       = "weekly"
)

// Store adapts the Admin API metafield endpoints to a single JSON document
// per customer.
type Store struct {
	api    *admin.Client
	locks  keyedMutex
	logger zerolog.Logger
}

// NewStore creates a preference store backed by the given Admin API client.
func NewStore(api *admin.Client) *Store {
	return &Store{
		api:    api,
		logger: logging.NewLogger("prefs"),
	}
}

// Get returns the customer's preference document, or nil when the customer
// has none. A stored value that is not valid JSON is treated as absence,
// never as an error.
func (s *Store) Get(ctx context.Context, customerID int64) (json.RawMessage, error) {
	entry, err := s.find(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, nil
	}

	if !json.Valid([]byte(entry.Value)) {
		s.logger.Warn().
			Int64("customer_id", customerID).
			Int64("metafield_id", entry.ID).
			Msg("stored preference document is not valid JSON, treating as absent")
		return nil, nil
	}

	return json.RawMessage(entry.Value), nil
}

// Save upserts the customer's preference document: update in place when a
// record exists, create otherwise. Saves for the same customer are
// serialized in-process so the lookup-then-write cannot race with itself;
// saves from other processes can still race, which the remote store does
// not prevent.
func (s *Store) Save(ctx context.Context, customerID int64, doc json.RawMessage) error {
	unlock := s.locks.lock(customerID)
	defer unlock()

	entry, err := s.find(ctx, customerID)
	if err != nil {
		return err
	}

	if entry != nil {
		return s.api.UpdateMetafield(ctx, entry.ID, string(doc))
	}

	_, err = s.api.CreateCustomerMetafield(ctx, customerID, Namespace, Key, string(doc))
	return err
}

// find returns the customer's preference metafield, or nil when none
// matches. The platform guarantees at most one entry per (namespace, key),
// so the first match wins.
func (s *Store) find(ctx context.Context, customerID int64) (*admin.Metafield, error) {
	entries, err := s.api.CustomerMetafields(ctx, customerID)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		if entries[i].Namespace == Namespace && entries[i].Key == Key {
			return &entries[i], nil
		}
	}
	return nil, nil
}

// keyedMutex serializes operations per customer id. Entries are reference
// counted and removed once the last holder releases, so the map does not
// grow with the customer base.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key int64) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int64]*lockEntry)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &lockEntry{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
