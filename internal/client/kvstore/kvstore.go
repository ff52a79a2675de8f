// Package kvstore provides the local persistence contract the client is
// built on: a flat key-value store plus a namespace wrapper that scopes
// all keys to one signed-in user, so multiple identities on a device never
// see each other's data.
package kvstore

import "context"

// Store is the minimal key-value contract.
type Store interface {
	// Get returns the value for key and whether it exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Keys lists keys with the given prefix in lexicographic order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Scoped wraps a Store, prefixing every key with a user namespace.
type Scoped struct {
	inner  Store
	prefix string
}

// NewScoped returns a Store view for the given user id.
func NewScoped(inner Store, userID string) *Scoped {
	return &Scoped{inner: inner, prefix: "u/" + userID + "/"}
}

func (s *Scoped) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *Scoped) Set(ctx context.Context, key string, value []byte) error {
	return s.inner.Set(ctx, s.prefix+key, value)
}

func (s *Scoped) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, s.prefix+key)
}

func (s *Scoped) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.inner.Keys(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	trimmed := make([]string, 0, len(keys))
	for _, k := range keys {
		trimmed = append(trimmed, k[len(s.prefix):])
	}
	return trimmed, nil
}
