// Package device manages the stable per-installation identifier that the
// server uses to attribute writes.
package device

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dkrasnov/notesync/internal/client/kvstore"
)

const idKey = "device/id"

// ID returns the persistent device identifier, generating and storing one
// on first use. The identifier is shared by all users on the device, so it
// lives in the unscoped store.
func ID(ctx context.Context, store kvstore.Store) (string, error) {
	raw, ok, err := store.Get(ctx, idKey)
	if err != nil {
		return "", fmt.Errorf("failed to load device id: %w", err)
	}
	if ok {
		if id, err := uuid.ParseBytes(raw); err == nil {
			return id.String(), nil
		}
		// A corrupt id is replaced rather than reused.
	}

	id := uuid.NewString()
	if err := store.Set(ctx, idKey, []byte(id)); err != nil {
		return "", fmt.Errorf("failed to persist device id: %w", err)
	}
	return id, nil
}
