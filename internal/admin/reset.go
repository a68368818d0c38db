// Package admin provides bulk operations for the CLI: importing a tree of
// files and wiping entity data.
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/impex/internal/core"
)

// ResetTimeout is the maximum duration for a reset.
const ResetTimeout = 30 * time.Second

// Reset deletes every entity of the given collections in one transaction.
// Collections are cleared in order, so list dependents before the entities
// they reference. This is a destructive operation.
func Reset(ctx context.Context, store core.EntityStore, entities []string) (map[string]int, error) {
	ctx, cancel := context.WithTimeout(ctx, ResetTimeout)
	defer cancel()

	deleted := make(map[string]int, len(entities))
	err := store.Atomic(ctx, func(tx core.EntityStore) error {
		for _, entity := range entities {
			n, err := tx.DeleteWhere(ctx, entity, nil)
			if err != nil {
				return fmt.Errorf("reset %s: %w", entity, err)
			}
			deleted[entity] = n
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, entity := range entities {
		slog.Info("entities reset", "entity", entity, "deleted", deleted[entity])
	}
	return deleted, nil
}
