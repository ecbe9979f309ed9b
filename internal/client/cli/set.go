package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/offsync/offsync/internal/client/queue"
	"github.com/offsync/offsync/internal/client/storage"
	"github.com/offsync/offsync/internal/models"
)

// cmdSet queues a create or an update depending on whether a cached copy
// exists, applies the delta locally and reports the queued operation.
func (c *Cli) cmdSet(ctx context.Context, args []string) error {
	if len(args) < 3 {
		return errors.New("usage: set <module> <record> key=value...")
	}
	moduleID, recordID := args[0], args[1]

	delta, err := parseDelta(args[2:])
	if err != nil {
		return err
	}

	kind := models.KindUpdate
	if _, err := c.cache.GetRecord(ctx, moduleID, recordID); errors.Is(err, storage.ErrRecordNotFound) {
		kind = models.KindCreate
	} else if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	op, err := c.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: moduleID,
		RecordID: recordID,
		Kind:     kind,
		Delta:    delta,
	})
	if err != nil {
		return fmt.Errorf("failed to queue %s: %w", kind, err)
	}
	if _, err := c.quota.CheckAndEvict(ctx); err != nil {
		return fmt.Errorf("failed to enforce storage quota: %w", err)
	}

	c.io.Printf("Queued %s %s (operation %s)\n", kind, op.RecordKey(), op.ID)
	return nil
}
