package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/offsync/offsync/internal/client/queue"
	"github.com/offsync/offsync/internal/models"
)

func (c *Cli) cmdDelete(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: delete <module> <record>")
	}

	op, err := c.queue.Enqueue(ctx, queue.EnqueueRequest{
		ModuleID: args[0],
		RecordID: args[1],
		Kind:     models.KindDelete,
	})
	if err != nil {
		return fmt.Errorf("failed to queue delete: %w", err)
	}
	if _, err := c.quota.CheckAndEvict(ctx); err != nil {
		return fmt.Errorf("failed to enforce storage quota: %w", err)
	}

	c.io.Printf("Queued delete %s (operation %s)\n", op.RecordKey(), op.ID)
	return nil
}
