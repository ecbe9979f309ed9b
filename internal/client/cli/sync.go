package cli

import (
	"context"
	"fmt"
)

// cmdSync runs one sync cycle in the foreground and reports what is left.
func (c *Cli) cmdSync(ctx context.Context) error {
	recovered, err := c.queue.Recover(ctx)
	if err != nil {
		return fmt.Errorf("failed to recover queue: %w", err)
	}
	if recovered > 0 {
		c.io.Printf("Recovered %d interrupted operations\n", recovered)
	}

	c.io.Println("Syncing...")
	if err := c.engine.SyncOnce(ctx); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	if _, err := c.quota.CheckAndEvict(ctx); err != nil {
		return fmt.Errorf("failed to enforce storage quota: %w", err)
	}

	pending, err := c.queue.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending operations: %w", err)
	}
	conflicts, err := c.conflicts.ListPendingConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}

	c.io.Printf("Sync complete: %d pending, %d conflicts\n", pending, len(conflicts))
	if len(conflicts) > 0 {
		c.io.Println("Run 'offsyncd conflicts' to review them")
	}
	return nil
}
