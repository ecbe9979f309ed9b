package cli

import (
	"context"
	"fmt"
)

func (c *Cli) cmdStatus(ctx context.Context) error {
	pending, err := c.queue.PendingCount(ctx)
	if err != nil {
		return fmt.Errorf("failed to count pending operations: %w", err)
	}
	dead, err := c.queue.ListDead(ctx)
	if err != nil {
		return fmt.Errorf("failed to list dead operations: %w", err)
	}
	conflicts, err := c.conflicts.ListPendingConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}
	usage, err := c.quota.Metrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to read cache usage: %w", err)
	}

	c.io.Printf("Network:   %s\n", c.monitor.CurrentState())
	c.io.Printf("Engine:    %s\n", c.engine.State())
	c.io.Printf("Pending:   %d operations\n", pending)
	c.io.Printf("Dead:      %d operations\n", len(dead))
	c.io.Printf("Conflicts: %d awaiting resolution\n", len(conflicts))
	if usage.Ceiling > 0 {
		c.io.Printf("Cache:     %d / %d bytes\n", usage.TotalBytes, usage.Ceiling)
	} else {
		c.io.Printf("Cache:     %d bytes (no ceiling)\n", usage.TotalBytes)
	}
	return nil
}
