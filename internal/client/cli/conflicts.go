package cli

import (
	"context"
	"fmt"
)

func (c *Cli) cmdConflicts(ctx context.Context) error {
	items, err := c.conflicts.ListPendingConflicts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conflicts: %w", err)
	}
	if len(items) == 0 {
		c.io.Println("No conflicts awaiting resolution")
		return nil
	}

	c.io.Printf("Conflicts awaiting resolution (%d):\n", len(items))
	for _, item := range items {
		c.io.Println()
		c.io.Printf("  ID:     %s\n", item.ID)
		c.io.Printf("  Record: %s/%s field %q\n", item.ModuleID, item.RecordID, item.Field)
		c.io.Printf("  Local:  %s (ts %d)\n", formatValue(item.LocalValue), item.LocalTimestamp)
		c.io.Printf("  Server: %s (ts %d)\n", formatValue(item.ServerValue), item.ServerTimestamp)
	}
	c.io.Println()
	c.io.Println("Run 'offsyncd resolve <id>' to resolve one")
	return nil
}

func (c *Cli) cmdHistory(ctx context.Context) error {
	rows, err := c.conflicts.ListResolutions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list resolution history: %w", err)
	}
	if len(rows) == 0 {
		c.io.Println("No resolutions recorded")
		return nil
	}

	c.io.Printf("Resolution history (%d):\n", len(rows))
	for _, res := range rows {
		c.io.Printf("  %s  %s/%s %q -> %s by %s\n",
			res.DecidedAt.Format("2006-01-02 15:04:05"),
			res.ModuleID, res.RecordID, res.Field,
			res.Choice, res.DecidedBy)
	}
	return nil
}
