package cli

import (
	"context"
	"errors"
	"fmt"
)

func (c *Cli) cmdList(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: list <module>")
	}
	moduleID := args[0]

	records, err := c.cache.ListModuleRecords(ctx, moduleID)
	if err != nil {
		return fmt.Errorf("failed to list cache: %w", err)
	}
	if len(records) == 0 {
		c.io.Printf("No cached records in module %q\n", moduleID)
		return nil
	}

	c.io.Printf("Cached records in %q (%d):\n", moduleID, len(records))
	for _, r := range records {
		marker := " "
		if r.Dirty {
			marker = "*"
		}
		c.io.Printf("%s %s  fields=%d  baseline=%d\n", marker, r.RecordID, len(r.Fields), r.BaselineTimestamp)
	}
	c.io.Println()
	c.io.Println("* = has unconfirmed local edits")
	return nil
}
