package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/offsync/offsync/internal/client/storage"
)

func (c *Cli) cmdGet(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New("usage: get <module> <record>")
	}

	record, err := c.cache.GetRecord(ctx, args[0], args[1])
	if errors.Is(err, storage.ErrRecordNotFound) {
		return fmt.Errorf("no cached copy of %s/%s", args[0], args[1])
	}
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	c.io.Printf("Record:   %s\n", record.Key())
	c.io.Printf("Baseline: %d\n", record.BaselineTimestamp)
	c.io.Printf("Dirty:    %t\n", record.Dirty)
	c.io.Printf("Cached:   %s\n", record.CachedAt.Format("2006-01-02 15:04:05"))
	c.io.Println("Fields:")

	keys := make([]string, 0, len(record.Fields))
	for k := range record.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		c.io.Printf("  %s = %s\n", k, formatValue(record.Fields[k]))
	}
	return nil
}
