package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/offsync/offsync/internal/client/storage"
)

// cmdResolve resolves one parked conflict interactively. The operator
// keeps the local value, keeps the server value, or types a merged one.
func (c *Cli) cmdResolve(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: resolve <conflict-id>")
	}

	item, err := c.conflicts.GetConflict(ctx, args[0])
	if errors.Is(err, storage.ErrConflictNotFound) {
		return fmt.Errorf("no such conflict: %s", args[0])
	}
	if err != nil {
		return fmt.Errorf("failed to load conflict: %w", err)
	}

	c.io.Printf("Record: %s/%s field %q\n", item.ModuleID, item.RecordID, item.Field)
	c.io.Printf("  [l] local:  %s\n", formatValue(item.LocalValue))
	c.io.Printf("  [s] server: %s\n", formatValue(item.ServerValue))

	answer, err := c.io.ReadInput("Keep [l]ocal, [s]erver, or type a merged value: ")
	if err != nil {
		return fmt.Errorf("failed to read choice: %w", err)
	}

	var chosen any
	switch answer {
	case "l", "local":
		chosen = item.LocalValue
	case "s", "server":
		chosen = item.ServerValue
	case "":
		return errors.New("no choice made")
	default:
		if jsonErr := json.Unmarshal([]byte(answer), &chosen); jsonErr != nil {
			chosen = answer
		}
	}

	if err := c.engine.ApplyManualResolution(ctx, item.ID, chosen, "operator:cli"); err != nil {
		return fmt.Errorf("failed to resolve conflict: %w", err)
	}

	c.io.Printf("Resolved %s with %s\n", item.ID, formatValue(chosen))
	return nil
}
