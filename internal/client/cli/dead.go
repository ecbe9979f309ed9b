package cli

import (
	"context"
	"errors"
	"fmt"
)

// cmdDead lists dead operations, or requeues/discards one of them.
func (c *Cli) cmdDead(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return c.listDead(ctx)
	}

	if len(args) != 2 {
		return errors.New("usage: dead [retry|discard <op-id>]")
	}
	action, id := args[0], args[1]

	switch action {
	case "retry":
		if err := c.queue.RetryDead(ctx, id); err != nil {
			return fmt.Errorf("failed to retry operation: %w", err)
		}
		c.io.Printf("Operation %s requeued\n", id)
		return nil
	case "discard":
		if err := c.queue.DiscardDead(ctx, id); err != nil {
			return fmt.Errorf("failed to discard operation: %w", err)
		}
		c.io.Printf("Operation %s discarded\n", id)
		return nil
	default:
		return fmt.Errorf("unknown dead action: %s", action)
	}
}

func (c *Cli) listDead(ctx context.Context) error {
	ops, err := c.queue.ListDead(ctx)
	if err != nil {
		return fmt.Errorf("failed to list dead operations: %w", err)
	}
	if len(ops) == 0 {
		c.io.Println("No dead operations")
		return nil
	}

	c.io.Printf("Dead operations (%d):\n", len(ops))
	for _, op := range ops {
		c.io.Printf("  %s  %s %s  attempts=%d  error: %s\n",
			op.ID, op.Kind, op.RecordKey(), op.Attempts, op.LastError)
	}
	c.io.Println()
	c.io.Println("Run 'offsyncd dead retry <op-id>' or 'offsyncd dead discard <op-id>'")
	return nil
}
