package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Run dispatches one command invocation. The "run" daemon command is
// handled by main; everything else lands here.
func (c *Cli) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		c.PrintUsage()
		return nil
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "set":
		return c.cmdSet(ctx, rest)
	case "delete":
		return c.cmdDelete(ctx, rest)
	case "get":
		return c.cmdGet(ctx, rest)
	case "list":
		return c.cmdList(ctx, rest)
	case "status":
		return c.cmdStatus(ctx)
	case "sync":
		return c.cmdSync(ctx)
	case "conflicts":
		return c.cmdConflicts(ctx)
	case "resolve":
		return c.cmdResolve(ctx, rest)
	case "history":
		return c.cmdHistory(ctx)
	case "dead":
		return c.cmdDead(ctx, rest)
	case "help":
		c.PrintUsage()
		return nil
	default:
		c.PrintUsage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// parseDelta turns key=value arguments into a field delta. Values that
// parse as JSON keep their JSON type; everything else stays a string, so
// count=3 is a number and title=Groceries is text.
func parseDelta(args []string) (map[string]any, error) {
	delta := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("expected key=value, got %q", arg)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		delta[key] = v
	}
	return delta, nil
}
