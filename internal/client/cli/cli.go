// Package cli implements the offsync command surface over the local
// store, the queue and the sync engine.
package cli

import (
	"fmt"

	"github.com/offsync/offsync/internal/client/engine"
	"github.com/offsync/offsync/internal/client/iocli"
	"github.com/offsync/offsync/internal/client/netmon"
	"github.com/offsync/offsync/internal/client/queue"
	"github.com/offsync/offsync/internal/client/quota"
	"github.com/offsync/offsync/internal/client/storage"
)

type Cli struct {
	io        iocli.IO
	queue     *queue.Service
	engine    *engine.Engine
	cache     storage.CacheStorage
	conflicts storage.ConflictStorage
	quota     *quota.Manager
	monitor   *netmon.Monitor
}

func New(
	io iocli.IO,
	q *queue.Service,
	e *engine.Engine,
	cache storage.CacheStorage,
	conflicts storage.ConflictStorage,
	qm *quota.Manager,
	monitor *netmon.Monitor,
) *Cli {
	return &Cli{
		io:        io,
		queue:     q,
		engine:    e,
		cache:     cache,
		conflicts: conflicts,
		quota:     qm,
		monitor:   monitor,
	}
}

func (c *Cli) PrintUsage() {
	c.io.Println("offsync - offline-first sync client")
	c.io.Println()
	c.io.Println("Usage:")
	c.io.Println("  offsyncd [OPTIONS] COMMAND")
	c.io.Println()
	c.io.Println("Options:")
	c.io.Println("  --version       Show version information")
	c.io.Println("  --config PATH   Path to config file (default: offsync.toml)")
	c.io.Println()
	c.io.Println("Commands:")
	c.io.Println("  run                                Run the sync daemon")
	c.io.Println("  sync                               Run one sync cycle and exit")
	c.io.Println("  status                             Show queue and connectivity status")
	c.io.Println("  set <module> <record> key=value... Queue a create or update")
	c.io.Println("  delete <module> <record>           Queue a delete")
	c.io.Println("  get <module> <record>              Show one cached record")
	c.io.Println("  list <module>                      List cached records of a module")
	c.io.Println("  conflicts                          List conflicts awaiting resolution")
	c.io.Println("  resolve <conflict-id>              Resolve a conflict interactively")
	c.io.Println("  history                            Show the resolution history")
	c.io.Println("  dead [retry|discard <op-id>]       Inspect or act on dead operations")
	c.io.Println()
	c.io.Println("Examples:")
	c.io.Println("  offsyncd set notes shopping title=Groceries body=\"milk, eggs\"")
	c.io.Println("  offsyncd sync")
	c.io.Println("  offsyncd conflicts")
	c.io.Println("  offsyncd resolve 4f1c9e...")
	c.io.Println("  offsyncd dead retry 77ab52...")
}

// formatValue renders an opaque field value for the terminal
func formatValue(v any) string {
	return fmt.Sprintf("%v", v)
}
