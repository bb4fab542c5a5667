// Command wake-cache-daemon is the job cache's daemon process: it owns the
// SQLite database and blob directory exclusively for its lifetime, serving
// cache/read and cache/add requests over a UNIX socket. Positional CLI
// surface only, per spec.md §6: "<dir> <low_bytes> <max_bytes>; no flags" —
// matching kanso/main.go's own preference for direct os.Args handling over
// a flag-parsing framework where the surface is this small.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"github.com/fatih/color"

	"wakerun/internal/cache"
)

func main() {
	if len(os.Args) != 4 {
		fmt.Fprintln(os.Stderr, "usage: wake-cache-daemon <dir> <low_bytes> <max_bytes>")
		os.Exit(1)
	}
	dir := os.Args[1]
	low, err := strconv.ParseInt(os.Args[2], 10, 64)
	if err != nil {
		color.Red("wake-cache-daemon: bad low_bytes: %s", err)
		os.Exit(1)
	}
	high, err := strconv.ParseInt(os.Args[3], 10, 64)
	if err != nil {
		color.Red("wake-cache-daemon: bad max_bytes: %s", err)
		os.Exit(1)
	}

	store, err := cache.Open(dir)
	if err != nil {
		color.Red("wake-cache-daemon: %s", err)
		os.Exit(1)
	}
	defer store.Close()

	evictor := cache.NewEvictor(store, low, high)
	if err := evictor.SweepOrphans(); err != nil {
		color.Red("wake-cache-daemon: orphan sweep: %s", err)
	}

	key, err := cache.GenerateKey()
	if err != nil {
		color.Red("wake-cache-daemon: %s", err)
		os.Exit(1)
	}

	ln, err := listen(key)
	if err != nil {
		color.Red("wake-cache-daemon: listen: %s", err)
		os.Exit(1)
	}
	defer ln.Close()

	if err := cache.PublishKey(dir, key); err != nil {
		color.Red("wake-cache-daemon: publish key: %s", err)
		os.Exit(1)
	}

	daemon := cache.NewDaemon(store, evictor)
	if err := daemon.Serve(ln); err != nil {
		color.Red("wake-cache-daemon: %s", err)
		os.Exit(1)
	}
}

// listen binds a Linux abstract UNIX socket (no filesystem entry) when
// available, falling back to a path-based socket under os.TempDir on other
// platforms, per spec.md §4.8's "abstract UNIX socket" requirement and
// SPEC_FULL.md's portability note.
func listen(key string) (net.Listener, error) {
	if ln, err := net.Listen("unix", "@"+key); err == nil {
		return ln, nil
	}
	path := os.TempDir() + "/wake-cache-" + key + ".sock"
	os.Remove(path)
	return net.Listen("unix", path)
}
