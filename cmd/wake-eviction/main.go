// Command wake-eviction is the LRU eviction worker: a standalone process
// that reads commands from stdin in the NUL-terminated JSON command
// protocol in spec.md §4.8 ({"command":"read","job_id":N} or
// {"command":"write","size":N}). File deletion for an eviction runs
// synchronously per command here rather than on a joined background
// thread, since a Go goroutine would not actually let the command loop
// below block on the same os.Stdin read either way; see DESIGN.md.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"wakerun/internal/cache"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: wake-eviction <dir>")
		os.Exit(1)
	}
	dir := os.Args[1]
	store, err := cache.Open(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wake-eviction: %s\n", err)
		os.Exit(1)
	}
	defer store.Close()

	low, high := parseWatermarks()
	evictor := cache.NewEvictor(store, low, high)

	reader := bufio.NewReader(os.Stdin)
	for {
		raw, err := reader.ReadBytes(0)
		if err != nil {
			return
		}
		raw = bytes.TrimSuffix(raw, []byte{0})

		var cmd cache.EvictionCommand
		if err := json.Unmarshal(raw, &cmd); err != nil {
			fmt.Fprintf(os.Stderr, "wake-eviction: bad command: %s\n", err)
			continue
		}
		switch cmd.Kind {
		case "read":
			if err := evictor.Read(cmd.JobID, time.Now()); err != nil {
				fmt.Fprintf(os.Stderr, "wake-eviction: read %d: %s\n", cmd.JobID, err)
			}
		case "write":
			if err := evictor.Write(cmd.Size); err != nil {
				fmt.Fprintf(os.Stderr, "wake-eviction: write %d: %s\n", cmd.Size, err)
			}
		default:
			fmt.Fprintf(os.Stderr, "wake-eviction: unknown command %q\n", cmd.Kind)
		}
	}
}

// parseWatermarks reads WAKE_CACHE_LOW_WATERMARK / WAKE_CACHE_HIGH_WATERMARK
// from the environment; an unset or zero high watermark defaults to 1 GiB.
// wake-cache-daemon does not spawn this worker (it runs its Evictor
// in-process), so whoever starts it sets these variables.
func parseWatermarks() (low, high int64) {
	low, _ = strconv.ParseInt(os.Getenv("WAKE_CACHE_LOW_WATERMARK"), 10, 64)
	high, _ = strconv.ParseInt(os.Getenv("WAKE_CACHE_HIGH_WATERMARK"), 10, 64)
	if high == 0 {
		high = 1 << 30
	}
	return low, high
}
