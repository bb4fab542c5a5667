package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// EvictionCommand is one message on the daemon-to-eviction-worker pipe, per
// spec.md §4.8: either "a job was read" (bump its LRU timestamp) or "a job
// was written" (account its bytes and evict if over budget).
type EvictionCommand struct {
	Kind  string `json:"command"` // "read" or "write"
	JobID int64  `json:"job_id,omitempty"`
	Size  int64  `json:"size,omitempty"`
}

// Evictor runs the LRU eviction policy against a Store. In the original
// design this runs as a separate OS process communicating over a pipe; here
// it is a plain Go type so it can be driven either from a child process
// (cmd/wake-eviction) or in-process by tests, matching how
// kanso/internal/semantic separates analysis logic from its CLI driver.
type Evictor struct {
	store          *Store
	LowWatermark   int64
	HighWatermark  int64
	// UnlinkRate caps how many blob directories SweepOrphans removes per call, so
	// the deletion worker stays responsive to new commands rather than
	// blocking for the duration of a large eviction.
	UnlinkRate int
}

func NewEvictor(store *Store, low, high int64) *Evictor {
	return &Evictor{store: store, LowWatermark: low, HighWatermark: high, UnlinkRate: 64}
}

// Read bumps job_id's last-use timestamp, called when a restoration
// succeeds.
func (e *Evictor) Read(jobID int64, now time.Time) error {
	_, err := e.store.db.Exec(`INSERT INTO lru_stats(job_id, last_use) VALUES (?, ?)
		ON CONFLICT(job_id) DO UPDATE SET last_use = excluded.last_use`, jobID, now.Unix())
	return err
}

// Write accounts obytes against the running total and, if the total now
// exceeds HighWatermark, evicts the oldest jobs by last_use until the total
// is back down to LowWatermark.
func (e *Evictor) Write(obytes int64) error {
	tx, err := e.store.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var total int64
	row := tx.QueryRow(`SELECT size FROM total_size LIMIT 1`)
	if err := row.Scan(&total); err == sql.ErrNoRows {
		if _, err := tx.Exec(`INSERT INTO total_size(size) VALUES (0)`); err != nil {
			return err
		}
		total = 0
	} else if err != nil {
		return err
	}

	total += obytes
	if _, err := tx.Exec(`UPDATE total_size SET size = ?`, total); err != nil {
		return err
	}

	var evicted []int64
	if total > e.HighWatermark {
		toFree := total - e.LowWatermark
		rows, err := tx.Query(`SELECT job_id, last_use FROM lru_stats ORDER BY last_use ASC`)
		if err != nil {
			return err
		}
		type row struct {
			id   int64
			last int64
		}
		var candidates []row
		for rows.Next() {
			var r row
			if err := rows.Scan(&r.id, &r.last); err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, r)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		for _, c := range candidates {
			if toFree <= 0 {
				break
			}
			var jobBytes int64
			row := tx.QueryRow(`SELECT obytes FROM job_output_info WHERE job = ?`, c.id)
			if err := row.Scan(&jobBytes); err != nil && err != sql.ErrNoRows {
				return err
			}
			if err := deleteJobRows(tx, c.id); err != nil {
				return err
			}
			toFree -= jobBytes
			total -= jobBytes
			evicted = append(evicted, c.id)
		}
		if _, err := tx.Exec(`UPDATE total_size SET size = ?`, total); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	for _, id := range evicted {
		e.unlinkGroupDir(id)
	}
	return nil
}

func deleteJobRows(tx *sql.Tx, jobID int64) error {
	stmts := []string{
		`DELETE FROM input_files WHERE job = ?`,
		`DELETE FROM input_dirs WHERE job = ?`,
		`DELETE FROM output_files WHERE job = ?`,
		`DELETE FROM output_dirs WHERE job = ?`,
		`DELETE FROM output_symlinks WHERE job = ?`,
		`DELETE FROM job_output_info WHERE job = ?`,
		`DELETE FROM lru_stats WHERE job_id = ?`,
		`DELETE FROM jobs WHERE job_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt, jobID); err != nil {
			return fmt.Errorf("cache: evict job %d: %w", jobID, err)
		}
	}
	return nil
}

// unlinkGroupDir removes jobID's blob directory synchronously, on the
// caller's goroutine and with no rate limit; Write calls it once per
// evicted job after its transaction commits.
func (e *Evictor) unlinkGroupDir(jobID int64) {
	dir := filepath.Join(e.store.root, group(jobID), fmt.Sprint(jobID))
	_ = os.RemoveAll(dir)
}

// SweepOrphans walks every <group>/<id> directory under the cache root and
// removes any the database no longer references, per spec.md §4.8's
// start-up sweep.
func (e *Evictor) SweepOrphans() error {
	known := map[string]bool{}
	rows, err := e.store.db.Query(`SELECT job_id FROM jobs`)
	if err != nil {
		return err
	}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		known[filepath.Join(group(id), fmt.Sprint(id))] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	groups, err := filepath.Glob(filepath.Join(e.store.root, "??"))
	if err != nil {
		return err
	}
	sort.Strings(groups)
	removed := 0
	rateLimit := e.UnlinkRate > 0
	for _, g := range groups {
		entries, err := os.ReadDir(g)
		if err != nil {
			continue
		}
		for _, ent := range entries {
			if rateLimit && removed >= e.UnlinkRate {
				return nil
			}
			rel := filepath.Join(filepath.Base(g), ent.Name())
			if !known[rel] {
				_ = os.RemoveAll(filepath.Join(g, ent.Name()))
				removed++
			}
		}
	}
	return nil
}
