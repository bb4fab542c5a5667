package cache

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/segmentio/ksuid"
	_ "modernc.org/sqlite"
)

// Store is the on-disk job cache rooted at a single directory, matching
// the layout in spec.md §6: cache.db plus group-sharded blob directories.
// Every exported operation here runs inside a single SQL transaction, per
// §9's "requires that all cache state changes happen inside a single
// atomic unit per operation."
type Store struct {
	root string
	db   *sql.DB
}

// Open opens (creating if necessary) the cache rooted at dir, applying the
// packaged schema on first use.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache: mkdir %s: %w", dir, err)
	}
	db, err := sql.Open("sqlite", filepath.Join(dir, "cache.db"))
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}
	if _, err := db.Exec(`pragma journal_mode=WAL; pragma synchronous=NORMAL; pragma busy_timeout=4000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: pragmas: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &Store{root: dir, db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// group returns the shard directory name for jobID, two lowercase hex
// chars, per spec.md §3 ("group = job_id & 0xFF").
func group(jobID int64) string {
	return fmt.Sprintf("%02x", byte(jobID&0xFF))
}

// BlobPath returns the on-disk path of the output blob for hash within
// jobID's group-sharded directory.
func (s *Store) BlobPath(jobID int64, hash [32]byte) string {
	return filepath.Join(s.root, group(jobID), fmt.Sprint(jobID), hex.EncodeToString(hash[:]))
}

// Find implements the lookup protocol from spec.md §4.8: select exact
// matches on the four string fields, filter to bloom-subset candidates, and
// return the first whose recorded inputs are entirely present in
// req.Visible/req.DirHashes with matching hashes.
func (s *Store) Find(req FindJobRequest) (*MatchingJob, bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, fmt.Errorf("cache: begin: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.Query(
		`SELECT job_id, bloom_filter FROM jobs WHERE directory = ? AND commandline = ? AND environment = ? AND stdin = ?`,
		req.Cwd, req.CommandLine, req.Environment, req.Stdin,
	)
	if err != nil {
		return nil, false, fmt.Errorf("cache: query jobs: %w", err)
	}
	type candidate struct {
		id    int64
		bloom Bloom
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.id, &c.bloom); err != nil {
			rows.Close()
			return nil, false, fmt.Errorf("cache: scan job: %w", err)
		}
		if c.bloom.IsSubsetOf(req.Bloom) {
			candidates = append(candidates, c)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	for _, c := range candidates {
		ok, err := s.inputsSatisfied(tx, c.id, req)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		match, err := s.loadMatch(tx, c.id)
		if err != nil {
			return nil, false, err
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		return match, true, nil
	}
	return nil, false, tx.Commit()
}

func (s *Store) inputsSatisfied(tx *sql.Tx, jobID int64, req FindJobRequest) (bool, error) {
	rows, err := tx.Query(`SELECT path, hash FROM input_files WHERE job = ?`, jobID)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var path string
		var hash []byte
		if err := rows.Scan(&path, &hash); err != nil {
			return false, err
		}
		want, ok := req.Visible[path]
		if !ok || !bytesEqual32(want, hash) {
			return false, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, err
	}

	dirRows, err := tx.Query(`SELECT path, hash FROM input_dirs WHERE job = ?`, jobID)
	if err != nil {
		return false, err
	}
	defer dirRows.Close()
	for dirRows.Next() {
		var path string
		var hash []byte
		if err := dirRows.Scan(&path, &hash); err != nil {
			return false, err
		}
		want, ok := req.DirHashes[path]
		if !ok || !bytesEqual32(want, hash) {
			return false, nil
		}
	}
	return true, dirRows.Err()
}

func bytesEqual32(want [32]byte, got []byte) bool {
	if len(got) != 32 {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}

func (s *Store) loadMatch(tx *sql.Tx, jobID int64) (*MatchingJob, error) {
	m := &MatchingJob{JobID: jobID}

	fileRows, err := tx.Query(`SELECT path, hash, mode FROM output_files WHERE job = ?`, jobID)
	if err != nil {
		return nil, err
	}
	for fileRows.Next() {
		var f OutputFile
		var hash []byte
		if err := fileRows.Scan(&f.Path, &hash, &f.Mode); err != nil {
			fileRows.Close()
			return nil, err
		}
		copy(f.Hash[:], hash)
		f.Job = jobID
		m.Files = append(m.Files, f)
	}
	fileRows.Close()
	if err := fileRows.Err(); err != nil {
		return nil, err
	}

	dirRows, err := tx.Query(`SELECT path, mode FROM output_dirs WHERE job = ?`, jobID)
	if err != nil {
		return nil, err
	}
	for dirRows.Next() {
		var d OutputDir
		if err := dirRows.Scan(&d.Path, &d.Mode); err != nil {
			dirRows.Close()
			return nil, err
		}
		d.Job = jobID
		m.Dirs = append(m.Dirs, d)
	}
	dirRows.Close()
	if err := dirRows.Err(); err != nil {
		return nil, err
	}

	linkRows, err := tx.Query(`SELECT path, value FROM output_symlinks WHERE job = ?`, jobID)
	if err != nil {
		return nil, err
	}
	for linkRows.Next() {
		var l OutputSymlink
		if err := linkRows.Scan(&l.Path, &l.Target); err != nil {
			linkRows.Close()
			return nil, err
		}
		l.Job = jobID
		m.Symlinks = append(m.Symlinks, l)
	}
	linkRows.Close()
	if err := linkRows.Err(); err != nil {
		return nil, err
	}

	row := tx.QueryRow(`SELECT stdout, stderr, ret, runtime, cputime, mem, ibytes, obytes FROM job_output_info WHERE job = ?`, jobID)
	info := OutputInfo{Job: jobID}
	if err := row.Scan(&info.Stdout, &info.Stderr, &info.Status, &info.Runtime, &info.CPUTime, &info.Mem, &info.IBytes, &info.OBytes); err != nil {
		return nil, fmt.Errorf("cache: load output info for job %d: %w", jobID, err)
	}
	m.Info = info
	return m, nil
}

// Add implements the insertion protocol from spec.md §4.8: stage blobs into
// a temporary directory, insert every row inside one transaction, then
// atomically rename the staging directory into its final group-sharded
// location.
func (s *Store) Add(req AddJobRequest) (int64, error) {
	tmp := filepath.Join(s.root, "tmp_"+ksuid.New().String())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return 0, fmt.Errorf("cache: mkdir staging: %w", err)
	}
	defer os.RemoveAll(tmp) // no-op once renamed away

	for hash, src := range req.Blobs {
		dst := filepath.Join(tmp, hex.EncodeToString(hash[:]))
		if err := copyOrReflink(src, dst); err != nil {
			return 0, fmt.Errorf("cache: stage blob: %w", err)
		}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("cache: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`INSERT INTO jobs(directory, commandline, environment, stdin, bloom_filter) VALUES (?, ?, ?, ?, ?)`,
		req.Job.Directory, req.Job.CommandLine, req.Job.Environment, req.Job.Stdin, uint64(req.Job.Bloom))
	if err != nil {
		return 0, fmt.Errorf("cache: insert job: %w", err)
	}
	jobID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	info := req.Info
	if _, err := tx.Exec(`INSERT INTO job_output_info(job, stdout, stderr, ret, runtime, cputime, mem, ibytes, obytes) VALUES (?,?,?,?,?,?,?,?,?)`,
		jobID, info.Stdout, info.Stderr, info.Status, info.Runtime, info.CPUTime, info.Mem, info.IBytes, info.OBytes); err != nil {
		return 0, fmt.Errorf("cache: insert output info: %w", err)
	}

	for _, in := range req.Inputs {
		if _, err := tx.Exec(`INSERT INTO input_files(path, hash, job) VALUES (?, ?, ?)`, in.Path, in.Hash[:], jobID); err != nil {
			return 0, fmt.Errorf("cache: insert input file: %w", err)
		}
	}
	for _, in := range req.InDirs {
		if _, err := tx.Exec(`INSERT INTO input_dirs(path, hash, job) VALUES (?, ?, ?)`, in.Path, in.Hash[:], jobID); err != nil {
			return 0, fmt.Errorf("cache: insert input dir: %w", err)
		}
	}
	for _, out := range req.Outputs {
		if _, err := tx.Exec(`INSERT INTO output_files(path, hash, mode, job) VALUES (?, ?, ?, ?)`, out.Path, out.Hash[:], out.Mode, jobID); err != nil {
			return 0, fmt.Errorf("cache: insert output file: %w", err)
		}
	}
	for _, d := range req.OutDirs {
		if _, err := tx.Exec(`INSERT INTO output_dirs(path, mode, job) VALUES (?, ?, ?)`, d.Path, d.Mode, jobID); err != nil {
			return 0, fmt.Errorf("cache: insert output dir: %w", err)
		}
	}
	for _, l := range req.Links {
		if _, err := tx.Exec(`INSERT INTO output_symlinks(path, value, job) VALUES (?, ?, ?)`, l.Path, l.Target, jobID); err != nil {
			return 0, fmt.Errorf("cache: insert output symlink: %w", err)
		}
	}
	if _, err := tx.Exec(`INSERT INTO lru_stats(job_id, last_use) VALUES (?, 0)`, jobID); err != nil {
		return 0, fmt.Errorf("cache: insert lru row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("cache: commit: %w", err)
	}

	finalDir := filepath.Join(s.root, group(jobID), fmt.Sprint(jobID))
	if err := os.MkdirAll(filepath.Dir(finalDir), 0o755); err != nil {
		return jobID, fmt.Errorf("cache: mkdir group dir: %w", err)
	}
	if err := os.Rename(tmp, finalDir); err != nil {
		return jobID, fmt.Errorf("cache: rename staging into place: %w", err)
	}
	return jobID, nil
}

// Restore implements the restoration protocol from spec.md §4.8: stage
// every blob by hard link, create directories shortest-first, remap paths
// through redirects, then atomically rename each file/symlink into place.
// Any failure downgrades to a miss (spec §7#5): the caller should treat a
// non-nil error as "re-run the job", not a fatal condition.
func (s *Store) Restore(m *MatchingJob, redirect func(path string) string) error {
	tmp := filepath.Join(s.root, "tmp_outputs_"+ksuid.New().String())
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		return fmt.Errorf("cache: mkdir output staging: %w", err)
	}
	defer os.RemoveAll(tmp)

	for _, f := range m.Files {
		blob := s.BlobPath(m.JobID, f.Hash)
		link := filepath.Join(tmp, hex.EncodeToString(f.Hash[:]))
		if err := os.Link(blob, link); err != nil && !os.IsExist(err) {
			return fmt.Errorf("cache: link blob %s: %w", blob, err)
		}
	}

	dirs := append([]OutputDir(nil), m.Dirs...)
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i].Path) < len(dirs[j].Path) })
	for _, d := range dirs {
		dest := redirect(d.Path)
		if err := os.MkdirAll(dest, os.FileMode(d.Mode)); err != nil {
			return fmt.Errorf("cache: mkdir output dir %s: %w", dest, err)
		}
	}

	for _, f := range m.Files {
		dest := redirect(f.Path)
		staged := filepath.Join(tmp, hex.EncodeToString(f.Hash[:]))
		tmpDest := dest + "." + ksuid.New().String()
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("cache: mkdir parent of %s: %w", dest, err)
		}
		if err := copyOrReflink(staged, tmpDest); err != nil {
			return fmt.Errorf("cache: copy output %s: %w", dest, err)
		}
		if err := os.Chmod(tmpDest, os.FileMode(f.Mode)); err != nil {
			os.Remove(tmpDest)
			return fmt.Errorf("cache: chmod %s: %w", dest, err)
		}
		if err := os.Rename(tmpDest, dest); err != nil {
			os.Remove(tmpDest)
			return fmt.Errorf("cache: rename into place %s: %w", dest, err)
		}
	}

	for _, l := range m.Symlinks {
		dest := redirect(l.Path)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fmt.Errorf("cache: mkdir parent of symlink %s: %w", dest, err)
		}
		tmpDest := dest + "." + ksuid.New().String()
		if err := os.Symlink(l.Target, tmpDest); err != nil {
			return fmt.Errorf("cache: symlink %s: %w", dest, err)
		}
		if err := os.Rename(tmpDest, dest); err != nil {
			os.Remove(tmpDest)
			return fmt.Errorf("cache: rename symlink into place %s: %w", dest, err)
		}
	}

	return nil
}

// copyOrReflink copies src to dst. Go's standard library has no portable
// reflink syscall wrapper (Linux's FICLONE ioctl isn't exposed by
// os/io), so this always does a byte copy; see DESIGN.md for why no
// reflink-capable third-party package from the pack was wired in instead.
func copyOrReflink(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}
