// Package cache implements the persistent job cache: a SQLite-backed store
// of (cwd, cmd, env, stdin, input-hashes) -> (outputs, usage), content
// addressed blob storage, a bloom-filter prefilter, a client/daemon socket
// protocol, and a separate LRU eviction worker. Grounded on the teacher's
// preference for direct, explicit SQL over an ORM (see kanso's hand-written
// symbol-table lookups in internal/semantic/symbols.go) and on the pack's
// modernc.org/sqlite usage for a cgo-free driver a build-tool daemon needs.
package cache

// JobRow is a cached command's identity, keyed by an auto-assigned id.
type JobRow struct {
	ID          int64
	Directory   string
	CommandLine string
	Environment string
	Stdin       string
	Bloom       Bloom
}

// InputFile records one file a cached job read, used to verify a candidate
// still applies to the caller's current tree.
type InputFile struct {
	Path string
	Hash [32]byte
	Job  int64
}

// InputDir records one directory listing a cached job depended on.
type InputDir struct {
	Path string
	Hash [32]byte
	Job  int64
}

// OutputFile records one file a cached job produced; its bytes live at
// BlobPath(Job, Hash) on disk.
type OutputFile struct {
	Path string
	Hash [32]byte
	Mode uint32
	Job  int64
}

// OutputDir records one directory a cached job created (restored before
// OutputFile entries, since files may live under it).
type OutputDir struct {
	Path string
	Mode uint32
	Job  int64
}

// OutputSymlink records one symlink a cached job created.
type OutputSymlink struct {
	Path   string
	Target string
	Job    int64
}

// OutputInfo is the per-job realized resource usage recorded alongside a
// cache entry, mirroring job.Usage but persisted as a flat row.
type OutputInfo struct {
	Job     int64
	Stdout  string
	Stderr  string
	Status  int
	Runtime float64
	CPUTime float64
	Mem     int64
	IBytes  int64
	OBytes  int64
}

// FindJobRequest is the lookup key a cache read issues: the four exact-match
// string fields plus the visible file/dir hashes a candidate's recorded
// inputs must be a subset of.
type FindJobRequest struct {
	Cwd         string
	CommandLine string
	Environment string
	Stdin       string
	Visible     map[string][32]byte // path -> content hash
	DirHashes   map[string][32]byte
	// DirRedirects relocates recorded output paths into the requester's
	// tree by longest-prefix match (see PathTrie); recorded under the
	// request so the daemon can restore outputs where the caller wants
	// them rather than where the original job wrote them.
	DirRedirects map[string]string
	Bloom        Bloom
}

// RedirectFn builds the request's path-relocation function. With no
// redirects configured, paths pass through unchanged.
func (r FindJobRequest) RedirectFn() func(string) string {
	if len(r.DirRedirects) == 0 {
		return func(p string) string { return p }
	}
	return NewPathTrie(r.DirRedirects).Redirect
}

// MatchingJob is everything a successful lookup returns: the matched row's
// id plus its recorded outputs and usage, enough to drive restoration.
type MatchingJob struct {
	JobID   int64
	Files   []OutputFile
	Dirs    []OutputDir
	Symlinks []OutputSymlink
	Info    OutputInfo
}

// AddJobRequest is everything an insertion needs: the job's identity, its
// realized inputs/outputs, and usage.
type AddJobRequest struct {
	Job     JobRow
	Inputs  []InputFile
	InDirs  []InputDir
	Outputs []OutputFile
	OutDirs []OutputDir
	Links   []OutputSymlink
	Info    OutputInfo
	// Blobs maps each OutputFile's hash to the file's current on-disk path,
	// the source Store.Add reflinks/copies into the session staging
	// directory before the insertion transaction commits.
	Blobs map[[32]byte]string
}
