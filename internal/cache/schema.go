package cache

// schemaSQL is loaded verbatim on first open, exactly as spec.md §6
// describes the schema: no migration framework, a single packaged string.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	job_id INTEGER PRIMARY KEY AUTOINCREMENT,
	directory TEXT NOT NULL,
	commandline TEXT NOT NULL,
	environment TEXT NOT NULL,
	stdin TEXT NOT NULL,
	bloom_filter INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_match
	ON jobs(directory, commandline, environment, stdin);

CREATE TABLE IF NOT EXISTS job_output_info (
	job INTEGER PRIMARY KEY REFERENCES jobs(job_id),
	stdout TEXT NOT NULL,
	stderr TEXT NOT NULL,
	ret INTEGER NOT NULL,
	runtime REAL NOT NULL,
	cputime REAL NOT NULL,
	mem INTEGER NOT NULL,
	ibytes INTEGER NOT NULL,
	obytes INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS input_files (
	path TEXT NOT NULL,
	hash BLOB NOT NULL,
	job INTEGER NOT NULL REFERENCES jobs(job_id)
);
CREATE INDEX IF NOT EXISTS idx_input_files_job ON input_files(job);

CREATE TABLE IF NOT EXISTS input_dirs (
	path TEXT NOT NULL,
	hash BLOB NOT NULL,
	job INTEGER NOT NULL REFERENCES jobs(job_id)
);
CREATE INDEX IF NOT EXISTS idx_input_dirs_job ON input_dirs(job);

CREATE TABLE IF NOT EXISTS output_files (
	path TEXT NOT NULL,
	hash BLOB NOT NULL,
	mode INTEGER NOT NULL,
	job INTEGER NOT NULL REFERENCES jobs(job_id)
);
CREATE INDEX IF NOT EXISTS idx_output_files_job ON output_files(job);

CREATE TABLE IF NOT EXISTS output_dirs (
	path TEXT NOT NULL,
	mode INTEGER NOT NULL,
	job INTEGER NOT NULL REFERENCES jobs(job_id)
);
CREATE INDEX IF NOT EXISTS idx_output_dirs_job ON output_dirs(job);

CREATE TABLE IF NOT EXISTS output_symlinks (
	path TEXT NOT NULL,
	value TEXT NOT NULL,
	job INTEGER NOT NULL REFERENCES jobs(job_id)
);
CREATE INDEX IF NOT EXISTS idx_output_symlinks_job ON output_symlinks(job);

CREATE TABLE IF NOT EXISTS lru_stats (
	job_id INTEGER PRIMARY KEY REFERENCES jobs(job_id),
	last_use INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS total_size (
	size INTEGER NOT NULL
);
`
