package eval

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"wakerun/internal/value"
)

// JobCache is the narrow interface backing the job_cache_read and
// job_cache_add primitives, mirroring JobLauncher's layering: the evaluator
// never imports internal/cache; the CLI wires a cache client adapter in.
// The primitives exist only when a cache root is configured (the
// WAKE_JOB_CACHE environment variable), so RegisterCachePrims is called
// conditionally by the entry point.
type JobCache interface {
	// ReadJob looks up a prior execution of the given command under the
	// given visible input hashes. A miss — including any cache-layer I/O
	// failure, which is downgraded rather than surfaced — returns ok=false.
	ReadJob(cwd, cmdline, env, stdin string, visible map[string][32]byte) (hit *CacheHit, ok bool, err error)
	// AddJob records a finished execution. Fire-and-forget: a failed add
	// is logged by the implementation and discards only that entry.
	AddJob(add CacheAdd) error
}

// CacheHit is what a successful lookup surfaces to the program.
type CacheHit struct {
	Stdout  string
	Stderr  string
	Status  int
	Runtime float64
}

// CacheAdd carries everything an insertion needs at the primitive boundary.
type CacheAdd struct {
	Cwd     string
	Cmdline string
	Env     string
	Stdin   string
	Inputs  map[string][32]byte
	Stdout  string
	Stderr  string
	Status  int
	Runtime float64
	OBytes  int64
}

// RegisterCachePrims installs job_cache_read and job_cache_add against c.
func (e *Evaluator) RegisterCachePrims(c JobCache) {
	e.Registry.Register("job_cache_read", func(args []value.Value) (value.Value, error) {
		if err := arity("job_cache_read", args, 5); err != nil {
			return nil, err
		}
		cwd, cmdline, env, stdin, err := cacheKeyArgs("job_cache_read", args)
		if err != nil {
			return nil, err
		}
		visible, err := hashPairList(args[4])
		if err != nil {
			return nil, fmt.Errorf("job_cache_read: visible: %w", err)
		}
		hit, ok, err := c.ReadJob(cwd, cmdline, env, stdin, visible)
		if err != nil || !ok {
			// A cache error is a miss, never a program failure.
			return mkFail("cache miss"), nil
		}
		rec := mkRecord("CacheHit", 0,
			&value.Str{S: hit.Stdout},
			&value.Str{S: hit.Stderr},
			&value.Int{V: big.NewInt(int64(hit.Status))},
			&value.Double{V: hit.Runtime},
		)
		return mkPass(rec), nil
	})

	e.Registry.Register("job_cache_add", func(args []value.Value) (value.Value, error) {
		if err := arity("job_cache_add", args, 8); err != nil {
			return nil, err
		}
		cwd, cmdline, env, stdin, err := cacheKeyArgs("job_cache_add", args)
		if err != nil {
			return nil, err
		}
		inputs, err := hashPairList(args[4])
		if err != nil {
			return nil, fmt.Errorf("job_cache_add: inputs: %w", err)
		}
		stdout, err := wantStr("job_cache_add", args, 5)
		if err != nil {
			return nil, err
		}
		stderr, err := wantStr("job_cache_add", args, 6)
		if err != nil {
			return nil, err
		}
		statusV, err := wantInt("job_cache_add", args, 7)
		if err != nil {
			return nil, err
		}
		_ = c.AddJob(CacheAdd{
			Cwd:     cwd,
			Cmdline: cmdline,
			Env:     env,
			Stdin:   stdin,
			Inputs:  inputs,
			Stdout:  stdout.S,
			Stderr:  stderr.S,
			Status:  int(statusV.V.Int64()),
		})
		return mkRecord("Unit", 0), nil
	})
}

func cacheKeyArgs(name string, args []value.Value) (cwd, cmdline, env, stdin string, err error) {
	fields := make([]string, 4)
	for i := 0; i < 4; i++ {
		s, serr := wantStr(name, args, i)
		if serr != nil {
			return "", "", "", "", serr
		}
		fields[i] = s.S
	}
	return fields[0], fields[1], fields[2], fields[3], nil
}

// hashPairList reads a Cons/Nil list of Pair(path, hex-hash) records into a
// path -> content-hash map, the visible-file shape cache lookups key on.
func hashPairList(v value.Value) (map[string][32]byte, error) {
	out := map[string][32]byte{}
	for {
		rec, ok := v.(*value.Record)
		if !ok {
			return nil, fmt.Errorf("expected a list record, got %T", v)
		}
		if rec.Constructor == "Nil" {
			return out, nil
		}
		if rec.Constructor != "Cons" || len(rec.Fields) != 2 {
			return nil, fmt.Errorf("unexpected constructor %q", rec.Constructor)
		}
		head, ok := rec.Fields[0].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("list head not yet fulfilled")
		}
		pair, ok := head.(*value.Record)
		if !ok || pair.Constructor != "Pair" || len(pair.Fields) != 2 {
			return nil, fmt.Errorf("expected Pair(path, hash), got %s", FormatValue(head))
		}
		pv, ok := pair.Fields[0].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("pair path not yet fulfilled")
		}
		hv, ok := pair.Fields[1].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("pair hash not yet fulfilled")
		}
		path, ok := pv.(*value.Str)
		if !ok {
			return nil, fmt.Errorf("pair path is %T, want string", pv)
		}
		hexHash, ok := hv.(*value.Str)
		if !ok {
			return nil, fmt.Errorf("pair hash is %T, want string", hv)
		}
		raw, err := hex.DecodeString(hexHash.S)
		if err != nil || len(raw) != 32 {
			return nil, fmt.Errorf("pair hash %q is not 32 hex bytes", hexHash.S)
		}
		var h [32]byte
		copy(h[:], raw)
		out[path.S] = h

		tail, ok := rec.Fields[1].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("list tail not yet fulfilled")
		}
		v = tail
	}
}
