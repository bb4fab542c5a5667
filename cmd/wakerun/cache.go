package main

import (
	"wakerun/internal/cache"
	"wakerun/internal/eval"
	"wakerun/internal/status"
)

// cacheAdapter bridges eval.JobCache (the primitive boundary) onto a cache
// daemon client. Lookup misses and I/O failures both surface as "not ok" —
// the primitive layer never distinguishes them, per the error taxonomy's
// "cache-layer I/O error downgrades to miss".
type cacheAdapter struct {
	client *cache.Client
	st     *status.Stream
}

func (a *cacheAdapter) ReadJob(cwd, cmdline, env, stdin string, visible map[string][32]byte) (*eval.CacheHit, bool, error) {
	req := cache.FindJobRequest{
		Cwd:         cwd,
		CommandLine: cmdline,
		Environment: env,
		Stdin:       stdin,
		Visible:     visible,
	}
	for _, h := range visible {
		req.Bloom = req.Bloom.Add(h)
	}
	match, found, err := a.client.Read(req)
	if err != nil || !found {
		return nil, false, err
	}
	return &eval.CacheHit{
		Stdout:  match.Info.Stdout,
		Stderr:  match.Info.Stderr,
		Status:  match.Info.Status,
		Runtime: match.Info.Runtime,
	}, true, nil
}

func (a *cacheAdapter) AddJob(add eval.CacheAdd) error {
	req := cache.AddJobRequest{
		Job: cache.JobRow{
			Directory:   add.Cwd,
			CommandLine: add.Cmdline,
			Environment: add.Env,
			Stdin:       add.Stdin,
		},
		Info: cache.OutputInfo{
			Stdout:  add.Stdout,
			Stderr:  add.Stderr,
			Status:  add.Status,
			Runtime: add.Runtime,
			OBytes:  add.OBytes,
		},
	}
	for path, h := range add.Inputs {
		req.Inputs = append(req.Inputs, cache.InputFile{Path: path, Hash: h})
		req.Job.Bloom = req.Job.Bloom.Add(h)
	}
	if err := a.client.Add(req); err != nil {
		a.st.Errorf("cache add discarded: %s", err)
		return err
	}
	return nil
}

// connectJobCache dials the daemon for the cache root named by the
// WAKE_JOB_CACHE environment variable, returning nil (primitives stay
// unregistered) when the variable is unset or no daemon is reachable.
func connectJobCache(root string, st *status.Stream) *cacheAdapter {
	if root == "" {
		return nil
	}
	client, err := cache.Dial(root)
	if err != nil {
		st.Errorf("job cache disabled: %s", err)
		return nil
	}
	return &cacheAdapter{client: client, st: st}
}
