package eval

import (
	"fmt"

	"wakerun/internal/value"
)

// JobLauncher is the narrow interface the evaluator depends on instead of
// importing internal/job directly, mirroring the teacher's layering where
// internal/semantic depends on internal/ast but never the reverse: job
// launching is something the evaluator triggers, never something it needs
// to interpret the shape of.
type JobLauncher interface {
	// Launch requests that dir/stdin/cmdline/env be run as a job and
	// returns the resulting value (a *value.JobValue) immediately —
	// launching is asynchronous; the returned value's promises fulfill as
	// the job's stages complete.
	Launch(dir, stdin string, cmdline, env []string) (value.Value, error)
}

// RegisterJobPrim installs the "job_launch" primitive, backed by launcher.
// The launcher is captured by the primitive's closure rather than stored on
// Evaluator, because only this one primitive needs it.
func (e *Evaluator) RegisterJobPrim(launcher JobLauncher) {
	e.Registry.Register("job_launch", func(args []value.Value) (value.Value, error) {
		if len(args) != 4 {
			return nil, fmt.Errorf("job_launch: want 4 arguments, got %d", len(args))
		}
		dir, ok := args[0].(*value.Str)
		if !ok {
			return nil, fmt.Errorf("job_launch: dir must be a string")
		}
		stdin, ok := args[1].(*value.Str)
		if !ok {
			return nil, fmt.Errorf("job_launch: stdin must be a string")
		}
		cmdline, err := stringList(args[2])
		if err != nil {
			return nil, fmt.Errorf("job_launch: cmdline: %w", err)
		}
		env, err := stringList(args[3])
		if err != nil {
			return nil, fmt.Errorf("job_launch: env: %w", err)
		}
		return launcher.Launch(dir.S, stdin.S, cmdline, env)
	})
}

// stringList reads a cons-style list of *value.Str terminated by a "Nil"
// record, the representation the front end's desugared list literals
// compile down to.
func stringList(v value.Value) ([]string, error) {
	var out []string
	for {
		rec, ok := v.(*value.Record)
		if !ok {
			return nil, fmt.Errorf("stringList: expected a list record, got %T", v)
		}
		if rec.Constructor == "Nil" {
			return out, nil
		}
		if rec.Constructor != "Cons" || len(rec.Fields) != 2 {
			return nil, fmt.Errorf("stringList: unexpected constructor %q", rec.Constructor)
		}
		head, ok := rec.Fields[0].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("stringList: head not yet fulfilled")
		}
		s, ok := head.(*value.Str)
		if !ok {
			return nil, fmt.Errorf("stringList: head is not a string")
		}
		out = append(out, s.S)
		tail, ok := rec.Fields[1].Fulfilled()
		if !ok {
			return nil, fmt.Errorf("stringList: tail not yet fulfilled")
		}
		v = tail
	}
}
