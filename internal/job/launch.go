package job

import (
	"wakerun/internal/value"
)

// Launch implements eval.JobLauncher: it builds a Record and a Task for the
// requested process, submits the Task to the admission queue, and returns
// the Record's value immediately — this is "requested, not executed", per
// spec.md §4.7's description of prim_job_launch.
func (s *Scheduler) Launch(dir, stdin string, cmdline, env []string) (value.Value, error) {
	rec := NewRecord(dir, stdin, cmdline, env)
	t := &Task{
		Job:          rec,
		PredictedCPU: 1,
		PredictedMem: 0,
	}
	s.Submit(t)
	return rec.Value(), nil
}
