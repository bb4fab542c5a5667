// Command wakerun drives the runtime core (heap, evaluator, optimizer, job
// scheduler) over a small built-in demonstration program, in the absence of
// the front end (lexer/parser/type inference) this spec treats as an
// out-of-scope collaborator — see kanso/main.go for the teacher's own
// "parse argv[1], run it, report status" shape, which this mirrors minus
// the parser.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"

	"wakerun/internal/eval"
	"wakerun/internal/heap"
	"wakerun/internal/job"
	"wakerun/internal/optimize"
	"wakerun/internal/promise"
	"wakerun/internal/ssa"
	"wakerun/internal/status"
	"wakerun/internal/value"
)

func main() {
	heapFactor := flag.Float64("heap-factor", 1.5, "semispace growth factor applied to the live-set estimate at each GC")
	profile := flag.Int("profile", 0, "GC profiling level: 0 off, 1 per-type counts, 2 ranked report each collection")
	initialPads := flag.Int("heap-pads", 4096, "initial semispace size, in pads")
	flag.Parse()

	st := status.Default()

	h := heap.New(*initialPads)
	h.GrowthFactor = *heapFactor
	h.ProfileLevel = *profile
	h.Report = func(format string, args ...any) { st.Progressf(format, args...) }

	e := eval.New(h)
	eval.RegisterDefaultPrims(e)
	sched := job.NewScheduler(job.Limits{CPU: 4, Memory: 1 << 30, MaxChildren: 64}, e.Queue, st)
	e.RegisterJobPrim(sched)
	if adapter := connectJobCache(os.Getenv("WAKE_JOB_CACHE"), st); adapter != nil {
		e.RegisterCachePrims(adapter)
	}

	program := demoProgram(e)

	pipeline := optimize.NewDefaultPipeline(e.LitHash)
	pipeline.Run(program)

	rec, err := launchDemo(e, sched, program)
	if err != nil {
		color.Red("wakerun: %s", err)
		os.Exit(1)
	}

	deadline := time.Now().Add(10 * time.Second)
	for rec.Stage&job.StageFinished == 0 {
		if time.Now().After(deadline) {
			color.Red("wakerun: demo job did not finish within 10s")
			os.Exit(1)
		}
		sched.Poll(200 * time.Millisecond)
	}

	out, _ := rec.Stdout.Fulfilled()
	if s, ok := out.(*value.Str); ok {
		color.Green("job stdout: %q", s.S)
	}
	color.Green("exit status: %d, runtime: %.3fs", rec.Realized.Status, rec.Realized.Runtime)
}

// launchDemo evaluates program to completion (launching is synchronous from
// the evaluator's point of view, per spec.md §4.7: "requested, not
// executed") and returns the resulting job.Record so main can separately
// drive the scheduler until it finishes.
func launchDemo(e *eval.Evaluator, sched *job.Scheduler, program *ssa.Term) (*job.Record, error) {
	result := promise.New()
	if err := e.Eval(program, nil, result); err != nil {
		return nil, err
	}
	for e.Queue.Len() > 0 {
		w := e.Queue.Pop()
		if err := w.Execute(); err != nil {
			return nil, err
		}
	}
	v, ok := result.Fulfilled()
	if !ok {
		return nil, fmt.Errorf("wakerun: program did not produce a result")
	}
	jv, ok := v.(*value.JobValue)
	if !ok {
		return nil, fmt.Errorf("wakerun: expected a launched job, got %T", v)
	}
	rec, ok := jv.Job.(*job.Record)
	if !ok {
		return nil, fmt.Errorf("wakerun: job value did not wrap a job.Record")
	}
	return rec, nil
}

// demoProgram builds job_launch(".", "", ["echo", "21"], []), exercising the
// heap/evaluator/optimizer/scheduler pipeline end-to-end without a front
// end. The cmdline and env arguments are wake's cons-list representation
// (internal/eval.stringList's counterpart).
func demoProgram(e *eval.Evaluator) *ssa.Term {
	var body []*ssa.Term
	push := func(t *ssa.Term) ssa.Ref {
		body = append(body, t)
		return ssa.Ref{Offset: len(body) - 1}
	}

	dirRef := push(ssa.NewLit("dir", e.InternLiteral(&value.Str{S: "."})))
	stdinRef := push(ssa.NewLit("stdin", e.InternLiteral(&value.Str{S: ""})))
	cmdlineRef := appendStringList(e, push, []string{"echo", "21"})
	envRef := appendStringList(e, push, nil)

	launchRef := push(ssa.NewPrim("launch", "job_launch", true, dirRef, stdinRef, cmdlineRef, envRef))

	return ssa.NewFun("main", body, launchRef.Offset)
}

// appendStringList emits the terms for a Cons/Nil list of string literals
// via push (which appends to the caller's body and returns the new term's
// Ref), returning a Ref to the list's head.
func appendStringList(e *eval.Evaluator, push func(*ssa.Term) ssa.Ref, items []string) ssa.Ref {
	tail := push(ssa.NewConAt("nil", "Nil", 1))
	for i := len(items) - 1; i >= 0; i-- {
		lit := e.InternLiteral(&value.Str{S: items[i]})
		head := push(ssa.NewLit("item", lit))
		tail = push(ssa.NewCon("cons", "Cons", head, tail))
	}
	return tail
}
