// Package job implements the external-process scheduler: admission control
// under CPU and memory budgets, process spawn with controlled pipes,
// non-blocking output collection, and critical-path-driven progress
// estimation. It is the evaluator's one I/O effect — every Job value the
// evaluator produces transits this package's Scheduler and, optionally,
// internal/cache.
package job

import (
	"math/big"

	"wakerun/internal/heap"
	"wakerun/internal/promise"
	"wakerun/internal/value"
)

// Stage is a bitmask recording which pipeline stages of a job have
// completed.
type Stage uint8

const (
	StageForked Stage = 1 << iota
	StageStdout
	StageStderr
	StageMerged
	StageFinished
)

// Usage records predicted or realized resource consumption, shared by the
// scheduler's admission estimates and the cache's output-info rows.
type Usage struct {
	Status  int     // exit status; negative encodes "terminated by signal -Status"
	Runtime float64 // wall-clock seconds
	CPUTime float64 // user+sys seconds
	MemPeak int64   // bytes
	IBytes  int64   // bytes read by the job
	OBytes  int64   // bytes the job wrote to its declared outputs
}

// Record is the first-class heap value a launched job is represented as.
// It carries identification fields and six wait-chains, one per observable,
// so the evaluator can await stdout, stderr, the merged reality of both,
// the job's realized input list, its realized output list, or its final
// usage report independently of one another.
type Record struct {
	Fingerprint [32]byte
	DBID        int64
	Dir         string
	Stdin       string
	Cmdline     []string
	Env         []string

	Stage     Stage
	Predicted Usage
	Realized  Usage

	Stdout  *promise.Promise // fulfilled with *value.Str
	Stderr  *promise.Promise // fulfilled with *value.Str
	Merged  *promise.Promise // fulfilled once both stdout and stderr are complete
	Inputs  *promise.Promise // fulfilled with the realized input-file list
	Outputs *promise.Promise // fulfilled with the realized output-file list
	Report  *promise.Promise // fulfilled with a *value.Record describing Realized
}

// NewRecord allocates a Job record with all six wait-chains empty.
func NewRecord(dir, stdin string, cmdline, env []string) *Record {
	return &Record{
		Dir:     dir,
		Stdin:   stdin,
		Cmdline: cmdline,
		Env:     env,
		Stdout:  promise.New(),
		Stderr:  promise.New(),
		Merged:  promise.New(),
		Inputs:  promise.New(),
		Outputs: promise.New(),
		Report:  promise.New(),
	}
}

// Value wraps r as a value.Value so it can flow through Closures, Records,
// and Scopes like any other runtime value.
func (r *Record) Value() value.Value { return &value.JobValue{Job: r} }

// slot adapts *promise.Promise to value.Slot for the usage-report record's
// fields, the same adapter internal/eval wires for Record and Scope slots.
type slot struct {
	p *promise.Promise
}

func filledSlot(v value.Value) slot {
	s := slot{p: promise.New()}
	s.p.InstantFulfill(v)
	return s
}

func (s slot) Pads() int             { return s.p.Pads() }
func (s slot) Descend() []*heap.Ref  { return s.p.Descend() }
func (s slot) ShallowHash() [32]byte { return s.p.ShallowHash() }
func (s slot) Fulfilled() (value.Value, bool) {
	v, ok := s.p.Fulfilled()
	if !ok {
		return nil, false
	}
	return v.(value.Value), true
}

// UsageRecord renders u as the runtime value the Report wait-chain
// fulfills with: Usage(status, runtime, cputime, mem, ibytes, obytes).
func UsageRecord(u Usage) *value.Record {
	return &value.Record{
		Constructor: "Usage",
		Fields: []value.Slot{
			filledSlot(&value.Int{V: big.NewInt(int64(u.Status))}),
			filledSlot(&value.Double{V: u.Runtime}),
			filledSlot(&value.Double{V: u.CPUTime}),
			filledSlot(&value.Int{V: big.NewInt(u.MemPeak)}),
			filledSlot(&value.Int{V: big.NewInt(u.IBytes)}),
			filledSlot(&value.Int{V: big.NewInt(u.OBytes)}),
		},
	}
}

func (r *Record) Pads() int { return 8 }

func (r *Record) Descend() []*heap.Ref { return nil }

func (r *Record) ShallowHash() [32]byte { return r.Fingerprint }

// Explore visits the job's already-fulfilled observables, mirroring how
// value.Record/Scope only descend into settled promise slots.
func (r *Record) Explore(fn func(value.Value)) {
	for _, p := range []*promise.Promise{r.Stdout, r.Stderr, r.Merged, r.Inputs, r.Outputs, r.Report} {
		if v, ok := p.Fulfilled(); ok {
			if vv, ok := v.(value.Value); ok {
				fn(vv)
			}
		}
	}
}
