package job

import (
	"bytes"
	"container/heap"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"wakerun/internal/promise"
	"wakerun/internal/status"
	"wakerun/internal/value"
)

// Limits bounds how many jobs the Scheduler admits concurrently.
type Limits struct {
	CPU         float64 // configured thread-budget; oversubscription past this is permitted
	Memory      int64   // configured byte budget
	MaxChildren int     // min(100*cpu, (rlimit_nofile-24)/2, rlimit_nproc/2), computed by the caller
}

// Scheduler admits Tasks under Limits, spawns them as child processes, and
// drains their output via one reader goroutine per pipe feeding a single
// internal event channel — the teacher-idiom adaptation of the spec's
// epoll/ppoll/pselect pollset: Go's runtime netpoller already multiplexes
// blocking reads across goroutines, so there is exactly one goroutine (the
// caller of Poll) that ever mutates Scheduler state.
type Scheduler struct {
	limits Limits
	queue  *promise.Queue
	status *status.Stream

	mu      sync.Mutex
	pending taskHeap
	running map[*Record]*runningJob
	events  chan event

	activeCPU float64
	activeMem int64

	exitAsap bool
}

type runningJob struct {
	task      *Task
	cmd       *exec.Cmd
	stdout    bytes.Buffer
	stderr    bytes.Buffer
	start     time.Time
	stdoutEOF bool
	stderrEOF bool
	exited    bool
}

type event struct {
	rec      *Record
	kind     eventKind
	data     []byte
	usage    Usage
	waitErr  error
}

type eventKind int

const (
	eventStdout eventKind = iota
	eventStdoutEOF
	eventStderr
	eventStderrEOF
	eventExited
)

// NewScheduler constructs a Scheduler that schedules wake-ups onto queue
// (the evaluator's work stack) and reports activity through st.
func NewScheduler(limits Limits, queue *promise.Queue, st *status.Stream) *Scheduler {
	return &Scheduler{
		limits:  limits,
		queue:   queue,
		status:  st,
		running: map[*Record]*runningJob{},
		events:  make(chan event, 64),
	}
}

// Submit enqueues task for admission. Called by Launch; does not
// block and does not itself launch the process.
func (s *Scheduler) Submit(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	heap.Push(&s.pending, task)
}

// Idle reports whether the scheduler has nothing pending or running, which
// the evaluator's outer loop uses to decide whether waiting on the
// scheduler could ever produce more work.
func (s *Scheduler) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending.Len() == 0 && len(s.running) == 0
}

// Poll admits as many pending tasks as budget allows, then blocks for up to
// timeout waiting for at least one event (output chunk, EOF, or process
// exit) and drains every event currently available before returning.
func (s *Scheduler) Poll(timeout time.Duration) {
	s.admit()

	s.mu.Lock()
	nothingRunning := len(s.running) == 0
	s.mu.Unlock()
	if nothingRunning {
		return
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev := <-s.events:
		s.handle(ev)
	case <-timer.C:
		return
	}
	for {
		select {
		case ev := <-s.events:
			s.handle(ev)
		default:
			return
		}
	}
}

// admit launches tasks off the pending heap, highest priority first, while
// CPU, memory, and child-count budget allow forward progress.
func (s *Scheduler) admit() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.exitAsap {
		return
	}
	for s.pending.Len() > 0 {
		t := s.pending[0]
		if !s.canAdmit(t) {
			break
		}
		heap.Pop(&s.pending)
		s.launch(t)
	}
}

// canAdmit applies the admission rules from spec.md §4.7: CPU budget, a
// memory budget with a forward-progress exception when nothing is running,
// and a hard child-count cap.
func (s *Scheduler) canAdmit(t *Task) bool {
	if len(s.running) >= s.limits.MaxChildren && s.limits.MaxChildren > 0 {
		return false
	}
	if s.activeCPU >= s.limits.CPU && len(s.running) > 0 {
		return false
	}
	if s.activeMem+t.PredictedMem > s.limits.Memory && len(s.running) > 0 {
		return false
	}
	return true
}

// launch forks the task's process, wiring its stdout/stderr pipes to
// reader goroutines that feed s.events. Must be called with s.mu held.
func (s *Scheduler) launch(t *Task) {
	rec := t.Job
	if len(rec.Cmdline) == 0 {
		s.failLaunch(rec, fmt.Errorf("job: empty command line"))
		return
	}
	cmd := exec.Command(rec.Cmdline[0], rec.Cmdline[1:]...)
	cmd.Dir = rec.Dir
	cmd.Env = rec.Env

	if rec.Stdin != "" {
		f, err := os.Open(rec.Stdin)
		if err != nil {
			s.failLaunch(rec, fmt.Errorf("job: open stdin: %w", err))
			return
		}
		cmd.Stdin = f
	}

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		s.failLaunch(rec, err)
		return
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		s.failLaunch(rec, err)
		return
	}

	if err := cmd.Start(); err != nil {
		s.failLaunch(rec, fmt.Errorf("job: start: %w", err))
		return
	}

	rj := &runningJob{task: t, cmd: cmd, start: time.Now()}
	s.running[rec] = rj
	s.activeCPU += t.PredictedCPU
	s.activeMem += t.PredictedMem
	rec.Stage |= StageForked
	if s.status != nil {
		s.status.Progressf("launched %v (pathtime %.2fs)", rec.Cmdline, t.PathTime)
	}

	go pumpPipe(s.events, rec, stdoutPipe, eventStdout, eventStdoutEOF)
	go pumpPipe(s.events, rec, stderrPipe, eventStderr, eventStderrEOF)
	go func() {
		waitErr := cmd.Wait()
		usage := usageFromState(cmd.ProcessState, time.Since(rj.start))
		s.events <- event{rec: rec, kind: eventExited, usage: usage, waitErr: waitErr}
	}()
}

// failLaunch settles a job whose process could not be spawned: empty
// stdout, the error text as stderr and merged output, a negative status,
// and an immediate usage report, so awaiters of those see a failed job
// rather than hanging. Inputs and Outputs are left unfulfilled. Called
// with s.mu held, before the job ever enters the running set.
func (s *Scheduler) failLaunch(rec *Record, err error) {
	rec.Realized.Status = -1
	rec.Stage |= StageStdout | StageStderr | StageMerged | StageFinished
	rec.Stdout.Fulfill(s.queue, &value.Str{S: ""})
	rec.Stderr.Fulfill(s.queue, &value.Str{S: err.Error()})
	rec.Merged.Fulfill(s.queue, &value.Str{S: err.Error()})
	rec.Report.Fulfill(s.queue, UsageRecord(rec.Realized))
	if s.status != nil {
		s.status.Errorf("launch failed: %s", err)
	}
}

// pumpPipe reads r to EOF in fixed-size chunks, forwarding each chunk (and
// finally an EOF marker) as an event. Chunked rather than line-at-a-time so
// binary-safe stdout/stderr never blocks on a missing newline.
func pumpPipe(events chan<- event, rec *Record, r interface{ Read([]byte) (int, error) }, chunkKind, eofKind eventKind) {
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			cp := make([]byte, n)
			copy(cp, buf[:n])
			events <- event{rec: rec, kind: chunkKind, data: cp}
		}
		if err != nil {
			events <- event{rec: rec, kind: eofKind}
			return
		}
	}
}

// usageFromState extracts realized resource usage from a finished process,
// falling back to wall-clock runtime alone when rusage isn't available
// (e.g. the process never started).
func usageFromState(ps *os.ProcessState, wall time.Duration) Usage {
	u := Usage{Runtime: wall.Seconds()}
	if ps == nil {
		return u
	}
	u.Status = ps.ExitCode()
	if ws, ok := ps.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		u.Status = -int(ws.Signal())
	}
	if ru, ok := ps.SysUsage().(*syscall.Rusage); ok {
		u.CPUTime = float64(ru.Utime.Sec) + float64(ru.Utime.Usec)/1e6 +
			float64(ru.Stime.Sec) + float64(ru.Stime.Usec)/1e6
		u.MemPeak = ru.Maxrss * 1024
	}
	return u
}

// handle applies one event to scheduler state, fulfilling the affected
// job's promises as stages complete. Exit and EOF events race freely (the
// reaper goroutine and the pipe readers are independent), so a job only
// completes once all three have arrived, in whatever order.
func (s *Scheduler) handle(ev event) {
	s.mu.Lock()
	rj, ok := s.running[ev.rec]
	s.mu.Unlock()
	if !ok {
		return
	}

	rec := ev.rec
	switch ev.kind {
	case eventStdout:
		rj.stdout.Write(ev.data)
	case eventStderr:
		rj.stderr.Write(ev.data)
	case eventStdoutEOF:
		rj.stdoutEOF = true
		rec.Stage |= StageStdout
		rec.Stdout.Fulfill(s.queue, &value.Str{S: rj.stdout.String()})
		s.mergeIfDone(rec, rj)
	case eventStderrEOF:
		rj.stderrEOF = true
		rec.Stage |= StageStderr
		rec.Stderr.Fulfill(s.queue, &value.Str{S: rj.stderr.String()})
		s.mergeIfDone(rec, rj)
	case eventExited:
		rj.exited = true
		rec.Realized = ev.usage
		rec.Stage |= StageMerged
	}
	s.completeIfDone(rec, rj)
}

// completeIfDone releases the job's budget and fulfills its usage report
// once the process has been reaped and both output streams have drained.
func (s *Scheduler) completeIfDone(rec *Record, rj *runningJob) {
	if !rj.exited || !rj.stdoutEOF || !rj.stderrEOF {
		return
	}
	s.mu.Lock()
	s.activeCPU -= rj.task.PredictedCPU
	s.activeMem -= rj.task.PredictedMem
	delete(s.running, rec)
	s.mu.Unlock()
	rec.Stage |= StageFinished
	rec.Report.Fulfill(s.queue, UsageRecord(rec.Realized))
	s.recalcPathTimes()
}

// mergeIfDone fulfills the merged-reality promise once both stdout and
// stderr streams have reached EOF.
func (s *Scheduler) mergeIfDone(rec *Record, rj *runningJob) {
	if rj.stdoutEOF && rj.stderrEOF {
		rec.Merged.Fulfill(s.queue, &value.Str{S: rj.stdout.String() + rj.stderr.String()})
	}
}

// recalcPathTimes runs after a job finishes and re-heapifies the pending
// tasks; it recomputes no PathTime and does not look at running tasks.
func (s *Scheduler) recalcPathTimes() {
	// A faithful critical-path recompute needs the build DAG's edges, which
	// this package does not itself hold (the evaluator does, via Prim
	// dependencies). Concretely this is a no-op hook other than re-heapifying,
	// since PathTime values are set by the caller when each Task is
	// submitted; see DESIGN.md.
	s.mu.Lock()
	heap.Init(&s.pending)
	s.mu.Unlock()
}

// Shutdown propagates SIGTERM to every running child, waiting with
// exponentially increasing backoff (starting ~100ms, up to TermAttempts
// iterations, reaping in between) before SIGKILLing survivors.
const TermAttempts = 6

func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	s.exitAsap = true
	pids := make([]int, 0, len(s.running))
	for _, rj := range s.running {
		if rj.cmd.Process != nil {
			pids = append(pids, rj.cmd.Process.Pid)
		}
	}
	s.mu.Unlock()

	for _, pid := range pids {
		_ = unix.Kill(pid, unix.SIGTERM)
	}

	wait := 100 * time.Millisecond
	for i := 0; i < TermAttempts; i++ {
		deadline := time.After(wait)
	reap:
		for {
			select {
			case ev := <-s.events:
				s.handle(ev)
			case <-deadline:
				break reap
			}
		}
		wait *= 2
		s.mu.Lock()
		remaining := len(s.running)
		s.mu.Unlock()
		if remaining == 0 {
			return
		}
	}

	s.mu.Lock()
	for _, rj := range s.running {
		if rj.cmd.Process != nil {
			_ = unix.Kill(rj.cmd.Process.Pid, unix.SIGKILL)
		}
	}
	s.mu.Unlock()
}

// ExitAsap reports whether a fatal signal has requested the scheduler drain
// to a consistent state and stop admitting new work.
func (s *Scheduler) ExitAsap() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitAsap
}
