package job

import "container/heap"

// Task is a requested-but-not-yet-launched job: Launch (behind the
// job_launch primitive) enqueues one of these, and the Scheduler's admission loop dequeues
// them as CPU/memory/FD budget allows.
type Task struct {
	Job *Record

	PredictedCPU  float64 // estimated thread-seconds this task needs concurrently
	PredictedMem  int64   // estimated peak bytes
	PathTime      float64 // critical-path estimate: longest remaining path through the DAG
	AwaitedOutput bool    // some other job is awaiting this task's stdout or stderr

	index int // heap.Interface bookkeeping
}

// taskHeap is a container/heap.Interface ordering tasks by the priority
// rule in spec.md §4.7: a task awaited by another job is maximal; next, a
// task whose PathTime is unknown (zero); otherwise larger PathTime
// first, tie-broken by smaller DBID for a stable order.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	a, b := h[i], h[j]
	if a.AwaitedOutput != b.AwaitedOutput {
		return a.AwaitedOutput // a sorts first (higher priority) if awaited
	}
	aUnknown := a.PathTime == 0
	bUnknown := b.PathTime == 0
	if aUnknown != bUnknown {
		return aUnknown
	}
	if a.PathTime != b.PathTime {
		return a.PathTime > b.PathTime
	}
	return a.Job.DBID < b.Job.DBID
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

var _ heap.Interface = (*taskHeap)(nil)
