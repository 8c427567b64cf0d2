package master

import "fmt"

// Task is a single dispatchable unit of work: one partition of a job.
// Tasks are immutable once submitted.
type Task struct {
	// Name of the job this task belongs to.
	JobName string
	// Partition index within the job.
	Partition int
	// Kind of work, e.g. "map" or "reduce". Opaque to the scheduler.
	Mode string
	// Node this task would ideally run on (data locality hint).
	// Empty means no preference.
	PreferredNode string
	// Nodes that have already failed this specific task.
	// The scheduler never places the task on any of these.
	Blacklist []string
	// Input locations forwarded to the worker.
	Input []string
	// Opaque job payload forwarded to the worker.
	Data []byte
	// Handle of the job coordinator that receives the task's outcome.
	Results ResultSink
}

// ResultKind classifies a worker's reported outcome.
type ResultKind string

const (
	ResultOK        ResultKind = "ok"
	ResultDataError ResultKind = "data_error"
	ResultJobError  ResultKind = "job_error"
	ResultError     ResultKind = "error"
)

// TaskResult is delivered to a job coordinator when a worker terminates.
type TaskResult struct {
	JobName   string
	Partition int
	Node      string
	Kind      ResultKind
	Message   string
}

// ResultSink is the job-coordinator handle outcomes are delivered to.
// Notifications arrive in worker-termination order, not submission order,
// and are delivered outside the scheduler's lock.
type ResultSink interface {
	// TaskDone reports the outcome of a dispatched task.
	TaskDone(result TaskResult)
	// SchedulerError reports that a task could not be placed on any
	// configured node and has been dropped.
	SchedulerError(jobName string, partition int, message string)
}

// WorkerSpec carries everything a runner needs to start a worker process.
type WorkerSpec struct {
	WorkerId  string
	JobName   string
	Partition int
	Mode      string
	Node      string
	Input     []string
	Data      []byte
}

// WorkerRunner starts and kills worker processes. The scheduler owns only
// the worker's birth and registered death; everything in between is the
// runner's business.
type WorkerRunner interface {
	// Start launches a worker and performs its start handshake.
	// An error here is routed through the normal termination path by the
	// caller; Start must not report the same failure twice.
	Start(spec WorkerSpec) error
	// Kill requests termination of a running worker. Best-effort; the
	// worker's eventual exit is reported through the usual channel.
	Kill(workerId string)
}

// EventSink receives human-readable progress events, keyed by job.
type EventSink interface {
	JobEvent(host string, jobName string, message string)
	// DropJob discards everything recorded for the given job.
	DropJob(jobName string)
}

func (t *Task) String() string {
	return fmt.Sprintf("%s:%s:%d", t.JobName, t.Mode, t.Partition)
}
