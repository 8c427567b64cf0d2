package master

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/fifar/disco/internal/common/util"
)

// Scheduler is the cluster's scheduling and worker-lifecycle authority.
// Job coordinators submit tasks; the scheduler decides when and where each
// task runs, spawns a worker per task, tracks its outcome and notifies the
// coordinator.
//
// A single mutex serializes every mutation of the registry tables, so a
// node-selection read and the load increment that follows it are atomic with
// respect to each other. The scheduling loop runs in the goroutine that
// called Run and is woken by an edge-triggered poke; it is poked after every
// event that can change selectability: submission, worker termination,
// config reload, whitelisting.
type Scheduler struct {
	mu sync.Mutex
	// Tasks not yet dispatched, in submission order. Strict FIFO: only the
	// head is ever considered for dispatch.
	waitlist []*Task
	// Per-node capacity, load, outcome counters and the global blacklist.
	nodes *nodeSet
	// Live workers, indexed by id, job and node.
	workers *WorkerDb
	// Starts and kills worker processes.
	runner WorkerRunner
	// Receives human-readable progress events.
	events EventSink
	// Wakes the scheduling loop. Buffered so a poke is never lost and
	// never blocks.
	poke chan struct{}
	// Worker specs whose processes still need starting. Filled under mu,
	// drained by the loop outside it so a slow start handshake cannot
	// stall submissions.
	starting []WorkerSpec
	// Coordinator notifications in worker-termination order, delivered by
	// the loop outside the lock so a coordinator may call straight back
	// into the scheduler.
	deliveries *deliveryQueue
}

func NewScheduler(configs []NodeConfig, runner WorkerRunner, events EventSink) (*Scheduler, error) {
	workers, err := NewWorkerDb()
	if err != nil {
		return nil, err
	}
	return &Scheduler{
		waitlist:   []*Task{},
		nodes:      newNodeSet(configs),
		workers:    workers,
		runner:     runner,
		events:     events,
		poke:       make(chan struct{}, 1),
		deliveries: newDeliveryQueue(),
	}, nil
}

// Run executes the scheduling loop until ctx is cancelled. All dispatching,
// worker starting and outcome delivery happens on this goroutine.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Infof("Scheduler running with %d configured node(s)", len(s.nodes.configuredNames()))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.poke:
			s.dispatchPending()
		case <-s.deliveries.signal:
			s.deliveries.drain()
		}
	}
}

// Submit appends a task to the waitlist and wakes the loop. It returns
// promptly and unconditionally; dispatch is never attempted inline, so
// coordinator latency stays decoupled from the cluster's fullness.
func (s *Scheduler) Submit(task *Task) {
	s.mu.Lock()
	s.waitlist = append(s.waitlist, task)
	s.mu.Unlock()
	s.events.JobEvent("master", task.JobName, fmt.Sprintf("%s:%d added to waitlist", task.Mode, task.Partition))
	s.wake()
}

// KillJob requests termination of every live worker of the given job and
// drops the job's waiting tasks. It returns after the requests are issued;
// worker exits are reported later through the normal termination path.
func (s *Scheduler) KillJob(jobName string) {
	s.mu.Lock()
	txn := s.workers.ReadTxn()
	victims, err := s.workers.ByJob(txn, jobName)
	if err != nil {
		s.mu.Unlock()
		log.WithError(err).Errorf("Failed to look up workers of job %s", jobName)
		return
	}
	kept := s.waitlist[:0]
	for _, task := range s.waitlist {
		if task.JobName != jobName {
			kept = append(kept, task)
		}
	}
	s.waitlist = kept
	s.mu.Unlock()

	for _, worker := range victims {
		s.runner.Kill(worker.WorkerId)
	}
	s.events.JobEvent("master", jobName, fmt.Sprintf("kill requested: %d running, waitlist filtered", len(victims)))
}

// CleanJob kills the job and then drops its event history.
func (s *Scheduler) CleanJob(jobName string) {
	s.KillJob(jobName)
	s.events.DropJob(jobName)
}

// BlacklistNode administratively excludes a node from selection. Idempotent.
func (s *Scheduler) BlacklistNode(name string) {
	s.mu.Lock()
	s.nodes.blacklist[name] = true
	s.mu.Unlock()
	s.events.JobEvent("master", "", fmt.Sprintf("node %s blacklisted", name))
}

// WhitelistNode removes a node from the global blacklist and wakes the
// loop, since held tasks may now be placeable. Idempotent.
func (s *Scheduler) WhitelistNode(name string) {
	s.mu.Lock()
	delete(s.nodes.blacklist, name)
	s.mu.Unlock()
	s.events.JobEvent("master", "", fmt.Sprintf("node %s whitelisted", name))
	s.wake()
}

// UpdateConfig atomically replaces the configured node set. Load and
// counters of retained nodes are preserved; removed nodes stay addressable
// for termination bookkeeping but can no longer be selected.
func (s *Scheduler) UpdateConfig(configs []NodeConfig) {
	s.mu.Lock()
	s.nodes.applyConfig(configs)
	s.mu.Unlock()
	s.events.JobEvent("master", "", fmt.Sprintf("config reloaded: %d node(s)", len(configs)))
	s.wake()
}

// ActiveWorker is one row of an activity snapshot.
type ActiveWorker struct {
	JobName   string `json:"jobname"`
	Node      string `json:"node"`
	Partition int    `json:"partition"`
}

// ActiveWorkers returns the nodes and partitions currently running for the
// given job.
func (s *Scheduler) ActiveWorkers(jobName string) ([]string, []int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn := s.workers.ReadTxn()
	workers, err := s.workers.ByJob(txn, jobName)
	if err != nil {
		return nil, nil, err
	}
	nodes := make([]string, len(workers))
	partitions := make([]int, len(workers))
	for i, worker := range workers {
		nodes[i] = worker.Node
		partitions[i] = worker.Partition
	}
	return nodes, partitions, nil
}

// NodeInfo returns a snapshot of every configured node's registry row plus
// all live workers. The two tables are snapshotted together under the lock
// but callers should not assume they stay consistent afterwards.
func (s *Scheduler) NodeInfo() ([]NodeInfo, []ActiveWorker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	txn := s.workers.ReadTxn()
	workers, err := s.workers.GetAll(txn)
	if err != nil {
		return nil, nil, err
	}
	return s.nodes.snapshot(), activeSnapshot(workers), nil
}

// NodeInfoFor returns one node's registry row and the workers on it.
// The second return is false if the node is not configured.
func (s *Scheduler) NodeInfoFor(name string) (NodeInfo, []ActiveWorker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	node := s.nodes.get(name)
	if node == nil || !node.configured {
		return NodeInfo{}, nil, false
	}
	info := NodeInfo{
		Name:        node.name,
		Capacity:    node.capacity,
		Load:        node.load,
		OkCount:     node.okCount,
		DataError:   node.dataCount,
		Error:       node.crashCount,
		Blacklisted: s.nodes.blacklist[name],
	}
	txn := s.workers.ReadTxn()
	workers, err := s.workers.ByNode(txn, name)
	if err != nil {
		log.WithError(err).Errorf("Failed to look up workers on node %s", name)
		return info, nil, true
	}
	return info, activeSnapshot(workers), true
}

func activeSnapshot(workers []*Worker) []ActiveWorker {
	active := make([]ActiveWorker, len(workers))
	for i, worker := range workers {
		active[i] = ActiveWorker{JobName: worker.JobName, Node: worker.Node, Partition: worker.Partition}
	}
	return active
}

// WorkerTerminated records the death of a worker, normal or abnormal. It is
// called by the runner for every worker exit: the node's outcome counter is
// bumped, the worker record removed, the node's load freed, the coordinator
// notified, and the loop woken since a slot has opened.
//
// An unknown worker id is logged and ignored; there is no record to consult,
// so no load is touched.
func (s *Scheduler) WorkerTerminated(workerId string, kind ResultKind, message string) {
	s.mu.Lock()
	txn := s.workers.WriteTxn()
	worker, err := s.workers.GetById(txn, workerId)
	if err == nil && worker != nil {
		s.nodes.recordOutcome(worker.Node, kind)
		err = s.workers.Delete(txn, workerId)
	}
	if err != nil {
		txn.Abort()
		s.mu.Unlock()
		log.WithError(err).Errorf("Worker table update failed for %s", workerId)
		return
	}
	if worker == nil {
		txn.Abort()
		s.mu.Unlock()
		log.Warnf("Termination reported for unknown worker %s, ignoring", workerId)
		return
	}
	txn.Commit()
	s.nodes.addLoad(worker.Node, -1)
	s.mu.Unlock()

	s.events.JobEvent(worker.Node, worker.JobName,
		fmt.Sprintf("%s:%d finished on %s: %s", worker.Mode, worker.Partition, worker.Node, kind))
	s.deliveries.push(func() {
		worker.Results.TaskDone(TaskResult{
			JobName:   worker.JobName,
			Partition: worker.Partition,
			Node:      worker.Node,
			Kind:      kind,
			Message:   message,
		})
	})
	s.wake()
}

// dispatchPending drains the waitlist head for as long as heads keep
// producing a placement or a terminal failure. A busy cluster or a
// retryably excluded head leaves the waitlist alone until the next poke.
func (s *Scheduler) dispatchPending() {
	s.mu.Lock()
	for len(s.waitlist) > 0 {
		task := s.waitlist[0]
		placement := selectNode(s.nodes, task.PreferredNode, task.Blacklist)
		if placement.kind == decisionBusy {
			break
		}
		if placement.kind == decisionExhausted {
			if !placement.terminal() {
				break
			}
			s.waitlist = s.waitlist[1:]
			s.mu.Unlock()
			s.events.JobEvent("master", task.JobName,
				fmt.Sprintf("%s:%d failed on all available nodes", task.Mode, task.Partition))
			s.deliveries.push(func() {
				task.Results.SchedulerError(task.JobName, task.Partition, "Job failed on all available nodes")
			})
			s.mu.Lock()
			continue
		}
		s.waitlist = s.waitlist[1:]
		if !s.startWorker(task, placement.node) {
			// Registration failed and the task is back at the head; give
			// up until the next poke rather than spinning on it.
			break
		}
	}
	starts := s.starting
	s.starting = nil
	s.mu.Unlock()

	// Start handshakes happen outside the lock: a slow worker must not
	// block submissions or termination bookkeeping. The worker record and
	// load already exist, so a failed start flows through the normal
	// termination path without special casing.
	for _, spec := range starts {
		if err := s.runner.Start(spec); err != nil {
			log.WithError(err).Warnf("Worker start failed on %s for %s:%d", spec.Node, spec.JobName, spec.Partition)
			s.WorkerTerminated(spec.WorkerId, ResultError, fmt.Sprintf("worker start failed on %s: %v", spec.Node, err))
		}
	}
	s.deliveries.drain()
}

// startWorker books a worker in before its process exists: the node's load
// is incremented and the record inserted first, so a termination report can
// never arrive for a worker the registry has not heard of. Caller holds mu.
func (s *Scheduler) startWorker(task *Task, node string) bool {
	workerId := util.NewULID()
	txn := s.workers.WriteTxn()
	err := s.workers.Insert(txn, &Worker{
		WorkerId:  workerId,
		JobName:   task.JobName,
		Node:      node,
		Mode:      task.Mode,
		Partition: task.Partition,
		Results:   task.Results,
	})
	if err != nil {
		txn.Abort()
		// Re-queue at the head; the insert failing is a scheduler-internal
		// fault and the task has not been dispatched anywhere.
		s.waitlist = append([]*Task{task}, s.waitlist...)
		log.WithError(err).Errorf("Failed to register worker for %s", task)
		return false
	}
	txn.Commit()
	s.nodes.addLoad(node, 1)
	s.events.JobEvent(node, task.JobName, fmt.Sprintf("%s:%d assigned to %s", task.Mode, task.Partition, node))
	s.starting = append(s.starting, WorkerSpec{
		WorkerId:  workerId,
		JobName:   task.JobName,
		Partition: task.Partition,
		Mode:      task.Mode,
		Node:      node,
		Input:     task.Input,
		Data:      task.Data,
	})
	return true
}

func (s *Scheduler) wake() {
	select {
	case s.poke <- struct{}{}:
	default:
	}
}

// WaitlistLength reports the number of tasks awaiting dispatch.
func (s *Scheduler) WaitlistLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waitlist)
}

// deliveryQueue hands coordinator notifications from the goroutine that
// recorded a termination to the scheduling loop, preserving termination
// order without holding the scheduler lock during delivery.
type deliveryQueue struct {
	mu      sync.Mutex
	pending []func()
	signal  chan struct{}
}

func newDeliveryQueue() *deliveryQueue {
	return &deliveryQueue{signal: make(chan struct{}, 1)}
}

func (q *deliveryQueue) push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *deliveryQueue) drain() {
	for {
		q.mu.Lock()
		pending := q.pending
		q.pending = nil
		q.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, fn := range pending {
			fn()
		}
	}
}
