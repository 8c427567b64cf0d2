package executor

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/fifar/disco/internal/master"
)

// TerminationReporter receives the outcome of every worker the runner has
// successfully started. The scheduler implements it.
type TerminationReporter interface {
	WorkerTerminated(workerId string, kind master.ResultKind, message string)
}

// ProcessRunner implements master.WorkerRunner by launching one OS process
// per worker. Each process is put in its own process group so Kill takes
// out any children the worker spawned.
type ProcessRunner struct {
	// Path of the worker binary.
	binary string
	// How long a fresh worker may take to send its WORKER announce.
	handshakeTimeout time.Duration
	reporter         TerminationReporter
	events           master.EventSink

	mu    sync.Mutex
	procs map[string]*workerProc
}

type workerProc struct {
	spec master.WorkerSpec
	cmd  *exec.Cmd
	out  *bufio.Reader
}

func NewProcessRunner(binary string, handshakeTimeout time.Duration, events master.EventSink) *ProcessRunner {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &ProcessRunner{
		binary:           binary,
		handshakeTimeout: handshakeTimeout,
		events:           events,
		procs:            map[string]*workerProc{},
	}
}

// AttachReporter wires the termination callback. Must be called before the
// first Start; it is separate from the constructor because the scheduler
// and the runner reference each other.
func (r *ProcessRunner) AttachReporter(reporter TerminationReporter) {
	r.reporter = reporter
}

// Start launches a worker process and waits for its announce frame. On any
// failure the process is reaped and an error returned; the caller routes
// that through the normal termination path, so Start itself never calls the
// reporter for a failed handshake.
func (r *ProcessRunner) Start(spec master.WorkerSpec) error {
	cmd := exec.Command(r.binary, spec.Input...)
	cmd.Env = append(os.Environ(),
		"DISCO_WORKER_ID="+spec.WorkerId,
		"DISCO_JOBNAME="+spec.JobName,
		"DISCO_PARTITION="+strconv.Itoa(spec.Partition),
		"DISCO_MODE="+spec.Mode,
		"DISCO_NODE="+spec.Node,
	)
	cmd.Stdin = bytes.NewReader(spec.Data)
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.WithStack(err)
	}
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "starting worker %s", spec.WorkerId)
	}

	proc := &workerProc{spec: spec, cmd: cmd, out: bufio.NewReader(stdout)}
	if err := r.awaitAnnounce(proc); err != nil {
		r.destroy(proc)
		_ = cmd.Wait()
		return err
	}

	r.mu.Lock()
	r.procs[spec.WorkerId] = proc
	r.mu.Unlock()
	go r.watch(proc)
	return nil
}

// Kill terminates a running worker's process group. Best-effort: an unknown
// id means the worker already exited and there is nothing to do.
func (r *ProcessRunner) Kill(workerId string) {
	r.mu.Lock()
	proc, ok := r.procs[workerId]
	r.mu.Unlock()
	if !ok {
		log.Debugf("Kill requested for unknown worker %s", workerId)
		return
	}
	r.destroy(proc)
}

// Running reports the number of worker processes currently being watched.
func (r *ProcessRunner) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.procs)
}

// awaitAnnounce performs the start handshake: the first frame must be the
// worker announce, within the handshake timeout.
func (r *ProcessRunner) awaitAnnounce(proc *workerProc) error {
	type result struct {
		frame *frame
		err   error
	}
	read := make(chan result, 1)
	go func() {
		f, err := readFrame(proc.out)
		read <- result{frame: f, err: err}
	}()
	select {
	case res := <-read:
		if res.err != nil {
			return errors.Wrapf(res.err, "worker %s announce", proc.spec.WorkerId)
		}
		if res.frame.name != msgWorker {
			return errors.Errorf("worker %s announced with %s, expected %s", proc.spec.WorkerId, res.frame.name, msgWorker)
		}
		return nil
	case <-time.After(r.handshakeTimeout):
		return errors.Errorf("worker %s did not announce within %s", proc.spec.WorkerId, r.handshakeTimeout)
	}
}

// watch consumes the worker's protocol stream until it ends, reaps the
// process and reports the classified outcome exactly once.
func (r *ProcessRunner) watch(proc *workerProc) {
	spec := proc.spec
	kind, message := r.consume(proc)
	waitErr := proc.cmd.Wait()

	r.mu.Lock()
	delete(r.procs, spec.WorkerId)
	r.mu.Unlock()

	if kind == "" {
		// No terminal frame: the process died under the task.
		kind = master.ResultError
		if waitErr != nil {
			message = fmt.Sprintf("worker died: %v", waitErr)
		} else {
			message = "worker exited without reporting a result"
		}
	}
	r.reporter.WorkerTerminated(spec.WorkerId, kind, message)
}

// consume reads frames until a terminal one or stream end, forwarding
// progress messages to the event sink. Returns the terminal classification,
// or "" if the stream ended without one.
func (r *ProcessRunner) consume(proc *workerProc) (master.ResultKind, string) {
	for {
		f, err := readFrame(proc.out)
		if err != nil {
			if err != io.EOF {
				log.WithError(err).Warnf("Garbled output from worker %s", proc.spec.WorkerId)
			}
			return "", ""
		}
		switch f.name {
		case msgProgress:
			r.events.JobEvent(proc.spec.Node, proc.spec.JobName, f.text())
		case msgDone:
			return master.ResultOK, f.text()
		case msgDataError:
			return master.ResultDataError, f.text()
		case msgError:
			return master.ResultJobError, f.text()
		case msgFatal:
			return master.ResultError, f.text()
		case msgWorker:
			// Duplicate announce, harmless.
		default:
			log.Debugf("Unknown frame %s from worker %s", f.name, proc.spec.WorkerId)
		}
	}
}

// destroy kills the worker's whole process group.
func (r *ProcessRunner) destroy(proc *workerProc) {
	pid := proc.cmd.Process.Pid
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil {
		// Fall back to the process itself if the group is already gone.
		_ = proc.cmd.Process.Kill()
	}
}
