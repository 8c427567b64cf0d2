package executor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fifar/disco/internal/master"
)

type report struct {
	workerId string
	kind     master.ResultKind
	message  string
}

type fakeReporter struct {
	ch chan report
}

func newFakeReporter() *fakeReporter {
	return &fakeReporter{ch: make(chan report, 8)}
}

func (r *fakeReporter) WorkerTerminated(workerId string, kind master.ResultKind, message string) {
	r.ch <- report{workerId: workerId, kind: kind, message: message}
}

func (r *fakeReporter) await(t *testing.T) report {
	select {
	case rep := <-r.ch:
		return rep
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for termination report")
		return report{}
	}
}

type fakeEvents struct {
	mu       sync.Mutex
	messages []string
}

func (e *fakeEvents) JobEvent(host string, jobName string, message string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messages = append(e.messages, message)
}

func (e *fakeEvents) DropJob(jobName string) {}

func shellRunner(t *testing.T, timeout time.Duration) (*ProcessRunner, *fakeReporter, *fakeEvents) {
	events := &fakeEvents{}
	runner := NewProcessRunner("/bin/sh", timeout, events)
	reporter := newFakeReporter()
	runner.AttachReporter(reporter)
	return runner, reporter, events
}

// script runs a worker via `sh -c`.
func script(body string) master.WorkerSpec {
	return master.WorkerSpec{
		WorkerId:  "w1",
		JobName:   "j1",
		Partition: 0,
		Mode:      "map",
		Node:      "node-1",
		Input:     []string{"-c", body},
	}
}

func TestRunnerHappyPath(t *testing.T) {
	runner, reporter, events := shellRunner(t, 10*time.Second)

	err := runner.Start(script(`
		printf 'WORKER 2 {}\n'
		printf 'MSG 9 "working"\n'
		printf 'DONE 4 "ok"\n'
	`))
	require.NoError(t, err)

	rep := reporter.await(t)
	assert.Equal(t, "w1", rep.workerId)
	assert.Equal(t, master.ResultOK, rep.kind)
	assert.Equal(t, "ok", rep.message)
	assert.Equal(t, 0, runner.Running())

	events.mu.Lock()
	defer events.mu.Unlock()
	assert.Contains(t, events.messages, "working")
}

func TestRunnerClassifiesOutcomes(t *testing.T) {
	tests := map[string]struct {
		frame    string
		expected master.ResultKind
	}{
		"data error": {frame: `printf 'DATA_ERROR 11 "bad input"\n'`, expected: master.ResultDataError},
		"job error":  {frame: `printf 'ERROR 10 "job blew"\n'`, expected: master.ResultJobError},
		"fatal":      {frame: `printf 'FATAL 6 "oops"\n'`, expected: master.ResultError},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			runner, reporter, _ := shellRunner(t, 10*time.Second)
			err := runner.Start(script("printf 'WORKER 2 {}\\n'\n" + tc.frame))
			require.NoError(t, err)
			assert.Equal(t, tc.expected, reporter.await(t).kind)
		})
	}
}

func TestRunnerHandshakeTimeout(t *testing.T) {
	runner, reporter, _ := shellRunner(t, 200*time.Millisecond)

	err := runner.Start(script(`sleep 30`))
	require.Error(t, err)
	assert.Equal(t, 0, runner.Running())

	// A failed start must not be reported through the termination path.
	select {
	case rep := <-reporter.ch:
		t.Fatalf("unexpected termination report %v", rep)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestRunnerWorkerDiesWithoutResult(t *testing.T) {
	runner, reporter, _ := shellRunner(t, 10*time.Second)

	err := runner.Start(script(`
		printf 'WORKER 2 {}\n'
		exit 3
	`))
	require.NoError(t, err)

	rep := reporter.await(t)
	assert.Equal(t, master.ResultError, rep.kind)
	assert.NotEmpty(t, rep.message)
}

func TestRunnerKill(t *testing.T) {
	runner, reporter, _ := shellRunner(t, 10*time.Second)

	err := runner.Start(script(`
		printf 'WORKER 2 {}\n'
		sleep 60
	`))
	require.NoError(t, err)
	require.Equal(t, 1, runner.Running())

	runner.Kill("w1")
	rep := reporter.await(t)
	assert.Equal(t, master.ResultError, rep.kind)
	assert.Equal(t, 0, runner.Running())

	// Killing an already dead worker is a no-op.
	runner.Kill("w1")
}
