// Package events implements the master's audit sink: a bounded, in-memory,
// per-job history of human-readable progress events, echoed to the process
// log as they arrive.
package events

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"
)

// Event is one recorded line of job progress.
type Event struct {
	Time time.Time `json:"time"`
	// Node the event originated from, or "master".
	Host    string `json:"host"`
	Message string `json:"message"`
}

// Store records job events. Safe for concurrent use. The per-job history is
// bounded; once full, the oldest events are discarded first.
type Store struct {
	mu          sync.Mutex
	byJob       map[string][]Event
	perJobLimit int
	clock       clock.PassiveClock
}

func NewStore(perJobLimit int) *Store {
	return NewStoreWithClock(perJobLimit, clock.RealClock{})
}

// NewStoreWithClock is NewStore with the clock stamping events injected,
// so tests can control event times.
func NewStoreWithClock(perJobLimit int, clock clock.PassiveClock) *Store {
	if perJobLimit <= 0 {
		perJobLimit = 1000
	}
	return &Store{
		byJob:       map[string][]Event{},
		perJobLimit: perJobLimit,
		clock:       clock,
	}
}

// JobEvent records one event for a job and echoes it to the log. Events
// with an empty job name are log-only: they concern the cluster, not any
// one job, and there is no history to attach them to.
func (s *Store) JobEvent(host string, jobName string, message string) {
	if jobName == "" {
		log.WithField("host", host).Info(message)
		return
	}
	log.WithField("host", host).WithField("job", jobName).Info(message)
	s.mu.Lock()
	defer s.mu.Unlock()
	history := append(s.byJob[jobName], Event{Time: s.clock.Now(), Host: host, Message: message})
	if len(history) > s.perJobLimit {
		history = history[len(history)-s.perJobLimit:]
	}
	s.byJob[jobName] = history
}

// DropJob discards everything recorded for the given job.
func (s *Store) DropJob(jobName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byJob, jobName)
}

// JobHistory returns a copy of the job's recorded events, oldest first.
func (s *Store) JobHistory(jobName string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	history := s.byJob[jobName]
	out := make([]Event, len(history))
	copy(out, history)
	return out
}

// Register mounts the event history endpoint on the given mux.
func (s *Store) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ctrl/events", s.handleEvents)
}

func (s *Store) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobName := r.URL.Query().Get("job")
	if jobName == "" {
		http.Error(w, "job parameter required", http.StatusBadRequest)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.JobHistory(jobName)); err != nil {
		log.WithError(err).Warn("Failed to write event history response")
	}
}
