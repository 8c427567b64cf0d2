package master

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApi(t *testing.T) (*Scheduler, *fakeRunner, *http.ServeMux) {
	s, runner, _ := newTestScheduler(t, []NodeConfig{{"a", 2}, {"b", 1}})
	mux := http.NewServeMux()
	NewControlApi(s).Register(mux)
	return s, runner, mux
}

func TestNodeInfoEndpoint(t *testing.T) {
	s, runner, mux := newTestApi(t)
	sink := &recordingSink{}
	s.Submit(task("j1", 0, "a", nil, sink))
	s.dispatchPending()
	require.Len(t, runner.started(), 1)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ctrl/nodeinfo", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body nodeInfoResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Nodes, 2)
	assert.Equal(t, "a", body.Nodes[0].Name)
	assert.Equal(t, 1, body.Nodes[0].Load)
	require.Len(t, body.Workers, 1)
	assert.Equal(t, ActiveWorker{JobName: "j1", Node: "a", Partition: 0}, body.Workers[0])
}

func TestNodeInfoSingleNode(t *testing.T) {
	_, _, mux := newTestApi(t)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ctrl/nodeinfo?node=b", nil))
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ctrl/nodeinfo?node=nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBlacklistEndpoints(t *testing.T) {
	s, _, mux := newTestApi(t)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ctrl/blacklist?node=a", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	info, _, ok := s.NodeInfoFor("a")
	require.True(t, ok)
	assert.True(t, info.Blacklisted)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ctrl/whitelist?node=a", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	info, _, ok = s.NodeInfoFor("a")
	require.True(t, ok)
	assert.False(t, info.Blacklisted)

	// Node parameter is mandatory.
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ctrl/blacklist", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	// Mutations are POST-only.
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ctrl/blacklist?node=a", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestActiveEndpoint(t *testing.T) {
	s, runner, mux := newTestApi(t)
	sink := &recordingSink{}
	s.Submit(task("j1", 0, "a", nil, sink))
	s.Submit(task("j1", 3, "b", nil, sink))
	s.dispatchPending()
	require.Len(t, runner.started(), 2)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ctrl/active?job=j1", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body activeResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.ElementsMatch(t, []string{"a", "b"}, body.Nodes)
	assert.ElementsMatch(t, []int{0, 3}, body.Partitions)
}

func TestConfigEndpoint(t *testing.T) {
	s, _, mux := newTestApi(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/ctrl/config",
		strings.NewReader(`[{"Name":"c","Capacity":3}]`))
	mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	info, _, ok := s.NodeInfoFor("c")
	require.True(t, ok)
	assert.Equal(t, 3, info.Capacity)
	_, _, ok = s.NodeInfoFor("a")
	assert.False(t, ok)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ctrl/config", strings.NewReader(`[{"Name":""}]`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ctrl/config", strings.NewReader(`[{"Name":"d","Capacity":-1}]`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ctrl/config", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKillEndpoint(t *testing.T) {
	s, runner, mux := newTestApi(t)
	sink := &recordingSink{}
	s.Submit(task("j1", 0, "a", nil, sink))
	s.dispatchPending()
	s.Submit(task("j1", 1, "a", nil, sink))
	require.Len(t, runner.started(), 1)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/ctrl/kill?job=j1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 0, s.WaitlistLength())
	assert.Len(t, runner.kills, 1)
}
