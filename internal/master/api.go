package master

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
)

// ControlApi is the master's JSON-over-HTTP admin and status surface. It
// covers node inspection, blacklisting, job kill/clean and configuration
// reload. Task submission is deliberately absent: job coordinators hold the
// scheduler handle directly.
type ControlApi struct {
	scheduler *Scheduler
	validate  *validator.Validate
}

func NewControlApi(scheduler *Scheduler) *ControlApi {
	return &ControlApi{scheduler: scheduler, validate: validator.New()}
}

func (api *ControlApi) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ctrl/nodeinfo", api.handleNodeInfo)
	mux.HandleFunc("/ctrl/active", api.handleActive)
	mux.HandleFunc("/ctrl/blacklist", api.handleBlacklist)
	mux.HandleFunc("/ctrl/whitelist", api.handleWhitelist)
	mux.HandleFunc("/ctrl/kill", api.handleKill)
	mux.HandleFunc("/ctrl/clean", api.handleClean)
	mux.HandleFunc("/ctrl/config", api.handleConfig)
}

type nodeInfoResponse struct {
	Nodes   []NodeInfo     `json:"nodes"`
	Workers []ActiveWorker `json:"workers"`
}

func (api *ControlApi) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if name := r.URL.Query().Get("node"); name != "" {
		info, workers, ok := api.scheduler.NodeInfoFor(name)
		if !ok {
			http.Error(w, "unknown node", http.StatusNotFound)
			return
		}
		writeJson(w, nodeInfoResponse{Nodes: []NodeInfo{info}, Workers: workers})
		return
	}
	nodes, workers, err := api.scheduler.NodeInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJson(w, nodeInfoResponse{Nodes: nodes, Workers: workers})
}

type activeResponse struct {
	Nodes      []string `json:"nodes"`
	Partitions []int    `json:"partitions"`
}

func (api *ControlApi) handleActive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobName := r.URL.Query().Get("job")
	if jobName == "" {
		http.Error(w, "job parameter required", http.StatusBadRequest)
		return
	}
	nodes, partitions, err := api.scheduler.ActiveWorkers(jobName)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJson(w, activeResponse{Nodes: nodes, Partitions: partitions})
}

func (api *ControlApi) handleBlacklist(w http.ResponseWriter, r *http.Request) {
	api.nodeAction(w, r, api.scheduler.BlacklistNode)
}

func (api *ControlApi) handleWhitelist(w http.ResponseWriter, r *http.Request) {
	api.nodeAction(w, r, api.scheduler.WhitelistNode)
}

func (api *ControlApi) nodeAction(w http.ResponseWriter, r *http.Request, action func(string)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	name := r.URL.Query().Get("node")
	if name == "" {
		http.Error(w, "node parameter required", http.StatusBadRequest)
		return
	}
	action(name)
	w.WriteHeader(http.StatusNoContent)
}

func (api *ControlApi) handleKill(w http.ResponseWriter, r *http.Request) {
	api.jobAction(w, r, api.scheduler.KillJob)
}

func (api *ControlApi) handleClean(w http.ResponseWriter, r *http.Request) {
	api.jobAction(w, r, api.scheduler.CleanJob)
}

func (api *ControlApi) jobAction(w http.ResponseWriter, r *http.Request, action func(string)) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jobName := r.URL.Query().Get("job")
	if jobName == "" {
		http.Error(w, "job parameter required", http.StatusBadRequest)
		return
	}
	action(jobName)
	w.WriteHeader(http.StatusNoContent)
}

func (api *ControlApi) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var configs []NodeConfig
	if err := json.NewDecoder(r.Body).Decode(&configs); err != nil {
		http.Error(w, "bad config: "+err.Error(), http.StatusBadRequest)
		return
	}
	for _, config := range configs {
		if err := api.validate.Struct(config); err != nil {
			http.Error(w, "bad config: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	api.scheduler.UpdateConfig(configs)
	w.WriteHeader(http.StatusNoContent)
}

func writeJson(w http.ResponseWriter, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.WithError(err).Warn("Failed to write control api response")
	}
}
