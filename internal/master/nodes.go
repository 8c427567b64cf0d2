package master

import (
	"golang.org/x/exp/slices"
)

// NodeConfig is one entry of the cluster configuration.
type NodeConfig struct {
	// Hostname of the node.
	Name string `validate:"required"`
	// Maximum number of concurrent workers on this node.
	Capacity int `validate:"gte=0"`
}

// nodeState is the registry's record for one node: capacity from
// configuration, current load, and cumulative outcome counters.
// Counters never decrease.
type nodeState struct {
	name      string
	capacity  int
	load      int
	okCount   uint64
	dataCount uint64
	// Counts job_error and error outcomes together.
	crashCount uint64
	// False once the node disappears from the configuration. Stale nodes
	// stay addressable so in-flight workers can still check in their
	// termination, but they are never selected.
	configured bool
}

// nodeSet holds the per-node tables and the global blacklist.
// It is not safe for concurrent use; the scheduler's lock guards it.
type nodeSet struct {
	nodes     map[string]*nodeState
	blacklist map[string]bool
}

func newNodeSet(configs []NodeConfig) *nodeSet {
	ns := &nodeSet{
		nodes:     map[string]*nodeState{},
		blacklist: map[string]bool{},
	}
	ns.applyConfig(configs)
	return ns
}

// applyConfig replaces the configured node set. Load and counters of nodes
// present in both the old and new config are preserved; new nodes start
// empty; removed nodes become unselectable but keep their record until
// their load drains to zero.
func (ns *nodeSet) applyConfig(configs []NodeConfig) {
	for _, node := range ns.nodes {
		node.configured = false
	}
	for _, config := range configs {
		if node, ok := ns.nodes[config.Name]; ok {
			node.capacity = config.Capacity
			node.configured = true
		} else {
			ns.nodes[config.Name] = &nodeState{
				name:       config.Name,
				capacity:   config.Capacity,
				configured: true,
			}
		}
	}
	for name, node := range ns.nodes {
		if !node.configured && node.load == 0 {
			delete(ns.nodes, name)
		}
	}
}

func (ns *nodeSet) get(name string) *nodeState {
	return ns.nodes[name]
}

// addLoad adjusts a node's load by delta. Unknown nodes are ignored: a
// worker may outlive the removal of its node from the configuration.
func (ns *nodeSet) addLoad(name string, delta int) {
	node, ok := ns.nodes[name]
	if !ok {
		return
	}
	node.load += delta
	if node.load < 0 {
		// Decrements are tied one-to-one to worker terminations, so this
		// is unreachable unless the bookkeeping is broken.
		panic("node load went negative: " + name)
	}
	if !node.configured && node.load == 0 {
		delete(ns.nodes, name)
	}
}

// recordOutcome bumps the counter matching a worker's result kind.
// Kinds outside the known set leave the counters untouched.
func (ns *nodeSet) recordOutcome(name string, kind ResultKind) {
	node, ok := ns.nodes[name]
	if !ok {
		return
	}
	switch kind {
	case ResultOK:
		node.okCount++
	case ResultDataError:
		node.dataCount++
	case ResultJobError, ResultError:
		node.crashCount++
	}
}

// configuredNames returns the names of all configured nodes in ascending
// order. Ordering is part of the scheduling contract: ties between
// equally loaded candidates break deterministically.
func (ns *nodeSet) configuredNames() []string {
	names := make([]string, 0, len(ns.nodes))
	for name, node := range ns.nodes {
		if node.configured {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

// NodeInfo is a point-in-time copy of one node's registry row.
type NodeInfo struct {
	Name        string `json:"name"`
	Capacity    int    `json:"capacity"`
	Load        int    `json:"load"`
	OkCount     uint64 `json:"ok"`
	DataError   uint64 `json:"data_error"`
	Error       uint64 `json:"error"`
	Blacklisted bool   `json:"blacklisted"`
}

func (ns *nodeSet) snapshot() []NodeInfo {
	infos := make([]NodeInfo, 0, len(ns.nodes))
	for _, node := range ns.nodes {
		if !node.configured {
			continue
		}
		infos = append(infos, NodeInfo{
			Name:        node.name,
			Capacity:    node.capacity,
			Load:        node.load,
			OkCount:     node.okCount,
			DataError:   node.dataCount,
			Error:       node.crashCount,
			Blacklisted: ns.blacklist[node.name],
		})
	}
	slices.SortFunc(infos, func(a, b NodeInfo) bool { return a.Name < b.Name })
	return infos
}
