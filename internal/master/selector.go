package master

import (
	"golang.org/x/exp/slices"
)

// decisionKind is the outcome of one node-selection attempt.
type decisionKind int

const (
	// A node was chosen; dispatch the task there.
	decisionPlaced decisionKind = iota
	// No configured node has free capacity. Retryable.
	decisionBusy
	// Free capacity exists but every candidate is excluded by a blacklist.
	// Terminal when the task's own blacklist names at least as many nodes as
	// are configured, retryable otherwise (a whitelist or config change may
	// help).
	decisionExhausted
)

// decision is what selectNode returns to the scheduling loop.
type decision struct {
	kind decisionKind
	// Chosen node, set for decisionPlaced.
	node string
	// For decisionExhausted: how many entries the task's own blacklist has
	// (names are counted whether or not they are configured), and how many
	// nodes are configured in total. tried >= total means the task is
	// treated as never runnable and is dropped.
	tried int
	total int
}

func (d decision) terminal() bool {
	return d.kind == decisionExhausted && d.tried >= d.total
}

// selectNode picks a node for a task. It reads the node tables but never
// writes them; the caller holds the scheduler lock so the load it reads
// cannot move under it.
//
// The preferred node wins outright whenever it has capacity and is not
// excluded. Otherwise the least-loaded non-excluded node with capacity is
// chosen, ties broken by node name so placement is reproducible.
func selectNode(ns *nodeSet, preferred string, taskBlacklist []string) decision {
	if node := ns.get(preferred); node != nil &&
		node.configured &&
		node.load < node.capacity &&
		!ns.blacklist[preferred] &&
		!slices.Contains(taskBlacklist, preferred) {
		return decision{kind: decisionPlaced, node: preferred}
	}

	configured := ns.configuredNames()
	available := make([]*nodeState, 0, len(configured))
	for _, name := range configured {
		if node := ns.nodes[name]; node.load < node.capacity {
			available = append(available, node)
		}
	}
	if len(available) == 0 {
		return decision{kind: decisionBusy}
	}

	candidates := make([]*nodeState, 0, len(available))
	for _, node := range available {
		if ns.blacklist[node.name] || slices.Contains(taskBlacklist, node.name) {
			continue
		}
		candidates = append(candidates, node)
	}
	if len(candidates) == 0 {
		return decision{kind: decisionExhausted, tried: len(taskBlacklist), total: len(configured)}
	}

	best := candidates[0]
	for _, node := range candidates[1:] {
		// Candidates arrive in name order, so strict less-than keeps the
		// first-named node among equals.
		if node.load < best.load {
			best = node
		}
	}
	return decision{kind: decisionPlaced, node: best.name}
}
