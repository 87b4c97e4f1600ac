package engine

import (
	"sort"
	"strings"
)

// Direction tells the evaluator how to iterate periods for one variable
// or cycle group.
type Direction int

const (
	DirNone     Direction = iota // order across periods does not matter
	DirForward                   // increasing t: the group reads its own past
	DirBackward                  // decreasing t: the group reads its own future
)

func (d Direction) String() string {
	switch d {
	case DirForward:
		return "forward"
	case DirBackward:
		return "backward"
	}
	return "irrelevant"
}

// evalGroup is one step of the calculation schedule: a single variable,
// or a whole cycle sharing one rank. Cycle members are listed in
// within-period evaluation order.
type evalGroup struct {
	rank     int
	members  []VarID
	dir      Direction
	cycle    bool
	recIndep bool
}

// resolveOrder assigns a calculation rank to every variable and returns
// the schedule. Variables with no unprocessed dependencies are ranked
// first, ties in lexical order; when only cycles remain, each source
// strongly connected component is collapsed into one shared rank.
func resolveOrder(nodes []varNode, deps [][]Edge) ([]evalGroup, error) {
	n := len(nodes)
	depTargets := distinctNonSelfTargets(deps)
	dependents := dependentsOf(deps)

	processed := make([]bool, n)
	pending := make([]int, n)
	for i, targets := range depTargets {
		pending[i] = len(targets)
	}

	var groups []evalGroup
	rank := 0
	remaining := n

	ready := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if pending[i] == 0 {
			ready = append(ready, i)
		}
	}

	complete := func(i int) {
		processed[i] = true
		remaining--
		for _, d := range dependents[i] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, int(d))
			}
		}
	}

	for remaining > 0 {
		if len(ready) > 0 {
			wave := ready
			ready = make([]int, 0, n)
			sort.Ints(wave)
			for _, i := range wave {
				rank++
				nodes[i].rank = rank
				groups = append(groups, singleGroup(&nodes[i], deps[i], rank))
				complete(i)
			}
			continue
		}

		// Deadlocked: everything left depends on a cycle. Collapse one
		// source component of the unprocessed subgraph, then resume the
		// ready queue; a cycle often releases plain variables.
		sccs := stronglyConnected(n, depTargets, processed)
		scheduled := false
		for _, scc := range sccs {
			if len(scc) < 2 || !schedulable(scc, depTargets, processed) {
				continue
			}
			rank++
			group, err := cycleGroup(nodes, deps, scc, rank)
			if err != nil {
				return nil, err
			}
			groups = append(groups, group)
			for _, id := range scc {
				complete(int(id))
			}
			scheduled = true
			break
		}
		if !scheduled {
			return nil, buildErrf("", "calculation order deadlocked without a schedulable cycle")
		}
	}

	if err := checkArrays(nodes, depTargets); err != nil {
		return nil, err
	}
	return groups, nil
}

func singleGroup(node *varNode, edges []Edge, rank int) evalGroup {
	dir := DirNone
	for _, e := range edges {
		if e.To != node.id || e.Abs || e.Whole || e.Offset == 0 {
			continue
		}
		if e.Offset < 0 {
			dir = DirForward
		} else {
			dir = DirBackward
		}
		break
	}
	node.dir = dir
	return evalGroup{
		rank:     rank,
		members:  []VarID{node.id},
		dir:      dir,
		recIndep: node.def.RecordIndependent,
	}
}

// cycleGroup marks the component's members, picks the shared direction
// from the first offset self- or member-read found, and orders members
// within one period by their same-period reads of each other.
func cycleGroup(nodes []varNode, deps [][]Edge, scc []VarID, rank int) (evalGroup, error) {
	members := append([]VarID(nil), scc...)
	sort.Slice(members, func(i, j int) bool { return members[i] < members[j] })
	inCycle := make(map[VarID]bool, len(members))
	for _, id := range members {
		inCycle[id] = true
	}

	dir := DirNone
	recIndep := true
	for _, id := range members {
		for _, e := range deps[id] {
			if !inCycle[e.To] || e.Abs {
				continue
			}
			if e.Whole {
				return evalGroup{}, buildErrf(nodes[id].def.Name,
					"reads the complete series of %q from inside their cycle", nodes[e.To].def.Name)
			}
			if dir == DirNone && e.Offset != 0 {
				if e.Offset < 0 {
					dir = DirForward
				} else {
					dir = DirBackward
				}
			}
		}
		if !nodes[id].def.RecordIndependent {
			recIndep = false
		}
	}

	ordered, err := orderWithinCycle(nodes, deps, members, inCycle)
	if err != nil {
		return evalGroup{}, err
	}
	for pos, id := range ordered {
		nodes[id].rank = rank
		nodes[id].dir = dir
		nodes[id].cycle = true
		nodes[id].cycleOrder = pos + 1
	}
	return evalGroup{rank: rank, members: ordered, dir: dir, cycle: true, recIndep: recIndep}, nil
}

// orderWithinCycle sorts cycle members so that every same-period read of
// another member is evaluated after its target. A loop of same-period
// reads has no such order and fails construction.
func orderWithinCycle(nodes []varNode, deps [][]Edge, members []VarID, inCycle map[VarID]bool) ([]VarID, error) {
	pending := make(map[VarID]int, len(members))
	dependents := make(map[VarID][]VarID, len(members))
	for _, id := range members {
		seen := make(map[VarID]bool)
		for _, e := range deps[id] {
			if !inCycle[e.To] || e.To == id || e.Abs || e.Whole || e.Offset != 0 || seen[e.To] {
				continue
			}
			seen[e.To] = true
			pending[id]++
			dependents[e.To] = append(dependents[e.To], id)
		}
	}

	ordered := make([]VarID, 0, len(members))
	ready := make([]VarID, 0, len(members))
	for _, id := range members {
		if pending[id] == 0 {
			ready = append(ready, id)
		}
	}
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return ready[i] < ready[j] })
		id := ready[0]
		ready = ready[1:]
		ordered = append(ordered, id)
		for _, d := range dependents[id] {
			pending[d]--
			if pending[d] == 0 {
				ready = append(ready, d)
			}
		}
	}
	if len(ordered) != len(members) {
		var stuck []string
		for _, id := range members {
			if pending[id] > 0 {
				stuck = append(stuck, nodes[id].def.Name)
			}
		}
		sort.Strings(stuck)
		return nil, buildErrf(stuck[0],
			"cycle members %s read each other in the same period; break the loop with a time offset",
			strings.Join(stuck, ", "))
	}
	return ordered, nil
}

// schedulable reports whether every dependency of the component lies
// inside it or is already processed.
func schedulable(scc []VarID, depTargets [][]VarID, processed []bool) bool {
	comp := make(map[VarID]bool, len(scc))
	for _, id := range scc {
		comp[id] = true
	}
	for _, id := range scc {
		for _, dep := range depTargets[id] {
			if !processed[dep] && !comp[dep] {
				return false
			}
		}
	}
	return true
}

// checkArrays rejects array variables inside a cycle or reachable from
// one through their dependencies.
func checkArrays(nodes []varNode, depTargets [][]VarID) error {
	for i := range nodes {
		if nodes[i].kind != KindArray {
			continue
		}
		if nodes[i].cycle {
			return buildErrf(nodes[i].def.Name,
				"is part of a cycle so it cannot be an array variable; compute it per period instead")
		}
		if cyclic := firstCyclicReachable(nodes, depTargets, nodes[i].id); cyclic >= 0 {
			return buildErrf(nodes[i].def.Name,
				"is an array variable but depends on cyclic variable %q", nodes[cyclic].def.Name)
		}
	}
	return nil
}

func firstCyclicReachable(nodes []varNode, depTargets [][]VarID, from VarID) VarID {
	visited := make([]bool, len(nodes))
	stack := []VarID{from}
	visited[from] = true
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range depTargets[id] {
			if visited[dep] {
				continue
			}
			if nodes[dep].cycle {
				return dep
			}
			visited[dep] = true
			stack = append(stack, dep)
		}
	}
	return -1
}

// distinctNonSelfTargets deduplicates parallel edges and drops self-loops,
// leaving the plain predecessor lists rank resolution works on.
func distinctNonSelfTargets(deps [][]Edge) [][]VarID {
	out := make([][]VarID, len(deps))
	for i, edges := range deps {
		seen := make(map[VarID]bool, len(edges))
		for _, e := range edges {
			if int(e.To) == i || seen[e.To] {
				continue
			}
			seen[e.To] = true
			out[i] = append(out[i], e.To)
		}
	}
	return out
}

// stronglyConnected runs Tarjan's algorithm over the unprocessed
// subgraph and returns its components.
func stronglyConnected(n int, depTargets [][]VarID, processed []bool) [][]VarID {
	const unvisited = -1
	index := make([]int, n)
	lowlink := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = unvisited
	}
	var (
		stack   []VarID
		counter int
		sccs    [][]VarID
	)

	var strongconnect func(v VarID)
	strongconnect = func(v VarID) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range depTargets[v] {
			if processed[w] {
				continue
			}
			if index[w] == unvisited {
				strongconnect(w)
				if lowlink[w] < lowlink[v] {
					lowlink[v] = lowlink[w]
				}
			} else if onStack[w] && index[w] < lowlink[v] {
				lowlink[v] = index[w]
			}
		}

		if lowlink[v] == index[v] {
			var scc []VarID
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	for i := 0; i < n; i++ {
		if !processed[i] && index[i] == unvisited {
			strongconnect(VarID(i))
		}
	}

	// Deterministic component order: by smallest member.
	for _, scc := range sccs {
		sort.Slice(scc, func(i, j int) bool { return scc[i] < scc[j] })
	}
	sort.Slice(sccs, func(i, j int) bool { return sccs[i][0] < sccs[j][0] })
	return sccs
}
