package engine

// VarID indexes a variable in the model's arena. IDs are assigned in
// lexical name order, which makes every tie-break and default column
// order deterministic.
type VarID int

// Edge records one declared read: the reading variable depends on To.
type Edge struct {
	To     VarID
	Offset int
	Abs    bool
	Whole  bool
}

type varNode struct {
	id   VarID
	def  Def
	kind Kind

	// set by resolveOrder
	rank       int
	dir        Direction
	cycle      bool
	cycleOrder int
}

// buildGraph resolves every declared read into arena-indexed edges.
// deps[a] lists the reads of a, self-loops included.
func buildGraph(defs []Def) ([]varNode, [][]Edge, map[string]VarID, error) {
	nodes := make([]varNode, len(defs))
	byName := make(map[string]VarID, len(defs))
	for i, def := range defs {
		kind, err := def.kind()
		if err != nil {
			return nil, nil, nil, buildErrf(def.Name, "%v", err)
		}
		nodes[i] = varNode{id: VarID(i), def: def, kind: kind}
		byName[def.Name] = VarID(i)
	}
	deps := make([][]Edge, len(defs))
	for i, def := range defs {
		for _, ref := range def.Reads {
			to, ok := byName[ref.Name]
			if !ok {
				return nil, nil, nil, buildErrf(def.Name, "unresolved dependency %q", ref.Name)
			}
			deps[i] = append(deps[i], Edge{To: to, Offset: ref.Offset, Abs: ref.Abs, Whole: ref.Whole})
		}
	}
	return nodes, deps, byName, nil
}

// dependentsOf inverts the dependency edges, ignoring self-loops.
func dependentsOf(deps [][]Edge) [][]VarID {
	out := make([][]VarID, len(deps))
	seen := make([]VarID, len(deps))
	for i := range seen {
		seen[i] = -1
	}
	for from, edges := range deps {
		for _, e := range edges {
			if int(e.To) == from {
				continue
			}
			// collapse parallel edges to one dependent entry
			if seen[e.To] == VarID(from) {
				continue
			}
			seen[e.To] = VarID(from)
			out[e.To] = append(out[e.To], VarID(from))
		}
	}
	return out
}

// allowedReads builds the read permission matrix consulted by Values:
// allowed[reader][target] is true when reader declares a read of target.
func allowedReads(deps [][]Edge) [][]bool {
	n := len(deps)
	allowed := make([][]bool, n)
	for i, edges := range deps {
		row := make([]bool, n)
		for _, e := range edges {
			row[e.To] = true
		}
		allowed[i] = row
	}
	return allowed
}
