package engine

// selectNeeded marks every variable reachable backward from the requested
// outputs through the dependency edges. Requested names resolve against
// the registry; nil means every variable. The returned output IDs keep
// the caller's column order.
func selectNeeded(deps [][]Edge, byName map[string]VarID, outputs []string) (needed []bool, outIDs []VarID, err error) {
	n := len(deps)
	needed = make([]bool, n)

	if outputs == nil {
		for i := range needed {
			needed[i] = true
		}
		outIDs = make([]VarID, n)
		for i := range outIDs {
			outIDs[i] = VarID(i)
		}
		return needed, outIDs, nil
	}

	outIDs = make([]VarID, 0, len(outputs))
	seen := make(map[string]bool, len(outputs))
	var stack []VarID
	for _, name := range outputs {
		id, ok := byName[name]
		if !ok {
			return nil, nil, buildErrf("", "unknown output variable %q", name)
		}
		if seen[name] {
			return nil, nil, buildErrf("", "output variable %q requested twice", name)
		}
		seen[name] = true
		outIDs = append(outIDs, id)
		if !needed[id] {
			needed[id] = true
			stack = append(stack, id)
		}
	}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range deps[id] {
			if !needed[e.To] {
				needed[e.To] = true
				stack = append(stack, e.To)
			}
		}
	}
	return needed, outIDs, nil
}
