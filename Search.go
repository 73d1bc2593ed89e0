package hnswdb

import "sort"


//============================================= Greedy Descent Search


// resolveStorage returns node's quantized vector, fetching it from props
// when the node's prop is only Pending (written to disk but not resident).
func resolveStorage(node *MergedNode, props *PropertyFile) (*Storage, error) {
	state := node.GetProp()
	if nodeProp, ok := state.Node(); ok { return nodeProp.Value, nil }

	prop, fetchErr := props.Fetch(state.PendingRef())
	if fetchErr != nil { return nil, fetchErr }
	return prop.Value, nil
}

// GreedyDescend walks from entry down through the graph's parent/child
// chain: at each level it repeatedly moves to the neighbor closest to query,
// and once no neighbor improves on the current node it drops to Child for
// the next level down, stopping at a node with no child (level 0). This is
// the smallest descent that makes Query/FetchNeighbors functional, not a
// tuned HNSW search -- no ef parameter, no multi-candidate beam, no
// level-skip heuristics beyond walking Child links one level at a time.
func GreedyDescend(entry *LazyItem[MergedNode], query *Storage, distance DistanceFunction, props *PropertyFile) (*LazyItem[MergedNode], error) {
	if entry == nil || entry.IsInvalid() {
		return nil, newErr(ErrInvalidParams, "greedy descend: invalid entry point")
	}

	current := entry
	for {
		node, ok := current.GetData()
		if !ok { return nil, newErr(ErrDeserialization, "greedy descend: unresolved node handle") }

		currentStorage, storageErr := resolveStorage(&node, props)
		if storageErr != nil { return nil, storageErr }

		currentDist, distErr := distance.Calculate(currentStorage, query)
		if distErr != nil { return nil, distErr }

		improved := false
		for _, neighbor := range node.GetNeighbors().Iter() {
			neighborNode, ok := neighbor.Lazy.GetData()
			if !ok { continue }

			neighborStorage, storageErr := resolveStorage(&neighborNode, props)
			if storageErr != nil { return nil, storageErr }

			neighborDist, distErr := distance.Calculate(neighborStorage, query)
			if distErr != nil { return nil, distErr }

			if neighborDist < currentDist {
				current = neighbor.Lazy
				currentDist = neighborDist
				improved = true
			}
		}
		if improved { continue }

		child := node.GetChild().Get()
		if child == nil || child.IsInvalid() { return current, nil }
		current = child
	}
}

// RankNeighbors returns node itself plus its stored neighbors, sorted by
// distance to query, nearest first, truncated to k (0 or negative means
// "all"). The distance goes in each Neighbour's CosineSimilarity field. Used to turn
// the node GreedyDescend lands on into a ranked candidate list for Query.
func RankNeighbors(node *LazyItem[MergedNode], query *Storage, distance DistanceFunction, props *PropertyFile, k int) ([]Neighbour, error) {
	data, ok := node.GetData()
	if !ok { return nil, newErr(ErrDeserialization, "rank neighbors: unresolved node handle") }

	candidates := data.GetNeighbors().Iter()
	ranked := make([]Neighbour, 0, len(candidates)+1)
	ranked = append(ranked, Neighbour{ Node: node, CosineSimilarity: 0 })

	for _, candidate := range candidates {
		candidateNode, ok := candidate.Lazy.GetData()
		if !ok { continue }

		candidateStorage, storageErr := resolveStorage(&candidateNode, props)
		if storageErr != nil { return nil, storageErr }

		dist, distErr := distance.Calculate(candidateStorage, query)
		if distErr != nil { return nil, distErr }

		ranked = append(ranked, Neighbour{ Node: candidate.Lazy, CosineSimilarity: dist })
	}

	currentStorage, storageErr := resolveStorage(&data, props)
	if storageErr != nil { return nil, storageErr }
	selfDist, distErr := distance.Calculate(currentStorage, query)
	if distErr != nil { return nil, distErr }
	ranked[0].CosineSimilarity = selfDist

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].CosineSimilarity < ranked[j].CosineSimilarity })

	if k > 0 && k < len(ranked) { ranked = ranked[:k] }
	return ranked, nil
}
