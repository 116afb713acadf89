package dag

import "sort"

// Cluster is a set of nodes transitively connected through edges in
// either direction. Nodes in different clusters share no edges.
type Cluster struct {
	// ID is assigned in order of the sorted cluster list, starting at 0.
	ID int

	// NodeIDs lists the members in topological order (dependencies first).
	NodeIDs []string

	// Roots lists the members nothing depends on, sorted.
	Roots []string
}

// Clusters partitions the DAG into independent clusters using
// Union-Find. Clusters are sorted by size (largest first) with the first
// member as tiebreaker.
func (d *DAG) Clusters() ([]Cluster, error) {
	if len(d.nodes) == 0 {
		return nil, nil
	}

	topoOrder, err := d.TopologicalSort()
	if err != nil {
		return nil, err
	}
	topoPos := make(map[string]int, len(topoOrder))
	for i, id := range topoOrder {
		topoPos[id] = i
	}

	uf := NewUnionFind()
	for id := range d.nodes {
		uf.Add(id)
	}
	for from, deps := range d.adjacency {
		for to := range deps {
			uf.Union(from, to)
		}
	}

	components := uf.Components()
	clusters := make([]Cluster, 0, len(components))
	for _, members := range components {
		sort.Slice(members, func(i, j int) bool {
			return topoPos[members[i]] < topoPos[members[j]]
		})
		var roots []string
		for _, id := range members {
			if len(d.reverse[id]) == 0 {
				roots = append(roots, id)
			}
		}
		sort.Strings(roots)
		clusters = append(clusters, Cluster{NodeIDs: members, Roots: roots})
	}

	sort.Slice(clusters, func(i, j int) bool {
		if len(clusters[i].NodeIDs) != len(clusters[j].NodeIDs) {
			return len(clusters[i].NodeIDs) > len(clusters[j].NodeIDs)
		}
		return clusters[i].NodeIDs[0] < clusters[j].NodeIDs[0]
	})
	for i := range clusters {
		clusters[i].ID = i
	}
	return clusters, nil
}
