package correlate

// unionFind is a weighted union-find over alert IDs: union by rank with
// path-compressing find. Link thresholding happens before union is called, so
// the structure itself stores no edge weights.
type unionFind struct {
	parent map[int64]int64
	rank   map[int64]int
}

func newUnionFind(ids []int64) *unionFind {
	uf := &unionFind{
		parent: make(map[int64]int64, len(ids)),
		rank:   make(map[int64]int, len(ids)),
	}
	for _, id := range ids {
		uf.parent[id] = id
	}
	return uf
}

func (uf *unionFind) find(id int64) int64 {
	parent := uf.parent[id]
	if parent != id {
		uf.parent[id] = uf.find(parent)
	}
	return uf.parent[id]
}

func (uf *unionFind) union(left, right int64) {
	rootLeft := uf.find(left)
	rootRight := uf.find(right)
	if rootLeft == rootRight {
		return
	}
	rankLeft := uf.rank[rootLeft]
	rankRight := uf.rank[rootRight]
	if rankLeft < rankRight {
		uf.parent[rootLeft] = rootRight
		return
	}
	if rankLeft > rankRight {
		uf.parent[rootRight] = rootLeft
		return
	}
	uf.parent[rootRight] = rootLeft
	uf.rank[rootLeft]++
}
