// Package storage - HNSW (Hierarchical Navigable Small World) vector index
//
// What: An approximate nearest-neighbour index over fixed-dimension float64
//       vectors, layered the way Malkov & Yashunin's HNSW paper describes:
//       a small top layer for long hops, progressively denser layers below,
//       greedy search narrowing the candidate set on the way down.
// How: Each inserted vector gets a random top layer (geometric distribution)
//      and bidirectional links to its closest existing neighbours at every
//      layer up to that level, capped per layer so the graph stays
//      navigable. Search descends layer by layer with a widening beam.
// Why: Table scans for VEC_SEARCH/VEC_TOP_K are O(n) per query; this index
//      makes nearest-neighbour lookups over a vector column sub-linear at
//      the cost of approximate (not exact) results.
//
// No HNSW reference implementation exists in the retrieved corpus — this
// file is grounded on the teacher's distance-function conventions in
// engine/vector_search.go (cosine/l2/manhattan/dot, negated where smaller
// must mean "more similar") and written fresh from the published algorithm,
// using container/heap for the candidate/result frontiers the way the
// standard library intends them to be used.

package storage

import (
	"container/heap"
	"fmt"
	"math"
	"math/rand"
	"sync"
)

// VectorMetric names a distance function for an HNSW index.
type VectorMetric string

const (
	MetricCosine    VectorMetric = "cosine"
	MetricL2        VectorMetric = "l2"
	MetricManhattan VectorMetric = "manhattan"
	MetricDot       VectorMetric = "dot"
)

func vectorDistance(a, b []float64, metric VectorMetric) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("hnsw: dimension mismatch (%d vs %d)", len(a), len(b))
	}
	switch metric {
	case MetricCosine, "":
		var dot, na, nb float64
		for i := range a {
			dot += a[i] * b[i]
			na += a[i] * a[i]
			nb += b[i] * b[i]
		}
		if na == 0 || nb == 0 {
			return 1, nil
		}
		sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
		return 1 - sim, nil
	case MetricL2:
		var sum float64
		for i := range a {
			d := a[i] - b[i]
			sum += d * d
		}
		return math.Sqrt(sum), nil
	case MetricManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(a[i] - b[i])
		}
		return sum, nil
	case MetricDot:
		var dot float64
		for i := range a {
			dot += a[i] * b[i]
		}
		return -dot, nil
	default:
		return 0, fmt.Errorf("hnsw: unknown metric %q", metric)
	}
}

type hnswNode struct {
	id        int64
	vec       []float64
	neighbors []map[int64]struct{} // neighbors[layer] = set of neighbor node IDs
	deleted   bool
}

func (n *hnswNode) topLayer() int { return len(n.neighbors) - 1 }

// HNSWIndex is a layered approximate nearest-neighbour graph over vectors
// of a fixed dimension.
type HNSWIndex struct {
	mu sync.RWMutex

	dim    int
	metric VectorMetric

	m              int // max neighbors per layer (layers >= 1)
	m0             int // max neighbors at layer 0
	efConstruction int
	efSearch       int
	levelMult      float64

	nodes      map[int64]*hnswNode
	entryPoint int64
	hasEntry   bool

	deletedCount     int
	rebuildThreshold float64 // fraction of tombstoned nodes that triggers a rebuild

	rng *rand.Rand
}

// HNSWConfig carries the tunable construction/search parameters.
type HNSWConfig struct {
	Dim              int
	Metric           VectorMetric
	M                int     // default 16 (hnsw_default_m)
	EfConstruction   int     // default 200 (hnsw_efConstruction)
	EfSearch         int     // default 50 (hnsw_efSearch)
	RebuildThreshold float64 // default 0.2 (NeedsRebuild reports true at 20% tombstoned)
}

// NewHNSWIndex creates an empty index for vectors of the given dimension.
func NewHNSWIndex(cfg HNSWConfig) *HNSWIndex {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	if cfg.RebuildThreshold <= 0 {
		cfg.RebuildThreshold = 0.2
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricCosine
	}
	return &HNSWIndex{
		dim:              cfg.Dim,
		metric:           cfg.Metric,
		m:                cfg.M,
		m0:               cfg.M * 2,
		efConstruction:   cfg.EfConstruction,
		efSearch:         cfg.EfSearch,
		levelMult:        1 / math.Log(float64(cfg.M)),
		nodes:            make(map[int64]*hnswNode),
		rebuildThreshold: cfg.RebuildThreshold,
		rng:              rand.New(rand.NewSource(1)),
	}
}

func (h *HNSWIndex) randomLevel() int {
	level := int(math.Floor(-math.Log(h.rng.Float64()) * h.levelMult))
	return level
}

// candidate pairs a node ID with its distance to the current query, used
// for both the min-heap (nearest-first) and max-heap (farthest-first)
// frontiers the search and construction routines need.
type candidate struct {
	id   int64
	dist float64
}

type minHeap []candidate

func (h minHeap) Len() int            { return len(h) }
func (h minHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *minHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type maxHeap []candidate

func (h maxHeap) Len() int            { return len(h) }
func (h maxHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxHeap) Push(x interface{}) { *h = append(*h, x.(candidate)) }
func (h *maxHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Insert adds (or re-inserts) a vector under id.
func (h *HNSWIndex) Insert(id int64, vec []float64) error {
	if len(vec) != h.dim {
		return fmt.Errorf("hnsw: vector has dimension %d, index expects %d", len(vec), h.dim)
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	level := h.randomLevel()
	node := &hnswNode{id: id, vec: vec, neighbors: make([]map[int64]struct{}, level+1)}
	for l := range node.neighbors {
		node.neighbors[l] = make(map[int64]struct{})
	}
	h.nodes[id] = node

	if !h.hasEntry {
		h.entryPoint = id
		h.hasEntry = true
		return nil
	}

	entry := h.entryPoint
	entryNode := h.nodes[entry]
	curDist, err := vectorDistance(vec, entryNode.vec, h.metric)
	if err != nil {
		return err
	}

	// Phase 1: greedy single-step descent from the top down to level+1.
	for l := entryNode.topLayer(); l > level; l-- {
		changed := true
		for changed {
			changed = false
			for nb := range h.nodes[entry].neighbors[l] {
				nbNode := h.nodes[nb]
				if nbNode == nil || nbNode.deleted {
					continue
				}
				d, err := vectorDistance(vec, nbNode.vec, h.metric)
				if err != nil {
					return err
				}
				if d < curDist {
					curDist = d
					entry = nb
					changed = true
				}
			}
		}
	}

	// Phase 2: at each layer from min(level, entry's top) down to 0, run a
	// beam search of width efConstruction and connect to the best M.
	topStart := level
	if entryNode.topLayer() < topStart {
		topStart = entryNode.topLayer()
	}
	entryPoints := map[int64]struct{}{entry: {}}
	for l := topStart; l >= 0; l-- {
		found := h.searchLayer(vec, entryPoints, h.efConstruction, l)
		maxForLayer := h.m
		if l == 0 {
			maxForLayer = h.m0
		}
		selected := h.selectNeighbors(vec, found, maxForLayer)
		for _, c := range selected {
			node.neighbors[l][c.id] = struct{}{}
			h.nodes[c.id].neighbors[l][id] = struct{}{}
			h.trimNeighbors(c.id, l)
		}
		entryPoints = make(map[int64]struct{}, len(found))
		for _, c := range found {
			entryPoints[c.id] = struct{}{}
		}
	}

	if level > entryNode.topLayer() {
		h.entryPoint = id
	}
	return nil
}

// trimNeighbors drops the farthest neighbors of id at layer l down to the
// layer's cap, after a new bidirectional edge may have pushed it over.
func (h *HNSWIndex) trimNeighbors(id int64, layer int) {
	node := h.nodes[id]
	cap := h.m
	if layer == 0 {
		cap = h.m0
	}
	if len(node.neighbors[layer]) <= cap {
		return
	}
	cands := make([]candidate, 0, len(node.neighbors[layer]))
	for nb := range node.neighbors[layer] {
		d, err := vectorDistance(node.vec, h.nodes[nb].vec, h.metric)
		if err != nil {
			continue
		}
		cands = append(cands, candidate{id: nb, dist: d})
	}
	kept := h.selectNeighbors(node.vec, cands, cap)
	keptSet := make(map[int64]struct{}, len(kept))
	for _, c := range kept {
		keptSet[c.id] = struct{}{}
	}
	for nb := range node.neighbors[layer] {
		if _, ok := keptSet[nb]; !ok {
			delete(node.neighbors[layer], nb)
			if other := h.nodes[nb]; other != nil && layer < len(other.neighbors) {
				delete(other.neighbors[layer], id)
			}
		}
	}
}

// selectNeighbors picks up to max candidates closest to vec. A simple
// diversity pass is applied first: a candidate is skipped if it is closer
// to an already-selected neighbor than to the query vector, which spreads
// connections out instead of clustering them all on one side of the
// query — the standard heuristic HNSW uses in place of naive top-M.
func (h *HNSWIndex) selectNeighbors(vec []float64, cands []candidate, max int) []candidate {
	sortedCands := append([]candidate(nil), cands...)
	minH := minHeap(sortedCands)
	heap.Init(&minH)

	var selected []candidate
	for minH.Len() > 0 && len(selected) < max {
		c := heap.Pop(&minH).(candidate)
		node := h.nodes[c.id]
		if node == nil || node.deleted {
			continue
		}
		diverse := true
		for _, s := range selected {
			sd, err := vectorDistance(node.vec, h.nodes[s.id].vec, h.metric)
			if err == nil && sd < c.dist {
				diverse = false
				break
			}
		}
		if diverse {
			selected = append(selected, c)
		}
	}
	// If the diversity heuristic was too aggressive and left us short,
	// backfill with the next-closest remaining candidates.
	if len(selected) < max {
		seen := make(map[int64]struct{}, len(selected))
		for _, s := range selected {
			seen[s.id] = struct{}{}
		}
		rest := make([]candidate, 0, len(cands))
		for _, c := range cands {
			if _, ok := seen[c.id]; !ok {
				rest = append(rest, c)
			}
		}
		rh := minHeap(rest)
		heap.Init(&rh)
		for rh.Len() > 0 && len(selected) < max {
			selected = append(selected, heap.Pop(&rh).(candidate))
		}
	}
	return selected
}

// searchLayer runs a beam search of width ef over a single layer, starting
// from entryPoints, and returns the ef closest candidates found.
func (h *HNSWIndex) searchLayer(query []float64, entryPoints map[int64]struct{}, ef int, layer int) []candidate {
	visited := make(map[int64]struct{}, ef*2)
	candidates := &minHeap{}
	results := &maxHeap{}

	for id := range entryPoints {
		node := h.nodes[id]
		if node == nil {
			continue
		}
		d, err := vectorDistance(query, node.vec, h.metric)
		if err != nil {
			continue
		}
		visited[id] = struct{}{}
		heap.Push(candidates, candidate{id: id, dist: d})
		if !node.deleted {
			heap.Push(results, candidate{id: id, dist: d})
		}
	}

	for candidates.Len() > 0 {
		c := heap.Pop(candidates).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		node := h.nodes[c.id]
		if node == nil || layer >= len(node.neighbors) {
			continue
		}
		for nb := range node.neighbors[layer] {
			if _, ok := visited[nb]; ok {
				continue
			}
			visited[nb] = struct{}{}
			nbNode := h.nodes[nb]
			if nbNode == nil {
				continue
			}
			d, err := vectorDistance(query, nbNode.vec, h.metric)
			if err != nil {
				continue
			}
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(candidates, candidate{id: nb, dist: d})
				if !nbNode.deleted {
					heap.Push(results, candidate{id: nb, dist: d})
					if results.Len() > ef {
						heap.Pop(results)
					}
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	return out
}

// SearchResult is one hit returned by Search, ascending by distance.
type SearchResult struct {
	ID       int64
	Distance float64
}

// Search returns up to k nearest neighbors of query, skipping tombstoned
// vectors, using the configured efSearch beam width at layer 0.
func (h *HNSWIndex) Search(query []float64, k int) ([]SearchResult, error) {
	if len(query) != h.dim {
		return nil, fmt.Errorf("hnsw: query has dimension %d, index expects %d", len(query), h.dim)
	}
	h.mu.RLock()
	defer h.mu.RUnlock()

	if !h.hasEntry {
		return nil, nil
	}
	entry := h.entryPoint
	entryNode := h.nodes[entry]
	curDist, err := vectorDistance(query, entryNode.vec, h.metric)
	if err != nil {
		return nil, err
	}
	for l := entryNode.topLayer(); l > 0; l-- {
		changed := true
		for changed {
			changed = false
			for nb := range h.nodes[entry].neighbors[l] {
				nbNode := h.nodes[nb]
				if nbNode == nil {
					continue
				}
				d, err := vectorDistance(query, nbNode.vec, h.metric)
				if err != nil {
					return nil, err
				}
				if d < curDist {
					curDist = d
					entry = nb
					changed = true
				}
			}
		}
	}

	ef := h.efSearch
	if ef < k {
		ef = k
	}
	found := h.searchLayer(query, map[int64]struct{}{entry: {}}, ef, 0)

	sortedCands := minHeap(found)
	heap.Init(&sortedCands)
	results := make([]SearchResult, 0, k)
	for sortedCands.Len() > 0 && len(results) < k {
		c := heap.Pop(&sortedCands).(candidate)
		results = append(results, SearchResult{ID: c.id, Distance: c.dist})
	}
	return results, nil
}

// Delete tombstones id so Search skips it. It does not rebuild the graph;
// NeedsRebuild reports when the tombstoned fraction reaches rebuildThreshold.
func (h *HNSWIndex) Delete(id int64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	node := h.nodes[id]
	if node == nil || node.deleted {
		return false
	}
	node.deleted = true
	h.deletedCount++
	return true
}

// NeedsRebuild reports whether the tombstone fraction has crossed the
// configured threshold.
func (h *HNSWIndex) NeedsRebuild() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.nodes) == 0 {
		return false
	}
	return float64(h.deletedCount)/float64(len(h.nodes)) >= h.rebuildThreshold
}

// Rebuild discards tombstoned vectors and reinserts every surviving vector
// into a fresh graph, restoring search quality lost to accumulated
// tombstones (a skipped tombstone still costs a distance computation and a
// graph hop on every query that passes through it).
func (h *HNSWIndex) Rebuild() {
	h.mu.Lock()
	survivors := make([]struct {
		id  int64
		vec []float64
	}, 0, len(h.nodes)-h.deletedCount)
	for id, n := range h.nodes {
		if !n.deleted {
			survivors = append(survivors, struct {
				id  int64
				vec []float64
			}{id, n.vec})
		}
	}
	h.nodes = make(map[int64]*hnswNode)
	h.hasEntry = false
	h.deletedCount = 0
	h.mu.Unlock()

	for _, s := range survivors {
		_ = h.Insert(s.id, s.vec)
	}
}

// Len returns the number of live (non-tombstoned) vectors in the index.
func (h *HNSWIndex) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes) - h.deletedCount
}
