// GRAPH_TRAVERSE is a table-valued function that walks relationships stored
// as ordinary rows -- an edge table (src, dst, weight) -- without a
// dedicated on-disk graph format. It supplements VEC_SEARCH/VEC_TOP_K
// (vector_search.go) as a second retrieval primitive over the same
// row/Value model: CREATE INDEX ... USING graph(src, dst) just marks a
// table as a recognized edge source (storage.DB.RegisterGraphEdgeTable);
// this function does the actual walk.
//
// Usage:
//
//	SELECT * FROM GRAPH_TRAVERSE('edges', 'src', 'dst', start_key, max_depth [, 'weight'])
//
// Breadth-first traversal (hop count) when no weight column is given;
// Dijkstra shortest-path expansion (accumulated weight, min-heap) when one
// is. Returns one row per discovered node: node_key, depth_or_dist, path
// (the sequence of node keys from start_key, "->"-joined).
package engine

import (
	"container/heap"
	"context"
	"fmt"
)

// GraphTraverseTableFunc implements the GRAPH_TRAVERSE table-valued function.
type GraphTraverseTableFunc struct{}

func (f *GraphTraverseTableFunc) Name() string { return "GRAPH_TRAVERSE" }

func (f *GraphTraverseTableFunc) ValidateArgs(args []Expr) error {
	if len(args) < 5 || len(args) > 6 {
		return fmt.Errorf("GRAPH_TRAVERSE requires 5-6 arguments: (edge_table, src_col, dst_col, start_key, max_depth [, weight_col])")
	}
	return nil
}

func (f *GraphTraverseTableFunc) Execute(ctx context.Context, args []Expr, env ExecEnv, row Row) (*ResultSet, error) {
	if err := f.ValidateArgs(args); err != nil {
		return nil, err
	}

	edgeTableName, err := evalStringArg(env, args[0], row, "GRAPH_TRAVERSE edge_table")
	if err != nil {
		return nil, err
	}
	srcCol, err := evalStringArg(env, args[1], row, "GRAPH_TRAVERSE src_col")
	if err != nil {
		return nil, err
	}
	dstCol, err := evalStringArg(env, args[2], row, "GRAPH_TRAVERSE dst_col")
	if err != nil {
		return nil, err
	}
	startKey, err := evalExpr(env, args[3], row)
	if err != nil {
		return nil, fmt.Errorf("GRAPH_TRAVERSE start_key: %w", err)
	}
	maxDepthVal, err := evalExpr(env, args[4], row)
	if err != nil {
		return nil, fmt.Errorf("GRAPH_TRAVERSE max_depth: %w", err)
	}
	maxDepth, err := toInt(maxDepthVal)
	if err != nil {
		return nil, fmt.Errorf("GRAPH_TRAVERSE max_depth: %w", err)
	}

	weightCol := ""
	if len(args) == 6 {
		weightCol, err = evalStringArg(env, args[5], row, "GRAPH_TRAVERSE weight_col")
		if err != nil {
			return nil, err
		}
	}

	tenant := env.tenant
	if tenant == "" {
		tenant = "default"
	}
	table, err := env.db.Get(tenant, edgeTableName)
	if err != nil {
		return nil, fmt.Errorf("GRAPH_TRAVERSE: edge table %q not found: %w", edgeTableName, err)
	}
	srcIdx, err := table.ColIndex(srcCol)
	if err != nil {
		return nil, fmt.Errorf("GRAPH_TRAVERSE: %w", err)
	}
	dstIdx, err := table.ColIndex(dstCol)
	if err != nil {
		return nil, fmt.Errorf("GRAPH_TRAVERSE: %w", err)
	}
	weightIdx := -1
	if weightCol != "" {
		weightIdx, err = table.ColIndex(weightCol)
		if err != nil {
			return nil, fmt.Errorf("GRAPH_TRAVERSE: %w", err)
		}
	}

	cols := []string{"node_key", "depth_or_dist", "path"}
	var rows []Row
	if weightIdx >= 0 {
		rows, err = dijkstraTraverse(table.Rows, srcIdx, dstIdx, weightIdx, startKey, maxDepth)
	} else {
		rows, err = bfsTraverse(table.Rows, srcIdx, dstIdx, startKey, maxDepth)
	}
	if err != nil {
		return nil, err
	}
	return &ResultSet{Cols: cols, Rows: rows}, nil
}

func evalStringArg(env ExecEnv, e Expr, row Row, what string) (string, error) {
	v, err := evalExpr(env, e, row)
	if err != nil {
		return "", fmt.Errorf("%s: %w", what, err)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %T", what, v)
	}
	return s, nil
}

func pathString(path []any) string {
	s := ""
	for i, k := range path {
		if i > 0 {
			s += "->"
		}
		s += fmt.Sprint(k)
	}
	return s
}

// bfsTraverse explores edges breadth-first up to maxDepth hops, visiting
// each node at most once (first, and therefore shortest, hop count wins).
func bfsTraverse(edges [][]any, srcIdx, dstIdx int, start any, maxDepth int) ([]Row, error) {
	type frontierNode struct {
		key   any
		depth int
		path  []any
	}
	startKeyStr := fmt.Sprint(start)
	visited := map[string]bool{startKeyStr: true}
	queue := []frontierNode{{key: start, depth: 0, path: []any{start}}}
	var rows []Row

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		rows = append(rows, Row{
			"node_key":      cur.key,
			"depth_or_dist": cur.depth,
			"path":          pathString(cur.path),
		})
		if cur.depth >= maxDepth {
			continue
		}
		for _, e := range edges {
			if srcIdx >= len(e) || dstIdx >= len(e) {
				continue
			}
			if fmt.Sprint(e[srcIdx]) != fmt.Sprint(cur.key) {
				continue
			}
			next := e[dstIdx]
			nextKey := fmt.Sprint(next)
			if visited[nextKey] {
				continue
			}
			visited[nextKey] = true
			nextPath := append(append([]any{}, cur.path...), next)
			queue = append(queue, frontierNode{key: next, depth: cur.depth + 1, path: nextPath})
		}
	}
	return rows, nil
}

type dijkstraItem struct {
	key  any
	dist float64
	path []any
}

type dijkstraHeap []dijkstraItem

func (h dijkstraHeap) Len() int            { return len(h) }
func (h dijkstraHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h dijkstraHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *dijkstraHeap) Push(x interface{}) { *h = append(*h, x.(dijkstraItem)) }
func (h *dijkstraHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// dijkstraTraverse explores edges in order of accumulated weight, capping
// path length (hop count) at maxDepth the same way bfsTraverse caps depth.
func dijkstraTraverse(edges [][]any, srcIdx, dstIdx, weightIdx int, start any, maxDepth int) ([]Row, error) {
	visited := map[string]bool{}
	pq := &dijkstraHeap{{key: start, dist: 0, path: []any{start}}}
	heap.Init(pq)
	var rows []Row

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(dijkstraItem)
		key := fmt.Sprint(cur.key)
		if visited[key] {
			continue
		}
		visited[key] = true
		rows = append(rows, Row{
			"node_key":      cur.key,
			"depth_or_dist": cur.dist,
			"path":          pathString(cur.path),
		})
		if len(cur.path) > maxDepth {
			continue
		}
		for _, e := range edges {
			if srcIdx >= len(e) || dstIdx >= len(e) || weightIdx >= len(e) {
				continue
			}
			if fmt.Sprint(e[srcIdx]) != key {
				continue
			}
			next := e[dstIdx]
			if visited[fmt.Sprint(next)] {
				continue
			}
			w, err := toFloat64(e[weightIdx])
			if err != nil {
				continue
			}
			nextPath := append(append([]any{}, cur.path...), next)
			heap.Push(pq, dijkstraItem{key: next, dist: cur.dist + w, path: nextPath})
		}
	}
	return rows, nil
}

func init() {
	RegisterTableFunc(&GraphTraverseTableFunc{})
}
