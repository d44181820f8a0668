package storage

import "fmt"

// RegisterGraphEdgeTable marks table as a recognized edge source for
// GRAPH_TRAVERSE: src and dst name the columns holding the edge endpoints.
// No separate graph storage format is built -- the table's rows remain
// ordinary rows, and callers resolve (src, dst) by column name at traversal
// time, same as any other query.
func (db *DB) RegisterGraphEdgeTable(tn, table, src, dst string) error {
	t, err := db.Get(tn, table)
	if err != nil {
		return err
	}
	if _, err := t.ColIndex(src); err != nil {
		return fmt.Errorf("graph index src column: %w", err)
	}
	if _, err := t.ColIndex(dst); err != nil {
		return fmt.Errorf("graph index dst column: %w", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.graphEdgeTables == nil {
		db.graphEdgeTables = map[graphTableKey]graphEdgeCols{}
	}
	db.graphEdgeTables[graphTableKey{tenant: tn, table: table}] = graphEdgeCols{src: src, dst: dst}
	return nil
}

// GraphEdgeTable reports whether table was registered via
// CREATE INDEX ... USING graph(src, dst), returning the endpoint columns.
func (db *DB) GraphEdgeTable(tn, table string) (src, dst string, ok bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	cols, ok := db.graphEdgeTables[graphTableKey{tenant: tn, table: table}]
	return cols.src, cols.dst, ok
}
