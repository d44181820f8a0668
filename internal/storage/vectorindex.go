package storage

import "fmt"

// CreateVectorIndex builds an HNSW index over column on the named table and
// registers it for the tenant. Existing rows are inserted eagerly, using
// each row's current slice position as the HNSW point id. The index reflects
// the rows present when it is created: later inserts, updates and deletes are
// not applied to it, and DropVectorIndex only unregisters it.
func (db *DB) CreateVectorIndex(tn, table, column string, cfg HNSWConfig) error {
	t, err := db.Get(tn, table)
	if err != nil {
		return err
	}
	colIdx, err := t.ColIndex(column)
	if err != nil {
		return err
	}
	if t.Cols[colIdx].Type != VectorType {
		return fmt.Errorf("column %q is not a VECTOR column", column)
	}

	idx := NewHNSWIndex(cfg)
	for rid, row := range t.Rows {
		vec, ok := row[colIdx].([]float64)
		if !ok {
			continue
		}
		if err := idx.Insert(int64(rid), vec); err != nil {
			return fmt.Errorf("indexing row %d: %w", rid, err)
		}
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if db.vectorIndexes == nil {
		db.vectorIndexes = map[vectorIndexKey]*HNSWIndex{}
	}
	db.vectorIndexes[vectorIndexKey{tenant: tn, table: table, column: column}] = idx
	return nil
}

// VectorIndex returns the HNSW index registered for tenant/table/column, if any.
func (db *DB) VectorIndex(tn, table, column string) (*HNSWIndex, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	idx, ok := db.vectorIndexes[vectorIndexKey{tenant: tn, table: table, column: column}]
	return idx, ok
}

// DropVectorIndex removes a previously registered HNSW index.
func (db *DB) DropVectorIndex(tn, table, column string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.vectorIndexes, vectorIndexKey{tenant: tn, table: table, column: column})
}
