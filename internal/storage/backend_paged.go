package storage

// ───────────────────────────────────────────────────────────────────────────
// PagedBackend – tables stored as B+Trees over a page file with a WAL and a
// clock-replacement buffer pool (internal/storage/pager).
// ───────────────────────────────────────────────────────────────────────────
//
// Unlike DiskBackend (one GOB blob per table) and HybridBackend (LRU'd GOB
// blobs), PagedBackend keeps every row addressed by a RID inside a durable
// page file. Each SaveTable builds a new B+Tree from the table's full row
// set and frees the old tree's pages (or retains the old tree as the
// previous version when MVCC is enabled). Crash recovery replays the WAL
// against the same page file on the next open.

import (
	"fmt"

	"github.com/relvec/relvecdb/internal/storage/pager"
)

// PagedBackend adapts pager.PageBackend to the StorageBackend interface.
type PagedBackend struct {
	pb *pager.PageBackend
}

// NewPagedBackend opens (or creates) a page-file-backed database at path.
func NewPagedBackend(path string, maxCachePages int) (*PagedBackend, error) {
	return NewPagedBackendWithConfig(path, maxCachePages, nil, false)
}

// NewPagedBackendWithConfig opens (or creates) a page-file-backed database,
// optionally enabling page encryption and snapshot retention.
func NewPagedBackendWithConfig(path string, maxCachePages int, encryptionKey []byte, enableMVCC bool) (*PagedBackend, error) {
	return newPagedBackend(path, StorageConfig{MaxCachePages: maxCachePages, EncryptionKey: encryptionKey, EnableMVCC: enableMVCC})
}

// newPagedBackend opens (or creates) a page-file-backed database using the
// full StorageConfig, including the §6 buffer pool size and WAL fsync
// policy keys.
func newPagedBackend(path string, sc StorageConfig) (*PagedBackend, error) {
	policy, intervalMs, err := pager.ParseFsyncPolicy(sc.WALFsyncPolicy)
	if err != nil {
		return nil, err
	}
	pb, err := pager.NewPageBackend(pager.PageBackendConfig{
		Path:            path,
		PageSize:        sc.PageSize,
		MaxCachePages:   sc.MaxCachePages,
		EncryptionKey:   sc.EncryptionKey,
		EnableMVCC:      sc.EnableMVCC,
		FsyncPolicy:     policy,
		FsyncIntervalMs: intervalMs,
	})
	if err != nil {
		return nil, fmt.Errorf("paged backend: %w", err)
	}
	return &PagedBackend{pb: pb}, nil
}

// LoadPreviousVersion retrieves the row set retained from before the last
// SaveTable, when the database was opened with EnableMVCC.
func (p *PagedBackend) LoadPreviousVersion(tenant, name string) (*Table, error) {
	td, err := p.pb.LoadPreviousVersion(tenant, name)
	if err != nil || td == nil {
		return nil, err
	}
	t := NewTable(td.Name, columnsFromPager(td.Columns), td.IsTemp)
	t.Rows = td.Rows
	t.Version = td.Version
	return t, nil
}

// LoadTable retrieves a table's full row set from its B+Tree.
func (p *PagedBackend) LoadTable(tenant, name string) (*Table, error) {
	td, err := p.pb.LoadTable(tenant, name)
	if err != nil {
		return nil, err
	}
	if td == nil {
		return nil, nil
	}
	t := NewTable(td.Name, columnsFromPager(td.Columns), td.IsTemp)
	t.Rows = td.Rows
	t.Version = td.Version
	return t, nil
}

// SaveTable persists a table's full row set, replacing its B+Tree contents.
func (p *PagedBackend) SaveTable(tenant string, t *Table) error {
	return p.pb.SaveTable(tenant, &pager.TableData{
		Name:    t.Name,
		Columns: columnsToPager(t.Cols),
		Rows:    t.Rows,
		IsTemp:  t.IsTemp,
		Version: t.Version,
	})
}

// DeleteTable removes a table and frees its B+Tree pages.
func (p *PagedBackend) DeleteTable(tenant, name string) error {
	return p.pb.DeleteTable(tenant, name)
}

// ListTableNames returns all table names known to the catalog for tenant.
func (p *PagedBackend) ListTableNames(tenant string) ([]string, error) {
	return p.pb.ListTableNames(tenant)
}

// TableExists reports whether the catalog has an entry for the table.
func (p *PagedBackend) TableExists(tenant, name string) bool {
	return p.pb.TableExists(tenant, name)
}

// Sync forces a checkpoint of the page file and WAL.
func (p *PagedBackend) Sync() error { return p.pb.Sync() }

// Close checkpoints and closes the underlying pager.
func (p *PagedBackend) Close() error { return p.pb.Close() }

// Mode reports ModePaged.
func (p *PagedBackend) Mode() StorageMode { return ModePaged }

// Stats reports page-file operational metrics, adapted to BackendStats.
func (p *PagedBackend) Stats() BackendStats {
	s := p.pb.Stats()
	return BackendStats{
		Mode:          ModePaged,
		DiskUsedBytes: int64(s.PageCount) * int64(s.PageSize),
		SyncCount:     s.SyncCount,
		LoadCount:     s.LoadCount,
	}
}

// Pager exposes the underlying pager for inspection tools (page dumps,
// buffer pool stats, WAL replay diagnostics).
func (p *PagedBackend) Pager() *pager.Pager { return p.pb.Pager() }

// ── Column conversion ────────────────────────────────────────────────────

func columnsToPager(cols []Column) []pager.ColumnInfo {
	out := make([]pager.ColumnInfo, len(cols))
	for i, c := range cols {
		ci := pager.ColumnInfo{
			Name:         c.Name,
			Type:         int(c.Type),
			Constraint:   int(c.Constraint),
			PointerTable: c.PointerTable,
		}
		if c.ForeignKey != nil {
			ci.FKTable = c.ForeignKey.Table
			ci.FKColumn = c.ForeignKey.Column
		}
		out[i] = ci
	}
	return out
}

func columnsFromPager(cols []pager.ColumnInfo) []Column {
	out := make([]Column, len(cols))
	for i, ci := range cols {
		c := Column{
			Name:         ci.Name,
			Type:         ColType(ci.Type),
			Constraint:   ConstraintType(ci.Constraint),
			PointerTable: ci.PointerTable,
		}
		if ci.FKTable != "" {
			c.ForeignKey = &ForeignKeyRef{Table: ci.FKTable, Column: ci.FKColumn}
		}
		out[i] = c
	}
	return out
}
