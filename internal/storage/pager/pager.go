package pager

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"
)

// ───────────────────────────────────────────────────────────────────────────
// Buffer Pool / Pager
// ───────────────────────────────────────────────────────────────────────────
//
// The Pager is the central I/O layer. It manages the database file, the WAL,
// the buffer pool (page cache with dirty tracking), the free-list, and the
// superblock. All page reads and writes go through the Pager so that CRC
// validation and WAL logging happen automatically.

// PageFrame, BufferPoolConfig, and PageBufferPool (the clock-replacement
// buffer pool) live in clock.go.

// ───────────────────────────────────────────────────────────────────────────
// Pager
// ───────────────────────────────────────────────────────────────────────────

// PagerConfig configures a Pager.
type PagerConfig struct {
	DBPath        string
	WALPath       string
	PageSize      int
	MaxCachePages int // buffer pool capacity (0 = default 1024)

	// EncryptionKey, if set, must be chacha20poly1305.KeySize (32) bytes.
	// It enables FeatureEncryption: every page body except the superblock
	// is sealed with ChaCha20-Poly1305 under this key. Opening an existing
	// encrypted database without the key (or a plaintext one with a key)
	// fails.
	EncryptionKey []byte

	// EnableMVCC requests FeatureMVCC on a newly created database: SaveTable
	// retains the previous row-tree version instead of freeing it outright,
	// so the prior snapshot stays readable via LoadPreviousVersion. Ignored
	// when opening an existing database (the on-disk flag wins).
	EnableMVCC bool

	// FsyncPolicy controls how CommitTx flushes the WAL (zero value is
	// FsyncAlways). Checkpoint and Close always fsync regardless.
	FsyncPolicy FsyncPolicy

	// FsyncIntervalMs is the minimum milliseconds between fsyncs under
	// FsyncInterval.
	FsyncIntervalMs int
}

// Pager manages page-level I/O, WAL, buffer pool, and free-list.
type Pager struct {
	mu          sync.RWMutex
	file        *os.File
	wal         *WALFile
	pool        *PageBufferPool
	sb          *Superblock
	freeMgr     *FreeManager
	pageSize    int
	path        string
	walPath     string
	closed      bool
	enc         *pageEncryptor
	mvccEnabled bool

	// uncommittedPages maps a page to the in-flight transaction that last
	// wrote it. Checkpoint must not flush these pages to the database file:
	// doing so would make an aborted transaction's write durable with
	// nothing left to undo it against. Cleared on that transaction's
	// commit (page becomes flushable) or abort (page is reverted).
	uncommittedPages map[PageID]TxID

	// txPages tracks which pages each in-flight transaction has dirtied, so
	// AbortTx knows what to revert and CommitTx knows what to release.
	txPages map[TxID][]PageID
}

// OpenPager opens or creates a page-based database.
func OpenPager(cfg PagerConfig) (*Pager, error) {
	ps := cfg.PageSize
	if ps == 0 {
		ps = DefaultPageSize
	}
	if ps < MinPageSize || ps > MaxPageSize || ps&(ps-1) != 0 {
		return nil, fmt.Errorf("invalid page size %d", ps)
	}

	isNew := false
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		isNew = true
	}

	f, err := os.OpenFile(cfg.DBPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("open db file: %w", err)
	}

	p := &Pager{
		file:             f,
		pageSize:         ps,
		path:             cfg.DBPath,
		walPath:          cfg.WALPath,
		pool:             newPageBufferPool(cfg.MaxCachePages),
		freeMgr:          NewFreeManager(),
		uncommittedPages: make(map[PageID]TxID),
		txPages:          make(map[TxID][]PageID),
	}

	if len(cfg.EncryptionKey) > 0 {
		enc, err := newPageEncryptor(cfg.EncryptionKey)
		if err != nil {
			f.Close()
			return nil, err
		}
		p.enc = enc
	}

	if isNew {
		sb := NewSuperblock(uint32(ps))
		if p.enc != nil {
			sb.FeatureFlags |= FeatureEncryption
		}
		if cfg.EnableMVCC {
			sb.FeatureFlags |= FeatureMVCC
		}
		p.mvccEnabled = sb.FeatureFlags&FeatureMVCC != 0
		buf := MarshalSuperblock(sb, ps)
		if _, err := f.WriteAt(buf, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("write superblock: %w", err)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, err
		}
		p.sb = sb
	} else {
		sb, err := p.readSuperblock()
		if err != nil {
			f.Close()
			return nil, err
		}
		encrypted := sb.FeatureFlags&FeatureEncryption != 0
		if encrypted && p.enc == nil {
			f.Close()
			return nil, fmt.Errorf("database %s is encrypted: an encryption key is required", cfg.DBPath)
		}
		if !encrypted && p.enc != nil {
			f.Close()
			return nil, fmt.Errorf("database %s is not encrypted: no key expected", cfg.DBPath)
		}
		p.sb = sb
		p.pageSize = int(sb.PageSize) // honour on-disk page size
		p.mvccEnabled = sb.FeatureFlags&FeatureMVCC != 0

		// Load free list.
		if sb.FreeListRoot != InvalidPageID {
			if err := p.freeMgr.LoadFromDisk(sb.FreeListRoot, p.readPageRaw); err != nil {
				f.Close()
				return nil, fmt.Errorf("load freelist: %w", err)
			}
		}
	}

	// Open or create WAL.
	walPath := cfg.WALPath
	if walPath == "" {
		walPath = cfg.DBPath + ".wal"
	}
	p.walPath = walPath
	wf, err := OpenWALFile(walPath, p.pageSize)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("open WAL file: %w", err)
	}
	p.wal = wf
	p.wal.SetFsyncPolicy(cfg.FsyncPolicy, cfg.FsyncIntervalMs)
	p.pool.flush = p.flushVictim

	// If WAL has records, perform recovery before accepting new writes.
	if !isNew {
		if err := p.Recover(); err != nil {
			wf.Close()
			f.Close()
			return nil, fmt.Errorf("WAL recovery: %w", err)
		}
	}

	return p, nil
}

func (p *Pager) readSuperblock() (*Superblock, error) {
	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, 0); err != nil {
		return nil, fmt.Errorf("read superblock: %w", err)
	}
	return UnmarshalSuperblock(buf)
}

// pageStride is the on-disk footprint of one page slot: pageSize, plus the
// AEAD tag overhead when FeatureEncryption is active. The superblock (page
// 0) is exempt but still lands at offset 0 since id*stride is 0 either way.
func (p *Pager) pageStride() int {
	if p.enc != nil {
		return p.pageSize + p.enc.overhead()
	}
	return p.pageSize
}

// readPageRaw reads a page directly from the database file (no cache).
func (p *Pager) readPageRaw(id PageID) ([]byte, error) {
	stride := p.pageStride()
	off := int64(id) * int64(stride)

	if p.enc != nil && id != InvalidPageID {
		sealed := make([]byte, stride)
		if _, err := p.file.ReadAt(sealed, off); err != nil {
			return nil, fmt.Errorf("read page %d: %w", id, err)
		}
		buf, err := p.enc.open(id, sealed)
		if err != nil {
			return nil, err
		}
		if err := VerifyPageCRC(buf); err != nil {
			return nil, err
		}
		return buf, nil
	}

	buf := make([]byte, p.pageSize)
	if _, err := p.file.ReadAt(buf, off); err != nil {
		return nil, fmt.Errorf("read page %d: %w", id, err)
	}
	if err := VerifyPageCRC(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writePageRaw writes a page directly to the database file (no cache).
func (p *Pager) writePageRaw(id PageID, buf []byte) error {
	SetPageCRC(buf)
	stride := p.pageStride()
	off := int64(id) * int64(stride)

	if p.enc != nil && id != InvalidPageID {
		sealed := p.enc.seal(id, buf)
		if _, err := p.file.WriteAt(sealed, off); err != nil {
			return fmt.Errorf("write page %d: %w", id, err)
		}
		return nil
	}

	if _, err := p.file.WriteAt(buf, off); err != nil {
		return fmt.Errorf("write page %d: %w", id, err)
	}
	return nil
}

// flushVictim is the clock pool's callback for evicting a dirty frame: the
// page's WAL record is already durable once the WAL is synced up to the
// frame's LSN, so eviction only needs to guarantee that sync before the
// cached copy is dropped. The main database file is brought up to date
// later, at Checkpoint.
func (p *Pager) flushVictim(f *PageFrame) error {
	return p.wal.Sync()
}

// ── Public page I/O ───────────────────────────────────────────────────────

// ReadPage returns a page by ID, using the buffer pool cache.
// The page is pinned in the cache; call UnpinPage when done.
func (p *Pager) ReadPage(id PageID) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readPageCached(id)
}

func (p *Pager) readPageCached(id PageID) ([]byte, error) {
	p.pool.mu.Lock()
	if f, ok := p.pool.get(id); ok {
		f.pinned++
		p.pool.mu.Unlock()
		return f.buf, nil
	}
	p.pool.mu.Unlock()

	// Cache miss — read from file.
	buf, err := p.readPageRaw(id)
	if err != nil {
		return nil, err
	}
	f := &PageFrame{id: id, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return buf, nil
}

// UnpinPage decrements the pin count.
func (p *Pager) UnpinPage(id PageID) {
	p.pool.mu.Lock()
	defer p.pool.mu.Unlock()
	if f, ok := p.pool.get(id); ok && f.pinned > 0 {
		f.pinned--
	}
}

// WritePage writes (updates) a page through the WAL. The page image is
// logged to the WAL and cached as dirty. The caller should have called
// BeginTx beforehand.
func (p *Pager) WritePage(txID TxID, id PageID, buf []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// NOTE: CRC is set by the caller (BTree layer).  We skip re-computing
	// it here to avoid redundant work.

	// Log full page image to WAL.
	rec := &WALRecord{
		Type:   WALRecordPageImage,
		TxID:   txID,
		PageID: id,
		Data:   append([]byte{}, buf...), // copy
	}
	lsn, err := p.wal.AppendRecord(rec)
	if err != nil {
		return fmt.Errorf("WAL write page %d: %w", id, err)
	}

	// Update buffer pool.
	p.pool.mu.Lock()
	f, ok := p.pool.get(id)
	if !ok {
		f = &PageFrame{id: id, buf: make([]byte, p.pageSize)}
		p.pool.put(f)
	}
	copy(f.buf, buf)
	f.dirty = true
	f.lsn = lsn
	p.pool.mu.Unlock()

	if _, seen := p.uncommittedPages[id]; !seen {
		p.txPages[txID] = append(p.txPages[txID], id)
	}
	p.uncommittedPages[id] = txID

	return nil
}

// ── Transaction management ────────────────────────────────────────────────

// BeginTx starts a new transaction and writes a BEGIN record to the WAL.
func (p *Pager) BeginTx() (TxID, error) {
	p.mu.Lock()
	txID := p.sb.NextTxID
	p.sb.NextTxID++
	p.mu.Unlock()

	rec := &WALRecord{Type: WALRecordBegin, TxID: txID}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return 0, err
	}
	return txID, nil
}

// CommitTx writes a COMMIT record and flushes the WAL per the configured
// FsyncPolicy. The transaction's dirty pages become eligible for the next
// Checkpoint to flush.
func (p *Pager) CommitTx(txID TxID) error {
	rec := &WALRecord{Type: WALRecordCommit, TxID: txID}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return err
	}
	err := p.wal.MaybeSync()

	p.mu.Lock()
	for _, id := range p.txPages[txID] {
		delete(p.uncommittedPages, id)
	}
	delete(p.txPages, txID)
	p.mu.Unlock()

	return err
}

// AbortTx undoes every page txID dirtied: each is reverted, in the buffer
// pool, to the image still on the database file (Checkpoint never flushed
// it, since it stayed in uncommittedPages while the transaction was live),
// and a CLR record capturing that restored image is appended to the WAL.
// The CLR makes the undo itself durable: if the process crashes between
// this call and the in-memory frame update becoming visible, Recover's undo
// pass reapplies the CLRs and reaches the same state.
func (p *Pager) AbortTx(txID TxID) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	rec := &WALRecord{Type: WALRecordAbort, TxID: txID}
	if _, err := p.wal.AppendRecord(rec); err != nil {
		return err
	}

	for _, id := range p.txPages[txID] {
		preImage, err := p.readPageRaw(id)
		if err != nil {
			return fmt.Errorf("abort tx %d: read pre-image of page %d: %w", txID, id, err)
		}
		clr := &WALRecord{Type: WALRecordCLR, TxID: txID, PageID: id, Data: preImage}
		if _, err := p.wal.AppendRecord(clr); err != nil {
			return fmt.Errorf("abort tx %d: append CLR for page %d: %w", txID, id, err)
		}

		p.pool.mu.Lock()
		if f, ok := p.pool.get(id); ok {
			copy(f.buf, preImage)
			f.dirty = false
		}
		p.pool.mu.Unlock()

		delete(p.uncommittedPages, id)
	}
	delete(p.txPages, txID)

	return p.wal.MaybeSync()
}

// ── Page allocation ───────────────────────────────────────────────────────

// AllocPage allocates a new page (from the free-list or by extending the file).
// Returns the page ID and a zeroed buffer. The page is pinned in the cache.
func (p *Pager) AllocPage() (PageID, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pid := p.freeMgr.Alloc()
	if pid == InvalidPageID {
		pid = p.sb.NextPageID
		p.sb.NextPageID++
		p.sb.PageCount++
	}
	buf := make([]byte, p.pageSize)
	// Put in pool pinned.
	f := &PageFrame{id: pid, buf: buf, pinned: 1}
	p.pool.mu.Lock()
	p.pool.put(f)
	p.pool.mu.Unlock()
	return pid, buf
}

// FreePage marks a page as free for reuse.
func (p *Pager) FreePage(pid PageID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// freePageLocked is like FreePage but assumes p.mu is already held.
func (p *Pager) freePageLocked(pid PageID) {
	p.freeMgr.Free(pid)
	p.pool.mu.Lock()
	p.pool.remove(pid)
	p.pool.mu.Unlock()
}

// freeOldFreeListChain walks the old free-list chain and adds those pages
// to the FreeManager so they can be reused. Must be called with p.mu held.
func (p *Pager) freeOldFreeListChain(head PageID) {
	pid := head
	for pid != InvalidPageID {
		buf, err := p.readPageRaw(pid)
		if err != nil {
			break
		}
		fl := WrapFreeListPage(buf)
		next := fl.NextFreeList()
		p.freeMgr.Free(pid)
		pid = next
	}
}

// ── Checkpoint ────────────────────────────────────────────────────────────

// Checkpoint flushes all dirty pages to the database file, writes an updated
// superblock, fsyncs the file, then truncates the WAL.
func (p *Pager) Checkpoint() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Write checkpoint record to WAL.
	rec := &WALRecord{Type: WALRecordCheckpoint}
	lsn, err := p.wal.AppendRecord(rec)
	if err != nil {
		return err
	}
	if err := p.wal.Sync(); err != nil {
		return err
	}

	// Flush dirty pages to main file — except pages still owned by an
	// in-flight transaction. Flushing those would make an uncommitted
	// write durable with nothing left to undo it against if it later
	// aborts; they stay dirty and get picked up by a later checkpoint
	// once their transaction commits or aborts.
	p.pool.mu.Lock()
	dirty := p.pool.dirtyPages()
	for _, f := range dirty {
		if _, uncommitted := p.uncommittedPages[f.id]; uncommitted {
			continue
		}
		SetPageCRC(f.buf)
		if err := p.writePageRaw(f.id, f.buf); err != nil {
			p.pool.mu.Unlock()
			return fmt.Errorf("checkpoint flush page %d: %w", f.id, err)
		}
		f.dirty = false
	}
	p.pool.mu.Unlock()

	// Free old free-list chain pages before writing the new one.
	oldFLHead := p.sb.FreeListRoot
	if oldFLHead != InvalidPageID {
		p.freeOldFreeListChain(oldFLHead)
	}

	// Flush free-list to disk.
	flHead, flPages := p.freeMgr.FlushToDisk(p.pageSize, func() (PageID, []byte) {
		pid := p.sb.NextPageID
		p.sb.NextPageID++
		p.sb.PageCount++
		return pid, make([]byte, p.pageSize)
	})
	for _, fb := range flPages {
		pid := PageID(binary.LittleEndian.Uint32(fb[4:8]))
		if err := p.writePageRaw(pid, fb); err != nil {
			return fmt.Errorf("checkpoint freelist page: %w", err)
		}
	}

	// Update superblock.
	p.sb.FreeListRoot = flHead
	p.sb.CheckpointLSN = lsn
	sbBuf := MarshalSuperblock(p.sb, p.pageSize)
	if err := p.writePageRaw(0, sbBuf); err != nil {
		return fmt.Errorf("checkpoint superblock: %w", err)
	}

	// Fsync the main file.
	if err := p.file.Sync(); err != nil {
		return err
	}

	// Truncate WAL.
	return p.wal.Truncate()
}

// ── Superblock access ─────────────────────────────────────────────────────

// Superblock returns a copy of the current superblock.
func (p *Pager) Superblock() Superblock {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return *p.sb
}

// UpdateSuperblock updates the in-memory superblock fields. It does NOT
// write to disk. Use Checkpoint for that.
func (p *Pager) UpdateSuperblock(fn func(sb *Superblock)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.sb)
}

// PageSize returns the configured page size.
func (p *Pager) PageSize() int { return p.pageSize }

// Encrypted reports whether FeatureEncryption is active for this database.
func (p *Pager) Encrypted() bool { return p.enc != nil }

// MVCCEnabled reports whether FeatureMVCC is set, meaning SaveTable retains
// one prior row-tree version instead of freeing it immediately.
func (p *Pager) MVCCEnabled() bool { return p.mvccEnabled }

// ── Close ─────────────────────────────────────────────────────────────────

// Close performs a final checkpoint and closes all files.
func (p *Pager) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	// Final checkpoint to ensure all data is on disk.
	if err := p.Checkpoint(); err != nil {
		// Best effort — still close files.
		_ = p.wal.Close()
		_ = p.file.Close()
		return err
	}
	if err := p.wal.Close(); err != nil {
		_ = p.file.Close()
		return err
	}
	return p.file.Close()
}

// Path returns the database file path.
func (p *Pager) Path() string { return p.path }

// WALPath returns the WAL file path.
func (p *Pager) WALPath() string { return p.walPath }
