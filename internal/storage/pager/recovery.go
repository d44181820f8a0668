package pager

import (
	"fmt"
)

// ───────────────────────────────────────────────────────────────────────────
// Crash Recovery
// ───────────────────────────────────────────────────────────────────────────
//
// Recovery reads the WAL from the beginning and replays the page images of
// fully committed transactions whose LSN > the superblock's checkpoint
// LSN. Uncommitted transactions
// never reach this point (Checkpoint refuses to flush their dirty pages
// to the database file while they are live — see Pager.uncommittedPages),
// so discarding their PAGE_IMAGE records during the redo pass is already
// sufficient to keep their writes out of the file.
//
// Algorithm:
//   1. Read all WAL records.
//   2. Build a map TxID → list of PAGE_IMAGE records.
//   3. Track which TxIDs have a COMMIT or ABORT record.
//   4. Redo: in LSN order, apply the PAGE_IMAGE records of committed TXs
//      whose LSN > the checkpoint LSN.
//   5. Undo: for each aborted TX, reapply its CLR records (the page images
//      AbortTx already restored at the time of the abort). This is a
//      no-op when the abort completed cleanly and only matters if the
//      process crashed between appending the CLR and the in-memory frame
//      update taking effect.
//   6. Fsync the database file.
//   7. Update and flush the superblock with new checkpoint_lsn.
//   8. Truncate the WAL.

// Recover replays the WAL and applies committed transactions.
func (p *Pager) Recover() error {
	records, err := ReadAllRecords(p.walPath)
	if err != nil {
		return fmt.Errorf("recover read WAL: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	// Classify records by TxID.
	type txRecords struct {
		pages     []*WALRecord
		clrs      []*WALRecord
		committed bool
		aborted   bool
	}
	txMap := make(map[TxID]*txRecords)

	var maxLSN LSN
	var maxTxID TxID

	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		if rec.TxID > maxTxID {
			maxTxID = rec.TxID
		}

		switch rec.Type {
		case WALRecordBegin:
			txMap[rec.TxID] = &txRecords{}
		case WALRecordPageImage:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txRecords{}
				txMap[rec.TxID] = tr
			}
			tr.pages = append(tr.pages, rec)
		case WALRecordCommit:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.committed = true
			}
		case WALRecordAbort:
			if tr, ok := txMap[rec.TxID]; ok {
				tr.aborted = true
			}
		case WALRecordCLR:
			tr, ok := txMap[rec.TxID]
			if !ok {
				tr = &txRecords{}
				txMap[rec.TxID] = tr
			}
			tr.clrs = append(tr.clrs, rec)
		case WALRecordCheckpoint:
			// Checkpoint record; all prior transactions are flushed.
		}
	}

	// Redo pass: replay committed transactions only, in LSN order.
	// records is in WAL (LSN) order, so a later image of a page overwrites
	// an earlier one.
	var applied int
	for _, rec := range records {
		if rec.Type != WALRecordPageImage {
			continue
		}
		if tr := txMap[rec.TxID]; !tr.committed || tr.aborted {
			continue
		}
		// Only apply if the record's LSN > checkpoint LSN.
		if rec.LSN <= LSN(p.sb.CheckpointLSN) {
			continue
		}
		if err := p.writePageRaw(rec.PageID, rec.Data); err != nil {
			return fmt.Errorf("recover apply page %d: %w", rec.PageID, err)
		}
		applied++
	}

	// Undo pass: reapply every aborted transaction's CLRs. Checkpoint never
	// let an in-flight transaction's pages reach the file, so this is
	// normally a no-op confirming the file already holds the pre-abort
	// image; it only does real work if the crash landed between the CLR
	// being written and the in-memory undo taking effect.
	for _, tr := range txMap {
		if !tr.aborted {
			continue
		}
		for _, clr := range tr.clrs {
			if err := p.writePageRaw(clr.PageID, clr.Data); err != nil {
				return fmt.Errorf("recover undo page %d: %w", clr.PageID, err)
			}
			applied++
		}
	}

	if applied > 0 {
		// Fsync the database file.
		if err := p.file.Sync(); err != nil {
			return err
		}

		// Update superblock.
		p.sb.CheckpointLSN = maxLSN
		if TxID(maxTxID+1) > p.sb.NextTxID {
			p.sb.NextTxID = TxID(maxTxID + 1)
		}

		// Determine highest page ID used.
		for _, tr := range txMap {
			if !tr.committed {
				continue
			}
			for _, rec := range tr.pages {
				if PageID(rec.PageID+1) > p.sb.NextPageID {
					p.sb.NextPageID = PageID(rec.PageID + 1)
					p.sb.PageCount = uint64(p.sb.NextPageID)
				}
			}
		}

		sbBuf := MarshalSuperblock(p.sb, p.pageSize)
		if err := p.writePageRaw(0, sbBuf); err != nil {
			return fmt.Errorf("recover superblock: %w", err)
		}
		if err := p.file.Sync(); err != nil {
			return err
		}
	}

	// Set WAL next LSN beyond recovered records.
	p.wal.SetNextLSN(maxLSN + 1)

	// Truncate the WAL.
	return p.wal.Truncate()
}
