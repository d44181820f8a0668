// Package storage - row and table lock manager
//
// What: Two-phase locking on top of MVCC. Snapshot reads never block, but
//       writers take row-granularity exclusive locks (and a table-level
//       intention lock) that are held until commit or abort, with a
//       waits-for graph and periodic deadlock detection.
// How: A channel-per-waiter design in the same style as concurrency.go's
//      worker pools: a blocked acquirer selects on its grant channel, a
//      ctx deadline, a lock-wait timeout, and a "you are the deadlock
//      victim" channel, so any of the four can unblock it.
// Why: MVCC alone resolves read/write conflicts but two concurrent writers
//      to the same row still need to serialize, and Serializable isolation
//      needs real blocking rather than only a commit-time check.

package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// LockMode is the granularity/strength of a held or requested lock.
type LockMode uint8

const (
	LockIntentionShared LockMode = iota
	LockIntentionExclusive
	LockShared
	LockExclusive
)

func (m LockMode) String() string {
	switch m {
	case LockIntentionShared:
		return "IS"
	case LockIntentionExclusive:
		return "IX"
	case LockShared:
		return "S"
	case LockExclusive:
		return "X"
	default:
		return "?"
	}
}

// compatMatrix[held][requested] reports whether a requested mode may be
// granted alongside an already-held mode from a different transaction.
var compatMatrix = map[LockMode]map[LockMode]bool{
	LockIntentionShared: {
		LockIntentionShared: true, LockIntentionExclusive: true,
		LockShared: true, LockExclusive: false,
	},
	LockIntentionExclusive: {
		LockIntentionShared: true, LockIntentionExclusive: true,
		LockShared: false, LockExclusive: false,
	},
	LockShared: {
		LockIntentionShared: true, LockIntentionExclusive: false,
		LockShared: true, LockExclusive: false,
	},
	LockExclusive: {
		LockIntentionShared: false, LockIntentionExclusive: false,
		LockShared: false, LockExclusive: false,
	},
}

func compatible(held, requested LockMode) bool {
	return compatMatrix[held][requested]
}

// rowKey identifies a row-granularity lock.
type rowKey struct {
	Table string
	RowID int64
}

type holder struct {
	txID TxID
	mode LockMode
}

type waiter struct {
	txID TxID
	mode LockMode
	ch   chan struct{}
}

type lockEntry struct {
	holders []holder
	waiters []waiter
}

func (e *lockEntry) holderMode(txID TxID) (LockMode, bool) {
	for _, h := range e.holders {
		if h.txID == txID {
			return h.mode, true
		}
	}
	return 0, false
}

// canGrant reports whether mode can be granted to txID given the current
// holders (ignoring any lock txID itself already holds) and respects
// waiter-queue fairness: a new shared request must not jump ahead of an
// already-queued exclusive waiter.
func (e *lockEntry) canGrant(txID TxID, mode LockMode) bool {
	for _, w := range e.waiters {
		if w.txID == txID {
			break // only waiters queued ahead of txID count
		}
		if !compatible(mode, w.mode) {
			return false
		}
	}
	for _, h := range e.holders {
		if h.txID == txID {
			continue
		}
		if !compatible(h.mode, mode) {
			return false
		}
	}
	return true
}

// LockManager tracks row and table locks for two-phase-locked writers.
type LockManager struct {
	mu      sync.Mutex
	rows    map[rowKey]*lockEntry
	tables  map[string]*lockEntry
	heldRows map[TxID]map[rowKey]LockMode
	heldTables map[TxID]map[string]LockMode

	waitsFor map[TxID]map[TxID]bool
	victims  map[TxID]chan struct{}

	timeout time.Duration
}

// NewLockManager creates a lock manager with the given per-wait timeout.
func NewLockManager(timeout time.Duration) *LockManager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &LockManager{
		rows:       make(map[rowKey]*lockEntry),
		tables:     make(map[string]*lockEntry),
		heldRows:   make(map[TxID]map[rowKey]LockMode),
		heldTables: make(map[TxID]map[string]LockMode),
		waitsFor:   make(map[TxID]map[TxID]bool),
		victims:    make(map[TxID]chan struct{}),
		timeout:    timeout,
	}
}

var (
	// ErrLockTimeout is returned when a lock could not be granted before
	// the manager's configured wait timeout elapsed.
	ErrLockTimeout = fmt.Errorf("lock wait timeout")
	// ErrDeadlockVictim is returned to the transaction chosen by the
	// deadlock detector to break a waits-for cycle.
	ErrDeadlockVictim = fmt.Errorf("aborted to break deadlock")
)

// AcquireTableIntent takes an intention lock on a whole table, signalling
// to other transactions planning a table-level exclusive lock (e.g. DDL)
// that a row-level writer is active underneath.
func (lm *LockManager) AcquireTableIntent(ctx context.Context, txID TxID, table string, mode LockMode) error {
	return lm.acquire(ctx, txID, lm.tableEntry(table), mode, func(m LockMode) {
		lm.mu.Lock()
		lm.recordTable(txID, table, m)
		lm.mu.Unlock()
	})
}

// AcquireRow takes a row-granularity lock, implicitly taking the matching
// table intention lock first.
func (lm *LockManager) AcquireRow(ctx context.Context, txID TxID, table string, rowID int64, mode LockMode) error {
	intent := LockIntentionShared
	if mode == LockExclusive {
		intent = LockIntentionExclusive
	}
	if err := lm.AcquireTableIntent(ctx, txID, table, intent); err != nil {
		return err
	}
	key := rowKey{Table: table, RowID: rowID}
	return lm.acquire(ctx, txID, lm.rowEntryLocked(key), mode, func(m LockMode) {
		lm.mu.Lock()
		lm.recordRow(txID, key, m)
		lm.mu.Unlock()
	})
}

func (lm *LockManager) tableEntry(table string) *lockEntry {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e := lm.tables[table]
	if e == nil {
		e = &lockEntry{}
		lm.tables[table] = e
	}
	return e
}

func (lm *LockManager) rowEntryLocked(key rowKey) *lockEntry {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	e := lm.rows[key]
	if e == nil {
		e = &lockEntry{}
		lm.rows[key] = e
	}
	return e
}

// acquire is the shared grant/wait/deadlock-check loop for both row and
// table entries.
func (lm *LockManager) acquire(ctx context.Context, txID TxID, entry *lockEntry, mode LockMode, record func(LockMode)) error {
	lm.mu.Lock()
	if held, ok := entry.holderMode(txID); ok && held >= mode {
		lm.mu.Unlock()
		return nil
	}
	if entry.canGrant(txID, mode) {
		entry.holders = append(entry.holders, holder{txID: txID, mode: mode})
		lm.mu.Unlock()
		record(mode)
		return nil
	}

	ch := make(chan struct{})
	entry.waiters = append(entry.waiters, waiter{txID: txID, mode: mode, ch: ch})
	for _, h := range entry.holders {
		if h.txID != txID {
			lm.addWaitsForLocked(txID, h.txID)
		}
	}
	victimCh := make(chan struct{})
	lm.victims[txID] = victimCh
	lm.mu.Unlock()

	timer := time.NewTimer(lm.timeout)
	defer timer.Stop()
	select {
	case <-ch:
		record(mode)
		return nil
	case <-victimCh:
		lm.cancelWait(entry, txID)
		return ErrDeadlockVictim
	case <-ctx.Done():
		lm.cancelWait(entry, txID)
		return ctx.Err()
	case <-timer.C:
		lm.cancelWait(entry, txID)
		return ErrLockTimeout
	}
}

// cancelWait removes txID's waiter entry and waits-for edges after it gave
// up (timeout, cancellation, or deadlock victim selection).
func (lm *LockManager) cancelWait(entry *lockEntry, txID TxID) {
	lm.mu.Lock()
	defer lm.mu.Unlock()
	for i, w := range entry.waiters {
		if w.txID == txID {
			entry.waiters = append(entry.waiters[:i], entry.waiters[i+1:]...)
			break
		}
	}
	delete(lm.waitsFor, txID)
	delete(lm.victims, txID)
}

func (lm *LockManager) addWaitsForLocked(waiter, holder TxID) {
	if lm.waitsFor[waiter] == nil {
		lm.waitsFor[waiter] = make(map[TxID]bool)
	}
	lm.waitsFor[waiter][holder] = true
}

func (lm *LockManager) recordRow(txID TxID, key rowKey, mode LockMode) {
	if lm.heldRows[txID] == nil {
		lm.heldRows[txID] = make(map[rowKey]LockMode)
	}
	lm.heldRows[txID][key] = mode
}

func (lm *LockManager) recordTable(txID TxID, table string, mode LockMode) {
	if lm.heldTables[txID] == nil {
		lm.heldTables[txID] = make(map[string]LockMode)
	}
	lm.heldTables[txID][table] = mode
}

// ReleaseAll drops every lock held by txID (called at commit or abort,
// never mid-transaction — that would violate two-phase locking) and wakes
// any waiters now able to proceed.
func (lm *LockManager) ReleaseAll(txID TxID) {
	lm.mu.Lock()
	var toWake []*lockEntry

	for key := range lm.heldRows[txID] {
		e := lm.rows[key]
		if e == nil {
			continue
		}
		e.holders = removeHolder(e.holders, txID)
		toWake = append(toWake, e)
	}
	for table := range lm.heldTables[txID] {
		e := lm.tables[table]
		if e == nil {
			continue
		}
		e.holders = removeHolder(e.holders, txID)
		toWake = append(toWake, e)
	}
	delete(lm.heldRows, txID)
	delete(lm.heldTables, txID)
	delete(lm.waitsFor, txID)
	delete(lm.victims, txID)
	for waiters := range lm.waitsFor {
		delete(lm.waitsFor[waiters], txID)
	}

	lm.mu.Unlock()

	for _, e := range toWake {
		lm.promoteWaiters(e)
	}
}

func removeHolder(holders []holder, txID TxID) []holder {
	out := holders[:0]
	for _, h := range holders {
		if h.txID != txID {
			out = append(out, h)
		}
	}
	return out
}

// promoteWaiters grants as many head-of-queue waiters as are mutually
// compatible with the current holder set, FIFO, stopping at the first
// waiter that cannot yet be granted.
func (lm *LockManager) promoteWaiters(e *lockEntry) {
	lm.mu.Lock()
	var granted []waiter
	for len(e.waiters) > 0 {
		w := e.waiters[0]
		if !e.canGrant(w.txID, w.mode) {
			break
		}
		e.holders = append(e.holders, holder{txID: w.txID, mode: w.mode})
		e.waiters = e.waiters[1:]
		delete(lm.victims, w.txID)
		granted = append(granted, w)
	}
	lm.mu.Unlock()

	for _, w := range granted {
		close(w.ch)
	}
}

// DetectDeadlocks scans the waits-for graph for cycles and aborts the
// youngest transaction (highest TxID, since IDs are assigned in increasing
// order) in each cycle found, returning the victim IDs. Meant to be driven
// by a periodic sweep (see scheduler.go) rather than called per-wait.
func (lm *LockManager) DetectDeadlocks() []TxID {
	lm.mu.Lock()
	graph := make(map[TxID][]TxID, len(lm.waitsFor))
	for waiter, holders := range lm.waitsFor {
		for h := range holders {
			graph[waiter] = append(graph[waiter], h)
		}
	}
	lm.mu.Unlock()

	var victims []TxID
	visited := make(map[TxID]int) // 0=unvisited, 1=in-stack, 2=done
	var stack []TxID

	var visit func(n TxID) TxID // returns 0 if no cycle, else the cycle member to abort
	visit = func(n TxID) TxID {
		visited[n] = 1
		stack = append(stack, n)
		for _, next := range graph[n] {
			switch visited[next] {
			case 0:
				if v := visit(next); v != 0 {
					return v
				}
			case 1:
				// Found a cycle ending back at `next`; abort the youngest
				// member (highest TxID) among the cycle's participants.
				victim := next
				for i := len(stack) - 1; i >= 0 && stack[i] != next; i-- {
					if stack[i] > victim {
						victim = stack[i]
					}
				}
				if next > victim {
					victim = next
				}
				return victim
			}
		}
		stack = stack[:len(stack)-1]
		visited[n] = 2
		return 0
	}

	txIDs := make([]TxID, 0, len(graph))
	for n := range graph {
		txIDs = append(txIDs, n)
	}
	sort.Slice(txIDs, func(i, j int) bool { return txIDs[i] < txIDs[j] })

	seenVictims := make(map[TxID]bool)
	for _, n := range txIDs {
		if visited[n] != 0 {
			continue
		}
		stack = stack[:0]
		if v := visit(n); v != 0 && !seenVictims[v] {
			seenVictims[v] = true
			victims = append(victims, v)
		}
	}

	if len(victims) == 0 {
		return nil
	}

	lm.mu.Lock()
	for _, v := range victims {
		if ch, ok := lm.victims[v]; ok {
			close(ch)
			delete(lm.victims, v)
		}
	}
	lm.mu.Unlock()

	return victims
}
