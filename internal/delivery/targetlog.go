package delivery

import (
	"sync"
	"sync/atomic"
)

// TargetStats is the outcome ledger of one target.
type TargetStats struct {
	Attempts  uint64 `json:"attempts"`
	Successes uint64 `json:"successes"`
	Failures  uint64 `json:"failures"`
}

type targetEntry struct {
	attempts  atomic.Uint64
	successes atomic.Uint64
	failures  atomic.Uint64
}

// TargetLog counts attempts and terminal outcomes per target. Entries are
// created on first attempt and live for the life of the process; each entry is
// updated independently of the others.
type TargetLog struct {
	entries sync.Map // target -> *targetEntry
}

func NewTargetLog() *TargetLog {
	return &TargetLog{}
}

func (l *TargetLog) entry(target string) *targetEntry {
	if e, ok := l.entries.Load(target); ok {
		return e.(*targetEntry)
	}
	e, _ := l.entries.LoadOrStore(target, &targetEntry{})
	return e.(*targetEntry)
}

func (l *TargetLog) RecordAttempt(target string) {
	l.entry(target).attempts.Add(1)
}

func (l *TargetLog) RecordSuccess(target string) {
	l.entry(target).successes.Add(1)
}

func (l *TargetLog) RecordFailure(target string) {
	l.entry(target).failures.Add(1)
}

// Get returns the stats of target and whether it has been attempted.
func (l *TargetLog) Get(target string) (TargetStats, bool) {
	e, ok := l.entries.Load(target)
	if !ok {
		return TargetStats{}, false
	}
	return e.(*targetEntry).stats(), true
}

// Snapshot copies every entry. Counters of different targets may be read at
// slightly different instants.
func (l *TargetLog) Snapshot() map[string]TargetStats {
	out := make(map[string]TargetStats)
	l.entries.Range(func(k, v any) bool {
		out[k.(string)] = v.(*targetEntry).stats()
		return true
	})
	return out
}

func (e *targetEntry) stats() TargetStats {
	return TargetStats{
		Attempts:  e.attempts.Load(),
		Successes: e.successes.Load(),
		Failures:  e.failures.Load(),
	}
}
