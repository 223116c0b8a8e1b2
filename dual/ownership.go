// Package dual implements the dual-engine handoff of spec §4.6 (component
// C6): a connection-ownership table keyed by peer-endpoint text, a
// single-buffered handoff slot guarded by a mutex + condition variable, and
// the primary/backup loop entry points that share them.
package dual

import (
	"net"
	"sync"
)

// OwnershipTable is the mapping of spec §3: peer-endpoint text key ->
// "routed to backup". It only grows during a session (invariant P4); keys
// are never removed.
type OwnershipTable struct {
	mu sync.RWMutex
	m  map[string]struct{}
}

// NewOwnershipTable returns an empty table.
func NewOwnershipTable() *OwnershipTable {
	return &OwnershipTable{m: map[string]struct{}{}}
}

// Key computes the peer-endpoint text key for addr: its family-aware
// "host:port" string form. This is intentionally coarse — it associates
// endpoints, not connection IDs (spec §9 open question 2).
func (t *OwnershipTable) Key(addr net.Addr) string {
	if addr == nil {
		return ""
	}
	return addr.String()
}

// Insert records key as routed to the backup. Safe to call with a key
// already present.
func (t *OwnershipTable) Insert(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[key] = struct{}{}
}

// Owned reports whether key has been routed to the backup.
func (t *OwnershipTable) Owned(key string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.m[key]
	return ok
}
