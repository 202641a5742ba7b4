// Package rbac implements the scope-hierarchical RBAC store (R): grant and
// revoke records, effective-permission resolution as the highest permission
// granted on the resource or any enclosing scope, and an append-only audit trail of immutable events, narrowed to
// the two mutation events this registry actually has.
package rbac

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/orneryd/registry/internal/rerrors"
)

// Permission is the RBAC permission level. Admin ⊇ Write ⊇ Read.
type Permission string

const (
	PermRead  Permission = "Read"
	PermWrite Permission = "Write"
	PermAdmin Permission = "Admin"
)

var rank = map[Permission]int{PermRead: 1, PermWrite: 2, PermAdmin: 3}

// covers reports whether p grants at least `need`.
func (p Permission) covers(need Permission) bool { return rank[p] >= rank[need] }

// RoleName and AccessList project Permission onto its wire representation:
// a human-readable role name and the list of actions it grants.
func (p Permission) RoleName() string {
	switch p {
	case PermRead:
		return "consumer"
	case PermWrite:
		return "producer"
	case PermAdmin:
		return "admin"
	default:
		return ""
	}
}

func (p Permission) AccessList() []string {
	switch p {
	case PermRead:
		return []string{"read"}
	case PermWrite:
		return []string{"read", "write"}
	case PermAdmin:
		return []string{"read", "write", "manage"}
	default:
		return nil
	}
}

// Record is one grant, possibly later soft-revoked.
type Record struct {
	Scope      string     `json:"scope"`
	Credential string     `json:"credential"`
	Permission Permission `json:"permission"`
	Requestor  string     `json:"requestor"`
	Reason     string     `json:"reason,omitempty"`
	Time       time.Time  `json:"time"`

	DeletedBy   string     `json:"deletedBy,omitempty"`
	DeleteReason string    `json:"deleteReason,omitempty"`
	DeleteTime  *time.Time `json:"deleteTime,omitempty"`
}

func (r *Record) deleted() bool { return r.DeleteTime != nil }

// AuditAction discriminates an audit entry's mutation kind.
type AuditAction string

const (
	AuditGrant  AuditAction = "Grant"
	AuditRevoke AuditAction = "Revoke"
)

// AuditEntry is one immutable RBAC audit record.
type AuditEntry struct {
	Action     AuditAction `json:"action"`
	Scope      string      `json:"scope"`
	Credential string      `json:"credential"`
	Permission Permission  `json:"permission,omitempty"`
	Actor      string      `json:"actor"`
	Reason     string      `json:"reason,omitempty"`
	Time       time.Time   `json:"time"`
}

// Store holds every grant/revoke record and the audit trail derived from
// them. It performs no internal locking beyond what is needed for
// concurrent reads against a single writer (the raft FSM's apply loop),
// mirroring Graph and Index.
type Store struct {
	mu      sync.RWMutex
	records []*Record
	audit   []AuditEntry
}

// New creates an empty Store.
func New() *Store {
	return &Store{}
}

// Grant records a new permission grant and appends an audit entry.
func (s *Store) Grant(scope, credential string, perm Permission, requestor, reason string, at time.Time) error {
	if rank[perm] == 0 {
		return rerrors.BadRequestf("invalid permission %q", perm)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, &Record{
		Scope: scope, Credential: credential, Permission: perm,
		Requestor: requestor, Reason: reason, Time: at,
	})
	s.audit = append(s.audit, AuditEntry{
		Action: AuditGrant, Scope: scope, Credential: credential,
		Permission: perm, Actor: requestor, Reason: reason, Time: at,
	})
	return nil
}

// Revoke soft-deletes the most recent non-deleted record matching
// (scope, credential), preserving it for the audit trail.
func (s *Store) Revoke(scope, credential, deletedBy, reason string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var target *Record
	for i := len(s.records) - 1; i >= 0; i-- {
		r := s.records[i]
		if r.Scope == scope && r.Credential == credential && !r.deleted() {
			target = r
			break
		}
	}
	if target == nil {
		return rerrors.NotFoundf("no active grant for credential %q on scope %q", credential, scope)
	}
	target.DeletedBy = deletedBy
	target.DeleteReason = reason
	t := at
	target.DeleteTime = &t

	s.audit = append(s.audit, AuditEntry{
		Action: AuditRevoke, Scope: scope, Credential: credential,
		Permission: target.Permission, Actor: deletedBy, Reason: reason, Time: at,
	})
	return nil
}

// isAncestorOrEqual reports whether scope is resource or a dotted-prefix
// ancestor of it (e.g. "P" is an ancestor of "P.A.f1").
func isAncestorOrEqual(scope, resource string) bool {
	if scope == resource {
		return true
	}
	return strings.HasPrefix(resource, scope+".")
}

// Effective returns the maximum non-deleted permission credential holds
// over resource, considering every record whose scope is resource or an
// ancestor of it. ok is false if no grant applies.
func (s *Store) Effective(credential, resource string) (Permission, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	best := Permission("")
	bestRank := 0
	for _, r := range s.records {
		if r.deleted() || r.Credential != credential {
			continue
		}
		if !isAncestorOrEqual(r.Scope, resource) {
			continue
		}
		if rank[r.Permission] > bestRank {
			bestRank = rank[r.Permission]
			best = r.Permission
		}
	}
	return best, bestRank > 0
}

// Check reports whether credential has at least `need` over resource.
func (s *Store) Check(credential, resource string, need Permission) bool {
	eff, ok := s.Effective(credential, resource)
	if !ok {
		return false
	}
	return eff.covers(need)
}

// ListForUser returns every non-deleted record for credential.
func (s *Store) ListForUser(credential string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.records {
		if r.Credential == credential && !r.deleted() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope < out[j].Scope })
	return out
}

// ListForScope returns every non-deleted record whose scope is exactly
// resource.
func (s *Store) ListForScope(resource string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.records {
		if r.Scope == resource && !r.deleted() {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Credential < out[j].Credential })
	return out
}

// ListAudit returns the audit trail, optionally filtered to entries whose
// scope is resource or one of its ancestors.
func (s *Store) ListAudit(resource string) []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if resource == "" {
		out := make([]AuditEntry, len(s.audit))
		copy(out, s.audit)
		return out
	}
	var out []AuditEntry
	for _, a := range s.audit {
		if isAncestorOrEqual(a.Scope, resource) {
			out = append(out, a)
		}
	}
	return out
}

// All returns every record (including soft-deleted ones), used by snapshot
// serialization.
func (s *Store) All() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Record, len(s.records))
	copy(out, s.records)
	return out
}

// Reset discards all state, used by Restore before replaying a snapshot.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.audit = nil
}

// RestoreRecord re-inserts a record verbatim during snapshot restore,
// without appending a new audit entry (the audit trail itself is part of
// the snapshot and restored separately by RestoreAudit).
func (s *Store) RestoreRecord(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

// AllAudit returns the raw audit trail, used by snapshot serialization.
func (s *Store) AllAudit() []AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]AuditEntry, len(s.audit))
	copy(out, s.audit)
	return out
}

// RestoreAudit re-inserts an audit entry verbatim during snapshot restore.
func (s *Store) RestoreAudit(a AuditEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, a)
}
