package audit

import (
	"context"
	"errors"
	"sync"
	"time"

	"beacon-guard/internal/storage"
)

// Repository writes audit entries to the audit_log table.
type Repository struct {
	db      storage.DBTX
	dialect storage.Dialect
}

// NewRepository constructs an audit repository.
func NewRepository(db storage.DBTX, dialect storage.Dialect) *Repository {
	if db == nil {
		return nil
	}
	return &Repository{db: db, dialect: dialect}
}

// Log writes an audit entry.
func (r *Repository) Log(ctx context.Context, entry Entry) error {
	if r == nil || r.db == nil {
		return errors.New("audit repo: nil db")
	}
	entry.fill(time.Now().UTC())
	metadata := string(entry.Metadata)
	if metadata == "" {
		metadata = "{}"
	}

	_, err := r.db.ExecContext(ctx, r.dialect.Rebind(`
INSERT INTO audit_log (
	id, actor, role, action, mac, metadata, payload_digest, ip, user_agent, created_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)`), entry.ID, entry.Actor, entry.Role, entry.Action, entry.MAC,
		metadata, entry.PayloadDigest, entry.IP, entry.UserAgent, entry.CreatedAt)
	return err
}

// MemoryLog keeps audit entries in process.
type MemoryLog struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryLog constructs an empty in-memory audit log.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{}
}

// Log appends an entry.
func (m *MemoryLog) Log(_ context.Context, entry Entry) error {
	if m == nil {
		return errors.New("audit memory: nil log")
	}
	entry.fill(time.Now().UTC())
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded entries, oldest first.
func (m *MemoryLog) Entries() []Entry {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}
