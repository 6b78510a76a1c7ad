// Package store implements the append-only audit trail of the control plane:
// every failsafe event, blocked charge, override and kill-switch transition is
// content hashed and chained to its predecessor.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"
)

var (
	ErrEntryNotFound = errors.New("entry not found")
	ErrChainBroken   = errors.New("hash chain is broken")
	ErrPersist       = errors.New("audit entry could not be persisted")

	// ErrSequenceConflict is returned by a Backend when another writer already
	// holds the entry's sequence number.
	ErrSequenceConflict = errors.New("audit sequence already taken")
)

const (
	genesisHash       = "genesis"
	maxAppendAttempts = 5
)

// EntryType categorizes audit entries.
type EntryType string

const (
	EntryTypeFailsafe      EntryType = "failsafe"
	EntryTypeBlockedCharge EntryType = "blocked_charge"
	EntryTypeOverride      EntryType = "override"
	EntryTypeKillSwitch    EntryType = "kill_switch"
)

// AuditEntry is a single immutable entry in the audit store.
type AuditEntry struct {
	EntryID      string            `json:"entry_id"`
	Sequence     uint64            `json:"sequence"`
	Timestamp    time.Time         `json:"timestamp"`
	EntryType    EntryType         `json:"entry_type"`
	Subject      string            `json:"subject"`
	Action       string            `json:"action"`
	Payload      json.RawMessage   `json:"payload"`
	PayloadHash  string            `json:"payload_hash"`
	PreviousHash string            `json:"previous_hash"`
	EntryHash    string            `json:"entry_hash"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (e *AuditEntry) clone() *AuditEntry {
	out := *e
	out.Payload = append(json.RawMessage(nil), e.Payload...)
	out.Metadata = copyMetadata(e.Metadata)
	return &out
}

func copyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Decode unmarshals the entry payload into v.
func (e *AuditEntry) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s entry %d: %w", e.EntryType, e.Sequence, err)
	}
	return nil
}

// Backend durably persists entries. Persist must be atomic per entry; an
// entry is only visible in the store after Persist succeeded. A backend
// shared by several stores reports a lost race with ErrSequenceConflict.
type Backend interface {
	Persist(ctx context.Context, entry *AuditEntry) error
	Load(ctx context.Context) ([]*AuditEntry, error)
}

// EntryHandler is called after an entry has been appended.
type EntryHandler func(entry *AuditEntry)

// AuditStore is an append-only audit log with hash chaining.
type AuditStore struct {
	mu        sync.RWMutex
	entries   []*AuditEntry
	entryByID map[string]*AuditEntry
	sequence  uint64
	chainHead string
	handlers  []EntryHandler
	backend   Backend
	clock     func() time.Time
}

// Option configures an AuditStore.
type Option func(*AuditStore)

// WithBackend persists every entry through b before it is committed.
func WithBackend(b Backend) Option {
	return func(s *AuditStore) { s.backend = b }
}

// WithClock overrides the clock for deterministic testing.
func WithClock(clock func() time.Time) Option {
	return func(s *AuditStore) { s.clock = clock }
}

// NewAuditStore creates a new append-only audit store. Without a backend the
// store is memory-only.
func NewAuditStore(opts ...Option) *AuditStore {
	s := &AuditStore{
		entries:   make([]*AuditEntry, 0),
		entryByID: make(map[string]*AuditEntry),
		chainHead: genesisHash,
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append adds a new entry. The payload is stored as canonical JSON (RFC 8785)
// so the payload hash is stable across encoders. A backend failure leaves the
// store untouched and is returned wrapped in ErrPersist.
//
// When the backend is shared with other stores and one of them has already
// written the next sequence number, the store reloads the backend, verifies
// the chain and retries on top of the new head. Handlers only see entries
// appended through this store.
func (s *AuditStore) Append(ctx context.Context, entryType EntryType, subject, action string, payload any, metadata map[string]string) (*AuditEntry, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize payload: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize payload: %w", err)
	}

	s.mu.Lock()
	var entry *AuditEntry
	for attempt := 1; ; attempt++ {
		entry, err = s.nextEntryLocked(entryType, subject, action, canonical, metadata)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		if s.backend == nil {
			break
		}
		err = s.backend.Persist(ctx, entry)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrSequenceConflict) || attempt == maxAppendAttempts {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: %w", ErrPersist, err)
		}
		if rerr := s.restoreLocked(ctx); rerr != nil {
			s.mu.Unlock()
			return nil, fmt.Errorf("%w: reload after sequence conflict: %w", ErrPersist, rerr)
		}
	}

	s.sequence = entry.Sequence
	s.chainHead = entry.EntryHash
	s.entries = append(s.entries, entry)
	s.entryByID[entry.EntryID] = entry
	handlers := append([]EntryHandler(nil), s.handlers...)
	s.mu.Unlock()

	for _, h := range handlers {
		h(entry.clone())
	}
	return entry.clone(), nil
}

func (s *AuditStore) nextEntryLocked(entryType EntryType, subject, action string, canonical json.RawMessage, metadata map[string]string) (*AuditEntry, error) {
	entry := &AuditEntry{
		EntryID:      uuid.New().String(),
		Sequence:     s.sequence + 1,
		Timestamp:    s.clock().UTC().Truncate(time.Microsecond),
		EntryType:    entryType,
		Subject:      subject,
		Action:       action,
		Payload:      canonical,
		PayloadHash:  computeHash(canonical),
		PreviousHash: s.chainHead,
		Metadata:     copyMetadata(metadata),
	}
	entryHash, err := computeEntryHash(entry)
	if err != nil {
		return nil, fmt.Errorf("failed to compute entry hash: %w", err)
	}
	entry.EntryHash = entryHash
	return entry, nil
}

// Restore replaces the in-memory view with the backend's contents and
// verifies the resulting chain. Stores sharing a backend call it to pick up
// entries written by the others.
func (s *AuditStore) Restore(ctx context.Context) error {
	if s.backend == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restoreLocked(ctx)
}

func (s *AuditStore) restoreLocked(ctx context.Context) error {
	loaded, err := s.backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load audit entries: %w", err)
	}
	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Sequence < loaded[j].Sequence })

	s.entries = loaded
	s.entryByID = make(map[string]*AuditEntry, len(loaded))
	s.sequence = 0
	s.chainHead = genesisHash
	for _, e := range loaded {
		s.entryByID[e.EntryID] = e
		s.sequence = e.Sequence
		s.chainHead = e.EntryHash
	}
	return s.verifyLocked()
}

func computeHash(data []byte) string {
	hash := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(hash[:])
}

func computeEntryHash(entry *AuditEntry) (string, error) {
	hashable := struct {
		Sequence     uint64    `json:"sequence"`
		Timestamp    time.Time `json:"timestamp"`
		EntryType    EntryType `json:"entry_type"`
		Subject      string    `json:"subject"`
		Action       string    `json:"action"`
		PayloadHash  string    `json:"payload_hash"`
		PreviousHash string    `json:"previous_hash"`
	}{
		Sequence:     entry.Sequence,
		Timestamp:    entry.Timestamp,
		EntryType:    entry.EntryType,
		Subject:      entry.Subject,
		Action:       entry.Action,
		PayloadHash:  entry.PayloadHash,
		PreviousHash: entry.PreviousHash,
	}

	data, err := json.Marshal(hashable)
	if err != nil {
		return "", fmt.Errorf("failed to marshal entry for hashing: %w", err)
	}
	return computeHash(data), nil
}

// Get retrieves an entry by ID.
func (s *AuditStore) Get(entryID string) (*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entryByID[entryID]
	if !ok {
		return nil, ErrEntryNotFound
	}
	return entry.clone(), nil
}

// GetChainHead returns the current chain head hash.
func (s *AuditStore) GetChainHead() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainHead
}

// GetSequence returns the current sequence number.
func (s *AuditStore) GetSequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sequence
}

// QueryFilter defines filtering criteria for queries.
type QueryFilter struct {
	EntryType  EntryType
	Subject    string
	Action     string
	StartTime  *time.Time
	EndTime    *time.Time
	StartSeq   uint64
	EndSeq     uint64
	MaxResults int
}

func (f QueryFilter) matches(e *AuditEntry) bool {
	if f.EntryType != "" && e.EntryType != f.EntryType {
		return false
	}
	if f.Subject != "" && e.Subject != f.Subject {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if f.StartTime != nil && e.Timestamp.Before(*f.StartTime) {
		return false
	}
	if f.EndTime != nil && e.Timestamp.After(*f.EndTime) {
		return false
	}
	if f.StartSeq > 0 && e.Sequence < f.StartSeq {
		return false
	}
	if f.EndSeq > 0 && e.Sequence > f.EndSeq {
		return false
	}
	return true
}

// Query returns copies of the entries matching the filter, in sequence order.
func (s *AuditStore) Query(filter QueryFilter) []*AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]*AuditEntry, 0)
	for _, e := range s.entries {
		if filter.matches(e) {
			results = append(results, e.clone())
			if filter.MaxResults > 0 && len(results) >= filter.MaxResults {
				break
			}
		}
	}
	return results
}

// VerifyChain verifies the integrity of the hash chain.
func (s *AuditStore) VerifyChain() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verifyLocked()
}

func (s *AuditStore) verifyLocked() error {
	expectedPrev := genesisHash
	for i, entry := range s.entries {
		if entry.PreviousHash != expectedPrev {
			return fmt.Errorf("%w: entry %d has previous_hash %s but expected %s",
				ErrChainBroken, i, entry.PreviousHash, expectedPrev)
		}
		if err := verifyEntry(i, entry); err != nil {
			return err
		}
		expectedPrev = entry.EntryHash
	}
	return nil
}

// verifyEntry checks that entry's payload matches its payload hash and that
// its entry hash covers its header.
func verifyEntry(i int, entry *AuditEntry) error {
	if computeHash(entry.Payload) != entry.PayloadHash {
		return fmt.Errorf("%w: entry %d payload hash mismatch", ErrChainBroken, i)
	}
	computed, err := computeEntryHash(entry)
	if err != nil {
		return fmt.Errorf("%w: entry %d hash computation failed: %w", ErrChainBroken, i, err)
	}
	if computed != entry.EntryHash {
		return fmt.Errorf("%w: entry %d hash mismatch (computed %s, stored %s)",
			ErrChainBroken, i, computed, entry.EntryHash)
	}
	return nil
}

// AddHandler registers a handler for new entries.
func (s *AuditStore) AddHandler(h EntryHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Size returns the number of entries in the store.
func (s *AuditStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
