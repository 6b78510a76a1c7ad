package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrEmptyBundle is returned when an export filter matches nothing.
var ErrEmptyBundle = errors.New("no entries match filter")

// EvidenceBundle is an exportable, self-verifying slice of the audit chain.
type EvidenceBundle struct {
	BundleID   string        `json:"bundle_id"`
	Version    string        `json:"version"`
	CreatedAt  time.Time     `json:"created_at"`
	StartSeq   uint64        `json:"start_sequence"`
	EndSeq     uint64        `json:"end_sequence"`
	EntryCount int           `json:"entry_count"`
	Entries    []*AuditEntry `json:"entries"`
	ChainHead  string        `json:"chain_head"`
	BundleHash string        `json:"bundle_hash"`
}

// ExportBundle exports the entries matching filter as an EvidenceBundle.
func (s *AuditStore) ExportBundle(filter QueryFilter) (*EvidenceBundle, error) {
	entries := s.Query(filter)
	if len(entries) == 0 {
		return nil, ErrEmptyBundle
	}

	bundle := &EvidenceBundle{
		BundleID:   uuid.New().String(),
		Version:    "1.0.0",
		CreatedAt:  s.clock().UTC(),
		StartSeq:   entries[0].Sequence,
		EndSeq:     entries[len(entries)-1].Sequence,
		EntryCount: len(entries),
		Entries:    entries,
		ChainHead:  entries[len(entries)-1].EntryHash,
	}

	data, err := json.Marshal(bundle.Entries)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bundle entries: %w", err)
	}
	bundle.BundleHash = computeHash(data)
	return bundle, nil
}

// VerifyBundle checks the bundle hash, every payload against its payload
// hash, every entry hash, and, for contiguous sequences, the links between
// neighbouring entries.
func VerifyBundle(bundle *EvidenceBundle) error {
	if bundle == nil || len(bundle.Entries) == 0 {
		return ErrEmptyBundle
	}

	data, err := json.Marshal(bundle.Entries)
	if err != nil {
		return fmt.Errorf("failed to marshal bundle entries: %w", err)
	}
	if computeHash(data) != bundle.BundleHash {
		return fmt.Errorf("%w: bundle hash mismatch", ErrChainBroken)
	}

	for i, e := range bundle.Entries {
		if err := verifyEntry(i, e); err != nil {
			return err
		}
		if i == 0 {
			continue
		}
		prev := bundle.Entries[i-1]
		if e.Sequence == prev.Sequence+1 && e.PreviousHash != prev.EntryHash {
			return fmt.Errorf("%w: chain broken at entry %d", ErrChainBroken, i)
		}
	}
	return nil
}
