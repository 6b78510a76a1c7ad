// Package archive keeps exported audit evidence bundles in content-addressed
// blob storage so they outlive the database they were exported from.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kingcam214/creatorvault-ultrastate-sub002/pkg/store"
)

var (
	ErrNotFound    = errors.New("archived bundle not found")
	ErrInvalidHash = errors.New("invalid content hash")
)

const hashPrefix = "sha256:"

// Store is content-addressed blob storage. Put is idempotent and returns the
// "sha256:<hex>" address of data.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, hash string) ([]byte, error)
	Exists(ctx context.Context, hash string) (bool, error)
}

func digest(data []byte) (address, hexSum string) {
	sum := sha256.Sum256(data)
	hexSum = hex.EncodeToString(sum[:])
	return hashPrefix + hexSum, hexSum
}

// parseHash validates a "sha256:<hex>" address and returns the hex part.
func parseHash(hash string) (string, error) {
	raw, ok := strings.CutPrefix(hash, hashPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	if b, err := hex.DecodeString(raw); err != nil || len(b) != sha256.Size {
		return "", fmt.Errorf("%w: %q", ErrInvalidHash, hash)
	}
	return raw, nil
}

func objectName(prefix, hexSum string) string {
	return prefix + hexSum + ".json"
}

// Receipt identifies an archived bundle.
type Receipt struct {
	Hash       string `json:"hash"`
	BundleID   string `json:"bundle_id"`
	StartSeq   uint64 `json:"start_sequence"`
	EndSeq     uint64 `json:"end_sequence"`
	EntryCount int    `json:"entry_count"`
	ChainHead  string `json:"chain_head"`
}

// Archiver exports verified bundles from the audit store into blob storage.
type Archiver struct {
	audit  *store.AuditStore
	blobs  Store
	logger *slog.Logger
}

func NewArchiver(audit *store.AuditStore, blobs Store) *Archiver {
	return &Archiver{
		audit:  audit,
		blobs:  blobs,
		logger: slog.Default().With("component", "archive"),
	}
}

// Archive exports the entries matching filter, verifies the bundle and stores
// it. The bundle is never written if verification fails.
func (a *Archiver) Archive(ctx context.Context, filter store.QueryFilter) (Receipt, error) {
	bundle, err := a.audit.ExportBundle(filter)
	if err != nil {
		return Receipt{}, fmt.Errorf("export bundle: %w", err)
	}
	if err := store.VerifyBundle(bundle); err != nil {
		return Receipt{}, fmt.Errorf("verify bundle: %w", err)
	}
	data, err := json.Marshal(bundle)
	if err != nil {
		return Receipt{}, fmt.Errorf("marshal bundle: %w", err)
	}
	hash, err := a.blobs.Put(ctx, data)
	if err != nil {
		return Receipt{}, fmt.Errorf("store bundle: %w", err)
	}

	r := Receipt{
		Hash:       hash,
		BundleID:   bundle.BundleID,
		StartSeq:   bundle.StartSeq,
		EndSeq:     bundle.EndSeq,
		EntryCount: bundle.EntryCount,
		ChainHead:  bundle.ChainHead,
	}
	a.logger.InfoContext(ctx, "evidence bundle archived",
		"hash", r.Hash,
		"start_sequence", r.StartSeq,
		"end_sequence", r.EndSeq,
		"entries", r.EntryCount,
	)
	return r, nil
}

// Fetch loads an archived bundle and re-verifies both its address and its
// chain.
func (a *Archiver) Fetch(ctx context.Context, hash string) (*store.EvidenceBundle, error) {
	data, err := a.blobs.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if got, _ := digest(data); got != hash {
		return nil, fmt.Errorf("%w: archived content hashes to %s", store.ErrChainBroken, got)
	}
	var bundle store.EvidenceBundle
	if err := json.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("decode bundle %s: %w", hash, err)
	}
	if err := store.VerifyBundle(&bundle); err != nil {
		return nil, err
	}
	return &bundle, nil
}
