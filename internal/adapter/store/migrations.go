package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"

	"github.com/step6836/CloudRAG/config"
	"github.com/step6836/CloudRAG/internal/domain"
)

// CurrentSchemaVersion is the layout version of the index file.
// Increment this when making breaking changes to the storage format.
const CurrentSchemaVersion = 1

var keySchemaVersion = []byte("schema_version")

// SchemaInfo stores the schema version and the settings fingerprint.
type SchemaInfo struct {
	Version     int    `json:"version"`
	Fingerprint string `json:"fingerprint"`
}

// GetSchemaInfo retrieves the current schema info from the database.
func (s *BoltIndexStore) GetSchemaInfo() (*SchemaInfo, error) {
	var info SchemaInfo
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketInfo)
		if data := b.Get(keySchemaVersion); data != nil {
			if err := json.Unmarshal(data, &info.Version); err != nil {
				return fmt.Errorf("%w: unreadable schema version: %v", domain.ErrCorruptState, err)
			}
		}
		info.Fingerprint = string(b.Get(keyFingerprint))
		return nil
	})
	return &info, err
}

func (s *BoltIndexStore) setSchemaVersion(v int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketInfo).Put(keySchemaVersion, data)
	})
}

// ComputeFingerprint hashes the settings that make stored vectors comparable
// with newly embedded ones. A different fingerprint means the index must be
// rebuilt.
func ComputeFingerprint(cfg *config.Config) string {
	relevant := struct {
		Provider  string `json:"provider"`
		Model     string `json:"model"`
		Dimension int    `json:"dimension"`
		ChunkSize int    `json:"chunk_size"`
		Overlap   int    `json:"chunk_overlap"`
	}{
		Provider:  cfg.Embedding.Provider,
		Model:     cfg.Embedding.Model,
		Dimension: cfg.Embedding.Dimension,
		ChunkSize: cfg.Chunking.Size,
		Overlap:   cfg.Chunking.Overlap,
	}

	data, _ := json.Marshal(relevant)
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:8])
}

// MigrationResult describes whether an index can be used as-is.
type MigrationResult struct {
	NeedsRebuild bool
	OldVersion   int
	NewVersion   int
	Reason       string
}

// CheckFingerprint compares a loaded fingerprint against the expected one.
// An empty stored fingerprint belongs to an index that was never built.
func CheckFingerprint(stored, expected string) *MigrationResult {
	result := &MigrationResult{OldVersion: CurrentSchemaVersion, NewVersion: CurrentSchemaVersion}
	if stored != "" && stored != expected {
		result.NeedsRebuild = true
		result.Reason = "embedding or chunking settings changed since the index was built"
	}
	return result
}

// migrate brings the file to CurrentSchemaVersion. Files written by a newer
// version are refused.
func (s *BoltIndexStore) migrate() error {
	info, err := s.GetSchemaInfo()
	if err != nil {
		return err
	}

	if info.Version > CurrentSchemaVersion {
		return fmt.Errorf("%w: index created by newer version (v%d > v%d)",
			domain.ErrConfiguration, info.Version, CurrentSchemaVersion)
	}

	for v := info.Version; v < CurrentSchemaVersion; v++ {
		if err := s.runMigration(v, v+1); err != nil {
			return fmt.Errorf("migration from v%d to v%d failed: %w", v, v+1, err)
		}
	}
	if info.Version == CurrentSchemaVersion {
		return nil
	}
	return s.setSchemaVersion(CurrentSchemaVersion)
}

func (s *BoltIndexStore) runMigration(from, to int) error {
	switch {
	case from == 0 && to == 1:
		// v1 is the first layout; buckets are created on open.
		return nil
	default:
		return nil
	}
}
