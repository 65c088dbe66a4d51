// Package embedding provides the token-to-vector lookup used by the feature
// graph. Stores are read-only after construction and safe for concurrent use.
package embedding

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

// ErrNotFound is returned by Lookup for tokens outside the vocabulary.
var ErrNotFound = errors.New("token not in vocabulary")

// Store maps tokens to fixed-length vectors.
//
// Returned slices may be shared with the store and must not be modified.
type Store interface {
	// Lookup returns the vector for token, or ErrNotFound.
	Lookup(token string) ([]float32, error)

	// Dim is the length of every vector in the store.
	Dim() int

	// Close releases files, mappings and connections.
	Close() error
}

// Format names an on-disk embedding layout.
type Format string

const (
	FormatAuto   Format = "auto"
	FormatText   Format = "text"
	FormatBinary Format = "binary"
	FormatSQLite Format = "sqlite"
)

// ParseFormat validates a format name. The empty string means FormatAuto.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatAuto, nil
	case FormatAuto, FormatText, FormatBinary, FormatSQLite:
		return f, nil
	default:
		return "", rcerrors.Errorf(rcerrors.KindConfiguration, "parse embedding format", s, "unknown format")
	}
}

// DetectFormat picks a format from the file extension.
func DetectFormat(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".bin":
		return FormatBinary
	case ".db", ".sqlite", ".sqlite3":
		return FormatSQLite
	default:
		return FormatText
	}
}

// Config selects and tunes an embedding store.
type Config struct {
	// Path is the embedding file.
	Path string

	// Format is the on-disk layout. FormatAuto detects it from Path.
	Format Format

	// SharedCacheBytes bounds the shared vector cache of the sqlite backend.
	// 0 uses DefaultSharedCacheBytes.
	SharedCacheBytes int64
}

// Open opens the store described by cfg.
func Open(cfg Config) (Store, error) {
	format := cfg.Format
	if format == "" || format == FormatAuto {
		format = DetectFormat(cfg.Path)
	}

	var (
		store Store
		err   error
	)
	switch format {
	case FormatText:
		store, err = LoadTextFile(cfg.Path)
	case FormatBinary:
		store, err = OpenBinary(cfg.Path)
	case FormatSQLite:
		store, err = OpenSQLite(cfg.Path, cfg.SharedCacheBytes)
	default:
		return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "open embedding", cfg.Path, "unknown format %q", format)
	}
	if err != nil {
		return nil, err
	}

	if store.Dim() <= 0 {
		store.Close()
		return nil, rcerrors.Errorf(rcerrors.KindConfiguration, "open embedding", cfg.Path, "embedding has no dimensions")
	}
	return store, nil
}

// =============================================================================
// MemoryStore
// =============================================================================

// MemoryStore holds every vector in a map.
type MemoryStore struct {
	dim     int
	vectors map[string][]float32
}

// NewMemoryStore creates an empty store of the given dimension.
func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, vectors: make(map[string][]float32)}
}

// Add inserts a vector. The first vector added for a token wins.
func (m *MemoryStore) Add(token string, vec []float32) error {
	if len(vec) != m.dim {
		return fmt.Errorf("vector for %q has %d dimensions, want %d", token, len(vec), m.dim)
	}
	if _, exists := m.vectors[token]; !exists {
		m.vectors[token] = vec
	}
	return nil
}

// Lookup implements Store.
func (m *MemoryStore) Lookup(token string) ([]float32, error) {
	if vec, ok := m.vectors[token]; ok {
		return vec, nil
	}
	return nil, ErrNotFound
}

// Dim implements Store.
func (m *MemoryStore) Dim() int {
	return m.dim
}

// Len returns the vocabulary size.
func (m *MemoryStore) Len() int {
	return len(m.vectors)
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	return nil
}
