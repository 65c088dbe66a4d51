package embedding

import (
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/dgraph-io/ristretto"
	_ "modernc.org/sqlite"

	rcerrors "github.com/adalundhe/revcluster/core/errors"
)

const (
	// DefaultSharedCacheBytes bounds the sqlite store's vector cache.
	DefaultSharedCacheBytes = 256 << 20

	sqliteDriver      = "sqlite"
	sqliteBufferItems = 64
	importBatchSize   = 10000
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS vectors (
	token  TEXT PRIMARY KEY,
	vector BLOB NOT NULL
);`

// SQLiteStore reads vectors from a sqlite table. A ristretto cache shared by
// all callers keeps hot tokens off the database.
type SQLiteStore struct {
	db     *sql.DB
	lookup *sql.Stmt
	dim    int
	cache  *ristretto.Cache
}

// OpenSQLite opens an embedding database created by ImportText.
func OpenSQLite(path string, cacheBytes int64) (*SQLiteStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindIO, "open embedding", path, err)
	}

	db, err := sql.Open(sqliteDriver, path)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindIO, "open embedding", path, err)
	}

	dim, err := readDim(db)
	if err != nil {
		db.Close()
		return nil, rcerrors.Wrap(rcerrors.KindParse, "read embedding meta", path, err)
	}

	stmt, err := db.Prepare(`SELECT vector FROM vectors WHERE token = ?`)
	if err != nil {
		db.Close()
		return nil, rcerrors.Wrap(rcerrors.KindIO, "prepare lookup", path, err)
	}

	if cacheBytes <= 0 {
		cacheBytes = DefaultSharedCacheBytes
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10 * (cacheBytes / int64(4*dim)),
		MaxCost:     cacheBytes,
		BufferItems: sqliteBufferItems,
	})
	if err != nil {
		stmt.Close()
		db.Close()
		return nil, rcerrors.Wrap(rcerrors.KindConfiguration, "create embedding cache", path, err)
	}

	return &SQLiteStore{db: db, lookup: stmt, dim: dim, cache: cache}, nil
}

func readDim(db *sql.DB) (int, error) {
	var raw string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = 'dim'`).Scan(&raw); err != nil {
		return 0, err
	}
	dim, err := strconv.Atoi(raw)
	if err != nil || dim <= 0 {
		return 0, fmt.Errorf("invalid dim %q", raw)
	}
	return dim, nil
}

// Lookup implements Store.
func (s *SQLiteStore) Lookup(token string) ([]float32, error) {
	if cached, ok := s.cache.Get(token); ok {
		return cached.([]float32), nil
	}

	var blob []byte
	err := s.lookup.QueryRow(token).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindIO, "lookup embedding", token, err)
	}

	vec, err := decodeVector(blob, s.dim)
	if err != nil {
		return nil, rcerrors.Wrap(rcerrors.KindParse, "decode embedding", token, err)
	}

	s.cache.Set(token, vec, int64(4*len(vec)))
	return vec, nil
}

// Dim implements Store.
func (s *SQLiteStore) Dim() int {
	return s.dim
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	s.cache.Close()
	s.lookup.Close()
	return s.db.Close()
}

// ImportText converts a word2vec text file into an embedding database at
// dbPath and returns the number of vectors written.
func ImportText(ctx context.Context, srcPath, dbPath string) (int, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, rcerrors.Wrap(rcerrors.KindIO, "open embedding", srcPath, err)
	}
	defer src.Close()

	db, err := sql.Open(sqliteDriver, dbPath)
	if err != nil {
		return 0, rcerrors.Wrap(rcerrors.KindIO, "open database", dbPath, err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return 0, rcerrors.Wrap(rcerrors.KindIO, "create schema", dbPath, err)
	}

	imp := &importer{ctx: ctx, db: db}
	err = scanText(src, imp.setDim, imp.add)
	if err == nil {
		err = imp.flush()
	}
	if err != nil {
		imp.rollback()
		return imp.written, rcerrors.Wrap(rcerrors.KindParse, "import embedding", srcPath, err)
	}
	return imp.written, nil
}

// importer writes rows in batched transactions.
type importer struct {
	ctx     context.Context
	db      *sql.DB
	tx      *sql.Tx
	stmt    *sql.Stmt
	pending int
	written int
	dimErr  error
}

func (imp *importer) setDim(dim int) {
	_, imp.dimErr = imp.db.ExecContext(imp.ctx,
		`INSERT OR REPLACE INTO meta(key, value) VALUES ('dim', ?)`, strconv.Itoa(dim))
}

func (imp *importer) add(token string, vec []float32) error {
	if imp.dimErr != nil {
		return imp.dimErr
	}
	if imp.tx == nil {
		tx, err := imp.db.BeginTx(imp.ctx, nil)
		if err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(imp.ctx, `INSERT OR IGNORE INTO vectors(token, vector) VALUES (?, ?)`)
		if err != nil {
			tx.Rollback()
			return err
		}
		imp.tx, imp.stmt = tx, stmt
	}

	if _, err := imp.stmt.ExecContext(imp.ctx, token, encodeVector(vec)); err != nil {
		return err
	}
	imp.pending++
	imp.written++

	if imp.pending >= importBatchSize {
		return imp.flush()
	}
	return nil
}

func (imp *importer) flush() error {
	if imp.dimErr != nil {
		return imp.dimErr
	}
	if imp.tx == nil {
		return nil
	}
	imp.stmt.Close()
	err := imp.tx.Commit()
	imp.tx, imp.stmt, imp.pending = nil, nil, 0
	return err
}

func (imp *importer) rollback() {
	if imp.tx != nil {
		imp.stmt.Close()
		imp.tx.Rollback()
		imp.tx, imp.stmt = nil, nil
	}
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(blob []byte, dim int) ([]float32, error) {
	if len(blob) != 4*dim {
		return nil, fmt.Errorf("blob has %d bytes, want %d", len(blob), 4*dim)
	}
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[4*i:]))
	}
	return vec, nil
}
