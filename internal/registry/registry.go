package registry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/photcat/photcat/internal/errors"
)

// ProductRecord is one ledger row: a produced catalog store.
type ProductRecord struct {
	ID                string
	Target            string
	StorePath         string
	ObjectPath        string
	SizeBytes         int64
	RowCount          int64
	SectionCount      int
	Filters           []string
	SourceFingerprint string
	SchemaVersion     int
	CreatedAt         time.Time
	SupersededBy      *string
}

// Live reports whether the product is still current.
func (r *ProductRecord) Live() bool {
	return r.SupersededBy == nil
}

// Registry is the SQLite-backed product ledger. One write connection
// keeps SQLite's single-writer rule explicit; reads go through a
// separate read-only pool.
type Registry struct {
	db     *sql.DB
	readDB *sql.DB
	dbPath string
	mu     sync.Mutex

	insertStmt *sql.Stmt
	stmtCache  map[string]*sql.Stmt
	stmtMu     sync.RWMutex
}

const productColumns = `product_id, target, store_path, object_path,
	size_bytes, row_count, section_count, filters,
	source_fingerprint, schema_version, created_at, superseded_by`

// Open opens (or creates) the ledger at dbPath and migrates its
// schema forward if needed.
func Open(dbPath string) (*Registry, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("registry: opening ledger: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	r := &Registry{
		db:        db,
		dbPath:    dbPath,
		stmtCache: make(map[string]*sql.Stmt),
	}
	// Schema first: the read-only pool needs the file to exist.
	if err := r.initSchema(); err != nil {
		db.Close()
		return nil, err
	}

	readDB, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&mode=ro")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: opening read pool: %w", err)
	}
	readDB.SetMaxOpenConns(4)
	readDB.SetMaxIdleConns(4)
	readDB.SetConnMaxLifetime(5 * time.Minute)

	if _, err := readDB.Exec("PRAGMA read_uncommitted = true"); err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("registry: setting read_uncommitted: %w", err)
	}
	r.readDB = readDB

	insertStmt, err := db.Prepare(`
		INSERT INTO products (` + productColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		readDB.Close()
		db.Close()
		return nil, fmt.Errorf("registry: preparing insert: %w", err)
	}
	r.insertStmt = insertStmt

	return r, nil
}

// initSchema creates the ledger tables and applies forward migrations.
func (r *Registry) initSchema() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var current int
	err := r.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current)
	fresh := err != nil || current == 0

	for _, stmt := range allSchemaSQL() {
		if _, err := r.db.Exec(stmt); err != nil {
			return fmt.Errorf("registry: initializing schema: %w", err)
		}
	}

	if !fresh && current < SchemaVersion {
		for v := current; v < SchemaVersion; v++ {
			for _, stmt := range migrations[v] {
				if _, err := r.db.Exec(stmt); err != nil {
					// Half-applied migrations leave columns behind;
					// re-adding one is not a failure.
					if strings.Contains(err.Error(), "duplicate column name") {
						continue
					}
					return fmt.Errorf("registry: migrating ledger from version %d: %w", v, err)
				}
			}
			log.Printf("registry: migrated ledger %s from version %d to %d", r.dbPath, v, v+1)
		}
	}

	_, err = r.db.Exec(
		"INSERT OR IGNORE INTO schema_version (version, applied_at) VALUES (?, ?)",
		SchemaVersion, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("registry: recording schema version: %w", err)
	}
	return nil
}

// Register inserts a product into the ledger. Registration is
// idempotent on (target, source fingerprint): if an identical build is
// already recorded, the existing record comes back and no new row is
// written.
func (r *Registry) Register(ctx context.Context, rec *ProductRecord) (*ProductRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.findByFingerprint(ctx, rec.Target, rec.SourceFingerprint)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	filtersJSON, err := json.Marshal(rec.Filters)
	if err != nil {
		return nil, fmt.Errorf("registry: encoding filter list: %w", err)
	}

	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	schemaVersion := rec.SchemaVersion
	if schemaVersion == 0 {
		schemaVersion = SchemaVersion
	}

	_, err = r.insertStmt.ExecContext(ctx,
		rec.ID, rec.Target, rec.StorePath, rec.ObjectPath,
		rec.SizeBytes, rec.RowCount, rec.SectionCount, string(filtersJSON),
		rec.SourceFingerprint, schemaVersion, createdAt.Unix(), nil,
	)
	if err != nil {
		return nil, apperrors.NewRegistryError(apperrors.CodeWriteConflict,
			fmt.Sprintf("registering product %s", rec.ID), err)
	}

	r.logProductCountThreshold(ctx)

	out := *rec
	out.CreatedAt = time.Unix(createdAt.Unix(), 0)
	out.SchemaVersion = schemaVersion
	out.SupersededBy = nil
	return &out, nil
}

// findByFingerprint looks up a product by its idempotency key. Uses
// the write connection: Register must see its own uncommitted world.
func (r *Registry) findByFingerprint(ctx context.Context, target, fingerprint string) (*ProductRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+productColumns+` FROM products
		WHERE target = ? AND source_fingerprint = ?`, target, fingerprint)
	rec, err := scanProduct(row)
	if err != nil {
		if apperrors.IsCode(err, apperrors.CodeProductNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// Get retrieves a single product by ID.
func (r *Registry) Get(ctx context.Context, id string) (*ProductRecord, error) {
	stmt, err := r.getOrPrepare(`
		SELECT ` + productColumns + ` FROM products WHERE product_id = ?`)
	if err != nil {
		return nil, err
	}
	return scanProduct(stmt.QueryRowContext(ctx, id))
}

// FindByTarget returns the live products for a target, newest first.
func (r *Registry) FindByTarget(ctx context.Context, target string) ([]*ProductRecord, error) {
	stmt, err := r.getOrPrepare(`
		SELECT ` + productColumns + ` FROM products
		WHERE target = ? AND superseded_by IS NULL
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("registry: querying products for %q: %w", target, err)
	}
	return collectProducts(rows)
}

// List returns up to limit products across all targets, newest first.
// Superseded rows are included so operators can audit history.
func (r *Registry) List(ctx context.Context, limit int) ([]*ProductRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	stmt, err := r.getOrPrepare(`
		SELECT ` + productColumns + ` FROM products
		ORDER BY created_at DESC LIMIT ?`)
	if err != nil {
		return nil, err
	}
	rows, err := stmt.QueryContext(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: listing products: %w", err)
	}
	return collectProducts(rows)
}

// MarkSuperseded records that newID replaces oldID. A product can be
// superseded exactly once; a second attempt is a write conflict.
func (r *Registry) MarkSuperseded(ctx context.Context, oldID, newID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registry: beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		"SELECT 1 FROM products WHERE product_id = ?", newID).Scan(&exists); err != nil {
		return apperrors.NewRegistryError(apperrors.CodeProductNotFound,
			fmt.Sprintf("replacement product %s not in ledger", newID), err)
	}

	result, err := tx.ExecContext(ctx,
		"UPDATE products SET superseded_by = ? WHERE product_id = ? AND superseded_by IS NULL",
		newID, oldID)
	if err != nil {
		return fmt.Errorf("registry: superseding %s: %w", oldID, err)
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		var present int
		if err := tx.QueryRowContext(ctx,
			"SELECT 1 FROM products WHERE product_id = ?", oldID).Scan(&present); err != nil {
			return apperrors.NewRegistryError(apperrors.CodeProductNotFound,
				fmt.Sprintf("product %s not in ledger", oldID), err)
		}
		return apperrors.NewRegistryError(apperrors.CodeWriteConflict,
			fmt.Sprintf("product %s is already superseded", oldID), nil)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("registry: committing supersede: %w", err)
	}
	return nil
}

// Count returns the number of live products.
func (r *Registry) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.readDB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM products WHERE superseded_by IS NULL").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("registry: counting products: %w", err)
	}
	return count, nil
}

// productCountThresholds are the ledger sizes at which operators get
// a heads-up.
var productCountThresholds = []int64{100000, 50000, 10000}

// logProductCountThreshold warns when the ledger crosses a size
// threshold. Called after each registration; best effort.
func (r *Registry) logProductCountThreshold(ctx context.Context) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM products WHERE superseded_by IS NULL").Scan(&count)
	if err != nil {
		return
	}
	for _, threshold := range productCountThresholds {
		if count >= threshold {
			log.Printf("[WARN] registry: live product count (%d) has crossed %dK; consider pruning superseded history", count, threshold/1000)
			return
		}
	}
}

// getOrPrepare returns a cached prepared statement on the read pool.
func (r *Registry) getOrPrepare(query string) (*sql.Stmt, error) {
	r.stmtMu.RLock()
	if stmt, ok := r.stmtCache[query]; ok {
		r.stmtMu.RUnlock()
		return stmt, nil
	}
	r.stmtMu.RUnlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()
	if stmt, ok := r.stmtCache[query]; ok {
		return stmt, nil
	}
	stmt, err := r.readDB.Prepare(query)
	if err != nil {
		return nil, fmt.Errorf("registry: preparing query: %w", err)
	}
	r.stmtCache[query] = stmt
	return stmt, nil
}

// Close closes the prepared statements and both connections.
func (r *Registry) Close() error {
	if r.insertStmt != nil {
		r.insertStmt.Close()
	}
	r.stmtMu.Lock()
	for _, stmt := range r.stmtCache {
		stmt.Close()
	}
	r.stmtCache = nil
	r.stmtMu.Unlock()

	if err := r.readDB.Close(); err != nil {
		r.db.Close()
		return err
	}
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*ProductRecord, error) {
	var rec ProductRecord
	var objectPath sql.NullString
	var filtersJSON string
	var createdAtUnix int64

	err := row.Scan(
		&rec.ID, &rec.Target, &rec.StorePath, &objectPath,
		&rec.SizeBytes, &rec.RowCount, &rec.SectionCount, &filtersJSON,
		&rec.SourceFingerprint, &rec.SchemaVersion, &createdAtUnix, &rec.SupersededBy,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewRegistryError(apperrors.CodeProductNotFound,
				"product not in ledger", err)
		}
		return nil, fmt.Errorf("registry: scanning product row: %w", err)
	}

	rec.ObjectPath = objectPath.String
	if err := json.Unmarshal([]byte(filtersJSON), &rec.Filters); err != nil {
		return nil, fmt.Errorf("registry: decoding filter list: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAtUnix, 0)
	return &rec, nil
}

func collectProducts(rows *sql.Rows) ([]*ProductRecord, error) {
	defer rows.Close()
	var records []*ProductRecord
	for rows.Next() {
		rec, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry: iterating products: %w", err)
	}
	return records, nil
}
