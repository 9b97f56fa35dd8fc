// Package registry is the product ledger: a SQLite database recording
// every catalog store the pipeline has produced, where it lives, and
// which build it came from.
package registry

// SchemaVersion is the ledger schema this build writes and reads.
// Older ledgers are migrated forward on open.
const SchemaVersion = 2

// createProductsTableSQL creates the core products table. The source
// fingerprint makes registration idempotent: re-ingesting unchanged
// inputs for a target maps back to the existing row.
const createProductsTableSQL = `
CREATE TABLE IF NOT EXISTS products (
    product_id TEXT PRIMARY KEY,
    target TEXT NOT NULL,
    store_path TEXT NOT NULL,
    object_path TEXT,
    size_bytes INTEGER NOT NULL,
    row_count INTEGER NOT NULL,
    section_count INTEGER NOT NULL,
    filters TEXT NOT NULL,
    source_fingerprint TEXT NOT NULL,
    schema_version INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL,
    superseded_by TEXT,
    FOREIGN KEY (superseded_by) REFERENCES products(product_id)
)`

var createProductsIndexesSQL = []string{
	// Lookup path for FindByTarget; filtered to live products.
	`CREATE INDEX IF NOT EXISTS idx_products_target ON products(target)
		WHERE superseded_by IS NULL`,

	// Idempotent registration checks (target, source_fingerprint).
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_products_fingerprint
		ON products(target, source_fingerprint)`,

	// Retention scans over superseded rows.
	`CREATE INDEX IF NOT EXISTS idx_products_created ON products(created_at)`,
}

// createSchemaVersionTableSQL tracks the ledger schema for forward
// migration.
const createSchemaVersionTableSQL = `
CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`

// migrations maps a ledger version to the statements that bring it to
// the next one. Version 1 ledgers predate the object_path column.
var migrations = map[int][]string{
	1: {
		`ALTER TABLE products ADD COLUMN object_path TEXT`,
	},
}

// allSchemaSQL returns the statements that initialize a fresh ledger.
func allSchemaSQL() []string {
	statements := []string{
		createProductsTableSQL,
		createSchemaVersionTableSQL,
	}
	statements = append(statements, createProductsIndexesSQL...)
	return statements
}
