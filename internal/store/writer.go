package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/pkg/types"
)

const createSectionsSQL = `
	CREATE TABLE sections (
		name TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		position INTEGER NOT NULL,
		row_count INTEGER NOT NULL,
		created_at TEXT NOT NULL
	) WITHOUT ROWID
`

const createSectionColumnsSQL = `
	CREATE TABLE section_columns (
		section TEXT NOT NULL,
		position INTEGER NOT NULL,
		name TEXT NOT NULL,
		kind TEXT NOT NULL,
		codec TEXT NOT NULL,
		null_count INTEGER NOT NULL,
		min_value REAL,
		max_value REAL,
		raw_bytes INTEGER NOT NULL,
		encoded_bytes INTEGER NOT NULL,
		payload BLOB NOT NULL,
		PRIMARY KEY (section, position)
	) WITHOUT ROWID
`

const createStatsSQL = `
	CREATE TABLE _photcat_stats (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	) WITHOUT ROWID
`

// Writer builds one catalog container. Sections are written in call
// order; Close finalizes the file. A failed build leaves whatever was
// written in place — the file must then be treated as untrustworthy
// and the run repeated from scratch.
type Writer struct {
	path  string
	codec Codec
	db    *sql.DB

	position     int
	rowsWritten  int64
	rawBytes     int64
	encodedBytes int64
	started      time.Time
	extraStats   map[string]string
}

// NewWriter creates (or truncates) the store file and prepares the
// container tables. The build runs in WAL mode; Close switches the
// journal back to DELETE so the result is a single file.
func NewWriter(path string, opts Options) (*Writer, error) {
	codec, err := CodecByName(opts.Codec)
	if err != nil {
		return nil, apperrors.NewWriteIO("selecting codec", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, apperrors.NewWriteIO(fmt.Sprintf("creating output directory for %s", path), err)
	}
	// Truncate any previous build at this path, sidecars included.
	for _, stale := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
			return nil, apperrors.NewWriteIO(fmt.Sprintf("removing stale %s", stale), err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, apperrors.NewWriteIO(fmt.Sprintf("creating store %s", path), err)
	}

	w := &Writer{
		path:       path,
		codec:      codec,
		db:         db,
		started:    time.Now(),
		extraStats: make(map[string]string),
	}
	if err := w.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *Writer) initialize() error {
	if _, err := w.db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return apperrors.NewWriteIO("setting journal mode", err)
	}
	if _, err := w.db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		return apperrors.NewWriteIO("setting synchronous mode", err)
	}
	for _, ddl := range []string{createSectionsSQL, createSectionColumnsSQL, createStatsSQL} {
		if _, err := w.db.Exec(ddl); err != nil {
			return apperrors.NewWriteIO("creating container tables", err)
		}
	}
	return nil
}

// Path returns the store file path.
func (w *Writer) Path() string { return w.path }

// SetStat records a build metadata entry persisted by Close.
func (w *Writer) SetStat(key, value string) {
	w.extraStats[key] = value
}

// WriteSection writes one table as a named section. Column payloads
// are encoded, compressed, and stored with their summary statistics in
// a single transaction.
func (w *Writer) WriteSection(ctx context.Context, name, kind string, table *types.Table) error {
	if errs := validateSection(name, kind, table); len(errs) > 0 {
		return apperrors.NewWriteIO(fmt.Sprintf("validating section %q", name), errs)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewWriteIO(fmt.Sprintf("starting section %q", name), err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		"INSERT INTO sections (name, kind, position, row_count, created_at) VALUES (?, ?, ?, ?, ?)",
		name, kind, w.position, table.NumRows(), time.Now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return apperrors.NewWriteIO(fmt.Sprintf("recording section %q", name), err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO section_columns
			(section, position, name, kind, codec, null_count, min_value, max_value, raw_bytes, encoded_bytes, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperrors.NewWriteIO(fmt.Sprintf("preparing section %q", name), err)
	}
	defer stmt.Close()

	for i := 0; i < table.NumCols(); i++ {
		col := table.ColumnAt(i)
		raw, err := encodeColumn(col)
		if err != nil {
			return apperrors.NewWriteIO(fmt.Sprintf("encoding column %q", col.Name), err)
		}
		encoded, err := w.codec.Encode(raw)
		if err != nil {
			return apperrors.NewWriteIO(fmt.Sprintf("compressing column %q", col.Name), err)
		}
		stats := trackColumn(col)
		min, max := stats.minMax()
		if _, err := stmt.ExecContext(ctx,
			name, i, col.Name, col.Kind.String(), w.codec.Name(),
			stats.nullCount, min, max, len(raw), len(encoded), encoded,
		); err != nil {
			return apperrors.NewWriteIO(fmt.Sprintf("writing column %q", col.Name), err)
		}
		w.rawBytes += int64(len(raw))
		w.encodedBytes += int64(len(encoded))
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewWriteIO(fmt.Sprintf("committing section %q", name), err)
	}
	w.position++
	w.rowsWritten += int64(table.NumRows())
	return nil
}

// Close persists the build statistics, checkpoints the WAL, and
// switches the journal to DELETE mode so the store is one file.
func (w *Writer) Close(ctx context.Context) (err error) {
	// The handle is closed exactly once, whichever path leaves.
	defer func() {
		cerr := w.db.Close()
		if err == nil && cerr != nil {
			err = apperrors.NewWriteIO(fmt.Sprintf("closing store %s", w.path), cerr)
		}
	}()

	stats := map[string]string{
		"codec":             w.codec.Name(),
		"sections":          strconv.Itoa(w.position),
		"rows_written":      strconv.FormatInt(w.rowsWritten, 10),
		"raw_bytes":         strconv.FormatInt(w.rawBytes, 10),
		"encoded_bytes":     strconv.FormatInt(w.encodedBytes, 10),
		"build_duration_ms": strconv.FormatInt(time.Since(w.started).Milliseconds(), 10),
		"built_at":          time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range w.extraStats {
		stats[k] = v
	}
	for k, v := range stats {
		if _, err := w.db.ExecContext(ctx,
			"INSERT OR REPLACE INTO _photcat_stats (key, value) VALUES (?, ?)", k, v); err != nil {
			return apperrors.NewWriteIO("writing build stats", err)
		}
	}

	if _, err := w.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return apperrors.NewWriteIO("checkpointing WAL", err)
	}
	if _, err := w.db.ExecContext(ctx, "PRAGMA journal_mode=DELETE"); err != nil {
		return apperrors.NewWriteIO("finalizing journal mode", err)
	}
	return nil
}
