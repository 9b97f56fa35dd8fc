package store

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "github.com/photcat/photcat/internal/errors"
	"github.com/photcat/photcat/pkg/types"
)

// Reader opens a finished store read-only.
type Reader struct {
	path string
	db   *sql.DB
}

// OpenReader opens a store file for reading. The file is never
// modified through a Reader.
func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStore, apperrors.CodeCorruptStore,
			fmt.Sprintf("store %s not readable", path), err)
	}
	dsn := fmt.Sprintf("file:%s?mode=ro", url.PathEscape(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryStore, apperrors.CodeCorruptStore,
			fmt.Sprintf("opening store %s", path), err)
	}
	return &Reader{path: path, db: db}, nil
}

// Close releases the underlying connection.
func (r *Reader) Close() error {
	return r.db.Close()
}

// Sections lists the stored sections in write order.
func (r *Reader) Sections(ctx context.Context) ([]SectionInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT name, kind, position, row_count, created_at FROM sections ORDER BY position")
	if err != nil {
		return nil, r.corrupt("listing sections", err)
	}
	defer rows.Close()

	var sections []SectionInfo
	for rows.Next() {
		var s SectionInfo
		var createdAt string
		if err := rows.Scan(&s.Name, &s.Kind, &s.Position, &s.RowCount, &createdAt); err != nil {
			return nil, r.corrupt("scanning section row", err)
		}
		s.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, r.corrupt("listing sections", err)
	}
	return sections, nil
}

// Columns lists a section's column metadata without decoding payloads.
func (r *Reader) Columns(ctx context.Context, section string) ([]ColumnInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT section, position, name, kind, codec, null_count, min_value, max_value, raw_bytes, encoded_bytes
		FROM section_columns WHERE section = ? ORDER BY position`, section)
	if err != nil {
		return nil, r.corrupt(fmt.Sprintf("listing columns of %q", section), err)
	}
	defer rows.Close()

	var cols []ColumnInfo
	for rows.Next() {
		var c ColumnInfo
		var min, max sql.NullFloat64
		if err := rows.Scan(&c.Section, &c.Position, &c.Name, &c.Kind, &c.Codec,
			&c.NullCount, &min, &max, &c.RawBytes, &c.EncodedBytes); err != nil {
			return nil, r.corrupt("scanning column row", err)
		}
		if min.Valid {
			v := min.Float64
			c.MinValue = &v
		}
		if max.Valid {
			v := max.Float64
			c.MaxValue = &v
		}
		cols = append(cols, c)
	}
	if err := rows.Err(); err != nil {
		return nil, r.corrupt(fmt.Sprintf("listing columns of %q", section), err)
	}
	return cols, nil
}

// ReadSection decodes one section back into a table.
func (r *Reader) ReadSection(ctx context.Context, section string) (*types.Table, error) {
	var rowCount int
	err := r.db.QueryRowContext(ctx,
		"SELECT row_count FROM sections WHERE name = ?", section).Scan(&rowCount)
	if err == sql.ErrNoRows {
		return nil, apperrors.New(apperrors.CategoryStore, apperrors.CodeCorruptStore,
			fmt.Sprintf("store %s has no section %q", r.path, section))
	}
	if err != nil {
		return nil, r.corrupt(fmt.Sprintf("looking up section %q", section), err)
	}

	rows, err := r.db.QueryContext(ctx,
		"SELECT name, kind, codec, payload FROM section_columns WHERE section = ? ORDER BY position", section)
	if err != nil {
		return nil, r.corrupt(fmt.Sprintf("reading section %q", section), err)
	}
	defer rows.Close()

	table := types.NewTable()
	for rows.Next() {
		var name, kind, codecName string
		var payload []byte
		if err := rows.Scan(&name, &kind, &codecName, &payload); err != nil {
			return nil, r.corrupt("scanning column payload", err)
		}
		codec, err := CodecByName(codecName)
		if err != nil {
			return nil, r.corrupt(fmt.Sprintf("column %q", name), err)
		}
		raw, err := codec.Decode(payload)
		if err != nil {
			return nil, r.corrupt(fmt.Sprintf("decompressing column %q", name), err)
		}
		col, err := decodeColumn(name, kind, rowCount, raw)
		if err != nil {
			return nil, r.corrupt(fmt.Sprintf("decoding section %q", section), err)
		}
		if err := table.AddColumn(col); err != nil {
			return nil, r.corrupt(fmt.Sprintf("assembling section %q", section), err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, r.corrupt(fmt.Sprintf("reading section %q", section), err)
	}
	return table, nil
}

// Stats returns the build metadata recorded by the writer.
func (r *Reader) Stats(ctx context.Context) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT key, value FROM _photcat_stats")
	if err != nil {
		return nil, r.corrupt("reading build stats", err)
	}
	defer rows.Close()

	stats := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, r.corrupt("scanning stats row", err)
		}
		stats[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, r.corrupt("reading build stats", err)
	}
	return stats, nil
}

func (r *Reader) corrupt(what string, err error) error {
	return apperrors.Wrap(apperrors.CategoryStore, apperrors.CodeCorruptStore,
		fmt.Sprintf("%s in %s", what, r.path), err)
}
