/*
Package index maintains a SQLite catalogue of the image assets prepared for
an SD card, so host tooling can tell what is on the card without re-reading
every file.
*/
package index

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a path has no catalogue entry.
var ErrNotFound = errors.New("index: entry not found")

// Entry describes one catalogued image file.
type Entry struct {
	Path          string
	Format        string
	Width, Height int
	Size          int64
	CRC           uint32
}

type DB struct {
	db *sql.DB
}

// New opens, creating if necessary, the catalogue at file.
func New(file string) (*DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_foreign_keys=on", file))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)

	if _, err = db.Exec("CREATE TABLE IF NOT EXISTS image (id INTEGER PRIMARY KEY NOT NULL, path TEXT NOT NULL UNIQUE, format TEXT NOT NULL, width INTEGER NOT NULL, height INTEGER NOT NULL, size INTEGER NOT NULL, crc TEXT NOT NULL)"); err != nil {
		return nil, err
	}

	return &DB{db: db}, nil
}

// Put inserts or replaces the entry for e.Path.
func (d *DB) Put(e Entry) error {
	_, err := d.db.Exec(`INSERT INTO image (path, format, width, height, size, crc) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET format = excluded.format, width = excluded.width, height = excluded.height, size = excluded.size, crc = excluded.crc`,
		e.Path, e.Format, e.Width, e.Height, e.Size, fmt.Sprintf("%08x", e.CRC))
	return err
}

// Get returns the entry for path.
func (d *DB) Get(path string) (Entry, error) {
	e := Entry{Path: path}
	var crc string
	err := d.db.QueryRow("SELECT format, width, height, size, crc FROM image WHERE path = ?", path).
		Scan(&e.Format, &e.Width, &e.Height, &e.Size, &crc)
	switch {
	case err == sql.ErrNoRows:
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, path)
	case err != nil:
		return Entry{}, err
	}
	if _, err := fmt.Sscanf(crc, "%08x", &e.CRC); err != nil {
		return Entry{}, fmt.Errorf("index: bad crc %q: %w", crc, err)
	}
	return e, nil
}

// All returns every entry ordered by path.
func (d *DB) All() ([]Entry, error) {
	rows, err := d.db.Query("SELECT path, format, width, height, size, crc FROM image ORDER BY path")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var crc string
		if err := rows.Scan(&e.Path, &e.Format, &e.Width, &e.Height, &e.Size, &crc); err != nil {
			return nil, err
		}
		if _, err := fmt.Sscanf(crc, "%08x", &e.CRC); err != nil {
			return nil, fmt.Errorf("index: bad crc %q: %w", crc, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Remove deletes the entry for path, if any.
func (d *DB) Remove(path string) error {
	_, err := d.db.Exec("DELETE FROM image WHERE path = ?", path)
	return err
}

func (d *DB) Close() error {
	return d.db.Close()
}
