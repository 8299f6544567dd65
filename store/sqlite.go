package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
	_ "modernc.org/sqlite"

	"github.com/midbel/xquery/xml"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	uri TEXT PRIMARY KEY,
	revision TEXT NOT NULL,
	content TEXT NOT NULL,
	modified_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS revisions (
	revision TEXT PRIMARY KEY,
	uri TEXT NOT NULL,
	size INTEGER NOT NULL,
	modified_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_revisions_uri ON revisions(uri);
`

type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens, and creates when needed, the database at path.
func OpenSQLite(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &sqliteStore{db: db}, nil
}

func (s *sqliteStore) Document(ctx context.Context, uri string) (*xml.Document, error) {
	var content string
	row := s.db.QueryRowContext(ctx, `SELECT content FROM documents WHERE uri = ?`, uri)
	if err := row.Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, uri)
		}
		return nil, err
	}
	return deserialize(uri, content)
}

func (s *sqliteStore) Put(ctx context.Context, uri string, doc *xml.Document) (Entry, error) {
	return putOne(ctx, s, uri, doc)
}

// PutAll saves every document and its revision in a single transaction.
func (s *sqliteStore) PutAll(ctx context.Context, writes []Write) ([]Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var (
		entries  = make([]Entry, 0, len(writes))
		document = `
		INSERT INTO documents (uri, revision, content, modified_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET
			revision = excluded.revision,
			content = excluded.content,
			modified_at = excluded.modified_at
	`
		revision = `INSERT INTO revisions (revision, uri, size, modified_at) VALUES (?, ?, ?, ?)`
	)
	for _, w := range writes {
		if err := checkURI(w.URI); err != nil {
			return nil, err
		}
		var (
			content = serialize(w.Document)
			entry   = newEntry(w.URI, content)
		)
		if _, err := tx.ExecContext(ctx, document, w.URI, entry.Revision.String(), content, entry.Modified.UnixNano()); err != nil {
			return nil, fmt.Errorf("failed to save document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, revision, entry.Revision.String(), w.URI, entry.Size, entry.Modified.UnixNano()); err != nil {
			return nil, fmt.Errorf("failed to save revision: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *sqliteStore) Stat(ctx context.Context, uri string) (Entry, error) {
	query := `SELECT uri, revision, length(content), modified_at FROM documents WHERE uri = ?`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, uri))
	if errors.Is(err, sql.ErrNoRows) {
		err = fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return e, err
}

func (s *sqliteStore) List(ctx context.Context) ([]Entry, error) {
	query := `SELECT uri, revision, length(content), modified_at FROM documents ORDER BY uri`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

// Revisions returns the history of the document at uri, oldest first.
func (s *sqliteStore) Revisions(ctx context.Context, uri string) ([]Entry, error) {
	query := `SELECT uri, revision, size, modified_at FROM revisions WHERE uri = ? ORDER BY modified_at, revision`
	rows, err := s.db.QueryContext(ctx, query, uri)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, e)
	}
	return list, rows.Err()
}

func (s *sqliteStore) Remove(ctx context.Context, uri string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE uri = ?`, uri)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, uri)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var (
		e        Entry
		rev      string
		modified int64
	)
	if err := row.Scan(&e.URI, &rev, &e.Size, &modified); err != nil {
		return e, err
	}
	id, err := ksuid.Parse(rev)
	if err != nil {
		return e, fmt.Errorf("%s: invalid revision: %w", e.URI, err)
	}
	e.Revision = id
	e.Modified = time.Unix(0, modified)
	return e, nil
}
