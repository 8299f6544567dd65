package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/midbel/xquery/xml"
)

var (
	ErrNotFound = errors.New("document not found")
	ErrDriver   = errors.New("unknown store driver")
	ErrURI      = errors.New("invalid document uri")
)

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
)

// Entry describes one revision of a stored document.
type Entry struct {
	URI      string
	Revision ksuid.KSUID
	Size     int
	Modified time.Time
}

// Write is a document to save under URI.
type Write struct {
	URI      string
	Document *xml.Document
}

// Store keeps serialized documents by uri. Each call to Document gives a
// fresh tree: updates applied to it are only visible to other callers once
// the tree is saved back with Put or PutAll. PutAll saves all its documents
// or none of them.
type Store interface {
	Document(context.Context, string) (*xml.Document, error)
	Put(context.Context, string, *xml.Document) (Entry, error)
	PutAll(context.Context, []Write) ([]Entry, error)
	Stat(context.Context, string) (Entry, error)
	List(context.Context) ([]Entry, error)
	Remove(context.Context, string) error
	Close() error
}

// History is implemented by stores keeping every revision of a document.
type History interface {
	Revisions(context.Context, string) ([]Entry, error)
}

// Open creates the store for the given driver. path is ignored by the memory
// driver.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverMemory, "":
		return Memory(), nil
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrDriver, driver)
	}
}

func serialize(doc *xml.Document) string {
	return xml.WriteNode(doc)
}

func deserialize(uri, content string) (*xml.Document, error) {
	doc, err := xml.DefaultPool.ParseString(content)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", uri, err)
	}
	doc.URI = uri
	return doc, nil
}

func putOne(ctx context.Context, s Store, uri string, doc *xml.Document) (Entry, error) {
	list, err := s.PutAll(ctx, []Write{{URI: uri, Document: doc}})
	if err != nil {
		return Entry{}, err
	}
	return list[0], nil
}

func newEntry(uri, content string) Entry {
	return Entry{
		URI:      uri,
		Revision: ksuid.New(),
		Size:     len(content),
		Modified: time.Now(),
	}
}

func checkURI(uri string) error {
	if uri == "" {
		return ErrURI
	}
	return nil
}
